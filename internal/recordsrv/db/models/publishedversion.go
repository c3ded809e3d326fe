package models

import (
	"time"

	"github.com/recordum/recordum/pkg/types"
)

/*
  Table "public.entity_published_versions"
        Column         |           Type           | Nullable | Default
-----------------------+--------------------------+----------+---------
 tenant_id             | character varying(64)    | not null |
 entity_logical_name   | character varying(128)   | not null |
 version               | integer                  | not null |
 schema_data           | bytea                    | not null |
 compressed            | boolean                  | not null | false
 published_by_subject  | character varying(256)   | not null |
 published_at          | timestamp with time zone | not null | now()
Indexes:
    "entity_published_versions_pkey" PRIMARY KEY, btree (tenant_id, entity_logical_name, version)
Check constraints:
    "entity_published_versions_version_check" CHECK (version > 0)
Foreign-key constraints:
    "entity_published_versions_entity_fkey" FOREIGN KEY (tenant_id, entity_logical_name)
        REFERENCES entity_definitions(tenant_id, logical_name) ON DELETE CASCADE
*/

/*
  Table "public.entity_published_fields"
        Column         |          Type          | Nullable
-----------------------+------------------------+----------
 tenant_id             | character varying(64)  | not null
 entity_logical_name   | character varying(128) | not null
 field_logical_name    | character varying(128) | not null
Indexes:
    "entity_published_fields_pkey" PRIMARY KEY,
        btree (tenant_id, entity_logical_name, field_logical_name)

  Index of every field name that appears in at least one published snapshot.
  Maintained in the publish transaction; backs the schema-freeze and
  field-delete guards without decompressing snapshots.
*/

// PublishedVersion is a frozen snapshot of an entity and its fields at
// publish time. SchemaData holds the canonical JSON snapshot, snappy
// compressed when Compressed is set.
type PublishedVersion struct {
	TenantID   types.TenantId `db:"tenant_id"`
	EntityName string         `db:"entity_logical_name"`
	Version    int            `db:"version"`
	SchemaData []byte         `db:"schema_data"`
	Compressed bool           `db:"compressed"`
	PublishedBy types.Subject `db:"published_by_subject"`
	PublishedAt time.Time     `db:"published_at"`
}

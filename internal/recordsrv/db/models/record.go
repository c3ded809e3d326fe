package models

import (
	"time"

	"github.com/jackc/pgtype"

	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/pkg/types"
)

/*
  Table "public.runtime_records"
       Column         |           Type           | Nullable | Default
----------------------+--------------------------+----------+---------
 id                   | uuid                     | not null |
 tenant_id            | character varying(64)    | not null |
 entity_logical_name  | character varying(128)   | not null |
 data                 | jsonb                    | not null |
 owner_subject        | character varying(256)   | not null |
 created_at           | timestamp with time zone | not null | now()
 updated_at           | timestamp with time zone | not null | now()
Indexes:
    "runtime_records_pkey" PRIMARY KEY, btree (id)
    "runtime_records_tenant_entity_idx" btree (tenant_id, entity_logical_name, created_at)
    "runtime_records_data_gin" gin (data jsonb_path_ops)
*/

// RuntimeRecord is a document instance conforming to the latest published
// schema of its entity.
type RuntimeRecord struct {
	ID           uuid.UUID      `db:"id"`
	TenantID     types.TenantId `db:"tenant_id"`
	EntityName   string         `db:"entity_logical_name"`
	Data         pgtype.JSONB   `db:"data"`
	OwnerSubject types.Subject  `db:"owner_subject"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

/*
  Table "public.runtime_record_unique_values"
       Column         |          Type          | Nullable
----------------------+------------------------+----------
 tenant_id            | character varying(64)  | not null
 entity_logical_name  | character varying(128) | not null
 field_logical_name   | character varying(128) | not null
 value_hash           | character varying(64)  | not null
 record_id            | uuid                   | not null
Indexes:
    "runtime_record_unique_values_pkey" PRIMARY KEY,
        btree (tenant_id, entity_logical_name, field_logical_name, value_hash)
    "runtime_record_unique_values_record_idx" btree (record_id)
Foreign-key constraints:
    "runtime_record_unique_values_record_fkey" FOREIGN KEY (record_id)
        REFERENCES runtime_records(id) ON DELETE CASCADE
*/

// UniqueValue maps the canonical hash of a unique field's value to the record
// holding it. Rows are maintained in the same transaction as record writes.
type UniqueValue struct {
	TenantID   types.TenantId `db:"tenant_id"`
	EntityName string         `db:"entity_logical_name"`
	FieldName  string         `db:"field_logical_name"`
	ValueHash  string         `db:"value_hash"`
	RecordID   uuid.UUID      `db:"record_id"`
}

package models

import (
	"time"

	"github.com/jackc/pgtype"

	"github.com/recordum/recordum/pkg/types"
)

/*
  Table "public.entity_fields"
        Column         |           Type           | Nullable | Default
-----------------------+--------------------------+----------+---------
 tenant_id             | character varying(64)    | not null |
 entity_logical_name   | character varying(128)   | not null |
 logical_name          | character varying(128)   | not null |
 display_name          | character varying(256)   | not null |
 field_type            | character varying(32)    | not null |
 required              | boolean                  | not null | false
 is_unique             | boolean                  | not null | false
 default_value         | jsonb                    |          |
 relation_target       | character varying(128)   |          |
 option_set_name       | character varying(128)   |          |
 calculation           | text                     |          |
 max_length            | integer                  |          |
 min_value             | double precision         |          |
 max_value             | double precision         |          |
 created_at            | timestamp with time zone | not null | now()
 updated_at            | timestamp with time zone | not null | now()
Indexes:
    "entity_fields_pkey" PRIMARY KEY, btree (tenant_id, entity_logical_name, logical_name)
Foreign-key constraints:
    "entity_fields_entity_fkey" FOREIGN KEY (tenant_id, entity_logical_name)
        REFERENCES entity_definitions(tenant_id, logical_name) ON DELETE CASCADE
*/

// FieldDefinition declares a typed attribute on an entity. Once a field
// appears in any published schema version its type and relation target are
// frozen.
type FieldDefinition struct {
	TenantID       types.TenantId  `db:"tenant_id"`
	EntityName     string          `db:"entity_logical_name"`
	LogicalName    string          `db:"logical_name"`
	DisplayName    string          `db:"display_name"`
	FieldType      types.FieldType `db:"field_type"`
	Required       bool            `db:"required"`
	Unique         bool            `db:"is_unique"`
	DefaultValue   pgtype.JSONB    `db:"default_value"`
	RelationTarget string          `db:"relation_target"`
	OptionSetName  string          `db:"option_set_name"`
	Calculation    string          `db:"calculation"`
	MaxLength      int             `db:"max_length"`
	MinValue       *float64        `db:"min_value"`
	MaxValue       *float64        `db:"max_value"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

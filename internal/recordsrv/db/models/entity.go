package models

import (
	"time"

	"github.com/recordum/recordum/pkg/types"
)

/*
  Table "public.entity_definitions"
    Column     |           Type           | Nullable | Default
---------------+--------------------------+----------+---------
 tenant_id     | character varying(64)    | not null |
 logical_name  | character varying(128)   | not null |
 display_name  | character varying(256)   | not null |
 plural_name   | character varying(256)   |          |
 description   | character varying(1024)  |          |
 icon          | character varying(128)   |          |
 created_at    | timestamp with time zone | not null | now()
 updated_at    | timestamp with time zone | not null | now()
Indexes:
    "entity_definitions_pkey" PRIMARY KEY, btree (tenant_id, logical_name)
*/

// EntityDefinition declares a metadata type. The logical name is immutable
// after creation; presentational attributes are mutable.
type EntityDefinition struct {
	TenantID    types.TenantId `db:"tenant_id"`
	LogicalName string         `db:"logical_name"`
	DisplayName string         `db:"display_name"`
	PluralName  string         `db:"plural_name"`
	Description string         `db:"description"`
	Icon        string         `db:"icon"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

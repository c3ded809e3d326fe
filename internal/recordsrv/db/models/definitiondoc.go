package models

import (
	"time"

	"github.com/jackc/pgtype"

	"github.com/recordum/recordum/pkg/types"
)

/*
  Tables "public.entity_option_sets", "public.entity_forms",
  "public.entity_views", "public.entity_business_rules"

  All four share one shape: a tenant- and entity-scoped named definition
  document stored as JSONB.

    Column              |           Type           | Nullable | Default
 -----------------------+--------------------------+----------+---------
  tenant_id             | character varying(64)    | not null |
  entity_logical_name   | character varying(128)   | not null |
  logical_name          | character varying(128)   | not null |
  definition            | jsonb                    | not null |
  created_at            | timestamp with time zone | not null | now()
  updated_at            | timestamp with time zone | not null | now()
 Indexes:
    PRIMARY KEY, btree (tenant_id, entity_logical_name, logical_name)
 Foreign-key constraints:
    FOREIGN KEY (tenant_id, entity_logical_name)
        REFERENCES entity_definitions(tenant_id, logical_name) ON DELETE CASCADE
*/

// DefinitionKind selects which definition-document table a row lives in.
type DefinitionKind string

const (
	DefinitionKindOptionSet    DefinitionKind = "option_set"
	DefinitionKindForm         DefinitionKind = "form"
	DefinitionKindView         DefinitionKind = "view"
	DefinitionKindBusinessRule DefinitionKind = "business_rule"
)

// TableName returns the backing table for the definition kind.
func (k DefinitionKind) TableName() string {
	switch k {
	case DefinitionKindOptionSet:
		return "entity_option_sets"
	case DefinitionKindForm:
		return "entity_forms"
	case DefinitionKindView:
		return "entity_views"
	case DefinitionKindBusinessRule:
		return "entity_business_rules"
	}
	return ""
}

// DefinitionDoc is a named, entity-scoped definition document (option set,
// form, view, or business rule).
type DefinitionDoc struct {
	TenantID    types.TenantId `db:"tenant_id"`
	EntityName  string         `db:"entity_logical_name"`
	LogicalName string         `db:"logical_name"`
	Definition  pgtype.JSONB   `db:"definition"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

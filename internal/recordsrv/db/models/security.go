package models

import (
	"time"

	"github.com/jackc/pgtype"

	"github.com/recordum/recordum/pkg/types"
)

/*
  Table "public.security_roles"
   Column     |          Type          | Nullable
--------------+------------------------+----------
 tenant_id    | character varying(64)  | not null
 name         | character varying(128) | not null
 permissions  | jsonb                  | not null
Indexes:
    "security_roles_pkey" PRIMARY KEY, btree (tenant_id, name)
*/

// SecurityRole names a set of permissions within a tenant.
type SecurityRole struct {
	TenantID    types.TenantId `db:"tenant_id"`
	Name        string         `db:"name"`
	Permissions pgtype.JSONB   `db:"permissions"`
}

/*
  Table "public.security_role_bindings"
   Column   |          Type          | Nullable
------------+------------------------+----------
 tenant_id  | character varying(64)  | not null
 subject    | character varying(256) | not null
 role_name  | character varying(128) | not null
Indexes:
    "security_role_bindings_pkey" PRIMARY KEY, btree (tenant_id, subject, role_name)
Foreign-key constraints:
    "security_role_bindings_role_fkey" FOREIGN KEY (tenant_id, role_name)
        REFERENCES security_roles(tenant_id, name) ON DELETE CASCADE
*/

// RoleBinding attaches a role to a subject.
type RoleBinding struct {
	TenantID types.TenantId `db:"tenant_id"`
	Subject  types.Subject  `db:"subject"`
	RoleName string         `db:"role_name"`
}

/*
  Table "public.security_temporary_grants"
   Column    |           Type           | Nullable
-------------+--------------------------+----------
 tenant_id   | character varying(64)    | not null
 subject     | character varying(256)   | not null
 permission  | character varying(128)   | not null
 expires_at  | timestamp with time zone | not null
Indexes:
    "security_temporary_grants_pkey" PRIMARY KEY, btree (tenant_id, subject, permission)
*/

// TemporaryGrant is a time-boxed permission. Expired grants are ignored.
type TemporaryGrant struct {
	TenantID   types.TenantId   `db:"tenant_id"`
	Subject    types.Subject    `db:"subject"`
	Permission types.Permission `db:"permission"`
	ExpiresAt  time.Time        `db:"expires_at"`
}

/*
  Table "public.security_field_grants"
        Column         |          Type          | Nullable
-----------------------+------------------------+----------
 tenant_id             | character varying(64)  | not null
 subject               | character varying(256) | not null
 entity_logical_name   | character varying(128) | not null
 field_logical_name    | character varying(128) | not null
 can_read              | boolean                | not null
 can_write             | boolean                | not null
Indexes:
    "security_field_grants_pkey" PRIMARY KEY,
        btree (tenant_id, subject, entity_logical_name, field_logical_name)
*/

// FieldGrant holds a subject's per-field read/write capability for an entity.
// When any grants exist for (subject, entity), reads are masked to readable
// fields and writes to non-writable fields are rejected.
type FieldGrant struct {
	TenantID   types.TenantId `db:"tenant_id"`
	Subject    types.Subject  `db:"subject"`
	EntityName string         `db:"entity_logical_name"`
	FieldName  string         `db:"field_logical_name"`
	CanRead    bool           `db:"can_read"`
	CanWrite   bool           `db:"can_write"`
}

/*
  Table "public.security_ownership_scopes"
   Column   |          Type          | Nullable
------------+------------------------+----------
 tenant_id  | character varying(64)  | not null
 subject    | character varying(256) | not null
 scope      | character varying(16)  | not null
Indexes:
    "security_ownership_scopes_pkey" PRIMARY KEY, btree (tenant_id, subject)
*/

// OwnershipScopeBinding restricts a subject's runtime access to its own
// records when scope is Own. Absence of a row means All.
type OwnershipScopeBinding struct {
	TenantID types.TenantId       `db:"tenant_id"`
	Subject  types.Subject        `db:"subject"`
	Scope    types.OwnershipScope `db:"scope"`
}

package models

import (
	"time"

	"github.com/jackc/pgtype"

	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/pkg/types"
)

/*
  Table "public.audit_events"
    Column     |           Type           | Nullable | Default
---------------+--------------------------+----------+---------
 event_id      | uuid                     | not null |
 tenant_id     | character varying(64)    | not null |
 subject       | character varying(256)   | not null |
 action        | character varying(128)   | not null |
 resource_type | character varying(128)   | not null |
 resource_id   | character varying(256)   | not null |
 detail        | jsonb                    |          |
 created_at    | timestamp with time zone | not null | now()
Indexes:
    "audit_events_pkey" PRIMARY KEY, btree (event_id)
    "audit_events_tenant_idx" btree (tenant_id, created_at)
*/

// AuditFilter selects audit events for listing. Zero fields do not filter.
type AuditFilter struct {
	Action       string
	Subject      types.Subject
	ResourceType string
	ResourceID   string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

// AuditEvent is an immutable record of a state-changing operation.
type AuditEvent struct {
	EventID      uuid.UUID      `db:"event_id"`
	TenantID     types.TenantId `db:"tenant_id"`
	Subject      types.Subject  `db:"subject"`
	Action       string         `db:"action"`
	ResourceType string         `db:"resource_type"`
	ResourceID   string         `db:"resource_id"`
	Detail       pgtype.JSONB   `db:"detail"`
	CreatedAt    time.Time      `db:"created_at"`
}

// Package audit appends immutable audit events for state-changing operations
// across the platform. Appends are best-effort: an audit failure is logged
// and never fails the operation that triggered it.
package audit

import (
	"context"

	"github.com/anand-gl/jsoncanonicalizer"
	"github.com/jackc/pgtype"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Actions recorded by the platform components.
const (
	ActionEntityCreate    = "metadata.entity.create"
	ActionEntityUpdate    = "metadata.entity.update"
	ActionEntityDelete    = "metadata.entity.delete"
	ActionFieldCreate     = "metadata.field.create"
	ActionFieldUpdate     = "metadata.field.update"
	ActionFieldDelete     = "metadata.field.delete"
	ActionDefinitionSave  = "metadata.definition.save"
	ActionSchemaPublish   = "metadata.schema.publish"
	ActionRecordCreate    = "runtime.record.create"
	ActionRecordUpdate    = "runtime.record.update"
	ActionRecordDelete    = "runtime.record.delete"
	ActionWorkflowSave    = "workflow.definition.save"
	ActionWorkflowEnqueue = "workflow.run.enqueue"
	ActionWorkflowStep    = "workflow.step.execute"
	ActionRoleChange      = "security.role.change"
)

// Emit appends an audit event for the current tenant and subject. detail is
// serialized to canonical JSON so equal details are byte-equal across events.
func Emit(ctx context.Context, action, resourceType, resourceID string, detail any) {
	store := db.DB(ctx)
	if store == nil {
		return
	}

	event := &models.AuditEvent{
		Subject:      reccommon.SubjectFromContext(ctx),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Detail:       pgtype.JSONB{Status: pgtype.Null},
	}
	if detail != nil {
		raw, errJs := json.Marshal(detail)
		if errJs == nil {
			if canonical, errC := jsoncanonicalizer.Transform(raw); errC == nil {
				raw = canonical
			}
			event.Detail = pgtype.JSONB{Bytes: raw, Status: pgtype.Present}
		}
	}

	if err := store.AppendAuditEvent(ctx, event); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("action", action).Msg("failed to append audit event")
	}
}

// List pages the tenant's audit events, newest first.
func List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, apperrors.Error) {
	store := db.DB(ctx)
	if store == nil {
		return nil, apperrors.New("no store bound to context")
	}
	return store.ListAuditEvents(ctx, filter)
}

// Purge deletes the tenant's events older than the retention horizon.
func Purge(ctx context.Context, retentionDays int) (int64, apperrors.Error) {
	store := db.DB(ctx)
	if store == nil {
		return 0, apperrors.New("no store bound to context")
	}
	n, err := store.PurgeAuditEventsOlderThan(ctx, retentionDays)
	if err != nil {
		return 0, err
	}
	log.Ctx(ctx).Info().Int64("purged", n).Int("retention_days", retentionDays).Msg("audit retention applied")
	return n, nil
}

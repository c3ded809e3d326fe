package postgresql

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
)

func (r *recordDb) AppendAuditEvent(ctx context.Context, event *models.AuditEvent) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}
	event.TenantID = tenantID
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	query := `
		INSERT INTO audit_events (event_id, tenant_id, subject, action, resource_type, resource_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, errDb := r.conn().ExecContext(ctx, query,
		event.EventID, tenantID, event.Subject, event.Action,
		event.ResourceType, event.ResourceID, event.Detail)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("action", event.Action).Msg("failed to insert audit event")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

// ListAuditEvents pages the tenant's events newest first, narrowed by
// whichever filter fields are set.
func (r *recordDb) ListAuditEvents(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	args := []any{tenantID}
	sb.WriteString(`
		SELECT event_id, tenant_id, subject, action, resource_type, resource_id, detail, created_at
		FROM audit_events
		WHERE tenant_id = $1`)

	appendCond := func(clause string, v any) {
		args = append(args, v)
		sb.WriteString(" AND " + clause + "$" + strconv.Itoa(len(args)))
	}
	if filter.Action != "" {
		appendCond("action = ", filter.Action)
	}
	if filter.Subject != "" {
		appendCond("subject = ", filter.Subject)
	}
	if filter.ResourceType != "" {
		appendCond("resource_type = ", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		appendCond("resource_id = ", filter.ResourceID)
	}
	if filter.From != nil {
		appendCond("created_at >= ", *filter.From)
	}
	if filter.To != nil {
		appendCond("created_at < ", *filter.To)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	sb.WriteString("\n\t\tORDER BY created_at DESC, event_id DESC\n\t\tLIMIT $" + strconv.Itoa(len(args)))
	args = append(args, filter.Offset)
	sb.WriteString(" OFFSET $" + strconv.Itoa(len(args)) + ";")

	rows, errDb := r.conn().QueryContext(ctx, sb.String(), args...)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to list audit events")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		if errDb := rows.Scan(
			&e.EventID, &e.TenantID, &e.Subject, &e.Action,
			&e.ResourceType, &e.ResourceID, &e.Detail, &e.CreatedAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan audit event")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		events = append(events, &e)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return events, nil
}

// PurgeAuditEventsOlderThan deletes the tenant's events past the retention
// horizon and reports how many rows went away.
func (r *recordDb) PurgeAuditEventsOlderThan(ctx context.Context, retentionDays int) (int64, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return 0, err
	}

	query := `
		DELETE FROM audit_events
		WHERE tenant_id = $1 AND created_at < now() - make_interval(days => $2);
	`
	res, errDb := r.conn().ExecContext(ctx, query, tenantID, retentionDays)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to purge audit events")
		return 0, dberror.ErrDatabase.Err(errDb)
	}
	n, errDb := res.RowsAffected()
	if errDb != nil {
		return 0, dberror.ErrDatabase.Err(errDb)
	}
	return n, nil
}

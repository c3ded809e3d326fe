package memstore

import (
	"context"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
)

func (s *Store) AppendAuditEvent(ctx context.Context, event *models.AuditEvent) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	event.TenantID = tenantID
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	event.CreatedAt = s.now()
	s.audit = append(s.audit, *event)
	return nil
}

// ListAuditEvents returns the tenant's events newest first.
func (s *Store) ListAuditEvents(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.AuditEvent
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if e.TenantID != tenantID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Subject != "" && e.Subject != filter.Subject {
			continue
		}
		if filter.ResourceType != "" && e.ResourceType != filter.ResourceType {
			continue
		}
		if filter.ResourceID != "" && e.ResourceID != filter.ResourceID {
			continue
		}
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !e.CreatedAt.Before(*filter.To) {
			continue
		}
		matched = append(matched, &e)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) PurgeAuditEventsOlderThan(ctx context.Context, retentionDays int) (int64, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	kept := s.audit[:0]
	var purged int64
	for _, e := range s.audit {
		if e.TenantID == tenantID && e.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	s.audit = kept
	return purged, nil
}

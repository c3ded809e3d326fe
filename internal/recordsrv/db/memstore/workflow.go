package memstore

import (
	"context"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

func (s *Store) UpsertWorkflowDefinition(ctx context.Context, def *models.WorkflowDefinition) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{tenantID, def.LogicalName}
	def.TenantID = tenantID
	if existing, ok := s.workflows[key]; ok {
		def.CreatedAt = existing.CreatedAt
	} else {
		def.CreatedAt = s.now()
	}
	def.UpdatedAt = s.now()
	s.workflows[key] = *def
	return nil
}

func (s *Store) GetWorkflowDefinition(ctx context.Context, logicalName string) (*models.WorkflowDefinition, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.workflows[entityKey{tenantID, logicalName}]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("workflow not found")
	}
	return &def, nil
}

func (s *Store) DeleteWorkflowDefinition(ctx context.Context, logicalName string) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, entityKey{tenantID, logicalName})
	return nil
}

func (s *Store) ListWorkflowDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var defs []*models.WorkflowDefinition
	for k, d := range s.workflows {
		if k.tenant == tenantID {
			def := d
			defs = append(defs, &def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].LogicalName < defs[j].LogicalName })
	return defs, nil
}

// ListWorkflowsForRecordCreated probes the trigger tag inside the definition
// document, mirroring the JSONB path lookup of the SQL backend.
func (s *Store) ListWorkflowsForRecordCreated(ctx context.Context, entityName string) ([]*models.WorkflowDefinition, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var defs []*models.WorkflowDefinition
	for k, d := range s.workflows {
		if k.tenant != tenantID || !d.Enabled {
			continue
		}
		doc := string(d.Definition.Bytes)
		if gjson.Get(doc, "trigger.type").String() != string(types.TriggerRuntimeRecordCreated) {
			continue
		}
		if gjson.Get(doc, "trigger.entity").String() != entityName {
			continue
		}
		def := d
		defs = append(defs, &def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].LogicalName < defs[j].LogicalName })
	return defs, nil
}

func (s *Store) CreateRun(ctx context.Context, run *models.WorkflowRun) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	run.TenantID = tenantID
	if run.RunID == uuid.Nil {
		run.RunID = uuid.New()
	}
	run.CreatedAt = s.now()
	run.UpdatedAt = run.CreatedAt
	s.runs[run.RunID] = *run
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (*models.WorkflowRun, apperrors.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("run not found")
	}
	return &run, nil
}

func (s *Store) UpdateRun(ctx context.Context, run *models.WorkflowRun) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.runs[run.RunID]
	if !ok {
		return dberror.ErrNotFound.Msg("run not found for update")
	}
	existing.Status = run.Status
	existing.Attempts = run.Attempts
	existing.DeadLetterReason = run.DeadLetterReason
	existing.UpdatedAt = s.now()
	s.runs[run.RunID] = existing
	return nil
}

func (s *Store) ListRuns(ctx context.Context, workflowName string, limit int) ([]*models.WorkflowRun, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*models.WorkflowRun
	for _, r := range s.runs {
		if r.TenantID != tenantID || r.WorkflowName != workflowName {
			continue
		}
		run := r
		runs = append(runs, &run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) AppendRunAttempt(ctx context.Context, attempt *models.WorkflowRunAttempt) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt.ExecutedAt = s.now()
	s.attempts[attempt.RunID] = append(s.attempts[attempt.RunID], *attempt)
	return nil
}

func (s *Store) ListRunAttempts(ctx context.Context, runID uuid.UUID) ([]*models.WorkflowRunAttempt, apperrors.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attempts := s.attempts[runID]
	out := make([]*models.WorkflowRunAttempt, 0, len(attempts))
	for i := range attempts {
		a := attempts[i]
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

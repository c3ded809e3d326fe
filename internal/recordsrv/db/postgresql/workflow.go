package postgresql

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

// UpsertWorkflowDefinition inserts or replaces a workflow definition.
func (r *recordDb) UpsertWorkflowDefinition(ctx context.Context, def *models.WorkflowDefinition) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}
	def.TenantID = tenantID

	query := `
		INSERT INTO workflow_definitions (tenant_id, logical_name, display_name, definition, enabled, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, logical_name)
		DO UPDATE SET display_name = EXCLUDED.display_name, definition = EXCLUDED.definition,
		              enabled = EXCLUDED.enabled, max_attempts = EXCLUDED.max_attempts, updated_at = now();
	`
	_, errDb := r.conn().ExecContext(ctx, query,
		tenantID, def.LogicalName, def.DisplayName, def.Definition, def.Enabled, def.MaxAttempts)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("logical_name", def.LogicalName).Msg("failed to upsert workflow definition")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) GetWorkflowDefinition(ctx context.Context, logicalName string) (*models.WorkflowDefinition, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, logical_name, display_name, definition, enabled, max_attempts, created_at, updated_at
		FROM workflow_definitions
		WHERE tenant_id = $1 AND logical_name = $2;
	`
	var def models.WorkflowDefinition
	errDb := r.conn().QueryRowContext(ctx, query, tenantID, logicalName).Scan(
		&def.TenantID, &def.LogicalName, &def.DisplayName, &def.Definition,
		&def.Enabled, &def.MaxAttempts, &def.CreatedAt, &def.UpdatedAt)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("workflow not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("logical_name", logicalName).Msg("failed to retrieve workflow definition")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &def, nil
}

func (r *recordDb) DeleteWorkflowDefinition(ctx context.Context, logicalName string) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}

	query := `
		DELETE FROM workflow_definitions
		WHERE tenant_id = $1 AND logical_name = $2;
	`
	_, errDb := r.conn().ExecContext(ctx, query, tenantID, logicalName)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("logical_name", logicalName).Msg("failed to delete workflow definition")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) ListWorkflowDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, logical_name, display_name, definition, enabled, max_attempts, created_at, updated_at
		FROM workflow_definitions
		WHERE tenant_id = $1
		ORDER BY logical_name;
	`
	return r.scanWorkflowDefinitions(ctx, query, tenantID)
}

// ListWorkflowsForRecordCreated returns enabled workflows whose trigger is
// record creation on the given entity. The trigger tag lives inside the
// definition document.
func (r *recordDb) ListWorkflowsForRecordCreated(ctx context.Context, entityName string) ([]*models.WorkflowDefinition, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, logical_name, display_name, definition, enabled, max_attempts, created_at, updated_at
		FROM workflow_definitions
		WHERE tenant_id = $1 AND enabled
		  AND definition->'trigger'->>'type' = '` + string(types.TriggerRuntimeRecordCreated) + `'
		  AND definition->'trigger'->>'entity' = $2
		ORDER BY logical_name;
	`
	return r.scanWorkflowDefinitions(ctx, query, tenantID, entityName)
}

func (r *recordDb) scanWorkflowDefinitions(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, apperrors.Error) {
	rows, errDb := r.conn().QueryContext(ctx, query, args...)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to list workflow definitions")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var defs []*models.WorkflowDefinition
	for rows.Next() {
		var def models.WorkflowDefinition
		if errDb := rows.Scan(
			&def.TenantID, &def.LogicalName, &def.DisplayName, &def.Definition,
			&def.Enabled, &def.MaxAttempts, &def.CreatedAt, &def.UpdatedAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan workflow definition")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		defs = append(defs, &def)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return defs, nil
}

func (r *recordDb) CreateRun(ctx context.Context, run *models.WorkflowRun) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}
	run.TenantID = tenantID
	if run.RunID == uuid.Nil {
		run.RunID = uuid.New()
	}

	query := `
		INSERT INTO workflow_execution_runs
			(run_id, tenant_id, workflow_name, status, attempts, trigger_payload, triggered_by, dead_letter_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, errDb := r.conn().ExecContext(ctx, query,
		run.RunID, tenantID, run.WorkflowName, run.Status, run.Attempts,
		run.TriggerPayload, run.TriggeredBy, run.DeadLetterReason)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("workflow", run.WorkflowName).Msg("failed to insert run")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

// GetRun is unscoped by tenant context: workers load runs across tenants and
// re-establish the tenant from the row itself.
func (r *recordDb) GetRun(ctx context.Context, runID uuid.UUID) (*models.WorkflowRun, apperrors.Error) {
	query := `
		SELECT run_id, tenant_id, workflow_name, status, attempts, trigger_payload, triggered_by,
		       COALESCE(dead_letter_reason, ''), created_at, updated_at
		FROM workflow_execution_runs
		WHERE run_id = $1;
	`
	var run models.WorkflowRun
	errDb := r.conn().QueryRowContext(ctx, query, runID).Scan(
		&run.RunID, &run.TenantID, &run.WorkflowName, &run.Status, &run.Attempts,
		&run.TriggerPayload, &run.TriggeredBy, &run.DeadLetterReason, &run.CreatedAt, &run.UpdatedAt)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("run not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("run_id", runID.String()).Msg("failed to retrieve run")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &run, nil
}

func (r *recordDb) UpdateRun(ctx context.Context, run *models.WorkflowRun) apperrors.Error {
	query := `
		UPDATE workflow_execution_runs
		SET status = $2, attempts = $3, dead_letter_reason = $4, updated_at = now()
		WHERE run_id = $1
		RETURNING run_id;
	`
	var updated uuid.UUID
	errDb := r.conn().QueryRowContext(ctx, query,
		run.RunID, run.Status, run.Attempts, run.DeadLetterReason).Scan(&updated)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return dberror.ErrNotFound.Msg("run not found for update")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("run_id", run.RunID.String()).Msg("failed to update run")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) ListRuns(ctx context.Context, workflowName string, limit int) ([]*models.WorkflowRun, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT run_id, tenant_id, workflow_name, status, attempts, trigger_payload, triggered_by,
		       COALESCE(dead_letter_reason, ''), created_at, updated_at
		FROM workflow_execution_runs
		WHERE tenant_id = $1 AND workflow_name = $2
		ORDER BY created_at DESC
		LIMIT $3;
	`
	rows, errDb := r.conn().QueryContext(ctx, query, tenantID, workflowName, limit)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("workflow", workflowName).Msg("failed to list runs")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var runs []*models.WorkflowRun
	for rows.Next() {
		var run models.WorkflowRun
		if errDb := rows.Scan(
			&run.RunID, &run.TenantID, &run.WorkflowName, &run.Status, &run.Attempts,
			&run.TriggerPayload, &run.TriggeredBy, &run.DeadLetterReason, &run.CreatedAt, &run.UpdatedAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan run")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		runs = append(runs, &run)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return runs, nil
}

func (r *recordDb) AppendRunAttempt(ctx context.Context, attempt *models.WorkflowRunAttempt) apperrors.Error {
	query := `
		INSERT INTO workflow_execution_attempts (run_id, attempt_number, status, error)
		VALUES ($1, $2, $3, $4);
	`
	_, errDb := r.conn().ExecContext(ctx, query,
		attempt.RunID, attempt.AttemptNumber, attempt.Status, attempt.Error)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("run_id", attempt.RunID.String()).Msg("failed to insert run attempt")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) ListRunAttempts(ctx context.Context, runID uuid.UUID) ([]*models.WorkflowRunAttempt, apperrors.Error) {
	query := `
		SELECT run_id, attempt_number, status, COALESCE(error, ''), executed_at
		FROM workflow_execution_attempts
		WHERE run_id = $1
		ORDER BY attempt_number;
	`
	rows, errDb := r.conn().QueryContext(ctx, query, runID)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("run_id", runID.String()).Msg("failed to list run attempts")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var attempts []*models.WorkflowRunAttempt
	for rows.Next() {
		var a models.WorkflowRunAttempt
		if errDb := rows.Scan(&a.RunID, &a.AttemptNumber, &a.Status, &a.Error, &a.ExecutedAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan run attempt")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		attempts = append(attempts, &a)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return attempts, nil
}

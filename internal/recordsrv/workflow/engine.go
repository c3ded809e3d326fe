package workflow

import (
	"context"
	"errors"

	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/audit"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
	"github.com/recordum/recordum/internal/recordsrv/runtime"
	"github.com/recordum/recordum/pkg/types"
)

// ExecutionMode selects how a started run executes.
type ExecutionMode string

const (
	// ModeInline executes the run synchronously in the caller's goroutine.
	ModeInline ExecutionMode = "inline"
	// ModeQueued persists a pending job for workers to claim. This is the
	// production default.
	ModeQueued ExecutionMode = "queued"
)

// StartRun persists a run for the named workflow and either executes it
// inline or enqueues it for workers.
func StartRun(ctx context.Context, workflowName string, payload []byte, mode ExecutionMode) (*models.WorkflowRun, apperrors.Error) {
	def, err := db.DB(ctx).GetWorkflowDefinition(ctx, workflowName)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrWorkflowNotFound.Msg(workflowName)
		}
		return nil, err
	}
	if !def.Enabled {
		return nil, ErrInvalidWorkflow.Msg("workflow " + workflowName + " is disabled")
	}
	return startRunForDefinition(ctx, def, payload, mode)
}

func startRunForDefinition(ctx context.Context, def *models.WorkflowDefinition, payload []byte, mode ExecutionMode) (*models.WorkflowRun, apperrors.Error) {
	store := db.DB(ctx)
	run := &models.WorkflowRun{
		RunID:          uuid.New(),
		WorkflowName:   def.LogicalName,
		Status:         types.RunStatusRunning,
		TriggerPayload: pgtype.JSONB{Bytes: payload, Status: pgtype.Present},
		TriggeredBy:    reccommon.SubjectFromContext(ctx),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	if mode == ModeInline {
		if err := ExecuteRun(ctx, def, run); err != nil {
			return nil, err
		}
		return store.GetRun(ctx, run.RunID)
	}

	job := &models.WorkflowJob{
		JobID:        uuid.New(),
		RunID:        run.RunID,
		TenantID:     reccommon.TenantIdFromContext(ctx),
		PartitionKey: models.PartitionKeyForTenant(reccommon.TenantIdFromContext(ctx)),
		Status:       types.JobStatusPending,
	}
	if err := store.EnqueueJob(ctx, job); err != nil {
		return nil, err
	}
	audit.Emit(ctx, audit.ActionWorkflowEnqueue, "workflow_run", run.RunID.String(), map[string]string{
		"workflow": def.LogicalName,
		"job_id":   job.JobID.String(),
	})
	return run, nil
}

// ExecuteRun drives a Running run to its terminal state: it plans the step
// graph against the trigger payload and executes the plan, retrying up to the
// definition's max attempts. Each try appends an attempt row. Exhausting
// attempts dead-letters the run with the last error.
//
// The returned error reports storage failures only; a dead-lettered run is a
// successfully recorded outcome.
func ExecuteRun(ctx context.Context, def *models.WorkflowDefinition, run *models.WorkflowRun) apperrors.Error {
	store := db.DB(ctx)
	payload := run.TriggerPayload.Bytes

	var lastErr apperrors.Error
	for attempt := 1; attempt <= def.MaxAttempts; attempt++ {
		execErr := executeOnce(ctx, def, payload)

		row := &models.WorkflowRunAttempt{
			RunID:         run.RunID,
			AttemptNumber: attempt,
			Status:        types.AttemptStatusSucceeded,
		}
		if execErr != nil {
			row.Status = types.AttemptStatusFailed
			row.Error = execErr.Error()
		}
		if err := store.AppendRunAttempt(ctx, row); err != nil {
			return err
		}

		if execErr == nil {
			run.Status = types.RunStatusSucceeded
			run.Attempts = attempt
			run.DeadLetterReason = ""
			return store.UpdateRun(ctx, run)
		}
		lastErr = execErr
		log.Ctx(ctx).Warn().Err(execErr).
			Str("workflow", def.LogicalName).
			Str("run_id", run.RunID.String()).
			Int("attempt", attempt).
			Msg("workflow attempt failed")
	}

	run.Status = types.RunStatusDeadLettered
	run.Attempts = def.MaxAttempts
	run.DeadLetterReason = lastErr.Error()
	return store.UpdateRun(ctx, run)
}

// executeOnce plans and executes the action list once. Creates run under the
// system identity so engine-internal writes bypass caller permission checks
// while staying tenant scoped.
func executeOnce(ctx context.Context, def *models.WorkflowDefinition, payload []byte) apperrors.Error {
	spec, err := ParseSpec(def.Definition.Bytes)
	if err != nil {
		return err
	}
	plan, err := PlanActions(spec, payload)
	if err != nil {
		return err
	}

	sysCtx := reccommon.WithSystemIdentity(ctx)
	for _, action := range plan {
		switch action.Type {
		case StepLogMessage:
			log.Ctx(ctx).Info().
				Str("workflow", def.LogicalName).
				Msg(action.Message)
		case StepCreateRuntimeRecord:
			record, err := runtime.CreateRecord(sysCtx, action.Entity, action.Data, types.SystemSubject)
			if err != nil {
				return err
			}
			audit.Emit(sysCtx, audit.ActionWorkflowStep, "record", record.ID.String(), map[string]string{
				"workflow": def.LogicalName,
				"entity":   action.Entity,
			})
		}
	}
	return nil
}

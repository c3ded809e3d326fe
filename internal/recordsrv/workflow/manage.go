// Package workflow is the durable workflow engine: trigger-bound step graphs
// validated on save, planned per trigger payload, executed with bounded
// retries, and queued through a lease-gated job table drained by partitioned
// workers.
package workflow

import (
	"context"
	"errors"

	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/audit"
	"github.com/recordum/recordum/internal/recordsrv/authz"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

// WorkflowRequest creates or updates a workflow definition.
type WorkflowRequest struct {
	LogicalName string `json:"logical_name"`
	DisplayName string `json:"display_name"`
	// Definition is the raw spec document: trigger, steps, legacy action.
	Definition []byte `json:"definition"`
	Enabled    bool   `json:"enabled"`
	// MaxAttempts bounds retries per run; zero takes the default of 3.
	MaxAttempts int `json:"max_attempts"`
}

// SaveWorkflow validates and upserts a workflow definition.
func SaveWorkflow(ctx context.Context, req *WorkflowRequest) (*models.WorkflowDefinition, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataFieldWrite); err != nil {
		return nil, err
	}
	if req.LogicalName == "" {
		return nil, ErrInvalidWorkflow.Msg("workflow requires a logical name")
	}
	if req.MaxAttempts == 0 {
		req.MaxAttempts = 3
	}
	if req.MaxAttempts < 1 || req.MaxAttempts > 10 {
		return nil, ErrInvalidWorkflow.Msg("max attempts must be between 1 and 10")
	}
	if _, err := ParseSpec(req.Definition); err != nil {
		return nil, err
	}

	def := &models.WorkflowDefinition{
		LogicalName: req.LogicalName,
		DisplayName: req.DisplayName,
		Definition:  pgtype.JSONB{Bytes: req.Definition, Status: pgtype.Present},
		Enabled:     req.Enabled,
		MaxAttempts: req.MaxAttempts,
	}
	if err := db.DB(ctx).UpsertWorkflowDefinition(ctx, def); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("workflow", req.LogicalName).Msg("failed to save workflow")
		return nil, err
	}

	audit.Emit(ctx, audit.ActionWorkflowSave, "workflow", req.LogicalName, map[string]any{
		"enabled":      req.Enabled,
		"max_attempts": req.MaxAttempts,
	})
	return def, nil
}

// GetWorkflow returns the workflow definition.
func GetWorkflow(ctx context.Context, logicalName string) (*models.WorkflowDefinition, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityRead); err != nil {
		return nil, err
	}
	def, err := db.DB(ctx).GetWorkflowDefinition(ctx, logicalName)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrWorkflowNotFound.Msg(logicalName)
		}
		return nil, err
	}
	return def, nil
}

// DeleteWorkflow removes the workflow definition. Existing runs and their
// attempts are retained for inspection.
func DeleteWorkflow(ctx context.Context, logicalName string) apperrors.Error {
	if err := authz.Authorize(ctx, types.PermissionMetadataFieldWrite); err != nil {
		return err
	}
	if err := db.DB(ctx).DeleteWorkflowDefinition(ctx, logicalName); err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return ErrWorkflowNotFound.Msg(logicalName)
		}
		return err
	}
	audit.Emit(ctx, audit.ActionWorkflowSave, "workflow", logicalName, map[string]string{"deleted": logicalName})
	return nil
}

// ListWorkflows returns every workflow definition of the tenant.
func ListWorkflows(ctx context.Context) ([]*models.WorkflowDefinition, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityRead); err != nil {
		return nil, err
	}
	return db.DB(ctx).ListWorkflowDefinitions(ctx)
}

// GetRun returns one run with its attempts.
func GetRun(ctx context.Context, runID uuid.UUID) (*models.WorkflowRun, []*models.WorkflowRunAttempt, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityRead); err != nil {
		return nil, nil, err
	}
	run, err := db.DB(ctx).GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, nil, ErrRunNotFound.Msg(runID.String())
		}
		return nil, nil, err
	}
	attempts, err := db.DB(ctx).ListRunAttempts(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, attempts, nil
}

// ListRuns returns the workflow's runs, newest first.
func ListRuns(ctx context.Context, workflowName string, limit int) ([]*models.WorkflowRun, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityRead); err != nil {
		return nil, err
	}
	return db.DB(ctx).ListRuns(ctx, workflowName, limit)
}

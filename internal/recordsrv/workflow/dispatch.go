package workflow

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
	"github.com/recordum/recordum/internal/recordsrv/runtime"
)

// triggerPayload is the document a record-created run receives.
type triggerPayload struct {
	Entity      string `json:"entity"`
	RecordID    string `json:"record_id"`
	TriggeredBy string `json:"triggered_by"`
}

// Dispatcher fans record-created events out to the tenant's matching enabled
// workflows. Install it on the record store at startup:
//
//	runtime.SetDispatcher(&workflow.Dispatcher{Mode: workflow.ModeQueued})
type Dispatcher struct {
	Mode ExecutionMode
}

var _ runtime.Dispatcher = (*Dispatcher)(nil)

// RecordCreated starts one run per matching workflow under the system
// identity. Failures are isolated per workflow: one workflow's bad
// definition or storage error never blocks the others, and never fails the
// record write that triggered dispatch.
func (d *Dispatcher) RecordCreated(ctx context.Context, record *models.RuntimeRecord) {
	defs, err := db.DB(ctx).ListWorkflowsForRecordCreated(ctx, record.EntityName)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("entity", record.EntityName).Msg("workflow dispatch lookup failed")
		return
	}
	if len(defs) == 0 {
		return
	}

	payload, errJs := json.Marshal(triggerPayload{
		Entity:      record.EntityName,
		RecordID:    record.ID.String(),
		TriggeredBy: string(reccommon.SubjectFromContext(ctx)),
	})
	if errJs != nil {
		log.Ctx(ctx).Error().Err(errJs).Msg("failed to build trigger payload")
		return
	}

	sysCtx := reccommon.WithSystemIdentity(ctx)
	for _, def := range defs {
		if _, err := startRunForDefinition(sysCtx, def, payload, d.Mode); err != nil {
			log.Ctx(ctx).Error().Err(err).
				Str("workflow", def.LogicalName).
				Str("record_id", record.ID.String()).
				Msg("failed to dispatch workflow run")
		}
	}
}

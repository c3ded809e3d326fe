package workflow

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common"
	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/config"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
)

// Worker drains the execution queue: it claims leased batches, executes each
// run, and settles jobs with its lease tokens. Claim, execute, and settle all
// run against the store bound to the context passed in.
type Worker struct {
	ID        string
	Partition *models.QueuePartition

	claimLimit   int
	leaseSeconds int
	poll         time.Duration

	// per-tick counters; heartbeat snapshots and resets them
	claimed  int
	executed int
	failed   int
}

// NewWorker builds a worker with a generated id and the configured claim
// parameters. partition may be nil for an unpartitioned worker.
func NewWorker(partition *models.QueuePartition) *Worker {
	cfg := config.Config()
	return &Worker{
		ID:           common.NewWorkerID(),
		Partition:    partition,
		claimLimit:   cfg.WorkerClaimLimit,
		leaseSeconds: cfg.WorkerLeaseSeconds,
		poll:         cfg.WorkerPoll(),
	}
}

// Run polls the queue until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	logger := log.Ctx(ctx).With().Str("worker_id", w.ID).Logger()
	logger.Info().Msg("worker started")

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		if _, err := w.Tick(ctx); err != nil {
			logger.Error().Err(err).Msg("worker tick failed")
		}
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick claims one batch, executes it, and heartbeats. It returns the number
// of jobs executed.
func (w *Worker) Tick(ctx context.Context) (int, apperrors.Error) {
	store := db.DB(ctx)
	if store == nil {
		return 0, ErrWorkflow.Msg("no store bound to context")
	}

	var claimed []*models.ClaimedJob
	errR := retry.Do(func() error {
		var err apperrors.Error
		claimed, err = store.ClaimJobs(ctx, w.ID, w.claimLimit, w.leaseSeconds, w.Partition)
		if err != nil {
			return err
		}
		return nil
	},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if errR != nil {
		return 0, ErrWorkflow.Msg("claim failed").Err(errR)
	}
	w.claimed += len(claimed)

	executed := 0
	for _, job := range claimed {
		if err := w.executeClaimed(ctx, job); err != nil {
			w.failed++
			log.Ctx(ctx).Error().Err(err).
				Str("worker_id", w.ID).
				Str("job_id", job.Job.JobID.String()).
				Msg("job execution failed")
			if err := store.FailJob(ctx, job.Job.JobID, w.ID, job.Job.LeaseToken, err.Error()); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("job_id", job.Job.JobID.String()).Msg("failed to settle job as failed")
			}
			continue
		}
		executed++
		w.executed++
		if err := store.CompleteJob(ctx, job.Job.JobID, w.ID, job.Job.LeaseToken); err != nil {
			// a stolen lease after expiry lands here; the other worker's
			// result wins
			log.Ctx(ctx).Warn().Err(err).Str("job_id", job.Job.JobID.String()).Msg("failed to settle job as completed")
		}
	}

	w.heartbeat(ctx)
	return executed, nil
}

// executeClaimed drives the claimed run under the job's tenant and the
// system identity.
func (w *Worker) executeClaimed(ctx context.Context, claimed *models.ClaimedJob) apperrors.Error {
	jobCtx := reccommon.WithSystemIdentity(reccommon.WithTenantID(ctx, claimed.Run.TenantID))
	run := claimed.Run
	def := claimed.Definition
	return ExecuteRun(jobCtx, &def, &run)
}

// heartbeat reports the counters accumulated since the previous heartbeat
// and resets them, so stored figures are always last-tick, not lifetime.
func (w *Worker) heartbeat(ctx context.Context) {
	hb := &models.WorkerHeartbeat{
		WorkerID:     w.ID,
		ClaimedJobs:  w.claimed,
		ExecutedJobs: w.executed,
		FailedJobs:   w.failed,
	}
	w.claimed, w.executed, w.failed = 0, 0, 0
	if w.Partition != nil {
		hb.PartitionCount = &w.Partition.Count
		hb.PartitionIndex = &w.Partition.Index
	}
	if err := db.DB(ctx).UpsertWorkerHeartbeat(ctx, hb); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("worker_id", w.ID).Msg("heartbeat failed")
	}
}

// Stats returns queue depth and active-worker counts for the worker's
// partition.
func Stats(ctx context.Context, activeWindowSeconds int, partition *models.QueuePartition) (*models.QueueStats, apperrors.Error) {
	return db.DB(ctx).QueueStats(ctx, activeWindowSeconds, partition)
}

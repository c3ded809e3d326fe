package postgresql

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

// EnqueueJob inserts a queue entry for a run. The run_id unique index makes
// enqueue idempotent per run.
func (r *recordDb) EnqueueJob(ctx context.Context, job *models.WorkflowJob) apperrors.Error {
	if job.JobID == uuid.Nil {
		job.JobID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobStatusPending
	}
	job.PartitionKey = models.PartitionKeyForTenant(job.TenantID)

	query := `
		INSERT INTO workflow_execution_jobs (job_id, run_id, tenant_id, partition_key, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO NOTHING
		RETURNING job_id;
	`
	var inserted uuid.UUID
	errDb := r.conn().QueryRowContext(ctx, query,
		job.JobID, job.RunID, job.TenantID, job.PartitionKey, job.Status).Scan(&inserted)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return dberror.ErrAlreadyExists.Msg("job already enqueued for run")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("run_id", job.RunID.String()).Msg("failed to enqueue job")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) GetJob(ctx context.Context, jobID uuid.UUID) (*models.WorkflowJob, apperrors.Error) {
	query := `
		SELECT job_id, run_id, tenant_id, partition_key, status,
		       COALESCE(leased_by, ''),
		       COALESCE(lease_token, '00000000-0000-0000-0000-000000000000'::uuid),
		       lease_expires_at, COALESCE(last_error, ''), created_at, updated_at
		FROM workflow_execution_jobs
		WHERE job_id = $1;
	`
	var job models.WorkflowJob
	errDb := r.conn().QueryRowContext(ctx, query, jobID).Scan(
		&job.JobID, &job.RunID, &job.TenantID, &job.PartitionKey, &job.Status,
		&job.LeasedBy, &job.LeaseToken, &job.LeaseExpiresAt, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("job not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("job_id", jobID.String()).Msg("failed to retrieve job")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &job, nil
}

// ClaimJobs leases up to limit claimable jobs. A job is claimable when
// pending or when its lease has expired. SKIP LOCKED keeps concurrent
// claimants from blocking each other; each claimed job gets a fresh lease
// token, invalidating any late calls from a previous holder.
func (r *recordDb) ClaimJobs(ctx context.Context, workerID string, limit int, leaseSeconds int, partition *models.QueuePartition) ([]*models.ClaimedJob, apperrors.Error) {
	partCount, partIndex := 0, 0
	if partition != nil {
		partCount, partIndex = partition.Count, partition.Index
	}

	query := `
		WITH claimable AS (
			SELECT job_id FROM workflow_execution_jobs
			WHERE (status = 'pending' OR (status = 'leased' AND lease_expires_at < now()))
			  AND ($4::int <= 0 OR partition_key % $4 = $5)
			ORDER BY created_at ASC, job_id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE workflow_execution_jobs j
		SET status = 'leased',
		    leased_by = $1,
		    lease_token = gen_random_uuid(),
		    lease_expires_at = now() + make_interval(secs => $3),
		    updated_at = now()
		FROM claimable
		WHERE j.job_id = claimable.job_id
		RETURNING j.job_id, j.run_id, j.tenant_id, j.partition_key, j.status,
		          j.leased_by, j.lease_token, j.lease_expires_at, COALESCE(j.last_error, ''),
		          j.created_at, j.updated_at;
	`
	rows, errDb := r.conn().QueryContext(ctx, query, workerID, limit, leaseSeconds, partCount, partIndex)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("worker_id", workerID).Msg("failed to claim jobs")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var jobs []models.WorkflowJob
	for rows.Next() {
		var job models.WorkflowJob
		if errDb := rows.Scan(
			&job.JobID, &job.RunID, &job.TenantID, &job.PartitionKey, &job.Status,
			&job.LeasedBy, &job.LeaseToken, &job.LeaseExpiresAt, &job.LastError,
			&job.CreatedAt, &job.UpdatedAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan claimed job")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		jobs = append(jobs, job)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	return r.hydrateClaimedJobs(ctx, jobs)
}

// hydrateClaimedJobs attaches each job's run and workflow definition so the
// worker executes without further round trips.
func (r *recordDb) hydrateClaimedJobs(ctx context.Context, jobs []models.WorkflowJob) ([]*models.ClaimedJob, apperrors.Error) {
	runIDs := make([]string, 0, len(jobs))
	for _, job := range jobs {
		runIDs = append(runIDs, job.RunID.String())
	}

	query := `
		SELECT r.run_id, r.tenant_id, r.workflow_name, r.status, r.attempts, r.trigger_payload,
		       r.triggered_by, COALESCE(r.dead_letter_reason, ''), r.created_at, r.updated_at,
		       d.display_name, d.definition, d.enabled, d.max_attempts, d.created_at, d.updated_at
		FROM workflow_execution_runs r
		JOIN workflow_definitions d
		  ON d.tenant_id = r.tenant_id AND d.logical_name = r.workflow_name
		WHERE r.run_id = ANY($1::uuid[]);
	`
	rows, errDb := r.conn().QueryContext(ctx, query, pq.Array(runIDs))
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to hydrate claimed jobs")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	byRun := make(map[uuid.UUID]*models.ClaimedJob, len(jobs))
	for rows.Next() {
		var run models.WorkflowRun
		var def models.WorkflowDefinition
		if errDb := rows.Scan(
			&run.RunID, &run.TenantID, &run.WorkflowName, &run.Status, &run.Attempts, &run.TriggerPayload,
			&run.TriggeredBy, &run.DeadLetterReason, &run.CreatedAt, &run.UpdatedAt,
			&def.DisplayName, &def.Definition, &def.Enabled, &def.MaxAttempts, &def.CreatedAt, &def.UpdatedAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan claimed run")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		def.TenantID = run.TenantID
		def.LogicalName = run.WorkflowName
		byRun[run.RunID] = &models.ClaimedJob{Run: run, Definition: def}
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}

	claimed := make([]*models.ClaimedJob, 0, len(jobs))
	for _, job := range jobs {
		cj, ok := byRun[job.RunID]
		if !ok {
			// definition deleted between enqueue and claim; skip the job and
			// let its lease expire
			log.Ctx(ctx).Warn().Str("run_id", job.RunID.String()).Msg("claimed job has no definition")
			continue
		}
		cj.Job = job
		claimed = append(claimed, cj)
	}
	return claimed, nil
}

// CompleteJob transitions a leased job to completed. The update is gated on
// the caller still holding the lease; a stolen or expired-and-reclaimed lease
// means zero rows match and the call conflicts.
func (r *recordDb) CompleteJob(ctx context.Context, jobID uuid.UUID, workerID string, leaseToken uuid.UUID) apperrors.Error {
	query := `
		UPDATE workflow_execution_jobs
		SET status = 'completed', lease_expires_at = NULL, updated_at = now()
		WHERE job_id = $1 AND status = 'leased' AND leased_by = $2 AND lease_token = $3
		RETURNING job_id;
	`
	var updated uuid.UUID
	errDb := r.conn().QueryRowContext(ctx, query, jobID, workerID, leaseToken).Scan(&updated)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return dberror.ErrLeaseMismatch.Msg("job is not leased to this worker")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("job_id", jobID.String()).Msg("failed to complete job")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

// FailJob transitions a leased job to failed with the error message, under
// the same lease gate as CompleteJob.
func (r *recordDb) FailJob(ctx context.Context, jobID uuid.UUID, workerID string, leaseToken uuid.UUID, errMsg string) apperrors.Error {
	query := `
		UPDATE workflow_execution_jobs
		SET status = 'failed', last_error = $4, lease_expires_at = NULL, updated_at = now()
		WHERE job_id = $1 AND status = 'leased' AND leased_by = $2 AND lease_token = $3
		RETURNING job_id;
	`
	var updated uuid.UUID
	errDb := r.conn().QueryRowContext(ctx, query, jobID, workerID, leaseToken, errMsg).Scan(&updated)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return dberror.ErrLeaseMismatch.Msg("job is not leased to this worker")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("job_id", jobID.String()).Msg("failed to fail job")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) UpsertWorkerHeartbeat(ctx context.Context, hb *models.WorkerHeartbeat) apperrors.Error {
	query := `
		INSERT INTO workflow_worker_heartbeats
			(worker_id, claimed_jobs, executed_jobs, failed_jobs, partition_count, partition_index, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (worker_id)
		DO UPDATE SET claimed_jobs = EXCLUDED.claimed_jobs, executed_jobs = EXCLUDED.executed_jobs,
		              failed_jobs = EXCLUDED.failed_jobs, partition_count = EXCLUDED.partition_count,
		              partition_index = EXCLUDED.partition_index, last_seen_at = now();
	`
	_, errDb := r.conn().ExecContext(ctx, query,
		hb.WorkerID, hb.ClaimedJobs, hb.ExecutedJobs, hb.FailedJobs, hb.PartitionCount, hb.PartitionIndex)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("worker_id", hb.WorkerID).Msg("failed to upsert heartbeat")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

// QueueStats counts jobs by status and workers seen within the window,
// optionally narrowed to a partition.
func (r *recordDb) QueueStats(ctx context.Context, activeWindowSeconds int, partition *models.QueuePartition) (*models.QueueStats, apperrors.Error) {
	partCount, partIndex := 0, 0
	if partition != nil {
		partCount, partIndex = partition.Count, partition.Index
	}

	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'leased'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM workflow_execution_jobs
		WHERE ($1::int <= 0 OR partition_key % $1 = $2);
	`
	var stats models.QueueStats
	errDb := r.conn().QueryRowContext(ctx, query, partCount, partIndex).Scan(
		&stats.PendingJobs, &stats.LeasedJobs, &stats.CompletedJobs, &stats.FailedJobs)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to count jobs")
		return nil, dberror.ErrDatabase.Err(errDb)
	}

	// unpartitioned workers serve every partition, so NULL rows always count
	workerQuery := `
		SELECT COUNT(*)
		FROM workflow_worker_heartbeats
		WHERE last_seen_at > now() - make_interval(secs => $1)
		  AND ($2::int <= 0 OR partition_count IS NULL
		       OR (partition_count = $2 AND partition_index = $3));
	`
	errDb = r.conn().QueryRowContext(ctx, workerQuery, activeWindowSeconds, partCount, partIndex).Scan(&stats.ActiveWorkers)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to count active workers")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &stats, nil
}

func (r *recordDb) GetWorkerHeartbeat(ctx context.Context, workerID string) (*models.WorkerHeartbeat, apperrors.Error) {
	query := `
		SELECT worker_id, claimed_jobs, executed_jobs, failed_jobs,
		       partition_count, partition_index, last_seen_at
		FROM workflow_worker_heartbeats
		WHERE worker_id = $1;
	`
	var hb models.WorkerHeartbeat
	errDb := r.conn().QueryRowContext(ctx, query, workerID).Scan(
		&hb.WorkerID, &hb.ClaimedJobs, &hb.ExecutedJobs, &hb.FailedJobs,
		&hb.PartitionCount, &hb.PartitionIndex, &hb.LastSeenAt)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("worker heartbeat not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("worker_id", workerID).Msg("failed to load heartbeat")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &hb, nil
}

package memstore

import (
	"context"
	"sort"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

func (s *Store) EnqueueJob(ctx context.Context, job *models.WorkflowJob) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.RunID == job.RunID {
			return dberror.ErrAlreadyExists.Msg("job already enqueued for run")
		}
	}
	if job.JobID == uuid.Nil {
		job.JobID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobStatusPending
	}
	job.PartitionKey = models.PartitionKeyForTenant(job.TenantID)
	job.CreatedAt = s.now()
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.JobID] = *job
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*models.WorkflowJob, apperrors.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("job not found")
	}
	return &job, nil
}

// ClaimJobs leases up to limit claimable jobs in creation order. Claimable
// means pending or leased past expiry; every claimed job gets a fresh lease
// token so a prior holder's completion calls no longer match.
func (s *Store) ClaimJobs(ctx context.Context, workerID string, limit int, leaseSeconds int, partition *models.QueuePartition) ([]*models.ClaimedJob, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var claimable []models.WorkflowJob
	for _, job := range s.jobs {
		switch job.Status {
		case types.JobStatusPending:
		case types.JobStatusLeased:
			if job.LeaseExpiresAt == nil || !job.LeaseExpiresAt.Before(now) {
				continue
			}
		default:
			continue
		}
		if partition != nil && !partition.Matches(job.PartitionKey) {
			continue
		}
		claimable = append(claimable, job)
	}

	sort.Slice(claimable, func(i, j int) bool {
		if !claimable[i].CreatedAt.Equal(claimable[j].CreatedAt) {
			return claimable[i].CreatedAt.Before(claimable[j].CreatedAt)
		}
		return claimable[i].JobID.String() < claimable[j].JobID.String()
	})
	if limit > 0 && limit < len(claimable) {
		claimable = claimable[:limit]
	}

	var claimed []*models.ClaimedJob
	for _, job := range claimable {
		expires := now.Add(timeSeconds(leaseSeconds))
		job.Status = types.JobStatusLeased
		job.LeasedBy = workerID
		job.LeaseToken = uuid.New()
		job.LeaseExpiresAt = &expires
		job.UpdatedAt = now
		s.jobs[job.JobID] = job

		run, ok := s.runs[job.RunID]
		if !ok {
			continue
		}
		def, ok := s.workflows[entityKey{run.TenantID, run.WorkflowName}]
		if !ok {
			continue
		}
		claimed = append(claimed, &models.ClaimedJob{Job: job, Run: run, Definition: def})
	}
	return claimed, nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID uuid.UUID, workerID string, leaseToken uuid.UUID) apperrors.Error {
	return s.settleJob(jobID, workerID, leaseToken, types.JobStatusCompleted, "")
}

func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, workerID string, leaseToken uuid.UUID, errMsg string) apperrors.Error {
	return s.settleJob(jobID, workerID, leaseToken, types.JobStatusFailed, errMsg)
}

// settleJob enforces the lease gate: the job must still be leased to the
// caller under the caller's token. A stolen lease yields a conflict.
func (s *Store) settleJob(jobID uuid.UUID, workerID string, leaseToken uuid.UUID, status types.JobStatus, errMsg string) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != types.JobStatusLeased || job.LeasedBy != workerID || job.LeaseToken != leaseToken {
		return dberror.ErrLeaseMismatch.Msg("job is not leased to this worker")
	}
	job.Status = status
	job.LastError = errMsg
	job.LeaseExpiresAt = nil
	job.UpdatedAt = s.now()
	s.jobs[jobID] = job
	return nil
}

func (s *Store) UpsertWorkerHeartbeat(ctx context.Context, hb *models.WorkerHeartbeat) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hb.LastSeenAt = s.now()
	s.heartbeats[hb.WorkerID] = *hb
	return nil
}

func (s *Store) GetWorkerHeartbeat(ctx context.Context, workerID string) (*models.WorkerHeartbeat, apperrors.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hb, ok := s.heartbeats[workerID]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("worker heartbeat not found")
	}
	return &hb, nil
}

func (s *Store) QueueStats(ctx context.Context, activeWindowSeconds int, partition *models.QueuePartition) (*models.QueueStats, apperrors.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats models.QueueStats
	for _, job := range s.jobs {
		if partition != nil && !partition.Matches(job.PartitionKey) {
			continue
		}
		switch job.Status {
		case types.JobStatusPending:
			stats.PendingJobs++
		case types.JobStatusLeased:
			stats.LeasedJobs++
		case types.JobStatusCompleted:
			stats.CompletedJobs++
		case types.JobStatusFailed:
			stats.FailedJobs++
		}
	}
	cutoff := s.now().Add(-timeSeconds(activeWindowSeconds))
	for _, hb := range s.heartbeats {
		if !hb.LastSeenAt.After(cutoff) {
			continue
		}
		// unpartitioned workers serve every partition
		if partition != nil && hb.PartitionCount != nil {
			if *hb.PartitionCount != partition.Count || *hb.PartitionIndex != partition.Index {
				continue
			}
		}
		stats.ActiveWorkers++
	}
	return &stats, nil
}

package models

import (
	"time"

	"github.com/jackc/pgtype"

	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/pkg/types"
)

/*
  Table "public.workflow_definitions"
     Column     |           Type           | Nullable | Default
----------------+--------------------------+----------+---------
 tenant_id      | character varying(64)    | not null |
 logical_name   | character varying(128)   | not null |
 display_name   | character varying(256)   | not null |
 definition     | jsonb                    | not null |
 enabled        | boolean                  | not null | true
 max_attempts   | integer                  | not null | 3
 created_at     | timestamp with time zone | not null | now()
 updated_at     | timestamp with time zone | not null | now()
Indexes:
    "workflow_definitions_pkey" PRIMARY KEY, btree (tenant_id, logical_name)
Check constraints:
    "workflow_definitions_max_attempts_check" CHECK (max_attempts BETWEEN 1 AND 10)
*/

// WorkflowDefinition stores a trigger-bound step graph. Definition holds the
// serialized trigger, steps, and legacy action.
type WorkflowDefinition struct {
	TenantID    types.TenantId `db:"tenant_id"`
	LogicalName string         `db:"logical_name"`
	DisplayName string         `db:"display_name"`
	Definition  pgtype.JSONB   `db:"definition"`
	Enabled     bool           `db:"enabled"`
	MaxAttempts int            `db:"max_attempts"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

/*
  Table "public.workflow_execution_runs"
       Column        |           Type           | Nullable | Default
---------------------+--------------------------+----------+---------
 run_id              | uuid                     | not null |
 tenant_id           | character varying(64)    | not null |
 workflow_name       | character varying(128)   | not null |
 status              | character varying(32)    | not null |
 attempts            | integer                  | not null | 0
 trigger_payload     | jsonb                    | not null |
 triggered_by        | character varying(256)   | not null |
 dead_letter_reason  | text                     |          |
 created_at          | timestamp with time zone | not null | now()
 updated_at          | timestamp with time zone | not null | now()
Indexes:
    "workflow_execution_runs_pkey" PRIMARY KEY, btree (run_id)
    "workflow_execution_runs_tenant_idx" btree (tenant_id, workflow_name)
*/

// WorkflowRun is one execution instance of a workflow.
type WorkflowRun struct {
	RunID            uuid.UUID       `db:"run_id"`
	TenantID         types.TenantId  `db:"tenant_id"`
	WorkflowName     string          `db:"workflow_name"`
	Status           types.RunStatus `db:"status"`
	Attempts         int             `db:"attempts"`
	TriggerPayload   pgtype.JSONB    `db:"trigger_payload"`
	TriggeredBy      types.Subject   `db:"triggered_by"`
	DeadLetterReason string          `db:"dead_letter_reason"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

/*
  Table "public.workflow_execution_attempts"
     Column      |           Type           | Nullable | Default
-----------------+--------------------------+----------+---------
 run_id          | uuid                     | not null |
 attempt_number  | integer                  | not null |
 status          | character varying(32)    | not null |
 error           | text                     |          |
 executed_at     | timestamp with time zone | not null | now()
Indexes:
    "workflow_execution_attempts_pkey" PRIMARY KEY, btree (run_id, attempt_number)
Foreign-key constraints:
    "workflow_execution_attempts_run_fkey" FOREIGN KEY (run_id)
        REFERENCES workflow_execution_runs(run_id) ON DELETE CASCADE
*/

// WorkflowRunAttempt records one try within a run.
type WorkflowRunAttempt struct {
	RunID         uuid.UUID           `db:"run_id"`
	AttemptNumber int                 `db:"attempt_number"`
	Status        types.AttemptStatus `db:"status"`
	Error         string              `db:"error"`
	ExecutedAt    time.Time           `db:"executed_at"`
}

/*
  Table "public.workflow_execution_jobs"
      Column      |           Type           | Nullable | Default
------------------+--------------------------+----------+---------
 job_id           | uuid                     | not null |
 run_id           | uuid                     | not null |
 tenant_id        | character varying(64)    | not null |
 partition_key    | bigint                   | not null |
 status           | character varying(32)    | not null | 'pending'
 leased_by        | character varying(128)   |          |
 lease_token      | uuid                     |          |
 lease_expires_at | timestamp with time zone |          |
 last_error       | text                     |          |
 created_at       | timestamp with time zone | not null | now()
 updated_at       | timestamp with time zone | not null | now()
Indexes:
    "workflow_execution_jobs_pkey" PRIMARY KEY, btree (job_id)
    "workflow_execution_jobs_run_key" UNIQUE, btree (run_id)
    "workflow_execution_jobs_claim_idx" btree (status, created_at)
Foreign-key constraints:
    "workflow_execution_jobs_run_fkey" FOREIGN KEY (run_id)
        REFERENCES workflow_execution_runs(run_id) ON DELETE CASCADE
*/

// WorkflowJob is a queue entry representing a run awaiting execution. A
// leased job's lease token is the worker's exclusive mutation capability.
type WorkflowJob struct {
	JobID    uuid.UUID      `db:"job_id"`
	RunID    uuid.UUID      `db:"run_id"`
	TenantID types.TenantId `db:"tenant_id"`
	// PartitionKey is the tenant hash computed at enqueue time so that the
	// claim predicate is identical across store implementations.
	PartitionKey   int64           `db:"partition_key"`
	Status         types.JobStatus `db:"status"`
	LeasedBy       string          `db:"leased_by"`
	LeaseToken     uuid.UUID       `db:"lease_token"`
	LeaseExpiresAt *time.Time      `db:"lease_expires_at"`
	LastError      string          `db:"last_error"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

/*
  Table "public.workflow_worker_heartbeats"
      Column       |           Type           | Nullable | Default
-------------------+--------------------------+----------+---------
 worker_id         | character varying(128)   | not null |
 claimed_jobs      | integer                  | not null | 0
 executed_jobs     | integer                  | not null | 0
 failed_jobs       | integer                  | not null | 0
 partition_count   | integer                  |          |
 partition_index   | integer                  |          |
 last_seen_at      | timestamp with time zone | not null | now()
Indexes:
    "workflow_worker_heartbeats_pkey" PRIMARY KEY, btree (worker_id)
*/

// WorkerHeartbeat records a worker's liveness and last-tick counters.
type WorkerHeartbeat struct {
	WorkerID       string    `db:"worker_id"`
	ClaimedJobs    int       `db:"claimed_jobs"`
	ExecutedJobs   int       `db:"executed_jobs"`
	FailedJobs     int       `db:"failed_jobs"`
	PartitionCount *int      `db:"partition_count"`
	PartitionIndex *int      `db:"partition_index"`
	LastSeenAt     time.Time `db:"last_seen_at"`
}

package models

import (
	"hash/fnv"

	"github.com/recordum/recordum/pkg/types"
)

// QueuePartition shards queue consumption across workers by tenant hash. A
// worker with partition (count, index) only sees jobs whose tenant hashes to
// its index.
type QueuePartition struct {
	Count int `json:"count"`
	Index int `json:"index"`
}

// Matches reports whether the given partition key falls into this partition.
func (p QueuePartition) Matches(partitionKey int64) bool {
	if p.Count <= 0 {
		return true
	}
	return partitionKey%int64(p.Count) == int64(p.Index)
}

// PartitionKeyForTenant computes the stable tenant hash stored on queue jobs.
// FNV-1a keeps the mapping deterministic across processes and store
// implementations.
func PartitionKeyForTenant(tenantID types.TenantId) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tenantID))
	return int64(h.Sum32())
}

// ClaimedJob bundles everything a worker needs to execute a leased job
// without further round trips.
type ClaimedJob struct {
	Job        WorkflowJob
	Run        WorkflowRun
	Definition WorkflowDefinition
}

// QueueStats summarizes queue depth and worker liveness.
type QueueStats struct {
	PendingJobs   int `json:"pending_jobs"`
	LeasedJobs    int `json:"leased_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	ActiveWorkers int `json:"active_workers"`
}

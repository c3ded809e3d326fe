package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/memstore"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
	"github.com/recordum/recordum/internal/recordsrv/workflow"
	"github.com/recordum/recordum/pkg/types"
)

func saveLogWorkflow(t *testing.T, ctx context.Context, name string) {
	t.Helper()
	_, err := workflow.SaveWorkflow(ctx, &workflow.WorkflowRequest{
		LogicalName: name,
		DisplayName: name,
		Enabled:     true,
		Definition:  []byte(`{"trigger": {"type": "manual"}, "action": {"type": "LogMessage", "message": "tick"}}`),
	})
	require.Nil(t, err)
}

func enqueueRun(t *testing.T, ctx context.Context, name string) uuid.UUID {
	t.Helper()
	run, err := workflow.StartRun(ctx, name, []byte(`{}`), workflow.ModeQueued)
	require.Nil(t, err)
	return run.RunID
}

func TestWorkerTickExecutesQueuedRuns(t *testing.T) {
	ctx, store := testCtx(t, "tenant-worker-tick")
	saveLogWorkflow(t, ctx, "ticker")
	runID := enqueueRun(t, ctx, "ticker")

	w := workflow.NewWorker(nil)
	executed, err := w.Tick(ctx)
	require.Nil(t, err)
	assert.Equal(t, 1, executed)

	run, errG := store.GetRun(ctx, runID)
	require.Nil(t, errG)
	assert.Equal(t, types.RunStatusSucceeded, run.Status)

	stats, err := workflow.Stats(ctx, 60, nil)
	require.Nil(t, err)
	assert.Equal(t, 0, stats.PendingJobs)
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.Equal(t, 1, stats.ActiveWorkers)
}

func TestClaimsAreDisjointAcrossWorkers(t *testing.T) {
	ctx, store := testCtx(t, "tenant-worker-disjoint")
	saveLogWorkflow(t, ctx, "contended")
	for i := 0; i < 4; i++ {
		enqueueRun(t, ctx, "contended")
	}

	first, err := store.ClaimJobs(ctx, "worker-a", 2, 30, nil)
	require.Nil(t, err)
	second, err := store.ClaimJobs(ctx, "worker-b", 2, 30, nil)
	require.Nil(t, err)
	require.Len(t, first, 2)
	require.Len(t, second, 2)

	seen := map[uuid.UUID]bool{}
	for _, c := range append(first, second...) {
		assert.False(t, seen[c.Job.JobID], "job claimed twice")
		seen[c.Job.JobID] = true
	}

	// everything is leased now; a third claimant gets nothing
	third, err := store.ClaimJobs(ctx, "worker-c", 2, 30, nil)
	require.Nil(t, err)
	assert.Empty(t, third)
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	ctx, store := testCtx(t, "tenant-worker-lease")
	saveLogWorkflow(t, ctx, "leased")
	enqueueRun(t, ctx, "leased")

	first, err := store.ClaimJobs(ctx, "worker-a", 1, 30, nil)
	require.Nil(t, err)
	require.Len(t, first, 1)

	// nothing claimable while the lease is live
	none, err := store.ClaimJobs(ctx, "worker-b", 1, 30, nil)
	require.Nil(t, err)
	assert.Empty(t, none)

	store.Clock = func() time.Time { return time.Now().Add(31 * time.Second) }
	second, err := store.ClaimJobs(ctx, "worker-b", 1, 30, nil)
	require.Nil(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Job.JobID, second[0].Job.JobID)

	// the original holder's token no longer settles the job
	errC := store.CompleteJob(ctx, first[0].Job.JobID, "worker-a", first[0].Job.LeaseToken)
	require.NotNil(t, errC)
	assert.True(t, errC.Is(dberror.ErrLeaseMismatch))

	require.Nil(t, store.CompleteJob(ctx, second[0].Job.JobID, "worker-b", second[0].Job.LeaseToken))
	job, errG := store.GetJob(ctx, second[0].Job.JobID)
	require.Nil(t, errG)
	assert.Equal(t, types.JobStatusCompleted, job.Status)
}

func TestPartitionedClaims(t *testing.T) {
	store := memstore.New()
	baseCtx := db.WithStore(context.Background(), store)

	tenants := []string{"tenant-part-a", "tenant-part-b", "tenant-part-c"}
	for _, tenant := range tenants {
		ctx := reccommon.WithSystemIdentity(reccommon.WithTenantID(baseCtx, types.TenantId(tenant)))
		saveLogWorkflow(t, ctx, "partitioned")
		enqueueRun(t, ctx, "partitioned")
	}

	p0 := &models.QueuePartition{Count: 2, Index: 0}
	p1 := &models.QueuePartition{Count: 2, Index: 1}

	c0, err := store.ClaimJobs(baseCtx, "worker-0", 10, 30, p0)
	require.Nil(t, err)
	c1, err := store.ClaimJobs(baseCtx, "worker-1", 10, 30, p1)
	require.Nil(t, err)
	assert.Equal(t, 3, len(c0)+len(c1))

	for _, c := range c0 {
		assert.True(t, p0.Matches(c.Job.PartitionKey))
	}
	for _, c := range c1 {
		assert.True(t, p1.Matches(c.Job.PartitionKey))
	}

	// a tenant's jobs always land in the same partition
	for _, tenant := range tenants {
		key := models.PartitionKeyForTenant(types.TenantId(tenant))
		assert.Equal(t, key, models.PartitionKeyForTenant(types.TenantId(tenant)))
	}
}

func TestHeartbeatCountersResetEachTick(t *testing.T) {
	ctx, store := testCtx(t, "tenant-worker-heartbeat")
	saveLogWorkflow(t, ctx, "beat")
	enqueueRun(t, ctx, "beat")

	w := workflow.NewWorker(nil)
	executed, err := w.Tick(ctx)
	require.Nil(t, err)
	require.Equal(t, 1, executed)

	hb, errG := store.GetWorkerHeartbeat(ctx, w.ID)
	require.Nil(t, errG)
	assert.Equal(t, 1, hb.ClaimedJobs)
	assert.Equal(t, 1, hb.ExecutedJobs)
	assert.Equal(t, 0, hb.FailedJobs)

	// an idle tick reports zeros, not lifetime totals
	executed, err = w.Tick(ctx)
	require.Nil(t, err)
	require.Equal(t, 0, executed)

	hb, errG = store.GetWorkerHeartbeat(ctx, w.ID)
	require.Nil(t, errG)
	assert.Equal(t, 0, hb.ClaimedJobs)
	assert.Equal(t, 0, hb.ExecutedJobs)
}

func TestStatsCountWorkersByPartition(t *testing.T) {
	ctx, store := testCtx(t, "tenant-worker-stats-part")

	two, zero, one := 2, 0, 1
	require.Nil(t, store.UpsertWorkerHeartbeat(ctx, &models.WorkerHeartbeat{
		WorkerID: "worker-p0", PartitionCount: &two, PartitionIndex: &zero,
	}))
	require.Nil(t, store.UpsertWorkerHeartbeat(ctx, &models.WorkerHeartbeat{
		WorkerID: "worker-p1", PartitionCount: &two, PartitionIndex: &one,
	}))
	require.Nil(t, store.UpsertWorkerHeartbeat(ctx, &models.WorkerHeartbeat{
		WorkerID: "worker-any",
	}))

	stats, err := workflow.Stats(ctx, 60, nil)
	require.Nil(t, err)
	assert.Equal(t, 3, stats.ActiveWorkers)

	// an unpartitioned worker serves every partition, so it counts too
	stats, err = workflow.Stats(ctx, 60, &models.QueuePartition{Count: 2, Index: 0})
	require.Nil(t, err)
	assert.Equal(t, 2, stats.ActiveWorkers)

	stats, err = workflow.Stats(ctx, 60, &models.QueuePartition{Count: 4, Index: 0})
	require.Nil(t, err)
	assert.Equal(t, 1, stats.ActiveWorkers)
}

func TestFailedJobRecordsLastError(t *testing.T) {
	ctx, store := testCtx(t, "tenant-worker-fail")

	// the workflow creates records in an entity that is never published
	_, err := workflow.SaveWorkflow(ctx, &workflow.WorkflowRequest{
		LogicalName: "broken",
		DisplayName: "Broken",
		Enabled:     true,
		MaxAttempts: 1,
		Definition: []byte(`{
			"trigger": {"type": "manual"},
			"steps": [{"type": "CreateRuntimeRecord", "entity": "ghost", "data": {"x": 1}}]
		}`),
	})
	require.Nil(t, err)
	runID := enqueueRun(t, ctx, "broken")

	w := workflow.NewWorker(nil)
	executed, errT := w.Tick(ctx)
	require.Nil(t, errT)
	assert.Equal(t, 1, executed)

	// a dead-lettered run is a recorded outcome, so the job completes
	run, errG := store.GetRun(ctx, runID)
	require.Nil(t, errG)
	assert.Equal(t, types.RunStatusDeadLettered, run.Status)
	assert.NotEmpty(t, run.DeadLetterReason)

	stats, errS := workflow.Stats(ctx, 60, nil)
	require.Nil(t, errS)
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.Equal(t, 0, stats.FailedJobs)
}

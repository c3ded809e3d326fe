package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordum/recordum/internal/recordsrv/audit"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/memstore"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
	"github.com/recordum/recordum/pkg/types"
)

func testCtx(tenant string, subject types.Subject) (context.Context, *memstore.Store) {
	store := memstore.New()
	ctx := db.WithStore(context.Background(), store)
	ctx = reccommon.WithTenantID(ctx, types.TenantId(tenant))
	return reccommon.WithSubject(ctx, subject), store
}

func TestEmitAndList(t *testing.T) {
	ctx, _ := testCtx("tenant-audit", "admin")

	audit.Emit(ctx, audit.ActionEntityCreate, "entity", "account", map[string]string{"display_name": "Account"})
	audit.Emit(ctx, audit.ActionRecordCreate, "record", "r1", nil)
	audit.Emit(ctx, audit.ActionRecordCreate, "record", "r2", nil)

	events, err := audit.List(ctx, models.AuditFilter{})
	require.Nil(t, err)
	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, types.Subject("admin"), e.Subject)
	}

	records, err := audit.List(ctx, models.AuditFilter{Action: audit.ActionRecordCreate})
	require.Nil(t, err)
	assert.Len(t, records, 2)

	one, err := audit.List(ctx, models.AuditFilter{ResourceID: "r1"})
	require.Nil(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, audit.ActionRecordCreate, one[0].Action)
}

func TestDetailIsCanonicalJSON(t *testing.T) {
	ctx, _ := testCtx("tenant-audit-canon", "admin")

	audit.Emit(ctx, audit.ActionRoleChange, "role", "a", map[string]any{"b": 1, "a": "x"})
	audit.Emit(ctx, audit.ActionRoleChange, "role", "b", map[string]any{"a": "x", "b": 1})

	events, err := audit.List(ctx, models.AuditFilter{Action: audit.ActionRoleChange})
	require.Nil(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, events[0].Detail.Bytes, events[1].Detail.Bytes)
}

func TestPurgeRespectsRetention(t *testing.T) {
	ctx, store := testCtx("tenant-audit-purge", "admin")

	audit.Emit(ctx, audit.ActionEntityCreate, "entity", "old", nil)

	// later events must survive a purge that removes the first one
	store.Clock = func() time.Time { return time.Now().Add(48 * time.Hour) }
	audit.Emit(ctx, audit.ActionEntityCreate, "entity", "new", nil)

	n, err := audit.Purge(ctx, 1)
	require.Nil(t, err)
	assert.Equal(t, int64(1), n)

	events, err := audit.List(ctx, models.AuditFilter{})
	require.Nil(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].ResourceID)
}

func TestTenantScoping(t *testing.T) {
	store := memstore.New()
	base := db.WithStore(context.Background(), store)
	ctxA := reccommon.WithSubject(reccommon.WithTenantID(base, "tenant-a"), "admin")
	ctxB := reccommon.WithSubject(reccommon.WithTenantID(base, "tenant-b"), "admin")

	audit.Emit(ctxA, audit.ActionEntityCreate, "entity", "a", nil)
	audit.Emit(ctxB, audit.ActionEntityCreate, "entity", "b", nil)

	events, err := audit.List(ctxA, models.AuditFilter{})
	require.Nil(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].ResourceID)
}

package schemaregistry_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/memstore"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
	"github.com/recordum/recordum/internal/recordsrv/schemaregistry"
	"github.com/recordum/recordum/pkg/types"
)

func TestUnpublishedEntityIsClientError(t *testing.T) {
	store := memstore.New()
	ctx := db.WithStore(context.Background(), store)
	ctx = reccommon.WithTenantID(ctx, types.TenantId("tenant-registry-unpublished"))
	ctx = reccommon.WithSystemIdentity(ctx)

	reg := &schemaregistry.Registry{}
	_, err := reg.LatestSchema(ctx, "ghost")
	require.NotNil(t, err)
	assert.True(t, err.Is(schemaregistry.ErrNoPublishedSchema))
	assert.Equal(t, http.StatusBadRequest, err.StatusCode())
}

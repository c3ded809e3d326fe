// Package postgresql implements the record store on PostgreSQL. One recordDb
// wraps one scoped connection; the tenant scope is resolved from the request
// context on every call.
package postgresql

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/dbmanager"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
	"github.com/recordum/recordum/pkg/types"
)

type recordDb struct {
	c dbmanager.ScopedConn
}

// NewRecordDb wraps a scoped connection in a record store.
func NewRecordDb(c dbmanager.ScopedConn) *recordDb {
	return &recordDb{c: c}
}

func (r *recordDb) conn() *sql.Conn {
	return r.c.Conn()
}

// Close drops all session scopes and returns the connection to the pool.
func (r *recordDb) Close(ctx context.Context) {
	r.c.Close(ctx)
}

func getTenantFromContext(ctx context.Context) (types.TenantId, apperrors.Error) {
	tenantID := reccommon.TenantIdFromContext(ctx)
	if tenantID == "" {
		err := dberror.ErrMissingTenantID.Err(dberror.ErrInvalidInput)
		log.Ctx(ctx).Error().Err(err).Msg("failed to retrieve tenant ID from context")
		return "", err
	}
	return tenantID, nil
}

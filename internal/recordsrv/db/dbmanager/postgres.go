package dbmanager

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/recordsrv/db/config"
)

type postgresConn struct {
	conn             *sql.Conn
	cancel           context.CancelFunc
	scopes           map[string]string
	configuredScopes []string
	pool             *postgresPool
}

type postgresPool struct {
	configuredScopes []string
	connRequests     uint64
	connReturns      uint64
	db               *sql.DB
}

// NewPostgresqlDb opens the record database with the pgx stdlib driver and
// verifies connectivity.
func NewPostgresqlDb(configuredScopes []string) (ScopedDb, error) {
	dsn := config.RecordDbDsn()

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Error().Err(err).Msg("failed to open db")
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		log.Error().Err(err).Msg("failed to ping db")
		return nil, err
	}

	return &postgresPool{
		configuredScopes: configuredScopes,
		db:               sqlDB,
	}, nil
}

func (p *postgresPool) Conn(ctx context.Context) (ScopedConn, error) {
	ctx, cancel := context.WithCancel(ctx)

	conn, err := p.db.Conn(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to obtain connection")
		cancel()
		return nil, err
	}

	// bound pathological statements at the session level
	if _, err := conn.ExecContext(ctx, "SET lock_timeout = '5s'"); err != nil {
		cancel()
		conn.Close()
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, "SET statement_timeout = '30s'"); err != nil {
		cancel()
		conn.Close()
		return nil, err
	}

	h := &postgresConn{
		configuredScopes: p.configuredScopes,
		scopes:           make(map[string]string),
		cancel:           cancel,
		pool:             p,
		conn:             conn,
	}

	// clean slate in case the pooled session carries stale scopes
	if err := h.DropAllScopes(ctx); err != nil {
		cancel()
		conn.Close()
		return nil, err
	}

	atomic.AddUint64(&p.connRequests, 1)
	return h, nil
}

func (p *postgresPool) Stats() (requests, returns uint64) {
	return atomic.LoadUint64(&p.connRequests), atomic.LoadUint64(&p.connReturns)
}

func (h *postgresConn) Close(ctx context.Context) {
	_ = h.DropAllScopes(ctx)
	if h.cancel != nil {
		h.cancel()
	}
	if h.conn != nil {
		h.conn.Close()
	}
	atomic.AddUint64(&h.pool.connReturns, 1)
}

func (h *postgresConn) Conn() *sql.Conn {
	return h.conn
}

func (h *postgresConn) isConfiguredScope(scope string) bool {
	for _, s := range h.configuredScopes {
		if s == scope {
			return true
		}
	}
	return false
}

func (h *postgresConn) AddScope(ctx context.Context, scope, value string) error {
	if h.conn == nil {
		return sql.ErrConnDone
	}
	if !h.isConfiguredScope(scope) {
		return fmt.Errorf("scope %q is not configured", scope)
	}
	sqlCmd := fmt.Sprintf("SET %s TO $1", scope)
	if _, err := h.conn.ExecContext(ctx, sqlCmd, value); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("scope", scope).Msg("failed to set scope")
		return err
	}
	h.scopes[scope] = value
	return nil
}

func (h *postgresConn) DropScope(ctx context.Context, scope string) error {
	if h.conn == nil {
		return nil
	}
	sqlCmd := fmt.Sprintf("RESET %s", scope)
	if _, err := h.conn.ExecContext(ctx, sqlCmd); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("scope", scope).Msg("failed to reset scope")
		return err
	}
	delete(h.scopes, scope)
	return nil
}

func (h *postgresConn) DropAllScopes(ctx context.Context) error {
	for _, scope := range h.configuredScopes {
		if err := h.DropScope(ctx, scope); err != nil {
			return err
		}
	}
	return nil
}

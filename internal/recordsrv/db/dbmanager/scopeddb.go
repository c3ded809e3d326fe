// Package dbmanager manages the PostgreSQL connection pool for the record
// service. Connections are scoped: the current tenant is pinned on the
// session as a GUC so row-level security policies can enforce isolation in
// addition to the WHERE clauses issued by the query layer.
package dbmanager

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"
)

type ScopedDb interface {
	// Conn returns a new scoped connection from the pool.
	Conn(ctx context.Context) (ScopedConn, error)
	// Stats returns the number of connection requests and returns.
	Stats() (requests, returns uint64)
}

type ScopedConn interface {
	// AddScope pins the given scope with the given value on the session.
	AddScope(ctx context.Context, scope, value string) error
	// DropScope resets the given scope on the session.
	DropScope(ctx context.Context, scope string) error
	// DropAllScopes resets every configured scope.
	DropAllScopes(ctx context.Context) error
	// Conn returns the underlying connection.
	Conn() *sql.Conn
	// Close drops all scopes and returns the connection to the pool.
	Close(ctx context.Context)
}

// NewScopedDb creates a scoped pool for the given database type. Only
// "postgresql" is supported.
func NewScopedDb(ctx context.Context, dbtype string, configuredScopes []string) ScopedDb {
	switch dbtype {
	case "postgresql":
		db, err := NewPostgresqlDb(configuredScopes)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to create PostgreSQL DB")
			return nil
		}
		return db
	}
	return nil
}

// Package authz enforces tenant-scoped authorization: permission checks
// backed by roles and temporary grants, ownership scoping, and per-field
// access control. Resolution results are cached per request.
package authz

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
	"github.com/recordum/recordum/pkg/types"
)

var (
	ErrAuthz     apperrors.Error = apperrors.New("authorization error").SetStatusCode(http.StatusInternalServerError)
	ErrForbidden apperrors.Error = ErrAuthz.New("forbidden").SetStatusCode(http.StatusForbidden)
)

// cache memoizes permission and grant lookups for the lifetime of one
// request context.
type cache struct {
	mu          sync.Mutex
	permissions map[types.Subject]map[types.Permission]bool
	scopes      map[types.Subject]types.OwnershipScope
}

type ctxCacheKeyType string

const ctxCacheKey ctxCacheKeyType = "AuthzCache"

// WithRequestCache arms the context with a fresh resolution cache. Bind one
// per request; contexts without a cache resolve on every call.
func WithRequestCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxCacheKey, &cache{
		permissions: make(map[types.Subject]map[types.Permission]bool),
		scopes:      make(map[types.Subject]types.OwnershipScope),
	})
}

func cacheFromContext(ctx context.Context) *cache {
	c, _ := ctx.Value(ctxCacheKey).(*cache)
	return c
}

// Authorize checks that the calling subject holds the permission, through a
// role binding or an unexpired temporary grant. The system identity used for
// engine-internal operations bypasses checks.
func Authorize(ctx context.Context, permission types.Permission) apperrors.Error {
	if reccommon.IsSystemIdentity(ctx) {
		return nil
	}
	subject := reccommon.SubjectFromContext(ctx)
	if subject == "" {
		return ErrForbidden.Msg("no subject in context")
	}

	perms, err := resolvePermissions(ctx, subject)
	if err != nil {
		return err
	}
	if !perms[permission] {
		log.Ctx(ctx).Info().
			Str("subject", string(subject)).Str("permission", string(permission)).
			Msg("permission denied")
		return ErrForbidden.Msg("subject lacks permission " + string(permission))
	}
	return nil
}

func resolvePermissions(ctx context.Context, subject types.Subject) (map[types.Permission]bool, apperrors.Error) {
	c := cacheFromContext(ctx)
	if c != nil {
		c.mu.Lock()
		if perms, ok := c.permissions[subject]; ok {
			c.mu.Unlock()
			return perms, nil
		}
		c.mu.Unlock()
	}

	store := db.DB(ctx)
	if store == nil {
		return nil, ErrAuthz.Msg("no store bound to context")
	}

	perms := make(map[types.Permission]bool)
	rolePerms, err := store.PermissionsForSubject(ctx, subject)
	if err != nil {
		return nil, ErrAuthz.Err(err)
	}
	for _, p := range rolePerms {
		perms[p] = true
	}
	grants, err := store.ListActiveTemporaryGrants(ctx, subject)
	if err != nil {
		return nil, ErrAuthz.Err(err)
	}
	for _, g := range grants {
		perms[g.Permission] = true
	}

	if c != nil {
		c.mu.Lock()
		c.permissions[subject] = perms
		c.mu.Unlock()
	}
	return perms, nil
}

// OwnerFilter returns the subject runtime reads and writes must be narrowed
// to, or "" when the subject's ownership scope is unrestricted.
func OwnerFilter(ctx context.Context) (types.Subject, apperrors.Error) {
	if reccommon.IsSystemIdentity(ctx) {
		return "", nil
	}
	subject := reccommon.SubjectFromContext(ctx)
	if subject == "" {
		return "", ErrForbidden.Msg("no subject in context")
	}

	c := cacheFromContext(ctx)
	if c != nil {
		c.mu.Lock()
		if scope, ok := c.scopes[subject]; ok {
			c.mu.Unlock()
			return scopedSubject(scope, subject), nil
		}
		c.mu.Unlock()
	}

	store := db.DB(ctx)
	if store == nil {
		return "", ErrAuthz.Msg("no store bound to context")
	}
	scope, err := store.GetOwnershipScope(ctx, subject)
	if err != nil {
		return "", ErrAuthz.Err(err)
	}

	if c != nil {
		c.mu.Lock()
		c.scopes[subject] = scope
		c.mu.Unlock()
	}
	return scopedSubject(scope, subject), nil
}

func scopedSubject(scope types.OwnershipScope, subject types.Subject) types.Subject {
	if scope == types.OwnershipScopeOwn {
		return subject
	}
	return ""
}

// FieldAccess is the subject's per-field capability for one entity. When no
// grants exist for the (subject, entity) pair, every field is readable and
// writable.
type FieldAccess struct {
	restricted bool
	readable   map[string]bool
	writable   map[string]bool
}

// CanRead reports whether the subject may see the field.
func (a *FieldAccess) CanRead(field string) bool {
	if !a.restricted {
		return true
	}
	return a.readable[field]
}

// CanWrite reports whether the subject may set the field.
func (a *FieldAccess) CanWrite(field string) bool {
	if !a.restricted {
		return true
	}
	return a.writable[field]
}

// Restricted reports whether any field grants narrow the subject's access.
func (a *FieldAccess) Restricted() bool {
	return a.restricted
}

// FieldAccessFor resolves the subject's field grants for the entity.
func FieldAccessFor(ctx context.Context, entityName string) (*FieldAccess, apperrors.Error) {
	if reccommon.IsSystemIdentity(ctx) {
		return &FieldAccess{}, nil
	}
	subject := reccommon.SubjectFromContext(ctx)
	if subject == "" {
		return nil, ErrForbidden.Msg("no subject in context")
	}

	store := db.DB(ctx)
	if store == nil {
		return nil, ErrAuthz.Msg("no store bound to context")
	}
	grants, err := store.ListFieldGrants(ctx, subject, entityName)
	if err != nil {
		return nil, ErrAuthz.Err(err)
	}
	if len(grants) == 0 {
		return &FieldAccess{}, nil
	}

	access := &FieldAccess{
		restricted: true,
		readable:   make(map[string]bool, len(grants)),
		writable:   make(map[string]bool, len(grants)),
	}
	for _, g := range grants {
		if g.CanRead {
			access.readable[g.FieldName] = true
		}
		if g.CanWrite {
			access.writable[g.FieldName] = true
		}
	}
	return access, nil
}

// Package reccommon provides context carriage for the record service. Every
// core operation reads the acting tenant and subject from the request
// context; nothing below the service boundary accepts them as parameters.
package reccommon

import (
	"context"

	"github.com/recordum/recordum/pkg/types"
)

// ctxKeyType keeps context keys private to this package.
type ctxKeyType string

const (
	ctxTenantIdKey ctxKeyType = "RecordTenantId"
	ctxSubjectKey  ctxKeyType = "RecordSubject"
	ctxSystemKey   ctxKeyType = "RecordSystemIdentity"
)

// WithTenantID returns a context scoped to the given tenant.
func WithTenantID(ctx context.Context, tenantID types.TenantId) context.Context {
	return context.WithValue(ctx, ctxTenantIdKey, tenantID)
}

// TenantIdFromContext retrieves the tenant ID, or "" when absent.
func TenantIdFromContext(ctx context.Context) types.TenantId {
	if tenantID, ok := ctx.Value(ctxTenantIdKey).(types.TenantId); ok {
		return tenantID
	}
	return ""
}

// WithSubject returns a context carrying the acting subject.
func WithSubject(ctx context.Context, subject types.Subject) context.Context {
	return context.WithValue(ctx, ctxSubjectKey, subject)
}

// SubjectFromContext retrieves the acting subject, or "" when absent.
func SubjectFromContext(ctx context.Context) types.Subject {
	if subject, ok := ctx.Value(ctxSubjectKey).(types.Subject); ok {
		return subject
	}
	return ""
}

// WithSystemIdentity marks the context as running under the synthetic
// workflow-runtime identity. System operations bypass caller permission
// checks but remain tenant scoped.
func WithSystemIdentity(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, ctxSystemKey, true)
	return WithSubject(ctx, types.SystemSubject)
}

// IsSystemIdentity reports whether the context runs as the system identity.
func IsSystemIdentity(ctx context.Context) bool {
	v, ok := ctx.Value(ctxSystemKey).(bool)
	return ok && v
}

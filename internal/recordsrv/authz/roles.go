package authz

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgtype"
	jsoniter "github.com/json-iterator/go"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/audit"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrInvalidRole  apperrors.Error = ErrAuthz.New("invalid role").SetStatusCode(http.StatusBadRequest)
	ErrRoleNotFound apperrors.Error = ErrAuthz.New("role not found").SetStatusCode(http.StatusNotFound)
)

// UpsertRole creates or replaces a role. Permissions must be drawn from the
// platform's closed permission set.
func UpsertRole(ctx context.Context, name string, permissions []types.Permission) apperrors.Error {
	if err := Authorize(ctx, types.PermissionSecurityRoleManage); err != nil {
		return err
	}
	if name == "" {
		return ErrInvalidRole.Msg("role requires a name")
	}
	for _, p := range permissions {
		if !validPermission(p) {
			return ErrInvalidRole.Msg("unknown permission " + string(p))
		}
	}

	raw, errJs := json.Marshal(permissions)
	if errJs != nil {
		return ErrAuthz.Err(errJs)
	}
	role := &models.SecurityRole{
		Name:        name,
		Permissions: pgtype.JSONB{Bytes: raw, Status: pgtype.Present},
	}
	if err := db.DB(ctx).UpsertRole(ctx, role); err != nil {
		return err
	}

	audit.Emit(ctx, audit.ActionRoleChange, "role", name, map[string]any{"permissions": permissions})
	return nil
}

// GetRole returns the role and its permissions.
func GetRole(ctx context.Context, name string) ([]types.Permission, apperrors.Error) {
	if err := Authorize(ctx, types.PermissionSecurityRoleManage); err != nil {
		return nil, err
	}
	role, err := db.DB(ctx).GetRole(ctx, name)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrRoleNotFound.Msg(name)
		}
		return nil, err
	}
	var perms []types.Permission
	if errJs := json.Unmarshal(role.Permissions.Bytes, &perms); errJs != nil {
		return nil, ErrAuthz.Err(errJs)
	}
	return perms, nil
}

// DeleteRole removes the role and its bindings.
func DeleteRole(ctx context.Context, name string) apperrors.Error {
	if err := Authorize(ctx, types.PermissionSecurityRoleManage); err != nil {
		return err
	}
	if err := db.DB(ctx).DeleteRole(ctx, name); err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return ErrRoleNotFound.Msg(name)
		}
		return err
	}
	audit.Emit(ctx, audit.ActionRoleChange, "role", name, map[string]string{"deleted": name})
	return nil
}

// BindRole attaches the role to a subject.
func BindRole(ctx context.Context, subject types.Subject, roleName string) apperrors.Error {
	if err := Authorize(ctx, types.PermissionSecurityRoleManage); err != nil {
		return err
	}
	if err := db.DB(ctx).BindRole(ctx, subject, roleName); err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return ErrRoleNotFound.Msg(roleName)
		}
		return err
	}
	audit.Emit(ctx, audit.ActionRoleChange, "role_binding", roleName, map[string]string{"subject": string(subject)})
	return nil
}

// UnbindRole detaches the role from a subject.
func UnbindRole(ctx context.Context, subject types.Subject, roleName string) apperrors.Error {
	if err := Authorize(ctx, types.PermissionSecurityRoleManage); err != nil {
		return err
	}
	if err := db.DB(ctx).UnbindRole(ctx, subject, roleName); err != nil {
		return err
	}
	audit.Emit(ctx, audit.ActionRoleChange, "role_binding", roleName, map[string]string{"unbound_subject": string(subject)})
	return nil
}

// GrantTemporary gives the subject a permission until expiry. Expired grants
// are ignored by permission resolution.
func GrantTemporary(ctx context.Context, subject types.Subject, permission types.Permission, expiresAt time.Time) apperrors.Error {
	if err := Authorize(ctx, types.PermissionSecurityRoleManage); err != nil {
		return err
	}
	if !validPermission(permission) {
		return ErrInvalidRole.Msg("unknown permission " + string(permission))
	}
	if !expiresAt.After(time.Now()) {
		return ErrInvalidRole.Msg("grant expiry must be in the future")
	}
	grant := &models.TemporaryGrant{
		Subject:    subject,
		Permission: permission,
		ExpiresAt:  expiresAt,
	}
	if err := db.DB(ctx).GrantTemporary(ctx, grant); err != nil {
		return err
	}
	audit.Emit(ctx, audit.ActionRoleChange, "temporary_grant", string(subject), map[string]any{
		"permission": permission,
		"expires_at": expiresAt,
	})
	return nil
}

// SetFieldGrant sets the subject's per-field capability for an entity field.
func SetFieldGrant(ctx context.Context, grant *models.FieldGrant) apperrors.Error {
	if err := Authorize(ctx, types.PermissionSecurityRoleManage); err != nil {
		return err
	}
	if grant.Subject == "" || grant.EntityName == "" || grant.FieldName == "" {
		return ErrInvalidRole.Msg("field grant requires subject, entity, and field")
	}
	if err := db.DB(ctx).UpsertFieldGrant(ctx, grant); err != nil {
		return err
	}
	audit.Emit(ctx, audit.ActionRoleChange, "field_grant", grant.EntityName+"."+grant.FieldName, map[string]any{
		"subject":   grant.Subject,
		"can_read":  grant.CanRead,
		"can_write": grant.CanWrite,
	})
	return nil
}

// SetOwnershipScope narrows or widens the subject's runtime access.
func SetOwnershipScope(ctx context.Context, subject types.Subject, scope types.OwnershipScope) apperrors.Error {
	if err := Authorize(ctx, types.PermissionSecurityRoleManage); err != nil {
		return err
	}
	if scope != types.OwnershipScopeAll && scope != types.OwnershipScopeOwn {
		return ErrInvalidRole.Msg("unknown ownership scope " + string(scope))
	}
	if err := db.DB(ctx).SetOwnershipScope(ctx, subject, scope); err != nil {
		return err
	}
	audit.Emit(ctx, audit.ActionRoleChange, "ownership_scope", string(subject), map[string]string{"scope": string(scope)})
	return nil
}

func validPermission(p types.Permission) bool {
	for _, known := range types.ValidPermissions {
		if known == p {
			return true
		}
	}
	return false
}

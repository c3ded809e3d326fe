package postgresql

import (
	"context"
	"database/sql"

	"github.com/jackc/pgconn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	jsoniter "github.com/json-iterator/go"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func (r *recordDb) UpsertRole(ctx context.Context, role *models.SecurityRole) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}
	role.TenantID = tenantID

	query := `
		INSERT INTO security_roles (tenant_id, name, permissions)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, name)
		DO UPDATE SET permissions = EXCLUDED.permissions;
	`
	_, errDb := r.conn().ExecContext(ctx, query, tenantID, role.Name, role.Permissions)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("role", role.Name).Msg("failed to upsert role")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) GetRole(ctx context.Context, name string) (*models.SecurityRole, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, name, permissions
		FROM security_roles
		WHERE tenant_id = $1 AND name = $2;
	`
	var role models.SecurityRole
	errDb := r.conn().QueryRowContext(ctx, query, tenantID, name).Scan(&role.TenantID, &role.Name, &role.Permissions)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("role not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("role", name).Msg("failed to retrieve role")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &role, nil
}

func (r *recordDb) DeleteRole(ctx context.Context, name string) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}

	query := `
		DELETE FROM security_roles
		WHERE tenant_id = $1 AND name = $2;
	`
	_, errDb := r.conn().ExecContext(ctx, query, tenantID, name)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("role", name).Msg("failed to delete role")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) ListRoles(ctx context.Context) ([]*models.SecurityRole, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, name, permissions
		FROM security_roles
		WHERE tenant_id = $1
		ORDER BY name;
	`
	rows, errDb := r.conn().QueryContext(ctx, query, tenantID)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to list roles")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var roles []*models.SecurityRole
	for rows.Next() {
		var role models.SecurityRole
		if errDb := rows.Scan(&role.TenantID, &role.Name, &role.Permissions); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan role")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		roles = append(roles, &role)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return roles, nil
}

func (r *recordDb) BindRole(ctx context.Context, subject types.Subject, roleName string) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO security_role_bindings (tenant_id, subject, role_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, subject, role_name) DO NOTHING;
	`
	_, errDb := r.conn().ExecContext(ctx, query, tenantID, subject, roleName)
	if errDb != nil {
		var pgErr *pgconn.PgError
		if errors.As(errDb, &pgErr) && pgErr.Code == "23503" {
			return dberror.ErrNotFound.Msg("role not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("role", roleName).Msg("failed to bind role")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) UnbindRole(ctx context.Context, subject types.Subject, roleName string) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}

	query := `
		DELETE FROM security_role_bindings
		WHERE tenant_id = $1 AND subject = $2 AND role_name = $3;
	`
	_, errDb := r.conn().ExecContext(ctx, query, tenantID, subject, roleName)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("role", roleName).Msg("failed to unbind role")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

// PermissionsForSubject unions the permissions of every role bound to the
// subject. Each role's permission list is a JSONB array of permission names.
func (r *recordDb) PermissionsForSubject(ctx context.Context, subject types.Subject) ([]types.Permission, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT r.permissions
		FROM security_roles r
		JOIN security_role_bindings b
		  ON b.tenant_id = r.tenant_id AND b.role_name = r.name
		WHERE r.tenant_id = $1 AND b.subject = $2;
	`
	rows, errDb := r.conn().QueryContext(ctx, query, tenantID, subject)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to resolve permissions")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	seen := make(map[types.Permission]bool)
	var permissions []types.Permission
	for rows.Next() {
		var raw []byte
		if errDb := rows.Scan(&raw); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan permissions")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		var perms []types.Permission
		if errJs := json.Unmarshal(raw, &perms); errJs != nil {
			log.Ctx(ctx).Error().Err(errJs).Msg("malformed permission list")
			return nil, dberror.ErrDatabase.Err(errJs)
		}
		for _, p := range perms {
			if !seen[p] {
				seen[p] = true
				permissions = append(permissions, p)
			}
		}
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return permissions, nil
}

func (r *recordDb) GrantTemporary(ctx context.Context, grant *models.TemporaryGrant) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}
	grant.TenantID = tenantID

	query := `
		INSERT INTO security_temporary_grants (tenant_id, subject, permission, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, subject, permission)
		DO UPDATE SET expires_at = EXCLUDED.expires_at;
	`
	_, errDb := r.conn().ExecContext(ctx, query, tenantID, grant.Subject, grant.Permission, grant.ExpiresAt)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("permission", string(grant.Permission)).Msg("failed to grant permission")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

// ListActiveTemporaryGrants returns unexpired grants; expired rows are
// ignored rather than eagerly deleted.
func (r *recordDb) ListActiveTemporaryGrants(ctx context.Context, subject types.Subject) ([]*models.TemporaryGrant, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, subject, permission, expires_at
		FROM security_temporary_grants
		WHERE tenant_id = $1 AND subject = $2 AND expires_at > now();
	`
	rows, errDb := r.conn().QueryContext(ctx, query, tenantID, subject)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to list temporary grants")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var grants []*models.TemporaryGrant
	for rows.Next() {
		var g models.TemporaryGrant
		if errDb := rows.Scan(&g.TenantID, &g.Subject, &g.Permission, &g.ExpiresAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan temporary grant")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		grants = append(grants, &g)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return grants, nil
}

func (r *recordDb) UpsertFieldGrant(ctx context.Context, grant *models.FieldGrant) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}
	grant.TenantID = tenantID

	query := `
		INSERT INTO security_field_grants (tenant_id, subject, entity_logical_name, field_logical_name, can_read, can_write)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, subject, entity_logical_name, field_logical_name)
		DO UPDATE SET can_read = EXCLUDED.can_read, can_write = EXCLUDED.can_write;
	`
	_, errDb := r.conn().ExecContext(ctx, query,
		tenantID, grant.Subject, grant.EntityName, grant.FieldName, grant.CanRead, grant.CanWrite)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("field", grant.FieldName).Msg("failed to upsert field grant")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) ListFieldGrants(ctx context.Context, subject types.Subject, entityName string) ([]*models.FieldGrant, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, subject, entity_logical_name, field_logical_name, can_read, can_write
		FROM security_field_grants
		WHERE tenant_id = $1 AND subject = $2 AND entity_logical_name = $3;
	`
	rows, errDb := r.conn().QueryContext(ctx, query, tenantID, subject, entityName)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to list field grants")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var grants []*models.FieldGrant
	for rows.Next() {
		var g models.FieldGrant
		if errDb := rows.Scan(&g.TenantID, &g.Subject, &g.EntityName, &g.FieldName, &g.CanRead, &g.CanWrite); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan field grant")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		grants = append(grants, &g)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return grants, nil
}

func (r *recordDb) SetOwnershipScope(ctx context.Context, subject types.Subject, scope types.OwnershipScope) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO security_ownership_scopes (tenant_id, subject, scope)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, subject)
		DO UPDATE SET scope = EXCLUDED.scope;
	`
	_, errDb := r.conn().ExecContext(ctx, query, tenantID, subject, scope)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("subject", string(subject)).Msg("failed to set ownership scope")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

// GetOwnershipScope returns All when the subject has no scope binding.
func (r *recordDb) GetOwnershipScope(ctx context.Context, subject types.Subject) (types.OwnershipScope, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return "", err
	}

	query := `
		SELECT scope
		FROM security_ownership_scopes
		WHERE tenant_id = $1 AND subject = $2;
	`
	var scope types.OwnershipScope
	errDb := r.conn().QueryRowContext(ctx, query, tenantID, subject).Scan(&scope)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return types.OwnershipScopeAll, nil
		}
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to retrieve ownership scope")
		return "", dberror.ErrDatabase.Err(errDb)
	}
	return scope, nil
}

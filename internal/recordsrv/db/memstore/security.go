package memstore

import (
	"context"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func timeSeconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (s *Store) UpsertRole(ctx context.Context, role *models.SecurityRole) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	role.TenantID = tenantID
	s.roles[entityKey{tenantID, role.Name}] = *role
	return nil
}

func (s *Store) GetRole(ctx context.Context, name string) (*models.SecurityRole, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[entityKey{tenantID, name}]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("role not found")
	}
	return &role, nil
}

// DeleteRole cascades to the role's bindings, matching the SQL foreign key.
func (s *Store) DeleteRole(ctx context.Context, name string) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.roles, entityKey{tenantID, name})
	for k := range s.bindings {
		if k.tenant == tenantID && k.role == name {
			delete(s.bindings, k)
		}
	}
	return nil
}

func (s *Store) ListRoles(ctx context.Context) ([]*models.SecurityRole, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var roles []*models.SecurityRole
	for k, r := range s.roles {
		if k.tenant == tenantID {
			role := r
			roles = append(roles, &role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// BindRole rejects unknown roles, matching the SQL foreign key.
func (s *Store) BindRole(ctx context.Context, subject types.Subject, roleName string) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[entityKey{tenantID, roleName}]; !ok {
		return dberror.ErrNotFound.Msg("role not found")
	}
	s.bindings[bindingKey{tenantID, subject, roleName}] = true
	return nil
}

func (s *Store) UnbindRole(ctx context.Context, subject types.Subject, roleName string) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, bindingKey{tenantID, subject, roleName})
	return nil
}

func (s *Store) PermissionsForSubject(ctx context.Context, subject types.Subject) ([]types.Permission, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[types.Permission]bool)
	var permissions []types.Permission
	for k := range s.bindings {
		if k.tenant != tenantID || k.subject != subject {
			continue
		}
		role, ok := s.roles[entityKey{tenantID, k.role}]
		if !ok {
			continue
		}
		var perms []types.Permission
		if errJs := json.Unmarshal(role.Permissions.Bytes, &perms); errJs != nil {
			return nil, dberror.ErrDatabase.Err(errJs)
		}
		for _, p := range perms {
			if !seen[p] {
				seen[p] = true
				permissions = append(permissions, p)
			}
		}
	}
	return permissions, nil
}

func (s *Store) GrantTemporary(ctx context.Context, grant *models.TemporaryGrant) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	grant.TenantID = tenantID
	s.tempGrants[grantKey{tenantID, grant.Subject, grant.Permission}] = *grant
	return nil
}

func (s *Store) ListActiveTemporaryGrants(ctx context.Context, subject types.Subject) ([]*models.TemporaryGrant, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var grants []*models.TemporaryGrant
	for k, g := range s.tempGrants {
		if k.tenant == tenantID && k.subject == subject && g.ExpiresAt.After(now) {
			grant := g
			grants = append(grants, &grant)
		}
	}
	return grants, nil
}

func (s *Store) UpsertFieldGrant(ctx context.Context, grant *models.FieldGrant) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	grant.TenantID = tenantID
	s.fieldGrants[fieldGrantKey{tenantID, grant.Subject, grant.EntityName, grant.FieldName}] = *grant
	return nil
}

func (s *Store) ListFieldGrants(ctx context.Context, subject types.Subject, entityName string) ([]*models.FieldGrant, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var grants []*models.FieldGrant
	for k, g := range s.fieldGrants {
		if k.tenant == tenantID && k.subject == subject && k.entity == entityName {
			grant := g
			grants = append(grants, &grant)
		}
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].FieldName < grants[j].FieldName })
	return grants, nil
}

func (s *Store) SetOwnershipScope(ctx context.Context, subject types.Subject, scope types.OwnershipScope) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownershipScopes[subjectKey{tenantID, subject}] = scope
	return nil
}

func (s *Store) GetOwnershipScope(ctx context.Context, subject types.Subject) (types.OwnershipScope, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if scope, ok := s.ownershipScopes[subjectKey{tenantID, subject}]; ok {
		return scope, nil
	}
	return types.OwnershipScopeAll, nil
}

// Package metadata manages tenant metadata: entity and field definitions,
// option sets, forms, views, and business rules, plus schema publication.
// Definitions are mutable until frozen into a published schema version.
package metadata

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/audit"
	"github.com/recordum/recordum/internal/recordsrv/authz"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
	"github.com/recordum/recordum/internal/recordsrv/schemaregistry"
	"github.com/recordum/recordum/pkg/types"
)

// CreateEntity declares a new entity definition.
func CreateEntity(ctx context.Context, req *EntityRequest) (*models.EntityDefinition, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityCreate); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	entity := &models.EntityDefinition{
		LogicalName: req.LogicalName,
		DisplayName: req.DisplayName,
		PluralName:  req.PluralName,
		Description: req.Description,
		Icon:        req.Icon,
	}
	if err := db.DB(ctx).CreateEntity(ctx, entity); err != nil {
		if errors.Is(err, dberror.ErrAlreadyExists) {
			return nil, ErrAlreadyExists.Msg("entity " + req.LogicalName + " already exists")
		}
		log.Ctx(ctx).Error().Err(err).Str("entity", req.LogicalName).Msg("failed to create entity")
		return nil, err
	}

	audit.Emit(ctx, audit.ActionEntityCreate, "entity", entity.LogicalName, req)
	return entity, nil
}

// GetEntity returns the entity definition.
func GetEntity(ctx context.Context, logicalName string) (*models.EntityDefinition, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityRead); err != nil {
		return nil, err
	}
	entity, err := db.DB(ctx).GetEntity(ctx, logicalName)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrEntityNotFound.Msg(logicalName)
		}
		return nil, err
	}
	return entity, nil
}

// UpdateEntity updates the entity's presentational attributes. The logical
// name cannot change.
func UpdateEntity(ctx context.Context, req *EntityRequest) (*models.EntityDefinition, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityCreate); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	store := db.DB(ctx)
	entity, err := store.GetEntity(ctx, req.LogicalName)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrEntityNotFound.Msg(req.LogicalName)
		}
		return nil, err
	}

	entity.DisplayName = req.DisplayName
	entity.PluralName = req.PluralName
	entity.Description = req.Description
	entity.Icon = req.Icon
	if err := store.UpdateEntity(ctx, entity); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("entity", req.LogicalName).Msg("failed to update entity")
		return nil, err
	}

	audit.Emit(ctx, audit.ActionEntityUpdate, "entity", entity.LogicalName, req)
	return entity, nil
}

// DeleteEntity removes the entity and everything scoped to it. Entities that
// still hold runtime records cannot be deleted.
func DeleteEntity(ctx context.Context, logicalName string) apperrors.Error {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityCreate); err != nil {
		return err
	}

	store := db.DB(ctx)
	if _, err := store.GetEntity(ctx, logicalName); err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return ErrEntityNotFound.Msg(logicalName)
		}
		return err
	}

	records, err := store.ListRecords(ctx, logicalName, 1, 0, "")
	if err != nil {
		return err
	}
	if len(records) > 0 {
		return ErrEntityInUse.Msg(logicalName)
	}

	if err := store.DeleteEntity(ctx, logicalName); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("entity", logicalName).Msg("failed to delete entity")
		return err
	}

	schemaregistry.Default().Invalidate(reccommon.TenantIdFromContext(ctx), logicalName)
	audit.Emit(ctx, audit.ActionEntityDelete, "entity", logicalName, nil)
	return nil
}

// ListEntities returns every entity definition of the tenant.
func ListEntities(ctx context.Context) ([]*models.EntityDefinition, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityRead); err != nil {
		return nil, err
	}
	return db.DB(ctx).ListEntities(ctx)
}

package metadata

import (
	"context"
	"errors"

	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/jsruntime"
	"github.com/recordum/recordum/internal/recordsrv/audit"
	"github.com/recordum/recordum/internal/recordsrv/authz"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

// CreateField declares a new field on an entity.
func CreateField(ctx context.Context, entityName string, req *FieldRequest) (*models.FieldDefinition, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataFieldWrite); err != nil {
		return nil, err
	}
	if err := validateFieldRequest(ctx, entityName, req); err != nil {
		return nil, err
	}

	field := fieldFromRequest(entityName, req)
	if err := db.DB(ctx).CreateField(ctx, field); err != nil {
		if errors.Is(err, dberror.ErrAlreadyExists) {
			return nil, ErrAlreadyExists.Msg("field " + req.LogicalName + " already exists on " + entityName)
		}
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrEntityNotFound.Msg(entityName)
		}
		log.Ctx(ctx).Error().Err(err).Str("entity", entityName).Str("field", req.LogicalName).Msg("failed to create field")
		return nil, err
	}

	audit.Emit(ctx, audit.ActionFieldCreate, "field", entityName+"."+req.LogicalName, req)
	return field, nil
}

// GetField returns the field definition.
func GetField(ctx context.Context, entityName, logicalName string) (*models.FieldDefinition, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataFieldRead); err != nil {
		return nil, err
	}
	field, err := db.DB(ctx).GetField(ctx, entityName, logicalName)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrFieldNotFound.Msg(entityName + "." + logicalName)
		}
		return nil, err
	}
	return field, nil
}

// UpdateField updates a field definition. Once the field appears in any
// published schema version, its type and relation target are frozen.
func UpdateField(ctx context.Context, entityName string, req *FieldRequest) (*models.FieldDefinition, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataFieldWrite); err != nil {
		return nil, err
	}
	if err := validateFieldRequest(ctx, entityName, req); err != nil {
		return nil, err
	}

	store := db.DB(ctx)
	existing, err := store.GetField(ctx, entityName, req.LogicalName)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrFieldNotFound.Msg(entityName + "." + req.LogicalName)
		}
		return nil, err
	}

	published, err := store.FieldInAnyPublishedVersion(ctx, entityName, req.LogicalName)
	if err != nil {
		return nil, err
	}
	if published {
		if req.FieldType != existing.FieldType {
			return nil, ErrFieldFrozen.Msg("field type of " + req.LogicalName + " cannot change")
		}
		if req.RelationTarget != existing.RelationTarget {
			return nil, ErrFieldFrozen.Msg("relation target of " + req.LogicalName + " cannot change")
		}
	}

	field := fieldFromRequest(entityName, req)
	if err := store.UpdateField(ctx, field); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("entity", entityName).Str("field", req.LogicalName).Msg("failed to update field")
		return nil, err
	}

	audit.Emit(ctx, audit.ActionFieldUpdate, "field", entityName+"."+req.LogicalName, req)
	return field, nil
}

// DeleteField removes a field definition. Fields that appear in any published
// schema version cannot be deleted.
func DeleteField(ctx context.Context, entityName, logicalName string) apperrors.Error {
	if err := authz.Authorize(ctx, types.PermissionMetadataFieldWrite); err != nil {
		return err
	}

	store := db.DB(ctx)
	published, err := store.FieldInAnyPublishedVersion(ctx, entityName, logicalName)
	if err != nil {
		return err
	}
	if published {
		return ErrFieldFrozen.Msg(entityName + "." + logicalName)
	}

	if err := store.DeleteField(ctx, entityName, logicalName); err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return ErrFieldNotFound.Msg(entityName + "." + logicalName)
		}
		return err
	}

	audit.Emit(ctx, audit.ActionFieldDelete, "field", entityName+"."+logicalName, nil)
	return nil
}

// ListFields returns every field defined on the entity.
func ListFields(ctx context.Context, entityName string) ([]*models.FieldDefinition, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataFieldRead); err != nil {
		return nil, err
	}
	return db.DB(ctx).ListFields(ctx, entityName)
}

// validateFieldRequest runs structural validation plus the per-type
// requirements: relation targets and option sets must exist, calculations
// must compile, defaults must be well-formed JSON values.
func validateFieldRequest(ctx context.Context, entityName string, req *FieldRequest) apperrors.Error {
	if err := validateStruct(req); err != nil {
		return err
	}
	if req.LogicalName == types.ReservedFieldID {
		return ErrInvalidDefinition.Msg("field name " + types.ReservedFieldID + " is reserved")
	}

	store := db.DB(ctx)
	switch req.FieldType {
	case types.FieldTypeRelation:
		if req.RelationTarget == "" {
			return ErrInvalidDefinition.Msg("relation field " + req.LogicalName + " requires a relation target")
		}
		if _, err := store.GetEntity(ctx, req.RelationTarget); err != nil {
			if errors.Is(err, dberror.ErrNotFound) {
				return ErrInvalidDefinition.Msg("relation target " + req.RelationTarget + " does not exist")
			}
			return err
		}
	case types.FieldTypeOptionSet:
		if req.OptionSetName == "" {
			return ErrInvalidDefinition.Msg("option-set field " + req.LogicalName + " requires an option set")
		}
		if _, err := store.GetDefinitionDoc(ctx, models.DefinitionKindOptionSet, entityName, req.OptionSetName); err != nil {
			if errors.Is(err, dberror.ErrNotFound) {
				return ErrInvalidDefinition.Msg("option set " + req.OptionSetName + " does not exist on " + entityName)
			}
			return err
		}
	case types.FieldTypeCalculated:
		if _, err := jsruntime.Compile(req.Calculation); err != nil {
			return ErrInvalidDefinition.Msg("calculation of " + req.LogicalName + " does not compile: " + err.Error())
		}
		if req.Unique || req.Required {
			return ErrInvalidDefinition.Msg("calculated field " + req.LogicalName + " cannot be required or unique")
		}
		if len(req.DefaultValue) > 0 {
			return ErrInvalidDefinition.Msg("calculated field " + req.LogicalName + " cannot carry a default")
		}
	}

	if len(req.DefaultValue) > 0 {
		if _, err := types.ValueFromJSON(req.DefaultValue); err != nil {
			return ErrInvalidDefinition.Msg("default value of " + req.LogicalName + " is not a valid JSON value")
		}
	}
	if req.MinValue != nil && req.MaxValue != nil && *req.MinValue > *req.MaxValue {
		return ErrInvalidDefinition.Msg("min value of " + req.LogicalName + " exceeds its max value")
	}
	return nil
}

func fieldFromRequest(entityName string, req *FieldRequest) *models.FieldDefinition {
	field := &models.FieldDefinition{
		EntityName:     entityName,
		LogicalName:    req.LogicalName,
		DisplayName:    req.DisplayName,
		FieldType:      req.FieldType,
		Required:       req.Required,
		Unique:         req.Unique,
		DefaultValue:   pgtype.JSONB{Status: pgtype.Null},
		RelationTarget: req.RelationTarget,
		OptionSetName:  req.OptionSetName,
		Calculation:    req.Calculation,
		MaxLength:      req.MaxLength,
		MinValue:       req.MinValue,
		MaxValue:       req.MaxValue,
	}
	if len(req.DefaultValue) > 0 {
		field.DefaultValue = pgtype.JSONB{Bytes: req.DefaultValue, Status: pgtype.Present}
	}
	return field
}

package metadata

import (
	"context"
	"errors"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/audit"
	"github.com/recordum/recordum/internal/recordsrv/authz"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/schemaregistry"
	"github.com/recordum/recordum/pkg/types"
)

// PublishEntity freezes the entity's current metadata into the next
// published schema version and returns the snapshot. Publication is what
// makes an entity usable at runtime; unpublished metadata changes are
// invisible to the record store.
//
// Publication freezes field shapes, so the publisher must hold the field
// permission as well as the entity permission.
func PublishEntity(ctx context.Context, entityName string) (*models.EntitySchema, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityCreate); err != nil {
		return nil, err
	}
	if err := authz.Authorize(ctx, types.PermissionMetadataFieldWrite); err != nil {
		return nil, err
	}

	schema, err := schemaregistry.Default().Publish(ctx, entityName)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrEntityNotFound.Msg(entityName)
		}
		return nil, err
	}

	audit.Emit(ctx, audit.ActionSchemaPublish, "entity", entityName, map[string]any{
		"version":     schema.Version,
		"field_count": len(schema.Fields),
	})
	return schema, nil
}

// ListPublishedVersions returns the entity's published versions, newest
// first.
func ListPublishedVersions(ctx context.Context, entityName string) ([]*models.PublishedVersion, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityRead); err != nil {
		return nil, err
	}
	return db.DB(ctx).ListPublishedVersions(ctx, entityName)
}

// GetPublishedSchema returns one published schema version, or the latest
// when version is zero.
func GetPublishedSchema(ctx context.Context, entityName string, version int) (*models.EntitySchema, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityRead); err != nil {
		return nil, err
	}
	if version == 0 {
		return schemaregistry.Default().LatestSchema(ctx, entityName)
	}
	return schemaregistry.Default().SchemaAt(ctx, entityName, version)
}

package postgresql

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
)

// CreatePublishedVersion assigns the next version number, stores the
// snapshot, and records the snapshot's field names in one transaction.
// Concurrent publishes of the same entity serialize on the advisory lock so
// versions stay dense and monotonic.
func (r *recordDb) CreatePublishedVersion(ctx context.Context, version *models.PublishedVersion, fieldNames []string) (err apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}
	version.TenantID = tenantID

	tx, errDb := r.conn().BeginTx(ctx, &sql.TxOptions{})
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to start transaction")
		return dberror.ErrDatabase.Err(errDb)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	lockQuery := `
		SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2));
	`
	if _, errDb := tx.ExecContext(ctx, lockQuery, tenantID, version.EntityName); errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to take publish lock")
		err = dberror.ErrDatabase.Err(errDb)
		return err
	}

	query := `
		INSERT INTO entity_published_versions
			(tenant_id, entity_logical_name, version, schema_data, compressed, published_by_subject)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5
		FROM entity_published_versions
		WHERE tenant_id = $1 AND entity_logical_name = $2
		RETURNING version;
	`
	errDb = tx.QueryRowContext(ctx, query,
		tenantID, version.EntityName, version.SchemaData, version.Compressed, version.PublishedBy).
		Scan(&version.Version)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("entity", version.EntityName).Msg("failed to insert published version")
		err = dberror.ErrDatabase.Err(errDb)
		return err
	}

	// Maintain the published-field index backing the schema-freeze and
	// field-delete guards. Snapshots are opaque (possibly compressed) bytes,
	// so the field list rides alongside.
	fieldQuery := `
		INSERT INTO entity_published_fields (tenant_id, entity_logical_name, field_logical_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, entity_logical_name, field_logical_name) DO NOTHING;
	`
	for _, name := range fieldNames {
		if _, errDb := tx.ExecContext(ctx, fieldQuery, tenantID, version.EntityName, name); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Str("field", name).Msg("failed to index published field")
			err = dberror.ErrDatabase.Err(errDb)
			return err
		}
	}

	if errDb := tx.Commit(); errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to commit transaction")
		err = dberror.ErrDatabase.Err(errDb)
		return err
	}
	return nil
}

func (r *recordDb) GetLatestPublishedVersion(ctx context.Context, entityName string) (*models.PublishedVersion, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, entity_logical_name, version, schema_data, compressed, published_by_subject, published_at
		FROM entity_published_versions
		WHERE tenant_id = $1 AND entity_logical_name = $2
		ORDER BY version DESC
		LIMIT 1;
	`
	var v models.PublishedVersion
	errDb := r.conn().QueryRowContext(ctx, query, tenantID, entityName).Scan(
		&v.TenantID, &v.EntityName, &v.Version, &v.SchemaData, &v.Compressed, &v.PublishedBy, &v.PublishedAt)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("no published version for entity")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("entity", entityName).Msg("failed to retrieve latest published version")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &v, nil
}

func (r *recordDb) GetPublishedVersion(ctx context.Context, entityName string, version int) (*models.PublishedVersion, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, entity_logical_name, version, schema_data, compressed, published_by_subject, published_at
		FROM entity_published_versions
		WHERE tenant_id = $1 AND entity_logical_name = $2 AND version = $3;
	`
	var v models.PublishedVersion
	errDb := r.conn().QueryRowContext(ctx, query, tenantID, entityName, version).Scan(
		&v.TenantID, &v.EntityName, &v.Version, &v.SchemaData, &v.Compressed, &v.PublishedBy, &v.PublishedAt)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("published version not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("entity", entityName).Int("version", version).Msg("failed to retrieve published version")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &v, nil
}

func (r *recordDb) ListPublishedVersions(ctx context.Context, entityName string) ([]*models.PublishedVersion, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, entity_logical_name, version, schema_data, compressed, published_by_subject, published_at
		FROM entity_published_versions
		WHERE tenant_id = $1 AND entity_logical_name = $2
		ORDER BY version;
	`
	rows, errDb := r.conn().QueryContext(ctx, query, tenantID, entityName)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("entity", entityName).Msg("failed to list published versions")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var versions []*models.PublishedVersion
	for rows.Next() {
		var v models.PublishedVersion
		if errDb := rows.Scan(
			&v.TenantID, &v.EntityName, &v.Version, &v.SchemaData, &v.Compressed, &v.PublishedBy, &v.PublishedAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan published version")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		versions = append(versions, &v)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return versions, nil
}

// FieldInAnyPublishedVersion consults the published-field index maintained at
// publish time.
func (r *recordDb) FieldInAnyPublishedVersion(ctx context.Context, entityName, fieldName string) (bool, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return false, err
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM entity_published_fields
			WHERE tenant_id = $1 AND entity_logical_name = $2 AND field_logical_name = $3
		);
	`
	var exists bool
	errDb := r.conn().QueryRowContext(ctx, query, tenantID, entityName, fieldName).Scan(&exists)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("entity", entityName).Str("field", fieldName).
			Msg("failed to check published field")
		return false, dberror.ErrDatabase.Err(errDb)
	}
	return exists, nil
}

package postgresql

import (
	"context"
	"database/sql"

	"github.com/jackc/pgconn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

// InsertRecord writes the record and its unique-value rows atomically. Unique
// rows are inserted one at a time so a collision can be attributed to the
// field that caused it; the whole write rolls back on any collision.
func (r *recordDb) InsertRecord(ctx context.Context, record *models.RuntimeRecord, unique []models.UniqueValue) (err apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}
	record.TenantID = tenantID
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

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

	query := `
		INSERT INTO runtime_records (id, tenant_id, entity_logical_name, data, owner_subject)
		VALUES ($1, $2, $3, $4, $5);
	`
	if _, errDb := tx.ExecContext(ctx, query,
		record.ID, tenantID, record.EntityName, record.Data, record.OwnerSubject); errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("entity", record.EntityName).Msg("failed to insert record")
		err = dberror.ErrDatabase.Err(errDb)
		return err
	}

	if err = insertUniqueValues(ctx, tx, tenantID, record.ID, unique); err != nil {
		return err
	}

	if errDb := tx.Commit(); errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to commit transaction")
		err = dberror.ErrDatabase.Err(errDb)
		return err
	}
	return nil
}

// UpdateRecord replaces the record's data and rewrites its unique-value rows
// atomically.
func (r *recordDb) UpdateRecord(ctx context.Context, record *models.RuntimeRecord, unique []models.UniqueValue) (err apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}

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

	query := `
		UPDATE runtime_records
		SET data = $4, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND entity_logical_name = $3
		RETURNING id;
	`
	var updated uuid.UUID
	errDb = tx.QueryRowContext(ctx, query, record.ID, tenantID, record.EntityName, record.Data).Scan(&updated)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			err = dberror.ErrNotFound.Msg("record not found")
			return err
		}
		log.Ctx(ctx).Error().Err(errDb).Str("record_id", record.ID.String()).Msg("failed to update record")
		err = dberror.ErrDatabase.Err(errDb)
		return err
	}

	deleteQuery := `
		DELETE FROM runtime_record_unique_values
		WHERE tenant_id = $1 AND record_id = $2;
	`
	if _, errDb := tx.ExecContext(ctx, deleteQuery, tenantID, record.ID); errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to clear unique values")
		err = dberror.ErrDatabase.Err(errDb)
		return err
	}

	if err = insertUniqueValues(ctx, tx, tenantID, record.ID, unique); err != nil {
		return err
	}

	if errDb := tx.Commit(); errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to commit transaction")
		err = dberror.ErrDatabase.Err(errDb)
		return err
	}
	return nil
}

func insertUniqueValues(ctx context.Context, tx *sql.Tx, tenantID types.TenantId, recordID uuid.UUID, unique []models.UniqueValue) apperrors.Error {
	query := `
		INSERT INTO runtime_record_unique_values
			(tenant_id, entity_logical_name, field_logical_name, value_hash, record_id)
		VALUES ($1, $2, $3, $4, $5);
	`
	for _, u := range unique {
		if _, errDb := tx.ExecContext(ctx, query,
			tenantID, u.EntityName, u.FieldName, u.ValueHash, recordID); errDb != nil {
			var pgErr *pgconn.PgError
			if errors.As(errDb, &pgErr) && pgErr.Code == "23505" {
				log.Ctx(ctx).Info().Str("field", u.FieldName).Msg("unique value collision")
				return dberror.ErrUniqueViolation.Msg("duplicate value for unique field " + u.FieldName)
			}
			log.Ctx(ctx).Error().Err(errDb).Str("field", u.FieldName).Msg("failed to insert unique value")
			return dberror.ErrDatabase.Err(errDb)
		}
	}
	return nil
}

func (r *recordDb) DeleteRecord(ctx context.Context, entityName string, recordID uuid.UUID) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}

	query := `
		DELETE FROM runtime_records
		WHERE id = $1 AND tenant_id = $2 AND entity_logical_name = $3
		RETURNING id;
	`
	var deleted uuid.UUID
	errDb := r.conn().QueryRowContext(ctx, query, recordID, tenantID, entityName).Scan(&deleted)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return dberror.ErrNotFound.Msg("record not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("record_id", recordID.String()).Msg("failed to delete record")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) GetRecord(ctx context.Context, entityName string, recordID uuid.UUID) (*models.RuntimeRecord, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, entity_logical_name, data, owner_subject, created_at, updated_at
		FROM runtime_records
		WHERE id = $1 AND tenant_id = $2 AND entity_logical_name = $3;
	`
	var record models.RuntimeRecord
	errDb := r.conn().QueryRowContext(ctx, query, recordID, tenantID, entityName).Scan(
		&record.ID, &record.TenantID, &record.EntityName, &record.Data,
		&record.OwnerSubject, &record.CreatedAt, &record.UpdatedAt)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("record not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("record_id", recordID.String()).Msg("failed to retrieve record")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &record, nil
}

// ListRecords pages the entity's records by creation time. A non-empty
// ownerSubject restricts the listing to that subject's records.
func (r *recordDb) ListRecords(ctx context.Context, entityName string, limit, offset int, ownerSubject types.Subject) ([]*models.RuntimeRecord, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, entity_logical_name, data, owner_subject, created_at, updated_at
		FROM runtime_records
		WHERE tenant_id = $1 AND entity_logical_name = $2
		  AND ($5 = '' OR owner_subject = $5)
		ORDER BY created_at, id
		LIMIT $3 OFFSET $4;
	`
	rows, errDb := r.conn().QueryContext(ctx, query, tenantID, entityName, limit, offset, ownerSubject)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("entity", entityName).Msg("failed to list records")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var records []*models.RuntimeRecord
	for rows.Next() {
		var record models.RuntimeRecord
		if errDb := rows.Scan(
			&record.ID, &record.TenantID, &record.EntityName, &record.Data,
			&record.OwnerSubject, &record.CreatedAt, &record.UpdatedAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan record")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		records = append(records, &record)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return records, nil
}

func (r *recordDb) RecordExists(ctx context.Context, entityName string, recordID uuid.UUID) (bool, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return false, err
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM runtime_records
			WHERE id = $1 AND tenant_id = $2 AND entity_logical_name = $3
		);
	`
	var exists bool
	errDb := r.conn().QueryRowContext(ctx, query, recordID, tenantID, entityName).Scan(&exists)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("record_id", recordID.String()).Msg("failed to check record existence")
		return false, dberror.ErrDatabase.Err(errDb)
	}
	return exists, nil
}

// HasRelationReference reports whether any record of referencingEntity points
// at targetID through relationField. Relation values are stored as the target
// record's id in canonical string form.
func (r *recordDb) HasRelationReference(ctx context.Context, referencingEntity, relationField string, targetID uuid.UUID) (bool, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return false, err
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM runtime_records
			WHERE tenant_id = $1 AND entity_logical_name = $2
			  AND data->>$3 = $4
		);
	`
	var exists bool
	errDb := r.conn().QueryRowContext(ctx, query, tenantID, referencingEntity, relationField, targetID.String()).Scan(&exists)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).
			Str("entity", referencingEntity).Str("field", relationField).
			Msg("failed to check relation reference")
		return false, dberror.ErrDatabase.Err(errDb)
	}
	return exists, nil
}

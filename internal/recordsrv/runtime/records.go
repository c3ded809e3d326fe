// Package runtime is the record store service: it validates writes against
// published schemas, maintains the unique-value index, enforces ownership and
// field grants, guards relation integrity on delete, and executes validated
// queries.
package runtime

import (
	"context"
	"errors"

	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/audit"
	"github.com/recordum/recordum/internal/recordsrv/authz"
	"github.com/recordum/recordum/internal/recordsrv/config"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/query"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
	"github.com/recordum/recordum/internal/recordsrv/schemaregistry"
	"github.com/recordum/recordum/pkg/types"
)

// CreateRecord validates the payload against the entity's latest published
// schema and inserts the record. ownerSubject defaults to the caller.
func CreateRecord(ctx context.Context, entityName string, payload []byte, ownerSubject types.Subject) (*models.RuntimeRecord, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionRuntimeRecordWrite); err != nil {
		return nil, err
	}
	if ownerSubject == "" {
		ownerSubject = reccommon.SubjectFromContext(ctx)
	}

	schema, err := schemaregistry.Default().LatestSchema(ctx, entityName)
	if err != nil {
		return nil, err
	}
	if err := checkWriteGrants(ctx, entityName, payload); err != nil {
		return nil, err
	}

	data, unique, err := normalizePayload(ctx, schema, payload)
	if err != nil {
		return nil, err
	}
	if err := checkRelations(ctx, schema, data); err != nil {
		return nil, err
	}

	raw, errJs := json.Marshal(types.ObjectValue(data))
	if errJs != nil {
		return nil, ErrRuntime.Err(errJs)
	}
	record := &models.RuntimeRecord{
		ID:           uuid.New(),
		EntityName:   entityName,
		Data:         pgtype.JSONB{Bytes: raw, Status: pgtype.Present},
		OwnerSubject: ownerSubject,
	}
	for i := range unique {
		unique[i].RecordID = record.ID
	}

	if err := db.DB(ctx).InsertRecord(ctx, record, unique); err != nil {
		if errors.Is(err, dberror.ErrUniqueViolation) {
			return nil, ErrUniqueConflict.Msg(err.Error())
		}
		log.Ctx(ctx).Error().Err(err).Str("entity", entityName).Msg("failed to insert record")
		return nil, err
	}

	audit.Emit(ctx, audit.ActionRecordCreate, "record", record.ID.String(), map[string]string{"entity": entityName})
	notifyRecordCreated(ctx, record)
	return record, nil
}

// UpdateRecord replaces the record's data after running the write pipeline.
// Subjects with Own write scope may only update records they own.
func UpdateRecord(ctx context.Context, entityName string, recordID uuid.UUID, payload []byte) (*models.RuntimeRecord, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionRuntimeRecordWrite); err != nil {
		return nil, err
	}

	store := db.DB(ctx)
	existing, err := store.GetRecord(ctx, entityName, recordID)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrRecordNotFound.Msg(recordID.String())
		}
		return nil, err
	}
	if err := checkOwnership(ctx, existing); err != nil {
		return nil, err
	}

	schema, err := schemaregistry.Default().LatestSchema(ctx, entityName)
	if err != nil {
		return nil, err
	}
	if err := checkWriteGrants(ctx, entityName, payload); err != nil {
		return nil, err
	}

	data, unique, err := normalizePayload(ctx, schema, payload)
	if err != nil {
		return nil, err
	}
	if err := checkRelations(ctx, schema, data); err != nil {
		return nil, err
	}

	raw, errJs := json.Marshal(types.ObjectValue(data))
	if errJs != nil {
		return nil, ErrRuntime.Err(errJs)
	}
	record := &models.RuntimeRecord{
		ID:           recordID,
		EntityName:   entityName,
		Data:         pgtype.JSONB{Bytes: raw, Status: pgtype.Present},
		OwnerSubject: existing.OwnerSubject,
	}
	for i := range unique {
		unique[i].RecordID = recordID
	}

	if err := store.UpdateRecord(ctx, record, unique); err != nil {
		if errors.Is(err, dberror.ErrUniqueViolation) {
			return nil, ErrUniqueConflict.Msg(err.Error())
		}
		log.Ctx(ctx).Error().Err(err).Str("entity", entityName).Str("record_id", recordID.String()).Msg("failed to update record")
		return nil, err
	}

	audit.Emit(ctx, audit.ActionRecordUpdate, "record", recordID.String(), map[string]string{"entity": entityName})
	return record, nil
}

// DeleteRecord removes the record unless another record still points at it
// through a published relation field.
func DeleteRecord(ctx context.Context, entityName string, recordID uuid.UUID) apperrors.Error {
	if err := authz.Authorize(ctx, types.PermissionRuntimeRecordWrite); err != nil {
		return err
	}

	store := db.DB(ctx)
	existing, err := store.GetRecord(ctx, entityName, recordID)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return ErrRecordNotFound.Msg(recordID.String())
		}
		return err
	}
	if err := checkOwnership(ctx, existing); err != nil {
		return err
	}
	if err := checkInboundReferences(ctx, entityName, recordID); err != nil {
		return err
	}

	if err := store.DeleteRecord(ctx, entityName, recordID); err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return ErrRecordNotFound.Msg(recordID.String())
		}
		return err
	}

	audit.Emit(ctx, audit.ActionRecordDelete, "record", recordID.String(), map[string]string{"entity": entityName})
	return nil
}

// checkInboundReferences scans every entity's latest published schema for
// relation fields targeting the entity and rejects the delete when any record
// still holds the id.
func checkInboundReferences(ctx context.Context, entityName string, recordID uuid.UUID) apperrors.Error {
	store := db.DB(ctx)
	entities, err := store.ListEntities(ctx)
	if err != nil {
		return err
	}
	for _, e := range entities {
		schema, err := schemaregistry.Default().LatestSchema(ctx, e.LogicalName)
		if err != nil {
			if errors.Is(err, schemaregistry.ErrNoPublishedSchema) {
				continue
			}
			return err
		}
		for _, field := range schema.RelationFields() {
			if field.RelationTarget != entityName {
				continue
			}
			referenced, err := store.HasRelationReference(ctx, e.LogicalName, field.LogicalName, recordID)
			if err != nil {
				return err
			}
			if referenced {
				return ErrRelationIntegrity.Msg("record is referenced by " + e.LogicalName + "." + field.LogicalName)
			}
		}
	}
	return nil
}

// GetRecord returns the record with non-readable fields stripped. Subjects
// with Own read scope only see records they own.
func GetRecord(ctx context.Context, entityName string, recordID uuid.UUID) (*models.RuntimeRecord, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionRuntimeRecordRead); err != nil {
		return nil, err
	}

	record, err := db.DB(ctx).GetRecord(ctx, entityName, recordID)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrRecordNotFound.Msg(recordID.String())
		}
		return nil, err
	}

	owner, err := authz.OwnerFilter(ctx)
	if err != nil {
		return nil, err
	}
	if owner != "" && record.OwnerSubject != owner {
		// scoped-out records are indistinguishable from missing ones
		return nil, ErrRecordNotFound.Msg(recordID.String())
	}

	return maskRecord(ctx, entityName, record)
}

// ListRecords pages the entity's records in creation order, honoring the
// caller's ownership scope and field grants.
func ListRecords(ctx context.Context, entityName string, limit, offset int) ([]*models.RuntimeRecord, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionRuntimeRecordRead); err != nil {
		return nil, err
	}
	owner, err := authz.OwnerFilter(ctx)
	if err != nil {
		return nil, err
	}

	cfg := config.Config()
	if limit <= 0 {
		limit = cfg.DefaultQueryLimit
	}
	if limit > cfg.MaxQueryLimit {
		limit = cfg.MaxQueryLimit
	}
	if offset < 0 {
		offset = 0
	}

	records, err := db.DB(ctx).ListRecords(ctx, entityName, limit, offset, owner)
	if err != nil {
		return nil, err
	}
	return maskRecords(ctx, entityName, records)
}

// RecordExists reports whether the record exists in the tenant.
func RecordExists(ctx context.Context, entityName string, recordID uuid.UUID) (bool, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionRuntimeRecordRead); err != nil {
		return false, err
	}
	return db.DB(ctx).RecordExists(ctx, entityName, recordID)
}

// QueryRecords validates the declarative query against published schemas,
// injects the caller's ownership scope, and executes the plan.
func QueryRecords(ctx context.Context, entityName string, q *query.Query) ([]*models.RuntimeRecord, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionRuntimeRecordRead); err != nil {
		return nil, err
	}
	owner, err := authz.OwnerFilter(ctx)
	if err != nil {
		return nil, err
	}
	q.OwnerSubject = string(owner)

	cfg := config.Config()
	plan, err := query.Validate(ctx, schemaregistry.Default(), entityName, q, query.ValidatorOptions{
		MaxLimit:     cfg.MaxQueryLimit,
		DefaultLimit: cfg.DefaultQueryLimit,
	})
	if err != nil {
		return nil, err
	}

	records, err := db.DB(ctx).QueryRecords(ctx, plan)
	if err != nil {
		return nil, err
	}
	return maskRecords(ctx, entityName, records)
}

func checkOwnership(ctx context.Context, record *models.RuntimeRecord) apperrors.Error {
	owner, err := authz.OwnerFilter(ctx)
	if err != nil {
		return err
	}
	if owner != "" && record.OwnerSubject != owner {
		return authz.ErrForbidden.Msg("record is owned by another subject")
	}
	return nil
}

// checkWriteGrants rejects payload keys the subject's field grants do not
// allow writing.
func checkWriteGrants(ctx context.Context, entityName string, payload []byte) apperrors.Error {
	access, err := authz.FieldAccessFor(ctx, entityName)
	if err != nil {
		return err
	}
	if !access.Restricted() {
		return nil
	}

	root, errV := types.ValueFromJSON(payload)
	if errV != nil || root.Kind() != types.KindObject {
		return ErrInvalidPayload.Msg("payload must be a JSON object")
	}
	for key := range root.Object() {
		if !access.CanWrite(key) {
			return authz.ErrForbidden.Msg("field " + key + " is not writable")
		}
	}
	return nil
}

// maskRecord strips fields the subject may not read from the record's data.
// The returned record is a copy; stored rows are never mutated.
func maskRecord(ctx context.Context, entityName string, record *models.RuntimeRecord) (*models.RuntimeRecord, apperrors.Error) {
	access, err := authz.FieldAccessFor(ctx, entityName)
	if err != nil {
		return nil, err
	}
	if !access.Restricted() {
		return record, nil
	}

	root, errV := types.ValueFromJSON(record.Data.Bytes)
	if errV != nil || root.Kind() != types.KindObject {
		return record, nil
	}
	kept := make(map[string]types.Value)
	for key, v := range root.Object() {
		if access.CanRead(key) {
			kept[key] = v
		}
	}
	raw, errJs := json.Marshal(types.ObjectValue(kept))
	if errJs != nil {
		return nil, ErrRuntime.Err(errJs)
	}

	masked := *record
	masked.Data = pgtype.JSONB{Bytes: raw, Status: pgtype.Present}
	return &masked, nil
}

func maskRecords(ctx context.Context, entityName string, records []*models.RuntimeRecord) ([]*models.RuntimeRecord, apperrors.Error) {
	out := make([]*models.RuntimeRecord, 0, len(records))
	for _, r := range records {
		masked, err := maskRecord(ctx, entityName, r)
		if err != nil {
			return nil, err
		}
		out = append(out, masked)
	}
	return out, nil
}

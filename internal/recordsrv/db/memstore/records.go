package memstore

import (
	"context"
	"sort"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/query"
	"github.com/recordum/recordum/pkg/types"
)

func (s *Store) InsertRecord(ctx context.Context, record *models.RuntimeRecord, unique []models.UniqueValue) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record.TenantID = tenantID
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.CreatedAt = s.now()
	record.UpdatedAt = record.CreatedAt

	if err := s.checkUniqueLocked(tenantID, record.ID, unique); err != nil {
		return err
	}
	s.records[record.ID] = *record
	s.writeUniqueLocked(tenantID, record.ID, unique)
	return nil
}

func (s *Store) UpdateRecord(ctx context.Context, record *models.RuntimeRecord, unique []models.UniqueValue) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[record.ID]
	if !ok || existing.TenantID != tenantID || existing.EntityName != record.EntityName {
		return dberror.ErrNotFound.Msg("record not found")
	}
	if err := s.checkUniqueLocked(tenantID, record.ID, unique); err != nil {
		return err
	}
	s.dropUniqueLocked(tenantID, record.ID)
	existing.Data = record.Data
	existing.UpdatedAt = s.now()
	s.records[record.ID] = existing
	s.writeUniqueLocked(tenantID, record.ID, unique)

	record.TenantID = tenantID
	record.OwnerSubject = existing.OwnerSubject
	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = existing.UpdatedAt
	return nil
}

// checkUniqueLocked validates every unique row before any state changes, so a
// collision leaves the store untouched. The colliding field is named in the
// error, matching the SQL backend's per-row attribution.
func (s *Store) checkUniqueLocked(tenantID types.TenantId, recordID uuid.UUID, unique []models.UniqueValue) apperrors.Error {
	for _, u := range unique {
		key := uniqueKey{tenantID, u.EntityName, u.FieldName, u.ValueHash}
		if holder, ok := s.unique[key]; ok && holder != recordID {
			return dberror.ErrUniqueViolation.Msg("duplicate value for unique field " + u.FieldName)
		}
	}
	return nil
}

func (s *Store) writeUniqueLocked(tenantID types.TenantId, recordID uuid.UUID, unique []models.UniqueValue) {
	for _, u := range unique {
		s.unique[uniqueKey{tenantID, u.EntityName, u.FieldName, u.ValueHash}] = recordID
	}
}

func (s *Store) dropUniqueLocked(tenantID types.TenantId, recordID uuid.UUID) {
	for k, holder := range s.unique {
		if k.tenant == tenantID && holder == recordID {
			delete(s.unique, k)
		}
	}
}

func (s *Store) DeleteRecord(ctx context.Context, entityName string, recordID uuid.UUID) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[recordID]
	if !ok || existing.TenantID != tenantID || existing.EntityName != entityName {
		return dberror.ErrNotFound.Msg("record not found")
	}
	delete(s.records, recordID)
	s.dropUniqueLocked(tenantID, recordID)
	return nil
}

func (s *Store) GetRecord(ctx context.Context, entityName string, recordID uuid.UUID) (*models.RuntimeRecord, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[recordID]
	if !ok || record.TenantID != tenantID || record.EntityName != entityName {
		return nil, dberror.ErrNotFound.Msg("record not found")
	}
	return &record, nil
}

func (s *Store) ListRecords(ctx context.Context, entityName string, limit, offset int, ownerSubject types.Subject) ([]*models.RuntimeRecord, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.collectLocked(tenantID, entityName)
	if ownerSubject != "" {
		filtered := matched[:0]
		for _, r := range matched {
			if r.OwnerSubject == ownerSubject {
				filtered = append(filtered, r)
			}
		}
		matched = filtered
	}
	sortByCreation(matched)
	return pageRecords(matched, limit, offset), nil
}

func (s *Store) RecordExists(ctx context.Context, entityName string, recordID uuid.UUID) (bool, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[recordID]
	return ok && record.TenantID == tenantID && record.EntityName == entityName, nil
}

func (s *Store) HasRelationReference(ctx context.Context, referencingEntity, relationField string, targetID uuid.UUID) (bool, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	target := targetID.String()
	for _, record := range s.records {
		if record.TenantID != tenantID || record.EntityName != referencingEntity {
			continue
		}
		data, verr := types.ValueFromJSON(record.Data.Bytes)
		if verr != nil {
			continue
		}
		if v, ok := data.Field(relationField); ok && v.Kind() == types.KindString && v.String() == target {
			return true, nil
		}
	}
	return false, nil
}

// QueryRecords evaluates a validated plan against the store. Links resolve
// through the parent's relation field to at most one target record; the
// condition tree and sorts run on the same typed semantics the SQL backend
// compiles to.
func (s *Store) QueryRecords(ctx context.Context, plan *query.Plan) ([]*models.RuntimeRecord, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	roots := s.collectLocked(tenantID, plan.RootEntity)
	if plan.OwnerSubject != "" {
		filtered := roots[:0]
		for _, r := range roots {
			if string(r.OwnerSubject) == plan.OwnerSubject {
				filtered = append(filtered, r)
			}
		}
		roots = filtered
	}

	var matched []*models.RuntimeRecord
	rowValues := make(map[*models.RuntimeRecord]map[string]types.Value)
	for _, root := range roots {
		scopes, ok := s.resolveScopesLocked(tenantID, plan, root)
		if !ok {
			continue
		}
		lookup := func(alias, field string) (types.Value, bool) {
			return scopeField(scopes, alias, field)
		}
		if !query.EvalGroup(plan.Where, lookup) {
			continue
		}
		matched = append(matched, root)
		rowValues[root] = flattenSortKeys(plan, scopes)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		for _, se := range plan.Sort {
			av, aok := rowValues[a][sortKey(se)]
			bv, bok := rowValues[b][sortKey(se)]
			if c := query.CompareForSort(se, av, aok, bv, bok); c != 0 {
				return c < 0
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	return pageRecords(matched, plan.Limit, plan.Offset), nil
}

// resolveScopesLocked walks the plan's links from the root record. ok is
// false when an inner join fails to match; unmatched left-outer scopes stay
// absent from the map and evaluate as null.
func (s *Store) resolveScopesLocked(tenantID types.TenantId, plan *query.Plan, root *models.RuntimeRecord) (map[string]*models.RuntimeRecord, bool) {
	scopes := map[string]*models.RuntimeRecord{query.RootAlias: root}
	for i := range plan.Links {
		l := &plan.Links[i]
		parentAlias := l.ParentAlias
		if parentAlias == "" {
			parentAlias = query.RootAlias
		}
		parent, ok := scopes[parentAlias]
		if !ok {
			// parent itself unmatched on a left-outer chain
			if l.JoinType == query.JoinInner {
				return nil, false
			}
			continue
		}
		child := s.relatedRecordLocked(tenantID, parent, l.RelationField, l.TargetEntity)
		if child == nil {
			if l.JoinType == query.JoinInner {
				return nil, false
			}
			continue
		}
		scopes[l.Alias] = child
	}
	return scopes, true
}

func (s *Store) relatedRecordLocked(tenantID types.TenantId, parent *models.RuntimeRecord, relationField, targetEntity string) *models.RuntimeRecord {
	data, err := types.ValueFromJSON(parent.Data.Bytes)
	if err != nil {
		return nil
	}
	v, ok := data.Field(relationField)
	if !ok || v.Kind() != types.KindString {
		return nil
	}
	id, perr := uuid.Parse(v.String())
	if perr != nil {
		return nil
	}
	child, ok := s.records[id]
	if !ok || child.TenantID != tenantID || child.EntityName != targetEntity {
		return nil
	}
	return &child
}

func scopeField(scopes map[string]*models.RuntimeRecord, alias, field string) (types.Value, bool) {
	if alias == "" {
		alias = query.RootAlias
	}
	record, ok := scopes[alias]
	if !ok {
		return types.NullValue, false
	}
	if field == types.ReservedFieldID {
		return types.StringValue(record.ID.String()), true
	}
	data, err := types.ValueFromJSON(record.Data.Bytes)
	if err != nil {
		return types.NullValue, false
	}
	return data.Field(field)
}

func sortKey(se query.ResolvedSort) string {
	return se.Alias + "\x00" + se.Field
}

func flattenSortKeys(plan *query.Plan, scopes map[string]*models.RuntimeRecord) map[string]types.Value {
	out := make(map[string]types.Value, len(plan.Sort))
	for _, se := range plan.Sort {
		if v, ok := scopeField(scopes, se.Alias, se.Field); ok {
			out[sortKey(se)] = v
		}
	}
	return out
}

func (s *Store) collectLocked(tenantID types.TenantId, entityName string) []*models.RuntimeRecord {
	var out []*models.RuntimeRecord
	for id := range s.records {
		record := s.records[id]
		if record.TenantID == tenantID && record.EntityName == entityName {
			out = append(out, &record)
		}
	}
	return out
}

func sortByCreation(records []*models.RuntimeRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID.String() < records[j].ID.String()
	})
}

func pageRecords(records []*models.RuntimeRecord, limit, offset int) []*models.RuntimeRecord {
	if offset >= len(records) {
		return nil
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

package memstore

import (
	"context"
	"sort"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
)

func (s *Store) CreateEntity(ctx context.Context, entity *models.EntityDefinition) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{tenantID, entity.LogicalName}
	if _, ok := s.entities[key]; ok {
		return dberror.ErrAlreadyExists.Msg("entity already exists")
	}
	entity.TenantID = tenantID
	entity.CreatedAt = s.now()
	entity.UpdatedAt = entity.CreatedAt
	s.entities[key] = *entity
	return nil
}

func (s *Store) GetEntity(ctx context.Context, logicalName string) (*models.EntityDefinition, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[entityKey{tenantID, logicalName}]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("entity not found")
	}
	return &entity, nil
}

func (s *Store) UpdateEntity(ctx context.Context, entity *models.EntityDefinition) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{tenantID, entity.LogicalName}
	existing, ok := s.entities[key]
	if !ok {
		return dberror.ErrNotFound.Msg("entity not found for update")
	}
	existing.DisplayName = entity.DisplayName
	existing.PluralName = entity.PluralName
	existing.Description = entity.Description
	existing.Icon = entity.Icon
	existing.UpdatedAt = s.now()
	s.entities[key] = existing
	return nil
}

// DeleteEntity cascades to the entity's fields, definition documents, and
// published versions, matching the foreign keys of the SQL schema.
func (s *Store) DeleteEntity(ctx context.Context, logicalName string) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{tenantID, logicalName}
	delete(s.entities, key)
	delete(s.versions, key)
	for k := range s.fields {
		if k.tenant == tenantID && k.entity == logicalName {
			delete(s.fields, k)
		}
	}
	for k := range s.docs {
		if k.tenant == tenantID && k.entity == logicalName {
			delete(s.docs, k)
		}
	}
	for k := range s.publishedFields {
		if k.tenant == tenantID && k.entity == logicalName {
			delete(s.publishedFields, k)
		}
	}
	return nil
}

func (s *Store) ListEntities(ctx context.Context) ([]*models.EntityDefinition, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entities []*models.EntityDefinition
	for k, e := range s.entities {
		if k.tenant == tenantID {
			entity := e
			entities = append(entities, &entity)
		}
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].LogicalName < entities[j].LogicalName })
	return entities, nil
}

func (s *Store) CreateField(ctx context.Context, field *models.FieldDefinition) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[entityKey{tenantID, field.EntityName}]; !ok {
		return dberror.ErrNotFound.Msg("entity not found")
	}
	key := fieldKey{tenantID, field.EntityName, field.LogicalName}
	if _, ok := s.fields[key]; ok {
		return dberror.ErrAlreadyExists.Msg("field already exists")
	}
	field.TenantID = tenantID
	field.CreatedAt = s.now()
	field.UpdatedAt = field.CreatedAt
	s.fields[key] = *field
	return nil
}

func (s *Store) GetField(ctx context.Context, entityName, logicalName string) (*models.FieldDefinition, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	field, ok := s.fields[fieldKey{tenantID, entityName, logicalName}]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("field not found")
	}
	return &field, nil
}

func (s *Store) UpdateField(ctx context.Context, field *models.FieldDefinition) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fieldKey{tenantID, field.EntityName, field.LogicalName}
	existing, ok := s.fields[key]
	if !ok {
		return dberror.ErrNotFound.Msg("field not found for update")
	}
	created := existing.CreatedAt
	existing = *field
	existing.TenantID = tenantID
	existing.CreatedAt = created
	existing.UpdatedAt = s.now()
	s.fields[key] = existing
	return nil
}

func (s *Store) DeleteField(ctx context.Context, entityName, logicalName string) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fields, fieldKey{tenantID, entityName, logicalName})
	return nil
}

func (s *Store) ListFields(ctx context.Context, entityName string) ([]*models.FieldDefinition, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fields []*models.FieldDefinition
	for k, f := range s.fields {
		if k.tenant == tenantID && k.entity == entityName {
			field := f
			fields = append(fields, &field)
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].LogicalName < fields[j].LogicalName })
	return fields, nil
}

func (s *Store) UpsertDefinitionDoc(ctx context.Context, kind models.DefinitionKind, doc *models.DefinitionDoc) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	if kind.TableName() == "" {
		return dberror.ErrInvalidInput.Msg("unknown definition kind")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[entityKey{tenantID, doc.EntityName}]; !ok {
		return dberror.ErrNotFound.Msg("entity not found")
	}
	key := docKey{tenantID, kind, doc.EntityName, doc.LogicalName}
	doc.TenantID = tenantID
	if existing, ok := s.docs[key]; ok {
		doc.CreatedAt = existing.CreatedAt
	} else {
		doc.CreatedAt = s.now()
	}
	doc.UpdatedAt = s.now()
	s.docs[key] = *doc
	return nil
}

func (s *Store) GetDefinitionDoc(ctx context.Context, kind models.DefinitionKind, entityName, logicalName string) (*models.DefinitionDoc, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[docKey{tenantID, kind, entityName, logicalName}]
	if !ok {
		return nil, dberror.ErrNotFound.Msg(string(kind) + " not found")
	}
	return &doc, nil
}

func (s *Store) DeleteDefinitionDoc(ctx context.Context, kind models.DefinitionKind, entityName, logicalName string) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, docKey{tenantID, kind, entityName, logicalName})
	return nil
}

func (s *Store) ListDefinitionDocs(ctx context.Context, kind models.DefinitionKind, entityName string) ([]*models.DefinitionDoc, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []*models.DefinitionDoc
	for k, d := range s.docs {
		if k.tenant == tenantID && k.kind == kind && k.entity == entityName {
			doc := d
			docs = append(docs, &doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].LogicalName < docs[j].LogicalName })
	return docs, nil
}

func (s *Store) CreatePublishedVersion(ctx context.Context, version *models.PublishedVersion, fieldNames []string) apperrors.Error {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{tenantID, version.EntityName}
	version.TenantID = tenantID
	version.Version = len(s.versions[key]) + 1
	version.PublishedAt = s.now()
	s.versions[key] = append(s.versions[key], *version)
	for _, name := range fieldNames {
		s.publishedFields[fieldKey{tenantID, version.EntityName, name}] = true
	}
	return nil
}

func (s *Store) GetLatestPublishedVersion(ctx context.Context, entityName string) (*models.PublishedVersion, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[entityKey{tenantID, entityName}]
	if len(versions) == 0 {
		return nil, dberror.ErrNotFound.Msg("no published version for entity")
	}
	v := versions[len(versions)-1]
	return &v, nil
}

func (s *Store) GetPublishedVersion(ctx context.Context, entityName string, version int) (*models.PublishedVersion, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[entityKey{tenantID, entityName}]
	if version < 1 || version > len(versions) {
		return nil, dberror.ErrNotFound.Msg("published version not found")
	}
	v := versions[version-1]
	return &v, nil
}

func (s *Store) ListPublishedVersions(ctx context.Context, entityName string) ([]*models.PublishedVersion, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[entityKey{tenantID, entityName}]
	out := make([]*models.PublishedVersion, 0, len(versions))
	for i := range versions {
		v := versions[i]
		out = append(out, &v)
	}
	return out, nil
}

func (s *Store) FieldInAnyPublishedVersion(ctx context.Context, entityName, fieldName string) (bool, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publishedFields[fieldKey{tenantID, entityName, fieldName}], nil
}

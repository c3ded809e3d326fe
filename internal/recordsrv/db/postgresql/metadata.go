package postgresql

import (
	"context"
	"database/sql"

	"github.com/jackc/pgconn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

// CreateTenant inserts a new tenant. Tenant operations are the only ones not
// scoped by the context tenant.
func (r *recordDb) CreateTenant(ctx context.Context, tenant *models.Tenant) apperrors.Error {
	query := `
		INSERT INTO tenants (tenant_id, name)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO NOTHING
		RETURNING tenant_id;
	`
	var inserted types.TenantId
	errDb := r.conn().QueryRowContext(ctx, query, tenant.TenantID, tenant.Name).Scan(&inserted)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			log.Ctx(ctx).Info().Str("tenant_id", string(tenant.TenantID)).Msg("tenant already exists")
			return dberror.ErrAlreadyExists.Msg("tenant already exists")
		}
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to insert tenant")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) GetTenant(ctx context.Context, tenantID types.TenantId) (*models.Tenant, apperrors.Error) {
	query := `
		SELECT tenant_id, name, created_at
		FROM tenants
		WHERE tenant_id = $1;
	`
	var tenant models.Tenant
	errDb := r.conn().QueryRowContext(ctx, query, tenantID).Scan(&tenant.TenantID, &tenant.Name, &tenant.CreatedAt)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("tenant not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to retrieve tenant")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &tenant, nil
}

func (r *recordDb) DeleteTenant(ctx context.Context, tenantID types.TenantId) apperrors.Error {
	query := `
		DELETE FROM tenants
		WHERE tenant_id = $1;
	`
	_, errDb := r.conn().ExecContext(ctx, query, tenantID)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("tenant_id", string(tenantID)).Msg("failed to delete tenant")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

// CreateEntity inserts a new entity definition. The logical name must be
// unique within the tenant.
func (r *recordDb) CreateEntity(ctx context.Context, entity *models.EntityDefinition) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}
	entity.TenantID = tenantID

	query := `
		INSERT INTO entity_definitions (tenant_id, logical_name, display_name, plural_name, description, icon)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, logical_name) DO NOTHING
		RETURNING logical_name;
	`
	var inserted string
	errDb := r.conn().QueryRowContext(ctx, query,
		tenantID, entity.LogicalName, entity.DisplayName, entity.PluralName, entity.Description, entity.Icon).
		Scan(&inserted)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			log.Ctx(ctx).Info().Str("logical_name", entity.LogicalName).Msg("entity already exists")
			return dberror.ErrAlreadyExists.Msg("entity already exists")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("logical_name", entity.LogicalName).Msg("failed to insert entity")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) GetEntity(ctx context.Context, logicalName string) (*models.EntityDefinition, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, logical_name, display_name, plural_name, description, icon, created_at, updated_at
		FROM entity_definitions
		WHERE tenant_id = $1 AND logical_name = $2;
	`
	var entity models.EntityDefinition
	errDb := r.conn().QueryRowContext(ctx, query, tenantID, logicalName).Scan(
		&entity.TenantID, &entity.LogicalName, &entity.DisplayName, &entity.PluralName,
		&entity.Description, &entity.Icon, &entity.CreatedAt, &entity.UpdatedAt)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("entity not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("logical_name", logicalName).Msg("failed to retrieve entity")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &entity, nil
}

// UpdateEntity updates the presentational attributes of an entity. The
// logical name itself is immutable.
func (r *recordDb) UpdateEntity(ctx context.Context, entity *models.EntityDefinition) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE entity_definitions
		SET display_name = $3, plural_name = $4, description = $5, icon = $6, updated_at = now()
		WHERE tenant_id = $1 AND logical_name = $2
		RETURNING logical_name;
	`
	var updated string
	errDb := r.conn().QueryRowContext(ctx, query,
		tenantID, entity.LogicalName, entity.DisplayName, entity.PluralName, entity.Description, entity.Icon).
		Scan(&updated)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return dberror.ErrNotFound.Msg("entity not found for update")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("logical_name", entity.LogicalName).Msg("failed to update entity")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) DeleteEntity(ctx context.Context, logicalName string) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}

	query := `
		DELETE FROM entity_definitions
		WHERE tenant_id = $1 AND logical_name = $2;
	`
	_, errDb := r.conn().ExecContext(ctx, query, tenantID, logicalName)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("logical_name", logicalName).Msg("failed to delete entity")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) ListEntities(ctx context.Context) ([]*models.EntityDefinition, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, logical_name, display_name, plural_name, description, icon, created_at, updated_at
		FROM entity_definitions
		WHERE tenant_id = $1
		ORDER BY logical_name;
	`
	rows, errDb := r.conn().QueryContext(ctx, query, tenantID)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Msg("failed to list entities")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var entities []*models.EntityDefinition
	for rows.Next() {
		var entity models.EntityDefinition
		if errDb := rows.Scan(
			&entity.TenantID, &entity.LogicalName, &entity.DisplayName, &entity.PluralName,
			&entity.Description, &entity.Icon, &entity.CreatedAt, &entity.UpdatedAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan entity")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		entities = append(entities, &entity)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return entities, nil
}

// CreateField inserts a new field definition on an entity.
func (r *recordDb) CreateField(ctx context.Context, field *models.FieldDefinition) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}
	field.TenantID = tenantID

	query := `
		INSERT INTO entity_fields
			(tenant_id, entity_logical_name, logical_name, display_name, field_type, required, is_unique,
			 default_value, relation_target, option_set_name, calculation, max_length, min_value, max_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
	`
	_, errDb := r.conn().ExecContext(ctx, query,
		tenantID, field.EntityName, field.LogicalName, field.DisplayName, field.FieldType,
		field.Required, field.Unique, field.DefaultValue, field.RelationTarget,
		field.OptionSetName, field.Calculation, field.MaxLength, field.MinValue, field.MaxValue)
	if errDb != nil {
		var pgErr *pgconn.PgError
		if errors.As(errDb, &pgErr) {
			if pgErr.Code == "23505" {
				return dberror.ErrAlreadyExists.Msg("field already exists")
			}
			if pgErr.Code == "23503" {
				return dberror.ErrNotFound.Msg("entity not found")
			}
		}
		log.Ctx(ctx).Error().Err(errDb).
			Str("entity", field.EntityName).Str("logical_name", field.LogicalName).
			Msg("failed to insert field")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) GetField(ctx context.Context, entityName, logicalName string) (*models.FieldDefinition, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, entity_logical_name, logical_name, display_name, field_type, required, is_unique,
		       default_value, relation_target, option_set_name, calculation, max_length, min_value, max_value,
		       created_at, updated_at
		FROM entity_fields
		WHERE tenant_id = $1 AND entity_logical_name = $2 AND logical_name = $3;
	`
	var field models.FieldDefinition
	errDb := r.conn().QueryRowContext(ctx, query, tenantID, entityName, logicalName).Scan(
		&field.TenantID, &field.EntityName, &field.LogicalName, &field.DisplayName, &field.FieldType,
		&field.Required, &field.Unique, &field.DefaultValue, &field.RelationTarget,
		&field.OptionSetName, &field.Calculation, &field.MaxLength, &field.MinValue, &field.MaxValue,
		&field.CreatedAt, &field.UpdatedAt)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("field not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("logical_name", logicalName).Msg("failed to retrieve field")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &field, nil
}

// UpdateField updates a field definition. Type and relation-target freezing
// for published fields is enforced by the metadata layer before this call.
func (r *recordDb) UpdateField(ctx context.Context, field *models.FieldDefinition) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE entity_fields
		SET display_name = $4, field_type = $5, required = $6, is_unique = $7, default_value = $8,
		    relation_target = $9, option_set_name = $10, calculation = $11,
		    max_length = $12, min_value = $13, max_value = $14, updated_at = now()
		WHERE tenant_id = $1 AND entity_logical_name = $2 AND logical_name = $3
		RETURNING logical_name;
	`
	var updated string
	errDb := r.conn().QueryRowContext(ctx, query,
		tenantID, field.EntityName, field.LogicalName, field.DisplayName, field.FieldType,
		field.Required, field.Unique, field.DefaultValue, field.RelationTarget,
		field.OptionSetName, field.Calculation, field.MaxLength, field.MinValue, field.MaxValue).
		Scan(&updated)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return dberror.ErrNotFound.Msg("field not found for update")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("logical_name", field.LogicalName).Msg("failed to update field")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) DeleteField(ctx context.Context, entityName, logicalName string) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}

	query := `
		DELETE FROM entity_fields
		WHERE tenant_id = $1 AND entity_logical_name = $2 AND logical_name = $3;
	`
	_, errDb := r.conn().ExecContext(ctx, query, tenantID, entityName, logicalName)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("logical_name", logicalName).Msg("failed to delete field")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) ListFields(ctx context.Context, entityName string) ([]*models.FieldDefinition, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, entity_logical_name, logical_name, display_name, field_type, required, is_unique,
		       default_value, relation_target, option_set_name, calculation, max_length, min_value, max_value,
		       created_at, updated_at
		FROM entity_fields
		WHERE tenant_id = $1 AND entity_logical_name = $2
		ORDER BY logical_name;
	`
	rows, errDb := r.conn().QueryContext(ctx, query, tenantID, entityName)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("entity", entityName).Msg("failed to list fields")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var fields []*models.FieldDefinition
	for rows.Next() {
		var field models.FieldDefinition
		if errDb := rows.Scan(
			&field.TenantID, &field.EntityName, &field.LogicalName, &field.DisplayName, &field.FieldType,
			&field.Required, &field.Unique, &field.DefaultValue, &field.RelationTarget,
			&field.OptionSetName, &field.Calculation, &field.MaxLength, &field.MinValue, &field.MaxValue,
			&field.CreatedAt, &field.UpdatedAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan field")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		fields = append(fields, &field)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return fields, nil
}

// UpsertDefinitionDoc inserts or replaces a definition document. All four
// definition tables share the same column layout.
func (r *recordDb) UpsertDefinitionDoc(ctx context.Context, kind models.DefinitionKind, doc *models.DefinitionDoc) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}
	doc.TenantID = tenantID

	table := kind.TableName()
	if table == "" {
		return dberror.ErrInvalidInput.Msg("unknown definition kind")
	}

	query := `
		INSERT INTO ` + table + ` (tenant_id, entity_logical_name, logical_name, definition)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, entity_logical_name, logical_name)
		DO UPDATE SET definition = EXCLUDED.definition, updated_at = now();
	`
	_, errDb := r.conn().ExecContext(ctx, query, tenantID, doc.EntityName, doc.LogicalName, doc.Definition)
	if errDb != nil {
		var pgErr *pgconn.PgError
		if errors.As(errDb, &pgErr) && pgErr.Code == "23503" {
			return dberror.ErrNotFound.Msg("entity not found")
		}
		log.Ctx(ctx).Error().Err(errDb).
			Str("kind", string(kind)).Str("logical_name", doc.LogicalName).
			Msg("failed to upsert definition")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) GetDefinitionDoc(ctx context.Context, kind models.DefinitionKind, entityName, logicalName string) (*models.DefinitionDoc, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	table := kind.TableName()
	if table == "" {
		return nil, dberror.ErrInvalidInput.Msg("unknown definition kind")
	}

	query := `
		SELECT tenant_id, entity_logical_name, logical_name, definition, created_at, updated_at
		FROM ` + table + `
		WHERE tenant_id = $1 AND entity_logical_name = $2 AND logical_name = $3;
	`
	var doc models.DefinitionDoc
	errDb := r.conn().QueryRowContext(ctx, query, tenantID, entityName, logicalName).Scan(
		&doc.TenantID, &doc.EntityName, &doc.LogicalName, &doc.Definition, &doc.CreatedAt, &doc.UpdatedAt)
	if errDb != nil {
		if errors.Is(errDb, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg(string(kind) + " not found")
		}
		log.Ctx(ctx).Error().Err(errDb).Str("logical_name", logicalName).Msg("failed to retrieve definition")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return &doc, nil
}

func (r *recordDb) DeleteDefinitionDoc(ctx context.Context, kind models.DefinitionKind, entityName, logicalName string) apperrors.Error {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return err
	}

	table := kind.TableName()
	if table == "" {
		return dberror.ErrInvalidInput.Msg("unknown definition kind")
	}

	query := `
		DELETE FROM ` + table + `
		WHERE tenant_id = $1 AND entity_logical_name = $2 AND logical_name = $3;
	`
	_, errDb := r.conn().ExecContext(ctx, query, tenantID, entityName, logicalName)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("logical_name", logicalName).Msg("failed to delete definition")
		return dberror.ErrDatabase.Err(errDb)
	}
	return nil
}

func (r *recordDb) ListDefinitionDocs(ctx context.Context, kind models.DefinitionKind, entityName string) ([]*models.DefinitionDoc, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	table := kind.TableName()
	if table == "" {
		return nil, dberror.ErrInvalidInput.Msg("unknown definition kind")
	}

	query := `
		SELECT tenant_id, entity_logical_name, logical_name, definition, created_at, updated_at
		FROM ` + table + `
		WHERE tenant_id = $1 AND entity_logical_name = $2
		ORDER BY logical_name;
	`
	rows, errDb := r.conn().QueryContext(ctx, query, tenantID, entityName)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("entity", entityName).Msg("failed to list definitions")
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	defer rows.Close()

	var docs []*models.DefinitionDoc
	for rows.Next() {
		var doc models.DefinitionDoc
		if errDb := rows.Scan(
			&doc.TenantID, &doc.EntityName, &doc.LogicalName, &doc.Definition, &doc.CreatedAt, &doc.UpdatedAt); errDb != nil {
			log.Ctx(ctx).Error().Err(errDb).Msg("failed to scan definition")
			return nil, dberror.ErrDatabase.Err(errDb)
		}
		docs = append(docs, &doc)
	}
	if errDb := rows.Err(); errDb != nil {
		return nil, dberror.ErrDatabase.Err(errDb)
	}
	return docs, nil
}

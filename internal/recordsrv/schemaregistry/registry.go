// Package schemaregistry maintains published schema snapshots: it freezes
// entity metadata into immutable versions, serves the latest version from a
// read-mostly cache, and holds compiled calculated-field programs per
// version.
package schemaregistry

import (
	"context"
	"net/http"
	"sync"

	"github.com/golang/snappy"
	"github.com/jackc/pgtype"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/jsruntime"
	"github.com/recordum/recordum/internal/recordsrv/config"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
	"github.com/recordum/recordum/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrSchemaRegistry    apperrors.Error = apperrors.New("schema registry error").SetStatusCode(http.StatusInternalServerError)
	// writes and queries against an unpublished entity are client errors,
	// not missing resources
	ErrNoPublishedSchema apperrors.Error = ErrSchemaRegistry.New("entity has no published schema").SetStatusCode(http.StatusBadRequest)
	ErrBadSnapshot       apperrors.Error = ErrSchemaRegistry.New("stored snapshot is unreadable").SetStatusCode(http.StatusInternalServerError)
	ErrBadCalculation    apperrors.Error = ErrSchemaRegistry.New("calculated field expression does not compile").SetStatusCode(http.StatusBadRequest)
	ErrNothingToPublish  apperrors.Error = ErrSchemaRegistry.New("entity has no fields to publish").SetStatusCode(http.StatusBadRequest)
)

// Registry caches the latest published schema per (tenant, entity) and the
// compiled calculation for each calculated field of a version. Invalidation
// is a coarse entry replacement on publish.
type Registry struct {
	schemas sync.Map // schemaKey -> *models.EntitySchema
	exprs   sync.Map // exprKey -> *jsruntime.Expr
}

type schemaKey struct {
	tenant types.TenantId
	entity string
}

type exprKey struct {
	tenant  types.TenantId
	entity  string
	version int
	field   string
}

var defaultRegistry = &Registry{}

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Publish freezes the entity's current metadata into the next schema version.
// Option-set values are resolved and embedded so runtime validation never
// depends on mutable option-set documents. Returns the stored snapshot with
// its assigned version.
func (r *Registry) Publish(ctx context.Context, entityName string) (*models.EntitySchema, apperrors.Error) {
	store := db.DB(ctx)
	if store == nil {
		return nil, ErrSchemaRegistry.Msg("no store bound to context")
	}

	entity, err := store.GetEntity(ctx, entityName)
	if err != nil {
		return nil, err
	}
	fields, err := store.ListFields(ctx, entityName)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNothingToPublish.Msg(entityName)
	}

	schema := &models.EntitySchema{
		EntityName:  entity.LogicalName,
		DisplayName: entity.DisplayName,
	}
	fieldNames := make([]string, 0, len(fields))
	for _, f := range fields {
		snap, err := r.freezeField(ctx, store, f)
		if err != nil {
			return nil, err
		}
		schema.Fields = append(schema.Fields, *snap)
		fieldNames = append(fieldNames, f.LogicalName)
	}

	data, errJs := json.Marshal(schema)
	if errJs != nil {
		return nil, ErrSchemaRegistry.Err(errJs)
	}
	compressed := config.Config().CompressSchemaSnapshots
	if compressed {
		data = snappy.Encode(nil, data)
	}

	version := &models.PublishedVersion{
		EntityName:  entityName,
		SchemaData:  data,
		Compressed:  compressed,
		PublishedBy: reccommon.SubjectFromContext(ctx),
	}
	if err := store.CreatePublishedVersion(ctx, version, fieldNames); err != nil {
		return nil, err
	}
	schema.Version = version.Version

	tenantID := reccommon.TenantIdFromContext(ctx)
	r.schemas.Store(schemaKey{tenantID, entityName}, schema)
	log.Ctx(ctx).Info().Str("entity", entityName).Int("version", schema.Version).Msg("published schema version")
	return schema, nil
}

// freezeField converts a field definition into its published snapshot,
// resolving option sets and verifying calculations compile.
func (r *Registry) freezeField(ctx context.Context, store db.DB_, f *models.FieldDefinition) (*models.FieldSnapshot, apperrors.Error) {
	snap := &models.FieldSnapshot{
		LogicalName:    f.LogicalName,
		DisplayName:    f.DisplayName,
		FieldType:      f.FieldType,
		Required:       f.Required,
		Unique:         f.Unique,
		RelationTarget: f.RelationTarget,
		OptionSetName:  f.OptionSetName,
		Calculation:    f.Calculation,
		MaxLength:      f.MaxLength,
		MinValue:       f.MinValue,
		MaxValue:       f.MaxValue,
	}
	if f.DefaultValue.Status == pgtype.Present {
		v, errV := types.ValueFromJSON(f.DefaultValue.Bytes)
		if errV == nil {
			snap.DefaultValue = &v
		}
	}

	if f.FieldType == types.FieldTypeOptionSet && f.OptionSetName != "" {
		doc, err := store.GetDefinitionDoc(ctx, models.DefinitionKindOptionSet, f.EntityName, f.OptionSetName)
		if err != nil {
			return nil, err
		}
		for _, opt := range gjson.GetBytes(doc.Definition.Bytes, "options.#.value").Array() {
			snap.OptionValues = append(snap.OptionValues, opt.String())
		}
	}

	if f.FieldType == types.FieldTypeCalculated {
		if _, errC := jsruntime.Compile(f.Calculation); errC != nil {
			return nil, ErrBadCalculation.Msg(f.LogicalName + ": " + errC.Error())
		}
	}
	return snap, nil
}

// LatestSchema returns the latest published schema of the entity, from cache
// when possible. It satisfies the query validator's schema source.
func (r *Registry) LatestSchema(ctx context.Context, entityName string) (*models.EntitySchema, apperrors.Error) {
	tenantID := reccommon.TenantIdFromContext(ctx)
	key := schemaKey{tenantID, entityName}
	if cached, ok := r.schemas.Load(key); ok {
		return cached.(*models.EntitySchema), nil
	}

	store := db.DB(ctx)
	if store == nil {
		return nil, ErrSchemaRegistry.Msg("no store bound to context")
	}
	version, err := store.GetLatestPublishedVersion(ctx, entityName)
	if err != nil {
		if err.Is(dberror.ErrNotFound) {
			return nil, ErrNoPublishedSchema.Msg(entityName)
		}
		return nil, err
	}
	schema, err := decodeSnapshot(version)
	if err != nil {
		return nil, err
	}
	r.schemas.Store(key, schema)
	return schema, nil
}

// SchemaAt returns a specific published version, bypassing the cache.
func (r *Registry) SchemaAt(ctx context.Context, entityName string, versionNum int) (*models.EntitySchema, apperrors.Error) {
	store := db.DB(ctx)
	if store == nil {
		return nil, ErrSchemaRegistry.Msg("no store bound to context")
	}
	version, err := store.GetPublishedVersion(ctx, entityName, versionNum)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(version)
}

func decodeSnapshot(version *models.PublishedVersion) (*models.EntitySchema, apperrors.Error) {
	data := version.SchemaData
	if version.Compressed {
		decoded, errS := snappy.Decode(nil, data)
		if errS != nil {
			return nil, ErrBadSnapshot.Err(errS)
		}
		data = decoded
	}
	var schema models.EntitySchema
	if errJs := json.Unmarshal(data, &schema); errJs != nil {
		return nil, ErrBadSnapshot.Err(errJs)
	}
	schema.Version = version.Version
	return &schema, nil
}

// Invalidate drops the cached entry for the entity.
func (r *Registry) Invalidate(tenantID types.TenantId, entityName string) {
	r.schemas.Delete(schemaKey{tenantID, entityName})
}

// Calculation returns the compiled program for a calculated field of a
// schema version. Programs are compiled once per (entity, version, field)
// and shared; versions are immutable so entries never invalidate.
func (r *Registry) Calculation(ctx context.Context, schema *models.EntitySchema, field *models.FieldSnapshot) (*jsruntime.Expr, apperrors.Error) {
	tenantID := reccommon.TenantIdFromContext(ctx)
	key := exprKey{tenantID, schema.EntityName, schema.Version, field.LogicalName}
	if cached, ok := r.exprs.Load(key); ok {
		return cached.(*jsruntime.Expr), nil
	}
	expr, err := jsruntime.Compile(field.Calculation)
	if err != nil {
		return nil, ErrBadCalculation.Msg(field.LogicalName + ": " + err.Error())
	}
	r.exprs.Store(key, expr)
	return expr, nil
}

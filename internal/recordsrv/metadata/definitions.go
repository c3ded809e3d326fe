package metadata

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgtype"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/audit"
	"github.com/recordum/recordum/internal/recordsrv/authz"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SaveOptionSet validates and stores an option-set definition.
func SaveOptionSet(ctx context.Context, entityName string, spec *OptionSetSpec) apperrors.Error {
	if err := validateStruct(spec); err != nil {
		return err
	}
	seen := make(map[string]bool, len(spec.Options))
	for _, opt := range spec.Options {
		if seen[opt.Value] {
			return ErrInvalidDefinition.Msg("option set " + spec.Name + " repeats value " + opt.Value)
		}
		seen[opt.Value] = true
	}
	return saveDefinition(ctx, models.DefinitionKindOptionSet, entityName, spec.Name, spec)
}

// SaveForm validates and stores a form definition. Placement columns and the
// positions within each column must be contiguous from zero; QuickCreate
// forms carry exactly one tab with one section.
func SaveForm(ctx context.Context, entityName string, spec *FormSpec) apperrors.Error {
	if err := validateStruct(spec); err != nil {
		return err
	}
	if spec.FormType == types.FormTypeQuickCreate {
		if len(spec.Tabs) != 1 || len(spec.Tabs[0].Sections) != 1 {
			return ErrInvalidDefinition.Msg("QuickCreate form " + spec.Name + " must have exactly one tab with one section")
		}
	}

	fields, err := fieldSet(ctx, entityName)
	if err != nil {
		return err
	}
	for _, tab := range spec.Tabs {
		for _, section := range tab.Sections {
			if err := validateSectionLayout(spec.Name, section, fields); err != nil {
				return err
			}
		}
	}
	return saveDefinition(ctx, models.DefinitionKindForm, entityName, spec.Name, spec)
}

func validateSectionLayout(formName string, section FormSection, fields map[string]types.FieldType) apperrors.Error {
	columns := make(map[int][]int)
	for _, p := range section.Placements {
		if _, ok := fields[p.Field]; !ok && p.Field != types.ReservedFieldID {
			return ErrInvalidDefinition.Msg("form " + formName + " places unknown field " + p.Field)
		}
		columns[p.Column] = append(columns[p.Column], p.Position)
	}
	for col := 0; col < len(columns); col++ {
		positions, ok := columns[col]
		if !ok {
			return ErrInvalidDefinition.Msg("form " + formName + " has a gap in its column layout")
		}
		sort.Ints(positions)
		for i, pos := range positions {
			if pos != i {
				return ErrInvalidDefinition.Msg("form " + formName + " has a gap in its placement positions")
			}
		}
	}
	return nil
}

// SaveView validates and stores a view definition. Columns, sort fields, and
// the filter field must exist on the entity.
func SaveView(ctx context.Context, entityName string, spec *ViewSpec) apperrors.Error {
	if err := validateStruct(spec); err != nil {
		return err
	}
	fields, err := fieldSet(ctx, entityName)
	if err != nil {
		return err
	}
	known := func(name string) bool {
		_, ok := fields[name]
		return ok || name == types.ReservedFieldID
	}
	for _, col := range spec.Columns {
		if !known(col) {
			return ErrInvalidDefinition.Msg("view " + spec.Name + " projects unknown field " + col)
		}
	}
	for _, s := range spec.Sort {
		if !known(s.Field) {
			return ErrInvalidDefinition.Msg("view " + spec.Name + " sorts by unknown field " + s.Field)
		}
	}
	if spec.Filter != nil {
		if !known(spec.Filter.Field) {
			return ErrInvalidDefinition.Msg("view " + spec.Name + " filters on unknown field " + spec.Filter.Field)
		}
		if !spec.Filter.Op.IsValid() {
			return ErrInvalidDefinition.Msg("view " + spec.Name + " uses unknown operator " + string(spec.Filter.Op))
		}
	}
	return saveDefinition(ctx, models.DefinitionKindView, entityName, spec.Name, spec)
}

// SaveBusinessRule validates and stores a business rule. The condition field
// and every SetFieldValue target must exist; calculated fields cannot be
// targets.
func SaveBusinessRule(ctx context.Context, entityName string, spec *BusinessRuleSpec) apperrors.Error {
	if err := validateStruct(spec); err != nil {
		return err
	}
	if !spec.Condition.Op.IsValid() {
		return ErrInvalidDefinition.Msg("rule " + spec.Name + " uses unknown operator " + string(spec.Condition.Op))
	}

	fields, err := fieldSet(ctx, entityName)
	if err != nil {
		return err
	}
	if _, ok := fields[spec.Condition.Field]; !ok && spec.Condition.Field != types.ReservedFieldID {
		return ErrInvalidDefinition.Msg("rule " + spec.Name + " conditions on unknown field " + spec.Condition.Field)
	}

	for _, action := range spec.Actions {
		switch action.Type {
		case RuleActionSetFieldValue:
			ft, ok := fields[action.Field]
			if !ok {
				return ErrInvalidDefinition.Msg("rule " + spec.Name + " sets unknown field " + action.Field)
			}
			if ft == types.FieldTypeCalculated {
				return ErrInvalidDefinition.Msg("rule " + spec.Name + " cannot set calculated field " + action.Field)
			}
			if len(action.Value) > 0 {
				if _, errV := types.ValueFromJSON(action.Value); errV != nil {
					return ErrInvalidDefinition.Msg("rule " + spec.Name + " sets " + action.Field + " to an invalid JSON value")
				}
			}
		case RuleActionRejectWrite:
			if action.Message == "" {
				return ErrInvalidDefinition.Msg("rule " + spec.Name + " rejects without a message")
			}
		default:
			return ErrInvalidDefinition.Msg("rule " + spec.Name + " uses unknown action type " + string(action.Type))
		}
	}
	return saveDefinition(ctx, models.DefinitionKindBusinessRule, entityName, spec.Name, spec)
}

// GetDefinition returns a raw definition document.
func GetDefinition(ctx context.Context, kind models.DefinitionKind, entityName, name string) (*models.DefinitionDoc, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityRead); err != nil {
		return nil, err
	}
	doc, err := db.DB(ctx).GetDefinitionDoc(ctx, kind, entityName, name)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrDefinitionNotFound.Msg(string(kind) + " " + name)
		}
		return nil, err
	}
	return doc, nil
}

// DeleteDefinition removes a definition document. Option sets referenced by a
// field cannot be deleted.
func DeleteDefinition(ctx context.Context, kind models.DefinitionKind, entityName, name string) apperrors.Error {
	if err := authz.Authorize(ctx, types.PermissionMetadataFieldWrite); err != nil {
		return err
	}

	store := db.DB(ctx)
	if kind == models.DefinitionKindOptionSet {
		fields, err := store.ListFields(ctx, entityName)
		if err != nil {
			return err
		}
		for _, f := range fields {
			if f.FieldType == types.FieldTypeOptionSet && f.OptionSetName == name {
				return ErrDefinitionInUse.Msg("option set " + name + " is referenced by field " + f.LogicalName)
			}
		}
	}

	if err := store.DeleteDefinitionDoc(ctx, kind, entityName, name); err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return ErrDefinitionNotFound.Msg(string(kind) + " " + name)
		}
		return err
	}
	audit.Emit(ctx, audit.ActionDefinitionSave, string(kind), entityName+"."+name, map[string]string{"deleted": name})
	return nil
}

// ListDefinitions returns the entity's definition documents of one kind.
func ListDefinitions(ctx context.Context, kind models.DefinitionKind, entityName string) ([]*models.DefinitionDoc, apperrors.Error) {
	if err := authz.Authorize(ctx, types.PermissionMetadataEntityRead); err != nil {
		return nil, err
	}
	return db.DB(ctx).ListDefinitionDocs(ctx, kind, entityName)
}

// DecodeBusinessRule parses a stored business-rule document.
func DecodeBusinessRule(data []byte) (*BusinessRuleSpec, apperrors.Error) {
	spec := &BusinessRuleSpec{}
	if err := json.Unmarshal(data, spec); err != nil {
		return nil, ErrInvalidDefinition.Err(err)
	}
	return spec, nil
}

func saveDefinition(ctx context.Context, kind models.DefinitionKind, entityName, name string, spec any) apperrors.Error {
	if err := authz.Authorize(ctx, types.PermissionMetadataFieldWrite); err != nil {
		return err
	}

	raw, errJs := json.Marshal(spec)
	if errJs != nil {
		return ErrInvalidDefinition.Err(errJs)
	}
	doc := &models.DefinitionDoc{
		EntityName:  entityName,
		LogicalName: name,
		Definition:  pgtype.JSONB{Bytes: raw, Status: pgtype.Present},
	}
	if err := db.DB(ctx).UpsertDefinitionDoc(ctx, kind, doc); err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return ErrEntityNotFound.Msg(entityName)
		}
		log.Ctx(ctx).Error().Err(err).Str("entity", entityName).Str("kind", string(kind)).Str("name", name).Msg("failed to save definition")
		return err
	}

	audit.Emit(ctx, audit.ActionDefinitionSave, string(kind), entityName+"."+name, spec)
	return nil
}

func fieldSet(ctx context.Context, entityName string) (map[string]types.FieldType, apperrors.Error) {
	fields, err := db.DB(ctx).ListFields(ctx, entityName)
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.FieldType, len(fields))
	for _, f := range fields {
		out[f.LogicalName] = f.FieldType
	}
	return out, nil
}

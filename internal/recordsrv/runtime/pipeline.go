package runtime

import (
	"context"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/jsruntime"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/config"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/metadata"
	"github.com/recordum/recordum/internal/recordsrv/query"
	"github.com/recordum/recordum/internal/recordsrv/schemaregistry"
	"github.com/recordum/recordum/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// normalizePayload runs the write pipeline over a raw payload: unknown-key
// rejection, defaults, type coercion, calculated fields, and business rules,
// in that order. It returns the normalized payload and the unique-index rows
// derived from it.
func normalizePayload(ctx context.Context, schema *models.EntitySchema, payload []byte) (map[string]types.Value, []models.UniqueValue, apperrors.Error) {
	root, errV := types.ValueFromJSON(payload)
	if errV != nil || root.Kind() != types.KindObject {
		return nil, nil, ErrInvalidPayload.Msg("payload must be a JSON object")
	}
	data := root.Object()

	for key := range data {
		if key == types.ReservedFieldID {
			// the reserved id key is tolerated; the record id column stays
			// authoritative
			delete(data, key)
			continue
		}
		field, ok := schema.Field(key)
		if !ok {
			return nil, nil, ErrInvalidPayload.Msg("unknown field " + key)
		}
		if field.FieldType == types.FieldTypeCalculated {
			return nil, nil, ErrInvalidPayload.Msg("calculated field " + key + " cannot be written directly")
		}
	}

	for i := range schema.Fields {
		field := &schema.Fields[i]
		if field.FieldType == types.FieldTypeCalculated {
			continue
		}
		if _, ok := data[field.LogicalName]; !ok && field.DefaultValue != nil {
			data[field.LogicalName] = *field.DefaultValue
		}
	}

	for i := range schema.Fields {
		field := &schema.Fields[i]
		v, ok := data[field.LogicalName]
		if !ok || v.IsNull() {
			continue
		}
		coerced, err := coerceValue(field, v)
		if err != nil {
			return nil, nil, err
		}
		data[field.LogicalName] = coerced
	}

	if err := evalCalculatedFields(ctx, schema, data); err != nil {
		return nil, nil, err
	}
	if err := applyBusinessRules(ctx, schema, data); err != nil {
		return nil, nil, err
	}

	for i := range schema.Fields {
		field := &schema.Fields[i]
		if !field.Required {
			continue
		}
		if v, ok := data[field.LogicalName]; !ok || v.IsNull() {
			return nil, nil, ErrInvalidPayload.Msg("required field " + field.LogicalName + " is missing")
		}
	}

	unique, err := uniqueRows(schema, data)
	if err != nil {
		return nil, nil, err
	}
	return data, unique, nil
}

// coerceValue validates a present value against the field's snapshot and
// applies lossless coercions: numeric strings become numbers, date strings
// are normalized to RFC 3339 UTC.
func coerceValue(field *models.FieldSnapshot, v types.Value) (types.Value, apperrors.Error) {
	switch field.FieldType {
	case types.FieldTypeText:
		if v.Kind() != types.KindString {
			return v, ErrInvalidPayload.Msg("field " + field.LogicalName + " expects a string")
		}
		if field.MaxLength > 0 && len(v.String()) > field.MaxLength {
			return v, ErrInvalidPayload.Msg("field " + field.LogicalName + " exceeds max length")
		}
		return v, nil

	case types.FieldTypeNumber:
		n := v
		if v.Kind() == types.KindString {
			parsed, errP := strconv.ParseFloat(v.String(), 64)
			if errP != nil {
				return v, ErrInvalidPayload.Msg("field " + field.LogicalName + " expects a number")
			}
			n = types.NumberValue(parsed)
		}
		if n.Kind() != types.KindNumber {
			return v, ErrInvalidPayload.Msg("field " + field.LogicalName + " expects a number")
		}
		if field.MinValue != nil && n.Number() < *field.MinValue {
			return v, ErrInvalidPayload.Msg("field " + field.LogicalName + " is below its minimum")
		}
		if field.MaxValue != nil && n.Number() > *field.MaxValue {
			return v, ErrInvalidPayload.Msg("field " + field.LogicalName + " exceeds its maximum")
		}
		return n, nil

	case types.FieldTypeBoolean:
		if v.Kind() != types.KindBool {
			return v, ErrInvalidPayload.Msg("field " + field.LogicalName + " expects a boolean")
		}
		return v, nil

	case types.FieldTypeDate:
		if v.Kind() != types.KindString {
			return v, ErrInvalidPayload.Msg("field " + field.LogicalName + " expects a date string")
		}
		t, errP := query.ParseDate(v.String())
		if errP != nil {
			return v, ErrInvalidPayload.Msg("field " + field.LogicalName + " is not a valid date")
		}
		return types.StringValue(t.UTC().Format(time.RFC3339)), nil

	case types.FieldTypeRelation:
		if v.Kind() != types.KindString {
			return v, ErrInvalidPayload.Msg("field " + field.LogicalName + " expects a record id")
		}
		if _, errP := uuid.Parse(v.String()); errP != nil {
			return v, ErrInvalidPayload.Msg("field " + field.LogicalName + " is not a valid record id")
		}
		return v, nil

	case types.FieldTypeOptionSet:
		if v.Kind() != types.KindString {
			return v, ErrInvalidPayload.Msg("field " + field.LogicalName + " expects an option value")
		}
		for _, allowed := range field.OptionValues {
			if v.String() == allowed {
				return v, nil
			}
		}
		return v, ErrInvalidPayload.Msg("field " + field.LogicalName + " has no option " + v.String())

	case types.FieldTypeJson:
		return v, nil
	}
	return v, nil
}

// evalCalculatedFields runs each calculated field's expression against the
// normalized payload and stores the result under the field's key. Expression
// failures fail the write.
func evalCalculatedFields(ctx context.Context, schema *models.EntitySchema, data map[string]types.Value) apperrors.Error {
	var payload []byte
	for i := range schema.Fields {
		field := &schema.Fields[i]
		if field.FieldType != types.FieldTypeCalculated {
			continue
		}
		if payload == nil {
			var errJs error
			payload, errJs = json.Marshal(types.ObjectValue(data))
			if errJs != nil {
				return ErrRuntime.Err(errJs)
			}
		}
		expr, err := schemaregistry.Default().Calculation(ctx, schema, field)
		if err != nil {
			return err
		}
		result, err := expr.Eval(ctx, payload, jsruntime.Options{Timeout: config.Config().CalculationTimeout()})
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("entity", schema.EntityName).Str("field", field.LogicalName).Msg("calculated field evaluation failed")
			return ErrInvalidPayload.Msg("calculation of " + field.LogicalName + " failed").Err(err)
		}
		v, errV := types.FromAny(result)
		if errV != nil {
			return ErrInvalidPayload.Msg("calculation of " + field.LogicalName + " produced a non-JSON value")
		}
		data[field.LogicalName] = v
	}
	return nil
}

// applyBusinessRules evaluates the entity's enabled business rules against
// the normalized payload, in rule-name order. SetFieldValue mutates the
// payload; RejectWrite fails the write with the rule's message.
func applyBusinessRules(ctx context.Context, schema *models.EntitySchema, data map[string]types.Value) apperrors.Error {
	docs, err := db.DB(ctx).ListDefinitionDocs(ctx, models.DefinitionKindBusinessRule, schema.EntityName)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		rule, err := metadata.DecodeBusinessRule(doc.Definition.Bytes)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("entity", schema.EntityName).Str("rule", doc.LogicalName).Msg("skipping undecodable business rule")
			continue
		}
		if !rule.Enabled {
			continue
		}
		matched, err := ruleConditionHolds(rule.Condition, data)
		if err != nil {
			return err
		}
		if !matched {
			continue
		}
		for _, action := range rule.Actions {
			switch action.Type {
			case metadata.RuleActionSetFieldValue:
				v, errV := types.ValueFromJSON(action.Value)
				if errV != nil {
					return ErrRuntime.Msg("rule " + rule.Name + " carries an invalid value")
				}
				data[action.Field] = v
			case metadata.RuleActionRejectWrite:
				return ErrWriteRejected.Msg(action.Message)
			}
		}
	}
	return nil
}

func ruleConditionHolds(cond metadata.RuleCondition, data map[string]types.Value) (bool, apperrors.Error) {
	v, present := data[cond.Field]
	if cond.Op == metadata.RuleOpExists {
		return present && !v.IsNull(), nil
	}

	operand := types.NullValue
	if len(cond.Value) > 0 {
		parsed, errV := types.ValueFromJSON(cond.Value)
		if errV != nil {
			return false, ErrRuntime.Msg("rule condition carries an invalid value")
		}
		operand = parsed
	}

	switch cond.Op {
	case metadata.RuleOpEquals:
		return present && v.Equal(operand), nil
	case metadata.RuleOpNotEquals:
		return !present || !v.Equal(operand), nil
	case metadata.RuleOpGreaterThan:
		return present && !v.IsNull() && v.Compare(operand) > 0, nil
	case metadata.RuleOpLessThan:
		return present && !v.IsNull() && v.Compare(operand) < 0, nil
	}
	return false, ErrRuntime.Msg("unknown rule operator " + string(cond.Op))
}

// checkRelations verifies every referenced record exists within the tenant.
func checkRelations(ctx context.Context, schema *models.EntitySchema, data map[string]types.Value) apperrors.Error {
	store := db.DB(ctx)
	for _, field := range schema.RelationFields() {
		v, ok := data[field.LogicalName]
		if !ok || v.IsNull() {
			continue
		}
		targetID, errP := uuid.Parse(v.String())
		if errP != nil {
			return ErrInvalidPayload.Msg("field " + field.LogicalName + " is not a valid record id")
		}
		exists, err := store.RecordExists(ctx, field.RelationTarget, targetID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrInvalidPayload.Msg("field " + field.LogicalName + " references a missing " + field.RelationTarget + " record")
		}
	}
	return nil
}

func uniqueRows(schema *models.EntitySchema, data map[string]types.Value) ([]models.UniqueValue, apperrors.Error) {
	var rows []models.UniqueValue
	for _, field := range schema.UniqueFields() {
		v, ok := data[field.LogicalName]
		if !ok || v.IsNull() {
			continue
		}
		hash, err := UniqueHash(v)
		if err != nil {
			return nil, err
		}
		rows = append(rows, models.UniqueValue{
			EntityName: schema.EntityName,
			FieldName:  field.LogicalName,
			ValueHash:  hash,
		})
	}
	return rows, nil
}

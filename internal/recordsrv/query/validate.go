package query

import (
	"context"
	"time"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

// SchemaSource resolves the latest published schema for an entity within the
// tenant carried by the context.
type SchemaSource interface {
	LatestSchema(ctx context.Context, entity string) (*models.EntitySchema, apperrors.Error)
}

// ValidatorOptions bound paging. Zero values take the platform defaults.
type ValidatorOptions struct {
	MaxLimit     int
	DefaultLimit int
}

const (
	defaultMaxLimit     = 500
	defaultDefaultLimit = 50
)

// Validate resolves a declarative query against published schemas and
// produces an executable plan. All validation failures surface before any
// execution happens.
func Validate(ctx context.Context, schemas SchemaSource, entity string, q *Query, opts ValidatorOptions) (*Plan, apperrors.Error) {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = defaultMaxLimit
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = defaultDefaultLimit
	}

	rootSchema, err := schemas.LatestSchema(ctx, entity)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		RootEntity:   entity,
		RootSchema:   rootSchema,
		OwnerSubject: q.OwnerSubject,
	}

	if q.Offset < 0 {
		return nil, ErrInvalidPaging.Msg("offset must not be negative")
	}
	if q.Limit < 0 {
		return nil, ErrInvalidPaging.Msg("limit must not be negative")
	}
	plan.Offset = q.Offset
	plan.Limit = q.Limit
	if plan.Limit == 0 {
		plan.Limit = opts.DefaultLimit
	}
	if plan.Limit > opts.MaxLimit {
		plan.Limit = opts.MaxLimit
	}

	if err := resolveLinks(ctx, schemas, plan, q.Links); err != nil {
		return nil, err
	}

	where, err := resolveConditions(plan, q)
	if err != nil {
		return nil, err
	}
	plan.Where = where

	for _, s := range q.Sort {
		rs, err := resolveSort(plan, s)
		if err != nil {
			return nil, err
		}
		plan.Sort = append(plan.Sort, rs)
	}

	return plan, nil
}

func resolveLinks(ctx context.Context, schemas SchemaSource, plan *Plan, links []Link) apperrors.Error {
	for _, l := range links {
		if l.Alias == "" || l.Alias == RootAlias {
			return ErrReservedAlias.Msg("link alias must be non-empty and must not be 'root'")
		}
		if _, exists := plan.LinkByAlias(l.Alias); exists {
			return ErrDuplicateAlias.Msg("duplicate link alias: " + l.Alias)
		}

		parentAlias := normalizeAlias(l.ParentAlias)
		parentSchema, ok := plan.SchemaForAlias(parentAlias)
		if !ok {
			// only the root or an already-declared alias may parent a link
			return ErrInvalidLinkParent.Msg("unknown parent alias: " + l.ParentAlias)
		}

		field, ok := parentSchema.Field(l.RelationField)
		if !ok {
			return ErrUnknownField.Msg("relation field " + l.RelationField + " not in schema of " + parentSchema.EntityName)
		}
		if field.FieldType != types.FieldTypeRelation {
			return ErrNotARelationField.Msg("field " + l.RelationField + " on " + parentSchema.EntityName)
		}
		if field.RelationTarget != l.TargetEntity {
			return ErrLinkTargetMismatch.Msg("relation " + l.RelationField + " targets " + field.RelationTarget + ", not " + l.TargetEntity)
		}

		joinType := l.JoinType
		if joinType == "" {
			joinType = JoinInner
		}
		if joinType != JoinInner && joinType != JoinLeftOuter {
			return ErrInvalidQuery.Msg("invalid join type: " + string(l.JoinType))
		}

		targetSchema, err := schemas.LatestSchema(ctx, l.TargetEntity)
		if err != nil {
			return err
		}

		plan.Links = append(plan.Links, ResolvedLink{
			Alias:         l.Alias,
			ParentAlias:   parentAlias,
			RelationField: l.RelationField,
			TargetEntity:  l.TargetEntity,
			JoinType:      joinType,
			Schema:        targetSchema,
		})
	}
	return nil
}

// resolveConditions merges the legacy flat filters and the nested where tree
// into one root group combined with the query's logical mode.
func resolveConditions(plan *Plan, q *Query) (*PlanGroup, apperrors.Error) {
	mode := q.LogicalMode
	if mode == "" {
		mode = LogicalAnd
	}
	if mode != LogicalAnd && mode != LogicalOr {
		return nil, ErrInvalidQuery.Msg("invalid logical mode: " + string(q.LogicalMode))
	}

	root := &PlanGroup{Mode: mode}
	for i := range q.Filters {
		rf, err := resolveFilter(plan, &q.Filters[i])
		if err != nil {
			return nil, err
		}
		root.Nodes = append(root.Nodes, PlanNode{Filter: rf})
	}
	if q.Where != nil {
		g, err := resolveGroup(plan, q.Where)
		if err != nil {
			return nil, err
		}
		root.Nodes = append(root.Nodes, PlanNode{Group: g})
	}
	if len(root.Nodes) == 0 {
		return nil, nil
	}
	return root, nil
}

func resolveGroup(plan *Plan, g *Group) (*PlanGroup, apperrors.Error) {
	mode := g.LogicalMode
	if mode == "" {
		mode = LogicalAnd
	}
	if mode != LogicalAnd && mode != LogicalOr {
		return nil, ErrInvalidQuery.Msg("invalid logical mode: " + string(g.LogicalMode))
	}
	out := &PlanGroup{Mode: mode}
	for i := range g.Nodes {
		n := g.Nodes[i]
		switch {
		case n.Filter != nil && n.Group == nil:
			rf, err := resolveFilter(plan, n.Filter)
			if err != nil {
				return nil, err
			}
			out.Nodes = append(out.Nodes, PlanNode{Filter: rf})
		case n.Group != nil && n.Filter == nil:
			rg, err := resolveGroup(plan, n.Group)
			if err != nil {
				return nil, err
			}
			out.Nodes = append(out.Nodes, PlanNode{Group: rg})
		default:
			return nil, ErrInvalidGroupNode
		}
	}
	return out, nil
}

func resolveFilter(plan *Plan, f *Filter) (*ResolvedFilter, apperrors.Error) {
	alias := normalizeAlias(f.ScopeAlias)
	schema, ok := plan.SchemaForAlias(alias)
	if !ok {
		return nil, ErrUnknownScopeAlias.Msg("alias: " + f.ScopeAlias)
	}
	field, ok := schema.Field(f.Field)
	if !ok {
		return nil, ErrUnknownField.Msg("field " + f.Field + " not in schema of " + schema.EntityName)
	}
	if err := validateOperand(f.Operator, field.FieldType, f.Value); err != nil {
		return nil, err
	}
	return &ResolvedFilter{
		Alias:     alias,
		Field:     f.Field,
		Operator:  f.Operator,
		FieldType: field.FieldType,
		Value:     f.Value,
	}, nil
}

func resolveSort(plan *Plan, s SortEntry) (ResolvedSort, apperrors.Error) {
	alias := normalizeAlias(s.ScopeAlias)
	schema, ok := plan.SchemaForAlias(alias)
	if !ok {
		return ResolvedSort{}, ErrUnknownScopeAlias.Msg("alias: " + s.ScopeAlias)
	}
	field, ok := schema.Field(s.Field)
	if !ok {
		return ResolvedSort{}, ErrUnknownField.Msg("field " + s.Field + " not in schema of " + schema.EntityName)
	}
	dir := s.Direction
	if dir == "" {
		dir = SortAsc
	}
	if dir != SortAsc && dir != SortDesc {
		return ResolvedSort{}, ErrInvalidQuery.Msg("invalid sort direction: " + string(s.Direction))
	}
	return ResolvedSort{
		Alias:     alias,
		Field:     s.Field,
		FieldType: field.FieldType,
		Direction: dir,
	}, nil
}

func normalizeAlias(alias string) string {
	if alias == RootAlias {
		return ""
	}
	return alias
}

// validateOperand rejects operand shapes the operator cannot evaluate. This
// runs before execution so executors never see malformed operands.
func validateOperand(op Operator, ft types.FieldType, v types.Value) apperrors.Error {
	switch op {
	case OpEq, OpNotEq:
		if !operandMatchesType(ft, v) {
			return ErrInvalidOperand.Msg("operand does not match field type " + string(ft))
		}
	case OpGt, OpGte, OpLt, OpLte:
		switch ft {
		case types.FieldTypeNumber, types.FieldTypeDate, types.FieldTypeText:
		default:
			return ErrInvalidOperator.Msg("ordering operator not supported on field type " + string(ft))
		}
		if !operandMatchesType(ft, v) {
			return ErrInvalidOperand.Msg("operand does not match field type " + string(ft))
		}
	case OpIn, OpNotIn:
		if v.Kind() != types.KindArray {
			return ErrInvalidOperand.Msg("operator expects an array operand")
		}
		for _, e := range v.Array() {
			if !operandMatchesType(ft, e) {
				return ErrInvalidOperand.Msg("array element does not match field type " + string(ft))
			}
		}
	case OpContains, OpStartsWith:
		if ft != types.FieldTypeText {
			return ErrInvalidOperator.Msg("operator applies only to Text fields")
		}
		if v.Kind() != types.KindString {
			return ErrInvalidOperand.Msg("operator expects a string operand")
		}
	case OpIsNull, OpIsNotNull:
		if !v.IsNull() {
			return ErrInvalidOperand.Msg("operator takes no operand")
		}
	default:
		return ErrInvalidOperator.Msg("unknown operator: " + string(op))
	}
	return nil
}

func operandMatchesType(ft types.FieldType, v types.Value) bool {
	switch ft {
	case types.FieldTypeText, types.FieldTypeOptionSet, types.FieldTypeRelation:
		return v.Kind() == types.KindString
	case types.FieldTypeNumber:
		return v.Kind() == types.KindNumber
	case types.FieldTypeBoolean:
		return v.Kind() == types.KindBool
	case types.FieldTypeDate:
		if v.Kind() != types.KindString {
			return false
		}
		_, err := ParseDate(v.String())
		return err == nil
	case types.FieldTypeJson, types.FieldTypeCalculated:
		return true
	}
	return false
}

// ParseDate accepts the date forms the platform stores: RFC 3339 timestamps
// and plain dates.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

package postgresql

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/query"
	"github.com/recordum/recordum/pkg/types"
)

// QueryRecords executes a validated plan. Links join runtime_records back on
// itself through the parent's relation field; link scopes only filter and
// sort, so the projection is always the root row. Each link resolves at most
// one row per parent (relation values are single record ids), so no DISTINCT
// is needed.
func (r *recordDb) QueryRecords(ctx context.Context, plan *query.Plan) ([]*models.RuntimeRecord, apperrors.Error) {
	tenantID, err := getTenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	b := &sqlBuilder{}
	sqlText := b.build(plan, tenantID)

	rows, errDb := r.conn().QueryContext(ctx, sqlText, b.args...)
	if errDb != nil {
		log.Ctx(ctx).Error().Err(errDb).Str("entity", plan.RootEntity).Msg("failed to execute query")
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

// sqlBuilder assembles one parameterized SELECT from a plan. Aliases come
// from the validated plan, but they are never interpolated raw: every scope
// is mapped to a generated table alias (t0, t1, ...) and all values go
// through placeholders.
type sqlBuilder struct {
	args    []any
	aliases map[string]string
}

func (b *sqlBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *sqlBuilder) tableAlias(scope string) string {
	if scope == "" || scope == query.RootAlias {
		return "t0"
	}
	return b.aliases[scope]
}

func (b *sqlBuilder) build(plan *query.Plan, tenantID types.TenantId) string {
	b.aliases = make(map[string]string, len(plan.Links))
	for i, l := range plan.Links {
		b.aliases[l.Alias] = fmt.Sprintf("t%d", i+1)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT t0.id, t0.tenant_id, t0.entity_logical_name, t0.data, t0.owner_subject, t0.created_at, t0.updated_at
FROM runtime_records AS t0`)

	tenantParam := b.bind(tenantID)
	rootEntityParam := b.bind(plan.RootEntity)

	for _, l := range plan.Links {
		child := b.aliases[l.Alias]
		parent := b.tableAlias(l.ParentAlias)
		joinKw := "JOIN"
		if l.JoinType == query.JoinLeftOuter {
			joinKw = "LEFT JOIN"
		}
		sb.WriteString(fmt.Sprintf("\n%s runtime_records AS %s ON %s.tenant_id = %s AND %s.entity_logical_name = %s AND %s.data->>%s = %s.id::text",
			joinKw, child,
			child, tenantParam,
			child, b.bind(l.TargetEntity),
			parent, b.bind(l.RelationField),
			child))
	}

	sb.WriteString(fmt.Sprintf("\nWHERE t0.tenant_id = %s AND t0.entity_logical_name = %s", tenantParam, rootEntityParam))

	if plan.OwnerSubject != "" {
		sb.WriteString(" AND t0.owner_subject = " + b.bind(plan.OwnerSubject))
	}
	if cond := b.group(plan.Where); cond != "" {
		sb.WriteString(" AND " + cond)
	}

	sb.WriteString("\nORDER BY ")
	for _, s := range plan.Sort {
		expr := b.fieldExpr(s.Alias, s.Field, s.FieldType)
		if s.Direction == query.SortDesc {
			sb.WriteString(expr + " DESC NULLS FIRST, ")
		} else {
			sb.WriteString(expr + " ASC NULLS LAST, ")
		}
	}
	sb.WriteString("t0.created_at, t0.id")

	sb.WriteString(fmt.Sprintf("\nLIMIT %s OFFSET %s;", b.bind(plan.Limit), b.bind(plan.Offset)))
	return sb.String()
}

func (b *sqlBuilder) group(g *query.PlanGroup) string {
	if g == nil || len(g.Nodes) == 0 {
		return ""
	}
	joiner := " AND "
	if g.Mode == query.LogicalOr {
		joiner = " OR "
	}
	parts := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.Filter != nil {
			parts = append(parts, b.filter(n.Filter))
		} else if sub := b.group(n.Group); sub != "" {
			parts = append(parts, sub)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, joiner) + ")"
}

// fieldExpr produces the typed SQL expression for a scope's field. The
// reserved id field addresses the row key; everything else extracts from the
// JSONB document with the cast the schema type requires.
func (b *sqlBuilder) fieldExpr(scope, field string, ft types.FieldType) string {
	t := b.tableAlias(scope)
	if field == types.ReservedFieldID {
		return t + ".id::text"
	}
	key := b.bind(field)
	switch ft {
	case types.FieldTypeNumber:
		return fmt.Sprintf("(%s.data->>%s)::double precision", t, key)
	case types.FieldTypeBoolean:
		return fmt.Sprintf("(%s.data->>%s)::boolean", t, key)
	case types.FieldTypeDate:
		return fmt.Sprintf("(%s.data->>%s)::timestamptz", t, key)
	case types.FieldTypeJson, types.FieldTypeCalculated:
		return fmt.Sprintf("%s.data->%s", t, key)
	default:
		return fmt.Sprintf("%s.data->>%s", t, key)
	}
}

func (b *sqlBuilder) filter(f *query.ResolvedFilter) string {
	expr := b.fieldExpr(f.Alias, f.Field, f.FieldType)

	switch f.Operator {
	case query.OpIsNull:
		return "(" + expr + " IS NULL)"
	case query.OpIsNotNull:
		return "(" + expr + " IS NOT NULL)"
	case query.OpEq:
		return fmt.Sprintf("(%s = %s)", expr, b.operand(f.FieldType, f.Value))
	case query.OpNotEq:
		return fmt.Sprintf("(%s <> %s)", expr, b.operand(f.FieldType, f.Value))
	case query.OpGt:
		return fmt.Sprintf("(%s > %s)", expr, b.operand(f.FieldType, f.Value))
	case query.OpGte:
		return fmt.Sprintf("(%s >= %s)", expr, b.operand(f.FieldType, f.Value))
	case query.OpLt:
		return fmt.Sprintf("(%s < %s)", expr, b.operand(f.FieldType, f.Value))
	case query.OpLte:
		return fmt.Sprintf("(%s <= %s)", expr, b.operand(f.FieldType, f.Value))
	case query.OpIn:
		return fmt.Sprintf("(%s)", b.inList(expr, f, false))
	case query.OpNotIn:
		return fmt.Sprintf("(%s)", b.inList(expr, f, true))
	case query.OpContains:
		return fmt.Sprintf("(%s LIKE %s)", expr, b.bind("%"+escapeLike(f.Value.String())+"%"))
	case query.OpStartsWith:
		return fmt.Sprintf("(%s LIKE %s)", expr, b.bind(escapeLike(f.Value.String())+"%"))
	}
	// unreachable for validated plans
	return "(FALSE)"
}

// operand binds a filter operand with the representation the field
// expression's cast expects.
func (b *sqlBuilder) operand(ft types.FieldType, v types.Value) string {
	switch ft {
	case types.FieldTypeNumber:
		return b.bind(v.Number())
	case types.FieldTypeBoolean:
		return b.bind(v.Bool())
	case types.FieldTypeDate:
		return b.bind(v.String()) + "::timestamptz"
	case types.FieldTypeJson, types.FieldTypeCalculated:
		data, _ := v.MarshalJSON()
		return b.bind(string(data)) + "::jsonb"
	default:
		return b.bind(v.String())
	}
}

// inList renders membership tests. Scalar types ride a single array
// parameter; jsonb and boolean elements are bound individually.
func (b *sqlBuilder) inList(expr string, f *query.ResolvedFilter, negate bool) string {
	elems := f.Value.Array()

	switch f.FieldType {
	case types.FieldTypeNumber:
		vals := make([]float64, 0, len(elems))
		for _, e := range elems {
			vals = append(vals, e.Number())
		}
		if negate {
			return fmt.Sprintf("%s <> ALL(%s)", expr, b.bind(pq.Array(vals)))
		}
		return fmt.Sprintf("%s = ANY(%s)", expr, b.bind(pq.Array(vals)))
	case types.FieldTypeDate:
		vals := make([]string, 0, len(elems))
		for _, e := range elems {
			vals = append(vals, e.String())
		}
		if negate {
			return fmt.Sprintf("%s <> ALL(%s::timestamptz[])", expr, b.bind(pq.Array(vals)))
		}
		return fmt.Sprintf("%s = ANY(%s::timestamptz[])", expr, b.bind(pq.Array(vals)))
	case types.FieldTypeText, types.FieldTypeOptionSet, types.FieldTypeRelation:
		vals := make([]string, 0, len(elems))
		for _, e := range elems {
			vals = append(vals, e.String())
		}
		if negate {
			return fmt.Sprintf("%s <> ALL(%s)", expr, b.bind(pq.Array(vals)))
		}
		return fmt.Sprintf("%s = ANY(%s)", expr, b.bind(pq.Array(vals)))
	}

	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		parts = append(parts, b.operand(f.FieldType, e))
	}
	if len(parts) == 0 {
		if negate {
			return "TRUE"
		}
		return "FALSE"
	}
	kw := "IN"
	if negate {
		kw = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", expr, kw, strings.Join(parts, ", "))
}

// escapeLike escapes LIKE metacharacters so operands match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

package query

import (
	"strings"

	"github.com/recordum/recordum/pkg/types"
)

// FieldLookup resolves a scope's field value during evaluation. present is
// false when the scope row is absent (unmatched LeftOuter link) or the key is
// missing from the record payload.
type FieldLookup func(alias, field string) (value types.Value, present bool)

// EvalGroup evaluates a resolved condition tree. An empty group is true.
func EvalGroup(g *PlanGroup, lookup FieldLookup) bool {
	if g == nil {
		return true
	}
	for _, n := range g.Nodes {
		var matched bool
		if n.Filter != nil {
			v, present := lookup(n.Filter.Alias, n.Filter.Field)
			matched = EvalFilter(n.Filter, v, present)
		} else {
			matched = EvalGroup(n.Group, lookup)
		}
		if g.Mode == LogicalAnd && !matched {
			return false
		}
		if g.Mode == LogicalOr && matched {
			return true
		}
	}
	return g.Mode == LogicalAnd
}

// EvalFilter evaluates one resolved filter against a field value. A missing
// or null value compares as unknown: every operator fails except IsNull.
func EvalFilter(f *ResolvedFilter, v types.Value, present bool) bool {
	isNull := !present || v.IsNull()

	switch f.Operator {
	case OpIsNull:
		return isNull
	case OpIsNotNull:
		return !isNull
	}
	if isNull {
		return false
	}

	switch f.Operator {
	case OpEq:
		return typedEqual(f.FieldType, v, f.Value)
	case OpNotEq:
		return !typedEqual(f.FieldType, v, f.Value)
	case OpGt:
		c, ok := typedCompare(f.FieldType, v, f.Value)
		return ok && c > 0
	case OpGte:
		c, ok := typedCompare(f.FieldType, v, f.Value)
		return ok && c >= 0
	case OpLt:
		c, ok := typedCompare(f.FieldType, v, f.Value)
		return ok && c < 0
	case OpLte:
		c, ok := typedCompare(f.FieldType, v, f.Value)
		return ok && c <= 0
	case OpIn:
		for _, e := range f.Value.Array() {
			if typedEqual(f.FieldType, v, e) {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, e := range f.Value.Array() {
			if typedEqual(f.FieldType, v, e) {
				return false
			}
		}
		return true
	case OpContains:
		return v.Kind() == types.KindString && strings.Contains(v.String(), f.Value.String())
	case OpStartsWith:
		return v.Kind() == types.KindString && strings.HasPrefix(v.String(), f.Value.String())
	}
	return false
}

// typedEqual compares a stored value with an operand under the field's type.
// Text comparison is case-sensitive; numbers compare numerically; Json and
// Calculated compare structurally.
func typedEqual(ft types.FieldType, a, b types.Value) bool {
	switch ft {
	case types.FieldTypeNumber:
		return a.Kind() == types.KindNumber && b.Kind() == types.KindNumber && a.Number() == b.Number()
	case types.FieldTypeDate:
		at, aerr := ParseDate(a.String())
		bt, berr := ParseDate(b.String())
		if aerr != nil || berr != nil {
			return false
		}
		return at.Equal(bt)
	case types.FieldTypeBoolean:
		return a.Kind() == types.KindBool && b.Kind() == types.KindBool && a.Bool() == b.Bool()
	default:
		return a.Equal(b)
	}
}

// typedCompare orders two values under the field's type. ok is false when the
// stored value cannot be ordered (wrong runtime shape), which evaluates as
// not-matching.
func typedCompare(ft types.FieldType, a, b types.Value) (int, bool) {
	switch ft {
	case types.FieldTypeNumber:
		if a.Kind() != types.KindNumber || b.Kind() != types.KindNumber {
			return 0, false
		}
		switch {
		case a.Number() < b.Number():
			return -1, true
		case a.Number() > b.Number():
			return 1, true
		}
		return 0, true
	case types.FieldTypeDate:
		at, aerr := ParseDate(a.String())
		bt, berr := ParseDate(b.String())
		if aerr != nil || berr != nil {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		}
		return 0, true
	case types.FieldTypeText:
		if a.Kind() != types.KindString || b.Kind() != types.KindString {
			return 0, false
		}
		return strings.Compare(a.String(), b.String()), true
	}
	return 0, false
}

// CompareForSort orders two optional field values for a sort entry. Nulls
// sort last ascending and first descending, matching SQL defaults.
func CompareForSort(s ResolvedSort, a types.Value, aPresent bool, b types.Value, bPresent bool) int {
	aNull := !aPresent || a.IsNull()
	bNull := !bPresent || b.IsNull()
	if aNull || bNull {
		if aNull && bNull {
			return 0
		}
		nullRank := 1 // nulls last under Asc
		if s.Direction == SortDesc {
			nullRank = -1
		}
		if aNull {
			return nullRank
		}
		return -nullRank
	}

	c, ok := typedCompare(s.FieldType, a, b)
	if !ok {
		// fall back to the canonical total order for non-orderable types
		c = a.Compare(b)
	}
	if s.Direction == SortDesc {
		return -c
	}
	return c
}

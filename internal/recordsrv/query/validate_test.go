package query_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/query"
	"github.com/recordum/recordum/pkg/types"
)

var errNoSchema apperrors.Error = apperrors.New("no published schema").SetStatusCode(http.StatusNotFound)

// schemaMap is a fixed in-memory schema source for validator tests.
type schemaMap map[string]*models.EntitySchema

func (m schemaMap) LatestSchema(_ context.Context, entity string) (*models.EntitySchema, apperrors.Error) {
	if s, ok := m[entity]; ok {
		return s, nil
	}
	return nil, errNoSchema.Msg(entity)
}

func crmSchemas() schemaMap {
	return schemaMap{
		"deal": {
			EntityName: "deal",
			Version:    1,
			Fields: []models.FieldSnapshot{
				{LogicalName: "title", FieldType: types.FieldTypeText},
				{LogicalName: "amount", FieldType: types.FieldTypeNumber},
				{LogicalName: "open", FieldType: types.FieldTypeBoolean},
				{LogicalName: "closes_on", FieldType: types.FieldTypeDate},
				{LogicalName: "stage", FieldType: types.FieldTypeOptionSet, OptionValues: []string{"new", "won"}},
				{LogicalName: "owner_contact_id", FieldType: types.FieldTypeRelation, RelationTarget: "contact"},
			},
		},
		"contact": {
			EntityName: "contact",
			Version:    1,
			Fields: []models.FieldSnapshot{
				{LogicalName: "name", FieldType: types.FieldTypeText},
				{LogicalName: "company_id", FieldType: types.FieldTypeRelation, RelationTarget: "company"},
			},
		},
		"company": {
			EntityName: "company",
			Version:    1,
			Fields: []models.FieldSnapshot{
				{LogicalName: "name", FieldType: types.FieldTypeText},
			},
		},
	}
}

func TestValidatePagingClamps(t *testing.T) {
	ctx := context.Background()
	schemas := crmSchemas()

	plan, err := query.Validate(ctx, schemas, "deal", &query.Query{}, query.ValidatorOptions{})
	require.Nil(t, err)
	assert.Equal(t, 50, plan.Limit)
	assert.Equal(t, 0, plan.Offset)

	plan, err = query.Validate(ctx, schemas, "deal", &query.Query{Limit: 10000, Offset: 20}, query.ValidatorOptions{})
	require.Nil(t, err)
	assert.Equal(t, 500, plan.Limit)
	assert.Equal(t, 20, plan.Offset)

	plan, err = query.Validate(ctx, schemas, "deal", &query.Query{Limit: 7}, query.ValidatorOptions{MaxLimit: 5, DefaultLimit: 2})
	require.Nil(t, err)
	assert.Equal(t, 5, plan.Limit)

	_, err = query.Validate(ctx, schemas, "deal", &query.Query{Limit: -1}, query.ValidatorOptions{})
	require.NotNil(t, err)
	assert.True(t, err.Is(query.ErrInvalidPaging))

	_, err = query.Validate(ctx, schemas, "deal", &query.Query{Offset: -1}, query.ValidatorOptions{})
	require.NotNil(t, err)
	assert.True(t, err.Is(query.ErrInvalidPaging))
}

func TestValidateUnknownEntityAndField(t *testing.T) {
	ctx := context.Background()
	schemas := crmSchemas()

	_, err := query.Validate(ctx, schemas, "invoice", &query.Query{}, query.ValidatorOptions{})
	require.NotNil(t, err)
	assert.True(t, err.Is(errNoSchema))

	_, err = query.Validate(ctx, schemas, "deal", &query.Query{
		Filters: []query.Filter{{Field: "color", Operator: query.OpEq, Value: types.StringValue("red")}},
	}, query.ValidatorOptions{})
	require.NotNil(t, err)
	assert.True(t, err.Is(query.ErrUnknownField))

	_, err = query.Validate(ctx, schemas, "deal", &query.Query{
		Filters: []query.Filter{{ScopeAlias: "ghost", Field: "title", Operator: query.OpEq, Value: types.StringValue("x")}},
	}, query.ValidatorOptions{})
	require.NotNil(t, err)
	assert.True(t, err.Is(query.ErrUnknownScopeAlias))
}

func TestValidateLinks(t *testing.T) {
	ctx := context.Background()
	schemas := crmSchemas()

	// a chained link: deal -> contact -> company
	plan, err := query.Validate(ctx, schemas, "deal", &query.Query{
		Links: []query.Link{
			{Alias: "owner", RelationField: "owner_contact_id", TargetEntity: "contact"},
			{Alias: "employer", ParentAlias: "owner", RelationField: "company_id", TargetEntity: "company", JoinType: query.JoinLeftOuter},
		},
	}, query.ValidatorOptions{})
	require.Nil(t, err)
	require.Len(t, plan.Links, 2)
	assert.Equal(t, query.JoinInner, plan.Links[0].JoinType)
	assert.Equal(t, "", plan.Links[0].ParentAlias)
	assert.Equal(t, query.JoinLeftOuter, plan.Links[1].JoinType)
	assert.Equal(t, "owner", plan.Links[1].ParentAlias)
	assert.Equal(t, "company", plan.Links[1].Schema.EntityName)

	// the explicit root token parents the same as an empty parent alias
	plan, err = query.Validate(ctx, schemas, "deal", &query.Query{
		Links: []query.Link{{Alias: "owner", ParentAlias: "root", RelationField: "owner_contact_id", TargetEntity: "contact"}},
	}, query.ValidatorOptions{})
	require.Nil(t, err)
	assert.Equal(t, "", plan.Links[0].ParentAlias)

	for name, tc := range map[string]struct {
		link query.Link
		want apperrors.Error
	}{
		"empty alias":    {query.Link{Alias: "", RelationField: "owner_contact_id", TargetEntity: "contact"}, query.ErrReservedAlias},
		"root alias":     {query.Link{Alias: "root", RelationField: "owner_contact_id", TargetEntity: "contact"}, query.ErrReservedAlias},
		"unknown parent": {query.Link{Alias: "owner", ParentAlias: "later", RelationField: "owner_contact_id", TargetEntity: "contact"}, query.ErrInvalidLinkParent},
		"unknown field":  {query.Link{Alias: "owner", RelationField: "no_such", TargetEntity: "contact"}, query.ErrUnknownField},
		"not a relation": {query.Link{Alias: "owner", RelationField: "title", TargetEntity: "contact"}, query.ErrNotARelationField},
		"wrong target":   {query.Link{Alias: "owner", RelationField: "owner_contact_id", TargetEntity: "company"}, query.ErrLinkTargetMismatch},
		"bad join type":  {query.Link{Alias: "owner", RelationField: "owner_contact_id", TargetEntity: "contact", JoinType: "FullOuter"}, query.ErrInvalidQuery},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := query.Validate(ctx, schemas, "deal", &query.Query{Links: []query.Link{tc.link}}, query.ValidatorOptions{})
			require.NotNil(t, err)
			assert.True(t, err.Is(tc.want), "got %v", err)
		})
	}

	_, err = query.Validate(ctx, schemas, "deal", &query.Query{
		Links: []query.Link{
			{Alias: "owner", RelationField: "owner_contact_id", TargetEntity: "contact"},
			{Alias: "owner", RelationField: "owner_contact_id", TargetEntity: "contact"},
		},
	}, query.ValidatorOptions{})
	require.NotNil(t, err)
	assert.True(t, err.Is(query.ErrDuplicateAlias))
}

func TestValidateOperandMatrix(t *testing.T) {
	ctx := context.Background()
	schemas := crmSchemas()

	ok := []query.Filter{
		{Field: "title", Operator: query.OpEq, Value: types.StringValue("Alpha")},
		{Field: "amount", Operator: query.OpGte, Value: types.NumberValue(100)},
		{Field: "closes_on", Operator: query.OpLt, Value: types.StringValue("2026-09-01")},
		{Field: "closes_on", Operator: query.OpEq, Value: types.StringValue("2026-08-25T00:00:00Z")},
		{Field: "stage", Operator: query.OpIn, Value: types.ArrayValue(types.StringValue("new"), types.StringValue("won"))},
		{Field: "title", Operator: query.OpContains, Value: types.StringValue("lph")},
		{Field: "title", Operator: query.OpStartsWith, Value: types.StringValue("Al")},
		{Field: "open", Operator: query.OpEq, Value: types.BoolValue(true)},
		{Field: "amount", Operator: query.OpIsNull},
		{Field: "owner_contact_id", Operator: query.OpIsNotNull},
	}
	for _, f := range ok {
		_, err := query.Validate(ctx, schemas, "deal", &query.Query{Filters: []query.Filter{f}}, query.ValidatorOptions{})
		assert.Nil(t, err, "filter %s %s should validate", f.Field, f.Operator)
	}

	for name, tc := range map[string]struct {
		filter query.Filter
		want   apperrors.Error
	}{
		"eq type mismatch":        {query.Filter{Field: "amount", Operator: query.OpEq, Value: types.StringValue("100")}, query.ErrInvalidOperand},
		"ordering on boolean":     {query.Filter{Field: "open", Operator: query.OpGt, Value: types.BoolValue(false)}, query.ErrInvalidOperator},
		"ordering on relation":    {query.Filter{Field: "owner_contact_id", Operator: query.OpLt, Value: types.StringValue("x")}, query.ErrInvalidOperator},
		"bad date literal":        {query.Filter{Field: "closes_on", Operator: query.OpEq, Value: types.StringValue("next tuesday")}, query.ErrInvalidOperand},
		"in without array":        {query.Filter{Field: "stage", Operator: query.OpIn, Value: types.StringValue("new")}, query.ErrInvalidOperand},
		"in with mixed elements":  {query.Filter{Field: "amount", Operator: query.OpIn, Value: types.ArrayValue(types.NumberValue(1), types.StringValue("2"))}, query.ErrInvalidOperand},
		"contains on number":      {query.Filter{Field: "amount", Operator: query.OpContains, Value: types.StringValue("4")}, query.ErrInvalidOperator},
		"contains non-string":     {query.Filter{Field: "title", Operator: query.OpContains, Value: types.NumberValue(4)}, query.ErrInvalidOperand},
		"isnull with operand":     {query.Filter{Field: "amount", Operator: query.OpIsNull, Value: types.NumberValue(0)}, query.ErrInvalidOperand},
		"unknown operator":        {query.Filter{Field: "title", Operator: "Matches", Value: types.StringValue("x")}, query.ErrInvalidOperator},
		"bool operand for string": {query.Filter{Field: "title", Operator: query.OpNotEq, Value: types.BoolValue(true)}, query.ErrInvalidOperand},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := query.Validate(ctx, schemas, "deal", &query.Query{Filters: []query.Filter{tc.filter}}, query.ValidatorOptions{})
			require.NotNil(t, err)
			assert.True(t, err.Is(tc.want), "got %v", err)
		})
	}
}

func TestValidateWhereTree(t *testing.T) {
	ctx := context.Background()
	schemas := crmSchemas()

	// flat filters and the nested tree merge into one root group
	plan, err := query.Validate(ctx, schemas, "deal", &query.Query{
		LogicalMode: query.LogicalOr,
		Filters: []query.Filter{
			{Field: "open", Operator: query.OpEq, Value: types.BoolValue(true)},
		},
		Where: &query.Group{
			LogicalMode: query.LogicalAnd,
			Nodes: []query.GroupNode{
				{Filter: &query.Filter{Field: "amount", Operator: query.OpGt, Value: types.NumberValue(1000)}},
				{Group: &query.Group{
					LogicalMode: query.LogicalOr,
					Nodes: []query.GroupNode{
						{Filter: &query.Filter{Field: "stage", Operator: query.OpEq, Value: types.StringValue("won")}},
						{Filter: &query.Filter{Field: "title", Operator: query.OpStartsWith, Value: types.StringValue("Big")}},
					},
				}},
			},
		},
	}, query.ValidatorOptions{})
	require.Nil(t, err)
	require.NotNil(t, plan.Where)
	assert.Equal(t, query.LogicalOr, plan.Where.Mode)
	require.Len(t, plan.Where.Nodes, 2)
	assert.NotNil(t, plan.Where.Nodes[0].Filter)
	require.NotNil(t, plan.Where.Nodes[1].Group)
	assert.Equal(t, query.LogicalAnd, plan.Where.Nodes[1].Group.Mode)
	assert.Equal(t, types.FieldTypeNumber, plan.Where.Nodes[1].Group.Nodes[0].Filter.FieldType)

	// a condition-free query plans with no where group at all
	plan, err = query.Validate(ctx, schemas, "deal", &query.Query{}, query.ValidatorOptions{})
	require.Nil(t, err)
	assert.Nil(t, plan.Where)

	_, err = query.Validate(ctx, schemas, "deal", &query.Query{LogicalMode: "Xor"}, query.ValidatorOptions{})
	require.NotNil(t, err)
	assert.True(t, err.Is(query.ErrInvalidQuery))

	// a node must hold exactly one of filter or group
	_, err = query.Validate(ctx, schemas, "deal", &query.Query{
		Where: &query.Group{Nodes: []query.GroupNode{{}}},
	}, query.ValidatorOptions{})
	require.NotNil(t, err)
	assert.True(t, err.Is(query.ErrInvalidGroupNode))

	_, err = query.Validate(ctx, schemas, "deal", &query.Query{
		Where: &query.Group{Nodes: []query.GroupNode{{
			Filter: &query.Filter{Field: "title", Operator: query.OpEq, Value: types.StringValue("x")},
			Group:  &query.Group{},
		}}},
	}, query.ValidatorOptions{})
	require.NotNil(t, err)
	assert.True(t, err.Is(query.ErrInvalidGroupNode))
}

func TestValidateLinkScopedConditionsAndSort(t *testing.T) {
	ctx := context.Background()
	schemas := crmSchemas()

	plan, err := query.Validate(ctx, schemas, "deal", &query.Query{
		Links: []query.Link{{Alias: "owner", RelationField: "owner_contact_id", TargetEntity: "contact"}},
		Filters: []query.Filter{
			{ScopeAlias: "owner", Field: "name", Operator: query.OpEq, Value: types.StringValue("Alice")},
		},
		Sort: []query.SortEntry{
			{ScopeAlias: "owner", Field: "name", Direction: query.SortDesc},
			{Field: "amount"},
		},
	}, query.ValidatorOptions{})
	require.Nil(t, err)
	require.NotNil(t, plan.Where)
	assert.Equal(t, "owner", plan.Where.Nodes[0].Filter.Alias)
	require.Len(t, plan.Sort, 2)
	assert.Equal(t, "owner", plan.Sort[0].Alias)
	assert.Equal(t, query.SortDesc, plan.Sort[0].Direction)
	assert.Equal(t, "", plan.Sort[1].Alias)
	assert.Equal(t, query.SortAsc, plan.Sort[1].Direction)
	assert.Equal(t, types.FieldTypeNumber, plan.Sort[1].FieldType)

	_, err = query.Validate(ctx, schemas, "deal", &query.Query{
		Sort: []query.SortEntry{{Field: "title", Direction: "Sideways"}},
	}, query.ValidatorOptions{})
	require.NotNil(t, err)
	assert.True(t, err.Is(query.ErrInvalidQuery))

	_, err = query.Validate(ctx, schemas, "deal", &query.Query{
		Sort: []query.SortEntry{{ScopeAlias: "owner", Field: "name"}},
	}, query.ValidatorOptions{})
	require.NotNil(t, err)
	assert.True(t, err.Is(query.ErrUnknownScopeAlias))
}

func TestParseDateForms(t *testing.T) {
	ts, err := query.ParseDate("2026-08-25T10:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 10, ts.Hour())

	day, err := query.ParseDate("2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, 0, day.Hour())

	_, err = query.ParseDate("25/08/2026")
	assert.Error(t, err)
}

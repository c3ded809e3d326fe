package metadata_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordum/recordum/internal/recordsrv/authz"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/memstore"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/metadata"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
	"github.com/recordum/recordum/pkg/types"
)

func testCtx(t *testing.T, tenant string) (context.Context, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	ctx := db.WithStore(context.Background(), store)
	ctx = reccommon.WithTenantID(ctx, types.TenantId(tenant))
	ctx = reccommon.WithSystemIdentity(ctx)
	return ctx, store
}

func TestLogicalNameValidation(t *testing.T) {
	valid := []string{"account", "a", "order_line_2", "x1_y2"}
	for _, name := range valid {
		assert.True(t, metadata.ValidateLogicalName(name), name)
	}
	invalid := []string{"", "Account", "1order", "_lead", "order-line", "order line", "café"}
	for _, name := range invalid {
		assert.False(t, metadata.ValidateLogicalName(name), name)
	}
}

func TestCreateEntityRejectsBadRequests(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-md-entity")

	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "Bad-Name", DisplayName: "Bad"})
	require.NotNil(t, err)
	assert.True(t, err.Is(metadata.ErrInvalidDefinition))

	_, err = metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "good_name"})
	require.NotNil(t, err)
	assert.True(t, err.Is(metadata.ErrInvalidDefinition))

	_, err = metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "account", DisplayName: "Account"})
	require.Nil(t, err)
	_, err = metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "account", DisplayName: "Account"})
	require.NotNil(t, err)
	assert.True(t, err.Is(metadata.ErrAlreadyExists))
}

func TestFieldRequestValidation(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-md-field")
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "lead", DisplayName: "Lead"})
	require.Nil(t, err)

	cases := []struct {
		name string
		req  *metadata.FieldRequest
	}{
		{"reserved id name", &metadata.FieldRequest{
			LogicalName: "id", DisplayName: "Id", FieldType: types.FieldTypeText}},
		{"unknown field type", &metadata.FieldRequest{
			LogicalName: "f", DisplayName: "F", FieldType: "Blob"}},
		{"relation without target", &metadata.FieldRequest{
			LogicalName: "owner", DisplayName: "Owner", FieldType: types.FieldTypeRelation}},
		{"relation to unknown entity", &metadata.FieldRequest{
			LogicalName: "owner", DisplayName: "Owner", FieldType: types.FieldTypeRelation, RelationTarget: "nothing"}},
		{"option set without definition", &metadata.FieldRequest{
			LogicalName: "stage", DisplayName: "Stage", FieldType: types.FieldTypeOptionSet, OptionSetName: "stages"}},
		{"calculated without expression", &metadata.FieldRequest{
			LogicalName: "score", DisplayName: "Score", FieldType: types.FieldTypeCalculated}},
		{"calculated with broken expression", &metadata.FieldRequest{
			LogicalName: "score", DisplayName: "Score", FieldType: types.FieldTypeCalculated, Calculation: "record.a +"}},
		{"calculated cannot be required", &metadata.FieldRequest{
			LogicalName: "score", DisplayName: "Score", FieldType: types.FieldTypeCalculated,
			Calculation: "1 + 1", Required: true}},
		{"calculated cannot be unique", &metadata.FieldRequest{
			LogicalName: "score", DisplayName: "Score", FieldType: types.FieldTypeCalculated,
			Calculation: "1 + 1", Unique: true}},
		{"default must be valid json", &metadata.FieldRequest{
			LogicalName: "n", DisplayName: "N", FieldType: types.FieldTypeNumber, DefaultValue: []byte(`{broken`)}},
		{"min above max", &metadata.FieldRequest{
			LogicalName: "n", DisplayName: "N", FieldType: types.FieldTypeNumber,
			MinValue: f64(10), MaxValue: f64(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := metadata.CreateField(ctx, "lead", tc.req)
			require.NotNil(t, err)
			assert.True(t, err.Is(metadata.ErrInvalidDefinition))
		})
	}

	_, err = metadata.CreateField(ctx, "missing", &metadata.FieldRequest{
		LogicalName: "f", DisplayName: "F", FieldType: types.FieldTypeText})
	require.NotNil(t, err)
	assert.True(t, err.Is(metadata.ErrEntityNotFound))
}

func f64(v float64) *float64 { return &v }

func TestPublicationFreezesFieldShape(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-md-freeze")
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "invoice", DisplayName: "Invoice"})
	require.Nil(t, err)
	_, err = metadata.CreateField(ctx, "invoice", &metadata.FieldRequest{
		LogicalName: "amount", DisplayName: "Amount", FieldType: types.FieldTypeNumber})
	require.Nil(t, err)

	// before publication the type is still mutable
	_, err = metadata.UpdateField(ctx, "invoice", &metadata.FieldRequest{
		LogicalName: "amount", DisplayName: "Amount", FieldType: types.FieldTypeText})
	require.Nil(t, err)
	_, err = metadata.UpdateField(ctx, "invoice", &metadata.FieldRequest{
		LogicalName: "amount", DisplayName: "Amount", FieldType: types.FieldTypeNumber})
	require.Nil(t, err)

	schema, err := metadata.PublishEntity(ctx, "invoice")
	require.Nil(t, err)
	assert.Equal(t, 1, schema.Version)

	_, err = metadata.UpdateField(ctx, "invoice", &metadata.FieldRequest{
		LogicalName: "amount", DisplayName: "Amount", FieldType: types.FieldTypeText})
	require.NotNil(t, err)
	assert.True(t, err.Is(metadata.ErrFieldFrozen))

	err = metadata.DeleteField(ctx, "invoice", "amount")
	require.NotNil(t, err)
	assert.True(t, err.Is(metadata.ErrFieldFrozen))

	// presentational changes stay allowed after publication
	updated, err := metadata.UpdateField(ctx, "invoice", &metadata.FieldRequest{
		LogicalName: "amount", DisplayName: "Invoice Amount", FieldType: types.FieldTypeNumber})
	require.Nil(t, err)
	assert.Equal(t, "Invoice Amount", updated.DisplayName)
}

func TestPublishedVersionsAreImmutableSnapshots(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-md-versions")
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "asset", DisplayName: "Asset"})
	require.Nil(t, err)
	_, err = metadata.CreateField(ctx, "asset", &metadata.FieldRequest{
		LogicalName: "tag", DisplayName: "Tag", FieldType: types.FieldTypeText})
	require.Nil(t, err)

	v1, err := metadata.PublishEntity(ctx, "asset")
	require.Nil(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Len(t, v1.Fields, 1)

	_, err = metadata.CreateField(ctx, "asset", &metadata.FieldRequest{
		LogicalName: "location", DisplayName: "Location", FieldType: types.FieldTypeText})
	require.Nil(t, err)
	v2, err := metadata.PublishEntity(ctx, "asset")
	require.Nil(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Len(t, v2.Fields, 2)

	// the old snapshot keeps its shape
	old, err := metadata.GetPublishedSchema(ctx, "asset", 1)
	require.Nil(t, err)
	assert.Len(t, old.Fields, 1)

	latest, err := metadata.GetPublishedSchema(ctx, "asset", 0)
	require.Nil(t, err)
	assert.Equal(t, 2, latest.Version)

	versions, err := metadata.ListPublishedVersions(ctx, "asset")
	require.Nil(t, err)
	assert.Len(t, versions, 2)
}

func TestPublishRequiresFields(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-md-nofields")
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "empty", DisplayName: "Empty"})
	require.Nil(t, err)
	_, err = metadata.PublishEntity(ctx, "empty")
	require.NotNil(t, err)
}

func TestPublishRequiresFieldPermission(t *testing.T) {
	ctx, store := testCtx(t, "tenant-md-pubperm")
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "asset", DisplayName: "Asset"})
	require.Nil(t, err)
	_, err = metadata.CreateField(ctx, "asset", &metadata.FieldRequest{
		LogicalName: "label", DisplayName: "Label", FieldType: types.FieldTypeText,
	})
	require.Nil(t, err)

	require.Nil(t, authz.UpsertRole(ctx, "entity_admin", []types.Permission{
		types.PermissionMetadataEntityCreate,
	}))
	require.Nil(t, authz.BindRole(ctx, "pat", "entity_admin"))

	patCtx := db.WithStore(context.Background(), store)
	patCtx = reccommon.WithTenantID(patCtx, "tenant-md-pubperm")
	patCtx = reccommon.WithSubject(patCtx, "pat")

	// the entity permission alone is not enough to freeze field shapes
	_, err = metadata.PublishEntity(patCtx, "asset")
	require.NotNil(t, err)
	assert.True(t, err.Is(authz.ErrForbidden))

	require.Nil(t, authz.UpsertRole(ctx, "entity_admin", []types.Permission{
		types.PermissionMetadataEntityCreate,
		types.PermissionMetadataFieldWrite,
	}))
	schema, err := metadata.PublishEntity(patCtx, "asset")
	require.Nil(t, err)
	assert.Equal(t, 1, schema.Version)
}

func TestFormValidation(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-md-form")
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "case_file", DisplayName: "Case"})
	require.Nil(t, err)
	_, err = metadata.CreateField(ctx, "case_file", &metadata.FieldRequest{
		LogicalName: "subject", DisplayName: "Subject", FieldType: types.FieldTypeText})
	require.Nil(t, err)
	_, err = metadata.CreateField(ctx, "case_file", &metadata.FieldRequest{
		LogicalName: "notes", DisplayName: "Notes", FieldType: types.FieldTypeText})
	require.Nil(t, err)

	mainForm := func(placements []metadata.FieldPlacement) *metadata.FormSpec {
		return &metadata.FormSpec{
			Name:     "main",
			FormType: types.FormTypeMain,
			Tabs: []metadata.FormTab{{
				Label: "General",
				Sections: []metadata.FormSection{{
					Label: "Details", Columns: 2, Placements: placements,
				}},
			}},
		}
	}

	require.Nil(t, metadata.SaveForm(ctx, "case_file", mainForm([]metadata.FieldPlacement{
		{Field: "subject", Column: 0, Position: 0},
		{Field: "notes", Column: 0, Position: 1},
		{Field: "id", Column: 1, Position: 0},
	})))

	t.Run("unknown field placement", func(t *testing.T) {
		err := metadata.SaveForm(ctx, "case_file", mainForm([]metadata.FieldPlacement{
			{Field: "ghost", Column: 0, Position: 0},
		}))
		require.NotNil(t, err)
		assert.True(t, err.Is(metadata.ErrInvalidDefinition))
	})

	t.Run("column gap", func(t *testing.T) {
		err := metadata.SaveForm(ctx, "case_file", mainForm([]metadata.FieldPlacement{
			{Field: "subject", Column: 0, Position: 0},
			{Field: "notes", Column: 2, Position: 0},
		}))
		require.NotNil(t, err)
		assert.True(t, err.Is(metadata.ErrInvalidDefinition))
	})

	t.Run("position gap within a column", func(t *testing.T) {
		err := metadata.SaveForm(ctx, "case_file", mainForm([]metadata.FieldPlacement{
			{Field: "subject", Column: 0, Position: 0},
			{Field: "notes", Column: 0, Position: 2},
		}))
		require.NotNil(t, err)
		assert.True(t, err.Is(metadata.ErrInvalidDefinition))
	})

	t.Run("quick create allows a single section only", func(t *testing.T) {
		spec := &metadata.FormSpec{
			Name:     "quick",
			FormType: types.FormTypeQuickCreate,
			Tabs: []metadata.FormTab{{
				Label: "Quick",
				Sections: []metadata.FormSection{
					{Label: "A", Columns: 1, Placements: []metadata.FieldPlacement{{Field: "subject"}}},
					{Label: "B", Columns: 1, Placements: []metadata.FieldPlacement{{Field: "notes"}}},
				},
			}},
		}
		err := metadata.SaveForm(ctx, "case_file", spec)
		require.NotNil(t, err)
		assert.True(t, err.Is(metadata.ErrInvalidDefinition))

		spec.Tabs[0].Sections = spec.Tabs[0].Sections[:1]
		require.Nil(t, metadata.SaveForm(ctx, "case_file", spec))
	})
}

func TestViewValidation(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-md-view")
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "project", DisplayName: "Project"})
	require.Nil(t, err)
	_, err = metadata.CreateField(ctx, "project", &metadata.FieldRequest{
		LogicalName: "status", DisplayName: "Status", FieldType: types.FieldTypeText})
	require.Nil(t, err)

	require.Nil(t, metadata.SaveView(ctx, "project", &metadata.ViewSpec{
		Name:    "active",
		Columns: []string{"id", "status"},
		Sort:    []metadata.ViewSort{{Field: "status"}},
		Filter:  &metadata.ViewFilter{Field: "status", Op: metadata.RuleOpEquals, Value: []byte(`"active"`)},
	}))

	err = metadata.SaveView(ctx, "project", &metadata.ViewSpec{
		Name:    "broken",
		Columns: []string{"ghost"},
	})
	require.NotNil(t, err)
	assert.True(t, err.Is(metadata.ErrInvalidDefinition))

	err = metadata.SaveView(ctx, "project", &metadata.ViewSpec{
		Name:    "broken_filter",
		Columns: []string{"status"},
		Filter:  &metadata.ViewFilter{Field: "status", Op: "Matches"},
	})
	require.NotNil(t, err)
	assert.True(t, err.Is(metadata.ErrInvalidDefinition))
}

func TestBusinessRuleValidation(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-md-rule")
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "claim", DisplayName: "Claim"})
	require.Nil(t, err)
	_, err = metadata.CreateField(ctx, "claim", &metadata.FieldRequest{
		LogicalName: "amount", DisplayName: "Amount", FieldType: types.FieldTypeNumber})
	require.Nil(t, err)
	_, err = metadata.CreateField(ctx, "claim", &metadata.FieldRequest{
		LogicalName: "flagged", DisplayName: "Flagged", FieldType: types.FieldTypeBoolean})
	require.Nil(t, err)
	_, err = metadata.CreateField(ctx, "claim", &metadata.FieldRequest{
		LogicalName: "derived", DisplayName: "Derived", FieldType: types.FieldTypeCalculated, Calculation: "record.amount * 2"})
	require.Nil(t, err)

	require.Nil(t, metadata.SaveBusinessRule(ctx, "claim", &metadata.BusinessRuleSpec{
		Name:      "flag_large",
		Enabled:   true,
		Condition: metadata.RuleCondition{Field: "amount", Op: metadata.RuleOpGreaterThan, Value: []byte(`1000`)},
		Actions:   []metadata.RuleAction{{Type: metadata.RuleActionSetFieldValue, Field: "flagged", Value: []byte(`true`)}},
	}))

	rejected := []*metadata.BusinessRuleSpec{
		{ // condition on unknown field
			Name:      "bad_condition",
			Condition: metadata.RuleCondition{Field: "ghost", Op: metadata.RuleOpExists},
			Actions:   []metadata.RuleAction{{Type: metadata.RuleActionRejectWrite, Message: "m"}},
		},
		{ // set action targeting unknown field
			Name:      "bad_target",
			Condition: metadata.RuleCondition{Field: "amount", Op: metadata.RuleOpExists},
			Actions:   []metadata.RuleAction{{Type: metadata.RuleActionSetFieldValue, Field: "ghost", Value: []byte(`1`)}},
		},
		{ // set action targeting a calculated field
			Name:      "bad_calculated",
			Condition: metadata.RuleCondition{Field: "amount", Op: metadata.RuleOpExists},
			Actions:   []metadata.RuleAction{{Type: metadata.RuleActionSetFieldValue, Field: "derived", Value: []byte(`1`)}},
		},
		{ // reject without message
			Name:      "bad_reject",
			Condition: metadata.RuleCondition{Field: "amount", Op: metadata.RuleOpExists},
			Actions:   []metadata.RuleAction{{Type: metadata.RuleActionRejectWrite}},
		},
		{ // unknown action type
			Name:      "bad_action",
			Condition: metadata.RuleCondition{Field: "amount", Op: metadata.RuleOpExists},
			Actions:   []metadata.RuleAction{{Type: "SendEmail"}},
		},
		{ // unknown operator
			Name:      "bad_op",
			Condition: metadata.RuleCondition{Field: "amount", Op: "Matches"},
			Actions:   []metadata.RuleAction{{Type: metadata.RuleActionRejectWrite, Message: "m"}},
		},
	}
	for _, spec := range rejected {
		t.Run(spec.Name, func(t *testing.T) {
			err := metadata.SaveBusinessRule(ctx, "claim", spec)
			require.NotNil(t, err)
			assert.True(t, err.Is(metadata.ErrInvalidDefinition))
		})
	}
}

func TestOptionSetLifecycle(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-md-options")
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "pipeline", DisplayName: "Pipeline"})
	require.Nil(t, err)

	err = metadata.SaveOptionSet(ctx, "pipeline", &metadata.OptionSetSpec{
		Name: "stages",
		Options: []metadata.OptionSpec{
			{Value: "open", Label: "Open"},
			{Value: "open", Label: "Duplicate"},
		},
	})
	require.NotNil(t, err)
	assert.True(t, err.Is(metadata.ErrInvalidDefinition))

	require.Nil(t, metadata.SaveOptionSet(ctx, "pipeline", &metadata.OptionSetSpec{
		Name: "stages",
		Options: []metadata.OptionSpec{
			{Value: "open", Label: "Open"},
			{Value: "won", Label: "Won"},
		},
	}))
	_, err = metadata.CreateField(ctx, "pipeline", &metadata.FieldRequest{
		LogicalName: "stage", DisplayName: "Stage", FieldType: types.FieldTypeOptionSet, OptionSetName: "stages"})
	require.Nil(t, err)

	// a referenced option set cannot be deleted
	err = metadata.DeleteDefinition(ctx, models.DefinitionKindOptionSet, "pipeline", "stages")
	require.NotNil(t, err)
	assert.True(t, err.Is(metadata.ErrDefinitionInUse))

	require.Nil(t, metadata.DeleteField(ctx, "pipeline", "stage"))
	require.Nil(t, metadata.DeleteDefinition(ctx, models.DefinitionKindOptionSet, "pipeline", "stages"))
}

func TestEntityDeleteGuard(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-md-delete")
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "junk", DisplayName: "Junk"})
	require.Nil(t, err)
	require.Nil(t, metadata.DeleteEntity(ctx, "junk"))

	err = metadata.DeleteEntity(ctx, "junk")
	require.NotNil(t, err)
	assert.True(t, err.Is(metadata.ErrEntityNotFound))
}

func TestApplyManifest(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-md-manifest")

	manifest := []byte(`
entity:
  logical_name: supplier
  display_name: Supplier
option_sets:
  - name: ratings
    options:
      - value: gold
        label: Gold
      - value: silver
        label: Silver
fields:
  - logical_name: name
    display_name: Name
    field_type: Text
    required: true
  - logical_name: rating
    display_name: Rating
    field_type: OptionSet
    option_set_name: ratings
views:
  - name: all_suppliers
    columns: [id, name, rating]
publish: true
`)
	require.Nil(t, metadata.ApplyManifest(ctx, manifest))

	schema, err := metadata.GetPublishedSchema(ctx, "supplier", 0)
	require.Nil(t, err)
	assert.Equal(t, 1, schema.Version)
	assert.Len(t, schema.Fields, 2)

	// re-applying is idempotent and publishes a fresh version
	require.Nil(t, metadata.ApplyManifest(ctx, manifest))
	schema, err = metadata.GetPublishedSchema(ctx, "supplier", 0)
	require.Nil(t, err)
	assert.Equal(t, 2, schema.Version)

	err = metadata.ApplyManifest(ctx, []byte("entity: [broken"))
	require.NotNil(t, err)
	assert.True(t, err.Is(metadata.ErrInvalidDefinition))
}

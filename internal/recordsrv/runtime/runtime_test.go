package runtime_test

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
	"github.com/recordum/recordum/internal/recordsrv/query"
	"github.com/recordum/recordum/internal/recordsrv/runtime"
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

func mustCreateField(t *testing.T, ctx context.Context, entity string, req *metadata.FieldRequest) {
	t.Helper()
	_, err := metadata.CreateField(ctx, entity, req)
	require.Nil(t, err)
}

func setupContactEntity(t *testing.T, ctx context.Context) {
	t.Helper()
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "contact", DisplayName: "Contact"})
	require.Nil(t, err)
	mustCreateField(t, ctx, "contact", &metadata.FieldRequest{
		LogicalName: "name", DisplayName: "Name", FieldType: types.FieldTypeText, Required: true,
	})
	mustCreateField(t, ctx, "contact", &metadata.FieldRequest{
		LogicalName: "email", DisplayName: "Email", FieldType: types.FieldTypeText, Required: true, Unique: true,
	})
	_, err = metadata.PublishEntity(ctx, "contact")
	require.Nil(t, err)
}

func setupDealEntity(t *testing.T, ctx context.Context) {
	t.Helper()
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "deal", DisplayName: "Deal"})
	require.Nil(t, err)
	mustCreateField(t, ctx, "deal", &metadata.FieldRequest{
		LogicalName: "title", DisplayName: "Title", FieldType: types.FieldTypeText, Required: true,
	})
	mustCreateField(t, ctx, "deal", &metadata.FieldRequest{
		LogicalName: "stage", DisplayName: "Stage", FieldType: types.FieldTypeText,
	})
	mustCreateField(t, ctx, "deal", &metadata.FieldRequest{
		LogicalName: "owner_contact_id", DisplayName: "Owner", FieldType: types.FieldTypeRelation,
		Required: true, RelationTarget: "contact",
	})
	_, err = metadata.PublishEntity(ctx, "deal")
	require.Nil(t, err)
}

func TestPublishThenWrite(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-s1")
	setupContactEntity(t, ctx)

	r1, err := runtime.CreateRecord(ctx, "contact", []byte(`{"name":"A","email":"a@x"}`), "")
	require.Nil(t, err)

	_, err = runtime.CreateRecord(ctx, "contact", []byte(`{"name":"B","email":"a@x"}`), "")
	require.NotNil(t, err)
	assert.True(t, err.Is(runtime.ErrUniqueConflict))
	assert.Contains(t, err.Error(), "email")

	_, err = runtime.UpdateRecord(ctx, "contact", r1.ID, []byte(`{"name":"A","email":"b@x"}`))
	require.Nil(t, err)

	_, err = runtime.CreateRecord(ctx, "contact", []byte(`{"name":"C","email":"a@x"}`), "")
	require.Nil(t, err)
}

func TestReservedIDKeyTolerated(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-reservedid")
	setupContactEntity(t, ctx)

	// the reserved id key may appear in a payload; the generated record id
	// stays authoritative and the key is not stored in data
	r, err := runtime.CreateRecord(ctx, "contact",
		[]byte(`{"id":"018f3a44-0000-7000-8000-00000000abcd","name":"A","email":"rid@x"}`), "")
	require.Nil(t, err)
	assert.NotEqual(t, "018f3a44-0000-7000-8000-00000000abcd", r.ID.String())

	data, errV := types.ValueFromJSON(r.Data.Bytes)
	require.NoError(t, errV)
	_, present := data.Field(types.ReservedFieldID)
	assert.False(t, present)

	// any other unknown key is still rejected
	_, err = runtime.CreateRecord(ctx, "contact", []byte(`{"name":"B","email":"b@x","color":"red"}`), "")
	require.NotNil(t, err)
	assert.True(t, err.Is(runtime.ErrInvalidPayload))
}

func TestRelationDeleteGuard(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-s2")
	setupContactEntity(t, ctx)
	setupDealEntity(t, ctx)

	c1, err := runtime.CreateRecord(ctx, "contact", []byte(`{"name":"C1","email":"c1@x"}`), "")
	require.Nil(t, err)
	d1, err := runtime.CreateRecord(ctx, "deal",
		[]byte(`{"title":"D1","owner_contact_id":"`+c1.ID.String()+`"}`), "")
	require.Nil(t, err)

	err = runtime.DeleteRecord(ctx, "contact", c1.ID)
	require.NotNil(t, err)
	assert.True(t, err.Is(runtime.ErrRelationIntegrity))

	require.Nil(t, runtime.DeleteRecord(ctx, "deal", d1.ID))
	require.Nil(t, runtime.DeleteRecord(ctx, "contact", c1.ID))
}

func TestRelationTargetMustExist(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-relmissing")
	setupContactEntity(t, ctx)
	setupDealEntity(t, ctx)

	_, err := runtime.CreateRecord(ctx, "deal",
		[]byte(`{"title":"Orphan","owner_contact_id":"018f3a44-0000-7000-8000-000000000000"}`), "")
	require.NotNil(t, err)
	assert.True(t, err.Is(runtime.ErrInvalidPayload))
}

func TestLinkedQuery(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-s3")
	setupContactEntity(t, ctx)
	setupDealEntity(t, ctx)

	alice, err := runtime.CreateRecord(ctx, "contact", []byte(`{"name":"Alice","email":"alice@x"}`), "")
	require.Nil(t, err)
	bob, err := runtime.CreateRecord(ctx, "contact", []byte(`{"name":"Bob","email":"bob@x"}`), "")
	require.Nil(t, err)

	alpha, err := runtime.CreateRecord(ctx, "deal",
		[]byte(`{"title":"Alpha","owner_contact_id":"`+alice.ID.String()+`"}`), "")
	require.Nil(t, err)
	_, err = runtime.CreateRecord(ctx, "deal",
		[]byte(`{"title":"Beta","owner_contact_id":"`+bob.ID.String()+`"}`), "")
	require.Nil(t, err)

	results, err := runtime.QueryRecords(ctx, "deal", &query.Query{
		Links: []query.Link{{
			Alias:         "owner",
			RelationField: "owner_contact_id",
			TargetEntity:  "contact",
			JoinType:      query.JoinInner,
		}},
		Filters: []query.Filter{{
			ScopeAlias: "owner",
			Field:      "name",
			Operator:   query.OpEq,
			Value:      types.StringValue("Alice"),
		}},
	})
	require.Nil(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, alpha.ID, results[0].ID)
}

func TestLeftOuterLinkWithMissingTarget(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-leftouter")
	setupContactEntity(t, ctx)
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "note", DisplayName: "Note"})
	require.Nil(t, err)
	mustCreateField(t, ctx, "note", &metadata.FieldRequest{
		LogicalName: "body", DisplayName: "Body", FieldType: types.FieldTypeText, Required: true,
	})
	mustCreateField(t, ctx, "note", &metadata.FieldRequest{
		LogicalName: "contact_id", DisplayName: "Contact", FieldType: types.FieldTypeRelation,
		RelationTarget: "contact",
	})
	_, err = metadata.PublishEntity(ctx, "note")
	require.Nil(t, err)

	alice, err := runtime.CreateRecord(ctx, "contact", []byte(`{"name":"Alice","email":"alice@lo"}`), "")
	require.Nil(t, err)
	linked, err := runtime.CreateRecord(ctx, "note",
		[]byte(`{"body":"call back","contact_id":"`+alice.ID.String()+`"}`), "")
	require.Nil(t, err)
	orphan, err := runtime.CreateRecord(ctx, "note", []byte(`{"body":"loose end"}`), "")
	require.Nil(t, err)

	link := query.Link{
		Alias:         "who",
		RelationField: "contact_id",
		TargetEntity:  "contact",
		JoinType:      query.JoinLeftOuter,
	}

	// an unmatched left-outer scope reads as null, so IsNull selects the
	// unlinked note
	results, err := runtime.QueryRecords(ctx, "note", &query.Query{
		Links: []query.Link{link},
		Filters: []query.Filter{{
			ScopeAlias: "who", Field: "name", Operator: query.OpIsNull,
		}},
	})
	require.Nil(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, orphan.ID, results[0].ID)

	results, err = runtime.QueryRecords(ctx, "note", &query.Query{
		Links: []query.Link{link},
		Filters: []query.Filter{{
			ScopeAlias: "who", Field: "name", Operator: query.OpEq, Value: types.StringValue("Alice"),
		}},
	})
	require.Nil(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, linked.ID, results[0].ID)
}

func TestWritePipelineNormalization(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-pipeline")
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "order", DisplayName: "Order"})
	require.Nil(t, err)
	mustCreateField(t, ctx, "order", &metadata.FieldRequest{
		LogicalName: "quantity", DisplayName: "Qty", FieldType: types.FieldTypeNumber, Required: true,
	})
	mustCreateField(t, ctx, "order", &metadata.FieldRequest{
		LogicalName: "unit_price", DisplayName: "Unit Price", FieldType: types.FieldTypeNumber,
		DefaultValue: []byte(`10`),
	})
	mustCreateField(t, ctx, "order", &metadata.FieldRequest{
		LogicalName: "placed_at", DisplayName: "Placed", FieldType: types.FieldTypeDate,
	})
	mustCreateField(t, ctx, "order", &metadata.FieldRequest{
		LogicalName: "total", DisplayName: "Total", FieldType: types.FieldTypeCalculated,
		Calculation: "record.quantity * record.unit_price",
	})
	_, err = metadata.PublishEntity(ctx, "order")
	require.Nil(t, err)

	t.Run("coercion, defaults, and calculation", func(t *testing.T) {
		rec, err := runtime.CreateRecord(ctx, "order",
			[]byte(`{"quantity":"3","placed_at":"2026-08-25"}`), "")
		require.Nil(t, err)

		v, errV := types.ValueFromJSON(rec.Data.Bytes)
		require.NoError(t, errV)
		qty, _ := v.Field("quantity")
		assert.Equal(t, float64(3), qty.Number())
		price, _ := v.Field("unit_price")
		assert.Equal(t, float64(10), price.Number())
		total, _ := v.Field("total")
		assert.Equal(t, float64(30), total.Number())
		placed, _ := v.Field("placed_at")
		assert.Equal(t, "2026-08-25T00:00:00Z", placed.String())
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		_, err := runtime.CreateRecord(ctx, "order", []byte(`{"quantity":1,"bogus":true}`), "")
		require.NotNil(t, err)
		assert.True(t, err.Is(runtime.ErrInvalidPayload))
	})

	t.Run("calculated fields are not writable", func(t *testing.T) {
		_, err := runtime.CreateRecord(ctx, "order", []byte(`{"quantity":1,"total":999}`), "")
		require.NotNil(t, err)
		assert.True(t, err.Is(runtime.ErrInvalidPayload))
	})

	t.Run("required fields are enforced", func(t *testing.T) {
		_, err := runtime.CreateRecord(ctx, "order", []byte(`{"placed_at":"2026-01-01"}`), "")
		require.NotNil(t, err)
		assert.True(t, err.Is(runtime.ErrInvalidPayload))
	})

	t.Run("lossy numeric strings are rejected", func(t *testing.T) {
		_, err := runtime.CreateRecord(ctx, "order", []byte(`{"quantity":"three"}`), "")
		require.NotNil(t, err)
		assert.True(t, err.Is(runtime.ErrInvalidPayload))
	})
}

func TestBusinessRules(t *testing.T) {
	ctx, _ := testCtx(t, "tenant-rules")
	_, err := metadata.CreateEntity(ctx, &metadata.EntityRequest{LogicalName: "ticket", DisplayName: "Ticket"})
	require.Nil(t, err)
	mustCreateField(t, ctx, "ticket", &metadata.FieldRequest{
		LogicalName: "severity", DisplayName: "Severity", FieldType: types.FieldTypeText, Required: true,
	})
	mustCreateField(t, ctx, "ticket", &metadata.FieldRequest{
		LogicalName: "priority", DisplayName: "Priority", FieldType: types.FieldTypeText,
	})

	require.Nil(t, metadata.SaveBusinessRule(ctx, "ticket", &metadata.BusinessRuleSpec{
		Name:      "escalate_critical",
		Enabled:   true,
		Condition: metadata.RuleCondition{Field: "severity", Op: metadata.RuleOpEquals, Value: []byte(`"critical"`)},
		Actions: []metadata.RuleAction{
			{Type: metadata.RuleActionSetFieldValue, Field: "priority", Value: []byte(`"p0"`)},
		},
	}))
	require.Nil(t, metadata.SaveBusinessRule(ctx, "ticket", &metadata.BusinessRuleSpec{
		Name:      "reject_unknown",
		Enabled:   true,
		Condition: metadata.RuleCondition{Field: "severity", Op: metadata.RuleOpEquals, Value: []byte(`"unknown"`)},
		Actions: []metadata.RuleAction{
			{Type: metadata.RuleActionRejectWrite, Message: "severity unknown is not allowed"},
		},
	}))
	_, err = metadata.PublishEntity(ctx, "ticket")
	require.Nil(t, err)

	rec, err := runtime.CreateRecord(ctx, "ticket", []byte(`{"severity":"critical"}`), "")
	require.Nil(t, err)
	v, errV := types.ValueFromJSON(rec.Data.Bytes)
	require.NoError(t, errV)
	priority, _ := v.Field("priority")
	assert.Equal(t, "p0", priority.String())

	_, err = runtime.CreateRecord(ctx, "ticket", []byte(`{"severity":"unknown"}`), "")
	require.NotNil(t, err)
	assert.True(t, err.Is(runtime.ErrWriteRejected))
	assert.Contains(t, err.Error(), "not allowed")
}

func TestOwnershipScope(t *testing.T) {
	ctx, store := testCtx(t, "tenant-own")
	setupContactEntity(t, ctx)

	require.Nil(t, authz.UpsertRole(ctx, "record-user", []types.Permission{
		types.PermissionRuntimeRecordRead,
		types.PermissionRuntimeRecordWrite,
	}))
	require.Nil(t, authz.BindRole(ctx, "alice", "record-user"))
	require.Nil(t, authz.BindRole(ctx, "bob", "record-user"))
	require.Nil(t, store.SetOwnershipScope(ctx, "bob", types.OwnershipScopeOwn))

	aliceCtx := reccommon.WithSubject(db.WithStore(context.Background(), store), "alice")
	aliceCtx = reccommon.WithTenantID(aliceCtx, "tenant-own")
	bobCtx := reccommon.WithSubject(db.WithStore(context.Background(), store), "bob")
	bobCtx = reccommon.WithTenantID(bobCtx, "tenant-own")

	r1, err := runtime.CreateRecord(aliceCtx, "contact", []byte(`{"name":"A","email":"a@own"}`), "")
	require.Nil(t, err)
	r2, err := runtime.CreateRecord(bobCtx, "contact", []byte(`{"name":"B","email":"b@own"}`), "")
	require.Nil(t, err)

	// bob is scoped to Own: alice's record is invisible and immutable to him
	_, err = runtime.GetRecord(bobCtx, "contact", r1.ID)
	require.NotNil(t, err)
	assert.True(t, err.Is(runtime.ErrRecordNotFound))

	_, err = runtime.UpdateRecord(bobCtx, "contact", r1.ID, []byte(`{"name":"X","email":"x@own"}`))
	require.NotNil(t, err)
	assert.True(t, err.Is(authz.ErrForbidden))

	records, err := runtime.ListRecords(bobCtx, "contact", 10, 0)
	require.Nil(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, r2.ID, records[0].ID)

	// alice is unscoped and sees both
	records, err = runtime.ListRecords(aliceCtx, "contact", 10, 0)
	require.Nil(t, err)
	assert.Len(t, records, 2)
}

func TestFieldGrantsMaskAndReject(t *testing.T) {
	ctx, store := testCtx(t, "tenant-grants")
	setupContactEntity(t, ctx)

	require.Nil(t, authz.UpsertRole(ctx, "record-user", []types.Permission{
		types.PermissionRuntimeRecordRead,
		types.PermissionRuntimeRecordWrite,
	}))
	require.Nil(t, authz.BindRole(ctx, "carol", "record-user"))
	require.Nil(t, authz.SetFieldGrant(ctx, &models.FieldGrant{
		Subject: "carol", EntityName: "contact", FieldName: "name", CanRead: true, CanWrite: true,
	}))
	require.Nil(t, authz.SetFieldGrant(ctx, &models.FieldGrant{
		Subject: "carol", EntityName: "contact", FieldName: "email", CanRead: false, CanWrite: false,
	}))

	rec, err := runtime.CreateRecord(ctx, "contact", []byte(`{"name":"Masked","email":"secret@x"}`), "")
	require.Nil(t, err)

	carolCtx := reccommon.WithSubject(db.WithStore(context.Background(), store), "carol")
	carolCtx = reccommon.WithTenantID(carolCtx, "tenant-grants")

	got, err := runtime.GetRecord(carolCtx, "contact", rec.ID)
	require.Nil(t, err)
	v, errV := types.ValueFromJSON(got.Data.Bytes)
	require.NoError(t, errV)
	_, hasEmail := v.Field("email")
	assert.False(t, hasEmail)
	name, hasName := v.Field("name")
	assert.True(t, hasName)
	assert.Equal(t, "Masked", name.String())

	_, err = runtime.UpdateRecord(carolCtx, "contact", rec.ID, []byte(`{"name":"N","email":"e@x"}`))
	require.NotNil(t, err)
	assert.True(t, err.Is(authz.ErrForbidden))
}

func TestTenantIsolation(t *testing.T) {
	store := memstore.New()
	ctxA := reccommon.WithSystemIdentity(reccommon.WithTenantID(db.WithStore(context.Background(), store), "tenant-a"))
	ctxB := reccommon.WithSystemIdentity(reccommon.WithTenantID(db.WithStore(context.Background(), store), "tenant-b"))

	setupContactEntity(t, ctxA)
	rec, err := runtime.CreateRecord(ctxA, "contact", []byte(`{"name":"A","email":"a@iso"}`), "")
	require.Nil(t, err)

	// tenant B has no published contact schema and cannot see A's record
	_, err = runtime.GetRecord(ctxB, "contact", rec.ID)
	require.NotNil(t, err)
}

package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordum/recordum/internal/recordsrv/workflow"
)

const branchingSpec = `{
	"trigger": {"type": "runtime_record_created", "entity": "document"},
	"steps": [{
		"type": "Condition",
		"field_path": "record.kind",
		"operator": "Equals",
		"value": "proposal",
		"then_steps": [{"type": "LogMessage", "message": "proposal received"}],
		"else_steps": [{"type": "LogMessage", "message": "other document"}]
	}]
}`

func planMessages(t *testing.T, doc, payload string) []string {
	t.Helper()
	spec, err := workflow.ParseSpec([]byte(doc))
	require.Nil(t, err)
	plan, err := workflow.PlanActions(spec, []byte(payload))
	require.Nil(t, err)
	var msgs []string
	for _, a := range plan {
		require.Equal(t, workflow.StepLogMessage, a.Type)
		msgs = append(msgs, a.Message)
	}
	return msgs
}

func TestPlanActionsBranching(t *testing.T) {
	assert.Equal(t, []string{"proposal received"},
		planMessages(t, branchingSpec, `{"record": {"kind": "proposal"}}`))
	assert.Equal(t, []string{"other document"},
		planMessages(t, branchingSpec, `{"record": {"kind": "invoice"}}`))

	// a missing path is not equal to anything
	assert.Equal(t, []string{"other document"},
		planMessages(t, branchingSpec, `{"record": {}}`))
}

func TestPlanActionsExists(t *testing.T) {
	doc := `{
		"trigger": {"type": "manual"},
		"steps": [{
			"type": "Condition",
			"field_path": "approver",
			"operator": "Exists",
			"then_steps": [{"type": "LogMessage", "message": "has approver"}],
			"else_steps": [{"type": "LogMessage", "message": "no approver"}]
		}]
	}`
	assert.Equal(t, []string{"has approver"}, planMessages(t, doc, `{"approver": "alice"}`))
	assert.Equal(t, []string{"no approver"}, planMessages(t, doc, `{}`))

	// Exists is about path presence, not truthiness
	assert.Equal(t, []string{"has approver"}, planMessages(t, doc, `{"approver": null}`))
}

func TestPlanActionsNotEquals(t *testing.T) {
	doc := `{
		"trigger": {"type": "manual"},
		"steps": [{
			"type": "Condition",
			"field_path": "status",
			"operator": "NotEquals",
			"value": "closed",
			"then_steps": [{"type": "LogMessage", "message": "still open"}]
		}]
	}`
	assert.Equal(t, []string{"still open"}, planMessages(t, doc, `{"status": "open"}`))
	assert.Empty(t, planMessages(t, doc, `{"status": "closed"}`))
}

func TestPlanActionsNestedConditions(t *testing.T) {
	doc := `{
		"trigger": {"type": "manual"},
		"steps": [
			{"type": "LogMessage", "message": "start"},
			{
				"type": "Condition",
				"field_path": "tier",
				"operator": "Equals",
				"value": "gold",
				"then_steps": [{
					"type": "Condition",
					"field_path": "amount",
					"operator": "Equals",
					"value": 100,
					"then_steps": [{"type": "LogMessage", "message": "gold hundred"}],
					"else_steps": [{"type": "LogMessage", "message": "gold other"}]
				}]
			},
			{"type": "LogMessage", "message": "end"}
		]
	}`
	assert.Equal(t, []string{"start", "gold hundred", "end"},
		planMessages(t, doc, `{"tier": "gold", "amount": 100}`))
	assert.Equal(t, []string{"start", "gold other", "end"},
		planMessages(t, doc, `{"tier": "gold", "amount": 5}`))
	assert.Equal(t, []string{"start", "end"},
		planMessages(t, doc, `{"tier": "silver"}`))
}

func TestPlanActionsLegacyAction(t *testing.T) {
	doc := `{
		"trigger": {"type": "manual"},
		"action": {"type": "LogMessage", "message": "only action"}
	}`
	assert.Equal(t, []string{"only action"}, planMessages(t, doc, `{}`))
}

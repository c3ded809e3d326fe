package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/sjson"

	"github.com/recordum/recordum/internal/recordsrv/workflow"
	"github.com/recordum/recordum/pkg/types"
)

func TestParseSpec(t *testing.T) {
	t.Run("manual trigger with steps", func(t *testing.T) {
		spec, err := workflow.ParseSpec([]byte(`{
			"trigger": {"type": "manual"},
			"steps": [
				{"type": "LogMessage", "message": "hello"},
				{"type": "CreateRuntimeRecord", "entity": "task", "data": {"title": "t"}}
			]
		}`))
		require.Nil(t, err)
		assert.Equal(t, types.TriggerManual, spec.Trigger.Type)
		require.Len(t, spec.Steps, 2)
		assert.Equal(t, workflow.StepLogMessage, spec.Steps[0].Type)
		assert.Equal(t, workflow.StepCreateRuntimeRecord, spec.Steps[1].Type)
	})

	t.Run("record-created trigger with condition", func(t *testing.T) {
		spec, err := workflow.ParseSpec([]byte(`{
			"trigger": {"type": "runtime_record_created", "entity": "deal"},
			"steps": [{
				"type": "Condition",
				"field_path": "entity",
				"operator": "Equals",
				"value": "deal",
				"then_steps": [{"type": "LogMessage", "message": "deal created"}]
			}]
		}`))
		require.Nil(t, err)
		assert.Equal(t, "deal", spec.Trigger.Entity)
	})

	t.Run("legacy single action", func(t *testing.T) {
		spec, err := workflow.ParseSpec([]byte(`{
			"trigger": {"type": "manual"},
			"action": {"type": "LogMessage", "message": "legacy"}
		}`))
		require.Nil(t, err)
		require.NotNil(t, spec.Action)
		assert.Equal(t, "legacy", spec.Action.Message)
	})

	// each rejection case mutates a known-good document into an invalid one
	valid := `{
		"trigger": {"type": "manual"},
		"steps": [
			{"type": "LogMessage", "message": "hello"},
			{"type": "CreateRuntimeRecord", "entity": "task", "data": {"title": "t"}},
			{"type": "Condition", "field_path": "record.kind", "operator": "Exists"}
		]
	}`
	if _, err := workflow.ParseSpec([]byte(valid)); err != nil {
		t.Fatalf("base document must parse: %v", err)
	}

	rejected := []struct {
		name   string
		mutate func(doc string) (string, error)
	}{
		{"unknown trigger type", func(doc string) (string, error) {
			return sjson.Set(doc, "trigger.type", "cron")
		}},
		{"missing trigger", func(doc string) (string, error) {
			return sjson.Delete(doc, "trigger")
		}},
		{"record-created without entity", func(doc string) (string, error) {
			return sjson.Set(doc, "trigger.type", "runtime_record_created")
		}},
		{"unknown step type", func(doc string) (string, error) {
			return sjson.Set(doc, "steps.0.type", "SendEmail")
		}},
		{"log step without message", func(doc string) (string, error) {
			return sjson.Delete(doc, "steps.0.message")
		}},
		{"create step without data", func(doc string) (string, error) {
			return sjson.Delete(doc, "steps.1.data")
		}},
		{"condition without field path", func(doc string) (string, error) {
			return sjson.Delete(doc, "steps.2.field_path")
		}},
		{"condition with unknown operator", func(doc string) (string, error) {
			return sjson.Set(doc, "steps.2.operator", "Matches")
		}},
		{"condition as action", func(doc string) (string, error) {
			doc, err := sjson.Delete(doc, "steps")
			if err != nil {
				return "", err
			}
			return sjson.SetRaw(doc, "action", `{"type": "Condition", "field_path": "x", "operator": "Exists"}`)
		}},
		{"unknown top-level key", func(doc string) (string, error) {
			return sjson.Set(doc, "retry", 3)
		}},
	}
	for _, tc := range rejected {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			doc, errM := tc.mutate(valid)
			require.NoError(t, errM)
			_, err := workflow.ParseSpec([]byte(doc))
			require.NotNil(t, err)
			assert.True(t, err.Is(workflow.ErrInvalidWorkflow))
		})
	}

	t.Run("rejects non-json", func(t *testing.T) {
		_, err := workflow.ParseSpec([]byte(`trigger: manual`))
		require.NotNil(t, err)
		assert.True(t, err.Is(workflow.ErrInvalidWorkflow))
	})
}

package workflow

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/pkg/types"
)

// StepType tags the closed set of step variants.
type StepType string

const (
	StepLogMessage          StepType = "LogMessage"
	StepCreateRuntimeRecord StepType = "CreateRuntimeRecord"
	StepCondition           StepType = "Condition"
)

// CondOperator compares a trigger-payload path against a constant.
type CondOperator string

const (
	CondEquals    CondOperator = "Equals"
	CondNotEquals CondOperator = "NotEquals"
	CondExists    CondOperator = "Exists"
)

// Trigger declares when a workflow starts.
type Trigger struct {
	Type types.TriggerType `json:"type"`
	// Entity scopes record-created triggers to one entity.
	Entity string `json:"entity,omitempty"`
}

// Step is one node of the step graph. Type selects the variant: LogMessage
// uses Message, CreateRuntimeRecord uses Entity and Data, Condition uses
// FieldPath, Operator, Value, and the two branches.
type Step struct {
	Type      StepType        `json:"type"`
	Message   string          `json:"message,omitempty"`
	Entity    string          `json:"entity,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	FieldPath string          `json:"field_path,omitempty"`
	Operator  CondOperator    `json:"operator,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	ThenSteps []Step          `json:"then_steps,omitempty"`
	ElseSteps []Step          `json:"else_steps,omitempty"`
}

// Spec is the document stored in workflow_definitions.definition. Steps is
// the step graph; when absent, the legacy single Action is the sole effective
// step.
type Spec struct {
	Trigger Trigger `json:"trigger"`
	Steps   []Step  `json:"steps,omitempty"`
	Action  *Step   `json:"action,omitempty"`
}

// specSchema structurally validates workflow definition documents before any
// semantic checks run. The step grammar is recursive through $defs.
const specSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["trigger"],
  "properties": {
    "trigger": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["manual", "runtime_record_created"]},
        "entity": {"type": "string"}
      },
      "additionalProperties": false
    },
    "steps": {"type": "array", "items": {"$ref": "#/$defs/step"}},
    "action": {"$ref": "#/$defs/step"}
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["LogMessage", "CreateRuntimeRecord", "Condition"]},
        "message": {"type": "string"},
        "entity": {"type": "string"},
        "data": {"type": "object"},
        "field_path": {"type": "string"},
        "operator": {"enum": ["Equals", "NotEquals", "Exists"]},
        "value": {},
        "then_steps": {"type": "array", "items": {"$ref": "#/$defs/step"}},
        "else_steps": {"type": "array", "items": {"$ref": "#/$defs/step"}}
      },
      "additionalProperties": false
    }
  }
}`

var compiledSpecSchema = jsonschema.MustCompileString("workflow-spec.json", specSchema)

// ParseSpec validates and decodes a workflow definition document.
func ParseSpec(data []byte) (*Spec, apperrors.Error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, ErrInvalidWorkflow.Err(err)
	}
	if err := compiledSpecSchema.Validate(doc); err != nil {
		return nil, ErrInvalidWorkflow.Err(err)
	}

	spec := &Spec{}
	if err := json.Unmarshal(data, spec); err != nil {
		return nil, ErrInvalidWorkflow.Err(err)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func (s *Spec) validate() apperrors.Error {
	if s.Trigger.Type == types.TriggerRuntimeRecordCreated && s.Trigger.Entity == "" {
		return ErrInvalidWorkflow.Msg("record-created trigger requires an entity")
	}
	for i := range s.Steps {
		if err := validateStep(&s.Steps[i], "steps"); err != nil {
			return err
		}
	}
	if s.Action != nil {
		if s.Action.Type == StepCondition {
			return ErrInvalidWorkflow.Msg("action cannot be a condition")
		}
		if err := validateStep(s.Action, "action"); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step *Step, path string) apperrors.Error {
	switch step.Type {
	case StepLogMessage:
		if step.Message == "" {
			return ErrInvalidWorkflow.Msg(path + ": log step requires a message")
		}
	case StepCreateRuntimeRecord:
		if step.Entity == "" || len(step.Data) == 0 {
			return ErrInvalidWorkflow.Msg(path + ": create step requires entity and data")
		}
	case StepCondition:
		if step.FieldPath == "" || strings.TrimSpace(step.FieldPath) == "" {
			return ErrInvalidWorkflow.Msg(path + ": condition requires a field path")
		}
		switch step.Operator {
		case CondEquals, CondNotEquals, CondExists:
		default:
			return ErrInvalidWorkflow.Msg(path + ": unknown condition operator " + string(step.Operator))
		}
		for i := range step.ThenSteps {
			if err := validateStep(&step.ThenSteps[i], path+".then_steps"); err != nil {
				return err
			}
		}
		for i := range step.ElseSteps {
			if err := validateStep(&step.ElseSteps[i], path+".else_steps"); err != nil {
				return err
			}
		}
	default:
		return ErrInvalidWorkflow.Msg(path + ": unknown step type " + string(step.Type))
	}
	return nil
}

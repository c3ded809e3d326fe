package workflow

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/pkg/types"
)

// PlannedAction is one linearized action of a run: after planning, only the
// two effect-bearing step kinds remain.
type PlannedAction struct {
	Type    StepType
	Message string
	Entity  string
	Data    json.RawMessage
}

// PlanActions traverses the step graph against the trigger payload and
// linearizes the concrete action list. Conditions resolve to exactly one
// branch; an absent step graph falls back to the legacy single action.
func PlanActions(spec *Spec, payload []byte) ([]PlannedAction, apperrors.Error) {
	if len(spec.Steps) == 0 {
		if spec.Action == nil {
			return nil, nil
		}
		return appendStep(nil, spec.Action, payload)
	}

	var plan []PlannedAction
	for i := range spec.Steps {
		var err apperrors.Error
		plan, err = appendStep(plan, &spec.Steps[i], payload)
		if err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func appendStep(plan []PlannedAction, step *Step, payload []byte) ([]PlannedAction, apperrors.Error) {
	switch step.Type {
	case StepLogMessage:
		return append(plan, PlannedAction{Type: StepLogMessage, Message: step.Message}), nil

	case StepCreateRuntimeRecord:
		return append(plan, PlannedAction{Type: StepCreateRuntimeRecord, Entity: step.Entity, Data: step.Data}), nil

	case StepCondition:
		matched, err := conditionHolds(step, payload)
		if err != nil {
			return nil, err
		}
		branch := step.ThenSteps
		if !matched {
			branch = step.ElseSteps
		}
		for i := range branch {
			plan, err = appendStep(plan, &branch[i], payload)
			if err != nil {
				return nil, err
			}
		}
		return plan, nil
	}
	return nil, ErrInvalidPlan.Msg("unknown step type " + string(step.Type))
}

// conditionHolds resolves the dot-separated field path in the trigger payload
// and compares structurally: Exists is true iff the path resolves, Equals and
// NotEquals compare full JSON values.
func conditionHolds(step *Step, payload []byte) (bool, apperrors.Error) {
	result := gjson.GetBytes(payload, step.FieldPath)

	switch step.Operator {
	case CondExists:
		return result.Exists(), nil
	case CondEquals, CondNotEquals:
		equal := false
		if result.Exists() && len(step.Value) > 0 {
			actual, errA := types.ValueFromJSON([]byte(result.Raw))
			expected, errE := types.ValueFromJSON(step.Value)
			if errA == nil && errE == nil {
				equal = actual.Equal(expected)
			}
		}
		if step.Operator == CondNotEquals {
			return !equal, nil
		}
		return equal, nil
	}
	return false, ErrInvalidPlan.Msg("unknown condition operator " + string(step.Operator))
}

package management

import (
	"fmt"

	"github.com/andrejvysny/spendly-sub003/internal/rules"
	"github.com/andrejvysny/spendly-sub003/pkg/cel"
	"github.com/andrejvysny/spendly-sub003/pkg/errors"
)

// Validator checks rule definitions at write time so the engine never
// sees a rule it cannot evaluate. Runtime evaluation still treats any
// malformed condition as non-matching, this is the first line of
// defense, not the only one.
type Validator struct {
	cel *cel.Evaluator
}

func NewValidator(celEvaluator *cel.Evaluator) *Validator {
	return &Validator{cel: celEvaluator}
}

func (v *Validator) ValidateCreateRule(req CreateRuleRequest) error {
	if !rules.ValidTrigger(rules.TriggerType(req.TriggerType)) {
		return errors.ErrValidation.WithDetail("field", "trigger_type").WithDetail("message", fmt.Sprintf("unknown trigger type %q", req.TriggerType))
	}
	if len(req.Actions) == 0 {
		return errors.ErrValidation.WithDetail("field", "actions").WithDetail("message", "a rule needs at least one action")
	}
	if err := v.validateExpression(req.Expression); err != nil {
		return err
	}
	for i, cg := range req.ConditionGroups {
		if err := v.validateConditionGroup(i, cg); err != nil {
			return err
		}
	}
	for i, a := range req.Actions {
		if err := v.validateAction(i, a); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateConditionGroup(idx int, cg CreateConditionGroupRequest) error {
	field := fmt.Sprintf("condition_groups[%d]", idx)
	switch rules.LogicOperator(cg.LogicOperator) {
	case rules.LogicAnd, rules.LogicOr:
	case "":
		// defaults to AND on write
	default:
		return errors.ErrValidation.WithDetail("field", field).WithDetail("message", fmt.Sprintf("unknown logic operator %q", cg.LogicOperator))
	}
	for j, c := range cg.Conditions {
		if err := v.validateCondition(fmt.Sprintf("%s.conditions[%d]", field, j), c); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateCondition(field string, c CreateConditionRequest) error {
	f := rules.ConditionField(c.Field)
	op := rules.ConditionOperator(c.Operator)

	if !rules.ValidField(f) {
		return errors.ErrValidation.WithDetail("field", field).WithDetail("message", fmt.Sprintf("unknown field %q", c.Field))
	}
	if !rules.ValidOperator(op) {
		return errors.ErrValidation.WithDetail("field", field).WithDetail("message", fmt.Sprintf("unknown operator %q", c.Operator))
	}
	if !rules.OperatorSupportsField(op, f) {
		return errors.ErrValidation.WithDetail("field", field).WithDetail("message", fmt.Sprintf("operator %q cannot be applied to field %q", c.Operator, c.Field))
	}
	return nil
}

func (v *Validator) validateAction(idx int, a CreateActionRequest) error {
	field := fmt.Sprintf("actions[%d]", idx)
	actionType := rules.ActionType(a.ActionType)

	if !rules.ValidActionType(actionType) {
		return errors.ErrValidation.WithDetail("field", field).WithDetail("message", fmt.Sprintf("unknown action type %q", a.ActionType))
	}
	if err := rules.ValidateActionValue(actionType, a.Value); err != nil {
		return errors.ErrValidation.WithDetail("field", field).WithDetail("message", err.Error())
	}
	return nil
}

func (v *Validator) validateExpression(expression string) error {
	if expression == "" {
		return nil
	}
	if v.cel == nil {
		return errors.ErrValidation.WithDetail("field", "expression").WithDetail("message", "expressions are not enabled on this deployment")
	}
	if err := v.cel.ValidateExpression(expression); err != nil {
		return errors.ErrValidation.WithDetail("field", "expression").WithDetail("message", err.Error())
	}
	return nil
}

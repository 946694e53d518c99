package management

// Request DTOs for the rule management API. Nested payloads mirror the
// rule aggregate: a rule is always written together with its condition
// groups and actions.

type CreateRuleGroupRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	IsActive    *bool  `json:"is_active"`
}

type UpdateRuleGroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Order       *int    `json:"order"`
	IsActive    *bool   `json:"is_active"`
}

type CreateRuleRequest struct {
	GroupID         int64                         `json:"group_id" binding:"required"`
	Name            string                        `json:"name" binding:"required"`
	TriggerType     string                        `json:"trigger_type" binding:"required"`
	Order           int                           `json:"order"`
	IsActive        *bool                         `json:"is_active"`
	StopProcessing  bool                          `json:"stop_processing"`
	Expression      string                        `json:"expression"`
	ConditionGroups []CreateConditionGroupRequest `json:"condition_groups"`
	Actions         []CreateActionRequest         `json:"actions"`
}

type UpdateRuleRequest struct {
	Name            *string                       `json:"name"`
	TriggerType     *string                       `json:"trigger_type"`
	Order           *int                          `json:"order"`
	IsActive        *bool                         `json:"is_active"`
	StopProcessing  *bool                         `json:"stop_processing"`
	Expression      *string                       `json:"expression"`
	ConditionGroups []CreateConditionGroupRequest `json:"condition_groups"`
	Actions         []CreateActionRequest         `json:"actions"`
}

type CreateConditionGroupRequest struct {
	LogicOperator string                   `json:"logic_operator"`
	Order         int                      `json:"order"`
	Conditions    []CreateConditionRequest `json:"conditions"`
}

type CreateConditionRequest struct {
	Field           string `json:"field" binding:"required"`
	Operator        string `json:"operator" binding:"required"`
	Value           string `json:"value"`
	IsCaseSensitive bool   `json:"is_case_sensitive"`
	IsNegated       bool   `json:"is_negated"`
	Order           int    `json:"order"`
}

type CreateActionRequest struct {
	ActionType     string `json:"action_type" binding:"required"`
	Value          string `json:"value"`
	Order          int    `json:"order"`
	StopProcessing bool   `json:"stop_processing"`
}

package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type TriggerType string

const (
	TriggerCreated TriggerType = "created"
	TriggerUpdated TriggerType = "updated"
	TriggerManual  TriggerType = "manual"
)

func ValidTrigger(t TriggerType) bool {
	switch t {
	case TriggerCreated, TriggerUpdated, TriggerManual:
		return true
	}
	return false
}

type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

type RuleGroup struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	Order       int       `json:"order"`
	Rules       []Rule    `json:"rules,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Rule struct {
	ID              int64            `json:"id"`
	GroupID         int64            `json:"group_id"`
	UserID          int64            `json:"user_id"`
	Name            string           `json:"name"`
	TriggerType     TriggerType      `json:"trigger_type"`
	Order           int              `json:"order"`
	IsActive        bool             `json:"is_active"`
	StopProcessing  bool             `json:"stop_processing"`
	Expression      string           `json:"expression,omitempty"` // optional CEL predicate, ANDed with condition groups
	Version         int              `json:"version"`
	ConditionGroups []ConditionGroup `json:"condition_groups"`
	Actions         []RuleAction     `json:"actions"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type ConditionGroup struct {
	ID            int64           `json:"id"`
	RuleID        int64           `json:"rule_id"`
	LogicOperator LogicOperator   `json:"logic_operator"`
	Order         int             `json:"order"`
	Conditions    []RuleCondition `json:"conditions"`
}

type RuleCondition struct {
	ID              int64             `json:"id"`
	GroupID         int64             `json:"group_id"`
	Field           ConditionField    `json:"field"`
	Operator        ConditionOperator `json:"operator"`
	Value           string            `json:"value"`
	IsCaseSensitive bool              `json:"is_case_sensitive"`
	IsNegated       bool              `json:"is_negated"`
	Order           int               `json:"order"`
}

type ActionType string

const (
	ActionSetCategory               ActionType = "set_category"
	ActionSetMerchant               ActionType = "set_merchant"
	ActionAddTag                    ActionType = "add_tag"
	ActionRemoveTag                 ActionType = "remove_tag"
	ActionSetDescription            ActionType = "set_description"
	ActionAppendDescription         ActionType = "append_description"
	ActionPrependDescription        ActionType = "prepend_description"
	ActionSetNote                   ActionType = "set_note"
	ActionAppendNote                ActionType = "append_note"
	ActionPrependNote               ActionType = "prepend_note"
	ActionSetType                   ActionType = "set_type"
	ActionCreateCategoryIfNotExists ActionType = "create_category_if_not_exists"
	ActionCreateMerchantIfNotExists ActionType = "create_merchant_if_not_exists"
	ActionCreateTagIfNotExists      ActionType = "create_tag_if_not_exists"
	ActionSendNotification          ActionType = "send_notification"
	ActionRemoveAllTags             ActionType = "remove_all_tags"
	ActionMarkReconciled            ActionType = "mark_reconciled"
)

// ActionFamily partitions action types by what their value means.
type ActionFamily int

const (
	FamilyNone       ActionFamily = iota // value is ignored
	FamilyIdentifier                     // value is a user-scoped entity id
	FamilyText                           // value is free text
)

var actionFamilies = map[ActionType]ActionFamily{
	ActionSetCategory:               FamilyIdentifier,
	ActionSetMerchant:               FamilyIdentifier,
	ActionAddTag:                    FamilyIdentifier,
	ActionRemoveTag:                 FamilyIdentifier,
	ActionSetDescription:            FamilyText,
	ActionAppendDescription:         FamilyText,
	ActionPrependDescription:        FamilyText,
	ActionSetNote:                   FamilyText,
	ActionAppendNote:                FamilyText,
	ActionPrependNote:               FamilyText,
	ActionSetType:                   FamilyText,
	ActionCreateCategoryIfNotExists: FamilyText,
	ActionCreateMerchantIfNotExists: FamilyText,
	ActionCreateTagIfNotExists:      FamilyText,
	ActionSendNotification:          FamilyText,
	ActionRemoveAllTags:             FamilyNone,
	ActionMarkReconciled:            FamilyNone,
}

func ValidActionType(t ActionType) bool {
	_, ok := actionFamilies[t]
	return ok
}

func FamilyOf(t ActionType) (ActionFamily, bool) {
	f, ok := actionFamilies[t]
	return f, ok
}

// ActionValue is the decoded value of a rule action. The variant is fixed
// at write time by the action type's family, so the executor never has to
// guess how to interpret the stored string.
type ActionValue struct {
	kind ActionFamily
	id   int64
	text string
}

func IdentifierValue(id int64) ActionValue {
	return ActionValue{kind: FamilyIdentifier, id: id}
}

func TextValue(s string) ActionValue {
	return ActionValue{kind: FamilyText, text: s}
}

func NoValue() ActionValue {
	return ActionValue{kind: FamilyNone}
}

func (v ActionValue) Kind() ActionFamily { return v.kind }

func (v ActionValue) Identifier() (int64, bool) {
	return v.id, v.kind == FamilyIdentifier
}

func (v ActionValue) Text() (string, bool) {
	return v.text, v.kind == FamilyText
}

func (v ActionValue) String() string {
	switch v.kind {
	case FamilyIdentifier:
		return strconv.FormatInt(v.id, 10)
	case FamilyText:
		return v.text
	default:
		return ""
	}
}

// ParseActionValue decodes a stored action value according to the action
// type's family. Legacy rows may carry JSON-encoded scalars; both the
// quoted and the raw form are accepted.
func ParseActionValue(actionType ActionType, raw string) (ActionValue, error) {
	family, ok := actionFamilies[actionType]
	if !ok {
		return ActionValue{}, fmt.Errorf("unknown action type: %s", actionType)
	}

	switch family {
	case FamilyNone:
		return NoValue(), nil

	case FamilyIdentifier:
		s := strings.TrimSpace(raw)
		var decoded json.Number
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			s = decoded.String()
		} else {
			var quoted string
			if err := json.Unmarshal([]byte(s), &quoted); err == nil {
				s = strings.TrimSpace(quoted)
			}
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return ActionValue{}, fmt.Errorf("action %s requires a numeric identifier, got %q", actionType, raw)
		}
		return IdentifierValue(id), nil

	case FamilyText:
		s := raw
		var quoted string
		if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &quoted); err == nil {
			s = quoted
		}
		if strings.TrimSpace(s) == "" {
			return ActionValue{}, fmt.Errorf("action %s requires a non-empty value", actionType)
		}
		return TextValue(s), nil
	}

	return ActionValue{}, fmt.Errorf("unhandled action family for %s", actionType)
}

type RuleAction struct {
	ID             int64      `json:"id"`
	RuleID         int64      `json:"rule_id"`
	ActionType     ActionType `json:"action_type"`
	RawValue       string     `json:"value"`
	Order          int        `json:"order"`
	StopProcessing bool       `json:"stop_processing"`

	// Value is populated from RawValue at load time.
	Value ActionValue `json:"-"`
}

// Decode parses RawValue into the typed Value. Call after loading or
// accepting an action over the wire.
func (a *RuleAction) Decode() error {
	v, err := ParseActionValue(a.ActionType, a.RawValue)
	if err != nil {
		return err
	}
	a.Value = v
	return nil
}

// ActionOutcome is the result of one action application.
type ActionOutcome struct {
	ActionID    int64      `json:"action_id,omitempty"`
	ActionType  ActionType `json:"action_type"`
	Description string     `json:"description,omitempty"`
	Success     bool       `json:"success"`
	Detail      string     `json:"detail,omitempty"`
}

// RuleOutcome is the per-rule entry in an execution summary.
type RuleOutcome struct {
	RuleID   int64           `json:"rule_id"`
	RuleName string          `json:"rule_name,omitempty"`
	Matched  bool            `json:"matched"`
	Actions  []ActionOutcome `json:"actions,omitempty"`
}

type TransactionResult struct {
	TransactionID int64         `json:"transaction_id"`
	Rules         []RuleOutcome `json:"rules"`
	Mutated       bool          `json:"mutated"`
	Error         string        `json:"error,omitempty"`
}

type ExecutionSummary struct {
	Trigger          TriggerType         `json:"trigger"`
	DryRun           bool                `json:"dry_run"`
	ProcessedCount   int                 `json:"processed_count"`
	MatchedCount     int                 `json:"matched_count"`
	StartedAt        time.Time           `json:"started_at"`
	DurationMillis   int64               `json:"duration_ms"`
	Results          []TransactionResult `json:"results"`
}

// ExecutionLogEntry is the append-only audit record written once per rule
// evaluated per transaction.
type ExecutionLogEntry struct {
	RuleID          int64                  `json:"rule_id" bson:"rule_id"`
	TransactionID   int64                  `json:"transaction_id" bson:"transaction_id"`
	UserID          int64                  `json:"user_id" bson:"user_id"`
	Matched         bool                   `json:"matched" bson:"matched"`
	ActionsExecuted []ActionOutcome        `json:"actions_executed" bson:"actions_executed"`
	Context         map[string]interface{} `json:"execution_context" bson:"execution_context"`
	CreatedAt       time.Time              `json:"created_at" bson:"created_at"`
}

package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/pkg/models"
)

func testEvaluator() *Evaluator {
	return NewEvaluator(logger.NopLogger())
}

func testTransaction() *models.Transaction {
	return &models.Transaction{
		ID:           1,
		UserID:       42,
		AccountID:    7,
		Amount:       100.50,
		Currency:     "EUR",
		Type:         models.TransactionTypePayment,
		Description:  "WALMART SUPERCENTER #1234",
		PartnerName:  "Walmart",
		Place:        "Springfield",
		BookedAt:     time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC),
		Tags:         []string{"groceries", "weekly"},
		CategoryName: "Shopping",
		MerchantName: "Walmart",
		AccountName:  "Checking",
	}
}

func TestEvaluateStringOperators(t *testing.T) {
	e := testEvaluator()
	tx := testTransaction()

	tests := []struct {
		name string
		cond RuleCondition
		want bool
	}{
		{
			name: "contains case insensitive by default",
			cond: RuleCondition{Field: FieldDescription, Operator: OpContains, Value: "walmart"},
			want: true,
		},
		{
			name: "contains case sensitive mismatch",
			cond: RuleCondition{Field: FieldDescription, Operator: OpContains, Value: "walmart", IsCaseSensitive: true},
			want: false,
		},
		{
			name: "contains case sensitive match",
			cond: RuleCondition{Field: FieldDescription, Operator: OpContains, Value: "WALMART", IsCaseSensitive: true},
			want: true,
		},
		{
			name: "equals on partner",
			cond: RuleCondition{Field: FieldPartner, Operator: OpEquals, Value: "walmart"},
			want: true,
		},
		{
			name: "not_equals",
			cond: RuleCondition{Field: FieldPartner, Operator: OpNotEquals, Value: "Target"},
			want: true,
		},
		{
			name: "starts_with",
			cond: RuleCondition{Field: FieldDescription, Operator: OpStartsWith, Value: "walmart super"},
			want: true,
		},
		{
			name: "ends_with",
			cond: RuleCondition{Field: FieldDescription, Operator: OpEndsWith, Value: "#1234"},
			want: true,
		},
		{
			name: "in list",
			cond: RuleCondition{Field: FieldType, Operator: OpIn, Value: "PAYMENT, TRANSFER"},
			want: true,
		},
		{
			name: "not_in list",
			cond: RuleCondition{Field: FieldType, Operator: OpNotIn, Value: "DEPOSIT, FEE"},
			want: true,
		},
		{
			name: "is_empty on blank note",
			cond: RuleCondition{Field: FieldNote, Operator: OpIsEmpty},
			want: true,
		},
		{
			name: "is_not_empty on description",
			cond: RuleCondition{Field: FieldDescription, Operator: OpIsNotEmpty},
			want: true,
		},
		{
			name: "regex",
			cond: RuleCondition{Field: FieldDescription, Operator: OpRegex, Value: `walmart.*#\d+`},
			want: true,
		},
		{
			name: "regex with delimiters and flag",
			cond: RuleCondition{Field: FieldDescription, Operator: OpRegex, Value: "/walmart/i", IsCaseSensitive: true},
			want: true,
		},
		{
			name: "wildcard",
			cond: RuleCondition{Field: FieldDescription, Operator: OpWildcard, Value: "WALMART*#????"},
			want: true,
		},
		{
			name: "wildcard not anchored partial",
			cond: RuleCondition{Field: FieldDescription, Operator: OpWildcard, Value: "WALMART"},
			want: false,
		},
		{
			name: "relational field matches on display name",
			cond: RuleCondition{Field: FieldCategory, Operator: OpEquals, Value: "shopping"},
			want: true,
		},
		{
			name: "relational account contains",
			cond: RuleCondition{Field: FieldAccount, Operator: OpContains, Value: "check"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Evaluate(tt.cond, tx))
		})
	}
}

func TestEvaluateNumericOperators(t *testing.T) {
	e := testEvaluator()
	tx := testTransaction() // amount 100.50

	tests := []struct {
		name string
		cond RuleCondition
		want bool
	}{
		{
			name: "greater_than true",
			cond: RuleCondition{Field: FieldAmount, Operator: OpGreaterThan, Value: "100"},
			want: true,
		},
		{
			name: "greater_than false",
			cond: RuleCondition{Field: FieldAmount, Operator: OpGreaterThan, Value: "200"},
			want: false,
		},
		{
			name: "between inclusive",
			cond: RuleCondition{Field: FieldAmount, Operator: OpBetween, Value: "50,150"},
			want: true,
		},
		{
			name: "between outside range",
			cond: RuleCondition{Field: FieldAmount, Operator: OpBetween, Value: "150,300"},
			want: false,
		},
		{
			name: "between with spaces",
			cond: RuleCondition{Field: FieldAmount, Operator: OpBetween, Value: " 100.5 , 100.5 "},
			want: true,
		},
		{
			name: "equals",
			cond: RuleCondition{Field: FieldAmount, Operator: OpEquals, Value: "100.50"},
			want: true,
		},
		{
			name: "in numeric list",
			cond: RuleCondition{Field: FieldAmount, Operator: OpIn, Value: "99.99, 100.50"},
			want: true,
		},
		{
			name: "less_than_or_equal boundary",
			cond: RuleCondition{Field: FieldAmount, Operator: OpLessThanOrEqual, Value: "100.5"},
			want: true,
		},
		{
			name: "is_empty never matches a number",
			cond: RuleCondition{Field: FieldAmount, Operator: OpIsEmpty},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Evaluate(tt.cond, tx))
		})
	}
}

func TestEvaluateDateOperators(t *testing.T) {
	e := testEvaluator()
	tx := testTransaction() // booked 2024-03-15 14:30 UTC

	tests := []struct {
		name string
		cond RuleCondition
		want bool
	}{
		{
			name: "equals day-only truncates time of day",
			cond: RuleCondition{Field: FieldDate, Operator: OpEquals, Value: "2024-03-15"},
			want: true,
		},
		{
			name: "greater_than earlier day",
			cond: RuleCondition{Field: FieldDate, Operator: OpGreaterThan, Value: "2024-03-01"},
			want: true,
		},
		{
			name: "between days inclusive",
			cond: RuleCondition{Field: FieldDate, Operator: OpBetween, Value: "2024-03-01,2024-03-15"},
			want: true,
		},
		{
			name: "between excludes later window",
			cond: RuleCondition{Field: FieldDate, Operator: OpBetween, Value: "2024-03-16,2024-04-01"},
			want: false,
		},
		{
			name: "european layout",
			cond: RuleCondition{Field: FieldDate, Operator: OpEquals, Value: "15.03.2024"},
			want: true,
		},
		{
			name: "rfc3339 keeps time of day",
			cond: RuleCondition{Field: FieldDate, Operator: OpLessThan, Value: "2024-03-15T15:00:00Z"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Evaluate(tt.cond, tx))
		})
	}
}

func TestEvaluateSetOperators(t *testing.T) {
	e := testEvaluator()
	tx := testTransaction() // tags: groceries, weekly

	tests := []struct {
		name string
		cond RuleCondition
		want bool
	}{
		{
			name: "contains any tag",
			cond: RuleCondition{Field: FieldTags, Operator: OpContains, Value: "grocer"},
			want: true,
		},
		{
			name: "not_contains requires no tag to match",
			cond: RuleCondition{Field: FieldTags, Operator: OpNotContains, Value: "grocer"},
			want: false,
		},
		{
			name: "equals any tag",
			cond: RuleCondition{Field: FieldTags, Operator: OpEquals, Value: "weekly"},
			want: true,
		},
		{
			name: "not_equals requires no exact tag",
			cond: RuleCondition{Field: FieldTags, Operator: OpNotEquals, Value: "weekly"},
			want: false,
		},
		{
			name: "in intersects",
			cond: RuleCondition{Field: FieldTags, Operator: OpIn, Value: "travel, groceries"},
			want: true,
		},
		{
			name: "not_in disjoint",
			cond: RuleCondition{Field: FieldTags, Operator: OpNotIn, Value: "travel, dining"},
			want: true,
		},
		{
			name: "is_not_empty",
			cond: RuleCondition{Field: FieldTags, Operator: OpIsNotEmpty},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Evaluate(tt.cond, tx))
		})
	}

	t.Run("is_empty on untagged transaction", func(t *testing.T) {
		bare := testTransaction()
		bare.Tags = nil
		cond := RuleCondition{Field: FieldTags, Operator: OpIsEmpty}
		assert.True(t, e.Evaluate(cond, bare))
	})
}

func TestEvaluateNegation(t *testing.T) {
	e := testEvaluator()
	tx := testTransaction()

	t.Run("negation inverts a well-formed result", func(t *testing.T) {
		cond := RuleCondition{Field: FieldDescription, Operator: OpContains, Value: "walmart"}
		require.True(t, e.Evaluate(cond, tx))

		cond.IsNegated = true
		assert.False(t, e.Evaluate(cond, tx))

		cond.Value = "target"
		assert.True(t, e.Evaluate(cond, tx))
	})

	t.Run("malformed condition stays false even when negated", func(t *testing.T) {
		cond := RuleCondition{
			Field:     FieldDescription,
			Operator:  OpRegex,
			Value:     "([unclosed",
			IsNegated: true,
		}
		assert.False(t, e.Evaluate(cond, tx))
	})

	t.Run("unknown field stays false even when negated", func(t *testing.T) {
		cond := RuleCondition{
			Field:     ConditionField("balance"),
			Operator:  OpEquals,
			Value:     "1",
			IsNegated: true,
		}
		assert.False(t, e.Evaluate(cond, tx))
	})
}

func TestGroupMatches(t *testing.T) {
	e := testEvaluator()
	tx := testTransaction()

	matching := RuleCondition{Field: FieldDescription, Operator: OpContains, Value: "walmart"}
	failing := RuleCondition{Field: FieldDescription, Operator: OpContains, Value: "target"}

	t.Run("AND requires all conditions", func(t *testing.T) {
		group := ConditionGroup{
			LogicOperator: LogicAnd,
			Conditions:    []RuleCondition{matching, failing},
		}
		assert.False(t, e.GroupMatches(group, tx))

		group.Conditions = []RuleCondition{matching, matching}
		assert.True(t, e.GroupMatches(group, tx))
	})

	t.Run("OR requires any condition", func(t *testing.T) {
		group := ConditionGroup{
			LogicOperator: LogicOr,
			Conditions:    []RuleCondition{failing, matching},
		}
		assert.True(t, e.GroupMatches(group, tx))

		group.Conditions = []RuleCondition{failing, failing}
		assert.False(t, e.GroupMatches(group, tx))
	})

	t.Run("empty group matches vacuously regardless of operator", func(t *testing.T) {
		assert.True(t, e.GroupMatches(ConditionGroup{LogicOperator: LogicAnd}, tx))
		assert.True(t, e.GroupMatches(ConditionGroup{LogicOperator: LogicOr}, tx))
	})

	t.Run("unknown operator falls back to AND", func(t *testing.T) {
		group := ConditionGroup{
			LogicOperator: LogicOperator("XOR"),
			Conditions:    []RuleCondition{matching, failing},
		}
		assert.False(t, e.GroupMatches(group, tx))
	})
}

func TestRuleConditionsMatch(t *testing.T) {
	e := testEvaluator()
	tx := testTransaction()

	t.Run("groups combine with AND", func(t *testing.T) {
		rule := &Rule{ConditionGroups: []ConditionGroup{
			{LogicOperator: LogicAnd, Conditions: []RuleCondition{
				{Field: FieldDescription, Operator: OpContains, Value: "walmart"},
			}},
			{LogicOperator: LogicAnd, Conditions: []RuleCondition{
				{Field: FieldAmount, Operator: OpGreaterThan, Value: "500"},
			}},
		}}
		assert.False(t, e.RuleConditionsMatch(rule, tx), "one failing group fails the rule")

		rule.ConditionGroups[1].Conditions[0].Value = "50"
		assert.True(t, e.RuleConditionsMatch(rule, tx), "the rule matches once every group matches")
	})

	t.Run("every group is consulted, not just the last", func(t *testing.T) {
		rule := &Rule{ConditionGroups: []ConditionGroup{
			{LogicOperator: LogicAnd, Conditions: []RuleCondition{
				{Field: FieldDescription, Operator: OpContains, Value: "target"},
			}},
			{LogicOperator: LogicAnd, Conditions: []RuleCondition{
				{Field: FieldAmount, Operator: OpGreaterThan, Value: "50"},
			}},
			{LogicOperator: LogicOr, Conditions: []RuleCondition{
				{Field: FieldType, Operator: OpEquals, Value: "PAYMENT"},
			}},
		}}
		assert.False(t, e.RuleConditionsMatch(rule, tx), "a failing first group is not masked by later ones")
	})

	t.Run("rule with zero groups matches vacuously", func(t *testing.T) {
		assert.True(t, e.RuleConditionsMatch(&Rule{}, tx))
	})
}

func TestOperatorSupportsField(t *testing.T) {
	assert.True(t, OperatorSupportsField(OpBetween, FieldAmount))
	assert.True(t, OperatorSupportsField(OpBetween, FieldDate))
	assert.False(t, OperatorSupportsField(OpBetween, FieldDescription))
	assert.False(t, OperatorSupportsField(OpStartsWith, FieldAmount))
	assert.True(t, OperatorSupportsField(OpRegex, FieldMerchant))
	assert.False(t, OperatorSupportsField(OpEquals, ConditionField("balance")))
}

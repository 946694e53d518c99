package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrejvysny/spendly-sub003/internal/management"
	"github.com/andrejvysny/spendly-sub003/internal/rules"
)

func seedGroup(t *testing.T, ctx context.Context, repo management.Repository, userID int64, name string) *rules.RuleGroup {
	t.Helper()
	group := &rules.RuleGroup{UserID: userID, Name: name, IsActive: true}
	require.NoError(t, repo.CreateRuleGroup(ctx, group))
	return group
}

func sampleRule(groupID, userID int64, name string) *rules.Rule {
	return &rules.Rule{
		GroupID:     groupID,
		UserID:      userID,
		Name:        name,
		TriggerType: rules.TriggerCreated,
		IsActive:    true,
		ConditionGroups: []rules.ConditionGroup{{
			LogicOperator: rules.LogicAnd,
			Conditions: []rules.RuleCondition{{
				Field:    rules.FieldDescription,
				Operator: rules.OpContains,
				Value:    "walmart",
			}},
		}},
		Actions: []rules.RuleAction{{
			ActionType: rules.ActionSetNote,
			RawValue:   "matched",
		}},
	}
}

func TestManagementRepository_RuleGroupCRUD(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	group := seedGroup(t, ctx, repo, testUserID, "subscriptions")
	assert.NotZero(t, group.ID)
	assert.False(t, group.CreatedAt.IsZero())

	time.Sleep(timestampDelay)
	group.Name = "recurring"
	group.IsActive = false
	require.NoError(t, repo.UpdateRuleGroup(ctx, group))

	retrieved, err := repo.GetRuleGroup(ctx, testUserID, group.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, "recurring", retrieved.Name)
	assert.False(t, retrieved.IsActive)
	assert.True(t, retrieved.UpdatedAt.After(retrieved.CreatedAt))

	// Other users never see the group.
	foreign, err := repo.GetRuleGroup(ctx, otherUserID, group.ID)
	require.NoError(t, err)
	assert.Nil(t, foreign)

	require.NoError(t, repo.DeleteRuleGroup(ctx, testUserID, group.ID))
	gone, err := repo.GetRuleGroup(ctx, testUserID, group.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestManagementRepository_ListRuleGroupsOrdering(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	for i, name := range []string{"third", "first", "second"} {
		group := &rules.RuleGroup{UserID: testUserID, Name: name, IsActive: true, Order: []int{3, 1, 2}[i]}
		require.NoError(t, repo.CreateRuleGroup(ctx, group))
	}

	groups, err := repo.ListRuleGroups(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, "first", groups[0].Name)
	assert.Equal(t, "second", groups[1].Name)
	assert.Equal(t, "third", groups[2].Name)
}

func TestManagementRepository_CreateRuleAggregate(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	group := seedGroup(t, ctx, repo, testUserID, "default")
	rule := sampleRule(group.ID, testUserID, "walmart note")
	require.NoError(t, repo.CreateRule(ctx, rule))

	assert.NotZero(t, rule.ID)
	assert.Equal(t, 1, rule.Version)
	assert.NotZero(t, rule.ConditionGroups[0].ID)
	assert.NotZero(t, rule.ConditionGroups[0].Conditions[0].ID)
	assert.NotZero(t, rule.Actions[0].ID)

	retrieved, err := repo.GetRule(ctx, testUserID, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	require.Len(t, retrieved.ConditionGroups, 1)
	require.Len(t, retrieved.ConditionGroups[0].Conditions, 1)
	require.Len(t, retrieved.Actions, 1)
	assert.Equal(t, rules.OpContains, retrieved.ConditionGroups[0].Conditions[0].Operator)

	// Actions come back decoded and ready for the executor.
	text, ok := retrieved.Actions[0].Value.Text()
	require.True(t, ok)
	assert.Equal(t, "matched", text)
}

func TestManagementRepository_UpdateRuleReplacesChildren(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	group := seedGroup(t, ctx, repo, testUserID, "default")
	rule := sampleRule(group.ID, testUserID, "walmart note")
	require.NoError(t, repo.CreateRule(ctx, rule))

	rule.ConditionGroups = []rules.ConditionGroup{{
		LogicOperator: rules.LogicOr,
		Conditions: []rules.RuleCondition{
			{Field: rules.FieldAmount, Operator: rules.OpGreaterThan, Value: "100"},
			{Field: rules.FieldType, Operator: rules.OpEquals, Value: "PAYMENT"},
		},
	}}
	rule.Actions = []rules.RuleAction{
		{ActionType: rules.ActionMarkReconciled},
		{ActionType: rules.ActionSetNote, RawValue: "large", Order: 1},
	}
	require.NoError(t, repo.UpdateRule(ctx, rule))
	assert.Equal(t, 2, rule.Version, "update bumps the version")

	retrieved, err := repo.GetRule(ctx, testUserID, rule.ID)
	require.NoError(t, err)
	require.Len(t, retrieved.ConditionGroups, 1)
	assert.Equal(t, rules.LogicOr, retrieved.ConditionGroups[0].LogicOperator)
	require.Len(t, retrieved.ConditionGroups[0].Conditions, 2)
	require.Len(t, retrieved.Actions, 2)
	assert.Equal(t, rules.ActionMarkReconciled, retrieved.Actions[0].ActionType)
}

func TestManagementRepository_DeleteRuleGroupCascades(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	group := seedGroup(t, ctx, repo, testUserID, "default")
	rule := sampleRule(group.ID, testUserID, "doomed")
	require.NoError(t, repo.CreateRule(ctx, rule))

	require.NoError(t, repo.DeleteRuleGroup(ctx, testUserID, group.ID))

	gone, err := repo.GetRule(ctx, testUserID, rule.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	var conditions int
	require.NoError(t, infra.PostgresDB.QueryRow(
		`SELECT COUNT(*) FROM rule_conditions`).Scan(&conditions))
	assert.Zero(t, conditions, "cascade removes the whole aggregate")
}

func TestManagementRepository_DeleteRuleScopedToUser(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	group := seedGroup(t, ctx, repo, testUserID, "default")
	rule := sampleRule(group.ID, testUserID, "mine")
	require.NoError(t, repo.CreateRule(ctx, rule))

	err := repo.DeleteRule(ctx, otherUserID, rule.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	still, err := repo.GetRule(ctx, testUserID, rule.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)
}

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrejvysny/spendly-sub003/internal/execlog"
	"github.com/andrejvysny/spendly-sub003/internal/lookup"
	"github.com/andrejvysny/spendly-sub003/internal/management"
	"github.com/andrejvysny/spendly-sub003/internal/processing"
	"github.com/andrejvysny/spendly-sub003/internal/rules"
	"github.com/andrejvysny/spendly-sub003/internal/transactions"
	"github.com/andrejvysny/spendly-sub003/pkg/cel"
)

type processingStack struct {
	svc     processing.Service
	txRepo  transactions.Repository
	logRepo execlog.Repository
	mgmt    management.Repository
}

func newProcessingStack(t *testing.T, infra *TestInfra) *processingStack {
	t.Helper()
	log := createTestLogger()

	celEval, err := cel.NewEvaluator()
	require.NoError(t, err)

	resolver := lookup.NewPostgresResolver(infra.PostgresDB)
	engine := rules.NewEngine(
		rules.NewEvaluator(log),
		rules.NewExecutor(resolver, processing.NopNotifier{}, log),
		celEval,
		log,
	)

	var logRepo execlog.Repository = execlog.NoopRepository{}
	if infra.MongoClient != nil {
		logRepo = execlog.NewMongoRepository(infra.MongoClient, "test_db")
	}

	txRepo := transactions.NewRepository(infra.PostgresDB)
	svc := processing.NewService(engine, rules.NewRepository(infra.PostgresDB), txRepo, logRepo, 2, 100, log)

	return &processingStack{
		svc:     svc,
		txRepo:  txRepo,
		logRepo: logRepo,
		mgmt:    management.NewRepository(infra.PostgresDB),
	}
}

// seedTaggingRule stores an active rule that tags matching descriptions.
func seedTaggingRule(t *testing.T, ctx context.Context, stack *processingStack, userID, groupID, tagID int64, name, needle string) *rules.Rule {
	t.Helper()
	rule := &rules.Rule{
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
				Value:    needle,
			}},
		}},
		Actions: []rules.RuleAction{{
			ActionType: rules.ActionAddTag,
			RawValue:   formatID(tagID),
		}},
	}
	require.NoError(t, stack.mgmt.CreateRule(ctx, rule))
	return rule
}

func TestProcessingService_ProcessTransactionsPersistsMutations(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, true, false)
	stack := newProcessingStack(t, infra)
	ctx := context.Background()

	accountID := seedAccount(t, infra.PostgresDB, testUserID, "checking")
	tagID := seedTag(t, infra.PostgresDB, testUserID, "groceries")
	group := seedGroup(t, ctx, stack.mgmt, testUserID, "default")
	rule := seedTaggingRule(t, ctx, stack, testUserID, group.ID, tagID, "tag walmart", "walmart")

	matching := seedTransaction(t, infra.PostgresDB, testUserID, accountID, "WALMART SUPERCENTER", 54.30, time.Now())
	other := seedTransaction(t, infra.PostgresDB, testUserID, accountID, "PIZZA PALACE", 18.00, time.Now())

	summary, err := stack.svc.ProcessTransactions(ctx, testUserID,
		[]int64{matching, other}, rules.TriggerCreated, false)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.ProcessedCount)
	assert.Equal(t, 1, summary.MatchedCount)
	assert.False(t, summary.DryRun)

	reloaded, err := stack.txRepo.GetByIDs(ctx, testUserID, []int64{matching, other})
	require.NoError(t, err)
	byID := map[int64][]string{}
	for _, tx := range reloaded {
		byID[tx.ID] = tx.Tags
	}
	assert.Contains(t, byID[matching], "groceries")
	assert.Empty(t, byID[other])

	entries, err := stack.logRepo.ListByRule(ctx, testUserID, rule.ID, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "one entry per evaluated transaction")
}

func TestProcessingService_DryRunPersistsNothingButLogs(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, true, false)
	stack := newProcessingStack(t, infra)
	ctx := context.Background()

	accountID := seedAccount(t, infra.PostgresDB, testUserID, "checking")
	tagID := seedTag(t, infra.PostgresDB, testUserID, "groceries")
	group := seedGroup(t, ctx, stack.mgmt, testUserID, "default")
	rule := seedTaggingRule(t, ctx, stack, testUserID, group.ID, tagID, "tag walmart", "walmart")

	txID := seedTransaction(t, infra.PostgresDB, testUserID, accountID, "WALMART SUPERCENTER", 54.30, time.Now())

	summary, err := stack.svc.ProcessTransactions(ctx, testUserID,
		[]int64{txID}, rules.TriggerCreated, true)
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.MatchedCount)

	reloaded, err := stack.txRepo.GetByIDs(ctx, testUserID, []int64{txID})
	require.NoError(t, err)
	require.Len(t, reloaded, 1)
	assert.Empty(t, reloaded[0].Tags, "dry run never mutates stored transactions")

	entries, err := stack.logRepo.ListByRule(ctx, testUserID, rule.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].Context["dry_run"])
}

func TestProcessingService_ProcessTransactionsForRules(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	stack := newProcessingStack(t, infra)
	ctx := context.Background()

	accountID := seedAccount(t, infra.PostgresDB, testUserID, "checking")
	groceries := seedTag(t, infra.PostgresDB, testUserID, "groceries")
	dining := seedTag(t, infra.PostgresDB, testUserID, "dining")
	group := seedGroup(t, ctx, stack.mgmt, testUserID, "default")

	wanted := seedTaggingRule(t, ctx, stack, testUserID, group.ID, groceries, "groceries", "walmart")
	seedTaggingRule(t, ctx, stack, testUserID, group.ID, dining, "dining", "walmart")

	txID := seedTransaction(t, infra.PostgresDB, testUserID, accountID, "WALMART SUPERCENTER", 54.30, time.Now())

	_, err := stack.svc.ProcessTransactionsForRules(ctx, testUserID,
		[]int64{txID}, []int64{wanted.ID}, false)
	require.NoError(t, err)

	reloaded, err := stack.txRepo.GetByIDs(ctx, testUserID, []int64{txID})
	require.NoError(t, err)
	require.Len(t, reloaded, 1)
	assert.Equal(t, []string{"groceries"}, reloaded[0].Tags, "only the selected rule ran")
}

func TestProcessingService_ProcessDateRange(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	stack := newProcessingStack(t, infra)
	ctx := context.Background()

	accountID := seedAccount(t, infra.PostgresDB, testUserID, "checking")
	tagID := seedTag(t, infra.PostgresDB, testUserID, "groceries")
	group := seedGroup(t, ctx, stack.mgmt, testUserID, "default")
	rule := seedTaggingRule(t, ctx, stack, testUserID, group.ID, tagID, "tag walmart", "walmart")

	march := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	june := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	inRange := seedTransaction(t, infra.PostgresDB, testUserID, accountID, "WALMART MARCH", 10, march)
	seedTransaction(t, infra.PostgresDB, testUserID, accountID, "WALMART JUNE", 10, june)

	summary, err := stack.svc.ProcessDateRange(ctx, testUserID,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC),
		[]int64{rule.ID}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProcessedCount)

	reloaded, err := stack.txRepo.GetByIDs(ctx, testUserID, []int64{inRange})
	require.NoError(t, err)
	require.Len(t, reloaded, 1)
	assert.Contains(t, reloaded[0].Tags, "groceries")

	// Reversed bounds are rejected up front.
	_, err = stack.svc.ProcessDateRange(ctx, testUserID, june, march, nil, false)
	require.Error(t, err)
}

func TestProcessingService_TestRulePersistsNothing(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, true, false)
	stack := newProcessingStack(t, infra)
	ctx := context.Background()

	accountID := seedAccount(t, infra.PostgresDB, testUserID, "checking")
	tagID := seedTag(t, infra.PostgresDB, testUserID, "groceries")
	txID := seedTransaction(t, infra.PostgresDB, testUserID, accountID, "WALMART SUPERCENTER", 54.30, time.Now())

	draft := rules.Rule{
		Name:        "draft",
		TriggerType: rules.TriggerManual,
		ConditionGroups: []rules.ConditionGroup{{
			LogicOperator: rules.LogicAnd,
			Conditions: []rules.RuleCondition{{
				Field:    rules.FieldDescription,
				Operator: rules.OpContains,
				Value:    "walmart",
			}},
		}},
		Actions: []rules.RuleAction{{
			ActionType: rules.ActionAddTag,
			RawValue:   formatID(tagID),
		}},
	}

	summary, err := stack.svc.TestRule(ctx, testUserID, []int64{txID}, draft)
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.MatchedCount)

	reloaded, err := stack.txRepo.GetByIDs(ctx, testUserID, []int64{txID})
	require.NoError(t, err)
	require.Len(t, reloaded, 1)
	assert.Empty(t, reloaded[0].Tags)

	entries, err := stack.logRepo.ListByTransaction(ctx, testUserID, txID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "rule tests leave no execution logs")
}

func TestProcessingService_UserIsolation(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	stack := newProcessingStack(t, infra)
	ctx := context.Background()

	accountID := seedAccount(t, infra.PostgresDB, otherUserID, "theirs")
	tagID := seedTag(t, infra.PostgresDB, testUserID, "groceries")
	group := seedGroup(t, ctx, stack.mgmt, testUserID, "default")
	seedTaggingRule(t, ctx, stack, testUserID, group.ID, tagID, "tag walmart", "walmart")

	foreignTx := seedTransaction(t, infra.PostgresDB, otherUserID, accountID, "WALMART SUPERCENTER", 54.30, time.Now())

	summary, err := stack.svc.ProcessTransactions(ctx, testUserID,
		[]int64{foreignTx}, rules.TriggerCreated, false)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ProcessedCount, "other users' transactions are invisible")
}

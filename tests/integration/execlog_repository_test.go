package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrejvysny/spendly-sub003/internal/execlog"
	"github.com/andrejvysny/spendly-sub003/internal/rules"
)

func logEntry(ruleID, txID int64, matched bool, at time.Time) rules.ExecutionLogEntry {
	return rules.ExecutionLogEntry{
		RuleID:        ruleID,
		TransactionID: txID,
		UserID:        testUserID,
		Matched:       matched,
		Context: map[string]interface{}{
			"trigger": "created",
			"dry_run": false,
		},
		CreatedAt: at,
	}
}

func TestExeclogRepository_RecordAndList(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := execlog.NewMongoRepository(infra.MongoClient, "test_db")
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	entries := []rules.ExecutionLogEntry{
		logEntry(1, 100, true, now.Add(-2*time.Minute)),
		logEntry(1, 101, false, now.Add(-1*time.Minute)),
		logEntry(2, 100, true, now),
	}
	require.NoError(t, repo.Record(ctx, entries))

	byRule, err := repo.ListByRule(ctx, testUserID, 1, 10)
	require.NoError(t, err)
	require.Len(t, byRule, 2)
	assert.Equal(t, int64(101), byRule[0].TransactionID, "newest first")
	assert.Equal(t, int64(100), byRule[1].TransactionID)

	byTx, err := repo.ListByTransaction(ctx, testUserID, 100, 10)
	require.NoError(t, err)
	assert.Len(t, byTx, 2)

	// Limit is honored.
	limited, err := repo.ListByRule(ctx, testUserID, 1, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// Other users see nothing.
	foreign, err := repo.ListByRule(ctx, otherUserID, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, foreign)
}

func TestExeclogRepository_RecordEmptyIsNoop(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := execlog.NewMongoRepository(infra.MongoClient, "test_db")

	require.NoError(t, repo.Record(context.Background(), nil))
}

func TestExeclogRepository_Stats(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := execlog.NewMongoRepository(infra.MongoClient, "test_db")
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	lastMatch := now.Add(-1 * time.Minute)
	entries := []rules.ExecutionLogEntry{
		logEntry(7, 100, true, now.Add(-3*time.Minute)),
		logEntry(7, 101, false, now.Add(-2*time.Minute)),
		logEntry(7, 102, true, lastMatch),
		logEntry(7, 103, false, now),
	}
	require.NoError(t, repo.Record(ctx, entries))

	stats, err := repo.Stats(ctx, testUserID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.RuleID)
	assert.Equal(t, int64(4), stats.Evaluations)
	assert.Equal(t, int64(2), stats.Matches)
	assert.InDelta(t, 0.5, stats.MatchRate, 0.001)
	require.NotNil(t, stats.LastMatchedAt)
	assert.WithinDuration(t, lastMatch, *stats.LastMatchedAt, time.Second)
}

func TestExeclogRepository_StatsForUnknownRule(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := execlog.NewMongoRepository(infra.MongoClient, "test_db")

	stats, err := repo.Stats(context.Background(), testUserID, 404)
	require.NoError(t, err)
	assert.Zero(t, stats.Evaluations)
	assert.Zero(t, stats.MatchRate)
	assert.Nil(t, stats.LastMatchedAt)
}

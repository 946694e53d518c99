package integration

import (
	"context"
	"database/sql"
	"strconv"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/internal/management"
	"github.com/andrejvysny/spendly-sub003/internal/rules"
)

const (
	containerStartupTimeout = 60
	timestampDelay          = 10 * time.Millisecond

	testUserID  = int64(42)
	otherUserID = int64(99)
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// seedAccount inserts an account row directly; the service never writes
// accounts, transactions always reference one.
func seedAccount(t *testing.T, db *sql.DB, userID int64, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(
		`INSERT INTO accounts (user_id, name) VALUES ($1, $2) RETURNING id`,
		userID, name,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedCategory(t *testing.T, db *sql.DB, userID int64, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(
		`INSERT INTO categories (user_id, name) VALUES ($1, $2) RETURNING id`,
		userID, name,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedTag(t *testing.T, db *sql.DB, userID int64, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(
		`INSERT INTO tags (user_id, name) VALUES ($1, $2) RETURNING id`,
		userID, name,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedMerchant(t *testing.T, db *sql.DB, userID int64, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(
		`INSERT INTO merchants (user_id, name) VALUES ($1, $2) RETURNING id`,
		userID, name,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedTransaction(t *testing.T, db *sql.DB, userID, accountID int64, description string, amount float64, bookedAt time.Time) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(
		`INSERT INTO transactions (user_id, account_id, amount, currency, type, description, booked_at, tags)
		 VALUES ($1, $2, $3, 'EUR', 'PAYMENT', $4, $5, $6)
		 RETURNING id`,
		userID, accountID, amount, description, bookedAt, pq.StringArray{},
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func createTestGroup(t *testing.T, ctx context.Context, svc management.Service, userID int64, name string) *rules.RuleGroup {
	t.Helper()
	group, err := svc.CreateRuleGroup(ctx, userID, management.CreateRuleGroupRequest{Name: name})
	require.NoError(t, err)
	return group
}

// createRuleRequest builds a minimal valid rule: one description-contains
// condition and one add_tag action.
func createRuleRequest(groupID int64, name, needle, tagID string) management.CreateRuleRequest {
	return management.CreateRuleRequest{
		GroupID:     groupID,
		Name:        name,
		TriggerType: "created",
		ConditionGroups: []management.CreateConditionGroupRequest{{
			LogicOperator: "AND",
			Conditions: []management.CreateConditionRequest{{
				Field:    "description",
				Operator: "contains",
				Value:    needle,
			}},
		}},
		Actions: []management.CreateActionRequest{{
			ActionType: "add_tag",
			Value:      tagID,
		}},
	}
}

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrejvysny/spendly-sub003/internal/management"
	"github.com/andrejvysny/spendly-sub003/pkg/cel"
)

func newManagementService(t *testing.T, infra *TestInfra) management.Service {
	t.Helper()
	celEval, err := cel.NewEvaluator()
	require.NoError(t, err)

	return management.NewService(
		management.NewRepository(infra.PostgresDB),
		management.NewValidator(celEval),
		createTestLogger(),
		management.WithVersioning(management.NewVersioningRepository(infra.PostgresDB)),
	)
}

func TestManagementService_CreateRuleWritesVersionAndAudit(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	svc := newManagementService(t, infra)
	ctx := context.Background()

	tagID := seedTag(t, infra.PostgresDB, testUserID, "groceries")
	group := createTestGroup(t, ctx, svc, testUserID, "default")

	rule, err := svc.CreateRule(ctx, testUserID,
		createRuleRequest(group.ID, "tag groceries", "walmart", formatID(tagID)))
	require.NoError(t, err)
	assert.NotZero(t, rule.ID)
	assert.Equal(t, 1, rule.Version)

	versions, err := svc.GetRuleVersions(ctx, testUserID, rule.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, rule.ID, versions[0].RuleID)

	logs, err := svc.GetAuditLogs(ctx, testUserID, &rule.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "create", logs[0].Action)
}

func TestManagementService_UpdateRuleBumpsVersion(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	svc := newManagementService(t, infra)
	ctx := context.Background()

	tagID := seedTag(t, infra.PostgresDB, testUserID, "groceries")
	group := createTestGroup(t, ctx, svc, testUserID, "default")
	rule, err := svc.CreateRule(ctx, testUserID,
		createRuleRequest(group.ID, "original", "walmart", formatID(tagID)))
	require.NoError(t, err)

	time.Sleep(timestampDelay)
	newName := "renamed"
	updated, err := svc.UpdateRule(ctx, testUserID, rule.ID, management.UpdateRuleRequest{
		Name: &newName,
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, 2, updated.Version)

	versions, err := svc.GetRuleVersions(ctx, testUserID, rule.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	logs, err := svc.GetAuditLogs(ctx, testUserID, &rule.ID, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(logs), 2)
	assert.Equal(t, "update", logs[0].Action, "newest entry first")
}

func TestManagementService_ToggleRule(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	svc := newManagementService(t, infra)
	ctx := context.Background()

	tagID := seedTag(t, infra.PostgresDB, testUserID, "groceries")
	group := createTestGroup(t, ctx, svc, testUserID, "default")
	rule, err := svc.CreateRule(ctx, testUserID,
		createRuleRequest(group.ID, "toggled", "walmart", formatID(tagID)))
	require.NoError(t, err)
	require.True(t, rule.IsActive)

	toggled, err := svc.ToggleRule(ctx, testUserID, rule.ID)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)

	toggled, err = svc.ToggleRule(ctx, testUserID, rule.ID)
	require.NoError(t, err)
	assert.True(t, toggled.IsActive)
}

func TestManagementService_DeleteRuleKeepsVersionHistory(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	svc := newManagementService(t, infra)
	ctx := context.Background()

	tagID := seedTag(t, infra.PostgresDB, testUserID, "groceries")
	group := createTestGroup(t, ctx, svc, testUserID, "default")
	rule, err := svc.CreateRule(ctx, testUserID,
		createRuleRequest(group.ID, "doomed", "walmart", formatID(tagID)))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRule(ctx, testUserID, rule.ID))

	_, err = svc.GetRule(ctx, testUserID, rule.ID)
	require.Error(t, err)

	versions, err := svc.GetRuleVersions(ctx, testUserID, rule.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, versions, "snapshots survive the rule")

	logs, err := svc.GetAuditLogs(ctx, testUserID, &rule.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, "delete", logs[0].Action)
}

func TestManagementService_RejectsInvalidRule(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	svc := newManagementService(t, infra)
	ctx := context.Background()

	group := createTestGroup(t, ctx, svc, testUserID, "default")

	req := createRuleRequest(group.ID, "broken", "walmart", "not-a-number")
	_, err := svc.CreateRule(ctx, testUserID, req)
	require.Error(t, err)

	req = createRuleRequest(group.ID, "broken", "walmart", "1")
	req.TriggerType = "hourly"
	_, err = svc.CreateRule(ctx, testUserID, req)
	require.Error(t, err)
}

func TestManagementService_RejectsForeignGroup(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	svc := newManagementService(t, infra)
	ctx := context.Background()

	tagID := seedTag(t, infra.PostgresDB, testUserID, "groceries")
	group := createTestGroup(t, ctx, svc, otherUserID, "theirs")

	_, err := svc.CreateRule(ctx, testUserID,
		createRuleRequest(group.ID, "trespasser", "walmart", formatID(tagID)))
	require.Error(t, err)
}

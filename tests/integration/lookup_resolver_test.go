package integration

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrejvysny/spendly-sub003/internal/lookup"
)

func TestPostgresResolver_ResolveAndFind(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	resolver := lookup.NewPostgresResolver(infra.PostgresDB)
	ctx := context.Background()

	categoryID := seedCategory(t, infra.PostgresDB, testUserID, "Groceries")
	merchantID := seedMerchant(t, infra.PostgresDB, testUserID, "Walmart")
	tagID := seedTag(t, infra.PostgresDB, testUserID, "weekly")

	name, err := resolver.ResolveCategory(ctx, testUserID, categoryID)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", name)

	name, err = resolver.ResolveMerchant(ctx, testUserID, merchantID)
	require.NoError(t, err)
	assert.Equal(t, "Walmart", name)

	name, err = resolver.ResolveTag(ctx, testUserID, tagID)
	require.NoError(t, err)
	assert.Equal(t, "weekly", name)

	id, found, err := resolver.FindCategoryByName(ctx, testUserID, "Groceries")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, categoryID, id)

	_, found, err = resolver.FindCategoryByName(ctx, testUserID, "Nonexistent")
	require.NoError(t, err)
	assert.False(t, found)

	// Entities belong to their user.
	_, err = resolver.ResolveCategory(ctx, otherUserID, categoryID)
	require.Error(t, err)
}

func TestPostgresResolver_CreateIsIdempotent(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	resolver := lookup.NewPostgresResolver(infra.PostgresDB)
	ctx := context.Background()

	first, err := resolver.CreateTag(ctx, testUserID, "brand-new")
	require.NoError(t, err)
	assert.NotZero(t, first)

	// Creating the same name again returns the existing row.
	second, err := resolver.CreateTag(ctx, testUserID, "brand-new")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var count int
	require.NoError(t, infra.PostgresDB.QueryRow(
		`SELECT COUNT(*) FROM tags WHERE user_id = $1 AND name = $2`,
		testUserID, "brand-new").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestCachedResolver_ServesFromRedisAfterFirstHit(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, true)
	ctx := context.Background()

	categoryID := seedCategory(t, infra.PostgresDB, testUserID, "Groceries")

	resolver := lookup.NewCachedResolver(
		lookup.NewPostgresResolver(infra.PostgresDB),
		infra.RedisClient, nil, 60, createTestLogger(),
	)

	name, err := resolver.ResolveCategory(ctx, testUserID, categoryID)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", name)

	key := fmt.Sprintf("lookup:category:%d:%d", testUserID, categoryID)
	cached, err := infra.RedisClient.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "Groceries", cached)

	// A rename only lands after the TTL; the cache still serves the old
	// name, which is what the resolve-then-cache contract promises.
	_, err = infra.PostgresDB.Exec(
		`UPDATE categories SET name = 'Renamed' WHERE id = $1`, categoryID)
	require.NoError(t, err)

	name, err = resolver.ResolveCategory(ctx, testUserID, categoryID)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", name)
}

func TestCachedResolver_CreateWarmsTheCache(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, true)
	ctx := context.Background()

	resolver := lookup.NewCachedResolver(
		lookup.NewPostgresResolver(infra.PostgresDB),
		infra.RedisClient, nil, 60, createTestLogger(),
	)

	id, err := resolver.CreateMerchant(ctx, testUserID, "Corner Bakery")
	require.NoError(t, err)

	key := fmt.Sprintf("lookup:merchant:%d:%d", testUserID, id)
	cached, err := infra.RedisClient.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "Corner Bakery", cached)
}

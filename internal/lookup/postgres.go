package lookup

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/andrejvysny/spendly-sub003/internal/rules"
	"github.com/andrejvysny/spendly-sub003/pkg/errors"
)

// PostgresResolver resolves user-scoped categories, merchants and tags
// against the primary store. An id belonging to another user is reported
// as not found, never leaked.
type PostgresResolver struct {
	db *sql.DB
}

func NewPostgresResolver(db *sql.DB) *PostgresResolver {
	return &PostgresResolver{db: db}
}

var _ rules.EntityResolver = (*PostgresResolver)(nil)

func (r *PostgresResolver) ResolveCategory(ctx context.Context, userID, categoryID int64) (string, error) {
	return r.resolveName(ctx, "categories", userID, categoryID)
}

func (r *PostgresResolver) ResolveMerchant(ctx context.Context, userID, merchantID int64) (string, error) {
	return r.resolveName(ctx, "merchants", userID, merchantID)
}

func (r *PostgresResolver) ResolveTag(ctx context.Context, userID, tagID int64) (string, error) {
	return r.resolveName(ctx, "tags", userID, tagID)
}

func (r *PostgresResolver) resolveName(ctx context.Context, table string, userID, id int64) (string, error) {
	query := fmt.Sprintf(`SELECT name FROM %s WHERE id = $1 AND user_id = $2`, table)

	var name string
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", errors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s %d: %w", table, id, err)
	}
	return name, nil
}

func (r *PostgresResolver) FindCategoryByName(ctx context.Context, userID int64, name string) (int64, bool, error) {
	return r.findByName(ctx, "categories", userID, name)
}

func (r *PostgresResolver) FindMerchantByName(ctx context.Context, userID int64, name string) (int64, bool, error) {
	return r.findByName(ctx, "merchants", userID, name)
}

func (r *PostgresResolver) FindTagByName(ctx context.Context, userID int64, name string) (int64, bool, error) {
	return r.findByName(ctx, "tags", userID, name)
}

func (r *PostgresResolver) findByName(ctx context.Context, table string, userID int64, name string) (int64, bool, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE user_id = $1 AND lower(name) = lower($2)`, table)

	var id int64
	err := r.db.QueryRowContext(ctx, query, userID, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to find %s by name: %w", table, err)
	}
	return id, true, nil
}

func (r *PostgresResolver) CreateCategory(ctx context.Context, userID int64, name string) (int64, error) {
	return r.create(ctx, "categories", userID, name)
}

func (r *PostgresResolver) CreateMerchant(ctx context.Context, userID int64, name string) (int64, error) {
	return r.create(ctx, "merchants", userID, name)
}

func (r *PostgresResolver) CreateTag(ctx context.Context, userID int64, name string) (int64, error) {
	return r.create(ctx, "tags", userID, name)
}

func (r *PostgresResolver) create(ctx context.Context, table string, userID int64, name string) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id, name) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`, table)

	var id int64
	if err := r.db.QueryRowContext(ctx, query, userID, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create %s %q: %w", table, name, err)
	}
	return id, nil
}

package transactions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/andrejvysny/spendly-sub003/pkg/models"
)

// Repository loads transactions for processing and writes back the fields
// the rule engine is allowed to mutate. Display names for category,
// merchant and account are joined in so condition evaluation needs no
// further lookups.
type Repository interface {
	GetByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.Transaction, error)
	GetByDateRange(ctx context.Context, userID int64, start, end time.Time) ([]*models.Transaction, error)
	SaveMutations(ctx context.Context, tx *models.Transaction) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

const selectColumns = `
	t.id, t.user_id, t.account_id, t.category_id, t.merchant_id,
	t.amount, t.currency, t.type, t.description, t.note, t.recipient_note,
	t.place, t.partner_name, t.target_iban, t.source_iban,
	t.booked_at, t.tags, t.reconciled,
	COALESCE(c.name, ''), COALESCE(m.name, ''), COALESCE(a.name, ''),
	t.created_at, t.updated_at
`

const fromClause = `
	FROM transactions t
	LEFT JOIN categories c ON c.id = t.category_id
	LEFT JOIN merchants m ON m.id = t.merchant_id
	LEFT JOIN accounts a ON a.id = t.account_id
`

func (r *PostgresRepository) GetByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + selectColumns + fromClause + `
		WHERE t.user_id = $1 AND t.id = ANY($2)
		ORDER BY t.booked_at ASC, t.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (r *PostgresRepository) GetByDateRange(ctx context.Context, userID int64, start, end time.Time) ([]*models.Transaction, error) {
	query := `SELECT ` + selectColumns + fromClause + `
		WHERE t.user_id = $1 AND t.booked_at >= $2 AND t.booked_at <= $3
		ORDER BY t.booked_at ASC, t.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var categoryID, merchantID sql.NullInt64
		var tags pq.StringArray

		if err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.AccountID,
			&categoryID,
			&merchantID,
			&tx.Amount,
			&tx.Currency,
			&tx.Type,
			&tx.Description,
			&tx.Note,
			&tx.RecipientNote,
			&tx.Place,
			&tx.PartnerName,
			&tx.TargetIBAN,
			&tx.SourceIBAN,
			&tx.BookedAt,
			&tags,
			&tx.Reconciled,
			&tx.CategoryName,
			&tx.MerchantName,
			&tx.AccountName,
			&tx.CreatedAt,
			&tx.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		if categoryID.Valid {
			id := categoryID.Int64
			tx.CategoryID = &id
		}
		if merchantID.Valid {
			id := merchantID.Int64
			tx.MerchantID = &id
		}
		tx.Tags = []string(tags)
		txs = append(txs, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return txs, nil
}

// SaveMutations writes back only the fields an action can change.
func (r *PostgresRepository) SaveMutations(ctx context.Context, tx *models.Transaction) error {
	query := `
		UPDATE transactions
		SET category_id = $1,
		    merchant_id = $2,
		    type = $3,
		    description = $4,
		    note = $5,
		    tags = $6,
		    reconciled = $7,
		    updated_at = NOW()
		WHERE id = $8 AND user_id = $9
	`

	var categoryID, merchantID interface{}
	if tx.CategoryID != nil {
		categoryID = *tx.CategoryID
	}
	if tx.MerchantID != nil {
		merchantID = *tx.MerchantID
	}

	result, err := r.db.ExecContext(ctx, query,
		categoryID,
		merchantID,
		tx.Type,
		tx.Description,
		tx.Note,
		pq.Array(tx.Tags),
		tx.Reconciled,
		tx.ID,
		tx.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction %d: %w", tx.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %d not found for user %d", tx.ID, tx.UserID)
	}

	return nil
}

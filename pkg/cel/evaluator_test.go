package cel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrejvysny/spendly-sub003/pkg/models"
)

func testTransaction() *models.Transaction {
	return &models.Transaction{
		ID:           1,
		UserID:       42,
		Amount:       100.50,
		Currency:     "EUR",
		Type:         models.TransactionTypePayment,
		Description:  "WALMART SUPERCENTER #1234",
		MerchantName: "Walmart",
		BookedAt:     time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC),
		Tags:         []string{"groceries", "weekly"},
	}
}

func TestEvaluate(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)
	tx := testTransaction()

	tests := []struct {
		name       string
		expression string
		want       bool
	}{
		{name: "amount comparison", expression: "amount > 50.0", want: true},
		{name: "amount comparison false", expression: "amount > 200.0", want: false},
		{name: "merchant equality", expression: `merchant == "Walmart"`, want: true},
		{name: "conjunction", expression: `amount > 50.0 && merchant == "Walmart"`, want: true},
		{name: "transaction type", expression: `transaction_type == "PAYMENT"`, want: true},
		{name: "tag membership", expression: `"groceries" in tags`, want: true},
		{name: "date window", expression: `date < timestamp("2024-04-01T00:00:00Z")`, want: true},
		{name: "string function on description", expression: `description.contains("WALMART")`, want: true},
		{name: "reconciled defaults to false", expression: "!reconciled", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(context.Background(), tt.expression, tx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)
	tx := testTransaction()

	_, err = e.Evaluate(context.Background(), "amount >", tx)
	assert.Error(t, err, "syntax errors surface")

	_, err = e.Evaluate(context.Background(), "amount + 1.0", tx)
	assert.Error(t, err, "non-bool expressions surface")

	_, err = e.Evaluate(context.Background(), "balance > 1.0", tx)
	assert.Error(t, err, "unknown variables surface")
}

func TestValidateExpression(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	// Every exposed variable compiles against its declared type.
	assert.NoError(t, e.ValidateExpression(`amount > 0.0 && currency == "EUR" && transaction_type != "" &&
		description != "" && note == "" && recipient_note == "" && place != "" && partner != "" &&
		category != "" && merchant != "" && account != "" && target_iban == "" && source_iban == "" &&
		date > timestamp("2000-01-01T00:00:00Z") && size(tags) > 0 && !reconciled`))

	assert.Error(t, e.ValidateExpression("amount >"))
	assert.Error(t, e.ValidateExpression("amount + 1.0"))
}

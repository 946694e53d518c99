package models

import "time"

// Transaction is the unit of work the rule engine evaluates. Category,
// merchant and account names are denormalized by the repository join so
// condition evaluation never needs a datastore round-trip.
type Transaction struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	AccountID     int64      `json:"account_id"`
	CategoryID    *int64     `json:"category_id,omitempty"`
	MerchantID    *int64     `json:"merchant_id,omitempty"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	Type          string     `json:"type"`
	Description   string     `json:"description"`
	Note          string     `json:"note"`
	RecipientNote string     `json:"recipient_note"`
	Place         string     `json:"place"`
	PartnerName   string     `json:"partner_name"`
	TargetIBAN    string     `json:"target_iban"`
	SourceIBAN    string     `json:"source_iban"`
	BookedAt      time.Time  `json:"booked_at"`
	Tags          []string   `json:"tags"`
	Reconciled    bool       `json:"reconciled"`
	CategoryName  string     `json:"category_name,omitempty"`
	MerchantName  string     `json:"merchant_name,omitempty"`
	AccountName   string     `json:"account_name,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const (
	TransactionTypePayment    = "PAYMENT"
	TransactionTypeTransfer   = "TRANSFER"
	TransactionTypeDeposit    = "DEPOSIT"
	TransactionTypeWithdrawal = "WITHDRAWAL"
	TransactionTypeFee        = "FEE"
	TransactionTypeExchange   = "EXCHANGE"
)

var transactionTypes = map[string]bool{
	TransactionTypePayment:    true,
	TransactionTypeTransfer:   true,
	TransactionTypeDeposit:    true,
	TransactionTypeWithdrawal: true,
	TransactionTypeFee:        true,
	TransactionTypeExchange:   true,
}

func ValidTransactionType(t string) bool {
	return transactionTypes[t]
}

// Clone returns a deep copy. Dry runs mutate the copy so the caller's
// transaction is untouched.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	if t.CategoryID != nil {
		id := *t.CategoryID
		cp.CategoryID = &id
	}
	if t.MerchantID != nil {
		id := *t.MerchantID
		cp.MerchantID = &id
	}
	cp.Tags = make([]string, len(t.Tags))
	copy(cp.Tags, t.Tags)
	return &cp
}

func (t *Transaction) HasTag(name string) bool {
	for _, tag := range t.Tags {
		if tag == name {
			return true
		}
	}
	return false
}

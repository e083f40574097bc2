package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind selects which balance bucket a credit lands in.
type Kind string

const (
	// KindPending is money earned but not yet liquid (escrow held).
	KindPending Kind = "pending"
	// KindAvailable is money the user can withdraw or spend.
	KindAvailable Kind = "available"
)

// Account mirrors the ledger_accounts row for one user.
type Account struct {
	Email     string
	Pending   decimal.Decimal
	Available decimal.Decimal
	UpdatedAt time.Time
}

// Entry is an append-only audit record of a single balance mutation.
type Entry struct {
	ID        int64
	Email     string
	Amount    decimal.Decimal
	Kind      string
	Ref       *string
	CreatedAt time.Time
}

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"marketflow/money"
)

var (
	// ErrInsufficientFunds signals a debit or release larger than the balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrInvalidAmount signals a negative or malformed amount.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
)

// Repository mutates user balances. Every write happens inside the caller's
// transaction so a status transition and its balance effect commit or roll
// back together; nothing else in the engine touches balance columns.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Credit adds amount to the addressed bucket, creating the account row on
// first touch. ref ties the entry back to the transaction or dispute that
// caused it.
func (r *Repository) Credit(ctx context.Context, tx pgx.Tx, email string, amount decimal.Decimal, kind Kind, ref string) error {
	amount, err := money.NonNegative(amount)
	if err != nil {
		return ErrInvalidAmount
	}
	if kind != KindPending && kind != KindAvailable {
		return fmt.Errorf("ledger: unknown kind %q", kind)
	}

	column := "pending"
	entryKind := "pending_credit"
	if kind == KindAvailable {
		column = "available"
		entryKind = "available_credit"
	}

	upsert := fmt.Sprintf(`
		INSERT INTO ledger_accounts (email, %[1]s, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (email)
		DO UPDATE SET %[1]s = ledger_accounts.%[1]s + EXCLUDED.%[1]s, updated_at = now()
	`, column)
	if _, err := tx.Exec(ctx, upsert, email, amount); err != nil {
		return fmt.Errorf("ledger: credit %s: %w", column, err)
	}

	return r.appendEntry(ctx, tx, email, amount, entryKind, ref)
}

// Debit removes amount from the available balance. The conditional WHERE
// keeps the balance non-negative under concurrent debits.
func (r *Repository) Debit(ctx context.Context, tx pgx.Tx, email string, amount decimal.Decimal, ref string) error {
	amount, err := money.NonNegative(amount)
	if err != nil {
		return ErrInvalidAmount
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ledger_accounts
		SET available = available - $2, updated_at = now()
		WHERE email = $1 AND available >= $2
	`, email, amount)
	if err != nil {
		return fmt.Errorf("ledger: debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}

	return r.appendEntry(ctx, tx, email, amount, "debit", ref)
}

// DebitPending removes amount from the pending balance. Used when a dispute
// resolution reverses an escrow payout that was never released.
func (r *Repository) DebitPending(ctx context.Context, tx pgx.Tx, email string, amount decimal.Decimal, ref string) error {
	amount, err := money.NonNegative(amount)
	if err != nil {
		return ErrInvalidAmount
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ledger_accounts
		SET pending = pending - $2, updated_at = now()
		WHERE email = $1 AND pending >= $2
	`, email, amount)
	if err != nil {
		return fmt.Errorf("ledger: debit pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}

	return r.appendEntry(ctx, tx, email, amount, "debit", ref)
}

// Release moves amount from pending to available: the settlement primitive.
func (r *Repository) Release(ctx context.Context, tx pgx.Tx, email string, amount decimal.Decimal, ref string) error {
	amount, err := money.NonNegative(amount)
	if err != nil {
		return ErrInvalidAmount
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ledger_accounts
		SET pending = pending - $2, available = available + $2, updated_at = now()
		WHERE email = $1 AND pending >= $2
	`, email, amount)
	if err != nil {
		return fmt.Errorf("ledger: release: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}

	return r.appendEntry(ctx, tx, email, amount, "release", ref)
}

// GetAccount reads the current balances for a user. A user with no ledger
// activity yet reads as a zeroed account.
func (r *Repository) GetAccount(ctx context.Context, email string) (Account, error) {
	const query = `
		SELECT email, pending, available, updated_at
		FROM ledger_accounts
		WHERE email = $1
	`
	var acct Account
	err := r.pool.QueryRow(ctx, query, email).Scan(&acct.Email, &acct.Pending, &acct.Available, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{Email: email, Pending: decimal.Zero, Available: decimal.Zero}, nil
		}
		return Account{}, fmt.Errorf("ledger: get account: %w", err)
	}
	return acct, nil
}

func (r *Repository) appendEntry(ctx context.Context, tx pgx.Tx, email string, amount decimal.Decimal, kind, ref string) error {
	var refArg any
	if ref != "" {
		refArg = ref
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (email, amount, kind, ref)
		VALUES ($1, $2, $3, $4)
	`, email, amount, kind, refArg); err != nil {
		return fmt.Errorf("ledger: append entry: %w", err)
	}
	return nil
}

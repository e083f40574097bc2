package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals the dispute does not exist.
	ErrNotFound = errors.New("dispute: not found")
	// ErrDuplicate signals an active dispute already exists for the transaction.
	ErrDuplicate = errors.New("dispute: active dispute already exists")
	// ErrWindowClosed signals the claim window has passed or never opened.
	ErrWindowClosed = errors.New("dispute: claim window closed")
	// ErrBadStatus signals a transition invalid for the current status.
	ErrBadStatus = errors.New("dispute: invalid status transition")
)

const disputeColumns = `id, transaction_id, buyer_email, seller_email, reason, description,
	evidence_images, status::text, outcome::text, refund_amount, keep_product,
	resolution_notes, resolved_at, resolved_by, created_at, updated_at`

// PGRepository persists disputes. The one-active-claim-per-transaction rule
// is a partial unique index, so two racing File calls resolve to exactly one
// row and one ErrDuplicate.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FileParams describes a buyer's claim.
type FileParams struct {
	TransactionID  string
	BuyerEmail     string
	SellerEmail    string
	Reason         string
	Description    string
	EvidenceImages []string
}

// File inserts a claim. The SELECT source enforces the window: the
// transaction must be delivered and the dispute deadline still open, so a
// racing settlement sweep cannot admit a late claim.
func (r *PGRepository) File(ctx context.Context, tx pgx.Tx, params FileParams, now time.Time) (Record, error) {
	const query = `
		INSERT INTO disputes (transaction_id, buyer_email, seller_email, reason, description, evidence_images)
		SELECT t.id, $2, $3, $4, $5, $6
		FROM escrow_transactions t
		WHERE t.id = $1
		  AND t.buyer_email = $2
		  AND t.delivered_at IS NOT NULL
		  AND t.dispute_deadline > $7
		RETURNING ` + disputeColumns

	rec, err := scanRecord(tx.QueryRow(ctx, query,
		params.TransactionID,
		params.BuyerEmail,
		params.SellerEmail,
		params.Reason,
		params.Description,
		params.EvidenceImages,
		now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrWindowClosed
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicate
		}
		return Record{}, fmt.Errorf("dispute: file: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Record, error) {
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get by id: %w", err)
	}
	return rec, nil
}

// StartReview flips open -> under_review.
func (r *PGRepository) StartReview(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	const query = `
		UPDATE disputes
		SET status = 'under_review', updated_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + disputeColumns

	rec, err := scanRecord(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, r.classify(ctx, tx, id)
		}
		return Record{}, fmt.Errorf("dispute: start review: %w", err)
	}
	return rec, nil
}

// ResolveParams carries the arbitrator's decision.
type ResolveParams struct {
	Outcome      Outcome
	RefundAmount decimal.Decimal
	KeepProduct  bool
	Notes        string
	ResolvedBy   string
}

// Resolve writes the terminal decision. One-way: only a live dispute
// matches the WHERE clause.
func (r *PGRepository) Resolve(ctx context.Context, tx pgx.Tx, id string, params ResolveParams, now time.Time) (Record, error) {
	const query = `
		UPDATE disputes
		SET status = 'resolved', outcome = $2::dispute_outcome, refund_amount = $3,
		    keep_product = $4, resolution_notes = $5, resolved_at = $6, resolved_by = $7,
		    updated_at = now()
		WHERE id = $1 AND status IN ('open', 'under_review')
		RETURNING ` + disputeColumns

	rec, err := scanRecord(tx.QueryRow(ctx, query,
		id,
		params.Outcome,
		params.RefundAmount,
		params.KeepProduct,
		params.Notes,
		now,
		params.ResolvedBy,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, r.classify(ctx, tx, id)
		}
		return Record{}, fmt.Errorf("dispute: resolve: %w", err)
	}
	return rec, nil
}

// ListForTransaction returns every dispute ever filed against a transaction,
// newest first.
func (r *PGRepository) ListForTransaction(ctx context.Context, transactionID string) ([]Record, error) {
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE transaction_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 4)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) classify(ctx context.Context, tx pgx.Tx, id string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status::text FROM disputes WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("dispute: classify: %w", err)
	}
	return ErrBadStatus
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.TransactionID,
		&rec.BuyerEmail,
		&rec.SellerEmail,
		&rec.Reason,
		&rec.Description,
		&rec.EvidenceImages,
		&rec.Status,
		&rec.Outcome,
		&rec.RefundAmount,
		&rec.KeepProduct,
		&rec.ResolutionNotes,
		&rec.ResolvedAt,
		&rec.ResolvedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

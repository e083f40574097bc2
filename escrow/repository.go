package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals the transaction does not exist.
	ErrNotFound = errors.New("escrow: transaction not found")
	// ErrBadStatus signals a transition invalid for the current status.
	ErrBadStatus = errors.New("escrow: invalid status transition")
	// ErrProductTaken signals another live transaction already holds the product.
	ErrProductTaken = errors.New("escrow: product already in a live sale")
	// ErrDuplicateIdempotencyKey signals the payment callback was already processed.
	ErrDuplicateIdempotencyKey = errors.New("escrow: duplicate idempotency key")
	// ErrDiscountNotFound signals an unknown discount code.
	ErrDiscountNotFound = errors.New("escrow: discount not found")
)

const txColumns = `id, product_id, buyer_email, seller_email, item_price, buyer_protection_fee,
	shipping_price, shipping_margin, platform_fee, discount, total_price, seller_payout,
	status::text, shipping_deadline, dispute_deadline, tracking_number, payment_ref,
	shipping_overdue, shipped_at, delivered_at, created_at, updated_at`

// PGRepository persists escrow transactions. Transitions are conditional
// UPDATEs keyed on the expected current status, so sweeps and user requests
// racing on the same record can never both win.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// InsertParams enumerates the fields fixed at checkout.
type InsertParams struct {
	ProductID          string
	BuyerEmail         string
	SellerEmail        string
	ItemPrice          decimal.Decimal
	BuyerProtectionFee decimal.Decimal
	ShippingPrice      decimal.Decimal
	ShippingMargin     decimal.Decimal
	PlatformFee        decimal.Decimal
	Discount           decimal.Decimal
	TotalPrice         decimal.Decimal
	SellerPayout       decimal.Decimal
	ShippingDeadline   time.Time
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Transaction, error) {
	const query = `
		INSERT INTO escrow_transactions (
			product_id, buyer_email, seller_email, item_price, buyer_protection_fee,
			shipping_price, shipping_margin, platform_fee, discount, total_price,
			seller_payout, status, shipping_deadline
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', $12)
		RETURNING ` + txColumns

	row := tx.QueryRow(ctx, query,
		params.ProductID,
		params.BuyerEmail,
		params.SellerEmail,
		params.ItemPrice,
		params.BuyerProtectionFee,
		params.ShippingPrice,
		params.ShippingMargin,
		params.PlatformFee,
		params.Discount,
		params.TotalPrice,
		params.SellerPayout,
		params.ShippingDeadline,
	)
	rec, err := scanTransaction(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Transaction{}, ErrProductTaken
		}
		return Transaction{}, fmt.Errorf("escrow: insert: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Transaction, error) {
	const query = `SELECT ` + txColumns + ` FROM escrow_transactions WHERE id = $1`
	rec, err := scanTransaction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("escrow: get by id: %w", err)
	}
	return rec, nil
}

// InsertIdempotencyKey attempts to reserve the idempotency key inside the
// active transaction. A duplicate means the external callback already ran.
func (r *PGRepository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("escrow: empty idempotency key")
	}

	if _, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("escrow: insert idempotency key: %w", err)
	}
	return nil
}

// MarkPaid flips pending -> paid, recording the external payment reference.
func (r *PGRepository) MarkPaid(ctx context.Context, tx pgx.Tx, id, paymentRef string) (Transaction, error) {
	const query = `
		UPDATE escrow_transactions
		SET status = 'paid', payment_ref = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + txColumns

	rec, err := scanTransaction(tx.QueryRow(ctx, query, id, paymentRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, r.classify(ctx, tx, id)
		}
		return Transaction{}, fmt.Errorf("escrow: mark paid: %w", err)
	}
	return rec, nil
}

// MarkShipped flips paid -> shipped. Shipping past the deadline still
// succeeds; the overdue flag is what escalation hangs off.
func (r *PGRepository) MarkShipped(ctx context.Context, tx pgx.Tx, id, trackingNumber string, now time.Time) (Transaction, error) {
	const query = `
		UPDATE escrow_transactions
		SET status = 'shipped', tracking_number = $2, shipped_at = $3,
		    shipping_overdue = shipping_overdue OR shipping_deadline < $3,
		    updated_at = now()
		WHERE id = $1 AND status = 'paid'
		RETURNING ` + txColumns

	rec, err := scanTransaction(tx.QueryRow(ctx, query, id, trackingNumber, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, r.classify(ctx, tx, id)
		}
		return Transaction{}, fmt.Errorf("escrow: mark shipped: %w", err)
	}
	return rec, nil
}

// MarkDelivered flips shipped -> delivered and opens the dispute window.
func (r *PGRepository) MarkDelivered(ctx context.Context, tx pgx.Tx, id string, now, disputeDeadline time.Time) (Transaction, error) {
	const query = `
		UPDATE escrow_transactions
		SET status = 'delivered', delivered_at = $2, dispute_deadline = $3, updated_at = now()
		WHERE id = $1 AND status = 'shipped'
		RETURNING ` + txColumns

	rec, err := scanTransaction(tx.QueryRow(ctx, query, id, now, disputeDeadline))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, r.classify(ctx, tx, id)
		}
		return Transaction{}, fmt.Errorf("escrow: mark delivered: %w", err)
	}
	return rec, nil
}

// Settle flips delivered -> completed, but only once the dispute window has
// elapsed with no active claim. The NOT EXISTS guard makes the sweep safe to
// run concurrently with dispute filing.
func (r *PGRepository) Settle(ctx context.Context, tx pgx.Tx, id string, now time.Time) (Transaction, error) {
	const query = `
		UPDATE escrow_transactions t
		SET status = 'completed', updated_at = now()
		WHERE t.id = $1
		  AND t.status = 'delivered'
		  AND t.dispute_deadline <= $2
		  AND NOT EXISTS (
			SELECT 1 FROM disputes d
			WHERE d.transaction_id = t.id AND d.status IN ('open', 'under_review')
		  )
		RETURNING ` + txColumns

	rec, err := scanTransaction(tx.QueryRow(ctx, query, id, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, r.classify(ctx, tx, id)
		}
		return Transaction{}, fmt.Errorf("escrow: settle: %w", err)
	}
	return rec, nil
}

// CompleteResolved closes a transaction whose dispute reached a terminal
// outcome. Unlike Settle it ignores the window and active-dispute guard; the
// caller updates the dispute in the same SQL transaction.
func (r *PGRepository) CompleteResolved(ctx context.Context, tx pgx.Tx, id string) (Transaction, error) {
	const query = `
		UPDATE escrow_transactions
		SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status IN ('shipped', 'delivered')
		RETURNING ` + txColumns

	rec, err := scanTransaction(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, r.classify(ctx, tx, id)
		}
		return Transaction{}, fmt.Errorf("escrow: complete resolved: %w", err)
	}
	return rec, nil
}

// Cancel locks the row, validates the branch rule, and flips to cancelled.
// The previous status tells the caller whether a refund is owed.
func (r *PGRepository) Cancel(ctx context.Context, tx pgx.Tx, id string) (Transaction, Status, error) {
	var current Status
	err := tx.QueryRow(ctx, `
		SELECT status::text FROM escrow_transactions WHERE id = $1 FOR UPDATE
	`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, "", ErrNotFound
		}
		return Transaction{}, "", fmt.Errorf("escrow: lock for cancel: %w", err)
	}
	if current != StatusPending && current != StatusPaid {
		return Transaction{}, "", ErrBadStatus
	}

	const query = `
		UPDATE escrow_transactions
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1
		RETURNING ` + txColumns

	rec, err := scanTransaction(tx.QueryRow(ctx, query, id))
	if err != nil {
		return Transaction{}, "", fmt.Errorf("escrow: cancel: %w", err)
	}
	return rec, current, nil
}

// FlagOverdueShipments marks paid transactions past their shipping deadline.
// Returns the newly flagged records so the sweep can notify once per record.
func (r *PGRepository) FlagOverdueShipments(ctx context.Context, now time.Time) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE escrow_transactions
		SET shipping_overdue = true, updated_at = now()
		WHERE status = 'paid' AND shipping_deadline < $1 AND NOT shipping_overdue
		RETURNING `+txColumns, now)
	if err != nil {
		return nil, fmt.Errorf("escrow: flag overdue: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0, 8)
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("escrow: scan overdue: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate overdue: %w", err)
	}
	return out, nil
}

// DueForSettlement lists delivered transactions whose dispute window has
// elapsed with no active claim.
func (r *PGRepository) DueForSettlement(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id
		FROM escrow_transactions t
		WHERE t.status = 'delivered'
		  AND t.dispute_deadline <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM disputes d
			WHERE d.transaction_id = t.id AND d.status IN ('open', 'under_review')
		  )
	`, now)
	if err != nil {
		return nil, fmt.Errorf("escrow: due for settlement: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("escrow: scan due id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate due: %w", err)
	}
	return ids, nil
}

// GetDiscount fetches a promotional code.
func (r *PGRepository) GetDiscount(ctx context.Context, code string) (Discount, error) {
	const query = `SELECT code, amount, min_purchase, product_id FROM discounts WHERE code = $1`
	var d Discount
	err := r.pool.QueryRow(ctx, query, code).Scan(&d.Code, &d.Amount, &d.MinPurchase, &d.ProductID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Discount{}, ErrDiscountNotFound
		}
		return Discount{}, fmt.Errorf("escrow: get discount: %w", err)
	}
	return d, nil
}

// AppendTimeline records an audit event for the transaction.
func (r *PGRepository) AppendTimeline(ctx context.Context, tx pgx.Tx, transactionID, eventType, actorEmail string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal timeline payload: %w", err)
	}
	var actor any
	if actorEmail != "" {
		actor = actorEmail
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO timeline_events (entity_id, type, payload, actor_email)
		VALUES ($1, $2, $3::jsonb, $4)
	`, transactionID, eventType, body, actor); err != nil {
		return fmt.Errorf("escrow: insert timeline event: %w", err)
	}
	return nil
}

// classify turns a zero-row conditional update into ErrNotFound or
// ErrBadStatus, locking the row so the answer is stable.
func (r *PGRepository) classify(ctx context.Context, tx pgx.Tx, id string) error {
	var status string
	err := tx.QueryRow(ctx, `
		SELECT status::text FROM escrow_transactions WHERE id = $1 FOR UPDATE
	`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("escrow: classify: %w", err)
	}
	return ErrBadStatus
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var rec Transaction
	err := row.Scan(
		&rec.ID,
		&rec.ProductID,
		&rec.BuyerEmail,
		&rec.SellerEmail,
		&rec.ItemPrice,
		&rec.BuyerProtectionFee,
		&rec.ShippingPrice,
		&rec.ShippingMargin,
		&rec.PlatformFee,
		&rec.Discount,
		&rec.TotalPrice,
		&rec.SellerPayout,
		&rec.Status,
		&rec.ShippingDeadline,
		&rec.DisputeDeadline,
		&rec.TrackingNumber,
		&rec.PaymentRef,
		&rec.ShippingOverdue,
		&rec.ShippedAt,
		&rec.DeliveredAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

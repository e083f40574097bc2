package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CheckoutRacer keeps trying to open a pending sale for the same product.
// The partial unique index allows at most one live sale per product, so most
// attempts lose with 23505.
func CheckoutRacer(ctx context.Context, pool *pgxpool.Pool, productID, buyerEmail, sellerEmail string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `INSERT INTO escrow_transactions
                (product_id, buyer_email, seller_email, item_price, buyer_protection_fee,
                 shipping_price, shipping_margin, platform_fee, discount, total_price,
                 seller_payout, status, shipping_deadline, payment_ref)
             VALUES ($1, $2, $3, 50.00, 3.50, 4.20, 0.50, 4.00, 0, 57.70, 50.00,
                     'pending', now() + interval '5 days', $4)`,
			productID, buyerEmail, sellerEmail, fmt.Sprintf("pay-%d", rand.Int63()))
		if err != nil && !isUniqueViolation(err) {
			return fmt.Errorf("checkout racer insert: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// PaymentConfirmer replays the payment webhook for whatever pending sale exists.
// The idempotency key decides which replay wins; only the winner credits the
// seller and flips the sale to paid.
func PaymentConfirmer(ctx context.Context, pool *pgxpool.Pool, productID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := confirmOnce(ctx, pool, productID); err != nil {
			return err
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

func confirmOnce(ctx context.Context, pool *pgxpool.Pool, productID string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var txID, seller, ref string
	var payout string
	err = tx.QueryRow(ctx, `SELECT id, seller_email, payment_ref, seller_payout::text
           FROM escrow_transactions WHERE product_id = $1 AND status = 'pending' LIMIT 1 FOR UPDATE`,
		productID).Scan(&txID, &seller, &ref, &payout)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("confirmer select: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, "payment:"+ref); err != nil {
		if isUniqueViolation(err) {
			return nil // a replay already handled this payment
		}
		return fmt.Errorf("confirmer idempotency: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE escrow_transactions
           SET status = 'paid', updated_at = now() WHERE id = $1 AND status = 'pending'`, txID); err != nil {
		return fmt.Errorf("confirmer mark paid: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO ledger_accounts (email, pending) VALUES ($1, $2::numeric)
           ON CONFLICT (email) DO UPDATE SET pending = ledger_accounts.pending + EXCLUDED.pending, updated_at = now()`,
		seller, payout); err != nil {
		return fmt.Errorf("confirmer credit: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO ledger_entries (email, amount, kind, ref)
           VALUES ($1, $2::numeric, 'pending_credit', $3)`, seller, payout, txID); err != nil {
		return fmt.Errorf("confirmer entry: %w", err)
	}
	_, _ = tx.Exec(ctx, `INSERT INTO outbox (recipient, template_id, payload)
           VALUES ($1, 'order.paid', jsonb_build_object('transaction_id', $2::text))`, seller, txID)
	return tx.Commit(ctx)
}

// Shipper moves paid sales to shipped with a tracking number.
func Shipper(ctx context.Context, pool *pgxpool.Pool, productID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `UPDATE escrow_transactions
               SET status = 'shipped', tracking_number = $2, shipped_at = now(), updated_at = now()
             WHERE product_id = $1 AND status = 'paid'`,
			productID, fmt.Sprintf("TRK%d", rand.Int63()))
		if err != nil {
			return fmt.Errorf("shipper: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Deliverer confirms delivery and opens an already-elapsed dispute window so
// the settler has work to do immediately.
func Deliverer(ctx context.Context, pool *pgxpool.Pool, productID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `UPDATE escrow_transactions
               SET status = 'delivered', delivered_at = now(), dispute_deadline = now(), updated_at = now()
             WHERE product_id = $1 AND status = 'shipped'`, productID)
		if err != nil {
			return fmt.Errorf("deliverer: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Settler completes delivered sales whose window elapsed and releases the
// seller payout from pending to available. The row lock serializes against
// Disputer so a fresh dispute is never settled over.
func Settler(ctx context.Context, pool *pgxpool.Pool, productID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := settleOnce(ctx, pool, productID); err != nil {
			return err
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

func settleOnce(ctx context.Context, pool *pgxpool.Pool, productID string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var txID, seller, payout string
	err = tx.QueryRow(ctx, `SELECT id, seller_email, seller_payout::text
           FROM escrow_transactions
          WHERE product_id = $1 AND status = 'delivered' AND dispute_deadline <= now()
          LIMIT 1 FOR UPDATE`, productID).Scan(&txID, &seller, &payout)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("settler select: %w", err)
	}

	var active bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM disputes
           WHERE transaction_id = $1 AND status IN ('open', 'under_review'))`, txID).Scan(&active); err != nil {
		return fmt.Errorf("settler dispute check: %w", err)
	}
	if active {
		return nil
	}

	if _, err := tx.Exec(ctx, `UPDATE escrow_transactions
           SET status = 'completed', updated_at = now() WHERE id = $1`, txID); err != nil {
		return fmt.Errorf("settler complete: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE ledger_accounts
           SET pending = pending - $2::numeric, available = available + $2::numeric, updated_at = now()
         WHERE email = $1`, seller, payout); err != nil {
		return fmt.Errorf("settler release: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO ledger_entries (email, amount, kind, ref)
           VALUES ($1, $2::numeric, 'release', $3)`, seller, payout, txID); err != nil {
		return fmt.Errorf("settler entry: %w", err)
	}
	return tx.Commit(ctx)
}

// Disputer files disputes on delivered sales and resolves them as rejected so
// the sale can settle on a later pass. Locks the sale row first so settlement
// and filing cannot interleave.
func Disputer(ctx context.Context, pool *pgxpool.Pool, productID, buyerEmail string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := disputeOnce(ctx, pool, productID, buyerEmail); err != nil {
			return err
		}
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

func disputeOnce(ctx context.Context, pool *pgxpool.Pool, productID, buyerEmail string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var txID, seller string
	err = tx.QueryRow(ctx, `SELECT id, seller_email FROM escrow_transactions
          WHERE product_id = $1 AND status = 'delivered' LIMIT 1 FOR UPDATE`, productID).Scan(&txID, &seller)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("disputer select: %w", err)
	}

	var dispID string
	err = tx.QueryRow(ctx, `INSERT INTO disputes (transaction_id, buyer_email, seller_email, reason)
           VALUES ($1, $2, $3, 'item_not_as_described') RETURNING id`, txID, buyerEmail, seller).Scan(&dispID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil // an active dispute already exists
		}
		return fmt.Errorf("disputer insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	// Let the dispute sit briefly, then resolve it so settlement can proceed.
	time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	_, err = pool.Exec(ctx, `UPDATE disputes
           SET status = 'resolved', outcome = 'rejected', resolved_at = now(),
               resolved_by = 'arbiter@stress.local', updated_at = now()
         WHERE id = $1 AND status IN ('open', 'under_review')`, dispID)
	if err != nil {
		return fmt.Errorf("disputer resolve: %w", err)
	}
	return nil
}

// OfferBattler plays a buyer and seller haggling over one listing. The live
// index admits one open offer per buyer and product, and turn alternation is
// enforced by conditioning every update on who acted last.
func OfferBattler(ctx context.Context, pool *pgxpool.Pool, productID, buyerEmail, sellerEmail string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `INSERT INTO offers
               (product_id, buyer_email, seller_email, original_price, proposed_price, last_action_by, expires_at)
             VALUES ($1, $2, $3, 50.00, 40.00, 'buyer', now() + interval '7 days')`,
			productID, buyerEmail, sellerEmail)
		if err != nil && !isUniqueViolation(err) {
			return fmt.Errorf("offer insert: %w", err)
		}
		_, err = pool.Exec(ctx, `UPDATE offers
               SET status = 'countered', counter_price = 45.00, last_action_by = 'seller', updated_at = now()
             WHERE product_id = $1 AND buyer_email = $2 AND status = 'open' AND last_action_by = 'buyer'`,
			productID, buyerEmail)
		if err != nil {
			return fmt.Errorf("offer counter: %w", err)
		}
		// Close the cycle so the next insert can race for the live slot again.
		if rand.Intn(2) == 0 {
			_, err = pool.Exec(ctx, `UPDATE offers
                   SET status = 'accepted', agreed_price = counter_price, counter_price = NULL,
                       last_action_by = 'buyer', updated_at = now()
                 WHERE product_id = $1 AND buyer_email = $2 AND status = 'countered' AND last_action_by = 'seller'`,
				productID, buyerEmail)
		} else {
			_, err = pool.Exec(ctx, `UPDATE offers
                   SET status = 'rejected', counter_price = NULL, last_action_by = 'buyer', updated_at = now()
                 WHERE product_id = $1 AND buyer_email = $2 AND status = 'countered' AND last_action_by = 'seller'`,
				productID, buyerEmail)
		}
		if err != nil {
			return fmt.Errorf("offer close: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// TradeRacer competes to open a swap for one conversation, then forfeits it so
// the live slot frees up for the next round.
func TradeRacer(ctx context.Context, pool *pgxpool.Pool, conversationID, partyA, partyB string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `INSERT INTO trade_shipments
               (conversation_id, party_a_email, party_b_email, deadline)
             VALUES ($1, $2, $3, now() + interval '14 days')`, conversationID, partyA, partyB)
		if err != nil && !isUniqueViolation(err) {
			return fmt.Errorf("trade insert: %w", err)
		}
		_, err = pool.Exec(ctx, `UPDATE trade_shipments
               SET variant = 'direct_tracking', status = 'waiting_for_tracking', updated_at = now()
             WHERE conversation_id = $1 AND status = 'awaiting_variant'`, conversationID)
		if err != nil {
			return fmt.Errorf("trade variant: %w", err)
		}
		if rand.Intn(3) == 0 {
			_, err = pool.Exec(ctx, `UPDATE trade_shipments
                   SET status = 'forfeited', forfeited_party = party_a_email, updated_at = now()
                 WHERE conversation_id = $1 AND status = 'waiting_for_tracking'`, conversationID)
			if err != nil {
				return fmt.Errorf("trade forfeit: %w", err)
			}
		}
		time.Sleep(time.Duration(25+rand.Intn(50)) * time.Millisecond)
	}
}

// OutboxWorker drains pending notifications with SKIP LOCKED, occasionally
// simulating a send failure that reschedules the row.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox
               WHERE status = 'pending' AND next_attempt_at <= now()
               ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox
                       SET attempts = attempts + 1, next_attempt_at = now() + interval '1 second'
                     WHERE id = $1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status = 'sent', attempts = attempts + 1 WHERE id = $1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// Canceller randomly cancels pending sales so the live slot keeps churning.
func Canceller(ctx context.Context, pool *pgxpool.Pool, productID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(3) == 0 {
			_, err := pool.Exec(ctx, `UPDATE escrow_transactions
                   SET status = 'cancelled', updated_at = now()
                 WHERE product_id = $1 AND status = 'pending'`, productID)
			if err != nil {
				return fmt.Errorf("canceller: %w", err)
			}
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

package escrow

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"marketflow/ledger"
	"marketflow/offer"
	"marketflow/product"
)

// TestPaymentConfirmation_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies checkout plus webhook replay behavior end to end.
func TestPaymentConfirmation_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	// Ensure schema exists (migrations applied)
	for _, table := range []string{"products", "escrow_transactions", "ledger_accounts", "outbox", "idempotency"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skip("database schema missing; apply the files under migrations/ first")
		}
	}

	run := time.Now().UnixNano()
	sellerEmail := fmt.Sprintf("seller+%d@example.com", run)
	buyerEmail := fmt.Sprintf("buyer+%d@example.com", run)

	var productID, optionID string
	if err := pool.QueryRow(ctx, `INSERT INTO products (seller_email, title, price)
           VALUES ($1, 'Integration Camera', 50.00) RETURNING id`, sellerEmail).Scan(&productID); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO shipping_options (carrier, price, margin)
           VALUES ('itest-post', 4.50, 1.20) RETURNING id`).Scan(&optionID); err != nil {
		t.Fatalf("seed shipping option: %v", err)
	}

	svc := NewService(pool, NewRepository(pool), product.NewRepository(pool), ledger.NewRepository(pool), offer.NewRepository(pool), DefaultFeePolicy())

	rec, err := svc.Open(ctx, OpenParams{
		BuyerEmail:       buyerEmail,
		ProductID:        productID,
		ShippingOptionID: optionID,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Cleanup seeded rows after test (best-effort, ignore errors)
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM timeline_events WHERE entity_id = $1`, rec.ID)
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'transaction_id' = $1`, rec.ID)
		pool.Exec(ctx2, `DELETE FROM ledger_entries WHERE ref = $1`, rec.ID)
		pool.Exec(ctx2, `DELETE FROM ledger_accounts WHERE email IN ($1, $2)`, sellerEmail, buyerEmail)
		pool.Exec(ctx2, `DELETE FROM escrow_transactions WHERE id = $1`, rec.ID)
		pool.Exec(ctx2, `DELETE FROM shipping_options WHERE id = $1`, optionID)
		pool.Exec(ctx2, `DELETE FROM products WHERE id = $1`, productID)
		pool.Exec(ctx2, `DELETE FROM idempotency WHERE key LIKE 'escrow:payment:' || $1 || '%'`, rec.ID)
	})

	// 50.00 item, 4.50 shipping, 3.50 protection, 1.20 margin
	if got := rec.TotalPrice.StringFixed(2); got != "58.00" {
		t.Fatalf("expected total 58.00, got %s", got)
	}

	var productStatus string
	if err := pool.QueryRow(ctx, `SELECT status FROM products WHERE id = $1`, productID).Scan(&productStatus); err != nil {
		t.Fatalf("verify product: %v", err)
	}
	if productStatus != "reserved" {
		t.Fatalf("expected product reserved after checkout, got %q", productStatus)
	}

	paymentRef := fmt.Sprintf("itest-pay-%d", run)

	// First confirmation performs writes and commits
	paid, err := svc.ConfirmPayment(ctx, rec.ID, paymentRef)
	if err != nil {
		t.Fatalf("confirm payment (first): %v", err)
	}
	if paid.Status != StatusPaid {
		t.Fatalf("expected status paid, got %s", paid.Status)
	}

	var pendingBalance string
	if err := pool.QueryRow(ctx, `SELECT pending::text FROM ledger_accounts WHERE email = $1`, sellerEmail).Scan(&pendingBalance); err != nil {
		t.Fatalf("verify seller balance: %v", err)
	}
	if pendingBalance != "50.00" {
		t.Fatalf("expected pending balance 50.00, got %s", pendingBalance)
	}

	var creditCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries
           WHERE ref = $1 AND kind = 'pending_credit'`, rec.ID).Scan(&creditCount); err != nil {
		t.Fatalf("verify ledger entries: %v", err)
	}
	if creditCount != 1 {
		t.Fatalf("expected 1 pending credit, got %d", creditCount)
	}

	// Replay with the same reference must be a no-op and not error
	replayed, err := svc.ConfirmPayment(ctx, rec.ID, paymentRef)
	if err != nil {
		t.Fatalf("confirm payment (replay): %v", err)
	}
	if replayed.Status != StatusPaid {
		t.Fatalf("expected replay to report paid, got %s", replayed.Status)
	}

	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries
           WHERE ref = $1 AND kind = 'pending_credit'`, rec.ID).Scan(&creditCount); err != nil {
		t.Fatalf("re-verify ledger entries: %v", err)
	}
	if creditCount != 1 {
		t.Fatalf("expected pending credits to remain 1 after replay, got %d", creditCount)
	}

	var outCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox
           WHERE template_id = $1 AND payload->>'transaction_id' = $2`, "order.paid", rec.ID).Scan(&outCount); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	if outCount != 1 {
		t.Fatalf("expected 1 paid notification, got %d", outCount)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}

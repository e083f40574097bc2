package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_live_sale_per_product",
			SQL: `SELECT product_id, COUNT(*) FROM escrow_transactions
                  WHERE status IN ('pending','paid','shipped','delivered')
                  GROUP BY product_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_checkout_arithmetic",
			SQL: `SELECT id FROM escrow_transactions
                  WHERE platform_fee <> buyer_protection_fee + shipping_margin
                     OR total_price <> GREATEST(item_price + shipping_price + buyer_protection_fee - discount, 0)
                     OR seller_payout <> item_price`,
		},
		{
			Name: "O3_balances_nonnegative",
			SQL:  `SELECT email, pending, available FROM ledger_accounts WHERE pending < 0 OR available < 0`,
		},
		{
			Name: "O4_seller_credited_once",
			SQL: `SELECT ref, COUNT(*) FROM ledger_entries
                  WHERE kind = 'pending_credit' AND ref IS NOT NULL
                  GROUP BY ref HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_release_covered_by_credit",
			SQL: `SELECT email FROM (
                      SELECT email,
                             SUM(CASE WHEN kind = 'pending_credit' THEN amount ELSE 0 END) AS credited,
                             SUM(CASE WHEN kind = 'release' THEN amount ELSE 0 END) AS released
                      FROM ledger_entries GROUP BY email) sums
                  WHERE released > credited`,
		},
		{
			Name: "O6_single_live_offer_per_buyer",
			SQL: `SELECT product_id, buyer_email, COUNT(*) FROM offers
                  WHERE status IN ('open','countered')
                  GROUP BY product_id, buyer_email HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_offer_state_shape",
			SQL: `SELECT id FROM offers
                  WHERE (status = 'countered') <> (counter_price IS NOT NULL)
                     OR (status = 'accepted') <> (agreed_price IS NOT NULL)`,
		},
		{
			Name: "O8_single_active_dispute",
			SQL: `SELECT transaction_id, COUNT(*) FROM disputes
                  WHERE status IN ('open','under_review')
                  GROUP BY transaction_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O9_no_settle_over_dispute",
			SQL: `SELECT d.id FROM disputes d
                  JOIN escrow_transactions t ON t.id = d.transaction_id
                  WHERE t.status = 'completed' AND d.status IN ('open','under_review')`,
		},
		{
			Name: "O10_resolved_has_outcome",
			SQL: `SELECT id FROM disputes
                  WHERE (status = 'resolved') <> (outcome IS NOT NULL)
                     OR (status = 'resolved' AND resolved_at IS NULL)`,
		},
		{
			Name: "O11_single_live_swap",
			SQL: `SELECT conversation_id, COUNT(*) FROM trade_shipments
                  WHERE status IN ('awaiting_variant','waiting_for_tracking','both_tracking_submitted')
                  GROUP BY conversation_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O12_outbox_liveness",
			SQL: `SELECT id, template_id, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}

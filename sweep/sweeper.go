// Package sweep runs the time-driven transitions nobody clicks a button
// for: offer expiry, overdue-shipment flagging, settlement of delivered
// orders whose protection window lapsed, and swap forfeiture.
package sweep

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"marketflow/escrow"
	"marketflow/notify"
	"marketflow/trade"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OfferStore expires stale offers in bulk.
type OfferStore interface {
	ExpireDue(ctx context.Context, now time.Time) ([]string, error)
}

// EscrowStore finds transactions the clock has caught up with.
type EscrowStore interface {
	FlagOverdueShipments(ctx context.Context, now time.Time) ([]escrow.Transaction, error)
	DueForSettlement(ctx context.Context, now time.Time) ([]string, error)
}

// Settler settles a single delivered transaction.
type Settler interface {
	Settle(ctx context.Context, id string) (escrow.Transaction, error)
}

// TradeForfeiter forfeits swaps past their deadline.
type TradeForfeiter interface {
	ForfeitDue(ctx context.Context) ([]trade.Shipment, error)
}

// Sweeper periodically applies deadline-driven transitions. Every pass is
// independent; one failing pass never blocks the others, and errors are
// logged rather than returned so a bad row cannot stall the loop.
type Sweeper struct {
	pool    TxBeginner
	offers  OfferStore
	escrows EscrowStore
	settler Settler
	trades  TradeForfeiter
	log     *zap.Logger
	every   time.Duration
	now     func() time.Time
}

func NewSweeper(pool TxBeginner, offers OfferStore, escrows EscrowStore, settler Settler, trades TradeForfeiter, log *zap.Logger, every time.Duration) *Sweeper {
	return &Sweeper{
		pool:    pool,
		offers:  offers,
		escrows: escrows,
		settler: settler,
		trades:  trades,
		log:     log,
		every:   every,
		now:     time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run ticks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs every pass one time. Exported so tests and operational
// tooling can trigger a sweep without the ticker.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	s.expireOffers(ctx)
	s.flagOverdueShipments(ctx)
	s.settleDue(ctx)
	s.forfeitTrades(ctx)
}

func (s *Sweeper) expireOffers(ctx context.Context) {
	ids, err := s.offers.ExpireDue(ctx, s.now())
	if err != nil {
		s.log.Error("sweep: expire offers", zap.Error(err))
		return
	}
	if len(ids) > 0 {
		s.log.Info("sweep: expired offers", zap.Int("count", len(ids)))
	}
}

func (s *Sweeper) flagOverdueShipments(ctx context.Context) {
	flagged, err := s.escrows.FlagOverdueShipments(ctx, s.now())
	if err != nil {
		s.log.Error("sweep: flag overdue shipments", zap.Error(err))
		return
	}
	if len(flagged) == 0 {
		return
	}

	// The flag is already committed; the nudges ride in their own tx so a
	// notification hiccup cannot unflag anything.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		s.log.Error("sweep: begin overdue notify tx", zap.Error(err))
		return
	}
	defer tx.Rollback(ctx)

	for _, rec := range flagged {
		payload := map[string]any{
			"transaction_id":    rec.ID,
			"shipping_deadline": rec.ShippingDeadline.Format(time.RFC3339),
		}
		if err := notify.Enqueue(ctx, tx, rec.SellerEmail, notify.TemplateShippingOverdue, payload); err != nil {
			s.log.Error("sweep: enqueue overdue notice", zap.String("transaction_id", rec.ID), zap.Error(err))
			return
		}
		if err := notify.Enqueue(ctx, tx, rec.BuyerEmail, notify.TemplateShippingOverdue, payload); err != nil {
			s.log.Error("sweep: enqueue overdue notice", zap.String("transaction_id", rec.ID), zap.Error(err))
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		s.log.Error("sweep: commit overdue notices", zap.Error(err))
		return
	}
	s.log.Info("sweep: flagged overdue shipments", zap.Int("count", len(flagged)))
}

func (s *Sweeper) settleDue(ctx context.Context) {
	ids, err := s.escrows.DueForSettlement(ctx, s.now())
	if err != nil {
		s.log.Error("sweep: list due settlements", zap.Error(err))
		return
	}

	settled := 0
	for _, id := range ids {
		// Settle re-checks the window and active disputes under its own
		// transaction, so a claim filed between the listing and this call
		// simply makes the settlement a no-op.
		if _, err := s.settler.Settle(ctx, id); err != nil {
			s.log.Warn("sweep: settle", zap.String("transaction_id", id), zap.Error(err))
			continue
		}
		settled++
	}
	if settled > 0 {
		s.log.Info("sweep: settled transactions", zap.Int("count", settled))
	}
}

func (s *Sweeper) forfeitTrades(ctx context.Context) {
	forfeited, err := s.trades.ForfeitDue(ctx)
	if err != nil {
		s.log.Error("sweep: forfeit trades", zap.Error(err))
		return
	}
	if len(forfeited) > 0 {
		s.log.Info("sweep: forfeited swaps", zap.Int("count", len(forfeited)))
	}
}

package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"marketflow/escrow"
	"marketflow/identity"
	"marketflow/ledger"
	"marketflow/money"
	"marketflow/notify"
	"marketflow/product"
)

var (
	// ErrNotBuyer signals a claim filed by someone other than the buyer.
	ErrNotBuyer = errors.New("dispute: only the buyer may file")
	// ErrNotArbitrator signals a resolution attempted without the arbitrating role.
	ErrNotArbitrator = errors.New("dispute: arbitrator role required")
	// ErrArbitratorIsParty signals an arbitrator trying to rule on their own deal.
	ErrArbitratorIsParty = errors.New("dispute: arbitrator is a party to this deal")
	// ErrMissingReason signals an empty claim reason.
	ErrMissingReason = errors.New("dispute: reason is required")
	// ErrInvalidRefund signals a refund outside [0, total_price].
	ErrInvalidRefund = errors.New("dispute: invalid refund amount")
	// ErrInvalidOutcome signals an unknown resolution outcome.
	ErrInvalidOutcome = errors.New("dispute: invalid outcome")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	File(ctx context.Context, tx pgx.Tx, params FileParams, now time.Time) (Record, error)
	GetByID(ctx context.Context, id string) (Record, error)
	StartReview(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	Resolve(ctx context.Context, tx pgx.Tx, id string, params ResolveParams, now time.Time) (Record, error)
}

// TransactionStore is the slice of the escrow repository adjudication needs.
type TransactionStore interface {
	GetByID(ctx context.Context, id string) (escrow.Transaction, error)
	CompleteResolved(ctx context.Context, tx pgx.Tx, id string) (escrow.Transaction, error)
	AppendTimeline(ctx context.Context, tx pgx.Tx, transactionID, eventType, actorEmail string, payload map[string]any) error
}

// LedgerStore is the slice of the ledger adjudication mutates.
type LedgerStore interface {
	Credit(ctx context.Context, tx pgx.Tx, email string, amount decimal.Decimal, kind ledger.Kind, ref string) error
	DebitPending(ctx context.Context, tx pgx.Tx, email string, amount decimal.Decimal, ref string) error
	Release(ctx context.Context, tx pgx.Tx, email string, amount decimal.Decimal, ref string) error
}

// ProductStore settles the item's fate after adjudication.
type ProductStore interface {
	Release(ctx context.Context, tx pgx.Tx, id string) (product.Product, error)
	MarkSold(ctx context.Context, tx pgx.Tx, id string) (product.Product, error)
}

// Service adjudicates buyer claims against delivered transactions.
type Service struct {
	pool         TxBeginner
	repo         Repository
	transactions TransactionStore
	ledger       LedgerStore
	products     ProductStore
	now          func() time.Time
}

func NewService(pool TxBeginner, repo Repository, transactions TransactionStore, ledgerStore LedgerStore, products ProductStore) *Service {
	return &Service{
		pool:         pool,
		repo:         repo,
		transactions: transactions,
		ledger:       ledgerStore,
		products:     products,
		now:          time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// File opens a claim inside the protection window. Only the transaction's
// buyer may file, and only while delivered_at is set and the deadline open.
func (s *Service) File(ctx context.Context, transactionID, buyerEmail, reason, description string, evidence []string) (Record, error) {
	if reason == "" {
		return Record{}, ErrMissingReason
	}

	rec, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return Record{}, err
	}
	if rec.BuyerEmail != buyerEmail {
		return Record{}, ErrNotBuyer
	}
	if rec.DeliveredAt == nil || rec.DisputeDeadline == nil {
		return Record{}, ErrWindowClosed
	}
	if evidence == nil {
		evidence = []string{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin file tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.File(ctx, tx, FileParams{
		TransactionID:  transactionID,
		BuyerEmail:     buyerEmail,
		SellerEmail:    rec.SellerEmail,
		Reason:         reason,
		Description:    description,
		EvidenceImages: evidence,
	}, s.now())
	if err != nil {
		return Record{}, err
	}

	if err := s.transactions.AppendTimeline(ctx, tx, transactionID, "DISPUTE_FILED", buyerEmail, map[string]any{
		"dispute_id": d.ID,
		"reason":     reason,
	}); err != nil {
		return Record{}, err
	}

	if err := notify.Enqueue(ctx, tx, rec.SellerEmail, notify.TemplateDisputeFiled, map[string]any{
		"dispute_id":     d.ID,
		"transaction_id": transactionID,
		"reason":         reason,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit file: %w", err)
	}
	return d, nil
}

// StartReview is the arbitrator picking up an open claim.
func (s *Service) StartReview(ctx context.Context, disputeID string, resolver identity.Claims) (Record, error) {
	if resolver.Role != identity.RoleArbitrator {
		return Record{}, ErrNotArbitrator
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin review tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.StartReview(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit review: %w", err)
	}
	return d, nil
}

// Resolution carries the arbitrator's decision into Resolve.
type Resolution struct {
	Outcome      Outcome
	RefundAmount decimal.Decimal
	KeepProduct  bool
	// ReversePayout additionally debits the seller's held payout. Never
	// implicit: confirmed-counterfeit rulings set it, ordinary refunds don't.
	ReversePayout bool
	Notes         string
}

// Resolve applies a terminal outcome. The dispute write, the transaction
// completion, and any balance effects commit as one unit; a ledger failure
// leaves everything unmutated.
func (s *Service) Resolve(ctx context.Context, disputeID string, resolver identity.Claims, res Resolution) (Record, error) {
	if resolver.Role != identity.RoleArbitrator {
		return Record{}, ErrNotArbitrator
	}

	switch res.Outcome {
	case OutcomeBuyerWins, OutcomeSellerWins, OutcomeRejected:
	default:
		return Record{}, ErrInvalidOutcome
	}

	current, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if resolver.Email == current.BuyerEmail || resolver.Email == current.SellerEmail {
		return Record{}, ErrArbitratorIsParty
	}

	rec, err := s.transactions.GetByID(ctx, current.TransactionID)
	if err != nil {
		return Record{}, err
	}

	refund := money.Cents(res.RefundAmount)
	if res.Outcome == OutcomeBuyerWins {
		if refund.IsNegative() || refund.GreaterThan(rec.TotalPrice) {
			return Record{}, ErrInvalidRefund
		}
	} else {
		refund = decimal.Zero
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin resolve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.Resolve(ctx, tx, disputeID, ResolveParams{
		Outcome:      res.Outcome,
		RefundAmount: refund,
		KeepProduct:  res.KeepProduct,
		Notes:        res.Notes,
		ResolvedBy:   resolver.Email,
	}, s.now())
	if err != nil {
		return Record{}, err
	}

	if res.Outcome == OutcomeBuyerWins {
		if err := s.ledger.Credit(ctx, tx, d.BuyerEmail, refund, ledger.KindAvailable, d.ID); err != nil {
			return Record{}, err
		}
	}

	// The held payout still settles unless the ruling reverses it; the
	// claim must never strand money in the pending bucket.
	if res.Outcome == OutcomeBuyerWins && res.ReversePayout {
		if err := s.ledger.DebitPending(ctx, tx, d.SellerEmail, rec.SellerPayout, d.ID); err != nil {
			return Record{}, err
		}
	} else {
		if err := s.ledger.Release(ctx, tx, d.SellerEmail, rec.SellerPayout, d.ID); err != nil {
			return Record{}, err
		}
	}

	// Whatever the outcome, the claim no longer blocks the sale.
	if _, err := s.transactions.CompleteResolved(ctx, tx, d.TransactionID); err != nil {
		return Record{}, err
	}

	// The item stays with the buyer unless the ruling sends it back, in
	// which case the listing returns to the market.
	if res.Outcome == OutcomeBuyerWins && !res.KeepProduct {
		if _, err := s.products.Release(ctx, tx, rec.ProductID); err != nil {
			return Record{}, err
		}
	} else {
		if _, err := s.products.MarkSold(ctx, tx, rec.ProductID); err != nil {
			return Record{}, err
		}
	}

	if err := s.transactions.AppendTimeline(ctx, tx, d.TransactionID, "DISPUTE_RESOLVED", resolver.Email, map[string]any{
		"dispute_id": d.ID,
		"outcome":    string(res.Outcome),
		"refund":     refund.String(),
	}); err != nil {
		return Record{}, err
	}

	decision := map[string]any{
		"dispute_id": d.ID,
		"outcome":    string(res.Outcome),
		"notes":      res.Notes,
	}
	if err := notify.Enqueue(ctx, tx, d.BuyerEmail, notify.TemplateDisputeResolved, decision); err != nil {
		return Record{}, err
	}
	if err := notify.Enqueue(ctx, tx, d.SellerEmail, notify.TemplateDisputeResolved, decision); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}
	return d, nil
}

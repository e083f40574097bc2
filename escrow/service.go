package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"marketflow/ledger"
	"marketflow/money"
	"marketflow/notify"
	"marketflow/offer"
	"marketflow/product"
)

var (
	// ErrInvalidShippingOption signals an unknown carrier option at checkout.
	ErrInvalidShippingOption = errors.New("escrow: invalid shipping option")
	// ErrDiscountNotApplicable signals the discount's constraints are unmet.
	ErrDiscountNotApplicable = errors.New("escrow: discount not applicable")
	// ErrProductNoLongerAvailable signals another buyer won the listing.
	ErrProductNoLongerAvailable = errors.New("escrow: product no longer available")
	// ErrNotSeller signals a shipment event from someone other than the seller.
	ErrNotSeller = errors.New("escrow: caller is not the seller")
	// ErrNotParty signals the caller is not part of this transaction.
	ErrNotParty = errors.New("escrow: caller is not a party to this transaction")
	// ErrOwnListing signals a buyer checking out their own product.
	ErrOwnListing = errors.New("escrow: cannot buy own listing")
	// ErrOfferNotAccepted signals a checkout referencing an offer that is
	// not an accepted offer held by this buyer for this product.
	ErrOfferNotAccepted = errors.New("escrow: offer is not accepted for this purchase")
	// ErrInvalidItemPrice signals a non-positive sale price.
	ErrInvalidItemPrice = errors.New("escrow: item price must be positive")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Transaction, error)
	GetByID(ctx context.Context, id string) (Transaction, error)
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	MarkPaid(ctx context.Context, tx pgx.Tx, id, paymentRef string) (Transaction, error)
	MarkShipped(ctx context.Context, tx pgx.Tx, id, trackingNumber string, now time.Time) (Transaction, error)
	MarkDelivered(ctx context.Context, tx pgx.Tx, id string, now, disputeDeadline time.Time) (Transaction, error)
	Settle(ctx context.Context, tx pgx.Tx, id string, now time.Time) (Transaction, error)
	Cancel(ctx context.Context, tx pgx.Tx, id string) (Transaction, Status, error)
	GetDiscount(ctx context.Context, code string) (Discount, error)
	AppendTimeline(ctx context.Context, tx pgx.Tx, transactionID, eventType, actorEmail string, payload map[string]any) error
}

// ProductStore is the slice of the product repository checkout needs.
type ProductStore interface {
	GetByID(ctx context.Context, id string) (product.Product, error)
	GetShippingOption(ctx context.Context, id string) (product.ShippingOption, error)
	Reserve(ctx context.Context, tx pgx.Tx, id string) (product.Product, error)
	Release(ctx context.Context, tx pgx.Tx, id string) (product.Product, error)
	MarkSold(ctx context.Context, tx pgx.Tx, id string) (product.Product, error)
}

// OfferStore resolves the negotiation an offer-backed checkout claims.
type OfferStore interface {
	GetByID(ctx context.Context, id string) (offer.Offer, error)
}

// LedgerStore is the slice of the ledger the escrow flow mutates.
type LedgerStore interface {
	Credit(ctx context.Context, tx pgx.Tx, email string, amount decimal.Decimal, kind ledger.Kind, ref string) error
	Debit(ctx context.Context, tx pgx.Tx, email string, amount decimal.Decimal, ref string) error
	DebitPending(ctx context.Context, tx pgx.Tx, email string, amount decimal.Decimal, ref string) error
	Release(ctx context.Context, tx pgx.Tx, email string, amount decimal.Decimal, ref string) error
}

// Service owns the paid-sale lifecycle: fee math at checkout, payment
// confirmation, shipment and delivery events, and final settlement.
type Service struct {
	pool     TxBeginner
	repo     Repository
	products ProductStore
	ledger   LedgerStore
	offers   OfferStore
	policy   FeePolicy
	now      func() time.Time
}

func NewService(pool TxBeginner, repo Repository, products ProductStore, ledgerStore LedgerStore, offers OfferStore, policy FeePolicy) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		products: products,
		ledger:   ledgerStore,
		offers:   offers,
		policy:   policy,
		now:      time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// OpenParams describes a checkout confirmation.
type OpenParams struct {
	BuyerEmail       string
	ProductID        string
	ShippingOptionID string
	DiscountCode     string
	// OfferID references an accepted offer whose agreed price replaces the
	// listing price. The price is read from the offers row, never from the
	// caller; empty means "buy at the listing price".
	OfferID string
}

// Open creates a pending transaction and reserves the product atomically:
// when two buyers race, exactly one ends up pending and the other gets
// ErrProductNoLongerAvailable.
func (s *Service) Open(ctx context.Context, params OpenParams) (Transaction, error) {
	p, err := s.products.GetByID(ctx, params.ProductID)
	if err != nil {
		return Transaction{}, err
	}
	if p.SellerEmail == params.BuyerEmail {
		return Transaction{}, ErrOwnListing
	}

	opt, err := s.products.GetShippingOption(ctx, params.ShippingOptionID)
	if err != nil {
		if errors.Is(err, product.ErrShippingOptionNotFound) {
			return Transaction{}, ErrInvalidShippingOption
		}
		return Transaction{}, err
	}

	itemPrice := p.Price
	if params.OfferID != "" {
		o, err := s.offers.GetByID(ctx, params.OfferID)
		if err != nil {
			return Transaction{}, err
		}
		// Accepted offers are terminal, so the agreed price cannot change
		// between this read and the insert below.
		if o.Status != offer.StatusAccepted || o.AgreedPrice == nil ||
			o.BuyerEmail != params.BuyerEmail || o.ProductID != p.ID {
			return Transaction{}, ErrOfferNotAccepted
		}
		itemPrice = money.Cents(*o.AgreedPrice)
	}
	if !itemPrice.IsPositive() {
		return Transaction{}, ErrInvalidItemPrice
	}

	discountAmount := decimal.Zero
	if params.DiscountCode != "" {
		d, err := s.repo.GetDiscount(ctx, params.DiscountCode)
		if err != nil {
			if errors.Is(err, ErrDiscountNotFound) {
				return Transaction{}, ErrDiscountNotApplicable
			}
			return Transaction{}, err
		}
		if !d.AppliesTo(p.ID, itemPrice) {
			return Transaction{}, ErrDiscountNotApplicable
		}
		discountAmount = d.Amount
	}

	protection := s.policy.ProtectionFee(itemPrice)
	total := s.policy.Total(itemPrice, opt.Price, protection, discountAmount)
	now := s.now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin open tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.products.Reserve(ctx, tx, p.ID); err != nil {
		if errors.Is(err, product.ErrUnavailable) {
			return Transaction{}, ErrProductNoLongerAvailable
		}
		return Transaction{}, err
	}

	rec, err := s.repo.Insert(ctx, tx, InsertParams{
		ProductID:          p.ID,
		BuyerEmail:         params.BuyerEmail,
		SellerEmail:        p.SellerEmail,
		ItemPrice:          itemPrice,
		BuyerProtectionFee: protection,
		ShippingPrice:      opt.Price,
		ShippingMargin:     opt.Margin,
		PlatformFee:        money.Cents(protection.Add(opt.Margin)),
		Discount:           money.Cents(discountAmount),
		TotalPrice:         total,
		SellerPayout:       itemPrice,
		ShippingDeadline:   s.policy.ShippingDeadline(now),
	})
	if err != nil {
		if errors.Is(err, ErrProductTaken) {
			return Transaction{}, ErrProductNoLongerAvailable
		}
		return Transaction{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, "ORDER_OPENED", params.BuyerEmail, map[string]any{
		"product_id":  rec.ProductID,
		"total_price": rec.TotalPrice.String(),
	}); err != nil {
		return Transaction{}, err
	}

	if err := notify.Enqueue(ctx, tx, rec.SellerEmail, notify.TemplateOrderOpened, map[string]any{
		"transaction_id": rec.ID,
		"product_id":     rec.ProductID,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit open: %w", err)
	}
	return rec, nil
}

// ConfirmPayment moves pending -> paid on an external payment confirmation.
// Safe under at-least-once webhook delivery: the paymentRef doubles as an
// idempotency key, and a replay returns the current record without
// re-crediting the seller.
func (s *Service) ConfirmPayment(ctx context.Context, id, paymentRef string) (Transaction, error) {
	if paymentRef == "" {
		return Transaction{}, fmt.Errorf("escrow: missing payment reference")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin payment tx: %w", err)
	}
	defer tx.Rollback(ctx)

	key := fmt.Sprintf("escrow:payment:%s:%s", id, paymentRef)
	if err := s.repo.InsertIdempotencyKey(ctx, tx, key); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return s.repo.GetByID(ctx, id)
		}
		return Transaction{}, err
	}

	rec, err := s.repo.MarkPaid(ctx, tx, id, paymentRef)
	if err != nil {
		return Transaction{}, err
	}

	// Escrow hold: the payout is earned but not liquid until settlement.
	if err := s.ledger.Credit(ctx, tx, rec.SellerEmail, rec.SellerPayout, ledger.KindPending, rec.ID); err != nil {
		return Transaction{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, "PAYMENT_CONFIRMED", "", map[string]any{
		"payment_ref": paymentRef,
	}); err != nil {
		return Transaction{}, err
	}

	if err := notify.Enqueue(ctx, tx, rec.SellerEmail, notify.TemplateOrderPaid, map[string]any{
		"transaction_id":    rec.ID,
		"shipping_deadline": rec.ShippingDeadline,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit payment: %w", err)
	}
	return rec, nil
}

// MarkShipped records the seller's shipment. Past-deadline shipping is not
// blocked; it flags the record and escalates instead.
func (s *Service) MarkShipped(ctx context.Context, id, sellerEmail, trackingNumber string) (Transaction, error) {
	if trackingNumber == "" {
		return Transaction{}, fmt.Errorf("escrow: missing tracking number")
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if current.SellerEmail != sellerEmail {
		return Transaction{}, ErrNotSeller
	}

	now := s.now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin ship tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.MarkShipped(ctx, tx, id, trackingNumber, now)
	if err != nil {
		return Transaction{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, "SHIPPED", sellerEmail, map[string]any{
		"tracking_number": trackingNumber,
		"overdue":         rec.ShippingOverdue,
	}); err != nil {
		return Transaction{}, err
	}

	if err := notify.Enqueue(ctx, tx, rec.BuyerEmail, notify.TemplateOrderShipped, map[string]any{
		"transaction_id":  rec.ID,
		"tracking_number": trackingNumber,
	}); err != nil {
		return Transaction{}, err
	}
	if rec.ShippingOverdue && now.After(rec.ShippingDeadline) {
		if err := notify.Enqueue(ctx, tx, rec.SellerEmail, notify.TemplateShippingOverdue, map[string]any{
			"transaction_id": rec.ID,
		}); err != nil {
			return Transaction{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit ship: %w", err)
	}
	return rec, nil
}

// MarkDelivered records the carrier's delivery confirmation and opens the
// buyer-protection claim window.
func (s *Service) MarkDelivered(ctx context.Context, id string) (Transaction, error) {
	now := s.now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin deliver tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.MarkDelivered(ctx, tx, id, now, s.policy.DisputeDeadline(now))
	if err != nil {
		return Transaction{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, "DELIVERED", "", nil); err != nil {
		return Transaction{}, err
	}

	if err := notify.Enqueue(ctx, tx, rec.BuyerEmail, notify.TemplateOrderDelivered, map[string]any{
		"transaction_id":   rec.ID,
		"dispute_deadline": rec.DisputeDeadline,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit deliver: %w", err)
	}
	return rec, nil
}

// Settle releases the held payout to the seller's available balance and
// marks the product sold. The transition and the ledger release are one
// atomic unit; a ledger failure leaves the record unmutated.
func (s *Service) Settle(ctx context.Context, id string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin settle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.Settle(ctx, tx, id, s.now())
	if err != nil {
		return Transaction{}, err
	}

	if err := s.ledger.Release(ctx, tx, rec.SellerEmail, rec.SellerPayout, rec.ID); err != nil {
		return Transaction{}, err
	}

	if _, err := s.products.MarkSold(ctx, tx, rec.ProductID); err != nil {
		return Transaction{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, "SETTLED", "", map[string]any{
		"seller_payout": rec.SellerPayout.String(),
	}); err != nil {
		return Transaction{}, err
	}

	if err := notify.Enqueue(ctx, tx, rec.SellerEmail, notify.TemplateOrderSettled, map[string]any{
		"transaction_id": rec.ID,
		"payout":         rec.SellerPayout.String(),
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit settle: %w", err)
	}
	return rec, nil
}

// Get returns a transaction visible to its parties.
func (s *Service) Get(ctx context.Context, id, actorEmail string) (Transaction, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if actorEmail != rec.BuyerEmail && actorEmail != rec.SellerEmail {
		return Transaction{}, ErrNotParty
	}
	return rec, nil
}

// Cancel aborts a sale before goods leave the seller: full buyer refund when
// payment was taken, and the product returns to the market.
func (s *Service) Cancel(ctx context.Context, id, actorEmail string) (Transaction, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if actorEmail != current.BuyerEmail && actorEmail != current.SellerEmail {
		return Transaction{}, ErrNotParty
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, previous, err := s.repo.Cancel(ctx, tx, id)
	if err != nil {
		return Transaction{}, err
	}

	if previous == StatusPaid {
		if err := s.ledger.Credit(ctx, tx, rec.BuyerEmail, rec.TotalPrice, ledger.KindAvailable, rec.ID); err != nil {
			return Transaction{}, err
		}
		if err := s.ledger.DebitPending(ctx, tx, rec.SellerEmail, rec.SellerPayout, rec.ID); err != nil {
			return Transaction{}, err
		}
	}

	if _, err := s.products.Release(ctx, tx, rec.ProductID); err != nil {
		return Transaction{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, "CANCELLED", actorEmail, map[string]any{
		"previous_status": string(previous),
	}); err != nil {
		return Transaction{}, err
	}

	other := rec.SellerEmail
	if actorEmail == rec.SellerEmail {
		other = rec.BuyerEmail
	}
	if err := notify.Enqueue(ctx, tx, other, notify.TemplateOrderCancelled, map[string]any{
		"transaction_id": rec.ID,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit cancel: %w", err)
	}
	return rec, nil
}

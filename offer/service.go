package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"marketflow/money"
	"marketflow/notify"
	"marketflow/product"
)

var (
	// ErrInvalidPrice signals a non-positive proposed price.
	ErrInvalidPrice = errors.New("offer: price must be positive")
	// ErrNegotiationDisabled signals the seller does not accept offers on this listing.
	ErrNegotiationDisabled = errors.New("offer: negotiation disabled on this listing")
	// ErrProductUnavailable signals the listing is not open for sale.
	ErrProductUnavailable = errors.New("offer: product not available")
	// ErrNotParty signals the caller is neither buyer nor seller on the offer.
	ErrNotParty = errors.New("offer: caller is not a party to this offer")
	// ErrOwnListing signals a seller proposing a price to themselves.
	ErrOwnListing = errors.New("offer: cannot bid on own listing")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Offer, error)
	GetByID(ctx context.Context, id string) (Offer, error)
	Counter(ctx context.Context, tx pgx.Tx, id string, actor Party, price decimal.Decimal, now time.Time) (Offer, error)
	Accept(ctx context.Context, tx pgx.Tx, id string, actor Party, now time.Time) (Offer, error)
	Reject(ctx context.Context, tx pgx.Tx, id string, actor Party, now time.Time) (Offer, error)
	MarkExpired(ctx context.Context, tx pgx.Tx, id string, now time.Time) error
}

type productGetter interface {
	GetByID(ctx context.Context, id string) (product.Product, error)
}

// Service runs the counter-offer protocol between buyer and seller.
type Service struct {
	pool       TxBeginner
	repo       Repository
	products   productGetter
	windowDays int
	now        func() time.Time
}

func NewService(pool TxBeginner, repo Repository, products productGetter, windowDays int) *Service {
	if windowDays <= 0 {
		windowDays = 7
	}
	return &Service{
		pool:       pool,
		repo:       repo,
		products:   products,
		windowDays: windowDays,
		now:        time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create opens a negotiation: the buyer proposes a price on a negotiable,
// active listing. The expiry window is fixed here and never extended.
func (s *Service) Create(ctx context.Context, buyerEmail, productID string, price decimal.Decimal) (Offer, error) {
	if !price.IsPositive() {
		return Offer{}, ErrInvalidPrice
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return Offer{}, err
	}
	if p.SellerEmail == buyerEmail {
		return Offer{}, ErrOwnListing
	}
	if !p.Negotiable {
		return Offer{}, ErrNegotiationDisabled
	}
	if p.Status != product.StatusActive {
		return Offer{}, ErrProductUnavailable
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin create tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.Insert(ctx, tx, InsertParams{
		ProductID:     productID,
		BuyerEmail:    buyerEmail,
		SellerEmail:   p.SellerEmail,
		OriginalPrice: p.Price,
		ProposedPrice: money.Cents(price),
		ExpiresAt:     s.now().AddDate(0, 0, s.windowDays),
	})
	if err != nil {
		return Offer{}, err
	}

	if err := notify.Enqueue(ctx, tx, p.SellerEmail, notify.TemplateOfferReceived, map[string]any{
		"offer_id":       o.ID,
		"product_id":     o.ProductID,
		"proposed_price": o.ProposedPrice.String(),
	}); err != nil {
		return Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit create: %w", err)
	}
	return o, nil
}

// Counter replies with a new price. Only the party that did not act last
// may counter; the window is enforced by the conditional write.
func (s *Service) Counter(ctx context.Context, offerID, actorEmail string, price decimal.Decimal) (Offer, error) {
	if !price.IsPositive() {
		return Offer{}, ErrInvalidPrice
	}

	actor, err := s.partyFor(ctx, offerID, actorEmail)
	if err != nil {
		return Offer{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin counter tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.Counter(ctx, tx, offerID, actor, money.Cents(price), s.now())
	if err != nil {
		// Even a failed attempt on an expired offer flips the record, so
		// commit what classifyConflict wrote before reporting.
		if errors.Is(err, ErrExpired) {
			_ = tx.Commit(ctx)
		}
		return Offer{}, err
	}

	if err := notify.Enqueue(ctx, tx, o.OtherEmail(actor), notify.TemplateOfferCountered, map[string]any{
		"offer_id":      o.ID,
		"counter_price": o.CounterPrice.String(),
	}); err != nil {
		return Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit counter: %w", err)
	}
	return o, nil
}

// Accept finalizes the negotiation and returns the agreed price for
// checkout. This is the sole bridge into escrow creation.
func (s *Service) Accept(ctx context.Context, offerID, actorEmail string) (Offer, decimal.Decimal, error) {
	actor, err := s.partyFor(ctx, offerID, actorEmail)
	if err != nil {
		return Offer{}, decimal.Zero, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, decimal.Zero, fmt.Errorf("offer: begin accept tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.Accept(ctx, tx, offerID, actor, s.now())
	if err != nil {
		if errors.Is(err, ErrExpired) {
			_ = tx.Commit(ctx)
		}
		return Offer{}, decimal.Zero, err
	}

	if err := notify.Enqueue(ctx, tx, o.OtherEmail(actor), notify.TemplateOfferAccepted, map[string]any{
		"offer_id":     o.ID,
		"agreed_price": o.AgreedPrice.String(),
	}); err != nil {
		return Offer{}, decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, decimal.Zero, fmt.Errorf("offer: commit accept: %w", err)
	}
	return o, *o.AgreedPrice, nil
}

// Reject finalizes the negotiation without agreement.
func (s *Service) Reject(ctx context.Context, offerID, actorEmail string) (Offer, error) {
	actor, err := s.partyFor(ctx, offerID, actorEmail)
	if err != nil {
		return Offer{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin reject tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.Reject(ctx, tx, offerID, actor, s.now())
	if err != nil {
		if errors.Is(err, ErrExpired) {
			_ = tx.Commit(ctx)
		}
		return Offer{}, err
	}

	if err := notify.Enqueue(ctx, tx, o.OtherEmail(actor), notify.TemplateOfferRejected, map[string]any{
		"offer_id": o.ID,
	}); err != nil {
		return Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit reject: %w", err)
	}
	return o, nil
}

// Get reads an offer with lazy expiry: a live offer past its window is
// presented as expired without requiring a write.
func (s *Service) Get(ctx context.Context, offerID, callerEmail string) (Offer, error) {
	o, err := s.repo.GetByID(ctx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if o.PartyOf(callerEmail) == "" {
		return Offer{}, ErrNotParty
	}
	if !o.Status.Terminal() && !o.ExpiresAt.After(s.now()) {
		o.Status = StatusExpired
		o.CounterPrice = nil
	}
	return o, nil
}

func (s *Service) partyFor(ctx context.Context, offerID, actorEmail string) (Party, error) {
	o, err := s.repo.GetByID(ctx, offerID)
	if err != nil {
		return "", err
	}
	actor := o.PartyOf(actorEmail)
	if actor == "" {
		return "", ErrNotParty
	}
	return actor, nil
}

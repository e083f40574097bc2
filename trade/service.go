package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"marketflow/notify"
)

var (
	// ErrNotParty signals a caller who is neither side of the swap.
	ErrNotParty = errors.New("trade: caller is not a party to this swap")
	// ErrSameParty signals a swap proposed against oneself.
	ErrSameParty = errors.New("trade: both sides are the same user")
	// ErrMissingTracking signals an empty tracking number.
	ErrMissingTracking = errors.New("trade: tracking number is required")
	// ErrInvalidVariant signals an unknown shipping variant.
	ErrInvalidVariant = errors.New("trade: invalid shipping variant")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, conversationID, partyA, partyB string, deadline time.Time) (Shipment, error)
	GetByID(ctx context.Context, id string) (Shipment, error)
	GetLiveByConversation(ctx context.Context, conversationID string) (Shipment, error)
	SetVariant(ctx context.Context, tx pgx.Tx, id string, variant Variant, deadline time.Time) (Shipment, error)
	SubmitTracking(ctx context.Context, tx pgx.Tx, id string, side Side, tracking string) (Shipment, error)
	ConfirmDelivery(ctx context.Context, tx pgx.Tx, id string, side Side) (Shipment, error)
	ForfeitDue(ctx context.Context, tx pgx.Tx, now time.Time) ([]Shipment, error)
}

// Service coordinates two-sided swaps. Unlike a sale there is no escrow and
// no ledger movement; the deadline plus forfeiture is the whole enforcement
// mechanism.
type Service struct {
	pool         TxBeginner
	repo         Repository
	deadlineDays int
	now          func() time.Time
}

func NewService(pool TxBeginner, repo Repository, deadlineDays int) *Service {
	return &Service{
		pool:         pool,
		repo:         repo,
		deadlineDays: deadlineDays,
		now:          time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Initiate opens a swap for a conversation. Retrying after a duplicate is
// benign: the caller gets the existing live swap back.
func (s *Service) Initiate(ctx context.Context, conversationID, initiatorEmail, counterpartyEmail string) (Shipment, error) {
	if initiatorEmail == counterpartyEmail {
		return Shipment{}, ErrSameParty
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Shipment{}, fmt.Errorf("trade: begin initiate tx: %w", err)
	}
	defer tx.Rollback(ctx)

	deadline := s.now().AddDate(0, 0, s.deadlineDays)
	sh, err := s.repo.Insert(ctx, tx, conversationID, initiatorEmail, counterpartyEmail, deadline)
	if err != nil {
		if errors.Is(err, ErrDuplicateLive) {
			return s.repo.GetLiveByConversation(ctx, conversationID)
		}
		return Shipment{}, err
	}

	if err := notify.Enqueue(ctx, tx, counterpartyEmail, notify.TemplateTradeStarted, map[string]any{
		"shipment_id":     sh.ID,
		"conversation_id": conversationID,
		"initiated_by":    initiatorEmail,
	}); err != nil {
		return Shipment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Shipment{}, fmt.Errorf("trade: commit initiate: %w", err)
	}
	return sh, nil
}

// SelectVariant locks in how the swap ships. Either party may choose; the
// shipping deadline restarts from the moment of choice.
func (s *Service) SelectVariant(ctx context.Context, shipmentID, actorEmail string, variant Variant) (Shipment, error) {
	switch variant {
	case VariantDirectTracking, VariantFulfillment:
	default:
		return Shipment{}, ErrInvalidVariant
	}

	sh, err := s.repo.GetByID(ctx, shipmentID)
	if err != nil {
		return Shipment{}, err
	}
	side := sh.SideOf(actorEmail)
	if side == "" {
		return Shipment{}, ErrNotParty
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Shipment{}, fmt.Errorf("trade: begin variant tx: %w", err)
	}
	defer tx.Rollback(ctx)

	deadline := s.now().AddDate(0, 0, s.deadlineDays)
	updated, err := s.repo.SetVariant(ctx, tx, shipmentID, variant, deadline)
	if err != nil {
		return Shipment{}, err
	}

	if err := notify.Enqueue(ctx, tx, sh.OtherEmail(side), notify.TemplateTradeVariant, map[string]any{
		"shipment_id": updated.ID,
		"variant":     string(variant),
		"deadline":    deadline.Format(time.RFC3339),
		"selected_by": actorEmail,
	}); err != nil {
		return Shipment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Shipment{}, fmt.Errorf("trade: commit variant: %w", err)
	}
	return updated, nil
}

// SubmitTracking records the caller's tracking number. The second number in
// advances the swap, and the counterparty hears about it either way.
func (s *Service) SubmitTracking(ctx context.Context, shipmentID, actorEmail, tracking string) (Shipment, error) {
	if tracking == "" {
		return Shipment{}, ErrMissingTracking
	}

	sh, err := s.repo.GetByID(ctx, shipmentID)
	if err != nil {
		return Shipment{}, err
	}
	side := sh.SideOf(actorEmail)
	if side == "" {
		return Shipment{}, ErrNotParty
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Shipment{}, fmt.Errorf("trade: begin tracking tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := s.repo.SubmitTracking(ctx, tx, shipmentID, side, tracking)
	if err != nil {
		return Shipment{}, err
	}

	if err := notify.Enqueue(ctx, tx, sh.OtherEmail(side), notify.TemplateTradeTracking, map[string]any{
		"shipment_id":  updated.ID,
		"submitted_by": actorEmail,
		"both_in":      updated.Status == StatusBothTrackingSubmitted,
	}); err != nil {
		return Shipment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Shipment{}, fmt.Errorf("trade: commit tracking: %w", err)
	}
	return updated, nil
}

// ConfirmDelivery records that the caller received their parcel. The second
// confirmation completes the swap and both sides are told.
func (s *Service) ConfirmDelivery(ctx context.Context, shipmentID, actorEmail string) (Shipment, error) {
	sh, err := s.repo.GetByID(ctx, shipmentID)
	if err != nil {
		return Shipment{}, err
	}
	side := sh.SideOf(actorEmail)
	if side == "" {
		return Shipment{}, ErrNotParty
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Shipment{}, fmt.Errorf("trade: begin confirm tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := s.repo.ConfirmDelivery(ctx, tx, shipmentID, side)
	if err != nil {
		return Shipment{}, err
	}

	if updated.Status == StatusCompleted {
		done := map[string]any{"shipment_id": updated.ID}
		if err := notify.Enqueue(ctx, tx, updated.PartyAEmail, notify.TemplateTradeCompleted, done); err != nil {
			return Shipment{}, err
		}
		if err := notify.Enqueue(ctx, tx, updated.PartyBEmail, notify.TemplateTradeCompleted, done); err != nil {
			return Shipment{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Shipment{}, fmt.Errorf("trade: commit confirm: %w", err)
	}
	return updated, nil
}

// Get returns a shipment visible to its parties.
func (s *Service) Get(ctx context.Context, shipmentID, actorEmail string) (Shipment, error) {
	sh, err := s.repo.GetByID(ctx, shipmentID)
	if err != nil {
		return Shipment{}, err
	}
	if sh.SideOf(actorEmail) == "" {
		return Shipment{}, ErrNotParty
	}
	return sh, nil
}

// ForfeitDue forfeits every swap past its deadline and notifies both sides,
// naming the party at fault. Invoked by the background sweep.
func (s *Service) ForfeitDue(ctx context.Context) ([]Shipment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("trade: begin forfeit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	forfeited, err := s.repo.ForfeitDue(ctx, tx, s.now())
	if err != nil {
		return nil, err
	}

	for _, sh := range forfeited {
		payload := map[string]any{
			"shipment_id":     sh.ID,
			"forfeited_party": sh.ForfeitedParty,
		}
		if err := notify.Enqueue(ctx, tx, sh.PartyAEmail, notify.TemplateTradeForfeited, payload); err != nil {
			return nil, err
		}
		if err := notify.Enqueue(ctx, tx, sh.PartyBEmail, notify.TemplateTradeForfeited, payload); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("trade: commit forfeit: %w", err)
	}
	return forfeited, nil
}

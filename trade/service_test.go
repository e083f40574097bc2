package trade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestService(repo *fakeRepo) (*Service, *fakePool) {
	pool := &fakePool{}
	svc := NewService(pool, repo, 14).WithClock(func() time.Time { return testNow })
	return svc, pool
}

func awaitingShipment() Shipment {
	return Shipment{
		ID:             "s1",
		ConversationID: "c1",
		PartyAEmail:    "anna@x.io",
		PartyBEmail:    "ben@x.io",
		Status:         StatusAwaitingVariant,
		Deadline:       testNow.AddDate(0, 0, 14),
	}
}

func TestInitiate_SameParty(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{})

	_, err := svc.Initiate(context.Background(), "c1", "anna@x.io", "anna@x.io")
	if !errors.Is(err, ErrSameParty) {
		t.Fatalf("expected ErrSameParty, got %v", err)
	}
}

func TestInitiate_SetsDeadline(t *testing.T) {
	repo := &fakeRepo{}
	svc, pool := newTestService(repo)

	sh, err := svc.Initiate(context.Background(), "c1", "anna@x.io", "ben@x.io")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := testNow.AddDate(0, 0, 14)
	if !repo.insertDeadline.Equal(want) {
		t.Errorf("deadline = %s, want %s", repo.insertDeadline, want)
	}
	if sh.Status != StatusAwaitingVariant {
		t.Errorf("expected awaiting_variant, got %s", sh.Status)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
}

func TestInitiate_DuplicateReturnsLiveSwap(t *testing.T) {
	live := awaitingShipment()
	repo := &fakeRepo{insertErr: ErrDuplicateLive, live: live}
	svc, _ := newTestService(repo)

	sh, err := svc.Initiate(context.Background(), "c1", "anna@x.io", "ben@x.io")
	if err != nil {
		t.Fatalf("retry must be benign, got %v", err)
	}
	if sh.ID != live.ID {
		t.Errorf("expected the existing swap back, got %s", sh.ID)
	}
}

func TestSelectVariant_InvalidVariant(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{shipment: awaitingShipment()})

	_, err := svc.SelectVariant(context.Background(), "s1", "anna@x.io", "carrier_pigeon")
	if !errors.Is(err, ErrInvalidVariant) {
		t.Fatalf("expected ErrInvalidVariant, got %v", err)
	}
}

func TestSelectVariant_NotParty(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{shipment: awaitingShipment()})

	_, err := svc.SelectVariant(context.Background(), "s1", "stranger@x.io", VariantDirectTracking)
	if !errors.Is(err, ErrNotParty) {
		t.Fatalf("expected ErrNotParty, got %v", err)
	}
}

func TestSelectVariant_RestartsDeadline(t *testing.T) {
	repo := &fakeRepo{shipment: awaitingShipment()}
	svc, pool := newTestService(repo)

	sh, err := svc.SelectVariant(context.Background(), "s1", "ben@x.io", VariantDirectTracking)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := testNow.AddDate(0, 0, 14)
	if !repo.variantDeadline.Equal(want) {
		t.Errorf("deadline = %s, want %s", repo.variantDeadline, want)
	}
	if sh.Status != StatusWaitingForTracking {
		t.Errorf("expected waiting_for_tracking, got %s", sh.Status)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
}

func TestSubmitTracking_MissingNumber(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{shipment: awaitingShipment()})

	_, err := svc.SubmitTracking(context.Background(), "s1", "anna@x.io", "")
	if !errors.Is(err, ErrMissingTracking) {
		t.Fatalf("expected ErrMissingTracking, got %v", err)
	}
}

func TestSubmitTracking_FirstOfTwoKeepsWaiting(t *testing.T) {
	sh := awaitingShipment()
	sh.Status = StatusWaitingForTracking
	repo := &fakeRepo{shipment: sh}
	repo.trackingResult = sh
	tracking := "TRK-A"
	repo.trackingResult.PartyATracking = &tracking

	svc, _ := newTestService(repo)

	got, err := svc.SubmitTracking(context.Background(), "s1", "anna@x.io", "TRK-A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.trackingSide != SideA {
		t.Errorf("expected side a, got %s", repo.trackingSide)
	}
	if got.Status != StatusWaitingForTracking {
		t.Errorf("one tracking number must not advance the swap, got %s", got.Status)
	}
}

func TestSubmitTracking_SecondAdvances(t *testing.T) {
	sh := awaitingShipment()
	sh.Status = StatusWaitingForTracking
	a := "TRK-A"
	sh.PartyATracking = &a
	repo := &fakeRepo{shipment: sh}
	repo.trackingResult = sh
	b := "TRK-B"
	repo.trackingResult.PartyBTracking = &b
	repo.trackingResult.Status = StatusBothTrackingSubmitted

	svc, _ := newTestService(repo)

	got, err := svc.SubmitTracking(context.Background(), "s1", "ben@x.io", "TRK-B")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.trackingSide != SideB {
		t.Errorf("expected side b, got %s", repo.trackingSide)
	}
	if got.Status != StatusBothTrackingSubmitted {
		t.Errorf("expected both_tracking_submitted, got %s", got.Status)
	}
}

func TestConfirmDelivery_BothCompletesAndNotifiesBoth(t *testing.T) {
	sh := awaitingShipment()
	sh.Status = StatusBothTrackingSubmitted
	sh.PartyAConfirmed = true
	repo := &fakeRepo{shipment: sh}
	repo.confirmResult = sh
	repo.confirmResult.PartyBConfirmed = true
	repo.confirmResult.Status = StatusCompleted

	svc, pool := newTestService(repo)

	got, err := svc.ConfirmDelivery(context.Background(), "s1", "ben@x.io")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if pool.tx.execCount != 2 {
		t.Errorf("expected both parties notified, got %d enqueues", pool.tx.execCount)
	}
}

func TestConfirmDelivery_OneConfirmationIsNotEnough(t *testing.T) {
	sh := awaitingShipment()
	sh.Status = StatusBothTrackingSubmitted
	repo := &fakeRepo{shipment: sh}
	repo.confirmResult = sh
	repo.confirmResult.PartyAConfirmed = true

	svc, pool := newTestService(repo)

	got, err := svc.ConfirmDelivery(context.Background(), "s1", "anna@x.io")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusBothTrackingSubmitted {
		t.Errorf("expected both_tracking_submitted, got %s", got.Status)
	}
	if pool.tx.execCount != 0 {
		t.Error("no completion notifications before both confirm")
	}
}

func TestForfeitDue_NotifiesBothSides(t *testing.T) {
	forfeited := awaitingShipment()
	forfeited.Status = StatusForfeited
	party := "ben@x.io"
	forfeited.ForfeitedParty = &party
	repo := &fakeRepo{forfeited: []Shipment{forfeited}}

	svc, pool := newTestService(repo)

	out, err := svc.ForfeitDue(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one forfeiture, got %d", len(out))
	}
	if pool.tx.execCount != 2 {
		t.Errorf("expected both parties notified, got %d enqueues", pool.tx.execCount)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
}

func TestGet_NotParty(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{shipment: awaitingShipment()})

	_, err := svc.Get(context.Background(), "s1", "stranger@x.io")
	if !errors.Is(err, ErrNotParty) {
		t.Fatalf("expected ErrNotParty, got %v", err)
	}
}

type fakeRepo struct {
	shipment Shipment
	getErr   error
	live     Shipment

	insertDeadline time.Time
	insertErr      error

	variantDeadline time.Time
	variantErr      error

	trackingSide   Side
	trackingResult Shipment
	trackingErr    error

	confirmResult Shipment
	confirmErr    error

	forfeited []Shipment
}

func (f *fakeRepo) Insert(_ context.Context, _ pgx.Tx, conversationID, partyA, partyB string, deadline time.Time) (Shipment, error) {
	f.insertDeadline = deadline
	if f.insertErr != nil {
		return Shipment{}, f.insertErr
	}
	return Shipment{
		ID:             "s1",
		ConversationID: conversationID,
		PartyAEmail:    partyA,
		PartyBEmail:    partyB,
		Status:         StatusAwaitingVariant,
		Deadline:       deadline,
	}, nil
}

func (f *fakeRepo) GetByID(_ context.Context, _ string) (Shipment, error) {
	return f.shipment, f.getErr
}

func (f *fakeRepo) GetLiveByConversation(_ context.Context, _ string) (Shipment, error) {
	return f.live, nil
}

func (f *fakeRepo) SetVariant(_ context.Context, _ pgx.Tx, _ string, variant Variant, deadline time.Time) (Shipment, error) {
	f.variantDeadline = deadline
	if f.variantErr != nil {
		return Shipment{}, f.variantErr
	}
	sh := f.shipment
	sh.Variant = &variant
	sh.Status = StatusWaitingForTracking
	sh.Deadline = deadline
	return sh, nil
}

func (f *fakeRepo) SubmitTracking(_ context.Context, _ pgx.Tx, _ string, side Side, _ string) (Shipment, error) {
	f.trackingSide = side
	return f.trackingResult, f.trackingErr
}

func (f *fakeRepo) ConfirmDelivery(_ context.Context, _ pgx.Tx, _ string, _ Side) (Shipment, error) {
	return f.confirmResult, f.confirmErr
}

func (f *fakeRepo) ForfeitDue(_ context.Context, _ pgx.Tx, _ time.Time) ([]Shipment, error) {
	return f.forfeited, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
	execCount int
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	f.execCount++
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

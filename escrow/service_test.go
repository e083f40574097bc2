package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"marketflow/ledger"
	"marketflow/offer"
	"marketflow/product"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // a Monday

func newTestService(repo *fakeRepo, products *fakeProducts, ledgerStore *fakeLedger) (*Service, *fakePool) {
	return newTestServiceWithOffers(repo, products, ledgerStore, &fakeOffers{})
}

func newTestServiceWithOffers(repo *fakeRepo, products *fakeProducts, ledgerStore *fakeLedger, offers *fakeOffers) (*Service, *fakePool) {
	pool := &fakePool{}
	svc := NewService(pool, repo, products, ledgerStore, offers, DefaultFeePolicy()).
		WithClock(func() time.Time { return testNow })
	return svc, pool
}

func activeListing() product.Product {
	return product.Product{
		ID:          "p1",
		SellerEmail: "seller@x.io",
		Price:       decimal.NewFromFloat(50.00),
		Status:      product.StatusActive,
	}
}

func standardShipping() product.ShippingOption {
	return product.ShippingOption{
		ID:      "ship-1",
		Carrier: "DHL",
		Price:   decimal.NewFromFloat(4.50),
		Margin:  decimal.NewFromFloat(1.20),
	}
}

func TestOpen_ComputesFees(t *testing.T) {
	repo := &fakeRepo{}
	svc, pool := newTestService(repo, &fakeProducts{p: activeListing(), opt: standardShipping()}, &fakeLedger{})

	rec, err := svc.Open(context.Background(), OpenParams{
		BuyerEmail:       "buyer@x.io",
		ProductID:        "p1",
		ShippingOptionID: "ship-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := repo.insertParams
	if got.BuyerProtectionFee.StringFixed(2) != "3.50" {
		t.Errorf("protection fee = %s, want 3.50", got.BuyerProtectionFee.StringFixed(2))
	}
	if got.TotalPrice.StringFixed(2) != "58.00" {
		t.Errorf("total = %s, want 58.00", got.TotalPrice.StringFixed(2))
	}
	if got.PlatformFee.StringFixed(2) != "4.70" {
		t.Errorf("platform fee = %s, want 4.70", got.PlatformFee.StringFixed(2))
	}
	if got.SellerPayout.StringFixed(2) != "50.00" {
		t.Errorf("seller payout = %s, want 50.00", got.SellerPayout.StringFixed(2))
	}
	// Monday + 5 business days = next Monday.
	wantDeadline := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	if !got.ShippingDeadline.Equal(wantDeadline) {
		t.Errorf("shipping deadline = %s, want %s", got.ShippingDeadline, wantDeadline)
	}
	if rec.Status != StatusPending {
		t.Errorf("expected pending, got %s", rec.Status)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
}

func acceptedOffer(buyer, productID string, agreed float64) offer.Offer {
	price := decimal.NewFromFloat(agreed)
	return offer.Offer{
		ID:          "o1",
		ProductID:   productID,
		BuyerEmail:  buyer,
		SellerEmail: "seller@x.io",
		AgreedPrice: &price,
		Status:      offer.StatusAccepted,
	}
}

func TestOpen_AcceptedOfferSetsPrice(t *testing.T) {
	repo := &fakeRepo{}
	offers := &fakeOffers{o: acceptedOffer("buyer@x.io", "p1", 90.00)}
	svc, _ := newTestServiceWithOffers(repo, &fakeProducts{p: activeListing(), opt: standardShipping()}, &fakeLedger{}, offers)

	_, err := svc.Open(context.Background(), OpenParams{
		BuyerEmail:       "buyer@x.io",
		ProductID:        "p1",
		ShippingOptionID: "ship-1",
		OfferID:          "o1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.insertParams.ItemPrice.StringFixed(2) != "90.00" {
		t.Errorf("item price = %s, want 90.00", repo.insertParams.ItemPrice.StringFixed(2))
	}
	// Protection follows the agreed price, not the listing price.
	if repo.insertParams.BuyerProtectionFee.StringFixed(2) != "5.50" {
		t.Errorf("protection fee = %s, want 5.50", repo.insertParams.BuyerProtectionFee.StringFixed(2))
	}
}

func TestOpen_OfferStillOpenIsRejected(t *testing.T) {
	o := acceptedOffer("buyer@x.io", "p1", 90.00)
	o.Status = offer.StatusCountered
	o.AgreedPrice = nil
	svc, _ := newTestServiceWithOffers(&fakeRepo{}, &fakeProducts{p: activeListing(), opt: standardShipping()}, &fakeLedger{}, &fakeOffers{o: o})

	_, err := svc.Open(context.Background(), OpenParams{
		BuyerEmail:       "buyer@x.io",
		ProductID:        "p1",
		ShippingOptionID: "ship-1",
		OfferID:          "o1",
	})
	if !errors.Is(err, ErrOfferNotAccepted) {
		t.Fatalf("expected ErrOfferNotAccepted, got %v", err)
	}
}

func TestOpen_SomeoneElsesOfferIsRejected(t *testing.T) {
	offers := &fakeOffers{o: acceptedOffer("other@x.io", "p1", 10.00)}
	svc, _ := newTestServiceWithOffers(&fakeRepo{}, &fakeProducts{p: activeListing(), opt: standardShipping()}, &fakeLedger{}, offers)

	_, err := svc.Open(context.Background(), OpenParams{
		BuyerEmail:       "buyer@x.io",
		ProductID:        "p1",
		ShippingOptionID: "ship-1",
		OfferID:          "o1",
	})
	if !errors.Is(err, ErrOfferNotAccepted) {
		t.Fatalf("expected ErrOfferNotAccepted, got %v", err)
	}
}

func TestOpen_OfferForAnotherProductIsRejected(t *testing.T) {
	offers := &fakeOffers{o: acceptedOffer("buyer@x.io", "p2", 10.00)}
	svc, _ := newTestServiceWithOffers(&fakeRepo{}, &fakeProducts{p: activeListing(), opt: standardShipping()}, &fakeLedger{}, offers)

	_, err := svc.Open(context.Background(), OpenParams{
		BuyerEmail:       "buyer@x.io",
		ProductID:        "p1",
		ShippingOptionID: "ship-1",
		OfferID:          "o1",
	})
	if !errors.Is(err, ErrOfferNotAccepted) {
		t.Fatalf("expected ErrOfferNotAccepted, got %v", err)
	}
}

func TestOpen_NonPositivePriceIsRejected(t *testing.T) {
	free := activeListing()
	free.Price = decimal.Zero
	svc, _ := newTestService(&fakeRepo{}, &fakeProducts{p: free, opt: standardShipping()}, &fakeLedger{})

	_, err := svc.Open(context.Background(), OpenParams{
		BuyerEmail:       "buyer@x.io",
		ProductID:        "p1",
		ShippingOptionID: "ship-1",
	})
	if !errors.Is(err, ErrInvalidItemPrice) {
		t.Fatalf("expected ErrInvalidItemPrice, got %v", err)
	}
}

func TestOpen_OwnListing(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{}, &fakeProducts{p: activeListing(), opt: standardShipping()}, &fakeLedger{})

	_, err := svc.Open(context.Background(), OpenParams{
		BuyerEmail:       "seller@x.io",
		ProductID:        "p1",
		ShippingOptionID: "ship-1",
	})
	if !errors.Is(err, ErrOwnListing) {
		t.Fatalf("expected ErrOwnListing, got %v", err)
	}
}

func TestOpen_InvalidShippingOption(t *testing.T) {
	products := &fakeProducts{p: activeListing(), optErr: product.ErrShippingOptionNotFound}
	svc, _ := newTestService(&fakeRepo{}, products, &fakeLedger{})

	_, err := svc.Open(context.Background(), OpenParams{
		BuyerEmail:       "buyer@x.io",
		ProductID:        "p1",
		ShippingOptionID: "nope",
	})
	if !errors.Is(err, ErrInvalidShippingOption) {
		t.Fatalf("expected ErrInvalidShippingOption, got %v", err)
	}
}

func TestOpen_DiscountBelowMinPurchase(t *testing.T) {
	repo := &fakeRepo{discount: Discount{
		Code:        "BIG10",
		Amount:      decimal.NewFromFloat(10.00),
		MinPurchase: decimal.NewFromFloat(100.00),
	}}
	svc, _ := newTestService(repo, &fakeProducts{p: activeListing(), opt: standardShipping()}, &fakeLedger{})

	_, err := svc.Open(context.Background(), OpenParams{
		BuyerEmail:       "buyer@x.io",
		ProductID:        "p1",
		ShippingOptionID: "ship-1",
		DiscountCode:     "BIG10",
	})
	if !errors.Is(err, ErrDiscountNotApplicable) {
		t.Fatalf("expected ErrDiscountNotApplicable, got %v", err)
	}
}

func TestOpen_RaceLoserGetsUnavailable(t *testing.T) {
	products := &fakeProducts{p: activeListing(), opt: standardShipping(), reserveErr: product.ErrUnavailable}
	svc, pool := newTestService(&fakeRepo{}, products, &fakeLedger{})

	_, err := svc.Open(context.Background(), OpenParams{
		BuyerEmail:       "buyer@x.io",
		ProductID:        "p1",
		ShippingOptionID: "ship-1",
	})
	if !errors.Is(err, ErrProductNoLongerAvailable) {
		t.Fatalf("expected ErrProductNoLongerAvailable, got %v", err)
	}
	if pool.tx.committed {
		t.Error("expected rollback for the losing buyer")
	}
}

func TestConfirmPayment_CreditsPendingPayout(t *testing.T) {
	repo := &fakeRepo{record: Transaction{
		ID: "t1", SellerEmail: "seller@x.io", BuyerEmail: "buyer@x.io",
		SellerPayout: decimal.NewFromFloat(50.00), Status: StatusPaid,
		ShippingDeadline: testNow.AddDate(0, 0, 7),
	}}
	ledgerStore := &fakeLedger{}
	svc, pool := newTestService(repo, &fakeProducts{}, ledgerStore)

	if _, err := svc.ConfirmPayment(context.Background(), "t1", "pay_abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ledgerStore.credits) != 1 {
		t.Fatalf("expected exactly one credit, got %d", len(ledgerStore.credits))
	}
	c := ledgerStore.credits[0]
	if c.email != "seller@x.io" || c.kind != ledger.KindPending || c.amount.StringFixed(2) != "50.00" {
		t.Fatalf("unexpected credit: %+v", c)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
}

func TestConfirmPayment_ReplayDoesNotRecredit(t *testing.T) {
	repo := &fakeRepo{
		record:  Transaction{ID: "t1", Status: StatusPaid},
		idemErr: ErrDuplicateIdempotencyKey,
	}
	ledgerStore := &fakeLedger{}
	svc, pool := newTestService(repo, &fakeProducts{}, ledgerStore)

	rec, err := svc.ConfirmPayment(context.Background(), "t1", "pay_abc")
	if err != nil {
		t.Fatalf("replay must be a no-op, got %v", err)
	}
	if rec.Status != StatusPaid {
		t.Errorf("expected current record back, got %s", rec.Status)
	}
	if len(ledgerStore.credits) != 0 {
		t.Error("replay must not credit again")
	}
	if pool.tx.committed {
		t.Error("replay must not commit")
	}
}

func TestConfirmPayment_MissingRef(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{}, &fakeProducts{}, &fakeLedger{})

	if _, err := svc.ConfirmPayment(context.Background(), "t1", ""); err == nil {
		t.Fatal("expected error for missing payment reference")
	}
}

func TestMarkShipped_NotSeller(t *testing.T) {
	repo := &fakeRepo{record: Transaction{
		ID: "t1", SellerEmail: "seller@x.io", BuyerEmail: "buyer@x.io", Status: StatusPaid,
	}}
	svc, _ := newTestService(repo, &fakeProducts{}, &fakeLedger{})

	_, err := svc.MarkShipped(context.Background(), "t1", "buyer@x.io", "TRK123")
	if !errors.Is(err, ErrNotSeller) {
		t.Fatalf("expected ErrNotSeller, got %v", err)
	}
}

func TestMarkShipped_LateShipEscalates(t *testing.T) {
	deadline := testNow.Add(-24 * time.Hour)
	repo := &fakeRepo{
		record: Transaction{
			ID: "t1", SellerEmail: "seller@x.io", BuyerEmail: "buyer@x.io",
			Status: StatusPaid, ShippingDeadline: deadline,
		},
		shipResult: Transaction{
			ID: "t1", SellerEmail: "seller@x.io", BuyerEmail: "buyer@x.io",
			Status: StatusShipped, ShippingDeadline: deadline, ShippingOverdue: true,
		},
	}
	svc, pool := newTestService(repo, &fakeProducts{}, &fakeLedger{})

	rec, err := svc.MarkShipped(context.Background(), "t1", "seller@x.io", "TRK123")
	if err != nil {
		t.Fatalf("late shipping must succeed, got %v", err)
	}
	if !rec.ShippingOverdue {
		t.Error("expected overdue flag set")
	}
	// Buyer notification plus the overdue escalation.
	if pool.tx.execCount < 2 {
		t.Errorf("expected escalation notification, got %d enqueues", pool.tx.execCount)
	}
}

func TestSettle_ReleasesPayoutAndSellsProduct(t *testing.T) {
	repo := &fakeRepo{settleResult: Transaction{
		ID: "t1", ProductID: "p1", SellerEmail: "seller@x.io",
		SellerPayout: decimal.NewFromFloat(50.00), Status: StatusCompleted,
	}}
	ledgerStore := &fakeLedger{}
	products := &fakeProducts{p: activeListing()}
	svc, pool := newTestService(repo, products, ledgerStore)

	if _, err := svc.Settle(context.Background(), "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ledgerStore.releases) != 1 {
		t.Fatalf("expected one release, got %d", len(ledgerStore.releases))
	}
	r := ledgerStore.releases[0]
	if r.email != "seller@x.io" || r.amount.StringFixed(2) != "50.00" {
		t.Fatalf("unexpected release: %+v", r)
	}
	if !products.soldCalled {
		t.Error("expected product marked sold")
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
}

func TestCancel_PaidRefundsBuyerInFull(t *testing.T) {
	repo := &fakeRepo{
		record: Transaction{
			ID: "t1", ProductID: "p1", BuyerEmail: "buyer@x.io", SellerEmail: "seller@x.io",
			TotalPrice: decimal.NewFromFloat(58.00), SellerPayout: decimal.NewFromFloat(50.00),
			Status: StatusPaid,
		},
		cancelPrevious: StatusPaid,
	}
	repo.cancelResult = repo.record
	repo.cancelResult.Status = StatusCancelled

	ledgerStore := &fakeLedger{}
	products := &fakeProducts{}
	svc, pool := newTestService(repo, products, ledgerStore)

	if _, err := svc.Cancel(context.Background(), "t1", "buyer@x.io"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ledgerStore.credits) != 1 {
		t.Fatalf("expected one refund credit, got %d", len(ledgerStore.credits))
	}
	c := ledgerStore.credits[0]
	if c.email != "buyer@x.io" || c.kind != ledger.KindAvailable || c.amount.StringFixed(2) != "58.00" {
		t.Fatalf("unexpected refund: %+v", c)
	}
	if len(ledgerStore.pendingDebits) != 1 || ledgerStore.pendingDebits[0].amount.StringFixed(2) != "50.00" {
		t.Fatal("expected the held payout debited from the seller")
	}
	if !products.releaseCalled {
		t.Error("expected product released back to the market")
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
}

func TestCancel_PendingMovesNoMoney(t *testing.T) {
	repo := &fakeRepo{
		record: Transaction{
			ID: "t1", ProductID: "p1", BuyerEmail: "buyer@x.io", SellerEmail: "seller@x.io",
			Status: StatusPending,
		},
		cancelPrevious: StatusPending,
	}
	repo.cancelResult = repo.record
	repo.cancelResult.Status = StatusCancelled

	ledgerStore := &fakeLedger{}
	svc, _ := newTestService(repo, &fakeProducts{}, ledgerStore)

	if _, err := svc.Cancel(context.Background(), "t1", "seller@x.io"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledgerStore.credits) != 0 || len(ledgerStore.pendingDebits) != 0 {
		t.Error("pending cancel must not touch balances")
	}
}

func TestCancel_NotParty(t *testing.T) {
	repo := &fakeRepo{record: Transaction{
		ID: "t1", BuyerEmail: "buyer@x.io", SellerEmail: "seller@x.io", Status: StatusPending,
	}}
	svc, _ := newTestService(repo, &fakeProducts{}, &fakeLedger{})

	_, err := svc.Cancel(context.Background(), "t1", "stranger@x.io")
	if !errors.Is(err, ErrNotParty) {
		t.Fatalf("expected ErrNotParty, got %v", err)
	}
}

type fakeProducts struct {
	p          product.Product
	opt        product.ShippingOption
	optErr     error
	reserveErr error

	soldCalled    bool
	releaseCalled bool
}

func (f *fakeProducts) GetByID(_ context.Context, _ string) (product.Product, error) {
	return f.p, nil
}

func (f *fakeProducts) GetShippingOption(_ context.Context, _ string) (product.ShippingOption, error) {
	return f.opt, f.optErr
}

func (f *fakeProducts) Reserve(_ context.Context, _ pgx.Tx, _ string) (product.Product, error) {
	if f.reserveErr != nil {
		return product.Product{}, f.reserveErr
	}
	return f.p, nil
}

func (f *fakeProducts) Release(_ context.Context, _ pgx.Tx, _ string) (product.Product, error) {
	f.releaseCalled = true
	return f.p, nil
}

func (f *fakeProducts) MarkSold(_ context.Context, _ pgx.Tx, _ string) (product.Product, error) {
	f.soldCalled = true
	return f.p, nil
}

type fakeOffers struct {
	o   offer.Offer
	err error
}

func (f *fakeOffers) GetByID(_ context.Context, _ string) (offer.Offer, error) {
	if f.err != nil {
		return offer.Offer{}, f.err
	}
	return f.o, nil
}

type balanceOp struct {
	email  string
	amount decimal.Decimal
	kind   ledger.Kind
}

type fakeLedger struct {
	credits       []balanceOp
	debits        []balanceOp
	pendingDebits []balanceOp
	releases      []balanceOp
	err           error
}

func (f *fakeLedger) Credit(_ context.Context, _ pgx.Tx, email string, amount decimal.Decimal, kind ledger.Kind, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.credits = append(f.credits, balanceOp{email: email, amount: amount, kind: kind})
	return nil
}

func (f *fakeLedger) Debit(_ context.Context, _ pgx.Tx, email string, amount decimal.Decimal, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.debits = append(f.debits, balanceOp{email: email, amount: amount})
	return nil
}

func (f *fakeLedger) DebitPending(_ context.Context, _ pgx.Tx, email string, amount decimal.Decimal, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.pendingDebits = append(f.pendingDebits, balanceOp{email: email, amount: amount})
	return nil
}

func (f *fakeLedger) Release(_ context.Context, _ pgx.Tx, email string, amount decimal.Decimal, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.releases = append(f.releases, balanceOp{email: email, amount: amount})
	return nil
}

type fakeRepo struct {
	record Transaction
	getErr error

	insertParams InsertParams
	insertErr    error

	idemErr error

	shipResult   Transaction
	shipErr      error
	deliverErr   error
	settleResult Transaction
	settleErr    error

	cancelResult   Transaction
	cancelPrevious Status
	cancelErr      error

	discount    Discount
	discountErr error
}

func (f *fakeRepo) Insert(_ context.Context, _ pgx.Tx, params InsertParams) (Transaction, error) {
	f.insertParams = params
	if f.insertErr != nil {
		return Transaction{}, f.insertErr
	}
	return Transaction{
		ID:                 "t1",
		ProductID:          params.ProductID,
		BuyerEmail:         params.BuyerEmail,
		SellerEmail:        params.SellerEmail,
		ItemPrice:          params.ItemPrice,
		BuyerProtectionFee: params.BuyerProtectionFee,
		ShippingPrice:      params.ShippingPrice,
		TotalPrice:         params.TotalPrice,
		SellerPayout:       params.SellerPayout,
		Status:             StatusPending,
		ShippingDeadline:   params.ShippingDeadline,
	}, nil
}

func (f *fakeRepo) GetByID(_ context.Context, _ string) (Transaction, error) {
	return f.record, f.getErr
}

func (f *fakeRepo) InsertIdempotencyKey(_ context.Context, _ pgx.Tx, _ string) error {
	return f.idemErr
}

func (f *fakeRepo) MarkPaid(_ context.Context, _ pgx.Tx, id, paymentRef string) (Transaction, error) {
	rec := f.record
	rec.Status = StatusPaid
	rec.PaymentRef = &paymentRef
	return rec, nil
}

func (f *fakeRepo) MarkShipped(_ context.Context, _ pgx.Tx, _, _ string, _ time.Time) (Transaction, error) {
	return f.shipResult, f.shipErr
}

func (f *fakeRepo) MarkDelivered(_ context.Context, _ pgx.Tx, _ string, now, disputeDeadline time.Time) (Transaction, error) {
	if f.deliverErr != nil {
		return Transaction{}, f.deliverErr
	}
	rec := f.record
	rec.Status = StatusDelivered
	rec.DeliveredAt = &now
	rec.DisputeDeadline = &disputeDeadline
	return rec, nil
}

func (f *fakeRepo) Settle(_ context.Context, _ pgx.Tx, _ string, _ time.Time) (Transaction, error) {
	return f.settleResult, f.settleErr
}

func (f *fakeRepo) Cancel(_ context.Context, _ pgx.Tx, _ string) (Transaction, Status, error) {
	return f.cancelResult, f.cancelPrevious, f.cancelErr
}

func (f *fakeRepo) GetDiscount(_ context.Context, _ string) (Discount, error) {
	if f.discountErr != nil {
		return Discount{}, f.discountErr
	}
	if f.discount.Code == "" {
		return Discount{}, ErrDiscountNotFound
	}
	return f.discount, nil
}

func (f *fakeRepo) AppendTimeline(_ context.Context, _ pgx.Tx, _, _, _ string, _ map[string]any) error {
	return nil
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

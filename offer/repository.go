package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals the offer does not exist.
	ErrNotFound = errors.New("offer: not found")
	// ErrDuplicateLive signals the buyer already has a live offer on this listing.
	ErrDuplicateLive = errors.New("offer: live offer already exists for this listing")
	// ErrNotYourTurn signals the caller responded to their own last move.
	ErrNotYourTurn = errors.New("offer: waiting for the other party")
	// ErrTerminal signals the offer already reached a final status.
	ErrTerminal = errors.New("offer: already finalized")
	// ErrExpired signals the offer's window has passed.
	ErrExpired = errors.New("offer: expired")
)

const offerColumns = `id, product_id, buyer_email, seller_email, original_price, proposed_price,
	counter_price, agreed_price, status::text, last_action_by, created_at, expires_at, updated_at`

// PGRepository persists offers. All transition writes are conditional on
// (status, last_action_by, expires_at) so two near-simultaneous responses
// from the same party cannot both succeed.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// InsertParams enumerates the fields fixed at offer creation.
type InsertParams struct {
	ProductID     string
	BuyerEmail    string
	SellerEmail   string
	OriginalPrice decimal.Decimal
	ProposedPrice decimal.Decimal
	ExpiresAt     time.Time
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Offer, error) {
	const query = `
		INSERT INTO offers (product_id, buyer_email, seller_email, original_price, proposed_price, status, last_action_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, 'open', 'buyer', $6)
		RETURNING ` + offerColumns

	row := tx.QueryRow(ctx, query,
		params.ProductID,
		params.BuyerEmail,
		params.SellerEmail,
		params.OriginalPrice,
		params.ProposedPrice,
		params.ExpiresAt,
	)
	o, err := scanOffer(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Offer{}, ErrDuplicateLive
		}
		return Offer{}, fmt.Errorf("offer: insert: %w", err)
	}
	return o, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Offer, error) {
	const query = `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`
	o, err := scanOffer(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: get by id: %w", err)
	}
	return o, nil
}

// Counter applies a counter-proposal. The WHERE clause is the alternation
// rule: live status, the other party acted last, window still open.
func (r *PGRepository) Counter(ctx context.Context, tx pgx.Tx, id string, actor Party, price decimal.Decimal, now time.Time) (Offer, error) {
	const query = `
		UPDATE offers
		SET status = 'countered', counter_price = $3, agreed_price = NULL, last_action_by = $2, updated_at = now()
		WHERE id = $1
		  AND status IN ('open', 'countered')
		  AND last_action_by <> $2
		  AND expires_at > $4
		RETURNING ` + offerColumns

	o, err := scanOffer(tx.QueryRow(ctx, query, id, actor, price, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, r.classifyConflict(ctx, tx, id, actor, now)
		}
		return Offer{}, fmt.Errorf("offer: counter: %w", err)
	}
	return o, nil
}

// Accept finalizes the negotiation, freezing the agreed price.
func (r *PGRepository) Accept(ctx context.Context, tx pgx.Tx, id string, actor Party, now time.Time) (Offer, error) {
	const query = `
		UPDATE offers
		SET status = 'accepted', agreed_price = COALESCE(counter_price, proposed_price), counter_price = NULL, last_action_by = $2, updated_at = now()
		WHERE id = $1
		  AND status IN ('open', 'countered')
		  AND last_action_by <> $2
		  AND expires_at > $3
		RETURNING ` + offerColumns

	o, err := scanOffer(tx.QueryRow(ctx, query, id, actor, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, r.classifyConflict(ctx, tx, id, actor, now)
		}
		return Offer{}, fmt.Errorf("offer: accept: %w", err)
	}
	return o, nil
}

// Reject finalizes the negotiation without agreement.
func (r *PGRepository) Reject(ctx context.Context, tx pgx.Tx, id string, actor Party, now time.Time) (Offer, error) {
	const query = `
		UPDATE offers
		SET status = 'rejected', counter_price = NULL, agreed_price = NULL, last_action_by = $2, updated_at = now()
		WHERE id = $1
		  AND status IN ('open', 'countered')
		  AND last_action_by <> $2
		  AND expires_at > $3
		RETURNING ` + offerColumns

	o, err := scanOffer(tx.QueryRow(ctx, query, id, actor, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, r.classifyConflict(ctx, tx, id, actor, now)
		}
		return Offer{}, fmt.Errorf("offer: reject: %w", err)
	}
	return o, nil
}

// MarkExpired flips a live offer past its window to expired. Used by the
// lazy write-path expiry and the background sweep; conditional so it is a
// no-op when a user transition won the race.
func (r *PGRepository) MarkExpired(ctx context.Context, tx pgx.Tx, id string, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE offers
		SET status = 'expired', counter_price = NULL, agreed_price = NULL, updated_at = now()
		WHERE id = $1
		  AND status IN ('open', 'countered')
		  AND expires_at <= $2
	`, id, now)
	if err != nil {
		return fmt.Errorf("offer: mark expired: %w", err)
	}
	return nil
}

// ExpireDue sweeps every live offer past its window. Returns the ids flipped.
func (r *PGRepository) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE offers
		SET status = 'expired', counter_price = NULL, agreed_price = NULL, updated_at = now()
		WHERE status IN ('open', 'countered')
		  AND expires_at <= $1
		RETURNING id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("offer: expire due: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("offer: scan expired id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offer: iterate expired: %w", err)
	}
	return ids, nil
}

// classifyConflict turns a zero-row conditional update into the precise
// domain error, locking the row so the diagnosis matches what blocked us.
func (r *PGRepository) classifyConflict(ctx context.Context, tx pgx.Tx, id string, actor Party, now time.Time) error {
	var (
		status       Status
		lastActionBy Party
		expiresAt    time.Time
	)
	err := tx.QueryRow(ctx, `
		SELECT status::text, last_action_by, expires_at
		FROM offers
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&status, &lastActionBy, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("offer: classify conflict: %w", err)
	}

	switch {
	case status.Terminal():
		if status == StatusExpired {
			return ErrExpired
		}
		return ErrTerminal
	case !expiresAt.After(now):
		// Lazily flip the record while we hold the lock.
		if _, err := tx.Exec(ctx, `
			UPDATE offers
			SET status = 'expired', counter_price = NULL, agreed_price = NULL, updated_at = now()
			WHERE id = $1
		`, id); err != nil {
			return fmt.Errorf("offer: lazy expire: %w", err)
		}
		return ErrExpired
	case lastActionBy == actor:
		return ErrNotYourTurn
	default:
		return fmt.Errorf("offer: transition blocked for %s", id)
	}
}

func scanOffer(row pgx.Row) (Offer, error) {
	var o Offer
	err := row.Scan(
		&o.ID,
		&o.ProductID,
		&o.BuyerEmail,
		&o.SellerEmail,
		&o.OriginalPrice,
		&o.ProposedPrice,
		&o.CounterPrice,
		&o.AgreedPrice,
		&o.Status,
		&o.LastActionBy,
		&o.CreatedAt,
		&o.ExpiresAt,
		&o.UpdatedAt,
	)
	return o, err
}

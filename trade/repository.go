package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the shipment does not exist.
	ErrNotFound = errors.New("trade: shipment not found")
	// ErrDuplicateLive signals a live swap already exists for the conversation.
	ErrDuplicateLive = errors.New("trade: live swap already exists for conversation")
	// ErrBadStatus signals a transition invalid for the current status.
	ErrBadStatus = errors.New("trade: invalid status transition")
	// ErrAlreadySubmitted signals the party already submitted their tracking number.
	ErrAlreadySubmitted = errors.New("trade: tracking already submitted")
)

const shipmentColumns = `id, conversation_id, variant::text, party_a_email, party_b_email,
	party_a_tracking, party_b_tracking, party_a_confirmed, party_b_confirmed,
	status::text, deadline, forfeited_party, created_at, updated_at`

// PGRepository persists trade shipments. One live swap per conversation is
// a partial unique index, so two racing Initiate calls resolve to exactly
// one row and one ErrDuplicateLive.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert creates a shipment awaiting variant choice.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, conversationID, partyA, partyB string, deadline time.Time) (Shipment, error) {
	const query = `
		INSERT INTO trade_shipments (conversation_id, party_a_email, party_b_email, deadline)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + shipmentColumns

	sh, err := scanShipment(tx.QueryRow(ctx, query, conversationID, partyA, partyB, deadline))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Shipment{}, ErrDuplicateLive
		}
		return Shipment{}, fmt.Errorf("trade: insert: %w", err)
	}
	return sh, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Shipment, error) {
	const query = `SELECT ` + shipmentColumns + ` FROM trade_shipments WHERE id = $1`
	sh, err := scanShipment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shipment{}, ErrNotFound
		}
		return Shipment{}, fmt.Errorf("trade: get by id: %w", err)
	}
	return sh, nil
}

// GetLiveByConversation returns the conversation's live swap, if any.
func (r *PGRepository) GetLiveByConversation(ctx context.Context, conversationID string) (Shipment, error) {
	const query = `
		SELECT ` + shipmentColumns + `
		FROM trade_shipments
		WHERE conversation_id = $1
		  AND status IN ('awaiting_variant', 'waiting_for_tracking', 'both_tracking_submitted')`

	sh, err := scanShipment(r.pool.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shipment{}, ErrNotFound
		}
		return Shipment{}, fmt.Errorf("trade: get live by conversation: %w", err)
	}
	return sh, nil
}

// SetVariant flips awaiting_variant -> waiting_for_tracking and stamps the
// shipping deadline. The clock starts when the variant is locked in, not
// when the swap was proposed.
func (r *PGRepository) SetVariant(ctx context.Context, tx pgx.Tx, id string, variant Variant, deadline time.Time) (Shipment, error) {
	const query = `
		UPDATE trade_shipments
		SET variant = $2::trade_variant, status = 'waiting_for_tracking', deadline = $3, updated_at = now()
		WHERE id = $1 AND status = 'awaiting_variant'
		RETURNING ` + shipmentColumns

	sh, err := scanShipment(tx.QueryRow(ctx, query, id, variant, deadline))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shipment{}, r.classify(ctx, tx, id)
		}
		return Shipment{}, fmt.Errorf("trade: set variant: %w", err)
	}
	return sh, nil
}

// SubmitTracking records one side's tracking number. When the other side's
// number is already in, the shipment advances to both_tracking_submitted in
// the same statement; there is no window where both numbers exist but the
// status lags.
func (r *PGRepository) SubmitTracking(ctx context.Context, tx pgx.Tx, id string, side Side, tracking string) (Shipment, error) {
	var query string
	switch side {
	case SideA:
		query = `
			UPDATE trade_shipments
			SET party_a_tracking = $2,
			    status = CASE WHEN party_b_tracking IS NOT NULL THEN 'both_tracking_submitted'::trade_status ELSE status END,
			    updated_at = now()
			WHERE id = $1 AND status = 'waiting_for_tracking' AND party_a_tracking IS NULL
			RETURNING ` + shipmentColumns
	case SideB:
		query = `
			UPDATE trade_shipments
			SET party_b_tracking = $2,
			    status = CASE WHEN party_a_tracking IS NOT NULL THEN 'both_tracking_submitted'::trade_status ELSE status END,
			    updated_at = now()
			WHERE id = $1 AND status = 'waiting_for_tracking' AND party_b_tracking IS NULL
			RETURNING ` + shipmentColumns
	default:
		return Shipment{}, fmt.Errorf("trade: submit tracking: unknown side %q", side)
	}

	sh, err := scanShipment(tx.QueryRow(ctx, query, id, tracking))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shipment{}, r.classifyTracking(ctx, tx, id, side)
		}
		return Shipment{}, fmt.Errorf("trade: submit tracking: %w", err)
	}
	return sh, nil
}

// ConfirmDelivery records one side's delivery confirmation. Both sides
// confirmed completes the swap in the same statement.
func (r *PGRepository) ConfirmDelivery(ctx context.Context, tx pgx.Tx, id string, side Side) (Shipment, error) {
	var query string
	switch side {
	case SideA:
		query = `
			UPDATE trade_shipments
			SET party_a_confirmed = true,
			    status = CASE WHEN party_b_confirmed THEN 'completed'::trade_status ELSE status END,
			    updated_at = now()
			WHERE id = $1 AND status = 'both_tracking_submitted'
			RETURNING ` + shipmentColumns
	case SideB:
		query = `
			UPDATE trade_shipments
			SET party_b_confirmed = true,
			    status = CASE WHEN party_a_confirmed THEN 'completed'::trade_status ELSE status END,
			    updated_at = now()
			WHERE id = $1 AND status = 'both_tracking_submitted'
			RETURNING ` + shipmentColumns
	default:
		return Shipment{}, fmt.Errorf("trade: confirm delivery: unknown side %q", side)
	}

	sh, err := scanShipment(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shipment{}, r.classify(ctx, tx, id)
		}
		return Shipment{}, fmt.Errorf("trade: confirm delivery: %w", err)
	}
	return sh, nil
}

// ForfeitDue forfeits every live swap past its deadline and blames the
// slower side: whoever never shipped, or failing that whoever never
// confirmed. Called by the sweep inside its own transaction.
func (r *PGRepository) ForfeitDue(ctx context.Context, tx pgx.Tx, now time.Time) ([]Shipment, error) {
	const query = `
		UPDATE trade_shipments
		SET status = 'forfeited',
		    forfeited_party = CASE
		        WHEN party_a_tracking IS NULL THEN party_a_email
		        WHEN party_b_tracking IS NULL THEN party_b_email
		        WHEN NOT party_a_confirmed THEN party_a_email
		        ELSE party_b_email
		    END,
		    updated_at = now()
		WHERE status IN ('awaiting_variant', 'waiting_for_tracking', 'both_tracking_submitted')
		  AND deadline < $1
		RETURNING ` + shipmentColumns

	rows, err := tx.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("trade: forfeit due: %w", err)
	}
	defer rows.Close()

	out := make([]Shipment, 0, 8)
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("trade: scan forfeited: %w", err)
		}
		out = append(out, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trade: iterate forfeited: %w", err)
	}
	return out, nil
}

func (r *PGRepository) classify(ctx context.Context, tx pgx.Tx, id string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status::text FROM trade_shipments WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("trade: classify: %w", err)
	}
	return ErrBadStatus
}

func (r *PGRepository) classifyTracking(ctx context.Context, tx pgx.Tx, id string, side Side) error {
	var status string
	var aTracking, bTracking *string
	err := tx.QueryRow(ctx,
		`SELECT status::text, party_a_tracking, party_b_tracking FROM trade_shipments WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status, &aTracking, &bTracking)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("trade: classify tracking: %w", err)
	}
	if side == SideA && aTracking != nil {
		return ErrAlreadySubmitted
	}
	if side == SideB && bTracking != nil {
		return ErrAlreadySubmitted
	}
	return ErrBadStatus
}

func scanShipment(row pgx.Row) (Shipment, error) {
	var sh Shipment
	err := row.Scan(
		&sh.ID,
		&sh.ConversationID,
		&sh.Variant,
		&sh.PartyAEmail,
		&sh.PartyBEmail,
		&sh.PartyATracking,
		&sh.PartyBTracking,
		&sh.PartyAConfirmed,
		&sh.PartyBConfirmed,
		&sh.Status,
		&sh.Deadline,
		&sh.ForfeitedParty,
		&sh.CreatedAt,
		&sh.UpdatedAt,
	)
	return sh, err
}

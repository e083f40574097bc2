package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Sender is the external delivery channel (SMTP relay, push gateway).
type Sender interface {
	Send(ctx context.Context, toEmail, templateID string, payload []byte) error
}

const (
	maxAttempts = 8
	baseBackoff = 30 * time.Second
	maxBackoff  = 6 * time.Hour
	drainBatch  = 50
)

// Dispatcher drains the outbox and hands messages to the Sender. Failures
// are rescheduled with exponential backoff and dropped to 'failed' after
// maxAttempts; they never surface to domain code.
type Dispatcher struct {
	pool   *pgxpool.Pool
	sender Sender
	log    *zap.Logger
	every  time.Duration
}

func NewDispatcher(pool *pgxpool.Pool, sender Sender, log *zap.Logger, every time.Duration) *Dispatcher {
	if every <= 0 {
		every = 5 * time.Second
	}
	return &Dispatcher{pool: pool, sender: sender, log: log, every: every}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.DrainOnce(ctx); err != nil {
				d.log.Warn("outbox drain failed", zap.Error(err))
			}
		}
	}
}

// DrainOnce claims a batch of due messages and attempts delivery. SKIP LOCKED
// keeps multiple dispatcher instances from double-sending.
func (d *Dispatcher) DrainOnce(ctx context.Context) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("notify: begin drain tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, recipient, template_id, payload, attempts
		FROM outbox
		WHERE status = 'pending' AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, drainBatch)
	if err != nil {
		return fmt.Errorf("notify: claim batch: %w", err)
	}

	msgs := make([]Message, 0, drainBatch)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Recipient, &m.TemplateID, &m.Payload, &m.Attempts); err != nil {
			rows.Close()
			return fmt.Errorf("notify: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("notify: iterate batch: %w", err)
	}

	for _, m := range msgs {
		if err := d.deliver(ctx, tx, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("notify: commit drain: %w", err)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, tx pgx.Tx, m Message) error {
	sendErr := d.sender.Send(ctx, m.Recipient, m.TemplateID, m.Payload)
	if sendErr == nil {
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'sent' WHERE id = $1`, m.ID); err != nil {
			return fmt.Errorf("notify: mark sent: %w", err)
		}
		return nil
	}

	attempts := m.Attempts + 1
	if attempts >= maxAttempts {
		d.log.Error("notification dropped after max attempts",
			zap.String("id", m.ID),
			zap.String("template", m.TemplateID),
			zap.Error(sendErr))
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'failed', attempts = $2 WHERE id = $1`, m.ID, attempts); err != nil {
			return fmt.Errorf("notify: mark failed: %w", err)
		}
		return nil
	}

	d.log.Warn("notification delivery failed, rescheduling",
		zap.String("id", m.ID),
		zap.Int("attempts", attempts),
		zap.Error(sendErr))
	if _, err := tx.Exec(ctx, `
		UPDATE outbox SET attempts = $2, next_attempt_at = now() + $3::interval WHERE id = $1
	`, m.ID, attempts, backoff(attempts).String()); err != nil {
		return fmt.Errorf("notify: reschedule: %w", err)
	}
	return nil
}

func backoff(attempts int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

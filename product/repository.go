package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested product does not exist.
	ErrNotFound = errors.New("product: not found")
	// ErrUnavailable signals the product is not active; the caller lost the
	// race or the listing was already sold.
	ErrUnavailable = errors.New("product: no longer available")
	// ErrShippingOptionNotFound signals an unknown shipping option id.
	ErrShippingOptionNotFound = errors.New("product: shipping option not found")
)

// Repository provides listing reads and the atomic availability transitions
// the escrow flow depends on.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a product by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Product, error) {
	const query = `
		SELECT id, seller_email, title, price, status::text, negotiable, created_at, updated_at
		FROM products
		WHERE id = $1
	`
	var p Product
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.SellerEmail, &p.Title, &p.Price, &p.Status, &p.Negotiable, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("product: query by id: %w", err)
	}
	return p, nil
}

// Reserve atomically flips an active listing to reserved inside the caller's
// transaction. When two buyers race, exactly one UPDATE matches; the loser
// gets ErrUnavailable.
func (r *Repository) Reserve(ctx context.Context, tx pgx.Tx, id string) (Product, error) {
	return r.transition(ctx, tx, id, StatusActive, StatusReserved)
}

// Release puts a reserved listing back on the market (cancelled sale).
func (r *Repository) Release(ctx context.Context, tx pgx.Tx, id string) (Product, error) {
	return r.transition(ctx, tx, id, StatusReserved, StatusActive)
}

// MarkSold finalizes a reserved listing once its sale settles.
func (r *Repository) MarkSold(ctx context.Context, tx pgx.Tx, id string) (Product, error) {
	return r.transition(ctx, tx, id, StatusReserved, StatusSold)
}

func (r *Repository) transition(ctx context.Context, tx pgx.Tx, id string, from, to Status) (Product, error) {
	const query = `
		UPDATE products
		SET status = $3::product_status, updated_at = now()
		WHERE id = $1 AND status = $2::product_status
		RETURNING id, seller_email, title, price, status::text, negotiable, created_at, updated_at
	`
	var p Product
	err := tx.QueryRow(ctx, query, id, from, to).Scan(
		&p.ID, &p.SellerEmail, &p.Title, &p.Price, &p.Status, &p.Negotiable, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrUnavailable
		}
		return Product{}, fmt.Errorf("product: transition %s -> %s: %w", from, to, err)
	}
	return p, nil
}

// GetShippingOption fetches one carrier option.
func (r *Repository) GetShippingOption(ctx context.Context, id string) (ShippingOption, error) {
	const query = `
		SELECT id, carrier, price, margin
		FROM shipping_options
		WHERE id = $1
	`
	var opt ShippingOption
	err := r.pool.QueryRow(ctx, query, id).Scan(&opt.ID, &opt.Carrier, &opt.Price, &opt.Margin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ShippingOption{}, ErrShippingOptionNotFound
		}
		return ShippingOption{}, fmt.Errorf("product: query shipping option: %w", err)
	}
	return opt, nil
}

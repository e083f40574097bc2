package product

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status tracks a listing's availability for sale.
type Status string

const (
	// StatusActive means the listing can be bought or receive offers.
	StatusActive Status = "active"
	// StatusReserved means a live escrow transaction holds the item.
	StatusReserved Status = "reserved"
	// StatusSold is terminal: the sale settled.
	StatusSold Status = "sold"
)

// Product mirrors the products table.
type Product struct {
	ID          string
	SellerEmail string
	Title       string
	Price       decimal.Decimal
	Status      Status
	Negotiable  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ShippingOption is a carrier choice presented at checkout. Margin is the
// platform's cut of the shipping price.
type ShippingOption struct {
	ID      string
	Carrier string
	Price   decimal.Decimal
	Margin  decimal.Decimal
}

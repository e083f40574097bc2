package escrow

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the sale lifecycle. Linear with one branch: cancelled is
// reachable from pending or paid only, before goods leave the seller.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the sale reached a final status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Transaction mirrors the escrow_transactions table.
//
// Numeric invariants, checked by tests and held by construction in Open:
//
//	total_price   = item_price + shipping_price + buyer_protection_fee - discount (clamped >= 0)
//	platform_fee  = buyer_protection_fee + shipping_margin
//	seller_payout = item_price
type Transaction struct {
	ID                 string
	ProductID          string
	BuyerEmail         string
	SellerEmail        string
	ItemPrice          decimal.Decimal
	BuyerProtectionFee decimal.Decimal
	ShippingPrice      decimal.Decimal
	ShippingMargin     decimal.Decimal
	PlatformFee        decimal.Decimal
	Discount           decimal.Decimal
	TotalPrice         decimal.Decimal
	SellerPayout       decimal.Decimal
	Status             Status
	ShippingDeadline   time.Time
	DisputeDeadline    *time.Time
	TrackingNumber     *string
	PaymentRef         *string
	ShippingOverdue    bool
	ShippedAt          *time.Time
	DeliveredAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Discount is a promotional code applied at checkout.
type Discount struct {
	Code        string
	Amount      decimal.Decimal
	MinPurchase decimal.Decimal
	ProductID   *string
}

// AppliesTo reports whether the discount may be used for the given listing
// and item price.
func (d Discount) AppliesTo(productID string, itemPrice decimal.Decimal) bool {
	if itemPrice.LessThan(d.MinPurchase) {
		return false
	}
	if d.ProductID != nil && *d.ProductID != productID {
		return false
	}
	return true
}

package escrow

import (
	"time"

	"github.com/shopspring/decimal"

	"marketflow/money"
)

// FeePolicy carries the deployment-wide pricing constants. The same policy
// instance prices every checkout, so two transactions opened the same day
// for the same cart always cost the same.
type FeePolicy struct {
	ProtectionFixedFee   decimal.Decimal
	ProtectionRate       decimal.Decimal
	ShippingDeadlineDays int // business days until the seller must ship
	DisputeWindowDays    int // calendar days after delivery to file a claim
}

// DefaultFeePolicy matches the marketplace launch pricing.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		ProtectionFixedFee:   decimal.NewFromFloat(1.00),
		ProtectionRate:       decimal.NewFromFloat(0.05),
		ShippingDeadlineDays: 5,
		DisputeWindowDays:    2,
	}
}

// ProtectionFee computes the buyer protection surcharge:
// fixed_fee + price * protection_rate, rounded half-up to cents.
func (p FeePolicy) ProtectionFee(itemPrice decimal.Decimal) decimal.Decimal {
	return money.Cents(p.ProtectionFixedFee.Add(itemPrice.Mul(p.ProtectionRate)))
}

// Total computes what the buyer pays, clamped at zero so an oversized
// discount never produces a negative charge.
func (p FeePolicy) Total(itemPrice, shippingPrice, protectionFee, discount decimal.Decimal) decimal.Decimal {
	return money.ClampZero(itemPrice.Add(shippingPrice).Add(protectionFee).Sub(discount))
}

// ShippingDeadline adds the policy's business-day window to now, skipping
// Saturdays and Sundays.
func (p FeePolicy) ShippingDeadline(now time.Time) time.Time {
	return AddBusinessDays(now, p.ShippingDeadlineDays)
}

// DisputeDeadline is calendar days: buyers get the weekend too.
func (p FeePolicy) DisputeDeadline(deliveredAt time.Time) time.Time {
	return deliveredAt.AddDate(0, 0, p.DisputeWindowDays)
}

// AddBusinessDays advances t by n weekdays.
func AddBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return t
}

package trade

import "time"

// Status is the lifecycle of a two-sided barter shipment.
type Status string

const (
	StatusAwaitingVariant       Status = "awaiting_variant"
	StatusWaitingForTracking    Status = "waiting_for_tracking"
	StatusBothTrackingSubmitted Status = "both_tracking_submitted"
	StatusCompleted             Status = "completed"
	StatusForfeited             Status = "forfeited"
)

// Terminal reports whether the shipment reached a final status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusForfeited
}

// Variant selects how the swap ships.
type Variant string

const (
	// VariantDirectTracking means the parties ship to each other directly.
	VariantDirectTracking Variant = "direct_tracking"
	// VariantFulfillment routes both parcels through the platform's
	// fulfillment partner for inspection.
	VariantFulfillment Variant = "fulfillment"
)

// Side distinguishes the two parties of a swap.
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

// Shipment mirrors the trade_shipments table. No money moves in a trade;
// the only currency is tracking numbers and delivery confirmations, and the
// deadline is what keeps both sides honest.
type Shipment struct {
	ID              string
	ConversationID  string
	Variant         *Variant
	PartyAEmail     string
	PartyBEmail     string
	PartyATracking  *string
	PartyBTracking  *string
	PartyAConfirmed bool
	PartyBConfirmed bool
	Status          Status
	Deadline        time.Time
	ForfeitedParty  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SideOf maps a caller email onto a side of the swap, or "" for outsiders.
func (s Shipment) SideOf(email string) Side {
	switch email {
	case s.PartyAEmail:
		return SideA
	case s.PartyBEmail:
		return SideB
	default:
		return ""
	}
}

// OtherEmail returns the counterparty's email.
func (s Shipment) OtherEmail(side Side) string {
	if side == SideA {
		return s.PartyBEmail
	}
	return s.PartyAEmail
}

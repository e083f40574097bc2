package dispute

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a buyer-protection claim.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// Outcome is the arbitrator's terminal decision. seller_wins and rejected
// have identical balance effects; they stay distinct for audit and
// reporting (an adjudicated loss vs. an invalid claim).
type Outcome string

const (
	OutcomeBuyerWins  Outcome = "buyer_wins"
	OutcomeSellerWins Outcome = "seller_wins"
	OutcomeRejected   Outcome = "rejected"
)

// Record mirrors the disputes table. Outcome is set iff Status is resolved.
type Record struct {
	ID              string
	TransactionID   string
	BuyerEmail      string
	SellerEmail     string
	Reason          string
	Description     string
	EvidenceImages  []string
	Status          Status
	Outcome         *Outcome
	RefundAmount    *decimal.Decimal
	KeepProduct     bool
	ResolutionNotes *string
	ResolvedAt      *time.Time
	ResolvedBy      *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

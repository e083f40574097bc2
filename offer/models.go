package offer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a price offer.
type Status string

const (
	StatusOpen      Status = "open"
	StatusCountered Status = "countered"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusExpired
}

// Party identifies which side of the deal acted.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
)

// Other returns the counterparty.
func (p Party) Other() Party {
	if p == PartyBuyer {
		return PartySeller
	}
	return PartyBuyer
}

// Offer mirrors the offers table. The alternation rule hangs off
// LastActionBy: only the party that did NOT act last may respond.
type Offer struct {
	ID            string
	ProductID     string
	BuyerEmail    string
	SellerEmail   string
	OriginalPrice decimal.Decimal
	ProposedPrice decimal.Decimal
	CounterPrice  *decimal.Decimal
	AgreedPrice   *decimal.Decimal
	Status        Status
	LastActionBy  Party
	CreatedAt     time.Time
	ExpiresAt     time.Time
	UpdatedAt     time.Time
}

// PartyOf maps a caller email onto a deal side, or "" when the caller is
// not part of this offer.
func (o Offer) PartyOf(email string) Party {
	switch email {
	case o.BuyerEmail:
		return PartyBuyer
	case o.SellerEmail:
		return PartySeller
	default:
		return ""
	}
}

// OtherEmail returns the counterparty's email for a given side.
func (o Offer) OtherEmail(p Party) string {
	if p == PartyBuyer {
		return o.SellerEmail
	}
	return o.BuyerEmail
}

// CurrentPrice is the price on the table: the latest counter, or the
// buyer's proposal when nobody has countered yet.
func (o Offer) CurrentPrice() decimal.Decimal {
	if o.CounterPrice != nil {
		return *o.CounterPrice
	}
	return o.ProposedPrice
}

package participation

import (
	"strconv"
	"time"
)

// Status of a participation.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusRejected  Status = "REJECTED"
)

// SlotsLimit is how many live referrals one referrer cycle may hold.
const SlotsLimit = 3

// Decision is an admin verdict on a pending participation.
type Decision string

const (
	DecisionConfirm Decision = "confirm"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts the verdict names used by admin clients.
func ParseDecision(s string) (Decision, bool) {
	switch s {
	case "confirm", "confirmed", "CONFIRMED", "approve":
		return DecisionConfirm, true
	case "reject", "rejected", "REJECTED":
		return DecisionReject, true
	}
	return "", false
}

// Participation is one user's cycle: intent, payment, admin decision, and
// eventually a payout that closes it.
type Participation struct {
	ID                      int64      `json:"id" db:"id"`
	UserID                  int64      `json:"user_id" db:"user_id"`
	ReferrerTelegramID      *int64     `json:"referrer_telegram_id,omitempty" db:"referrer_telegram_id"`
	ReferrerParticipationID *int64     `json:"referrer_participation_id,omitempty" db:"referrer_participation_id"`
	AuthorCode              *string    `json:"author_code,omitempty" db:"author_code"`
	Status                  Status     `json:"status" db:"status"`
	AmountCents             int64      `json:"amount_cents" db:"amount_cents"`
	TxHash                  *string    `json:"tx_hash,omitempty" db:"tx_hash"`
	ChainVerified           bool       `json:"chain_verified" db:"chain_verified"`
	ChainTxHash             *string    `json:"chain_tx_hash,omitempty" db:"chain_tx_hash"`
	ChainSender             *string    `json:"chain_sender,omitempty" db:"chain_sender"`
	CreatedAt               time.Time  `json:"created_at" db:"created_at"`
	ValidUntil              time.Time  `json:"valid_until" db:"valid_until"`
	DecidedAt               *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	DecidedBy               *string    `json:"decided_by,omitempty" db:"decided_by"`
	ClosedAt                *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// ChainPayment is the on-chain transfer found for a participation's payment
// comment. TxHash is the receiver's transaction, which rarely equals the hash
// the user submitted.
type ChainPayment struct {
	TxHash string
	Sender string
}

// SetPayment records the submitted hash and, when found, the matching
// on-chain transfer.
func (p *Participation) SetPayment(txHash string, chain *ChainPayment) {
	p.TxHash = &txHash
	p.ChainVerified = chain != nil
	p.ChainTxHash, p.ChainSender = nil, nil
	if chain == nil {
		return
	}
	h := chain.TxHash
	p.ChainTxHash = &h
	if chain.Sender != "" {
		sender := chain.Sender
		p.ChainSender = &sender
	}
}

// Active reports whether p blocks a new cycle for its user.
func (p *Participation) Active() bool {
	if p == nil || p.ClosedAt != nil {
		return false
	}
	switch p.Status {
	case StatusNew, StatusPending, StatusConfirmed:
		return true
	}
	return false
}

// Decidable reports whether an admin may still confirm or reject p.
func (p *Participation) Decidable() bool {
	return p != nil && (p.Status == StatusNew || p.Status == StatusPending)
}

// Comment is the payment comment correlating an on-chain transfer with p.
func Comment(prefix string, id int64) string {
	return prefix + ":" + strconv.FormatInt(id, 10)
}

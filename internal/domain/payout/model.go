package payout

import (
	"context"
	"time"
)

// Status of a payout request.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusSent     Status = "SENT"
	StatusRejected Status = "REJECTED"
)

// Decision is an admin settlement verdict.
type Decision string

const (
	DecisionSent   Decision = "sent"
	DecisionReject Decision = "reject"
)

// ParseDecision defaults an empty decision to sent.
func ParseDecision(s string) (Decision, bool) {
	switch s {
	case "", "sent", "SENT", "mark_sent":
		return DecisionSent, true
	case "reject", "rejected", "REJECTED":
		return DecisionReject, true
	}
	return "", false
}

// Request is a user's payout request for one confirmed cycle.
type Request struct {
	ID              int64      `json:"id" db:"id"`
	UserID          int64      `json:"user_id" db:"user_id"`
	ParticipationID int64      `json:"participation_id" db:"participation_id"`
	AmountCents     int64      `json:"amount_cents" db:"amount_cents"`
	Status          Status     `json:"status" db:"status"`
	TxHash          *string    `json:"tx_hash,omitempty" db:"tx_hash"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	DecidedBy       *string    `json:"decided_by,omitempty" db:"decided_by"`
}

// Repository defines persistence operations for payout requests.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Request, error)
	GetOpen(ctx context.Context, userID int64) (*Request, error)
	Create(ctx context.Context, r *Request) error
	// Settle moves an OPEN request to status, reporting false when it was not open.
	Settle(ctx context.Context, id int64, status Status, txHash *string, decidedBy string, at time.Time) (bool, error)
	ListOpen(ctx context.Context, limit int) ([]*Request, error)
}

// Package events publishes domain events for audit and notifications.
// Publishing is best effort and never fails the calling operation.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Type string

const (
	ParticipationCreated Type = "participation.created"
	PaymentSubmitted     Type = "payment.submitted"
	ParticipationDecided Type = "participation.decided"
	PayoutRequested      Type = "payout.requested"
	PayoutSettled        Type = "payout.settled"
	RiskDetected         Type = "risk.detected"
)

// Event is one audited state change or rejected attempt.
type Event struct {
	Type            Type      `json:"type"`
	UserID          int64     `json:"user_id,omitempty"`
	ParticipationID int64     `json:"participation_id,omitempty"`
	PayoutID        int64     `json:"payout_id,omitempty"`
	Status          string    `json:"status,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Actor           string    `json:"actor,omitempty"`
	At              time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	p.log.Info().
		Str("event", string(e.Type)).
		Int64("user_id", e.UserID).
		Int64("participation_id", e.ParticipationID).
		Int64("payout_id", e.PayoutID).
		Str("status", e.Status).
		Str("reason", e.Reason).
		Str("actor", e.Actor).
		Time("at", e.At).
		Msg("domain event")
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists recorded event types in order.
func (r *Recorder) Types() []Type {
	evs := r.Events()
	out := make([]Type, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

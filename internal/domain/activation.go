package domain

import (
	"context"
	"time"
)

// Outcome describes how an activation ended.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeCreationFailed Outcome = "creation_failed"
	OutcomeChannelError   Outcome = "channel_error"
	OutcomeNavigatedAway  Outcome = "navigated_away"
	OutcomeSuperseded     Outcome = "superseded"
	OutcomeShutdown       Outcome = "shutdown"
)

// Activation is one user-initiated use of the assistant, from click to idle.
type Activation struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	SessionID   string    `json:"session_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Outcome     Outcome   `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	Messages    int       `json:"messages"`
	Transitions int       `json:"transitions"`
}

// Duration is the wall time the activation lasted.
func (a Activation) Duration() time.Duration {
	if a.EndedAt.IsZero() {
		return 0
	}
	return a.EndedAt.Sub(a.StartedAt)
}

// ActivationStore persists finished activations.
type ActivationStore interface {
	Record(ctx context.Context, a Activation) error
	List(ctx context.Context, limit int) ([]Activation, error)
	ListByDocument(ctx context.Context, documentID string, limit int) ([]Activation, error)
	Close() error
}

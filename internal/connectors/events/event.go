// Package events records structured failure events from uploads and
// analysis batches to durable or broadcast sinks.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeFetchFailed  = "fetch_failed"
	TypeUploadFailed = "upload_failed"
	TypeBatchDone    = "batch_completed"
)

// Event is one structured failure or completion record.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	BatchID    string    `json:"batch_id,omitempty"`
	Position   int       `json:"position"`
	Endpoint   string    `json:"endpoint,omitempty"`
	Cause      string    `json:"cause,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink stores or forwards events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}

// Multi fans every event out to all sinks and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// stamp fills ID and OccurredAt when unset.
func stamp(ev Event) Event {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return ev
}

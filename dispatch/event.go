// Package dispatch implements the event-handling framework: a worker pool
// that drives each inbound catalog change event through a small state
// machine (RECEIVED, VALIDATING, PROCESSING, APPLYING, COMPLETED) with
// idempotent completion, bounded retry with exponential backoff and jitter,
// and terminal SKIPPED / PERMANENTLY_FAILED outcomes that are always surfaced
// to the submitter, never dropped.
//
// Consistency Model:
//   - The idempotency store gives at-most-once effective processing under
//     at-least-once delivery, except for the window between the last mutation
//     being accepted by the catalog and the completion mark being written. A
//     crash there replays the event; handler mutations should be idempotent
//     at the catalog level to tolerate that documented window.
//   - Cache invalidation for an event happens only after all of its mutations
//     have been accepted, so a still-in-flight write can never repopulate the
//     cache with itself.
//   - No cross-event mutual exclusion per entity: two events touching the
//     same entity may be processed concurrently by different workers. Callers
//     needing per-entity ordering must serialize upstream.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Event is one inbound catalog change notification. It is a value object:
// never mutated after receipt. ID is the idempotency key.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Validate checks the event envelope is well-formed.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("event id is required")
	}
	if e.Type == "" {
		return errors.New("event type is required")
	}
	return nil
}

// State enumerates the per-event state machine.
type State string

const (
	StateReceived          State = "RECEIVED"
	StateValidating        State = "VALIDATING"
	StateProcessing        State = "PROCESSING"
	StateApplying          State = "APPLYING"
	StateRetryScheduled    State = "RETRY_SCHEDULED"
	StateCompleted         State = "COMPLETED"
	StateSkipped           State = "SKIPPED"
	StatePermanentlyFailed State = "PERMANENTLY_FAILED"
)

// Status is the terminal classification reported to the submitter.
type Status string

const (
	StatusCompleted         Status = "COMPLETED"
	StatusSkipped           Status = "SKIPPED"
	StatusPermanentlyFailed Status = "PERMANENTLY_FAILED"
)

// Outcome is the terminal result of processing one event.
type Outcome struct {
	Status   Status `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Attempts int    `json:"attempts"`

	// Duplicate is set when the idempotency store had already recorded the
	// event as completed, so the handler was not invoked again.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Record is the processing record kept per event: the attempt counter and
// retry schedule live here, not on the event value itself.
type Record struct {
	RecordID      string    `json:"recordId"`
	EventID       string    `json:"eventId"`
	EventType     string    `json:"eventType"`
	State         State     `json:"state"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"lastError,omitempty"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ErrShutdown resolves tickets for events the dispatcher could not finish
// before stopping. The event was not marked completed, so an at-least-once
// source will redeliver it.
var ErrShutdown = errors.New("dispatch: dispatcher shut down before event completed")

// Ticket is the submitter's handle on one event's outcome.
type Ticket struct {
	eventID string
	done    chan struct{}
	outcome Outcome
	err     error
}

func newTicket(eventID string) *Ticket {
	return &Ticket{eventID: eventID, done: make(chan struct{})}
}

// EventID returns the id of the submitted event.
func (t *Ticket) EventID() string { return t.eventID }

// Done is closed once the outcome is available.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Outcome blocks until the event reaches a terminal state.
func (t *Ticket) Outcome() (Outcome, error) {
	<-t.done
	return t.outcome, t.err
}

// Wait is Outcome bounded by ctx.
func (t *Ticket) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, t.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (t *Ticket) resolve(o Outcome, err error) {
	t.outcome = o
	t.err = err
	close(t.done)
}

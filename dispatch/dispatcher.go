package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/catalog-sdk/catalog"
	"github.com/example/catalog-sdk/refcache"
)

// Config tunes the dispatcher. The zero value gets defaults from New.
type Config struct {
	Workers     int           // parallel event workers, default 4
	QueueSize   int           // buffered submissions, default 256
	MaxAttempts int           // process attempts before PERMANENTLY_FAILED, default 5
	BackoffBase time.Duration // first retry delay, default 200ms
	BackoffMax  time.Duration // retry delay cap, default 30s
	StepTimeout time.Duration // per validate/process/apply/store call, default 30s
	RecordLimit int           // processing records retained for inspection, default 1024
	Logger      *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Second
	}
	if c.RecordLimit <= 0 {
		c.RecordLimit = 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type task struct {
	event  Event
	ticket *Ticket
}

// Dispatcher drives inbound events through the state machine described in
// the package doc. Construct with New, Start once, Submit from any number of
// goroutines, Shutdown when done.
type Dispatcher struct {
	cfg      Config
	registry *Registry
	resolver *refcache.Resolver
	applier  catalog.MutationApplier
	store    IdempotencyStore
	backoff  Backoff

	queue    chan *task
	records  *recordIndex
	stopChan chan struct{}
	wg       sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New wires a dispatcher. store may be nil, in which case an in-process
// MemoryStore is owned by the dispatcher; at-most-once semantics then do not
// survive a restart.
func New(registry *Registry, resolver *refcache.Resolver, applier catalog.MutationApplier, store IdempotencyStore, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	if store == nil {
		store = NewMemoryStore()
	}
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		resolver: resolver,
		applier:  applier,
		store:    store,
		backoff:  Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
		queue:    make(chan *task, cfg.QueueSize),
		records:  newRecordIndex(cfg.RecordLimit),
		stopChan: make(chan struct{}),
	}
}

// Start launches the worker pool. Safe to call once; subsequent calls are
// no-ops.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.runWorker()
		}
	})
}

// Submit enqueues an event and returns the ticket carrying its eventual
// outcome. Blocks while the queue is full, bounded by ctx.
//
// Two events referencing the same entity may be processed concurrently by
// different workers; callers needing per-entity ordering must serialize
// before submitting.
func (d *Dispatcher) Submit(ctx context.Context, e Event) (*Ticket, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch: invalid event: %w", err)
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}

	// Reject deterministically once shutdown has begun, even if the queue
	// still has room.
	select {
	case <-d.stopChan:
		return nil, ErrShutdown
	default:
	}

	t := &task{event: e, ticket: newTicket(e.ID)}
	d.records.create(e)

	select {
	case d.queue <- t:
		return t.ticket, nil
	case <-d.stopChan:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Record returns the processing record for eventID, if still retained.
func (d *Dispatcher) Record(eventID string) (Record, bool) {
	return d.records.get(eventID)
}

// Records returns the retained processing records, newest first.
func (d *Dispatcher) Records() []Record {
	return d.records.list()
}

// Shutdown stops the workers and resolves any queued-but-unprocessed tickets
// with ErrShutdown. Bounded by ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stopChan) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		d.drainQueue()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) drainQueue() {
	for {
		select {
		case t := <-d.queue:
			d.records.update(t.event.ID, func(r *Record) {
				r.State = StateReceived
				r.LastError = ErrShutdown.Error()
			})
			t.ticket.resolve(Outcome{}, ErrShutdown)
		default:
			return
		}
	}
}

func (d *Dispatcher) runWorker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopChan:
			return
		case t := <-d.queue:
			d.process(t)
		}
	}
}

// process runs one event to a terminal state. Every exit path resolves the
// ticket: terminal outcomes are reported, never dropped.
func (d *Dispatcher) process(t *task) {
	ev := t.event
	log := d.cfg.Logger.With("eventId", ev.ID, "eventType", ev.Type)
	started := time.Now()

	finish := func(state State, o Outcome, err error) {
		d.records.update(ev.ID, func(r *Record) {
			r.State = state
			r.Attempts = o.Attempts
			if o.Detail != "" {
				r.LastError = o.Detail
			}
		})
		if err == nil {
			eventsTotal.WithLabelValues(string(o.Status)).Inc()
		}
		processingDuration.Observe(time.Since(started).Seconds())
		t.ticket.resolve(o, err)
	}

	// Idempotency gate: a completed event short-circuits without re-invoking
	// the handler.
	done, err := d.isCompleted(ev.ID)
	if err != nil {
		log.Warn("idempotency lookup failed, treating event as new", "error", err)
	}
	if done {
		duplicatesTotal.Inc()
		log.Info("duplicate event suppressed")
		finish(StateCompleted, Outcome{Status: StatusCompleted, Duplicate: true}, nil)
		return
	}

	handler, ok := d.registry.Lookup(ev.Type)
	if !ok {
		log.Info("event skipped", "reason", "no handler registered")
		finish(StateSkipped, Outcome{
			Status: StatusSkipped,
			Detail: fmt.Sprintf("no handler registered for event type %q", ev.Type),
		}, nil)
		return
	}

	// VALIDATING. Any validation error is a skip signal, not a failure.
	d.records.update(ev.ID, func(r *Record) { r.State = StateValidating })
	if err := d.validate(handler, ev); err != nil {
		log.Info("event skipped", "reason", err)
		finish(StateSkipped, Outcome{Status: StatusSkipped, Detail: err.Error()}, nil)
		return
	}

	// PROCESSING / APPLYING with bounded retry.
	for attempt := 1; ; attempt++ {
		d.records.update(ev.ID, func(r *Record) {
			r.State = StateProcessing
			r.Attempts = attempt
			r.NextAttemptAt = time.Time{}
		})

		err := d.attempt(handler, ev)
		if err == nil {
			log.Info("event completed", "attempts", attempt)
			finish(StateCompleted, Outcome{Status: StatusCompleted, Attempts: attempt}, nil)
			return
		}

		if !catalog.IsTransient(err) {
			log.Error("event permanently failed", "attempts", attempt, "error", err)
			finish(StatePermanentlyFailed, Outcome{
				Status:   StatusPermanentlyFailed,
				Detail:   err.Error(),
				Attempts: attempt,
			}, nil)
			return
		}
		if attempt >= d.cfg.MaxAttempts {
			log.Error("event permanently failed, retries exhausted",
				"attempts", attempt, "error", err)
			finish(StatePermanentlyFailed, Outcome{
				Status:   StatusPermanentlyFailed,
				Detail:   fmt.Sprintf("retries exhausted after %d attempts: %v", attempt, err),
				Attempts: attempt,
			}, nil)
			return
		}

		delay := d.backoff.Delay(attempt)
		retriesTotal.Inc()
		d.records.update(ev.ID, func(r *Record) {
			r.State = StateRetryScheduled
			r.LastError = err.Error()
			r.NextAttemptAt = time.Now().Add(delay)
		})
		log.Warn("transient failure, retry scheduled",
			"attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-d.stopChan:
			timer.Stop()
			finish(StateRetryScheduled, Outcome{Attempts: attempt}, ErrShutdown)
			return
		}
	}
}

// attempt runs one PROCESSING → APPLYING pass.
func (d *Dispatcher) attempt(handler Handler, ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.StepTimeout)
	mutations, err := handler.Process(ctx, ev, d.resolver)
	cancel()
	if err != nil {
		return err
	}

	d.records.update(ev.ID, func(r *Record) { r.State = StateApplying })
	return d.apply(ev, mutations)
}

// apply submits every mutation, then, only after all of them are durably
// accepted, invalidates the affected cache entries and marks the event
// completed. Invalidating earlier could repopulate an entry from a write
// still in flight.
func (d *Dispatcher) apply(ev Event, mutations []catalog.Mutation) error {
	for _, m := range mutations {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.StepTimeout)
		err := d.applier.ApplyMutation(ctx, m)
		cancel()
		if err != nil {
			return fmt.Errorf("apply %s %s %q: %w", m.Op, m.TypeName, m.QualifiedName, err)
		}
	}

	for _, m := range mutations {
		switch {
		case m.GUID != "":
			d.resolver.Invalidate(m.TypeName, m.GUID)
		case m.QualifiedName != "":
			d.resolver.InvalidateQualifiedName(m.TypeName, m.QualifiedName)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.StepTimeout)
	defer cancel()
	if _, err := d.store.MarkCompleted(ctx, ev.ID); err != nil {
		// Mutations are already applied; a retry here replays the handler.
		// This is the documented at-least-once window.
		return &catalog.TransientError{Op: "markCompleted", Err: err}
	}
	return nil
}

func (d *Dispatcher) validate(handler Handler, ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.StepTimeout)
	defer cancel()
	return handler.ValidatePrerequisites(ctx, ev)
}

func (d *Dispatcher) isCompleted(eventID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.StepTimeout)
	defer cancel()
	return d.store.IsCompleted(ctx, eventID)
}

// recordIndex retains the most recent processing records for operator
// inspection, evicting oldest-first past the limit.
type recordIndex struct {
	mu    sync.Mutex
	limit int
	byID  map[string]*Record
	order []string
}

func newRecordIndex(limit int) *recordIndex {
	return &recordIndex{
		limit: limit,
		byID:  make(map[string]*Record),
	}
}

func (ri *recordIndex) create(e Event) {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	if _, exists := ri.byID[e.ID]; !exists {
		ri.order = append(ri.order, e.ID)
		for len(ri.order) > ri.limit {
			oldest := ri.order[0]
			ri.order = ri.order[1:]
			delete(ri.byID, oldest)
		}
	}
	ri.byID[e.ID] = &Record{
		RecordID:  uuid.New().String(),
		EventID:   e.ID,
		EventType: e.Type,
		State:     StateReceived,
		UpdatedAt: time.Now(),
	}
}

func (ri *recordIndex) update(eventID string, fn func(*Record)) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if r, ok := ri.byID[eventID]; ok {
		fn(r)
		r.UpdatedAt = time.Now()
	}
}

func (ri *recordIndex) get(eventID string) (Record, bool) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if r, ok := ri.byID[eventID]; ok {
		return *r, true
	}
	return Record{}, false
}

func (ri *recordIndex) list() []Record {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	out := make([]Record, 0, len(ri.order))
	for i := len(ri.order) - 1; i >= 0; i-- {
		if r, ok := ri.byID[ri.order[i]]; ok {
			out = append(out, *r)
		}
	}
	return out
}

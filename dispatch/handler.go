package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/catalog-sdk/catalog"
	"github.com/example/catalog-sdk/refcache"
)

// Handler is the pluggable unit for one category of inbound event. New event
// categories are added by implementing Handler and registering it, not by
// branching inside the dispatcher.
type Handler interface {
	// ValidatePrerequisites runs cheap, side-effect-free checks on the event
	// (payload shape, required fields). Any returned error is a signal to
	// skip the event, not a processing failure: the dispatcher records it
	// and moves the event to SKIPPED without retrying.
	ValidatePrerequisites(ctx context.Context, e Event) error

	// Process computes the catalog mutations the event calls for, resolving
	// referenced entities through the supplied resolver. It returns the
	// mutations without applying them: the dispatcher applies them and owns
	// the subsequent cache invalidation, keeping handlers free of cache
	// consistency concerns.
	Process(ctx context.Context, e Event, r *refcache.Resolver) ([]catalog.Mutation, error)
}

// Registry maps event types to their handlers. Registration is expected at
// startup; lookups are concurrent-safe.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds eventType to h. Double registration is a programming error
// and is rejected so a misconfigured agent fails loudly at startup.
func (r *Registry) Register(eventType string, h Handler) error {
	if eventType == "" {
		return fmt.Errorf("dispatch: empty event type")
	}
	if h == nil {
		return fmt.Errorf("dispatch: nil handler for %q", eventType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[eventType]; exists {
		return fmt.Errorf("dispatch: handler already registered for %q", eventType)
	}
	r.handlers[eventType] = h
	return nil
}

// Lookup returns the handler for eventType, if one is registered.
func (r *Registry) Lookup(eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventType]
	return h, ok
}

// Types lists the registered event types, sorted for stable output.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

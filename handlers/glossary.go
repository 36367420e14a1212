// Package handlers ships the built-in event handlers for the two change
// categories the agent consumes out of the box: glossary term lifecycle and
// classification assignment changes. Both follow the same shape: cheap
// payload validation up front, then mutation planning against the resolver,
// leaving application and cache invalidation to the dispatcher.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/catalog-sdk/catalog"
	"github.com/example/catalog-sdk/dispatch"
	"github.com/example/catalog-sdk/refcache"
)

// TypeGlossaryTerm is the catalog type name for glossary terms.
const TypeGlossaryTerm = "GlossaryTerm"

// Event types handled by TermLifecycleHandler.
const (
	EventTermCreated = "glossary.term.created"
	EventTermUpdated = "glossary.term.updated"
	EventTermDeleted = "glossary.term.deleted"
)

type termPayload struct {
	GUID          string `json:"guid"`
	QualifiedName string `json:"qualifiedName"`
	DisplayName   string `json:"displayName"`
	Description   string `json:"description"`
}

// TermLifecycleHandler turns glossary term lifecycle events into catalog
// mutations. Register it once per event type it handles.
type TermLifecycleHandler struct{}

func NewTermLifecycleHandler() *TermLifecycleHandler { return &TermLifecycleHandler{} }

// RegisterAll binds the handler to every term lifecycle event type.
func (h *TermLifecycleHandler) RegisterAll(r *dispatch.Registry) error {
	for _, et := range []string{EventTermCreated, EventTermUpdated, EventTermDeleted} {
		if err := r.Register(et, h); err != nil {
			return err
		}
	}
	return nil
}

func (h *TermLifecycleHandler) ValidatePrerequisites(_ context.Context, e dispatch.Event) error {
	var p termPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return &catalog.ValidationError{Reason: fmt.Sprintf("term payload: %v", err)}
	}
	if p.QualifiedName == "" {
		return &catalog.ValidationError{Reason: "term payload missing qualifiedName"}
	}
	switch e.Type {
	case EventTermCreated:
		if p.DisplayName == "" {
			return &catalog.ValidationError{Reason: "term create missing displayName"}
		}
	case EventTermUpdated, EventTermDeleted:
		if p.GUID == "" {
			return &catalog.ValidationError{Reason: "term payload missing guid"}
		}
	default:
		return &catalog.ValidationError{Reason: "unknown term event type " + e.Type}
	}
	return nil
}

func (h *TermLifecycleHandler) Process(ctx context.Context, e dispatch.Event, r *refcache.Resolver) ([]catalog.Mutation, error) {
	var p termPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, &catalog.PermanentError{Op: "term.decode", Err: err}
	}

	switch e.Type {
	case EventTermCreated:
		attrs, err := json.Marshal(map[string]string{
			"displayName": p.DisplayName,
			"description": p.Description,
		})
		if err != nil {
			return nil, &catalog.PermanentError{Op: "term.create", Err: err}
		}
		return []catalog.Mutation{{
			Op:            catalog.OpCreate,
			TypeName:      TypeGlossaryTerm,
			QualifiedName: p.QualifiedName,
			Attributes:    attrs,
		}}, nil

	case EventTermUpdated:
		// Resolve to the canonical qualified name: the catalog may have
		// renamed the term since the event was emitted.
		entry, err := r.GetByGUID(ctx, TypeGlossaryTerm, p.GUID)
		if err != nil {
			return nil, err
		}
		attrs, err := json.Marshal(map[string]string{
			"displayName": p.DisplayName,
			"description": p.Description,
		})
		if err != nil {
			return nil, &catalog.PermanentError{Op: "term.update", Err: err}
		}
		return []catalog.Mutation{{
			Op:            catalog.OpUpdate,
			TypeName:      TypeGlossaryTerm,
			GUID:          entry.GUID,
			QualifiedName: entry.QualifiedName,
			Attributes:    attrs,
		}}, nil

	case EventTermDeleted:
		entry, err := r.GetByGUID(ctx, TypeGlossaryTerm, p.GUID)
		if catalog.IsNotFound(err) {
			// Already gone; nothing to apply.
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []catalog.Mutation{{
			Op:            catalog.OpDelete,
			TypeName:      TypeGlossaryTerm,
			GUID:          entry.GUID,
			QualifiedName: entry.QualifiedName,
		}}, nil
	}

	return nil, &catalog.PermanentError{Op: "term.process", Err: fmt.Errorf("unhandled event type %q", e.Type)}
}

var _ dispatch.Handler = (*TermLifecycleHandler)(nil)

package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/catalog-sdk/catalog"
	"github.com/example/catalog-sdk/dispatch"
	"github.com/example/catalog-sdk/refcache"
)

// EventClassificationChanged is the event type for classification assignment
// changes on any catalog entity.
const EventClassificationChanged = "classification.changed"

type classificationPayload struct {
	EntityType    string   `json:"entityType"`
	EntityGUID    string   `json:"entityGuid"`
	QualifiedName string   `json:"qualifiedName"`
	Added         []string `json:"added"`
	Removed       []string `json:"removed"`
}

// ClassificationHandler applies classification additions and removals to the
// referenced entity. The payload may identify the entity by GUID or by
// qualified name; the resolver supplies the other half.
type ClassificationHandler struct{}

func NewClassificationHandler() *ClassificationHandler { return &ClassificationHandler{} }

func (h *ClassificationHandler) ValidatePrerequisites(_ context.Context, e dispatch.Event) error {
	var p classificationPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return &catalog.ValidationError{Reason: fmt.Sprintf("classification payload: %v", err)}
	}
	if p.EntityType == "" {
		return &catalog.ValidationError{Reason: "classification payload missing entityType"}
	}
	if p.EntityGUID == "" && p.QualifiedName == "" {
		return &catalog.ValidationError{Reason: "classification payload needs entityGuid or qualifiedName"}
	}
	if len(p.Added) == 0 && len(p.Removed) == 0 {
		return &catalog.ValidationError{Reason: "classification payload changes nothing"}
	}
	return nil
}

func (h *ClassificationHandler) Process(ctx context.Context, e dispatch.Event, r *refcache.Resolver) ([]catalog.Mutation, error) {
	var p classificationPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, &catalog.PermanentError{Op: "classification.decode", Err: err}
	}

	var entry refcache.Entry
	var err error
	if p.EntityGUID != "" {
		entry, err = r.GetByGUID(ctx, p.EntityType, p.EntityGUID)
	} else {
		entry, err = r.GetByQualifiedName(ctx, p.EntityType, p.QualifiedName)
	}
	if err != nil {
		return nil, err
	}

	attrs, err := json.Marshal(map[string][]string{
		"classificationsAdded":   p.Added,
		"classificationsRemoved": p.Removed,
	})
	if err != nil {
		return nil, &catalog.PermanentError{Op: "classification.encode", Err: err}
	}
	return []catalog.Mutation{{
		Op:            catalog.OpUpdate,
		TypeName:      entry.TypeName,
		GUID:          entry.GUID,
		QualifiedName: entry.QualifiedName,
		Attributes:    attrs,
	}}, nil
}

var _ dispatch.Handler = (*ClassificationHandler)(nil)

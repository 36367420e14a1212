// Package catalog defines the contracts between the SDK and the remote
// metadata-catalog service: entity identity headers, mutations, the error
// taxonomy every subsystem classifies against, and a REST client implementing
// the contracts over HTTP.
//
// Design Notes:
//   - The Client interface is split into EntityLister and MutationApplier so
//     components depend only on the capability they use (the reference cache
//     lists, the dispatcher applies).
//   - Wire authentication and transport-level retry are the HTTP layer's
//     problem; callers here see only the error taxonomy in errors.go.
package catalog

import (
	"context"
	"encoding/json"
)

// EntityHeader is the identity projection of a catalog entity: enough to map
// between the GUID space and the qualified-name space without carrying the
// full attribute payload.
type EntityHeader struct {
	GUID          string `json:"guid"`
	TypeName      string `json:"typeName"`
	QualifiedName string `json:"qualifiedName"`
	DisplayName   string `json:"displayName"`
}

// MutationOp enumerates the kinds of catalog writes a handler may produce.
type MutationOp string

const (
	OpCreate MutationOp = "CREATE"
	OpUpdate MutationOp = "UPDATE"
	OpDelete MutationOp = "DELETE"
)

// Mutation is one catalog write computed by an event handler. Handlers return
// mutations; the dispatcher applies them and invalidates the reference cache
// afterwards, so handlers never touch cache consistency themselves.
//
// GUID may be empty for OpCreate (the catalog assigns one); QualifiedName must
// always be set so invalidation can target the reverse map.
type Mutation struct {
	Op            MutationOp      `json:"op"`
	TypeName      string          `json:"typeName"`
	GUID          string          `json:"guid,omitempty"`
	QualifiedName string          `json:"qualifiedName"`
	Attributes    json.RawMessage `json:"attributes,omitempty"`
}

// EntityLister fetches the complete current identity set for one entity type.
// Implementations may page internally; callers always receive the full set.
type EntityLister interface {
	ListEntities(ctx context.Context, typeName string) ([]EntityHeader, error)
}

// MutationApplier submits a single mutation to the catalog. Errors are
// classified per the taxonomy in errors.go: transient failures are retried by
// the dispatcher, permanent ones are not.
type MutationApplier interface {
	ApplyMutation(ctx context.Context, m Mutation) error
}

// Client is the full catalog collaborator contract.
type Client interface {
	EntityLister
	MutationApplier
}

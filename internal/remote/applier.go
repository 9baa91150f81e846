// Package remote defines the outbound contract to the system the queue syncs
// against, plus a default HTTP client for it.
package remote

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/prudhvinik1/tillsync/internal/models"
)

// ErrUnavailable marks transient transport failures. Items failing with it
// keep their retry budget semantics; anything else is treated as permanent
// for the current attempt too, but callers can classify with IsTransient.
var ErrUnavailable = errors.New("remote unavailable")

// Operation is one local mutation offered to the remote system.
type Operation struct {
	ID         uuid.UUID            `json:"id"`
	Type       models.OperationType `json:"operation_type"`
	EntityType string               `json:"entity_type"`
	EntityID   string               `json:"entity_id,omitempty"`
	Payload    json.RawMessage      `json:"payload"`
	Checksum   uint64               `json:"checksum,string"`
}

// Result is the structured outcome of Apply. A conflict is not an error; it
// carries the remote's current state for the resolver.
type Result struct {
	Applied     bool            `json:"applied"`
	Conflict    bool            `json:"conflict"`
	RemoteState json.RawMessage `json:"remote_state,omitempty"`
}

type Applier interface {
	Apply(ctx context.Context, op Operation) (Result, error)
}

// IsTransient reports whether the failure is worth a retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

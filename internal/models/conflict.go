package models

import (
	"time"

	"github.com/google/uuid"
)

type ResolutionStrategy string

const (
	ServerWins ResolutionStrategy = "SERVER_WINS"
	ClientWins ResolutionStrategy = "CLIENT_WINS"
	Merge      ResolutionStrategy = "MERGE"
	Manual     ResolutionStrategy = "MANUAL"
)

func (s ResolutionStrategy) Valid() bool {
	switch s {
	case ServerWins, ClientWins, Merge, Manual:
		return true
	}
	return false
}

// Conflict records a divergence between a pending local mutation and the
// remote state of the same entity. Immutable once written, except for the
// resolution fields.
type Conflict struct {
	ID                 uuid.UUID          `json:"id"`
	QueueItemID        uuid.UUID          `json:"queue_item_id"`
	EntityType         string             `json:"entity_type"`
	EntityID           string             `json:"entity_id"`
	LocalData          []byte             `json:"local_data"`
	RemoteData         []byte             `json:"remote_data"`
	ResolutionStrategy ResolutionStrategy `json:"resolution_strategy,omitempty"`
	Resolved           bool               `json:"resolved"`
	CreatedAt          time.Time          `json:"created_at"`
	ResolvedAt         *time.Time         `json:"resolved_at,omitempty"`
}

package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrValidation wraps any enqueue-argument validation failure so callers can
// errors.Is against a single sentinel.
var ErrValidation = errors.New("validation failed")

type OperationType string

const (
	OpCreate OperationType = "CREATE"
	OpUpdate OperationType = "UPDATE"
	OpDelete OperationType = "DELETE"
)

func (op OperationType) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

type SyncStatus string

const (
	StatusPending  SyncStatus = "PENDING"
	StatusSyncing  SyncStatus = "SYNCING"
	StatusSynced   SyncStatus = "SYNCED"
	StatusFailed   SyncStatus = "FAILED"
	StatusConflict SyncStatus = "CONFLICT"
)

// Terminal reports whether the status is one an item never leaves on its own.
// FAILED is only re-enterable through an explicit retry reset.
func (s SyncStatus) Terminal() bool {
	return s == StatusSynced || s == StatusFailed
}

// Priority orders pending work; lower values drain first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

const DefaultMaxAttempts = 3

// SyncQueueItem is a single pending or completed local mutation awaiting
// application to the remote system.
type SyncQueueItem struct {
	ID            uuid.UUID     `json:"id"`
	OperationType OperationType `json:"operation_type"`
	EntityType    string        `json:"entity_type"`
	EntityID      string        `json:"entity_id,omitempty"` // empty for CREATE
	Payload       []byte        `json:"payload"`
	Checksum      uint64        `json:"checksum"`
	Status        SyncStatus    `json:"status"`
	Priority      Priority      `json:"priority"`
	Attempts      int           `json:"attempts"`
	MaxAttempts   int           `json:"max_attempts"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty"`
	SyncedAt      *time.Time    `json:"synced_at,omitempty"`
}

// Validate checks the fields a caller controls at enqueue time.
func (i *SyncQueueItem) Validate() error {
	if !i.OperationType.Valid() {
		return fmt.Errorf("%w: operation type %q is not one of CREATE/UPDATE/DELETE", ErrValidation, i.OperationType)
	}
	if i.EntityType == "" {
		return fmt.Errorf("%w: entity type is required", ErrValidation)
	}
	if i.OperationType != OpCreate && i.EntityID == "" {
		return fmt.Errorf("%w: entity id is required for %s", ErrValidation, i.OperationType)
	}
	if i.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrValidation)
	}
	return nil
}

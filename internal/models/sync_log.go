package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncType records what triggered a run.
type SyncType string

const (
	SyncManual   SyncType = "MANUAL"
	SyncPeriodic SyncType = "PERIODIC"
	SyncResume   SyncType = "RESUME"   // offline -> online edge
	SyncEnqueue  SyncType = "ENQUEUE"  // kicked off right after an online enqueue
)

type RunStatus string

const (
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// SyncLogEntry is one append-only audit row per sync run.
type SyncLogEntry struct {
	RunID       uuid.UUID `json:"run_id"`
	SyncType    SyncType  `json:"sync_type"`
	Status      RunStatus `json:"status"`
	ItemsSynced int       `json:"items_synced"`
	ItemsFailed int       `json:"items_failed"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Error       string    `json:"error,omitempty"`
}

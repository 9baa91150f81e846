package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/tillsync/internal/models"
	"github.com/prudhvinik1/tillsync/internal/remote"
	"github.com/prudhvinik1/tillsync/internal/repositories"
	"github.com/prudhvinik1/tillsync/internal/utils"
	"golang.org/x/sync/errgroup"
)

// maxRunItems bounds how much of the queue a single run drains. Anything
// beyond it waits for the next trigger.
const maxRunItems = 500

// Connectivity is the slice of the network monitor the coordinator needs.
type Connectivity interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) func()
}

type SyncConfig struct {
	BatchSize    int
	MaxAttempts  int
	SyncInterval time.Duration
	RetentionAge time.Duration
}

func (c *SyncConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 5 * time.Minute
	}
	if c.RetentionAge <= 0 {
		c.RetentionAge = 30 * 24 * time.Hour
	}
}

// EnqueueRequest is what domain callers hand to Enqueue. Priority and
// MaxAttempts fall back to defaults when zero.
type EnqueueRequest struct {
	OperationType models.OperationType
	EntityType    string
	EntityID      string
	Payload       []byte
	Priority      models.Priority
	MaxAttempts   int
}

// Summary is the aggregate outcome of one SyncAll call. Busy means another
// run was already in flight and nothing was done; Offline means the run was
// skipped without touching the queue.
type Summary struct {
	RunID     uuid.UUID `json:"run_id,omitempty"`
	Synced    int       `json:"synced"`
	Failed    int       `json:"failed"`
	Conflicts int       `json:"conflicts"`
	Busy      bool      `json:"busy,omitempty"`
	Offline   bool      `json:"offline,omitempty"`
}

// SyncService drains the queue in prioritized batches, applies each item to
// the remote and routes the outcome. At most one run is in flight at a time.
type SyncService struct {
	queue     repositories.QueueRepository
	conflicts repositories.ConflictRepository
	logs      repositories.SyncLogRepository
	applier   remote.Applier
	network   Connectivity
	bus       *Bus
	cfg       SyncConfig
	logger    *slog.Logger

	running  atomic.Bool
	lastSync atomic.Pointer[time.Time]
	now      func() time.Time
}

func NewSyncService(
	queue repositories.QueueRepository,
	conflicts repositories.ConflictRepository,
	logs repositories.SyncLogRepository,
	applier remote.Applier,
	network Connectivity,
	bus *Bus,
	cfg SyncConfig,
) *SyncService {
	cfg.applyDefaults()
	return &SyncService{
		queue:     queue,
		conflicts: conflicts,
		logs:      logs,
		applier:   applier,
		network:   network,
		bus:       bus,
		cfg:       cfg,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// Enqueue validates and durably records a mutation, then kicks off a sync in
// the background when the network is already up.
func (s *SyncService) Enqueue(ctx context.Context, req EnqueueRequest) (*models.SyncQueueItem, error) {
	item := &models.SyncQueueItem{
		ID:            uuid.New(),
		OperationType: req.OperationType,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		Payload:       req.Payload,
		Checksum:      utils.Checksum(req.Payload),
		Priority:      req.Priority,
		MaxAttempts:   req.MaxAttempts,
	}
	if item.Priority == 0 {
		item.Priority = models.PriorityMedium
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = s.cfg.MaxAttempts
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, item); err != nil {
		return nil, err
	}
	s.logger.Debug("operation enqueued",
		"id", item.ID, "op", item.OperationType, "entity", item.EntityType, "priority", item.Priority)

	if s.network.IsOnline() {
		go s.run(context.WithoutCancel(ctx), models.SyncEnqueue)
	}
	return item, nil
}

// SyncAll runs one sync pass. Concurrent callers observe Busy instead of
// queuing behind the active run.
func (s *SyncService) SyncAll(ctx context.Context) (Summary, error) {
	return s.run(ctx, models.SyncManual)
}

// ForceSync is an explicit-trigger alias for SyncAll.
func (s *SyncService) ForceSync(ctx context.Context) (Summary, error) {
	return s.SyncAll(ctx)
}

// Subscribe registers a lifecycle listener; the returned handle unsubscribes.
func (s *SyncService) Subscribe(fn Listener) func() {
	return s.bus.Subscribe(fn)
}

// LastSyncTime returns when the most recent run finished, if any run has.
func (s *SyncService) LastSyncTime() (time.Time, bool) {
	t := s.lastSync.Load()
	if t == nil {
		return time.Time{}, false
	}
	return *t, true
}

// RetryFailed gives exhausted FAILED items a fresh attempt budget and kicks a
// run when online.
func (s *SyncService) RetryFailed(ctx context.Context) (int64, error) {
	n, err := s.queue.ResetForRetry(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 && s.network.IsOnline() {
		go s.run(context.WithoutCancel(ctx), models.SyncManual)
	}
	return n, nil
}

// Start wires the periodic trigger and the offline -> online resume trigger.
// The returned stop function tears both down.
func (s *SyncService) Start(ctx context.Context) func() {
	runCtx, cancel := context.WithCancel(ctx)

	unsubscribe := s.network.Subscribe(func(online bool) {
		if !online {
			return
		}
		go s.run(runCtx, models.SyncResume)
	})

	go func() {
		ticker := time.NewTicker(s.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if swept, err := s.queue.DeleteSyncedBefore(runCtx, s.now().Add(-s.cfg.RetentionAge)); err != nil {
					s.logger.Warn("retention sweep failed", "err", err)
				} else if swept > 0 {
					s.logger.Info("retention sweep removed synced items", "count", swept)
				}
				if _, err := s.run(runCtx, models.SyncPeriodic); err != nil {
					s.logger.Warn("periodic sync failed", "err", err)
				}
			}
		}
	}()

	return func() {
		unsubscribe()
		cancel()
	}
}

func (s *SyncService) run(ctx context.Context, syncType models.SyncType) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("sync already in progress", "trigger", syncType)
		return Summary{Busy: true}, nil
	}
	defer s.running.Store(false)

	if !s.network.IsOnline() {
		s.logger.Debug("sync skipped while offline", "trigger", syncType)
		return Summary{Offline: true}, nil
	}

	runID := uuid.New()
	started := s.now()
	summary := Summary{RunID: runID}
	logger := s.logger.With("run_id", runID, "trigger", syncType)

	s.bus.Publish(Event{Type: EventSyncStart, RunID: runID, At: started})

	pending, err := s.queue.Pending(ctx, maxRunItems)
	if err != nil {
		// Run-level failure: the queue itself is unreachable. Nothing was
		// claimed, so the next run starts from the same state.
		return summary, s.failRun(ctx, runID, syncType, started, fmt.Errorf("failed to load pending items: %w", err))
	}

	logger.Info("sync run started", "pending", len(pending))

	var synced, failed, conflicts atomic.Int64
	var runErr error

	for start := 0; start < len(pending); start += s.cfg.BatchSize {
		// Cancellation is honored between batches, never mid-item.
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("sync run aborted: %w", err)
			break
		}

		end := min(start+s.cfg.BatchSize, len(pending))

		g := new(errgroup.Group)
		for _, item := range pending[start:end] {
			item := item
			g.Go(func() error {
				switch s.processItem(ctx, runID, item) {
				case outcomeSynced:
					synced.Add(1)
				case outcomeFailed:
					failed.Add(1)
				case outcomeConflict:
					conflicts.Add(1)
				}
				return nil
			})
		}
		g.Wait()
	}

	summary.Synced = int(synced.Load())
	summary.Failed = int(failed.Load())
	summary.Conflicts = int(conflicts.Load())
	completed := s.now()

	entry := &models.SyncLogEntry{
		RunID:       runID,
		SyncType:    syncType,
		Status:      models.RunCompleted,
		ItemsSynced: summary.Synced,
		ItemsFailed: summary.Failed,
		StartedAt:   started,
		CompletedAt: completed,
	}
	if runErr != nil {
		entry.Status = models.RunFailed
		entry.Error = runErr.Error()
	}
	// The audit row must land even when the run was aborted by ctx; a done
	// context would make the repository reject the append.
	if err := s.logs.Append(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("failed to append sync log entry", "err", err)
	}
	s.lastSync.Store(&completed)

	if runErr != nil {
		s.bus.Publish(Event{Type: EventSyncError, RunID: runID, Error: runErr.Error(), At: completed})
		logger.Warn("sync run aborted", "err", runErr, "synced", summary.Synced, "failed", summary.Failed)
		return summary, runErr
	}

	s.bus.Publish(Event{
		Type: EventSyncComplete, RunID: runID,
		Synced: summary.Synced, Failed: summary.Failed, At: completed,
	})
	logger.Info("sync run complete",
		"synced", summary.Synced, "failed", summary.Failed, "conflicts", summary.Conflicts)
	return summary, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSynced
	outcomeFailed
	outcomeConflict
)

// processItem owns one item end to end. Whatever happens here stays scoped to
// the item; the batch and the run carry on.
func (s *SyncService) processItem(ctx context.Context, runID uuid.UUID, item *models.SyncQueueItem) outcome {
	claimed, err := s.queue.MarkSyncing(ctx, item.ID)
	if errors.Is(err, repositories.ErrInvalidTransition) {
		// Already claimed or no longer eligible; not this run's problem.
		return outcomeSkipped
	}
	if err != nil {
		s.logger.Warn("failed to claim queue item", "run_id", runID, "item_id", item.ID, "err", err)
		return outcomeSkipped
	}

	if utils.Checksum(claimed.Payload) != claimed.Checksum {
		reason := "payload checksum mismatch"
		if err := s.queue.MarkFailed(ctx, claimed.ID, reason); err != nil {
			s.logger.Warn("failed to mark corrupted item", "item_id", claimed.ID, "err", err)
		}
		s.bus.Publish(Event{Type: EventItemFailed, RunID: runID, ItemID: claimed.ID, Error: reason, At: s.now()})
		return outcomeFailed
	}

	result, err := s.applier.Apply(ctx, remote.Operation{
		ID:         claimed.ID,
		Type:       claimed.OperationType,
		EntityType: claimed.EntityType,
		EntityID:   claimed.EntityID,
		Payload:    json.RawMessage(claimed.Payload),
		Checksum:   claimed.Checksum,
	})

	switch {
	case err != nil:
		return s.recordFailure(ctx, runID, claimed, err)
	case result.Conflict:
		return s.recordConflict(ctx, runID, claimed, result)
	default:
		if err := s.queue.MarkSynced(ctx, claimed.ID); err != nil {
			s.logger.Warn("failed to mark item synced", "item_id", claimed.ID, "err", err)
			return outcomeFailed
		}
		s.bus.Publish(Event{Type: EventItemSynced, RunID: runID, ItemID: claimed.ID, At: s.now()})
		return outcomeSynced
	}
}

func (s *SyncService) recordFailure(ctx context.Context, runID uuid.UUID, item *models.SyncQueueItem, applyErr error) outcome {
	if item.Attempts >= item.MaxAttempts {
		if err := s.queue.MarkFailed(ctx, item.ID, applyErr.Error()); err != nil {
			s.logger.Warn("failed to mark item failed", "item_id", item.ID, "err", err)
		}
		s.logger.Warn("item retries exhausted",
			"item_id", item.ID, "attempts", item.Attempts, "err", applyErr)
	} else {
		if err := s.queue.ResetPending(ctx, item.ID, applyErr.Error()); err != nil {
			s.logger.Warn("failed to requeue item", "item_id", item.ID, "err", err)
		}
		s.logger.Debug("item requeued after transient failure",
			"item_id", item.ID, "attempts", item.Attempts, "transient", remote.IsTransient(applyErr))
	}
	s.bus.Publish(Event{Type: EventItemFailed, RunID: runID, ItemID: item.ID, Error: applyErr.Error(), At: s.now()})
	return outcomeFailed
}

func (s *SyncService) recordConflict(ctx context.Context, runID uuid.UUID, item *models.SyncQueueItem, result remote.Result) outcome {
	conflict := &models.Conflict{
		ID:          uuid.New(),
		QueueItemID: item.ID,
		EntityType:  item.EntityType,
		EntityID:    item.EntityID,
		LocalData:   item.Payload,
		RemoteData:  result.RemoteState,
	}
	if err := s.conflicts.Create(ctx, conflict); err != nil {
		// Without a conflict row the item cannot be resolved; leave it for
		// another attempt instead of parking it in CONFLICT.
		s.logger.Warn("failed to record conflict", "item_id", item.ID, "err", err)
		return s.recordFailure(ctx, runID, item, fmt.Errorf("failed to record conflict: %w", err))
	}
	if err := s.queue.MarkConflict(ctx, item.ID); err != nil {
		s.logger.Warn("failed to mark item conflicted", "item_id", item.ID, "err", err)
	}
	s.bus.Publish(Event{Type: EventConflictDetected, RunID: runID, ItemID: item.ID, ConflictID: conflict.ID, At: s.now()})
	s.logger.Info("conflict detected", "item_id", item.ID, "conflict_id", conflict.ID, "entity", item.EntityType)
	return outcomeConflict
}

func (s *SyncService) failRun(ctx context.Context, runID uuid.UUID, syncType models.SyncType, started time.Time, runErr error) error {
	completed := s.now()
	entry := &models.SyncLogEntry{
		RunID:       runID,
		SyncType:    syncType,
		Status:      models.RunFailed,
		StartedAt:   started,
		CompletedAt: completed,
		Error:       runErr.Error(),
	}
	if err := s.logs.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("failed to append sync log entry", "err", err)
	}
	s.bus.Publish(Event{Type: EventSyncError, RunID: runID, Error: runErr.Error(), At: completed})
	s.logger.Error("sync run failed", "run_id", runID, "err", runErr)
	return runErr
}

// Status is the aggregate view exposed to integrators: counts only, no
// per-item detail.
type Status struct {
	Online              bool                        `json:"online"`
	Counts              map[models.SyncStatus]int64 `json:"counts"`
	UnresolvedConflicts int64                       `json:"unresolved_conflicts"`
	LastRun             *models.SyncLogEntry        `json:"last_run,omitempty"`
}

func (s *SyncService) Status(ctx context.Context) (*Status, error) {
	counts, err := s.queue.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	unresolved, err := s.conflicts.CountUnresolved(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := s.logs.ListRecent(ctx, 1)
	if err != nil {
		return nil, err
	}

	status := &Status{
		Online:              s.network.IsOnline(),
		Counts:              counts,
		UnresolvedConflicts: unresolved,
	}
	if len(recent) > 0 {
		status.LastRun = recent[0]
	}
	return status, nil
}

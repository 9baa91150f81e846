package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/tillsync/internal/models"
	"github.com/prudhvinik1/tillsync/internal/remote"
	"github.com/prudhvinik1/tillsync/internal/repositories"
	"github.com/prudhvinik1/tillsync/internal/utils"
)

// memQueue mirrors the Postgres queue repository's transition guards so the
// coordinator can be tested without a database.
type memQueue struct {
	mu         sync.Mutex
	items      map[uuid.UUID]*models.SyncQueueItem
	order      []uuid.UUID
	pendingErr error
}

func newMemQueue() *memQueue {
	return &memQueue{items: make(map[uuid.UUID]*models.SyncQueueItem)}
}

func (q *memQueue) Enqueue(_ context.Context, item *models.SyncQueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	copied := *item
	copied.Status = models.StatusPending
	copied.CreatedAt = time.Now()
	q.items[item.ID] = &copied
	q.order = append(q.order, item.ID)
	item.Status = copied.Status
	item.CreatedAt = copied.CreatedAt
	return nil
}

func (q *memQueue) GetByID(_ context.Context, id uuid.UUID) (*models.SyncQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (q *memQueue) Pending(_ context.Context, limit int) ([]*models.SyncQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pendingErr != nil {
		return nil, q.pendingErr
	}

	var pending []*models.SyncQueueItem
	// Insertion order stands in for created_at; a stable sort by priority
	// preserves it within a priority class.
	for _, id := range q.order {
		item := q.items[id]
		if (item.Status == models.StatusPending || item.Status == models.StatusFailed) && item.Attempts < item.MaxAttempts {
			copied := *item
			pending = append(pending, &copied)
		}
	}
	for i := 1; i < len(pending); i++ {
		for j := i; j > 0 && pending[j].Priority < pending[j-1].Priority; j-- {
			pending[j], pending[j-1] = pending[j-1], pending[j]
		}
	}
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (q *memQueue) MarkSyncing(_ context.Context, id uuid.UUID) (*models.SyncQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return nil, repositories.ErrInvalidTransition
	}
	if item.Status != models.StatusPending && item.Status != models.StatusFailed {
		return nil, repositories.ErrInvalidTransition
	}
	if item.Attempts >= item.MaxAttempts {
		return nil, repositories.ErrInvalidTransition
	}
	item.Status = models.StatusSyncing
	item.Attempts++
	now := time.Now()
	item.LastAttemptAt = &now

	copied := *item
	return &copied, nil
}

func (q *memQueue) MarkSynced(_ context.Context, id uuid.UUID) error {
	return q.transition(id, models.StatusSynced, "", models.StatusSyncing, models.StatusConflict)
}

func (q *memQueue) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	return q.transition(id, models.StatusFailed, reason, models.StatusSyncing, models.StatusConflict)
}

func (q *memQueue) MarkConflict(_ context.Context, id uuid.UUID) error {
	return q.transition(id, models.StatusConflict, "", models.StatusSyncing)
}

func (q *memQueue) ResetPending(_ context.Context, id uuid.UUID, reason string) error {
	return q.transition(id, models.StatusPending, reason, models.StatusSyncing, models.StatusConflict)
}

func (q *memQueue) transition(id uuid.UUID, to models.SyncStatus, reason string, from ...models.SyncStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return repositories.ErrInvalidTransition
	}
	allowed := false
	for _, status := range from {
		if item.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return repositories.ErrInvalidTransition
	}
	item.Status = to
	if reason != "" {
		item.Error = reason
	}
	if to == models.StatusSynced {
		now := time.Now()
		item.SyncedAt = &now
		item.Error = ""
	}
	return nil
}

func (q *memQueue) ResetForRetry(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int64
	for _, item := range q.items {
		if item.Status == models.StatusFailed {
			item.Status = models.StatusPending
			item.Attempts = 0
			item.Error = ""
			n++
		}
	}
	return n, nil
}

func (q *memQueue) Delete(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(q.items, id)
	return nil
}

func (q *memQueue) DeleteSyncedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int64
	for id, item := range q.items {
		if item.Status == models.StatusSynced && item.SyncedAt != nil && item.SyncedAt.Before(cutoff) {
			delete(q.items, id)
			n++
		}
	}
	return n, nil
}

func (q *memQueue) CountByStatus(_ context.Context) (map[models.SyncStatus]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[models.SyncStatus]int64)
	for _, item := range q.items {
		counts[item.Status]++
	}
	return counts, nil
}

// status reads an item's current state directly, bypassing the interface.
func (q *memQueue) status(id uuid.UUID) models.SyncStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items[id].Status
}

func (q *memQueue) attempts(id uuid.UUID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items[id].Attempts
}

// corruptPayload tampers with a stored payload without updating the checksum.
func (q *memQueue) corruptPayload(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[id].Payload = []byte(`{"tampered":true}`)
}

type memConflicts struct {
	mu        sync.Mutex
	conflicts map[uuid.UUID]*models.Conflict
}

func newMemConflicts() *memConflicts {
	return &memConflicts{conflicts: make(map[uuid.UUID]*models.Conflict)}
}

func (c *memConflicts) Create(_ context.Context, conflict *models.Conflict) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	copied := *conflict
	copied.CreatedAt = time.Now()
	c.conflicts[conflict.ID] = &copied
	conflict.CreatedAt = copied.CreatedAt
	return nil
}

func (c *memConflicts) GetByID(_ context.Context, id uuid.UUID) (*models.Conflict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conflict, ok := c.conflicts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *conflict
	return &copied, nil
}

func (c *memConflicts) ListUnresolved(_ context.Context) ([]*models.Conflict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var unresolved []*models.Conflict
	for _, conflict := range c.conflicts {
		if !conflict.Resolved {
			copied := *conflict
			unresolved = append(unresolved, &copied)
		}
	}
	return unresolved, nil
}

func (c *memConflicts) CountUnresolved(ctx context.Context) (int64, error) {
	unresolved, _ := c.ListUnresolved(ctx)
	return int64(len(unresolved)), nil
}

func (c *memConflicts) MarkResolved(_ context.Context, id uuid.UUID, strategy models.ResolutionStrategy) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conflict, ok := c.conflicts[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if conflict.Resolved {
		return repositories.ErrConflictResolved
	}
	conflict.Resolved = true
	conflict.ResolutionStrategy = strategy
	now := time.Now()
	conflict.ResolvedAt = &now
	return nil
}

type memLogs struct {
	mu      sync.Mutex
	entries []*models.SyncLogEntry
}

func (l *memLogs) Append(ctx context.Context, entry *models.SyncLogEntry) error {
	// The real repository rejects a done context; the fake must too, so the
	// audit row written after an aborted run is actually exercised.
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	copied := *entry
	l.entries = append(l.entries, &copied)
	return nil
}

func (l *memLogs) ListRecent(_ context.Context, limit int) ([]*models.SyncLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var recent []*models.SyncLogEntry
	for i := len(l.entries) - 1; i >= 0 && len(recent) < limit; i-- {
		copied := *l.entries[i]
		recent = append(recent, &copied)
	}
	return recent, nil
}

func (l *memLogs) last() *models.SyncLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return nil
	}
	copied := *l.entries[len(l.entries)-1]
	return &copied
}

type memEntities struct {
	mu      sync.Mutex
	applied map[string][]byte
}

func newMemEntities() *memEntities {
	return &memEntities{applied: make(map[string][]byte)}
}

func (e *memEntities) ApplyRemote(_ context.Context, entityType, entityID string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied[entityType+"/"+entityID] = data
	return nil
}

func (e *memEntities) get(entityType, entityID string) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applied[entityType+"/"+entityID]
}

// fakeApplier scripts remote outcomes and records every operation it saw.
type fakeApplier struct {
	mu  sync.Mutex
	fn  func(op remote.Operation) (remote.Result, error)
	ops []remote.Operation
}

func newFakeApplier(fn func(op remote.Operation) (remote.Result, error)) *fakeApplier {
	if fn == nil {
		fn = func(remote.Operation) (remote.Result, error) {
			return remote.Result{Applied: true}, nil
		}
	}
	return &fakeApplier{fn: fn}
}

func (a *fakeApplier) Apply(_ context.Context, op remote.Operation) (remote.Result, error) {
	a.mu.Lock()
	a.ops = append(a.ops, op)
	fn := a.fn
	a.mu.Unlock()
	return fn(op)
}

func (a *fakeApplier) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ops)
}

func (a *fakeApplier) operations() []remote.Operation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]remote.Operation(nil), a.ops...)
}

// enqueued builds a queue item directly, bypassing the service, for tests
// that want full control over the starting state.
func enqueued(q *memQueue, op models.OperationType, entityType, entityID string, payload []byte, priority models.Priority, maxAttempts int) *models.SyncQueueItem {
	item := &models.SyncQueueItem{
		ID:            uuid.New(),
		OperationType: op,
		EntityType:    entityType,
		EntityID:      entityID,
		Payload:       payload,
		Checksum:      utils.Checksum(payload),
		Priority:      priority,
		MaxAttempts:   maxAttempts,
	}
	q.Enqueue(context.Background(), item)
	return item
}

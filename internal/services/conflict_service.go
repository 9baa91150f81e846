package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/tillsync/internal/models"
	"github.com/prudhvinik1/tillsync/internal/remote"
	"github.com/prudhvinik1/tillsync/internal/repositories"
)

// ConflictService applies resolution strategies to recorded conflicts and
// settles the associated queue item.
type ConflictService struct {
	conflicts repositories.ConflictRepository
	queue     repositories.QueueRepository
	entities  repositories.EntityStore
	applier   remote.Applier
	bus       *Bus
	logger    *slog.Logger
	now       func() time.Time
}

func NewConflictService(
	conflicts repositories.ConflictRepository,
	queue repositories.QueueRepository,
	entities repositories.EntityStore,
	applier remote.Applier,
	bus *Bus,
) *ConflictService {
	return &ConflictService{
		conflicts: conflicts,
		queue:     queue,
		entities:  entities,
		applier:   applier,
		bus:       bus,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

func (s *ConflictService) ListUnresolved(ctx context.Context) ([]*models.Conflict, error) {
	return s.conflicts.ListUnresolved(ctx)
}

// Resolve applies the chosen strategy. Every branch marks the conflict
// resolved and moves the queue item out of CONFLICT; resolving twice reports
// ErrConflictResolved.
func (s *ConflictService) Resolve(ctx context.Context, id uuid.UUID, strategy models.ResolutionStrategy, manualData []byte) error {
	if !strategy.Valid() {
		return fmt.Errorf("%w: unknown resolution strategy %q", models.ErrValidation, strategy)
	}

	conflict, err := s.conflicts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if conflict.Resolved {
		return repositories.ErrConflictResolved
	}

	switch strategy {
	case models.ServerWins:
		if err := s.entities.ApplyRemote(ctx, conflict.EntityType, conflict.EntityID, conflict.RemoteData); err != nil {
			return err
		}
		if err := s.markItemSynced(ctx, conflict.QueueItemID); err != nil {
			return err
		}

	case models.ClientWins:
		if err := s.resubmitLocal(ctx, conflict); err != nil {
			return err
		}

	case models.Merge:
		merged, err := mergeShallow(conflict.RemoteData, conflict.LocalData)
		if err != nil {
			return fmt.Errorf("failed to merge conflict data: %w", err)
		}
		if err := s.entities.ApplyRemote(ctx, conflict.EntityType, conflict.EntityID, merged); err != nil {
			return err
		}
		if err := s.markItemSynced(ctx, conflict.QueueItemID); err != nil {
			return err
		}

	case models.Manual:
		if len(manualData) == 0 {
			return fmt.Errorf("%w: manual resolution requires data", models.ErrValidation)
		}
		if err := s.entities.ApplyRemote(ctx, conflict.EntityType, conflict.EntityID, manualData); err != nil {
			return err
		}
		if err := s.markItemSynced(ctx, conflict.QueueItemID); err != nil {
			return err
		}
	}

	if err := s.conflicts.MarkResolved(ctx, id, strategy); err != nil {
		return err
	}

	s.bus.Publish(Event{Type: EventConflictResolved, ConflictID: id, ItemID: conflict.QueueItemID, At: s.now()})
	s.logger.Info("conflict resolved", "conflict_id", id, "strategy", strategy, "entity", conflict.EntityType)
	return nil
}

// resubmitLocal replays the local payload as a fresh sync attempt. Applied
// means the item is done; a renewed conflict gets its own row; a transient
// failure sends the item back to PENDING for the next run.
func (s *ConflictService) resubmitLocal(ctx context.Context, conflict *models.Conflict) error {
	item, err := s.queue.GetByID(ctx, conflict.QueueItemID)
	if err != nil {
		return err
	}

	result, applyErr := s.applier.Apply(ctx, remote.Operation{
		ID:         item.ID,
		Type:       item.OperationType,
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Payload:    json.RawMessage(conflict.LocalData),
		Checksum:   item.Checksum,
	})

	switch {
	case applyErr != nil:
		if !remote.IsTransient(applyErr) {
			return applyErr
		}
		// A conflict on the final attempt has no budget left; PENDING would
		// strand the item outside every future run, FAILED keeps it
		// reachable through the retry reset.
		if item.Attempts >= item.MaxAttempts {
			return s.queue.MarkFailed(ctx, item.ID, applyErr.Error())
		}
		return s.queue.ResetPending(ctx, item.ID, applyErr.Error())

	case result.Conflict:
		// The remote moved again since the conflict was recorded.
		renewed := &models.Conflict{
			ID:          uuid.New(),
			QueueItemID: item.ID,
			EntityType:  item.EntityType,
			EntityID:    item.EntityID,
			LocalData:   conflict.LocalData,
			RemoteData:  result.RemoteState,
		}
		if err := s.conflicts.Create(ctx, renewed); err != nil {
			return err
		}
		s.bus.Publish(Event{Type: EventConflictDetected, ItemID: item.ID, ConflictID: renewed.ID, At: s.now()})
		return nil

	default:
		return s.markItemSynced(ctx, item.ID)
	}
}

func (s *ConflictService) markItemSynced(ctx context.Context, itemID uuid.UUID) error {
	err := s.queue.MarkSynced(ctx, itemID)
	if err != nil && !errors.Is(err, repositories.ErrInvalidTransition) && !errors.Is(err, repositories.ErrNotFound) {
		return err
	}
	// A deleted or already-settled item is fine; the conflict row is the
	// record that matters from here on.
	return nil
}

// mergeShallow merges two JSON objects one level deep: remote fields are the
// base, local fields override.
func mergeShallow(remoteData, localData []byte) ([]byte, error) {
	merged := make(map[string]any)

	if len(remoteData) > 0 {
		if err := json.Unmarshal(remoteData, &merged); err != nil {
			return nil, fmt.Errorf("remote data is not a JSON object: %w", err)
		}
	}

	var local map[string]any
	if len(localData) > 0 {
		if err := json.Unmarshal(localData, &local); err != nil {
			return nil, fmt.Errorf("local data is not a JSON object: %w", err)
		}
	}
	for key, value := range local {
		merged[key] = value
	}

	return json.Marshal(merged)
}

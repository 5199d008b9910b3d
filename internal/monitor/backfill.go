// internal/monitor/backfill.go
package monitor

import (
	"context"
	"fmt"
	"time"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
)

// Backfill state machine: UNINITIALIZED -> IN_PROGRESS -> COMPLETE. The
// registry exposes state only; the scheduler driving batch progress lives
// outside this core and reads BackfillLastRunAt for its cooldown.

// InitializeBackfill sets the monitor's high-water mark. The mark is written
// exactly once: a monitor whose backfill already started is returned
// unchanged, so replaying initialization is safe.
func (r *Registry) InitializeBackfill(ctx context.Context, workspaceID int64, nameWithOwner string, highWaterMark int) (*model.RepositoryMonitor, error) {
	if highWaterMark < 0 {
		return nil, &apperrors.InvalidInputError{
			Reason: fmt.Sprintf("negative backfill high-water mark %d", highWaterMark),
		}
	}
	m, err := r.monitors.Get(ctx, workspaceID, nameWithOwner)
	if err != nil {
		return nil, err
	}
	if m.BackfillInitialized() {
		return m, nil
	}

	m.BackfillHighWaterMark = &highWaterMark
	if err := r.monitors.UpdateSyncState(ctx, m); err != nil {
		return nil, err
	}
	r.logger.Info("backfill initialized",
		"workspace_id", workspaceID, "repo", nameWithOwner, "high_water_mark", highWaterMark)
	return m, nil
}

// AdvanceBackfill records a processed batch: the checkpoint moves down toward
// zero and the cooldown timestamp is stamped. The checkpoint never moves up;
// an attempt to raise it keeps the current value and only refreshes the
// timestamp.
func (r *Registry) AdvanceBackfill(ctx context.Context, workspaceID int64, nameWithOwner string, checkpoint int, ranAt time.Time) (*model.RepositoryMonitor, error) {
	m, err := r.monitors.Get(ctx, workspaceID, nameWithOwner)
	if err != nil {
		return nil, err
	}
	if !m.BackfillInitialized() {
		return nil, &apperrors.IllegalStateError{
			Reason: fmt.Sprintf("backfill for %q has not been initialized", nameWithOwner),
		}
	}

	if checkpoint < 0 {
		checkpoint = 0
	}
	if checkpoint <= m.BackfillRemaining() {
		m.BackfillCheckpoint = &checkpoint
	}
	m.BackfillLastRunAt = &ranAt

	if err := r.monitors.UpdateSyncState(ctx, m); err != nil {
		return nil, err
	}
	if m.BackfillComplete() {
		r.logger.Info("backfill complete", "workspace_id", workspaceID, "repo", nameWithOwner)
	}
	return m, nil
}

// internal/lifecycle/guard.go
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
)

const resumeSyncTimeout = 15 * time.Minute

// WorkspaceStore is the persistence surface the guard needs.
type WorkspaceStore interface {
	GetBySlug(ctx context.Context, slug string) (*model.Workspace, error)
	UpdateStatus(ctx context.Context, id int64, status model.WorkspaceStatus) error
}

// ConsumerController starts and stops a workspace's event consumer.
type ConsumerController interface {
	StartConsumingScope(ctx context.Context, workspaceID int64) error
	StopConsumingScope(ctx context.Context, workspaceID int64) error
}

// SyncRunner performs the sync pass that precedes consumer start on resume.
type SyncRunner interface {
	SyncAllRepositories(ctx context.Context, workspaceID int64) error
}

// Guard enforces the workspace status state machine:
// ACTIVE <-> SUSPENDED, both terminating into PURGED. Repeat calls are
// idempotent no-ops; nothing leaves PURGED.
type Guard struct {
	workspaces WorkspaceStore
	consumers  ConsumerController
	sync       SyncRunner
	logger     *slog.Logger
}

func NewGuard(workspaces WorkspaceStore, consumers ConsumerController, sync SyncRunner, logger *slog.Logger) *Guard {
	return &Guard{workspaces: workspaces, consumers: consumers, sync: sync, logger: logger}
}

// Suspend pauses a workspace: its consumer is stopped before the status
// flips, so no events arrive for a suspended tenant.
func (g *Guard) Suspend(ctx context.Context, slug string) (*model.Workspace, error) {
	w, err := g.workspaces.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	switch w.Status {
	case model.StatusSuspended:
		return w, nil
	case model.StatusPurged:
		return nil, &apperrors.IllegalStateError{
			Reason: fmt.Sprintf("workspace %q is purged", slug),
		}
	case model.StatusActive:
		if err := g.consumers.StopConsumingScope(ctx, w.ID); err != nil {
			return nil, err
		}
		if err := g.workspaces.UpdateStatus(ctx, w.ID, model.StatusSuspended); err != nil {
			return nil, err
		}
		w.Status = model.StatusSuspended
		g.logger.Info("workspace suspended", "workspace", slug)
		return w, nil
	default:
		return nil, fmt.Errorf("unknown workspace status %q", w.Status)
	}
}

// Resume reactivates a suspended workspace. The status flips immediately; a
// background sync pass runs and the consumer starts only once it returns,
// mirroring activation ordering.
func (g *Guard) Resume(ctx context.Context, slug string) (*model.Workspace, error) {
	w, err := g.workspaces.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	switch w.Status {
	case model.StatusActive:
		return w, nil
	case model.StatusPurged:
		return nil, &apperrors.IllegalStateError{
			Reason: fmt.Sprintf("workspace %q is purged", slug),
		}
	case model.StatusSuspended:
		if err := g.workspaces.UpdateStatus(ctx, w.ID, model.StatusActive); err != nil {
			return nil, err
		}
		w.Status = model.StatusActive
		g.logger.Info("workspace resumed", "workspace", slug)
		g.restartConsumer(w.ID, slug)
		return w, nil
	default:
		return nil, fmt.Errorf("unknown workspace status %q", w.Status)
	}
}

func (g *Guard) restartConsumer(workspaceID int64, slug string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), resumeSyncTimeout)
		defer cancel()
		if err := g.sync.SyncAllRepositories(ctx, workspaceID); err != nil {
			g.logger.Error("post-resume sync failed, consumer not started",
				"workspace", slug, "error", err)
			return
		}
		if err := g.consumers.StartConsumingScope(ctx, workspaceID); err != nil {
			g.logger.Error("failed to start consumer after resume", "workspace", slug, "error", err)
		}
	}()
}

// Purge marks a workspace deleted. The status flag is the whole of purge:
// rows stay in place, the consumer stops, and the slug claim is released by
// the live-rows-only unique index. Physical deletion is deferred.
func (g *Guard) Purge(ctx context.Context, slug string) (*model.Workspace, error) {
	w, err := g.workspaces.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if w.Status == model.StatusPurged {
		return w, nil
	}
	if err := g.consumers.StopConsumingScope(ctx, w.ID); err != nil {
		return nil, err
	}
	if err := g.workspaces.UpdateStatus(ctx, w.ID, model.StatusPurged); err != nil {
		return nil, err
	}
	w.Status = model.StatusPurged
	g.logger.Info("workspace purged", "workspace", slug)
	return w, nil
}

// internal/monitor/registry.go
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
)

const initialSyncTimeout = 10 * time.Minute

// WorkspaceSource resolves workspaces for installation-driven operations.
type WorkspaceSource interface {
	GetByInstallationID(ctx context.Context, installationID int64) (*model.Workspace, error)
}

// MonitorStore persists repository monitors.
type MonitorStore interface {
	Create(ctx context.Context, m *model.RepositoryMonitor) error
	Get(ctx context.Context, workspaceID int64, nameWithOwner string) (*model.RepositoryMonitor, error)
	ListByWorkspace(ctx context.Context, workspaceID int64) ([]model.RepositoryMonitor, error)
	Delete(ctx context.Context, workspaceID int64, nameWithOwner string) error
	ExistsForRepository(ctx context.Context, nameWithOwner string) (bool, error)
	UpdateSyncState(ctx context.Context, m *model.RepositoryMonitor) error
}

// RepositoryStore persists the shared repository records.
type RepositoryStore interface {
	Upsert(ctx context.Context, r *model.Repository) error
	DeleteByFullName(ctx context.Context, fullName string) error
}

// Resolver checks a repository against the workspace's provider.
type Resolver interface {
	Resolve(ctx context.Context, w *model.Workspace, owner, name string) (*model.Repository, error)
}

// ConsumerController is the slice of the event-consumer surface the registry
// needs.
type ConsumerController interface {
	UpdateScopeConsumer(ctx context.Context, workspaceID int64) error
}

// SyncRunner triggers a full sync pass for a workspace.
type SyncRunner interface {
	SyncAllRepositories(ctx context.Context, workspaceID int64) error
}

// TxRunner scopes a set of writes to one atomic unit.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Registry owns the set of repositories each workspace watches, including
// backfill checkpoint state.
type Registry struct {
	tx           TxRunner
	workspaces   WorkspaceSource
	monitors     MonitorStore
	repositories RepositoryStore
	resolver     Resolver
	consumers    ConsumerController
	sync         SyncRunner
	logger       *slog.Logger
}

func NewRegistry(tx TxRunner, workspaces WorkspaceSource, monitors MonitorStore, repositories RepositoryStore,
	resolver Resolver, consumers ConsumerController, sync SyncRunner, logger *slog.Logger) *Registry {
	return &Registry{
		tx:           tx,
		workspaces:   workspaces,
		monitors:     monitors,
		repositories: repositories,
		resolver:     resolver,
		consumers:    consumers,
		sync:         sync,
		logger:       logger,
	}
}

func splitNameWithOwner(nameWithOwner string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(nameWithOwner, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", &apperrors.ErrInvalidRepoFormat{Repo: nameWithOwner}
	}
	return owner, name, nil
}

// Add starts monitoring a repository for a workspace. Membership of
// installation-managed workspaces is driven exclusively by the installation,
// so manual adds there are rejected. The repository must resolve against the
// workspace's provider. Unless deferSync is set, an initial sync pass is
// triggered asynchronously.
func (r *Registry) Add(ctx context.Context, w *model.Workspace, nameWithOwner string, deferSync bool) (*model.RepositoryMonitor, error) {
	owner, name, err := splitNameWithOwner(nameWithOwner)
	if err != nil {
		return nil, err
	}
	if w.InstallationManaged() {
		return nil, &apperrors.ManagementNotAllowedError{Workspace: w.Slug}
	}
	if existing, err := r.monitors.Get(ctx, w.ID, nameWithOwner); err == nil && existing != nil {
		return nil, &apperrors.ConflictError{
			Reason: fmt.Sprintf("repository %q is already monitored", nameWithOwner),
		}
	} else if err != nil && !apperrors.IsNotFound(err) {
		return nil, err
	}

	repo, err := r.resolver.Resolve(ctx, w, owner, name)
	if err != nil {
		return nil, err
	}

	m := &model.RepositoryMonitor{WorkspaceID: w.ID, NameWithOwner: repo.FullName}
	err = r.tx.InTx(ctx, func(ctx context.Context) error {
		if err := r.repositories.Upsert(ctx, repo); err != nil {
			return err
		}
		return r.monitors.Create(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	if err := r.consumers.UpdateScopeConsumer(ctx, w.ID); err != nil {
		r.logger.Error("failed to refresh consumer after monitor add",
			"workspace_id", w.ID, "repo", nameWithOwner, "error", err)
	}
	if !deferSync {
		r.triggerInitialSync(w.ID, nameWithOwner)
	}
	return m, nil
}

// ListByWorkspace enumerates the workspace's monitors.
func (r *Registry) ListByWorkspace(ctx context.Context, workspaceID int64) ([]model.RepositoryMonitor, error) {
	return r.monitors.ListByWorkspace(ctx, workspaceID)
}

// triggerInitialSync runs one sync pass in the background so bulk
// provisioning does not serialize N network round-trips.
func (r *Registry) triggerInitialSync(workspaceID int64, nameWithOwner string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), initialSyncTimeout)
		defer cancel()
		if err := r.sync.SyncAllRepositories(ctx, workspaceID); err != nil {
			r.logger.Error("initial sync after monitor add failed",
				"workspace_id", workspaceID, "repo", nameWithOwner, "error", err)
		}
	}()
}

// Remove stops monitoring a repository. With cleanupRepository set, the
// shared repository record is deleted only when no other workspace still
// monitors it.
func (r *Registry) Remove(ctx context.Context, w *model.Workspace, nameWithOwner string, cleanupRepository bool) error {
	if w.InstallationManaged() {
		return &apperrors.ManagementNotAllowedError{Workspace: w.Slug}
	}
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		if err := r.monitors.Delete(ctx, w.ID, nameWithOwner); err != nil {
			return err
		}
		if !cleanupRepository {
			return nil
		}
		stillMonitored, err := r.monitors.ExistsForRepository(ctx, nameWithOwner)
		if err != nil {
			return err
		}
		if stillMonitored {
			return nil
		}
		r.logger.Info("deleting orphaned repository record", "repo", nameWithOwner)
		return r.repositories.DeleteByFullName(ctx, nameWithOwner)
	})
	if err != nil {
		return err
	}

	if err := r.consumers.UpdateScopeConsumer(ctx, w.ID); err != nil {
		r.logger.Error("failed to refresh consumer after monitor removal",
			"workspace_id", w.ID, "repo", nameWithOwner, "error", err)
	}
	return nil
}

// EnsureForInstallation upserts a monitor for the installation's workspace.
// It no-ops when the repository is already monitored.
func (r *Registry) EnsureForInstallation(ctx context.Context, installationID int64, nameWithOwner string, deferSync bool) error {
	w, err := r.workspaces.GetByInstallationID(ctx, installationID)
	if err != nil {
		return err
	}
	if _, err := r.monitors.Get(ctx, w.ID, nameWithOwner); err == nil {
		return nil
	} else if !apperrors.IsNotFound(err) {
		return err
	}

	m := &model.RepositoryMonitor{WorkspaceID: w.ID, NameWithOwner: nameWithOwner}
	if err := r.monitors.Create(ctx, m); err != nil {
		return err
	}
	if err := r.consumers.UpdateScopeConsumer(ctx, w.ID); err != nil {
		r.logger.Error("failed to refresh consumer after installation upsert",
			"workspace_id", w.ID, "repo", nameWithOwner, "error", err)
	}
	if !deferSync {
		r.triggerInitialSync(w.ID, nameWithOwner)
	}
	return nil
}

// EnsureInstallationRepositories reconciles the workspace's monitor set
// against a freshly enumerated installation snapshot: upserts a monitor and a
// repository record per entry, then removes monitors no longer granted,
// sparing protectedNames. Comparison is case-insensitive and the whole diff
// applies in one transaction.
//
// An empty snapshot while monitors exist is indistinguishable from a failed
// enumeration, so it never triggers mass removal.
func (r *Registry) EnsureInstallationRepositories(ctx context.Context, installationID int64,
	snapshot []model.InstallationRepositorySnapshot, protectedNames []string, deferSync bool) error {

	w, err := r.workspaces.GetByInstallationID(ctx, installationID)
	if err != nil {
		return err
	}

	existing, err := r.monitors.ListByWorkspace(ctx, w.ID)
	if err != nil {
		return err
	}
	if len(snapshot) == 0 {
		if len(existing) > 0 {
			r.logger.Warn("empty installation enumeration with monitors present, skipping reconciliation",
				"workspace_id", w.ID, "installation_id", installationID, "monitors", len(existing))
		}
		return nil
	}

	desired := make(map[string]model.InstallationRepositorySnapshot, len(snapshot))
	for _, snap := range snapshot {
		desired[strings.ToLower(snap.NameWithOwner)] = snap
	}
	protected := make(map[string]struct{}, len(protectedNames))
	for _, name := range protectedNames {
		protected[strings.ToLower(name)] = struct{}{}
	}

	var added, removed int
	err = r.tx.InTx(ctx, func(ctx context.Context) error {
		have := make(map[string]struct{}, len(existing))
		for _, m := range existing {
			have[strings.ToLower(m.NameWithOwner)] = struct{}{}
		}

		for key, snap := range desired {
			if err := r.repositories.Upsert(ctx, &model.Repository{
				ProviderRepoID: snap.ID,
				FullName:       snap.NameWithOwner,
				Name:           snap.Name,
				Private:        snap.Private,
			}); err != nil {
				return err
			}
			if _, ok := have[key]; ok {
				continue
			}
			m := &model.RepositoryMonitor{WorkspaceID: w.ID, NameWithOwner: snap.NameWithOwner}
			if err := r.monitors.Create(ctx, m); err != nil {
				return err
			}
			added++
		}

		for _, m := range existing {
			key := strings.ToLower(m.NameWithOwner)
			if _, ok := desired[key]; ok {
				continue
			}
			if _, ok := protected[key]; ok {
				r.logger.Info("keeping monitor absent from enumeration (protected)",
					"workspace_id", w.ID, "repo", m.NameWithOwner)
				continue
			}
			if err := r.monitors.Delete(ctx, w.ID, m.NameWithOwner); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if added > 0 || removed > 0 {
		r.logger.Info("reconciled installation repositories",
			"workspace_id", w.ID, "installation_id", installationID, "added", added, "removed", removed)
	}
	if err := r.consumers.UpdateScopeConsumer(ctx, w.ID); err != nil {
		r.logger.Error("failed to refresh consumer after reconciliation", "workspace_id", w.ID, "error", err)
	}
	if !deferSync && added > 0 {
		r.triggerInitialSync(w.ID, "")
	}
	return nil
}

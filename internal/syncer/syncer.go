// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
)

const (
	// Number of repositories to sync in parallel per workspace.
	concurrency = 5
)

// ProviderClient is the per-workspace provider surface a sync pass needs.
type ProviderClient interface {
	GetRepository(ctx context.Context, owner, name string) (*model.Repository, error)
	HighestIssueNumber(ctx context.Context, owner, name string) (int, error)
	CountIssueUpdatesSince(ctx context.Context, owner, name string, since time.Time) (int, time.Time, error)
}

// ClientFactory builds an authenticated client for a workspace. Wired at
// composition time so the engine stays ignorant of credential handling.
type ClientFactory func(ctx context.Context, w *model.Workspace) (ProviderClient, error)

// WorkspaceSource resolves the workspace being synced.
type WorkspaceSource interface {
	GetByID(ctx context.Context, id int64) (*model.Workspace, error)
}

// MonitorStore supplies and persists per-repository sync state.
type MonitorStore interface {
	ListByWorkspace(ctx context.Context, workspaceID int64) ([]model.RepositoryMonitor, error)
	UpdateSyncState(ctx context.Context, m *model.RepositoryMonitor) error
}

// RepositoryStore persists refreshed repository snapshots.
type RepositoryStore interface {
	Upsert(ctx context.Context, r *model.Repository) error
}

// ScopeFilter restricts which repositories are synced.
type ScopeFilter interface {
	RepositoryAllowed(nameWithOwner string) bool
}

// TxRunner scopes one monitor's writes to a transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Engine performs one full sync pass per workspace: repository metadata,
// issue/PR watermark advance and backfill high-water-mark initialization for
// every monitor. It is the concrete SyncRunner behind activation, resume and
// monitor adds.
type Engine struct {
	tx           TxRunner
	workspaces   WorkspaceSource
	monitors     MonitorStore
	repositories RepositoryStore
	scope        ScopeFilter
	clients      ClientFactory
	defaultSince time.Time
	logger       *slog.Logger
	now          func() time.Time
}

func NewEngine(tx TxRunner, workspaces WorkspaceSource, monitors MonitorStore,
	repositories RepositoryStore, scope ScopeFilter, clients ClientFactory,
	defaultSince time.Time, logger *slog.Logger) *Engine {
	return &Engine{
		tx:           tx,
		workspaces:   workspaces,
		monitors:     monitors,
		repositories: repositories,
		scope:        scope,
		clients:      clients,
		defaultSince: defaultSince,
		logger:       logger,
		now:          time.Now,
	}
}

// SyncAllRepositories runs one sync pass over every monitor of the workspace.
// Per-repository failures are logged and do not abort the pass.
func (e *Engine) SyncAllRepositories(ctx context.Context, workspaceID int64) error {
	w, err := e.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return err
	}
	client, err := e.clients(ctx, w)
	if err != nil {
		return err
	}
	monitors, err := e.monitors.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}

	logger := e.logger.With("workspace", w.Slug, "workspace_id", w.ID)
	logger.Info("starting sync pass", "monitors", len(monitors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range monitors {
		m := monitors[i]
		if !e.scope.RepositoryAllowed(m.NameWithOwner) {
			logger.Debug("repository outside configured scope", "repo", m.NameWithOwner)
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := e.tx.InTx(gctx, func(ctx context.Context) error {
				return e.syncMonitor(ctx, client, &m, logger)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("failed to sync repository", "repo", m.NameWithOwner, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("sync pass finished")
	return nil
}

// syncMonitor refreshes one repository: metadata snapshot, issues/PRs
// watermark, and the backfill high-water mark on first sight.
func (e *Engine) syncMonitor(ctx context.Context, client ProviderClient, m *model.RepositoryMonitor, logger *slog.Logger) error {
	owner, name, ok := strings.Cut(m.NameWithOwner, "/")
	if !ok {
		return &apperrors.ErrInvalidRepoFormat{Repo: m.NameWithOwner}
	}
	logger = logger.With("repo", m.NameWithOwner)

	repo, err := client.GetRepository(ctx, owner, name)
	if err != nil {
		return err
	}
	if err := e.repositories.Upsert(ctx, repo); err != nil {
		return err
	}
	syncedAt := e.now()
	m.RepoSyncedAt = &syncedAt

	since := e.defaultSince
	if m.IssuesPRsSyncedAt != nil {
		since = *m.IssuesPRsSyncedAt
	}
	updated, latest, err := client.CountIssueUpdatesSince(ctx, owner, name, since)
	if err != nil {
		return err
	}
	if updated > 0 {
		logger.Info("found issue/PR updates", "count", updated, "latest", latest.Format(time.RFC3339))
	}
	m.IssuesPRsSyncedAt = &syncedAt

	if !m.BackfillInitialized() {
		highest, err := client.HighestIssueNumber(ctx, owner, name)
		if err != nil {
			return err
		}
		m.BackfillHighWaterMark = &highest
		logger.Info("backfill high-water mark set", "high_water_mark", highest)
	}

	return e.monitors.UpdateSyncState(ctx, m)
}

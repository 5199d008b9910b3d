// internal/activation/orchestrator.go
package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"workspace-engine/internal/model"
)

const (
	// DefaultConcurrency bounds how many workspaces activate in parallel.
	DefaultConcurrency = 5

	// DefaultWorkspaceTimeout caps one workspace's sync pass per cycle.
	DefaultWorkspaceTimeout = 15 * time.Minute
)

// WorkspaceStore is the persistence surface the orchestrator needs.
type WorkspaceStore interface {
	List(ctx context.Context) ([]model.Workspace, error)
	Update(ctx context.Context, w *model.Workspace) error
}

// MonitorSource supplies the legacy fallback for deriving an account login.
type MonitorSource interface {
	FirstNameWithOwner(ctx context.Context, workspaceID int64) (string, error)
}

// ScopeFilter restricts which workspaces are activated.
type ScopeFilter interface {
	WorkspaceAllowed(w *model.Workspace) bool
}

// SyncRunner performs one full sync pass for a workspace. The concrete sync
// engine is wired in at composition time.
type SyncRunner interface {
	SyncAllRepositories(ctx context.Context, workspaceID int64) error
}

// ConsumerController starts event consumption for a workspace.
type ConsumerController interface {
	StartConsumingScope(ctx context.Context, workspaceID int64) error
}

// Orchestrator prepares derived workspace metadata and activates every
// eligible workspace concurrently: one sync pass, then the event consumer.
type Orchestrator struct {
	workspaces  WorkspaceStore
	monitors    MonitorSource
	scope       ScopeFilter
	sync        SyncRunner
	consumers   ConsumerController
	logger      *slog.Logger
	concurrency int
	timeout     time.Duration

	// Reserved guard against double-starting organization-level consumers
	// once multi-org workspaces land; today it only logs.
	mu              sync.Mutex
	startedAccounts map[string]struct{}
}

func NewOrchestrator(workspaces WorkspaceStore, monitors MonitorSource, scope ScopeFilter,
	sync SyncRunner, consumers ConsumerController, concurrency int, timeout time.Duration,
	logger *slog.Logger) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultWorkspaceTimeout
	}
	return &Orchestrator{
		workspaces:      workspaces,
		monitors:        monitors,
		scope:           scope,
		sync:            sync,
		consumers:       consumers,
		logger:          logger,
		concurrency:     concurrency,
		timeout:         timeout,
		startedAccounts: make(map[string]struct{}),
	}
}

// ActivateAll loads every workspace, ensures derived metadata, then activates
// each eligible one on a bounded worker pool. It returns once all activations
// are scheduled; a supervisory goroutine waits for the batch and logs the
// aggregate outcome. A single workspace's failure never aborts its siblings.
func (o *Orchestrator) ActivateAll(ctx context.Context) error {
	workspaces, err := o.workspaces.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workspaces: %w", err)
	}
	o.logger.Info("activating workspaces", "total", len(workspaces), "concurrency", o.concurrency)

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(o.concurrency)

	scheduled := 0
	for i := range workspaces {
		w := workspaces[i]
		if err := o.ensureDerivedMetadata(ctx, &w); err != nil {
			o.logger.Error("failed to derive workspace metadata",
				"workspace", w.Slug, "error", err)
			continue
		}
		if skip, reason := o.shouldSkip(&w); skip {
			o.logger.Debug("skipping workspace activation", "workspace", w.Slug, "reason", reason)
			continue
		}
		scheduled++
		g.Go(func() error {
			if err := o.activateOne(gctx, &w); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("workspace activation failed", "workspace", w.Slug, "error", err)
			}
			return nil
		})
	}

	count := scheduled
	go func() {
		_ = g.Wait()
		o.logger.Info("workspace activation pass finished", "scheduled", count)
	}()
	return nil
}

// ensureDerivedMetadata repairs fields older records may lack: the provider
// mode follows from the presence of an installation id, and a blank account
// login falls back to the first monitored repository's owner.
func (o *Orchestrator) ensureDerivedMetadata(ctx context.Context, w *model.Workspace) error {
	changed := false
	if w.InstallationID != nil && w.ProviderMode != model.ModeGithubAppInstallation {
		w.ProviderMode = model.ModeGithubAppInstallation
		changed = true
	}
	if w.AccountLogin == "" {
		first, err := o.monitors.FirstNameWithOwner(ctx, w.ID)
		if err != nil {
			return err
		}
		if owner, _, ok := strings.Cut(first, "/"); ok && owner != "" {
			w.AccountLogin = owner
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return o.workspaces.Update(ctx, w)
}

func (o *Orchestrator) shouldSkip(w *model.Workspace) (bool, string) {
	if w.Status != model.StatusActive {
		return true, "status " + string(w.Status)
	}
	if w.ProviderMode.UsesPAT() && !w.HasStoredToken() {
		return true, "no token configured"
	}
	if !o.scope.WorkspaceAllowed(w) {
		return true, "outside configured scope"
	}
	return false, ""
}

// activateOne runs one workspace's activation: a full sync pass first, and
// the consumer started only after the pass returns, so events never reference
// entities sync has not created yet.
func (o *Orchestrator) activateOne(ctx context.Context, w *model.Workspace) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	logger := o.logger.With("workspace", w.Slug, "workspace_id", w.ID)
	o.noteAccountStart(w.AccountLogin, logger)

	logger.Info("activating workspace")
	if err := o.sync.SyncAllRepositories(ctx, w.ID); err != nil {
		// Leave the workspace without a running consumer until the next
		// activation pass or a manual retry.
		return fmt.Errorf("sync pass failed: %w", err)
	}
	if err := o.consumers.StartConsumingScope(ctx, w.ID); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	logger.Info("workspace activated")
	return nil
}

func (o *Orchestrator) noteAccountStart(login string, logger *slog.Logger) {
	if login == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	key := strings.ToLower(login)
	if _, ok := o.startedAccounts[key]; ok {
		logger.Debug("account already has an activated workspace this pass", "account", login)
		return
	}
	o.startedAccounts[key] = struct{}{}
}

// Activate runs a single workspace's activation synchronously. Used by
// manual retry entry points.
func (o *Orchestrator) Activate(ctx context.Context, w *model.Workspace) error {
	if err := o.ensureDerivedMetadata(ctx, w); err != nil {
		return err
	}
	if skip, reason := o.shouldSkip(w); skip {
		return fmt.Errorf("workspace %q not eligible for activation: %s", w.Slug, reason)
	}
	return o.activateOne(ctx, w)
}

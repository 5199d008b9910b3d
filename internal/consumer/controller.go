// internal/consumer/controller.go
package consumer

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"workspace-engine/internal/model"
)

// Controller drives the event-stream consumer for a workspace. Start and stop
// are idempotent; update refreshes the subject list after monitor changes or
// account renames.
type Controller interface {
	StartConsumingScope(ctx context.Context, workspaceID int64) error
	StopConsumingScope(ctx context.Context, workspaceID int64) error
	UpdateScopeConsumer(ctx context.Context, workspaceID int64) error
}

// SubjectSource yields the monitors whose repositories define a workspace's
// subject set.
type SubjectSource interface {
	ListByWorkspace(ctx context.Context, workspaceID int64) ([]model.RepositoryMonitor, error)
}

// InProcessController tracks the desired consumer state per workspace. The
// broker client itself lives outside this core; an adapter wraps this
// controller and translates subject-set changes into real subscriptions.
type InProcessController struct {
	monitors SubjectSource
	logger   *slog.Logger

	mu      sync.Mutex
	running map[int64][]string // workspace id -> subscribed subjects
}

func NewInProcessController(monitors SubjectSource, logger *slog.Logger) *InProcessController {
	return &InProcessController{
		monitors: monitors,
		logger:   logger,
		running:  make(map[int64][]string),
	}
}

// SubjectFor maps a monitored repository to its event subject.
func SubjectFor(nameWithOwner string) string {
	return "repo." + strings.ToLower(strings.ReplaceAll(nameWithOwner, "/", ".")) + ".>"
}

func (c *InProcessController) subjectsFor(ctx context.Context, workspaceID int64) ([]string, error) {
	monitors, err := c.monitors.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	subjects := make([]string, 0, len(monitors))
	for _, m := range monitors {
		subjects = append(subjects, SubjectFor(m.NameWithOwner))
	}
	sort.Strings(subjects)
	return subjects, nil
}

// StartConsumingScope begins consumption for the workspace. Starting an
// already-running workspace just refreshes its subjects.
func (c *InProcessController) StartConsumingScope(ctx context.Context, workspaceID int64) error {
	subjects, err := c.subjectsFor(ctx, workspaceID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	_, wasRunning := c.running[workspaceID]
	c.running[workspaceID] = subjects
	c.mu.Unlock()

	if !wasRunning {
		c.logger.Info("started scope consumer", "workspace_id", workspaceID, "subjects", len(subjects))
	}
	return nil
}

// StopConsumingScope halts consumption. Stopping a stopped workspace is a
// no-op.
func (c *InProcessController) StopConsumingScope(ctx context.Context, workspaceID int64) error {
	c.mu.Lock()
	_, wasRunning := c.running[workspaceID]
	delete(c.running, workspaceID)
	c.mu.Unlock()

	if wasRunning {
		c.logger.Info("stopped scope consumer", "workspace_id", workspaceID)
	}
	return nil
}

// UpdateScopeConsumer refreshes the subject set of a running consumer. A
// workspace without a running consumer is left alone.
func (c *InProcessController) UpdateScopeConsumer(ctx context.Context, workspaceID int64) error {
	c.mu.Lock()
	_, isRunning := c.running[workspaceID]
	c.mu.Unlock()
	if !isRunning {
		return nil
	}

	subjects, err := c.subjectsFor(ctx, workspaceID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if _, still := c.running[workspaceID]; still {
		c.running[workspaceID] = subjects
	}
	c.mu.Unlock()
	c.logger.Debug("refreshed scope consumer subjects", "workspace_id", workspaceID, "subjects", len(subjects))
	return nil
}

// Running reports whether the workspace's consumer is active.
func (c *InProcessController) Running(workspaceID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[workspaceID]
	return ok
}

// Subjects returns a copy of the workspace's current subject set.
func (c *InProcessController) Subjects(workspaceID int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.running[workspaceID]...)
}

// internal/activation/orchestrator_test.go
package activation

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workspace-engine/internal/model"
)

type fakeWorkspaceStore struct {
	mu         sync.Mutex
	workspaces []model.Workspace
	updated    []model.Workspace
}

func (s *fakeWorkspaceStore) List(ctx context.Context) ([]model.Workspace, error) {
	return append([]model.Workspace(nil), s.workspaces...), nil
}

func (s *fakeWorkspaceStore) Update(ctx context.Context, w *model.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, *w)
	return nil
}

type fakeMonitorSource struct {
	first map[int64]string
}

func (s *fakeMonitorSource) FirstNameWithOwner(ctx context.Context, workspaceID int64) (string, error) {
	return s.first[workspaceID], nil
}

type openScope struct{}

func (openScope) WorkspaceAllowed(w *model.Workspace) bool { return true }

type denyScope struct {
	allowed string
}

func (s denyScope) WorkspaceAllowed(w *model.Workspace) bool {
	return w.AccountLogin == s.allowed
}

// activationRecorder tracks per-workspace call ordering across goroutines and
// signals when the expected number of activations finished.
type activationRecorder struct {
	mu      sync.Mutex
	order   map[int64][]string
	syncErr map[int64]error
	done    chan int64
}

func newActivationRecorder() *activationRecorder {
	return &activationRecorder{
		order:   make(map[int64][]string),
		syncErr: make(map[int64]error),
		done:    make(chan int64, 16),
	}
}

func (r *activationRecorder) SyncAllRepositories(ctx context.Context, workspaceID int64) error {
	r.mu.Lock()
	r.order[workspaceID] = append(r.order[workspaceID], "sync")
	err := r.syncErr[workspaceID]
	r.mu.Unlock()
	if err != nil {
		r.done <- workspaceID
	}
	return err
}

func (r *activationRecorder) StartConsumingScope(ctx context.Context, workspaceID int64) error {
	r.mu.Lock()
	r.order[workspaceID] = append(r.order[workspaceID], "consume")
	r.mu.Unlock()
	r.done <- workspaceID
	return nil
}

func (r *activationRecorder) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d activations, got %d", n, i)
		}
	}
}

func (r *activationRecorder) orderFor(workspaceID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order[workspaceID]...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func activeWorkspace(id int64, login string) model.Workspace {
	return model.Workspace{
		ID:           id,
		Slug:         login,
		AccountLogin: login,
		ProviderMode: model.ModePATOrg,
		SealedPAT:    "sealed",
		Status:       model.StatusActive,
	}
}

func TestOrchestrator_ActivateAll(t *testing.T) {
	ctx := context.Background()

	t.Run("syncs before starting the consumer", func(t *testing.T) {
		store := &fakeWorkspaceStore{workspaces: []model.Workspace{activeWorkspace(1, "acme")}}
		rec := newActivationRecorder()
		o := NewOrchestrator(store, &fakeMonitorSource{}, openScope{}, rec, rec, 2, time.Minute, testLogger())

		require.NoError(t, o.ActivateAll(ctx))
		rec.waitFor(t, 1)
		assert.Equal(t, []string{"sync", "consume"}, rec.orderFor(1))
	})

	t.Run("one failure never aborts siblings", func(t *testing.T) {
		store := &fakeWorkspaceStore{workspaces: []model.Workspace{
			activeWorkspace(1, "alpha"),
			activeWorkspace(2, "broken"),
			activeWorkspace(3, "gamma"),
		}}
		rec := newActivationRecorder()
		rec.syncErr[2] = assert.AnError
		o := NewOrchestrator(store, &fakeMonitorSource{}, openScope{}, rec, rec, 1, time.Minute, testLogger())

		require.NoError(t, o.ActivateAll(ctx))
		rec.waitFor(t, 3)
		assert.Equal(t, []string{"sync", "consume"}, rec.orderFor(1))
		assert.Equal(t, []string{"sync"}, rec.orderFor(2), "failed sync leaves the consumer stopped")
		assert.Equal(t, []string{"sync", "consume"}, rec.orderFor(3))
	})

	t.Run("skips ineligible workspaces", func(t *testing.T) {
		suspended := activeWorkspace(1, "suspended")
		suspended.Status = model.StatusSuspended
		tokenless := activeWorkspace(2, "tokenless")
		tokenless.SealedPAT = ""
		outOfScope := activeWorkspace(3, "other")

		store := &fakeWorkspaceStore{workspaces: []model.Workspace{
			suspended, tokenless, outOfScope, activeWorkspace(4, "acme"),
		}}
		rec := newActivationRecorder()
		o := NewOrchestrator(store, &fakeMonitorSource{}, denyScope{allowed: "acme"}, rec, rec, 2, time.Minute, testLogger())

		require.NoError(t, o.ActivateAll(ctx))
		rec.waitFor(t, 1)
		assert.Empty(t, rec.orderFor(1))
		assert.Empty(t, rec.orderFor(2))
		assert.Empty(t, rec.orderFor(3))
		assert.Equal(t, []string{"sync", "consume"}, rec.orderFor(4))
	})

	t.Run("installation workspaces need no token", func(t *testing.T) {
		installation := int64(55)
		w := model.Workspace{
			ID:             1,
			Slug:           "acme-app",
			AccountLogin:   "acme",
			ProviderMode:   model.ModeGithubAppInstallation,
			InstallationID: &installation,
			Status:         model.StatusActive,
		}
		store := &fakeWorkspaceStore{workspaces: []model.Workspace{w}}
		rec := newActivationRecorder()
		o := NewOrchestrator(store, &fakeMonitorSource{}, openScope{}, rec, rec, 2, time.Minute, testLogger())

		require.NoError(t, o.ActivateAll(ctx))
		rec.waitFor(t, 1)
		assert.Equal(t, []string{"sync", "consume"}, rec.orderFor(1))
	})
}

func TestOrchestrator_EnsureDerivedMetadata(t *testing.T) {
	ctx := context.Background()

	t.Run("derives installation mode from the installation id", func(t *testing.T) {
		installation := int64(55)
		w := model.Workspace{
			ID:             1,
			Slug:           "acme",
			AccountLogin:   "acme",
			ProviderMode:   model.ModePATOrg,
			InstallationID: &installation,
			Status:         model.StatusActive,
		}
		store := &fakeWorkspaceStore{workspaces: []model.Workspace{w}}
		rec := newActivationRecorder()
		o := NewOrchestrator(store, &fakeMonitorSource{}, openScope{}, rec, rec, 2, time.Minute, testLogger())

		require.NoError(t, o.ActivateAll(ctx))
		rec.waitFor(t, 1)

		store.mu.Lock()
		defer store.mu.Unlock()
		require.Len(t, store.updated, 1)
		assert.Equal(t, model.ModeGithubAppInstallation, store.updated[0].ProviderMode)
	})

	t.Run("falls back to the first monitor owner for a blank login", func(t *testing.T) {
		w := activeWorkspace(1, "")
		w.Slug = "legacy"
		store := &fakeWorkspaceStore{workspaces: []model.Workspace{w}}
		monitors := &fakeMonitorSource{first: map[int64]string{1: "acme/widgets"}}
		rec := newActivationRecorder()
		o := NewOrchestrator(store, monitors, openScope{}, rec, rec, 2, time.Minute, testLogger())

		require.NoError(t, o.ActivateAll(ctx))
		rec.waitFor(t, 1)

		store.mu.Lock()
		defer store.mu.Unlock()
		require.Len(t, store.updated, 1)
		assert.Equal(t, "acme", store.updated[0].AccountLogin)
	})
}

func TestOrchestrator_Activate(t *testing.T) {
	ctx := context.Background()

	t.Run("runs synchronously for eligible workspaces", func(t *testing.T) {
		w := activeWorkspace(1, "acme")
		rec := newActivationRecorder()
		o := NewOrchestrator(&fakeWorkspaceStore{}, &fakeMonitorSource{}, openScope{}, rec, rec, 2, time.Minute, testLogger())

		require.NoError(t, o.Activate(ctx, &w))
		assert.Equal(t, []string{"sync", "consume"}, rec.orderFor(1))
	})

	t.Run("refuses ineligible workspaces", func(t *testing.T) {
		w := activeWorkspace(1, "acme")
		w.Status = model.StatusPurged
		rec := newActivationRecorder()
		o := NewOrchestrator(&fakeWorkspaceStore{}, &fakeMonitorSource{}, openScope{}, rec, rec, 2, time.Minute, testLogger())

		err := o.Activate(ctx, &w)
		require.Error(t, err)
		assert.Empty(t, rec.orderFor(1))
	})
}

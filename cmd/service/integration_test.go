//go:build integration

// cmd/service/integration_test.go
package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
	"workspace-engine/internal/store"
)

func setupTestDatabase(ctx context.Context, t *testing.T) (*pgxpool.Pool, func()) {
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://../../migrations", connStr)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	dbpool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	teardown := func() {
		dbpool.Close()
		require.NoError(t, pgContainer.Terminate(ctx))
	}
	return dbpool, teardown
}

func newWorkspace(slug, login string) *model.Workspace {
	return &model.Workspace{
		Slug:         slug,
		DisplayName:  login,
		AccountLogin: login,
		AccountType:  model.AccountOrganization,
		ProviderMode: model.ModePATOrg,
		SealedPAT:    "sealed",
		Status:       model.StatusActive,
	}
}

func TestStores_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	dbpool, teardown := setupTestDatabase(ctx, t)
	defer teardown()
	stores := store.New(dbpool)

	t.Run("purged workspaces release their slug claim", func(t *testing.T) {
		first := newWorkspace("acme", "acme")
		require.NoError(t, stores.Workspaces.Create(ctx, first))

		taken, err := stores.Workspaces.SlugTaken(ctx, "acme")
		require.NoError(t, err)
		assert.True(t, taken)

		// A second live workspace on the same slug violates the live-rows
		// unique index.
		dup := newWorkspace("acme", "acme-two")
		assert.Error(t, stores.Workspaces.Create(ctx, dup))

		require.NoError(t, stores.Workspaces.UpdateStatus(ctx, first.ID, model.StatusPurged))
		taken, err = stores.Workspaces.SlugTaken(ctx, "acme")
		require.NoError(t, err)
		assert.False(t, taken, "purge releases the slug")

		reclaimed := newWorkspace("acme", "acme-two")
		require.NoError(t, stores.Workspaces.Create(ctx, reclaimed))

		// The live workspace wins slug resolution over the purged one.
		got, err := stores.Workspaces.GetBySlug(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, reclaimed.ID, got.ID)
	})

	t.Run("monitors are unique per workspace case-insensitively", func(t *testing.T) {
		w := newWorkspace("monitors", "monitors-org")
		require.NoError(t, stores.Workspaces.Create(ctx, w))

		m := &model.RepositoryMonitor{WorkspaceID: w.ID, NameWithOwner: "Acme/Widgets"}
		require.NoError(t, stores.Monitors.Create(ctx, m))

		got, err := stores.Monitors.Get(ctx, w.ID, "acme/widgets")
		require.NoError(t, err)
		assert.Equal(t, m.ID, got.ID)

		dup := &model.RepositoryMonitor{WorkspaceID: w.ID, NameWithOwner: "acme/WIDGETS"}
		assert.Error(t, stores.Monitors.Create(ctx, dup))

		exists, err := stores.Monitors.ExistsForRepository(ctx, "ACME/widgets")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("sync state round-trips through the monitor row", func(t *testing.T) {
		w := newWorkspace("sync-state", "sync-org")
		require.NoError(t, stores.Workspaces.Create(ctx, w))
		m := &model.RepositoryMonitor{WorkspaceID: w.ID, NameWithOwner: "sync-org/repo"}
		require.NoError(t, stores.Monitors.Create(ctx, m))

		mark, checkpoint := 120, 40
		syncedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		m.BackfillHighWaterMark = &mark
		m.BackfillCheckpoint = &checkpoint
		m.IssuesPRsSyncedAt = &syncedAt
		require.NoError(t, stores.Monitors.UpdateSyncState(ctx, m))

		got, err := stores.Monitors.Get(ctx, w.ID, "sync-org/repo")
		require.NoError(t, err)
		require.NotNil(t, got.BackfillHighWaterMark)
		assert.Equal(t, 120, *got.BackfillHighWaterMark)
		assert.Equal(t, 40, got.BackfillRemaining())
		require.NotNil(t, got.IssuesPRsSyncedAt)
		assert.True(t, got.IssuesPRsSyncedAt.Equal(syncedAt))
	})

	t.Run("owner retargeting rewrites only the renamed account's monitors", func(t *testing.T) {
		w := newWorkspace("rename", "old-co")
		require.NoError(t, stores.Workspaces.Create(ctx, w))
		for _, name := range []string{"old-co/a", "old-co/b", "unrelated/c"} {
			m := &model.RepositoryMonitor{WorkspaceID: w.ID, NameWithOwner: name}
			require.NoError(t, stores.Monitors.Create(ctx, m))
		}

		moved, err := stores.Monitors.RetargetOwner(ctx, w.ID, "old-co", "new-co")
		require.NoError(t, err)
		assert.Equal(t, int64(2), moved)

		monitors, err := stores.Monitors.ListByWorkspace(ctx, w.ID)
		require.NoError(t, err)
		names := make([]string, 0, len(monitors))
		for _, m := range monitors {
			names = append(names, m.NameWithOwner)
		}
		assert.ElementsMatch(t, []string{"new-co/a", "new-co/b", "unrelated/c"}, names)
	})

	t.Run("slug history records resolve and expire", func(t *testing.T) {
		w := newWorkspace("history", "history-org")
		require.NoError(t, stores.Workspaces.Create(ctx, w))

		expires := time.Now().Add(time.Hour)
		require.NoError(t, stores.SlugHistory.Record(ctx, &model.SlugHistory{
			WorkspaceID:       w.ID,
			OldSlug:           "history-old",
			NewSlug:           "history",
			ChangedAt:         time.Now(),
			RedirectExpiresAt: &expires,
		}))

		h, err := stores.SlugHistory.ActiveRedirect(ctx, "history-old", time.Now())
		require.NoError(t, err)
		require.NotNil(t, h)
		assert.Equal(t, "history", h.NewSlug)

		h, err = stores.SlugHistory.ActiveRedirect(ctx, "history-old", time.Now().Add(2*time.Hour))
		require.NoError(t, err)
		assert.Nil(t, h, "expired redirects do not resolve")
	})

	t.Run("users are deduplicated by external account id", func(t *testing.T) {
		u1, err := stores.Users.FindOrCreateByExternalID(ctx, 9001, "octocat", "https://example.test/a.png")
		require.NoError(t, err)
		u2, err := stores.Users.FindOrCreateByExternalID(ctx, 9001, "octocat-renamed", "https://example.test/a.png")
		require.NoError(t, err)
		assert.Equal(t, u1.ID, u2.ID)
		assert.Equal(t, "octocat-renamed", u2.Login)
	})

	t.Run("a failed transaction leaves nothing behind", func(t *testing.T) {
		sentinel := errors.New("boom")
		err := stores.DB.InTx(ctx, func(ctx context.Context) error {
			if err := stores.Workspaces.Create(ctx, newWorkspace("rollback", "rollback-org")); err != nil {
				return err
			}
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)

		_, err = stores.Workspaces.GetBySlug(ctx, "rollback")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

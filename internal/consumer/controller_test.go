// internal/consumer/controller_test.go
package consumer

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workspace-engine/internal/model"
)

type fakeSubjectSource struct {
	byWorkspace map[int64][]string
	err         error
}

func (s *fakeSubjectSource) ListByWorkspace(ctx context.Context, workspaceID int64) ([]model.RepositoryMonitor, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []model.RepositoryMonitor
	for _, name := range s.byWorkspace[workspaceID] {
		out = append(out, model.RepositoryMonitor{WorkspaceID: workspaceID, NameWithOwner: name})
	}
	return out, nil
}

func newController(source *fakeSubjectSource) *InProcessController {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewInProcessController(source, logger)
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "repo.acme.widgets.>", SubjectFor("Acme/Widgets"))
}

func TestInProcessController_StartStop(t *testing.T) {
	ctx := context.Background()
	source := &fakeSubjectSource{byWorkspace: map[int64][]string{
		1: {"acme/b", "acme/a"},
	}}
	c := newController(source)

	require.NoError(t, c.StartConsumingScope(ctx, 1))
	assert.True(t, c.Running(1))
	assert.Equal(t, []string{"repo.acme.a.>", "repo.acme.b.>"}, c.Subjects(1), "subjects are sorted")

	// Starting again is idempotent.
	require.NoError(t, c.StartConsumingScope(ctx, 1))
	assert.True(t, c.Running(1))

	require.NoError(t, c.StopConsumingScope(ctx, 1))
	assert.False(t, c.Running(1))
	assert.Empty(t, c.Subjects(1))

	// Stopping a stopped workspace is a no-op.
	require.NoError(t, c.StopConsumingScope(ctx, 1))
}

func TestInProcessController_Update(t *testing.T) {
	ctx := context.Background()
	source := &fakeSubjectSource{byWorkspace: map[int64][]string{
		1: {"acme/a"},
	}}
	c := newController(source)

	t.Run("refreshes a running consumer", func(t *testing.T) {
		require.NoError(t, c.StartConsumingScope(ctx, 1))
		source.byWorkspace[1] = []string{"acme/a", "acme/b"}

		require.NoError(t, c.UpdateScopeConsumer(ctx, 1))
		assert.Equal(t, []string{"repo.acme.a.>", "repo.acme.b.>"}, c.Subjects(1))
	})

	t.Run("leaves a stopped consumer stopped", func(t *testing.T) {
		require.NoError(t, c.StopConsumingScope(ctx, 1))
		require.NoError(t, c.UpdateScopeConsumer(ctx, 1))
		assert.False(t, c.Running(1))
	})

	t.Run("propagates listing failures", func(t *testing.T) {
		require.NoError(t, c.StartConsumingScope(ctx, 1))
		source.err = assert.AnError
		assert.Error(t, c.UpdateScopeConsumer(ctx, 1))
		source.err = nil
	})
}

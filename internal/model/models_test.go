// internal/model/models_test.go
package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intp(v int) *int { return &v }

func TestRepositoryMonitor_BackfillState(t *testing.T) {
	t.Run("uninitialized monitor", func(t *testing.T) {
		m := &RepositoryMonitor{}
		assert.False(t, m.BackfillInitialized())
		assert.False(t, m.BackfillComplete())
		assert.Zero(t, m.BackfillRemaining())
	})

	t.Run("zero high-water mark is complete regardless of checkpoint", func(t *testing.T) {
		m := &RepositoryMonitor{BackfillHighWaterMark: intp(0)}
		assert.True(t, m.BackfillComplete())
		assert.Zero(t, m.BackfillRemaining())

		m.BackfillCheckpoint = intp(42)
		assert.True(t, m.BackfillComplete())
		assert.Zero(t, m.BackfillRemaining())
	})

	t.Run("remaining counts down with the checkpoint", func(t *testing.T) {
		m := &RepositoryMonitor{BackfillHighWaterMark: intp(50)}
		assert.True(t, m.BackfillInitialized())
		assert.False(t, m.BackfillComplete())
		assert.Equal(t, 50, m.BackfillRemaining())

		m.BackfillCheckpoint = intp(10)
		assert.Equal(t, 10, m.BackfillRemaining())
		assert.False(t, m.BackfillComplete())

		m.BackfillCheckpoint = intp(0)
		assert.Zero(t, m.BackfillRemaining())
		assert.True(t, m.BackfillComplete())
	})

	t.Run("negative checkpoint clamps to zero remaining", func(t *testing.T) {
		m := &RepositoryMonitor{BackfillHighWaterMark: intp(5), BackfillCheckpoint: intp(-3)}
		assert.Zero(t, m.BackfillRemaining())
		assert.True(t, m.BackfillComplete())
	})
}

func TestWorkspace_Predicates(t *testing.T) {
	installation := int64(77)

	w := &Workspace{ProviderMode: ModeGithubAppInstallation, InstallationID: &installation}
	assert.True(t, w.InstallationManaged())
	assert.False(t, w.ProviderMode.UsesPAT())
	assert.False(t, w.HasStoredToken())

	pat := &Workspace{ProviderMode: ModePATOrg, SealedPAT: "sealed"}
	assert.False(t, pat.InstallationManaged())
	assert.True(t, pat.ProviderMode.UsesPAT())
	assert.True(t, pat.HasStoredToken())

	gl := &Workspace{ProviderMode: ModeGitlabPAT}
	assert.True(t, gl.ProviderMode.UsesPAT())
}

func TestRepositoryMonitor_Owner(t *testing.T) {
	m := &RepositoryMonitor{NameWithOwner: "acme/widgets"}
	assert.Equal(t, "acme", m.Owner())

	assert.Empty(t, (&RepositoryMonitor{NameWithOwner: "no-slash"}).Owner())
}

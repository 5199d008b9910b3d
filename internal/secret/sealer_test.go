// internal/secret/sealer_test.go
package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer("test-passphrase")
	require.NoError(t, err)

	sealed, err := s.Seal("ghp_secrettoken123")
	require.NoError(t, err)
	assert.NotEqual(t, "ghp_secrettoken123", sealed)

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ghp_secrettoken123", opened)
}

func TestSealer_EmptyToken(t *testing.T) {
	s, err := NewSealer("test-passphrase")
	require.NoError(t, err)

	sealed, err := s.Seal("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := s.Open("")
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestSealer_NonceMakesCiphertextUnique(t *testing.T) {
	s, err := NewSealer("test-passphrase")
	require.NoError(t, err)

	first, err := s.Seal("token")
	require.NoError(t, err)
	second, err := s.Seal("token")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestSealer_RejectsGarbage(t *testing.T) {
	s, err := NewSealer("test-passphrase")
	require.NoError(t, err)

	_, err = s.Open("not base64 at all!!!")
	assert.Error(t, err)

	_, err = s.Open("dG9vc2hvcnQ=")
	assert.Error(t, err)
}

func TestSealer_WrongKeyFailsToOpen(t *testing.T) {
	a, err := NewSealer("key-a")
	require.NoError(t, err)
	b, err := NewSealer("key-b")
	require.NoError(t, err)

	sealed, err := a.Seal("token")
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.Error(t, err)
}

func TestNewSealer_RequiresKey(t *testing.T) {
	_, err := NewSealer("")
	assert.Error(t, err)
}

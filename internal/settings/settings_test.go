package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Settings{ListID: DefaultListID}, s)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "settings.yaml")
	want := Settings{Pseudo: "Ana", ListID: "groceries"}
	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadBackfillsEmptyListID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pseudo: Ana\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Ana", s.Pseudo)
	assert.Equal(t, DefaultListID, s.ListID)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n\t- not yaml"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

package hubconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxSessions, cfg.MaxSessions)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yaml")
	cfg := DefaultConfig()
	cfg.MaxSessions = 7
	cfg.DefaultProvider = "ollama"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.MaxSessions)
	assert.Equal(t, "ollama", loaded.DefaultProvider)
}

func TestLoadExpandsHomeInCredentialsPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "hub.yaml")
	cfg := DefaultConfig()
	cfg.CredentialsPath = "~/creds.json"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "creds.json"), loaded.CredentialsPath)
}

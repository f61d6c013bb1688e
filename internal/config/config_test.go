package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Neo4j.Database, cfg.Neo4j.Database)
	assert.True(t, cfg.Neo4j.ResetOnSave)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Executor.QueueSize)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modelgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
server:
  port: "9090"
neo4j:
  uri: bolt://graph:7687
  reset_on_save: false
executor:
  queue_size: 16
`), 0o644))

	t.Setenv("NEO4J_PASSWORD", "secret")
	t.Setenv("PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "bolt://graph:7687", cfg.Neo4j.URI)
	assert.Equal(t, "secret", cfg.Neo4j.Password)
	assert.False(t, cfg.Neo4j.ResetOnSave)
	assert.Equal(t, 16, cfg.Executor.QueueSize)
	// untouched defaults survive a partial file
	assert.Equal(t, "neo4j", cfg.Neo4j.User)
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	t.Setenv("NEO4J_RESET_ON_SAVE", "maybe")
	_, err = Load("")
	assert.ErrorContains(t, err, "NEO4J_RESET_ON_SAVE")
}

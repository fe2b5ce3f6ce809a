package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replicore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
remotes:
  - id: peer1
    url: wss://peer1.example.com/sync
    push: oneShot
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9090", cfg.MetricsAddr)
	require.Len(t, cfg.Remotes, 1)
	assert.Equal(t, ModeOneShot, cfg.Remotes[0].Push)
	assert.Equal(t, ModeNone, cfg.Remotes[0].Pull)
}

func TestLoadDefaultsHeartbeatForContinuousRemote(t *testing.T) {
	path := writeConfig(t, `
remotes:
  - id: peer1
    url: wss://peer1.example.com/sync
    push: continuous
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Remotes, 1)
	assert.Equal(t, defaultHeartbeatSeconds, cfg.Remotes[0].HeartbeatSeconds)
}

func TestLoadLeavesHeartbeatZeroForOneShotRemote(t *testing.T) {
	path := writeConfig(t, `
remotes:
  - id: peer1
    url: wss://peer1.example.com/sync
    push: oneShot
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Remotes, 1)
	assert.Equal(t, 0, cfg.Remotes[0].HeartbeatSeconds)
}

func TestLoadRejectsDuplicateRemoteIDs(t *testing.T) {
	path := writeConfig(t, `
remotes:
  - id: peer1
    url: wss://a
    push: oneShot
  - id: peer1
    url: wss://b
    pull: continuous
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBothDirectionsNone(t *testing.T) {
	path := writeConfig(t, `
remotes:
  - id: peer1
    url: wss://a
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestDocIDSetBuildsLookupMap(t *testing.T) {
	r := Remote{DocIDs: []string{"a", "b", "a"}}
	set := r.DocIDSet()
	assert.Len(t, set, 2)
	assert.True(t, set["a"])
	assert.True(t, set["b"])
}

func TestDocIDSetNilWhenEmpty(t *testing.T) {
	r := Remote{}
	assert.Nil(t, r.DocIDSet())
}

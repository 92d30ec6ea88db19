package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "file", cfg.EventStore)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, ":7420", cfg.ListenAddr)
	assert.Equal(t, 72*time.Hour, cfg.VotingPeriod)
	assert.Equal(t, int64(5000), cfg.SandboxTimeMS)
	assert.Equal(t, int64(1<<20), cfg.SandboxOutputBytes)
	assert.False(t, cfg.TelemetryEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MIRROR_INSTANCE_ID", "inst-42")
	t.Setenv("MIRROR_EVENT_STORE", "sqlite")
	t.Setenv("MIRROR_BOOTSTRAP_PEERS", "ws://a:7420, ws://b:7420")
	t.Setenv("MIRROR_VOTING_PERIOD", "48h")
	t.Setenv("MIRROR_THRESHOLD", "3")
	t.Setenv("MIRROR_TELEMETRY", "true")

	cfg := Load()
	assert.Equal(t, "inst-42", cfg.InstanceID)
	assert.Equal(t, "sqlite", cfg.EventStore)
	assert.Equal(t, []string{"ws://a:7420", "ws://b:7420"}, cfg.BootstrapPeers)
	assert.Equal(t, 48*time.Hour, cfg.VotingPeriod)
	assert.Equal(t, 3, cfg.Threshold)
	assert.True(t, cfg.TelemetryEnabled)
}

func TestBadEnvValuesFallBack(t *testing.T) {
	t.Setenv("MIRROR_THRESHOLD", "many")
	t.Setenv("MIRROR_VOTING_PERIOD", "soon")
	cfg := Load()
	assert.Equal(t, 0, cfg.Threshold)
	assert.Equal(t, 72*time.Hour, cfg.VotingPeriod)
}

func TestProfileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
instance_id: inst-profile
event_store: postgres
database_url: postgres://mirror@localhost/mirror
voting_period: 24h
threshold: 2
trusted_genesis:
  - aaaa
  - bbbb
`), 0o644))

	profile, err := LoadProfile(path)
	require.NoError(t, err)

	cfg := Load()
	require.NoError(t, profile.Apply(cfg))

	assert.Equal(t, "inst-profile", cfg.InstanceID)
	assert.Equal(t, "postgres", cfg.EventStore)
	assert.Equal(t, 24*time.Hour, cfg.VotingPeriod)
	assert.Equal(t, 2, cfg.Threshold)
	assert.Equal(t, []string{"aaaa", "bbbb"}, cfg.TrustedGenesis)
	// Untouched fields keep their env defaults.
	assert.Equal(t, ":7420", cfg.ListenAddr)
}

func TestProfileBadDuration(t *testing.T) {
	p := &Profile{VotingPeriod: "whenever"}
	err := p.Apply(Load())
	require.Error(t, err)
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

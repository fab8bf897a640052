package rsm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "/dev/shm", cfg.BackingDirectory)
	assert.Equal(t, 20000, cfg.BandwidthMbps)
	assert.Equal(t, 1, cfg.LatencyMicros)
}

func TestLoadConfigOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsm.ini")
	contents := "[btl_rsm]\nbacking_directory = /tmp/rsm-test\nbandwidth_mbps = 40000\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/rsm-test", cfg.BackingDirectory)
	assert.Equal(t, 40000, cfg.BandwidthMbps)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1, cfg.LatencyMicros)
}

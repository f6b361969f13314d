package rudp

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transport.yml")
	require.NoError(t, os.WriteFile(path, []byte(
		"max_packet_size: 512\npeer_timeout: 10s\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.MaxPacketSize)
	assert.Equal(t, 10*time.Second, cfg.PeerTimeout)
	// Absent keys keep their defaults.
	assert.Equal(t, DefaultConfig().PingInterval, cfg.PingInterval)
	assert.Equal(t, DefaultConfig().MaxCommandsPerIteration, cfg.MaxCommandsPerIteration)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transport.yml")
	require.NoError(t, os.WriteFile(path, []byte("max_packet_size: 4\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

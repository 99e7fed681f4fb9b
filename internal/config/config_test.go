package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	assert := assert.New(t)

	cfg, err := Load("", nil)
	assert.Nil(err)

	assert.Equal(":8090", cfg.General.ListenAddr)
	assert.Equal(300*time.Second, cfg.Gateway.ConnectionTimeout)
	assert.Equal(30*time.Second, cfg.Gateway.HeartbeatInterval)
	assert.Equal(10000, cfg.Gateway.MaxConnections)
	assert.Equal(65536, cfg.Gateway.MaxFrameBytes)
	assert.Equal(60, cfg.Gateway.Throttling.MaxMessages)
	assert.Equal(60*time.Second, cfg.Gateway.Throttling.Window)
	assert.False(cfg.Redis.Enabled)
	assert.Equal("gateway", cfg.Redis.KeyPrefix)
	assert.True(cfg.Metrics.Enabled)
	assert.Equal(8181, cfg.Metrics.Port)
}

func TestLoadFileOverride(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.Nil(os.WriteFile(path, []byte(`
general:
  LISTEN_ADDR: ":9001"
gateway:
  THROTTLING:
    MAX_MESSAGES: 5
`), 0o600))

	cfg, err := Load(path, nil)
	assert.Nil(err)
	assert.Equal(":9001", cfg.General.ListenAddr)
	assert.Equal(5, cfg.Gateway.Throttling.MaxMessages)
	// Untouched keys keep their defaults
	assert.Equal(300*time.Second, cfg.Gateway.ConnectionTimeout)
}

func TestLoadRejectsTimeoutBelowHeartbeat(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.Nil(os.WriteFile(path, []byte(`
gateway:
  CONNECTION_TIMEOUT: 40s
  HEARTBEAT_INTERVAL: 30s
`), 0o600))

	_, err := Load(path, nil)
	assert.NotNil(err)
	assert.Contains(err.Error(), "twice the heartbeat interval")
}

func TestLoadRejectsMissingRedisHost(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.Nil(os.WriteFile(path, []byte(`
redis:
  ENABLED: true
  HOST: ""
`), 0o600))

	_, err := Load(path, nil)
	assert.NotNil(err)
	assert.Contains(err.Error(), "redis host is required")
}

func TestLoadRejectsBadListenAddr(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.Nil(os.WriteFile(path, []byte(`
general:
  LISTEN_ADDR: "not-an-address"
`), 0o600))

	_, err := Load(path, nil)
	assert.NotNil(err)
	assert.Contains(err.Error(), "listen address")
}

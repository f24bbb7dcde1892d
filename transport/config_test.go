package transport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/proxy"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 6*time.Second, cfg.ReadTimeout.Duration)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout.Duration)
	assert.Equal(t, 65535, cfg.ReadBufferSize)
	assert.Nil(t, cfg.Proxy)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noisewire.toml")
	content := `
read_timeout = "250ms"
write_timeout = "1s"
read_buffer_size = 16384

[proxy]
host = "127.0.0.1"
port = 9050
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.ReadTimeout.Duration)
	assert.Equal(t, time.Second, cfg.WriteTimeout.Duration)
	assert.Equal(t, 16384, cfg.ReadBufferSize)
	require.NotNil(t, cfg.Proxy)
	assert.Equal(t, "127.0.0.1", cfg.Proxy.Host)
	assert.Equal(t, uint16(9050), cfg.Proxy.Port)
}

func TestLoadConfigFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.toml")
	require.NoError(t, os.WriteFile(path, []byte(`read_timeout = "2s"`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout.Duration)
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout.Duration)
	assert.Equal(t, DefaultReadBufferSize, cfg.ReadBufferSize)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestDialerSelection(t *testing.T) {
	direct, err := DefaultConfig().Dialer()
	require.NoError(t, err)
	assert.Equal(t, proxy.Direct, direct, "no proxy configured means direct dialing")

	cfg := DefaultConfig()
	cfg.Proxy = &ProxyConfig{Host: "127.0.0.1", Port: 9050, Username: "user", Password: "pass"}
	socks, err := cfg.Dialer()
	require.NoError(t, err)
	assert.NotEqual(t, proxy.Direct, socks)
}

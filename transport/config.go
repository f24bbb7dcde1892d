package transport

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

const (
	// DefaultReadTimeout is the maximum time to wait when reading from a socket.
	DefaultReadTimeout = 6 * time.Second
	// DefaultWriteTimeout is the maximum time to wait when writing to a socket.
	DefaultWriteTimeout = 3 * time.Second
	// DefaultReadBufferSize is the socket read buffer size per readiness event.
	DefaultReadBufferSize = 65535
)

// Config carries the socket tuning applied to every connection a
// listener accepts or a transport dials. Constructors take it
// explicitly; there is no process-wide default state.
type Config struct {
	ReadTimeout    Duration     `toml:"read_timeout"`
	WriteTimeout   Duration     `toml:"write_timeout"`
	ReadBufferSize int          `toml:"read_buffer_size"`
	Proxy          *ProxyConfig `toml:"proxy"`
}

// ProxyConfig describes an optional SOCKS5 proxy for outbound connects.
type ProxyConfig struct {
	Host     string `toml:"host"`
	Port     uint16 `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Duration wraps time.Duration so TOML files can carry values such as "6s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements TOML text unmarshaling for durations.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// DefaultConfig returns the standard socket tuning: 6s read timeout,
// 3s write timeout, 65535-byte read buffer, no proxy.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:    Duration{DefaultReadTimeout},
		WriteTimeout:   Duration{DefaultWriteTimeout},
		ReadBufferSize: DefaultReadBufferSize,
	}
}

// LoadConfig reads a TOML configuration file, filling any omitted
// fields from DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}

	logrus.WithFields(logrus.Fields{
		"function":      "LoadConfig",
		"path":          path,
		"read_timeout":  cfg.ReadTimeout.Duration,
		"write_timeout": cfg.WriteTimeout.Duration,
		"undecoded":     len(meta.Undecoded()),
	}).Debug("Configuration loaded")

	return cfg, nil
}

// Dialer returns the dialer for outbound connections: a SOCKS5 dialer
// when a proxy is configured, the direct dialer otherwise.
func (c Config) Dialer() (proxy.Dialer, error) {
	if c.Proxy == nil {
		return proxy.Direct, nil
	}

	proxyAddr := fmt.Sprintf("%s:%d", c.Proxy.Host, c.Proxy.Port)
	var auth *proxy.Auth
	if c.Proxy.Username != "" || c.Proxy.Password != "" {
		auth = &proxy.Auth{
			User:     c.Proxy.Username,
			Password: c.Proxy.Password,
		}
	}

	dialer, err := proxy.SOCKS5("tcp", proxyAddr, auth, proxy.Direct)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Config.Dialer",
			"proxy_addr": proxyAddr,
			"error":      err.Error(),
		}).Error("Failed to create SOCKS5 dialer")
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	return dialer, nil
}

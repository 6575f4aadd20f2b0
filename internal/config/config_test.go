// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "browsergate", cfg.Logger.ServiceName)

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, int64(1280), cfg.Browser.ViewportWidth)
	assert.Equal(t, int64(800), cfg.Browser.ViewportHeight)
	assert.NotEmpty(t, cfg.Browser.UserAgent)
	assert.Equal(t, 30*time.Second, cfg.Browser.StartTimeout)

	assert.Equal(t, int64(60), cfg.Stream.Quality)
	assert.Equal(t, 400*time.Millisecond, cfg.Stream.FallbackInterval)
	assert.Equal(t, 300*time.Millisecond, cfg.Snapshot.MinInterval)

	assert.Equal(t, "https://www.booking.com", cfg.Search.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Search.NavigationTimeout)
	assert.Equal(t, 10, cfg.Search.PollAttempts)
	assert.Equal(t, 2*time.Second, cfg.Search.PollDelay)
	assert.Equal(t, 5, cfg.Search.MaxResults)

	assert.Equal(t, "0.0.0.0:7863", cfg.Server.ListenAddr)
	assert.Equal(t, 64, cfg.Server.MaxConnections)
}

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("search.max_results", 3)
	v.Set("server.listen_addr", "127.0.0.1:9000")
	v.Set("snapshot.min_interval", "150ms")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Search.MaxResults)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, 150*time.Millisecond, cfg.Snapshot.MinInterval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero viewport", func(c *Config) { c.Browser.ViewportWidth = 0 }},
		{"quality above bound", func(c *Config) { c.Stream.Quality = 150 }},
		{"negative snapshot interval", func(c *Config) { c.Snapshot.MinInterval = -time.Second }},
		{"zero poll attempts", func(c *Config) { c.Search.PollAttempts = 0 }},
		{"zero max results", func(c *Config) { c.Search.MaxResults = 0 }},
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewConfigFromViperRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("stream.quality", 0)

	_, err := NewConfigFromViper(v)
	assert.Error(t, err)
}

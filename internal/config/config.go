// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Stream   StreamConfig   `mapstructure:"stream" yaml:"stream"`
	Snapshot SnapshotConfig `mapstructure:"snapshot" yaml:"snapshot"`
	Search   SearchConfig   `mapstructure:"search" yaml:"search"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// LoggerConfig controls the zap logger construction.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls the headless browser process and its persona.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	Platform        string        `mapstructure:"platform" yaml:"platform"`
	Languages       []string      `mapstructure:"languages" yaml:"languages"`
	ViewportWidth   int64         `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int64         `mapstructure:"viewport_height" yaml:"viewport_height"`
	StartTimeout    time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
}

// StreamConfig bounds the screencast feed so bandwidth stays predictable.
type StreamConfig struct {
	Quality          int64         `mapstructure:"quality" yaml:"quality"`
	MaxWidth         int64         `mapstructure:"max_width" yaml:"max_width"`
	MaxHeight        int64         `mapstructure:"max_height" yaml:"max_height"`
	EveryNthFrame    int64         `mapstructure:"every_nth_frame" yaml:"every_nth_frame"`
	FallbackInterval time.Duration `mapstructure:"fallback_interval" yaml:"fallback_interval"`
}

// SnapshotConfig tunes the debounced still-image capture path.
type SnapshotConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
}

// SearchConfig drives the target-site extraction workflow.
type SearchConfig struct {
	BaseURL             string        `mapstructure:"base_url" yaml:"base_url"`
	NavigationTimeout   time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	OverlayTimeout      time.Duration `mapstructure:"overlay_timeout" yaml:"overlay_timeout"`
	FieldTimeout        time.Duration `mapstructure:"field_timeout" yaml:"field_timeout"`
	TypeDelay           time.Duration `mapstructure:"type_delay" yaml:"type_delay"`
	AutocompleteTimeout time.Duration `mapstructure:"autocomplete_timeout" yaml:"autocomplete_timeout"`
	ResultsTimeout      time.Duration `mapstructure:"results_timeout" yaml:"results_timeout"`
	PollAttempts        int           `mapstructure:"poll_attempts" yaml:"poll_attempts"`
	PollDelay           time.Duration `mapstructure:"poll_delay" yaml:"poll_delay"`
	MaxResults          int           `mapstructure:"max_results" yaml:"max_results"`
}

// ServerConfig controls the observer-facing HTTP/WebSocket service.
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	MaxConnections int           `mapstructure:"max_connections" yaml:"max_connections"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "browsergate")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.platform", "Win32")
	v.SetDefault("browser.languages", []string{"en-US", "en"})
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.start_timeout", "30s")

	// -- Stream --
	v.SetDefault("stream.quality", 60)
	v.SetDefault("stream.max_width", 1280)
	v.SetDefault("stream.max_height", 800)
	v.SetDefault("stream.every_nth_frame", 1)
	v.SetDefault("stream.fallback_interval", "400ms")

	// -- Snapshot --
	v.SetDefault("snapshot.min_interval", "300ms")

	// -- Search --
	v.SetDefault("search.base_url", "https://www.booking.com")
	v.SetDefault("search.navigation_timeout", "60s")
	v.SetDefault("search.overlay_timeout", "2s")
	v.SetDefault("search.field_timeout", "5s")
	v.SetDefault("search.type_delay", "100ms")
	v.SetDefault("search.autocomplete_timeout", "4s")
	v.SetDefault("search.results_timeout", "25s")
	v.SetDefault("search.poll_attempts", 10)
	v.SetDefault("search.poll_delay", "2s")
	v.SetDefault("search.max_results", 5)

	// -- Server --
	v.SetDefault("server.listen_addr", "0.0.0.0:7863")
	v.SetDefault("server.max_connections", 64)
	v.SetDefault("server.request_timeout", "120s")
}

// NewDefaultConfig creates a configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate performs basic sanity checks on values the runtime depends on.
func (c *Config) Validate() error {
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive (got %dx%d)",
			c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	if c.Stream.Quality < 1 || c.Stream.Quality > 100 {
		return fmt.Errorf("stream quality must be in [1,100] (got %d)", c.Stream.Quality)
	}
	if c.Snapshot.MinInterval < 0 {
		return fmt.Errorf("snapshot min_interval must not be negative")
	}
	if c.Search.PollAttempts < 1 {
		return fmt.Errorf("search poll_attempts must be at least 1")
	}
	if c.Search.MaxResults < 1 {
		return fmt.Errorf("search max_results must be at least 1")
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen_addr must not be empty")
	}
	return nil
}

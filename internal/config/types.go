package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Redaction RedactionConfig `yaml:"redaction" mapstructure:"redaction"`
	Fonts     FontConfig      `yaml:"fonts" mapstructure:"fonts"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Reports   ReportConfig    `yaml:"reports" mapstructure:"reports"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	RequestsPerSec float64       `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	Burst          int           `yaml:"burst" mapstructure:"burst"`
}

// RedactionConfig contains rule engine and masking configuration
type RedactionConfig struct {
	// FailMode controls what the engine returns when a rule application
	// fails: "open" returns the original text, "closed" blanks the match.
	FailMode   string   `yaml:"fail_mode" mapstructure:"fail_mode"`
	Marker     string   `yaml:"marker" mapstructure:"marker"`
	Rules      []string `yaml:"rules" mapstructure:"rules"`
	RulesFile  string   `yaml:"rules_file" mapstructure:"rules_file"`
	CustomFile string   `yaml:"custom_file" mapstructure:"custom_file"`
}

// FontConfig contains replacement-font resolution configuration
type FontConfig struct {
	FallbackFiles []string `yaml:"fallback_files" mapstructure:"fallback_files"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// CacheConfig contains the optional Redis mask-result cache configuration
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// StoreConfig contains the optional Postgres rule catalog store configuration
type StoreConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// ReportConfig contains batch report export configuration
type ReportConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Format  string `yaml:"format" mapstructure:"format"` // parquet, csv, or json
	Dir     string `yaml:"dir" mapstructure:"dir"`
}

// WebSocketConfig contains WebSocket progress event configuration
type WebSocketConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	Path               string `yaml:"path" mapstructure:"path"`
	BroadcastProgress  bool   `yaml:"broadcast_progress" mapstructure:"broadcast_progress"`
	BroadcastDetection bool   `yaml:"broadcast_detection" mapstructure:"broadcast_detection"`
	BroadcastSystem    bool   `yaml:"broadcast_system" mapstructure:"broadcast_system"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:           8090,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestsPerSec: 50,
			Burst:          100,
		},
		Redaction: RedactionConfig{
			FailMode: "open",
			Marker:   "*",
			Rules:    []string{"name"},
		},
		Fonts: FontConfig{
			FallbackFiles: []string{
				"C:/Windows/Fonts/simsun.ttc",
				"C:/Windows/Fonts/simhei.ttf",
				"C:/Windows/Fonts/msyh.ttc",
				"/usr/share/fonts/truetype/arphic/uming.ttc",
				"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
				"/System/Library/Fonts/STHeiti Light.ttc",
			},
		},
		Cache: CacheConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			DefaultTTL:     time.Hour,
			KeyPrefix:      "veildoc:mask:",
		},
		Store: StoreConfig{
			Enabled:         false,
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Reports: ReportConfig{
			Enabled: true,
			Format:  "parquet",
			Dir:     "./reports",
		},
		WebSocket: WebSocketConfig{
			Enabled:            true,
			Path:               "/ws",
			BroadcastProgress:  true,
			BroadcastDetection: true,
			BroadcastSystem:    true,
		},
	}
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	return cfg
}

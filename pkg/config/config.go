// Package config provides YAML-based configuration loading for facews.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
    // AppName optional logical name used in logs
    AppName string `mapstructure:"app_name"`

    // Log holds logging configuration
    Log LogConfig `mapstructure:"log"`

    // Stages holds the two stage endpoints and protocol timeouts
    Stages StagesConfig `mapstructure:"stages"`

    // Cache controls the on-disk embedding cache
    Cache CacheConfig `mapstructure:"cache"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level"`
    // Format: console or json
    Format string `mapstructure:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs"`

    // Rotation controls file rotation when writing to files
    Rotation RotationConfig `mapstructure:"rotation"`
    // Development toggles development-friendly logging options
    Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}

// StagesConfig locates the two processing stages.
type StagesConfig struct {
    // Transport: ws, quic, or mem
    Transport string `mapstructure:"transport"`
    // AlignAddr is the alignment stage endpoint, e.g. ws://localhost:8888/align
    AlignAddr string `mapstructure:"align_addr"`
    // EmbedAddr is the embedding stage endpoint, e.g. ws://localhost:8889/embed
    EmbedAddr string `mapstructure:"embed_addr"`

    ConnectTimeoutMS int `mapstructure:"connect_timeout_ms"`
    RequestTimeoutMS int `mapstructure:"request_timeout_ms"`

    // MaxMessageBytes caps inbound frames on transports that enforce one
    MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
}

// CacheConfig controls the embedding store.
type CacheConfig struct {
    Enable bool   `mapstructure:"enable"`
    Dir    string `mapstructure:"dir"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        AppName: "facews",
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/facews.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Stages: StagesConfig{
            Transport:        "ws",
            AlignAddr:        "ws://localhost:8888/align",
            EmbedAddr:        "ws://localhost:8889/embed",
            ConnectTimeoutMS: 10000,
            RequestTimeoutMS: 30000,
            MaxMessageBytes:  1 << 20,
        },
        Cache: CacheConfig{
            Enable: false,
            Dir:    "./data/embeddings",
        },
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment
// overrides. Environment variables use the prefix FACEWS and `.`/`-`
// are replaced with `_`. Example: FACEWS_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("FACEWS")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    // seed defaults for viper so env-only configs work
    v.SetDefault("app_name", cfg.AppName)
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
    v.SetDefault("stages.transport", cfg.Stages.Transport)
    v.SetDefault("stages.align_addr", cfg.Stages.AlignAddr)
    v.SetDefault("stages.embed_addr", cfg.Stages.EmbedAddr)
    v.SetDefault("stages.connect_timeout_ms", cfg.Stages.ConnectTimeoutMS)
    v.SetDefault("stages.request_timeout_ms", cfg.Stages.RequestTimeoutMS)
    v.SetDefault("stages.max_message_bytes", cfg.Stages.MaxMessageBytes)
    v.SetDefault("cache.enable", cfg.Cache.Enable)
    v.SetDefault("cache.dir", cfg.Cache.Dir)

    // Choose config file
    if path == "" {
        if envPath := os.Getenv("FACEWS_CONFIG"); envPath != "" {
            path = envPath
        }
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        // Search common locations with base name `facews`
        v.SetConfigName("facews")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".facews"))
        }
    }

    // Read config file if present; if not found, continue with defaults/env
    if err := v.ReadInConfig(); err != nil {
        var notFound viper.ConfigFileNotFoundError
        if !errors.As(err, &notFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    if err := v.Unmarshal(&cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

func (c *Config) validate() error {
    lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
    switch lvl {
    case "debug", "info", "warn", "warning", "error":
        // ok
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }

    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }

    c.Stages.Transport = strings.ToLower(strings.TrimSpace(c.Stages.Transport))
    switch c.Stages.Transport {
    case "ws", "quic", "mem":
        // ok
    default:
        return fmt.Errorf("invalid stages.transport: %q", c.Stages.Transport)
    }
    if strings.TrimSpace(c.Stages.AlignAddr) == "" || strings.TrimSpace(c.Stages.EmbedAddr) == "" {
        return fmt.Errorf("both stages.align_addr and stages.embed_addr are required")
    }
    if c.Cache.Enable && strings.TrimSpace(c.Cache.Dir) == "" {
        return fmt.Errorf("cache.dir is required when cache.enable is set")
    }
    return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}

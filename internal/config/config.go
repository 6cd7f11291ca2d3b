package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/archivist/internal/otel"
)

const (
	DefaultBindAddr     = "127.0.0.1:18790"
	DefaultScanSchedule = "0 */6 * * *"

	// MaxTimeoutDays is the platform ceiling for member timeouts.
	MaxTimeoutDays = 28
)

// ErrInvalidConfig wraps every validation failure returned by Load.
var ErrInvalidConfig = errors.New("invalid config")

type DiscordConfig struct {
	Token         string `yaml:"token"`
	ApplicationID string `yaml:"application_id"`
	GuildID       string `yaml:"guild_id"`
	Enabled       bool   `yaml:"enabled"`
}

type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
	Enabled    bool    `yaml:"enabled"`
}

type ChannelsConfig struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// StoreConfig selects the record store backend. Path is relative to the home dir unless absolute.
type StoreConfig struct {
	Backend string `yaml:"backend"` // json | sqlite
	Path    string `yaml:"path"`
}

type ScanConfig struct {
	// Schedule is a five-field cron expression. Empty disables scheduled scans.
	Schedule string `yaml:"schedule"`
	// Sync persists discovered drift instead of only reporting it.
	Sync bool `yaml:"sync"`
}

type AnalyzerConfig struct {
	SyntaxTree *bool `yaml:"syntax_tree,omitempty"`
}

// SyntaxTreeEnabled defaults to true when unset.
func (a AnalyzerConfig) SyntaxTreeEnabled() bool {
	return a.SyntaxTree == nil || *a.SyntaxTree
}

type ModerationConfig struct {
	MaxTimeoutDays int `yaml:"max_timeout_days"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	// APIToken guards the /api endpoints with bearer auth when set.
	APIToken string `yaml:"api_token"`
	LogLevel string `yaml:"log_level"`

	Channels   ChannelsConfig   `yaml:"channels"`
	Store      StoreConfig      `yaml:"store"`
	Scan       ScanConfig       `yaml:"scan"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Moderation ModerationConfig `yaml:"moderation"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	OTel       otel.Config      `yaml:"otel"`

	// Missing is set when no config.yaml exists yet.
	Missing bool `yaml:"-"`
}

// Fingerprint identifies the effective non-secret configuration for status output.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|store=%s:%s|scan=%s:%t|guild=%s",
		c.BindAddr, c.LogLevel, c.Store.Backend, c.Store.Path, c.Scan.Schedule, c.Scan.Sync, c.Channels.Discord.GuildID)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// StorePath resolves the record store location.
func (c Config) StorePath() string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(c.HomeDir, c.Store.Path)
}

func defaultConfig() Config {
	return Config{
		BindAddr: DefaultBindAddr,
		LogLevel: "info",
		Store: StoreConfig{
			Backend: "json",
			Path:    "archives.json",
		},
		Scan: ScanConfig{
			Schedule: DefaultScanSchedule,
		},
		Moderation: ModerationConfig{
			MaxTimeoutDays: MaxTimeoutDays,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("ARCHIVIST_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".archivist")
}

func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create archivist home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
		cfg.Missing = true
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = DefaultBindAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "json"
	}
	if strings.TrimSpace(cfg.Store.Path) == "" {
		if cfg.Store.Backend == "sqlite" {
			cfg.Store.Path = "archivist.db"
		} else {
			cfg.Store.Path = "archives.json"
		}
	}
	if cfg.Moderation.MaxTimeoutDays <= 0 || cfg.Moderation.MaxTimeoutDays > MaxTimeoutDays {
		cfg.Moderation.MaxTimeoutDays = MaxTimeoutDays
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 60
	}
	if cfg.RateLimit.BurstSize <= 0 {
		cfg.RateLimit.BurstSize = 10
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "archivist"
	}
}

// Validate reports configuration that cannot start a runtime.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("%w: store.backend %q (supported: json, sqlite)", ErrInvalidConfig, c.Store.Backend)
	}
	d := c.Channels.Discord
	if d.Enabled {
		if strings.TrimSpace(d.Token) == "" {
			return fmt.Errorf("%w: channels.discord.token is required when discord is enabled", ErrInvalidConfig)
		}
		if strings.TrimSpace(d.GuildID) == "" {
			return fmt.Errorf("%w: channels.discord.guild_id is required when discord is enabled", ErrInvalidConfig)
		}
	}
	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		return fmt.Errorf("%w: channels.telegram.token is required when telegram is enabled", ErrInvalidConfig)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("ARCHIVIST_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("ARCHIVIST_API_TOKEN"); raw != "" {
		cfg.APIToken = raw
	}
	if raw := os.Getenv("ARCHIVIST_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("ARCHIVIST_STORE_BACKEND"); raw != "" {
		cfg.Store.Backend = raw
	}
	if raw := os.Getenv("ARCHIVIST_SCAN_SYNC"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Scan.Sync = v
		}
	}
	if raw := os.Getenv("DISCORD_TOKEN"); raw != "" {
		cfg.Channels.Discord.Token = raw
		cfg.Channels.Discord.Enabled = true
	}
	if raw := os.Getenv("DISCORD_GUILD_ID"); raw != "" {
		cfg.Channels.Discord.GuildID = raw
	}
	if raw := os.Getenv("DISCORD_APPLICATION_ID"); raw != "" {
		cfg.Channels.Discord.ApplicationID = raw
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Channels.Telegram.Token = raw
	}
}

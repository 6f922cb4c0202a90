package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"ctf-assistant/internal/utils"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	DiscordToken  string          `yaml:"discord_token"`
	MongoURI      string          `yaml:"mongodb_uri"`
	LogLevel      string          `yaml:"log_level"`
	Env           string          `yaml:"env"`
	Commands      CommandsConfig  `yaml:"commands"`
	Health        HealthConfig    `yaml:"health"`
	Poller        PollerConfig    `yaml:"poller"`
	Platform      PlatformConfig  `yaml:"platform"`
	Notifications NotifyConfig    `yaml:"notifications"`
	Dashboard     DashboardConfig `yaml:"dashboard"`
}

type CommandsConfig struct {
	GuildID string `yaml:"guild_id"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type PollerConfig struct {
	Enabled               bool   `yaml:"enabled"`
	IntervalSeconds       int    `yaml:"interval_seconds"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	MaxRetries            int    `yaml:"max_retries"`
	PageSize              int    `yaml:"page_size"`
	MaxPages              int    `yaml:"max_pages"`
	SkewMarginSeconds     int    `yaml:"skew_margin_seconds"`
	LockPath              string `yaml:"lock_path"`
}

type PlatformConfig struct {
	BaseURL string `yaml:"base_url"`
}

type NotifyConfig struct {
	EmbedColor         int    `yaml:"embed_color"`
	Currency           string `yaml:"currency"`
	BurstLimit         int    `yaml:"burst_limit"`
	BurstWindowSeconds int    `yaml:"burst_window_seconds"`
}

type DashboardConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Addr              string   `yaml:"addr"`
	PublicURL         string   `yaml:"public_url"`
	SessionSecret     string   `yaml:"session_secret"`
	AdminIDs          []string `yaml:"admin_ids"`
	OAuthClientID     string   `yaml:"oauth_client_id"`
	OAuthClientSecret string   `yaml:"oauth_client_secret"`
	APIBaseURL        string   `yaml:"api_base_url"`
	CORSOrigins       []string `yaml:"cors_origins"`
}

func DefaultConfig() Config {
	return Config{
		MongoURI: "mongodb://mongo:27017/ctf-bot",
		LogLevel: "info",
		Env:      EnvProduction,
		Health:   HealthConfig{Enabled: false, Addr: ":8080"},
		Poller: PollerConfig{
			Enabled:               true,
			IntervalSeconds:       60,
			RequestTimeoutSeconds: 10,
			MaxRetries:            3,
			PageSize:              20,
			MaxPages:              5,
			SkewMarginSeconds:     30,
			LockPath:              utils.DefaultLockPath("poller"),
		},
		Platform: PlatformConfig{BaseURL: "https://api.trakteer.id/v1/public/"},
		Notifications: NotifyConfig{
			EmbedColor:         0xBE1E2D,
			Currency:           "Rp",
			BurstLimit:         5,
			BurstWindowSeconds: 5,
		},
		Dashboard: DashboardConfig{
			Enabled:    false,
			Addr:       ":3000",
			PublicURL:  "http://localhost:3000",
			APIBaseURL: "https://api.assistant.dimasc.tf/",
		},
	}
}

// Load reads defaults, then CONFIG_PATH (or config.yaml), then the environment.
// A .env file in the working directory is merged into the environment first.
func Load() (Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit file path. An empty path falls back to
// CONFIG_PATH and then config.yaml. A missing file is not an error.
func LoadFrom(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	cfg.Env = normalizeEnv(cfg.Env)
	if !strings.HasSuffix(cfg.Platform.BaseURL, "/") {
		cfg.Platform.BaseURL += "/"
	}

	return cfg, nil
}

// Validate checks the settings needed by the bot process.
func (c Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}
	if c.MongoURI == "" {
		return errors.New("MONGODB_URI is required")
	}
	if c.Poller.IntervalSeconds <= 0 {
		return errors.New("poller interval must be positive")
	}
	if c.Poller.SkewMarginSeconds < 0 {
		return errors.New("poller skew margin cannot be negative")
	}
	if c.Dashboard.Enabled {
		if len(c.Dashboard.SessionSecret) < 16 {
			return errors.New("DASHBOARD_SESSION_SECRET must be at least 16 characters when the dashboard is enabled")
		}
		if c.Dashboard.OAuthClientID == "" || c.Dashboard.OAuthClientSecret == "" {
			return errors.New("DISCORD_CLIENT_ID and DISCORD_CLIENT_SECRET are required when the dashboard is enabled")
		}
		if len(nonEmpty(c.Dashboard.AdminIDs)) == 0 {
			return errors.New("DASHBOARD_ADMIN_IDS must list at least one admin when the dashboard is enabled")
		}
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.MongoURI = envString("MONGODB_URI", cfg.MongoURI)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = envString("APP_ENV", cfg.Env)
	cfg.Commands.GuildID = envString("COMMANDS_GUILD_ID", cfg.Commands.GuildID)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Poller.Enabled = envBool("POLLER_ENABLED", cfg.Poller.Enabled)
	cfg.Poller.IntervalSeconds = envInt("POLLER_INTERVAL_SECONDS", cfg.Poller.IntervalSeconds)
	cfg.Poller.RequestTimeoutSeconds = envInt("POLLER_REQUEST_TIMEOUT_SECONDS", cfg.Poller.RequestTimeoutSeconds)
	cfg.Poller.MaxRetries = envInt("POLLER_MAX_RETRIES", cfg.Poller.MaxRetries)
	cfg.Poller.PageSize = envInt("POLLER_PAGE_SIZE", cfg.Poller.PageSize)
	cfg.Poller.MaxPages = envInt("POLLER_MAX_PAGES", cfg.Poller.MaxPages)
	cfg.Poller.SkewMarginSeconds = envInt("POLLER_SKEW_MARGIN_SECONDS", cfg.Poller.SkewMarginSeconds)
	cfg.Poller.LockPath = envString("POLLER_LOCK_PATH", cfg.Poller.LockPath)
	cfg.Platform.BaseURL = envString("DONATION_API_BASE_URL", cfg.Platform.BaseURL)
	cfg.Notifications.EmbedColor = envInt("EMBED_COLOR", cfg.Notifications.EmbedColor)
	cfg.Notifications.Currency = envString("NOTIFY_CURRENCY", cfg.Notifications.Currency)
	cfg.Notifications.BurstLimit = envInt("NOTIFY_BURST_LIMIT", cfg.Notifications.BurstLimit)
	cfg.Notifications.BurstWindowSeconds = envInt("NOTIFY_BURST_WINDOW_SECONDS", cfg.Notifications.BurstWindowSeconds)
	cfg.Dashboard.Enabled = envBool("DASHBOARD_ENABLED", cfg.Dashboard.Enabled)
	cfg.Dashboard.Addr = envString("DASHBOARD_ADDR", cfg.Dashboard.Addr)
	cfg.Dashboard.PublicURL = envString("DASHBOARD_PUBLIC_URL", cfg.Dashboard.PublicURL)
	cfg.Dashboard.SessionSecret = envString("DASHBOARD_SESSION_SECRET", cfg.Dashboard.SessionSecret)
	cfg.Dashboard.AdminIDs = envList("DASHBOARD_ADMIN_IDS", cfg.Dashboard.AdminIDs)
	cfg.Dashboard.OAuthClientID = envString("DISCORD_CLIENT_ID", cfg.Dashboard.OAuthClientID)
	cfg.Dashboard.OAuthClientSecret = envString("DISCORD_CLIENT_SECRET", cfg.Dashboard.OAuthClientSecret)
	cfg.Dashboard.APIBaseURL = envString("NEXT_PUBLIC_API_BASE_URL", cfg.Dashboard.APIBaseURL)
	cfg.Dashboard.CORSOrigins = envList("DASHBOARD_CORS_ORIGINS", cfg.Dashboard.CORSOrigins)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 0, 64); err == nil {
			return int(parsed)
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func normalizeEnv(value string) string {
	switch strings.ToLower(value) {
	case "dev", "development", "local":
		return EnvDevelopment
	default:
		return EnvProduction
	}
}

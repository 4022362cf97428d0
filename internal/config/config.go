package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration for hemotrack
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Security  SecurityConfig  `mapstructure:"security" yaml:"security"`
	Reminders RemindersConfig `mapstructure:"reminders" yaml:"reminders"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Remote    RemoteConfig    `mapstructure:"remote" yaml:"remote"`
	Weather   WeatherConfig   `mapstructure:"weather" yaml:"weather"`
	Channels  ChannelsConfig  `mapstructure:"channels" yaml:"channels"`
	Device    DeviceConfig    `mapstructure:"device" yaml:"device"`

	path string
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address" yaml:"address"`
	Port         int    `mapstructure:"port" yaml:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir" yaml:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path" yaml:"badger_path"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// SecurityConfig holds local API security settings
type SecurityConfig struct {
	JWTSecret     string   `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	PasswordHash  string   `mapstructure:"password_hash" yaml:"password_hash"` // bcrypt
	TokenTTLHours int      `mapstructure:"token_ttl_hours" yaml:"token_ttl_hours"`
	AllowOrigins  []string `mapstructure:"allow_origins" yaml:"allow_origins"`
}

// RemindersConfig holds prophylaxis reminder settings
type RemindersConfig struct {
	Timezone         string `mapstructure:"timezone" yaml:"timezone"`
	LogInfusionOnYes bool   `mapstructure:"log_infusion_on_yes" yaml:"log_infusion_on_yes"`
	// ExactAlarms seeds the exact alarm permission on first run.
	ExactAlarms bool `mapstructure:"exact_alarms" yaml:"exact_alarms"`
}

// SyncConfig holds cloud replication settings
type SyncConfig struct {
	Enabled       bool        `mapstructure:"enabled" yaml:"enabled"`
	Schedule      string      `mapstructure:"schedule" yaml:"schedule"`
	Backend       string      `mapstructure:"backend" yaml:"backend"` // rest, redis
	BatchSize     int         `mapstructure:"batch_size" yaml:"batch_size"`
	RatePerSecond float64     `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	REST          RESTMirror  `mapstructure:"rest" yaml:"rest"`
	Redis         RedisMirror `mapstructure:"redis" yaml:"redis"`
}

type RESTMirror struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	Root      string `mapstructure:"root" yaml:"root"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
	Timeout   int    `mapstructure:"timeout" yaml:"timeout"`
}

type RedisMirror struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// RemoteConfig holds the backend used for session issuance and log upload
type RemoteConfig struct {
	BaseURL           string `mapstructure:"base_url" yaml:"base_url"`
	TokenURL          string `mapstructure:"token_url" yaml:"token_url"`
	ClientID          string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret      string `mapstructure:"client_secret" yaml:"client_secret"`
	Timeout           int    `mapstructure:"timeout" yaml:"timeout"`
	LogUploadEnabled  bool   `mapstructure:"log_upload_enabled" yaml:"log_upload_enabled"`
	LogUploadSchedule string `mapstructure:"log_upload_schedule" yaml:"log_upload_schedule"`
}

// WeatherConfig holds weather sampling settings
type WeatherConfig struct {
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`
	Latitude  float64 `mapstructure:"latitude" yaml:"latitude"`
	Longitude float64 `mapstructure:"longitude" yaml:"longitude"`
	Schedule  string  `mapstructure:"schedule" yaml:"schedule"`
}

// ChannelsConfig holds notification channel settings
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord" yaml:"discord"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	BotToken string `mapstructure:"bot_token" yaml:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id" yaml:"chat_id"`
}

// DiscordConfig holds Discord bot settings
type DiscordConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Token     string `mapstructure:"token" yaml:"token"`
	ChannelID string `mapstructure:"channel_id" yaml:"channel_id"`
}

// DeviceConfig holds the MQTT gateway settings for paired sensors
type DeviceConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker      string `mapstructure:"broker" yaml:"broker"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	dataDir = expandPath(dataDir)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "hemotrack.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = DefaultConfigPath(dataDir)
	}
	configPath = expandPath(configPath)

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (HEMOTRACK_SERVER_PORT, HEMOTRACK_SYNC_BACKEND, etc.)
	v.SetEnvPrefix("HEMOTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.path = configPath

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Watch logs edits to the config file. Reminder policies live in the database,
// so a restart is still needed for server or channel changes.
func Watch(configPath string, logger *zap.Logger, onChange func()) {
	if _, err := os.Stat(configPath); err != nil {
		return
	}
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		logger.Warn("Config watch disabled", zap.Error(err))
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("Config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		if onChange != nil {
			onChange()
		}
	})
	v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 8420)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", true)

	v.SetDefault("security.token_ttl_hours", 24*7)
	v.SetDefault("security.allow_origins", []string{"*"})

	v.SetDefault("reminders.timezone", "Local")
	v.SetDefault("reminders.log_infusion_on_yes", true)
	v.SetDefault("reminders.exact_alarms", true)

	v.SetDefault("sync.enabled", false)
	v.SetDefault("sync.schedule", "@every 15m")
	v.SetDefault("sync.backend", "rest")
	v.SetDefault("sync.batch_size", 200)
	v.SetDefault("sync.rate_per_second", 20)
	v.SetDefault("sync.rest.root", "installations")
	v.SetDefault("sync.rest.timeout", 15)
	v.SetDefault("sync.redis.addr", "127.0.0.1:6379")
	v.SetDefault("sync.redis.prefix", "hemotrack")

	v.SetDefault("remote.timeout", 15)
	v.SetDefault("remote.log_upload_schedule", "@every 6h")

	v.SetDefault("weather.base_url", "https://api.open-meteo.com")
	v.SetDefault("weather.schedule", "@every 1h")

	v.SetDefault("device.client_id", "hemotrack")
	v.SetDefault("device.topic_prefix", "hemotrack/devices")
}

// DefaultDataDir returns $XDG_DATA_HOME/hemotrack or ~/.local/share/hemotrack
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "hemotrack")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "hemotrack")
}

// DefaultConfigPath returns the config file location inside dataDir
func DefaultConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "hemotrack.yaml")
}

// loadEnvOverrides resolves secrets that may come from alias variables
func loadEnvOverrides(cfg *Config) {
	if v := ResolveEnvWithAliases("HEMOTRACK_CHANNELS_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Channels.Telegram.BotToken = v
	}
	if v := ResolveEnvWithAliases("HEMOTRACK_CHANNELS_DISCORD_TOKEN"); v != "" {
		cfg.Channels.Discord.Token = v
	}
	if v := ResolveEnvWithAliases("HEMOTRACK_SECURITY_JWT_SECRET"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := ResolveEnvWithAliases("HEMOTRACK_SYNC_REST_AUTH_TOKEN"); v != "" {
		cfg.Sync.REST.AuthToken = v
	}
	if v := ResolveEnvWithAliases("HEMOTRACK_REMOTE_CLIENT_SECRET"); v != "" {
		cfg.Remote.ClientSecret = v
	}
	if port := os.Getenv("HEMOTRACK_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}

	if cfg.Sync.Enabled {
		switch cfg.Sync.Backend {
		case "rest":
			if cfg.Sync.REST.BaseURL == "" {
				return fmt.Errorf("sync.rest.base_url is required when sync backend is rest")
			}
		case "redis":
			if cfg.Sync.Redis.Addr == "" {
				return fmt.Errorf("sync.redis.addr is required when sync backend is redis")
			}
		default:
			return fmt.Errorf("unknown sync backend %q", cfg.Sync.Backend)
		}
		if cfg.Sync.BatchSize <= 0 {
			return fmt.Errorf("sync.batch_size must be positive")
		}
	}

	if cfg.Weather.Enabled && cfg.Weather.Latitude == 0 && cfg.Weather.Longitude == 0 {
		return fmt.Errorf("weather.latitude and weather.longitude are required when weather is enabled")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("channels.telegram.bot_token is required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && (cfg.Channels.Discord.Token == "" || cfg.Channels.Discord.ChannelID == "") {
		return fmt.Errorf("channels.discord.token and channel_id are required when discord is enabled")
	}

	if cfg.Device.Enabled && cfg.Device.Broker == "" {
		return fmt.Errorf("device.broker is required when the device gateway is enabled")
	}

	// Generate JWT secret if not provided; tokens then only survive this process.
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = generateRandomString(32)
	}

	return nil
}

func generateRandomString(n int) string {
	b := make([]byte, n/2)
	if _, err := rand.Read(b); err != nil {
		return strings.Repeat("x", n)
	}
	return hex.EncodeToString(b)
}

// Path returns the config file this configuration was loaded from
func (c *Config) Path() string {
	return c.path
}

// Location resolves the reminder timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Reminders.Timezone == "" || c.Reminders.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Reminders.Timezone)
}

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	appLog "showsched/internal/log"
	"showsched/internal/tz"
)

const (
	defaultListen         = "127.0.0.1:8080"
	defaultMaxOccurrences = 500
	defaultSeparator      = " | "
	defaultChannel        = "showsched"
)

// Environment variables that override the file.
const (
	EnvListen    = "SHOWSCHED_LISTEN"
	EnvDatabase  = "SHOWSCHED_DATABASE"
	EnvRedisAddr = "SHOWSCHED_REDIS_ADDR"
	EnvLogLevel  = "SHOWSCHED_LOG_LEVEL"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RedisConfig enables change notifications. An empty Addr disables them.
type RedisConfig struct {
	Addr    string `yaml:"addr" json:"addr"`
	Channel string `yaml:"channel" json:"channel"`
}

// MetadataConfig points at the content API serving work metadata.
type MetadataConfig struct {
	// BaseURL is the API root; empty means titles fall back to event names
	// and runtimes to 0.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// CacheDir keeps the last good response per work for offline use.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// ShowtimeDefaults fill template fields a request leaves empty.
type ShowtimeDefaults struct {
	Format           string `yaml:"format" json:"format"`
	Language         string `yaml:"language" json:"language"`
	TicketsAvailable int    `yaml:"tickets_available" json:"tickets_available"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA operating timezone. Calendar days are always
	// derived in this zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Database is the sqlite file path. Empty keeps everything in memory.
	Database string `yaml:"database" json:"database"`

	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Metadata MetadataConfig `yaml:"metadata" json:"metadata"`

	// StatsReport is a cron expression (e.g. "0 * * * *") for the periodic
	// inventory report. Empty disables it.
	StatsReport string `yaml:"stats_report" json:"stats_report"`

	// MaxOccurrences caps recurrence expansion.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	ShowtimeDefaults ShowtimeDefaults `yaml:"showtime_defaults" json:"showtime_defaults"`

	// TitleSeparator joins showtime labels in derived event titles.
	TitleSeparator string `yaml:"title_separator" json:"title_separator"`

	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		Timezone:       tz.Operating,
		Redis:          RedisConfig{Channel: defaultChannel},
		Metadata:       MetadataConfig{CacheDir: filepath.Join(os.TempDir(), "showsched-metadata")},
		MaxOccurrences: defaultMaxOccurrences,
		ShowtimeDefaults: ShowtimeDefaults{
			Format:           "2D",
			Language:         "VO",
			TicketsAvailable: 100,
		},
		TitleSeparator: defaultSeparator,
		CORSOrigins:    []string{},
		LogLevel:       "info",
		LogEncoding:    "json",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = tz.Operating
	}
	if _, err := tz.Load(c.Timezone); err != nil {
		appLog.Error("config: unknown timezone, using operating default", err, "timezone", c.Timezone)
		c.Timezone = tz.Operating
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = defaultChannel
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = defaultMaxOccurrences
	}
	if c.ShowtimeDefaults.TicketsAvailable < 0 {
		c.ShowtimeDefaults.TicketsAvailable = 0
	}
	if c.TitleSeparator == "" {
		c.TitleSeparator = defaultSeparator
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{}
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}

	c.StatsReport = strings.TrimSpace(c.StatsReport)
	if c.StatsReport != "" {
		if _, err := cron.ParseStandard(c.StatsReport); err != nil {
			appLog.Error("config: invalid stats_report schedule, report disabled", err, "stats_report", c.StatsReport)
			c.StatsReport = ""
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = "info"
	}
	switch c.LogEncoding {
	case "json", "console":
	default:
		c.LogEncoding = "json"
	}
}

// LoadEnvFiles reads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays SHOWSCHED_* variables on c.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v, ok := os.LookupEnv(EnvDatabase); ok {
		c.Database = v
	}
	if v, ok := os.LookupEnv(EnvRedisAddr); ok {
		c.Redis.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	c.Normalize()
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".showsched-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}

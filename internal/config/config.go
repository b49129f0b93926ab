package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Status   StatusConfig   `yaml:"status"`
	Backup   BackupConfig   `yaml:"backup"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthUser binds one bearer token to one user account. The token itself
// never appears in YAML; it is resolved from the named environment variable.
type AuthUser struct {
	UserID   string `yaml:"user_id"`
	Email    string `yaml:"email"`
	TimeZone string `yaml:"time_zone"`
	TokenEnv string `yaml:"token_env"`
	token    string
}

// Token returns the resolved bearer token for this user.
func (u AuthUser) Token() string {
	return u.token
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	Users []AuthUser `yaml:"users"`
}

// Tokens returns the token-to-user table the auth middleware consumes.
func (a AuthConfig) Tokens() map[string]string {
	tokens := make(map[string]string, len(a.Users))
	for _, u := range a.Users {
		if u.token != "" {
			tokens[u.token] = u.UserID
		}
	}
	return tokens
}

// StatusConfig contains AI status generation settings.
type StatusConfig struct {
	OpenAIAPIKey string   `yaml:"-"` // env-only, never in YAML
	Model        string   `yaml:"model"`
	Lookback     Duration `yaml:"lookback"`
	TTL          Duration `yaml:"ttl"`
}

// BackupConfig contains database backup settings. Backup is disabled unless
// an endpoint is configured.
type BackupConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
	UseSSL    bool   `yaml:"use_ssl"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	StatusInterval   Duration `yaml:"status_interval"`
	PruneInterval    Duration `yaml:"prune_interval"`
	ClientViewMaxAge Duration `yaml:"client_view_max_age"`
	BackupInterval   Duration `yaml:"backup_interval"`
	JobQueueSize     int      `yaml:"job_queue_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	// Determine config path
	configPath := getEnv("TEMPO_CONFIG_PATH", "config/tempo.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	// Load YAML file (file must exist for this function)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/tempo.db",
		},
		Status: StatusConfig{
			Model:    "gpt-4o-mini",
			Lookback: Duration(8 * time.Hour),
			TTL:      Duration(2 * time.Hour),
		},
		Worker: WorkerConfig{
			StatusInterval:   Duration(15 * time.Minute),
			PruneInterval:    Duration(24 * time.Hour),
			ClientViewMaxAge: Duration(14 * 24 * time.Hour),
			BackupInterval:   Duration(1 * time.Hour),
			JobQueueSize:     64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file is OK; use defaults
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("TEMPO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TEMPO_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TEMPO_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TEMPO_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("TEMPO_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Auth: resolve each user's token from its named env var
	for i := range cfg.Auth.Users {
		if cfg.Auth.Users[i].TokenEnv != "" {
			cfg.Auth.Users[i].token = os.Getenv(cfg.Auth.Users[i].TokenEnv)
		}
	}

	// Status (OPENAI_API_KEY is industry convention)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Status.OpenAIAPIKey = v
	}
	if v := os.Getenv("TEMPO_STATUS_MODEL"); v != "" {
		cfg.Status.Model = v
	}
	if v := os.Getenv("TEMPO_STATUS_LOOKBACK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Status.Lookback = Duration(d)
		}
	}
	if v := os.Getenv("TEMPO_STATUS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Status.TTL = Duration(d)
		}
	}

	// Backup
	if v := os.Getenv("TEMPO_BACKUP_ENDPOINT"); v != "" {
		cfg.Backup.Endpoint = v
	}
	if v := os.Getenv("TEMPO_BACKUP_BUCKET"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := os.Getenv("TEMPO_BACKUP_ACCESS_KEY"); v != "" {
		cfg.Backup.AccessKey = v
	}
	if v := os.Getenv("TEMPO_BACKUP_SECRET_KEY"); v != "" {
		cfg.Backup.SecretKey = v
	}
	if v := os.Getenv("TEMPO_BACKUP_USE_SSL"); v != "" {
		cfg.Backup.UseSSL = v == "true" || v == "1"
	}

	// Worker
	if v := os.Getenv("TEMPO_STATUS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.StatusInterval = Duration(d)
		}
	}
	if v := os.Getenv("TEMPO_PRUNE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.PruneInterval = Duration(d)
		}
	}
	if v := os.Getenv("TEMPO_CLIENT_VIEW_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.ClientViewMaxAge = Duration(d)
		}
	}
	if v := os.Getenv("TEMPO_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.BackupInterval = Duration(d)
		}
	}
	if v := os.Getenv("TEMPO_JOB_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.JobQueueSize = n
		}
	}

	// Log
	if v := os.Getenv("TEMPO_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TEMPO_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (TEMPO_DEV_MODE=true), auth validation is skipped.
func (c *Config) validate() error {
	// Dev mode bypasses auth validation
	if os.Getenv("TEMPO_DEV_MODE") == "true" {
		return nil
	}

	if len(c.Auth.Users) == 0 {
		return errors.New("at least one auth user is required")
	}
	for _, u := range c.Auth.Users {
		if u.UserID == "" || u.Email == "" {
			return fmt.Errorf("auth user %q: user_id and email are required", u.UserID)
		}
		if u.token == "" {
			return fmt.Errorf("auth user %q: token env %q is empty", u.UserID, u.TokenEnv)
		}
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

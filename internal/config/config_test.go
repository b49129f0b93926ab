package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"TEMPO_PORT",
		"TEMPO_READ_TIMEOUT",
		"TEMPO_WRITE_TIMEOUT",
		"TEMPO_SHUTDOWN_TIMEOUT",
		"TEMPO_DB_PATH",
		"OPENAI_API_KEY",
		"TEMPO_STATUS_MODEL",
		"TEMPO_STATUS_LOOKBACK",
		"TEMPO_STATUS_TTL",
		"TEMPO_BACKUP_ENDPOINT",
		"TEMPO_BACKUP_BUCKET",
		"TEMPO_BACKUP_ACCESS_KEY",
		"TEMPO_BACKUP_SECRET_KEY",
		"TEMPO_BACKUP_USE_SSL",
		"TEMPO_STATUS_INTERVAL",
		"TEMPO_PRUNE_INTERVAL",
		"TEMPO_CLIENT_VIEW_MAX_AGE",
		"TEMPO_BACKUP_INTERVAL",
		"TEMPO_JOB_QUEUE_SIZE",
		"TEMPO_LOG_LEVEL",
		"TEMPO_LOG_FORMAT",
		"TEMPO_CONFIG_PATH",
		"TEMPO_DEV_MODE",
		"TEMPO_TEST_TOKEN",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tempo.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validAuthYAML = `
auth:
  users:
    - user_id: usr_1
      email: dev@example.com
      time_zone: Europe/London
      token_env: TEMPO_TEST_TOKEN
`

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEMPO_DEV_MODE", "true")
	t.Setenv("TEMPO_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if time.Duration(cfg.Server.ReadTimeout) != 30*time.Second {
		t.Errorf("ReadTimeout = %v, want 30s", time.Duration(cfg.Server.ReadTimeout))
	}
	if cfg.Database.Path != "data/tempo.db" {
		t.Errorf("Database.Path = %q, want data/tempo.db", cfg.Database.Path)
	}
	if cfg.Status.Model != "gpt-4o-mini" {
		t.Errorf("Status.Model = %q, want gpt-4o-mini", cfg.Status.Model)
	}
	if time.Duration(cfg.Status.Lookback) != 8*time.Hour {
		t.Errorf("Status.Lookback = %v, want 8h", time.Duration(cfg.Status.Lookback))
	}
	if time.Duration(cfg.Worker.ClientViewMaxAge) != 14*24*time.Hour {
		t.Errorf("ClientViewMaxAge = %v, want 336h", time.Duration(cfg.Worker.ClientViewMaxAge))
	}
	if cfg.Worker.JobQueueSize != 64 {
		t.Errorf("JobQueueSize = %d, want 64", cfg.Worker.JobQueueSize)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
}

func TestLoadFromFile_YAMLValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEMPO_TEST_TOKEN", "secret-token")

	path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 45s
database:
  path: /var/lib/tempo/tempo.db
status:
  model: gpt-4o
  lookback: 12h
worker:
  status_interval: 5m
log:
  level: debug
  format: text
`+validAuthYAML)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if time.Duration(cfg.Server.ReadTimeout) != 45*time.Second {
		t.Errorf("ReadTimeout = %v, want 45s", time.Duration(cfg.Server.ReadTimeout))
	}
	if cfg.Database.Path != "/var/lib/tempo/tempo.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Status.Model != "gpt-4o" {
		t.Errorf("Status.Model = %q, want gpt-4o", cfg.Status.Model)
	}
	if time.Duration(cfg.Status.Lookback) != 12*time.Hour {
		t.Errorf("Status.Lookback = %v, want 12h", time.Duration(cfg.Status.Lookback))
	}
	if time.Duration(cfg.Worker.StatusInterval) != 5*time.Minute {
		t.Errorf("StatusInterval = %v, want 5m", time.Duration(cfg.Worker.StatusInterval))
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEMPO_TEST_TOKEN", "secret-token")
	t.Setenv("TEMPO_PORT", "7070")
	t.Setenv("TEMPO_LOG_LEVEL", "warn")

	path := writeConfig(t, `
server:
  port: 9090
log:
  level: debug
`+validAuthYAML)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want env override warn", cfg.Log.Level)
	}
}

func TestLoadFromFile_AuthTokenResolution(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEMPO_TEST_TOKEN", "secret-token")

	cfg, err := LoadFromFile(writeConfig(t, validAuthYAML))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	tokens := cfg.Auth.Tokens()
	if got := tokens["secret-token"]; got != "usr_1" {
		t.Errorf("Tokens()[secret-token] = %q, want usr_1", got)
	}
	if cfg.Auth.Users[0].Token() != "secret-token" {
		t.Errorf("Token() = %q, want secret-token", cfg.Auth.Users[0].Token())
	}
}

func TestLoadFromFile_MissingTokenFails(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromFile(writeConfig(t, validAuthYAML))
	if err == nil {
		t.Fatal("expected error for unresolved token env")
	}
}

func TestLoadFromFile_NoUsersFails(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromFile(writeConfig(t, "server:\n  port: 8080\n"))
	if err == nil {
		t.Fatal("expected error when no auth users configured")
	}
}

func TestLoadFromFile_DevModeSkipsAuthValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEMPO_DEV_MODE", "true")

	cfg, err := LoadFromFile(writeConfig(t, "server:\n  port: 8080\n"))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if len(cfg.Auth.Tokens()) != 0 {
		t.Errorf("expected no tokens in dev mode, got %v", cfg.Auth.Tokens())
	}
}

func TestDuration_InvalidYAMLDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEMPO_DEV_MODE", "true")

	_, err := LoadFromFile(writeConfig(t, "server:\n  read_timeout: not-a-duration\n"))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadFromFile_SecretsNeverFromYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEMPO_DEV_MODE", "true")

	cfg, err := LoadFromFile(writeConfig(t, `
status:
  openaiapikey: leaked
backup:
  accesskey: leaked
  secretkey: leaked
`))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Status.OpenAIAPIKey != "" {
		t.Error("OpenAIAPIKey must not be settable from YAML")
	}
	if cfg.Backup.AccessKey != "" || cfg.Backup.SecretKey != "" {
		t.Error("backup credentials must not be settable from YAML")
	}
}

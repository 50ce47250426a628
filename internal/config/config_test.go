package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: ""
database:
  path: /tmp/test.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Name != "karavan" {
		t.Errorf("app name = %q, want karavan", cfg.App.Name)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("api port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Import.BatchSize != 10 {
		t.Errorf("batch size = %d, want 10", cfg.Import.BatchSize)
	}
	if cfg.Import.ProgressInterval != 50 {
		t.Errorf("progress interval = %d, want 50", cfg.Import.ProgressInterval)
	}
	if cfg.Import.MaxRedirects != 5 {
		t.Errorf("max redirects = %d, want 5", cfg.Import.MaxRedirects)
	}
	if cfg.Import.ErrorSampleLimit != 50 {
		t.Errorf("error sample limit = %d, want 50", cfg.Import.ErrorSampleLimit)
	}
	if cfg.Redis.EventKey != "imports:events" {
		t.Errorf("event key = %q, want imports:events", cfg.Redis.EventKey)
	}
	if cfg.API.Auth.HeaderAPIKey != "x-api-key" {
		t.Errorf("api key header = %q, want x-api-key", cfg.API.Auth.HeaderAPIKey)
	}
	if cfg.Exports.Path != "exports" {
		t.Errorf("exports path = %q, want exports", cfg.Exports.Path)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_DB_PATH", "/tmp/expanded.db")

	path := writeConfig(t, `
database:
  path: ${TEST_DB_PATH}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "/tmp/expanded.db" {
		t.Errorf("database path = %q, want expanded value", cfg.Database.Path)
	}
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
app:
  name: test
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing database path")
	}
}

func TestLoad_AuthEnabledNeedsKeys(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/test.db
api:
  enabled: true
  auth:
    enabled: true
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for auth without keys")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9000", "store": "sqlite3", "max_file_size_mb": 2},
		"databases": {"sqlite3": {"dsn": "fill.db"}},
		"providers": {"openai": {"model": "gpt-4o-mini", "api_key": "k"}},
		"question_provider": "openai"
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DOCFILL_DB", "")
	t.Setenv("DOCFILL_ADDR", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" || cfg.BasicConfig.MaxFileSizeMB != 2 {
		t.Fatalf("unexpected basic config: %+v", cfg.BasicConfig)
	}
	if got := cfg.Databases[StoreSQLite].DSN; got != filepath.Join(dir, "fill.db") {
		t.Fatalf("sqlite dsn not resolved against config dir: %s", got)
	}
	if cfg.BasicConfig.WorkerQueueSize != 16 || cfg.Redis.TTLMinutes != 30 || cfg.BasicConfig.UploadRetention != 1440 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "basic_config:\n  store: memory\n  log_mode: production\nredis:\n  enabled: true\n  port: 6380\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DOCFILL_DB", "mysql")
	t.Setenv("DOCFILL_ADDR", ":7000")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.Store != StoreMySQL || cfg.BasicConfig.ServerAddress != ":7000" {
		t.Fatalf("env override not applied: %+v", cfg.BasicConfig)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Port != 6380 || cfg.BasicConfig.LogMode != "production" {
		t.Fatalf("yaml fields not decoded: %+v", cfg)
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.QuestionProvider = "nope"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown provider to fail validation")
	}
	cfg = Default()
	cfg.BasicConfig.Store = "mongo"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown store to fail validation")
	}
}

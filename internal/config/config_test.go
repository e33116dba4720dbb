package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gateway.Port != DefaultPort {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Provider.Model != DefaultModel {
		t.Errorf("model = %s", cfg.Provider.Model)
	}
	if !cfg.Provider.PreferHosted {
		t.Error("hosted provider not preferred by default")
	}
	if cfg.Memory.ContextTurns != DefaultContextTurns {
		t.Errorf("context turns = %d", cfg.Memory.ContextTurns)
	}
	if !cfg.Features.EmotionEnabled || !cfg.Features.PerfEnabled {
		t.Error("feature flags off by default")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"gateway": {"host": "127.0.0.1", "port": 9001},
		"provider": {"apiKey": "from-file", "model": "gpt-4o"},
		"redis": {"host": "cachehost", "port": 6380}
	}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfigFrom(path)
	if err != nil {
		t.Fatalf("loadConfigFrom error: %v", err)
	}
	if cfg.Gateway.Host != "127.0.0.1" || cfg.Gateway.Port != 9001 {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Provider.Model != "gpt-4o" {
		t.Errorf("model = %s", cfg.Provider.Model)
	}
	if cfg.Redis.Addr() != "cachehost:6380" {
		t.Errorf("redis addr = %s", cfg.Redis.Addr())
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfigFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Gateway.Port != DefaultPort {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "envhost")
	t.Setenv("REDIS_PORT", "7000")
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("VOICEGATE_MODEL", "env-model")
	t.Setenv("VOICEGATE_DISABLE_LOCAL", "true")
	t.Setenv("VOICEGATE_EMOTION_ENABLED", "false")
	t.Setenv("VOICEGATE_PORT", "9999")

	cfg, err := loadConfigFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("loadConfigFrom error: %v", err)
	}
	if cfg.Redis.Addr() != "envhost:7000" {
		t.Errorf("redis addr = %s", cfg.Redis.Addr())
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("api key = %s", cfg.Provider.APIKey)
	}
	if cfg.Provider.Model != "env-model" {
		t.Errorf("model = %s", cfg.Provider.Model)
	}
	if !cfg.Provider.DisableLocal {
		t.Error("disable local override ignored")
	}
	if cfg.Features.EmotionEnabled {
		t.Error("emotion flag override ignored")
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestFileKeyNotClobberedByEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"provider": {"apiKey": "file-key"}}`), 0644)
	t.Setenv("OPENAI_API_KEY", "env-key")

	cfg, err := loadConfigFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.APIKey != "file-key" {
		t.Errorf("api key = %s, env should not clobber file", cfg.Provider.APIKey)
	}
}

func TestRedisAddrEmpty(t *testing.T) {
	var r RedisConfig
	if r.Addr() != "" {
		t.Errorf("empty redis config produced addr %q", r.Addr())
	}
}

func TestPersonalityPreambleDefault(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PersonalityPreamble() == "" {
		t.Error("default preamble empty")
	}

	path := filepath.Join(t.TempDir(), "persona.md")
	os.WriteFile(path, []byte("I am Echo."), 0644)
	cfg.Persona.PreamblePath = path
	if got := cfg.PersonalityPreamble(); got != "I am Echo." {
		t.Errorf("preamble = %q", got)
	}
}

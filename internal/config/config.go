// Package config loads gateway configuration from a JSON file under the
// config dir, then applies environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 18990
	DefaultModel        = "gpt-4o-mini"
	DefaultContextTurns = 10
	DefaultRedisPort    = 6379
	DefaultTTSBaseURL   = "https://api.elevenlabs.io/v1"
	DefaultSTTBaseURL   = "https://api.openai.com/v1"
	DefaultSTTModel     = "whisper-1"
)

type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Redis    RedisConfig    `json:"redis"`
	Provider ProviderConfig `json:"provider"`
	TTS      TTSConfig      `json:"tts"`
	STT      STTConfig      `json:"stt"`
	Features FeaturesConfig `json:"features"`
	Memory   MemoryConfig   `json:"memory"`
	Persona  PersonaConfig  `json:"persona"`
}

type GatewayConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	AudioDir string `json:"audioDir,omitempty"`
}

type RedisConfig struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	DB       int    `json:"db,omitempty"`
	Password string `json:"password,omitempty"`
}

// Addr returns host:port, or "" when no remote cache is configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == 0 {
		port = DefaultRedisPort
	}
	return fmt.Sprintf("%s:%d", r.Host, port)
}

type ProviderConfig struct {
	APIKey        string `json:"apiKey,omitempty"`
	BaseURL       string `json:"baseUrl,omitempty"`
	Model         string `json:"model,omitempty"`
	LocalBin      string `json:"localBin,omitempty"`
	LocalModel    string `json:"localModel,omitempty"`
	PreferHosted  bool   `json:"preferHosted"`
	DisableHosted bool   `json:"disableHosted,omitempty"`
	DisableLocal  bool   `json:"disableLocal,omitempty"`
}

type TTSConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	VoiceID string `json:"voiceId,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type STTConfig struct {
	Remote   bool   `json:"remote"`
	APIKey   string `json:"apiKey,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
	Model    string `json:"model,omitempty"`
	Bin      string `json:"bin,omitempty"`
	BinModel string `json:"binModel,omitempty"`
}

type FeaturesConfig struct {
	EmotionEnabled bool `json:"emotionEnabled"`
	PerfEnabled    bool `json:"perfEnabled"`
}

type MemoryConfig struct {
	DBPath       string `json:"dbPath,omitempty"`
	ContextTurns int    `json:"contextTurns,omitempty"`
}

// PersonaConfig holds the opaque personality blob plus the ritual and vault
// maps the orchestrator resolves commands against. The vault is configuration
// convenience, not an authentication mechanism.
type PersonaConfig struct {
	PreamblePath string                `json:"preamblePath,omitempty"`
	Rituals      map[string]string     `json:"rituals,omitempty"`
	Vault        map[string]VaultEntry `json:"vault,omitempty"`
}

type VaultEntry struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:     DefaultHost,
			Port:     DefaultPort,
			AudioDir: filepath.Join(ConfigDir(), "data", "audio"),
		},
		Provider: ProviderConfig{
			Model:        DefaultModel,
			PreferHosted: true,
		},
		TTS: TTSConfig{BaseURL: DefaultTTSBaseURL},
		STT: STTConfig{BaseURL: DefaultSTTBaseURL, Model: DefaultSTTModel},
		Features: FeaturesConfig{
			EmotionEnabled: true,
			PerfEnabled:    true,
		},
		Memory: MemoryConfig{
			DBPath:       filepath.Join(ConfigDir(), "data", "journal.db"),
			ContextTurns: DefaultContextTurns,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".voicegate")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return loadConfigFrom(ConfigPath())
}

func loadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Gateway.AudioDir == "" {
		cfg.Gateway.AudioDir = DefaultConfig().Gateway.AudioDir
	}
	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = DefaultConfig().Memory.DBPath
	}
	if cfg.Memory.ContextTurns <= 0 {
		cfg.Memory.ContextTurns = DefaultContextTurns
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = DefaultModel
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Redis.Host = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Redis.Port = parsed
		}
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if parsed, err := strconv.Atoi(db); err == nil {
			cfg.Redis.DB = parsed
		}
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("VOICEGATE_OPENAI_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("VOICEGATE_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if bin := os.Getenv("VOICEGATE_LLAMA_BIN"); bin != "" {
		cfg.Provider.LocalBin = bin
	}
	if model := os.Getenv("VOICEGATE_LLAMA_MODEL"); model != "" {
		cfg.Provider.LocalModel = model
	}
	if v := os.Getenv("VOICEGATE_PREFER_HOSTED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Provider.PreferHosted = parsed
		}
	}
	if v := os.Getenv("VOICEGATE_DISABLE_HOSTED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Provider.DisableHosted = parsed
		}
	}
	if v := os.Getenv("VOICEGATE_DISABLE_LOCAL"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Provider.DisableLocal = parsed
		}
	}

	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		cfg.TTS.APIKey = key
	}
	if id := os.Getenv("ELEVENLABS_VOICE_ID"); id != "" {
		cfg.TTS.VoiceID = id
	}
	if url := os.Getenv("VOICEGATE_TTS_BASE_URL"); url != "" {
		cfg.TTS.BaseURL = url
	}

	if v := os.Getenv("VOICEGATE_STT_REMOTE"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.STT.Remote = parsed
		}
	}
	if key := os.Getenv("VOICEGATE_STT_API_KEY"); key != "" {
		cfg.STT.APIKey = key
	}
	if url := os.Getenv("VOICEGATE_STT_BASE_URL"); url != "" {
		cfg.STT.BaseURL = url
	}
	if model := os.Getenv("VOICEGATE_STT_MODEL"); model != "" {
		cfg.STT.Model = model
	}
	if bin := os.Getenv("VOICEGATE_WHISPER_BIN"); bin != "" {
		cfg.STT.Bin = bin
	}
	if model := os.Getenv("VOICEGATE_WHISPER_MODEL"); model != "" {
		cfg.STT.BinModel = model
	}

	if v := os.Getenv("VOICEGATE_EMOTION_ENABLED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Features.EmotionEnabled = parsed
		}
	}
	if v := os.Getenv("VOICEGATE_PERF_ENABLED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Features.PerfEnabled = parsed
		}
	}

	if path := os.Getenv("VOICEGATE_DB_PATH"); path != "" {
		cfg.Memory.DBPath = path
	}
	if dir := os.Getenv("VOICEGATE_AUDIO_DIR"); dir != "" {
		cfg.Gateway.AudioDir = dir
	}
	if path := os.Getenv("VOICEGATE_PERSONALITY"); path != "" {
		cfg.Persona.PreamblePath = path
	}
	if host := os.Getenv("VOICEGATE_HOST"); host != "" {
		cfg.Gateway.Host = host
	}
	if port := os.Getenv("VOICEGATE_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = parsed
		}
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

// PersonalityPreamble reads the persona blob, or returns a small default when
// none is configured.
func (c *Config) PersonalityPreamble() string {
	if c.Persona.PreamblePath != "" {
		if data, err := os.ReadFile(c.Persona.PreamblePath); err == nil {
			return string(data)
		}
	}
	return "You are a warm, attentive voice companion. Keep replies short and conversational."
}

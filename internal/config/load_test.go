package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/local/denidin/internal/denerr"
)

func writeConfig(t *testing.T, cfg Config) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func validMinimalConfig() Config {
	return Config{
		WhatsApp:  WhatsAppConfig{DBPath: "/data/whatsapp.db"},
		Anthropic: ProviderConfig{APIKey: "sk-ant-test"},
		DataRoot:  "/data",
		Temperature: 0.7,
		Memory: MemoryConfig{
			Session: SessionMemoryConfig{
				SessionTimeoutHours:    24,
				CleanupIntervalSeconds: 300,
			},
		},
	}
}

func TestLoadAppliesDefaultsAndSucceeds(t *testing.T) {
	path := writeConfig(t, validMinimalConfig())
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AIModel == "" {
		t.Error("expected a default ai_model")
	}
	if cfg.LogLevel != "INFO" {
		t.Errorf("LogLevel = %q, want INFO default", cfg.LogLevel)
	}
	if cfg.Memory.Longterm.TopKResults != 5 {
		t.Errorf("TopKResults = %d, want default 5", cfg.Memory.Longterm.TopKResults)
	}
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	cfg := validMinimalConfig()
	cfg.Anthropic.APIKey = ""
	path := writeConfig(t, cfg)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected a validation error for missing anthropic api key")
	}
	if !denerr.Is(err, denerr.KindConfig) {
		t.Errorf("expected a denerr.KindConfig error, got %v", err)
	}
}

func TestLoadRejectsOutOfRangeTemperature(t *testing.T) {
	cfg := validMinimalConfig()
	cfg.Temperature = 1.5
	path := writeConfig(t, cfg)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected a validation error for out-of-range temperature")
	}
}

func TestLoadRequiresOpenAIKeyWhenMemoryEnabled(t *testing.T) {
	cfg := validMinimalConfig()
	cfg.Features.EnableMemorySystem = true
	path := writeConfig(t, cfg)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected a validation error for missing openai api key with memory enabled")
	}
}

func TestLoadMissingFileReturnsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
	if !denerr.Is(err, denerr.KindConfig) {
		t.Errorf("expected a denerr.KindConfig error, got %v", err)
	}
}

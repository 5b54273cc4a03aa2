package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/local/denidin/internal/denerr"
)

// Load reads and validates the configuration file at path, following the
// teacher's plain encoding/json approach (config.SaveConfig's counterpart)
// extended with the explicit validation spec.md §6 requires: missing
// credentials or out-of-range numerics must fail with a classifiable error
// distinct from a runtime failure.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, denerr.New(denerr.KindConfig, "config.Load", fmt.Errorf("reading %s: %w", path, err))
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, denerr.New(denerr.KindConfig, "config.Load", fmt.Errorf("parsing %s: %w", path, err))
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, denerr.New(denerr.KindConfig, "config.Load", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AIModel == "" {
		cfg.AIModel = "claude-sonnet-4-5"
	}
	if cfg.ReplyMaxTok == 0 {
		cfg.ReplyMaxTok = 1024
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.Memory.Session.SessionTimeoutHours == 0 {
		cfg.Memory.Session.SessionTimeoutHours = 24
	}
	if cfg.Memory.Session.CleanupIntervalSeconds == 0 {
		cfg.Memory.Session.CleanupIntervalSeconds = 3600
	}
	if cfg.Memory.Longterm.TopKResults == 0 {
		cfg.Memory.Longterm.TopKResults = 5
	}
	if cfg.Memory.Longterm.EmbeddingModel == "" {
		cfg.Memory.Longterm.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Memory.Longterm.CollectionName == "" {
		cfg.Memory.Longterm.CollectionName = "denidin_memory"
	}
	if cfg.Memory.Longterm.QdrantPort == 0 {
		cfg.Memory.Longterm.QdrantPort = 6334
	}
}

// validate implements spec.md §6's rejection rules: missing required
// credentials or out-of-range numerics fail. It reports every problem
// found, not just the first, so an operator fixes the config file in one
// pass.
func validate(cfg Config) error {
	var problems []string

	if cfg.WhatsApp.DBPath == "" {
		problems = append(problems, "whatsapp.db_path is required")
	}
	if cfg.Anthropic.APIKey == "" {
		problems = append(problems, "anthropic.api_key is required")
	}
	if cfg.Features.EnableMemorySystem && cfg.OpenAI.APIKey == "" {
		problems = append(problems, "openai.api_key is required when feature_flags.enable_memory_system is true (embeddings)")
	}
	if cfg.ReplyMaxTok < 1 {
		problems = append(problems, "ai_reply_max_tokens must be >= 1")
	}
	if cfg.Temperature < 0.0 || cfg.Temperature > 1.0 {
		problems = append(problems, "temperature must be in [0.0, 1.0]")
	}
	if cfg.LogLevel != "INFO" && cfg.LogLevel != "DEBUG" {
		problems = append(problems, "log_level must be INFO or DEBUG")
	}
	if cfg.DataRoot == "" {
		problems = append(problems, "data_root is required")
	}
	if cfg.Memory.Session.SessionTimeoutHours <= 0 {
		problems = append(problems, "memory.session.session_timeout_hours must be > 0")
	}
	if cfg.Memory.Session.CleanupIntervalSeconds <= 0 {
		problems = append(problems, "memory.session.cleanup_interval_seconds must be > 0")
	}
	if cfg.Memory.Longterm.Enabled {
		if cfg.Memory.Longterm.MinSimilarity < 0.0 || cfg.Memory.Longterm.MinSimilarity > 1.0 {
			problems = append(problems, "memory.longterm.min_similarity must be in [0.0, 1.0]")
		}
		if cfg.Memory.Longterm.TopKResults < 1 {
			problems = append(problems, "memory.longterm.top_k_results must be >= 1")
		}
	}
	for role, sim := range cfg.Memory.Longterm.MinSimilarityByRole {
		if sim < 0.0 || sim > 1.0 {
			problems = append(problems, fmt.Sprintf("memory.longterm.min_similarity_by_role[%s] must be in [0.0, 1.0]", role))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	msg := "invalid configuration:"
	for _, p := range problems {
		msg += "\n  - " + p
	}
	return fmt.Errorf("%s", msg)
}

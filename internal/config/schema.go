// Package config defines DeniDin's configuration schema and loader (spec.md
// §6): a single structured file, read once at startup and validated before
// any component is constructed.
package config

// Config is the root configuration document.
type Config struct {
	WhatsApp     WhatsAppConfig     `json:"whatsapp"`
	Anthropic    ProviderConfig     `json:"anthropic"`
	OpenAI       ProviderConfig     `json:"openai"`
	AIModel      string             `json:"ai_model"`
	ReplyMaxTok  int                `json:"ai_reply_max_tokens"`
	Temperature  float64            `json:"temperature"`
	LogLevel     string             `json:"log_level"`
	DataRoot     string             `json:"data_root"`
	Memory       MemoryConfig       `json:"memory"`
	Features     FeatureFlags       `json:"feature_flags"`
	UserRoles    UserRolesConfig    `json:"user_roles"`
	GodfatherPh  string             `json:"godfather_phone"`
	Constitution ConstitutionConfig `json:"constitution_config"`
}

// WhatsAppConfig carries the messaging transport's credentials/state.
type WhatsAppConfig struct {
	DBPath string `json:"db_path"`
}

// ProviderConfig carries one LLM provider's credentials.
type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
}

// MemoryConfig groups the two memory tiers (spec.md §4.2, §4.3).
type MemoryConfig struct {
	Session  SessionMemoryConfig  `json:"session"`
	Longterm LongtermMemoryConfig `json:"longterm"`
}

// SessionMemoryConfig configures the durable per-chat session store.
type SessionMemoryConfig struct {
	StorageDir             string         `json:"storage_dir"`
	SessionTimeoutHours    int            `json:"session_timeout_hours"`
	CleanupIntervalSeconds int            `json:"cleanup_interval_seconds"`
	MaxTokensByRole        map[string]int `json:"max_tokens_by_role"`
}

// LongtermMemoryConfig configures the semantic vector store, including the
// per-role recall overrides supplemented in SPEC_FULL.md §5 (the original
// exposes only a single global top_k/min_similarity pair).
type LongtermMemoryConfig struct {
	Enabled               bool               `json:"enabled"`
	StorageDir            string             `json:"storage_dir"`
	EmbeddingModel        string             `json:"embedding_model"`
	CollectionName        string             `json:"collection_name"`
	TopKResults           int                `json:"top_k_results"`
	MinSimilarity         float64            `json:"min_similarity"`
	TopKResultsByRole     map[string]int     `json:"top_k_results_by_role,omitempty"`
	MinSimilarityByRole   map[string]float64 `json:"min_similarity_by_role,omitempty"`
	QdrantHost            string             `json:"qdrant_host"`
	QdrantPort            int                `json:"qdrant_port"`
	QdrantAPIKey          string             `json:"qdrant_api_key,omitempty"`
	QdrantUseTLS          bool               `json:"qdrant_use_tls"`
}

// FeatureFlags toggles optional subsystems without a code change.
type FeatureFlags struct {
	EnableMemorySystem bool `json:"enable_memory_system"`
	EnableRBAC         bool `json:"enable_rbac"`
}

// UserRolesConfig assigns roles by phone number (spec.md §4.1).
type UserRolesConfig struct {
	AdminPhones   []string `json:"admin_phones"`
	BlockedPhones []string `json:"blocked_phones"`
}

// ConstitutionConfig points at the system-prompt file HistoryAssembler caches
// by mtime (spec.md §4.4).
type ConstitutionConfig struct {
	File string `json:"file"`
}

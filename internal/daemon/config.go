package daemon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/cache"
	"github.com/hmennen90/open-entity-sub000/pkg/energy"
	"github.com/hmennen90/open-entity-sub000/pkg/layers"
	"github.com/hmennen90/open-entity-sub000/pkg/semantic"
)

// Config is the full daemon configuration.
type Config struct {
	Name      string `json:"name"`
	Locale    string `json:"locale"`
	LogLevel  string `json:"log_level"`
	BrainPath string `json:"brain_path"`
	HTTPAddr  string `json:"http_addr"`

	Think      ThinkConfig      `json:"think"`
	LLM        LLMConfig        `json:"llm"`
	Embeddings EmbeddingsConfig `json:"embeddings"`
	Cache      CacheConfig      `json:"cache"`
	Memory     MemoryConfig     `json:"memory"`
	Energy     EnergyConfig     `json:"energy"`
	Dream      DreamConfig      `json:"dream"`
	Matrix     MatrixConfig     `json:"matrix"`
}

// ThinkConfig paces the autonomous think loop.
type ThinkConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`  // base interval, scaled by energy
	MinSleep string `json:"min_sleep"` // shortest sleep before waking
	Tier     string `json:"tier"`      // llm tier for thoughts
	ChatTier string `json:"chat_tier"` // llm tier for chat
}

// LLMConfig maps tiers to providers.
type LLMConfig struct {
	Deep ProviderConfig `json:"deep"`
	Mid  ProviderConfig `json:"mid"`
	Fast ProviderConfig `json:"fast"`
}

// ProviderConfig configures one generation provider.
type ProviderConfig struct {
	Provider    string  `json:"provider"` // anthropic, anthropic-compat, openai
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key"` // may be "$ENV_VAR"
	BaseURL     string  `json:"base_url,omitempty"`
	MaxOutput   int     `json:"max_output,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// EmbeddingsConfig configures the embedding gateway and vector index.
type EmbeddingsConfig struct {
	Enabled      bool          `json:"enabled"`
	Primary      BackendConfig `json:"primary"`
	Fallback     BackendConfig `json:"fallback"`
	PostgresURL  string        `json:"postgres_url,omitempty"` // optional pgvector mirror
	SyncInterval string        `json:"sync_interval,omitempty"`
	BatchSize    int           `json:"batch_size,omitempty"`
	QueueSize    int           `json:"queue_size,omitempty"`
	CacheTTL     string        `json:"cache_ttl,omitempty"` // query cache, "0" disables
	Timeout      string        `json:"timeout,omitempty"`
}

// BackendConfig configures one embedding backend.
type BackendConfig struct {
	Provider   string `json:"provider"` // tei, openai; empty disables
	URL        string `json:"url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// CacheConfig selects the TTL cache backing working memory and energy.
type CacheConfig struct {
	Driver  string            `json:"driver"` // memory, redis
	MaxCost int64             `json:"max_cost,omitempty"`
	Redis   cache.RedisConfig `json:"redis"`
}

// MemoryConfig holds retrieval and context settings.
type MemoryConfig struct {
	SimilarityThreshold float64       `json:"similarity_threshold"`
	Budget              layers.Budget `json:"budget"`
	WorkingTTL          string        `json:"working_ttl"`
	WorkingMaxItems     int           `json:"working_max_items"`
}

// EnergyConfig overrides energy rates. Zero values keep the defaults.
type EnergyConfig struct {
	Initial            float64 `json:"initial,omitempty"`
	FatiguePerHour     float64 `json:"fatigue_per_hour,omitempty"`
	RecoveryPerHour    float64 `json:"recovery_per_hour,omitempty"`
	ToolCost           float64 `json:"tool_cost,omitempty"`
	ThinkBaseCost      float64 `json:"think_base_cost,omitempty"`
	ThinkIntensityCost float64 `json:"think_intensity_cost,omitempty"`
	ConversationCost   float64 `json:"conversation_cost,omitempty"`
	GoalProgressGain   float64 `json:"goal_progress_gain,omitempty"`
	GoalCompletionGain float64 `json:"goal_completion_gain,omitempty"`
	InteractionGain    float64 `json:"interaction_gain,omitempty"`
	RecallGain         float64 `json:"recall_gain,omitempty"`
	MinWakeLevel       float64 `json:"min_wake_level,omitempty"`
}

// DreamConfig configures the memory maintenance worker.
type DreamConfig struct {
	Disabled    bool   `json:"disabled,omitempty"`
	Interval    string `json:"interval,omitempty"`
	ArchiveDays int    `json:"archive_days,omitempty"`
	Tier        string `json:"tier,omitempty"`
}

// MatrixConfig holds Matrix connection settings.
type MatrixConfig struct {
	Homeserver   string   `json:"homeserver"`
	UserID       string   `json:"user_id"`
	Password     string   `json:"password"`
	ServerName   string   `json:"server_name"`
	AllowedUsers []string `json:"allowed_users"`
	DataDir      string   `json:"data_dir"`
}

// Enabled reports whether enough is configured to log in.
func (m MatrixConfig) Enabled() bool {
	return m.Homeserver != "" && m.UserID != "" && m.Password != ""
}

// LoadConfig builds the configuration from env-derived defaults, the file
// at path (if any) and the private overlay named by ENTITY_PRIVATE_CONFIG.
// Later sources win key by key.
func LoadConfig(path string) (*Config, error) {
	merged, err := json.Marshal(defaultConfig())
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if merged, err = deepMergeJSON(merged, data); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", path, err)
		}
	}

	if overlay := os.Getenv("ENTITY_PRIVATE_CONFIG"); overlay != "" {
		data, err := os.ReadFile(overlay)
		if err != nil {
			return nil, fmt.Errorf("read private config %s: %w", overlay, err)
		}
		if merged, err = deepMergeJSON(merged, data); err != nil {
			return nil, fmt.Errorf("merge private config %s: %w", overlay, err)
		}
	}

	var cfg Config
	if err := json.Unmarshal(merged, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.resolveEnv()
	return &cfg, nil
}

func (c *Config) resolveEnv() {
	for _, s := range []*string{
		&c.Name, &c.BrainPath, &c.HTTPAddr,
		&c.LLM.Deep.APIKey, &c.LLM.Mid.APIKey, &c.LLM.Fast.APIKey,
		&c.LLM.Deep.BaseURL, &c.LLM.Mid.BaseURL, &c.LLM.Fast.BaseURL,
		&c.Embeddings.Primary.URL, &c.Embeddings.Primary.APIKey,
		&c.Embeddings.Fallback.URL, &c.Embeddings.Fallback.APIKey,
		&c.Embeddings.PostgresURL,
		&c.Cache.Redis.Addr, &c.Cache.Redis.Password,
		&c.Matrix.Homeserver, &c.Matrix.UserID, &c.Matrix.Password, &c.Matrix.ServerName,
	} {
		*s = resolveEnv(*s)
	}
}

// SlogLevel maps log_level to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// EnergyRates returns the energy configuration with overrides applied.
func (c *Config) EnergyRates() energy.Config {
	e := c.Energy
	return energy.Config{
		Initial:            e.Initial,
		FatiguePerHour:     e.FatiguePerHour,
		RecoveryPerHour:    e.RecoveryPerHour,
		ToolCost:           e.ToolCost,
		ThinkBaseCost:      e.ThinkBaseCost,
		ThinkIntensityCost: e.ThinkIntensityCost,
		ConversationCost:   e.ConversationCost,
		GoalProgressGain:   e.GoalProgressGain,
		GoalCompletionGain: e.GoalCompletionGain,
		InteractionGain:    e.InteractionGain,
		RecallGain:         e.RecallGain,
		MinWakeLevel:       e.MinWakeLevel,
	}
}

func deepMergeJSON(base, overlay []byte) ([]byte, error) {
	var baseMap map[string]any
	if len(base) > 0 {
		if err := json.Unmarshal(base, &baseMap); err != nil {
			return nil, err
		}
	}
	if baseMap == nil {
		baseMap = map[string]any{}
	}

	var overlayMap map[string]any
	if len(overlay) > 0 {
		if err := json.Unmarshal(overlay, &overlayMap); err != nil {
			return nil, err
		}
	}
	mergeMap(baseMap, overlayMap)
	return json.Marshal(baseMap)
}

func mergeMap(dst, src map[string]any) {
	for k, v := range src {
		dstObj, dstIsObj := dst[k].(map[string]any)
		srcObj, srcIsObj := v.(map[string]any)
		if dstIsObj && srcIsObj {
			mergeMap(dstObj, srcObj)
			continue
		}
		dst[k] = v
	}
}

// resolveEnv replaces a "$VAR" reference with its value when set.
func resolveEnv(s string) string {
	if len(s) > 1 && s[0] == '$' {
		if v := os.Getenv(s[1:]); v != "" {
			return v
		}
	}
	return s
}

// duration parses s, returning def when it is empty or invalid.
func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("invalid duration in config, using default", "value", s, "default", def)
		return def
	}
	return d
}

func defaultConfig() *Config {
	return &Config{
		Name:      envOr("ENTITY_NAME", "Nova"),
		Locale:    envOr("ENTITY_LOCALE", "en"),
		LogLevel:  envOr("ENTITY_LOG_LEVEL", "info"),
		BrainPath: envOr("ENTITY_BRAIN_PATH", "brain"),
		HTTPAddr:  envOr("ENTITY_HTTP_ADDR", ":8080"),
		Think: ThinkConfig{
			Enabled:  envOr("ENTITY_THINK_DISABLED", "") == "",
			Interval: envOr("ENTITY_THINK_INTERVAL", "5m"),
			MinSleep: "4h",
			Tier:     "deep",
			ChatTier: "mid",
		},
		LLM: LLMConfig{
			Deep: ProviderConfig{
				Provider:    "anthropic",
				Model:       "claude-sonnet-4-5",
				APIKey:      os.Getenv("ANTHROPIC_API_KEY"),
				MaxOutput:   1024,
				Temperature: 0.8,
			},
			Mid: ProviderConfig{
				Provider:    "openai",
				Model:       envOr("ENTITY_CHAT_MODEL", "gpt-4o-mini"),
				APIKey:      os.Getenv("OPENAI_API_KEY"),
				BaseURL:     envOr("OPENAI_BASE_URL", ""),
				MaxOutput:   1024,
				Temperature: 0.7,
			},
			Fast: ProviderConfig{
				Provider:    "openai",
				Model:       envOr("ENTITY_FAST_MODEL", "llama3.2"),
				BaseURL:     envOr("OLLAMA_URL", ""),
				MaxOutput:   512,
				Temperature: 0.3,
			},
		},
		Embeddings: EmbeddingsConfig{
			Enabled: envOr("ENTITY_EMBEDDINGS_ENABLED", "") != "",
			Primary: BackendConfig{
				Provider: "tei",
				URL:      envOr("ENTITY_TEI_URL", "http://localhost:8081"),
				Model:    "nomic-embed-text-v1.5",
			},
			PostgresURL:  envOr("ENTITY_PG_URL", ""),
			SyncInterval: "30s",
			BatchSize:    32,
			QueueSize:    256,
			CacheTTL:     "24h",
			Timeout:      "10s",
		},
		Cache: CacheConfig{
			Driver: envOr("ENTITY_CACHE_DRIVER", "memory"),
			Redis: cache.RedisConfig{
				Addr:   envOr("ENTITY_REDIS_ADDR", "localhost:6379"),
				Prefix: "entity:",
			},
		},
		Memory: MemoryConfig{
			SimilarityThreshold: semantic.DefaultThreshold,
			Budget:              layers.DefaultBudget(),
			WorkingTTL:          "60m",
			WorkingMaxItems:     20,
		},
		Dream: DreamConfig{
			Disabled:    envOr("ENTITY_DREAM_DISABLED", "") != "",
			Interval:    envOr("ENTITY_DREAM_INTERVAL", "6h"),
			ArchiveDays: 30,
			Tier:        "fast",
		},
		Matrix: MatrixConfig{
			Homeserver:   envOr("MATRIX_HOMESERVER", ""),
			UserID:       envOr("MATRIX_BOT_USER", ""),
			Password:     envOr("MATRIX_BOT_PASSWORD", ""),
			ServerName:   envOr("MATRIX_SERVER_NAME", ""),
			AllowedUsers: splitList(os.Getenv("MATRIX_ALLOWED_USERS")),
			DataDir:      envOr("ENTITY_DATA_DIR", "data"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

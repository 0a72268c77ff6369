package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mera-ai/mera/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Models   ModelsConfig   `koanf:"models"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Research ResearchConfig `koanf:"research"`
	Cache    CacheConfig    `koanf:"cache"`
	Memory   MemoryConfig   `koanf:"memory"`
	Store    StoreConfig    `koanf:"store"`
	Prompts  PromptsConfig  `koanf:"prompts"`
}

type ServerConfig struct {
	LogLevel string `koanf:"log_level"`
}

type ModelsConfig struct {
	Default   string          `koanf:"default"`
	Embedding string          `koanf:"embedding"`
	Registry  []ModelRegistry `koanf:"registry"`
	Rates     []ModelRate     `koanf:"rates"`
	// DefaultRateUSD applies per 1K tokens when a model has no rate entry.
	DefaultRateUSD float64 `koanf:"default_rate_usd"`
}

type ModelRegistry struct {
	// Prefix matches the start of a model name, e.g. "claude" or "openai/".
	Prefix         string `koanf:"prefix"`
	Provider       string `koanf:"provider"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	RequestTimeout string `koanf:"request_timeout"`
}

type ModelRate struct {
	Model      string  `koanf:"model"`
	PerKTokens float64 `koanf:"per_k_tokens"`
}

type PipelineConfig struct {
	BudgetFloor        int    `koanf:"budget_floor"`
	MaxRetries         int    `koanf:"max_retries"`
	RetryBaseDelay     string `koanf:"retry_base_delay"`
	MinRequestInterval string `koanf:"min_request_interval"`
	ReviewPolicy       string `koanf:"review_policy"`
	ReviewPollInterval string `koanf:"review_poll_interval"`
	MemoryWriteRetries int    `koanf:"memory_write_retries"`
}

type ResearchConfig struct {
	FileMaxChars  int    `koanf:"file_max_chars"`
	DirMaxEntries int    `koanf:"dir_max_entries"`
	URLTimeout    string `koanf:"url_timeout"`
	URLMaxChars   int    `koanf:"url_max_chars"`
	DBTimeout     string `koanf:"db_timeout"`
	DBMaxTables   int    `koanf:"db_max_tables"`
	DBMaxColumns  int    `koanf:"db_max_columns"`
	MemoryLimit   int    `koanf:"memory_limit"`
}

type CacheConfig struct {
	TTL string `koanf:"ttl"`
}

type MemoryConfig struct {
	SearchLimit int `koanf:"search_limit"`
}

type StoreConfig struct {
	DataDir      string `koanf:"data_dir"`
	LockRetry    string `koanf:"lock_retry"`
	LockMaxRetry int    `koanf:"lock_max_retry"`
}

type PromptsConfig struct {
	Research  string `koanf:"research"`
	Plan      string `koanf:"plan"`
	Implement string `koanf:"implement"`
}

const (
	DefaultServerLogLevel = "info"

	DefaultModelDefault   = "openai/gpt-4o-mini"
	DefaultModelEmbedding = "text-embedding-3-small"
	DefaultModelRateUSD   = 0.015

	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

	DefaultPipelineBudgetFloor        = 10_000
	DefaultPipelineMaxRetries         = 3
	DefaultPipelineRetryBaseDelay     = "1s"
	DefaultPipelineMinRequestInterval = "100ms"
	DefaultPipelineReviewPolicy       = "auto"
	DefaultPipelineReviewPollInterval = "2s"
	DefaultPipelineMemoryWriteRetries = 1

	DefaultResearchFileMaxChars  = 50_000
	DefaultResearchDirMaxEntries = 100
	DefaultResearchURLTimeout    = "10s"
	DefaultResearchURLMaxChars   = 50_000
	DefaultResearchDBTimeout     = "5s"
	DefaultResearchDBMaxTables   = 20
	DefaultResearchDBMaxColumns  = 10
	DefaultResearchMemoryLimit   = 5

	DefaultCacheTTL = "30m"

	DefaultMemorySearchLimit = 5

	DefaultStoreLockRetry    = "100ms"
	DefaultStoreLockMaxRetry = 20

	DefaultResearchPrompt  = "You are a research analyst. Use the provided memory and knowledge base context to produce a thorough research document answering the query. Cite which context you relied on."
	DefaultPlanPrompt      = "You are a planner. Based on the research document, produce a concise, numbered, step-by-step plan to answer the query. Do not answer the query itself."
	DefaultImplementPrompt = "You are an implementer. Follow the plan and the research to produce the final answer to the query. Output only the answer."
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.log_level":        DefaultServerLogLevel,
		"models.default":          DefaultModelDefault,
		"models.embedding":        DefaultModelEmbedding,
		"models.default_rate_usd": DefaultModelRateUSD,
		"models.registry": []ModelRegistry{
			{Prefix: "claude", Provider: "anthropic"},
			{Prefix: "", Provider: "openrouter", BaseURL: DefaultOpenRouterBaseURL},
		},
		"pipeline.budget_floor":         DefaultPipelineBudgetFloor,
		"pipeline.max_retries":          DefaultPipelineMaxRetries,
		"pipeline.retry_base_delay":     DefaultPipelineRetryBaseDelay,
		"pipeline.min_request_interval": DefaultPipelineMinRequestInterval,
		"pipeline.review_policy":        DefaultPipelineReviewPolicy,
		"pipeline.review_poll_interval": DefaultPipelineReviewPollInterval,
		"pipeline.memory_write_retries": DefaultPipelineMemoryWriteRetries,
		"research.file_max_chars":       DefaultResearchFileMaxChars,
		"research.dir_max_entries":      DefaultResearchDirMaxEntries,
		"research.url_timeout":          DefaultResearchURLTimeout,
		"research.url_max_chars":        DefaultResearchURLMaxChars,
		"research.db_timeout":           DefaultResearchDBTimeout,
		"research.db_max_tables":        DefaultResearchDBMaxTables,
		"research.db_max_columns":       DefaultResearchDBMaxColumns,
		"research.memory_limit":         DefaultResearchMemoryLimit,
		"cache.ttl":                     DefaultCacheTTL,
		"memory.search_limit":           DefaultMemorySearchLimit,
		"store.data_dir":                filepath.Join(os.Getenv("HOME"), ".mera", "data"),
		"store.lock_retry":              DefaultStoreLockRetry,
		"store.lock_max_retry":          DefaultStoreLockMaxRetry,
		"prompts.research":              DefaultResearchPrompt,
		"prompts.plan":                  DefaultPlanPrompt,
		"prompts.implement":             DefaultImplementPrompt,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".mera", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("MERA_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "MERA_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openrouter"
		}
	}

	dataDir, err := pathutil.Expand(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}

	// Inject standard env vars if missing
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "openrouter" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "anthropic" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}

	return &cfg, nil
}

package main

import (
	"path/filepath"

	"github.com/mera-ai/mera/internal/cache"
	"github.com/mera-ai/mera/internal/config"
	"github.com/mera-ai/mera/internal/kb"
	"github.com/mera-ai/mera/internal/llm"
	"github.com/mera-ai/mera/internal/memory"
	"github.com/mera-ai/mera/internal/pipeline"
	"github.com/mera-ai/mera/internal/research"
	"github.com/mera-ai/mera/internal/review"
	"github.com/mera-ai/mera/internal/space"
	"github.com/mera-ai/mera/internal/store"
	"github.com/mera-ai/mera/internal/tokens"

	"github.com/philippgille/chromem-go"
)

const defaultCollection = "mem_default"

// components wires the full runtime: durable store, space ledger, review
// gate, generation client, memory, and the pipeline on top.
type components struct {
	Store    *store.Store
	State    *store.StateFile
	Spaces   *space.Manager
	Gate     *review.Gate
	Client   *llm.RetryingClient
	Pipeline *pipeline.Pipeline
	VectorDB *chromem.DB
}

func (c *components) Close() {
	if c.Pipeline != nil {
		c.Pipeline.Wait()
	}
	if c.Client != nil {
		c.Client.Close()
	}
	if c.Store != nil {
		c.Store.Close()
	}
}

func withComponents(fn func(*components) error) error {
	c, err := build(cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func build(cfg *config.Config) (*components, error) {
	lockRetry, err := config.DurationOrDefault(cfg.Store.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return nil, err
	}
	st, err := store.OpenWithLock(cfg.Store.DataDir, store.LockConfig{
		Retry:    lockRetry,
		MaxRetry: cfg.Store.LockMaxRetry,
	})
	if err != nil {
		return nil, err
	}

	state, err := store.NewStateFile(st.DataDir())
	if err != nil {
		st.Close()
		return nil, err
	}

	spaces, err := space.NewManager(st.DB(), st.DataDir())
	if err != nil {
		st.Close()
		return nil, err
	}

	reviewStore, err := review.NewSQLiteStore(st.DB())
	if err != nil {
		st.Close()
		return nil, err
	}
	pollInterval, err := config.DurationOrDefault(cfg.Pipeline.ReviewPollInterval, config.DefaultPipelineReviewPollInterval)
	if err != nil {
		st.Close()
		return nil, err
	}
	gate := review.NewGate(reviewStore, review.Policy(cfg.Pipeline.ReviewPolicy), pollInterval)

	registry, err := llm.NewRegistryFromConfig(cfg.Models)
	if err != nil {
		st.Close()
		return nil, err
	}
	baseDelay, err := config.DurationOrDefault(cfg.Pipeline.RetryBaseDelay, config.DefaultPipelineRetryBaseDelay)
	if err != nil {
		st.Close()
		return nil, err
	}
	minInterval, err := config.DurationOrDefault(cfg.Pipeline.MinRequestInterval, config.DefaultPipelineMinRequestInterval)
	if err != nil {
		st.Close()
		return nil, err
	}
	client := llm.NewRetryingClient(registry, llm.RetryOptions{
		MaxRetries:         cfg.Pipeline.MaxRetries,
		BaseDelay:          baseDelay,
		MinRequestInterval: minInterval,
		EmbeddingModel:     cfg.Models.Embedding,
	})

	vectorDB, err := memory.OpenDB(filepath.Join(st.DataDir(), "vectors"))
	if err != nil {
		client.Close()
		st.Close()
		return nil, err
	}
	memories := func(collection string) (memory.Store, error) {
		if collection == "" {
			collection = defaultCollection
		}
		return memory.NewVectorStore(vectorDB, collection, client), nil
	}

	resultCache := cache.New()
	cacheTTL, err := config.DurationOrDefault(cfg.Cache.TTL, config.DefaultCacheTTL)
	if err != nil {
		client.Close()
		st.Close()
		return nil, err
	}
	urlTimeout, _ := config.DurationOrDefault(cfg.Research.URLTimeout, config.DefaultResearchURLTimeout)
	dbTimeout, _ := config.DurationOrDefault(cfg.Research.DBTimeout, config.DefaultResearchDBTimeout)

	coordinator := research.NewCoordinator(
		research.NewFileAgent(cfg.Research.FileMaxChars, cfg.Research.DirMaxEntries),
		research.NewLinkAgent(resultCache, urlTimeout, cacheTTL, cfg.Research.URLMaxChars),
		research.NewDatabaseAgent(dbTimeout, cfg.Research.DBMaxTables, cfg.Research.DBMaxColumns),
		cfg.Research.MemoryLimit,
	)

	rates := make(map[string]float64, len(cfg.Models.Rates))
	for _, r := range cfg.Models.Rates {
		rates[r.Model] = r.PerKTokens
	}
	estimator := tokens.NewEstimator(cfg.Models.DefaultRateUSD, rates)

	p, err := pipeline.New(pipeline.Deps{
		Generator:     client,
		Coordinator:   coordinator,
		Gate:          gate,
		Spaces:        spaces,
		Conversations: store.NewConversationLog(st.DB()),
		Vault:         kb.NewVault(resultCache, cfg.Memory.SearchLimit),
		Memories:      memories,
		Estimator:     estimator,
	}, pipeline.Options{
		BudgetFloor:        cfg.Pipeline.BudgetFloor,
		DefaultModel:       cfg.Models.Default,
		MemorySearchLimit:  cfg.Memory.SearchLimit,
		MemoryWriteRetries: cfg.Pipeline.MemoryWriteRetries,
		Prompts: pipeline.Prompts{
			Research:  cfg.Prompts.Research,
			Plan:      cfg.Prompts.Plan,
			Implement: cfg.Prompts.Implement,
		},
	})
	if err != nil {
		client.Close()
		st.Close()
		return nil, err
	}

	return &components{
		Store:    st,
		State:    state,
		Spaces:   spaces,
		Gate:     gate,
		Client:   client,
		Pipeline: p,
		VectorDB: vectorDB,
	}, nil
}

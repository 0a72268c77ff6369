// Package pipeline drives a query through the gated research, plan, and
// implement phases. Every run terminates in a Result: soft stops (budget,
// review) carry a specific message, internal failures carry a generic one
// plus an error code in metadata, and no error escapes ProcessQuery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mera-ai/mera/internal/concurrency"
	"github.com/mera-ai/mera/internal/config"
	merrors "github.com/mera-ai/mera/internal/errors"
	"github.com/mera-ai/mera/internal/kb"
	"github.com/mera-ai/mera/internal/llm"
	"github.com/mera-ai/mera/internal/logger"
	"github.com/mera-ai/mera/internal/memory"
	"github.com/mera-ai/mera/internal/research"
	"github.com/mera-ai/mera/internal/review"
	"github.com/mera-ai/mera/internal/space"
	"github.com/mera-ai/mera/internal/store"
	"github.com/mera-ai/mera/internal/tokens"
)

const (
	apiCallsPerRun = 3

	memoryWriteTimeout = 30 * time.Second
	memoryWriteBackoff = 500 * time.Millisecond
)

type Request struct {
	TenantID string
	UserID   string
	Query    string
	Model    string
	Sources  []research.Source
}

type Metadata struct {
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
	Error      string `json:"error,omitempty"`
	Remaining  int    `json:"remaining,omitempty"`
}

type Result struct {
	Answer           string   `json:"answer"`
	ResearchDocument string   `json:"research,omitempty"`
	PlanDocument     string   `json:"plan,omitempty"`
	Metadata         Metadata `json:"metadata"`
}

// Generator is the slice of the llm client the pipeline consumes.
type Generator interface {
	Chat(ctx context.Context, messages []llm.Message, model string) (string, error)
}

// Researcher resolves explicit context sources into a research document,
// reading MEMORY sources from the given store.
type Researcher interface {
	ResearchWithContext(ctx context.Context, query string, sources []research.Source, mem memory.Store) (string, error)
}

// MemoryFactory resolves a tenant collection ref into its memory store.
// The empty ref means the global default collection.
type MemoryFactory func(collection string) (memory.Store, error)

// Deps are the pipeline's collaborators. Generator, Gate, and Estimator
// are required; the rest degrade to no-ops when nil.
type Deps struct {
	Generator     Generator
	Coordinator   Researcher
	Gate          *review.Gate
	Spaces        *space.Manager
	Conversations *store.ConversationLog
	Vault         *kb.Vault
	Memories      MemoryFactory
	Estimator     *tokens.Estimator
}

type Prompts struct {
	Research  string
	Plan      string
	Implement string
}

type Options struct {
	BudgetFloor        int
	DefaultModel       string
	MemorySearchLimit  int
	MemoryWriteRetries int
	Prompts            Prompts
}

type Pipeline struct {
	deps Deps
	opts Options

	bg            sync.WaitGroup
	droppedWrites atomic.Int64
}

func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Generator == nil {
		return nil, merrors.InvalidInput("pipeline requires a generator")
	}
	if deps.Gate == nil {
		return nil, merrors.InvalidInput("pipeline requires a review gate")
	}
	if deps.Estimator == nil {
		return nil, merrors.InvalidInput("pipeline requires a token estimator")
	}

	if opts.BudgetFloor <= 0 {
		opts.BudgetFloor = config.DefaultPipelineBudgetFloor
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = config.DefaultModelDefault
	}
	if opts.MemorySearchLimit <= 0 {
		opts.MemorySearchLimit = config.DefaultMemorySearchLimit
	}
	if opts.MemoryWriteRetries < 0 {
		opts.MemoryWriteRetries = config.DefaultPipelineMemoryWriteRetries
	}
	if opts.Prompts.Research == "" {
		opts.Prompts.Research = config.DefaultResearchPrompt
	}
	if opts.Prompts.Plan == "" {
		opts.Prompts.Plan = config.DefaultPlanPrompt
	}
	if opts.Prompts.Implement == "" {
		opts.Prompts.Implement = config.DefaultImplementPrompt
	}

	return &Pipeline{deps: deps, opts: opts}, nil
}

// ProcessQuery runs one query end to end. The returned Result is always
// usable: soft stops and internal failures are encoded in Metadata.Error,
// never raised.
func (p *Pipeline) ProcessQuery(ctx context.Context, req Request) (result Result) {
	runID := ulid.Make().String()
	ctx = logger.WithRunID(ctx, runID)
	log := slog.With("run_id", runID, "tenant_id", req.TenantID, "user_id", req.UserID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline run panicked", "panic", r)
			result = p.failure(req.Model, fmt.Errorf("panic: %v", r))
		}
	}()

	model := req.Model
	if model == "" {
		model = p.opts.DefaultModel
	}

	// BUDGET_CHECK: budget and usage are read once here; the run never
	// re-reads them, and spends once at PERSIST.
	var tenant *space.Config
	if req.TenantID != "" && p.deps.Spaces != nil {
		cfg, err := p.deps.Spaces.Get(ctx, req.TenantID)
		if err != nil {
			log.Error("space lookup failed", "error", err)
			return p.failure(model, err)
		}
		if cfg.Status == space.StatusArchived {
			return Result{
				Answer:   "Space " + req.TenantID + " is archived.",
				Metadata: Metadata{Model: model, Error: "space_archived"},
			}
		}

		usage, err := p.deps.Spaces.GetUsage(ctx, cfg.TenantID, "")
		if err != nil {
			log.Error("usage lookup failed", "error", err)
			return p.failure(model, err)
		}
		remaining := usage.BudgetRemaining(cfg)
		if remaining < p.opts.BudgetFloor {
			log.Warn("budget exceeded", "remaining", remaining, "floor", p.opts.BudgetFloor)
			return Result{
				Answer:   fmt.Sprintf("Space budget exceeded. Only %s tokens remaining.", comma(remaining)),
				Metadata: Metadata{Model: model, Error: "budget_exceeded", Remaining: remaining},
			}
		}

		if cfg.PreferredModel != "" {
			model = cfg.PreferredModel
		}
		tenant = &cfg
	}

	queryHash := review.QueryHash(req.UserID, req.Query)

	// RESEARCH
	researchDoc, err := p.research(ctx, tenant, req, model)
	if err != nil {
		log.Error("research phase failed", "error", err)
		return p.failure(model, err)
	}

	// RESEARCH_REVIEW
	task, err := p.deps.Gate.Submit(ctx, review.Task{
		ID:       review.TaskID(req.TenantID, queryHash, "research"),
		TenantID: req.TenantID,
		Phase:    "research",
		Content:  researchDoc,
	})
	if err != nil {
		log.Error("research review failed", "error", err)
		return p.failure(model, err)
	}
	if task.Status != review.StatusApproved {
		log.Warn("research rejected", "notes", task.Notes)
		return Result{
			Answer:           "Research not approved. Cannot proceed.",
			ResearchDocument: researchDoc,
			Metadata:         Metadata{Model: model, Error: "review_rejected"},
		}
	}

	// PLAN
	plan, err := p.generate(ctx, model, p.opts.Prompts.Plan,
		"Query: "+req.Query+"\n\nResearch:\n"+researchDoc)
	if err != nil {
		log.Error("plan phase failed", "error", err)
		return p.failure(model, err)
	}

	// PLAN_REVIEW
	task, err = p.deps.Gate.Submit(ctx, review.Task{
		ID:       review.TaskID(req.TenantID, queryHash, "plan"),
		TenantID: req.TenantID,
		Phase:    "plan",
		Content:  plan,
	})
	if err != nil {
		log.Error("plan review failed", "error", err)
		return p.failure(model, err)
	}
	if task.Status != review.StatusApproved {
		log.Warn("plan rejected", "notes", task.Notes)
		return Result{
			Answer:           "Plan not approved. Cannot implement.",
			ResearchDocument: researchDoc,
			PlanDocument:     plan,
			Metadata:         Metadata{Model: model, Error: "review_rejected"},
		}
	}

	// IMPLEMENT
	answer, err := p.generate(ctx, model, p.opts.Prompts.Implement,
		"Query: "+req.Query+"\n\nResearch:\n"+researchDoc+"\n\nPlan:\n"+plan)
	if err != nil {
		log.Error("implement phase failed", "error", err)
		return p.failure(model, err)
	}

	// PERSIST: best-effort; the computed answer is returned regardless.
	tokensUsed := p.persist(ctx, log, tenant, req, queryHash, model, researchDoc, plan, answer)

	log.Info("pipeline run complete", "model", model, "tokens_used", tokensUsed)
	return Result{
		Answer:           answer,
		ResearchDocument: researchDoc,
		PlanDocument:     plan,
		Metadata:         Metadata{Model: model, TokensUsed: tokensUsed},
	}
}

// research produces the research document: via the coordinator when
// explicit sources are given, otherwise by generation over memory and
// knowledge base context gathered in parallel.
func (p *Pipeline) research(ctx context.Context, tenant *space.Config, req Request, model string) (string, error) {
	if len(req.Sources) > 0 && p.deps.Coordinator != nil {
		// The run's tenant collection, never the global default.
		memStore, err := p.memoryStore(tenant)
		if err != nil {
			slog.Warn("memory store unavailable", "error", err)
			memStore = nil
		}
		return p.deps.Coordinator.ResearchWithContext(ctx, req.Query, req.Sources, memStore)
	}

	var memText, kbText string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		memText = p.searchMemory(gctx, tenant, req.UserID, req.Query)
		return nil
	})
	g.Go(func() error {
		if p.deps.Vault == nil || tenant == nil {
			return nil
		}
		kbText = kb.Render(p.deps.Vault.Search(gctx, tenant.VaultPath, req.Query))
		return nil
	})
	g.Wait()

	prompt := "Query: " + req.Query
	if memText != "" {
		prompt += "\n\nMemory context:\n" + memText
	}
	if kbText != "" {
		prompt += "\n\nKnowledge base context:\n" + kbText
	}
	return p.generate(ctx, model, p.opts.Prompts.Research, prompt)
}

// searchMemory is read-mostly context gathering; failures degrade to an
// empty contribution and never abort the run.
func (p *Pipeline) searchMemory(ctx context.Context, tenant *space.Config, userID, query string) string {
	memStore, err := p.memoryStore(tenant)
	if err != nil || memStore == nil {
		if err != nil {
			slog.Warn("memory store unavailable", "error", err)
		}
		return ""
	}

	entries, err := memStore.Search(ctx, userID, query, p.opts.MemorySearchLimit)
	if err != nil {
		slog.Warn("memory search failed", "error", err)
		return ""
	}

	var out string
	for _, e := range entries {
		if e.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += e.Text
	}
	return out
}

func (p *Pipeline) memoryStore(tenant *space.Config) (memory.Store, error) {
	if p.deps.Memories == nil {
		return nil, nil
	}
	collection := ""
	if tenant != nil {
		collection = tenant.CollectionRef
	}
	return p.deps.Memories(collection)
}

func (p *Pipeline) persist(ctx context.Context, log *slog.Logger, tenant *space.Config, req Request, queryHash, model, researchDoc, plan, answer string) int {
	schema := ""
	if tenant != nil {
		schema = tenant.SchemaRef
	}

	if p.deps.Conversations != nil {
		now := time.Now()
		pair := []store.Message{
			{ID: req.UserID + "-" + queryHash + "-0", UserID: req.UserID, Role: "user", Content: req.Query, CreatedAt: now},
			{ID: req.UserID + "-" + queryHash + "-1", UserID: req.UserID, Role: "assistant", Content: answer, CreatedAt: now.Add(time.Millisecond)},
		}
		for _, msg := range pair {
			if err := p.deps.Conversations.AppendMessage(ctx, schema, msg); err != nil {
				log.Warn("conversation append failed", "message_id", msg.ID, "error", err)
			}
		}
	}

	p.storeMemoryAsync(log, tenant, req.UserID, "Q: "+req.Query+"\nA: "+answer)

	tokensUsed := 0
	if tenant != nil && p.deps.Spaces != nil {
		total := p.deps.Estimator.CountAll(req.Query, researchDoc, plan, answer)
		cost := p.deps.Estimator.CostUSD(total, model)
		if err := p.deps.Spaces.UpdateUsage(ctx, tenant.TenantID, total, apiCallsPerRun, cost, ""); err != nil {
			log.Warn("usage update failed", "error", err)
		} else {
			tokensUsed = total
		}
	}
	return tokensUsed
}

// storeMemoryAsync writes the Q/A record into long-term memory on a
// detached goroutine with bounded retry. A write that still fails is
// counted and dropped; the run's answer is never held back for it.
func (p *Pipeline) storeMemoryAsync(log *slog.Logger, tenant *space.Config, userID, text string) {
	memStore, err := p.memoryStore(tenant)
	if err != nil || memStore == nil {
		if err != nil {
			log.Warn("memory store unavailable for write", "error", err)
			p.droppedWrites.Add(1)
		}
		return
	}

	p.bg.Add(1)
	concurrency.SafeGo(func() {
		defer p.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), memoryWriteTimeout)
		defer cancel()

		metadata := map[string]string{"source": "mera-pipeline"}
		var err error
		for attempt := 0; attempt <= p.opts.MemoryWriteRetries; attempt++ {
			if attempt > 0 {
				time.Sleep(memoryWriteBackoff)
			}
			if err = memStore.Store(ctx, userID, text, metadata); err == nil {
				return
			}
		}
		p.droppedWrites.Add(1)
		log.Warn("memory write dropped", "error", err)
	}, nil)
}

// Wait blocks until detached memory writes have settled. Intended for
// shutdown and tests.
func (p *Pipeline) Wait() { p.bg.Wait() }

// DroppedWrites reports how many fire-and-forget memory writes were lost.
func (p *Pipeline) DroppedWrites() int64 { return p.droppedWrites.Load() }

func (p *Pipeline) generate(ctx context.Context, model, system, user string) (string, error) {
	return p.deps.Generator.Chat(ctx, []llm.Message{
		llm.SystemMessage(system),
		llm.UserMessage(user),
	}, model)
}

func (p *Pipeline) failure(model string, err error) Result {
	return Result{
		Answer:   "I encountered an error processing your query. Please try again.",
		Metadata: Metadata{Model: model, Error: errorCode(err)},
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case merrors.IsCategory(err, merrors.ErrTransient) || merrors.IsCategory(err, merrors.ErrTerminal):
		return "generation_failed"
	case merrors.IsCategory(err, merrors.ErrPersistence):
		return "persistence_failed"
	case merrors.IsCategory(err, merrors.ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}

// comma renders n with thousands separators, e.g. 5000 -> "5,000".
func comma(n int) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}

	s := strconv.Itoa(n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return sign + s
}

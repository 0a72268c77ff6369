package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mera-ai/mera/internal/cache"
	"github.com/mera-ai/mera/internal/llm"
	"github.com/mera-ai/mera/internal/memory"
	"github.com/mera-ai/mera/internal/research"
	"github.com/mera-ai/mera/internal/review"
	"github.com/mera-ai/mera/internal/space"
	"github.com/mera-ai/mera/internal/store"
	"github.com/mera-ai/mera/internal/tokens"
)

// fakeGenerator answers every chat with a canned string per phase, keyed
// off the system prompt, and counts calls.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	answers map[string]string
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{answers: map[string]string{}}
}

func (g *fakeGenerator) Chat(ctx context.Context, messages []llm.Message, model string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++

	system := messages[0].Content
	if answer, ok := g.answers[system]; ok {
		return answer, nil
	}
	return "generated output for: " + system[:min(20, len(system))], nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeMemory is an in-memory memory.Store recording writes and search hits.
type fakeMemory struct {
	mu       sync.Mutex
	entries  []string
	searches int
	fail     bool
}

func (m *fakeMemory) Search(ctx context.Context, userID, query string, limit int) ([]memory.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++
	var out []memory.Entry
	for _, text := range m.entries {
		out = append(out, memory.Entry{Text: text})
	}
	return out, nil
}

func (m *fakeMemory) Store(ctx context.Context, userID, text string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return assert.AnError
	}
	m.entries = append(m.entries, text)
	return nil
}

func (m *fakeMemory) searchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searches
}

func (m *fakeMemory) lastEntry() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return ""
	}
	return m.entries[len(m.entries)-1]
}

// fakeMemoryBank hands out one fakeMemory per collection ref, so tests can
// observe which collection a run touched.
type fakeMemoryBank struct {
	mu     sync.Mutex
	stores map[string]*fakeMemory
}

func newFakeMemoryBank() *fakeMemoryBank {
	return &fakeMemoryBank{stores: map[string]*fakeMemory{}}
}

func (b *fakeMemoryBank) open(collection string) (memory.Store, error) {
	return b.at(collection), nil
}

func (b *fakeMemoryBank) at(collection string) *fakeMemory {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stores[collection]
	if !ok {
		s = &fakeMemory{}
		b.stores[collection] = s
	}
	return s
}

type fixture struct {
	pipeline *Pipeline
	gen      *fakeGenerator
	spaces   *space.Manager
	log      *store.ConversationLog
	bank     *fakeMemoryBank
	gate     *review.Gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	spaces, err := space.NewManager(st.DB(), st.DataDir())
	require.NoError(t, err)

	gen := newFakeGenerator()
	bank := newFakeMemoryBank()
	gate := review.NewGate(review.NewMemStore(), review.PolicyAuto, time.Millisecond)

	c := cache.New()
	coordinator := research.NewCoordinator(
		research.NewFileAgent(0, 0),
		research.NewLinkAgent(c, 0, 0, 0),
		research.NewDatabaseAgent(0, 0, 0),
		0,
	)

	p, err := New(Deps{
		Generator:     gen,
		Coordinator:   coordinator,
		Gate:          gate,
		Spaces:        spaces,
		Conversations: store.NewConversationLog(st.DB()),
		Memories:      bank.open,
		Estimator:     tokens.NewEstimator(0.015, nil),
	}, Options{})
	require.NoError(t, err)

	return &fixture{
		pipeline: p,
		gen:      gen,
		spaces:   spaces,
		log:      store.NewConversationLog(st.DB()),
		bank:     bank,
		gate:     gate,
	}
}

func (f *fixture) createSpace(t *testing.T, tenantID string, budget int) space.Config {
	t.Helper()
	cfg, err := f.spaces.Create(context.Background(), space.Config{
		TenantID: tenantID, OwnerID: "owner", MonthlyTokenBudget: budget,
	})
	require.NoError(t, err)
	return cfg
}

func TestProcessQuery_FileSourceReachesPersist(t *testing.T) {
	f := newFixture(t)
	f.createSpace(t, "t1", 100_000)

	doc := filepath.Join(t.TempDir(), "onboarding.md")
	require.NoError(t, os.WriteFile(doc, []byte("Day one: laptop setup. Day two: security training."), 0o644))

	result := f.pipeline.ProcessQuery(context.Background(), Request{
		TenantID: "t1",
		UserID:   "u1",
		Query:    "Summarize the onboarding doc",
		Sources:  []research.Source{{Kind: research.KindFile, Path: doc}},
	})
	f.pipeline.Wait()

	assert.Empty(t, result.Metadata.Error)
	assert.NotEmpty(t, result.Answer)
	assert.Contains(t, result.ResearchDocument, "# Research Summary")
	assert.Contains(t, result.ResearchDocument, "security training")
	assert.Greater(t, result.Metadata.TokensUsed, 0)

	usage, err := f.spaces.GetUsage(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.Equal(t, result.Metadata.TokensUsed, usage.TokensUsed)
	assert.Equal(t, 3, usage.APICalls)
	assert.Greater(t, usage.CostUSD, 0.0)

	// Conversation log got the query/answer pair.
	history, err := f.log.History(context.Background(), "space_t1", "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "Summarize the onboarding doc", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)

	// Fire-and-forget Q/A record landed in the tenant's collection.
	assert.Contains(t, f.bank.at("mem_t1").lastEntry(), "Q: Summarize the onboarding doc")
	assert.Zero(t, f.pipeline.DroppedWrites())
}

func TestProcessQuery_MemorySourceStaysInTenantCollection(t *testing.T) {
	f := newFixture(t)
	f.createSpace(t, "t1", 100_000)
	f.bank.at("mem_t1").entries = []string{"refunds settle within 5 business days"}

	result := f.pipeline.ProcessQuery(context.Background(), Request{
		TenantID: "t1",
		UserID:   "u1",
		Query:    "how long do refunds take?",
		Sources:  []research.Source{{Kind: research.KindMemory, Path: "u1"}},
	})
	f.pipeline.Wait()

	assert.Empty(t, result.Metadata.Error)
	assert.Contains(t, result.ResearchDocument, "# Memory Findings")
	assert.Contains(t, result.ResearchDocument, "refunds settle within 5 business days")

	// Only the tenant's collection is consulted; the default one stays cold.
	assert.Greater(t, f.bank.at("mem_t1").searchCount(), 0)
	assert.Zero(t, f.bank.at("").searchCount())
}

func TestProcessQuery_BudgetExceededSkipsGeneration(t *testing.T) {
	f := newFixture(t)
	f.createSpace(t, "t2", 100_000)
	require.NoError(t, f.spaces.UpdateUsage(context.Background(), "t2", 95_000, 10, 1.5, ""))

	result := f.pipeline.ProcessQuery(context.Background(), Request{
		TenantID: "t2", UserID: "u1", Query: "anything",
	})

	assert.Equal(t, "budget_exceeded", result.Metadata.Error)
	assert.Contains(t, result.Answer, "5,000")
	assert.Equal(t, 5_000, result.Metadata.Remaining)
	assert.Zero(t, f.gen.callCount())

	// The rejected run spends nothing.
	usage, err := f.spaces.GetUsage(context.Background(), "t2", "")
	require.NoError(t, err)
	assert.Equal(t, 95_000, usage.TokensUsed)
}

func TestProcessQuery_UsageAccumulatesAcrossRuns(t *testing.T) {
	f := newFixture(t)
	f.createSpace(t, "t1", 1_000_000)

	req := Request{TenantID: "t1", UserID: "u1", Query: "how do refunds work?"}

	first := f.pipeline.ProcessQuery(context.Background(), req)
	require.Empty(t, first.Metadata.Error)
	second := f.pipeline.ProcessQuery(context.Background(), req)
	require.Empty(t, second.Metadata.Error)
	f.pipeline.Wait()

	usage, err := f.spaces.GetUsage(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.Equal(t, first.Metadata.TokensUsed+second.Metadata.TokensUsed, usage.TokensUsed)
	assert.Equal(t, 6, usage.APICalls)
}

func TestProcessQuery_PlanRejectedStopsBeforeImplement(t *testing.T) {
	f := newFixture(t)
	f.createSpace(t, "t1", 100_000)

	// Pre-reject the plan task; content-addressed ids make it reachable
	// before the run starts.
	queryHash := review.QueryHash("u1", "risky change")
	planID := review.TaskID("t1", queryHash, "plan")
	ctx := context.Background()
	require.NoError(t, f.gate.Store().Create(ctx, review.Task{
		ID: planID, TenantID: "t1", Phase: "plan", Status: review.StatusPending,
	}))
	require.NoError(t, f.gate.Store().SetStatus(ctx, planID, review.StatusRejected, "too risky", time.Now()))

	result := f.pipeline.ProcessQuery(ctx, Request{TenantID: "t1", UserID: "u1", Query: "risky change"})

	assert.Equal(t, "Plan not approved. Cannot implement.", result.Answer)
	assert.Equal(t, "review_rejected", result.Metadata.Error)
	assert.NotEmpty(t, result.ResearchDocument)
	// Research + plan generation only; implement never fired.
	assert.Equal(t, 2, f.gen.callCount())
}

func TestProcessQuery_NoTenantIsBudgetless(t *testing.T) {
	f := newFixture(t)

	result := f.pipeline.ProcessQuery(context.Background(), Request{
		UserID: "u1", Query: "hello",
	})
	f.pipeline.Wait()

	assert.Empty(t, result.Metadata.Error)
	assert.NotEmpty(t, result.Answer)
	assert.Zero(t, result.Metadata.TokensUsed)
}

func TestProcessQuery_ArchivedSpaceRefused(t *testing.T) {
	f := newFixture(t)
	f.createSpace(t, "t1", 100_000)
	require.NoError(t, f.spaces.Archive(context.Background(), "t1"))

	result := f.pipeline.ProcessQuery(context.Background(), Request{
		TenantID: "t1", UserID: "u1", Query: "hello",
	})

	assert.Equal(t, "space_archived", result.Metadata.Error)
	assert.Zero(t, f.gen.callCount())
}

func TestProcessQuery_UnknownSpaceFails(t *testing.T) {
	f := newFixture(t)

	result := f.pipeline.ProcessQuery(context.Background(), Request{
		TenantID: "ghost", UserID: "u1", Query: "hello",
	})

	assert.Equal(t, "not_found", result.Metadata.Error)
	assert.Contains(t, result.Answer, "I encountered an error")
	assert.Zero(t, f.gen.callCount())
}

func TestProcessQuery_PreferredModelOverridesRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.spaces.Create(context.Background(), space.Config{
		TenantID: "t1", OwnerID: "owner", PreferredModel: "anthropic/claude-sonnet",
	})
	require.NoError(t, err)

	result := f.pipeline.ProcessQuery(context.Background(), Request{
		TenantID: "t1", UserID: "u1", Query: "hello", Model: "openai/gpt-4o",
	})
	f.pipeline.Wait()

	assert.Equal(t, "anthropic/claude-sonnet", result.Metadata.Model)
}

func TestProcessQuery_DroppedMemoryWriteIsCounted(t *testing.T) {
	f := newFixture(t)
	f.bank.at("").fail = true

	result := f.pipeline.ProcessQuery(context.Background(), Request{
		UserID: "u1", Query: "hello",
	})
	f.pipeline.Wait()

	assert.Empty(t, result.Metadata.Error)
	assert.NotEmpty(t, result.Answer)
	assert.Equal(t, int64(1), f.pipeline.DroppedWrites())
}

func TestComma(t *testing.T) {
	assert.Equal(t, "0", comma(0))
	assert.Equal(t, "999", comma(999))
	assert.Equal(t, "5,000", comma(5000))
	assert.Equal(t, "1,234,567", comma(1234567))
	assert.Equal(t, "-12,000", comma(-12000))
}

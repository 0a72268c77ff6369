package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/mera-ai/mera/internal/memory"
)

// MemoryAgent retrieves additional context from the long-term memory store.
// The identifier in a MEMORY source is "<userID>" or "<userID>/<topic>".
type MemoryAgent struct {
	store memory.Store
	limit int
}

func NewMemoryAgent(store memory.Store, limit int) *MemoryAgent {
	if limit <= 0 {
		limit = 5
	}
	return &MemoryAgent{store: store, limit: limit}
}

func (a *MemoryAgent) Name() string { return "memory_retriever" }

func (a *MemoryAgent) Run(ctx context.Context, sources []Source, query string) (string, error) {
	ids := filterPaths(sources, KindMemory)
	if len(ids) == 0 {
		return "", nil
	}

	var parts []string
	for _, id := range ids {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if text := a.retrieve(ctx, id, query); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}

	return "# Memory Findings\n\n" + strings.Join(parts, "\n\n"), nil
}

func (a *MemoryAgent) retrieve(ctx context.Context, identifier, query string) string {
	if a.store == nil {
		return fmt.Sprintf("Memory retrieval not configured for '%s'", identifier)
	}

	userID := identifier
	if idx := strings.Index(identifier, "/"); idx >= 0 {
		userID = identifier[:idx]
	}

	entries, err := a.store.Search(ctx, userID, query, a.limit)
	if err != nil {
		return fmt.Sprintf("Error retrieving memory: %v", err)
	}
	if len(entries) == 0 {
		// Absence of a result is not an error.
		return fmt.Sprintf("No relevant memories found for '%s'", identifier)
	}

	var texts []string
	for _, e := range entries {
		if e.Text != "" {
			texts = append(texts, e.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

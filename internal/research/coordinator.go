package research

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mera-ai/mera/internal/memory"
)

// Coordinator fans the four sub-agents out in parallel over the same source
// list (each agent filters to its own kinds) and synthesizes the non-empty
// fragments under a single header. This is a join, not a race: a slow agent
// is waited for, bounded only by the agents' own per-call timeouts.
//
// The memory agent is bound per call, not at construction: each run carries
// its tenant's memory store, so MEMORY sources only ever read the caller's
// collection.
type Coordinator struct {
	file     *FileAgent
	link     *LinkAgent
	db       *DatabaseAgent
	memLimit int
}

func NewCoordinator(file *FileAgent, link *LinkAgent, db *DatabaseAgent, memLimit int) *Coordinator {
	return &Coordinator{file: file, link: link, db: db, memLimit: memLimit}
}

// ResearchWithContext resolves all sources into a single research document,
// searching mem for MEMORY sources. Unrecognized source kinds simply
// contribute nothing; the result is then a header-only document, never an
// error.
func (c *Coordinator) ResearchWithContext(ctx context.Context, query string, sources []Source, mem memory.Store) (string, error) {
	agents := []Agent{c.file, c.link, c.db, NewMemoryAgent(mem, c.memLimit)}
	fragments := make([]string, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range agents {
		g.Go(func() error {
			fragment, err := agent.Run(gctx, sources, query)
			if err != nil {
				return err
			}
			fragments[i] = fragment
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var nonEmpty []string
	for i, f := range fragments {
		if strings.TrimSpace(f) != "" {
			nonEmpty = append(nonEmpty, f)
			slog.Debug("Sub-agent contributed findings", "agent", agents[i].Name(), "chars", len(f))
		}
	}

	header := "# Research Summary\n\nQuery: " + query + "\n\n"
	return header + strings.Join(nonEmpty, "\n\n"), nil
}

// Package memory implements the long-term memory store behind a single
// canonical interface. The backing implementation is resolved at
// construction time by tenant configuration, never by runtime type
// inspection: each tenant gets its own chromem collection.
package memory

import "context"

// Entry is the canonical result shape for memory lookups.
type Entry struct {
	Text     string
	Metadata map[string]string
	Score    float32
}

// Store is the narrow contract the pipeline and sub-agents consume.
type Store interface {
	Search(ctx context.Context, userID, query string, limit int) ([]Entry, error)
	Store(ctx context.Context, userID, text string, metadata map[string]string) error
}

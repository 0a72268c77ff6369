package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/philippgille/chromem-go"
)

// Embedder produces the vector for a text. Satisfied by llm.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is a chromem-backed Store scoped to one collection.
type VectorStore struct {
	db         *chromem.DB
	collection string
	embedder   Embedder
}

// OpenDB opens (or creates) the persistent vector database under path.
func OpenDB(path string) (*chromem.DB, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	return db, nil
}

// NewVectorStore binds a collection name to the shared vector database.
// The collection reference comes from the tenant configuration.
func NewVectorStore(db *chromem.DB, collection string, embedder Embedder) *VectorStore {
	return &VectorStore{
		db:         db,
		collection: collection,
		embedder:   embedder,
	}
}

var _ Store = (*VectorStore)(nil)

func (s *VectorStore) Search(ctx context.Context, userID, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 5
	}

	col := s.db.GetCollection(s.collection, nil)
	if col == nil {
		// Nothing stored yet; absence is not an error.
		return nil, nil
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	where := map[string]string{"user_id": userID}
	docs, err := col.QueryEmbedding(ctx, embedding, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}

	var entries []Entry
	for _, doc := range docs {
		entries = append(entries, Entry{
			Text:     doc.Content,
			Metadata: doc.Metadata,
			Score:    doc.Similarity,
		})
	}

	slog.Debug("Memory retrieved", "collection", s.collection, "user", userID, "count", len(entries))
	return entries, nil
}

func (s *VectorStore) Store(ctx context.Context, userID, text string, metadata map[string]string) error {
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed text: %w", err)
	}

	col, err := s.db.GetOrCreateCollection(s.collection, nil, nil)
	if err != nil {
		return fmt.Errorf("get collection: %w", err)
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["user_id"] = userID

	id := ulid.Make().String()
	// AddDocuments is an upsert in chromem.
	err = col.AddDocuments(ctx, []chromem.Document{
		{
			ID:        id,
			Metadata:  meta,
			Embedding: embedding,
			Content:   text,
		},
	}, 1)
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}

	slog.Debug("Memory stored", "collection", s.collection, "user", userID, "id", id)
	return nil
}

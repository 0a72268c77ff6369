// Package kb searches a space's vault of markdown notes. Vault failures
// never abort a pipeline run; they are logged and yield empty results.
package kb

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/mera-ai/mera/internal/cache"
)

const (
	DefaultLimit = 5

	searchTTL     = 30 * time.Minute
	snippetLength = 200
)

// Note is one vault search hit.
type Note struct {
	Path    string
	Title   string
	Snippet string
	Score   int
}

type Vault struct {
	cache *cache.Cache
	limit int
}

func NewVault(c *cache.Cache, limit int) *Vault {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Vault{cache: c, limit: limit}
}

// Search scans vaultPath for markdown notes matching the query terms,
// best matches first. A missing or unreadable vault is not an error.
func (v *Vault) Search(ctx context.Context, vaultPath, query string) []Note {
	if vaultPath == "" || strings.TrimSpace(query) == "" {
		return nil
	}

	fp := cache.Fingerprint("kb_search", vaultPath, query)
	if hit, ok := v.cache.Get(fp); ok {
		var notes []Note
		if err := json.Unmarshal([]byte(hit), &notes); err == nil {
			return notes
		}
	}

	terms := strings.Fields(strings.ToLower(query))
	var notes []Note

	err := filepath.WalkDir(vaultPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("vault entry unreadable", "path", path, "error", err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("vault note unreadable", "path", path, "error", err)
			return nil
		}

		if note, ok := scoreNote(path, string(raw), terms); ok {
			notes = append(notes, note)
		}
		return nil
	})
	if err != nil {
		slog.Warn("vault search aborted", "vault", vaultPath, "error", err)
		return nil
	}

	sort.SliceStable(notes, func(i, j int) bool { return notes[i].Score > notes[j].Score })
	if len(notes) > v.limit {
		notes = notes[:v.limit]
	}

	if raw, err := json.Marshal(notes); err == nil {
		v.cache.Set(fp, string(raw), searchTTL)
	}
	return notes
}

func scoreNote(path, content string, terms []string) (Note, bool) {
	lower := strings.ToLower(content)
	name := strings.ToLower(filepath.Base(path))

	score := 0
	for _, term := range terms {
		score += strings.Count(lower, term)
		if strings.Contains(name, term) {
			score += 2
		}
	}
	if score == 0 {
		return Note{}, false
	}

	return Note{
		Path:    path,
		Title:   strings.TrimSuffix(filepath.Base(path), ".md"),
		Snippet: snippet(content, terms),
		Score:   score,
	}, true
}

// snippet returns the first line containing a query term, clipped to a
// readable length, or the head of the note when no line matches.
func snippet(content string, terms []string) string {
	for _, line := range strings.Split(content, "\n") {
		lower := strings.ToLower(line)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				return clip(strings.TrimSpace(line))
			}
		}
	}
	return clip(strings.TrimSpace(content))
}

func clip(s string) string {
	if len(s) <= snippetLength {
		return s
	}
	return s[:snippetLength] + "..."
}

// CreateNote writes a markdown note into the vault atomically. The title
// becomes the filename; tags are rendered as a hashtag line above the body.
func CreateNote(vaultPath, title, content string, tags []string) error {
	filename := strings.TrimSpace(strings.NewReplacer("/", "-", "\\", "-").Replace(title))
	if !strings.HasSuffix(filename, ".md") {
		filename += ".md"
	}

	if len(tags) > 0 {
		hashtags := make([]string, len(tags))
		for i, tag := range tags {
			hashtags[i] = "#" + tag
		}
		content = strings.Join(hashtags, " ") + "\n\n" + content
	}

	if err := os.MkdirAll(vaultPath, 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(filepath.Join(vaultPath, filename), bytes.NewReader([]byte(content)))
}

// Render formats search hits as a findings fragment for the research
// document. Empty input renders to the empty string.
func Render(notes []Note) string {
	if len(notes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Knowledge Base Notes\n")
	for _, note := range notes {
		b.WriteString("\n- **" + note.Title + "**: " + note.Snippet)
	}
	return b.String()
}

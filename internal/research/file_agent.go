package research

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const truncationMarker = "\n\n[... truncated ...]"

// FileAgent explores local files and directories.
type FileAgent struct {
	maxChars   int
	maxEntries int
}

func NewFileAgent(maxChars, maxEntries int) *FileAgent {
	if maxChars <= 0 {
		maxChars = 50_000
	}
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &FileAgent{maxChars: maxChars, maxEntries: maxEntries}
}

func (a *FileAgent) Name() string { return "file_explorer" }

func (a *FileAgent) Run(ctx context.Context, sources []Source, query string) (string, error) {
	paths := filterPaths(sources, KindFile, KindDirectory)
	if len(paths) == 0 {
		return "", nil
	}

	var parts []string
	for _, p := range paths {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		parts = append(parts, a.explore(p))
	}

	return "# File/Directory Findings\n\n" + strings.Join(parts, "\n\n"), nil
}

func (a *FileAgent) explore(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		// Missing paths produce a note, not a failure.
		return fmt.Sprintf("Path not found: %s", path)
	}

	if info.IsDir() {
		return a.listDir(path)
	}
	return a.readFile(path)
}

func (a *FileAgent) readFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("Error reading %s: %v", path, err)
	}

	content := clip(string(data), a.maxChars)
	return fmt.Sprintf("## File: %s\n\n```\n%s\n```", path, content)
}

func (a *FileAgent) listDir(path string) string {
	var files []string
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && p != path {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(path, p)
		if relErr != nil {
			rel = p
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return fmt.Sprintf("Error reading directory %s: %v", path, err)
	}

	listed := files
	suffix := ""
	if len(files) > a.maxEntries {
		listed = files[:a.maxEntries]
		suffix = fmt.Sprintf("\n... and %d more files", len(files)-a.maxEntries)
	}
	return fmt.Sprintf("## Directory: %s\n\nFiles:\n%s%s", path, strings.Join(listed, "\n"), suffix)
}

// Package research gathers context from heterogeneous sources through four
// specialized sub-agents and synthesizes their findings into one research
// document. Sub-agents absorb per-source failures into inline text so a bad
// source never aborts the whole run.
package research

import (
	"context"
	"strings"
	"unicode/utf8"

	merrors "github.com/mera-ai/mera/internal/errors"
)

type SourceKind string

const (
	KindFile      SourceKind = "FILE"
	KindDirectory SourceKind = "DIRECTORY"
	KindURL       SourceKind = "URL"
	KindAPI       SourceKind = "API"
	KindDatabase  SourceKind = "DATABASE"
	KindMemory    SourceKind = "MEMORY"
)

// Source is a typed pointer to something the coordinator can resolve into
// findings. Immutable, supplied per request.
type Source struct {
	Kind  SourceKind
	Path  string
	Extra map[string]string
}

// ParseKind normalizes a user-supplied kind string.
func ParseKind(s string) (SourceKind, error) {
	switch SourceKind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindFile:
		return KindFile, nil
	case KindDirectory:
		return KindDirectory, nil
	case KindURL:
		return KindURL, nil
	case KindAPI:
		return KindAPI, nil
	case KindDatabase:
		return KindDatabase, nil
	case KindMemory:
		return KindMemory, nil
	default:
		return "", merrors.InvalidInput("unknown context source kind: " + s)
	}
}

// Agent turns the sources matching its kind into a markdown findings
// fragment. An empty fragment means "no contribution" and is not an error.
type Agent interface {
	Name() string
	Run(ctx context.Context, sources []Source, query string) (string, error)
}

// clip truncates s after max characters, cutting on a rune boundary so the
// fragment stays valid UTF-8, and appends the truncation marker.
func clip(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + truncationMarker
}

func filterPaths(sources []Source, kinds ...SourceKind) []string {
	var paths []string
	for _, s := range sources {
		for _, k := range kinds {
			if s.Kind == k {
				paths = append(paths, s.Path)
				break
			}
		}
	}
	return paths
}

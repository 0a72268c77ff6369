package research

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mera-ai/mera/internal/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkAgent_FetchesThroughCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("doc body"))
	}))
	defer srv.Close()

	a := NewLinkAgent(cache.New(), 5*time.Second, time.Minute, 50_000)
	src := []Source{{Kind: KindURL, Path: srv.URL}}

	out, err := a.Run(context.Background(), src, "q")
	require.NoError(t, err)
	assert.Contains(t, out, "doc body")

	_, err = a.Run(context.Background(), src, "q")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second fetch must be served from cache")
}

func TestLinkAgent_TruncatesOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("日本語", 50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	a := NewLinkAgent(cache.New(), 5*time.Second, time.Minute, 100)
	out, err := a.Run(context.Background(), []Source{{Kind: KindURL, Path: srv.URL}}, "q")
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, string([]rune(body)[:100])+truncationMarker)
}

func TestLinkAgent_HTTPErrorBecomesInlineFragment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewLinkAgent(cache.New(), 5*time.Second, time.Minute, 50_000)
	out, err := a.Run(context.Background(), []Source{{Kind: KindAPI, Path: srv.URL}}, "q")
	require.NoError(t, err)
	assert.Contains(t, out, "HTTP 500")
}

func TestLinkAgent_UnreachableHostDoesNotAbortBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("alive"))
	}))
	defer srv.Close()

	a := NewLinkAgent(cache.New(), 2*time.Second, time.Minute, 50_000)
	out, err := a.Run(context.Background(), []Source{
		{Kind: KindURL, Path: "http://127.0.0.1:1"},
		{Kind: KindURL, Path: srv.URL},
	}, "q")
	require.NoError(t, err)
	assert.Contains(t, out, "network error")
	assert.Contains(t, out, "alive")
}

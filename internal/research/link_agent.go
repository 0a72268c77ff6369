package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mera-ai/mera/internal/cache"

	"golang.org/x/sync/errgroup"
)

// LinkAgent fetches URL and API sources, each through the result cache.
type LinkAgent struct {
	client   *http.Client
	cache    *cache.Cache
	cacheTTL time.Duration
	maxChars int
}

func NewLinkAgent(c *cache.Cache, timeout, cacheTTL time.Duration, maxChars int) *LinkAgent {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Minute
	}
	if maxChars <= 0 {
		maxChars = 50_000
	}
	return &LinkAgent{
		client:   &http.Client{Timeout: timeout},
		cache:    c,
		cacheTTL: cacheTTL,
		maxChars: maxChars,
	}
}

func (a *LinkAgent) Name() string { return "link_crawler" }

func (a *LinkAgent) Run(ctx context.Context, sources []Source, query string) (string, error) {
	urls := filterPaths(sources, KindURL, KindAPI)
	if len(urls) == 0 {
		return "", nil
	}

	parts := make([]string, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, url := range urls {
		g.Go(func() error {
			parts[i] = a.fetch(gctx, url)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	return "# Link/API Findings\n\n" + strings.Join(parts, "\n\n"), nil
}

func (a *LinkAgent) fetch(ctx context.Context, url string) string {
	fp := cache.Fingerprint("url_fetch", url)
	if cached, ok := a.cache.Get(fp); ok {
		return cached
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Sprintf("Error fetching %s: %v", url, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		// Transport errors become inline fragments, never batch failures.
		return fmt.Sprintf("Error fetching %s: network error - %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Sprintf("Error fetching %s: HTTP %d", url, resp.StatusCode)
	}

	// Read up to maxChars characters; the byte budget allows for the widest
	// rune so a multi-byte body is never cut below its character limit.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(a.maxChars)*utf8.UTFMax+1))
	if err != nil {
		return fmt.Sprintf("Error fetching %s: %v", url, err)
	}

	content := clip(string(body), a.maxChars)

	result := fmt.Sprintf("## URL: %s\n\n```\n%s\n```", url, content)
	a.cache.Set(fp, result, a.cacheTTL)
	return result
}

package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/thinkscotty/digest/internal/ai"
	"github.com/thinkscotty/digest/internal/cache"
	"github.com/thinkscotty/digest/internal/config"
	"github.com/thinkscotty/digest/internal/models"
)

// ErrNoAPIKey signals that summarization was requested but no key resolved
// for the source's provider. Callers fall back to the article excerpt.
var ErrNoAPIKey = errors.New("no API key configured for provider")

// Stats is a snapshot of gateway activity for one run.
type Stats struct {
	CacheHits     int64
	CacheMisses   int64
	ProviderCalls int64
}

// Gateway wraps the AI provider behind the summary cache. Every call checks
// the cache before spending a provider request, and writes the result back
// after a successful one. Concurrent requests for the same fingerprint are
// collapsed into a single provider call.
type Gateway struct {
	store       cache.Store
	group       singleflight.Group
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration

	newProvider func(name, apiKey string) (ai.Provider, error)
	mu          sync.Mutex
	providers   map[string]ai.Provider

	hits   atomic.Int64
	misses atomic.Int64
	calls  atomic.Int64

	warnNoKey sync.Once
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRateLimit bounds provider calls to r requests per second.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(g *Gateway) { g.limiter = rate.NewLimiter(r, burst) }
}

// WithRetry sets the transient-error retry policy.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(g *Gateway) {
		g.maxAttempts = maxAttempts
		g.baseDelay = baseDelay
	}
}

// WithProviderFactory replaces the provider constructor (used by tests).
func WithProviderFactory(f func(name, apiKey string) (ai.Provider, error)) Option {
	return func(g *Gateway) { g.newProvider = f }
}

// New creates a Gateway over the given cache store.
func New(store cache.Store, opts ...Option) *Gateway {
	g := &Gateway{
		store:       store,
		limiter:     rate.NewLimiter(rate.Limit(2), 1),
		maxAttempts: 3,
		baseDelay:   time.Second,
		newProvider: ai.New,
		providers:   make(map[string]ai.Provider),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Stats returns a snapshot of cache and provider activity.
func (g *Gateway) Stats() Stats {
	return Stats{
		CacheHits:     g.hits.Load(),
		CacheMisses:   g.misses.Load(),
		ProviderCalls: g.calls.Load(),
	}
}

// Summarize returns the AI summary for an article under the given settings,
// serving from cache when the fingerprint is already known. Cache I/O
// failures degrade to a warning and an uncached call.
func (g *Gateway) Summarize(ctx context.Context, article models.Article, s config.Settings) (string, error) {
	if s.APIKey == "" {
		g.warnNoKey.Do(func() {
			slog.Warn("No API key configured, articles will use excerpts instead of summaries",
				"provider", s.Provider)
		})
		return "", ErrNoAPIKey
	}

	fp := Fingerprint(article.RawContent, s.Model, s.SummaryLength, s.SystemPrompt)

	rec, ok, err := g.store.Lookup(ctx, fp)
	if err != nil {
		slog.Warn("Cache lookup failed, continuing uncached", "error", err)
	}
	if ok {
		g.hits.Add(1)
		slog.Debug("Cache hit", "title", article.Title)
		return rec.Summary, nil
	}
	g.misses.Add(1)

	text, err, _ := g.group.Do(fp, func() (any, error) {
		out, err := g.generate(ctx, fp, article, s)
		return out, err
	})
	if err != nil {
		return "", err
	}
	return text.(string), nil
}

func (g *Gateway) generate(ctx context.Context, fp string, article models.Article, s config.Settings) (string, error) {
	provider, err := g.provider(s.Provider, s.APIKey)
	if err != nil {
		return "", err
	}

	req := ai.Request{
		Model:        s.Model,
		SystemPrompt: s.SystemPrompt,
		UserPrompt:   buildUserPrompt(article, s),
		MaxTokens:    s.MaxTokens,
		Temperature:  s.Temperature,
	}

	var text, model string
	err = retryTransient(ctx, g.maxAttempts, g.baseDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		g.calls.Add(1)
		resp, err := provider.Generate(ctx, req)
		if err != nil {
			return err
		}
		text = resp.Text
		model = resp.Model
		return nil
	})
	if err != nil {
		return "", err
	}

	// summary_length is a target the model is asked to respect, not a hard
	// cap; flag wild overshoots but do not truncate.
	if len(text) > 8*s.SummaryLength {
		slog.Debug("Summary far exceeds requested length",
			"title", article.Title, "target", s.SummaryLength, "got", len(text))
	}

	if err := g.store.Store(ctx, fp, cache.SummaryRecord{
		Summary:   text,
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		slog.Warn("Cache store failed, summary not persisted", "error", err)
	}

	return text, nil
}

// provider returns a memoized backend for a (name, key) pair so HTTP clients
// are shared across calls.
func (g *Gateway) provider(name, apiKey string) (ai.Provider, error) {
	key := name + "\x00" + apiKey
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.providers[key]; ok {
		return p, nil
	}
	p, err := g.newProvider(name, apiKey)
	if err != nil {
		return nil, err
	}
	g.providers[key] = p
	return p, nil
}

func buildUserPrompt(article models.Article, s config.Settings) string {
	if s.UserPrompt != "" {
		return s.UserPrompt
	}
	return fmt.Sprintf("Summarize this article in about %d words. Title: %s\n\nContent: %s",
		s.SummaryLength, article.Title, article.RawContent)
}

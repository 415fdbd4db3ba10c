package summarize

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/thinkscotty/digest/internal/ai"
	"github.com/thinkscotty/digest/internal/cache"
	"github.com/thinkscotty/digest/internal/config"
	"github.com/thinkscotty/digest/internal/models"
)

type memStore struct {
	mu        sync.Mutex
	records   map[string]cache.SummaryRecord
	lookupErr error
	storeErr  error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]cache.SummaryRecord{}}
}

func (m *memStore) Lookup(_ context.Context, fp string) (cache.SummaryRecord, bool, error) {
	if m.lookupErr != nil {
		return cache.SummaryRecord{}, false, m.lookupErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[fp]
	return rec, ok, nil
}

func (m *memStore) Store(_ context.Context, fp string, rec cache.SummaryRecord) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[fp] = rec
	return nil
}

type fakeProvider struct {
	generate func(ai.Request) (*ai.Response, error)
	calls    atomic.Int64
}

func (f *fakeProvider) Generate(_ context.Context, req ai.Request) (*ai.Response, error) {
	f.calls.Add(1)
	return f.generate(req)
}

func (f *fakeProvider) Name() string { return "fake" }

func newTestGateway(store cache.Store, p ai.Provider, opts ...Option) *Gateway {
	base := []Option{
		WithRateLimit(rate.Inf, 1),
		WithRetry(3, time.Millisecond),
		WithProviderFactory(func(name, apiKey string) (ai.Provider, error) { return p, nil }),
	}
	return New(store, append(base, opts...)...)
}

func testSettings() config.Settings {
	s := config.Defaults()
	s.APIKey = "test-key"
	return s
}

func testArticle(content string) models.Article {
	return models.Article{Title: "Title", URL: "https://example.com/a", RawContent: content}
}

func TestSummarizeCachesResult(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{generate: func(ai.Request) (*ai.Response, error) {
		return &ai.Response{Text: "a summary", Model: "m"}, nil
	}}
	g := newTestGateway(store, provider)

	for i := 0; i < 3; i++ {
		got, err := g.Summarize(context.Background(), testArticle("body"), testSettings())
		if err != nil {
			t.Fatalf("Summarize() call %d error: %v", i, err)
		}
		if got != "a summary" {
			t.Fatalf("Summarize() call %d = %q, want %q", i, got, "a summary")
		}
	}

	if n := provider.calls.Load(); n != 1 {
		t.Errorf("provider calls = %d, want 1 (repeat requests must hit the cache)", n)
	}

	stats := g.Stats()
	if stats.CacheHits != 2 || stats.CacheMisses != 1 || stats.ProviderCalls != 1 {
		t.Errorf("stats = %+v, want 2 hits, 1 miss, 1 call", stats)
	}
}

func TestSummarizeDistinctSettingsDistinctCalls(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{generate: func(req ai.Request) (*ai.Response, error) {
		return &ai.Response{Text: req.Model, Model: req.Model}, nil
	}}
	g := newTestGateway(store, provider)

	s1 := testSettings()
	s2 := testSettings()
	s2.Model = "other-model"

	if _, err := g.Summarize(context.Background(), testArticle("body"), s1); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Summarize(context.Background(), testArticle("body"), s2); err != nil {
		t.Fatal(err)
	}

	if n := provider.calls.Load(); n != 2 {
		t.Errorf("provider calls = %d, want 2 (different model means different fingerprint)", n)
	}
}

func TestSummarizeNoAPIKey(t *testing.T) {
	provider := &fakeProvider{generate: func(ai.Request) (*ai.Response, error) {
		return &ai.Response{Text: "never"}, nil
	}}
	g := newTestGateway(newMemStore(), provider)

	s := testSettings()
	s.APIKey = ""
	_, err := g.Summarize(context.Background(), testArticle("body"), s)
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("error = %v, want ErrNoAPIKey", err)
	}
	if n := provider.calls.Load(); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
}

func TestSummarizeRetriesTransient(t *testing.T) {
	var attempt atomic.Int64
	provider := &fakeProvider{generate: func(ai.Request) (*ai.Response, error) {
		if attempt.Add(1) <= 2 {
			return nil, &ai.ProviderError{Provider: "fake", Status: 503, Msg: "overloaded", Transient: true}
		}
		return &ai.Response{Text: "finally", Model: "m"}, nil
	}}
	g := newTestGateway(newMemStore(), provider)

	got, err := g.Summarize(context.Background(), testArticle("body"), testSettings())
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if got != "finally" {
		t.Errorf("Summarize() = %q, want %q", got, "finally")
	}
	if n := provider.calls.Load(); n != 3 {
		t.Errorf("provider calls = %d, want 3 (two transient failures then success)", n)
	}
}

func TestSummarizePermanentErrorNoRetry(t *testing.T) {
	provider := &fakeProvider{generate: func(ai.Request) (*ai.Response, error) {
		return nil, &ai.ProviderError{Provider: "fake", Status: 401, Msg: "bad key"}
	}}
	g := newTestGateway(newMemStore(), provider)

	_, err := g.Summarize(context.Background(), testArticle("body"), testSettings())
	if err == nil {
		t.Fatal("Summarize() succeeded, want permanent error")
	}
	if ai.IsTransient(err) {
		t.Errorf("error classified transient: %v", err)
	}
	if n := provider.calls.Load(); n != 1 {
		t.Errorf("provider calls = %d, want 1 (permanent errors must not retry)", n)
	}
}

func TestSummarizeCacheErrorDegradesToMiss(t *testing.T) {
	store := newMemStore()
	store.lookupErr = errors.New("disk on fire")
	provider := &fakeProvider{generate: func(ai.Request) (*ai.Response, error) {
		return &ai.Response{Text: "fresh", Model: "m"}, nil
	}}
	g := newTestGateway(store, provider)

	got, err := g.Summarize(context.Background(), testArticle("body"), testSettings())
	if err != nil {
		t.Fatalf("Summarize() error: %v (cache failure must not fail the call)", err)
	}
	if got != "fresh" {
		t.Errorf("Summarize() = %q, want %q", got, "fresh")
	}
}

func TestSummarizeCollapsesConcurrentDuplicates(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{generate: func(ai.Request) (*ai.Response, error) {
		time.Sleep(50 * time.Millisecond)
		return &ai.Response{Text: "shared", Model: "m"}, nil
	}}
	g := newTestGateway(store, provider)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := g.Summarize(context.Background(), testArticle("body"), testSettings())
			if err != nil {
				t.Errorf("Summarize() error: %v", err)
				return
			}
			if got != "shared" {
				t.Errorf("Summarize() = %q, want %q", got, "shared")
			}
		}()
	}
	wg.Wait()

	if n := provider.calls.Load(); n != 1 {
		t.Errorf("provider calls = %d, want 1 (identical in-flight requests must collapse)", n)
	}
}

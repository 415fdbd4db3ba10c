package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/thinkscotty/digest/internal/ai"
	"github.com/thinkscotty/digest/internal/cache"
	"github.com/thinkscotty/digest/internal/config"
	"github.com/thinkscotty/digest/internal/models"
	"github.com/thinkscotty/digest/internal/summarize"
)

// Fetcher pulls the articles for one feed URL.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]models.Article, error)
}

// Summarizer produces the summary text for one article.
type Summarizer interface {
	Summarize(ctx context.Context, article models.Article, s config.Settings) (string, error)
}

// SourceSkip records a source that was dropped from a digest and why.
type SourceSkip struct {
	URL string
	Err error
}

// Result is the outcome of assembling one digest.
type Result struct {
	Digest   *models.Digest
	Skipped  []SourceSkip
	Degraded int // articles that fell back to an excerpt after retry exhaustion
	New      int // articles not previously included in this digest
}

// Assembler turns a digest definition plus fetched articles into the
// normalized digest representation. Sources are processed concurrently up to
// a bounded worker count, but output order is fixed by definition order, not
// completion order.
type Assembler struct {
	fetcher Fetcher
	gateway Summarizer
	history cache.History
	workers int
}

// NewAssembler creates an Assembler with the given worker bound.
func NewAssembler(fetcher Fetcher, gateway Summarizer, history cache.History, workers int) *Assembler {
	if workers < 1 {
		workers = 1
	}
	return &Assembler{fetcher: fetcher, gateway: gateway, history: history, workers: workers}
}

// Assemble processes every source of the digest in definition order. A feed
// failure skips that source; a permanent provider failure cancels in-flight
// work and aborts this digest only.
func (a *Assembler) Assemble(ctx context.Context, d config.Digest) (*Result, error) {
	included, err := a.history.Included(ctx, d.ID)
	if err != nil {
		slog.Warn("Could not load digest history, articles may repeat", "digest", d.ID, "error", err)
		included = map[string]cache.HistoryEntry{}
	}

	// Workers write into per-source slots; assembly reads the slots in
	// definition order so concurrency never changes output order.
	slots := make([][]models.Item, len(d.Sources))
	fresh := make([][]cache.HistoryEntry, len(d.Sources))

	var mu sync.Mutex
	var skipped []SourceSkip
	degraded := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for i, src := range d.Sources {
		i, src := i, src
		g.Go(func() error {
			articles, err := a.fetcher.Fetch(gctx, src.URL)
			if err != nil {
				slog.Warn("Skipping unreachable source", "digest", d.ID, "url", src.URL, "error", err)
				mu.Lock()
				skipped = append(skipped, SourceSkip{URL: src.URL, Err: err})
				mu.Unlock()
				return nil
			}

			items := make([]models.Item, 0, len(articles))
			var entries []cache.HistoryEntry
			for _, art := range articles {
				if prev, ok := included[art.URL]; ok {
					items = append(items, itemFromHistory(prev))
					continue
				}

				summary, fellBack, err := a.summarizeArticle(gctx, art, src.Settings)
				if err != nil {
					return fmt.Errorf("source %s: %w", src.URL, err)
				}
				if fellBack {
					mu.Lock()
					degraded++
					mu.Unlock()
				}

				item := models.Item{
					Title:       art.Title,
					URL:         art.URL,
					Summary:     summary,
					PublishedAt: art.PublishedAt.UTC(),
					SourceLabel: src.Label,
					SourceURL:   art.SourceURL,
					ImageURL:    art.ImageURL,
				}
				items = append(items, item)
				entries = append(entries, cache.HistoryEntry{
					Title:       item.Title,
					URL:         item.URL,
					Summary:     item.Summary,
					PublishedAt: item.PublishedAt,
					SourceLabel: item.SourceLabel,
					SourceURL:   item.SourceURL,
					ImageURL:    item.ImageURL,
				})
			}

			slots[i] = items
			fresh[i] = entries
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("digest %q aborted: %w", d.Name, err)
	}

	result := &Result{
		Digest:  &models.Digest{Name: d.Name, ID: d.ID, Days: groupByDay(slots)},
		Skipped: skipped,
	}
	result.Degraded = degraded

	var newEntries []cache.HistoryEntry
	for _, entries := range fresh {
		newEntries = append(newEntries, entries...)
	}
	result.New = len(newEntries)
	if err := a.history.Record(ctx, d.ID, newEntries); err != nil {
		slog.Warn("Could not record digest history", "digest", d.ID, "error", err)
	}

	return result, nil
}

// summarizeArticle returns the display text for one article. Transient
// exhaustion and a missing API key degrade to the article excerpt; permanent
// provider errors propagate and abort the digest.
func (a *Assembler) summarizeArticle(ctx context.Context, art models.Article, s config.Settings) (text string, fellBack bool, err error) {
	if !s.DoSummarize {
		return Excerpt(art.RawContent, s.SummaryLength), false, nil
	}

	text, err = a.gateway.Summarize(ctx, art, s)
	switch {
	case err == nil:
		return text, false, nil
	case errors.Is(err, summarize.ErrNoAPIKey), ai.IsTransient(err):
		slog.Warn("Summarization unavailable, using excerpt", "title", art.Title, "error", err)
		return Excerpt(art.RawContent, s.SummaryLength), true, nil
	default:
		return "", false, err
	}
}

func itemFromHistory(e cache.HistoryEntry) models.Item {
	return models.Item{
		Title:       e.Title,
		URL:         e.URL,
		Summary:     e.Summary,
		PublishedAt: e.PublishedAt.UTC(),
		SourceLabel: e.SourceLabel,
		SourceURL:   e.SourceURL,
		ImageURL:    e.ImageURL,
	}
}

// groupByDay buckets items by UTC calendar day, most recent day first.
// Within a day the slot walk preserves definition order, then feed order.
func groupByDay(slots [][]models.Item) []models.Day {
	byDay := make(map[string][]models.Item)
	for _, slot := range slots {
		for _, item := range slot {
			key := models.DayOf(item.PublishedAt)
			byDay[key] = append(byDay[key], item)
		}
	}

	keys := make([]string, 0, len(byDay))
	for key := range byDay {
		keys = append(keys, key)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	days := make([]models.Day, 0, len(keys))
	for _, key := range keys {
		days = append(days, models.Day{Date: key, Items: byDay[key]})
	}
	return days
}

// Excerpt truncates content to roughly maxLen bytes on a rune boundary,
// appending an ellipsis when anything was cut. Content short enough is
// returned verbatim.
func Excerpt(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

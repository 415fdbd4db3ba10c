package cache

import (
	"context"
	"time"
)

// SummaryRecord is a cached summarization result. Records are written once
// per fingerprint and never updated in place; a changed input produces a new
// fingerprint and a new record.
type SummaryRecord struct {
	Summary   string
	Model     string
	CreatedAt time.Time
}

// Store is the summary cache capability. Implementations must tolerate
// concurrent lookups and stores; a concurrent store to the same fingerprint
// is last-write-wins.
type Store interface {
	Lookup(ctx context.Context, fingerprint string) (SummaryRecord, bool, error)
	Store(ctx context.Context, fingerprint string, rec SummaryRecord) error
}

// HistoryEntry is one article previously included in a digest, kept so
// re-runs can re-emit it without another provider call.
type HistoryEntry struct {
	Title       string
	URL         string
	Summary     string
	PublishedAt time.Time
	SourceLabel string
	SourceURL   string
	ImageURL    string
}

// History tracks which article URLs each digest has already included.
// Dedup is per digest, not global.
type History interface {
	Included(ctx context.Context, digestID string) (map[string]HistoryEntry, error)
	Record(ctx context.Context, digestID string, entries []HistoryEntry) error
}

// Noop satisfies Store while caching nothing. It backs the cache_enabled:
// false path so callers never branch on whether caching is on.
type Noop struct{}

func (Noop) Lookup(context.Context, string) (SummaryRecord, bool, error) {
	return SummaryRecord{}, false, nil
}

func (Noop) Store(context.Context, string, SummaryRecord) error { return nil }

// NoopHistory satisfies History while remembering nothing. With caching
// disabled every run re-includes whatever the feeds currently carry.
type NoopHistory struct{}

func (NoopHistory) Included(context.Context, string) (map[string]HistoryEntry, error) {
	return map[string]HistoryEntry{}, nil
}

func (NoopHistory) Record(context.Context, string, []HistoryEntry) error { return nil }

package models

import "time"

// Article is a single entry pulled from a source feed, before summarization.
// ImageURL is the lead image when the feed or page provides one, else empty.
type Article struct {
	Title       string
	URL         string
	PublishedAt time.Time
	RawContent  string
	SourceURL   string
	ImageURL    string
}

// Item is an article after summarization (or passthrough), ready for emission.
type Item struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Summary     string    `json:"summary"`
	PublishedAt time.Time `json:"published_at"`
	SourceLabel string    `json:"source"`
	SourceURL   string    `json:"source_url"`
	ImageURL    string    `json:"image,omitempty"`
}

// Day groups the items published on one calendar day (UTC).
type Day struct {
	Date  string // YYYY-MM-DD
	Items []Item
}

// Digest is the assembled, normalized output for one configured digest.
// Days are ordered most recent first; items within a day keep
// source-definition order, then feed order.
type Digest struct {
	Name string
	ID   string
	Days []Day
}

// DayOf returns the UTC calendar-day key used for digest grouping.
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

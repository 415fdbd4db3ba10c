package emit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/thinkscotty/digest/internal/models"
)

func sampleDigest() *models.Digest {
	return &models.Digest{
		Name: "Tech News",
		ID:   "tech-news",
		Days: []models.Day{
			{
				Date: "2026-08-20",
				Items: []models.Item{
					{
						Title:       "Go 1.25 released",
						URL:         "https://example.com/go-125",
						Summary:     "The Go team shipped 1.25.",
						PublishedAt: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
						SourceLabel: "Go Blog",
						SourceURL:   "https://example.com/feed",
						ImageURL:    "https://example.com/go-125.png",
					},
					{
						Title:       "SQLite <quirks>",
						URL:         "https://other.example.com/sqlite",
						Summary:     "A look at \"odd\" corners.",
						PublishedAt: time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC),
						SourceLabel: "Other Blog",
						SourceURL:   "https://other.example.com/feed",
					},
				},
			},
			{
				Date: "2026-08-19",
				Items: []models.Item{
					{
						Title:       "Older piece",
						URL:         "https://example.com/older",
						Summary:     "Yesterday's news.",
						PublishedAt: time.Date(2026, 8, 19, 8, 0, 0, 0, time.UTC),
						SourceLabel: "Go Blog",
						SourceURL:   "https://example.com/feed",
					},
				},
			},
		},
	}
}

func TestJSONFeedShape(t *testing.T) {
	data, err := JSONFeed(sampleDigest())
	if err != nil {
		t.Fatalf("JSONFeed() error: %v", err)
	}

	var feed struct {
		Version string `json:"version"`
		Title   string `json:"title"`
		Items   []struct {
			ID            string `json:"id"`
			Title         string `json:"title"`
			ContentHTML   string `json:"content_html"`
			ContentText   string `json:"content_text"`
			DatePublished string `json:"date_published"`
			Articles      []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Summary     string `json:"summary"`
				PublishedAt string `json:"published_at"`
				Source      string `json:"source"`
				Image       string `json:"image"`
			} `json:"_articles"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &feed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if feed.Version != "https://jsonfeed.org/version/1.1" {
		t.Errorf("version = %q", feed.Version)
	}
	if feed.Title != "Tech News" {
		t.Errorf("title = %q", feed.Title)
	}
	if len(feed.Items) != 2 {
		t.Fatalf("items = %d, want one per day", len(feed.Items))
	}

	first := feed.Items[0]
	if first.ID != "tech-news-2026-08-20" {
		t.Errorf("item id = %q", first.ID)
	}
	if first.Title != "Daily Digest for 2026-08-20" {
		t.Errorf("item title = %q", first.Title)
	}
	if len(first.Articles) != 2 {
		t.Errorf("_articles = %d, want 2", len(first.Articles))
	}
	if first.Articles[0].Source != "Go Blog" {
		t.Errorf("article source = %q", first.Articles[0].Source)
	}
	if first.Articles[0].Image != "https://example.com/go-125.png" {
		t.Errorf("article image = %q", first.Articles[0].Image)
	}
	if first.DatePublished != "2026-08-20T09:00:00Z" {
		t.Errorf("date_published = %q", first.DatePublished)
	}
}

func TestJSONFeedDeterministic(t *testing.T) {
	a, err := JSONFeed(sampleDigest())
	if err != nil {
		t.Fatal(err)
	}
	b, err := JSONFeed(sampleDigest())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical digests produced different feed bytes")
	}
}

func TestDayHTMLGrouping(t *testing.T) {
	d := sampleDigest()

	multi := dayHTML(d.Days[0])
	if !strings.Contains(multi, "<h2>From Go Blog</h2>") || !strings.Contains(multi, "<h2>From Other Blog</h2>") {
		t.Errorf("multi-source day missing source headers:\n%s", multi)
	}
	if !strings.Contains(multi, "SQLite &lt;quirks&gt;") {
		t.Errorf("HTML not escaped:\n%s", multi)
	}

	single := dayHTML(d.Days[1])
	if strings.Contains(single, "<h2>") {
		t.Errorf("single-source day should not carry source headers:\n%s", single)
	}
}

func TestDayHTMLImages(t *testing.T) {
	d := sampleDigest()

	multi := dayHTML(d.Days[0])
	if !strings.Contains(multi, `<img src="https://example.com/go-125.png"`) {
		t.Errorf("item image not rendered:\n%s", multi)
	}
	// Exactly one item in the sample carries an image.
	if got := strings.Count(multi, "<img "); got != 1 {
		t.Errorf("img tags = %d, want 1", got)
	}

	single := dayHTML(d.Days[1])
	if strings.Contains(single, "<img ") {
		t.Errorf("imageless day should not render img tags:\n%s", single)
	}
}

func TestRSSAndAtom(t *testing.T) {
	d := sampleDigest()

	rss, err := RSS(d)
	if err != nil {
		t.Fatalf("RSS() error: %v", err)
	}
	for _, want := range []string{"<rss", "Tech News", "Daily Digest for 2026-08-20", "Daily Digest for 2026-08-19"} {
		if !strings.Contains(rss, want) {
			t.Errorf("RSS output missing %q", want)
		}
	}

	atom, err := Atom(d)
	if err != nil {
		t.Fatalf("Atom() error: %v", err)
	}
	for _, want := range []string{"<feed", "Tech News", "Daily Digest for 2026-08-20"} {
		if !strings.Contains(atom, want) {
			t.Errorf("Atom output missing %q", want)
		}
	}

	// No clock reads: repeated rendering is byte-identical.
	rss2, _ := RSS(d)
	if rss != rss2 {
		t.Error("RSS output not deterministic")
	}
	atom2, _ := Atom(d)
	if atom != atom2 {
		t.Error("Atom output not deterministic")
	}
}

func TestWriteFormats(t *testing.T) {
	dir := t.TempDir()
	d := sampleDigest()

	written, err := Write(dir, d, []string{"json", "rss", "atom"})
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	want := []string{"tech-news.json", "tech-news.xml", "tech-news.atom"}
	if len(written) != len(want) {
		t.Fatalf("written = %v, want %v", written, want)
	}
	for i, name := range want {
		if written[i] != name {
			t.Errorf("written[%d] = %q, want %q", i, written[i], name)
		}
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing output file %s: %v", name, err)
		}
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	if _, err := Write(t.TempDir(), sampleDigest(), []string{"pdf"}); err == nil {
		t.Fatal("Write() accepted an unknown format")
	}
}

func TestWriteIndex(t *testing.T) {
	dir := t.TempDir()
	entries := []IndexEntry{
		{Name: "Tech News", ID: "tech-news", Files: []string{"tech-news.json", "tech-news.xml"}},
		{Name: "Science", ID: "science", Files: []string{"science.atom"}},
	}

	if err := WriteIndex(dir, entries); err != nil {
		t.Fatalf("WriteIndex() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		t.Fatal(err)
	}
	html := string(data)
	for _, want := range []string{"Tech News", `href="tech-news.json"`, `href="science.atom"`} {
		if !strings.Contains(html, want) {
			t.Errorf("index.html missing %q", want)
		}
	}
}

package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"

	"github.com/thinkscotty/digest/internal/models"
)

const (
	userAgent        = "digest/1.0 (RSS Digest; +https://github.com/thinkscotty/digest)"
	maxContentLength = 50000
	extractTimeout   = 30 * time.Second
)

// Fetcher pulls articles from RSS/Atom feeds. When a feed item carries no
// content of its own, the linked page is fetched and run through readability
// extraction.
type Fetcher struct {
	parser      *gofeed.Parser
	extractFull bool
	now         func() time.Time
}

// New creates a Fetcher with full-text extraction enabled.
func New() *Fetcher {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	return &Fetcher{
		parser:      parser,
		extractFull: true,
		now:         time.Now,
	}
}

// Fetch downloads and parses one feed, returning its articles in feed order.
// A fetch or parse failure is recoverable at source granularity: the caller
// logs it and continues the digest with the remaining sources.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]models.Article, error) {
	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}

	var articles []models.Article
	for _, item := range feed.Items {
		if item.Link == "" {
			continue
		}

		published := f.now().UTC()
		switch {
		case item.PublishedParsed != nil:
			published = item.PublishedParsed.UTC()
		case item.UpdatedParsed != nil:
			published = item.UpdatedParsed.UTC()
		}

		imageURL := itemImage(item)

		content := strings.TrimSpace(item.Content)
		if content == "" {
			content = strings.TrimSpace(item.Description)
		}
		if content == "" && f.extractFull {
			var pageImage string
			content, pageImage = f.extractPage(ctx, item.Link)
			if imageURL == "" {
				imageURL = pageImage
			}
		}
		content = capContent(content)

		articles = append(articles, models.Article{
			Title:       item.Title,
			URL:         item.Link,
			PublishedAt: published,
			RawContent:  content,
			SourceURL:   feedURL,
			ImageURL:    imageURL,
		})
	}

	return articles, nil
}

// extractPage fetches an article page and extracts its readable body text
// plus the page's lead image. Failures are non-fatal; the article just
// carries empty content.
func (f *Fetcher) extractPage(ctx context.Context, pageURL string) (text, imageURL string) {
	if ctx.Err() != nil {
		return "", ""
	}
	article, err := readability.FromURL(pageURL, extractTimeout)
	if err != nil {
		slog.Debug("Full-text extraction failed", "url", pageURL, "error", err)
		return "", ""
	}
	return strings.TrimSpace(article.TextContent), article.Image
}

// itemImage picks the feed-declared image for an item: the item's image
// element first, then the first image enclosure.
func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

// capContent truncates oversized content on a rune boundary so RawContent
// stays valid UTF-8.
func capContent(content string) string {
	if len(content) <= maxContentLength {
		return content
	}
	cut := maxContentLength
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

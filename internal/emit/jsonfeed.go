package emit

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/thinkscotty/digest/internal/models"
)

const jsonFeedVersion = "https://jsonfeed.org/version/1.1"

// feedBaseURL anchors the synthetic ids and links carried by emitted feeds.
// Digest output is file-based, so the host is a stable placeholder rather
// than a served location.
const feedBaseURL = "https://digest.local"

type jsonFeed struct {
	Version     string         `json:"version"`
	Title       string         `json:"title"`
	HomePageURL string         `json:"home_page_url"`
	FeedURL     string         `json:"feed_url"`
	Items       []jsonFeedItem `json:"items"`
}

type jsonFeedItem struct {
	ID            string        `json:"id"`
	URL           string        `json:"url"`
	Title         string        `json:"title"`
	ContentHTML   string        `json:"content_html"`
	ContentText   string        `json:"content_text"`
	DatePublished string        `json:"date_published"`
	Articles      []models.Item `json:"_articles"`
}

// JSONFeed renders a digest as a JSON Feed 1.1 document. Each calendar day
// becomes one feed item whose content lists that day's articles; the raw
// article records ride along in the _articles extension. Output is
// deterministic for a given digest.
func JSONFeed(d *models.Digest) ([]byte, error) {
	feed := jsonFeed{
		Version:     jsonFeedVersion,
		Title:       d.Name,
		HomePageURL: feedBaseURL,
		FeedURL:     fmt.Sprintf("%s/%s.json", feedBaseURL, d.ID),
		Items:       make([]jsonFeedItem, 0, len(d.Days)),
	}

	for _, day := range d.Days {
		feed.Items = append(feed.Items, jsonFeedItem{
			ID:            fmt.Sprintf("%s-%s", d.ID, day.Date),
			URL:           fmt.Sprintf("%s/%s/%s", feedBaseURL, d.ID, day.Date),
			Title:         dayTitle(day),
			ContentHTML:   dayHTML(day),
			ContentText:   dayText(day),
			DatePublished: dayPublished(day).Format(time.RFC3339),
			Articles:      day.Items,
		})
	}

	out, err := json.MarshalIndent(feed, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json feed: %w", err)
	}
	return append(out, '\n'), nil
}

func dayTitle(day models.Day) string {
	return "Daily Digest for " + day.Date
}

// dayPublished is the timestamp of the day's first item, which slot order
// makes stable across runs.
func dayPublished(day models.Day) time.Time {
	if len(day.Items) == 0 {
		return time.Time{}
	}
	return day.Items[0].PublishedAt
}

// dayHTML renders one day's articles grouped by source. Source headers only
// appear when the day spans more than one source.
func dayHTML(day models.Day) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(dayTitle(day)))

	labels, bySource := groupBySource(day.Items)
	for _, label := range labels {
		if len(labels) > 1 {
			fmt.Fprintf(&b, "<h2>From %s</h2>\n", html.EscapeString(label))
		}
		for _, item := range bySource[label] {
			fmt.Fprintf(&b, "<h3><a href=\"%s\">%s</a></h3>\n",
				html.EscapeString(item.URL), html.EscapeString(item.Title))
			if item.ImageURL != "" {
				fmt.Fprintf(&b, "<img src=\"%s\" alt=\"%s\">\n",
					html.EscapeString(item.ImageURL), html.EscapeString(item.Title))
			}
			fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(item.Summary))
			b.WriteString("<hr>\n")
		}
	}
	return b.String()
}

// dayText is the plain-text rendition of dayHTML.
func dayText(day models.Day) string {
	var b strings.Builder
	b.WriteString(dayTitle(day) + "\n\n")

	labels, bySource := groupBySource(day.Items)
	for _, label := range labels {
		if len(labels) > 1 {
			fmt.Fprintf(&b, "From %s\n\n", label)
		}
		for _, item := range bySource[label] {
			fmt.Fprintf(&b, "%s\n%s\n%s\n\n", item.Title, item.URL, item.Summary)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// groupBySource buckets items by source label, labels ordered by first
// appearance within the day.
func groupBySource(items []models.Item) ([]string, map[string][]models.Item) {
	var labels []string
	bySource := make(map[string][]models.Item)
	for _, item := range items {
		if _, seen := bySource[item.SourceLabel]; !seen {
			labels = append(labels, item.SourceLabel)
		}
		bySource[item.SourceLabel] = append(bySource[item.SourceLabel], item)
	}
	return labels, bySource
}

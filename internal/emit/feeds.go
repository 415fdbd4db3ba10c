package emit

import (
	"fmt"
	"time"

	"github.com/gorilla/feeds"

	"github.com/thinkscotty/digest/internal/models"
)

// RSS renders a digest as RSS 2.0, one entry per calendar day.
func RSS(d *models.Digest) (string, error) {
	out, err := buildFeed(d).ToRss()
	if err != nil {
		return "", fmt.Errorf("encode rss: %w", err)
	}
	return out + "\n", nil
}

// Atom renders a digest as Atom 1.0, one entry per calendar day.
func Atom(d *models.Digest) (string, error) {
	out, err := buildFeed(d).ToAtom()
	if err != nil {
		return "", fmt.Errorf("encode atom: %w", err)
	}
	return out + "\n", nil
}

// buildFeed maps the normalized digest onto the shared feed model. All
// timestamps come from digest content, never from the clock, so repeated
// emission of the same digest yields identical bytes.
func buildFeed(d *models.Digest) *feeds.Feed {
	var newest time.Time
	if len(d.Days) > 0 {
		newest = dayPublished(d.Days[0])
	}

	feed := &feeds.Feed{
		Title:       d.Name,
		Link:        &feeds.Link{Href: feedBaseURL},
		Description: "Daily digest of " + d.Name,
		Created:     newest,
		Updated:     newest,
	}

	for _, day := range d.Days {
		published := dayPublished(day)
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          fmt.Sprintf("%s/%s/%s", feedBaseURL, d.ID, day.Date),
			Title:       dayTitle(day),
			Link:        &feeds.Link{Href: fmt.Sprintf("%s/%s/%s", feedBaseURL, d.ID, day.Date)},
			Description: dayText(day),
			Content:     dayHTML(day),
			Created:     published,
			Updated:     published,
		})
	}
	return feed
}

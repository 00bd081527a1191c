// Package feeds provides read-only RSS feed fetching for sentiment analysis.
package feeds

import (
	"context"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"

	"github.com/Leblepito/uAlgoTrade/internal/models"
)

const fetchTimeout = 10 * time.Second

// Fetcher parses RSS feeds into articles. Errors never propagate: a failed
// feed yields an empty slice so sentiment analysis degrades instead of dying.
type Fetcher interface {
	Fetch(ctx context.Context, url string) []models.Article
}

// RSSFetcher implements Fetcher over gofeed.
type RSSFetcher struct {
	parser *gofeed.Parser
}

// NewRSSFetcher creates an RSS fetcher.
func NewRSSFetcher() *RSSFetcher {
	p := gofeed.NewParser()
	p.UserAgent = "uAlgoTrade/1.3"
	return &RSSFetcher{parser: p}
}

// Fetch parses one feed URL with a bounded timeout.
func (f *RSSFetcher) Fetch(ctx context.Context, url string) []models.Article {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	feed, err := f.parser.ParseURLWithContext(url, fetchCtx)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("Feed fetch failed")
		return []models.Article{}
	}

	articles := make([]models.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		articles = append(articles, models.Article{
			Title:     item.Title,
			Summary:   item.Description,
			Link:      item.Link,
			Published: item.Published,
		})
	}

	log.Debug().Str("url", url).Int("articles", len(articles)).Msg("Feed fetched")
	return articles
}

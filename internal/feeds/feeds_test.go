package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <link>http://example.com</link>
    <description>crypto news</description>
    <item>
      <title>Bitcoin surges past resistance</title>
      <link>http://example.com/1</link>
      <description>BTC rally continues on institutional buying</description>
      <pubDate>Mon, 02 Jun 2025 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Altcoin market overview</title>
      <link>http://example.com/2</link>
      <description>Mixed day for crypto markets</description>
      <pubDate>Mon, 02 Jun 2025 09:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

func TestFetchParsesArticles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	fetcher := NewRSSFetcher()
	articles := fetcher.Fetch(context.Background(), server.URL)

	require.Len(t, articles, 2)
	assert.Equal(t, "Bitcoin surges past resistance", articles[0].Title)
	assert.Contains(t, articles[0].Summary, "BTC rally")
	assert.Equal(t, "http://example.com/1", articles[0].Link)
	assert.NotEmpty(t, articles[0].Published)
}

func TestFetchBadURLReturnsEmpty(t *testing.T) {
	fetcher := NewRSSFetcher()
	articles := fetcher.Fetch(context.Background(), "http://127.0.0.1:1/nonexistent")
	assert.Empty(t, articles)
}

func TestFetchMalformedFeedReturnsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not xml"))
	}))
	defer server.Close()

	fetcher := NewRSSFetcher()
	articles := fetcher.Fetch(context.Background(), server.URL)
	assert.Empty(t, articles)
}

func TestFetchRespectsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	fetcher := NewRSSFetcher()
	start := time.Now()
	articles := fetcher.Fetch(ctx, server.URL)
	assert.Empty(t, articles)
	assert.Less(t, time.Since(start), time.Second)
}

package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"jobmate/notifier-service/internal/model"
)

const (
	// DefaultTimeout bounds one feed download.
	DefaultTimeout = 15 * time.Second

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// FeedFetcher downloads and parses feeds. Every failure, whether transport,
// HTTP status or parsing, comes back as a *FetchError; an empty feed is not
// an error.
type FeedFetcher struct {
	client *http.Client
}

// NewFeedFetcher returns a fetcher whose requests time out after timeout
// (DefaultTimeout when zero).
func NewFeedFetcher(timeout time.Duration) *FeedFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &FeedFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch returns the entries of the feed at url in feed order (newest first
// for the job feeds this service reads).
func (f *FeedFetcher) Fetch(ctx context.Context, url string) ([]model.RawEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("http GET: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("parse feed: %w", err)}
	}

	entries := make([]model.RawEntry, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		id := it.GUID
		if id == "" {
			id = it.Link
		}
		body := it.Description
		if body == "" {
			body = it.Content
		}
		entries = append(entries, model.RawEntry{
			ID:        id,
			Title:     it.Title,
			Body:      body,
			Published: it.Published,
			Link:      it.Link,
		})
	}
	return entries, nil
}

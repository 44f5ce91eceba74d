// Package scraper fetches subscriber feeds and turns them into deliverable
// items: fetch, extract, drop seen entries, mark seen, filter.
package scraper

import "fmt"

// FetchError is returned when a source could not be downloaded or parsed.
type FetchError struct {
	URL    string
	Status int // HTTP status, 0 when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError is recorded for an entry whose fields could not be
// extracted. The entry is skipped and left unmarked.
type ExtractionError struct {
	EntryID string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract entry %s: %v", e.EntryID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

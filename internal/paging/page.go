// Package paging materializes paginated API collections, one page at a time
// or with a bounded number of fetches in flight, while keeping item order
// identical to a sequential read.
package paging

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPageFetchFailed is wrapped by every Snapshot.Err caused by a failed page fetch.
	ErrPageFetchFailed = errors.New("page fetch failed")
	// ErrAlreadyDrained is returned when an Aggregator is drained a second time.
	ErrAlreadyDrained = errors.New("aggregator already drained")
)

// Page is one response of a paginated endpoint. An empty Next marks the last
// page. Total is the collection size when the API reports it, or -1.
type Page[T any] struct {
	Items []T
	Next  string
	Total int
}

// Source supplies the pages of one collection.
type Source[T any] struct {
	First func(ctx context.Context) (Page[T], error)
	Next  func(ctx context.Context, cursor string) (Page[T], error)
	// Plan optionally lists the cursors of every page after the first, in
	// order. Sources that can address pages directly (offset/limit APIs)
	// set it so pages can be fetched concurrently.
	Plan func(first Page[T]) []string
}

// Snapshot is the state of a collection after some pages have arrived.
// Items share backing storage with later snapshots and must not be modified.
type Snapshot[T any] struct {
	Items    []T
	Complete bool
	Err      error
}

// PageError records which page failed.
type PageError struct {
	// Index is the zero-based page index; the first page is 0.
	Index  int
	Cursor string
	Err    error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("%v: page %d: %v", ErrPageFetchFailed, e.Index, e.Err)
}

func (e *PageError) Unwrap() []error {
	return []error{ErrPageFetchFailed, e.Err}
}

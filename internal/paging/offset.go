package paging

import (
	"context"
	"fmt"
	"strconv"
)

// OffsetResult is one offset/limit response. Fetched counts the entries the
// API returned before any filtering, so Items may be shorter. Total is the
// size of the whole collection, or -1 when the API does not report it.
type OffsetResult[T any] struct {
	Items   []T
	Fetched int
	Total   int
}

// OffsetFetcher reads limit entries starting at offset.
type OffsetFetcher[T any] func(ctx context.Context, offset, limit int) (OffsetResult[T], error)

// OffsetSource adapts an offset/limit endpoint. Cursors are decimal offsets,
// and the source carries a Plan so it can be drained concurrently.
func OffsetSource[T any](limit int, fetch OffsetFetcher[T]) Source[T] {
	if limit < 1 {
		limit = 1
	}

	page := func(ctx context.Context, offset int) (Page[T], error) {
		res, err := fetch(ctx, offset, limit)
		if err != nil {
			return Page[T]{}, err
		}
		return Page[T]{Items: res.Items, Next: nextOffset(offset, limit, res.Fetched, res.Total), Total: res.Total}, nil
	}

	return Source[T]{
		First: func(ctx context.Context) (Page[T], error) {
			return page(ctx, 0)
		},
		Next: func(ctx context.Context, cursor string) (Page[T], error) {
			offset, err := strconv.Atoi(cursor)
			if err != nil || offset < 0 {
				return Page[T]{}, fmt.Errorf("invalid offset cursor %q", cursor)
			}
			return page(ctx, offset)
		},
		Plan: OffsetPlan[T](limit),
	}
}

// OffsetPlan lists the offsets of every page after the first, based on the
// total reported by the first page. It returns nil when the total is unknown.
func OffsetPlan[T any](limit int) func(first Page[T]) []string {
	return func(first Page[T]) []string {
		if first.Total < 0 || limit < 1 {
			return nil
		}
		var cursors []string
		for offset := limit; offset < first.Total; offset += limit {
			cursors = append(cursors, strconv.Itoa(offset))
		}
		return cursors
	}
}

// nextOffset follows the reported total when there is one. A page whose
// items were all filtered out does not end the listing.
func nextOffset(offset, limit, fetched, total int) string {
	next := offset + limit
	if total >= 0 {
		if next >= total {
			return ""
		}
	} else if fetched < limit {
		return ""
	}
	return strconv.Itoa(next)
}

package paging

import (
	"context"
	"iter"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// PageEvent describes one completed page fetch.
type PageEvent struct {
	Drain string
	Index int
	Items int
	Took  time.Duration
	Err   error
}

// Option configures an Aggregator.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	observe func(PageEvent)
}

// WithLogger sets the logger used for drain progress.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver registers fn to be called after every page fetch, including
// fetches whose result is later discarded.
func WithObserver(fn func(PageEvent)) Option {
	return func(o *options) { o.observe = fn }
}

// Aggregator drains one Source exactly once.
type Aggregator[T any] struct {
	source  Source[T]
	opts    options
	started atomic.Bool
}

// New returns an Aggregator over source.
func New[T any](source Source[T], opts ...Option) *Aggregator[T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Aggregator[T]{source: source, opts: o}
}

type fetchResult[T any] struct {
	index int
	page  Page[T]
	err   error
}

// DrainSequential fetches pages one at a time, following each page's cursor.
// Every yielded snapshot extends the previous one; the last one is either
// complete or carries Err.
func (a *Aggregator[T]) DrainSequential(ctx context.Context) iter.Seq[Snapshot[T]] {
	return func(yield func(Snapshot[T]) bool) {
		if !a.started.CompareAndSwap(false, true) {
			yield(Snapshot[T]{Err: ErrAlreadyDrained})
			return
		}
		drain := a.begin("sequential", 1)

		first, err := a.fetch(ctx, drain, 0, a.first)
		if err != nil {
			yield(a.failed(ctx, drain, nil, 0, "", err))
			return
		}
		a.chain(ctx, drain, yield, first.Items, first.Next, 1)
	}
}

// DrainConcurrent fetches the first page, then keeps up to maxInFlight of
// the remaining pages in flight. Snapshots are still yielded in page order,
// so the final items match DrainSequential for the same responses. Sources
// without a Plan can only be followed cursor by cursor and are drained
// sequentially. Each page's Next still decides where the listing ends: an
// empty Next completes the drain and drops later planned pages, and a Next
// that disagrees with the plan switches to following cursors from there.
func (a *Aggregator[T]) DrainConcurrent(ctx context.Context, maxInFlight int) iter.Seq[Snapshot[T]] {
	if maxInFlight < 1 {
		maxInFlight = 1
	}

	return func(yield func(Snapshot[T]) bool) {
		if !a.started.CompareAndSwap(false, true) {
			yield(Snapshot[T]{Err: ErrAlreadyDrained})
			return
		}
		drain := a.begin("concurrent", maxInFlight)

		first, err := a.fetch(ctx, drain, 0, a.first)
		if err != nil {
			yield(a.failed(ctx, drain, nil, 0, "", err))
			return
		}

		var cursors []string
		if a.source.Plan != nil && first.Next != "" {
			cursors = a.source.Plan(first)
		}
		if len(cursors) == 0 || cursors[0] != first.Next {
			a.chain(ctx, drain, yield, first.Items, first.Next, 1)
			return
		}

		items := first.Items
		if !yield(snapshot(items, false, nil)) {
			return
		}

		issueCtx, stopIssuing := context.WithCancel(ctx)
		defer stopIssuing()

		// Buffered for every page so abandoned fetches never block.
		results := make(chan fetchResult[T], len(cursors))
		var lowestFailure atomic.Int64
		lowestFailure.Store(math.MaxInt64)

		sem := semaphore.NewWeighted(int64(maxInFlight))
		go func() {
			for i, cursor := range cursors {
				index := i + 1
				if err := sem.Acquire(issueCtx, 1); err != nil {
					return
				}
				if int64(index) > lowestFailure.Load() {
					sem.Release(1)
					return
				}
				go func() {
					defer sem.Release(1)
					started := time.Now()
					page, err := a.source.Next(ctx, cursor)
					a.observe(drain, index, page, started, err)
					if err != nil {
						// Recorded before the slot is released so the issuer sees it.
						lowerTo(&lowestFailure, int64(index))
					}
					results <- fetchResult[T]{index: index, page: page, err: err}
				}()
			}
		}()

		arrived := make(map[int]fetchResult[T])
		next := 1
		for {
			select {
			case <-ctx.Done():
				yield(a.cancelled(ctx, drain, items))
				return
			case res := <-results:
				arrived[res.index] = res

				for {
					res, ok := arrived[next]
					if !ok {
						break
					}
					delete(arrived, next)

					if res.err != nil {
						yield(a.failed(ctx, drain, items, res.index, cursors[res.index-1], res.err))
						return
					}
					items = append(items, res.page.Items...)
					if res.page.Next == "" {
						a.finish(drain, len(items))
						yield(snapshot(items, true, nil))
						return
					}
					// The listing changed under the plan; follow the page's own cursor.
					if next == len(cursors) || res.page.Next != cursors[next] {
						stopIssuing()
						a.opts.logger.Debug("Page cursor diverged from plan",
							zap.String("drain", drain),
							zap.Int("page", res.index),
							zap.String("cursor", res.page.Next))
						a.chain(ctx, drain, yield, items, res.page.Next, next+1)
						return
					}
					next++
					if !yield(snapshot(items, false, nil)) {
						return
					}
				}
			}
		}
	}
}

// chain follows cursors one page at a time, starting with items already
// collected and the cursor of page index.
func (a *Aggregator[T]) chain(ctx context.Context, drain string, yield func(Snapshot[T]) bool, items []T, cursor string, index int) {
	for cursor != "" {
		if !yield(snapshot(items, false, nil)) {
			return
		}

		current := cursor
		page, err := a.fetch(ctx, drain, index, func(ctx context.Context) (Page[T], error) {
			return a.source.Next(ctx, current)
		})
		if err != nil {
			yield(a.failed(ctx, drain, items, index, current, err))
			return
		}
		items = append(items, page.Items...)
		cursor = page.Next
		index++
	}

	a.finish(drain, len(items))
	yield(snapshot(items, true, nil))
}

// fetch runs fn so that cancellation of ctx abandons it immediately.
func (a *Aggregator[T]) fetch(ctx context.Context, drain string, index int, fn func(context.Context) (Page[T], error)) (Page[T], error) {
	if err := ctx.Err(); err != nil {
		return Page[T]{}, err
	}

	done := make(chan fetchResult[T], 1)
	go func() {
		started := time.Now()
		page, err := fn(ctx)
		a.observe(drain, index, page, started, err)
		done <- fetchResult[T]{index: index, page: page, err: err}
	}()

	select {
	case <-ctx.Done():
		return Page[T]{}, ctx.Err()
	case res := <-done:
		return res.page, res.err
	}
}

func (a *Aggregator[T]) first(ctx context.Context) (Page[T], error) {
	return a.source.First(ctx)
}

func (a *Aggregator[T]) begin(mode string, maxInFlight int) string {
	drain := uuid.NewString()
	a.opts.logger.Debug("Drain started",
		zap.String("drain", drain),
		zap.String("mode", mode),
		zap.Int("max_in_flight", maxInFlight))
	return drain
}

func (a *Aggregator[T]) finish(drain string, items int) {
	a.opts.logger.Debug("Drain complete", zap.String("drain", drain), zap.Int("items", items))
}

// failed builds the terminal snapshot for a fetch error. Once ctx is done
// every failure is reported as the context error.
func (a *Aggregator[T]) failed(ctx context.Context, drain string, items []T, index int, cursor string, err error) Snapshot[T] {
	if ctx.Err() != nil {
		return a.cancelled(ctx, drain, items)
	}
	a.opts.logger.Warn("Page fetch failed",
		zap.String("drain", drain),
		zap.Int("page", index),
		zap.Int("retained_items", len(items)),
		zap.Error(err))
	return snapshot(items, false, &PageError{Index: index, Cursor: cursor, Err: err})
}

func (a *Aggregator[T]) cancelled(ctx context.Context, drain string, items []T) Snapshot[T] {
	a.opts.logger.Debug("Drain cancelled", zap.String("drain", drain), zap.Int("retained_items", len(items)))
	return snapshot(items, false, ctx.Err())
}

func (a *Aggregator[T]) observe(drain string, index int, page Page[T], started time.Time, err error) {
	if a.opts.observe == nil {
		return
	}
	a.opts.observe(PageEvent{
		Drain: drain,
		Index: index,
		Items: len(page.Items),
		Took:  time.Since(started),
		Err:   err,
	})
}

func snapshot[T any](items []T, complete bool, err error) Snapshot[T] {
	return Snapshot[T]{Items: items[:len(items):len(items)], Complete: complete, Err: err}
}

func lowerTo(v *atomic.Int64, candidate int64) {
	for {
		current := v.Load()
		if candidate >= current || v.CompareAndSwap(current, candidate) {
			return
		}
	}
}

// Collect consumes seq and returns its last snapshot.
func Collect[T any](seq iter.Seq[Snapshot[T]]) Snapshot[T] {
	var last Snapshot[T]
	for s := range seq {
		last = s
	}
	return last
}

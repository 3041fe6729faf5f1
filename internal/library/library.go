// Package library implements the sort and queue workflows on top of a
// core.MusicService.
package library

import (
	"errors"

	"go.uber.org/zap"

	"musik/internal/core"
	"musik/internal/paging"
)

const defaultMaxInFlight = 4

var (
	ErrNothingPlaying    = errors.New("nothing is playing")
	ErrNoPlaylistMatch   = errors.New("no playlist matches that name")
	ErrAlreadyInPlaylist = errors.New("track is already in the playlist")
	ErrNotInPlaylist     = errors.New("track is not in the playlist")
	ErrInvalidPick       = errors.New("pick out of range")
)

// Options tune the workflows. The zero value is usable.
type Options struct {
	// MaxInFlight bounds concurrent page fetches per drain.
	MaxInFlight int
	// OnPage is called after every page fetch.
	OnPage func(paging.PageEvent)
	// OnQueued is called once per track handed to the player.
	OnQueued func(source string)
}

func (o Options) maxInFlight() int {
	if o.MaxInFlight < 1 {
		return defaultMaxInFlight
	}
	return o.MaxInFlight
}

func aggregate[T any](source paging.Source[T], opts Options, logger *zap.Logger) *paging.Aggregator[T] {
	pagingOpts := []paging.Option{paging.WithLogger(logger)}
	if opts.OnPage != nil {
		pagingOpts = append(pagingOpts, paging.WithObserver(opts.OnPage))
	}
	return paging.New(source, pagingOpts...)
}

func trackIDs(tracks []core.Track) []string {
	ids := make([]string, 0, len(tracks))
	for i := range tracks {
		ids = append(ids, tracks[i].ID)
	}
	return ids
}

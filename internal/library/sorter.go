package library

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"musik/internal/core"
	"musik/internal/paging"
	"musik/pkg/fuzzy"
)

// DefaultPlaylistDescription is set on playlists created by CreateAndAdd.
const DefaultPlaylistDescription = "Created by musik"

// PlaylistEntry is an editable playlist and whether it holds the current track.
type PlaylistEntry struct {
	core.Playlist
	// Contains is only meaningful when Checked is set.
	Contains bool
	Checked  bool
}

// SortView is what the sort screen shows: the current track and the
// playlists the user may edit.
type SortView struct {
	User      core.User
	Playback  *core.Playback
	Playlists []PlaylistEntry
	// Partial is set when the playlist listing stopped early; Playlists then
	// holds the prefix that was fetched.
	Partial bool
}

// Current returns the playing track or ErrNothingPlaying.
func (v *SortView) Current() (*core.Track, error) {
	if v.Playback == nil || v.Playback.Track == nil {
		return nil, ErrNothingPlaying
	}
	return v.Playback.Track, nil
}

// Sorter files the currently playing track into playlists.
type Sorter struct {
	music      core.MusicService
	opts       Options
	logger     *zap.Logger
	normalizer *fuzzy.Normalizer
}

func NewSorter(music core.MusicService, opts Options, logger *zap.Logger) *Sorter {
	return &Sorter{
		music:      music,
		opts:       opts,
		logger:     logger.Named("sorter"),
		normalizer: fuzzy.NewNormalizer(),
	}
}

// Load fetches the user, playback and playlists in parallel, keeps the
// editable playlists and checks which of them already hold the current track.
func (s *Sorter) Load(ctx context.Context) (*SortView, error) {
	var (
		view    SortView
		listing paging.Snapshot[core.Playlist]
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		user, err := s.music.CurrentUser(gctx)
		view.User = user
		return err
	})
	g.Go(func() error {
		playback, err := s.music.CurrentPlayback(gctx)
		view.Playback = playback
		return err
	})
	g.Go(func() error {
		listing = paging.Collect(aggregate(s.music.Playlists(), s.opts, s.logger).
			DrainConcurrent(gctx, s.opts.maxInFlight()))
		if listing.Err != nil && len(listing.Items) == 0 {
			return fmt.Errorf("failed to list playlists: %w", listing.Err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !listing.Complete {
		view.Partial = true
		s.logger.Warn("Playlist listing incomplete",
			zap.Int("fetched", len(listing.Items)),
			zap.Error(listing.Err))
	}

	for _, p := range listing.Items {
		if p.EditableBy(view.User.ID) {
			view.Playlists = append(view.Playlists, PlaylistEntry{Playlist: p})
		}
	}

	if track, err := view.Current(); err == nil {
		s.checkMembership(ctx, view.Playlists, track.ID)
	}

	s.logger.Debug("Sort view loaded",
		zap.String("user", view.User.ID),
		zap.Int("playlists", len(listing.Items)),
		zap.Int("editable", len(view.Playlists)))
	return &view, nil
}

// checkMembership fills Contains for every entry it can. Entries whose
// listing fails stay unchecked.
func (s *Sorter) checkMembership(ctx context.Context, entries []PlaylistEntry, trackID string) {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(s.opts.maxInFlight())

	for i := range entries {
		g.Go(func() error {
			found, err := s.contains(ctx, entries[i].ID, trackID)
			if err != nil {
				s.logger.Warn("Membership check failed",
					zap.String("playlistID", entries[i].ID),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			entries[i].Contains, entries[i].Checked = found, true
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// contains drains the playlist in order and stops at the first occurrence.
func (s *Sorter) contains(ctx context.Context, playlistID, trackID string) (bool, error) {
	seen := 0
	var last paging.Snapshot[core.Track]
	for snap := range aggregate(s.music.PlaylistTracks(playlistID), s.opts, s.logger).DrainSequential(ctx) {
		for _, t := range snap.Items[seen:] {
			if t.ID == trackID {
				return true, nil
			}
		}
		seen = len(snap.Items)
		last = snap
	}
	if !last.Complete {
		return false, fmt.Errorf("failed to list playlist %s: %w", playlistID, last.Err)
	}
	return false, nil
}

// Find returns the editable playlist whose name best matches name.
func (s *Sorter) Find(view *SortView, name string) (*PlaylistEntry, error) {
	names := make([]string, len(view.Playlists))
	for i := range view.Playlists {
		names[i] = view.Playlists[i].Name
	}
	idx, _ := s.normalizer.BestMatch(name, names)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoPlaylistMatch, name)
	}
	return &view.Playlists[idx], nil
}

// Add puts the current track into the playlist matching name. Membership is
// re-checked first so the track is never added twice.
func (s *Sorter) Add(ctx context.Context, view *SortView, name string) (core.Playlist, error) {
	track, entry, err := s.target(view, name)
	if err != nil {
		return core.Playlist{}, err
	}

	found, err := s.contains(ctx, entry.ID, track.ID)
	if err != nil {
		return entry.Playlist, err
	}
	if found {
		entry.Contains, entry.Checked = true, true
		return entry.Playlist, fmt.Errorf("%w: %s", ErrAlreadyInPlaylist, entry.Name)
	}

	if err := s.music.AddToPlaylist(ctx, entry.ID, track.ID); err != nil {
		return entry.Playlist, err
	}
	entry.Contains, entry.Checked = true, true
	entry.TrackCount++

	s.logger.Info("Track sorted into playlist",
		zap.String("track", track.String()),
		zap.String("playlist", entry.Name))
	return entry.Playlist, nil
}

// Remove takes every occurrence of the current track out of the playlist
// matching name.
func (s *Sorter) Remove(ctx context.Context, view *SortView, name string) (core.Playlist, error) {
	track, entry, err := s.target(view, name)
	if err != nil {
		return core.Playlist{}, err
	}

	found, err := s.contains(ctx, entry.ID, track.ID)
	if err != nil {
		return entry.Playlist, err
	}
	if !found {
		entry.Contains, entry.Checked = false, true
		return entry.Playlist, fmt.Errorf("%w: %s", ErrNotInPlaylist, entry.Name)
	}

	if err := s.music.RemoveFromPlaylist(ctx, entry.ID, track.ID); err != nil {
		return entry.Playlist, err
	}
	entry.Contains, entry.Checked = false, true

	s.logger.Info("Track removed from playlist",
		zap.String("track", track.String()),
		zap.String("playlist", entry.Name))
	return entry.Playlist, nil
}

// CreateAndAdd creates a private playlist called name holding the current track.
func (s *Sorter) CreateAndAdd(ctx context.Context, view *SortView, name string) (core.Playlist, error) {
	track, err := view.Current()
	if err != nil {
		return core.Playlist{}, err
	}

	created, err := s.music.CreatePlaylist(ctx, view.User.ID, name, DefaultPlaylistDescription)
	if err != nil {
		return core.Playlist{}, err
	}
	if err := s.music.AddToPlaylist(ctx, created.ID, track.ID); err != nil {
		return created, err
	}

	created.TrackCount = 1
	view.Playlists = append(view.Playlists, PlaylistEntry{Playlist: created, Contains: true, Checked: true})
	return created, nil
}

// Skip advances the player.
func (s *Sorter) Skip(ctx context.Context) error {
	return s.music.SkipToNext(ctx)
}

func (s *Sorter) target(view *SortView, name string) (*core.Track, *PlaylistEntry, error) {
	track, err := view.Current()
	if err != nil {
		return nil, nil, err
	}
	entry, err := s.Find(view, name)
	if err != nil {
		return nil, nil, err
	}
	return track, entry, nil
}

package library

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"musik/internal/core"
	"musik/internal/paging"
)

var errBackend = errors.New("backend unavailable")

// fakeMusic is an in-memory core.MusicService paging two items at a time.
type fakeMusic struct {
	mu sync.Mutex

	user      core.User
	playback  *core.Playback
	playlists []core.Playlist
	tracks    map[string][]core.Track
	saved     []core.Track
	queue     []core.Track
	recos     []core.Track
	results   []core.Track

	failTracks map[string]bool
	recoErr    error
	queueErr   error

	queued  []string
	skips   int
	seeds   []string
	queries []string
	created []core.Playlist
}

func newFakeMusic() *fakeMusic {
	return &fakeMusic{
		user:       core.User{ID: "me", DisplayName: "Me"},
		tracks:     make(map[string][]core.Track),
		failTracks: make(map[string]bool),
	}
}

func track(id string) core.Track {
	return core.Track{ID: id, Title: "Title " + id, Artists: []string{"Artist " + id}}
}

func tracks(ids ...string) []core.Track {
	out := make([]core.Track, 0, len(ids))
	for _, id := range ids {
		out = append(out, track(id))
	}
	return out
}

func (f *fakeMusic) playing(id string) {
	t := track(id)
	f.playback = &core.Playback{Track: &t, IsPlaying: true}
}

// offsetOver pages through items. Entries rejected by keep still count
// toward the page, like episodes in a Spotify playlist.
func offsetOver[T any](items func() []T, fail func() bool, keep func(T) bool) paging.Source[T] {
	return paging.OffsetSource(2, func(_ context.Context, offset, limit int) (paging.OffsetResult[T], error) {
		if fail != nil && fail() && offset > 0 {
			return paging.OffsetResult[T]{}, errBackend
		}
		all := items()
		end := min(offset+limit, len(all))
		if offset > end {
			offset = end
		}
		raw := all[offset:end]
		kept := make([]T, 0, len(raw))
		for _, item := range raw {
			if keep == nil || keep(item) {
				kept = append(kept, item)
			}
		}
		return paging.OffsetResult[T]{Items: kept, Fetched: len(raw), Total: len(all)}, nil
	})
}

// episode returns a playlist entry that is not a track.
func episode(id string) core.Track {
	return core.Track{ID: "episode:" + id}
}

func isTrack(t core.Track) bool { return !strings.HasPrefix(t.ID, "episode:") }

func (f *fakeMusic) Name() string { return "fake" }

func (f *fakeMusic) CurrentUser(context.Context) (core.User, error) { return f.user, nil }

func (f *fakeMusic) CurrentPlayback(context.Context) (*core.Playback, error) {
	return f.playback, nil
}

func (f *fakeMusic) Playlists() paging.Source[core.Playlist] {
	return offsetOver(func() []core.Playlist {
		f.mu.Lock()
		defer f.mu.Unlock()
		return slices.Clone(f.playlists)
	}, nil, nil)
}

func (f *fakeMusic) SavedTracks() paging.Source[core.Track] {
	return offsetOver(func() []core.Track { return f.saved }, nil, nil)
}

func (f *fakeMusic) PlaylistTracks(playlistID string) paging.Source[core.Track] {
	return offsetOver(func() []core.Track {
		f.mu.Lock()
		defer f.mu.Unlock()
		return slices.Clone(f.tracks[playlistID])
	}, func() bool { return f.failTracks[playlistID] }, isTrack)
}

func (f *fakeMusic) Queue(context.Context) ([]core.Track, error) {
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	return f.queue, nil
}

func (f *fakeMusic) Recommendations(_ context.Context, seeds []string, _ int) ([]core.Track, error) {
	f.seeds = seeds
	if f.recoErr != nil {
		return nil, f.recoErr
	}
	return f.recos, nil
}

func (f *fakeMusic) Search(_ context.Context, query string, _ int) ([]core.Track, error) {
	f.queries = append(f.queries, query)
	return f.results, nil
}

func (f *fakeMusic) AddToQueue(_ context.Context, trackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if trackID == "broken" {
		return errBackend
	}
	f.queued = append(f.queued, trackID)
	return nil
}

func (f *fakeMusic) SkipToNext(context.Context) error {
	f.skips++
	return nil
}

func (f *fakeMusic) AddToPlaylist(_ context.Context, playlistID string, trackIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range trackIDs {
		f.tracks[playlistID] = append(f.tracks[playlistID], track(id))
	}
	return nil
}

func (f *fakeMusic) RemoveFromPlaylist(_ context.Context, playlistID string, trackIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks[playlistID] = slices.DeleteFunc(f.tracks[playlistID], func(t core.Track) bool {
		return slices.Contains(trackIDs, t.ID)
	})
	return nil
}

func (f *fakeMusic) CreatePlaylist(_ context.Context, userID, name, description string) (core.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := core.Playlist{ID: "new-" + name, Name: name, Description: description, OwnerID: userID}
	f.playlists = append(f.playlists, p)
	f.created = append(f.created, p)
	return p, nil
}

// setQueue is a minimal core.QueuedSet for tests.
type setQueue map[string]bool

func (s setQueue) Has(id string) bool { return s[id] }
func (s setQueue) Add(id string)      { s[id] = true }
func (s setQueue) Size() int          { return len(s) }
func (s setQueue) Load(ids []string) {
	clear(s)
	for _, id := range ids {
		s[id] = true
	}
}

type fakeLLM struct {
	query string
	err   error
	seeds []core.Track
}

func (l *fakeLLM) GenerateSearchQuery(_ context.Context, seeds []core.Track) (string, error) {
	l.seeds = seeds
	return l.query, l.err
}

package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"musik/internal/paging"
)

// ErrNotSupported is returned by backends for operations they do not implement.
var ErrNotSupported = errors.New("operation not supported by backend")

type Track struct {
	ID       string
	Title    string
	Artists  []string
	Album    string
	AlbumID  string
	Duration time.Duration
	URI      string
	URL      string
}

// Artist joins all artist names.
func (t Track) Artist() string {
	return strings.Join(t.Artists, ", ")
}

func (t Track) String() string {
	if len(t.Artists) == 0 {
		return t.Title
	}
	return t.Title + " - " + t.Artist()
}

type Playlist struct {
	ID            string
	Name          string
	Description   string
	TrackCount    int
	OwnerID       string
	OwnerName     string
	Collaborative bool
	Public        bool
}

// EditableBy reports whether userID may add or remove tracks.
func (p Playlist) EditableBy(userID string) bool {
	return p.Collaborative || p.OwnerID == userID
}

type User struct {
	ID          string
	DisplayName string
}

type Playback struct {
	Track     *Track
	IsPlaying bool
	Progress  time.Duration
	Device    string
}

// MusicService is the backend surface used by the sort and queue workflows.
// List endpoints are returned as page sources for paging.Aggregator.
type MusicService interface {
	Name() string
	CurrentUser(ctx context.Context) (User, error)
	CurrentPlayback(ctx context.Context) (*Playback, error)

	Playlists() paging.Source[Playlist]
	SavedTracks() paging.Source[Track]
	PlaylistTracks(playlistID string) paging.Source[Track]

	Queue(ctx context.Context) ([]Track, error)
	Recommendations(ctx context.Context, seedTrackIDs []string, limit int) ([]Track, error)
	Search(ctx context.Context, query string, limit int) ([]Track, error)

	AddToQueue(ctx context.Context, trackID string) error
	SkipToNext(ctx context.Context) error

	AddToPlaylist(ctx context.Context, playlistID string, trackIDs ...string) error
	RemoveFromPlaylist(ctx context.Context, playlistID string, trackIDs ...string) error
	CreatePlaylist(ctx context.Context, userID, name, description string) (Playlist, error)
}

type LLMProvider interface {
	GenerateSearchQuery(ctx context.Context, seedTracks []Track) (string, error)
}

type QueuedSet interface {
	Has(trackID string) bool
	Add(trackID string)
	Load(trackIDs []string)
	Size() int
}

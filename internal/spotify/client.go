// Package spotify provides Spotify Web API integration for the sort and queue workflows.
package spotify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"

	"musik/internal/core"
	"musik/internal/paging"
	"musik/pkg/fuzzy"
)

const (
	// BackendName identifies this backend in logs and metrics.
	BackendName = "spotify"
	// MaxRecommendationSeeds is the seed limit of the recommendations endpoint.
	MaxRecommendationSeeds = 5
	// DefaultResultLimit is used when a search or recommendation limit is not positive.
	DefaultResultLimit = 20
)

var (
	spotifyTrackRegex = regexp.MustCompile(`(?:https?://)?(?:open\.)?spotify\.com/(?:intl-[a-z]+/)?track/([a-zA-Z0-9]+)`)
	spotifyURIRegex   = regexp.MustCompile(`spotify:track:([a-zA-Z0-9]+)`)
)

type Client struct {
	config     *core.SpotifyConfig
	logger     *zap.Logger
	client     *spotify.Client
	normalizer *fuzzy.Normalizer
	pageSize   int
}

// NewClient builds a client over httpClient, which is expected to authorize
// requests (see auth.NewHTTPClient).
func NewClient(config *core.SpotifyConfig, httpClient *http.Client, pageSize int, logger *zap.Logger) *Client {
	opts := []spotify.ClientOption{spotify.WithRetry(true)}
	if config.APIBaseURL != "" {
		base := config.APIBaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, spotify.WithBaseURL(base))
	}
	hc := *httpClient
	if config.RequestTimeout > 0 && hc.Timeout == 0 {
		hc.Timeout = config.RequestTimeout
	}
	if pageSize < 1 || pageSize > core.MaxSpotifyPageSize {
		pageSize = core.MaxSpotifyPageSize
	}

	return &Client{
		config:     config,
		logger:     logger.Named("spotify"),
		client:     spotify.New(&hc, opts...),
		normalizer: fuzzy.NewNormalizer(),
		pageSize:   pageSize,
	}
}

func (c *Client) Name() string {
	return BackendName
}

func (c *Client) CurrentUser(ctx context.Context) (core.User, error) {
	user, err := c.client.CurrentUser(ctx)
	if err != nil {
		return core.User{}, fmt.Errorf("failed to get current user: %w", err)
	}
	return core.User{ID: user.ID, DisplayName: user.DisplayName}, nil
}

// CurrentPlayback returns nil without error when nothing is playing.
func (c *Client) CurrentPlayback(ctx context.Context) (*core.Playback, error) {
	state, err := c.client.PlayerState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get player state: %w", err)
	}
	if state == nil || state.Item == nil {
		return nil, nil
	}

	track := convertFullTrack(state.Item)
	return &core.Playback{
		Track:     &track,
		IsPlaying: state.Playing,
		Progress:  time.Duration(state.Progress) * time.Millisecond,
		Device:    state.Device.Name,
	}, nil
}

// Playlists pages through the user's own and followed playlists.
func (c *Client) Playlists() paging.Source[core.Playlist] {
	return paging.OffsetSource(c.pageSize, func(ctx context.Context, offset, limit int) (paging.OffsetResult[core.Playlist], error) {
		page, err := c.client.CurrentUsersPlaylists(ctx, spotify.Limit(limit), spotify.Offset(offset))
		if err != nil {
			return paging.OffsetResult[core.Playlist]{}, fmt.Errorf("failed to get playlists at offset %d: %w", offset, err)
		}

		playlists := make([]core.Playlist, 0, len(page.Playlists))
		for i := range page.Playlists {
			playlists = append(playlists, convertPlaylist(&page.Playlists[i]))
		}
		return paging.OffsetResult[core.Playlist]{Items: playlists, Fetched: len(page.Playlists), Total: int(page.Total)}, nil
	})
}

// SavedTracks pages through the user's liked songs, most recent first.
func (c *Client) SavedTracks() paging.Source[core.Track] {
	return paging.OffsetSource(c.pageSize, func(ctx context.Context, offset, limit int) (paging.OffsetResult[core.Track], error) {
		page, err := c.client.CurrentUsersTracks(ctx, spotify.Limit(limit), spotify.Offset(offset))
		if err != nil {
			return paging.OffsetResult[core.Track]{}, fmt.Errorf("failed to get saved tracks at offset %d: %w", offset, err)
		}

		tracks := make([]core.Track, 0, len(page.Tracks))
		for i := range page.Tracks {
			tracks = append(tracks, convertFullTrack(&page.Tracks[i].FullTrack))
		}
		return paging.OffsetResult[core.Track]{Items: tracks, Fetched: len(page.Tracks), Total: int(page.Total)}, nil
	})
}

// PlaylistTracks pages through a playlist's tracks. Episodes and unavailable
// items are skipped.
func (c *Client) PlaylistTracks(playlistID string) paging.Source[core.Track] {
	return paging.OffsetSource(c.pageSize, func(ctx context.Context, offset, limit int) (paging.OffsetResult[core.Track], error) {
		page, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID), spotify.Limit(limit), spotify.Offset(offset))
		if err != nil {
			return paging.OffsetResult[core.Track]{}, fmt.Errorf("failed to get playlist items at offset %d: %w", offset, err)
		}

		tracks := make([]core.Track, 0, len(page.Items))
		for i := range page.Items {
			// Only process tracks (not episodes or null items)
			if page.Items[i].Track.Track != nil {
				tracks = append(tracks, convertFullTrack(page.Items[i].Track.Track))
			}
		}
		return paging.OffsetResult[core.Track]{Items: tracks, Fetched: len(page.Items), Total: int(page.Total)}, nil
	})
}

// Queue returns the upcoming tracks, excluding the one currently playing.
func (c *Client) Queue(ctx context.Context) ([]core.Track, error) {
	queue, err := c.client.GetQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get user queue: %w", err)
	}

	tracks := make([]core.Track, 0, len(queue.Items))
	for i := range queue.Items {
		if queue.Items[i].ID != "" {
			tracks = append(tracks, convertFullTrack(&queue.Items[i]))
		}
	}
	return tracks, nil
}

// Recommendations returns tracks similar to the seeds. Extra seeds beyond
// the endpoint limit are dropped.
func (c *Client) Recommendations(ctx context.Context, seedTrackIDs []string, limit int) ([]core.Track, error) {
	if len(seedTrackIDs) == 0 {
		return nil, fmt.Errorf("at least one seed track is required")
	}
	if len(seedTrackIDs) > MaxRecommendationSeeds {
		seedTrackIDs = seedTrackIDs[:MaxRecommendationSeeds]
	}

	seeds := spotify.Seeds{Tracks: make([]spotify.ID, 0, len(seedTrackIDs))}
	for _, id := range seedTrackIDs {
		seeds.Tracks = append(seeds.Tracks, spotify.ID(id))
	}

	recs, err := c.client.GetRecommendations(ctx, seeds, nil, spotify.Limit(resultLimit(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to get recommendations: %w", err)
	}

	tracks := make([]core.Track, 0, len(recs.Tracks))
	for i := range recs.Tracks {
		tracks = append(tracks, convertSimpleTrack(&recs.Tracks[i]))
	}

	c.logger.Debug("Retrieved recommendations",
		zap.Int("seeds", len(seeds.Tracks)),
		zap.Int("count", len(tracks)))
	return tracks, nil
}

// Search finds tracks matching query, ranked by title similarity.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]core.Track, error) {
	results, err := c.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(resultLimit(limit)))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if results.Tracks == nil {
		return nil, nil
	}

	tracks := make([]core.Track, 0, len(results.Tracks.Tracks))
	for i := range results.Tracks.Tracks {
		tracks = append(tracks, convertFullTrack(&results.Tracks.Tracks[i]))
	}
	return c.rankTracks(tracks, query), nil
}

func (c *Client) AddToQueue(ctx context.Context, trackID string) error {
	if err := c.client.QueueSong(ctx, spotify.ID(trackID)); err != nil {
		return fmt.Errorf("failed to add track to queue: %w", err)
	}

	c.logger.Info("Track added to queue", zap.String("trackID", trackID))
	return nil
}

func (c *Client) SkipToNext(ctx context.Context) error {
	if err := c.client.Next(ctx); err != nil {
		return fmt.Errorf("failed to skip to next track: %w", err)
	}
	return nil
}

func (c *Client) AddToPlaylist(ctx context.Context, playlistID string, trackIDs ...string) error {
	if len(trackIDs) == 0 {
		return nil
	}
	if _, err := c.client.AddTracksToPlaylist(ctx, spotify.ID(playlistID), toIDs(trackIDs)...); err != nil {
		return fmt.Errorf("failed to add tracks to playlist: %w", err)
	}

	c.logger.Info("Tracks added to playlist",
		zap.String("playlistID", playlistID),
		zap.Strings("trackIDs", trackIDs))
	return nil
}

// RemoveFromPlaylist removes every occurrence of each track.
func (c *Client) RemoveFromPlaylist(ctx context.Context, playlistID string, trackIDs ...string) error {
	if len(trackIDs) == 0 {
		return nil
	}
	if _, err := c.client.RemoveTracksFromPlaylist(ctx, spotify.ID(playlistID), toIDs(trackIDs)...); err != nil {
		return fmt.Errorf("failed to remove tracks from playlist: %w", err)
	}

	c.logger.Info("Tracks removed from playlist",
		zap.String("playlistID", playlistID),
		zap.Strings("trackIDs", trackIDs))
	return nil
}

// CreatePlaylist creates a private, non-collaborative playlist owned by userID.
func (c *Client) CreatePlaylist(ctx context.Context, userID, name, description string) (core.Playlist, error) {
	created, err := c.client.CreatePlaylistForUser(ctx, userID, name, description, false, false)
	if err != nil {
		return core.Playlist{}, fmt.Errorf("failed to create playlist: %w", err)
	}

	c.logger.Info("Playlist created",
		zap.String("playlistID", string(created.ID)),
		zap.String("name", created.Name))
	return convertPlaylist(&created.SimplePlaylist), nil
}

// ExtractTrackID returns the track ID from a Spotify track URL or URI.
func ExtractTrackID(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)

	if matches := spotifyURIRegex.FindStringSubmatch(rawURL); len(matches) > 1 {
		return matches[1], nil
	}

	if matches := spotifyTrackRegex.FindStringSubmatch(rawURL); len(matches) > 1 {
		return matches[1], nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range pathParts {
		if part == "track" && i+1 < len(pathParts) {
			return pathParts[i+1], nil
		}
	}

	return "", fmt.Errorf("no track ID found in URL")
}

func (c *Client) rankTracks(tracks []core.Track, originalQuery string) []core.Track {
	normalizedQuery := c.normalizer.NormalizeTitle(originalQuery)

	scores := make(map[string]float64, len(tracks))
	for i := range tracks {
		scores[tracks[i].ID] = c.calculateRelevanceScore(&tracks[i], normalizedQuery)
	}

	ranked := append([]core.Track(nil), tracks...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i].ID] > scores[ranked[j].ID]
	})
	return ranked
}

func (c *Client) calculateRelevanceScore(track *core.Track, normalizedQuery string) float64 {
	normalizedTitle := c.normalizer.NormalizeTitle(track.Title)
	normalizedArtist := c.normalizer.NormalizeArtist(track.Artist())

	titleSimilarity := c.normalizer.CalculateSimilarity(normalizedTitle, normalizedQuery)
	combinedText := normalizedArtist + " " + normalizedTitle
	combinedSimilarity := c.normalizer.CalculateSimilarity(combinedText, normalizedQuery)

	titleWeight := 0.7
	combinedWeight := 0.3

	score := titleWeight*titleSimilarity + combinedWeight*combinedSimilarity

	if track.Duration > 30*time.Second && track.Duration < 10*time.Minute {
		score += 0.05
	}

	return score
}

func resultLimit(limit int) int {
	if limit < 1 || limit > core.MaxSpotifyPageSize {
		return DefaultResultLimit
	}
	return limit
}

func toIDs(ids []string) []spotify.ID {
	out := make([]spotify.ID, 0, len(ids))
	for _, id := range ids {
		out = append(out, spotify.ID(id))
	}
	return out
}

func convertFullTrack(track *spotify.FullTrack) core.Track {
	t := convertSimpleTrack(&track.SimpleTrack)
	t.Album = track.Album.Name
	t.AlbumID = string(track.Album.ID)
	return t
}

func convertSimpleTrack(track *spotify.SimpleTrack) core.Track {
	artists := make([]string, 0, len(track.Artists))
	for _, artist := range track.Artists {
		artists = append(artists, artist.Name)
	}

	return core.Track{
		ID:       string(track.ID),
		Title:    track.Name,
		Artists:  artists,
		Duration: time.Duration(track.Duration) * time.Millisecond,
		URI:      string(track.URI),
		URL:      track.ExternalURLs["spotify"],
	}
}

func convertPlaylist(playlist *spotify.SimplePlaylist) core.Playlist {
	return core.Playlist{
		ID:          string(playlist.ID),
		Name:        playlist.Name,
		Description: playlist.Description,
		// Safe conversion from Spotify API count to int
		TrackCount:    int(playlist.Tracks.Total), //nolint:gosec // Spotify playlist counts are reasonable for int conversion
		OwnerID:       playlist.Owner.ID,
		OwnerName:     playlist.Owner.DisplayName,
		Collaborative: playlist.Collaborative,
		Public:        playlist.IsPublic,
	}
}

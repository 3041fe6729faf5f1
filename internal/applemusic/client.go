// Package applemusic is a catalog-only backend backed by the public iTunes
// Search API. It can find tracks but has no access to a user library or player.
package applemusic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"musik/internal/core"
	"musik/internal/paging"
)

const (
	// BackendName identifies this backend in logs and metrics.
	BackendName = "applemusic"

	defaultBaseURL    = "https://itunes.apple.com"
	defaultTimeout    = 10 * time.Second
	defaultStorefront = "us"
	maxSearchLimit    = 200
)

var errNoTrackID = errors.New("no track ID found in Apple Music URL")

type searchResponse struct {
	ResultCount int           `json:"resultCount"`
	Results     []trackResult `json:"results"`
}

type trackResult struct {
	WrapperType    string `json:"wrapperType"`
	TrackID        int64  `json:"trackId"`
	TrackName      string `json:"trackName"`
	ArtistName     string `json:"artistName"`
	CollectionID   int64  `json:"collectionId"`
	CollectionName string `json:"collectionName"`
	TrackTimeMS    int64  `json:"trackTimeMillis"`
	TrackViewURL   string `json:"trackViewUrl"`
}

// Client implements core.MusicService. Only Search works; the rest return
// core.ErrNotSupported.
type Client struct {
	config *core.AppleMusicConfig
	client *http.Client
	logger *zap.Logger
}

func NewClient(config *core.AppleMusicConfig, logger *zap.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		config: config,
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("applemusic"),
	}
}

func (c *Client) Name() string {
	return BackendName
}

// Search finds songs in the storefront catalog. An Apple Music song link is
// looked up directly.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]core.Track, error) {
	if id, err := ExtractTrackID(query); err == nil {
		return c.lookup(ctx, id)
	}

	if limit < 1 || limit > maxSearchLimit {
		limit = core.MaxSpotifyPageSize
	}
	params := url.Values{
		"term":    {query},
		"media":   {"music"},
		"entity":  {"song"},
		"limit":   {strconv.Itoa(limit)},
		"country": {c.storefront()},
	}
	return c.get(ctx, "/search", params)
}

func (c *Client) lookup(ctx context.Context, trackID string) ([]core.Track, error) {
	params := url.Values{
		"id":      {trackID},
		"entity":  {"song"},
		"country": {c.storefront()},
	}
	return c.get(ctx, "/lookup", params)
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]core.Track, error) {
	reqURL := c.baseURL() + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("iTunes request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("iTunes API returned status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode iTunes API response: %w", err)
	}

	tracks := make([]core.Track, 0, len(body.Results))
	for i := range body.Results {
		// Lookups also return the album wrapper.
		if body.Results[i].WrapperType != "track" {
			continue
		}
		tracks = append(tracks, convertTrack(&body.Results[i]))
	}

	c.logger.Debug("iTunes request completed",
		zap.String("path", path),
		zap.Int("results", len(tracks)))
	return tracks, nil
}

func (c *Client) baseURL() string {
	if c.config.BaseURL == "" {
		return defaultBaseURL
	}
	return strings.TrimSuffix(c.config.BaseURL, "/")
}

func (c *Client) storefront() string {
	if c.config.Storefront == "" {
		return defaultStorefront
	}
	return c.config.Storefront
}

func (c *Client) CurrentUser(context.Context) (core.User, error) {
	return core.User{}, core.ErrNotSupported
}

func (c *Client) CurrentPlayback(context.Context) (*core.Playback, error) {
	return nil, core.ErrNotSupported
}

func (c *Client) Playlists() paging.Source[core.Playlist] {
	return unsupported[core.Playlist]()
}

func (c *Client) SavedTracks() paging.Source[core.Track] {
	return unsupported[core.Track]()
}

func (c *Client) PlaylistTracks(string) paging.Source[core.Track] {
	return unsupported[core.Track]()
}

func (c *Client) Queue(context.Context) ([]core.Track, error) {
	return nil, core.ErrNotSupported
}

func (c *Client) Recommendations(context.Context, []string, int) ([]core.Track, error) {
	return nil, core.ErrNotSupported
}

func (c *Client) AddToQueue(context.Context, string) error {
	return core.ErrNotSupported
}

func (c *Client) SkipToNext(context.Context) error {
	return core.ErrNotSupported
}

func (c *Client) AddToPlaylist(context.Context, string, ...string) error {
	return core.ErrNotSupported
}

func (c *Client) RemoveFromPlaylist(context.Context, string, ...string) error {
	return core.ErrNotSupported
}

func (c *Client) CreatePlaylist(context.Context, string, string, string) (core.Playlist, error) {
	return core.Playlist{}, core.ErrNotSupported
}

func unsupported[T any]() paging.Source[T] {
	fail := func(context.Context) (paging.Page[T], error) {
		return paging.Page[T]{}, core.ErrNotSupported
	}
	return paging.Source[T]{
		First: fail,
		Next: func(ctx context.Context, _ string) (paging.Page[T], error) {
			return fail(ctx)
		},
	}
}

// ExtractTrackID returns the song ID from a music.apple.com or
// itunes.apple.com link, either from ?i= or a /song/ path.
func ExtractTrackID(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	if host != "music.apple.com" && host != "itunes.apple.com" {
		return "", errNoTrackID
	}

	if id := u.Query().Get("i"); id != "" {
		return id, nil
	}
	if strings.Contains(u.Path, "/song/") {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if id := parts[len(parts)-1]; id != "" {
			return id, nil
		}
	}
	return "", errNoTrackID
}

func convertTrack(r *trackResult) core.Track {
	return core.Track{
		ID:       strconv.FormatInt(r.TrackID, 10),
		Title:    r.TrackName,
		Artists:  []string{r.ArtistName},
		Album:    r.CollectionName,
		AlbumID:  strconv.FormatInt(r.CollectionID, 10),
		Duration: time.Duration(r.TrackTimeMS) * time.Millisecond,
		URL:      r.TrackViewURL,
	}
}

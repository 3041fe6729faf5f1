package library

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"musik/internal/core"
	"musik/internal/paging"
	"musik/pkg/fuzzy"
)

const (
	// Candidate sources, also used as metric labels.
	SourceLiked           = "liked"
	SourceRecommendations = "recos"
	SourceSearch          = "search"
	SourcePlaylist        = "playlist"

	// currentSeedWeight is how often the playing track is repeated in the
	// recommendation seeds; queuedSeedCount queued tracks follow it.
	currentSeedWeight = 3
	queuedSeedCount   = 2

	// DefaultSearchQuery is used when no LLM query can be produced.
	DefaultSearchQuery = "popular songs"
)

// Candidates is a list of tracks offered for queueing.
type Candidates struct {
	Source string
	// Label names what the tracks came from, e.g. the playlist or query.
	Label  string
	Tracks []core.Track
	// Partial is set when a listing stopped early; Tracks holds the prefix.
	Partial bool
	Err     error
}

// QueueResult reports what Enqueue did with each track.
type QueueResult struct {
	Queued  []core.Track
	Skipped []core.Track
}

// Queuer finds candidate tracks and hands them to the player.
type Queuer struct {
	music      core.MusicService
	llm        core.LLMProvider
	queued     core.QueuedSet
	opts       Options
	logger     *zap.Logger
	normalizer *fuzzy.Normalizer
	shuffle    func(n int, swap func(i, j int))
}

// NewQueuer creates a queuer. llm may be nil; queued remembers what was
// already handed to the player.
func NewQueuer(music core.MusicService, llm core.LLMProvider, queued core.QueuedSet, opts Options, logger *zap.Logger) *Queuer {
	return &Queuer{
		music:      music,
		llm:        llm,
		queued:     queued,
		opts:       opts,
		logger:     logger.Named("queuer"),
		normalizer: fuzzy.NewNormalizer(),
		shuffle:    rand.Shuffle,
	}
}

// Liked lists the user's saved tracks.
func (q *Queuer) Liked(ctx context.Context) (Candidates, error) {
	return q.drain(ctx, SourceLiked, "Liked Songs", q.music.SavedTracks())
}

// Recommendations asks for tracks similar to what is playing and queued.
// When the recommendations endpoint fails it falls back to a search built
// from the same seeds.
func (q *Queuer) Recommendations(ctx context.Context, limit int) (Candidates, error) {
	seeds, err := q.seedTracks(ctx)
	if err != nil {
		return Candidates{}, err
	}
	if len(seeds) == 0 {
		return Candidates{}, ErrNothingPlaying
	}

	tracks, err := q.music.Recommendations(ctx, trackIDs(seeds), limit)
	if err == nil {
		return Candidates{Source: SourceRecommendations, Label: seeds[0].String(), Tracks: tracks}, nil
	}

	q.logger.Warn("Recommendations failed, falling back to search", zap.Error(err))
	query := q.searchQuery(ctx, seeds)
	candidates, searchErr := q.Search(ctx, query, limit)
	if searchErr != nil {
		return Candidates{}, errors.Join(err, searchErr)
	}
	candidates.Source = SourceRecommendations
	return candidates, nil
}

// seedTracks returns the playing track repeated currentSeedWeight times
// followed by the first queued tracks.
func (q *Queuer) seedTracks(ctx context.Context) ([]core.Track, error) {
	playback, err := q.music.CurrentPlayback(ctx)
	if err != nil {
		return nil, err
	}
	if playback == nil || playback.Track == nil {
		return nil, nil
	}

	seeds := make([]core.Track, 0, currentSeedWeight+queuedSeedCount)
	for range currentSeedWeight {
		seeds = append(seeds, *playback.Track)
	}

	upcoming, err := q.music.Queue(ctx)
	if err != nil {
		q.logger.Debug("Queue unavailable for seeding", zap.Error(err))
		return seeds, nil
	}
	return append(seeds, upcoming[:min(queuedSeedCount, len(upcoming))]...), nil
}

func (q *Queuer) searchQuery(ctx context.Context, seeds []core.Track) string {
	if q.llm != nil {
		query, err := q.llm.GenerateSearchQuery(ctx, seeds)
		if err == nil && query != "" {
			q.logger.Info("Generated search query", zap.String("query", query))
			return query
		}
		q.logger.Warn("Failed to generate search query, using fallback", zap.Error(err))
	}

	if artist := seeds[0].Artist(); artist != "" {
		return artist
	}
	return DefaultSearchQuery
}

// Search lists tracks matching query, best match first.
func (q *Queuer) Search(ctx context.Context, query string, limit int) (Candidates, error) {
	tracks, err := q.music.Search(ctx, query, limit)
	if err != nil {
		return Candidates{}, err
	}
	return Candidates{Source: SourceSearch, Label: query, Tracks: tracks}, nil
}

// Playlist lists the tracks of the playlist whose name best matches name,
// optionally shuffled.
func (q *Queuer) Playlist(ctx context.Context, name string, shuffle bool) (Candidates, error) {
	listing := paging.Collect(aggregate(q.music.Playlists(), q.opts, q.logger).
		DrainConcurrent(ctx, q.opts.maxInFlight()))
	if listing.Err != nil && len(listing.Items) == 0 {
		return Candidates{}, fmt.Errorf("failed to list playlists: %w", listing.Err)
	}

	names := make([]string, len(listing.Items))
	for i := range listing.Items {
		names[i] = listing.Items[i].Name
	}
	idx, _ := q.normalizer.BestMatch(name, names)
	if idx < 0 {
		return Candidates{}, fmt.Errorf("%w: %q", ErrNoPlaylistMatch, name)
	}
	playlist := listing.Items[idx]

	candidates, err := q.drain(ctx, SourcePlaylist, playlist.Name, q.music.PlaylistTracks(playlist.ID))
	if err != nil {
		return candidates, err
	}
	if shuffle {
		tracks := candidates.Tracks
		q.shuffle(len(tracks), func(i, j int) { tracks[i], tracks[j] = tracks[j], tracks[i] })
	}
	return candidates, nil
}

// drain lists a source concurrently. A failure after the first page yields
// the fetched prefix with Partial set.
func (q *Queuer) drain(ctx context.Context, source, label string, src paging.Source[core.Track]) (Candidates, error) {
	final := paging.Collect(aggregate(src, q.opts, q.logger).DrainConcurrent(ctx, q.opts.maxInFlight()))
	if final.Err != nil && len(final.Items) == 0 {
		return Candidates{}, fmt.Errorf("failed to list %s: %w", label, final.Err)
	}

	// Snapshots share storage with the aggregator; copy before reordering.
	tracks := append([]core.Track(nil), final.Items...)
	return Candidates{
		Source:  source,
		Label:   label,
		Tracks:  tracks,
		Partial: !final.Complete,
		Err:     final.Err,
	}, nil
}

// Sync replaces the queued set with the player's actual queue.
func (q *Queuer) Sync(ctx context.Context) error {
	upcoming, err := q.music.Queue(ctx)
	if err != nil {
		return err
	}
	q.queued.Load(trackIDs(upcoming))
	return nil
}

// Enqueue hands tracks to the player in order, skipping any already queued.
// It stops at the first failure and reports what was done so far.
func (q *Queuer) Enqueue(ctx context.Context, source string, tracks []core.Track) (QueueResult, error) {
	var result QueueResult
	for _, track := range tracks {
		if q.queued.Has(track.ID) {
			result.Skipped = append(result.Skipped, track)
			continue
		}
		if err := q.music.AddToQueue(ctx, track.ID); err != nil {
			return result, fmt.Errorf("failed to queue %s: %w", track.String(), err)
		}
		q.queued.Add(track.ID)
		result.Queued = append(result.Queued, track)
		if q.opts.OnQueued != nil {
			q.opts.OnQueued(source)
		}
	}

	q.logger.Info("Tracks queued",
		zap.String("source", source),
		zap.Int("queued", len(result.Queued)),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

// Pick returns the tracks at the given 1-based positions.
func Pick(tracks []core.Track, positions []int) ([]core.Track, error) {
	picked := make([]core.Track, 0, len(positions))
	for _, pos := range positions {
		if pos < 1 || pos > len(tracks) {
			return nil, fmt.Errorf("%w: %d (have %d)", ErrInvalidPick, pos, len(tracks))
		}
		picked = append(picked, tracks[pos-1])
	}
	return picked, nil
}

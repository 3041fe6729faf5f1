package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"musik/internal/applemusic"
	"musik/internal/auth"
	"musik/internal/core"
	httpserver "musik/internal/http"
	"musik/internal/library"
	"musik/internal/llm"
	"musik/internal/spotify"
	"musik/internal/store"
	"musik/internal/tokenstore"
)

var errNoAuthorization = errors.New("the selected backend does not use authorization")

// services holds everything a command needs. auth and store are nil for
// backends without OAuth.
type services struct {
	config  *core.Config
	logger  *zap.Logger
	auth    *auth.Manager
	store   tokenstore.Store
	music   core.MusicService
	llm     core.LLMProvider
	metrics *httpserver.Metrics
}

func initializeServices(ctx context.Context, cfg *core.Config, logger *zap.Logger) (*services, error) {
	svcs := &services{
		config:  cfg,
		logger:  logger,
		metrics: httpserver.NewMetrics(),
	}

	switch cfg.App.Backend {
	case core.BackendAppleMusic:
		svcs.music = applemusic.NewClient(&cfg.AppleMusic, logger)
	default:
		if err := svcs.initializeSpotify(ctx); err != nil {
			svcs.Close()
			return nil, err
		}
	}

	provider, err := llm.NewProvider(&cfg.LLM, logger)
	if err != nil {
		svcs.Close()
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	if provider.Enabled() {
		svcs.llm = provider
	}

	logger.Debug("Services initialized",
		zap.String("backend", svcs.music.Name()),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("token_store", cfg.TokenStore.Backend))

	return svcs, nil
}

func (s *services) initializeSpotify(ctx context.Context) error {
	manager, err := auth.NewManager(auth.Config{
		ClientID:     s.config.Spotify.ClientID,
		ClientSecret: s.config.Spotify.ClientSecret,
		RedirectURL:  s.config.Spotify.RedirectURL,
		AuthURL:      s.config.Spotify.AuthURL,
		TokenURL:     s.config.Spotify.TokenURL,
		Scopes:       s.config.Spotify.Scopes,
		ExpiryLeeway: s.config.Spotify.ExpiryLeeway,
		HTTPClient:   &http.Client{Timeout: s.config.Spotify.RequestTimeout},
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create authorization manager: %w", err)
	}

	tokens, err := tokenstore.Open(&s.config.TokenStore, s.logger.Named("tokenstore"))
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}
	s.store = tokens

	if err := tokenstore.Bind(ctx, tokens, manager, s.logger.Named("tokenstore")); err != nil {
		return err
	}

	s.auth = manager
	s.music = spotify.NewClient(&s.config.Spotify, auth.NewHTTPClient(manager, nil), s.config.App.PageSize, s.logger)
	return nil
}

// Close releases the token store.
func (s *services) Close() {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Debug("Failed to close token store", zap.Error(err))
	}
}

func (s *services) requireAuth() (*auth.Manager, error) {
	if s.auth == nil {
		return nil, fmt.Errorf("%w: %s", errNoAuthorization, s.music.Name())
	}
	return s.auth, nil
}

func (s *services) libraryOptions() library.Options {
	return library.Options{
		MaxInFlight: s.config.App.MaxInFlight,
		OnPage:      s.metrics.ObservePage,
		OnQueued:    s.metrics.RecordQueued,
	}
}

func (s *services) newSorter() *library.Sorter {
	return library.NewSorter(s.music, s.libraryOptions(), s.logger)
}

func (s *services) newQueuer() *library.Queuer {
	memory := store.NewQueueMemory(s.config.App.QueueMemory, s.config.App.QueueFalsePositiveRate)
	return library.NewQueuer(s.music, s.llm, memory, s.libraryOptions(), s.logger)
}

func (s *services) newServer(authn *auth.Manager) *httpserver.Server {
	return httpserver.NewServer(&s.config.Server, authn, s.config.Spotify.RedirectURL, s.metrics, s.logger)
}

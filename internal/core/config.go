package core

import (
	"fmt"
	"net/url"
	"slices"
	"time"
)

const (
	// BackendSpotify selects the Spotify Web API.
	BackendSpotify = "spotify"
	// BackendAppleMusic selects the Apple Music stub.
	BackendAppleMusic = "applemusic"

	// TokenStoreFile persists credentials to a JSON file.
	TokenStoreFile = "file"
	// TokenStoreSQLite persists credentials to a sqlite database.
	TokenStoreSQLite = "sqlite"
	// TokenStoreKeyring persists credentials to the OS keychain.
	TokenStoreKeyring = "keyring"

	// MaxSpotifyPageSize is the largest page the Spotify Web API returns.
	MaxSpotifyPageSize = 50
)

type Config struct {
	Spotify    SpotifyConfig
	AppleMusic AppleMusicConfig
	TokenStore TokenStoreConfig
	LLM        LLMConfig
	Server     ServerConfig
	Log        LogConfig
	App        AppConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	// RedirectURL must use the scheme registered with the application.
	RedirectURL string
	AuthURL     string
	TokenURL    string
	// APIBaseURL overrides https://api.spotify.com/v1/ (tests, proxies).
	APIBaseURL     string
	Scopes         []string
	ExpiryLeeway   time.Duration
	RequestTimeout time.Duration
}

type AppleMusicConfig struct {
	Storefront string
	BaseURL    string
	Timeout    time.Duration
}

type TokenStoreConfig struct {
	Backend     string
	Path        string
	ServiceName string
}

type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	Backend string
	// PageSize is the limit used for offset-paged endpoints.
	PageSize int
	// MaxInFlight bounds concurrent page fetches.
	MaxInFlight int
	// QueueMemory is how many queued track IDs are remembered for deduplication.
	QueueMemory            int
	QueueFalsePositiveRate float64
	// RefreshInterval is how often the serve command refreshes an expiring token.
	RefreshInterval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL:    "http://127.0.0.1:8080/callback",
			ExpiryLeeway:   30 * time.Second,
			RequestTimeout: 15 * time.Second,
		},
		AppleMusic: AppleMusicConfig{
			Storefront: "us",
			BaseURL:    "https://itunes.apple.com",
			Timeout:    10 * time.Second,
		},
		TokenStore: TokenStoreConfig{
			Backend:     TokenStoreFile,
			Path:        "./musik_token.json",
			ServiceName: "musik",
		},
		LLM: LLMConfig{
			Provider: "none",
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			Backend:                BackendSpotify,
			PageSize:               MaxSpotifyPageSize,
			MaxInFlight:            4,
			QueueMemory:            1000,
			QueueFalsePositiveRate: 0.001,
			RefreshInterval:        time.Minute,
		},
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch c.App.Backend {
	case BackendSpotify:
		if c.Spotify.ClientID == "" {
			return fmt.Errorf("spotify client ID is required")
		}
		redirect, err := url.Parse(c.Spotify.RedirectURL)
		if err != nil || redirect.Scheme == "" {
			return fmt.Errorf("spotify redirect URL %q must be absolute", c.Spotify.RedirectURL)
		}
	case BackendAppleMusic:
	default:
		return fmt.Errorf("unsupported backend: %s", c.App.Backend)
	}

	if !slices.Contains([]string{TokenStoreFile, TokenStoreSQLite, TokenStoreKeyring}, c.TokenStore.Backend) {
		return fmt.Errorf("unsupported token store: %s", c.TokenStore.Backend)
	}
	if c.TokenStore.Backend != TokenStoreKeyring && c.TokenStore.Path == "" {
		return fmt.Errorf("token store path is required for %s", c.TokenStore.Backend)
	}

	if c.App.PageSize < 1 || c.App.PageSize > MaxSpotifyPageSize {
		return fmt.Errorf("page size must be between 1 and %d, got %d", MaxSpotifyPageSize, c.App.PageSize)
	}
	if c.App.MaxInFlight < 1 {
		return fmt.Errorf("max in flight must be at least 1, got %d", c.App.MaxInFlight)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}

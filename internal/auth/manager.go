// Package auth manages the OAuth2 authorization-code credential lifecycle:
// request nonces, redirect validation, code exchange, expiry and refresh.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// errorAccessDenied is the redirect error code sent when the user declines.
	errorAccessDenied = "access_denied"
	refreshKey        = "refresh"
	expiredRefreshKey = "refresh-if-expired"
)

// State is the externally observable phase of a Manager.
type State int

const (
	StateUnauthenticated State = iota
	StateAwaitingRedirect
	StateExchangingCode
	StateAuthenticated
	StateExpired
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAwaitingRedirect:
		return "awaiting_redirect"
	case StateExchangingCode:
		return "exchanging_code"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Config describes the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string

	// ExpiryLeeway treats a token as expired this long before ExpiresAt.
	ExpiryLeeway time.Duration
	// HTTPClient is used for token endpoint calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Now overrides the clock in tests.
	Now func() time.Time
}

// DefaultScopes are the Spotify scopes needed by the sort and queue workflows.
var DefaultScopes = []string{
	spotifyauth.ScopeUserLibraryRead,
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopePlaylistReadCollaborative,
	spotifyauth.ScopePlaylistModifyPublic,
	spotifyauth.ScopePlaylistModifyPrivate,
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
}

// Listener receives a copy of the credential after every change. A nil
// credential means it was dropped.
type Listener func(cred *Credential)

// Manager owns one OAuth credential. It is safe for concurrent use; at most
// one refresh request is in flight at any time.
type Manager struct {
	oauth        *oauth2.Config
	scheme       string
	defaultScope []string
	leeway       time.Duration
	httpClient   *http.Client
	now          func() time.Time
	logger       *zap.Logger

	mu         sync.Mutex
	pending    *RequestState
	cred       *Credential
	exchanging bool
	refreshing bool

	notifyMu sync.Mutex
	listener Listener

	refreshGroup singleflight.Group
	// refreshMu serializes calls to the token endpoint.
	refreshMu sync.Mutex
}

// NewManager validates config and returns an unauthenticated Manager.
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if config.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	redirect, err := url.Parse(config.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL: %w", err)
	}
	if redirect.Scheme == "" {
		return nil, fmt.Errorf("redirect URL %q has no scheme", config.RedirectURL)
	}

	authURL := config.AuthURL
	if authURL == "" {
		authURL = spotifyauth.AuthURL
	}
	tokenURL := config.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}

	// An explicit style keeps every exchange and refresh to a single request.
	endpoint := oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInHeader}
	if config.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
		},
		scheme:       strings.ToLower(redirect.Scheme),
		defaultScope: slices.Clone(scopes),
		leeway:       config.ExpiryLeeway,
		httpClient:   config.HTTPClient,
		now:          now,
		logger:       logger.Named("auth"),
	}, nil
}

// SetListener registers fn to observe credential changes.
func (m *Manager) SetListener(fn Listener) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.listener = fn
}

// Restore seeds the manager with a previously persisted credential.
func (m *Manager) Restore(cred *Credential) {
	if cred == nil {
		return
	}
	m.mu.Lock()
	m.cred = cred.Clone()
	m.mu.Unlock()
	m.logger.Debug("Credential restored", zap.Time("expires_at", cred.ExpiresAt))
}

// State reports the current phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.exchanging:
		return StateExchangingCode
	case m.refreshing:
		return StateRefreshing
	case m.pending != nil:
		return StateAwaitingRedirect
	case m.cred == nil:
		return StateUnauthenticated
	case m.cred.expired(m.now(), m.leeway):
		return StateExpired
	default:
		return StateAuthenticated
	}
}

// Credential returns a copy of the held credential, or nil.
func (m *Manager) Credential() *Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.Clone()
}

// BeginAuthorization issues a fresh nonce and returns the URL the user must
// open. Any previously pending request is discarded.
func (m *Manager) BeginAuthorization(scopes []string) (string, error) {
	if len(scopes) == 0 {
		scopes = m.defaultScope
	}

	req, err := newRequestState(m.now())
	if err != nil {
		return "", fmt.Errorf("failed to create authorization request: %w", err)
	}
	req.ID = uuid.NewString()
	req.Scopes = slices.Clone(scopes)

	cfg := *m.oauth
	cfg.Scopes = req.Scopes
	authURL := cfg.AuthCodeURL(req.Nonce, oauth2.S256ChallengeOption(req.Verifier))

	m.mu.Lock()
	replaced := m.pending != nil
	m.pending = req
	m.mu.Unlock()

	m.logger.Info("Authorization started",
		zap.String("attempt", req.ID),
		zap.Strings("scopes", req.Scopes),
		zap.Bool("replaced_pending", replaced))

	return authURL, nil
}

// HandleRedirect validates the callback URL and exchanges its code for a
// credential. The pending nonce is consumed by every call that gets past the
// scheme check.
func (m *Manager) HandleRedirect(ctx context.Context, rawURL string) (*Credential, error) {
	redirect, err := url.Parse(rawURL)
	if err != nil {
		return nil, newError(KindInvalidScheme, fmt.Errorf("unparseable redirect: %w", err))
	}
	if !strings.EqualFold(redirect.Scheme, m.scheme) {
		m.logger.Warn("Rejected redirect with unexpected scheme", zap.String("scheme", redirect.Scheme))
		return nil, newError(KindInvalidScheme, fmt.Errorf("got %q, want %q", redirect.Scheme, m.scheme))
	}

	query := redirect.Query()

	m.mu.Lock()
	req := m.pending
	m.pending = nil
	if req == nil {
		m.mu.Unlock()
		return nil, newError(KindStateMismatch, errors.New("no authorization pending"))
	}
	if subtle.ConstantTimeCompare([]byte(query.Get("state")), []byte(req.Nonce)) != 1 {
		m.mu.Unlock()
		m.logger.Warn("Rejected redirect with mismatched state", zap.String("attempt", req.ID))
		return nil, newError(KindStateMismatch, errors.New("state does not match pending request"))
	}
	if code := query.Get("error"); code != "" {
		m.mu.Unlock()
		desc := query.Get("error_description")
		if code == errorAccessDenied {
			m.logger.Info("User denied authorization", zap.String("attempt", req.ID))
			return nil, newError(KindAccessDenied, errors.New(firstNonEmpty(desc, code)))
		}
		return nil, newError(KindExchangeFailed, fmt.Errorf("authorization server returned %s: %s", code, desc))
	}
	code := query.Get("code")
	if code == "" {
		m.mu.Unlock()
		return nil, newError(KindExchangeFailed, errors.New("redirect carries no authorization code"))
	}
	m.exchanging = true
	m.mu.Unlock()

	token, err := m.oauth.Exchange(m.clientContext(ctx), code, oauth2.VerifierOption(req.Verifier))

	m.mu.Lock()
	m.exchanging = false
	if err != nil {
		m.mu.Unlock()
		kind := classify(err, KindExchangeFailed)
		m.logger.Error("Code exchange failed",
			zap.String("attempt", req.ID),
			zap.Stringer("kind", kind),
			zap.Error(err))
		return nil, newError(kind, err)
	}
	cred := credentialFromToken(token, req.Scopes)
	m.cred = cred
	out := cred.Clone()
	m.mu.Unlock()

	m.logger.Info("Authorization completed",
		zap.String("attempt", req.ID),
		zap.Time("expires_at", cred.ExpiresAt))
	m.notify(out)

	return out.Clone(), nil
}

// CurrentAccessToken returns a live access token, refreshing first if the
// held one has expired.
func (m *Manager) CurrentAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	cred := m.cred
	if cred == nil {
		m.mu.Unlock()
		return "", newError(KindNotAuthenticated, nil)
	}
	if !cred.expired(m.now(), m.leeway) {
		token := cred.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	refreshed, err := m.Refresh(ctx, true)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh exchanges the refresh token for a new credential. With
// onlyIfExpired set, an unexpired credential is returned without a network
// call. Concurrent calls share a single request.
func (m *Manager) Refresh(ctx context.Context, onlyIfExpired bool) (*Credential, error) {
	m.mu.Lock()
	cred := m.cred
	if cred == nil {
		m.mu.Unlock()
		return nil, newError(KindNotAuthenticated, nil)
	}
	if onlyIfExpired && !cred.expired(m.now(), m.leeway) {
		out := cred.Clone()
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()

	key := refreshKey
	if onlyIfExpired {
		key = expiredRefreshKey
	}
	// The shared request outlives any single caller's cancellation.
	shared := context.WithoutCancel(ctx)
	ch := m.refreshGroup.DoChan(key, func() (any, error) {
		return m.refresh(shared, onlyIfExpired)
	})

	select {
	case <-ctx.Done():
		return nil, newError(KindNetworkError, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		cred, _ := res.Val.(*Credential)
		return cred.Clone(), nil
	}
}

// refresh calls the token endpoint. With onlyIfExpired set, expiry is checked
// again once the endpoint is free, since another refresh may have finished
// in the meantime.
func (m *Manager) refresh(ctx context.Context, onlyIfExpired bool) (*Credential, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	current := m.cred
	if current == nil {
		m.mu.Unlock()
		return nil, newError(KindNotAuthenticated, nil)
	}
	if onlyIfExpired && !current.expired(m.now(), m.leeway) {
		out := current.Clone()
		m.mu.Unlock()
		return out, nil
	}
	if current.RefreshToken == "" {
		m.cred = nil
		m.mu.Unlock()
		m.notify(nil)
		return nil, newError(KindRefreshFailed, errors.New("credential has no refresh token"))
	}
	m.refreshing = true
	m.mu.Unlock()

	started := m.now()
	source := m.oauth.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})
	token, err := source.Token()

	m.mu.Lock()
	m.refreshing = false
	if m.cred != current {
		// Deauthorized or replaced while the request was in flight.
		m.mu.Unlock()
		return nil, newError(KindNotAuthenticated, errors.New("credential changed during refresh"))
	}
	if err != nil {
		kind := classify(err, KindRefreshFailed)
		if kind == KindRefreshFailed {
			m.cred = nil
		}
		m.mu.Unlock()
		m.logger.Error("Token refresh failed", zap.Stringer("kind", kind), zap.Error(err))
		if kind == KindRefreshFailed {
			m.notify(nil)
		}
		return nil, newError(kind, err)
	}
	cred := credentialFromToken(token, current.Scopes)
	if cred.RefreshToken == "" {
		cred.RefreshToken = current.RefreshToken
	}
	m.cred = cred
	out := cred.Clone()
	m.mu.Unlock()

	m.logger.Info("Token refreshed",
		zap.Duration("took", m.now().Sub(started)),
		zap.Time("expires_at", cred.ExpiresAt))
	m.notify(out)

	return out, nil
}

// Deauthorize drops the credential and any pending request.
func (m *Manager) Deauthorize() {
	m.mu.Lock()
	had := m.cred != nil || m.pending != nil
	m.cred = nil
	m.pending = nil
	m.mu.Unlock()

	if had {
		m.logger.Info("Deauthorized")
	}
	m.notify(nil)
}

// ExpireNow marks the held access token as expired so the next use refreshes it.
func (m *Manager) ExpireNow() error {
	m.mu.Lock()
	if m.cred == nil {
		m.mu.Unlock()
		return newError(KindNotAuthenticated, nil)
	}
	cred := m.cred.Clone()
	cred.ExpiresAt = m.now()
	m.cred = cred
	out := cred.Clone()
	m.mu.Unlock()

	m.notify(out)
	return nil
}

func (m *Manager) notify(cred *Credential) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	if m.listener != nil {
		m.listener(cred)
	}
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// classify maps a token endpoint error to rejected (4xx) or network
// (transport failure, 5xx).
func classify(err error, rejected ErrorKind) ErrorKind {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError {
			return KindNetworkError
		}
		return rejected
	}
	return KindNetworkError
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

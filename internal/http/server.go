// Package http serves the OAuth callback, health probes and metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"musik/internal/auth"
	"musik/internal/core"
)

const shutdownTimeout = 10 * time.Second

// Authenticator is the part of auth.Manager the server needs.
type Authenticator interface {
	HandleRedirect(ctx context.Context, rawURL string) (*auth.Credential, error)
	State() auth.State
}

type Server struct {
	config    *core.ServerConfig
	logger    *zap.Logger
	server    *http.Server
	metrics   *Metrics
	callbacks chan error
}

// NewServer wires the routes. redirectURL is the registered callback URL;
// the query of each /callback request is appended to it before it is handed
// to the authenticator.
func NewServer(config *core.ServerConfig, authn Authenticator, redirectURL string, metrics *Metrics, logger *zap.Logger) *Server {
	s := &Server{
		config:    config,
		logger:    logger.Named("http"),
		metrics:   metrics,
		callbacks: make(chan error, 1),
	}
	s.server = createHTTPServer(config, setupRoutes(s.logger, authn, redirectURL, metrics, s.callbacks))
	return s
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

func setupRoutes(logger *zap.Logger, authn Authenticator, redirectURL string, metrics *Metrics, callbacks chan<- error) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /callback", callbackHandler(logger, authn, redirectURL, metrics, callbacks))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		state := authn.State()
		switch state {
		case auth.StateAuthenticated, auth.StateExpired, auth.StateRefreshing:
			writeStatus(w, http.StatusOK, state.String())
		default:
			writeStatus(w, http.StatusServiceUnavailable, state.String())
		}
	})

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /{$}", homeHandler(logger, authn))

	return mux
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q,"service":"musik"}`, status)
}

var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>musik</title>
    <style>body { font-family: Arial, sans-serif; margin: 40px; }</style>
</head>
<body>
    <h1>{{.Title}}</h1>
    <p>{{.Message}}</p>
</body>
</html>`))

func callbackHandler(logger *zap.Logger, authn Authenticator, redirectURL string, metrics *Metrics,
	callbacks chan<- error) http.HandlerFunc {
	base, _, _ := strings.Cut(redirectURL, "?")

	return func(w http.ResponseWriter, r *http.Request) {
		rawURL := base
		if r.URL.RawQuery != "" {
			rawURL += "?" + r.URL.RawQuery
		}

		_, err := authn.HandleRedirect(r.Context(), rawURL)
		metrics.RecordAuth("callback", err)

		// Dropped while an earlier result is unread.
		select {
		case callbacks <- err:
		default:
		}

		title, message, code := "Logged in", "You can close this tab and return to the terminal.", http.StatusOK
		if err != nil {
			logger.Warn("Authorization callback failed", zap.Error(err))
			title, message, code = "Login failed", err.Error(), callbackStatus(err)
		} else {
			logger.Info("Authorization completed")
		}

		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(code)
		_ = resultPage.Execute(w, map[string]string{"Title": title, "Message": message})
	}
}

func callbackStatus(err error) int {
	switch auth.KindOf(err) {
	case auth.KindInvalidScheme, auth.KindStateMismatch:
		return http.StatusBadRequest
	case auth.KindAccessDenied:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

func homeHandler(logger *zap.Logger, authn Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>musik</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .endpoint { margin: 10px 0; }
        .endpoint a { text-decoration: none; color: #0066cc; }
    </style>
</head>
<body>
    <h1>musik</h1>
    <p>Spotify queue and sort helper. Authorization state: <b>%s</b></p>

    <h2>Endpoints</h2>
    <div class="endpoint"><a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint"><a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint"><a href="/readyz">Ready</a> - Ready once authorized</div>
</body>
</html>`, authn.State()); err != nil {
			logger.Debug("Failed to write home page", zap.Error(err))
		}
	}
}

// Callbacks delivers the result of /callback requests. Results arriving
// while one is unread are dropped.
func (s *Server) Callbacks() <-chan error {
	return s.callbacks
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the routed handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

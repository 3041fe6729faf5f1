package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"musik/internal/auth"
	"musik/internal/core"
	"musik/internal/library"
)

func TestFlagToEnvVar(t *testing.T) {
	tests := []struct {
		flag     string
		expected string
	}{
		{"spotify-client-id", "MUSIK_SPOTIFY_CLIENT_ID"},
		{"backend", "MUSIK_BACKEND"},
		{"max-in-flight", "MUSIK_MAX_IN_FLIGHT"},
	}

	for _, tt := range tests {
		if got := flagToEnvVar(tt.flag); got != tt.expected {
			t.Errorf("flagToEnvVar(%q) = %q, expected %q", tt.flag, got, tt.expected)
		}
	}
}

func TestGenerateEnvExampleContent(t *testing.T) {
	content := generateEnvExampleContent(rootCmd)

	for _, expected := range []string{
		"MUSIK_SPOTIFY_CLIENT_ID=",
		"MUSIK_BACKEND=spotify",
		"MUSIK_TOKEN_STORE=file",
		"MUSIK_LLM_PROVIDER=none",
		"MUSIK_SERVER_PORT=8080",
		"MUSIK_PAGE_SIZE=50",
		"MUSIK_REFRESH_INTERVAL=1m0s",
	} {
		if !strings.Contains(content, expected) {
			t.Errorf("env example missing %q", expected)
		}
	}

	// Every section flag must exist, or the line would carry no default.
	for _, section := range envSections {
		for _, name := range section.flags {
			if rootCmd.PersistentFlags().Lookup(name) == nil {
				t.Errorf("section %q lists unknown flag %q", section.title, name)
			}
		}
	}
}

func setViper(t *testing.T, values map[string]any) {
	t.Helper()
	for key, value := range values {
		previous := viper.Get(key)
		viper.Set(key, value)
		t.Cleanup(func() { viper.Set(key, previous) })
	}
}

func TestBuildConfig_DerivedRedirectURL(t *testing.T) {
	tests := []struct {
		name     string
		values   map[string]any
		expected string
	}{
		{"wildcard host", map[string]any{"server-host": "0.0.0.0", "server-port": 9000}, "http://127.0.0.1:9000/callback"},
		{"explicit host", map[string]any{"server-host": "localhost", "server-port": 8080}, "http://localhost:8080/callback"},
		{"explicit url", map[string]any{"spotify-redirect-url": "musik://callback"}, "musik://callback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setViper(t, tt.values)
			if got := buildConfig().Spotify.RedirectURL; got != tt.expected {
				t.Errorf("RedirectURL = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestBuildConfig_Overrides(t *testing.T) {
	setViper(t, map[string]any{
		"backend":          "AppleMusic",
		"page-size":        20,
		"max-in-flight":    2,
		"queue-memory":     0,
		"refresh-interval": "-1s",
		"token-store":      core.TokenStoreSQLite,
		"llm-provider":     "ollama",
	})

	cfg := buildConfig()
	if cfg.App.Backend != core.BackendAppleMusic {
		t.Errorf("Backend = %q", cfg.App.Backend)
	}
	if cfg.App.PageSize != 20 || cfg.App.MaxInFlight != 2 {
		t.Errorf("PageSize/MaxInFlight = %d/%d", cfg.App.PageSize, cfg.App.MaxInFlight)
	}
	defaults := core.DefaultConfig()
	if cfg.App.QueueMemory != defaults.App.QueueMemory {
		t.Errorf("QueueMemory = %d, expected default", cfg.App.QueueMemory)
	}
	if cfg.App.RefreshInterval != defaults.App.RefreshInterval {
		t.Errorf("RefreshInterval = %s, expected default", cfg.App.RefreshInterval)
	}
	if cfg.TokenStore.Backend != core.TokenStoreSQLite || cfg.LLM.Provider != "ollama" {
		t.Errorf("TokenStore/LLM = %q/%q", cfg.TokenStore.Backend, cfg.LLM.Provider)
	}
}

func TestBuildLogger(t *testing.T) {
	tests := []struct {
		level    string
		enabled  zapcore.Level
		disabled zapcore.Level
	}{
		{"debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"info", zapcore.InfoLevel, zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel, zapcore.InfoLevel},
		{"error", zapcore.ErrorLevel, zapcore.WarnLevel},
		{"bogus", zapcore.InfoLevel, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := buildLogger(&core.LogConfig{Level: tt.level, Format: "console"})
			if !l.Core().Enabled(tt.enabled) {
				t.Errorf("level %s should be enabled", tt.enabled)
			}
			if l.Core().Enabled(tt.disabled) {
				t.Errorf("level %s should be disabled", tt.disabled)
			}
		})
	}
}

func TestRenderSortView(t *testing.T) {
	track := core.Track{ID: "t1", Title: "Song", Artists: []string{"Band"}}
	view := &library.SortView{
		User:     core.User{ID: "me", DisplayName: "Me"},
		Playback: &core.Playback{Track: &track, IsPlaying: true},
		Playlists: []library.PlaylistEntry{
			{Playlist: core.Playlist{Name: "Holds It"}, Checked: true, Contains: true},
			{Playlist: core.Playlist{Name: "Lacks It"}, Checked: true},
			{Playlist: core.Playlist{Name: "Unknown"}},
		},
		Partial: true,
	}

	var out bytes.Buffer
	renderSortView(&out, view)

	for _, expected := range []string{"Now playing: Song - Band", "[x] Holds It", "[ ] Lacks It", "[?] Unknown", "listing incomplete"} {
		if !strings.Contains(out.String(), expected) {
			t.Errorf("output missing %q:\n%s", expected, out.String())
		}
	}
}

func TestRenderCandidates(t *testing.T) {
	candidates := library.Candidates{
		Source: library.SourcePlaylist,
		Label:  "Road Trip",
		Tracks: []core.Track{{Title: "One", Artists: []string{"A"}}, {Title: "Two"}},
	}

	var out bytes.Buffer
	renderCandidates(&out, candidates)

	expected := "playlist: Road Trip\n  1. One - A\n  2. Two\n"
	if out.String() != expected {
		t.Errorf("renderCandidates() = %q, expected %q", out.String(), expected)
	}
}

func TestRenderStatus(t *testing.T) {
	var out bytes.Buffer
	renderStatus(&out, auth.StateUnauthenticated, nil)
	if out.String() != "State: unauthenticated\n" {
		t.Errorf("renderStatus(nil) = %q", out.String())
	}

	out.Reset()
	renderStatus(&out, auth.StateAuthenticated, &auth.Credential{
		AccessToken:  "a",
		RefreshToken: "r",
		Scopes:       []string{"user-library-read", "streaming"},
	})
	for _, expected := range []string{"Expires: never", "Refreshable: true", "Scopes: user-library-read streaming"} {
		if !strings.Contains(out.String(), expected) {
			t.Errorf("renderStatus() missing %q:\n%s", expected, out.String())
		}
	}
}

func TestListCandidates_Validation(t *testing.T) {
	queuer := library.NewQueuer(nil, nil, nil, library.Options{}, zap.NewNop())

	tests := [][]string{
		{"search"},
		{"playlist", "  "},
		{"bogus"},
	}
	for _, args := range tests {
		if _, err := listCandidates(context.Background(), queuer, args, 10, false); err == nil {
			t.Errorf("listCandidates(%v) should fail", args)
		}
	}
}

// promptResponder answers the login prompt by redirecting with the state
// found in the printed authorization URL.
type promptResponder struct {
	t       *testing.T
	stdin   *io.PipeWriter
	code    string
	printed bytes.Buffer
}

func (p *promptResponder) Write(b []byte) (int, error) {
	p.printed.Write(b)
	for _, field := range strings.Fields(string(b)) {
		if !strings.HasPrefix(field, "http") {
			continue
		}
		authURL, err := url.Parse(field)
		if err != nil {
			p.t.Errorf("printed URL %q: %v", field, err)
			continue
		}
		redirect := "http://127.0.0.1:8080/callback?code=" + p.code + "&state=" + authURL.Query().Get("state") + "\n"
		go func() { _, _ = io.WriteString(p.stdin, redirect) }()
	}
	return len(b), nil
}

func TestLoginWithPaste(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good" || r.Form.Get("code_verifier") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokens.Close()

	tests := []struct {
		name    string
		code    string
		wantErr error
	}{
		{"success", "good", nil},
		{"rejected code", "bad", auth.ErrExchangeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, err := auth.NewManager(auth.Config{
				ClientID:    "client",
				RedirectURL: "http://127.0.0.1:8080/callback",
				AuthURL:     tokens.URL + "/authorize",
				TokenURL:    tokens.URL + "/token",
			}, zap.NewNop())
			if err != nil {
				t.Fatalf("NewManager() error = %v", err)
			}

			stdin, stdinWriter := io.Pipe()
			defer stdinWriter.Close()
			out := &promptResponder{t: t, stdin: stdinWriter, code: tt.code}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			err = loginWithPaste(ctx, manager, stdin, out)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("loginWithPaste() error = %v, expected %v", err, tt.wantErr)
				}
				if manager.State() != auth.StateUnauthenticated {
					t.Errorf("State() = %s after failure", manager.State())
				}
				return
			}
			if err != nil {
				t.Fatalf("loginWithPaste() error = %v", err)
			}
			if manager.State() != auth.StateAuthenticated {
				t.Errorf("State() = %s, expected authenticated", manager.State())
			}
			if !strings.Contains(out.printed.String(), "Logged in") {
				t.Errorf("output = %q", out.printed.String())
			}
		})
	}
}

func TestLoginWithPaste_EmptyInput(t *testing.T) {
	manager, err := auth.NewManager(auth.Config{ClientID: "client", RedirectURL: "http://127.0.0.1:8080/callback"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var out bytes.Buffer
	if err := loginWithPaste(context.Background(), manager, strings.NewReader("\n"), &out); err == nil {
		t.Error("loginWithPaste() should fail without a redirect URL")
	}
	if !strings.Contains(out.String(), "https://accounts.spotify.com/authorize") {
		t.Errorf("prompt = %q, expected the Spotify authorization URL", out.String())
	}
}

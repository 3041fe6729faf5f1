package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"musik/internal/auth"
	"musik/internal/core"
	"musik/internal/library"
)

const defaultListLimit = 20

func withServices(cmd *cobra.Command, fn func(ctx context.Context, svcs *services) error) error {
	ctx := cmd.Context()
	svcs, err := initializeServices(ctx, config, logger)
	if err != nil {
		return err
	}
	defer svcs.Close()
	return fn(ctx, svcs)
}

func newLoginCmd() *cobra.Command {
	var paste bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize musik with Spotify",
		Long: `Prints the authorization URL and waits for the redirect on the local callback
server. With --paste the redirect URL is read from standard input instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, func(ctx context.Context, svcs *services) error {
				manager, err := svcs.requireAuth()
				if err != nil {
					return err
				}
				if paste {
					return loginWithPaste(ctx, manager, cmd.InOrStdin(), cmd.OutOrStdout())
				}
				return loginWithServer(ctx, svcs, manager, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVar(&paste, "paste", false, "read the redirect URL from standard input")
	return cmd
}

func loginWithPaste(ctx context.Context, manager *auth.Manager, in io.Reader, out io.Writer) error {
	authURL, err := manager.BeginAuthorization(nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Open this URL in your browser:\n\n  %s\n\nThen paste the URL you were redirected to: ", authURL)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read redirect URL: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return errors.New("no redirect URL entered")
	}

	cred, err := manager.HandleRedirect(ctx, line)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Logged in, token valid until %s\n", cred.ExpiresAt.Format(time.RFC1123))
	return nil
}

func loginWithServer(ctx context.Context, svcs *services, manager *auth.Manager, out io.Writer) error {
	server := svcs.newServer(manager)

	g, gCtx := errgroup.WithContext(ctx)
	serverCtx, stop := context.WithCancel(gCtx)
	defer stop()

	g.Go(func() error {
		return server.Start(serverCtx)
	})

	authURL, err := manager.BeginAuthorization(nil)
	if err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	fmt.Fprintf(out, "Open this URL in your browser:\n\n  %s\n\nWaiting for the redirect to %s ...\n",
		authURL, svcs.config.Spotify.RedirectURL)

	g.Go(func() error {
		defer stop()
		select {
		case err := <-server.Callbacks():
			return err
		case <-gCtx.Done():
			return gCtx.Err()
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Logged in.")
	return nil
}

func newSortCmd() *cobra.Command {
	var add, remove, create string
	var skip bool

	cmd := &cobra.Command{
		Use:   "sort",
		Short: "Show and change which playlists hold the current track",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, func(ctx context.Context, svcs *services) error {
				sorter := svcs.newSorter()
				out := cmd.OutOrStdout()

				view, err := sorter.Load(ctx)
				if err != nil {
					return err
				}

				var edited core.Playlist
				action := ""
				switch {
				case add != "":
					action = "add"
					edited, err = sorter.Add(ctx, view, add)
				case remove != "":
					action = "remove"
					edited, err = sorter.Remove(ctx, view, remove)
				case create != "":
					action = "create"
					edited, err = sorter.CreateAndAdd(ctx, view, create)
				}
				if err != nil {
					return err
				}
				if action != "" {
					svcs.metrics.RecordPlaylistEdit(action)
					fmt.Fprintf(out, "%s: %s\n", action, edited.Name)
				}

				renderSortView(out, view)

				if skip {
					if err := sorter.Skip(ctx); err != nil {
						return err
					}
					fmt.Fprintln(out, "Skipped to the next track.")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&add, "add", "", "add the current track to this playlist")
	cmd.Flags().StringVar(&remove, "remove", "", "remove the current track from this playlist")
	cmd.Flags().StringVar(&create, "create", "", "create a playlist with this name holding the current track")
	cmd.Flags().BoolVar(&skip, "skip", false, "skip to the next track afterwards")
	cmd.MarkFlagsMutuallyExclusive("add", "remove", "create")
	return cmd
}

func renderSortView(out io.Writer, view *library.SortView) {
	track, err := view.Current()
	if err != nil {
		fmt.Fprintln(out, "Nothing is playing.")
	} else {
		fmt.Fprintf(out, "Now playing: %s\n", track)
	}

	fmt.Fprintf(out, "\nPlaylists editable by %s:\n", view.User.DisplayName)
	for _, entry := range view.Playlists {
		mark := " "
		switch {
		case !entry.Checked:
			mark = "?"
		case entry.Contains:
			mark = "x"
		}
		fmt.Fprintf(out, "  [%s] %s\n", mark, entry.Name)
	}
	if view.Partial {
		fmt.Fprintln(out, "  ... listing incomplete")
	}
}

func newQueueCmd() *cobra.Command {
	var pick []int
	var all, shuffle bool
	var limit int

	cmd := &cobra.Command{
		Use:   "queue liked|recos|search <query>|playlist <name>",
		Short: "List candidate tracks and add picks to the player queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svcs *services) error {
				queuer := svcs.newQueuer()
				out := cmd.OutOrStdout()

				if err := queuer.Sync(ctx); err != nil {
					svcs.logger.Warn("Could not read the player queue", zap.Error(err))
				}

				candidates, err := listCandidates(ctx, queuer, args, limit, shuffle)
				if err != nil {
					return err
				}
				renderCandidates(out, candidates)

				selected := candidates.Tracks
				if !all {
					if len(pick) == 0 {
						return nil
					}
					if selected, err = library.Pick(candidates.Tracks, pick); err != nil {
						return err
					}
				}

				result, err := queuer.Enqueue(ctx, candidates.Source, selected)
				fmt.Fprintf(out, "\nQueued %d, skipped %d already queued.\n", len(result.Queued), len(result.Skipped))
				return err
			})
		},
	}
	cmd.Flags().IntSliceVar(&pick, "pick", nil, "queue the tracks at these positions (1-based)")
	cmd.Flags().BoolVar(&all, "all", false, "queue every listed track")
	cmd.Flags().BoolVar(&shuffle, "shuffle", false, "shuffle playlist tracks")
	cmd.Flags().IntVar(&limit, "limit", defaultListLimit, "result count for recos and search")
	cmd.MarkFlagsMutuallyExclusive("pick", "all")
	return cmd
}

func listCandidates(ctx context.Context, queuer *library.Queuer, args []string, limit int,
	shuffle bool) (library.Candidates, error) {
	rest := strings.TrimSpace(strings.Join(args[1:], " "))

	switch args[0] {
	case library.SourceLiked:
		return queuer.Liked(ctx)
	case library.SourceRecommendations:
		return queuer.Recommendations(ctx, limit)
	case library.SourceSearch:
		if rest == "" {
			return library.Candidates{}, errors.New("search needs a query")
		}
		return queuer.Search(ctx, rest, limit)
	case library.SourcePlaylist:
		if rest == "" {
			return library.Candidates{}, errors.New("playlist needs a name")
		}
		return queuer.Playlist(ctx, rest, shuffle)
	default:
		return library.Candidates{}, fmt.Errorf("unknown source %q", args[0])
	}
}

func renderCandidates(out io.Writer, candidates library.Candidates) {
	title := candidates.Source
	if candidates.Label != "" {
		title += ": " + candidates.Label
	}
	fmt.Fprintln(out, title)
	for i, track := range candidates.Tracks {
		fmt.Fprintf(out, "%3d. %s\n", i+1, track)
	}
	if candidates.Partial {
		fmt.Fprintf(out, "  ... listing incomplete: %v\n", candidates.Err)
	}
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and manage the stored authorization",
	}

	action := func(use, short string, fn func(ctx context.Context, out io.Writer, svcs *services, m *auth.Manager) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withServices(cmd, func(ctx context.Context, svcs *services) error {
					manager, err := svcs.requireAuth()
					if err != nil {
						return err
					}
					return fn(ctx, cmd.OutOrStdout(), svcs, manager)
				})
			},
		}
	}

	cmd.AddCommand(
		action("status", "Show the authorization state", func(_ context.Context, out io.Writer, _ *services, m *auth.Manager) error {
			renderStatus(out, m.State(), m.Credential())
			return nil
		}),
		action("refresh", "Refresh the access token now", func(ctx context.Context, out io.Writer, svcs *services, m *auth.Manager) error {
			cred, err := m.Refresh(ctx, false)
			svcs.metrics.RecordAuth("refresh", err)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Token refreshed, valid until %s\n", cred.ExpiresAt.Format(time.RFC1123))
			return nil
		}),
		action("expire", "Mark the access token as expired", func(_ context.Context, out io.Writer, _ *services, m *auth.Manager) error {
			if err := m.ExpireNow(); err != nil {
				return err
			}
			fmt.Fprintln(out, "Access token marked as expired.")
			return nil
		}),
		action("logout", "Forget the stored credential", func(_ context.Context, out io.Writer, _ *services, m *auth.Manager) error {
			m.Deauthorize()
			fmt.Fprintln(out, "Logged out.")
			return nil
		}),
	)
	return cmd
}

func renderStatus(out io.Writer, state auth.State, cred *auth.Credential) {
	fmt.Fprintf(out, "State: %s\n", state)
	if cred == nil {
		return
	}
	if cred.ExpiresAt.IsZero() {
		fmt.Fprintln(out, "Expires: never")
	} else {
		fmt.Fprintf(out, "Expires: %s\n", cred.ExpiresAt.Format(time.RFC1123))
	}
	fmt.Fprintf(out, "Refreshable: %t\n", cred.RefreshToken != "")
	if len(cred.Scopes) > 0 {
		fmt.Fprintf(out, "Scopes: %s\n", strings.Join(cred.Scopes, " "))
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the callback, health and metrics server and keep the token fresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, func(ctx context.Context, svcs *services) error {
				manager, err := svcs.requireAuth()
				if err != nil {
					return err
				}
				return runServices(ctx, svcs, manager)
			})
		},
	}
}

func runServices(ctx context.Context, svcs *services, manager *auth.Manager) error {
	server := svcs.newServer(manager)
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(gCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(svcs.config.App.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				refreshIfExpired(gCtx, svcs, manager)
			}
		}
	})

	svcs.logger.Info("musik started",
		zap.String("http_addr", fmt.Sprintf("%s:%d", svcs.config.Server.Host, svcs.config.Server.Port)),
		zap.Stringer("auth_state", manager.State()))

	if err := g.Wait(); err != nil {
		svcs.logger.Error("musik stopped with error", zap.Error(err))
		return err
	}

	svcs.logger.Info("musik stopped gracefully")
	return nil
}

// refreshIfExpired refreshes only credentials inside the expiry leeway.
func refreshIfExpired(ctx context.Context, svcs *services, manager *auth.Manager) {
	if manager.State() != auth.StateExpired {
		return
	}
	_, err := manager.Refresh(ctx, true)
	svcs.metrics.RecordAuth("refresh", err)
	if err != nil {
		svcs.logger.Warn("Background refresh failed", zap.Error(err))
	}
}

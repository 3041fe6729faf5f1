// Package main provides the musik CLI application entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"musik/internal/core"
)

const envPrefix = "MUSIK"

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "musik",
	Short: "musik - Spotify queue and playlist sorter",
	Long: `musik sorts the currently playing track into your playlists and fills the
player queue from liked songs, recommendations, searches or playlists.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if viper.GetBool("generate-env-example") {
			return nil
		}
		return config.Validate()
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		if viper.GetBool("generate-env-example") {
			return generateEnvExample(cmd)
		}
		return cmd.Help()
	},
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := core.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.Log.Format, "log encoding (json, console)")
	flags.String("backend", defaults.App.Backend, "music backend (spotify, applemusic)")

	flags.String("spotify-client-id", "", "Spotify client ID")
	flags.String("spotify-client-secret", "", "Spotify client secret (optional with PKCE)")
	flags.String("spotify-redirect-url", "", "OAuth redirect URL (default derived from server host and port)")
	flags.String("spotify-auth-url", "", "authorization endpoint override")
	flags.String("spotify-token-url", "", "token endpoint override")
	flags.String("spotify-api-base-url", "", "Web API base URL override")
	flags.Duration("spotify-expiry-leeway", defaults.Spotify.ExpiryLeeway, "treat tokens as expired this long before they expire")
	flags.Duration("spotify-request-timeout", defaults.Spotify.RequestTimeout, "Web API request timeout")

	flags.String("applemusic-storefront", defaults.AppleMusic.Storefront, "Apple Music storefront country code")

	flags.String("token-store", defaults.TokenStore.Backend, "credential store (file, sqlite, keyring)")
	flags.String("token-path", defaults.TokenStore.Path, "credential file or database path")
	flags.String("token-service", defaults.TokenStore.ServiceName, "keyring service name")

	flags.String("llm-provider", defaults.LLM.Provider, "LLM provider (openai, anthropic, ollama, none)")
	flags.String("llm-model", "", "LLM model name")
	flags.String("llm-api-key", "", "LLM API key")
	flags.String("llm-base-url", "", "LLM API base URL")

	flags.String("server-host", defaults.Server.Host, "HTTP server host")
	flags.Int("server-port", defaults.Server.Port, "HTTP server port")

	flags.Int("page-size", defaults.App.PageSize, "items requested per page")
	flags.Int("max-in-flight", defaults.App.MaxInFlight, "maximum concurrent page requests")
	flags.Int("queue-memory", defaults.App.QueueMemory, "queued track IDs remembered for deduplication")
	flags.Duration("refresh-interval", defaults.App.RefreshInterval, "token refresh check interval for serve")

	rootCmd.Flags().Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("generate-env-example", rootCmd.Flags().Lookup("generate-env-example")); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(newLoginCmd(), newSortCmd(), newQueueCmd(), newSettingsCmd(), newServeCmd())
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		// A missing .env is fine.
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(&config.Log)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureServer(cfg)
	configureSpotify(cfg)
	configureAppleMusic(cfg)
	configureTokenStore(cfg)
	configureLLM(cfg)
	configureApp(cfg)

	return cfg
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = core.DefaultConfig().Server.Host
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func configureSpotify(cfg *core.Config) {
	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	cfg.Spotify.RedirectURL = viper.GetString("spotify-redirect-url")
	cfg.Spotify.AuthURL = viper.GetString("spotify-auth-url")
	cfg.Spotify.TokenURL = viper.GetString("spotify-token-url")
	cfg.Spotify.APIBaseURL = viper.GetString("spotify-api-base-url")
	cfg.Spotify.ExpiryLeeway = viper.GetDuration("spotify-expiry-leeway")
	cfg.Spotify.RequestTimeout = viper.GetDuration("spotify-request-timeout")

	// The callback must reach the local server, so a wildcard host becomes loopback.
	if cfg.Spotify.RedirectURL == "" {
		host := cfg.Server.Host
		if host == "0.0.0.0" || host == "" {
			host = "127.0.0.1"
		}
		cfg.Spotify.RedirectURL = fmt.Sprintf("http://%s:%d/callback", host, cfg.Server.Port)
	}
}

func configureAppleMusic(cfg *core.Config) {
	if storefront := viper.GetString("applemusic-storefront"); storefront != "" {
		cfg.AppleMusic.Storefront = storefront
	}
}

func configureTokenStore(cfg *core.Config) {
	cfg.TokenStore.Backend = viper.GetString("token-store")
	cfg.TokenStore.Path = viper.GetString("token-path")
	cfg.TokenStore.ServiceName = viper.GetString("token-service")
}

func configureLLM(cfg *core.Config) {
	cfg.LLM.Provider = viper.GetString("llm-provider")
	cfg.LLM.Model = viper.GetString("llm-model")
	cfg.LLM.APIKey = viper.GetString("llm-api-key")
	cfg.LLM.BaseURL = viper.GetString("llm-base-url")
}

func configureApp(cfg *core.Config) {
	cfg.App.Backend = strings.ToLower(viper.GetString("backend"))
	cfg.App.PageSize = viper.GetInt("page-size")
	cfg.App.MaxInFlight = viper.GetInt("max-in-flight")

	cfg.App.QueueMemory = viper.GetInt("queue-memory")
	if cfg.App.QueueMemory <= 0 {
		cfg.App.QueueMemory = core.DefaultConfig().App.QueueMemory
	}
	cfg.App.RefreshInterval = viper.GetDuration("refresh-interval")
	if cfg.App.RefreshInterval <= 0 {
		fmt.Printf("Warning: Invalid refresh interval (%s), using default (%s)\n",
			cfg.App.RefreshInterval, core.DefaultConfig().App.RefreshInterval)
		cfg.App.RefreshInterval = core.DefaultConfig().App.RefreshInterval
	}
}

func buildLogger(logConfig *core.LogConfig) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	if logConfig.Format == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

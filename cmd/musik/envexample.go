package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("✅ Successfully generated .env.example file")
	return nil
}

type envSection struct {
	title string
	flags []string
	notes []string
}

var envSections = []envSection{
	{
		title: "Spotify Configuration (Required)",
		flags: []string{
			"spotify-client-id", "spotify-client-secret", "spotify-redirect-url",
			"spotify-expiry-leeway", "spotify-request-timeout",
		},
		notes: []string{
			"Create an app at https://developer.spotify.com/dashboard",
			"Register the redirect URL exactly as configured here",
			"The client secret may stay empty; PKCE protects the code exchange",
		},
	},
	{
		title: "Backend Selection",
		flags: []string{"backend", "applemusic-storefront"},
		notes: []string{"applemusic supports search only"},
	},
	{
		title: "Credential Storage",
		flags: []string{"token-store", "token-path", "token-service"},
		notes: []string{"token-path is ignored by the keyring store"},
	},
	{
		title: "LLM Configuration (Optional)",
		flags: []string{"llm-provider", "llm-model", "llm-api-key", "llm-base-url"},
		notes: []string{"Used to build a search query when recommendations are unavailable"},
	},
	{
		title: "Paging and Queue",
		flags: []string{"page-size", "max-in-flight", "queue-memory", "refresh-interval"},
	},
	{
		title: "HTTP Server",
		flags: []string{"server-host", "server-port"},
		notes: []string{"Serves /callback, /healthz, /readyz and /metrics"},
	},
	{
		title: "Logging",
		flags: []string{"log-level", "log-format"},
	},
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# musik Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	fmt.Fprintf(&content, "# Format: %s_<SETTING>=value\n", envPrefix)
	content.WriteString("# CLI equivalent: --<setting>\n")
	content.WriteString("# =============================================================================\n\n")

	for _, section := range envSections {
		generateSection(&content, cmd, section)
	}

	content.WriteString("# Quick start:\n")
	content.WriteString("#    musik login           # authorize once, the credential is stored\n")
	content.WriteString("#    musik sort            # show where the current track lives\n")
	content.WriteString("#    musik queue liked     # list liked songs, then --pick 1,2 or --all\n")

	return content.String()
}

func generateSection(content *strings.Builder, cmd *cobra.Command, section envSection) {
	content.WriteString("# -----------------------------------------------------------------------------\n")
	fmt.Fprintf(content, "# %s\n", section.title)
	content.WriteString("# -----------------------------------------------------------------------------\n")
	for _, note := range section.notes {
		fmt.Fprintf(content, "# %s\n", note)
	}
	for _, name := range section.flags {
		usage := ""
		if f := cmd.Root().PersistentFlags().Lookup(name); f != nil {
			usage = f.Usage
		}
		fmt.Fprintf(content, "%s=%s    # %s\n", flagToEnvVar(name), getDefaultValueString(cmd, name), usage)
	}
	content.WriteString("\n")
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func getDefaultValueString(cmd *cobra.Command, flagName string) string {
	if f := cmd.Root().PersistentFlags().Lookup(flagName); f != nil {
		return f.DefValue
	}
	return ""
}

package llm

import (
	"fmt"
	"strings"

	"musik/internal/core"
)

const (
	defaultTemperature = 0.7
	maxTokensQuery     = 60
	maxQueryLength     = 100
)

const searchQuerySystemPrompt = `You are a DJ picking what plays next.

Given the tracks the listener is hearing right now, write ONE short catalog search
query (2 to 6 words) that would find similar but different songs: a genre, mood,
era or related artist. Do not repeat the given titles.

Respond with the query only, no quotes and no explanation.`

// buildSearchQueryPrompt lists the distinct seed tracks, most important first.
func buildSearchQueryPrompt(seedTracks []core.Track) string {
	var b strings.Builder
	b.WriteString("Currently playing and up next:\n")

	seen := make(map[string]bool, len(seedTracks))
	n := 0
	for _, t := range seedTracks {
		key := t.ID
		if key == "" {
			key = t.String()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		n++
		fmt.Fprintf(&b, "%d. %s", n, t.String())
		if t.Album != "" {
			fmt.Fprintf(&b, " (%s)", t.Album)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// cleanQuery keeps the first line of a model reply without quotes or a
// leading label.
func cleanQuery(raw string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	line = strings.TrimSpace(line)
	if label, rest, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(label), "query") {
		line = strings.TrimSpace(rest)
	}
	line = strings.Trim(line, "\"'`")
	line = strings.TrimSpace(line)
	if len(line) > maxQueryLength {
		line = strings.TrimSpace(line[:maxQueryLength])
	}
	return line
}

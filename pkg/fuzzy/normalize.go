// Package fuzzy normalizes and compares track titles, artist names and
// playlist names typed by a user.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MinNameScore is the lowest similarity BestMatch accepts.
const MinNameScore = 0.6

var (
	bracketQualifierRegex = regexp.MustCompile(`(?i)\s*[\(\[][^\)\]]*(?:feat\.?|ft\.?|featuring|remix|remaster(?:ed)?|deluxe|extended|radio edit|clean|explicit|live)[^\)\]]*[\)\]]`)
	dashQualifierRegex    = regexp.MustCompile(`(?i)\s+-\s+.*(?:remaster|remix|radio edit|live|version|edit|mix).*$`)
	trailingFeatRegex     = regexp.MustCompile(`(?i)\s+(?:feat\.?|ft\.?|featuring)\s+.*$`)
	punctRegex            = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex       = regexp.MustCompile(`\s+`)
)

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

func (n *Normalizer) NormalizeArtist(artist string) string {
	artist = n.NormalizeName(artist)

	artist = strings.ReplaceAll(artist, " and ", " & ")
	artist = strings.ReplaceAll(artist, " vs ", " vs. ")
	artist = strings.ReplaceAll(artist, " feat ", " feat. ")
	artist = strings.ReplaceAll(artist, " ft ", " ft. ")

	return artist
}

// NormalizeTitle drops featured artists and remix or remaster qualifiers
// before the common normalization.
func (n *Normalizer) NormalizeTitle(title string) string {
	title = bracketQualifierRegex.ReplaceAllString(title, "")
	title = dashQualifierRegex.ReplaceAllString(title, "")
	title = trailingFeatRegex.ReplaceAllString(title, "")
	return n.NormalizeName(title)
}

// NormalizeName folds accents and case and turns punctuation into spaces.
func (n *Normalizer) NormalizeName(text string) string {
	text = norm.NFKD.String(text)

	var result strings.Builder
	for _, r := range text {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	text = result.String()

	text = punctRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")

	return strings.TrimSpace(strings.ToLower(text))
}

func (n *Normalizer) CalculateSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}
	if len(s1) == 0 || len(s2) == 0 {
		return 0.0
	}
	return float64(longestCommonSubsequence(s1, s2)) / float64(max(len(s1), len(s2)))
}

// NameScore rates how well a user-typed query names candidate.
// A candidate that starts with the query scores 0.9, one that merely
// contains it 0.8.
func (n *Normalizer) NameScore(query, candidate string) float64 {
	q, c := n.NormalizeName(query), n.NormalizeName(candidate)
	switch {
	case q == "" || c == "":
		return 0
	case q == c:
		return 1
	case strings.HasPrefix(c, q):
		return 0.9
	case strings.Contains(c, q):
		return 0.8
	}
	return n.CalculateSimilarity(q, c)
}

// BestMatch returns the index of the candidate closest to query, or -1 when
// none scores at least MinNameScore. Ties go to the earlier candidate.
func (n *Normalizer) BestMatch(query string, candidates []string) (int, float64) {
	best, bestScore := -1, 0.0
	for i, candidate := range candidates {
		if score := n.NameScore(query, candidate); score > bestScore {
			best, bestScore = i, score
		}
	}
	if bestScore < MinNameScore {
		return -1, bestScore
	}
	return best, bestScore
}

func longestCommonSubsequence(s1, s2 string) int {
	m, n := len(s1), len(s2)
	prev := make([]int, n+1)
	curr := make([]int, n+1)

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if s1[i-1] == s2[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}

	return prev[n]
}

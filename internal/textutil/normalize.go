package textutil

import (
	"regexp"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

var (
	noisePattern      = regexp.MustCompile(`[^a-z0-9\-\s]+`)
	hyphenPattern     = regexp.MustCompile(`\s*-\s*`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Normalize converts a catalog name into its canonical comparable form.
// The result only holds [a-z0-9-] and single spaces, and Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = noisePattern.ReplaceAllString(s, "")
	s = hyphenPattern.ReplaceAllString(s, "-")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Similarity scores two already normalized strings in [0, 1].
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return strutil.Similarity(a, b, diceMetric())
}

func diceMetric() *metrics.SorensenDice {
	m := metrics.NewSorensenDice()
	m.CaseSensitive = true
	m.NgramSize = 2
	return m
}

// Package resolver matches a primary catalog item name against candidate rows
// scraped from the secondary catalog and returns the secondary identifier.
package resolver

import (
	"fmt"
	"strings"

	"brickcache-api/internal/model"
	"brickcache-api/internal/textutil"
)

// Candidate is one listing row from the secondary catalog.
type Candidate struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

// Match is the winning candidate together with its score.
type Match struct {
	Candidate
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Resolve returns the secondary ID of the candidate whose normalized label is
// most similar to targetName. There is no minimum score: the best of a poor
// set is still returned. Fails with model.ErrNotFound when candidates is empty.
func Resolve(targetName string, candidates []Candidate) (string, error) {
	m, err := BestMatch(targetName, candidates)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

// BestMatch scores every candidate and keeps the first one with the highest score.
func BestMatch(targetName string, candidates []Candidate) (Match, error) {
	if len(candidates) == 0 {
		return Match{}, fmt.Errorf("resolve %q: %w", targetName, model.ErrNotFound)
	}

	target := textutil.Normalize(targetName)
	best := Match{Index: -1, Score: -1}
	for i, c := range candidates {
		score := textutil.Similarity(target, textutil.Normalize(c.Label))
		if score > best.Score {
			best = Match{Candidate: c, Index: i, Score: score}
		}
	}
	best.ID = strings.TrimSpace(best.ID)
	return best, nil
}

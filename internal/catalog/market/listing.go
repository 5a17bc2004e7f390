package market

import (
	"bytes"
	"fmt"

	"brickcache-api/internal/model"
	"brickcache-api/internal/resolver"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ListingLayout says which table columns hold the candidate label and ID.
// Column indices are zero based over the row's td/th cells.
type ListingLayout struct {
	IDColumn    int
	LabelColumn int
}

// DefaultListingLayout matches the marketplace's set inventory page:
// image, quantity, item number link, bold description.
var DefaultListingLayout = ListingLayout{IDColumn: 2, LabelColumn: 3}

// ExtractCandidates scans every table row of a listing page. A row yields a
// candidate when its label column has bold text and its ID column has a link.
// Rows lacking either are dropped. Duplicate IDs keep their first row.
func ExtractCandidates(page []byte, layout ListingLayout) ([]resolver.Candidate, error) {
	if layout.IDColumn < 0 || layout.LabelColumn < 0 {
		return nil, fmt.Errorf("invalid listing layout %+v", layout)
	}
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %v: %w", err, model.ErrUnavailable)
	}

	need := layout.IDColumn
	if layout.LabelColumn > need {
		need = layout.LabelColumn
	}

	var out []resolver.Candidate
	seen := make(map[string]struct{})
	eachElement(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Tr {
			return true
		}
		row := cells(n)
		if len(row) <= need {
			return true
		}
		bold := findFirst(row[layout.LabelColumn], atom.B, atom.Strong)
		link := findFirst(row[layout.IDColumn], atom.A)
		if bold == nil || link == nil {
			return true
		}
		c := resolver.Candidate{Label: textOf(bold), ID: textOf(link)}
		if c.Label == "" || c.ID == "" {
			return true
		}
		if _, dup := seen[c.ID]; dup {
			return true
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
		return true
	})
	return out, nil
}

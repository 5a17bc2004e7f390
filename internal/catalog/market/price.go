package market

import (
	"bytes"
	"fmt"
	"strings"

	"brickcache-api/internal/model"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Condition is the item condition a statistics block describes.
type Condition string

const (
	ConditionNew  Condition = "new"
	ConditionUsed Condition = "used"
)

// Stats is one condition's price statistics.
type Stats struct {
	Min decimal.NullDecimal
	Max decimal.NullDecimal
	Avg decimal.NullDecimal
}

func (s Stats) empty() bool {
	return !s.Min.Valid && !s.Max.Valid && !s.Avg.Valid
}

// PriceSummary is the parsed price guide for one item.
type PriceSummary struct {
	SecondaryID string
	New         Stats
	Used        Stats
	Currency    string
}

// Record converts the summary into a PriceRecord without expiry fields.
func (p *PriceSummary) Record(primaryID string, kind model.Kind) *model.PriceRecord {
	return &model.PriceRecord{
		PrimaryID:    primaryID,
		Kind:         kind,
		SecondaryID:  model.StringPtr(p.SecondaryID),
		MinNew:       model.NullAmount(p.New.Min),
		MaxNew:       model.NullAmount(p.New.Max),
		AvgNew:       model.NullAmount(p.New.Avg),
		MinUsed:      model.NullAmount(p.Used.Min),
		MaxUsed:      model.NullAmount(p.Used.Max),
		AvgUsed:      model.NullAmount(p.Used.Avg),
		CurrencyCode: p.Currency,
	}
}

type statBlock struct {
	heading Condition
	stats   Stats
	labels  int
}

// ParsePriceGuide reads the statistics table of a price guide page.
//
// Each block of "Min Price" / "Avg Price" / "Max Price" rows belongs to one
// condition. A block is labelled by a "New" or "Used" heading inside it, or by
// the single heading between it and the previous block; otherwise blocks
// alternate new, used. The first value seen for a condition wins, so the
// sold-history columns take precedence over the current-listing columns.
// When a condition has min and max but no average, the midpoint is used.
func ParsePriceGuide(page []byte, fallbackCurrency string) (*PriceSummary, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse price guide: %v: %w", err, model.ErrUnavailable)
	}

	var (
		blocks   []*statBlock
		headings []Condition
		currency string
	)
	eachElement(doc, func(n *html.Node) bool {
		switch n.DataAtom {
		case atom.Table:
			if b := readStatTable(n, &currency); b != nil {
				if b.heading == "" && len(headings) == 1 {
					b.heading = headings[0]
				}
				blocks = append(blocks, b)
				headings = headings[:0]
				return false
			}
		case atom.B, atom.Strong, atom.Th, atom.Td, atom.Font:
			if c, ok := asCondition(textOf(n)); ok {
				headings = append(headings, c)
				return false
			}
		}
		return true
	})

	if len(blocks) == 0 {
		return nil, fmt.Errorf("price guide has no statistics table: %w", model.ErrUnavailable)
	}

	summary := &PriceSummary{}
	for i, b := range blocks {
		cond := b.heading
		if cond == "" {
			cond = ConditionNew
			if i%2 == 1 {
				cond = ConditionUsed
			}
		}
		target := &summary.New
		if cond == ConditionUsed {
			target = &summary.Used
		}
		mergeStats(target, b.stats)
	}
	fillAverage(&summary.New)
	fillAverage(&summary.Used)

	if currency == "" {
		currency = fallbackCurrency
	}
	summary.Currency = currency
	return summary, nil
}

// readStatTable returns the labelled rows of t, or nil if it has none.
// Rows of nested tables are left to their own table.
func readStatTable(t *html.Node, currency *string) *statBlock {
	b := &statBlock{}
	eachElement(t, func(n *html.Node) bool {
		if n != t && n.DataAtom == atom.Table {
			return false
		}
		if n.DataAtom != atom.Tr {
			return true
		}
		row := cells(n)
		if len(row) == 1 {
			if c, ok := asCondition(textOf(row[0])); ok {
				b.heading = c
			}
			return false
		}
		if len(row) < 2 {
			return false
		}
		label := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(textOf(row[0])), ":"))
		raw := textOf(row[1])
		var dst *decimal.NullDecimal
		switch label {
		case "min price":
			dst = &b.stats.Min
		case "max price":
			dst = &b.stats.Max
		case "avg price":
			dst = &b.stats.Avg
		default:
			return false
		}
		b.labels++
		if d, ok := model.ParseDecimal(raw); ok && !dst.Valid {
			*dst = decimal.NewNullDecimal(d)
			if *currency == "" {
				*currency = detectCurrency(raw)
			}
		}
		return false
	})
	if b.labels == 0 {
		return nil
	}
	return b
}

func mergeStats(dst *Stats, src Stats) {
	if src.empty() {
		return
	}
	if !dst.Min.Valid {
		dst.Min = src.Min
	}
	if !dst.Max.Valid {
		dst.Max = src.Max
	}
	if !dst.Avg.Valid {
		dst.Avg = src.Avg
	}
}

func fillAverage(s *Stats) {
	if s.Avg.Valid || !s.Min.Valid || !s.Max.Valid {
		return
	}
	mid := s.Min.Decimal.Add(s.Max.Decimal).Div(decimal.NewFromInt(2)).Round(2)
	s.Avg = decimal.NewNullDecimal(mid)
}

func asCondition(text string) (Condition, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.TrimSuffix(text, ":"))) {
	case "new":
		return ConditionNew, true
	case "used":
		return ConditionUsed, true
	}
	return "", false
}

var currencyPrefixes = []struct {
	prefix string
	code   string
}{
	{"US $", "USD"},
	{"CA $", "CAD"},
	{"AU $", "AUD"},
	{"NZ $", "NZD"},
	{"EUR", "EUR"},
	{"€", "EUR"},
	{"GBP", "GBP"},
	{"£", "GBP"},
	{"USD", "USD"},
	{"$", "USD"},
}

func detectCurrency(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, p := range currencyPrefixes {
		if strings.HasPrefix(raw, p.prefix) {
			return p.code
		}
	}
	return ""
}

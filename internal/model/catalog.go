package model

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies one of the three shared record collections.
type Kind string

const (
	KindPart   Kind = "part"
	KindFigure Kind = "figure"
	KindPrice  Kind = "price"
)

// ParseKind converts a route or CLI value into a metadata Kind.
// Only part and figure are metadata kinds; price records have their own accessors.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "part", "parts":
		return KindPart, nil
	case "figure", "figures", "minifig", "minifigs":
		return KindFigure, nil
	default:
		return "", fmt.Errorf("unknown metadata kind %q", s)
	}
}

// ColorEntry is one color variant offered by the primary catalog.
type ColorEntry struct {
	ColorID   string  `json:"color_id" bson:"color_id"`
	ColorName string  `json:"color_name" bson:"color_name"`
	ImageURL  *string `json:"image_url" bson:"image_url"`
}

// Malformed reports whether the entry is missing its id or name.
func (c ColorEntry) Malformed() bool {
	return strings.TrimSpace(c.ColorID) == "" || strings.TrimSpace(c.ColorName) == ""
}

// MetadataRecord is shared part or figure metadata keyed by primary catalog ID.
type MetadataRecord struct {
	PrimaryID       string       `json:"primary_id" bson:"primary_id"`
	Kind            Kind         `json:"kind" bson:"kind"`
	Name            string       `json:"name" bson:"name"`
	ImageURL        *string      `json:"image_url" bson:"image_url"`
	Invalid         bool         `json:"invalid" bson:"invalid"`
	AvailableColors []ColorEntry `json:"available_colors" bson:"available_colors"`
	SetID           string       `json:"set_id,omitempty" bson:"set_id,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at" bson:"updated_at"`
}

// Malformed reports whether any color entry breaks the structural invariant.
// A malformed record must be treated as absent by readers.
func (m *MetadataRecord) Malformed() bool {
	if m == nil || m.PrimaryID == "" {
		return true
	}
	for _, c := range m.AvailableColors {
		if c.Malformed() {
			return true
		}
	}
	return false
}

// MergeColors adds entries whose color ID is not yet present. Existing entries win.
func (m *MetadataRecord) MergeColors(entries []ColorEntry) {
	seen := make(map[string]struct{}, len(m.AvailableColors))
	for _, c := range m.AvailableColors {
		seen[c.ColorID] = struct{}{}
	}
	for _, c := range entries {
		if c.Malformed() {
			continue
		}
		if _, ok := seen[c.ColorID]; ok {
			continue
		}
		seen[c.ColorID] = struct{}{}
		m.AvailableColors = append(m.AvailableColors, c)
	}
}

// PriceRecord is the latest marketplace price summary for an item.
// Price fields are nil when the marketplace has no data, never absent.
type PriceRecord struct {
	PrimaryID    string    `json:"primary_id" bson:"primary_id"`
	Kind         Kind      `json:"kind" bson:"kind"`
	SecondaryID  *string   `json:"secondary_id" bson:"secondary_id"`
	MinNew       *float64  `json:"min_new" bson:"min_new"`
	MaxNew       *float64  `json:"max_new" bson:"max_new"`
	AvgNew       *float64  `json:"avg_new" bson:"avg_new"`
	MinUsed      *float64  `json:"min_used" bson:"min_used"`
	MaxUsed      *float64  `json:"max_used" bson:"max_used"`
	AvgUsed      *float64  `json:"avg_used" bson:"avg_used"`
	CurrencyCode string    `json:"currency_code" bson:"currency_code"`
	ExpiresAt    time.Time `json:"expires_at" bson:"expires_at"`
	IsExpired    bool      `json:"is_expired" bson:"is_expired"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// Due reports whether the record should be refreshed at now.
func (p *PriceRecord) Due(now time.Time) bool {
	return p.IsExpired || now.After(p.ExpiresAt)
}

// SecondaryIDValue returns the secondary ID or "" when unknown.
func (p *PriceRecord) SecondaryIDValue() string {
	if p == nil || p.SecondaryID == nil {
		return ""
	}
	return *p.SecondaryID
}

// StringPtr returns nil for blank strings.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

package repository

import (
	"context"
	"time"

	"brickcache-api/internal/model"
)

// MetadataRepository is the durable store for shared catalog records:
// part metadata, figure metadata and price metadata. Lookups that find
// nothing return nil with a nil error.
type MetadataRepository interface {
	// GetMetadata finds one part or figure record by primary ID.
	GetMetadata(ctx context.Context, kind model.Kind, primaryID string) (*model.MetadataRecord, error)

	// GetMetadataMany returns the stored records among ids, keyed by primary ID.
	GetMetadataMany(ctx context.Context, kind model.Kind, ids []string) (map[string]*model.MetadataRecord, error)

	// UpsertMetadata inserts or replaces a record by primary ID.
	UpsertMetadata(ctx context.Context, kind model.Kind, rec *model.MetadataRecord) error

	// GetPrice finds the price record for a primary ID.
	GetPrice(ctx context.Context, primaryID string) (*model.PriceRecord, error)

	// GetPrices returns the stored price records among ids, keyed by primary ID.
	GetPrices(ctx context.Context, ids []string) (map[string]*model.PriceRecord, error)

	// UpsertPrice inserts or supersedes the price record for rec.PrimaryID.
	UpsertPrice(ctx context.Context, rec *model.PriceRecord) error

	// ListDuePrices returns records with expires_at before now or is_expired set.
	ListDuePrices(ctx context.Context, now time.Time) ([]*model.PriceRecord, error)

	// MarkPricesExpired flags records so the next refresh run picks them up.
	MarkPricesExpired(ctx context.Context, ids []string) (int64, error)

	// GetStats returns record counts and backend details.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close closes the repository connection.
	Close() error
}

// RunLogRepository keeps the history of refresh runs.
type RunLogRepository interface {
	// InsertRefreshRun appends one run.
	InsertRefreshRun(ctx context.Context, run *model.RefreshRun) error

	// ListRefreshRuns returns runs newest first with the total count.
	ListRefreshRuns(ctx context.Context, limit, offset int) ([]model.RefreshRun, int64, error)
}

// Repository is implemented by every backend.
type Repository interface {
	MetadataRepository
	RunLogRepository
}

// Collections names the logical collections (tables in SQL backends).
type Collections struct {
	Part   string
	Figure string
	Price  string
	Runs   string
}

// DefaultCollections are used when a name is left empty.
var DefaultCollections = Collections{
	Part:   "part_metadata",
	Figure: "figure_metadata",
	Price:  "price_metadata",
	Runs:   "refresh_runs",
}

func (c Collections) withDefaults() Collections {
	if c.Part == "" {
		c.Part = DefaultCollections.Part
	}
	if c.Figure == "" {
		c.Figure = DefaultCollections.Figure
	}
	if c.Price == "" {
		c.Price = DefaultCollections.Price
	}
	if c.Runs == "" {
		c.Runs = DefaultCollections.Runs
	}
	return c
}

// metadataName returns the collection holding kind.
func (c Collections) metadataName(kind model.Kind) (string, error) {
	switch kind {
	case model.KindPart:
		return c.Part, nil
	case model.KindFigure:
		return c.Figure, nil
	default:
		return "", errUnsupportedKind(kind)
	}
}

type errUnsupportedKind model.Kind

func (e errUnsupportedKind) Error() string {
	return "unsupported metadata kind: " + string(e)
}

// maxInClause bounds the size of one membership query.
const maxInClause = 500

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"brickcache-api/internal/cache"
	"brickcache-api/internal/catalog/market"
	"brickcache-api/internal/catalog/primary"
	"brickcache-api/internal/model"

	"github.com/rs/zerolog/log"
)

// Marketplace is the secondary catalog as used by the price pipeline.
type Marketplace interface {
	ResolveID(ctx context.Context, name, setID string) (string, error)
	FetchPrice(ctx context.Context, kind model.Kind, secondaryID string) (*market.PriceSummary, error)
}

// PriceTarget identifies an item whose price should be acquired.
// An empty SecondaryID means the item must be resolved first, using Name
// and SetID or, when those are blank, the stored metadata.
type PriceTarget struct {
	Kind        model.Kind
	PrimaryID   string
	SecondaryID string
	Name        string
	SetID       string
}

// CatalogConfig holds CatalogService settings.
type CatalogConfig struct {
	// PriceTTL is the durable price lifetime, days-scale.
	PriceTTL time.Duration
}

// CatalogService serves metadata and prices to the inventory layer.
// Reads go through the MetadataStore; misses are filled from the
// external catalogs.
type CatalogService struct {
	store    *cache.MetadataStore
	primary  primary.Fetcher
	market   Marketplace
	bg       *Background
	priceTTL time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewCatalogService creates a catalog service.
func NewCatalogService(store *cache.MetadataStore, p primary.Fetcher, m Marketplace, bg *Background, cfg CatalogConfig) *CatalogService {
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = 7 * 24 * time.Hour
	}
	return &CatalogService{
		store:    store,
		primary:  p,
		market:   m,
		bg:       bg,
		priceTTL: cfg.PriceTTL,
		now:      time.Now,
		pending:  make(map[string]struct{}),
	}
}

// RequestMetadata returns the record for kind and id, fetching it from the
// primary catalog on a miss. Records marked invalid are returned without a
// fetch. When the catalog is unavailable the result is nil with no error.
func (s *CatalogService) RequestMetadata(ctx context.Context, kind model.Kind, id string) (*model.MetadataRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	rec, err := s.store.Get(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s metadata: %w", kind, err)
	}
	if rec != nil {
		return rec, nil
	}
	if s.primary == nil {
		return nil, nil
	}

	fetched, err := s.primary.FetchMetadata(ctx, kind, id)
	switch {
	case err == nil:
	case model.IsAborted(err):
		return nil, err
	case errors.Is(err, model.ErrInvalid):
		log.Info().Str("primary_id", id).Msgf("[CatalogService] %s does not exist in primary catalog, marking invalid", kind)
		fetched = &model.MetadataRecord{
			PrimaryID:       id,
			Kind:            kind,
			Invalid:         true,
			AvailableColors: []model.ColorEntry{},
			UpdatedAt:       s.now().UTC(),
		}
	default:
		log.Warn().Err(err).Str("primary_id", id).Msgf("[CatalogService] %s metadata unavailable", kind)
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, kind, fetched); err != nil {
		return nil, fmt.Errorf("failed to store %s metadata: %w", kind, err)
	}
	return fetched, nil
}

// RequestPrice returns the stored price record, or nil if none exists yet.
// A due record is still returned and a background refresh is scheduled.
func (s *CatalogService) RequestPrice(ctx context.Context, id string) (*model.PriceRecord, error) {
	rec, err := s.store.GetPrice(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read price: %w", err)
	}
	if rec != nil && rec.Due(s.now()) {
		s.scheduleRefresh(rec)
	}
	return rec, nil
}

// ResolveAndPrice resolves the item's secondary ID from its name among the
// set's listing, then fetches and stores its price. A cancelled ctx returns
// its error and leaves the store untouched.
func (s *CatalogService) ResolveAndPrice(ctx context.Context, kind model.Kind, id, name, setID string) (*model.PriceRecord, error) {
	target := PriceTarget{Kind: kind, PrimaryID: id, Name: name, SetID: setID}
	rec, err := s.AcquirePrice(ctx, target)
	if err != nil {
		return nil, err
	}
	if setID != "" {
		s.rememberSet(kind, id, setID)
	}
	return rec, nil
}

// AcquirePrice runs the resolve, fetch and write pipeline for one item.
// An item whose metadata is marked invalid is never resolved or priced.
// Errors wrap model.ErrInvalid, model.ErrNotFound or model.ErrUnavailable,
// or are the ctx error.
func (s *CatalogService) AcquirePrice(ctx context.Context, t PriceTarget) (*model.PriceRecord, error) {
	if s.market == nil {
		return nil, fmt.Errorf("marketplace not configured: %w", model.ErrUnavailable)
	}
	if t.Kind == "" || t.Kind == model.KindPrice {
		t.Kind = model.KindPart
	}

	meta, err := s.store.Get(ctx, t.Kind, t.PrimaryID)
	if err != nil {
		if model.IsAborted(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if meta != nil && meta.Invalid {
		return nil, fmt.Errorf("%s: %w", t.PrimaryID, model.ErrInvalid)
	}

	secondary := strings.TrimSpace(t.SecondaryID)
	if secondary == "" {
		name, setID := strings.TrimSpace(t.Name), strings.TrimSpace(t.SetID)
		if meta != nil {
			if name == "" {
				name = meta.Name
			}
			if setID == "" {
				setID = meta.SetID
			}
		}
		if name == "" {
			return nil, fmt.Errorf("no name known for %s: %w", t.PrimaryID, model.ErrNotFound)
		}
		id, err := s.market.ResolveID(ctx, name, setID)
		if err != nil {
			return nil, err
		}
		secondary = id
		log.Debug().Str("primary_id", t.PrimaryID).Str("secondary_id", secondary).Msg("[CatalogService] Resolved secondary ID")
	}

	summary, err := s.market.FetchPrice(ctx, t.Kind, secondary)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := summary.Record(t.PrimaryID, t.Kind)
	rec.SecondaryID = &secondary
	rec.ExpiresAt = now.Add(s.priceTTL)
	rec.IsExpired = false
	rec.UpdatedAt = now

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.SetPrice(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store price: %w", err)
	}
	return rec, nil
}

// Enrich joins user inventory records with shared metadata and prices by key.
// Missing metadata and due prices are filled in the background; this call
// only reports what is stored now.
func (s *CatalogService) Enrich(ctx context.Context, items []model.InventoryItem) ([]model.EnrichedItem, error) {
	byKind := make(map[model.Kind][]string)
	var priceIDs []string
	seenPrice := make(map[string]struct{})
	norm := make([]model.InventoryItem, len(items))
	for i, it := range items {
		if it.Kind == "" {
			it.Kind = model.KindPart
		}
		norm[i] = it
		byKind[it.Kind] = append(byKind[it.Kind], it.PrimaryID)
		if _, ok := seenPrice[it.PrimaryID]; !ok {
			seenPrice[it.PrimaryID] = struct{}{}
			priceIDs = append(priceIDs, it.PrimaryID)
		}
	}

	metadata := make(map[model.Kind]map[string]*model.MetadataRecord, len(byKind))
	for kind, ids := range byKind {
		recs, err := s.store.GetMany(ctx, kind, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s metadata: %w", kind, err)
		}
		metadata[kind] = recs
	}
	prices, err := s.store.GetPrices(ctx, priceIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to read prices: %w", err)
	}

	now := s.now()
	out := make([]model.EnrichedItem, 0, len(norm))
	for _, it := range norm {
		e := model.EnrichedItem{
			Item:     it,
			Metadata: metadata[it.Kind][it.PrimaryID],
			Price:    prices[it.PrimaryID],
		}
		if e.Metadata == nil {
			s.scheduleMetadata(it.Kind, it.PrimaryID)
		}
		if e.Price != nil && e.Price.Due(now) {
			s.scheduleRefresh(e.Price)
		}
		out = append(out, e)
	}
	return out, nil
}

// Invalidate drops cached copies; durable records stay.
func (s *CatalogService) Invalidate(ctx context.Context, kind model.Kind, id string) error {
	if id == "" {
		return s.store.InvalidateAll(ctx)
	}
	s.store.Invalidate(ctx, kind, id)
	return nil
}

// ForceRefresh flags stored prices so the next refresh run picks them up.
func (s *CatalogService) ForceRefresh(ctx context.Context, ids []string) (int64, error) {
	return s.store.MarkPricesExpired(ctx, ids)
}

// claim marks key as having a background task in flight.
func (s *CatalogService) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.pending[key]; busy {
		return false
	}
	s.pending[key] = struct{}{}
	return true
}

func (s *CatalogService) release(key string) {
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
}

func (s *CatalogService) scheduleRefresh(rec *model.PriceRecord) {
	if s.bg == nil || s.market == nil {
		return
	}
	key := "price:" + rec.PrimaryID
	if !s.claim(key) {
		return
	}
	target := PriceTarget{Kind: rec.Kind, PrimaryID: rec.PrimaryID, SecondaryID: rec.SecondaryIDValue()}
	started := s.bg.Go("refresh price "+rec.PrimaryID, func(ctx context.Context) error {
		defer s.release(key)
		_, err := s.AcquirePrice(ctx, target)
		return err
	})
	if !started {
		s.release(key)
	}
}

func (s *CatalogService) scheduleMetadata(kind model.Kind, id string) {
	if s.bg == nil || s.primary == nil || id == "" {
		return
	}
	key := "meta:" + string(kind) + ":" + id
	if !s.claim(key) {
		return
	}
	started := s.bg.Go("fetch "+string(kind)+" "+id, func(ctx context.Context) error {
		defer s.release(key)
		_, err := s.RequestMetadata(ctx, kind, id)
		return err
	})
	if !started {
		s.release(key)
	}
}

// rememberSet records the containing set on the metadata so later refresh
// runs can resolve the item without the caller.
func (s *CatalogService) rememberSet(kind model.Kind, id, setID string) {
	if s.bg == nil {
		return
	}
	s.bg.Go("remember set of "+id, func(ctx context.Context) error {
		meta, err := s.store.Get(ctx, kind, id)
		if err != nil || meta == nil || meta.SetID == setID {
			return err
		}
		meta.SetID = setID
		meta.UpdatedAt = s.now().UTC()
		return s.store.Set(ctx, kind, meta)
	})
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"brickcache-api/internal/metrics"
	"brickcache-api/internal/model"
	"brickcache-api/internal/repository"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// MetadataStore reads through and writes through a Cache in front of the
// durable repository. The repository is the source of truth; the cache can
// be cleared at any time and only costs an extra round trip.
//
// The cache TTL is minutes-scale and unrelated to PriceRecord.ExpiresAt.
type MetadataStore struct {
	repo  repository.MetadataRepository
	cache Cache
	ttl   time.Duration
	group singleflight.Group
	loads loadTracker
}

// loadTimeout bounds a durable read that no single caller owns.
const loadTimeout = 30 * time.Second

// NewMetadataStore creates a store. cache must not be nil.
func NewMetadataStore(repo repository.MetadataRepository, c Cache, ttl time.Duration) *MetadataStore {
	return &MetadataStore{repo: repo, cache: c, ttl: ttl}
}

// Repository exposes the durable layer for queries the cache cannot answer.
func (s *MetadataStore) Repository() repository.MetadataRepository {
	return s.repo
}

func metadataKey(kind model.Kind, id string) string {
	return string(kind) + ":" + id
}

func priceKey(id string) string {
	return string(model.KindPrice) + ":" + id
}

// Get returns the record for kind and id, or nil when absent. A malformed
// record, cached or stored, is reported as absent so the caller re-fetches it.
func (s *MetadataStore) Get(ctx context.Context, kind model.Kind, id string) (*model.MetadataRecord, error) {
	key := metadataKey(kind, id)
	if rec, ok := s.cachedMetadata(ctx, key); ok {
		metrics.CacheHits.WithLabelValues(string(kind)).Inc()
		return rec, nil
	}
	metrics.CacheMisses.WithLabelValues(string(kind)).Inc()

	v, err := s.load(ctx, key, func(ctx context.Context, t *loadTicket) (interface{}, error) {
		rec, err := s.repo.GetMetadata(ctx, kind, id)
		if errors.Is(err, model.ErrMalformedCache) {
			metrics.CacheMalformed.Inc()
			log.Warn().Str("primary_id", id).Msgf("[MetadataStore] Stored %s record is malformed, treating as absent", kind)
			return (*model.MetadataRecord)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return rec, nil
		}
		if rec.Malformed() {
			metrics.CacheMalformed.Inc()
			log.Warn().Str("primary_id", id).Msgf("[MetadataStore] Stored %s record is malformed, treating as absent", kind)
			return (*model.MetadataRecord)(nil), nil
		}
		s.fill(ctx, key, t, rec)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.MetadataRecord), nil
}

// GetMany returns the records among ids that are present and well formed.
func (s *MetadataStore) GetMany(ctx context.Context, kind model.Kind, ids []string) (map[string]*model.MetadataRecord, error) {
	out := make(map[string]*model.MetadataRecord, len(ids))
	var missing []string
	for _, id := range ids {
		if rec, ok := s.cachedMetadata(ctx, metadataKey(kind, id)); ok {
			metrics.CacheHits.WithLabelValues(string(kind)).Inc()
			out[id] = rec
			continue
		}
		metrics.CacheMisses.WithLabelValues(string(kind)).Inc()
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	tickets := make(map[string]*loadTicket, len(missing))
	for _, id := range missing {
		tickets[id] = s.loads.begin(metadataKey(kind, id))
	}
	defer func() {
		for id, t := range tickets {
			s.loads.finish(metadataKey(kind, id), t)
		}
	}()

	stored, err := s.repo.GetMetadataMany(ctx, kind, missing)
	if err != nil {
		return nil, err
	}
	for id, rec := range stored {
		if rec.Malformed() {
			metrics.CacheMalformed.Inc()
			continue
		}
		s.fill(ctx, metadataKey(kind, id), tickets[id], rec)
		out[id] = rec
	}
	return out, nil
}

// Set upserts the durable record, then writes it through to the cache,
// restarting its TTL window.
func (s *MetadataStore) Set(ctx context.Context, kind model.Kind, rec *model.MetadataRecord) error {
	rec.Kind = kind
	if err := s.repo.UpsertMetadata(ctx, kind, rec); err != nil {
		return err
	}
	key := metadataKey(kind, rec.PrimaryID)
	s.loads.supersede(key, func() { s.put(ctx, key, rec) })
	return nil
}

// GetPrice returns the price record for id, or nil when absent. Due records
// are returned as stored; deciding to refresh is the caller's concern.
func (s *MetadataStore) GetPrice(ctx context.Context, id string) (*model.PriceRecord, error) {
	key := priceKey(id)
	if rec, ok := s.cachedPrice(ctx, key); ok {
		metrics.CacheHits.WithLabelValues(string(model.KindPrice)).Inc()
		return rec, nil
	}
	metrics.CacheMisses.WithLabelValues(string(model.KindPrice)).Inc()

	v, err := s.load(ctx, key, func(ctx context.Context, t *loadTicket) (interface{}, error) {
		rec, err := s.repo.GetPrice(ctx, id)
		if errors.Is(err, model.ErrMalformedCache) {
			metrics.CacheMalformed.Inc()
			log.Warn().Str("primary_id", id).Msg("[MetadataStore] Stored price record is malformed, treating as absent")
			return (*model.PriceRecord)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		if rec != nil {
			s.fill(ctx, key, t, rec)
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.PriceRecord), nil
}

// GetPrices returns the stored price records among ids.
func (s *MetadataStore) GetPrices(ctx context.Context, ids []string) (map[string]*model.PriceRecord, error) {
	out := make(map[string]*model.PriceRecord, len(ids))
	var missing []string
	for _, id := range ids {
		if rec, ok := s.cachedPrice(ctx, priceKey(id)); ok {
			metrics.CacheHits.WithLabelValues(string(model.KindPrice)).Inc()
			out[id] = rec
			continue
		}
		metrics.CacheMisses.WithLabelValues(string(model.KindPrice)).Inc()
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	tickets := make(map[string]*loadTicket, len(missing))
	for _, id := range missing {
		tickets[id] = s.loads.begin(priceKey(id))
	}
	defer func() {
		for id, t := range tickets {
			s.loads.finish(priceKey(id), t)
		}
	}()

	stored, err := s.repo.GetPrices(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, rec := range stored {
		s.fill(ctx, priceKey(id), tickets[id], rec)
		out[id] = rec
	}
	return out, nil
}

// SetPrice supersedes the durable price record, then writes it through.
func (s *MetadataStore) SetPrice(ctx context.Context, rec *model.PriceRecord) error {
	if err := s.repo.UpsertPrice(ctx, rec); err != nil {
		return err
	}
	key := priceKey(rec.PrimaryID)
	s.loads.supersede(key, func() { s.put(ctx, key, rec) })
	return nil
}

// MarkPricesExpired flags durable records for refresh and drops their cached copies.
func (s *MetadataStore) MarkPricesExpired(ctx context.Context, ids []string) (int64, error) {
	n, err := s.repo.MarkPricesExpired(ctx, ids)
	for _, id := range ids {
		key := priceKey(id)
		s.loads.supersede(key, func() { s.drop(ctx, key) })
	}
	return n, err
}

// Invalidate drops one cached record. Durable storage is untouched.
func (s *MetadataStore) Invalidate(ctx context.Context, kind model.Kind, id string) {
	key := metadataKey(kind, id)
	if kind == model.KindPrice {
		key = priceKey(id)
	}
	s.loads.supersede(key, func() { s.drop(ctx, key) })
}

// InvalidateAll clears the cache only. Durable storage is untouched.
func (s *MetadataStore) InvalidateAll(ctx context.Context) error {
	var err error
	s.loads.supersedeAll(func() { err = s.cache.Clear(ctx) })
	if err != nil {
		return err
	}
	log.Info().Msg("[MetadataStore] Cache cleared")
	return nil
}

func (s *MetadataStore) cachedMetadata(ctx context.Context, key string) (*model.MetadataRecord, bool) {
	data, ok := s.cached(ctx, key)
	if !ok {
		return nil, false
	}
	var rec model.MetadataRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.Malformed() {
		metrics.CacheMalformed.Inc()
		log.Warn().Str("key", key).Msg("[MetadataStore] Malformed cache entry, refetching")
		s.drop(ctx, key)
		return nil, false
	}
	return &rec, true
}

func (s *MetadataStore) cachedPrice(ctx context.Context, key string) (*model.PriceRecord, bool) {
	data, ok := s.cached(ctx, key)
	if !ok {
		return nil, false
	}
	var rec model.PriceRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.PrimaryID == "" {
		metrics.CacheMalformed.Inc()
		s.drop(ctx, key)
		return nil, false
	}
	return &rec, true
}

// cached reads the raw entry. Cache errors other than a miss are logged
// and treated as a miss.
func (s *MetadataStore) cached(ctx context.Context, key string) ([]byte, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			log.Warn().Err(err).Str("key", key).Msg("[MetadataStore] Cache read failed")
		}
		return nil, false
	}
	return data, true
}

// load coalesces concurrent durable reads of key. The read runs detached
// from any one caller, so a caller that gives up only abandons its own wait.
func (s *MetadataStore) load(ctx context.Context, key string, fn func(context.Context, *loadTicket) (interface{}, error)) (interface{}, error) {
	ch := s.group.DoChan(key, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		t := s.loads.begin(key)
		defer s.loads.finish(key, t)
		return fn(lctx, t)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fill caches a value read from durable storage unless a write or
// invalidation of key landed while the read was in flight.
func (s *MetadataStore) fill(ctx context.Context, key string, t *loadTicket, v any) {
	s.loads.commit(t, func() { s.put(ctx, key, v) })
}

func (s *MetadataStore) put(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("[MetadataStore] Failed to encode cache entry")
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[MetadataStore] Cache write failed")
	}
}

func (s *MetadataStore) drop(ctx context.Context, key string) {
	if err := s.cache.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[MetadataStore] Cache delete failed")
	}
}

// loadTicket marks one durable read in flight for a key.
type loadTicket struct {
	stale bool
}

// loadTracker orders read-through fills against writes. A write or
// invalidation marks every in-flight read of its key stale, and a stale
// read never fills the cache.
type loadTracker struct {
	mu       sync.Mutex
	inflight map[string][]*loadTicket
}

func (l *loadTracker) begin(key string) *loadTicket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight == nil {
		l.inflight = make(map[string][]*loadTicket)
	}
	t := &loadTicket{}
	l.inflight[key] = append(l.inflight[key], t)
	return t
}

func (l *loadTracker) finish(key string, t *loadTicket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tickets := l.inflight[key]
	for i, other := range tickets {
		if other == t {
			tickets = append(tickets[:i], tickets[i+1:]...)
			break
		}
	}
	if len(tickets) == 0 {
		delete(l.inflight, key)
		return
	}
	l.inflight[key] = tickets
}

func (l *loadTracker) commit(t *loadTicket, fill func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t == nil || t.stale {
		return
	}
	fill()
}

func (l *loadTracker) supersede(key string, write func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.inflight[key] {
		t.stale = true
	}
	write()
}

func (l *loadTracker) supersedeAll(write func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tickets := range l.inflight {
		for _, t := range tickets {
			t.stale = true
		}
	}
	write()
}

package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"brickcache-api/internal/model"
	"brickcache-api/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRepo wraps a real SQLite repository and counts durable reads.
type countingRepo struct {
	repository.Repository
	metadataReads atomic.Int32
	priceReads    atomic.Int32
}

func (r *countingRepo) GetMetadata(ctx context.Context, kind model.Kind, id string) (*model.MetadataRecord, error) {
	r.metadataReads.Add(1)
	return r.Repository.GetMetadata(ctx, kind, id)
}

func (r *countingRepo) GetPrice(ctx context.Context, id string) (*model.PriceRecord, error) {
	r.priceReads.Add(1)
	return r.Repository.GetPrice(ctx, id)
}

func newTestStore(t *testing.T) (*MetadataStore, *countingRepo, *MemoryCache) {
	t.Helper()
	repo, err := repository.NewSQLiteMetadataRepository(filepath.Join(t.TempDir(), "meta.db"), repository.Collections{})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	mem := NewMemoryCache(0)
	t.Cleanup(func() { mem.Close() })

	counting := &countingRepo{Repository: repo}
	return NewMetadataStore(counting, mem, time.Minute), counting, mem
}

func brick() *model.MetadataRecord {
	return &model.MetadataRecord{
		PrimaryID:       "3001",
		Name:            "Brick 2 x 4",
		AvailableColors: []model.ColorEntry{{ColorID: "4", ColorName: "Red"}},
	}
}

func TestStore_ReadThroughPopulatesCache(t *testing.T) {
	store, repo, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, repo.Repository.UpsertMetadata(ctx, model.KindPart, brick()))

	for i := 0; i < 3; i++ {
		rec, err := store.Get(ctx, model.KindPart, "3001")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "Brick 2 x 4", rec.Name)
	}
	assert.Equal(t, int32(1), repo.metadataReads.Load())
}

func TestStore_MissReturnsNil(t *testing.T) {
	store, _, _ := newTestStore(t)
	rec, err := store.Get(context.Background(), model.KindFigure, "fig-404")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_WriteThrough(t *testing.T) {
	store, repo, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, model.KindPart, brick()))
	rec, err := store.Get(ctx, model.KindPart, "3001")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int32(0), repo.metadataReads.Load(), "served from the write-through entry")

	stored, err := repo.Repository.GetMetadata(ctx, model.KindPart, "3001")
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestStore_MalformedCacheEntryIsAMiss(t *testing.T) {
	store, repo, mem := newTestStore(t)
	ctx := context.Background()

	// Cached copy lacks a color name; the durable copy is fine.
	require.NoError(t, mem.Set(ctx, "part:3001",
		[]byte(`{"primary_id":"3001","name":"Brick","available_colors":[{"color_id":"4"}]}`), time.Minute))
	require.NoError(t, repo.Repository.UpsertMetadata(ctx, model.KindPart, brick()))

	rec, err := store.Get(ctx, model.KindPart, "3001")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Red", rec.AvailableColors[0].ColorName)
	assert.Equal(t, int32(1), repo.metadataReads.Load())
}

func TestStore_MalformedDurableRecordIsAbsent(t *testing.T) {
	store, repo, _ := newTestStore(t)
	ctx := context.Background()

	bad := brick()
	bad.AvailableColors = []model.ColorEntry{{ColorID: "4"}}
	require.NoError(t, repo.Repository.UpsertMetadata(ctx, model.KindPart, bad))

	for i := 0; i < 2; i++ {
		rec, err := store.Get(ctx, model.KindPart, "3001")
		require.NoError(t, err)
		assert.Nil(t, rec)
	}
	assert.Equal(t, int32(2), repo.metadataReads.Load(), "never cached, so every get goes to storage")
}

func TestStore_InvalidateAllKeepsDurable(t *testing.T) {
	store, repo, mem := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, model.KindPart, brick()))
	require.NoError(t, store.InvalidateAll(ctx))
	assert.Equal(t, 0, mem.Len())

	rec, err := store.Get(ctx, model.KindPart, "3001")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int32(1), repo.metadataReads.Load())
}

func TestStore_ConcurrentMissesCoalesce(t *testing.T) {
	store, repo, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, repo.Repository.UpsertPrice(ctx, &model.PriceRecord{
		PrimaryID: "3001", Kind: model.KindPart, CurrencyCode: "USD", ExpiresAt: time.Now().Add(time.Hour),
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := store.GetPrice(ctx, "3001")
			assert.NoError(t, err)
			assert.NotNil(t, rec)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, repo.priceReads.Load(), int32(20))
	assert.GreaterOrEqual(t, repo.priceReads.Load(), int32(1))

	before := repo.priceReads.Load()
	_, err := store.GetPrice(ctx, "3001")
	require.NoError(t, err)
	assert.Equal(t, before, repo.priceReads.Load())
}

func TestStore_GetManyAndMarkExpired(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, model.KindPart, brick()))
	got, err := store.GetMany(ctx, model.KindPart, []string{"3001", "3002"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, store.SetPrice(ctx, &model.PriceRecord{
		PrimaryID: "3001", Kind: model.KindPart, CurrencyCode: "USD", ExpiresAt: time.Now().Add(time.Hour),
	}))
	n, err := store.MarkPricesExpired(ctx, []string{"3001"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	prices, err := store.GetPrices(ctx, []string{"3001"})
	require.NoError(t, err)
	require.Contains(t, prices, "3001")
	assert.True(t, prices["3001"].IsExpired, "cached copy was dropped with the flag change")
}

// gatedRepo pauses metadata reads after the durable read completes until
// release is closed.
type gatedRepo struct {
	repository.Repository
	reached chan struct{}
	release chan struct{}
}

func (r *gatedRepo) GetMetadata(ctx context.Context, kind model.Kind, id string) (*model.MetadataRecord, error) {
	rec, err := r.Repository.GetMetadata(ctx, kind, id)
	select {
	case r.reached <- struct{}{}:
	default:
	}
	<-r.release
	return rec, err
}

func newGatedStore(t *testing.T) (*MetadataStore, *gatedRepo, *MemoryCache) {
	t.Helper()
	repo, err := repository.NewSQLiteMetadataRepository(filepath.Join(t.TempDir(), "meta.db"), repository.Collections{})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	mem := NewMemoryCache(0)
	t.Cleanup(func() { mem.Close() })

	gated := &gatedRepo{Repository: repo, reached: make(chan struct{}, 4), release: make(chan struct{})}
	return NewMetadataStore(gated, mem, time.Minute), gated, mem
}

func TestStore_ReadThroughDoesNotOverwriteNewerWrite(t *testing.T) {
	store, repo, mem := newGatedStore(t)
	ctx := context.Background()
	require.NoError(t, repo.Repository.UpsertMetadata(ctx, model.KindPart, brick()))

	done := make(chan *model.MetadataRecord, 1)
	go func() {
		rec, err := store.Get(ctx, model.KindPart, "3001")
		assert.NoError(t, err)
		done <- rec
	}()
	<-repo.reached

	fresh := brick()
	fresh.Name = "Brick 2 x 4 (fresh)"
	require.NoError(t, store.Set(ctx, model.KindPart, fresh))
	close(repo.release)
	<-done

	data, err := mem.Get(ctx, metadataKey(model.KindPart, "3001"))
	require.NoError(t, err)
	var cached model.MetadataRecord
	require.NoError(t, json.Unmarshal(data, &cached))
	assert.Equal(t, "Brick 2 x 4 (fresh)", cached.Name)

	durable, err := repo.Repository.GetMetadata(ctx, model.KindPart, "3001")
	require.NoError(t, err)
	assert.Equal(t, durable.Name, cached.Name)
}

func TestStore_ReadThroughSkipsFillAfterInvalidateAll(t *testing.T) {
	store, repo, mem := newGatedStore(t)
	ctx := context.Background()
	require.NoError(t, repo.Repository.UpsertMetadata(ctx, model.KindPart, brick()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := store.Get(ctx, model.KindPart, "3001")
		assert.NoError(t, err)
	}()
	<-repo.reached
	require.NoError(t, store.InvalidateAll(ctx))
	close(repo.release)
	<-done

	assert.Equal(t, 0, mem.Len())
}

func TestStore_CoalescedReaderSurvivesFirstCallerCancel(t *testing.T) {
	store, repo, _ := newGatedStore(t)
	require.NoError(t, repo.Repository.UpsertMetadata(context.Background(), model.KindPart, brick()))

	firstCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := store.Get(firstCtx, model.KindPart, "3001")
		first <- err
	}()
	<-repo.reached

	second := make(chan *model.MetadataRecord, 1)
	go func() {
		rec, err := store.Get(context.Background(), model.KindPart, "3001")
		assert.NoError(t, err)
		second <- rec
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(repo.release)
	rec := <-second
	require.NotNil(t, rec)
	assert.Equal(t, "Brick 2 x 4", rec.Name)
}

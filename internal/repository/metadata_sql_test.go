package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"brickcache-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLiteMetadataRepository(filepath.Join(t.TempDir(), "data", "meta.db"), Collections{})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func ptr[T any](v T) *T { return &v }

func TestSQLite_MetadataRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	got, err := repo.GetMetadata(ctx, model.KindPart, "3001")
	require.NoError(t, err)
	assert.Nil(t, got)

	rec := &model.MetadataRecord{
		PrimaryID: "3001",
		Name:      "Brick 2 x 4",
		ImageURL:  ptr("https://img/3001.jpg"),
		AvailableColors: []model.ColorEntry{
			{ColorID: "4", ColorName: "Red"},
		},
		SetID: "6020-1",
	}
	require.NoError(t, repo.UpsertMetadata(ctx, model.KindPart, rec))

	got, err = repo.GetMetadata(ctx, model.KindPart, "3001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.KindPart, got.Kind)
	assert.Equal(t, "Brick 2 x 4", got.Name)
	assert.Equal(t, "6020-1", got.SetID)
	require.Len(t, got.AvailableColors, 1)
	assert.Nil(t, got.AvailableColors[0].ImageURL)

	// Part and figure collections are separate.
	fig, err := repo.GetMetadata(ctx, model.KindFigure, "3001")
	require.NoError(t, err)
	assert.Nil(t, fig)

	rec.Invalid = true
	rec.ImageURL = nil
	require.NoError(t, repo.UpsertMetadata(ctx, model.KindPart, rec))
	got, err = repo.GetMetadata(ctx, model.KindPart, "3001")
	require.NoError(t, err)
	assert.True(t, got.Invalid)
	assert.Nil(t, got.ImageURL)
}

func TestSQLite_GetMetadataMany(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"fig-1", "fig-2", "fig-3"} {
		require.NoError(t, repo.UpsertMetadata(ctx, model.KindFigure, &model.MetadataRecord{PrimaryID: id, Name: id}))
	}
	got, err := repo.GetMetadataMany(ctx, model.KindFigure, []string{"fig-1", "fig-3", "fig-9"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "fig-3")
	assert.NotNil(t, got["fig-1"].AvailableColors)

	_, err = repo.GetMetadataMany(ctx, model.KindPrice, []string{"x"})
	require.Error(t, err)
}

func TestSQLite_PriceNullsAndDue(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := &model.PriceRecord{
		PrimaryID:    "3001",
		Kind:         model.KindPart,
		SecondaryID:  ptr("3001"),
		MinNew:       model.ParseAmount("$12.50"),
		CurrencyCode: "USD",
		ExpiresAt:    now.Add(-time.Hour),
	}
	future := &model.PriceRecord{
		PrimaryID:    "3020",
		Kind:         model.KindPart,
		CurrencyCode: "USD",
		ExpiresAt:    now.Add(72 * time.Hour),
	}
	flagged := &model.PriceRecord{
		PrimaryID:    "fig-1",
		Kind:         model.KindFigure,
		CurrencyCode: "USD",
		ExpiresAt:    now.Add(72 * time.Hour),
		IsExpired:    true,
	}
	for _, p := range []*model.PriceRecord{past, future, flagged} {
		require.NoError(t, repo.UpsertPrice(ctx, p))
	}

	got, err := repo.GetPrice(ctx, "3001")
	require.NoError(t, err)
	require.NotNil(t, got.MinNew)
	assert.InDelta(t, 12.50, *got.MinNew, 0.0001)
	assert.Nil(t, got.AvgUsed)
	assert.Equal(t, "3001", got.SecondaryIDValue())
	assert.WithinDuration(t, past.ExpiresAt, got.ExpiresAt, time.Millisecond)

	due, err := repo.ListDuePrices(ctx, now)
	require.NoError(t, err)
	ids := make([]string, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.PrimaryID)
	}
	assert.ElementsMatch(t, []string{"3001", "fig-1"}, ids)

	n, err := repo.MarkPricesExpired(ctx, []string{"3020", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	due, err = repo.ListDuePrices(ctx, now)
	require.NoError(t, err)
	assert.Len(t, due, 3)

	// Superseded, not appended.
	past.ExpiresAt = now.Add(48 * time.Hour)
	past.IsExpired = false
	require.NoError(t, repo.UpsertPrice(ctx, past))
	all, err := repo.GetPrices(ctx, []string{"3001", "3020", "fig-1"})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.False(t, all["3001"].Due(now))

	stats, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats["price_records"])
	assert.Equal(t, "sqlite", stats["backend"])
}

func TestSQLite_RefreshRuns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"run-a", "run-b"} {
		require.NoError(t, repo.InsertRefreshRun(ctx, &model.RefreshRun{
			RunID:     id,
			Trigger:   "manual",
			StartedAt: start.Add(time.Duration(i) * time.Minute),
			Attempted: 12,
			Succeeded: 11,
			Failed:    1,
			Batches:   3,
		}))
	}

	runs, total, err := repo.ListRefreshRuns(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].RunID)
	assert.Equal(t, 3, runs[0].Batches)
}

func TestChunk(t *testing.T) {
	assert.Len(t, chunk([]string{"a", "b", "c"}, 2), 2)
	assert.Empty(t, chunk(nil, 2))
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b IN ($2,$3)", postgresDialect.rebind("a = ? AND b IN (?,?)"))
	assert.Equal(t, "a = ?", sqliteDialect.rebind("a = ?"))
}

package service

import (
	"context"
	"errors"
	"fmt"
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

type staticDue struct {
	recs []*model.PriceRecord
	err  error
}

func (d staticDue) ListDuePrices(ctx context.Context, now time.Time) ([]*model.PriceRecord, error) {
	return d.recs, d.err
}

type recordingAcquirer struct {
	fail     map[string]bool
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	done     atomic.Int32

	mu   sync.Mutex
	seen []string
}

func (a *recordingAcquirer) AcquirePrice(ctx context.Context, t PriceTarget) (*model.PriceRecord, error) {
	n := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		cur := a.maxSeen.Load()
		if n <= cur || a.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(15 * time.Millisecond)

	a.mu.Lock()
	a.seen = append(a.seen, t.PrimaryID)
	a.mu.Unlock()
	a.done.Add(1)

	if a.fail[t.PrimaryID] {
		return nil, fmt.Errorf("price guide %s: %w", t.PrimaryID, model.ErrUnavailable)
	}
	return &model.PriceRecord{PrimaryID: t.PrimaryID}, nil
}

func dueRecords(n int) []*model.PriceRecord {
	out := make([]*model.PriceRecord, n)
	for i := range out {
		out[i] = &model.PriceRecord{PrimaryID: fmt.Sprintf("p%02d", i), Kind: model.KindPart, IsExpired: true}
	}
	return out
}

func TestRefresh_BatchesWithDelay(t *testing.T) {
	acq := &recordingAcquirer{}
	svc := NewRefreshService(staticDue{recs: dueRecords(12)}, acq, nil, RefreshConfig{BatchSize: 5, BatchDelay: 3 * time.Second})

	var delays []time.Duration
	var doneAtDelay []int32
	svc.Sleep = func(ctx context.Context, d time.Duration) error {
		assert.Equal(t, int32(0), acq.inFlight.Load(), "previous batch finished before the delay")
		delays = append(delays, d)
		doneAtDelay = append(doneAtDelay, acq.done.Load())
		return nil
	}

	report, err := svc.RefreshExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 12, report.Attempted)
	assert.Equal(t, 12, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.NotEmpty(t, report.RunID)

	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, delays)
	assert.Equal(t, []int32{5, 10}, doneAtDelay)
	assert.Greater(t, acq.maxSeen.Load(), int32(1), "items within a batch run concurrently")
	assert.LessOrEqual(t, acq.maxSeen.Load(), int32(5))
	assert.Len(t, acq.seen, 12)
}

func TestRefresh_PartialFailure(t *testing.T) {
	acq := &recordingAcquirer{fail: map[string]bool{"p01": true}}
	svc := NewRefreshService(staticDue{recs: dueRecords(5)}, acq, nil, RefreshConfig{BatchSize: 5})
	svc.Sleep = func(context.Context, time.Duration) error { return nil }

	report, err := svc.RefreshExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
}

func TestRefresh_CoordinatorFault(t *testing.T) {
	acq := &recordingAcquirer{}
	svc := NewRefreshService(staticDue{err: errors.New("connection refused")}, acq, nil, RefreshConfig{})

	report, err := svc.RefreshExpired(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 0, report.Attempted)
}

func TestRefresh_CancelledBetweenBatches(t *testing.T) {
	acq := &recordingAcquirer{}
	svc := NewRefreshService(staticDue{recs: dueRecords(12)}, acq, nil, RefreshConfig{BatchSize: 5})
	ctx, cancel := context.WithCancel(context.Background())
	svc.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	report, err := svc.RefreshExpired(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 5, report.Attempted)
}

func TestRefresh_RejectsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	blocking := acquirerFunc(func(ctx context.Context, t PriceTarget) (*model.PriceRecord, error) {
		close(entered)
		<-release
		return &model.PriceRecord{}, nil
	})
	svc := NewRefreshService(staticDue{recs: dueRecords(1)}, blocking, nil, RefreshConfig{})

	go svc.RefreshExpired(context.Background())
	<-entered
	_, err := svc.RefreshExpired(context.Background())
	require.ErrorIs(t, err, ErrRefreshInProgress)
	close(release)
}

type acquirerFunc func(ctx context.Context, t PriceTarget) (*model.PriceRecord, error)

func (f acquirerFunc) AcquirePrice(ctx context.Context, t PriceTarget) (*model.PriceRecord, error) {
	return f(ctx, t)
}

func TestRefresh_DueSelectionAndRunLog(t *testing.T) {
	repo, err := repository.NewSQLiteMetadataRepository(filepath.Join(t.TempDir(), "meta.db"), repository.Collections{})
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.UpsertPrice(ctx, &model.PriceRecord{
		PrimaryID: "past", Kind: model.KindPart, CurrencyCode: "USD", ExpiresAt: now.Add(-time.Minute),
	}))
	require.NoError(t, repo.UpsertPrice(ctx, &model.PriceRecord{
		PrimaryID: "future", Kind: model.KindPart, CurrencyCode: "USD", ExpiresAt: now.Add(time.Hour),
	}))

	acq := &recordingAcquirer{}
	svc := NewRefreshService(repo, acq, repo, RefreshConfig{})
	report, err := svc.RefreshExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, []string{"past"}, acq.seen)

	runs, total, err := repo.ListRefreshRuns(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, report.RunID, runs[0].RunID)
	assert.Equal(t, TriggerManual, runs[0].Trigger)
}

func TestRefresh_StartStop(t *testing.T) {
	acq := &recordingAcquirer{}
	svc := NewRefreshService(staticDue{recs: dueRecords(1)}, acq, nil, RefreshConfig{
		Interval:     time.Hour,
		StartupDelay: 10 * time.Millisecond,
	})
	svc.Start()
	svc.Start()
	require.Eventually(t, func() bool { return acq.done.Load() == 1 }, time.Second, 5*time.Millisecond)
	svc.Stop()
	svc.Stop()
}

func TestRefresh_TriggerRunsInBackground(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	blocking := acquirerFunc(func(ctx context.Context, t PriceTarget) (*model.PriceRecord, error) {
		calls.Add(1)
		<-release
		return &model.PriceRecord{}, nil
	})
	svc := NewRefreshService(staticDue{recs: dueRecords(1)}, blocking, nil, RefreshConfig{})

	require.True(t, svc.Trigger(TriggerManual))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, svc.Trigger(TriggerManual), "one run at a time")
	close(release)

	require.Eventually(t, func() bool { return svc.Trigger(TriggerManual) }, time.Second, 5*time.Millisecond)
}

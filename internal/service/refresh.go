package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"brickcache-api/internal/metrics"
	"brickcache-api/internal/model"
	"brickcache-api/internal/repository"
	"brickcache-api/pkg/uid"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Refresh run triggers recorded in the run log.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerCLI      = "cli"
)

// ErrRefreshInProgress is returned when a run is requested while another is active.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// DueLister finds price records past expiry.
type DueLister interface {
	ListDuePrices(ctx context.Context, now time.Time) ([]*model.PriceRecord, error)
}

// PriceAcquirer refreshes the price of a single item.
type PriceAcquirer interface {
	AcquirePrice(ctx context.Context, t PriceTarget) (*model.PriceRecord, error)
}

// RefreshConfig holds configuration for the refresh scheduler.
type RefreshConfig struct {
	// Interval is how often a scheduled run starts.
	// Default: 24 hours
	Interval time.Duration

	// BatchSize is how many items are refreshed concurrently.
	// Default: 5
	BatchSize int

	// BatchDelay is the pause between consecutive batches.
	// Default: 3 seconds
	BatchDelay time.Duration

	// StartupDelay postpones the first scheduled run after Start.
	// Default: 1 minute
	StartupDelay time.Duration
}

// DefaultRefreshConfig returns default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Interval:     24 * time.Hour,
		BatchSize:    5,
		BatchDelay:   3 * time.Second,
		StartupDelay: time.Minute,
	}
}

// RefreshReport summarises one run.
type RefreshReport struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Batches   int           `json:"batches"`
	Duration  time.Duration `json:"duration_ns"`
}

// RefreshService re-acquires expired prices in small concurrent batches with
// a fixed delay between batches. It runs on its own schedule, off the
// request path.
type RefreshService struct {
	due     DueLister
	pricer  PriceAcquirer
	runs    repository.RunLogRepository
	config  RefreshConfig
	running sync.Mutex

	// Sleep waits between batches. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	ticker    *time.Ticker
	ctx       context.Context
	cancel    context.CancelFunc
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewRefreshService creates a refresh service. runs may be nil.
func NewRefreshService(due DueLister, pricer PriceAcquirer, runs repository.RunLogRepository, config RefreshConfig) *RefreshService {
	def := DefaultRefreshConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.BatchDelay < 0 {
		config.BatchDelay = 0
	}
	if config.StartupDelay <= 0 {
		config.StartupDelay = def.StartupDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RefreshService{
		due:    due,
		pricer: pricer,
		runs:   runs,
		config: config,
		Sleep:  sleepContext,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshExpired runs one refresh pass as a manual trigger.
func (s *RefreshService) RefreshExpired(ctx context.Context) (*RefreshReport, error) {
	return s.Run(ctx, TriggerManual)
}

// Run refreshes every due price record. Item failures are counted, logged and
// skipped; the error is non-nil only when the due list cannot be read, the
// ctx ends, or another run is active.
func (s *RefreshService) Run(ctx context.Context, trigger string) (*RefreshReport, error) {
	if !s.running.TryLock() {
		return nil, ErrRefreshInProgress
	}
	defer s.running.Unlock()
	return s.runLocked(ctx, trigger)
}

// Trigger starts a run in the background and reports whether it started.
// The run is cancelled by Stop rather than by any request context.
func (s *RefreshService) Trigger(trigger string) bool {
	if !s.running.TryLock() {
		return false
	}
	go func() {
		defer s.running.Unlock()
		s.runLocked(s.ctx, trigger)
	}()
	return true
}

func (s *RefreshService) runLocked(ctx context.Context, trigger string) (*RefreshReport, error) {
	report := &RefreshReport{RunID: uid.NewOrdered(), StartedAt: s.now().UTC()}
	started := time.Now()

	err := s.refresh(ctx, report)
	report.Duration = time.Since(started)
	s.record(report, trigger, err)

	if err != nil {
		log.Error().Err(err).Str("run_id", report.RunID).Msg("[RefreshService] Run aborted")
		return report, err
	}
	log.Info().Str("run_id", report.RunID).
		Msgf("[RefreshService] Run complete: attempted=%d succeeded=%d failed=%d batches=%d in %v",
			report.Attempted, report.Succeeded, report.Failed, report.Batches, report.Duration.Round(time.Millisecond))
	return report, nil
}

func (s *RefreshService) refresh(ctx context.Context, report *RefreshReport) error {
	due, err := s.due.ListDuePrices(ctx, s.now())
	if err != nil {
		return fmt.Errorf("failed to list due prices: %w", err)
	}
	if len(due) == 0 {
		log.Debug().Msg("[RefreshService] No due prices")
		return nil
	}
	log.Info().Str("run_id", report.RunID).Msgf("[RefreshService] %d due prices, batch size %d", len(due), s.config.BatchSize)

	var succeeded, failed atomic.Int64
	for start := 0; start < len(due); start += s.config.BatchSize {
		if start > 0 {
			if err := s.Sleep(ctx, s.config.BatchDelay); err != nil {
				return err
			}
		}
		end := min(start+s.config.BatchSize, len(due))
		batch := due[start:end]
		report.Batches++
		report.Attempted += len(batch)

		var g errgroup.Group
		for _, rec := range batch {
			g.Go(func() error {
				s.refreshOne(ctx, report.Batches, rec, &succeeded, &failed)
				return nil
			})
		}
		g.Wait()

		report.Succeeded = int(succeeded.Load())
		report.Failed = int(failed.Load())
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RefreshService) refreshOne(ctx context.Context, batch int, rec *model.PriceRecord, succeeded, failed *atomic.Int64) {
	target := PriceTarget{Kind: rec.Kind, PrimaryID: rec.PrimaryID, SecondaryID: rec.SecondaryIDValue()}
	if _, err := s.pricer.AcquirePrice(ctx, target); err != nil {
		failed.Add(1)
		metrics.RefreshItems.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("primary_id", rec.PrimaryID).Int("batch", batch).Msg("[RefreshService] Item refresh failed")
		return
	}
	succeeded.Add(1)
	metrics.RefreshItems.WithLabelValues("succeeded").Inc()
}

func (s *RefreshService) record(report *RefreshReport, trigger string, runErr error) {
	if s.runs == nil {
		return
	}
	run := &model.RefreshRun{
		RunID:      report.RunID,
		Trigger:    trigger,
		StartedAt:  report.StartedAt,
		DurationMs: report.Duration.Milliseconds(),
		Attempted:  report.Attempted,
		Succeeded:  report.Succeeded,
		Failed:     report.Failed,
		Batches:    report.Batches,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.runs.InsertRefreshRun(ctx, run); err != nil {
		log.Warn().Err(err).Str("run_id", run.RunID).Msg("[RefreshService] Failed to record run")
	}
}

// Start begins the refresh scheduler.
func (s *RefreshService) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	log.Info().Msgf("[RefreshService] Started - Interval: %v, Batch: %d, Delay: %v",
		s.config.Interval, s.config.BatchSize, s.config.BatchDelay)

	// First run shortly after startup
	go func() {
		select {
		case <-time.After(s.config.StartupDelay):
			s.runScheduled()
		case <-s.stopCh:
		}
	}()

	go s.run()
}

// run is the main scheduler loop.
func (s *RefreshService) run() {
	for {
		select {
		case <-s.ticker.C:
			s.runScheduled()
		case <-s.stopCh:
			log.Info().Msg("[RefreshService] Stopped")
			return
		}
	}
}

func (s *RefreshService) runScheduled() {
	if _, err := s.Run(s.ctx, TriggerSchedule); err != nil {
		if errors.Is(err, ErrRefreshInProgress) {
			log.Info().Msg("[RefreshService] Skipping scheduled run, previous run still active")
			return
		}
		// The next tick retries.
		log.Error().Err(err).Msg("[RefreshService] Scheduled run failed")
	}
}

// Stop stops the scheduler and cancels an active scheduled run.
func (s *RefreshService) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ticker != nil {
			s.ticker.Stop()
		}
		s.cancel()
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunNow triggers an immediate run outside the schedule.
func (s *RefreshService) RunNow(ctx context.Context) (*RefreshReport, error) {
	return s.Run(ctx, TriggerManual)
}

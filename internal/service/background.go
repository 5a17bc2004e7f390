package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Background runs best-effort work off the request path. Every task error is
// sent to a single channel drained by one logging goroutine, so failures are
// never dropped silently. Close waits for running tasks.
type Background struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration

	wg     sync.WaitGroup
	errs   chan error
	done   chan struct{}
	mu     sync.Mutex
	closed bool

	// OnError, if set before the first Go call, sees every task error after it is logged.
	OnError func(error)
}

// NewBackground starts the error logger. Each task gets its own timeout.
func NewBackground(taskTimeout time.Duration) *Background {
	if taskTimeout <= 0 {
		taskTimeout = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Background{
		ctx:     ctx,
		cancel:  cancel,
		timeout: taskTimeout,
		errs:    make(chan error, 64),
		done:    make(chan struct{}),
	}
	go b.drain()
	return b
}

func (b *Background) drain() {
	defer close(b.done)
	for err := range b.errs {
		log.Error().Err(err).Msg("[Background] Task failed")
		if b.OnError != nil {
			b.OnError(err)
		}
	}
}

// Go runs fn in a new goroutine. It reports false when the runner is closed.
func (b *Background) Go(name string, fn func(ctx context.Context) error) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		log.Warn().Msgf("[Background] Dropping %s: runner closed", name)
		return false
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				b.errs <- fmt.Errorf("%s: panic: %v", name, r)
			}
		}()
		if err := fn(ctx); err != nil {
			b.errs <- fmt.Errorf("%s: %w", name, err)
		}
	}()
	return true
}

// Wait blocks until every task started so far has finished.
func (b *Background) Wait() {
	b.wg.Wait()
}

// Close stops accepting tasks and waits for running ones until ctx is done,
// at which point the remaining tasks are cancelled.
func (b *Background) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		b.cancel()
		<-finished
		err = ctx.Err()
	}
	b.cancel()
	close(b.errs)
	<-b.done
	return err
}

package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AutoSaveScheduler runs tick every interval units. It is Idle when the
// interval is zero and Armed with exactly one live ticker otherwise.
type AutoSaveScheduler struct {
	tick func(ctx context.Context)
	unit time.Duration
	log  zerolog.Logger

	mu       sync.Mutex
	interval int
	stop     chan struct{}
	done     chan struct{}
}

// NewAutoSaveScheduler measures intervals in unit, which is time.Minute
// outside of tests.
func NewAutoSaveScheduler(tick func(ctx context.Context), unit time.Duration, logger zerolog.Logger) *AutoSaveScheduler {
	if unit <= 0 {
		unit = time.Minute
	}
	return &AutoSaveScheduler{tick: tick, unit: unit, log: logger}
}

// Configure tears down any running ticker and, for a positive interval,
// starts a fresh one.
func (s *AutoSaveScheduler) Configure(ctx context.Context, interval int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.interval = interval
	if interval <= 0 {
		s.log.Debug().Msg("autosave idle")
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done
	period := time.Duration(interval) * s.unit
	go s.run(ctx, period, stop, done)
	s.log.Debug().Dur("period", period).Msg("autosave armed")
}

func (s *AutoSaveScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.interval = 0
}

func (s *AutoSaveScheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *AutoSaveScheduler) Interval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *AutoSaveScheduler) stopLocked() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
}

func (s *AutoSaveScheduler) run(ctx context.Context, period time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

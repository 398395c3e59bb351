package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

// Ticker runs recurring jobs on their own goroutines until stopped or the parent context ends
type Ticker struct {
	ctx    context.Context
	logger *logging.Logger
	wg     sync.WaitGroup
}

// NewTicker creates a scheduler bound to ctx
func NewTicker(ctx context.Context, logger *logging.Logger) *Ticker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Ticker{ctx: ctx, logger: logger}
}

// Every calls fn once per interval. The first call happens after one interval.
// A panicking job is logged and the schedule keeps running.
func (t *Ticker) Every(interval time.Duration, fn func(ctx context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(t.ctx)
	ticker := time.NewTicker(interval)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.run(ctx, fn)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }
}

// Wait blocks until every job goroutine has exited
func (t *Ticker) Wait() {
	t.wg.Wait()
}

func (t *Ticker) run(ctx context.Context, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Scheduled job panicked: %v", r)
		}
	}()
	fn(ctx)
}

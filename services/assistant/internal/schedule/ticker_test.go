package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvery_RunsUntilStopped(t *testing.T) {
	ticker := NewTicker(context.Background(), nil)
	var calls int32

	stop := ticker.Every(10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
	})

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, time.Second, 5*time.Millisecond)

	stop()
	stop()
	ticker.Wait()

	after := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&calls))
}

func TestEvery_StopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ticker := NewTicker(ctx, nil)

	ticker.Every(time.Hour, func(ctx context.Context) {})
	cancel()

	done := make(chan struct{})
	go func() {
		ticker.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job goroutine did not exit")
	}
}

func TestEvery_SurvivesPanic(t *testing.T) {
	ticker := NewTicker(context.Background(), nil)
	var calls int32

	stop := ticker.Every(10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
		panic("boom")
	})
	defer stop()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, time.Second, 5*time.Millisecond)
}

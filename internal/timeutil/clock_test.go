package timeutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTimer(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(10 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Error("timer did not fire")
	}
}

func TestRealClock_AfterFunc(t *testing.T) {
	clock := RealClock{}
	done := make(chan struct{})
	clock.AfterFunc(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("AfterFunc callback did not run")
	}
}

func TestWait(t *testing.T) {
	t.Run("elapses", func(t *testing.T) {
		assert.True(t, Wait(context.Background(), RealClock{}, time.Millisecond))
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, Wait(ctx, RealClock{}, time.Hour))
	})

	t.Run("zero duration respects context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		assert.True(t, Wait(ctx, RealClock{}, 0))
		cancel()
		assert.False(t, Wait(ctx, RealClock{}, 0))
	})
}

func TestMockClock_AdvanceFiresTimers(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	timer := clock.NewTimer(2 * time.Second)
	assert.Equal(t, 1, clock.PendingTimers())

	clock.Advance(time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	clock.Advance(time.Second)
	select {
	case got := <-timer.C():
		assert.Equal(t, start.Add(2*time.Second), got)
	default:
		t.Fatal("timer did not fire at deadline")
	}
	assert.Zero(t, clock.PendingTimers())
}

func TestMockClock_StopAndReset(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := clock.NewTimer(time.Second)

	assert.True(t, timer.Stop())
	clock.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}

	// Reset measures from the current mocked time.
	assert.False(t, timer.Reset(time.Second))
	clock.Advance(500 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("reset timer fired early")
	default:
	}
	clock.Advance(500 * time.Millisecond)
	select {
	case <-timer.C():
	default:
		t.Fatal("reset timer did not fire")
	}
}

func TestMockClock_AfterFunc(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	var calls atomic.Int32
	done := make(chan struct{})
	clock.AfterFunc(5*time.Second, func() {
		calls.Add(1)
		close(done)
	})

	clock.Advance(4 * time.Second)
	assert.Zero(t, calls.Load())

	clock.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestMockClock_Ticker(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not tick")
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker ticked")
	default:
	}
}

func TestMockClock_AdvanceMovesNow(t *testing.T) {
	start := time.Unix(100, 0)
	clock := NewMockClock(start)
	clock.Advance(3 * time.Second)
	clock.Advance(time.Second)

	assert.Equal(t, start.Add(4*time.Second), clock.Now())
	assert.Equal(t, 4*time.Second, clock.Since(start))
}

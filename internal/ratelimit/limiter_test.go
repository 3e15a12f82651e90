package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNewClampsNegativeInterval(t *testing.T) {
	if got := New(-time.Second).Interval(); got != 0 {
		t.Errorf("Interval() = %v, want 0", got)
	}
}

func TestZeroIntervalNeverBlocks(t *testing.T) {
	l := New(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("zero interval blocked for %v", elapsed)
	}
}

func TestFirstPermitImmediate(t *testing.T) {
	l := New(time.Hour)
	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("first permit took %v", elapsed)
	}
}

func TestPermitsAreSpaced(t *testing.T) {
	const interval = 20 * time.Millisecond
	l := New(interval)

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}
	elapsed := time.Since(start)

	want := 3 * interval
	if elapsed < want*8/10 || elapsed > want*3 {
		t.Errorf("4 permits took %v, want about %v", elapsed, want)
	}
}

func TestIdleTimeDoesNotBurst(t *testing.T) {
	l := New(20 * time.Millisecond)
	_ = l.Wait(context.Background())
	time.Sleep(60 * time.Millisecond)

	start := time.Now()
	_ = l.Wait(context.Background())
	_ = l.Wait(context.Background())
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("idle time produced a burst: two permits in %v", elapsed)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  func() (context.Context, context.CancelFunc)
	}{
		{"cancelled", func() (context.Context, context.CancelFunc) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx, cancel
		}},
		{"deadline shorter than interval", func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), 10*time.Millisecond)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(time.Hour)
			_ = l.Wait(context.Background())

			ctx, cancel := tt.ctx()
			defer cancel()
			start := time.Now()
			if err := l.Wait(ctx); err == nil {
				t.Fatal("Wait() = nil, want context error")
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("Wait() returned after %v", elapsed)
			}
		})
	}
}

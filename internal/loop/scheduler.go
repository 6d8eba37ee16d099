package loop

import (
	"context"
	"time"
)

// Counted yields exactly n slots, then reports the end.
type Counted struct {
	remaining int
}

func NewCounted(n int) *Counted { return &Counted{remaining: n} }

func (s *Counted) Next(ctx context.Context) bool {
	if ctx.Err() != nil || s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

// Ticker yields one slot per interval until ctx is done or Close is called.
type Ticker struct {
	t    *time.Ticker
	done chan struct{}
}

func NewTicker(interval time.Duration) *Ticker {
	return &Ticker{t: time.NewTicker(interval), done: make(chan struct{})}
}

// FPS is a Ticker at the given refresh rate.
func FPS(rate int) *Ticker {
	if rate <= 0 {
		rate = 60
	}
	return NewTicker(time.Second / time.Duration(rate))
}

func (s *Ticker) Next(ctx context.Context) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	case <-s.t.C:
		return true
	}
}

func (s *Ticker) Close() {
	select {
	case <-s.done:
	default:
		s.t.Stop()
		close(s.done)
	}
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(ctx context.Context) bool

func (f SchedulerFunc) Next(ctx context.Context) bool { return f(ctx) }

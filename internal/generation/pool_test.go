package generation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolLifecycle(t *testing.T) {
	p := NewPool(4, nil)
	if err := p.Submit(func(context.Context) {}); !errors.Is(err, ErrPoolNotStarted) {
		t.Fatalf("expected ErrPoolNotStarted, got %v", err)
	}
	if err := p.Start(0); err == nil {
		t.Fatalf("expected error for zero workers")
	}
	if err := p.Start(2); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(2); err == nil {
		t.Fatalf("expected error on second start")
	}

	var ran int32
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		if err := p.Submit(func(context.Context) {
			atomic.AddInt32(&ran, 1)
			done <- struct{}{}
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("jobs did not run")
		}
	}

	p.Stop()
	p.Stop()
	if atomic.LoadInt32(&ran) != 3 {
		t.Fatalf("expected 3 jobs, got %d", ran)
	}
	if err := p.Submit(func(context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolSurvivesPanics(t *testing.T) {
	p := NewPool(2, nil)
	if err := p.Start(1); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	done := make(chan struct{})
	_ = p.Submit(func(context.Context) { panic("boom") })
	_ = p.Submit(func(context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("worker died after panic")
	}
}

func TestPoolStopCancelsContext(t *testing.T) {
	p := NewPool(1, nil)
	if err := p.Start(1); err != nil {
		t.Fatalf("start: %v", err)
	}
	started := make(chan struct{})
	var cancelled int32
	_ = p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		atomic.StoreInt32(&cancelled, 1)
	})
	<-started
	p.Stop()
	if atomic.LoadInt32(&cancelled) != 1 {
		t.Fatalf("job context was not cancelled")
	}
}

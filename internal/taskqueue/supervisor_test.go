package taskqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsTask(t *testing.T) {
	s := New("test", 2, 4)
	defer s.Shutdown(context.Background())

	var ran atomic.Bool
	f := s.Submit(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	err, done := f.Wait(context.Background(), time.Second)
	if !done {
		t.Fatalf("expected task to complete before timeout")
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran.Load() {
		t.Fatalf("expected task to have run")
	}
}

func TestFutureCarriesError(t *testing.T) {
	s := New("test", 1, 4)
	defer s.Shutdown(context.Background())

	wantErr := errors.New("boom")
	f := s.Submit(func(ctx context.Context) error { return wantErr })
	err, done := f.Wait(context.Background(), time.Second)
	if !done {
		t.Fatalf("expected completion")
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestWaitTimesOut(t *testing.T) {
	s := New("test", 1, 4)
	defer s.Shutdown(context.Background())

	block := make(chan struct{})
	f := s.Submit(func(ctx context.Context) error {
		<-block
		return nil
	})
	_, done := f.Wait(context.Background(), 20*time.Millisecond)
	if done {
		t.Fatalf("expected timeout, task should still be blocked")
	}
	close(block)
}

func TestTrySubmitFailsWhenQueueFull(t *testing.T) {
	s := New("test", 1, 1)
	defer s.Shutdown(context.Background())

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker.
	s.Submit(func(ctx context.Context) error { <-block; return nil })
	// Fill the one-slot queue.
	s.Submit(func(ctx context.Context) error { <-block; return nil })

	if _, ok := s.TrySubmit(func(ctx context.Context) error { return nil }); ok {
		t.Fatalf("expected TrySubmit to fail when queue is full")
	}
}

func TestShutdownDrainsQueuedTasks(t *testing.T) {
	s := New("test", 2, 8)
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		s.Submit(func(ctx context.Context) error {
			count.Add(1)
			return nil
		})
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	if count.Load() != 5 {
		t.Fatalf("expected all 5 tasks to run, got %d", count.Load())
	}
}

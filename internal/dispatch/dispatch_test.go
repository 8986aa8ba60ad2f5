package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInlineRunsContinuationWithResult(t *testing.T) {
	want := errors.New("boom")
	var got error
	Inline{}.Go(context.Background(), "x", func(context.Context) error { return want }, func(_ context.Context, err error) {
		got = err
	})
	if !errors.Is(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
}

func TestInlineRecoversPanic(t *testing.T) {
	var got error
	Inline{}.Go(context.Background(), "x", func(context.Context) error { panic("bad") }, func(_ context.Context, err error) {
		got = err
	})
	if got == nil {
		t.Fatalf("expected panic to surface as error")
	}
}

func TestPoolRunsAllJobsAndDrains(t *testing.T) {
	p := NewPool(3, 32, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		p.Go(context.Background(), "job", func(context.Context) error { return nil }, func(context.Context, error) {
			mu.Lock()
			count++
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("pool did not stop")
	}
	if count != 20 {
		t.Fatalf("count=%d want=20", count)
	}
}

func TestPoolQueueFullFailsFast(t *testing.T) {
	p := NewPool(1, 1, nil)
	p.Go(context.Background(), "fill", nil, nil)
	var got error
	p.Go(context.Background(), "overflow", func(context.Context) error { return nil }, func(_ context.Context, err error) {
		got = err
	})
	if !errors.Is(got, ErrQueueFull) {
		t.Fatalf("got=%v want=%v", got, ErrQueueFull)
	}
}

func TestPoolRefusesAfterShutdown(t *testing.T) {
	p := NewPool(2, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("pool did not stop")
	}

	ran := false
	var got error
	p.Go(context.Background(), "late", func(context.Context) error {
		ran = true
		return nil
	}, func(_ context.Context, err error) {
		got = err
	})
	if ran {
		t.Fatalf("action ran after shutdown")
	}
	if !errors.Is(got, ErrPoolClosed) {
		t.Fatalf("got=%v want=%v", got, ErrPoolClosed)
	}
}

package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFutureCompletesOnce(t *testing.T) {
	f := NewFuture[string]()

	if !f.Complete("first", nil) {
		t.Fatal("first completion should succeed")
	}
	if f.Complete("second", nil) {
		t.Error("second completion should be rejected")
	}
	if f.Fail(errors.New("late")) {
		t.Error("failing a resolved future should be rejected")
	}

	v, err := f.Await(context.Background())
	if err != nil || v != "first" {
		t.Errorf("expected first/nil, got %q/%v", v, err)
	}
}

func TestFutureConcurrentCompletion(t *testing.T) {
	f := NewFuture[int]()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if f.Complete(n, nil) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestAwaitHonoursContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if f.IsDone() {
		t.Error("await timeout must not resolve the future")
	}
}

func TestGoAndResolved(t *testing.T) {
	v, err := Go(func() (int, error) { return 7, nil }).Await(context.Background())
	if err != nil || v != 7 {
		t.Errorf("expected 7/nil, got %d/%v", v, err)
	}

	boom := errors.New("boom")
	r := Resolved(0, boom)
	if !r.IsDone() {
		t.Fatal("resolved future should be done")
	}
	if _, err := r.Await(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

package keylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{0, DefaultShardCount},
		{3, DefaultShardCount},
		{1, 1},
		{8, 8},
		{64, 64},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("shards=%d", tt.input), func(t *testing.T) {
			r := New(WithShards(tt.input))
			if len(r.shards) != tt.expected {
				t.Errorf("shard count = %d, want %d", len(r.shards), tt.expected)
			}
		})
	}
}

func TestAcquireRelease(t *testing.T) {
	r := New()

	release, err := r.Acquire(context.Background(), "doc")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	release()
	release() // second call is a no-op

	if r.Len() != 0 {
		t.Errorf("Len() after release = %d, want 0", r.Len())
	}
}

func TestAcquire_Timeout(t *testing.T) {
	r := New(WithTimeout(20 * time.Millisecond))

	release, err := r.Acquire(context.Background(), "doc")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	start := time.Now()
	_, err = r.Acquire(context.Background(), "doc")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Acquire returned before the timeout")
	}
}

func TestAcquire_ContextCanceled(t *testing.T) {
	r := New()

	release, err := r.Acquire(context.Background(), "doc")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = r.Acquire(ctx, "doc")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestAcquire_IndependentKeys(t *testing.T) {
	r := New(WithTimeout(50 * time.Millisecond))

	ra, err := r.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer ra()

	rb, err := r.Acquire(context.Background(), "b")
	if err != nil {
		t.Fatalf("lock on another key should not block: %v", err)
	}
	rb()
}

func TestAcquire_Exclusive(t *testing.T) {
	r := New()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := r.Acquire(context.Background(), "doc")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestTryAcquire(t *testing.T) {
	r := New()

	release, ok := r.TryAcquire("doc")
	if !ok {
		t.Fatal("TryAcquire on a free key should succeed")
	}

	if _, ok := r.TryAcquire("doc"); ok {
		t.Error("TryAcquire on a held key should fail")
	}

	release()
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

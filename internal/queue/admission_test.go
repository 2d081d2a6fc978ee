package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAdmissionController(t *testing.T) {
	t.Run("caps concurrency", func(t *testing.T) {
		ac := NewAdmissionController(3)
		ctx := context.Background()

		var running, peak atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := ac.Acquire(ctx); err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
				now := running.Add(1)
				for {
					p := peak.Load()
					if now <= p || peak.CompareAndSwap(p, now) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				ac.Release()
			}()
		}
		wg.Wait()

		if peak.Load() > 3 {
			t.Errorf("peak concurrency = %d, want <= 3", peak.Load())
		}
		if ac.Running() != 0 {
			t.Errorf("Running() = %d after all released", ac.Running())
		}
	})

	t.Run("fifo order", func(t *testing.T) {
		ac := NewAdmissionController(1)
		ctx := context.Background()

		if err := ac.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}

		var mu sync.Mutex
		var order []int
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				if err := ac.Acquire(ctx); err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				ac.Release()
			}(i)
			// Stagger arrivals so the waiter queue order is known.
			for ac.Waiting() != i+1 {
				time.Sleep(time.Millisecond)
			}
		}

		ac.Release()
		wg.Wait()

		for i, n := range order {
			if n != i {
				t.Fatalf("order = %v, want FIFO", order)
			}
		}
	})

	t.Run("cancelled waiter leaves queue", func(t *testing.T) {
		ac := NewAdmissionController(1)
		ctx := context.Background()

		if err := ac.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}

		cancelCtx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() { errCh <- ac.Acquire(cancelCtx) }()
		for ac.Waiting() != 1 {
			time.Sleep(time.Millisecond)
		}
		cancel()

		if err := <-errCh; err == nil {
			t.Fatal("expected context error")
		}
		if ac.Waiting() != 0 {
			t.Errorf("Waiting() = %d, want 0", ac.Waiting())
		}

		// The held slot still works and can be handed over.
		ac.Release()
		if err := ac.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() after cancel error = %v", err)
		}
		ac.Release()
	})

	t.Run("zero max treated as one", func(t *testing.T) {
		ac := NewAdmissionController(0)
		if err := ac.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if ac.Running() != 1 {
			t.Errorf("Running() = %d, want 1", ac.Running())
		}
		ac.Release()
	})
}

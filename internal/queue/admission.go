// Package queue controls how generation jobs enter execution: a
// Redis-backed durable queue hands jobs to workers exactly once, and
// an in-process admission controller caps how many run concurrently.
package queue

import (
	"container/list"
	"context"
	"sync"
)

// AdmissionController bounds concurrent job execution. Waiters are
// served strictly in arrival order.
type AdmissionController struct {
	mu      sync.Mutex
	max     int
	running int
	waiters *list.List // of chan struct{}
}

// NewAdmissionController creates a controller allowing max concurrent
// admissions.
func NewAdmissionController(max int) *AdmissionController {
	if max <= 0 {
		max = 1
	}
	return &AdmissionController{max: max, waiters: list.New()}
}

// Acquire blocks until a slot is free or the context is cancelled.
func (a *AdmissionController) Acquire(ctx context.Context) error {
	a.mu.Lock()
	if a.running < a.max && a.waiters.Len() == 0 {
		a.running++
		a.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	elem := a.waiters.PushBack(ready)
	a.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		a.mu.Lock()
		select {
		case <-ready:
			// Granted between cancellation and lock acquisition;
			// give the slot back.
			a.release()
		default:
			a.waiters.Remove(elem)
		}
		a.mu.Unlock()
		return ctx.Err()
	}
}

// Release frees a slot and wakes the oldest waiter, if any.
func (a *AdmissionController) Release() {
	a.mu.Lock()
	a.release()
	a.mu.Unlock()
}

// release must be called with the mutex held.
func (a *AdmissionController) release() {
	if front := a.waiters.Front(); front != nil {
		a.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}
	if a.running > 0 {
		a.running--
	}
}

// Running returns the number of currently admitted jobs.
func (a *AdmissionController) Running() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Waiting returns the number of queued waiters.
func (a *AdmissionController) Waiting() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.waiters.Len()
}

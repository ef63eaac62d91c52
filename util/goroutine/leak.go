package goroutine

import (
	"runtime"
	"testing"
	"time"
)

// AssertNoLeaks fails the test if the goroutine count has not dropped
// back to its starting value once the test finishes. Call it before
// starting any worker pool or background writer so their goroutines are
// measured against a clean baseline.
//
//	func TestPool(t *testing.T) {
//	    goroutine.AssertNoLeaks(t)
//	    pool := NewWorkerPool(...)
//	    ...
//	}
//
// Goroutines are given a grace period to wind down; legitimate shutdown
// paths signal and wait rather than exiting instantly.
func AssertNoLeaks(t *testing.T) {
	t.Helper()
	baseline := runtime.NumGoroutine()

	t.Cleanup(func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if runtime.NumGoroutine() <= baseline {
				return
			}
			time.Sleep(50 * time.Millisecond)
		}

		leaked := runtime.NumGoroutine() - baseline
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		t.Errorf("leaked %d goroutine(s); active stacks:\n%s", leaked, buf[:n])
	})
}

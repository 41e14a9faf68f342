package nitros

import (
	"sync"
	"time"
)

// joinWithDeadline waits for wg with a bounded deadline: a background
// worker that doesn't finish in time is abandoned rather than blocking Close
// forever.
func joinWithDeadline(wg *sync.WaitGroup, d time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
	}
}

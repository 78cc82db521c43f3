// Scheduler
// Runs periodic engine tasks (chain polling, expiry sweep, ledger pruning)
package scheduler

import (
	"context"
	"log"
	"time"
)

// Task is one periodic unit of work. A Task returning drainMore=true is
// rescheduled immediately instead of waiting for the next tick, so a backlog
// of blocks is drained in consecutive cycles.
type Task func(ctx context.Context) (drainMore bool, err error)

// CancelHandle stops a scheduled task
type CancelHandle struct {
	stopChan chan struct{}
	done     chan struct{}
}

// Stop signals the task loop to exit and waits for it to finish
func (h *CancelHandle) Stop() {
	close(h.stopChan)
	<-h.done
}

// RunPeriodically runs task every interval until the handle is stopped.
// The first run happens immediately. Task errors are logged and never
// terminate the loop.
func RunPeriodically(name string, interval time.Duration, timeout time.Duration, task Task) *CancelHandle {
	handle := &CancelHandle{
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go func() {
		defer close(handle.done)
		log.Printf("🚀 Task %s scheduled every %v", name, interval)

		runOnce := func() bool {
			ctx := context.Background()
			var cancel context.CancelFunc = func() {}
			if timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, timeout)
			}
			defer cancel()

			drainMore, err := task(ctx)
			if err != nil {
				log.Printf("❌ Task %s failed: %v", name, err)
				return false
			}
			return drainMore
		}

		// immediate first run, draining any backlog
		for runOnce() {
			select {
			case <-handle.stopChan:
				log.Printf("🛑 Task %s stopped", name)
				return
			default:
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				for runOnce() {
					select {
					case <-handle.stopChan:
						log.Printf("🛑 Task %s stopped", name)
						return
					default:
					}
				}

			case <-handle.stopChan:
				log.Printf("🛑 Task %s stopped", name)
				return
			}
		}
	}()

	return handle
}

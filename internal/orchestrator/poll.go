package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stratflow/stratflow/internal/logging"
	"github.com/stratflow/stratflow/internal/notify"
	"github.com/stratflow/stratflow/pkg/schema"
)

// PollPolicy shapes the status poll loop. Healthy polls run at Interval;
// transient failures back off exponentially up to MaxInterval. After
// FailureBudget consecutive failures polling stops and the failure is
// surfaced once, keeping the last-known status.
type PollPolicy struct {
	Interval      time.Duration
	MaxInterval   time.Duration
	FailureBudget int
}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = 2 * time.Second
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 30 * time.Second
	}
	if p.FailureBudget <= 0 {
		p.FailureBudget = 5
	}
	return p
}

// backoff computes the delay after the given consecutive-failure count.
func (p PollPolicy) backoff(failures int) time.Duration {
	delay := p.Interval
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	if delay > p.MaxInterval {
		delay = p.MaxInterval
	}
	return delay
}

// waitPoll sleeps for the delay or returns early when ctx is cancelled.
func waitPoll(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watcher is the single-flight poll loop for one execution.
type watcher struct {
	o      *Orchestrator
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	exec *schema.Execution
}

func newWatcher(o *Orchestrator, exec *schema.Execution) *watcher {
	ctx, cancel := context.WithCancel(context.Background())
	snapshot := *exec
	return &watcher{
		o:      o,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		exec:   &snapshot,
	}
}

// lastKnown returns a copy of the most recent snapshot.
func (w *watcher) lastKnown() *schema.Execution {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.exec == nil {
		return nil
	}
	snapshot := *w.exec
	return &snapshot
}

// markStoppedOptimistic flips the local copy to stopped ahead of the
// backend's confirmation. The loop keeps polling; whatever terminal status
// the backend reports replaces this.
func (w *watcher) markStoppedOptimistic() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.exec != nil && !w.exec.Status.Terminal() {
		w.exec.Status = schema.ExecutionStopped
	}
}

// stop cancels the loop and waits for it to exit.
func (w *watcher) stop() {
	w.cancel()
	<-w.done
}

func (w *watcher) loop() {
	defer close(w.done)
	defer w.cancel()

	start := w.lastKnown()
	logCtx := logging.WithIDs(context.Background(), start.WorkflowID, start.ID, "")
	logger := logging.LogWith(logCtx, w.o.logger)

	failures := 0
	for {
		delay := w.o.poll.Interval
		if failures > 0 {
			delay = w.o.poll.backoff(failures)
		}
		if err := waitPoll(w.ctx, delay); err != nil {
			logger.Debug("watcher torn down")
			w.o.drop(start.ID)
			return
		}

		exec, err := w.o.backend.GetExecution(w.ctx, start.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				w.o.drop(start.ID)
				return
			}
			failures++
			logger.Warn("status poll failed", "attempt", failures, "error", err)
			if failures >= w.o.poll.FailureBudget {
				// Give up but keep the watcher entry so Status still
				// answers with the last-known snapshot.
				w.surfacePollFailure(start, err)
				return
			}
			continue
		}
		failures = 0

		changed := w.reconcile(exec)
		if changed && w.o.onChange != nil {
			snapshot := *exec
			w.o.onChange(&snapshot)
		}

		if exec.Status.Terminal() {
			w.notifyTerminal(exec)
			w.o.drop(start.ID)
			return
		}
	}
}

// reconcile replaces the local copy with the backend's value and reports
// whether the status changed. The backend always wins, including over an
// optimistic local stop.
func (w *watcher) reconcile(exec *schema.Execution) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.exec.Status
	snapshot := *exec
	w.exec = &snapshot
	return prev != exec.Status
}

// surfacePollFailure reports an exhausted failure budget exactly once.
func (w *watcher) surfacePollFailure(exec *schema.Execution, cause error) {
	w.o.notifier.Notify(context.Background(), notify.Notification{
		Level:       notify.LevelError,
		Code:        schema.ErrCodePolling,
		Message:     fmt.Sprintf("lost track of execution after %d failed polls: %v", w.o.poll.FailureBudget, cause),
		WorkflowID:  exec.WorkflowID,
		ExecutionID: exec.ID,
	})
}

// notifyTerminal reports the final status. Routine polls never notify.
func (w *watcher) notifyTerminal(exec *schema.Execution) {
	n := notify.Notification{
		Level:       notify.LevelInfo,
		Code:        schema.ExecutionEventType(exec.Status),
		Message:     fmt.Sprintf("execution %s", exec.Status),
		WorkflowID:  exec.WorkflowID,
		ExecutionID: exec.ID,
	}
	if exec.Status == schema.ExecutionFailed {
		n.Level = notify.LevelError
		if exec.Error != "" {
			n.Message = fmt.Sprintf("execution failed: %s", exec.Error)
		}
	}
	w.o.notifier.Notify(context.Background(), n)
}

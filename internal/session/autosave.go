package session

import (
	"context"
	"time"
)

// autosaveTask is a debounced scheduled task. Schedule rearms the timer,
// so repeated edits push the next fire out instead of stacking fires.
// Stop cancels the owning context and the loop exits.
type autosaveTask struct {
	ctx    context.Context
	cancel context.CancelFunc
	rearm  chan time.Duration
	fire   func(context.Context)
	done   chan struct{}
}

func newAutosaveTask(fire func(context.Context)) *autosaveTask {
	ctx, cancel := context.WithCancel(context.Background())
	t := &autosaveTask{
		ctx:    ctx,
		cancel: cancel,
		rearm:  make(chan time.Duration, 1),
		fire:   fire,
		done:   make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *autosaveTask) loop() {
	defer close(t.done)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case d := <-t.rearm:
			if armed && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
			armed = true

		case <-timer.C:
			armed = false
			t.fire(t.ctx)

		case <-t.ctx.Done():
			if armed {
				timer.Stop()
			}
			return
		}
	}
}

// Schedule rearms the task to fire after d. Coalesces with any pending rearm.
func (t *autosaveTask) Schedule(d time.Duration) {
	select {
	case t.rearm <- d:
	case <-t.ctx.Done():
	default:
		// A rearm is already queued; replace it.
		select {
		case <-t.rearm:
		default:
		}
		select {
		case t.rearm <- d:
		case <-t.ctx.Done():
		}
	}
}

// Stop cancels the task and waits for the loop to exit.
func (t *autosaveTask) Stop() {
	t.cancel()
	<-t.done
}

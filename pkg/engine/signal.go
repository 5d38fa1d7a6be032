package engine

import (
	"sync/atomic"
)

// Control signal states. The run goroutine observes them only at step
// boundaries, never mid-step.
const (
	ctrlRunning int32 = iota
	ctrlPaused
	ctrlCancelled
)

// controlHandle is the thread-safe flag behind pause/resume/cancel. All
// transitions are compare-and-swap so every caller learns whether its call
// was the one that took effect.
type controlHandle struct {
	state atomic.Int32
}

func (c *controlHandle) current() int32 {
	return c.state.Load()
}

// pause transitions running -> paused.
func (c *controlHandle) pause() bool {
	return c.state.CompareAndSwap(ctrlRunning, ctrlPaused)
}

// resume transitions paused -> running.
func (c *controlHandle) resume() bool {
	return c.state.CompareAndSwap(ctrlPaused, ctrlRunning)
}

// cancel transitions from either non-terminal state. Only the first caller
// gets true.
func (c *controlHandle) cancel() bool {
	return c.state.CompareAndSwap(ctrlRunning, ctrlCancelled) ||
		c.state.CompareAndSwap(ctrlPaused, ctrlCancelled)
}

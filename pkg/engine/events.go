package engine

// ProgressEvent is emitted after every completed step.
type ProgressEvent struct {
	ExecutionID string
	StepNumber  int
	TotalSteps  int
}

// TerminalEvent is emitted exactly once, when a run reaches a terminal
// status. Result is a snapshot the receiver may keep.
type TerminalEvent struct {
	ExecutionID string
	Result      *ExecutionResult
}

// Sink receives run events. Delivery is at-most-once and fire-and-forget: a
// sink that blocks or panics cannot stall or fail the run, and sinks must
// tolerate missed events.
type Sink interface {
	Progress(event ProgressEvent)
	Terminal(event TerminalEvent)
}

// notifyProgress dispatches to every sink on its own goroutine, swallowing
// panics.
func (e *Engine) notifyProgress(event ProgressEvent) {
	for _, sink := range e.sinks {
		go func(s Sink) {
			defer func() { _ = recover() }()
			s.Progress(event)
		}(sink)
	}
}

func (e *Engine) notifyTerminal(event TerminalEvent) {
	for _, sink := range e.sinks {
		go func(s Sink) {
			defer func() { _ = recover() }()
			s.Terminal(event)
		}(sink)
	}
}

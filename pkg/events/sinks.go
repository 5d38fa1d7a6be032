// Package events provides ready-made sinks for engine run events: structured
// logging, channel fan-in for callers that want to select on progress, and a
// multiplexer for combining sinks.
package events

import (
	"go.uber.org/zap"

	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/logging"
)

// LogSink writes run events to a structured logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink logging to logger (nop if nil).
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logging.OrNop(logger)}
}

func (s *LogSink) Progress(event engine.ProgressEvent) {
	s.logger.Info("step completed",
		zap.String("execution_id", event.ExecutionID),
		zap.Int("step", event.StepNumber),
		zap.Int("total_steps", event.TotalSteps))
}

func (s *LogSink) Terminal(event engine.TerminalEvent) {
	s.logger.Info("execution finished",
		zap.String("execution_id", event.ExecutionID),
		zap.String("status", string(event.Result.Status)),
		zap.Int("completed_steps", event.Result.CompletedSteps()),
		zap.Float64("success_ratio", event.Result.SuccessRatio()))
}

// ChanSink forwards events into buffered channels. Events are dropped when a
// buffer is full, keeping dispatch non-blocking for slow consumers.
type ChanSink struct {
	progress chan engine.ProgressEvent
	terminal chan engine.TerminalEvent
}

// NewChanSink creates a sink with the given buffer size per channel.
func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChanSink{
		progress: make(chan engine.ProgressEvent, buffer),
		terminal: make(chan engine.TerminalEvent, buffer),
	}
}

func (s *ChanSink) Progress(event engine.ProgressEvent) {
	select {
	case s.progress <- event:
	default:
	}
}

func (s *ChanSink) Terminal(event engine.TerminalEvent) {
	select {
	case s.terminal <- event:
	default:
	}
}

// ProgressEvents returns the receive side of the progress channel.
func (s *ChanSink) ProgressEvents() <-chan engine.ProgressEvent { return s.progress }

// TerminalEvents returns the receive side of the terminal channel.
func (s *ChanSink) TerminalEvents() <-chan engine.TerminalEvent { return s.terminal }

// Multi fans every event out to each wrapped sink in order.
type Multi struct {
	sinks []engine.Sink
}

// NewMulti combines sinks into one.
func NewMulti(sinks ...engine.Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Progress(event engine.ProgressEvent) {
	for _, s := range m.sinks {
		s.Progress(event)
	}
}

func (m *Multi) Terminal(event engine.TerminalEvent) {
	for _, s := range m.sinks {
		s.Terminal(event)
	}
}

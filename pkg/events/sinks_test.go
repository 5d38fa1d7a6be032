package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/entrhq/pilot/pkg/engine"
)

func progressEvent(step int) engine.ProgressEvent {
	return engine.ProgressEvent{ExecutionID: "exec-1", StepNumber: step, TotalSteps: 3}
}

func terminalEvent(status engine.Status) engine.TerminalEvent {
	return engine.TerminalEvent{
		ExecutionID: "exec-1",
		Result:      &engine.ExecutionResult{ExecutionID: "exec-1", Status: status},
	}
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	sink.Progress(progressEvent(2))
	sink.Terminal(terminalEvent(engine.StatusCompleted))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "step completed", entries[0].Message)
	assert.Equal(t, "execution finished", entries[1].Message)
	assert.Equal(t, "completed", entries[1].ContextMap()["status"])
}

func TestLogSinkNilLogger(t *testing.T) {
	sink := NewLogSink(nil)
	assert.NotPanics(t, func() {
		sink.Progress(progressEvent(1))
		sink.Terminal(terminalEvent(engine.StatusFailed))
	})
}

func TestChanSinkDelivers(t *testing.T) {
	sink := NewChanSink(4)

	sink.Progress(progressEvent(1))
	sink.Terminal(terminalEvent(engine.StatusCompleted))

	select {
	case ev := <-sink.ProgressEvents():
		assert.Equal(t, 1, ev.StepNumber)
	default:
		t.Fatal("progress event not delivered")
	}

	select {
	case ev := <-sink.TerminalEvents():
		assert.Equal(t, engine.StatusCompleted, ev.Result.Status)
	default:
		t.Fatal("terminal event not delivered")
	}
}

func TestChanSinkDropsWhenFull(t *testing.T) {
	sink := NewChanSink(1)

	sink.Progress(progressEvent(1))
	sink.Progress(progressEvent(2)) // dropped, buffer full

	assert.Equal(t, 1, (<-sink.ProgressEvents()).StepNumber)
	select {
	case <-sink.ProgressEvents():
		t.Fatal("overflow event should have been dropped")
	default:
	}
}

func TestMultiFansOut(t *testing.T) {
	a := NewChanSink(4)
	b := NewChanSink(4)
	multi := NewMulti(a, b)

	multi.Progress(progressEvent(1))
	multi.Terminal(terminalEvent(engine.StatusCancelled))

	assert.Len(t, a.ProgressEvents(), 1)
	assert.Len(t, b.ProgressEvents(), 1)
	assert.Len(t, a.TerminalEvents(), 1)
	assert.Len(t, b.TerminalEvents(), 1)
}

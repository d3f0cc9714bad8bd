// SPDX-License-Identifier: MIT

package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *captureSink) Consume(event Event) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestEmitterDeliversEvents(t *testing.T) {
	sink := &captureSink{}
	e := NewEmitter(8, sink)

	e.Emit(Event{
		Name:         "integration.check.stop",
		Measurements: map[string]float64{"duration_ms": 12.5},
		Tags:         map[string]string{"provider": "caldav", "outcome": "success"},
	})
	e.Close()

	require.Equal(t, 1, sink.count())
	assert.Equal(t, "integration.check.stop", sink.events[0].Name)
	assert.Equal(t, 12.5, sink.events[0].Measurements["duration_ms"])
}

func TestEmitterNeverBlocksWhenFull(t *testing.T) {
	sink := &captureSink{block: make(chan struct{})}
	e := NewEmitter(1, sink)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			e.Emit(Event{Name: "spam"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}

	close(sink.block)
	e.Close()
	assert.LessOrEqual(t, sink.count(), 3, "overflow events are dropped, not queued")
}

func TestEmitterCloseFlushesBuffer(t *testing.T) {
	sink := &captureSink{}
	e := NewEmitter(16, sink)

	for i := 0; i < 10; i++ {
		e.Emit(Event{Name: "flush"})
	}
	e.Close()

	assert.Equal(t, 10, sink.count())
}

func TestEmitterCloseIsIdempotent(t *testing.T) {
	e := NewEmitter(1)
	e.Close()
	e.Close()
}

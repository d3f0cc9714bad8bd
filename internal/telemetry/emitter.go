// SPDX-License-Identifier: MIT

// Package telemetry provides the fire-and-forget event emitter used by the
// check path and the OpenTelemetry tracer provider.
package telemetry

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/openbookings/calsync/internal/log"
	"github.com/openbookings/calsync/internal/metrics"
)

// Event is one telemetry datum: a name, numeric measurements and string tags.
type Event struct {
	Name         string
	Measurements map[string]float64
	Tags         map[string]string
}

// Sink consumes events. Sinks run on the emitter's drain goroutine and
// must not block for long.
type Sink interface {
	Consume(Event)
}

// Emitter decouples event producers from sinks through a bounded buffer.
// Emit never blocks and never fails the caller: when the buffer is full
// the event is dropped and counted. Losing telemetry is always preferable
// to delaying a health check.
type Emitter struct {
	events chan Event
	sinks  []Sink

	closeOnce sync.Once
	done      chan struct{}
}

// NewEmitter starts an emitter with the given buffer size and sinks.
// Zero sinks means events are drained and discarded.
func NewEmitter(buffer int, sinks ...Sink) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	e := &Emitter{
		events: make(chan Event, buffer),
		sinks:  sinks,
		done:   make(chan struct{}),
	}
	go e.drain()
	return e
}

// Emit publishes an event without blocking.
func (e *Emitter) Emit(event Event) {
	select {
	case e.events <- event:
		metrics.RecordTelemetryEvent(false)
	default:
		metrics.RecordTelemetryEvent(true)
	}
}

// Close stops the drain goroutine after flushing buffered events.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		close(e.events)
	})
	<-e.done
}

func (e *Emitter) drain() {
	defer close(e.done)
	for event := range e.events {
		for _, sink := range e.sinks {
			sink.Consume(event)
		}
	}
}

// LogSink writes events as structured debug entries.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink builds a sink on the shared component logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: log.WithComponent("telemetry")}
}

func (s *LogSink) Consume(event Event) {
	entry := s.logger.Debug().Str("event", event.Name)
	for k, v := range event.Measurements {
		entry = entry.Float64(k, v)
	}
	for k, v := range event.Tags {
		entry = entry.Str(k, v)
	}
	entry.Msg("telemetry event")
}

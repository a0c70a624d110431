// Package stream delivers pipeline events to consumers: a pull stream per
// run, HTTP writers for it, and a push hub keyed by session.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	pipemodel "github.com/zhouzirui/z-insight/backend/internal/model/pipeline"
)

// DefaultBuffer is the number of undelivered events a Stream holds before
// Emit blocks.
const DefaultBuffer = 32

var (
	ErrStreamClosed = errors.New("stream already finished")
	ErrConsumerGone = errors.New("stream consumer gone")
)

// Stream is the ordered event sequence of one run. A single producer calls
// Emit; a single consumer calls Next.
type Stream struct {
	mu       sync.Mutex
	events   chan pipemodel.Event
	finished bool
	closed   bool

	gone     chan struct{}
	goneOnce sync.Once
}

// New creates a stream buffering up to buffer events.
func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Stream{
		events: make(chan pipemodel.Event, buffer),
		gone:   make(chan struct{}),
	}
}

// Emit appends ev. Nothing can follow a terminal event.
func (s *Stream) Emit(ctx context.Context, ev pipemodel.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return ErrStreamClosed
	}
	select {
	case <-s.gone:
		return ErrConsumerGone
	default:
	}

	select {
	case s.events <- ev:
	case <-s.gone:
		return ErrConsumerGone
	case <-ctx.Done():
		return ctx.Err()
	}

	if ev.Terminal {
		s.finished = true
		s.closeLocked()
	}
	return nil
}

// Close ends the stream without a terminal event, e.g. when the run was
// abandoned. Safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	s.closeLocked()
}

func (s *Stream) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// Next returns the next event in emission order, or io.EOF once the stream
// is finished and drained.
func (s *Stream) Next(ctx context.Context) (pipemodel.Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return pipemodel.Event{}, io.EOF
		}
		return ev, nil
	case <-s.gone:
		return pipemodel.Event{}, ErrConsumerGone
	case <-ctx.Done():
		return pipemodel.Event{}, ctx.Err()
	}
}

// Abandon marks the consumer as gone. Pending and future Emit calls fail.
func (s *Stream) Abandon() {
	s.goneOnce.Do(func() { close(s.gone) })
}

// Gone is closed after Abandon.
func (s *Stream) Gone() <-chan struct{} {
	return s.gone
}

package hooks

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("event stream closed")

// Stream is an unbounded, ordered sequence of events delivered to a
// subscriber. Dispatch never blocks on a slow reader.
type Stream struct {
	d      *Dispatcher
	filter map[EventType]bool

	mu     sync.Mutex
	queue  []*Event
	closed bool
	notify chan struct{}
}

func newStream(d *Dispatcher, types []EventType) *Stream {
	s := &Stream{d: d, notify: make(chan struct{}, 1)}
	if len(types) > 0 {
		s.filter = make(map[EventType]bool, len(types))
		for _, t := range types {
			s.filter[t] = true
		}
	}
	return s
}

func (s *Stream) push(e *Event) {
	if s.filter != nil && !s.filter[e.Type] {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the stream is closed or ctx is done.
func (s *Stream) Next(ctx context.Context) (*Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return e, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrStreamClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		}
	}
}

// TryNext returns the next queued event without blocking.
func (s *Stream) TryNext() (*Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	e := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return e, true
}

// All returns a lazy sequence over the stream that ends when the stream is
// closed or ctx is done.
func (s *Stream) All(ctx context.Context) iter.Seq[*Event] {
	return func(yield func(*Event) bool) {
		for {
			e, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(e) {
				return
			}
		}
	}
}

// Close detaches the stream from its dispatcher. Queued events remain
// readable; Next returns ErrStreamClosed once they are drained.
func (s *Stream) Close() {
	s.d.unsubscribe(s)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

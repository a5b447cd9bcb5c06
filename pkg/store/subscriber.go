package store

import (
	"context"
	"errors"
	"sync"

	"github.com/tether-ai/tether-agent/pkg/models"
)

// ErrSubscriberClosed is returned by Next once the subscriber has been
// closed and its queue drained.
var ErrSubscriberClosed = errors.New("subscriber closed")

// Subscriber is an unbounded FIFO mailbox of session events. Events are
// never dropped: slow consumers grow the queue rather than losing entries.
type Subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*models.Event
	closed bool
}

func newSubscriber() *Subscriber {
	sub := &Subscriber{}
	sub.cond = sync.NewCond(&sub.mu)
	return sub
}

func (s *Subscriber) push(ev *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, ev)
	s.cond.Broadcast()
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

// Next blocks until an event is available, the subscriber is closed, or ctx
// ends. A closed subscriber still drains queued events before reporting
// ErrSubscriberClosed. On ctx expiry the ctx error is returned.
func (s *Subscriber) Next(ctx context.Context) (*models.Event, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			return ev, nil
		}
		if s.closed {
			return nil, ErrSubscriberClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.cond.Wait()
	}
}

// Len reports the number of queued, undelivered events.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

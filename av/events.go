package av

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// EventQueue delivers talk events to a listener on its own goroutine.
// Emit never blocks; events are delivered in emission order.
type EventQueue struct {
	mu       sync.Mutex
	pending  []TalkEvent
	signal   chan struct{}
	done     chan struct{}
	closed   bool
	listener TalkListener
}

// NewEventQueue starts the delivery goroutine. A nil listener discards
// events.
func NewEventQueue(listener TalkListener) *EventQueue {
	q := &EventQueue{
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		listener: listener,
	}
	go q.run()
	return q
}

// Emit queues an event. Events emitted after Close are dropped.
func (q *EventQueue) Emit(ev TalkEvent) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, ev)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	q.mu.Unlock()
}

// Close stops accepting events, delivers those already queued and waits for
// the delivery goroutine to exit.
func (q *EventQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.signal)
	q.mu.Unlock()

	<-q.done
}

func (q *EventQueue) run() {
	defer close(q.done)
	for range q.signal {
		q.drain()
	}
	q.drain()
}

func (q *EventQueue) drain() {
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			q.deliver(ev)
		}
	}
}

func (q *EventQueue) deliver(ev TalkEvent) {
	if q.listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "EventQueue.deliver",
				"session":  ev.Session,
				"panic":    r,
			}).Error("Talk listener panicked")
		}
	}()
	q.listener(ev)
}

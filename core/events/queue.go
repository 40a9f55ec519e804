package events

import "sync"

// Queue delivers events in publish order without ever blocking the
// publisher. Events pile up in memory while the consumer lags.
type Queue struct {
	mu      sync.Mutex
	pending []Event
	closed  bool

	signal chan struct{}
	out    chan Event
	done   chan struct{}
}

func NewQueue() *Queue {
	q := &Queue{
		signal: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	go q.forward()
	return q
}

// Events is closed once the queue is closed.
func (q *Queue) Events() <-chan Event { return q.out }

func (q *Queue) Publish(event Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, event)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Close stops the queue. Events the consumer has not received yet are
// dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) forward() {
	defer close(q.out)
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, event := range batch {
			select {
			case q.out <- event:
			case <-q.done:
				return
			}
		}

		if closed {
			return
		} else if len(batch) > 0 {
			continue
		}

		select {
		case <-q.signal:
		case <-q.done:
		}
	}
}

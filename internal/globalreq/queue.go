// Package globalreq implements the Global Request Pipeline and the
// tcpip/streamlocal forwarding bookkeeping tables
package globalreq

import (
	"errors"
	"sync"
)

// ErrRequestFailed is the error passed to a Callback on REQUEST_FAILURE.
var ErrRequestFailed = errors.New("global request failed")

// Callback is invoked once with the server's reply, in FIFO submission
// order: err is nil on REQUEST_SUCCESS (data carries the
// reply payload, e.g. an assigned port), ErrRequestFailed on
// REQUEST_FAILURE, or a teardown error if the connection closed before a
// reply arrived.
type Callback func(err error, data []byte)

// Queue is the FIFO of pending global-request callbacks.
type Queue struct {
	mu    sync.Mutex
	items []Callback
}

func NewQueue() *Queue { return &Queue{} }

// Push enqueues cb, to be invoked by the next matching REQUEST_SUCCESS or
// REQUEST_FAILURE.
func (q *Queue) Push(cb Callback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, cb)
}

func (q *Queue) pop() Callback {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	cb := q.items[0]
	q.items = q.items[1:]
	return cb
}

// Deliver pops the head and invokes it with the reply, if any is pending.
// A reply with nothing pending is ignored.
func (q *Queue) Deliver(success bool, data []byte) {
	cb := q.pop()
	if cb == nil {
		return
	}
	if success {
		cb(nil, data)
	} else {
		cb(ErrRequestFailed, nil)
	}
}

// Drain empties the queue, invoking every still-pending callback with err
// — used on transport teardown.
func (q *Queue) Drain(err error) {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, cb := range items {
		cb(err, nil)
	}
}

// Len reports the number of callbacks currently pending, mostly for tests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

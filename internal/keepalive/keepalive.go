// Package keepalive implements the Keepalive Monitor:
// periodic liveness probes with a count-based timeout, interleaved onto
// the global request FIFO to preserve ordering.
package keepalive

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sinks are the actions the monitor drives: emitting a transport ping
// (interleaved onto the global FIFO by PushNoop), surfacing a fatal
// client-timeout, and tearing the byte stream down.
type Sinks struct {
	// PushNoop enqueues a no-op continuation onto the global callback
	// queue before emitting the ping, so the ping's reply lands in FIFO
	// order alongside every other global request.
	PushNoop func()
	Ping     func()
	// Writable reports whether the byte stream can still accept writes;
	// ticks only ping when true.
	Writable func() bool
	// Readable reports whether the byte stream is still readable; a
	// timeout is only surfaced while it still is.
	Readable func() bool
	OnTimeout func()
	Destroy   func()
}

// Monitor is disabled entirely when Interval == 0.
type Monitor struct {
	interval time.Duration
	countMax int
	sinks    Sinks
	log      zerolog.Logger

	mu      sync.Mutex
	counter int
	timer   *time.Timer
	stopped bool
}

// New constructs a Monitor. countMax defaults to 3 if negative.
func New(interval time.Duration, countMax int, sinks Sinks, log zerolog.Logger) *Monitor {
	if countMax < 0 {
		countMax = 3
	}
	return &Monitor{interval: interval, countMax: countMax, sinks: sinks, log: log}
}

// Start arms the first tick; a no-op if Interval == 0.
func (m *Monitor) Start() {
	if m.interval == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.timer = time.AfterFunc(m.interval, m.tick)
}

func (m *Monitor) tick() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.counter++
	counter := m.counter
	m.mu.Unlock()

	if counter > m.countMax {
		if m.sinks.Readable == nil || m.sinks.Readable() {
			m.log.Error().Int("counter", counter).Msg("keepalive timeout")
			if m.sinks.OnTimeout != nil {
				m.sinks.OnTimeout()
			}
			if m.sinks.Destroy != nil {
				m.sinks.Destroy()
			}
		}
		m.Stop()
		return
	}

	if m.sinks.Writable == nil || m.sinks.Writable() {
		if m.sinks.PushNoop != nil {
			m.sinks.PushNoop()
		}
		if m.sinks.Ping != nil {
			m.sinks.Ping()
		}
	}

	m.mu.Lock()
	if !m.stopped {
		m.timer = time.AfterFunc(m.interval, m.tick)
	}
	m.mu.Unlock()
}

// Reset zeroes the counter; called on any qualifying successful reply and
// on USERAUTH_SUCCESS.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter = 0
}

// Stop cancels the pending tick permanently (transport teardown).
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
	}
}

// Counter reports the current missed-reply count, mostly for tests.
func (m *Monitor) Counter() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}

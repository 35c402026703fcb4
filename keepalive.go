package sshcore

import "vex.systems/sshcore/internal/keepalive"

// keepaliveSinks wires internal/keepalive.Monitor's actions back into the
// Client: pings and the FIFO noop that precedes them are
// funneled through the single dispatch goroutine. OnTimeout and Destroy
// run directly on the monitor's timer goroutine; Destroy's teardown is
// latched and the internal packages it touches guard their own state.
func (c *Client) keepaliveSinks() keepalive.Sinks {
	return keepalive.Sinks{
		PushNoop:  func() { c.submit(func() { c.gq.Push(func(error, []byte) {}) }) },
		Ping:      func() { c.submit(func() { c.t.Ping() }) },
		Writable:  func() bool { return c.conn != nil && c.conn.Writable() },
		Readable:  func() bool { return c.conn != nil },
		OnTimeout: func() {
			if c.events.onError != nil {
				c.events.onError(NewError(LevelClientTimeout, "sshcore: keepalive timeout", nil))
			}
		},
		Destroy: func() { _ = c.Destroy() },
	}
}

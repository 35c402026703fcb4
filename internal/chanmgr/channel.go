// Package chanmgr implements the Channel Manager and Channel components:
// flow-controlled, bidirectional streams multiplexed over a single
// packet channel, and the dense-id table that tracks them.
package chanmgr

import (
	"fmt"
	"io"
	"sync"

	"vex.systems/sshcore/internal/transport"
)

// ExitRecord is set at most once per channel.
type ExitRecord struct {
	Set        bool
	Code       *int
	Signal     string
	CoreDumped bool
	Message    string
}

// pendingRequest is one entry in a channel's FIFO of outstanding
// CHANNEL_REQUESTs awaiting CHANNEL_SUCCESS/FAILURE.
type pendingRequest struct {
	done func(failed bool)
}

// pendingWrite is the single in-flight write chunk awaiting outgoing
// window.
type pendingWrite struct {
	data     []byte
	written  int
	extended bool
	dataType uint32
	cb       func(n int, err error)
}

// Channel is a flow-controlled, readable/writable pair (primary + stderr
// substream) with per-direction windows, state, and pending per-request
// callbacks.
type Channel struct {
	mu sync.Mutex

	localID  uint32
	remoteID uint32
	set      bool // remoteID has been assigned (CHANNEL_OPEN_CONFIRMATION received)

	typ     string // session, sftp, direct-tcpip, direct-streamlocal
	subtype string // "", shell, exec, subsystem

	incoming direction
	outgoing direction

	primary *pipe
	stderr  *pipe

	pendingReqs []pendingRequest
	pendingW    *pendingWrite

	waitChanDrainPrimary bool
	waitChanDrainStderr  bool

	exit ExitRecord

	hasX11       bool
	allowHalfOpen bool

	closeSent    bool
	closeRecv    bool
	removed      bool

	t   transport.Transport
	mgr *Manager

	onExit  func(code *int, signal string, coreDumped bool, message string)
	onClose func()
}

// NewChannel constructs a Channel once CHANNEL_OPEN_CONFIRMATION (client
// initiated) or an accepted CHANNEL_OPEN (server initiated) has produced a
// remote id and initial window/packet size.
func NewChannel(localID, remoteID uint32, typ string, outWindow, outPacketSize, inWindow, inPacketSize uint32, t transport.Transport, mgr *Manager) *Channel {
	c := &Channel{
		localID:  localID,
		remoteID: remoteID,
		set:      true,
		typ:      typ,
		incoming: direction{window: inWindow, packetSize: inPacketSize, state: StateOpen},
		outgoing: direction{window: outWindow, packetSize: outPacketSize, state: StateOpen},
		primary:  newPipe(),
		stderr:   newPipe(),
		t:        t,
		mgr:      mgr,
	}
	c.primary.onDrain = func() { c.resumeIncoming(&c.waitChanDrainPrimary, c.primary) }
	c.stderr.onDrain = func() { c.resumeIncoming(&c.waitChanDrainStderr, c.stderr) }
	return c
}

func (c *Channel) LocalID() uint32  { return c.localID }
func (c *Channel) RemoteID() uint32 { return c.remoteID }
func (c *Channel) Type() string     { return c.typ }
func (c *Channel) Subtype() string  { return c.subtype }

// SetSubtype transitions the channel into its specialized subtype once the
// terminal step of the Session Request Pipeline (exec/shell/subsystem)
// succeeds.
func (c *Channel) SetSubtype(sub string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subtype = sub
}

func (c *Channel) SetFeatures(hasX11, allowHalfOpen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasX11, c.allowHalfOpen = hasX11, allowHalfOpen
}

// OnExit registers the callback invoked when an exit-status/exit-signal
// request arrives.
func (c *Channel) OnExit(f func(code *int, signal string, coreDumped bool, message string)) {
	c.mu.Lock()
	c.onExit = f
	c.mu.Unlock()
}

// OnClose registers the callback invoked once CHANNEL_CLOSE has been
// coordinated in both directions.
func (c *Channel) OnClose(f func()) {
	c.mu.Lock()
	c.onClose = f
	c.mu.Unlock()
}

// Stdout/Stderr expose the readable ends for user code.
func (c *Channel) Stdout() io.Reader { return c.primary }
func (c *Channel) Stderr() io.Reader { return c.stderr }

// --- outgoing data -------------------------------------------------------

// Write is the user-data write path: if outgoing.window is
// sufficient it emits immediately; otherwise it splits at the window,
// retains the remainder, and resumes it on CHANNEL_WINDOW_ADJUST. cb is
// invoked exactly once, with the total bytes accepted (not necessarily
// flushed to the socket below the Transport boundary) and any error.
func (c *Channel) Write(data []byte, cb func(n int, err error)) {
	c.write(data, false, 0, cb)
}

// WriteStderr is the same contract over the extended-data (STDERR)
// substream.
func (c *Channel) WriteStderr(data []byte, cb func(n int, err error)) {
	c.write(data, true, sshExtendedDataStderr, cb)
}

const sshExtendedDataStderr = 1

func (c *Channel) write(data []byte, extended bool, dataType uint32, cb func(n int, err error)) {
	c.mu.Lock()

	if c.outgoing.state != StateOpen {
		c.mu.Unlock()
		if cb != nil {
			cb(0, fmt.Errorf("channel is not open"))
		}
		return
	}
	if c.pendingW != nil {
		// Only one in-flight write chunk per channel; callers must wait
		// for the previous callback before writing again.
		c.mu.Unlock()
		if cb != nil {
			cb(0, fmt.Errorf("previous write still in flight"))
		}
		return
	}

	pw := &pendingWrite{data: data, extended: extended, dataType: dataType, cb: cb}
	c.pendingW = pw
	fn, n := c.flushLocked()
	c.mu.Unlock()
	if fn != nil {
		fn(n, nil)
	}
}

// flushLocked sends as much of the pending write as the outgoing window
// allows, clearing pendingW once fully sent. It must be called with c.mu
// held and returns the completion callback (and byte count) to invoke
// after the caller unlocks, so a callback that immediately calls back into
// the channel never deadlocks and ordering stays serialized rather than
// handed off to a fresh goroutine.
func (c *Channel) flushLocked() (func(int, error), int) {
	pw := c.pendingW
	if pw == nil {
		return nil, 0
	}
	for pw.written < len(pw.data) {
		remaining := pw.data[pw.written:]
		if c.outgoing.window == 0 {
			return nil, 0 // stays queued, resumed by OnWindowAdjust
		}
		chunkLen := uint32(len(remaining))
		if chunkLen > c.outgoing.window {
			chunkLen = c.outgoing.window
		}
		if chunkLen > c.outgoing.packetSize && c.outgoing.packetSize > 0 {
			chunkLen = c.outgoing.packetSize
		}
		chunk := remaining[:chunkLen]
		if pw.extended {
			c.t.ChannelExtendedData(c.remoteID, pw.dataType, chunk)
		} else {
			c.t.ChannelData(c.remoteID, chunk)
		}
		c.outgoing.window -= chunkLen
		pw.written += int(chunkLen)
	}
	c.pendingW = nil
	return pw.cb, pw.written
}

// OnWindowAdjust handles CHANNEL_WINDOW_ADJUST: add to the outgoing window
// and resume any retained chunk.
func (c *Channel) OnWindowAdjust(n uint32) {
	c.mu.Lock()
	c.outgoing.window += n
	fn, written := c.flushLocked()
	c.mu.Unlock()
	if fn != nil {
		fn(written, nil)
	}
}

// --- incoming data -------------------------------------------------------

// OnData handles CHANNEL_DATA: if incoming.window is zero the payload is
// dropped.
// Otherwise it decrements the window, pushes to the primary readable end,
// and restores window credit once it falls to WindowThreshold, unless the
// readable end is signalling backpressure, in which case no credit is
// restored until the reader drains it (see resumeIncoming).
func (c *Channel) OnData(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onIncoming(data, c.primary, &c.waitChanDrainPrimary)
}

// OnExtendedData handles CHANNEL_EXTENDED_DATA; any type other than
// SSH_EXTENDED_DATA_STDERR is silently dropped (protocol ignore).
func (c *Channel) OnExtendedData(dataType uint32, data []byte) {
	if dataType != sshExtendedDataStderr {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onIncoming(data, c.stderr, &c.waitChanDrainStderr)
}

func (c *Channel) onIncoming(data []byte, p *pipe, waitDrain *bool) {
	if c.incoming.window == 0 {
		// TODO: treat as a protocol violation instead of silent drop once
		// a stricter mode is wanted.
		return
	}
	n := uint32(len(data))
	if n > c.incoming.window {
		n = c.incoming.window
		data = data[:n]
	}
	c.incoming.window -= n
	if !p.push(data) {
		*waitDrain = true
	}
	if *waitDrain {
		// The consumer is behind: withhold window credit instead of
		// re-arming it, so the peer stops sending once the window runs
		// out. resumeIncoming re-arms it once the reader catches up.
		return
	}
	if c.incoming.window <= WindowThreshold {
		toAdd := MaxWindow - c.incoming.window
		c.incoming.window = MaxWindow
		c.t.ChannelWindowAdjust(c.remoteID, toAdd)
	}
}

// resumeIncoming re-arms inbound window credit once the reader has drained
// the pipe back under highWaterMark, undoing the backpressure onIncoming
// applied by withholding CHANNEL_WINDOW_ADJUST. Called from the pipe's
// onDrain hook, on the consumer's goroutine, never while c.mu or p.mu from
// the push side is held.
func (c *Channel) resumeIncoming(waitDrain *bool, p *pipe) {
	if !p.drained() {
		return
	}
	c.mu.Lock()
	if !*waitDrain {
		c.mu.Unlock()
		return
	}
	*waitDrain = false
	var toAdd uint32
	if c.incoming.window <= WindowThreshold {
		toAdd = MaxWindow - c.incoming.window
		c.incoming.window = MaxWindow
	}
	remoteID := c.remoteID
	c.mu.Unlock()
	if toAdd > 0 {
		c.t.ChannelWindowAdjust(remoteID, toAdd)
	}
}

// --- requests -------------------------------------------------------

// SendRequest emits a CHANNEL_REQUEST of the given type and, if wantReply,
// enqueues done onto the per-channel pending request FIFO. Requests
// originated while the channel is not open are refused.
func (c *Channel) SendRequest(reqType string, wantReply bool, data []byte, done func(failed bool)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outgoing.state != StateOpen {
		return fmt.Errorf("channel %d: cannot send request %q on non-open channel", c.localID, reqType)
	}
	if wantReply && done != nil {
		c.pendingReqs = append(c.pendingReqs, pendingRequest{done: done})
	}
	c.t.ChannelRequest(c.remoteID, reqType, wantReply, data)
	return nil
}

// OnSuccess / OnFailure pop the head of the pending request queue and
// invoke it.
func (c *Channel) OnSuccess() { c.popRequest(false) }
func (c *Channel) OnFailure() { c.popRequest(true) }

func (c *Channel) popRequest(failed bool) {
	c.mu.Lock()
	if len(c.pendingReqs) == 0 {
		c.mu.Unlock()
		return
	}
	req := c.pendingReqs[0]
	c.pendingReqs = c.pendingReqs[1:]
	c.mu.Unlock()
	if req.done != nil {
		req.done(failed)
	}
}

// OnRequest handles an inbound CHANNEL_REQUEST from the peer:
// exit-status, exit-signal, anything else replied channel-failure if
// wantReply.
func (c *Channel) OnRequest(reqType string, wantReply bool, data []byte) {
	switch reqType {
	case "exit-status":
		code := 0
		if len(data) >= 4 {
			code = int(uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]))
		}
		c.setExit(&code, "", false, "")
	case "exit-signal":
		sig, coreDumped, msg := parseExitSignal(data)
		c.setExit(nil, "SIG"+sig, coreDumped, msg)
	default:
		if wantReply {
			c.t.ChannelFailure(c.remoteID)
		}
	}
}

func parseExitSignal(data []byte) (signal string, coreDumped bool, message string) {
	rest := data
	signal, rest = readString(rest)
	if len(rest) >= 1 {
		coreDumped = rest[0] != 0
		rest = rest[1:]
	}
	message, _ = readString(rest)
	return
}

func readString(b []byte) (string, []byte) {
	if len(b) < 4 {
		return "", nil
	}
	n := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	b = b[4:]
	if uint32(len(b)) < n {
		return string(b), nil
	}
	return string(b[:n]), b[n:]
}

func (c *Channel) setExit(code *int, signal string, coreDumped bool, message string) {
	c.mu.Lock()
	if c.exit.Set {
		c.mu.Unlock()
		return // exit may be signaled only once
	}
	c.exit = ExitRecord{Set: true, Code: code, Signal: signal, CoreDumped: coreDumped, Message: message}
	cb := c.onExit
	c.mu.Unlock()
	if cb != nil {
		cb(code, signal, coreDumped, message)
	}
}

// Exit returns the exit record, if any has been set.
func (c *Channel) Exit() ExitRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit
}

// --- EOF / close -------------------------------------------------------

// OnEOF handles CHANNEL_EOF: transitions incoming state to eof and pushes
// EOF to both readable ends.
func (c *Channel) OnEOF() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incoming.state != StateOpen {
		return
	}
	c.incoming.state = StateEOF
	c.primary.pushEOF()
	c.stderr.pushEOF()
}

// CloseOut sends CHANNEL_CLOSE if it has not already been sent, as part of
// cooperative teardown.
func (c *Channel) CloseOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendCloseLocked()
}

func (c *Channel) sendCloseLocked() {
	if c.closeSent {
		return
	}
	c.closeSent = true
	c.outgoing.state = StateClosed
	c.t.ChannelClose(c.remoteID)
}

// OnClosePeer handles an inbound CHANNEL_CLOSE: ensures the outgoing close
// has been sent, marks the channel removable, and fires onClose.
func (c *Channel) OnClosePeer() {
	c.mu.Lock()
	c.sendCloseLocked()
	c.closeRecv = true
	c.incoming.state = StateClosed
	c.primary.pushEOF()
	c.stderr.pushEOF()
	cb := c.onClose
	c.mu.Unlock()
	if c.mgr != nil {
		c.mgr.remove(c.localID)
	}
	if cb != nil {
		cb()
	}
}

// ForceClose is invoked by Channel Manager cleanup: drives
// the close path locally without waiting for a peer reply, and fails any
// still-pending request/write callbacks.
func (c *Channel) ForceClose(err error) {
	c.mu.Lock()
	c.sendCloseLocked()
	c.incoming.state = StateClosed
	c.primary.closeErr(err)
	c.stderr.closeErr(err)
	pending := c.pendingReqs
	c.pendingReqs = nil
	pw := c.pendingW
	c.pendingW = nil
	cb := c.onClose
	c.mu.Unlock()

	for _, req := range pending {
		if req.done != nil {
			req.done(true)
		}
	}
	if pw != nil && pw.cb != nil {
		pw.cb(pw.written, err)
	}
	if cb != nil {
		cb()
	}
}

package sshcore

import (
	"fmt"
	"io"

	"vex.systems/sshcore/internal/chanmgr"
)

// Channel is the public handle onto a multiplexed SSH channel: a
// flow-controlled, bidirectional stream with an optional stderr substream
// and an exit record, wrapping internal/chanmgr.Channel.
type Channel struct {
	ch *chanmgr.Channel
}

func newChannel(ch *chanmgr.Channel) Channel { return Channel{ch: ch} }

// LocalID/RemoteID/Type/Subtype expose the channel's identity.
func (c Channel) LocalID() uint32  { return c.ch.LocalID() }
func (c Channel) RemoteID() uint32 { return c.ch.RemoteID() }
func (c Channel) Type() string     { return c.ch.Type() }
func (c Channel) Subtype() string  { return c.ch.Subtype() }

// Stdout/Stderr are the readable ends of the primary and extended-data
// substreams.
func (c Channel) Stdout() io.Reader { return c.ch.Stdout() }
func (c Channel) Stderr() io.Reader { return c.ch.Stderr() }

// Write/WriteStderr forward to the flow-controlled write path; cb is
// invoked exactly once with the bytes accepted and any error, matching the
// non-blocking contract of the underlying channel rather than an
// io.Writer, since completion may legitimately be deferred until
// CHANNEL_WINDOW_ADJUST arrives.
func (c Channel) Write(data []byte, cb func(n int, err error)) { c.ch.Write(data, cb) }
func (c Channel) WriteStderr(data []byte, cb func(n int, err error)) {
	c.ch.WriteStderr(data, cb)
}

// SendRequest emits an additional channel request beyond whatever the
// Session Request Pipeline already sent (e.g. "window-change", "signal").
func (c Channel) SendRequest(reqType string, wantReply bool, data []byte, done func(failed bool)) error {
	return c.ch.SendRequest(reqType, wantReply, data, done)
}

// Exit returns the exit record, if any has been set.
func (c Channel) Exit() chanmgr.ExitRecord { return c.ch.Exit() }

// OnExit registers the callback invoked when an exit-status/exit-signal
// request arrives.
func (c Channel) OnExit(f func(code *int, signal string, coreDumped bool, message string)) {
	c.ch.OnExit(f)
}

// OnClose registers the callback invoked once CHANNEL_CLOSE has been
// coordinated in both directions.
func (c Channel) OnClose(f func()) { c.ch.OnClose(f) }

// Close sends CHANNEL_CLOSE, beginning cooperative teardown from this
// side.
func (c Channel) Close() error {
	if c.ch == nil {
		return fmt.Errorf("sshcore: zero-value Channel")
	}
	c.ch.CloseOut()
	return nil
}

func (c Channel) String() string {
	if c.ch == nil {
		return "channel[none]"
	}
	return fmt.Sprintf("channel[%d/%d %s/%s]", c.ch.LocalID(), c.ch.RemoteID(), c.ch.Type(), c.ch.Subtype())
}

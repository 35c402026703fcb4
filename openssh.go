package sshcore

import (
	"fmt"

	"vex.systems/sshcore/internal/transport"
)

// errNotOpenSSH is returned by the openssh_* operations when
// Config.StrictVendor is set and the peer's identification string doesn't
// match transport.IsOpenSSHVendor.
var errNotOpenSSH = fmt.Errorf("sshcore: operation requires an OpenSSH peer")

// remoteIdent is set from the handshake info the transport reports; the
// vendor gate below only has something to check once a handshake
// completed.
func (c *Client) checkVendor() error {
	if !c.cfg.StrictVendor {
		return nil
	}
	if c.remoteIdent == "" || !transport.IsOpenSSHVendor(c.remoteIdent) {
		return errNotOpenSSH
	}
	return nil
}

// OpenSSHNoMoreSessions sends the openssh.com/no-more-sessions@openssh.com
// global request, telling the peer this connection will open no further
// session channels.
func (c *Client) OpenSSHNoMoreSessions(done func(err error)) {
	if !c.connected() {
		done(notConnectedErr())
		return
	}
	if err := c.checkVendor(); err != nil {
		done(err)
		return
	}
	c.gq.Push(func(err error, _ []byte) { done(err) })
	c.t.OpenSSHNoMoreSessions(true)
}

// OpenSSHStreamLocalForward requests the peer listen on a Unix domain
// socket and forward inbound connections back as
// forwarded-streamlocal@openssh.com channels.
func (c *Client) OpenSSHStreamLocalForward(socketPath string, done func(err error)) {
	if !c.connected() {
		done(notConnectedErr())
		return
	}
	if err := c.checkVendor(); err != nil {
		done(err)
		return
	}
	c.gq.Push(func(err error, _ []byte) {
		if err != nil {
			done(err)
			return
		}
		c.tables.RecordUnixForward(socketPath)
		done(nil)
	})
	c.t.OpenSSHStreamLocalForward(socketPath, true)
}

// OpenSSHCancelStreamLocalForward cancels a forwarding previously
// established with OpenSSHStreamLocalForward.
func (c *Client) OpenSSHCancelStreamLocalForward(socketPath string, done func(err error)) {
	if !c.connected() {
		done(notConnectedErr())
		return
	}
	if err := c.checkVendor(); err != nil {
		done(err)
		return
	}
	c.gq.Push(func(err error, _ []byte) {
		if err != nil {
			done(err)
			return
		}
		c.tables.RemoveUnixForward(socketPath)
		done(nil)
	})
	c.t.OpenSSHCancelStreamLocalForward(socketPath, true)
}

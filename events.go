package sshcore

import (
	"vex.systems/sshcore/internal/incoming"
	"vex.systems/sshcore/internal/transport"
)

// HandshakeInfo is re-exported from internal/transport for the
// "handshake" user event.
type HandshakeInfo = transport.HandshakeInfo

// Prompt is one keyboard-interactive prompt.
type Prompt = transport.Prompt

// TCPConnInfo/UnixConnInfo/X11Info are re-exported for the
// "tcp connection"/"unix connection"/"x11" user events.
type TCPConnInfo = incoming.TCPConnInfo
type UnixConnInfo = incoming.UnixConnInfo
type X11Info = incoming.X11Info

// eventHandlers holds the user-visible callbacks registered via the On*
// methods below. All are optional; a nil handler for an incoming-channel
// event rejects the channel.
type eventHandlers struct {
	onConnect  func()
	onTimeout  func()
	onGreeting func(text string)
	onBanner   func(msg string)
	onHandshake func(info HandshakeInfo)
	onReady    func()

	onChangePassword      func(prompt string, reply func(newPassword string))
	onKeyboardInteractive func(name, instructions string, prompts []Prompt, reply func(answers []string))

	onTCPConnection  func(info TCPConnInfo, accept func() Channel, reject func())
	onUnixConnection func(info UnixConnInfo, accept func() Channel, reject func())
	onX11            func(info X11Info, accept func() Channel, reject func())

	onError func(err *Error)
	onEnd   func()
	onClose func()
}

// OnConnect registers a callback for the underlying socket connecting.
func (c *Client) OnConnect(f func()) { c.events.onConnect = f }

// OnTimeout registers a callback for a socket-level idle timeout.
func (c *Client) OnTimeout(f func()) { c.events.onTimeout = f }

// OnGreeting registers a callback for the server's pre-protocol banner
// text, if any.
func (c *Client) OnGreeting(f func(text string)) { c.events.onGreeting = f }

// OnBanner registers a callback for USERAUTH_BANNER.
func (c *Client) OnBanner(f func(msg string)) { c.events.onBanner = f }

// OnHandshake registers a callback for the negotiated algorithm/identity
// summary once the transport completes key exchange.
func (c *Client) OnHandshake(f func(info HandshakeInfo)) { c.events.onHandshake = f }

// OnReady registers a callback fired once authentication succeeds.
func (c *Client) OnReady(f func()) { c.events.onReady = f }

// OnChangePassword registers the USERAUTH_PASSWD_CHANGEREQ handler.
func (c *Client) OnChangePassword(f func(prompt string, reply func(newPassword string))) {
	c.events.onChangePassword = f
}

// OnKeyboardInteractive registers the USERAUTH_INFO_REQUEST handler.
func (c *Client) OnKeyboardInteractive(f func(name, instructions string, prompts []Prompt, reply func(answers []string))) {
	c.events.onKeyboardInteractive = f
}

// OnTCPConnection registers the forwarded-tcpip incoming-channel handler.
func (c *Client) OnTCPConnection(f func(info TCPConnInfo, accept func() Channel, reject func())) {
	c.events.onTCPConnection = f
}

// OnUnixConnection registers the forwarded-streamlocal incoming-channel
// handler.
func (c *Client) OnUnixConnection(f func(info UnixConnInfo, accept func() Channel, reject func())) {
	c.events.onUnixConnection = f
}

// OnX11 registers the incoming x11 channel handler.
func (c *Client) OnX11(f func(info X11Info, accept func() Channel, reject func())) {
	c.events.onX11 = f
}

// OnError registers the catch-all error sink.
func (c *Client) OnError(f func(err *Error)) { c.events.onError = f }

// OnEnd registers a callback for the connection ending gracefully.
func (c *Client) OnEnd(f func()) { c.events.onEnd = f }

// OnClose registers a callback for the underlying socket closing.
func (c *Client) OnClose(f func()) { c.events.onClose = f }

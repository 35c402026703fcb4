// Package sshcore is the client-side SSH endpoint orchestration core:
// version exchange and algorithm negotiation are owned by the caller-
// supplied Transport collaborator (golang.org/x/crypto/ssh under the
// hood), while this package owns authentication sequencing, channel
// multiplexing, global-request bookkeeping, and the public facade tying
// them together.
package sshcore

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"vex.systems/sshcore/internal/agentclient"
	"vex.systems/sshcore/internal/auth"
	"vex.systems/sshcore/internal/bytestream"
	"vex.systems/sshcore/internal/chanmgr"
	"vex.systems/sshcore/internal/globalreq"
	"vex.systems/sshcore/internal/incoming"
	"vex.systems/sshcore/internal/keepalive"
	"vex.systems/sshcore/internal/sessionreq"
	"vex.systems/sshcore/internal/transport"
)

// Options configures Exec/Shell/Subsystem, re-exporting
// internal/sessionreq's pipeline options verbatim so the facade adds no
// translation step at this boundary.
type Options = sessionreq.Options

// PtyRequest carries a pty-req's parameters.
type PtyRequest = sessionreq.PtyRequest

// TerminalKind selects a session channel's terminal request.
type TerminalKind = sessionreq.TerminalKind

const (
	TerminalShell     = sessionreq.TerminalShell
	TerminalExec      = sessionreq.TerminalExec
	TerminalSubsystem = sessionreq.TerminalSubsystem
)

// openWaiters tracks the success continuation for a channel-open still in
// flight, keyed by local id. The failure continuation is already carried
// by chanmgr.Manager itself (the func(error) passed to Add); this only
// carries the extra (remoteID, window, packetSize) a confirmation needs
// that Manager's narrower pending signature has no room for.
type openWaiters struct {
	mu sync.Mutex
	m  map[uint32]func(remoteID, window, packetSize uint32)
}

func newOpenWaiters() *openWaiters {
	return &openWaiters{m: make(map[uint32]func(remoteID, window, packetSize uint32))}
}

func (w *openWaiters) set(id uint32, f func(remoteID, window, packetSize uint32)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.m[id] = f
}

func (w *openWaiters) pop(id uint32) func(remoteID, window, packetSize uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f := w.m[id]
	delete(w.m, id)
	return f
}

// Client is one SSH endpoint connection, wiring the Byte-Stream Adapter,
// Transport Driver, Channel
// Manager, Authentication Orchestrator, Global Request Pipeline, Keepalive
// Monitor, and Incoming Channel Router together behind a single public
// API.
type Client struct {
	cfg Config
	id  string
	log zerolog.Logger

	conn   *bytestream.Adapter
	driver *transport.Driver
	t      transport.Transport

	mgr    *chanmgr.Manager
	gq     *globalreq.Queue
	tables *globalreq.Tables
	orch   *auth.Orchestrator
	router *incoming.Router
	agent  agentclient.Agent
	alive  *keepalive.Monitor
	opens  *openWaiters

	events      eventHandlers
	remoteIdent string

	// dispatch is the single executor goroutine's event channel:
	// inbound socket data and keepalive pings are pushed here as closures,
	// so the transport parser and everything it drives into mgr/orch/gq
	// run on this one goroutine. The byte stream's error/end/close sinks,
	// the keepalive timeout/destroy sinks and the ready timer run directly
	// on their own goroutines; teardown is latched by c.mu and the
	// internal packages guard their own state. Synchronous, caller-goroutine API calls
	// (Exec, Channel.Write, ForwardIn, ...) call straight into the
	// already mutex-protected internal packages instead of funneling
	// through this channel — doing that too would deadlock the moment a
	// user callback fired from a dispatched event called back into the
	// API reentrantly from the same goroutine.
	dispatch chan func()

	runCtx    context.Context
	runCancel context.CancelFunc
	eg        *errgroup.Group

	mu        sync.Mutex
	destroyed bool
}

// New constructs a Client. Connect must be called before any I/O-driving
// method.
func New(cfg Config) *Client {
	logger := cfg.Log
	if reflect.ValueOf(logger).IsZero() {
		logger = log.Logger
	}
	id := uuid.NewString()
	return &Client{
		cfg:      cfg,
		id:       id,
		log:      logger.With().Str("client_id", id).Logger(),
		dispatch: make(chan func()),
		mgr:      chanmgr.NewManager(),
		gq:       globalreq.NewQueue(),
		tables:   globalreq.NewTables(),
		opens:    newOpenWaiters(),
	}
}

// ID returns the client's correlation id, attached to every log line this
// client or its collaborators emit.
func (c *Client) ID() string { return c.id }

// Connect dials (or adopts a pre-connected Config.Conn), begins the
// handshake, and starts authentication once the server accepts the
// ssh-userauth service. It returns once the
// underlying socket is connected; handshake/auth/ready are reported
// asynchronously through the On* callbacks.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.Username == "" {
		return NewError(LevelClientAuth, "sshcore: Config.Username is required", nil)
	}
	if c.cfg.NewTransport == nil {
		return NewError(LevelProtocol, "sshcore: Config.NewTransport is required", nil)
	}
	if c.cfg.AgentForward && c.cfg.NewAgent == nil {
		return NewError(LevelAgent, "sshcore: Config.AgentForward requires Config.NewAgent", nil)
	}

	sinks := c.buildTransportSinks()

	t, err := c.cfg.NewTransport(c.cfg.AlgorithmOffer, sinks)
	if err != nil {
		return NewError(LevelHandshake, "sshcore: failed to construct transport", err)
	}
	c.t = t
	c.driver = transport.NewDriver(t, sinks, c.log, c.onFatal)

	if c.cfg.AgentEndpoint != "" || c.cfg.AgentForward {
		if c.cfg.NewAgent == nil {
			return NewError(LevelAgent, "sshcore: Config.AgentEndpoint set without Config.NewAgent", nil)
		}
		agent, err := c.cfg.NewAgent(c.cfg.AgentEndpoint)
		if err != nil {
			return NewError(LevelAgent, "sshcore: failed to construct agent", err)
		}
		c.agent = agent
	}

	c.orch = auth.NewOrchestrator(t, c.cfg.credentials(), c.agent, c.cfg.AuthHandler, c.log)
	c.wireOrchestrator()

	c.router = incoming.New(t, c.mgr, c.tables, c.agent, c.incomingSinks(), c.log)
	c.alive = keepalive.New(c.cfg.KeepaliveInterval, c.cfg.KeepaliveCountMax, c.keepaliveSinks(), c.log)
	c.orch.OnKeepaliveReset = c.alive.Reset

	byteSinks := bytestream.Sinks{
		OnConnect: c.fireConnect,
		OnData:    c.onSocketData,
		OnTimeout: c.fireTimeout,
		OnError:   c.onSocketError,
		OnEnd:     c.fireEnd,
		OnClose:   c.fireClose,
	}

	var conn *bytestream.Adapter
	if c.cfg.Conn != nil {
		conn = bytestream.New(c.cfg.Conn, byteSinks, c.log)
	} else {
		conn, err = bytestream.Dial(ctx, bytestream.DialConfig{
			Host:      c.cfg.Host,
			Port:      c.cfg.Port,
			LocalAddr: c.cfg.LocalAddr,
			LocalPort: c.cfg.LocalPort,
			Family:    c.cfg.Family,
			Timeout:   c.cfg.DialTimeout,
		}, byteSinks, c.log)
		if err != nil {
			return NewError(LevelClientSocket, "sshcore: dial failed", err)
		}
	}
	c.conn = conn

	runCtx, cancel := context.WithCancel(context.Background())
	c.runCtx = runCtx
	c.runCancel = cancel
	eg, _ := errgroup.WithContext(runCtx)
	c.eg = eg

	eg.Go(func() error {
		c.conn.Run()
		return nil
	})
	eg.Go(func() error {
		c.dispatchLoop(runCtx)
		return nil
	})

	if c.cfg.ReadyTimeout > 0 {
		time.AfterFunc(c.cfg.ReadyTimeout, func() {
			if c.orch.State() != auth.StateSucceeded {
				c.onFatal(NewError(LevelClientTimeout, "sshcore: ready timeout elapsed", nil))
			}
		})
	}

	c.alive.Start()
	return nil
}

// dispatchLoop is the single executor goroutine: it drains closures
// pushed by the byte-stream reader goroutine and the keepalive timer
// goroutine, running each to completion before the next, so those two
// independently scheduled producers never interleave their mutations of
// mgr/orch/gq/tables.
func (c *Client) dispatchLoop(ctx context.Context) {
	for {
		select {
		case fn := <-c.dispatch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) submit(fn func()) {
	select {
	case c.dispatch <- fn:
	case <-c.runCtx.Done():
	}
}

func (c *Client) onSocketData(b []byte) {
	c.submit(func() { c.driver.Feed(b) })
}

func (c *Client) onSocketError(err error) {
	if c.events.onError != nil {
		c.events.onError(NewError(LevelClientSocket, "sshcore: byte stream error", err))
	}
}

func (c *Client) fireConnect() {
	if c.events.onConnect != nil {
		c.events.onConnect()
	}
}

func (c *Client) fireTimeout() {
	if c.events.onTimeout != nil {
		c.events.onTimeout()
	}
}

func (c *Client) fireEnd() {
	if c.events.onEnd != nil {
		c.events.onEnd()
	}
}

func (c *Client) fireClose() {
	c.teardown(fmt.Errorf("sshcore: connection closed"))
	if c.events.onClose != nil {
		c.events.onClose()
	}
}

// onFatal is the Transport Driver's panic/fatal sink: it
// surfaces the error and destroys the connection.
func (c *Client) onFatal(err *Error) {
	if c.events.onError != nil {
		c.events.onError(err)
	}
	_ = c.Destroy()
}

// teardown fails every still-pending continuation once the connection
// ends, so no caller is left waiting on a reply that will never arrive.
func (c *Client) teardown(err error) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.mu.Unlock()

	if c.alive != nil {
		c.alive.Stop()
	}
	if c.gq != nil {
		c.gq.Drain(err)
	}
	if c.mgr != nil {
		c.mgr.Cleanup(err)
	}
	if c.driver != nil {
		c.driver.Cleanup()
	}
	if c.runCancel != nil {
		c.runCancel()
	}
}

// End half-closes the byte stream: work already in
// flight drains normally, but no further writes are accepted.
func (c *Client) End() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.End()
}

// Destroy unconditionally tears the connection down, failing every pending continuation.
func (c *Client) Destroy() error {
	c.teardown(fmt.Errorf("sshcore: connection destroyed"))
	if c.conn == nil {
		return nil
	}
	return c.conn.Destroy()
}

func (c *Client) liveChannel(id uint32) *chanmgr.Channel {
	_, ch := c.mgr.Get(id)
	return ch
}

// connected reports whether the byte stream can still accept writes. It's
// false before Connect runs (c.t is nil until then) and after the
// connection tears down, and guards every I/O-driving method so a caller
// invoking one out of order gets a synchronous error instead of a
// nil-pointer panic against c.t.
func (c *Client) connected() bool {
	return c.t != nil && c.conn != nil && c.conn.Writable()
}

func notConnectedErr() error {
	return NewError(LevelClientSocket, "sshcore: not connected", nil)
}

// openChannel allocates a local id, lets open assign it on the wire, and
// invokes done once CHANNEL_OPEN_CONFIRMATION or CHANNEL_OPEN_FAILURE
// resolves it into a usable Channel or an error.
func (c *Client) openChannel(open func(localID uint32), typ string, done func(ch *chanmgr.Channel, err error)) {
	id, ok := c.mgr.Add(func(err error) { done(nil, err) })
	if !ok {
		done(nil, fmt.Errorf("sshcore: channel id space exhausted"))
		return
	}
	c.opens.set(id, func(remoteID, window, packetSize uint32) {
		ch := chanmgr.NewChannel(id, remoteID, typ, window, packetSize, chanmgr.MaxWindow, chanmgr.PacketSize, c.t, c.mgr)
		c.mgr.Update(id, ch)
		done(ch, nil)
	})
	open(id)
}

// Exec opens a session channel and runs the exec terminal step of the
// Session Request Pipeline.
func (c *Client) Exec(cmd string, opts Options, done func(Channel, error)) {
	opts.Terminal = TerminalExec
	opts.Cmd = cmd
	c.session(opts, done)
}

// Shell opens a session channel and requests an interactive shell.
func (c *Client) Shell(opts Options, done func(Channel, error)) {
	opts.Terminal = TerminalShell
	c.session(opts, done)
}

// Subsystem opens a session channel and requests the named subsystem.
func (c *Client) Subsystem(name string, opts Options, done func(Channel, error)) {
	opts.Terminal = TerminalSubsystem
	opts.SubsystemName = name
	c.session(opts, done)
}

func (c *Client) session(opts Options, done func(Channel, error)) {
	if !c.connected() {
		done(Channel{}, notConnectedErr())
		return
	}
	c.openChannel(func(localID uint32) {
		c.t.OpenSession(localID, chanmgr.MaxWindow, chanmgr.PacketSize)
	}, "session", func(ch *chanmgr.Channel, err error) {
		if err != nil {
			done(Channel{}, err)
			return
		}
		ch.SetFeatures(opts.X11 != nil, false)
		sessionreq.Run(ch, opts, func(ch *chanmgr.Channel, err error) {
			if err != nil {
				done(Channel{}, err)
				return
			}
			if opts.AgentForward {
				c.tables.LatchAgentForward()
			}
			if opts.X11 != nil {
				c.tables.IncrementX11()
			}
			done(newChannel(ch), nil)
		})
	})
}

func (c *Client) wireOrchestrator() {
	c.orch.OnReady = func() {
		if c.events.onReady != nil {
			c.events.onReady()
		}
	}
	c.orch.OnBanner = func(msg string) {
		if c.events.onBanner != nil {
			c.events.onBanner(msg)
		}
	}
	c.orch.OnChangePassword = func(prompt string, reply func(newPassword string)) {
		if c.events.onChangePassword != nil {
			c.events.onChangePassword(prompt, reply)
			return
		}
		reply("")
	}
	c.orch.OnKeyboardInteractive = func(name, instructions string, prompts []transport.Prompt, reply func(answers []string)) {
		if c.events.onKeyboardInteractive != nil {
			c.events.onKeyboardInteractive(name, instructions, prompts, reply)
			return
		}
		reply(make([]string, len(prompts)))
	}
	c.orch.OnAgentError = func(err *transport.Error) {
		if c.events.onError != nil {
			c.events.onError(err)
		}
	}
	c.orch.OnAuthError = func(err *transport.Error) {
		if c.events.onError != nil {
			c.events.onError(err)
		}
	}
	c.orch.OnFatal = c.onFatal
}

func (c *Client) incomingSinks() incoming.Sinks {
	wrapAccept := func(accept func() *chanmgr.Channel) func() Channel {
		return func() Channel {
			ch := accept()
			if ch == nil {
				return Channel{}
			}
			return newChannel(ch)
		}
	}
	wrapReject := func(reject func(transport.OpenFailureReason)) func() {
		return func() { reject(transport.OpenAdministrativelyProhibited) }
	}
	return incoming.Sinks{
		OnTCPConnection: func(info incoming.TCPConnInfo, accept func() *chanmgr.Channel, reject func(transport.OpenFailureReason)) {
			if c.events.onTCPConnection == nil {
				reject(transport.OpenAdministrativelyProhibited)
				return
			}
			c.events.onTCPConnection(info, wrapAccept(accept), wrapReject(reject))
		},
		OnUnixConnection: func(info incoming.UnixConnInfo, accept func() *chanmgr.Channel, reject func(transport.OpenFailureReason)) {
			if c.events.onUnixConnection == nil {
				reject(transport.OpenAdministrativelyProhibited)
				return
			}
			c.events.onUnixConnection(info, wrapAccept(accept), wrapReject(reject))
		},
		OnX11: func(info incoming.X11Info, accept func() *chanmgr.Channel, reject func(transport.OpenFailureReason)) {
			if c.events.onX11 == nil {
				reject(transport.OpenAdministrativelyProhibited)
				return
			}
			c.events.onX11(info, wrapAccept(accept), wrapReject(reject))
		},
	}
}

// buildTransportSinks wires every transport.Sinks callback to the
// corresponding Client/collaborator reaction.
func (c *Client) buildTransportSinks() transport.Sinks {
	return transport.Sinks{
		OnWrite: func(b []byte) {
			if c.conn != nil {
				_, _ = c.conn.Write(b)
			}
		},
		OnHeader: func(banner string) {
			if c.events.onGreeting != nil {
				c.events.onGreeting(banner)
			}
		},
		OnHandshakeComplete: func(info transport.HandshakeInfo) {
			c.remoteIdent = info.RemoteIdent
			if c.events.onHandshake != nil {
				c.events.onHandshake(info)
			}
		},
		OnServiceAccept: func(service string) {
			if service == "ssh-userauth" {
				c.orch.Start()
			}
		},
		OnUserauthBanner:       c.orch.OnUserauthBanner,
		OnUserauthFailure:      c.orch.OnUserauthFailure,
		OnUserauthSuccess:      c.orch.OnUserauthSuccess,
		OnUserauthPKOK:         c.orch.OnUserauthPKOK,
		OnUserauthPasswdChange: c.orch.OnUserauthPasswdChangereq,
		OnUserauthInfoRequest:  c.orch.OnUserauthInfoRequest,

		OnGlobalRequest: func(req transport.GlobalRequest) {
			// sshcore is a client; it never accepts inbound global
			// requests from a server.
			if req.WantReply {
				c.t.RequestFailure()
			}
		},
		OnRequestReply: func(success bool, data []byte) { c.gq.Deliver(success, data) },

		OnChannelOpen: func(open transport.ChannelOpen) { c.router.HandleOpen(open) },
		OnChannelOpenConfirmation: func(localID, remoteID, window, packetSize uint32) {
			if waiter := c.opens.pop(localID); waiter != nil {
				waiter(remoteID, window, packetSize)
			}
		},
		OnChannelOpenFailure: func(localID uint32, reason transport.OpenFailureReason, desc string) {
			c.opens.pop(localID)
			if pending, _ := c.mgr.Get(localID); pending != nil {
				pending(fmt.Errorf("sshcore: channel open failed: %s", desc))
			}
			c.mgr.Remove(localID)
		},
		OnChannelWindowAdjust: func(localID uint32, n uint32) {
			if ch := c.liveChannel(localID); ch != nil {
				ch.OnWindowAdjust(n)
			}
		},
		OnChannelData: func(localID uint32, data []byte) {
			if ch := c.liveChannel(localID); ch != nil {
				ch.OnData(data)
			}
		},
		OnChannelExtendedData: func(localID uint32, dataType uint32, data []byte) {
			if ch := c.liveChannel(localID); ch != nil {
				ch.OnExtendedData(dataType, data)
			}
		},
		OnChannelEOF: func(localID uint32) {
			if ch := c.liveChannel(localID); ch != nil {
				ch.OnEOF()
			}
		},
		OnChannelClose: func(localID uint32) {
			if ch := c.liveChannel(localID); ch != nil {
				ch.OnClosePeer()
			}
		},
		OnChannelRequest: func(localID uint32, req transport.ChannelRequest) {
			if ch := c.liveChannel(localID); ch != nil {
				ch.OnRequest(req.Type, req.WantReply, req.Data)
			}
		},
		OnChannelSuccess: func(localID uint32) {
			if ch := c.liveChannel(localID); ch != nil {
				ch.OnSuccess()
			}
		},
		OnChannelFailure: func(localID uint32) {
			if ch := c.liveChannel(localID); ch != nil {
				ch.OnFailure()
			}
		},

		OnDebug: func(alwaysDisplay bool, msg string) {
			c.log.Debug().Bool("always_display", alwaysDisplay).Str("msg", msg).Msg("peer debug message")
		},
		OnDisconnect: func(reason transport.DisconnectReason, desc string) {
			c.onFatal(&Error{Level: LevelProtocol, Code: int(reason), Msg: "sshcore: peer disconnected: " + desc})
		},
		OnError: func(err *transport.Error) {
			if c.events.onError != nil {
				c.events.onError(err)
			}
		},
	}
}

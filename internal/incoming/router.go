// Package incoming implements the Incoming Channel Router: it accepts or
// rejects server-initiated CHANNEL_OPEN requests by consulting the
// forwarding tables and agent/X11 permissions the user previously
// established, bounding the number of HandleOpen calls in progress at
// once via golang.org/x/sync/semaphore. HandleOpen runs on the caller's
// goroutine and starts none of its own.
package incoming

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"vex.systems/sshcore/internal/agentclient"
	"vex.systems/sshcore/internal/chanmgr"
	"vex.systems/sshcore/internal/globalreq"
	"vex.systems/sshcore/internal/transport"
	"vex.systems/sshcore/internal/transport/wire"
)

// maxConcurrentOpens bounds HandleOpen calls in progress at once; an open
// that arrives while that many are in progress is rejected with
// RESOURCE_SHORTAGE.
const maxConcurrentOpens = 32

// TCPConnInfo is delivered with a "tcp connection" event.
type TCPConnInfo struct {
	DestAddr, DestPort string
	SrcAddr            string
	SrcPort            uint32
}

// UnixConnInfo is delivered with a "unix connection" event.
type UnixConnInfo struct {
	SocketPath string
}

// X11Info is delivered with an "x11" event.
type X11Info struct {
	OriginAddr string
	OriginPort uint32
}

// Sinks are the user-visible events for server-initiated channel opens.
// accept materializes the channel and confirms it on the wire; reject
// sends CHANNEL_OPEN_FAILURE with the caller's chosen reason.
type Sinks struct {
	OnTCPConnection  func(info TCPConnInfo, accept func() *chanmgr.Channel, reject func(reason transport.OpenFailureReason))
	OnUnixConnection func(info UnixConnInfo, accept func() *chanmgr.Channel, reject func(reason transport.OpenFailureReason))
	OnX11            func(info X11Info, accept func() *chanmgr.Channel, reject func(reason transport.OpenFailureReason))
}

// Router dispatches inbound CHANNEL_OPEN requests.
type Router struct {
	t      transport.Transport
	mgr    *chanmgr.Manager
	tables *globalreq.Tables
	agent  agentclient.Agent
	sinks  Sinks
	log    zerolog.Logger
	sem    *semaphore.Weighted
}

func New(t transport.Transport, mgr *chanmgr.Manager, tables *globalreq.Tables, agent agentclient.Agent, sinks Sinks, log zerolog.Logger) *Router {
	return &Router{t: t, mgr: mgr, tables: tables, agent: agent, sinks: sinks, log: log, sem: semaphore.NewWeighted(maxConcurrentOpens)}
}

// HandleOpen dispatches a server-initiated CHANNEL_OPEN.
func (r *Router) HandleOpen(open transport.ChannelOpen) {
	if !r.sem.TryAcquire(1) {
		r.rejectDirect(open.RemoteID, transport.OpenResourceShortage)
		return
	}
	defer r.sem.Release(1)

	switch open.Type {
	case "forwarded-tcpip":
		r.handleForwardedTCP(open)
	case "forwarded-streamlocal@openssh.com":
		r.handleForwardedUnix(open)
	case "auth-agent@openssh.com":
		r.handleAgentForward(open)
	case "x11":
		r.handleX11(open)
	default:
		r.rejectDirect(open.RemoteID, transport.OpenUnknownChannelType)
	}
}

func (r *Router) handleForwardedTCP(open transport.ChannelOpen) {
	var extra wire.DirectTCPIPExtraData
	if err := wire.Unmarshal(open.Data, &extra); err != nil {
		r.rejectDirect(open.RemoteID, transport.OpenAdministrativelyProhibited)
		return
	}
	destPort := extra.DestPort
	if actual, ok := r.tables.LookupTCPForward(extra.DestAddr, extra.DestPort); ok {
		destPort = actual
	} else {
		r.rejectDirect(open.RemoteID, transport.OpenAdministrativelyProhibited)
		return
	}
	info := TCPConnInfo{DestAddr: extra.DestAddr, DestPort: fmt.Sprintf("%d", destPort), SrcAddr: extra.SrcAddr, SrcPort: extra.SrcPort}

	accept, reject := r.acceptReject(open, "direct-tcpip")
	if r.sinks.OnTCPConnection != nil {
		r.sinks.OnTCPConnection(info, accept, reject)
	} else {
		reject(transport.OpenAdministrativelyProhibited)
	}
}

func (r *Router) handleForwardedUnix(open transport.ChannelOpen) {
	var extra wire.DirectStreamLocalExtraData
	if err := wire.Unmarshal(open.Data, &extra); err != nil || !r.tables.HasUnixForward(extra.SocketPath) {
		r.rejectDirect(open.RemoteID, transport.OpenAdministrativelyProhibited)
		return
	}
	info := UnixConnInfo{SocketPath: extra.SocketPath}
	accept, reject := r.acceptReject(open, "direct-streamlocal")
	if r.sinks.OnUnixConnection != nil {
		r.sinks.OnUnixConnection(info, accept, reject)
	} else {
		reject(transport.OpenAdministrativelyProhibited)
	}
}

func (r *Router) handleAgentForward(open transport.ChannelOpen) {
	if !r.tables.AgentForwardEnabled() || r.agent == nil {
		r.rejectDirect(open.RemoteID, transport.OpenAdministrativelyProhibited)
		return
	}
	accept, reject := r.acceptReject(open, "auth-agent@openssh.com")
	ch := accept()
	if ch == nil {
		return
	}
	// The channel is accepted and confirmed, but nothing connects it to
	// the agent: Agent.Bridge is not called here or by the facade, so no
	// bytes flow between the channel and the agent socket.
	_ = reject
}

func (r *Router) handleX11(open transport.ChannelOpen) {
	if !r.tables.AcceptsX11() {
		r.rejectDirect(open.RemoteID, transport.OpenAdministrativelyProhibited)
		return
	}
	var extra wire.DirectTCPIPExtraData
	_ = wire.Unmarshal(open.Data, &extra)
	info := X11Info{OriginAddr: extra.SrcAddr, OriginPort: extra.SrcPort}

	accept, reject := r.acceptReject(open, "x11")
	if r.sinks.OnX11 != nil {
		r.sinks.OnX11(info, accept, reject)
	} else {
		reject(transport.OpenAdministrativelyProhibited)
	}
}

// acceptReject builds the accept()/reject() closures handed to a Sinks
// callback: accept() allocates the local id, materializes a Channel,
// updates the manager, and emits CHANNEL_OPEN_CONFIRMATION; reject()
// emits CHANNEL_OPEN_FAILURE with the chosen reason.
func (r *Router) acceptReject(open transport.ChannelOpen, typ string) (accept func() *chanmgr.Channel, reject func(reason transport.OpenFailureReason)) {
	done := false
	accept = func() *chanmgr.Channel {
		if done {
			return nil
		}
		done = true
		id, ok := r.mgr.Add(nil)
		if !ok {
			r.t.ChannelOpenFail(open.RemoteID, transport.OpenResourceShortage, "no free channel ids")
			return nil
		}
		ch := chanmgr.NewChannel(id, open.RemoteID, typ, open.Window, open.PacketSize, chanmgr.MaxWindow, chanmgr.PacketSize, r.t, r.mgr)
		r.mgr.Update(id, ch)
		r.t.ChannelOpenConfirm(open.RemoteID, id, chanmgr.MaxWindow, chanmgr.PacketSize)
		return ch
	}
	reject = func(reasonCode transport.OpenFailureReason) {
		if done {
			return
		}
		done = true
		r.rejectDirect(open.RemoteID, reasonCode)
	}
	return accept, reject
}

func (r *Router) rejectDirect(remoteID uint32, reason transport.OpenFailureReason) {
	r.t.ChannelOpenFail(remoteID, reason, reasonText(reason))
}

func reasonText(reason transport.OpenFailureReason) string {
	switch reason {
	case transport.OpenAdministrativelyProhibited:
		return "administratively prohibited"
	case transport.OpenConnectFailed:
		return "connect failed"
	case transport.OpenUnknownChannelType:
		return "unknown channel type"
	case transport.OpenResourceShortage:
		return "resource shortage"
	default:
		return "rejected"
	}
}

package incoming

import (
	"net"
	"testing"

	"github.com/rs/zerolog"

	"vex.systems/sshcore/internal/agentclient"
	"vex.systems/sshcore/internal/chanmgr"
	"vex.systems/sshcore/internal/globalreq"
	"vex.systems/sshcore/internal/transport"
	"vex.systems/sshcore/internal/transport/wire"
)

type fakeTransport struct {
	transport.Transport
	confirmed []uint32
	failed    []transport.OpenFailureReason
}

func (f *fakeTransport) ChannelOpenConfirm(remoteID, localID, window, packetSize uint32) {
	f.confirmed = append(f.confirmed, remoteID)
}
func (f *fakeTransport) ChannelOpenFail(remoteID uint32, reason transport.OpenFailureReason, desc string) {
	f.failed = append(f.failed, reason)
}

// A forwarded-tcpip CHANNEL_OPEN for a dynamically assigned port routes to
// a "tcp connection" event.
func TestRouterAcceptsForwardedTCPWithDynamicPort(t *testing.T) {
	ft := &fakeTransport{}
	mgr := chanmgr.NewManager()
	tables := globalreq.NewTables()
	tables.RecordTCPForward("0.0.0.0", 0, 8080, false)

	var gotInfo TCPConnInfo
	fired := false
	r := New(ft, mgr, tables, nil, Sinks{
		OnTCPConnection: func(info TCPConnInfo, accept func() *chanmgr.Channel, reject func(transport.OpenFailureReason)) {
			fired = true
			gotInfo = info
			accept()
		},
	}, zerolog.Nop())

	data := wire.Marshal(wire.DirectTCPIPExtraData{DestAddr: "0.0.0.0", DestPort: 8080, SrcAddr: "1.2.3.4", SrcPort: 5555})
	r.HandleOpen(transport.ChannelOpen{Type: "forwarded-tcpip", RemoteID: 42, Window: chanmgr.MaxWindow, PacketSize: chanmgr.PacketSize, Data: data})

	if !fired {
		t.Fatalf("expected OnTCPConnection to fire for a known forwarding")
	}
	if gotInfo.DestAddr != "0.0.0.0" {
		t.Fatalf("expected dest addr to be forwarded, got %+v", gotInfo)
	}
	if len(ft.confirmed) != 1 || ft.confirmed[0] != 42 {
		t.Fatalf("expected CHANNEL_OPEN_CONFIRMATION for remote id 42, got %v", ft.confirmed)
	}
}

func TestRouterRejectsForwardedTCPWithNoMatchingForwarding(t *testing.T) {
	ft := &fakeTransport{}
	mgr := chanmgr.NewManager()
	tables := globalreq.NewTables()

	r := New(ft, mgr, tables, nil, Sinks{}, zerolog.Nop())
	data := wire.Marshal(wire.DirectTCPIPExtraData{DestAddr: "0.0.0.0", DestPort: 9999})
	r.HandleOpen(transport.ChannelOpen{Type: "forwarded-tcpip", RemoteID: 1, Data: data})

	if len(ft.failed) != 1 || ft.failed[0] != transport.OpenAdministrativelyProhibited {
		t.Fatalf("expected administratively-prohibited rejection, got %v", ft.failed)
	}
}

func TestRouterRejectsUnknownChannelType(t *testing.T) {
	ft := &fakeTransport{}
	mgr := chanmgr.NewManager()
	tables := globalreq.NewTables()

	r := New(ft, mgr, tables, nil, Sinks{}, zerolog.Nop())
	r.HandleOpen(transport.ChannelOpen{Type: "made-up-type", RemoteID: 7})

	if len(ft.failed) != 1 || ft.failed[0] != transport.OpenUnknownChannelType {
		t.Fatalf("expected unknown-channel-type rejection, got %v", ft.failed)
	}
}

func TestRouterRejectsX11WhenNotAccepting(t *testing.T) {
	ft := &fakeTransport{}
	mgr := chanmgr.NewManager()
	tables := globalreq.NewTables()

	r := New(ft, mgr, tables, nil, Sinks{}, zerolog.Nop())
	r.HandleOpen(transport.ChannelOpen{Type: "x11", RemoteID: 3})

	if len(ft.failed) != 1 || ft.failed[0] != transport.OpenAdministrativelyProhibited {
		t.Fatalf("expected x11 rejected while acceptX11 == 0, got %v", ft.failed)
	}
}

func TestRouterAcceptsX11WhenEnabled(t *testing.T) {
	ft := &fakeTransport{}
	mgr := chanmgr.NewManager()
	tables := globalreq.NewTables()
	tables.IncrementX11()

	fired := false
	r := New(ft, mgr, tables, nil, Sinks{
		OnX11: func(info X11Info, accept func() *chanmgr.Channel, reject func(transport.OpenFailureReason)) {
			fired = true
			accept()
		},
	}, zerolog.Nop())
	r.HandleOpen(transport.ChannelOpen{Type: "x11", RemoteID: 3, Window: chanmgr.MaxWindow, PacketSize: chanmgr.PacketSize})

	if !fired {
		t.Fatalf("expected OnX11 to fire once acceptX11 > 0")
	}
	if len(ft.confirmed) != 1 {
		t.Fatalf("expected the accepted x11 channel to be confirmed")
	}
}

func TestRouterAcceptsAgentForwardWhenLatched(t *testing.T) {
	ft := &fakeTransport{}
	mgr := chanmgr.NewManager()
	tables := globalreq.NewTables()
	tables.LatchAgentForward()

	r := New(ft, mgr, tables, fakeAgent{}, Sinks{}, zerolog.Nop())
	r.HandleOpen(transport.ChannelOpen{Type: "auth-agent@openssh.com", RemoteID: 9, Window: chanmgr.MaxWindow, PacketSize: chanmgr.PacketSize})

	if len(ft.confirmed) != 1 {
		t.Fatalf("expected agent-forward channel to be confirmed once latched, got %v/%v", ft.confirmed, ft.failed)
	}
}

type fakeAgent struct{}

func (fakeAgent) List() ([]agentclient.Key, error)                          { return nil, nil }
func (fakeAgent) Sign(key agentclient.Key, data []byte) ([]byte, error)     { return nil, nil }
func (fakeAgent) Bridge(channel net.Conn) error                             { return nil }

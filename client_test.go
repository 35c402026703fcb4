package sshcore

import (
	"fmt"
	"net"
	"testing"

	"github.com/rs/zerolog"

	"vex.systems/sshcore/internal/bytestream"
	"vex.systems/sshcore/internal/chanmgr"
	"vex.systems/sshcore/internal/transport"
)

// fakeTransport records the wire calls Client makes, enough to drive
// channel-open and channel-request round trips without a real socket.
type fakeTransport struct {
	transport.Transport

	opened   []uint32
	requests []string
	forwards []string
	pings    int
}

func (f *fakeTransport) Ping() { f.pings++ }

func (f *fakeTransport) OpenSession(localID uint32, window, packetSize uint32) {
	f.opened = append(f.opened, localID)
}
func (f *fakeTransport) OpenDirectTCPIP(localID uint32, window, packetSize uint32, addrs transport.DirectTCPIPAddrs) {
	f.opened = append(f.opened, localID)
}
func (f *fakeTransport) OpenDirectStreamLocal(localID uint32, window, packetSize uint32, socketPath string) {
	f.opened = append(f.opened, localID)
}
func (f *fakeTransport) ChannelRequest(remoteID uint32, reqType string, wantReply bool, data []byte) {
	f.requests = append(f.requests, reqType)
}
func (f *fakeTransport) ChannelClose(remoteID uint32)      {}
func (f *fakeTransport) ChannelFailure(remoteID uint32)    {}
func (f *fakeTransport) TCPIPForward(addr string, port uint32, wantReply bool) {
	f.forwards = append(f.forwards, fmt.Sprintf("tcpip-forward:%s:%d", addr, port))
}
func (f *fakeTransport) CancelTCPIPForward(addr string, port uint32, wantReply bool) {
	f.forwards = append(f.forwards, fmt.Sprintf("cancel-tcpip-forward:%s:%d", addr, port))
}
func (f *fakeTransport) OpenSSHNoMoreSessions(wantReply bool) {
	f.forwards = append(f.forwards, "no-more-sessions")
}
func (f *fakeTransport) OpenSSHStreamLocalForward(path string, wantReply bool) {
	f.forwards = append(f.forwards, "streamlocal-forward:"+path)
}
func (f *fakeTransport) OpenSSHCancelStreamLocalForward(path string, wantReply bool) {
	f.forwards = append(f.forwards, "cancel-streamlocal-forward:"+path)
}
func (f *fakeTransport) CompatFlags() transport.CompatFlags { return 0 }

// newTestClient builds a Client wired to a fake transport and a live
// (net.Pipe-backed) byte stream, so c.connected() reports true the way it
// would after a real Connect, without dialing anything.
func newTestClient() (*Client, *fakeTransport) {
	ft := &fakeTransport{}
	c := New(Config{Username: "u", NewTransport: func(transport.AlgorithmOffer, transport.Sinks) (transport.Transport, error) {
		return ft, nil
	}})
	c.t = ft
	clientEnd, _ := net.Pipe()
	c.conn = bytestream.New(clientEnd, bytestream.Sinks{}, zerolog.Nop())
	return c, ft
}

func asSSHError(t *testing.T, err error) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a non-nil error")
	}
	sshErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	return sshErr
}

func TestConnectRequiresUsername(t *testing.T) {
	c := New(Config{NewTransport: func(transport.AlgorithmOffer, transport.Sinks) (transport.Transport, error) {
		return &fakeTransport{}, nil
	}})
	err := asSSHError(t, c.Connect(nil))
	if err.Level != LevelClientAuth {
		t.Fatalf("expected a LevelClientAuth error, got %v", err)
	}
}

func TestConnectRequiresNewTransport(t *testing.T) {
	c := New(Config{Username: "u"})
	err := asSSHError(t, c.Connect(nil))
	if err.Level != LevelProtocol {
		t.Fatalf("expected a LevelProtocol error, got %v", err)
	}
}

func TestConnectRequiresNewAgentWhenAgentForward(t *testing.T) {
	c := New(Config{
		Username:     "u",
		AgentForward: true,
		NewTransport: func(transport.AlgorithmOffer, transport.Sinks) (transport.Transport, error) {
			return &fakeTransport{}, nil
		},
	})
	err := asSSHError(t, c.Connect(nil))
	if err.Level != LevelAgent {
		t.Fatalf("expected a LevelAgent error, got %v", err)
	}
}

// Exec opens a session channel, confirms it, and runs the exec step of
// the session request pipeline through to completion.
func TestExecOpensSessionAndRunsPipeline(t *testing.T) {
	c, ft := newTestClient()
	sinks := c.buildTransportSinks()

	var gotCh Channel
	var gotErr error
	done := make(chan struct{})
	c.Exec("uptime", Options{}, func(ch Channel, err error) {
		gotCh, gotErr = ch, err
		close(done)
	})

	if len(ft.opened) != 1 {
		t.Fatalf("expected exactly one OpenSession call, got %d", len(ft.opened))
	}
	localID := ft.opened[0]

	sinks.OnChannelOpenConfirmation(localID, 99, 2*1024*1024, 32*1024)

	if len(ft.requests) != 1 || ft.requests[0] != "exec" {
		t.Fatalf("expected a single exec channel-request, got %v", ft.requests)
	}

	sinks.OnChannelSuccess(localID)
	<-done

	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotCh.RemoteID() != 99 {
		t.Fatalf("expected remote id 99, got %d", gotCh.RemoteID())
	}
	if gotCh.Subtype() != "exec" {
		t.Fatalf("expected subtype exec, got %q", gotCh.Subtype())
	}
}

func TestExecChannelOpenFailureReportsError(t *testing.T) {
	c, ft := newTestClient()
	sinks := c.buildTransportSinks()

	var gotErr error
	done := make(chan struct{})
	c.Shell(Options{}, func(ch Channel, err error) {
		gotErr = err
		close(done)
	})

	localID := ft.opened[0]
	sinks.OnChannelOpenFailure(localID, transport.OpenAdministrativelyProhibited, "denied")
	<-done

	if gotErr == nil {
		t.Fatalf("expected an error on channel-open failure")
	}
	if pending, _ := c.mgr.Get(localID); pending != nil {
		t.Fatalf("expected the id slot to be released after open failure")
	}
}

// Subsystem drives the pipeline's subsystem branch.
func TestSubsystemRunsSubsystemStep(t *testing.T) {
	c, ft := newTestClient()
	sinks := c.buildTransportSinks()

	done := make(chan struct{})
	c.Subsystem("sftp", Options{}, func(ch Channel, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		close(done)
	})

	localID := ft.opened[0]
	sinks.OnChannelOpenConfirmation(localID, 1, chanmgr.MaxWindow, chanmgr.PacketSize)
	if len(ft.requests) != 1 || ft.requests[0] != "subsystem" {
		t.Fatalf("expected a single subsystem channel-request, got %v", ft.requests)
	}
	sinks.OnChannelSuccess(localID)
	<-done
}

// Destroy tears down the connection and fails every still-pending
// channel-open continuation.
func TestDestroyFailsPendingOpens(t *testing.T) {
	c, _ := newTestClient()

	var gotErr error
	done := make(chan struct{})
	c.Exec("uptime", Options{}, func(ch Channel, err error) {
		gotErr = err
		close(done)
	})

	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	<-done
	if gotErr == nil {
		t.Fatalf("expected the pending Exec to fail once Destroy tore the connection down")
	}
}

// Destroy is safe to call twice; the second call is a no-op.
func TestDestroyIsIdempotent(t *testing.T) {
	c, _ := newTestClient()
	if err := c.Destroy(); err != nil {
		t.Fatalf("first Destroy: %v", err)
	}
	if err := c.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
}

func TestIDIsStableAndNonEmpty(t *testing.T) {
	c, _ := newTestClient()
	if c.ID() == "" {
		t.Fatalf("expected a non-empty correlation id")
	}
	if c.ID() != c.ID() {
		t.Fatalf("expected ID() to be stable across calls")
	}
}

package sessionreq

import (
	"testing"

	"vex.systems/sshcore/internal/chanmgr"
	"vex.systems/sshcore/internal/transport"
)

type fakeTransport struct {
	transport.Transport
	requests []string
}

func (f *fakeTransport) ChannelRequest(remoteID uint32, reqType string, wantReply bool, data []byte) {
	f.requests = append(f.requests, reqType)
}
func (f *fakeTransport) ChannelData(remoteID uint32, data []byte)                 {}
func (f *fakeTransport) ChannelExtendedData(remoteID uint32, t uint32, data []byte) {}
func (f *fakeTransport) ChannelWindowAdjust(remoteID uint32, n uint32)            {}
func (f *fakeTransport) ChannelEOF(remoteID uint32)                              {}
func (f *fakeTransport) ChannelClose(remoteID uint32)                            {}
func (f *fakeTransport) ChannelFailure(remoteID uint32)                          {}

func newChannel(ft *fakeTransport) *chanmgr.Channel {
	mgr := chanmgr.NewManager()
	return chanmgr.NewChannel(0, 1, "session", chanmgr.MaxWindow, chanmgr.PacketSize, chanmgr.MaxWindow, chanmgr.PacketSize, ft, mgr)
}

// resolveAllSuccess walks the channel's pending request FIFO, simulating a
// server that answers CHANNEL_SUCCESS to everything, in the order sent.
func resolveAllSuccess(ch *chanmgr.Channel, n int) {
	for i := 0; i < n; i++ {
		ch.OnSuccess()
	}
}

func TestPipelineShellDefaultsWithPty(t *testing.T) {
	ft := &fakeTransport{}
	ch := newChannel(ft)

	var gotCh *chanmgr.Channel
	var gotErr error
	Run(ch, Options{
		Pty:      &PtyRequest{Term: "xterm", Cols: 80, Rows: 24},
		Terminal: TerminalShell,
	}, func(c *chanmgr.Channel, err error) {
		gotCh, gotErr = c, err
	})

	resolveAllSuccess(ch, 2) // pty-req, shell

	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotCh == nil {
		t.Fatalf("expected channel to be delivered on success")
	}
	want := []string{"pty-req", "shell"}
	if len(ft.requests) != len(want) {
		t.Fatalf("expected %v, got %v", want, ft.requests)
	}
	for i := range want {
		if ft.requests[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ft.requests)
		}
	}
	if ch.Subtype() != "shell" {
		t.Fatalf("expected channel subtype 'shell', got %q", ch.Subtype())
	}
}

func TestPipelineShellDefaultsToPtyWhenUnset(t *testing.T) {
	ft := &fakeTransport{}
	ch := newChannel(ft)

	Run(ch, Options{Terminal: TerminalShell}, func(c *chanmgr.Channel, err error) {})
	resolveAllSuccess(ch, 2) // pty-req, shell

	want := []string{"pty-req", "shell"}
	if len(ft.requests) != len(want) {
		t.Fatalf("expected %v, got %v", want, ft.requests)
	}
	for i := range want {
		if ft.requests[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ft.requests)
		}
	}
}

func TestPipelineShellNoPtySkipsPtyReq(t *testing.T) {
	ft := &fakeTransport{}
	ch := newChannel(ft)

	Run(ch, Options{Terminal: TerminalShell, NoPty: true}, func(c *chanmgr.Channel, err error) {})
	resolveAllSuccess(ch, 1) // shell only

	if len(ft.requests) != 1 || ft.requests[0] != "shell" {
		t.Fatalf("expected only a shell request, got %v", ft.requests)
	}
}

func TestPipelineExecNeverDefaultsToPty(t *testing.T) {
	ft := &fakeTransport{}
	ch := newChannel(ft)

	Run(ch, Options{Terminal: TerminalExec, Cmd: "uptime"}, func(c *chanmgr.Channel, err error) {})
	resolveAllSuccess(ch, 1) // exec only

	if len(ft.requests) != 1 || ft.requests[0] != "exec" {
		t.Fatalf("expected only an exec request, no default pty, got %v", ft.requests)
	}
}

func TestPipelineExecFullChain(t *testing.T) {
	ft := &fakeTransport{}
	ch := newChannel(ft)

	done := false
	Run(ch, Options{
		AgentForward: true,
		X11:          &transport.X11Config{AuthProtocol: "MIT-MAGIC-COOKIE-1"},
		Terminal:     TerminalExec,
		Cmd:          "ls -la",
	}, func(c *chanmgr.Channel, err error) {
		done = err == nil && c != nil
	})

	resolveAllSuccess(ch, 3) // auth-agent-req, x11-req, exec

	if !done {
		t.Fatalf("expected pipeline to complete successfully")
	}
	want := []string{"auth-agent-req@openssh.com", "x11-req", "exec"}
	if len(ft.requests) != len(want) {
		t.Fatalf("expected %v, got %v", want, ft.requests)
	}
	if ch.Subtype() != "exec" {
		t.Fatalf("expected subtype 'exec', got %q", ch.Subtype())
	}
}

func TestPipelineStepFailureClosesChannelAndReportsError(t *testing.T) {
	ft := &fakeTransport{}
	ch := newChannel(ft)

	var gotErr error
	Run(ch, Options{
		Pty:      &PtyRequest{Term: "xterm"},
		Terminal: TerminalShell,
	}, func(c *chanmgr.Channel, err error) {
		gotErr = err
	})

	ch.OnFailure() // pty-req fails

	if gotErr == nil {
		t.Fatalf("expected an error when the first pipeline step fails")
	}
	if len(ft.requests) != 1 {
		t.Fatalf("expected the shell step to never be sent after pty-req failed, got %v", ft.requests)
	}
}

func TestPipelineSubsystem(t *testing.T) {
	ft := &fakeTransport{}
	ch := newChannel(ft)

	Run(ch, Options{Terminal: TerminalSubsystem, SubsystemName: "sftp"}, func(c *chanmgr.Channel, err error) {})
	resolveAllSuccess(ch, 1)

	if len(ft.requests) != 1 || ft.requests[0] != "subsystem" {
		t.Fatalf("expected a single subsystem request, got %v", ft.requests)
	}
	if ch.Subtype() != "subsystem" {
		t.Fatalf("expected subtype 'subsystem', got %q", ch.Subtype())
	}
}

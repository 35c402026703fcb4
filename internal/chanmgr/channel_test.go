package chanmgr

import (
	"testing"

	"vex.systems/sshcore/internal/transport"
)

// fakeTransport records the channel-layer calls Channel makes, enough to
// drive window-exhaustion and request-FIFO test scenarios.
type fakeTransport struct {
	transport.Transport
	dataSent   [][]byte
	failures   int
	winAdjusts []uint32
}

func (f *fakeTransport) ChannelData(remoteID uint32, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.dataSent = append(f.dataSent, cp)
}
func (f *fakeTransport) ChannelExtendedData(remoteID uint32, dataType uint32, data []byte) {}
func (f *fakeTransport) ChannelWindowAdjust(remoteID uint32, n uint32)                      { f.winAdjusts = append(f.winAdjusts, n) }
func (f *fakeTransport) ChannelEOF(remoteID uint32)                                         {}
func (f *fakeTransport) ChannelClose(remoteID uint32)                                       {}
func (f *fakeTransport) ChannelRequest(remoteID uint32, reqType string, wantReply bool, data []byte) {
}
func (f *fakeTransport) ChannelFailure(remoteID uint32) { f.failures++ }

func totalSent(f *fakeTransport) int {
	n := 0
	for _, b := range f.dataSent {
		n += len(b)
	}
	return n
}

// Scenario 3: window exhaustion and resume.
func TestChannelWriteSplitsAtWindowAndResumes(t *testing.T) {
	ft := &fakeTransport{}
	mgr := NewManager()
	ch := NewChannel(0, 1, "session", 10, PacketSize, MaxWindow, PacketSize, ft, mgr)

	done := make(chan struct{})
	var gotN int
	var gotErr error
	ch.Write(make([]byte, 25), func(n int, err error) {
		gotN, gotErr = n, err
		close(done)
	})

	if got := totalSent(ft); got != 10 {
		t.Fatalf("expected 10 bytes emitted before window exhaustion, got %d", got)
	}

	select {
	case <-done:
		t.Fatalf("write callback fired before the remainder could be sent")
	default:
	}

	ch.OnWindowAdjust(20)

	<-done
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotN != 25 {
		t.Fatalf("expected 25 bytes total accepted, got %d", gotN)
	}
	if got := totalSent(ft); got != 25 {
		t.Fatalf("expected 25 bytes emitted overall, got %d", got)
	}
}

// Per-channel request callbacks fire in submission order.
func TestChannelRequestCallbacksFIFO(t *testing.T) {
	ft := &fakeTransport{}
	mgr := NewManager()
	ch := NewChannel(0, 1, "session", MaxWindow, PacketSize, MaxWindow, PacketSize, ft, mgr)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		if err := ch.SendRequest("env", true, nil, func(failed bool) {
			order = append(order, i)
		}); err != nil {
			t.Fatalf("SendRequest: %v", err)
		}
	}

	ch.OnSuccess()
	ch.OnFailure()
	ch.OnSuccess()

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("expected callbacks invoked in submission order 0,1,2; got %v", order)
	}
}

func TestChannelDataDroppedWhenWindowZero(t *testing.T) {
	ft := &fakeTransport{}
	mgr := NewManager()
	ch := NewChannel(0, 1, "session", MaxWindow, PacketSize, 0, PacketSize, ft, mgr)

	ch.OnData([]byte("hello"))

	buf := make([]byte, 16)
	pipeCh := make(chan int, 1)
	go func() {
		n, _ := ch.primary.Read(buf)
		pipeCh <- n
	}()
	ch.primary.pushEOF()
	if n := <-pipeCh; n != 0 {
		t.Fatalf("expected no data pushed through when incoming window is zero, got %d bytes", n)
	}
}

func TestChannelWindowAdjustRestoresThreshold(t *testing.T) {
	ft := &fakeTransport{}
	mgr := NewManager()
	// Start just above the threshold so a small payload (well under the
	// pipe's highWaterMark, so no backpressure withholds credit) crosses it.
	initial := WindowThreshold + 16
	ch := NewChannel(0, 1, "session", MaxWindow, PacketSize, initial, PacketSize, ft, mgr)

	big := make([]byte, initial-WindowThreshold+1)
	ch.OnData(big)

	if len(ft.winAdjusts) != 1 {
		t.Fatalf("expected exactly one window adjust once incoming window crossed the threshold, got %d", len(ft.winAdjusts))
	}
}

func TestChannelEOFPushesBothReadableEnds(t *testing.T) {
	ft := &fakeTransport{}
	mgr := NewManager()
	ch := NewChannel(0, 1, "session", MaxWindow, PacketSize, MaxWindow, PacketSize, ft, mgr)

	ch.OnEOF()

	if _, err := ch.primary.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected EOF on primary after CHANNEL_EOF")
	}
	if _, err := ch.stderr.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected EOF on stderr after CHANNEL_EOF")
	}
}

func TestChannelExitSignaledOnlyOnce(t *testing.T) {
	ft := &fakeTransport{}
	mgr := NewManager()
	ch := NewChannel(0, 1, "session", MaxWindow, PacketSize, MaxWindow, PacketSize, ft, mgr)

	var calls int
	ch.OnExit(func(code *int, signal string, coreDumped bool, message string) { calls++ })

	ch.OnRequest("exit-status", false, []byte{0, 0, 0, 0})
	ch.OnRequest("exit-signal", false, nil)

	if calls != 1 {
		t.Fatalf("expected exit to be signaled exactly once, got %d calls", calls)
	}
	if !ch.Exit().Set || ch.Exit().Code == nil || *ch.Exit().Code != 0 {
		t.Fatalf("expected exit record to hold the first exit-status, got %+v", ch.Exit())
	}
}

func TestChannelUnknownRequestRepliesFailureWhenWantReply(t *testing.T) {
	ft := &fakeTransport{}
	mgr := NewManager()
	ch := NewChannel(0, 1, "session", MaxWindow, PacketSize, MaxWindow, PacketSize, ft, mgr)

	ch.OnRequest("made-up-type", true, nil)
	if ft.failures != 1 {
		t.Fatalf("expected channel-failure reply for unknown request type, got %d", ft.failures)
	}

	ch.OnRequest("made-up-type", false, nil)
	if ft.failures != 1 {
		t.Fatalf("expected no reply when wantReply is false, got %d failures", ft.failures)
	}
}

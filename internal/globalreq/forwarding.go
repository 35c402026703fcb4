package globalreq

import (
	"fmt"
	"sync"
)

// Tables holds the forwarding bookkeeping: which addr:port and
// socket-path forwardings are currently bound, plus the X11/agent
// forwarding counters the Incoming Channel Router consults.
type Tables struct {
	mu sync.Mutex

	tcp map[string]uint32 // "addr:peerReportedPort" -> actualPort, keyed for LookupTCPForward
	// tcpByRequest maps "addr:requestedPort" (stable across the
	// ForwardIn/UnforwardIn pair a caller issues) to the tcp key it was
	// filed under, since that depends on the peer's compat flag and
	// UnforwardIn otherwise has no way to reconstruct it.
	tcpByRequest map[string]string
	unix         map[string]bool // socket paths currently bound

	acceptX11     int
	agentFwdEnabled bool
}

func NewTables() *Tables {
	return &Tables{
		tcp:          make(map[string]uint32),
		tcpByRequest: make(map[string]string),
		unix:         make(map[string]bool),
	}
}

func tcpKey(addr string, port uint32) string { return fmt.Sprintf("%s:%d", addr, port) }

// tcpReportedPort picks which port a forwarded-tcpip CHANNEL_OPEN will
// echo back for this binding: a peer with the DynamicRPortBug compat flag
// set echoes the originally requested port verbatim (even when it was 0
// and the server picked a different one); a compliant peer echoes the
// actual assigned port. The table must be keyed to match whichever the
// peer will actually send, or LookupTCPForward never matches.
func tcpReportedPort(requestedPort, actualPort uint32, dynamicRPortBug bool) uint32 {
	if dynamicRPortBug {
		return requestedPort
	}
	return actualPort
}

// RecordTCPForward records a bound remote TCP forwarding. actualPort is
// the real bound port (which may differ from requestedPort when it was
// requested as 0 and the server assigned one); dynamicRPortBug is the
// peer's transport.CompatFlags().DynamicRPort().
func (t *Tables) RecordTCPForward(addr string, requestedPort, actualPort uint32, dynamicRPortBug bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reportedKey := tcpKey(addr, tcpReportedPort(requestedPort, actualPort, dynamicRPortBug))
	t.tcp[reportedKey] = actualPort
	t.tcpByRequest[tcpKey(addr, requestedPort)] = reportedKey
}

// RemoveTCPForward releases a binding previously recorded under
// requestedPort.
func (t *Tables) RemoveTCPForward(addr string, requestedPort uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reqKey := tcpKey(addr, requestedPort)
	if reportedKey, ok := t.tcpByRequest[reqKey]; ok {
		delete(t.tcp, reportedKey)
		delete(t.tcpByRequest, reqKey)
	}
}

// LookupTCPForward reports whether a forwarded-tcpip CHANNEL_OPEN for
// (destAddr, destPort) matches a forwarding this client established,
// returning the actual bound port to rewrite the channel-open data with.
func (t *Tables) LookupTCPForward(destAddr string, destPort uint32) (actualPort uint32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	actual, exists := t.tcp[tcpKey(destAddr, destPort)]
	return actual, exists
}

func (t *Tables) RecordUnixForward(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unix[path] = true
}

func (t *Tables) RemoveUnixForward(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.unix, path)
}

func (t *Tables) HasUnixForward(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unix[path]
}

// IncrementX11 is called each time a channel's x11-req succeeds.
func (t *Tables) IncrementX11() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acceptX11++
}

func (t *Tables) AcceptsX11() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acceptX11 > 0
}

// LatchAgentForward is called once a channel's auth-agent-req succeeds;
// it latches true permanently and is never reset.
func (t *Tables) LatchAgentForward() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agentFwdEnabled = true
}

func (t *Tables) AgentForwardEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agentFwdEnabled
}

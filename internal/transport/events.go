package transport

// Sinks is the full set of callbacks a Transport implementation invokes as
// it parses inbound bytes. Every callback runs on whatever
// goroutine calls Parse; the driver in driver.go calls Parse on the
// goroutine that calls Feed, and the client facade calls Feed from its
// single dispatch loop.
type Sinks struct {
	OnWrite func(b []byte) // outbound bytes ready to write to the socket

	OnHeader            func(banner string)
	OnHandshakeComplete func(info HandshakeInfo)
	OnServiceAccept     func(service string)

	OnUserauthBanner       func(msg string)
	OnUserauthFailure      func(methodsLeft []string, partial bool)
	OnUserauthSuccess      func()
	OnUserauthPKOK         func(keyAlgo string, keyBlob []byte)
	OnUserauthPasswdChange func(prompt string)
	OnUserauthInfoRequest  func(name, instructions string, prompts []Prompt)

	OnGlobalRequest func(req GlobalRequest)
	OnRequestReply  func(success bool, data []byte)

	OnChannelOpen             func(open ChannelOpen)
	OnChannelOpenConfirmation func(localID, remoteID, window, packetSize uint32)
	OnChannelOpenFailure      func(localID uint32, reason OpenFailureReason, desc string)
	OnChannelWindowAdjust     func(localID uint32, bytesToAdd uint32)
	OnChannelData             func(localID uint32, data []byte)
	OnChannelExtendedData     func(localID uint32, dataType uint32, data []byte)
	OnChannelEOF              func(localID uint32)
	OnChannelClose            func(localID uint32)
	OnChannelRequest          func(localID uint32, req ChannelRequest)
	OnChannelSuccess          func(localID uint32)
	OnChannelFailure          func(localID uint32)

	OnDebug      func(alwaysDisplay bool, msg string)
	OnDisconnect func(reason DisconnectReason, desc string)
	OnError      func(err *Error)
}

// HandshakeInfo carries what the client facade surfaces as its "handshake"
// event: negotiated algorithms and the remote identification string.
type HandshakeInfo struct {
	RemoteIdent string
	KEX         string
	ServerHostKey string
	CipherClientToServer string
	CipherServerToClient string
}

// Prompt is one keyboard-interactive prompt.
type Prompt struct {
	Prompt string
	Echo   bool
}

// GlobalRequest is a connection-level request the peer sent that isn't
// tied to a channel; sshcore, as a client, only ever replies "failure" to
// unrecognized global requests it did not itself initiate.
type GlobalRequest struct {
	Type      string
	WantReply bool
	Data      []byte
}

// ChannelOpen is a server-initiated CHANNEL_OPEN.
type ChannelOpen struct {
	Type       string
	RemoteID   uint32
	Window     uint32
	PacketSize uint32
	Data       []byte
}

// ChannelRequest is a CHANNEL_REQUEST delivered to an already-open channel.
type ChannelRequest struct {
	Type      string
	WantReply bool
	Data      []byte
}

// Level tags an Error.
type Level string

const (
	LevelHandshake      Level = "handshake"
	LevelProtocol       Level = "protocol"
	LevelClientSocket   Level = "client-socket"
	LevelClientTimeout  Level = "client-timeout"
	LevelClientDNS      Level = "client-dns"
	LevelClientAuth     Level = "client-authentication"
	LevelAgent          Level = "agent"
)

// Error is the typed error used throughout this module: every fatal or
// user-surfaced error carries one of the Level constants above so
// callers (and the client facade's teardown logic) can route on
// it without string matching.
type Error struct {
	Level Level
	Code  int // meaningful for disconnects: the numeric RFC 4253 reason
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(level Level, msg string, cause error) *Error {
	return &Error{Level: level, Msg: msg, Err: cause}
}

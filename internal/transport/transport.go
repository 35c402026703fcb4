// Package transport declares the Transport collaborator: the framed SSH
// transport (packet codec, key exchange, cipher, MAC, compression,
// host-key verification plumbing) that this module treats as an external
// dependency. Nothing in this package performs cryptography; it only
// describes the shape of the collaborator the rest of sshcore drives.
package transport

// AlgorithmOffer is a preference list per algorithm class. A nil/empty
// list means "accept the collaborator's defaults."
type AlgorithmOffer struct {
	KEX            []string
	ServerHostKey  []string
	Cipher         []string
	MAC            []string
	Compress       []string
}

// CompatFlags mirrors the collaborator's "_compatFlags" bitset. Only the
// bit sshcore's global-request pipeline cares about is
// named; the rest of the bitset is opaque to this module.
type CompatFlags uint32

const (
	// DynamicRPortBug marks a peer whose tcpip-forward reply for a
	// requested port of 0 needs the forwarding table keyed by the
	// original requested port rather than the server-assigned one.
	DynamicRPortBug CompatFlags = 1 << iota
)

func (f CompatFlags) DynamicRPort() bool { return f&DynamicRPortBug != 0 }

// Signer signs data with a private key, returning an RFC 4253 formatted
// signature blob (algorithm-name, signature) as produced by
// golang.org/x/crypto/ssh.Signer.Sign. Key parsing and signing themselves
// are external collaborators; this is the narrow surface the
// Authentication Orchestrator needs from them.
type Signer interface {
	PublicKey() PublicKey
	Sign(data []byte) ([]byte, error)
}

// PublicKey is the narrow surface the orchestrator and incoming-channel
// policy need from a public key: its wire type tag and marshaled blob.
type PublicKey interface {
	Type() string
	Marshal() []byte
}

// Transport is the framed-SSH-transport collaborator. A
// concrete implementation owns key exchange, cipher, MAC, and compression;
// sshcore only ever calls these methods and reacts to the Events it is
// configured to deliver.
type Transport interface {
	// Parse feeds inbound bytes to the collaborator. Any framing/protocol
	// error it detects is reported through the configured error sink, not
	// via this method's return value.
	Parse(b []byte)

	// Cleanup releases collaborator-owned resources (cipher state, etc).
	Cleanup()

	// Service requests a protocol service, e.g. "ssh-userauth".
	Service(name string)

	AuthNone(user string)
	AuthPassword(user, pass string, newPass string) // newPass == "" outside a change-request flow
	AuthPK(user string, key PublicKey, sign SignFunc) // sign == nil means "query only" (USERAUTH_PK_OK probe)
	AuthHostbased(user string, key PublicKey, localHostname, localUsername string, sign SignFunc)
	AuthKeyboard(user string)
	AuthInfoRes(answers []string)

	Ping()
	Disconnect(reason DisconnectReason)
	RequestFailure()

	TCPIPForward(addr string, port uint32, wantReply bool)
	CancelTCPIPForward(addr string, port uint32, wantReply bool)
	OpenSSHNoMoreSessions(wantReply bool)
	OpenSSHStreamLocalForward(path string, wantReply bool)
	OpenSSHCancelStreamLocalForward(path string, wantReply bool)

	OpenSession(localID uint32, window, packetSize uint32)
	OpenDirectTCPIP(localID uint32, window, packetSize uint32, addrs DirectTCPIPAddrs)
	OpenDirectStreamLocal(localID uint32, window, packetSize uint32, socketPath string)

	Pty(chanID uint32, rows, cols, height, width uint32, term string, modes []byte, wantReply bool)
	X11Forward(chanID uint32, cfg X11Config, wantReply bool)
	Env(chanID uint32, key, val string)
	Shell(chanID uint32, wantReply bool)
	Exec(chanID uint32, cmd string, wantReply bool)
	Subsystem(chanID uint32, name string, wantReply bool)
	OpenSSHAgentForward(chanID uint32, wantReply bool)

	ChannelOpenConfirm(remoteID, localID, window, packetSize uint32)
	ChannelOpenFail(remoteID uint32, reason OpenFailureReason, desc string)
	ChannelFailure(remoteID uint32)

	// The methods below are channel-layer primitives the Channel contract
	// requires to push bytes, window credit, EOF, and close onto the
	// wire; they are as
	// thin and crypto-free as the rest of this interface.
	ChannelData(remoteID uint32, data []byte)
	ChannelExtendedData(remoteID uint32, dataType uint32, data []byte)
	ChannelWindowAdjust(remoteID uint32, bytesToAdd uint32)
	ChannelEOF(remoteID uint32)
	ChannelClose(remoteID uint32)
	ChannelRequest(remoteID uint32, reqType string, wantReply bool, data []byte)

	CompatFlags() CompatFlags
}

// SignFunc is the signing callback threaded through AuthPK/AuthHostbased.
// The collaborator invokes it with server-supplied data-to-sign and
// forwards the resulting blob on the wire.
type SignFunc func(dataToSign []byte) ([]byte, error)

// DirectTCPIPAddrs is the RFC 4254 §7.2 channel-open payload for
// direct-tcpip / forwarded-tcpip channels.
type DirectTCPIPAddrs struct {
	DestIP    string
	DestPort  uint32
	SrcIP     string
	SrcPort   uint32
}

// X11Config is the payload of an x11-req channel request.
type X11Config struct {
	SingleConnection bool
	AuthProtocol     string
	AuthCookie       string
	ScreenNumber     uint32
}

// DisconnectReason is the RFC 4253 §11.1 numeric disconnect reason.
type DisconnectReason uint32

const (
	DisconnectByApplication DisconnectReason = 11
)

// OpenFailureReason is the RFC 4254 §5.1 channel-open failure code.
type OpenFailureReason uint32

const (
	OpenAdministrativelyProhibited OpenFailureReason = 1
	OpenConnectFailed              OpenFailureReason = 2
	OpenUnknownChannelType         OpenFailureReason = 3
	OpenResourceShortage           OpenFailureReason = 4
)

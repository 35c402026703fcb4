// Package wire holds the small number of RFC 4254 payload structs sshcore
// itself marshals or unmarshals, using golang.org/x/crypto/ssh.Marshal
// and Unmarshal. Everything else in the wire protocol — packet framing,
// kex, cipher, MAC — belongs to the Transport collaborator and never
// appears here.
package wire

import "golang.org/x/crypto/ssh"

// DirectTCPIPExtraData is the RFC 4254 §7.2 channel-open payload for
// direct-tcpip and forwarded-tcpip channels.
type DirectTCPIPExtraData struct {
	DestAddr string
	DestPort uint32
	SrcAddr  string
	SrcPort  uint32
}

// DirectStreamLocalExtraData is the openssh.com vendor extension payload
// for direct-streamlocal@openssh.com / forwarded-streamlocal@openssh.com.
type DirectStreamLocalExtraData struct {
	SocketPath string
	Reserved   string
}

// ExitStatusPayload is the exit-status channel-request payload.
type ExitStatusPayload struct {
	Code uint32
}

// ExitSignalPayload is the exit-signal channel-request payload.
type ExitSignalPayload struct {
	Signal     string
	CoreDumped bool
	Message    string
	Lang       string
}

// TCPIPForwardExtraData is the tcpip-forward / cancel-tcpip-forward global
// request payload.
type TCPIPForwardExtraData struct {
	Addr string
	Port uint32
}

// StreamLocalForwardExtraData is the streamlocal-forward@openssh.com /
// cancel-streamlocal-forward@openssh.com global request payload.
type StreamLocalForwardExtraData struct {
	SocketPath string
}

// PtyRequestPayload is the pty-req channel-request payload.
type PtyRequestPayload struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

// Marshal and Unmarshal re-export golang.org/x/crypto/ssh's struct codec so
// callers in this module never import golang.org/x/crypto/ssh just for
// this, keeping the "framed transport is external" boundary visible at the
// import-graph level.
func Marshal(v interface{}) []byte        { return ssh.Marshal(v) }
func Unmarshal(b []byte, v interface{}) error { return ssh.Unmarshal(b, v) }

// AssignedPort extracts the 4-byte big-endian port OpenSSH returns in the
// REQUEST_SUCCESS payload when tcpip-forward was requested with port 0.
func AssignedPort(data []byte) (uint32, bool) {
	if len(data) < 4 {
		return 0, false
	}
	return uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]), true
}

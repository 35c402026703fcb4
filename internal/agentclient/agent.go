// Package agentclient adapts golang.org/x/crypto/ssh/agent to the narrow
// Agent collaborator contract authentication and forwarded-channel
// bridging need. The agent IPC wire format itself is out of scope: this
// package only calls the library, it does not reimplement the protocol.
package agentclient

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
	sshagent "golang.org/x/crypto/ssh/agent"
)

// Key is one identity the agent can sign with. It is deliberately plain
// data (no embedded ssh.PublicKey) so orchestration code can construct and
// compare Keys without touching golang.org/x/crypto/ssh.
type Key struct {
	TypeName string
	Blob     []byte
	Comment  string
}

func (k Key) Type() string    { return k.TypeName }
func (k Key) Marshal() []byte { return k.Blob }

// Agent is the collaborator surface the Authentication Orchestrator and
// the auth-agent@openssh.com channel bridge need: list keys,
// sign with one, or bridge a forwarded channel directly to the agent.
type Agent interface {
	List() ([]Key, error)
	// Sign returns the raw signature blob for key, with the embedded
	// algorithm tag already verified to equal keyType and then stripped.
	// If the agent's signature algorithm tag does not match keyType, Sign
	// returns an agent-level error.
	Sign(key Key, dataToSign []byte) (sig []byte, err error)
	// Bridge wires a forwarded auth-agent@openssh.com channel directly to
	// the local agent socket, for the Incoming Channel Router.
	Bridge(channel net.Conn) error
}

type client struct {
	mu     sync.Mutex
	extAgent sshagent.ExtendedAgent
	dialer func() (net.Conn, error)
}

// New wraps an already-dialed agent connection (e.g. over SSH_AUTH_SOCK)
// plus a redial func used only by Bridge, which needs a fresh connection
// per forwarded channel.
func New(conn net.Conn, redial func() (net.Conn, error)) Agent {
	return &client{extAgent: sshagent.NewClient(conn), dialer: redial}
}

func (c *client) List() ([]Key, error) {
	signers, err := c.extAgent.Signers()
	if err != nil {
		return nil, fmt.Errorf("agent: failed to list identities: %w", err)
	}
	keys := make([]Key, 0, len(signers))
	for _, s := range signers {
		pk := s.PublicKey()
		keys = append(keys, Key{TypeName: pk.Type(), Blob: pk.Marshal()})
	}
	return keys, nil
}

func (c *client) Sign(key Key, dataToSign []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pub, err := ssh.ParsePublicKey(key.Blob)
	if err != nil {
		return nil, fmt.Errorf("agent: failed to parse key blob: %w", err)
	}
	sig, err := c.extAgent.SignWithFlags(pub, dataToSign, 0)
	if err != nil {
		return nil, fmt.Errorf("agent: sign failed: %w", err)
	}
	if sig.Format != key.Type() {
		return nil, fmt.Errorf("agent: signature algorithm %q does not match key type %q", sig.Format, key.Type())
	}
	return stripAlgoPrefix(ssh.Marshal(sig)), nil
}

// stripAlgoPrefix removes the (algo-length, algo, sig-length) prefix
// golang.org/x/crypto/ssh.Marshal(ssh.Signature{...}) produces, leaving
// only the raw signature bytes.
func stripAlgoPrefix(marshaled []byte) []byte {
	if len(marshaled) < 4 {
		return marshaled
	}
	algoLen := binary.BigEndian.Uint32(marshaled)
	rest := marshaled[4:]
	if uint32(len(rest)) < algoLen {
		return marshaled
	}
	rest = rest[algoLen:]
	if len(rest) < 4 {
		return rest
	}
	sigLen := binary.BigEndian.Uint32(rest)
	rest = rest[4:]
	if uint32(len(rest)) < sigLen {
		return rest
	}
	return rest[:sigLen]
}

func (c *client) Bridge(channel net.Conn) error {
	conn, err := c.dialer()
	if err != nil {
		return fmt.Errorf("agent: bridge dial failed: %w", err)
	}
	go pipe(channel, conn)
	go pipe(conn, channel)
	return nil
}

func pipe(dst, src net.Conn) {
	defer dst.Close()
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

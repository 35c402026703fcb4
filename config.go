package sshcore

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"vex.systems/sshcore/internal/agentclient"
	"vex.systems/sshcore/internal/auth"
	"vex.systems/sshcore/internal/bytestream"
	"vex.systems/sshcore/internal/transport"
)

// NewTransportFunc builds the caller-supplied Transport collaborator
//: sshcore never implements key exchange, cipher, or MAC
// itself, so every Client needs a factory that wires
// one up against the Sinks the facade provides. Required.
type NewTransportFunc func(offer transport.AlgorithmOffer, sinks transport.Sinks) (transport.Transport, error)

// NewAgentFunc builds the caller-supplied Agent collaborator.
// Only invoked when AgentEndpoint or AgentForward is configured.
type NewAgentFunc func(endpoint string) (agentclient.Agent, error)

// Config is the immutable-after-Connect configuration for a Client.
// Parsing config files or flags into this shape is left to the caller; no
// loader is built into this package.
type Config struct {
	Host string
	Port int

	// Conn bypasses dialing entirely when set: the caller supplies an
	// already-connected duplex stream.
	Conn net.Conn

	LocalAddr string
	LocalPort int
	Family    bytestream.Family
	DialTimeout time.Duration

	NewTransport NewTransportFunc // required
	NewAgent     NewAgentFunc     // required iff AgentEndpoint != "" or AgentForward

	ReadyTimeout time.Duration // 0 disables

	KeepaliveInterval  time.Duration // 0 disables
	KeepaliveCountMax  int           // default 3 when negative

	// Identification is stored but not read by Connect or passed to
	// NewTransport; the transport always sends its own banner.
	Identification string

	Username      string // required
	Password      string
	PrivateKey    transport.Signer
	Passphrase    string
	LocalHostname string
	LocalUsername string

	AgentEndpoint string
	AgentForward  bool
	TryKeyboard   bool

	// StrictVendor gates the openssh_* operations behind
	// transport.IsOpenSSHVendor; false (the zero value) runs them
	// unconditionally, true refuses them against a non-OpenSSH peer.
	StrictVendor bool

	AuthHandler auth.Handler // nil selects the default fixed-order handler

	AlgorithmOffer transport.AlgorithmOffer

	// Log is optional; the zero value falls back to zerolog's global
	// logger. The Client hands its logger to every internal package it
	// constructs.
	Log zerolog.Logger
}

// credentials adapts Config to the internal/auth package's narrower view.
func (c Config) credentials() auth.Credentials {
	return auth.Credentials{
		Username:      c.Username,
		Password:      c.Password,
		PrivateKey:    c.PrivateKey,
		Passphrase:    c.Passphrase,
		AgentEndpoint: c.AgentEndpoint,
		TryKeyboard:   c.TryKeyboard,
		LocalHostname: c.LocalHostname,
		LocalUsername: c.LocalUsername,
	}
}

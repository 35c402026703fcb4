package sshcore

import "vex.systems/sshcore/internal/transport"

// Level and Error are direct aliases of the internal/transport types so
// the facade, the orchestrator, and the channel layer all produce the
// exact same tagged-error shape without a translation step at the
// package boundary.
type Level = transport.Level

const (
	LevelHandshake     = transport.LevelHandshake
	LevelProtocol      = transport.LevelProtocol
	LevelClientSocket  = transport.LevelClientSocket
	LevelClientTimeout = transport.LevelClientTimeout
	LevelClientDNS     = transport.LevelClientDNS
	LevelClientAuth    = transport.LevelClientAuth
	LevelAgent         = transport.LevelAgent
)

type Error = transport.Error

// NewError constructs a Level-tagged Error, exported for tests and for
// any caller-supplied collaborator that needs to surface one.
func NewError(level Level, msg string, cause error) *Error {
	return transport.NewError(level, msg, cause)
}

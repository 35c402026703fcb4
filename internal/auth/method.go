// Package auth implements the Authentication Orchestrator:
// it sequences authentication attempts, adapts to server-advertised
// methods, and integrates agent/public-key/password/keyboard-interactive/
// hostbased/none.
package auth

import "vex.systems/sshcore/internal/transport"

const (
	MethodNone                = "none"
	MethodPassword            = "password"
	MethodPublicKey           = "publickey"
	MethodKeyboardInteractive = "keyboard-interactive"
	MethodHostbased           = "hostbased"
	MethodAgent               = "agent"
)

// Credentials is the subset of Config the orchestrator needs
// to derive eligible methods and drive them.
type Credentials struct {
	Username string

	Password string // "" means not configured

	PrivateKey transport.Signer // nil means not configured
	Passphrase string

	AgentEndpoint string // "" means not configured

	TryKeyboard bool

	LocalHostname string
	LocalUsername string
}

// EligibleMethods derives the methods the orchestrator may attempt, in the
// fixed default order: always none; password iff a
// password is set; publickey iff a private key was parsed; agent iff an
// agent endpoint is configured; keyboard-interactive iff opted in;
// hostbased iff a private key plus local hostname/username are all set.
func EligibleMethods(c Credentials) []string {
	methods := []string{MethodNone}
	if c.Password != "" {
		methods = append(methods, MethodPassword)
	}
	if c.PrivateKey != nil {
		methods = append(methods, MethodPublicKey)
	}
	if c.AgentEndpoint != "" {
		methods = append(methods, MethodAgent)
	}
	if c.TryKeyboard {
		methods = append(methods, MethodKeyboardInteractive)
	}
	if c.PrivateKey != nil && c.LocalHostname != "" && c.LocalUsername != "" {
		methods = append(methods, MethodHostbased)
	}
	return methods
}

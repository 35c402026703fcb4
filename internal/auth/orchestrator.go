package auth

import (
	"sync"

	"github.com/rs/zerolog"

	"vex.systems/sshcore/internal/agentclient"
	"vex.systems/sshcore/internal/transport"
)

// Orchestrator is the Authentication Orchestrator. It owns
// no network I/O itself; it drives a transport.Transport and an
// agentclient.Agent and exposes callbacks for the events the client
// facade must surface to the user (banner, change-password,
// keyboard-interactive prompts, ready, and non-fatal per-attempt errors).
type Orchestrator struct {
	t     transport.Transport
	cred  Credentials
	agent agentclient.Agent
	handler Handler
	log   zerolog.Logger

	mu             sync.Mutex
	state          State
	currentMethod  string
	methodsLeft    []string
	partialSuccess bool
	hasSentAuth    bool

	agentKeys   []agentclient.Key
	agentKeyPos int

	OnReady               func()
	OnBanner              func(msg string)
	OnChangePassword      func(prompt string, reply func(newPassword string))
	OnKeyboardInteractive func(name, instructions string, prompts []transport.Prompt, reply func(answers []string))
	OnKeepaliveReset      func()
	// OnAgentError surfaces a non-fatal agent-level error:
	// the orchestrator recovers by advancing on its own; this is purely
	// informational for the caller.
	OnAgentError func(*transport.Error)
	// OnAuthError surfaces a non-fatal per-attempt error from a non-agent
	// auth method (currently: the configured private key's Sign failing);
	// the orchestrator recovers by advancing to the next method on its
	// own, same as OnAgentError does for the agent path.
	OnAuthError func(*transport.Error)
	// OnFatal surfaces a client-authentication error that ends the
	// connection: either exhaustion of the authHandler, or a signing
	// failure that could not be recovered from by advancing methods.
	OnFatal func(*transport.Error)
}

// NewOrchestrator constructs an Orchestrator. If handler is nil, the
// default authHandler (NewDefaultHandler) is used.
func NewOrchestrator(t transport.Transport, cred Credentials, agent agentclient.Agent, handler Handler, log zerolog.Logger) *Orchestrator {
	if handler == nil {
		handler = NewDefaultHandler(cred)
	}
	return &Orchestrator{t: t, cred: cred, agent: agent, handler: handler, log: log, state: StateIdle}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start begins authentication once SERVICE_ACCEPT("ssh-userauth") has been
// observed.
func (o *Orchestrator) Start() {
	o.tryNextAuth()
}

// tryNextAuth asks the authHandler for the next method and dispatches it,
// or ends authentication if the handler signals exhaustion.
func (o *Orchestrator) tryNextAuth() {
	o.mu.Lock()
	if o.state == StateSucceeded || o.state == StateFailed {
		o.mu.Unlock()
		return
	}
	o.state = StateProbing
	o.hasSentAuth = false
	methodsLeft, partial := o.methodsLeft, o.partialSuccess
	o.mu.Unlock()

	next := func(method string, ok bool) {
		o.mu.Lock()
		if o.hasSentAuth {
			o.mu.Unlock()
			return // guard against a Handler calling next twice
		}
		o.hasSentAuth = true
		o.mu.Unlock()

		if !ok {
			o.mu.Lock()
			o.state = StateFailed
			o.mu.Unlock()
			if o.OnFatal != nil {
				o.OnFatal(transport.NewError(transport.LevelClientAuth, "All configured authentication methods failed", nil))
			}
			return
		}
		o.dispatch(method)
	}
	o.handler(methodsLeft, partial, next)
}

func (o *Orchestrator) dispatch(method string) {
	o.mu.Lock()
	o.currentMethod = method
	username := o.cred.Username
	o.mu.Unlock()

	switch method {
	case MethodNone:
		o.t.AuthNone(username)
	case MethodPassword:
		o.t.AuthPassword(username, o.cred.Password, "")
	case MethodKeyboardInteractive:
		o.t.AuthKeyboard(username)
	case MethodPublicKey:
		o.mu.Lock()
		o.state = StateAwaitingPKOk
		o.mu.Unlock()
		o.t.AuthPK(username, o.cred.PrivateKey.PublicKey(), nil)
	case MethodHostbased:
		sign := func(dataToSign []byte) ([]byte, error) {
			return o.cred.PrivateKey.Sign(dataToSign)
		}
		o.t.AuthHostbased(username, o.cred.PrivateKey.PublicKey(), o.cred.LocalHostname, o.cred.LocalUsername, sign)
	case MethodAgent:
		o.startAgent()
	default:
		o.log.Warn().Str("method", method).Msg("authHandler returned an unrecognized method; treating as failure")
		o.OnUserauthFailure(nil, false)
	}
}

func (o *Orchestrator) startAgent() {
	o.mu.Lock()
	o.state = StateAgentListing
	o.mu.Unlock()

	keys, err := o.agent.List()
	if err != nil || len(keys) == 0 {
		if err != nil && o.OnAgentError != nil {
			o.OnAgentError(transport.NewError(transport.LevelAgent, "agent key listing failed", err))
		}
		o.tryNextAuth() // zero keys: fail this method and recurse
		return
	}
	o.mu.Lock()
	o.agentKeys = keys
	o.agentKeyPos = 0
	o.state = StateAgentTrying
	o.mu.Unlock()
	o.probeAgentKey(keys[0])
}

func (o *Orchestrator) probeAgentKey(key agentclient.Key) {
	o.mu.Lock()
	o.state = StateAwaitingPKOk
	o.mu.Unlock()
	o.t.AuthPK(o.cred.Username, key, nil)
}

func (o *Orchestrator) advanceAgentKey() {
	o.mu.Lock()
	o.agentKeyPos++
	pos := o.agentKeyPos
	keys := o.agentKeys
	o.mu.Unlock()
	if pos >= len(keys) {
		o.tryNextAuth()
		return
	}
	o.probeAgentKey(keys[pos])
}

// supportedAgentKeyTypes lists the wire key types the orchestrator can
// drive through USERAUTH_REQUEST; an agent key of any other type is
// skipped in favor of the next one the agent offers.
var supportedAgentKeyTypes = map[string]bool{
	"ssh-ed25519":                    true,
	"ssh-rsa":                        true,
	"rsa-sha2-256":                   true,
	"rsa-sha2-512":                   true,
	"ecdsa-sha2-nistp256":            true,
	"ecdsa-sha2-nistp384":            true,
	"ecdsa-sha2-nistp521":            true,
	"sk-ssh-ed25519@openssh.com":     true,
	"sk-ecdsa-sha2-nistp256@openssh.com": true,
}

// OnUserauthPKOK handles USERAUTH_PK_OK.
func (o *Orchestrator) OnUserauthPKOK(keyAlgo string, keyBlob []byte) {
	o.mu.Lock()
	method := o.currentMethod
	o.mu.Unlock()

	switch method {
	case MethodAgent:
		o.mu.Lock()
		key := o.agentKeys[o.agentKeyPos]
		o.mu.Unlock()
		if !supportedAgentKeyTypes[key.Type()] {
			o.advanceAgentKey()
			return
		}
		sign := func(dataToSign []byte) ([]byte, error) {
			blob, err := o.agent.Sign(key, dataToSign)
			if err != nil {
				if o.OnAgentError != nil {
					o.OnAgentError(transport.NewError(transport.LevelAgent, "agent signature verification failed", err))
				}
				o.advanceAgentKey()
				return nil, err
			}
			return blob, nil
		}
		o.mu.Lock()
		o.state = StateAgentTrying
		o.mu.Unlock()
		o.t.AuthPK(o.cred.Username, key, sign)
	case MethodPublicKey:
		sign := func(dataToSign []byte) ([]byte, error) {
			blob, err := o.cred.PrivateKey.Sign(dataToSign)
			if err != nil {
				if o.OnAuthError != nil {
					o.OnAuthError(transport.NewError(transport.LevelClientAuth, "public key signing failed", err))
				}
				o.tryNextAuth()
				return nil, err
			}
			return blob, nil
		}
		o.mu.Lock()
		o.state = StateProbing
		o.mu.Unlock()
		o.t.AuthPK(o.cred.Username, o.cred.PrivateKey.PublicKey(), sign)
	}
}

// OnUserauthPasswdChangereq handles USERAUTH_PASSWD_CHANGEREQ, meaningful
// only during a password attempt.
func (o *Orchestrator) OnUserauthPasswdChangereq(prompt string) {
	o.mu.Lock()
	if o.currentMethod != MethodPassword {
		o.mu.Unlock()
		return
	}
	o.state = StateAwaitingPasswdChange
	o.mu.Unlock()

	if o.OnChangePassword == nil {
		return
	}
	o.OnChangePassword(prompt, func(newPassword string) {
		o.t.AuthPassword(o.cred.Username, o.cred.Password, newPassword)
	})
}

// OnUserauthInfoRequest handles USERAUTH_INFO_REQUEST for
// keyboard-interactive.
func (o *Orchestrator) OnUserauthInfoRequest(name, instructions string, prompts []transport.Prompt) {
	if len(prompts) == 0 {
		o.t.AuthInfoRes(nil)
		return
	}
	o.mu.Lock()
	o.state = StateAwaitingKbdPrompts
	o.mu.Unlock()

	if o.OnKeyboardInteractive == nil {
		o.t.AuthInfoRes(make([]string, len(prompts)))
		return
	}
	o.OnKeyboardInteractive(name, instructions, prompts, func(answers []string) {
		o.t.AuthInfoRes(answers)
	})
}

// OnUserauthFailure handles USERAUTH_FAILURE.
func (o *Orchestrator) OnUserauthFailure(methodsLeft []string, partial bool) {
	o.mu.Lock()
	method := o.currentMethod
	o.mu.Unlock()

	if method == MethodAgent {
		o.advanceAgentKey()
		return
	}

	o.mu.Lock()
	o.methodsLeft = methodsLeft
	o.partialSuccess = partial
	o.mu.Unlock()
	o.tryNextAuth()
}

// OnUserauthBanner handles USERAUTH_BANNER.
func (o *Orchestrator) OnUserauthBanner(msg string) {
	if o.OnBanner != nil {
		o.OnBanner(msg)
	}
}

// OnUserauthSuccess handles USERAUTH_SUCCESS: resets keepalive and surfaces ready.
func (o *Orchestrator) OnUserauthSuccess() {
	o.mu.Lock()
	o.state = StateSucceeded
	o.mu.Unlock()
	if o.OnKeepaliveReset != nil {
		o.OnKeepaliveReset()
	}
	if o.OnReady != nil {
		o.OnReady()
	}
}

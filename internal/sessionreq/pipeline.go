// Package sessionreq implements the Session Request Pipeline: a FIFO of
// optional per-channel requests (agent-forward, pty, x11) that must each
// succeed before a terminal exec/shell/subsystem request is sent, plus
// the fire-and-forget env requests that sit outside that FIFO.
package sessionreq

import (
	"fmt"

	"vex.systems/sshcore/internal/chanmgr"
	"vex.systems/sshcore/internal/transport"
)

// TerminalKind selects the pipeline's final request.
type TerminalKind int

const (
	TerminalShell TerminalKind = iota
	TerminalExec
	TerminalSubsystem
)

// PtyRequest carries a pty-req's parameters.
type PtyRequest struct {
	Term           string
	Rows, Cols     uint32
	Height, Width  uint32
	Modes          []byte
}

// Options describes one invocation of the pipeline: which optional steps
// to run before the terminal step, and what the terminal step is.
type Options struct {
	AgentForward bool
	Env          map[string]string
	Pty          *PtyRequest
	// NoPty opts a shell out of the pty it otherwise defaults to. Has no
	// effect on TerminalExec/TerminalSubsystem, which never default one.
	NoPty bool
	X11   *transport.X11Config

	Terminal      TerminalKind
	Cmd           string // TerminalExec
	SubsystemName string // TerminalSubsystem
}

// DefaultPty is the pty-req sent by a shell that hasn't set Pty or NoPty
// explicitly.
var DefaultPty = PtyRequest{Term: "xterm-256color", Cols: 80, Rows: 24}

// Run drives ch through Options' steps in order, invoking done exactly
// once: with the channel and its resolved subtype on success, or a
// descriptive error after closing the channel on the first failure.
func Run(ch *chanmgr.Channel, opts Options, done func(*chanmgr.Channel, error)) {
	steps := buildSteps(ch, opts)
	runSteps(ch, steps, 0, opts, done)
}

type step struct {
	name string
	send func(done func(failed bool)) error
}

func buildSteps(ch *chanmgr.Channel, opts Options) []step {
	var steps []step

	if opts.AgentForward {
		steps = append(steps, step{
			name: "auth-agent-req@openssh.com",
			send: func(done func(failed bool)) error {
				return ch.SendRequest("auth-agent-req@openssh.com", true, nil, done)
			},
		})
	}

	pty := opts.Pty
	if pty == nil && opts.Terminal == TerminalShell && !opts.NoPty {
		pty = &DefaultPty
	}
	if pty != nil {
		p := pty
		steps = append(steps, step{
			name: "pty-req",
			send: func(done func(failed bool)) error {
				return ch.SendRequest("pty-req", true, marshalPtyReq(p), done)
			},
		})
	}

	if opts.X11 != nil {
		x := *opts.X11
		steps = append(steps, step{
			name: "x11-req",
			send: func(done func(failed bool)) error {
				return ch.SendRequest("x11-req", true, marshalX11Req(x), done)
			},
		})
	}

	switch opts.Terminal {
	case TerminalExec:
		cmd := opts.Cmd
		steps = append(steps, step{
			name: "exec",
			send: func(done func(failed bool)) error {
				return ch.SendRequest("exec", true, marshalString(cmd), done)
			},
		})
	case TerminalSubsystem:
		name := opts.SubsystemName
		steps = append(steps, step{
			name: "subsystem",
			send: func(done func(failed bool)) error {
				return ch.SendRequest("subsystem", true, marshalString(name), done)
			},
		})
	default:
		steps = append(steps, step{
			name: "shell",
			send: func(done func(failed bool)) error {
				return ch.SendRequest("shell", true, nil, done)
			},
		})
	}

	return steps
}

func runSteps(ch *chanmgr.Channel, steps []step, i int, opts Options, done func(*chanmgr.Channel, error)) {
	if i == 0 {
		sendEnv(ch, opts.Env) // fire-and-forget, unordered w.r.t. the FIFO
	}
	if i >= len(steps) {
		ch.SetSubtype(terminalSubtype(opts))
		if done != nil {
			done(ch, nil)
		}
		return
	}
	s := steps[i]
	err := s.send(func(failed bool) {
		if failed {
			ch.CloseOut()
			if done != nil {
				done(nil, fmt.Errorf("sessionreq: %s request failed", s.name))
			}
			return
		}
		runSteps(ch, steps, i+1, opts, done)
	})
	if err != nil {
		ch.CloseOut()
		if done != nil {
			done(nil, fmt.Errorf("sessionreq: %s: %w", s.name, err))
		}
	}
}

func terminalSubtype(opts Options) string {
	switch opts.Terminal {
	case TerminalExec:
		return "exec"
	case TerminalSubsystem:
		return "subsystem"
	default:
		return "shell"
	}
}

func sendEnv(ch *chanmgr.Channel, env map[string]string) {
	for k, v := range env {
		_ = ch.SendRequest("env", false, marshalEnv(k, v), nil)
	}
}

func marshalString(s string) []byte {
	b := make([]byte, 4+len(s))
	n := uint32(len(s))
	b[0] = byte(n >> 24)
	b[1] = byte(n >> 16)
	b[2] = byte(n >> 8)
	b[3] = byte(n)
	copy(b[4:], s)
	return b
}

func marshalEnv(key, val string) []byte {
	return append(marshalString(key), marshalString(val)...)
}

func marshalPtyReq(p *PtyRequest) []byte {
	b := marshalString(p.Term)
	b = append(b, u32(p.Cols)...)
	b = append(b, u32(p.Rows)...)
	b = append(b, u32(p.Width)...)
	b = append(b, u32(p.Height)...)
	b = append(b, u32(uint32(len(p.Modes)))...)
	b = append(b, p.Modes...)
	return b
}

func marshalX11Req(x transport.X11Config) []byte {
	b := make([]byte, 0, 16)
	if x.SingleConnection {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = append(b, marshalString(x.AuthProtocol)...)
	b = append(b, marshalString(x.AuthCookie)...)
	b = append(b, u32(x.ScreenNumber)...)
	return b
}

func u32(n uint32) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

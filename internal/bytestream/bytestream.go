// Package bytestream implements the Byte-Stream Adapter: it owns the
// underlying duplex connection, dials it if the caller did not supply one
// already connected, and surfaces connect/data/end/close/error/timeout
// events onto callback sinks, wrapping dial errors with %w.
package bytestream

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Family forces IPv4 or IPv6 resolution before dialing.
type Family int

const (
	FamilyAny Family = iota
	FamilyV4
	FamilyV6
)

// DialConfig is the subset of Config this adapter consumes.
type DialConfig struct {
	Host    string
	Port    int
	LocalAddr string // optional local bind address
	LocalPort int
	Family    Family
	Timeout   time.Duration // dial timeout; 0 means no explicit deadline
}

// Sinks are the events the adapter reports as the connection progresses.
type Sinks struct {
	OnConnect func()
	OnData    func(b []byte)
	OnTimeout func()
	OnError   func(err error)
	OnEnd     func()
	OnClose   func()
}

// Adapter owns a net.Conn (dialed here, or supplied pre-connected) and
// pumps it into Sinks on its own reader goroutine.
type Adapter struct {
	conn   net.Conn
	sinks  Sinks
	log    zerolog.Logger

	writable bool
	stopped  chan struct{}
}

// defaultLogger falls back to the global logger when the caller passed
// the zero Logger value; GetLevel alone can't tell that value apart from
// a configured logger (the zero level is Debug), so the whole struct is
// checked for its zero value instead.
func defaultLogger(logger zerolog.Logger) zerolog.Logger {
	if reflect.ValueOf(logger).IsZero() {
		return log.Logger
	}
	return logger
}

// New wraps an already-connected net.Conn, bypassing the dial step.
func New(conn net.Conn, sinks Sinks, logger zerolog.Logger) *Adapter {
	return &Adapter{conn: conn, sinks: sinks, log: defaultLogger(logger), writable: true, stopped: make(chan struct{})}
}

// Dial resolves and connects. If neither forceV4 nor forceV6 is set (or
// both), it dials by hostname; otherwise it resolves to the specified
// family first, then dials by address.
func Dial(ctx context.Context, cfg DialConfig, sinks Sinks, logger zerolog.Logger) (*Adapter, error) {
	logger = defaultLogger(logger)
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	network := "tcp"
	dialHost := cfg.Host
	if cfg.Family != FamilyAny {
		resolved, err := resolveFamily(ctx, cfg.Host, cfg.Family)
		if err != nil {
			if sinks.OnError != nil {
				sinks.OnError(fmt.Errorf("bytestream: dns resolution failed for %q: %w", cfg.Host, err))
			}
			if sinks.OnClose != nil {
				sinks.OnClose()
			}
			return nil, err
		}
		dialHost = resolved
		if cfg.Family == FamilyV4 {
			network = "tcp4"
		} else {
			network = "tcp6"
		}
		addr = net.JoinHostPort(dialHost, fmt.Sprintf("%d", cfg.Port))
	}

	dialer := net.Dialer{Timeout: cfg.Timeout}
	if cfg.LocalAddr != "" {
		local := net.JoinHostPort(cfg.LocalAddr, fmt.Sprintf("%d", cfg.LocalPort))
		if laddr, err := net.ResolveTCPAddr(network, local); err == nil {
			dialer.LocalAddr = laddr
		}
	}

	logger.Info().Str("addr", addr).Msg("dialing ssh endpoint")
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("bytestream: dial %q: %w", addr, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	a := &Adapter{conn: conn, sinks: sinks, log: logger, writable: true, stopped: make(chan struct{})}
	if sinks.OnConnect != nil {
		sinks.OnConnect()
	}
	return a, nil
}

func resolveFamily(ctx context.Context, host string, fam Family) (string, error) {
	network := "ip4"
	if fam == FamilyV6 {
		network = "ip6"
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, network, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no %s addresses found for %q", network, host)
	}
	return ips[0].String(), nil
}

// Run starts the reader loop; it blocks until the connection ends, so
// callers run it on its own goroutine (Client.Connect's errgroup member).
func (a *Adapter) Run() {
	buf := make([]byte, 32*1024)
	for {
		n, err := a.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if a.sinks.OnData != nil {
				a.sinks.OnData(chunk)
			}
		}
		if err != nil {
			a.writable = false
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if a.sinks.OnTimeout != nil {
					a.sinks.OnTimeout()
				}
			} else if err.Error() != "EOF" {
				if a.sinks.OnError != nil {
					a.sinks.OnError(fmt.Errorf("bytestream: read failed: %w", err))
				}
			}
			if a.sinks.OnEnd != nil {
				a.sinks.OnEnd()
			}
			if a.sinks.OnClose != nil {
				a.sinks.OnClose()
			}
			close(a.stopped)
			return
		}
	}
}

// Writable reports whether bytes can still be enqueued.
func (a *Adapter) Writable() bool { return a.writable }

// Write pushes bytes to the wire.
func (a *Adapter) Write(b []byte) (int, error) {
	if !a.writable {
		return 0, fmt.Errorf("bytestream: not writable")
	}
	return a.conn.Write(b)
}

// SetTimeout mirrors the collaborator's setTimeout knob;
// zero disables the idle timeout.
func (a *Adapter) SetTimeout(d time.Duration) {
	if d <= 0 {
		_ = a.conn.SetDeadline(time.Time{})
		return
	}
	_ = a.conn.SetDeadline(time.Now().Add(d))
}

// End half-closes the connection.
func (a *Adapter) End() error {
	a.writable = false
	if cw, ok := a.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return a.conn.Close()
}

// Destroy unconditionally hard-closes the connection.
func (a *Adapter) Destroy() error {
	a.writable = false
	return a.conn.Close()
}

// Stopped is closed once the reader loop has exited.
func (a *Adapter) Stopped() <-chan struct{} { return a.stopped }

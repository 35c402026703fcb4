package transport

import "github.com/rs/zerolog"

// Driver wraps a Transport collaborator: it feeds inbound
// bytes to it, forwards its outbound bytes and protocol events to the
// sinks the caller installed, and turns a panic/parse failure into an
// OnError event instead of letting it escape onto the reader goroutine.
type Driver struct {
	t      Transport
	sinks  Sinks
	log    zerolog.Logger
	onFatal func(*Error)
}

// NewDriver constructs a Driver over an already-configured Transport. The
// Transport itself must have been constructed with sinks that report back
// into the Sinks this Driver is given — in practice callers build the
// Transport and the Driver together, threading the same Sinks value into
// both, and NewDriver only adds a parse-panic safety net that reports any
// exception as an error event.
func NewDriver(t Transport, sinks Sinks, log zerolog.Logger, onFatal func(*Error)) *Driver {
	return &Driver{t: t, sinks: sinks, log: log, onFatal: onFatal}
}

// Feed hands inbound bytes to the collaborator. Any exception the
// collaborator raises while parsing is reported as an error event rather
// than propagated, and the caller is expected to end the
// byte stream in response (handled by the caller's OnError handler, not
// here, to keep this package free of byte-stream concerns).
func (d *Driver) Feed(b []byte) {
	defer func() {
		if r := recover(); r != nil {
			err := NewError(LevelProtocol, "transport parse panicked", panicToError(r))
			d.reportFatal(err)
		}
	}()
	d.t.Parse(b)
}

func (d *Driver) reportFatal(err *Error) {
	d.log.Error().Str("level", string(err.Level)).Err(err).Msg("transport error")
	if d.onFatal != nil {
		d.onFatal(err)
	}
	if d.sinks.OnError != nil {
		d.sinks.OnError(err)
	}
}

func (d *Driver) Cleanup() { d.t.Cleanup() }

func (d *Driver) Transport() Transport { return d.t }

func panicToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &recoveredPanic{r}
}

type recoveredPanic struct{ v interface{} }

func (p *recoveredPanic) Error() string { return "panic: " + toString(p.v) }

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if e, ok := v.(error); ok {
		return e.Error()
	}
	return "unknown panic value"
}

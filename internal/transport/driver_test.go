package transport

import (
	"testing"

	"github.com/rs/zerolog"
)

type panickingTransport struct {
	Transport
	parsed [][]byte
	panicValue interface{}
	cleanedUp bool
}

func (p *panickingTransport) Parse(b []byte) {
	p.parsed = append(p.parsed, b)
	if p.panicValue != nil {
		panic(p.panicValue)
	}
}

func (p *panickingTransport) Cleanup() { p.cleanedUp = true }

func TestDriverFeedForwardsBytesToTransport(t *testing.T) {
	pt := &panickingTransport{}
	d := NewDriver(pt, Sinks{}, zerolog.Nop(), nil)

	d.Feed([]byte("hello"))
	if len(pt.parsed) != 1 || string(pt.parsed[0]) != "hello" {
		t.Fatalf("expected Feed to forward bytes to Parse, got %v", pt.parsed)
	}
}

func TestDriverFeedRecoversParsePanicAsError(t *testing.T) {
	pt := &panickingTransport{panicValue: "boom"}
	var gotFatal *Error
	var gotSink *Error
	d := NewDriver(pt, Sinks{OnError: func(e *Error) { gotSink = e }}, zerolog.Nop(), func(e *Error) { gotFatal = e })

	d.Feed([]byte("x"))

	if gotFatal == nil || gotFatal.Level != LevelProtocol {
		t.Fatalf("expected onFatal to receive a LevelProtocol error, got %v", gotFatal)
	}
	if gotSink == nil || gotSink != gotFatal {
		t.Fatalf("expected the same error to reach Sinks.OnError, got %v", gotSink)
	}
	if gotFatal.Err == nil || gotFatal.Err.Error() != "panic: boom" {
		t.Fatalf("expected the panic value preserved in Err, got %v", gotFatal.Err)
	}
}

func TestDriverFeedRecoversErrorPanicWithoutWrapping(t *testing.T) {
	cause := NewError(LevelHandshake, "inner", nil)
	pt := &panickingTransport{panicValue: cause}
	var gotFatal *Error
	d := NewDriver(pt, Sinks{}, zerolog.Nop(), func(e *Error) { gotFatal = e })

	d.Feed([]byte("x"))

	if gotFatal == nil || gotFatal.Err != cause {
		t.Fatalf("expected the original error value to be preserved as the cause, got %v", gotFatal)
	}
}

func TestDriverCleanupDelegatesToTransport(t *testing.T) {
	pt := &panickingTransport{}
	d := NewDriver(pt, Sinks{}, zerolog.Nop(), nil)
	d.Cleanup()
	if !pt.cleanedUp {
		t.Fatalf("expected Cleanup to delegate to the underlying transport")
	}
}

func TestDriverTransportReturnsUnderlyingCollaborator(t *testing.T) {
	pt := &panickingTransport{}
	d := NewDriver(pt, Sinks{}, zerolog.Nop(), nil)
	if d.Transport() != Transport(pt) {
		t.Fatalf("expected Transport() to return the underlying collaborator")
	}
}

package sshcore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Endpoint is a discovered SSH server address, resolved from an mDNS/DNS-SD
// service advertisement.
type Endpoint struct {
	Host string
	Port int

	Instance string
	TXT      []string
}

// Discover resolves instances of serviceName (e.g. "_ssh._tcp") published
// on the local network via zeroconf/mDNS, streaming one Endpoint per
// resolved service entry until ctx is done. There is no Register
// counterpart: sshcore is a client only, it never advertises itself.
func Discover(ctx context.Context, serviceName string, log zerolog.Logger) (<-chan Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: failed to initialize resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	out := make(chan Endpoint)
	if err := resolver.Browse(ctx, serviceName, "local.", entries); err != nil {
		return nil, fmt.Errorf("discovery: browse %q: %w", serviceName, err)
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				ep, ok := endpointFromEntry(entry)
				if !ok {
					log.Debug().Str("instance", entry.Instance).Msg("discovery: skipped entry with no usable address")
					continue
				}
				select {
				case out <- ep:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func endpointFromEntry(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	var host string
	for _, addr := range append(append([]net.IP{}, entry.AddrIPv4...), entry.AddrIPv6...) {
		if addr != nil {
			host = addr.String()
			break
		}
	}
	if host == "" {
		return Endpoint{}, false
	}
	return Endpoint{Host: host, Port: entry.Port, Instance: entry.Instance, TXT: entry.Text}, true
}

// DiscoverFirst returns the first Endpoint resolved for serviceName, or an
// error if ctx expires first.
func DiscoverFirst(ctx context.Context, serviceName string) (Endpoint, error) {
	entries, err := Discover(ctx, serviceName, log.Logger)
	if err != nil {
		return Endpoint{}, err
	}
	select {
	case ep, ok := <-entries:
		if !ok {
			return Endpoint{}, fmt.Errorf("discovery: no endpoints found for %q", serviceName)
		}
		return ep, nil
	case <-ctx.Done():
		return Endpoint{}, ctx.Err()
	}
}

// Addr formats the endpoint as a dial target.
func (e Endpoint) Addr() string { return net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) }

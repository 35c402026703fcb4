package sshcore

import (
	"fmt"

	"vex.systems/sshcore/internal/chanmgr"
	"vex.systems/sshcore/internal/transport"
	"vex.systems/sshcore/internal/transport/wire"
)

// ForwardIn requests the peer listen on addr:port and forward inbound
// connections back as forwarded-tcpip channels. port == 0 asks the peer to pick a port; done receives
// the actually bound port once REQUEST_SUCCESS/FAILURE arrives.
func (c *Client) ForwardIn(addr string, port uint32, done func(actualPort uint32, err error)) {
	if !c.connected() {
		done(0, notConnectedErr())
		return
	}
	c.gq.Push(func(err error, data []byte) {
		if err != nil {
			done(0, fmt.Errorf("sshcore: tcpip-forward failed: %w", err))
			return
		}
		actual := port
		if port == 0 {
			if assigned, ok := wire.AssignedPort(data); ok {
				actual = assigned
			}
		}
		c.tables.RecordTCPForward(addr, port, actual, c.t.CompatFlags().DynamicRPort())
		done(actual, nil)
	})
	c.t.TCPIPForward(addr, port, true)
}

// UnforwardIn cancels a forwarding previously established with ForwardIn.
func (c *Client) UnforwardIn(addr string, port uint32, done func(err error)) {
	if !c.connected() {
		done(notConnectedErr())
		return
	}
	c.gq.Push(func(err error, _ []byte) {
		if err != nil {
			done(fmt.Errorf("sshcore: cancel-tcpip-forward failed: %w", err))
			return
		}
		c.tables.RemoveTCPForward(addr, port)
		done(nil)
	})
	c.t.CancelTCPIPForward(addr, port, true)
}

// ForwardOut opens a direct-tcpip channel to destAddr:destPort, reporting
// srcAddr:srcPort as the channel's local origin.
func (c *Client) ForwardOut(destAddr string, destPort uint32, srcAddr string, srcPort uint32, done func(Channel, error)) {
	if !c.connected() {
		done(Channel{}, notConnectedErr())
		return
	}
	c.openChannel(func(localID uint32) {
		c.t.OpenDirectTCPIP(localID, chanmgr.MaxWindow, chanmgr.PacketSize, transport.DirectTCPIPAddrs{
			DestIP: destAddr, DestPort: destPort, SrcIP: srcAddr, SrcPort: srcPort,
		})
	}, "direct-tcpip", func(ch *chanmgr.Channel, err error) {
		if err != nil {
			done(Channel{}, err)
			return
		}
		done(newChannel(ch), nil)
	})
}

// ForwardOutUnix opens a direct-streamlocal@openssh.com channel to a
// remote Unix domain socket.
func (c *Client) ForwardOutUnix(socketPath string, done func(Channel, error)) {
	if !c.connected() {
		done(Channel{}, notConnectedErr())
		return
	}
	c.openChannel(func(localID uint32) {
		c.t.OpenDirectStreamLocal(localID, chanmgr.MaxWindow, chanmgr.PacketSize, socketPath)
	}, "direct-streamlocal", func(ch *chanmgr.Channel, err error) {
		if err != nil {
			done(Channel{}, err)
			return
		}
		done(newChannel(ch), nil)
	})
}


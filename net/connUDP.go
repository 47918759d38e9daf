package net

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/atomic"
	"golang.org/x/net/ipv6"
)

// UDPConn is a udp connection provides Read/Write with context.
//
// Multiple goroutines may invoke methods on a UDPConn simultaneously.
type UDPConn struct {
	connection *net.UDPConn
	// packetConn is set for IPv6 sockets; multicast parameters are applied through it.
	packetConn *ipv6.PacketConn
	closed     atomic.Bool
}

type UDPConnConfig struct {
	MulticastHopLimit int
	MulticastLoopback bool
}

var DefaultUDPConnConfig = UDPConnConfig{
	MulticastHopLimit: 1,
}

// IsIPv6 return's true if addr is IPV6.
func IsIPv6(addr net.IP) bool {
	if ip := addr.To16(); ip != nil && ip.To4() == nil {
		return true
	}
	return false
}

// NewListenUDP opens an unconnected UDP socket bound to addr.
func NewListenUDP(network, addr string, opts ...UDPOption) (*UDPConn, error) {
	listenAddress, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP(network, listenAddress)
	if err != nil {
		return nil, err
	}
	c, err := NewUDPConn(network, conn, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// NewUDPConn creates connection over net.UDPConn.
func NewUDPConn(network string, c *net.UDPConn, opts ...UDPOption) (*UDPConn, error) {
	cfg := DefaultUDPConnConfig
	for _, o := range opts {
		o.ApplyUDP(&cfg)
	}
	conn := UDPConn{
		connection: c,
	}
	laddr, ok := c.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("invalid address type(%T), UDP address expected", c.LocalAddr())
	}
	if network == "udp6" || IsIPv6(laddr.IP) {
		pc := ipv6.NewPacketConn(c)
		if err := pc.SetMulticastHopLimit(cfg.MulticastHopLimit); err != nil {
			return nil, fmt.Errorf("cannot set multicast hop limit: %w", err)
		}
		if err := pc.SetMulticastLoopback(cfg.MulticastLoopback); err != nil {
			return nil, fmt.Errorf("cannot set multicast loopback: %w", err)
		}
		conn.packetConn = pc
	}
	return &conn, nil
}

// LocalAddr returns the local network address. The Addr returned is shared by all invocations of LocalAddr, so do not modify it.
func (c *UDPConn) LocalAddr() net.Addr {
	return c.connection.LocalAddr()
}

// Close closes the connection.
func (c *UDPConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.connection.Close()
}

// Closed reports whether Close was called.
func (c *UDPConn) Closed() bool {
	return c.closed.Load()
}

func (c *UDPConn) writeTo(raddr *net.UDPAddr, buffer []byte) (int, error) {
	if c.packetConn != nil {
		return c.packetConn.WriteTo(buffer, nil, raddr)
	}
	return c.connection.WriteToUDP(buffer, raddr)
}

// WriteWithContext writes one datagram to raddr.
func (c *UDPConn) WriteWithContext(ctx context.Context, raddr *net.UDPAddr, buffer []byte) error {
	if raddr == nil {
		return ErrInvalidRemoteAddr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if c.closed.Load() {
		return ErrConnectionIsClosed
	}
	n, err := c.writeTo(raddr, buffer)
	if err != nil {
		return err
	}
	if n != len(buffer) {
		return ErrWriteInterrupted
	}
	return nil
}

// ReadWithContext reads one datagram into buffer and returns its length and sender.
func (c *UDPConn) ReadWithContext(ctx context.Context, buffer []byte) (int, *net.UDPAddr, error) {
	select {
	case <-ctx.Done():
		return -1, nil, ctx.Err()
	default:
	}
	if c.closed.Load() {
		return -1, nil, ErrConnectionIsClosed
	}
	n, raddr, err := c.connection.ReadFromUDP(buffer)
	if err != nil {
		return -1, nil, fmt.Errorf("cannot read from udp connection: %w", err)
	}
	return n, raddr, nil
}

// JoinGroup joins the multicast group on ifi, nil selects the default interface.
func (c *UDPConn) JoinGroup(ifi *net.Interface, group net.Addr) error {
	if c.packetConn == nil {
		return fmt.Errorf("join group: %w", ErrNotIPv6)
	}
	return c.packetConn.JoinGroup(ifi, group)
}

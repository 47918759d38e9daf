package options

import (
	"time"

	coapNet "github.com/plgd-dev/go-coap-light/net"
	"github.com/plgd-dev/go-coap-light/net/reply"
	udpClient "github.com/plgd-dev/go-coap-light/udp/client"
)

// NetworkOpt network option.
type NetworkOpt struct {
	network   string
	localAddr string
}

func (o NetworkOpt) UDPClientApply(cfg *udpClient.Config) {
	cfg.Network = o.network
	cfg.LocalAddr = o.localAddr
}

// WithNetwork sets the network ("udp", "udp4", "udp6") and the local address of the socket.
func WithNetwork(network, localAddr string) NetworkOpt {
	return NetworkOpt{network: network, localAddr: localAddr}
}

// PeerPortOpt peer port option.
type PeerPortOpt struct {
	port int
}

func (o PeerPortOpt) UDPClientApply(cfg *udpClient.Config) {
	cfg.PeerPort = o.port
}

// WithPeerPort sets the destination port of all requests.
func WithPeerPort(port int) PeerPortOpt {
	return PeerPortOpt{port: port}
}

// BackoffOpt socket backoff options.
type BackoffOpt struct {
	open time.Duration
	wait time.Duration
}

func (o BackoffOpt) UDPClientApply(cfg *udpClient.Config) {
	cfg.OpenBackoff = o.open
	cfg.WaitBackoff = o.wait
}

// WithBackoff sets the pause between socket open attempts and the pause after a socket error.
func WithBackoff(open, wait time.Duration) BackoffOpt {
	return BackoffOpt{open: open, wait: wait}
}

// ReplyOpt reply registry options.
type ReplyOpt struct {
	capacity int
	policy   reply.Policy
	timeout  time.Duration
}

func (o ReplyOpt) UDPClientApply(cfg *udpClient.Config) {
	cfg.RegistryCapacity = o.capacity
	cfg.RegistryPolicy = o.policy
	cfg.ReplyTimeout = o.timeout
}

// WithReply sets the capacity and the overflow policy of pending replies and
// how long a reply is awaited, zero waits forever.
func WithReply(capacity int, policy reply.Policy, timeout time.Duration) ReplyOpt {
	return ReplyOpt{capacity: capacity, policy: policy, timeout: timeout}
}

// DialerOpt dialer option.
type DialerOpt struct {
	dialer udpClient.DialerFunc
}

func (o DialerOpt) UDPClientApply(cfg *udpClient.Config) {
	cfg.Dialer = o.dialer
}

// WithDialer sets the function opening the socket.
func WithDialer(dialer udpClient.DialerFunc) DialerOpt {
	return DialerOpt{dialer: dialer}
}

// WithMulticast opens sockets with the given multicast hop limit and loopback.
func WithMulticast(hopLimit int, loopback bool) DialerOpt {
	return DialerOpt{
		dialer: udpClient.ListenUDP(coapNet.WithMulticastHopLimit(hopLimit), coapNet.WithMulticastLoopback(loopback)),
	}
}

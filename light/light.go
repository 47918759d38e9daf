// Package light controls CoAP light servers of a Thread mesh: it toggles one
// provisioned light, switches all lights of the mesh and acquires the address
// of the provisioned light.
package light

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/plgd-dev/go-coap-light/message"
	"github.com/plgd-dev/go-coap-light/message/codes"
	"github.com/plgd-dev/go-coap-light/net/reply"
	"github.com/plgd-dev/go-coap-light/udp/client"
)

// Resources served by the light servers.
const (
	LightPath        = "light"
	ProvisioningPath = "provisioning"
)

// Command is the single byte payload of a light request.
type Command byte

const (
	CmdOff    Command = '0'
	CmdOn     Command = '1'
	CmdToggle Command = '2'
)

// MeshMulticastAddr is the realm-local all-nodes address of the mesh.
var MeshMulticastAddr = net.ParseIP("ff03::1")

var (
	ErrPeerAddressUnset = errors.New("peer address not set")
	ErrMalformedReply   = errors.New("malformed provisioning reply")
)

// Sender sends requests, client.Conn implements it.
type Sender interface {
	SendUntracked(ctx context.Context, code codes.Code, dst net.IP, path []string, payload []byte) error
	SendTracked(ctx context.Context, code codes.Code, dst net.IP, path []string, payload []byte, handler reply.Handler, opts ...reply.EntryOption) error
}

type Config struct {
	Logger        *slog.Logger
	MulticastAddr net.IP
	// OnPeerAddress is called with every accepted provisioning reply.
	OnPeerAddress func(addr net.IP)
}

type Client struct {
	sender        Sender
	logger        *slog.Logger
	multicast     net.IP
	onPeerAddress func(addr net.IP)
	queue         *queue

	mutex    sync.Mutex
	peerAddr net.IP
	meshCmd  Command
}

func New(sender Sender, cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MulticastAddr == nil {
		cfg.MulticastAddr = MeshMulticastAddr
	}
	if cfg.OnPeerAddress == nil {
		cfg.OnPeerAddress = func(net.IP) {
			// default no-op
		}
	}
	c := &Client{
		sender:        sender,
		logger:        cfg.Logger,
		multicast:     cfg.MulticastAddr,
		onPeerAddress: cfg.OnPeerAddress,
		meshCmd:       CmdOff,
	}
	c.queue = newQueue(c)
	return c
}

// PeerAddr returns the address received in the last provisioning reply, nil when none was received.
func (c *Client) PeerAddr() net.IP {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.peerAddr == nil {
		return nil
	}
	return append(net.IP(nil), c.peerAddr...)
}

// SetPeerAddr sets the address of the light toggled by ToggleOneLight.
func (c *Client) SetPeerAddr(addr net.IP) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.peerAddr = append(net.IP(nil), addr.To16()...)
}

// ToggleOneLight sends the toggle command to the provisioned light.
func (c *Client) ToggleOneLight(ctx context.Context) error {
	peer := c.PeerAddr()
	if !client.IsDestinationSet(peer) {
		c.logger.Warn("peer address not set, activate 'provisioning' option on the server side")
		return ErrPeerAddressUnset
	}
	c.logger.Info("send 'light' request", slog.String("peer", peer.String()))
	return c.sender.SendUntracked(ctx, codes.PUT, peer, []string{LightPath}, []byte{byte(CmdToggle)})
}

// ToggleMeshLights switches all lights of the mesh, alternating on and off starting with on.
func (c *Client) ToggleMeshLights(ctx context.Context) error {
	c.mutex.Lock()
	if c.meshCmd == CmdOff {
		c.meshCmd = CmdOn
	} else {
		c.meshCmd = CmdOff
	}
	cmd := c.meshCmd
	c.mutex.Unlock()

	c.logger.Info("send multicast mesh 'light' request", slog.String("command", string(cmd)))
	return c.sender.SendUntracked(ctx, codes.PUT, c.multicast, []string{LightPath}, []byte{byte(cmd)})
}

// SendProvisioningRequest asks the mesh for the address of the light in provisioning mode.
// The reply is processed asynchronously.
func (c *Client) SendProvisioningRequest(ctx context.Context, opts ...reply.EntryOption) error {
	c.logger.Info("send 'provisioning' request")
	return c.sender.SendTracked(ctx, codes.GET, c.multicast, []string{ProvisioningPath}, nil, c.onProvisioningReply, opts...)
}

func (c *Client) onProvisioningReply(r *message.Message, _ *reply.Entry, from *net.UDPAddr) error {
	if len(r.Payload) != net.IPv6len {
		c.logger.Error("received data size is invalid",
			slog.Int("size", len(r.Payload)),
			slog.Any("from", from))
		return fmt.Errorf("%w: %v bytes instead of %v", ErrMalformedReply, len(r.Payload), net.IPv6len)
	}
	addr := make(net.IP, net.IPv6len)
	copy(addr, r.Payload)
	c.mutex.Lock()
	c.peerAddr = addr
	c.mutex.Unlock()
	c.logger.Info("received peer address", slog.String("peer", addr.String()))
	c.onPeerAddress(append(net.IP(nil), addr...))
	return nil
}

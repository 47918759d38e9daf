package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/plgd-dev/go-coap-light/message"
	coapNet "github.com/plgd-dev/go-coap-light/net"
	"github.com/plgd-dev/go-coap-light/net/reply"
	"github.com/plgd-dev/go-coap-light/pkg/metrics"
	"github.com/plgd-dev/go-coap-light/pkg/runner/periodic"
)

// DefaultPeerPort is the CoAP port of the peers (RFC 7252, section 6.1).
const DefaultPeerPort = 5683

type (
	GetTokenFunc = func() (message.Token, error)
	GetMIDFunc   = func() int32
	// DialerFunc opens the datagram socket of the Transport.
	DialerFunc = func(ctx context.Context, network, laddr string) (Socket, error)
)

var DefaultConfig = func() Config {
	return Config{
		Logger:           slog.Default(),
		Network:          "udp6",
		LocalAddr:        "[::]:0",
		PeerPort:         DefaultPeerPort,
		MaxMessageSize:   256,
		OpenBackoff:      200 * time.Millisecond,
		WaitBackoff:      500 * time.Millisecond,
		ExpirationTick:   time.Second,
		RegistryCapacity: 1,
		RegistryPolicy:   reply.PolicyOverwrite,
		GetToken:         message.GetToken,
		GetMID:           message.GetMID,
		Dialer:           ListenUDP(coapNet.WithMulticastHopLimit(1)),
	}
}()

type Config struct {
	Logger    *slog.Logger
	Network   string
	LocalAddr string
	PeerPort  int
	// MaxMessageSize is the largest datagram accepted by the receiver.
	MaxMessageSize uint32
	// OpenBackoff is the pause between failed socket open attempts.
	OpenBackoff time.Duration
	// WaitBackoff is the pause after a wait error or an error condition of the socket.
	WaitBackoff time.Duration
	// ReplyTimeout bounds the wait for a tracked reply, zero waits forever.
	ReplyTimeout     time.Duration
	ExpirationTick   time.Duration
	RegistryCapacity int
	RegistryPolicy   reply.Policy
	GetToken         GetTokenFunc
	GetMID           GetMIDFunc
	Dialer           DialerFunc
	// Metrics are created with a private registry when nil.
	Metrics *metrics.Metrics
	// PeriodicRunner drives reply expirations. When nil, Run starts one ticking every ExpirationTick.
	PeriodicRunner periodic.Func
}

// ListenUDP returns a DialerFunc opening an unconnected UDP socket.
func ListenUDP(opts ...coapNet.UDPOption) DialerFunc {
	return func(_ context.Context, network, laddr string) (Socket, error) {
		c, err := coapNet.NewListenUDP(network, laddr, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (cfg *Config) setDefaults() {
	def := DefaultConfig
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Network == "" {
		cfg.Network = def.Network
	}
	if cfg.LocalAddr == "" {
		cfg.LocalAddr = def.LocalAddr
	}
	if cfg.PeerPort == 0 {
		cfg.PeerPort = def.PeerPort
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.OpenBackoff <= 0 {
		cfg.OpenBackoff = def.OpenBackoff
	}
	if cfg.WaitBackoff <= 0 {
		cfg.WaitBackoff = def.WaitBackoff
	}
	if cfg.ExpirationTick <= 0 {
		cfg.ExpirationTick = def.ExpirationTick
	}
	if cfg.GetToken == nil {
		cfg.GetToken = def.GetToken
	}
	if cfg.GetMID == nil {
		cfg.GetMID = def.GetMID
	}
	if cfg.Dialer == nil {
		cfg.Dialer = def.Dialer
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New("", nil)
	}
}

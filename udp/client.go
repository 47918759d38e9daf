// Package udp opens CoAP over UDP client connections.
package udp

import (
	"context"
	"fmt"

	"github.com/plgd-dev/go-coap-light/udp/client"
)

// An Option sets options of the client such as the logger, the peer port or the reply policy.
type Option interface {
	UDPClientApply(cfg *client.Config)
}

// Dial creates a client connection and opens its socket. The socket is
// retried until it opens or ctx is done. The returned connection processes
// replies only while its Run method is running.
func Dial(ctx context.Context, opts ...Option) (*client.Conn, error) {
	cfg := client.DefaultConfig
	for _, o := range opts {
		o.UDPClientApply(&cfg)
	}
	cc := client.New(cfg)
	if err := cc.Open(ctx); err != nil {
		return nil, fmt.Errorf("cannot dial udp client: %w", err)
	}
	return cc, nil
}

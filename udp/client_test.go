package udp_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap-light/message"
	"github.com/plgd-dev/go-coap-light/message/codes"
	coapNet "github.com/plgd-dev/go-coap-light/net"
	"github.com/plgd-dev/go-coap-light/net/reply"
	"github.com/plgd-dev/go-coap-light/options"
	"github.com/plgd-dev/go-coap-light/udp"
	"github.com/plgd-dev/go-coap-light/udp/coder"
	"github.com/stretchr/testify/require"
)

// serveOnce answers the first request received by l with payload.
func serveOnce(ctx context.Context, t *testing.T, l *coapNet.UDPConn, payload []byte) <-chan message.Message {
	requests := make(chan message.Message, 1)
	go func() {
		buf := make([]byte, 1024)
		n, from, err := l.ReadWithContext(ctx, buf)
		if err != nil {
			return
		}
		var req message.Message
		if _, err = coder.DefaultCoder.Decode(buf[:n], &req); err != nil {
			return
		}
		requests <- req
		resp := message.Message{
			Token:     req.Token,
			Code:      codes.Content,
			Type:      message.NonConfirmable,
			MessageID: message.GetMID(),
			Payload:   payload,
		}
		out := make([]byte, 1024)
		n, err = coder.DefaultCoder.Encode(resp, out)
		if err != nil {
			return
		}
		if err = l.WriteWithContext(ctx, from, out[:n]); err != nil {
			t.Logf("cannot write response: %v", err)
		}
	}()
	return requests
}

func TestDialSendTracked(t *testing.T) {
	peer, err := coapNet.NewListenUDP("udp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp4 not available: %v", err)
	}
	defer func() {
		_ = peer.Close()
	}()
	peerPort := peer.LocalAddr().(*net.UDPAddr).Port

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addr := []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	requests := serveOnce(ctx, t, peer, addr)

	cc, err := udp.Dial(ctx,
		options.WithNetwork("udp4", "127.0.0.1:0"),
		options.WithPeerPort(peerPort),
		options.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	runErr := make(chan error, 1)
	go func() {
		runErr <- cc.Run(ctx)
	}()
	defer func() {
		require.NoError(t, cc.Close())
		require.NoError(t, <-runErr)
	}()

	type received struct {
		payload []byte
		from    *net.UDPAddr
	}
	replies := make(chan received, 1)
	err = cc.SendTracked(ctx, codes.GET, net.ParseIP("127.0.0.1"), []string{"provisioning"}, nil,
		func(r *message.Message, _ *reply.Entry, from *net.UDPAddr) error {
			replies <- received{payload: r.Payload, from: from}
			return nil
		})
	require.NoError(t, err)

	select {
	case req := <-requests:
		require.Equal(t, codes.GET, req.Code)
		path, err := req.Options.Path()
		require.NoError(t, err)
		require.Equal(t, "provisioning", path)
	case <-ctx.Done():
		require.FailNow(t, "request not received")
	}
	select {
	case got := <-replies:
		require.Equal(t, addr, got.payload)
		require.Equal(t, peerPort, got.from.Port)
	case <-ctx.Done():
		require.FailNow(t, "reply not received")
	}
	require.Equal(t, 0, cc.Registry().Len())
}

func TestDialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := udp.Dial(ctx,
		options.WithNetwork("udp4", "256.0.0.1:0"),
		options.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.Error(t, err)
}

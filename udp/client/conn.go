// Package client sends CoAP requests over a shared UDP socket and correlates
// the replies received by a single receiver loop.
package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/plgd-dev/go-coap-light/message"
	"github.com/plgd-dev/go-coap-light/message/codes"
	"github.com/plgd-dev/go-coap-light/net/reply"
	"github.com/plgd-dev/go-coap-light/pkg/metrics"
	"github.com/plgd-dev/go-coap-light/udp/coder"
	"go.uber.org/atomic"
)

var (
	ErrEncoding         = errors.New("cannot encode request")
	ErrDestinationUnset = errors.New("destination address is not set")
	ErrAlreadyRunning   = errors.New("receiver loop is already running")
)

// Conn is a CoAP endpoint talking to peers over one UDP socket.
type Conn struct {
	cfg       Config
	transport *Transport
	registry  *reply.Registry
	running   atomic.Bool

	mutex  sync.Mutex
	closed bool
	cancel context.CancelFunc
}

// New creates a connection without opening its socket.
func New(cfg Config) *Conn {
	cfg.setDefaults()
	cc := &Conn{cfg: cfg}
	cc.transport = newTransport(&cc.cfg)
	cc.registry = reply.New(reply.Config{
		Capacity:     cfg.RegistryCapacity,
		Policy:       cfg.RegistryPolicy,
		ReplyTimeout: cfg.ReplyTimeout,
		OnEvict:      cc.onEvict,
		OnExpire:     cc.onExpire,
	})
	return cc
}

func (cc *Conn) onEvict(e *reply.Entry) {
	cc.cfg.Metrics.RegistryEvents.WithLabelValues(metrics.EventEvicted).Inc()
	cc.cfg.Logger.Warn("pending reply overwritten", slog.String("token", e.Token().String()))
}

func (cc *Conn) onExpire(e *reply.Entry) {
	cc.cfg.Metrics.RegistryEvents.WithLabelValues(metrics.EventExpired).Inc()
	cc.cfg.Logger.Warn("no reply received", slog.String("token", e.Token().String()))
}

// Open opens the socket, retrying until it succeeds or ctx is done.
func (cc *Conn) Open(ctx context.Context) error {
	return cc.transport.open(ctx)
}

// Close stops the receiver loop and releases the socket.
func (cc *Conn) Close() error {
	cc.mutex.Lock()
	if cc.closed {
		cc.mutex.Unlock()
		return nil
	}
	cc.closed = true
	cancel := cc.cancel
	cc.mutex.Unlock()
	if cancel != nil {
		cancel()
	}
	err := cc.transport.close()
	if n := cc.registry.Drain(); n > 0 {
		cc.cfg.Logger.Debug("pending replies dropped on close", slog.Int("count", n))
	}
	cc.cfg.Metrics.PendingReplies.Set(0)
	return err
}

func (cc *Conn) Registry() *reply.Registry {
	return cc.registry
}

func (cc *Conn) Transport() *Transport {
	return cc.transport
}

func (cc *Conn) Logger() *slog.Logger {
	return cc.cfg.Logger
}

func (cc *Conn) LocalAddr() net.Addr {
	return cc.transport.LocalAddr()
}

// IsDestinationSet reports whether dst can be used as a request destination.
// An IPv6 address whose leading 16-bit word is zero is treated as unset, as
// is the unspecified IPv4 address.
func IsDestinationSet(dst net.IP) bool {
	if ip4 := dst.To4(); ip4 != nil {
		return !ip4.IsUnspecified()
	}
	ip := dst.To16()
	if ip == nil {
		return false
	}
	return binary.BigEndian.Uint16(ip[:2]) != 0
}

func (cc *Conn) newRequest(code codes.Code, path []string, payload []byte) (message.Message, error) {
	token, err := cc.cfg.GetToken()
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: cannot get token: %w", ErrEncoding, err)
	}
	var opts message.Options
	for _, segment := range path {
		opts, err = opts.AddPathSegment(segment)
		if err != nil {
			return message.Message{}, fmt.Errorf("%w: %w", ErrEncoding, err)
		}
	}
	return message.Message{
		Token:     token,
		Options:   opts,
		Code:      code,
		Payload:   payload,
		MessageID: cc.cfg.GetMID(),
		Type:      message.NonConfirmable,
	}, nil
}

func (cc *Conn) encode(msg message.Message) ([]byte, error) {
	buf := make([]byte, cc.cfg.MaxMessageSize)
	n, err := coder.DefaultCoder.Encode(msg, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return buf[:n], nil
}

func (cc *Conn) prepare(code codes.Code, dst net.IP, path []string, payload []byte) (message.Message, []byte, error) {
	if !IsDestinationSet(dst) {
		cc.cfg.Metrics.SendErrors.WithLabelValues("destination").Inc()
		return message.Message{}, nil, ErrDestinationUnset
	}
	msg, err := cc.newRequest(code, path, payload)
	if err == nil {
		var data []byte
		data, err = cc.encode(msg)
		if err == nil {
			return msg, data, nil
		}
	}
	cc.cfg.Metrics.SendErrors.WithLabelValues("encoding").Inc()
	cc.cfg.Logger.Error("failed to build request", slog.String("error", err.Error()))
	return message.Message{}, nil, err
}

func (cc *Conn) send(ctx context.Context, msg message.Message, dst net.IP, data []byte, tracked bool) error {
	if err := cc.transport.send(ctx, dst, data); err != nil {
		cc.cfg.Metrics.SendErrors.WithLabelValues("transmission").Inc()
		cc.cfg.Logger.Error("failed to send request",
			slog.String("destination", dst.String()),
			slog.String("error", err.Error()))
		return err
	}
	cc.cfg.Metrics.ObserveSent(msg.Code.String(), tracked)
	cc.cfg.Logger.Debug("request sent",
		slog.String("destination", dst.String()),
		slog.String("request", msg.String()),
		slog.Bool("tracked", tracked))
	return nil
}

// SendUntracked sends a non-confirmable request to dst and does not wait for any reply.
func (cc *Conn) SendUntracked(ctx context.Context, code codes.Code, dst net.IP, path []string, payload []byte) error {
	msg, data, err := cc.prepare(code, dst, path, payload)
	if err != nil {
		return err
	}
	return cc.send(ctx, msg, dst, data, false)
}

// SendTracked sends a non-confirmable request to dst and registers handler for
// its reply. It returns once the request is sent; handler is invoked later by
// the receiver loop. When the send fails the handler is unregistered.
func (cc *Conn) SendTracked(ctx context.Context, code codes.Code, dst net.IP, path []string, payload []byte, handler reply.Handler, opts ...reply.EntryOption) error {
	msg, data, err := cc.prepare(code, dst, path, payload)
	if err != nil {
		return err
	}
	if _, err = cc.registry.Register(msg.Token, handler, opts...); err != nil {
		if errors.Is(err, reply.ErrRegistryFull) {
			cc.cfg.Metrics.RegistryEvents.WithLabelValues(metrics.EventRejected).Inc()
		}
		return fmt.Errorf("cannot register reply handler: %w", err)
	}
	cc.cfg.Metrics.PendingReplies.Set(float64(cc.registry.Len()))
	if err = cc.send(ctx, msg, dst, data, true); err != nil {
		if cc.registry.Unregister(msg.Token) {
			cc.cfg.Metrics.RegistryEvents.WithLabelValues(metrics.EventUnregistered).Inc()
		}
		cc.cfg.Metrics.PendingReplies.Set(float64(cc.registry.Len()))
		return err
	}
	return nil
}

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"
)

var (
	ErrTransmission = errors.New("cannot transmit datagram")
	ErrNotOpen      = errors.New("socket is not open")
)

// Socket is the datagram endpoint used by the Transport, implemented by coapNet.UDPConn.
type Socket interface {
	WriteWithContext(ctx context.Context, raddr *net.UDPAddr, buffer []byte) error
	ReadWithContext(ctx context.Context, buffer []byte) (int, *net.UDPAddr, error)
	LocalAddr() net.Addr
	Close() error
}

// Transport owns the single UDP socket shared by senders and the receiver.
type Transport struct {
	cfg        *Config
	generation atomic.Uint64

	mutex  sync.RWMutex
	socket Socket
}

func newTransport(cfg *Config) *Transport {
	return &Transport{cfg: cfg}
}

// open creates the socket, retrying with a constant backoff until it succeeds
// or ctx is done. A previously opened socket is closed.
func (t *Transport) open(ctx context.Context) error {
	var s Socket
	b := backoff.WithContext(backoff.NewConstantBackOff(t.cfg.OpenBackoff), ctx)
	err := backoff.RetryNotify(func() error {
		var err error
		s, err = t.cfg.Dialer(ctx, t.cfg.Network, t.cfg.LocalAddr)
		t.cfg.Metrics.ObserveOpen(err)
		return err
	}, b, func(err error, next time.Duration) {
		t.cfg.Logger.Error("failed to create socket",
			slog.String("network", t.cfg.Network),
			slog.String("error", err.Error()),
			slog.Duration("retry_in", next))
	})
	if err != nil {
		return fmt.Errorf("cannot open socket: %w", err)
	}

	t.mutex.Lock()
	old := t.socket
	t.socket = s
	t.generation.Inc()
	t.mutex.Unlock()
	if old != nil {
		_ = old.Close()
	}
	t.cfg.Logger.Debug("socket opened", slog.String("local_addr", s.LocalAddr().String()))
	return nil
}

// close releases the socket. It is safe to call it repeatedly.
func (t *Transport) close() error {
	t.mutex.Lock()
	s := t.socket
	t.socket = nil
	t.mutex.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

// reopen replaces a socket whose descriptor became invalid.
func (t *Transport) reopen(ctx context.Context) error {
	if err := t.close(); err != nil {
		t.cfg.Logger.Debug("cannot close invalid socket", slog.String("error", err.Error()))
	}
	return t.open(ctx)
}

func (t *Transport) current() Socket {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.socket
}

// send writes buf to dst on the peer port.
func (t *Transport) send(ctx context.Context, dst net.IP, buf []byte) error {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if t.socket == nil {
		return fmt.Errorf("%w: %w", ErrTransmission, ErrNotOpen)
	}
	raddr := &net.UDPAddr{IP: dst, Port: t.cfg.PeerPort}
	if err := t.socket.WriteWithContext(ctx, raddr, buf); err != nil {
		return fmt.Errorf("%w to %v: %w", ErrTransmission, raddr, err)
	}
	return nil
}

// Generation is incremented every time a socket is opened.
func (t *Transport) Generation() uint64 {
	return t.generation.Load()
}

func (t *Transport) LocalAddr() net.Addr {
	s := t.current()
	if s == nil {
		return nil
	}
	return s.LocalAddr()
}

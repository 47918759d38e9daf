package client

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/plgd-dev/go-coap-light/message"
	coapNet "github.com/plgd-dev/go-coap-light/net"
	"github.com/plgd-dev/go-coap-light/pkg/metrics"
	"github.com/plgd-dev/go-coap-light/pkg/runner/periodic"
	"github.com/plgd-dev/go-coap-light/udp/coder"
)

func (cc *Conn) start(ctx context.Context) (context.Context, bool) {
	cc.mutex.Lock()
	defer cc.mutex.Unlock()
	if cc.closed {
		return nil, false
	}
	ctx, cc.cancel = context.WithCancel(ctx)
	return ctx, true
}

// Run receives datagrams and dispatches replies until ctx is done or Close is
// called, in which case it returns nil. A socket whose descriptor became
// invalid is reopened.
func (cc *Conn) Run(ctx context.Context) error {
	if !cc.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer cc.running.Store(false)
	ctx, ok := cc.start(ctx)
	if !ok {
		return nil
	}
	defer cc.cancel()
	// unblocks the pending read
	stop := context.AfterFunc(ctx, func() {
		_ = cc.transport.close()
	})
	defer func() {
		stop()
		_ = cc.transport.close()
	}()

	if cc.transport.current() == nil {
		if err := cc.transport.open(ctx); err != nil {
			return cc.stopped(ctx, err)
		}
	}

	runner := cc.cfg.PeriodicRunner
	if runner == nil {
		runner = periodic.New(ctx.Done(), cc.cfg.ExpirationTick)
	}
	runner(func(now time.Time) bool {
		cc.registry.CheckExpirations(now)
		cc.cfg.Metrics.PendingReplies.Set(float64(cc.registry.Len()))
		return ctx.Err() == nil
	})

	buf := make([]byte, cc.cfg.MaxMessageSize+1)
	for {
		if ctx.Err() != nil {
			return nil
		}
		s := cc.transport.current()
		if s == nil {
			if err := cc.transport.open(ctx); err != nil {
				return cc.stopped(ctx, err)
			}
			continue
		}
		n, from, err := s.ReadWithContext(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err = cc.handleReadError(ctx, err); err != nil {
				return cc.stopped(ctx, err)
			}
			continue
		}
		cc.process(buf[:n], from)
	}
}

func (cc *Conn) stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (cc *Conn) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (cc *Conn) handleReadError(ctx context.Context, err error) error {
	cond := coapNet.Classify(err)
	cc.cfg.Metrics.SocketConditions.WithLabelValues(cond.String()).Inc()
	switch cond {
	case coapNet.ConditionInvalid:
		cc.cfg.Logger.Warn("invalid socket", slog.String("error", err.Error()))
		if err := cc.transport.reopen(ctx); err != nil {
			return err
		}
		cc.cfg.Metrics.Reopens.Inc()
		cc.cfg.Logger.Info("socket has been re-open", slog.Uint64("generation", cc.transport.Generation()))
	case coapNet.ConditionHangup:
		cc.cfg.Logger.Warn("socket hang-up", slog.String("error", err.Error()))
	default:
		cc.cfg.Logger.Error("socket "+cond.String(), slog.String("error", err.Error()))
		cc.sleep(ctx, cc.cfg.WaitBackoff)
	}
	return nil
}

func (cc *Conn) process(data []byte, from *net.UDPAddr) {
	logger := cc.cfg.Logger.With(slog.Any("from", from))
	if len(data) == 0 {
		cc.cfg.Metrics.MessagesReceived.WithLabelValues(metrics.ResultEmpty).Inc()
		logger.Debug("empty datagram received")
		return
	}
	if len(data) > int(cc.cfg.MaxMessageSize) {
		cc.cfg.Metrics.MessagesReceived.WithLabelValues(metrics.ResultInvalid).Inc()
		logger.Warn("datagram exceeds max message size", slog.Int("max_message_size", int(cc.cfg.MaxMessageSize)))
		return
	}
	// decoded messages alias their buffer, handlers must not see it reused
	b := make([]byte, len(data))
	copy(b, data)
	var msg message.Message
	if _, err := coder.DefaultCoder.Decode(b, &msg); err != nil {
		cc.cfg.Metrics.MessagesReceived.WithLabelValues(metrics.ResultInvalid).Inc()
		logger.Warn("invalid data received", slog.String("error", err.Error()))
		return
	}
	e, ok := cc.registry.MatchAndConsume(&msg)
	if !ok {
		cc.cfg.Metrics.MessagesReceived.WithLabelValues(metrics.ResultUnmatched).Inc()
		logger.Debug("no pending request for message",
			slog.String("code", msg.Code.Dotted()),
			slog.String("message", msg.String()))
		return
	}
	cc.cfg.Metrics.ObserveReply(e.Created())
	cc.cfg.Metrics.PendingReplies.Set(float64(cc.registry.Len()))
	if err := e.Handle(&msg, from); err != nil {
		logger.Warn("reply handler failed",
			slog.String("token", e.Token().String()),
			slog.String("error", err.Error()))
	}
}

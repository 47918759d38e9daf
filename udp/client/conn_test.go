package client_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap-light/message"
	"github.com/plgd-dev/go-coap-light/message/codes"
	coapNet "github.com/plgd-dev/go-coap-light/net"
	"github.com/plgd-dev/go-coap-light/net/reply"
	"github.com/plgd-dev/go-coap-light/pkg/metrics"
	"github.com/plgd-dev/go-coap-light/udp/client"
	"github.com/plgd-dev/go-coap-light/udp/coder"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var (
	meshAddr = net.ParseIP("ff03::1")
	peerAddr = &net.UDPAddr{IP: net.ParseIP("fd00::20"), Port: 5683}
)

type datagram struct {
	data []byte
	from *net.UDPAddr
	err  error
}

type written struct {
	raddr *net.UDPAddr
	data  []byte
}

type fakeSocket struct {
	reads     chan datagram
	sent      chan written
	closed    chan struct{}
	closeOnce sync.Once

	mutex    sync.Mutex
	writeErr error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		reads:  make(chan datagram, 16),
		sent:   make(chan written, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) WriteWithContext(_ context.Context, raddr *net.UDPAddr, buffer []byte) error {
	s.mutex.Lock()
	err := s.writeErr
	s.mutex.Unlock()
	if err != nil {
		return err
	}
	s.sent <- written{raddr: raddr, data: append([]byte(nil), buffer...)}
	return nil
}

func (s *fakeSocket) ReadWithContext(_ context.Context, buffer []byte) (int, *net.UDPAddr, error) {
	select {
	case d := <-s.reads:
		if d.err != nil {
			return -1, nil, d.err
		}
		return copy(buffer, d.data), d.from, nil
	case <-s.closed:
		return -1, nil, coapNet.ErrConnectionIsClosed
	}
}

func (s *fakeSocket) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv6unspecified, Port: 40000}
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSocket) setWriteErr(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.writeErr = err
}

// fakeNet hands out fake sockets, failing the first failures dials.
type fakeNet struct {
	mutex    sync.Mutex
	failures int
	dials    int
	sockets  []*fakeSocket
}

func (n *fakeNet) dial(context.Context, string, string) (client.Socket, error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.dials++
	if n.failures < 0 || n.dials <= n.failures {
		return nil, errors.New("address family not supported")
	}
	s := newFakeSocket()
	n.sockets = append(n.sockets, s)
	return s, nil
}

func (n *fakeNet) socket(t *testing.T, i int) *fakeSocket {
	t.Helper()
	n.mutex.Lock()
	defer n.mutex.Unlock()
	require.Greater(t, len(n.sockets), i)
	return n.sockets[i]
}

func (n *fakeNet) numSockets() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return len(n.sockets)
}

func testConfig(n *fakeNet) client.Config {
	return client.Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dialer:      n.dial,
		OpenBackoff: time.Millisecond,
		WaitBackoff: time.Millisecond,
		Metrics:     metrics.New("", nil),
	}
}

// runConn opens cc and runs its receiver loop until the test ends.
func runConn(t *testing.T, cc *client.Conn) {
	t.Helper()
	require.NoError(t, cc.Open(context.Background()))
	errCh := make(chan error, 1)
	go func() {
		errCh <- cc.Run(context.Background())
	}()
	t.Cleanup(func() {
		require.NoError(t, cc.Close())
		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			require.FailNow(t, "receiver loop did not stop")
		}
	})
}

func newTestConn(t *testing.T, modify func(cfg *client.Config)) (*client.Conn, *fakeNet, client.Config) {
	t.Helper()
	n := &fakeNet{}
	cfg := testConfig(n)
	if modify != nil {
		modify(&cfg)
	}
	cc := client.New(cfg)
	runConn(t, cc)
	return cc, n, cfg
}

func waitSent(t *testing.T, s *fakeSocket) (written, message.Message) {
	t.Helper()
	select {
	case w := <-s.sent:
		var msg message.Message
		_, err := coder.DefaultCoder.Decode(w.data, &msg)
		require.NoError(t, err)
		return w, msg
	case <-time.After(5 * time.Second):
		require.FailNow(t, "request not sent")
	}
	return written{}, message.Message{}
}

func requireNothingSent(t *testing.T, s *fakeSocket) {
	t.Helper()
	select {
	case w := <-s.sent:
		require.FailNowf(t, "unexpected datagram", "%v", w.data)
	default:
	}
}

func encodeReply(t *testing.T, token message.Token, payload []byte) []byte {
	t.Helper()
	msg := message.Message{
		Token:     token,
		Code:      codes.Content,
		Type:      message.NonConfirmable,
		MessageID: 0x1234,
		Payload:   payload,
	}
	size, err := coder.DefaultCoder.Size(msg)
	require.NoError(t, err)
	buf := make([]byte, size)
	_, err = coder.DefaultCoder.Encode(msg, buf)
	require.NoError(t, err)
	return buf
}

type received struct {
	msg   *message.Message
	entry *reply.Entry
	from  *net.UDPAddr
}

func recordingHandler(ch chan<- received) reply.Handler {
	return func(r *message.Message, e *reply.Entry, from *net.UDPAddr) error {
		ch <- received{msg: r, entry: e, from: from}
		return nil
	}
}

func waitCounter(t *testing.T, get func() float64, want float64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return get() == want
	}, 5*time.Second, time.Millisecond)
}

func TestConnSendUntracked(t *testing.T) {
	cc, n, _ := newTestConn(t, nil)
	err := cc.SendUntracked(context.Background(), codes.PUT, meshAddr, []string{"light"}, []byte{'2'})
	require.NoError(t, err)

	w, msg := waitSent(t, n.socket(t, 0))
	require.True(t, w.raddr.IP.Equal(meshAddr))
	require.Equal(t, client.DefaultPeerPort, w.raddr.Port)
	require.Empty(t, w.raddr.Zone)
	require.Equal(t, codes.PUT, msg.Code)
	require.Equal(t, message.NonConfirmable, msg.Type)
	require.Len(t, msg.Token, message.TokenSize)
	path, err := msg.Options.Path()
	require.NoError(t, err)
	require.Equal(t, "light", path)
	require.Equal(t, []byte{'2'}, msg.Payload)
	require.Equal(t, 0, cc.Registry().Len())
}

func TestConnDestinationUnset(t *testing.T) {
	cc, n, cfg := newTestConn(t, nil)
	s := n.socket(t, 0)
	for _, dst := range []net.IP{nil, net.IPv6unspecified, net.ParseIP("::1"), net.IPv4zero} {
		err := cc.SendUntracked(context.Background(), codes.PUT, dst, []string{"light"}, []byte{'2'})
		require.ErrorIs(t, err, client.ErrDestinationUnset)
		err = cc.SendTracked(context.Background(), codes.GET, dst, []string{"provisioning"}, nil, func(*message.Message, *reply.Entry, *net.UDPAddr) error {
			return nil
		})
		require.ErrorIs(t, err, client.ErrDestinationUnset)
	}
	requireNothingSent(t, s)
	require.Equal(t, 0, cc.Registry().Len())
	require.InDelta(t, 8, testutil.ToFloat64(cfg.Metrics.SendErrors.WithLabelValues("destination")), 0)
}

func TestIsDestinationSet(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{ip: "ff03::1", want: true},
		{ip: "fd00::20", want: true},
		{ip: "2001:db8::1", want: true},
		{ip: "::", want: false},
		{ip: "::1", want: false},
		{ip: "0:1::1", want: false},
		{ip: "127.0.0.1", want: true},
		{ip: "0.0.0.0", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			require.Equal(t, tt.want, client.IsDestinationSet(net.ParseIP(tt.ip)))
		})
	}
	require.False(t, client.IsDestinationSet(nil))
}

func TestConnSendTrackedReplyFiresOnce(t *testing.T) {
	cc, n, cfg := newTestConn(t, nil)
	s := n.socket(t, 0)
	replies := make(chan received, 4)
	err := cc.SendTracked(context.Background(), codes.GET, meshAddr, []string{"provisioning"}, nil, recordingHandler(replies))
	require.NoError(t, err)
	require.Equal(t, 1, cc.Registry().Len())

	_, req := waitSent(t, s)
	require.Equal(t, codes.GET, req.Code)
	require.Empty(t, req.Payload)

	addr := []byte{0x20, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	data := encodeReply(t, req.Token, addr)
	s.reads <- datagram{data: data, from: peerAddr}
	select {
	case r := <-replies:
		require.Equal(t, addr, r.msg.Payload)
		require.Equal(t, peerAddr, r.from)
		require.True(t, r.entry.Token().Equal(req.Token))
	case <-time.After(5 * time.Second):
		require.FailNow(t, "reply handler not invoked")
	}
	require.Equal(t, 0, cc.Registry().Len())

	// duplicate
	s.reads <- datagram{data: data, from: peerAddr}
	waitCounter(t, func() float64 {
		return testutil.ToFloat64(cfg.Metrics.MessagesReceived.WithLabelValues(metrics.ResultUnmatched))
	}, 1)
	require.Empty(t, replies)
	require.InDelta(t, 1, testutil.ToFloat64(cfg.Metrics.MessagesReceived.WithLabelValues(metrics.ResultMatched)), 0)
}

func TestConnSecondTrackedOverwritesFirst(t *testing.T) {
	cc, n, cfg := newTestConn(t, nil)
	s := n.socket(t, 0)
	first := make(chan received, 1)
	second := make(chan received, 1)
	require.NoError(t, cc.SendTracked(context.Background(), codes.GET, meshAddr, []string{"provisioning"}, nil, recordingHandler(first)))
	_, req1 := waitSent(t, s)
	require.NoError(t, cc.SendTracked(context.Background(), codes.GET, meshAddr, []string{"provisioning"}, nil, recordingHandler(second)))
	_, req2 := waitSent(t, s)
	require.Equal(t, 1, cc.Registry().Len())
	require.InDelta(t, 1, testutil.ToFloat64(cfg.Metrics.RegistryEvents.WithLabelValues(metrics.EventEvicted)), 0)

	s.reads <- datagram{data: encodeReply(t, req1.Token, []byte{1}), from: peerAddr}
	waitCounter(t, func() float64 {
		return testutil.ToFloat64(cfg.Metrics.MessagesReceived.WithLabelValues(metrics.ResultUnmatched))
	}, 1)
	require.Empty(t, first)

	s.reads <- datagram{data: encodeReply(t, req2.Token, []byte{2}), from: peerAddr}
	select {
	case r := <-second:
		require.Equal(t, []byte{2}, r.msg.Payload)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "second handler not invoked")
	}
	require.Empty(t, first)
}

func TestConnSendTrackedReject(t *testing.T) {
	cc, n, cfg := newTestConn(t, func(cfg *client.Config) {
		cfg.RegistryPolicy = reply.PolicyReject
	})
	s := n.socket(t, 0)
	h := func(*message.Message, *reply.Entry, *net.UDPAddr) error { return nil }
	require.NoError(t, cc.SendTracked(context.Background(), codes.GET, meshAddr, []string{"provisioning"}, nil, h))
	waitSent(t, s)
	err := cc.SendTracked(context.Background(), codes.GET, meshAddr, []string{"provisioning"}, nil, h)
	require.ErrorIs(t, err, reply.ErrRegistryFull)
	requireNothingSent(t, s)
	require.InDelta(t, 1, testutil.ToFloat64(cfg.Metrics.RegistryEvents.WithLabelValues(metrics.EventRejected)), 0)
}

func TestConnSendFailureUnregisters(t *testing.T) {
	cc, n, cfg := newTestConn(t, nil)
	s := n.socket(t, 0)
	s.setWriteErr(errors.New("network is unreachable"))
	h := func(*message.Message, *reply.Entry, *net.UDPAddr) error { return nil }

	err := cc.SendTracked(context.Background(), codes.GET, meshAddr, []string{"provisioning"}, nil, h)
	require.ErrorIs(t, err, client.ErrTransmission)
	require.Equal(t, 0, cc.Registry().Len())
	require.InDelta(t, 1, testutil.ToFloat64(cfg.Metrics.RegistryEvents.WithLabelValues(metrics.EventUnregistered)), 0)

	err = cc.SendUntracked(context.Background(), codes.PUT, meshAddr, []string{"light"}, []byte{'1'})
	require.ErrorIs(t, err, client.ErrTransmission)
	require.InDelta(t, 2, testutil.ToFloat64(cfg.Metrics.SendErrors.WithLabelValues("transmission")), 0)
}

func TestConnEncodingError(t *testing.T) {
	cc, n, _ := newTestConn(t, nil)
	s := n.socket(t, 0)
	h := func(*message.Message, *reply.Entry, *net.UDPAddr) error { return nil }

	err := cc.SendUntracked(context.Background(), codes.PUT, meshAddr, []string{strings.Repeat("a", 300)}, nil)
	require.ErrorIs(t, err, client.ErrEncoding)
	require.ErrorIs(t, err, message.ErrInvalidValueLength)

	err = cc.SendTracked(context.Background(), codes.PUT, meshAddr, []string{"light"}, make([]byte, 512), h)
	require.ErrorIs(t, err, client.ErrEncoding)
	require.ErrorIs(t, err, message.ErrTooSmall)
	require.Equal(t, 0, cc.Registry().Len())
	requireNothingSent(t, s)
}

func TestConnTokenError(t *testing.T) {
	cc, _, _ := newTestConn(t, func(cfg *client.Config) {
		cfg.GetToken = func() (message.Token, error) {
			return nil, errors.New("entropy exhausted")
		}
	})
	err := cc.SendUntracked(context.Background(), codes.PUT, meshAddr, []string{"light"}, []byte{'2'})
	require.ErrorIs(t, err, client.ErrEncoding)
}

func TestConnInvalidDatagramIsDropped(t *testing.T) {
	cc, n, cfg := newTestConn(t, nil)
	s := n.socket(t, 0)
	replies := make(chan received, 1)
	require.NoError(t, cc.SendTracked(context.Background(), codes.GET, meshAddr, []string{"provisioning"}, nil, recordingHandler(replies)))
	_, req := waitSent(t, s)

	valid := encodeReply(t, req.Token, []byte{1})
	// unsupported version
	invalid := append([]byte(nil), valid...)
	invalid[0] = 0x80 | invalid[0]&0x3f
	s.reads <- datagram{data: invalid, from: peerAddr}
	// truncated token
	s.reads <- datagram{data: valid[:6], from: peerAddr}
	// empty
	s.reads <- datagram{data: []byte{}, from: peerAddr}
	// exceeds max message size
	s.reads <- datagram{data: make([]byte, 300), from: peerAddr}

	waitCounter(t, func() float64 {
		return testutil.ToFloat64(cfg.Metrics.MessagesReceived.WithLabelValues(metrics.ResultInvalid))
	}, 3)
	waitCounter(t, func() float64 {
		return testutil.ToFloat64(cfg.Metrics.MessagesReceived.WithLabelValues(metrics.ResultEmpty))
	}, 1)
	require.Empty(t, replies)
	require.Equal(t, 1, cc.Registry().Len())

	s.reads <- datagram{data: valid, from: peerAddr}
	select {
	case <-replies:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "reply handler not invoked")
	}
}

func TestConnReopenOnInvalidDescriptor(t *testing.T) {
	cc, n, cfg := newTestConn(t, nil)
	s0 := n.socket(t, 0)
	require.Equal(t, uint64(1), cc.Transport().Generation())

	s0.reads <- datagram{err: fmt.Errorf("cannot read from udp connection: %w", net.ErrClosed)}
	require.Eventually(t, func() bool {
		return n.numSockets() == 2
	}, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return cc.Transport().Generation() == 2
	}, 5*time.Second, time.Millisecond)
	require.True(t, s0.isClosed())
	waitCounter(t, func() float64 {
		return testutil.ToFloat64(cfg.Metrics.Reopens)
	}, 1)

	// loop keeps serving on the new socket
	s1 := n.socket(t, 1)
	replies := make(chan received, 1)
	require.NoError(t, cc.SendTracked(context.Background(), codes.GET, meshAddr, []string{"provisioning"}, nil, recordingHandler(replies)))
	_, req := waitSent(t, s1)
	s1.reads <- datagram{data: encodeReply(t, req.Token, []byte{1}), from: peerAddr}
	select {
	case <-replies:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "reply handler not invoked")
	}
	require.Equal(t, 2, n.numSockets())
	require.InDelta(t, 1, testutil.ToFloat64(cfg.Metrics.Reopens), 0)
}

func TestConnTransientConditions(t *testing.T) {
	cc, n, cfg := newTestConn(t, nil)
	s := n.socket(t, 0)
	s.reads <- datagram{err: errors.New("i/o timeout")}
	s.reads <- datagram{err: io.EOF}

	waitCounter(t, func() float64 {
		return testutil.ToFloat64(cfg.Metrics.SocketConditions.WithLabelValues(coapNet.ConditionWaitError.String()))
	}, 1)
	waitCounter(t, func() float64 {
		return testutil.ToFloat64(cfg.Metrics.SocketConditions.WithLabelValues(coapNet.ConditionHangup.String()))
	}, 1)
	require.Equal(t, 1, n.numSockets())
	require.Equal(t, uint64(1), cc.Transport().Generation())

	replies := make(chan received, 1)
	require.NoError(t, cc.SendTracked(context.Background(), codes.GET, meshAddr, []string{"provisioning"}, nil, recordingHandler(replies)))
	_, req := waitSent(t, s)
	s.reads <- datagram{data: encodeReply(t, req.Token, []byte{1}), from: peerAddr}
	select {
	case <-replies:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "reply handler not invoked")
	}
}

func TestConnReplyHandlerError(t *testing.T) {
	cc, n, cfg := newTestConn(t, nil)
	s := n.socket(t, 0)
	calls := make(chan struct{}, 2)
	require.NoError(t, cc.SendTracked(context.Background(), codes.GET, meshAddr, []string{"provisioning"}, nil,
		func(*message.Message, *reply.Entry, *net.UDPAddr) error {
			calls <- struct{}{}
			return errors.New("malformed")
		}))
	_, req := waitSent(t, s)
	s.reads <- datagram{data: encodeReply(t, req.Token, []byte{1}), from: peerAddr}
	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "reply handler not invoked")
	}
	require.Equal(t, 0, cc.Registry().Len())
	require.InDelta(t, 1, testutil.ToFloat64(cfg.Metrics.MessagesReceived.WithLabelValues(metrics.ResultMatched)), 0)
}

func TestConnReplyTimeout(t *testing.T) {
	tick := make(chan func(time.Time) bool, 1)
	cc, _, cfg := newTestConn(t, func(cfg *client.Config) {
		cfg.ReplyTimeout = time.Second
		cfg.PeriodicRunner = func(f func(time.Time) bool) {
			tick <- f
		}
	})
	var check func(time.Time) bool
	select {
	case check = <-tick:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "expiration runner not registered")
	}

	noReply := make(chan error, 1)
	require.NoError(t, cc.SendTracked(context.Background(), codes.GET, meshAddr, []string{"provisioning"}, nil,
		func(*message.Message, *reply.Entry, *net.UDPAddr) error {
			return nil
		}, reply.WithNoReply(func(_ *reply.Entry, err error) {
			noReply <- err
		})))

	require.True(t, check(time.Now()))
	require.Equal(t, 1, cc.Registry().Len())
	require.True(t, check(time.Now().Add(time.Minute)))
	require.Equal(t, 0, cc.Registry().Len())
	select {
	case err := <-noReply:
		require.ErrorIs(t, err, reply.ErrNoReply)
	default:
		require.FailNow(t, "no-reply not reported")
	}
	require.InDelta(t, 1, testutil.ToFloat64(cfg.Metrics.RegistryEvents.WithLabelValues(metrics.EventExpired)), 0)
}

func TestConnOpenRetries(t *testing.T) {
	n := &fakeNet{failures: 3}
	cfg := testConfig(n)
	cc := client.New(cfg)
	require.NoError(t, cc.Open(context.Background()))
	require.Equal(t, 4, n.dials)
	require.Equal(t, uint64(1), cc.Transport().Generation())
	require.InDelta(t, 3, testutil.ToFloat64(cfg.Metrics.OpenAttempts.WithLabelValues("error")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(cfg.Metrics.OpenAttempts.WithLabelValues("success")), 0)
	require.NoError(t, cc.Close())
}

func TestConnOpenCancelled(t *testing.T) {
	n := &fakeNet{failures: -1}
	cc := client.New(testConfig(n))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := cc.Open(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Positive(t, n.dials)

	// the loop opens the socket itself and stops with the context
	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, cc.Run(ctx))
}

func TestConnSendNotOpen(t *testing.T) {
	cc := client.New(testConfig(&fakeNet{}))
	err := cc.SendUntracked(context.Background(), codes.PUT, meshAddr, []string{"light"}, []byte{'2'})
	require.ErrorIs(t, err, client.ErrTransmission)
	require.ErrorIs(t, err, client.ErrNotOpen)
}

// startedConfig signals on the returned channel once the receiver loop is running.
func startedConfig(n *fakeNet) (client.Config, <-chan struct{}) {
	started := make(chan struct{}, 1)
	cfg := testConfig(n)
	cfg.PeriodicRunner = func(func(time.Time) bool) {
		started <- struct{}{}
	}
	return cfg, started
}

func waitStarted(t *testing.T, started <-chan struct{}) {
	t.Helper()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "receiver loop not started")
	}
}

func TestConnRunLifecycle(t *testing.T) {
	n := &fakeNet{}
	cfg, started := startedConfig(n)
	cc := client.New(cfg)
	require.NoError(t, cc.Open(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- cc.Run(context.Background())
	}()
	waitStarted(t, started)
	require.ErrorIs(t, cc.Run(context.Background()), client.ErrAlreadyRunning)

	require.NoError(t, cc.Close())
	require.NoError(t, cc.Close())
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "receiver loop did not stop")
	}
	require.True(t, n.socket(t, 0).isClosed())
	// closed connection never runs again
	require.NoError(t, cc.Run(context.Background()))
	require.Equal(t, 1, n.numSockets())
}

func TestConnRunStopsOnContext(t *testing.T) {
	n := &fakeNet{}
	cfg, started := startedConfig(n)
	cc := client.New(cfg)
	require.NoError(t, cc.Open(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- cc.Run(ctx)
	}()
	waitStarted(t, started)
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "receiver loop did not stop")
	}
	require.True(t, n.socket(t, 0).isClosed())
	require.Equal(t, 1, n.numSockets())
}

func TestConnCloseDrainsPendingReplies(t *testing.T) {
	cc, n, cfg := newTestConn(t, nil)
	s := n.socket(t, 0)
	noReply := make(chan error, 1)
	err := cc.SendTracked(context.Background(), codes.GET, meshAddr, []string{"provisioning"}, nil, recordingHandler(make(chan received, 1)),
		reply.WithNoReply(func(_ *reply.Entry, err error) {
			noReply <- err
		}))
	require.NoError(t, err)
	waitSent(t, s)
	require.Equal(t, 1, cc.Registry().Len())

	require.NoError(t, cc.Close())
	select {
	case err := <-noReply:
		require.ErrorIs(t, err, reply.ErrNoReply)
	default:
		require.FailNow(t, "pending reply not reported on close")
	}
	require.Equal(t, 0, cc.Registry().Len())
	require.InDelta(t, 0, testutil.ToFloat64(cfg.Metrics.PendingReplies), 0)
}

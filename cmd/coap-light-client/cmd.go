package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/plgd-dev/go-coap-light/light"
	"github.com/plgd-dev/go-coap-light/net/reply"
	"github.com/plgd-dev/go-coap-light/options/config"
	"github.com/plgd-dev/go-coap-light/pkg/metrics"
	"github.com/plgd-dev/go-coap-light/udp"
	"github.com/plgd-dev/go-coap-light/udp/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// defaultSendTimeout bounds the wait for a provisioning reply of the send command when no reply timeout is configured.
const defaultSendTimeout = 5 * time.Second

type app struct {
	configFile string
	envFiles   []string
	peer       string
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "coap-light-client",
		Short:         "Control CoAP lights of a Thread mesh",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML configuration file")
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "Optional .env files")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Read commands from standard input, one per line",
		Long: `Read commands from standard input, one per line:
  u  toggle the provisioned light
  m  switch all lights of the mesh on or off
  p  request the address of the light in provisioning mode`,
		Args: cobra.NoArgs,
		RunE: a.run,
	})
	sendCmd := &cobra.Command{
		Use:   "send u|m|p",
		Short: "Send a single command",
		Example: `  coap-light-client send p
  coap-light-client send u --peer fd11:22::1`,
		ValidArgs: []string{"u", "m", "p"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE:      a.send,
	}
	sendCmd.Flags().StringVar(&a.peer, "peer", "", "Address of the light toggled by u, as printed by p")
	root.AddCommand(sendCmd)
	return root
}

type session struct {
	cfg     config.Config
	logger  *slog.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	conn    *client.Conn
}

func (a *app) dial(ctx context.Context) (*session, error) {
	cfg, err := config.Load(a.configFile, a.envFiles...)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(a.stderr)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(metrics.DefaultNamespace, reg)
	opts, err := cfg.ClientOptions(logger, m)
	if err != nil {
		return nil, err
	}
	cc, err := udp.Dial(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, reg: reg, metrics: m, conn: cc}, nil
}

func (s *session) newLight(onPeerAddress func(net.IP)) (*light.Client, error) {
	mcast, err := s.cfg.MulticastIP()
	if err != nil {
		return nil, err
	}
	return light.New(s.conn, light.Config{
		Logger:        s.logger,
		MulticastAddr: mcast,
		OnPeerAddress: onPeerAddress,
	}), nil
}

func (a *app) run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer s.conn.Close()
	lc, err := s.newLight(nil)
	if err != nil {
		return err
	}
	s.logger.Info("start CoAP light client", slog.Any("local_addr", s.conn.LocalAddr()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.conn.Run(ctx)
	})
	g.Go(func() error {
		return lc.Run(ctx)
	})
	g.Go(func() error {
		return readCommands(ctx, a.stdin, lc, s.logger)
	})
	if s.cfg.MetricsAddress != "" {
		g.Go(func() error {
			return serveMetrics(ctx, s.cfg.MetricsAddress, s.reg, s.logger)
		})
	}
	return g.Wait()
}

type submitter interface {
	Submit(a light.Action) error
}

// scanLines sends the lines of r to the returned channel, which is closed
// when r is exhausted. The scan error, if any, is sent to errCh before.
func scanLines(r io.Reader, done <-chan struct{}, errCh chan<- error) <-chan []byte {
	lines := make(chan []byte)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := bytes.Clone(scanner.Bytes())
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
		errCh <- scanner.Err()
	}()
	return lines
}

// readCommands submits one action per line of r until r is exhausted or ctx
// is done. A read blocked on r does not delay the return on ctx cancellation.
func readCommands(ctx context.Context, r io.Reader, q submitter, logger *slog.Logger) error {
	done := make(chan struct{})
	defer close(done)
	errCh := make(chan error, 1)
	lines := scanLines(r, done, errCh)
	for {
		var line []byte
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			if err := <-errCh; err != nil {
				return fmt.Errorf("cannot read commands: %w", err)
			}
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		a, err := light.ParseAction(line)
		if err != nil {
			logger.Warn("unknown command, use u, m or p", slog.String("error", err.Error()))
			continue
		}
		if err = q.Submit(a); err != nil {
			logger.Warn("cannot submit command", slog.String("error", err.Error()))
		}
	}
}

func serveMetrics(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("starting metrics server", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func (a *app) send(cmd *cobra.Command, args []string) error {
	action, err := light.ParseAction([]byte(args[0]))
	if err != nil {
		return err
	}
	var peer net.IP
	if a.peer != "" {
		if peer = net.ParseIP(a.peer); peer == nil {
			return fmt.Errorf("invalid peer address %q", a.peer)
		}
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer s.conn.Close()
	provisioned := make(chan net.IP, 1)
	lc, err := s.newLight(func(addr net.IP) {
		select {
		case provisioned <- addr:
		default:
		}
	})
	if err != nil {
		return err
	}
	if peer != nil {
		lc.SetPeerAddr(peer)
	}
	if action != light.ActionProvision {
		return lc.Execute(ctx, action)
	}

	timeout := s.cfg.ReplyTimeout
	if timeout == 0 {
		timeout = defaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- s.conn.Run(ctx)
	}()
	defer func() {
		_ = s.conn.Close()
		<-runErr
	}()
	if err = lc.SendProvisioningRequest(ctx, reply.WithTimeout(timeout)); err != nil {
		return err
	}
	select {
	case addr := <-provisioned:
		fmt.Fprintln(a.stdout, addr.String())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("provisioning: %w", reply.ErrNoReply)
	}
}

package options

import (
	"log/slog"
	"time"

	"github.com/plgd-dev/go-coap-light/message"
	"github.com/plgd-dev/go-coap-light/pkg/metrics"
	"github.com/plgd-dev/go-coap-light/pkg/runner/periodic"
	udpClient "github.com/plgd-dev/go-coap-light/udp/client"
)

// LoggerOpt logger option.
type LoggerOpt struct {
	logger *slog.Logger
}

func (o LoggerOpt) UDPClientApply(cfg *udpClient.Config) {
	cfg.Logger = o.logger
}

// WithLogger sets the structured logger of the connection.
func WithLogger(logger *slog.Logger) LoggerOpt {
	return LoggerOpt{
		logger: logger,
	}
}

// MaxMessageSizeOpt handler function option.
type MaxMessageSizeOpt struct {
	maxMessageSize uint32
}

func (o MaxMessageSizeOpt) UDPClientApply(cfg *udpClient.Config) {
	cfg.MaxMessageSize = o.maxMessageSize
}

// WithMaxMessageSize limits size of encoded requests and received datagrams.
func WithMaxMessageSize(maxMessageSize uint32) MaxMessageSizeOpt {
	return MaxMessageSizeOpt{maxMessageSize: maxMessageSize}
}

// PeriodicRunnerOpt function which is executed in every ticks
type PeriodicRunnerOpt struct {
	periodicRunner periodic.Func
}

func (o PeriodicRunnerOpt) UDPClientApply(cfg *udpClient.Config) {
	cfg.PeriodicRunner = o.periodicRunner
}

// WithPeriodicRunner set function which is executed in every ticks.
func WithPeriodicRunner(periodicRunner periodic.Func) PeriodicRunnerOpt {
	return PeriodicRunnerOpt{periodicRunner: periodicRunner}
}

// GetTokenOpt token option.
type GetTokenOpt struct {
	getToken udpClient.GetTokenFunc
}

func (o GetTokenOpt) UDPClientApply(cfg *udpClient.Config) {
	cfg.GetToken = o.getToken
}

// WithGetToken set function for generating tokens.
func WithGetToken(getToken func() (message.Token, error)) GetTokenOpt {
	return GetTokenOpt{getToken: getToken}
}

// GetMIDOpt message id option.
type GetMIDOpt struct {
	getMID udpClient.GetMIDFunc
}

func (o GetMIDOpt) UDPClientApply(cfg *udpClient.Config) {
	cfg.GetMID = o.getMID
}

// WithGetMID set function for generating message IDs.
func WithGetMID(getMID func() int32) GetMIDOpt {
	return GetMIDOpt{getMID: getMID}
}

// MetricsOpt metrics option.
type MetricsOpt struct {
	metrics *metrics.Metrics
}

func (o MetricsOpt) UDPClientApply(cfg *udpClient.Config) {
	cfg.Metrics = o.metrics
}

// WithMetrics sets the Prometheus metrics updated by the connection.
func WithMetrics(m *metrics.Metrics) MetricsOpt {
	return MetricsOpt{metrics: m}
}

// ExpirationTickOpt expiration tick option.
type ExpirationTickOpt struct {
	tick time.Duration
}

func (o ExpirationTickOpt) UDPClientApply(cfg *udpClient.Config) {
	cfg.ExpirationTick = o.tick
}

// WithExpirationTick sets how often pending replies are checked for expiration.
func WithExpirationTick(tick time.Duration) ExpirationTickOpt {
	return ExpirationTickOpt{tick: tick}
}

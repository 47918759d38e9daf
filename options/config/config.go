// Package config loads the light client configuration from defaults, an
// optional YAML file, an optional .env file and COAP_LIGHT_ environment variables,
// in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"net"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/units"
	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/plgd-dev/go-coap-light/net/reply"
	"github.com/plgd-dev/go-coap-light/options"
	"github.com/plgd-dev/go-coap-light/pkg/metrics"
	"github.com/plgd-dev/go-coap-light/udp"
)

const EnvPrefix = "COAP_LIGHT_"

type Config struct {
	LogLevel  string `env:"LOG_LEVEL"  yaml:"logLevel"`
	LogFormat string `env:"LOG_FORMAT" yaml:"logFormat"`
	// MetricsAddress is the listen address of the /metrics endpoint, empty disables it.
	MetricsAddress string `env:"METRICS_ADDRESS" yaml:"metricsAddress"`

	Network           string `env:"NETWORK"             yaml:"network"`
	LocalAddress      string `env:"LOCAL_ADDRESS"       yaml:"localAddress"`
	PeerPort          int    `env:"PEER_PORT"           yaml:"peerPort"`
	MulticastAddress  string `env:"MULTICAST_ADDRESS"   yaml:"multicastAddress"`
	MulticastHopLimit int    `env:"MULTICAST_HOP_LIMIT" yaml:"multicastHopLimit"`
	// MaxMessageSize accepts sizes such as 256B or 1KiB.
	MaxMessageSize string `env:"MAX_MESSAGE_SIZE" yaml:"maxMessageSize"`

	OpenBackoff    time.Duration `env:"OPEN_BACKOFF"    yaml:"openBackoff"`
	WaitBackoff    time.Duration `env:"WAIT_BACKOFF"    yaml:"waitBackoff"`
	ReplyTimeout   time.Duration `env:"REPLY_TIMEOUT"   yaml:"replyTimeout"`
	ExpirationTick time.Duration `env:"EXPIRATION_TICK" yaml:"expirationTick"`
	ReplyCapacity  int           `env:"REPLY_CAPACITY"  yaml:"replyCapacity"`
	ReplyPolicy    string        `env:"REPLY_POLICY"    yaml:"replyPolicy"`
}

func Default() Config {
	return Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Network:           "udp6",
		LocalAddress:      "[::]:0",
		PeerPort:          5683,
		MulticastAddress:  "ff03::1",
		MulticastHopLimit: 1,
		MaxMessageSize:    "256B",
		OpenBackoff:       200 * time.Millisecond,
		WaitBackoff:       500 * time.Millisecond,
		ExpirationTick:    time.Second,
		ReplyCapacity:     1,
		ReplyPolicy:       reply.PolicyOverwrite.String(),
	}
}

// Load builds the configuration. file names an optional YAML file, dotenv
// optional .env files; missing .env files are ignored.
func Load(file string, dotenv ...string) (Config, error) {
	cfg := Default()
	if file != "" {
		if err := readYAML(&cfg, file); err != nil {
			return Config{}, err
		}
	}
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("cannot load .env: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("cannot parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readYAML(cfg *Config, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("cannot open configuration file: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f, yaml.Strict())
	if err = dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("cannot parse configuration file %v: %w", file, err)
	}
	return nil
}

func (c Config) Validate() error {
	if _, err := c.MaxMessageSizeBytes(); err != nil {
		return err
	}
	if _, err := reply.ParsePolicy(c.ReplyPolicy); err != nil {
		return err
	}
	if _, err := c.MulticastIP(); err != nil {
		return err
	}
	if c.PeerPort <= 0 || c.PeerPort > math.MaxUint16 {
		return fmt.Errorf("invalid peer port %v", c.PeerPort)
	}
	if c.ReplyCapacity < 1 {
		return fmt.Errorf("invalid reply capacity %v", c.ReplyCapacity)
	}
	if c.ReplyTimeout < 0 {
		return fmt.Errorf("invalid reply timeout %v", c.ReplyTimeout)
	}
	switch c.Network {
	case "udp", "udp4", "udp6":
	default:
		return fmt.Errorf("invalid network %q", c.Network)
	}
	return nil
}

// MaxMessageSizeBytes parses MaxMessageSize.
func (c Config) MaxMessageSizeBytes() (uint32, error) {
	size, err := units.ParseBase2Bytes(c.MaxMessageSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max message size %q: %w", c.MaxMessageSize, err)
	}
	// header and token must always fit
	if size < 16 || size > math.MaxUint16 {
		return 0, fmt.Errorf("invalid max message size %q: out of range", c.MaxMessageSize)
	}
	return uint32(size), nil
}

func (c Config) MulticastIP() (net.IP, error) {
	ip := net.ParseIP(c.MulticastAddress)
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("invalid multicast address %q", c.MulticastAddress)
	}
	return ip, nil
}

// NewLogger creates a logger writing to w according to LogLevel and LogFormat.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ClientOptions converts the configuration into options of udp.Dial.
func (c Config) ClientOptions(logger *slog.Logger, m *metrics.Metrics) ([]udp.Option, error) {
	size, err := c.MaxMessageSizeBytes()
	if err != nil {
		return nil, err
	}
	policy, err := reply.ParsePolicy(c.ReplyPolicy)
	if err != nil {
		return nil, err
	}
	return []udp.Option{
		options.WithLogger(logger),
		options.WithMetrics(m),
		options.WithNetwork(c.Network, c.LocalAddress),
		options.WithPeerPort(c.PeerPort),
		options.WithMulticast(c.MulticastHopLimit, false),
		options.WithMaxMessageSize(size),
		options.WithBackoff(c.OpenBackoff, c.WaitBackoff),
		options.WithReply(c.ReplyCapacity, policy, c.ReplyTimeout),
		options.WithExpirationTick(c.ExpirationTick),
	}, nil
}

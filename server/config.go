package server

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/touka-aoi/low-level-relay/core/engine"
)

const (
	maxConnections = 65535

	DefaultPort            = 8888
	DefaultBacklog         = 128
	DefaultIdleTimeout     = 30 * time.Second
	DefaultInitialCapacity = 100
	DefaultReadBufferSize  = 1024
	DefaultWriteQueueSize  = 64 * 1024
	DefaultMaxWriteRetries = 16

	// WritePolicyQueue は書ききれなかったバイトをピアごとのキューに積み、書き込み可能通知で再送します
	WritePolicyQueue = "queue"
	// WritePolicyRetry は同期的にバックオフ付きで再試行します
	WritePolicyRetry = "retry"
)

type NetworkServerConfig struct {
	Host            string
	Port            uint16
	Backlog         int
	IdleTimeout     time.Duration
	InitialCapacity int
	MaxConnections  int
	ReadBufferSize  int
	WriteQueueSize  int
	WritePolicy     string
	MaxWriteRetries int
	Poller          string
	Debug           bool
}

func DefaultConfig() NetworkServerConfig {
	return NetworkServerConfig{
		Host:            "",
		Port:            DefaultPort,
		Backlog:         DefaultBacklog,
		IdleTimeout:     DefaultIdleTimeout,
		InitialCapacity: DefaultInitialCapacity,
		MaxConnections:  maxConnections,
		ReadBufferSize:  DefaultReadBufferSize,
		WriteQueueSize:  DefaultWriteQueueSize,
		WritePolicy:     WritePolicyQueue,
		MaxWriteRetries: DefaultMaxWriteRetries,
		Poller:          engine.PollerEpoll,
	}
}

// Sanitize replaces out-of-range values with defaults.
func (c NetworkServerConfig) Sanitize() NetworkServerConfig {
	if c.Backlog <= 0 {
		c.Backlog = DefaultBacklog
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = maxConnections
	}
	if c.InitialCapacity <= 0 {
		c.InitialCapacity = DefaultInitialCapacity
	}
	if c.InitialCapacity > c.MaxConnections {
		c.InitialCapacity = c.MaxConnections
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.WriteQueueSize <= 0 {
		c.WriteQueueSize = DefaultWriteQueueSize
	}
	if c.MaxWriteRetries <= 0 {
		c.MaxWriteRetries = DefaultMaxWriteRetries
	}
	switch c.WritePolicy {
	case WritePolicyQueue, WritePolicyRetry:
	default:
		c.WritePolicy = WritePolicyQueue
	}
	switch c.Poller {
	case engine.PollerEpoll, engine.PollerPoll:
	default:
		c.Poller = engine.PollerEpoll
	}
	return c
}

// ApplyEnv overlays RELAY_* variables. Unset or invalid values keep the current setting.
func (c *NetworkServerConfig) ApplyEnv(getenv func(string) string) {
	if host := getenv("RELAY_HOST"); host != "" {
		c.Host = host
	}
	if port := getenv("RELAY_PORT"); port != "" {
		if p, err := strconv.ParseUint(port, 10, 16); err == nil {
			c.Port = uint16(p)
		}
	}
	if timeout := getenv("RELAY_TIMEOUT"); timeout != "" {
		if d, err := parseSeconds(timeout); err == nil {
			c.IdleTimeout = d
		}
	}
	if maxConns := getenv("RELAY_MAX_CONNS"); maxConns != "" {
		if n, err := strconv.Atoi(maxConns); err == nil && n > 0 {
			c.MaxConnections = n
		}
	}
	if poller := getenv("RELAY_POLLER"); poller != "" {
		c.Poller = poller
	}
	if policy := getenv("RELAY_WRITE_POLICY"); policy != "" {
		c.WritePolicy = policy
	}
}

// parseSeconds accepts only a non-empty run of ASCII digits greater than zero.
func parseSeconds(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("empty timeout")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("timeout %q is not a number of seconds", s)
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("timeout must be greater than zero")
	}
	return time.Duration(n) * time.Second, nil
}

type secondsValue struct {
	d *time.Duration
}

func (v secondsValue) String() string {
	if v.d == nil {
		return ""
	}
	return strconv.FormatInt(int64(*v.d/time.Second), 10)
}

func (v secondsValue) Set(s string) error {
	d, err := parseSeconds(s)
	if err != nil {
		return err
	}
	*v.d = d
	return nil
}

func newFlagSet(cfg *NetworkServerConfig, port *uint) *flag.FlagSet {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Var(secondsValue{&cfg.IdleTimeout}, "timeout", "Idle seconds before a silent client is disconnected")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host to listen on (empty for all IPv4 addresses)")
	fs.UintVar(port, "port", uint(cfg.Port), "Port to listen on")
	fs.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "Listen backlog")
	fs.IntVar(&cfg.MaxConnections, "max-conns", cfg.MaxConnections, "Maximum number of concurrent clients")
	fs.StringVar(&cfg.Poller, "poller", cfg.Poller, "Readiness backend: epoll or poll")
	fs.StringVar(&cfg.WritePolicy, "write-policy", cfg.WritePolicy, "Slow client handling: queue or retry")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	return fs
}

// ParseArgs parses command line arguments (without the program name) on top of base.
// On any error base is returned unchanged together with the error, so callers can
// log the problem and keep running with the previous settings.
func ParseArgs(args []string, base NetworkServerConfig) (NetworkServerConfig, error) {
	cfg := base
	port := uint(cfg.Port)
	fs := newFlagSet(&cfg, &port)
	if err := fs.Parse(args); err != nil {
		return base, err
	}
	if fs.NArg() > 0 {
		return base, fmt.Errorf("unexpected arguments %q", fs.Args())
	}
	if port > 65535 {
		return base, fmt.Errorf("port %d out of range", port)
	}
	cfg.Port = uint16(port)
	return cfg, nil
}

func PrintUsage(w io.Writer) {
	cfg := DefaultConfig()
	port := uint(cfg.Port)
	fs := newFlagSet(&cfg, &port)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

package ring

import (
	"time"

	"github.com/lumie-health/ringlink/protocol"
)

// Defaults for the ring hardware family.
const (
	DefaultNamePrefix      = "JCRing"
	DefaultScanWindow      = 30 * time.Second
	DefaultConnectTimeout  = 15 * time.Second
	DefaultResponseTimeout = protocol.DefaultResponseTimeout

	// UUID fragments of the vendor service and its characteristics.
	DefaultServiceFragment = "fff0"
	DefaultWriteFragment   = "fff6"
	DefaultNotifyFragment  = "fff7"
)

// Config holds scanner and client configuration.
type Config struct {
	// NamePrefix filters advertisements, compared case-insensitively
	NamePrefix string

	// ScanWindow stops discovery automatically after this long
	ScanWindow time.Duration

	// ConnectTimeout bounds the GATT connect
	ConnectTimeout time.Duration

	// ResponseTimeout bounds each telemetry read
	ResponseTimeout time.Duration

	ServiceFragment string
	WriteFragment   string
	NotifyFragment  string

	// Clock stamps PairedAt and the set-time command
	Clock func() time.Time

	// OnStateChange observes client state transitions (optional)
	OnStateChange func(State)
}

func defaultConfig() Config {
	return Config{
		NamePrefix:      DefaultNamePrefix,
		ScanWindow:      DefaultScanWindow,
		ConnectTimeout:  DefaultConnectTimeout,
		ResponseTimeout: DefaultResponseTimeout,
		ServiceFragment: DefaultServiceFragment,
		WriteFragment:   DefaultWriteFragment,
		NotifyFragment:  DefaultNotifyFragment,
		Clock:           time.Now,
	}
}

func newConfig(opts []Option) Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option is a functional option for configuring the Scanner and Client.
type Option func(*Config)

// WithNamePrefix sets the advertised-name prefix of the ring family.
func WithNamePrefix(prefix string) Option {
	return func(c *Config) {
		c.NamePrefix = prefix
	}
}

// WithScanWindow sets how long a scan session runs before timing out.
func WithScanWindow(d time.Duration) Option {
	return func(c *Config) {
		c.ScanWindow = d
	}
}

// WithConnectTimeout sets the GATT connect bound.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = d
	}
}

// WithResponseTimeout sets the per-read response bound.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ResponseTimeout = d
	}
}

// WithUUIDFragments overrides the fragments used to locate the vendor
// service and its write and notify characteristics.
//
// Example:
//
//	client := ring.NewClient(adapter, ring.WithUUIDFragments("6e400001", "6e400002", "6e400003"))
func WithUUIDFragments(service, write, notify string) Option {
	return func(c *Config) {
		c.ServiceFragment = service
		c.WriteFragment = write
		c.NotifyFragment = notify
	}
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithStateObserver registers a callback for client state changes. It runs
// synchronously on the goroutine causing the transition.
func WithStateObserver(fn func(State)) Option {
	return func(c *Config) {
		c.OnStateChange = fn
	}
}

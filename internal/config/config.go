// Package config collects the router's tunable timing and policy constants
// (spec.md §4.6) behind a functional-options constructor, the same pattern
// the teacher daemon uses for its manager options (WithClientIP,
// WithPollInterval, ...).
package config

import "time"

// Config holds every timer and threshold the router engine reads. Defaults
// match spec.md §4.6.
type Config struct {
	HelloInterval            time.Duration
	IHUInterval              time.Duration
	UpdateInterval           time.Duration
	RoutePropagationInterval time.Duration
	// DeadPeerSweepInterval is the dead-peer sweep's own cadence, fixed at
	// 1s by spec.md §4.6 independent of DeadPeerThreshold (the staleness
	// limit it checks against). Exposed as a field, like every other timer
	// here, so tests can drive it with a fake clock.
	DeadPeerSweepInterval time.Duration
	DeadPeerThreshold     time.Duration
	SeqNoBumpTimeout      time.Duration
	BigMetricChangeThreshold uint16
	MeshPrefixLen            int
	SourceTableTTL           time.Duration
	RouteTableTTL            time.Duration
}

// Default returns the spec's default Config.
func Default() Config {
	return Config{
		HelloInterval:            4 * time.Second,
		IHUInterval:              12 * time.Second,
		UpdateInterval:           16 * time.Second,
		RoutePropagationInterval: 3 * time.Second,
		DeadPeerSweepInterval:    1 * time.Second,
		DeadPeerThreshold:        8 * time.Second,
		SeqNoBumpTimeout:         4 * time.Second,
		BigMetricChangeThreshold: 10,
		MeshPrefixLen:            64,
		SourceTableTTL:           5 * time.Minute,
		RouteTableTTL:            5 * time.Minute,
	}
}

// Option mutates a Config under construction.
type Option func(*Config)

// New builds a Config starting from Default and applying opts in order.
func New(opts ...Option) Config {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func WithHelloInterval(d time.Duration) Option {
	return func(c *Config) { c.HelloInterval = d }
}

func WithIHUInterval(d time.Duration) Option {
	return func(c *Config) { c.IHUInterval = d }
}

func WithUpdateInterval(d time.Duration) Option {
	return func(c *Config) { c.UpdateInterval = d }
}

func WithRoutePropagationInterval(d time.Duration) Option {
	return func(c *Config) { c.RoutePropagationInterval = d }
}

func WithDeadPeerSweepInterval(d time.Duration) Option {
	return func(c *Config) { c.DeadPeerSweepInterval = d }
}

func WithDeadPeerThreshold(d time.Duration) Option {
	return func(c *Config) { c.DeadPeerThreshold = d }
}

func WithSeqNoBumpTimeout(d time.Duration) Option {
	return func(c *Config) { c.SeqNoBumpTimeout = d }
}

func WithBigMetricChangeThreshold(v uint16) Option {
	return func(c *Config) { c.BigMetricChangeThreshold = v }
}

func WithMeshPrefixLen(n int) Option {
	return func(c *Config) { c.MeshPrefixLen = n }
}

func WithSourceTableTTL(d time.Duration) Option {
	return func(c *Config) { c.SourceTableTTL = d }
}

func WithRouteTableTTL(d time.Duration) Option {
	return func(c *Config) { c.RouteTableTTL = d }
}

// Package config holds the small set of startup knobs cmd/beetled
// needs to wire up a registry, router, and the internal device. JSON
// file loading and the interactive CLI shell are explicitly out of
// scope (spec.md §1); this is just the in-process struct those
// excluded layers would eventually populate.
package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// HATMode selects which hat.HAT implementation a newly connected
// peripheral or client gets.
type HATMode int

const (
	// HATModeBlock assigns a device one of the 256 256-handle blocks,
	// the default for any device whose discovered table might grow.
	HATModeBlock HATMode = iota
	// HATModeSingle pins a device to a fixed 1:1 handle mapping, for
	// transports that front exactly one fixed-shape peer.
	HATModeSingle
)

// Config is the gateway's startup configuration. Use New with Options
// to build one, matching paypal-gatt's own Option func(Device) error
// pattern (option_linux.go/option_darwin.go) generalized from a single
// device to the whole gateway process.
type Config struct {
	GatewayName string
	TCPAddr     string // empty disables the TCP+TLS remote-gateway listener
	UnixAddr    string // empty disables the UNIX-seqpacket local listener
	HATMode     HATMode
	MTUFloor    uint32
	LogLevel    logrus.Level
}

// Option mutates a Config under construction. An Option may fail
// (WithGatewayName given an empty name, WithMTUFloor given a value
// below the ATT default) rather than panicking, so New
// returns an error the way paypal-gatt's own Option does.
type Option func(*Config) error

func defaults() Config {
	return Config{
		GatewayName: "beetle-gw",
		MTUFloor:    23,
		HATMode:     HATModeBlock,
		LogLevel:    logrus.InfoLevel,
	}
}

// New builds a Config from defaults plus opts, applied in order.
func New(opts ...Option) (Config, error) {
	c := defaults()
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return Config{}, err
		}
	}
	if c.TCPAddr == "" && c.UnixAddr == "" {
		return Config{}, fmt.Errorf("config: at least one of TCPAddr or UnixAddr must be set")
	}
	return c, nil
}

// WithGatewayName overrides the default gateway name advertised in the
// GAP device-name characteristic and remote-gateway handshakes.
func WithGatewayName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("config: gateway name must not be empty")
		}
		c.GatewayName = name
		return nil
	}
}

// WithTCPAddr enables the TCP+TLS remote-gateway listener on addr.
func WithTCPAddr(addr string) Option {
	return func(c *Config) error {
		c.TCPAddr = addr
		return nil
	}
}

// WithUnixAddr enables the UNIX-seqpacket local listener on path.
func WithUnixAddr(path string) Option {
	return func(c *Config) error {
		c.UnixAddr = path
		return nil
	}
}

// WithHATMode overrides the default block-allocator HAT mode.
func WithHATMode(mode HATMode) Option {
	return func(c *Config) error {
		c.HATMode = mode
		return nil
	}
}

// WithMTUFloor overrides the negotiated-MTU floor (spec.md §4.5: MTU
// is never negotiated below this value).
func WithMTUFloor(mtu uint32) Option {
	return func(c *Config) error {
		if mtu < 23 {
			return fmt.Errorf("config: mtu floor %d below ATT minimum of 23", mtu)
		}
		c.MTUFloor = mtu
		return nil
	}
}

// WithLogLevel overrides the default Info log level.
func WithLogLevel(level logrus.Level) Option {
	return func(c *Config) error {
		c.LogLevel = level
		return nil
	}
}

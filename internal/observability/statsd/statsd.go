// Package statsd provides a minimal statsd client over UDP.
//
// Metrics are fire-and-forget: a lost datagram or an unreachable collector
// must never affect request handling, so write errors are swallowed.
package statsd

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// Sink accepts metric samples. The zero-configuration implementation is
// Noop; Client ships samples to a statsd collector.
type Sink interface {
	Incr(name string, value int64)
	Gauge(name string, value float64)
	Timing(name string, d time.Duration)
	Close() error
}

// Client is a UDP statsd sink. Safe for concurrent use.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	prefix string
}

var _ Sink = (*Client)(nil)

// New dials the statsd collector. The prefix is prepended to every metric
// name with a trailing dot.
func New(address, prefix string) (*Client, error) {
	conn, err := net.Dial("udp", address)
	if err != nil {
		return nil, fmt.Errorf("dial statsd %s: %w", address, err)
	}
	if prefix != "" && !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}
	return &Client{conn: conn, prefix: prefix}, nil
}

// Incr adds value to a counter.
func (c *Client) Incr(name string, value int64) {
	c.send(fmt.Sprintf("%s%s:%d|c", c.prefix, name, value))
}

// Gauge sets a gauge to value.
func (c *Client) Gauge(name string, value float64) {
	c.send(fmt.Sprintf("%s%s:%g|g", c.prefix, name, value))
}

// Timing records a duration in milliseconds.
func (c *Client) Timing(name string, d time.Duration) {
	c.send(fmt.Sprintf("%s%s:%d|ms", c.prefix, name, d.Milliseconds()))
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) send(sample string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Best effort; UDP writes fail silently when the collector is away.
	_, _ = c.conn.Write([]byte(sample))
}

// Noop discards every sample. Used when metrics are disabled.
type Noop struct{}

var _ Sink = Noop{}

func (Noop) Incr(string, int64)           {}
func (Noop) Gauge(string, float64)        {}
func (Noop) Timing(string, time.Duration) {}
func (Noop) Close() error                 { return nil }

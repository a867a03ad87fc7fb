// Package hostcli is the client library for the hostup daemon. It
// speaks JSON-RPC 2.0 over the daemon's unix socket (TCP fallback) and
// dispatches push notifications to typed callbacks.
package hostcli

import (
	"context"
	"fmt"
	"net"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
)

// Client is a connection to the hostup daemon.
type Client struct {
	cli     *jrpc2.Client
	conn    net.Conn
	events  *Events
	stopped chan struct{}
}

// NewClient connects to the daemon. Events may be nil when the caller
// does not care about push notifications.
func NewClient(events *Events) (*Client, error) {
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	return NewClientConn(conn, events), nil
}

// NewClientConn wraps an established connection. Useful for custom
// transports and tests.
func NewClientConn(conn net.Conn, events *Events) *Client {
	if events == nil {
		events = &Events{}
	}
	c := &Client{conn: conn, events: events, stopped: make(chan struct{})}
	c.cli = jrpc2.NewClient(channel.Line(conn, conn), &jrpc2.ClientOptions{
		OnNotify: events.dispatch,
		OnStop:   func(*jrpc2.Client, error) { close(c.stopped) },
	})
	return c
}

// dial connects over the unix socket, falling back to TCP. Transport
// priority: unix socket, then TCP.
func dial() (net.Conn, error) {
	if forceTCP() {
		debugLog("forcing TCP connection to %s", tcpAddress())
		return net.Dial("tcp", tcpAddress())
	}
	debugLog("attempting connection via unix socket at %s", socketPath())
	conn, unixErr := net.Dial("unix", socketPath())
	if unixErr != nil {
		debugLog("unix socket connection failed: %v, falling back to TCP", unixErr)
		conn, err := net.Dial("tcp", tcpAddress())
		if err != nil {
			return nil, fmt.Errorf("failed to connect: unix socket error: %v; tcp error: %w", unixErr, err)
		}
		return conn, nil
	}
	return conn, nil
}

// call invokes a daemon method and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if err := c.cli.CallResult(ctx, method, params, out); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Wait blocks until the connection closes. Push notifications keep
// arriving while waiting.
func (c *Client) Wait() {
	<-c.stopped
}

// Close tears down the connection.
func (c *Client) Close() error {
	err := c.cli.Close()
	_ = c.conn.Close()
	return err
}

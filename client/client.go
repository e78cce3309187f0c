// Package client sends commands to an evmux server and collects the
// guarded replies, driving the connection from an event base.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"evmux/event"
	"evmux/event/evbuffer"
	"evmux/internal/logging"
)

var (
	// ErrCommandFailed is returned when at least one reply ended in %error.
	ErrCommandFailed = errors.New("command failed")
	// ErrServerExited is returned when the server goes away before every
	// reply has arrived.
	ErrServerExited = errors.New("server exited unexpectedly")
	// ErrTimeout is returned when the server is silent for longer than the
	// configured timeout.
	ErrTimeout = errors.New("timed out waiting for the server")
)

// Options configures a Client.
type Options struct {
	Logger  *logging.Logger
	Timeout time.Duration
	// Notifications receives every line outside a reply when set.
	Notifications io.Writer
}

// Option sets an Options field.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithTimeout fails the run when the server sends nothing for d.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithNotifications copies notification lines to w.
func WithNotifications(w io.Writer) Option {
	return func(o *Options) { o.Notifications = w }
}

// Client runs one batch of commands against a server.
type Client struct {
	opts Options
	log  *zap.Logger
	base *event.Base
	bev  *event.Bufferevent
	out  io.Writer

	pending int
	inReply bool
	failed  bool
	err     error
}

// Run connects to addr, sends every command and writes the reply bodies
// to out in order. It returns ErrCommandFailed when a command failed.
func Run(addr string, commands []string, out io.Writer, opts ...Option) error {
	if len(commands) == 0 {
		return nil
	}
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}

	c := &Client{opts: o, log: o.Logger.Logger, out: out, pending: len(commands)}
	base, err := event.NewBase(event.WithLogger(o.Logger.Std("event")))
	if err != nil {
		return err
	}
	defer base.Close()
	c.base = base

	if err = c.connect(addr); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer c.bev.Free()

	c.bev.SetTimeouts(o.Timeout, o.Timeout)
	for _, cmd := range commands {
		_, _ = c.bev.WriteString(cmd + "\n")
	}
	if err = c.bev.Enable(event.EvRead | event.EvWrite); err != nil {
		return err
	}
	if err = base.Dispatch(); err != nil && !errors.Is(err, event.ErrNoEvents) {
		return err
	}
	switch {
	case c.err != nil:
		return c.err
	case c.pending > 0:
		return ErrServerExited
	case c.failed:
		return ErrCommandFailed
	}
	return nil
}

func (c *Client) connect(addr string) error {
	network, address := event.ParseAddr(addr)
	if network == "unix" {
		bev, err := c.base.ConnectUnix(address, c.onRead, nil, c.onEvent)
		c.bev = bev
		return err
	}

	conn, err := net.Dial(network, address)
	if err != nil {
		return err
	}
	fc, ok := conn.(interface{ File() (*os.File, error) })
	if !ok {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", event.ErrUnsupportedProtocol, network)
	}
	f, err := fc.File()
	_ = conn.Close()
	if err != nil {
		return err
	}
	t, err := event.NewFileTransport(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	c.bev = c.base.NewBufferevent(t, c.onRead, nil, c.onEvent, event.CloseOnFree())
	return nil
}

func (c *Client) onRead(bev *event.Bufferevent) {
	for c.pending > 0 {
		line, ok := bev.Input().ReadLine(evbuffer.EOLLF)
		if !ok {
			return
		}
		c.handleLine(string(line))
	}
	c.base.LoopBreak()
}

func (c *Client) handleLine(line string) {
	kind := guardKind(line)
	switch {
	case !c.inReply && kind == "begin":
		c.inReply = true
	case c.inReply && (kind == "end" || kind == "error"):
		c.inReply = false
		c.pending--
		if kind == "error" {
			c.failed = true
		}
	case c.inReply:
		_, _ = fmt.Fprintln(c.out, line)
	case c.opts.Notifications != nil:
		_, _ = fmt.Fprintln(c.opts.Notifications, line)
	}
}

// guardKind returns "begin", "end" or "error" for a guard line and ""
// otherwise.
func guardKind(line string) string {
	if !strings.HasPrefix(line, "%") {
		return ""
	}
	fields := strings.Fields(line[1:])
	if len(fields) != 4 {
		return ""
	}
	switch fields[0] {
	case "begin", "end", "error":
		return fields[0]
	}
	return ""
}

func (c *Client) onEvent(_ *event.Bufferevent, what event.BevEvent) {
	switch {
	case what&event.BevConnected != 0:
		c.log.Debug("connected")
		return
	case what&event.BevTimeout != 0:
		c.err = ErrTimeout
	case what&event.BevError != 0:
		c.err = c.bev.Err()
	case what&event.BevEOF != 0:
		c.log.Debug("server closed the connection", zap.Int("pending", c.pending))
	}
	c.base.LoopBreak()
}

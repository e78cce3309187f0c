//go:build linux || darwin

package server

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evmux/event"
	"evmux/internal/config"
	"evmux/internal/logging"
)

const ioTimeout = 5 * time.Second

var guardRe = regexp.MustCompile(`^%(begin|end|error) (\d+) (\d+) 0$`)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	// Socket paths are length limited, so stay out of t.TempDir.
	dir, err := os.MkdirTemp("", "evmux")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	cfg := config.Default()
	cfg.Server.Socket = filepath.Join(dir, "s")
	cfg.Jobs.PoolSize = 4

	s, err := New(cfg, WithLogger(logging.Nop()), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	t.Cleanup(func() {
		_ = s.Stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(ioTimeout):
			t.Error("server did not stop")
		}
	})
	return s, cfg.Server.Socket
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	// notes holds notifications read while waiting for a reply.
	notes []string
}

func dialServer(t *testing.T, path string) *testClient {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *testClient) readLine() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(ioTimeout)))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimSuffix(line, "\n")
}

// reply reads up to the next guarded reply and returns its number, body
// and whether it ended in %error.
func (c *testClient) reply() (num string, body []string, failed bool) {
	c.t.Helper()
	for {
		line := c.readLine()
		m := guardRe.FindStringSubmatch(line)
		if m == nil {
			c.notes = append(c.notes, line)
			continue
		}
		require.Equal(c.t, "begin", m[1], line)
		num = m[3]
		break
	}
	for {
		line := c.readLine()
		m := guardRe.FindStringSubmatch(line)
		if m == nil {
			body = append(body, line)
			continue
		}
		require.NotEqual(c.t, "begin", m[1], line)
		require.Equal(c.t, num, m[3], "guard numbers differ")
		return num, body, m[1] == "error"
	}
}

func (c *testClient) command(line string) ([]string, bool) {
	c.t.Helper()
	c.send(line)
	_, body, failed := c.reply()
	return body, failed
}

// waitFor returns the first notification starting with prefix for which
// match holds, looking at already buffered notifications first.
func (c *testClient) waitFor(prefix string, match func(string) bool) string {
	c.t.Helper()
	for i, line := range c.notes {
		if strings.HasPrefix(line, prefix) && (match == nil || match(line)) {
			c.notes = c.notes[i+1:]
			return line
		}
	}
	c.notes = nil
	for {
		line := c.readLine()
		if strings.HasPrefix(line, prefix) && (match == nil || match(line)) {
			return line
		}
	}
}

// paneOutput collects decoded %output for pane until it contains want.
func (c *testClient) paneOutput(pane, want string) string {
	c.t.Helper()
	var sb strings.Builder
	prefix := "%output %" + pane + " "
	c.waitFor(prefix, func(line string) bool {
		sb.WriteString(decodeOutput(c.t, strings.TrimPrefix(line, prefix)))
		return strings.Contains(sb.String(), want)
	})
	return sb.String()
}

func TestServerListSessionsEmpty(t *testing.T) {
	_, path := startServer(t)
	c := dialServer(t, path)

	body, failed := c.command("list-sessions")
	assert.False(t, failed)
	assert.Empty(t, body)
}

func TestServerCommandNumbers(t *testing.T) {
	_, path := startServer(t)
	c := dialServer(t, path)

	// Pipelined commands get consecutive numbers.
	c.send("ls\r\nlscm")
	c.send("ls")
	first, _, _ := c.reply()
	second, body, failed := c.reply()
	third, _, _ := c.reply()
	assert.False(t, failed)
	assert.Equal(t, []string{"1", "2", "3"}, []string{first, second, third})
	assert.Contains(t, body, "new-session (new) [-dP] [-s session-name] [-x width] [-y height] [command]")
}

func TestServerCommandErrors(t *testing.T) {
	s, path := startServer(t)
	c := dialServer(t, path)

	body, failed := c.command("no-such-command")
	assert.True(t, failed)
	assert.Equal(t, []string{"unknown command: no-such-command"}, body)

	body, failed = c.command(`run "echo`)
	assert.True(t, failed)
	assert.Equal(t, []string{"unterminated quote"}, body)

	body, failed = c.command("kill-session -t nope")
	assert.True(t, failed)
	assert.Equal(t, []string{"can't find session: nope"}, body)

	body, failed = c.command("kill-session")
	assert.True(t, failed)
	assert.Equal(t, []string{"no target given"}, body)

	body, failed = c.command("resize-pane -q")
	assert.True(t, failed)
	assert.Len(t, body, 1)

	_, failed = c.command("new -s bad.name")
	assert.True(t, failed)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.Commands.WithLabelValues("kill-session", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.Commands.WithLabelValues("unknown", "error")), "unknown name and unparsable line")
}

func TestServerAmbiguousPrefix(t *testing.T) {
	_, path := startServer(t)
	c := dialServer(t, path)

	body, failed := c.command("kill")
	assert.True(t, failed)
	assert.Equal(t, []string{"ambiguous command: kill"}, body)

	body, failed = c.command("list-s")
	assert.False(t, failed)
	assert.Empty(t, body)
}

func TestServerSessionLifecycle(t *testing.T) {
	_, path := startServer(t)
	c := dialServer(t, path)
	watcher := dialServer(t, path)
	_, _ = watcher.command("ls")

	body, failed := c.command("new -d -P -s work -x 100 -y 30 'echo hello; sleep 30'")
	require.False(t, failed, body)
	assert.Equal(t, []string{"$0 work"}, body)
	assert.Contains(t, c.notes, "%session-created $0 work")

	// Every attached client sees notifications and output.
	watcher.waitFor("%session-created $0 work", nil)
	assert.Contains(t, watcher.paneOutput("0", "hello"), "hello\r\n")

	body, failed = c.command("list-sessions")
	require.False(t, failed)
	require.Len(t, body, 1)
	assert.Regexp(t, `^work: \$0 \[100x30\] \(created .+\) [0-9a-f-]{36}$`, body[0])

	_, failed = c.command("resize-pane -t work -x 120")
	require.False(t, failed)
	body, _ = c.command("ls")
	assert.Contains(t, body[0], "[120x30]")

	_, failed = c.command("new -s work")
	assert.True(t, failed, "duplicate names are refused")

	_, failed = c.command("kill-session -t $0")
	require.False(t, failed)
	c.waitFor("%session-closed $0", nil)

	body, _ = c.command("ls")
	assert.Empty(t, body)
}

func TestServerSendKeys(t *testing.T) {
	_, path := startServer(t)
	c := dialServer(t, path)

	_, failed := c.command("new -s cat cat")
	require.False(t, failed)

	_, failed = c.command(`send-keys -t cat "ping" "\n"`)
	require.False(t, failed)
	out := c.paneOutput("0", "ping\r\nping\r\n")
	assert.Contains(t, out, "ping")
}

func TestServerSessionEndsWithProcess(t *testing.T) {
	_, path := startServer(t)
	c := dialServer(t, path)

	_, failed := c.command("new -s short true")
	require.False(t, failed)
	c.waitFor("%session-closed $0", nil)

	body, _ := c.command("ls")
	assert.Empty(t, body)
}

func TestServerRunShell(t *testing.T) {
	s, path := startServer(t)
	c := dialServer(t, path)

	body, failed := c.command(`run "echo one; echo two"`)
	assert.False(t, failed)
	assert.Equal(t, []string{"one", "two"}, body)

	body, failed = c.command(`run "printf partial; exit 3"`)
	assert.True(t, failed)
	assert.Equal(t, []string{"partial", "'printf partial; exit 3' returned 3"}, body)

	body, failed = c.command("run")
	assert.True(t, failed)
	assert.Equal(t, []string{"usage: run-shell command"}, body)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Commands.WithLabelValues("run-shell", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.Commands.WithLabelValues("run-shell", "error")))
}

func TestServerRunShellKeepsOrder(t *testing.T) {
	_, path := startServer(t)
	c := dialServer(t, path)

	// The job replies later, but under its own command number.
	c.send(`run "sleep 0.2; echo late"`)
	c.send("display -p '#{session_count}'")
	num, body, _ := c.reply()
	assert.Equal(t, "2", num)
	assert.Equal(t, []string{"0"}, body)
	num, body, _ = c.reply()
	assert.Equal(t, "1", num)
	assert.Equal(t, []string{"late"}, body)
}

func TestServerDisplayMessage(t *testing.T) {
	_, path := startServer(t)
	c := dialServer(t, path)
	_ = dialServer(t, path)

	body, failed := c.command("display -p 'pid=#{pid} sock=#{socket_path} clients=#{client_count}'")
	require.False(t, failed)
	require.Len(t, body, 1)
	assert.Contains(t, body[0], "sock="+path)
	assert.Contains(t, body[0], "pid=")
	assert.Regexp(t, `clients=[12]$`, body[0])
}

func TestServerDetach(t *testing.T) {
	s, path := startServer(t)
	c := dialServer(t, path)
	_, _ = c.command("ls")

	c.send("")
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(ioTimeout)))
	_, err := c.r.ReadString('\n')
	assert.Error(t, err, "detached client is disconnected")
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(s.metrics.Clients) == 0
	}, ioTimeout, 10*time.Millisecond)
}

func TestServerKillServer(t *testing.T) {
	dir, err := os.MkdirTemp("", "evmux")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg := config.Default()
	cfg.Server.Socket = filepath.Join(dir, "s")
	s, err := New(cfg)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	c := dialServer(t, cfg.Server.Socket)
	_, failed := c.command("new -s a 'sleep 30'")
	require.False(t, failed)

	_, failed = c.command("kill-server")
	assert.False(t, failed)
	c.waitFor("%exit", nil)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ioTimeout):
		t.Fatal("server did not exit")
	}
	_, err = os.Stat(cfg.Server.Socket)
	assert.True(t, os.IsNotExist(err), "socket removed")
	assert.ErrorIs(t, s.Stop(), event.ErrBaseClosed)
}

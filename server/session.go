package server

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"evmux/event"
)

// paneExitGrace is how long a pane whose process exited may keep draining
// its terminal before the session is torn down.
const paneExitGrace = 100 * time.Millisecond

var (
	errSessionExists = errors.New("duplicate session")
	errNoSession     = errors.New("can't find session")
	errBadName       = errors.New("bad session name")
)

type session struct {
	id      SessionID
	uuid    uuid.UUID
	name    string
	created time.Time
	pane    PaneID
}

type pane struct {
	id      PaneID
	session SessionID
	cmd     *exec.Cmd
	ptmx    *os.File
	bev     *event.Bufferevent
	cols    int
	rows    int
	exited  bool
}

// commandEnv is the environment of processes started by the server.
func (s *Server) commandEnv() []string {
	return append(os.Environ(), "TERM=screen", "EVMUX="+s.cfg.Server.Socket)
}

func (s *Server) newSession(name string, cols, rows int, command string) (*session, error) {
	if name == "" {
		name = strconv.FormatUint(uint64(s.sessions.next), 10)
	}
	if strings.ContainsAny(name, ":.$") {
		return nil, fmt.Errorf("%w: %s", errBadName, name)
	}
	if _, err := s.findSession(name); err == nil {
		return nil, fmt.Errorf("%w: %s", errSessionExists, name)
	}
	if cols <= 0 {
		cols = s.cfg.Session.Width
	}
	if rows <= 0 {
		rows = s.cfg.Session.Height
	}

	cmd := exec.Command(s.cfg.Session.Shell)
	if command != "" {
		cmd = exec.Command(s.cfg.Session.Shell, "-c", command)
	}
	cmd.Env = s.commandEnv()
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("failed to start pane: %w", err)
	}
	t, err := event.NewFileTransport(ptmx)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = ptmx.Close()
		go func() { _ = cmd.Wait() }()
		return nil, err
	}

	sid, pid := s.sessions.alloc(), s.panes.alloc()
	p := &pane{id: pid, session: sid, cmd: cmd, ptmx: ptmx, cols: cols, rows: rows}
	p.bev = s.base.NewBufferevent(t,
		func(*event.Bufferevent) { s.paneRead(pid) },
		nil,
		func(_ *event.Bufferevent, what event.BevEvent) { s.paneClosed(pid, what) },
		event.CloseOnFree(),
		event.WithReadChunk(s.cfg.Buffer.ReadChunk),
	)
	p.bev.SetWatermark(event.EvRead, 0, s.cfg.Buffer.PaneHighWater)
	if err = p.bev.Enable(event.EvRead | event.EvWrite); err != nil {
		_ = p.bev.Free()
		_ = cmd.Process.Kill()
		go func() { _ = cmd.Wait() }()
		return nil, err
	}
	sess := &session{id: sid, uuid: uuid.New(), name: name, created: s.base.Now(), pane: pid}
	s.panes.put(pid, p)
	s.sessions.put(sid, sess)
	s.watchProcess(cmd, func(err error) { s.paneExited(pid, err) })

	s.metrics.Sessions.Set(float64(s.sessions.len()))
	s.log.Info("session created",
		zap.String("session", name),
		zap.Stringer("uuid", sess.uuid),
		zap.Uint32("pane", uint32(pid)),
		zap.Int("pid", cmd.Process.Pid),
	)
	s.broadcast(fmt.Sprintf("%%session-created $%d %s\n", sid, name))
	return sess, nil
}

// watchProcess waits for cmd on the worker pool and hands the result back
// to the loop.
func (s *Server) watchProcess(cmd *exec.Cmd, done func(error)) {
	wait := func() {
		err := cmd.Wait()
		if terr := s.base.Trigger(func() error {
			done(err)
			return nil
		}); terr != nil {
			s.log.Debug("process exit after shutdown", zap.Int("pid", cmd.Process.Pid), zap.Error(terr))
		}
	}
	if err := s.pool.Submit(wait); err != nil {
		s.log.Warn("worker pool unavailable, waiting on a dedicated goroutine", zap.Error(err))
		go wait()
	}
}

// findSession resolves "$<id>" or a session name.
func (s *Server) findSession(target string) (*session, error) {
	if strings.HasPrefix(target, "$") {
		if n, err := strconv.ParseUint(target[1:], 10, 32); err == nil {
			if sess, ok := s.sessions.get(SessionID(n)); ok {
				return sess, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", errNoSession, target)
	}
	for _, id := range s.sessions.ids() {
		if sess, _ := s.sessions.get(id); sess.name == target {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errNoSession, target)
}

func (s *Server) targetPane(target string) (*session, *pane, error) {
	sess, err := s.findSession(target)
	if err != nil {
		return nil, nil, err
	}
	p, ok := s.panes.get(sess.pane)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", errNoSession, target)
	}
	return sess, p, nil
}

func (s *Server) paneRead(id PaneID) {
	p, ok := s.panes.get(id)
	if !ok {
		return
	}
	in := p.bev.Input()
	s.broadcastOutput(id, in.Bytes())
	in.Drain(in.Len())
}

// paneClosed handles EOF or an error on the terminal; on Linux a master
// reads EIO once the last slave descriptor is gone.
func (s *Server) paneClosed(id PaneID, what event.BevEvent) {
	p, ok := s.panes.get(id)
	if !ok {
		return
	}
	s.log.Debug("pane closed", zap.Uint32("pane", uint32(id)), zap.Stringer("what", what), zap.Error(p.bev.Err()))
	s.destroySession(p.session, "pane closed")
}

func (s *Server) paneExited(id PaneID, err error) {
	p, ok := s.panes.get(id)
	if !ok {
		return
	}
	p.exited = true
	s.log.Debug("pane process exited", zap.Uint32("pane", uint32(id)), zap.Error(err))
	sid := p.session
	if err := s.base.Once(-1, 0, paneExitGrace, func(int, event.What) {
		s.destroySession(sid, "process exited")
	}); err != nil {
		s.destroySession(sid, "process exited")
	}
}

// destroySession removes a session and its pane. It is a no-op for a
// session that is already gone.
func (s *Server) destroySession(id SessionID, reason string) {
	sess, ok := s.sessions.del(id)
	if !ok {
		return
	}
	if p, ok := s.panes.del(sess.pane); ok {
		_ = p.bev.Free()
		if !p.exited {
			_ = p.cmd.Process.Signal(syscall.SIGHUP)
		}
	}
	s.metrics.Sessions.Set(float64(s.sessions.len()))
	s.log.Info("session closed", zap.String("session", sess.name), zap.String("reason", reason))
	s.broadcast(fmt.Sprintf("%%session-closed $%d\n", id))
}

func (s *Server) resizePane(p *pane, cols, rows int) error {
	if cols <= 0 {
		cols = p.cols
	}
	if rows <= 0 {
		rows = p.rows
	}
	if err := pty.Setsize(p.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("failed to resize pane: %w", err)
	}
	// Setsize may go through File.Fd, which puts the descriptor back into
	// blocking mode.
	_ = syscall.SetNonblock(p.bev.Transport().Fd(), true)
	p.cols, p.rows = cols, rows
	return nil
}

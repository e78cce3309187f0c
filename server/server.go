// Package server is the evmux control server: a single event loop that
// accepts control clients on a socket, runs sessions on pseudo-terminals and
// streams their output to every client in control-mode framing.
package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"evmux/event"
	"evmux/event/pool/goroutine"
	"evmux/internal/clock"
	"evmux/internal/config"
	"evmux/internal/logging"
)

// Handles into the server's tables.
type (
	ClientID  uint32
	SessionID uint32
	PaneID    uint32
	JobID     uint32
)

// Server owns the event base and every client, session, pane and job. All
// state is touched only from the loop goroutine running Run.
type Server struct {
	cfg      *config.Config
	log      *zap.Logger
	base     *event.Base
	pool     *goroutine.Pool
	ln       *event.Listener
	metrics  *Metrics
	registry *prometheus.Registry
	httpSrv  *http.Server

	clients  table[ClientID, client]
	sessions table[SessionID, session]
	panes    table[PaneID, pane]
	jobs     table[JobID, job]

	signals []*event.Event
	cmdnum  uint64
	exiting bool
}

// New creates the server and starts listening on cfg.Server.Socket.
// Nothing is served until Run.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := loadOptions(opts...)
	logger := options.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	reg := options.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := options.Clock
	if c == nil {
		c = clock.Real()
	}

	s := &Server{
		cfg:      cfg,
		log:      logger.Logger,
		registry: reg,
		metrics:  newMetrics(reg),
		clients:  newTable[ClientID, client](),
		sessions: newTable[SessionID, session](),
		panes:    newTable[PaneID, pane](),
		jobs:     newTable[JobID, job](),
		cmdnum:   1,
	}

	var err error
	s.base, err = event.NewBase(
		event.WithLogger(logger.Std("event")),
		event.WithClock(c),
		event.WithMetrics(event.NewMetrics(reg)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event base: %w", err)
	}
	if s.pool, err = goroutine.New(cfg.Jobs.PoolSize, logger.Std("pool")); err != nil {
		_ = s.base.Close()
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	if s.ln, err = s.base.Listen(cfg.Server.Socket, cfg.Server.ReusePort, s.accept); err != nil {
		s.pool.Release()
		_ = s.base.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Server.Socket, err)
	}
	return s, nil
}

// Addr returns the control socket address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Run serves until kill-server, SIGINT or SIGTERM, or Stop. It must be
// called once.
func (s *Server) Run() error {
	defer s.cleanup()

	for _, sig := range []syscall.Signal{syscall.SIGTERM, syscall.SIGINT} {
		sig := sig
		ev := s.base.NewEvent(int(sig), event.EvSignal|event.EvPersist, func(int, event.What) {
			s.log.Info("received signal, shutting down", zap.Stringer("signal", sig))
			s.shutdown()
		})
		if err := ev.Add(event.NoTimeout); err != nil {
			return err
		}
		s.signals = append(s.signals, ev)
	}
	if addr := s.cfg.Metrics.Address; addr != "" {
		if err := s.serveMetrics(addr); err != nil {
			return fmt.Errorf("failed to serve metrics: %w", err)
		}
	}

	s.log.Info("server started", zap.Stringer("addr", s.Addr()), zap.Int("pid", os.Getpid()))
	err := s.base.Dispatch()
	if errors.Is(err, event.ErrNoEvents) {
		err = nil
	}
	s.log.Info("server exited", zap.Error(err))
	return err
}

// Stop asks a running server to shut down. It is safe to call from any
// goroutine.
func (s *Server) Stop() error {
	return s.base.Trigger(func() error {
		s.shutdown()
		return nil
	})
}

// shutdown tells every client "%exit", flushes and drops them, then tears
// down jobs, sessions and the listener and breaks the loop.
func (s *Server) shutdown() {
	if s.exiting {
		return
	}
	s.exiting = true
	for _, id := range s.clients.ids() {
		c, _ := s.clients.get(id)
		_, _ = c.bev.WriteString("%exit\n")
		if err := c.bev.Flush(); err != nil {
			s.log.Debug("failed to flush client", zap.Uint32("client", uint32(id)), zap.Error(err))
		}
		s.removeClient(id, "server exited")
	}
	for _, id := range s.jobs.ids() {
		s.killJob(id)
	}
	for _, id := range s.sessions.ids() {
		s.destroySession(id, "server exited")
	}
	_ = s.ln.Close()
	for _, ev := range s.signals {
		ev.Free()
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
	}
	s.base.LoopBreak()
}

func (s *Server) cleanup() {
	s.shutdown()
	s.pool.Release()
	_ = s.base.Close()
}

func (s *Server) accept(_ *event.Listener, fd int) {
	t, err := event.NewFdTransport(fd)
	if err != nil {
		s.log.Warn("failed to set up client", zap.Int("fd", fd), zap.Error(err))
		_ = syscall.Close(fd)
		return
	}
	id := s.clients.alloc()
	c := &client{id: id, created: s.base.Now()}
	c.bev = s.base.NewBufferevent(t,
		func(*event.Bufferevent) { s.clientRead(id) },
		func(*event.Bufferevent) { s.clientDrained(id) },
		func(_ *event.Bufferevent, what event.BevEvent) { s.clientEvent(id, what) },
		event.CloseOnFree(),
		event.WithReadChunk(s.cfg.Buffer.ReadChunk),
	)
	c.bev.SetTimeouts(s.cfg.Server.ClientTimeout, 0)
	if err = c.bev.Enable(event.EvRead | event.EvWrite); err != nil {
		s.log.Warn("failed to enable client", zap.Int("fd", fd), zap.Error(err))
		_ = c.bev.Free()
		return
	}
	s.clients.put(id, c)
	s.metrics.Clients.Set(float64(s.clients.len()))
	s.log.Debug("client connected", zap.Uint32("client", uint32(id)), zap.Int("fd", fd))
}

package server

import (
	"time"

	"go.uber.org/zap"

	"evmux/event"
	"evmux/event/evbuffer"
	"evmux/event/pool/bytebuffer"
)

// maxLineLength bounds a command line; longer input drops the client.
const maxLineLength = 64 * 1024

type client struct {
	id      ClientID
	bev     *event.Bufferevent
	created time.Time
	// detaching clients get no more notifications and are dropped once
	// their output drains.
	detaching bool
	discarded int
}

func (s *Server) clientRead(id ClientID) {
	c, ok := s.clients.get(id)
	if !ok {
		return
	}
	for !c.detaching {
		line, ok := c.bev.Input().ReadLine(evbuffer.EOLCRLF)
		if !ok {
			break
		}
		if len(line) == 0 {
			s.detachClient(c)
			return
		}
		s.execute(c, string(line))
		if _, ok := s.clients.get(id); !ok || s.exiting {
			return
		}
	}
	if c.bev.Input().Len() > maxLineLength {
		s.log.Warn("client sent an overlong line", zap.Uint32("client", uint32(id)))
		s.removeClient(id, "line too long")
	}
}

// detachClient stops reading from c and drops it after its output is
// written.
func (s *Server) detachClient(c *client) {
	c.detaching = true
	_ = c.bev.Disable(event.EvRead)
	if c.bev.Output().IsEmpty() {
		s.removeClient(c.id, "detached")
	}
}

func (s *Server) clientDrained(id ClientID) {
	if c, ok := s.clients.get(id); ok && c.detaching {
		s.removeClient(id, "detached")
	}
}

func (s *Server) clientEvent(id ClientID, what event.BevEvent) {
	c, ok := s.clients.get(id)
	if !ok {
		return
	}
	switch {
	case what&event.BevTimeout != 0:
		s.removeClient(id, "idle timeout")
	case what&event.BevEOF != 0:
		s.removeClient(id, "closed")
	default:
		s.log.Warn("client failed", zap.Uint32("client", uint32(id)), zap.Stringer("what", what), zap.Error(c.bev.Err()))
		s.removeClient(id, "error")
	}
}

func (s *Server) removeClient(id ClientID, reason string) {
	c, ok := s.clients.del(id)
	if !ok {
		return
	}
	if err := c.bev.Free(); err != nil {
		s.log.Debug("failed to close client", zap.Uint32("client", uint32(id)), zap.Error(err))
	}
	s.metrics.Clients.Set(float64(s.clients.len()))
	s.log.Debug("client disconnected",
		zap.Uint32("client", uint32(id)),
		zap.String("reason", reason),
		zap.Int("discarded", c.discarded),
	)
}

// broadcast queues a notification line on every attached client.
func (s *Server) broadcast(line string) {
	for _, id := range s.clients.ids() {
		if c, _ := s.clients.get(id); !c.detaching {
			_, _ = c.bev.WriteString(line)
		}
	}
}

// broadcastOutput sends pane output to every attached client. A client whose
// backlog is at or above the high watermark misses the output.
func (s *Server) broadcastOutput(pane PaneID, data []byte) {
	bb := bytebuffer.Get()
	defer bytebuffer.Put(bb)
	appendOutput(bb, pane, data)

	high := s.cfg.Buffer.ClientHighWater
	for _, id := range s.clients.ids() {
		c, _ := s.clients.get(id)
		if c.detaching {
			continue
		}
		if high > 0 && c.bev.Output().Len() >= high {
			c.discarded += len(data)
			s.metrics.Discarded.Add(float64(len(data)))
			continue
		}
		_, _ = c.bev.Write(bb.B)
	}
}

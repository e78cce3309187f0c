package server

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"evmux/event"
	"evmux/event/evbuffer"
)

// job is a run-shell command whose combined output becomes the deferred
// reply to the client that started it.
type job struct {
	id      JobID
	client  ClientID
	num     uint64
	command string
	cmd     *exec.Cmd
	bev     *event.Bufferevent
	eof     bool
	exited  bool
	status  error
}

func (s *Server) startJob(c *client, num uint64, command string) error {
	r, w, err := os.Pipe()
	if err != nil {
		return err
	}
	cmd := exec.Command(s.cfg.Session.Shell, "-c", command)
	cmd.Env = s.commandEnv()
	cmd.Stdout, cmd.Stderr = w, w
	err = cmd.Start()
	_ = w.Close()
	if err != nil {
		_ = r.Close()
		return fmt.Errorf("failed to start job: %w", err)
	}
	t, err := event.NewFileTransport(r)
	if err != nil {
		_ = r.Close()
		_ = cmd.Process.Kill()
		go func() { _ = cmd.Wait() }()
		return err
	}

	id := s.jobs.alloc()
	j := &job{id: id, client: c.id, num: num, command: command, cmd: cmd}
	j.bev = s.base.NewBufferevent(t, nil, nil,
		func(_ *event.Bufferevent, what event.BevEvent) { s.jobOutputDone(id, what) },
		event.CloseOnFree(),
		event.WithReadChunk(s.cfg.Buffer.ReadChunk),
	)
	if err = j.bev.Enable(event.EvRead); err != nil {
		_ = j.bev.Free()
		_ = cmd.Process.Kill()
		go func() { _ = cmd.Wait() }()
		return err
	}
	s.jobs.put(id, j)
	s.metrics.Jobs.Set(float64(s.jobs.len()))
	s.watchProcess(cmd, func(err error) { s.jobExited(id, err) })
	s.log.Debug("job started", zap.Uint32("job", uint32(id)), zap.String("command", command))
	return nil
}

func (s *Server) jobOutputDone(id JobID, what event.BevEvent) {
	j, ok := s.jobs.get(id)
	if !ok {
		return
	}
	if what&event.BevError != 0 {
		s.log.Debug("job output failed", zap.Uint32("job", uint32(id)), zap.Error(j.bev.Err()))
	}
	j.eof = true
	s.finishJob(j)
}

func (s *Server) jobExited(id JobID, err error) {
	j, ok := s.jobs.get(id)
	if !ok {
		return
	}
	j.exited, j.status = true, err
	s.finishJob(j)
}

// finishJob replies once both the output has reached EOF and the process
// has been reaped.
func (s *Server) finishJob(j *job) {
	if !j.eof || !j.exited {
		return
	}
	s.jobs.del(j.id)
	s.metrics.Jobs.Set(float64(s.jobs.len()))

	in := j.bev.Input()
	var lines []string
	for {
		line, ok := in.ReadLine(evbuffer.EOLLF)
		if !ok {
			break
		}
		lines = append(lines, string(line))
	}
	if in.Len() > 0 {
		lines = append(lines, string(in.Bytes()))
	}
	_ = j.bev.Free()

	failed := false
	if j.status != nil {
		failed = true
		var ee *exec.ExitError
		if errors.As(j.status, &ee) {
			lines = append(lines, fmt.Sprintf("'%s' returned %d", j.command, ee.ExitCode()))
		} else {
			lines = append(lines, fmt.Sprintf("'%s' failed: %v", j.command, j.status))
		}
	}
	s.commandDone("run-shell", failed)

	c, ok := s.clients.get(j.client)
	if !ok {
		s.log.Debug("job client went away", zap.Uint32("job", uint32(j.id)))
		return
	}
	writeReply(c.bev, s.base.Now(), j.num, lines, failed)
}

func (s *Server) killJob(id JobID) {
	j, ok := s.jobs.del(id)
	if !ok {
		return
	}
	_ = j.bev.Free()
	if !j.exited {
		_ = j.cmd.Process.Kill()
	}
	s.metrics.Jobs.Set(float64(s.jobs.len()))
}

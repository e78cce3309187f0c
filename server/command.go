package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	errUnknownCommand = errors.New("unknown command")
	errNoTarget       = errors.New("no target given")
)

// cmdContext collects the reply of one command.
type cmdContext struct {
	client *client
	num    uint64
	lines  []string
	// async commands reply later on their own.
	async bool
	// after runs once the reply is queued.
	after func()
}

func (ctx *cmdContext) printf(format string, args ...interface{}) {
	ctx.lines = append(ctx.lines, fmt.Sprintf(format, args...))
}

type commandEntry struct {
	name  string
	alias string
	usage string
	exec  func(s *Server, ctx *cmdContext, args []string) error
}

var commandTable []*commandEntry

func init() {
	commandTable = []*commandEntry{
		{"display-message", "display", "[-p] [message]", cmdDisplayMessage},
		{"kill-server", "", "", cmdKillServer},
		{"kill-session", "", "-t target-session", cmdKillSession},
		{"list-commands", "lscm", "", cmdListCommands},
		{"list-sessions", "ls", "", cmdListSessions},
		{"new-session", "new", "[-dP] [-s session-name] [-x width] [-y height] [command]", cmdNewSession},
		{"resize-pane", "resizep", "-t target-session [-x width] [-y height]", cmdResizePane},
		{"run-shell", "run", "command", cmdRunShell},
		{"send-keys", "send", "[-l] -t target-session key ...", cmdSendKeys},
	}
}

func findCommand(name string) (*commandEntry, error) {
	for _, e := range commandTable {
		if e.name == name || (e.alias != "" && e.alias == name) {
			return e, nil
		}
	}
	// Unambiguous prefixes are accepted.
	var found *commandEntry
	for _, e := range commandTable {
		if strings.HasPrefix(e.name, name) {
			if found != nil {
				return nil, fmt.Errorf("ambiguous command: %s", name)
			}
			found = e
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", errUnknownCommand, name)
	}
	return found, nil
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	return fs
}

// execute runs one command line from c and queues its reply.
func (s *Server) execute(c *client, line string) {
	ctx := &cmdContext{client: c, num: s.cmdnum}
	s.cmdnum++

	name := "unknown"
	args, err := splitArgs(line)
	if err == nil && len(args) > 0 {
		var e *commandEntry
		if e, err = findCommand(args[0]); err == nil {
			name = e.name
			if err = e.exec(s, ctx, args[1:]); err != nil && errors.Is(err, pflag.ErrHelp) {
				err = fmt.Errorf("usage: %s %s", e.name, e.usage)
			}
		}
	}
	if ctx.async && err == nil {
		return
	}
	if err != nil {
		ctx.lines = append(ctx.lines, err.Error())
		s.log.Debug("command failed", zap.Uint32("client", uint32(c.id)), zap.String("command", line), zap.Error(err))
	}
	writeReply(c.bev, s.base.Now(), ctx.num, ctx.lines, err != nil)
	s.commandDone(name, err != nil)
	if ctx.after != nil {
		ctx.after()
	}
}

func (s *Server) commandDone(name string, failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	s.metrics.Commands.WithLabelValues(name, result).Inc()
}

func cmdNewSession(s *Server, ctx *cmdContext, args []string) error {
	fs := newFlagSet("new-session")
	name := fs.StringP("session-name", "s", "", "")
	cols := fs.IntP("width", "x", 0, "")
	rows := fs.IntP("height", "y", 0, "")
	printInfo := fs.BoolP("print", "P", false, "")
	fs.BoolP("detached", "d", false, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sess, err := s.newSession(*name, *cols, *rows, strings.Join(fs.Args(), " "))
	if err != nil {
		return err
	}
	if *printInfo {
		ctx.printf("$%d %s", sess.id, sess.name)
	}
	return nil
}

func cmdListSessions(s *Server, ctx *cmdContext, args []string) error {
	for _, id := range s.sessions.ids() {
		sess, _ := s.sessions.get(id)
		size := ""
		if p, ok := s.panes.get(sess.pane); ok {
			size = fmt.Sprintf(" [%dx%d]", p.cols, p.rows)
		}
		ctx.printf("%s: $%d%s (created %s) %s",
			sess.name, sess.id, size, sess.created.Format("Mon Jan _2 15:04:05 2006"), sess.uuid)
	}
	return nil
}

func cmdSendKeys(s *Server, ctx *cmdContext, args []string) error {
	fs := newFlagSet("send-keys")
	target := fs.StringP("target", "t", "", "")
	fs.BoolP("literal", "l", false, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *target == "" {
		return errNoTarget
	}
	_, p, err := s.targetPane(*target)
	if err != nil {
		return err
	}
	_, err = p.bev.WriteString(strings.Join(fs.Args(), ""))
	return err
}

func cmdResizePane(s *Server, ctx *cmdContext, args []string) error {
	fs := newFlagSet("resize-pane")
	target := fs.StringP("target", "t", "", "")
	cols := fs.IntP("width", "x", 0, "")
	rows := fs.IntP("height", "y", 0, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *target == "" {
		return errNoTarget
	}
	_, p, err := s.targetPane(*target)
	if err != nil {
		return err
	}
	return s.resizePane(p, *cols, *rows)
}

func cmdKillSession(s *Server, ctx *cmdContext, args []string) error {
	fs := newFlagSet("kill-session")
	target := fs.StringP("target", "t", "", "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *target == "" {
		return errNoTarget
	}
	sess, err := s.findSession(*target)
	if err != nil {
		return err
	}
	s.destroySession(sess.id, "killed")
	return nil
}

func cmdRunShell(s *Server, ctx *cmdContext, args []string) error {
	if len(args) == 0 {
		return pflag.ErrHelp
	}
	if err := s.startJob(ctx.client, ctx.num, strings.Join(args, " ")); err != nil {
		return err
	}
	ctx.async = true
	return nil
}

func cmdDisplayMessage(s *Server, ctx *cmdContext, args []string) error {
	fs := newFlagSet("display-message")
	fs.BoolP("print", "p", false, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	r := strings.NewReplacer(
		"#{pid}", strconv.Itoa(os.Getpid()),
		"#{socket_path}", s.cfg.Server.Socket,
		"#{session_count}", strconv.Itoa(s.sessions.len()),
		"#{client_count}", strconv.Itoa(s.clients.len()),
		"#{client_id}", strconv.FormatUint(uint64(ctx.client.id), 10),
	)
	ctx.printf("%s", r.Replace(strings.Join(fs.Args(), " ")))
	return nil
}

func cmdListCommands(s *Server, ctx *cmdContext, args []string) error {
	entries := append([]*commandEntry(nil), commandTable...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	for _, e := range entries {
		name := e.name
		if e.alias != "" {
			name += " (" + e.alias + ")"
		}
		if e.usage != "" {
			name += " " + e.usage
		}
		ctx.printf("%s", name)
	}
	return nil
}

func cmdKillServer(s *Server, ctx *cmdContext, args []string) error {
	ctx.after = s.shutdown
	return nil
}

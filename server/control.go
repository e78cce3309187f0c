package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"evmux/event"
	"evmux/event/pool/bytebuffer"
)

// Guard line kinds.
const (
	guardBegin = "begin"
	guardEnd   = "end"
	guardError = "error"
)

var (
	errUnterminatedQuote = errors.New("unterminated quote")
	errTrailingEscape    = errors.New("trailing backslash")
)

// appendGuard writes "%<kind> <unix> <num> 0\n".
func appendGuard(bb *bytebuffer.ByteBuffer, kind string, t time.Time, num uint64) {
	bb.B = append(bb.B, '%')
	bb.B = append(bb.B, kind...)
	bb.B = append(bb.B, ' ')
	bb.B = strconv.AppendInt(bb.B, t.Unix(), 10)
	bb.B = append(bb.B, ' ')
	bb.B = strconv.AppendUint(bb.B, num, 10)
	bb.B = append(bb.B, " 0\n"...)
}

// writeReply queues one guarded command reply on bev.
func writeReply(bev *event.Bufferevent, t time.Time, num uint64, lines []string, failed bool) {
	bb := bytebuffer.Get()
	defer bytebuffer.Put(bb)

	appendGuard(bb, guardBegin, t, num)
	for _, line := range lines {
		bb.B = append(bb.B, line...)
		bb.B = append(bb.B, '\n')
	}
	if failed {
		appendGuard(bb, guardError, t, num)
	} else {
		appendGuard(bb, guardEnd, t, num)
	}
	_, _ = bev.Write(bb.B)
}

// appendEscaped writes p with every byte below 0x20 and every backslash as
// a three digit octal escape.
func appendEscaped(dst []byte, p []byte) []byte {
	for _, c := range p {
		if c < ' ' || c == '\\' {
			dst = append(dst, '\\', '0'+(c>>6)&7, '0'+(c>>3)&7, '0'+c&7)
			continue
		}
		dst = append(dst, c)
	}
	return dst
}

// appendOutput writes the "%output %<pane> <escaped>\n" notification.
func appendOutput(bb *bytebuffer.ByteBuffer, pane PaneID, p []byte) {
	bb.B = append(bb.B, "%output %"...)
	bb.B = strconv.AppendUint(bb.B, uint64(pane), 10)
	bb.B = append(bb.B, ' ')
	bb.B = appendEscaped(bb.B, p)
	bb.B = append(bb.B, '\n')
}

// splitArgs splits a command line into words. Single quotes are literal,
// double quotes understand \n \r \t \e \\ and \", and a backslash outside
// quotes escapes the next byte.
func splitArgs(line string) ([]string, error) {
	var (
		args  []string
		cur   strings.Builder
		inArg bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		case c == '\'':
			inArg = true
			end := strings.IndexByte(line[i+1:], '\'')
			if end < 0 {
				return nil, errUnterminatedQuote
			}
			cur.WriteString(line[i+1 : i+1+end])
			i += end + 1
		case c == '"':
			inArg = true
			closed := false
			for i++; i < len(line); i++ {
				c = line[i]
				if c == '"' {
					closed = true
					break
				}
				if c == '\\' && i+1 < len(line) {
					i++
					cur.WriteByte(unescapeByte(line[i]))
					continue
				}
				cur.WriteByte(c)
			}
			if !closed {
				return nil, errUnterminatedQuote
			}
		case c == '\\':
			if i+1 == len(line) {
				return nil, errTrailingEscape
			}
			inArg = true
			i++
			cur.WriteByte(line[i])
		default:
			inArg = true
			cur.WriteByte(c)
		}
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}

func unescapeByte(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'e':
		return 0x1b
	}
	return c
}

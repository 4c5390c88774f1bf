package net

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/sid"
)

// Telnet command and option bytes. Only the options below are negotiated;
// everything else is refused.
const (
	tnSE   = 240
	tnGA   = 249
	tnSB   = 250
	tnWILL = 251
	tnWONT = 252
	tnDO   = 253
	tnDONT = 254
	tnIAC  = 255

	optEcho    = 1
	optSGA     = 3
	optTType   = 24
	optNAWS    = 31
	optCharset = 42
	optGMCP    = 201
)

// TTYPE and CHARSET subnegotiation verbs (RFC 1091, RFC 2066).
const (
	ttypeIs   = 0
	ttypeSend = 1

	charsetRequest  = 1
	charsetAccepted = 2
	charsetRejected = 3
)

// maxSubnegotiation bounds a single IAC SB payload; GMCP messages from
// well-behaved clients stay far below this.
const maxSubnegotiation = 4096

var errSubOverflow = errors.New("telnet: subnegotiation too long")

// TelnetServer accepts TCP connections and runs one telnet session per
// client. Sessions decode lines into inbound events and render outbound
// events from their queue.
type TelnetServer struct {
	cfg   config.NetworkConfig
	name  string
	alloc *sid.Allocator
	sink  Sink
	table *Table
	log   *zap.Logger
}

func NewTelnetServer(cfg config.NetworkConfig, name string, alloc *sid.Allocator, sink Sink, table *Table, log *zap.Logger) *TelnetServer {
	return &TelnetServer{
		cfg:   cfg,
		name:  name,
		alloc: alloc,
		sink:  sink,
		table: table,
		log:   log.With(zap.String("component", "telnet")),
	}
}

// Run listens until the context ends. Live sessions are shut down by the
// dispatcher, not by the accept loop.
func (s *TelnetServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.TelnetAddress)
	if err != nil {
		return fmt.Errorf("telnet listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	s.log.Info("telnet listening", zap.String("addr", s.cfg.TelnetAddress))
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		go s.handle(conn)
	}
}

func (s *TelnetServer) handle(conn net.Conn) {
	id, err := s.alloc.Next()
	if err != nil {
		s.log.Error("session id allocation failed", zap.Error(err))
		conn.Close()
		return
	}
	remote := conn.RemoteAddr().String()
	sess := newSession(id, "telnet", remote, s.cfg.OutQueueSize, s.cfg.SendGrace,
		func() { conn.Close() }, s.log)
	tc := &telnetConn{
		conn: conn,
		cfg:  s.cfg,
		name: s.name,
		sess: sess,
		sink: s.sink,
		dec:  charmap.ISO8859_1.NewDecoder(),
		enc:  encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder()),
		log:  s.log.With(zap.Uint64("sid", uint64(id))),
	}

	s.table.Add(sess)
	tc.log.Info("client connected", zap.String("remote", remote))

	go tc.writeLoop()
	tc.offerOptions()
	s.sink.Post(event.Connected{Sid: id, Proto: "telnet", RemoteAddr: remote, Ansi: false})

	reason := tc.readLoop()

	sess.Close()
	s.table.Remove(id)
	s.sink.Post(event.Disconnected{Sid: id, Reason: reason})
	tc.log.Info("client disconnected", zap.String("reason", reason))
}

// telnetConn is the per-connection protocol state. The reader goroutine owns
// decoding and negotiation; the writer goroutine owns rendering. Capabilities
// that cross between them are atomics.
type telnetConn struct {
	conn net.Conn
	cfg  config.NetworkConfig
	name string
	sess *Session
	sink Sink
	log  *zap.Logger

	wmu sync.Mutex // negotiation replies and renders share the conn

	utf8 atomic.Bool // CHARSET accepted UTF-8; otherwise output downgrades to Latin-1
	gmcp atomic.Bool
	sga  atomic.Bool

	ansi bool // writer goroutine only, toggled by SetAnsi

	termType   string // reader goroutine only
	winW, winH int    // reader goroutine only

	enc *encoding.Encoder // writer goroutine only
	dec *encoding.Decoder // reader goroutine only
}

// offerOptions starts negotiation: we speak GMCP and CHARSET, and we would
// like the client's window size and terminal type.
func (c *telnetConn) offerOptions() {
	c.write([]byte{
		tnIAC, tnWILL, optGMCP,
		tnIAC, tnWILL, optCharset,
		tnIAC, tnDO, optNAWS,
		tnIAC, tnDO, optTType,
	})
}

// readLoop decodes lines and telnet commands until the connection dies.
// Returns the disconnect reason for the Disconnected event.
func (c *telnetConn) readLoop() string {
	br := bufio.NewReaderSize(c.conn, 512)
	line := make([]byte, 0, 128)
	nonPrint := 0

	for {
		if c.cfg.IdleTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}
		b, err := br.ReadByte()
		if err != nil {
			return c.readReason(err)
		}
		switch b {
		case tnIAC:
			reason, alive := c.readCommand(br, &line)
			if !alive {
				return reason
			}
		case '\r':
			// CR LF and CR NUL both mean end of line.
			if next, err := br.Peek(1); err == nil && (next[0] == '\n' || next[0] == 0) {
				br.Discard(1)
			}
			c.postLine(line)
			line, nonPrint = line[:0], 0
		case '\n':
			c.postLine(line)
			line, nonPrint = line[:0], 0
		default:
			if b < 0x20 || b == 0x7f {
				nonPrint++
				if nonPrint > c.cfg.MaxNonPrintable {
					c.protocolError("Too many control characters.")
					return "protocol error"
				}
				continue
			}
			if len(line) >= c.cfg.MaxLineLength {
				c.protocolError("Line too long.")
				return "protocol error"
			}
			line = append(line, b)
		}
	}
}

// readCommand consumes one IAC sequence. The bool result is false when the
// session must end; the string is then the disconnect reason.
func (c *telnetConn) readCommand(br *bufio.Reader, line *[]byte) (string, bool) {
	cmd, err := br.ReadByte()
	if err != nil {
		return c.readReason(err), false
	}
	switch cmd {
	case tnIAC:
		// Escaped 0xFF data byte.
		*line = append(*line, tnIAC)
	case tnWILL, tnWONT, tnDO, tnDONT:
		opt, err := br.ReadByte()
		if err != nil {
			return c.readReason(err), false
		}
		c.handleOption(cmd, opt)
	case tnSB:
		if err := c.readSubnegotiation(br); err != nil {
			if errors.Is(err, errSubOverflow) {
				c.protocolError("Subnegotiation too long.")
				return "protocol error", false
			}
			return c.readReason(err), false
		}
	default:
		// NOP, AYT, GA and friends carry no payload; ignore them.
	}
	return "", true
}

// handleOption answers one WILL/WONT/DO/DONT. Options we offered get their
// capability flag; everything unknown is refused.
func (c *telnetConn) handleOption(cmd, opt byte) {
	switch {
	case cmd == tnDO && opt == optGMCP:
		c.gmcp.Store(true)
	case cmd == tnDONT && opt == optGMCP:
		c.gmcp.Store(false)
	case cmd == tnDO && opt == optCharset:
		// Client accepted CHARSET; ask it to switch to UTF-8.
		payload := append([]byte{tnIAC, tnSB, optCharset, charsetRequest}, []byte(";UTF-8")...)
		c.write(append(payload, tnIAC, tnSE))
	case cmd == tnWILL && opt == optTType:
		c.write([]byte{tnIAC, tnSB, optTType, ttypeSend, tnIAC, tnSE})
	case cmd == tnDO && opt == optSGA:
		if !c.sga.Load() {
			c.sga.Store(true)
			c.write([]byte{tnIAC, tnWILL, optSGA})
		}
	case cmd == tnDONT && opt == optSGA:
		if c.sga.Load() {
			c.sga.Store(false)
			c.write([]byte{tnIAC, tnWONT, optSGA})
		}
	case cmd == tnDO && opt == optEcho:
		// The client echoes locally; we never take over.
		c.write([]byte{tnIAC, tnWONT, optEcho})
	case (cmd == tnWILL || cmd == tnWONT) && (opt == optNAWS || opt == optCharset || opt == optTType):
		// Acks for options we requested need no reply.
	case cmd == tnDO:
		c.write([]byte{tnIAC, tnWONT, opt})
	case cmd == tnWILL:
		c.write([]byte{tnIAC, tnDONT, opt})
	}
}

// readSubnegotiation collects one IAC SB ... IAC SE payload and dispatches
// it. IAC IAC inside the payload is unescaped.
func (c *telnetConn) readSubnegotiation(br *bufio.Reader) error {
	payload := make([]byte, 0, 64)
	for {
		b, err := br.ReadByte()
		if err != nil {
			return err
		}
		if b == tnIAC {
			next, err := br.ReadByte()
			if err != nil {
				return err
			}
			if next == tnSE {
				break
			}
			if next == tnIAC {
				payload = append(payload, tnIAC)
				continue
			}
			continue // malformed pair, drop it
		}
		payload = append(payload, b)
		if len(payload) > maxSubnegotiation {
			return errSubOverflow
		}
	}
	c.handleSub(payload)
	return nil
}

func (c *telnetConn) handleSub(payload []byte) {
	if len(payload) == 0 {
		return
	}
	switch payload[0] {
	case optGMCP:
		c.postGmcp(payload[1:])
	case optNAWS:
		if len(payload) == 5 {
			c.winW = int(payload[1])<<8 | int(payload[2])
			c.winH = int(payload[3])<<8 | int(payload[4])
			c.log.Debug("window size", zap.Int("w", c.winW), zap.Int("h", c.winH))
		}
	case optTType:
		if len(payload) >= 2 && payload[1] == ttypeIs {
			c.termType = string(payload[2:])
			c.log.Debug("terminal type", zap.String("term", c.termType))
		}
	case optCharset:
		if len(payload) >= 2 && payload[1] == charsetAccepted {
			name := strings.ToUpper(string(payload[2:]))
			if strings.Contains(name, "UTF-8") {
				c.utf8.Store(true)
				c.log.Debug("charset negotiated", zap.String("charset", "UTF-8"))
			}
		}
	}
}

func (c *telnetConn) postLine(raw []byte) {
	c.sink.Post(event.LineReceived{Sid: c.sess.ID, Line: c.decodeLine(raw)})
}

// decodeLine turns raw line bytes into a string. Sessions that never
// negotiated UTF-8 are assumed to type Latin-1.
func (c *telnetConn) decodeLine(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if c.utf8.Load() {
		return string(raw)
	}
	out, err := c.dec.Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// postGmcp parses "Package.Sub {json}" from a GMCP subnegotiation.
func (c *telnetConn) postGmcp(body []byte) {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return
	}
	pkg, rest, _ := strings.Cut(text, " ")
	var data json.RawMessage
	if rest != "" {
		data = json.RawMessage(rest)
	}
	c.sink.Post(event.GmcpReceived{Sid: c.sess.ID, Package: pkg, Data: data})
}

// protocolError sends one diagnostic line and cuts the connection.
func (c *telnetConn) protocolError(msg string) {
	c.write([]byte("\r\n" + msg + "\r\n"))
	c.sess.Close()
}

func (c *telnetConn) readReason(err error) string {
	switch {
	case c.sess.Closed() || errors.Is(err, net.ErrClosed):
		return "connection closed"
	case errors.Is(err, io.EOF):
		return "client hung up"
	case isTimeout(err):
		return "idle timeout"
	default:
		return "read error"
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// writeLoop renders outbound events until the session closes. A rendered
// Close event ends the loop after its farewell reached the wire.
func (c *telnetConn) writeLoop() {
	defer c.sess.Close()
	for {
		select {
		case ev := <-c.sess.queue:
			if !c.render(ev) {
				return
			}
			if _, ok := ev.(event.Close); ok {
				return
			}
		case <-c.sess.closeCh:
			return
		}
	}
}

func (c *telnetConn) render(ev event.Outbound) bool {
	switch ev := ev.(type) {
	case event.SendText:
		return c.writeText(ev.Text, ev.Kind)
	case event.SendPrompt:
		return c.write(c.promptFrame()) == nil
	case event.ShowLoginScreen:
		return c.writeText(banner(c.name), event.TextPlain)
	case event.SetAnsi:
		c.ansi = ev.Enabled
		return true
	case event.ClearScreen:
		if c.ansi {
			return c.write([]byte(ansiClear)) == nil
		}
		return true
	case event.ShowAnsiDemo:
		return c.writeText(ansiDemo(c.ansi), event.TextPlain)
	case event.GmcpData:
		if !c.gmcp.Load() {
			return true
		}
		return c.writeGmcp(ev)
	case event.Close:
		if ev.Reason != "" {
			c.writeText(ev.Reason, event.TextInfo)
		}
		return true
	default:
		// SessionRedirect and anything gateway-internal is not for the wire.
		return true
	}
}

func (c *telnetConn) writeText(text string, kind event.TextKind) bool {
	var sb strings.Builder
	tinted := c.ansi && kind != event.TextPlain
	if tinted {
		if kind == event.TextError {
			sb.WriteString(ansiRed)
		} else {
			sb.WriteString(ansiCyan)
		}
	}
	sb.WriteString(text)
	if tinted {
		sb.WriteString(ansiReset)
	}
	sb.WriteString("\n")
	return c.write(c.encodeFrame(sb.String())) == nil
}

// encodeFrame applies the wire framing: Latin-1 downgrade when UTF-8 was not
// negotiated, LF to CRLF, and IAC escaping.
func (c *telnetConn) encodeFrame(text string) []byte {
	raw := []byte(text)
	if !c.utf8.Load() {
		if enc, err := c.enc.Bytes(raw); err == nil {
			raw = enc
		}
	}
	out := make([]byte, 0, len(raw)+16)
	for _, b := range raw {
		switch b {
		case '\n':
			out = append(out, '\r', '\n')
		case tnIAC:
			out = append(out, tnIAC, tnIAC)
		default:
			out = append(out, b)
		}
	}
	return out
}

// promptFrame renders "> " with a go-ahead so clients can pin the prompt.
// GA is omitted once the client suppressed it.
func (c *telnetConn) promptFrame() []byte {
	out := []byte("\r\n> ")
	if !c.sga.Load() {
		out = append(out, tnIAC, tnGA)
	}
	return out
}

func (c *telnetConn) writeGmcp(ev event.GmcpData) bool {
	payload := ev.Package
	if len(ev.Data) > 0 {
		payload += " " + string(ev.Data)
	}
	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, tnIAC, tnSB, optGMCP)
	for i := 0; i < len(payload); i++ {
		if payload[i] == tnIAC {
			buf = append(buf, tnIAC, tnIAC)
		} else {
			buf = append(buf, payload[i])
		}
	}
	buf = append(buf, tnIAC, tnSE)
	return c.write(buf) == nil
}

func (c *telnetConn) write(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	_, err := c.conn.Write(b)
	if err != nil && !c.sess.Closed() {
		c.log.Debug("write failed", zap.Error(err))
	}
	return err
}

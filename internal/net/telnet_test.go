package net

import (
	"io"
	stdnet "net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/sid"
)

// recSink records posted inbound events; the reader goroutine posts, the
// test goroutine polls.
type recSink struct {
	mu     sync.Mutex
	events []event.Inbound
}

func (s *recSink) Post(ev event.Inbound) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recSink) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		if l, ok := ev.(event.LineReceived); ok {
			out = append(out, l.Line)
		}
	}
	return out
}

func (s *recSink) gmcp() []event.GmcpReceived {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.GmcpReceived
	for _, ev := range s.events {
		if g, ok := ev.(event.GmcpReceived); ok {
			out = append(out, g)
		}
	}
	return out
}

// testConn runs a telnetConn's read loop over an in-memory pipe. Bytes the
// server writes (negotiation replies, diagnostics) are discarded so the
// synchronous pipe never blocks the loop.
type testConn struct {
	tc     *telnetConn
	sink   *recSink
	client stdnet.Conn

	done   chan string // read loop's disconnect reason
}

func newTestConn(t *testing.T, cfg config.NetworkConfig) *testConn {
	t.Helper()
	server, client := stdnet.Pipe()
	sink := &recSink{}
	log := zap.NewNop()
	sess := newSession(sid.ID(7), "telnet", "pipe", 16, time.Second,
		func() { server.Close() }, log)
	tc := &telnetConn{
		conn: server,
		cfg:  cfg,
		name: "test",
		sess: sess,
		sink: sink,
		dec:  charmap.ISO8859_1.NewDecoder(),
		enc:  encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder()),
		log:  log,
	}
	go io.Copy(io.Discard, client)

	c := &testConn{tc: tc, sink: sink, client: client, done: make(chan string, 1)}
	go func() { c.done <- tc.readLoop() }()
	t.Cleanup(func() {
		sess.Close()
		client.Close()
	})
	return c
}

func (c *testConn) send(t *testing.T, b []byte) {
	t.Helper()
	_, err := c.client.Write(b)
	require.NoError(t, err)
}

func (c *testConn) reason(t *testing.T) string {
	t.Helper()
	select {
	case r := <-c.done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit")
		return ""
	}
}

func testNetCfg() config.NetworkConfig {
	return config.NetworkConfig{
		MaxLineLength:   40,
		MaxNonPrintable: 8,
	}
}

func waitLines(t *testing.T, sink *recSink, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(sink.lines()) >= n },
		2*time.Second, 5*time.Millisecond)
	return sink.lines()
}

func TestReadLoopLineTerminators(t *testing.T) {
	c := newTestConn(t, testNetCfg())

	c.send(t, []byte("look\r\n"))      // CRLF
	c.send(t, []byte("north\r\x00"))   // CR NUL
	c.send(t, []byte("say hi\n"))      // bare LF
	c.send(t, []byte("\r\n"))          // empty line is still a line

	lines := waitLines(t, c.sink, 4)
	assert.Equal(t, []string{"look", "north", "say hi", ""}, lines)
}

func TestReadLoopSplitWrites(t *testing.T) {
	c := newTestConn(t, testNetCfg())

	c.send(t, []byte("ki"))
	c.send(t, []byte("ll ra"))
	c.send(t, []byte("t\r\n"))

	assert.Equal(t, []string{"kill rat"}, waitLines(t, c.sink, 1))
}

func TestReadLoopLineTooLong(t *testing.T) {
	c := newTestConn(t, testNetCfg())

	long := make([]byte, 41)
	for i := range long {
		long[i] = 'a'
	}
	c.send(t, long)

	assert.Equal(t, "protocol error", c.reason(t))
	assert.Empty(t, c.sink.lines())
}

func TestReadLoopNonPrintableCap(t *testing.T) {
	c := newTestConn(t, testNetCfg())

	junk := make([]byte, 9)
	for i := range junk {
		junk[i] = 0x07 // BEL
	}
	c.send(t, junk)

	assert.Equal(t, "protocol error", c.reason(t))
}

func TestReadLoopEscapedIACByte(t *testing.T) {
	c := newTestConn(t, testNetCfg())

	// IAC IAC mid-line is a literal 0xFF data byte (Latin-1 y-umlaut).
	c.send(t, []byte{'a', tnIAC, tnIAC, 'b', '\r', '\n'})

	lines := waitLines(t, c.sink, 1)
	assert.Equal(t, "aÿb", lines[0])
}

func TestNegotiationSetsCapabilities(t *testing.T) {
	c := newTestConn(t, testNetCfg())

	c.send(t, []byte{tnIAC, tnDO, optGMCP})
	require.Eventually(t, func() bool { return c.tc.gmcp.Load() },
		2*time.Second, 5*time.Millisecond)

	// CHARSET ACCEPTED UTF-8 flips the output encoding.
	accept := append([]byte{tnIAC, tnSB, optCharset, charsetAccepted}, []byte("UTF-8")...)
	c.send(t, append(accept, tnIAC, tnSE))
	require.Eventually(t, func() bool { return c.tc.utf8.Load() },
		2*time.Second, 5*time.Millisecond)

	c.send(t, []byte{tnIAC, tnDONT, optGMCP})
	require.Eventually(t, func() bool { return !c.tc.gmcp.Load() },
		2*time.Second, 5*time.Millisecond)
}

func TestGmcpSubnegotiationPostsEvent(t *testing.T) {
	c := newTestConn(t, testNetCfg())

	payload := []byte("Core.Hello {\"client\":\"mudlet\"}")
	msg := append([]byte{tnIAC, tnSB, optGMCP}, payload...)
	c.send(t, append(msg, tnIAC, tnSE))

	require.Eventually(t, func() bool { return len(c.sink.gmcp()) == 1 },
		2*time.Second, 5*time.Millisecond)
	g := c.sink.gmcp()[0]
	assert.Equal(t, "Core.Hello", g.Package)
	assert.JSONEq(t, `{"client":"mudlet"}`, string(g.Data))
}

func TestSessionCloseEndsReadLoop(t *testing.T) {
	c := newTestConn(t, testNetCfg())
	c.tc.sess.Close()
	assert.Equal(t, "connection closed", c.reason(t))
}

func TestEncodeFrameFraming(t *testing.T) {
	c := newTestConn(t, testNetCfg())

	// LF becomes CRLF; a 0xFF byte in output is IAC-escaped. Without a
	// UTF-8 negotiation, text downgrades to Latin-1.
	got := c.tc.encodeFrame("café\n")
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9, '\r', '\n'}, got)

	c.tc.utf8.Store(true)
	got = c.tc.encodeFrame("café\n")
	assert.Equal(t, []byte("café\r\n"), got)
}

func TestPromptFrameGoAhead(t *testing.T) {
	c := newTestConn(t, testNetCfg())

	assert.Equal(t, []byte{'\r', '\n', '>', ' ', tnIAC, tnGA}, c.tc.promptFrame())
	c.tc.sga.Store(true)
	assert.Equal(t, []byte("\r\n> "), c.tc.promptFrame())
}

func TestSessionSlowConsumerGrace(t *testing.T) {
	closed := false
	s := newSession(sid.ID(9), "telnet", "pipe", 1, 100*time.Millisecond,
		func() { closed = true }, zap.NewNop())

	base := time.Now()
	s.Enqueue(event.SendText{Sid: 9, Text: "one"}, base)
	// Queue now full; drops start but the session survives the grace window.
	s.Enqueue(event.SendText{Sid: 9, Text: "two"}, base)
	s.Enqueue(event.SendText{Sid: 9, Text: "three"}, base.Add(50*time.Millisecond))
	assert.False(t, s.Closed())

	s.Enqueue(event.SendText{Sid: 9, Text: "four"}, base.Add(150*time.Millisecond))
	assert.True(t, s.Closed())
	assert.True(t, closed)
}

func TestSessionCloseAlwaysLandsOnFullQueue(t *testing.T) {
	s := newSession(sid.ID(9), "telnet", "pipe", 1, time.Hour, nil, zap.NewNop())
	s.Enqueue(event.SendText{Sid: 9, Text: "jam"}, time.Now())
	s.Enqueue(event.Close{Sid: 9, Reason: "bye"}, time.Now())
	assert.True(t, s.Closed())
}

func TestDispatcherDropsUnknownSession(t *testing.T) {
	table := NewTable()
	d := NewDispatcher(table, zap.NewNop())
	// Must not panic or block.
	d.Deliver(event.SendText{Sid: 404, Text: "ghost"})
}

package net

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/sid"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 8192
)

// wsFrame is the websocket wire format, one JSON object per message.
// Inbound types: line, gmcp. Outbound types: text, prompt, gmcp, ansi, clear.
type wsFrame struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Package string          `json:"package,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Enabled bool            `json:"enabled,omitempty"`
}

// WebsocketServer runs the browser-facing transport at /ws.
type WebsocketServer struct {
	cfg      config.NetworkConfig
	name     string
	alloc    *sid.Allocator
	sink     Sink
	table    *Table
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewWebsocketServer(cfg config.NetworkConfig, name string, alloc *sid.Allocator, sink Sink, table *Table, log *zap.Logger) *WebsocketServer {
	return &WebsocketServer{
		cfg:   cfg,
		name:  name,
		alloc: alloc,
		sink:  sink,
		table: table,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is the proxy's job; the server takes any.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log.With(zap.String("component", "websocket")),
	}
}

func (s *WebsocketServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serve)
	srv := &http.Server{
		Addr:              s.cfg.WebsocketAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shCtx)
	}()
	s.log.Info("websocket listening", zap.String("addr", s.cfg.WebsocketAddress))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func (s *WebsocketServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	id, err := s.alloc.Next()
	if err != nil {
		s.log.Error("session id allocation failed", zap.Error(err))
		conn.Close()
		return
	}
	remote := conn.RemoteAddr().String()
	sess := newSession(id, "websocket", remote, s.cfg.OutQueueSize, s.cfg.SendGrace,
		func() { conn.Close() }, s.log)
	wc := &wsConn{
		conn: conn,
		cfg:  s.cfg,
		name: s.name,
		sess: sess,
		sink: s.sink,
		ansi: true,
		log:  s.log.With(zap.Uint64("sid", uint64(id))),
	}

	s.table.Add(sess)
	wc.log.Info("client connected", zap.String("remote", remote))

	go wc.writePump()
	s.sink.Post(event.Connected{Sid: id, Proto: "websocket", RemoteAddr: remote, Ansi: true})

	reason := wc.readPump()

	sess.Close()
	s.table.Remove(id)
	s.sink.Post(event.Disconnected{Sid: id, Reason: reason})
	wc.log.Info("client disconnected", zap.String("reason", reason))
}

type wsConn struct {
	conn *websocket.Conn
	cfg  config.NetworkConfig
	name string
	sess *Session
	sink Sink
	ansi bool // writer goroutine only, toggled by SetAnsi
	log  *zap.Logger
}

// readPump decodes inbound frames. Pongs renew the read deadline, so a
// silent peer dies after wsPongWait.
func (c *wsConn) readPump() string {
	c.conn.SetReadLimit(wsMaxMessage)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return c.readReason(err)
		}
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var f wsFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.protocolError("Bad frame.")
			return "protocol error"
		}
		switch f.Type {
		case "line":
			if len(f.Text) > c.cfg.MaxLineLength {
				c.protocolError("Line too long.")
				return "protocol error"
			}
			c.sink.Post(event.LineReceived{Sid: c.sess.ID, Line: f.Text})
		case "gmcp":
			if f.Package != "" {
				c.sink.Post(event.GmcpReceived{Sid: c.sess.ID, Package: f.Package, Data: f.Data})
			}
		default:
			// Unknown types are skipped so older servers tolerate newer clients.
		}
	}
}

func (c *wsConn) readReason(err error) string {
	switch {
	case c.sess.Closed():
		return "connection closed"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return "client hung up"
	case isTimeout(err):
		return "ping timeout"
	default:
		return "read error"
	}
}

// protocolError sends one diagnostic frame and cuts the connection. Called
// from the reader; gorilla allows one concurrent writer, so this rides the
// control-frame exemption by closing right after.
func (c *wsConn) protocolError(msg string) {
	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg), deadline)
	c.sess.Close()
}

// writePump renders outbound events and keeps the connection alive with
// pings. A rendered Close event ends the pump after the farewell.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.sess.Close()
	}()
	for {
		select {
		case ev := <-c.sess.queue:
			if !c.render(ev) {
				return
			}
			if _, ok := ev.(event.Close); ok {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.sess.closeCh:
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *wsConn) render(ev event.Outbound) bool {
	switch ev := ev.(type) {
	case event.SendText:
		return c.send(wsFrame{Type: "text", Kind: textKindName(ev.Kind), Text: ev.Text})
	case event.SendPrompt:
		return c.send(wsFrame{Type: "prompt"})
	case event.ShowLoginScreen:
		return c.send(wsFrame{Type: "text", Kind: "plain", Text: banner(c.name)})
	case event.SetAnsi:
		c.ansi = ev.Enabled
		return c.send(wsFrame{Type: "ansi", Enabled: ev.Enabled})
	case event.ClearScreen:
		return c.send(wsFrame{Type: "clear"})
	case event.ShowAnsiDemo:
		return c.send(wsFrame{Type: "text", Kind: "plain", Text: ansiDemo(c.ansi)})
	case event.GmcpData:
		return c.send(wsFrame{Type: "gmcp", Package: ev.Package, Data: ev.Data})
	case event.Close:
		if ev.Reason != "" {
			c.send(wsFrame{Type: "text", Kind: "info", Text: ev.Reason})
		}
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ev.Reason))
		return true
	default:
		return true
	}
}

func (c *wsConn) send(f wsFrame) bool {
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait()))
	if err := c.conn.WriteJSON(f); err != nil {
		if !c.sess.Closed() {
			c.log.Debug("write failed", zap.Error(err))
		}
		return false
	}
	return true
}

func (c *wsConn) writeWait() time.Duration {
	if c.cfg.WriteTimeout > 0 {
		return c.cfg.WriteTimeout
	}
	return 10 * time.Second
}

func textKindName(k event.TextKind) string {
	switch k {
	case event.TextInfo:
		return "info"
	case event.TextError:
		return "error"
	default:
		return "plain"
	}
}

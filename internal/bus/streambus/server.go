package streambus

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/event"
)

// Server is the engine end of the streaming bus. It accepts the two stream
// sockets from each gateway: /link/in (gateway sends inbound events) and
// /link/out (engine sends outbound events). Per-gateway stream state
// survives socket loss so reconnects resume instead of losing events.
type Server struct {
	engineID string
	secret   []byte
	skew     time.Duration
	log      *zap.Logger
	upgrader websocket.Upgrader
	now      func() int64

	queueSize int
	ackWindow int

	// InboundSink receives every verified inbound event with the id of the
	// gateway that sent it. It must only enqueue.
	InboundSink func(gateway string, ev event.Inbound)
	// OnReset is called when a gateway's inbound stream declared itself
	// unrecoverable.
	OnReset func(gateway string)

	mu       sync.Mutex
	gateways map[string]*serverPeer
}

type serverPeer struct {
	in  *receiver
	out *sender

	mu      sync.Mutex
	inConn  *websocket.Conn
	outConn *websocket.Conn
	outStop chan struct{}
}

func NewServer(engineID string, secret []byte, skew time.Duration, queueSize, ackWindow int, log *zap.Logger) *Server {
	return &Server{
		engineID:  engineID,
		secret:    secret,
		skew:      skew,
		log:       log.With(zap.String("component", "streambus"), zap.String("engine", engineID)),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		now:       func() int64 { return time.Now().UnixMilli() },
		queueSize: queueSize,
		ackWindow: ackWindow,
		gateways:  make(map[string]*serverPeer),
	}
}

// Handler mounts the two stream endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/link/in", s.handleIn)
	mux.HandleFunc("/link/out", s.handleOut)
	return mux
}

func (s *Server) peer(gateway string) *serverPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.gateways[gateway]
	if !ok {
		p = &serverPeer{
			in:  newReceiver(s.secret, s.skew, s.now),
			out: newSender(s.secret, s.engineID, s.queueSize, s.ackWindow, s.now),
		}
		s.gateways[gateway] = p
	}
	return p
}

// SendOutbound queues an outbound event for a gateway's stream.
func (s *Server) SendOutbound(gateway string, ev event.Outbound) error {
	s.mu.Lock()
	p, ok := s.gateways[gateway]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("streambus: gateway %q never attached", gateway)
	}
	return p.out.send(ev)
}

// Gateways lists the gateways that have attached at least once.
func (s *Server) Gateways() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.gateways))
	for g := range s.gateways {
		out = append(out, g)
	}
	return out
}

// handleIn serves the gateway→engine stream. The engine is the receiver: it
// opens with its cumulative watermark, then consumes events.
func (s *Server) handleIn(w http.ResponseWriter, r *http.Request) {
	gateway := r.URL.Query().Get("gateway")
	if gateway == "" {
		http.Error(w, "missing gateway id", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	p := s.peer(gateway)
	p.mu.Lock()
	if p.inConn != nil {
		_ = p.inConn.Close() // replaced by the reconnect
	}
	p.inConn = conn
	p.mu.Unlock()

	log := s.log.With(zap.String("gateway", gateway), zap.String("stream", "in"))
	log.Info("stream attached", zap.Uint64("watermark", p.in.watermark()))

	if err := writeFrame(conn, encodeAck(p.in.watermark())); err != nil {
		log.Warn("opening ack failed", zap.Error(err))
		return
	}
	err = p.in.attach(conn,
		func(ev any) {
			if in, ok := ev.(event.Inbound); ok && s.InboundSink != nil {
				s.InboundSink(gateway, in)
			}
		},
		func() {
			if s.OnReset != nil {
				s.OnReset(gateway)
			}
		})
	log.Info("stream detached", zap.Error(err))
}

// handleOut serves the engine→gateway stream. The gateway is the receiver:
// its first frame is an ack with its watermark, after which the engine
// replays and pumps.
func (s *Server) handleOut(w http.ResponseWriter, r *http.Request) {
	gateway := r.URL.Query().Get("gateway")
	if gateway == "" {
		http.Error(w, "missing gateway id", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	p := s.peer(gateway)
	p.mu.Lock()
	if p.outStop != nil {
		close(p.outStop)
		_ = p.outConn.Close()
	}
	stop := make(chan struct{})
	p.outStop = stop
	p.outConn = conn
	p.mu.Unlock()

	log := s.log.With(zap.String("gateway", gateway), zap.String("stream", "out"))

	// The gateway opens with its watermark.
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		log.Warn("no opening watermark", zap.Error(err))
		return
	}
	f, err := decodeFrame(raw)
	if err != nil || f.kind != frameAck {
		log.Warn("bad opening frame")
		return
	}
	log.Info("stream attached", zap.Uint64("watermark", f.mark))

	acks := make(chan uint64, 1)
	go func() {
		_ = senderReadLoop(conn, acks)
	}()
	err = p.out.attach(conn, f.mark, acks, stop)
	log.Info("stream detached", zap.Error(err))
}

package streambus

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/event"
)

// ClientConfig wires one gateway→engine stream pair.
type ClientConfig struct {
	GatewayID string
	EngineID  string
	Addr      string // engine link listener, host:port
	Secret    []byte
	Skew      time.Duration
	QueueSize int
	AckWindow int

	// Reconnect backoff. Base doubles up to Cap, with jitter.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Client is the gateway end of the streaming bus: it dials the engine's two
// stream endpoints and keeps them attached across socket loss. Inbound
// events queue through the sender's replay ring; outbound events arrive on
// the receiver and go to Deliver.
type Client struct {
	cfg ClientConfig
	log *zap.Logger

	in  *sender
	out *receiver

	// Deliver receives every verified outbound event. It must only enqueue.
	Deliver func(ev event.Outbound)
	// OnReset is called when the engine declared the outbound stream
	// unrecoverable; frames between the watermark and the reset are gone.
	OnReset func()
}

func NewClient(cfg ClientConfig, log *zap.Logger) *Client {
	now := func() int64 { return time.Now().UnixMilli() }
	return &Client{
		cfg: cfg,
		log: log.With(zap.String("component", "streambus"),
			zap.String("gateway", cfg.GatewayID), zap.String("engine", cfg.EngineID)),
		in:  newSender(cfg.Secret, cfg.GatewayID, cfg.QueueSize, cfg.AckWindow, now),
		out: newReceiver(cfg.Secret, cfg.Skew, now),
	}
}

// SendInbound queues an inbound event for the engine.
func (c *Client) SendInbound(ev event.Inbound) error {
	return c.in.send(ev)
}

// Run keeps both streams attached until the context ends.
func (c *Client) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.runIn(ctx)
	}()
	go func() {
		defer wg.Done()
		c.runOut(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

// runIn drives the gateway→engine stream. The engine is the receiver: its
// first frame is an ack with its watermark, after which we replay and pump.
func (c *Client) runIn(ctx context.Context) {
	log := c.log.With(zap.String("stream", "in"))
	for ctx.Err() == nil {
		conn, err := c.dial(ctx, "/link/in")
		if err != nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warn("no opening watermark", zap.Error(err))
			conn.Close()
			continue
		}
		f, err := decodeFrame(raw)
		if err != nil || f.kind != frameAck {
			log.Warn("bad opening frame")
			conn.Close()
			continue
		}
		log.Info("stream attached", zap.Uint64("watermark", f.mark))

		acks := make(chan uint64, 1)
		go func() {
			_ = senderReadLoop(conn, acks)
		}()
		err = c.in.attach(conn, f.mark, acks, ctx.Done())
		conn.Close()
		log.Info("stream detached", zap.Error(err))
	}
}

// runOut drives the engine→gateway stream. The gateway is the receiver: it
// opens with its cumulative watermark, then consumes events.
func (c *Client) runOut(ctx context.Context) {
	log := c.log.With(zap.String("stream", "out"))
	for ctx.Err() == nil {
		conn, err := c.dial(ctx, "/link/out")
		if err != nil {
			return
		}

		if err := writeFrame(conn, encodeAck(c.out.watermark())); err != nil {
			log.Warn("opening ack failed", zap.Error(err))
			conn.Close()
			continue
		}
		log.Info("stream attached", zap.Uint64("watermark", c.out.watermark()))

		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()
		err = c.out.attach(conn,
			func(ev any) {
				if out, ok := ev.(event.Outbound); ok && c.Deliver != nil {
					c.Deliver(out)
				}
			},
			func() {
				log.Warn("engine reset outbound stream")
				if c.OnReset != nil {
					c.OnReset()
				}
			})
		close(done)
		conn.Close()
		log.Info("stream detached", zap.Error(err))
	}
}

// dial connects one endpoint, retrying with capped exponential backoff until
// it succeeds or the context ends.
func (c *Client) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	u := url.URL{
		Scheme:   "ws",
		Host:     c.cfg.Addr,
		Path:     path,
		RawQuery: "gateway=" + url.QueryEscape(c.cfg.GatewayID),
	}
	backoff := retry.WithJitter(c.cfg.BackoffBase/2,
		retry.WithCappedDuration(c.cfg.BackoffCap, retry.NewExponential(c.cfg.BackoffBase)))
	var conn *websocket.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var dialErr error
		conn, _, dialErr = websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if dialErr != nil {
			c.log.Debug("dial failed", zap.String("path", path), zap.Error(dialErr))
			return retry.RetryableError(dialErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

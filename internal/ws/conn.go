// Package ws adapts gorilla/websocket connections to the relay's Peer
// interface: one read pump dispatching inbound events in order and one
// write pump draining a buffered outbound queue.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eldtechnologies/ephemera/internal/crypto"
	"github.com/eldtechnologies/ephemera/internal/metrics"
	"github.com/eldtechnologies/ephemera/internal/models"
	"github.com/eldtechnologies/ephemera/internal/presence"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	defaultPongWait = 60 * time.Second

	defaultSendBuffer = 256
)

// Router receives inbound events. *relay.Engine satisfies it.
type Router interface {
	Dispatch(ctx context.Context, peer presence.Peer, env *models.Envelope)
	Leave(peer presence.Peer) bool
}

// Options configures a Conn.
type Options struct {
	MaxPayloadBytes int64
	EventRate       float64 // inbound events per second
	EventBurst      int
	SendBuffer      int
	PongWait        time.Duration // pings go out every 9/10 of this
}

// Conn is one client connection.
type Conn struct {
	id      string
	conn    *websocket.Conn
	router  Router
	limiter *rate.Limiter
	maxRead int64
	pong    time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewConn wraps an upgraded websocket connection and assigns it a handle.
func NewConn(conn *websocket.Conn, router Router, opts Options, logger zerolog.Logger) *Conn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	limit := rate.Inf
	if opts.EventRate > 0 {
		limit = rate.Limit(opts.EventRate)
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 1
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}

	id := crypto.NewConnID()
	return &Conn{
		id:      id,
		conn:    conn,
		router:  router,
		limiter: rate.NewLimiter(limit, opts.EventBurst),
		maxRead: opts.MaxPayloadBytes,
		pong:    opts.PongWait,
		logger:  logger.With().Str("component", "ws").Str("conn", id).Logger(),
		send:    make(chan []byte, opts.SendBuffer),
	}
}

// ID returns the connection handle.
func (c *Conn) ID() string { return c.id }

// Send queues an event for the client without blocking. Events for a
// closed connection or a full queue are dropped.
func (c *Conn) Send(env *models.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		c.logger.Error().Err(err).Str("event", env.Event).Msg("marshal event")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		metrics.DroppedEvents.WithLabelValues("slow_consumer").Inc()
		c.logger.Warn().Str("event", env.Event).Msg("send queue full, event dropped")
	}
}

// Serve runs the connection until the client goes away or ctx is done.
// The connection is unregistered from the router before Serve returns.
func (c *Conn) Serve(ctx context.Context) {
	metrics.OpenConnections.Inc()
	defer metrics.OpenConnections.Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writePump(ctx)
	}()

	c.readPump(ctx)

	c.router.Leave(c)
	c.shutdown()
	<-written
	c.logger.Debug().Msg("connection closed")
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump dispatches inbound frames in arrival order.
func (c *Conn) readPump(ctx context.Context) {
	defer c.conn.Close()

	if c.maxRead > 0 {
		c.conn.SetReadLimit(c.maxRead)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.pong))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pong))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		// Any frame proves the peer is alive.
		c.conn.SetReadDeadline(time.Now().Add(c.pong))

		if !c.limiter.Allow() {
			metrics.DroppedEvents.WithLabelValues("rate_limited").Inc()
			c.logger.Warn().Msg("inbound event rate exceeded, event dropped")
			continue
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			metrics.DroppedEvents.WithLabelValues("malformed").Inc()
			c.logger.Debug().Msg("unparseable frame ignored")
			continue
		}
		c.router.Dispatch(ctx, c, &env)
		// A send may block on a remote scan for longer than the pong
		// window while pongs queue up unread.
		c.conn.SetReadDeadline(time.Now().Add(c.pong))
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.pong * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

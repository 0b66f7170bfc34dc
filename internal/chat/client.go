package chat

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait.
)

type ClientOptions struct {
	MaxMessageSize int64
	SendBuffer     int
	RateBurst      int
	RateInterval   time.Duration
	// HandleTimeout bounds the handling of one inbound frame, including
	// membership lookups.
	HandleTimeout time.Duration
}

// Client is a middleman between one websocket connection and the hub. It
// is the Endpoint implementation for websocket transports.
type Client struct {
	id      EndpointID
	session Session
	hub     *Hub
	conn    *websocket.Conn

	// Buffered channel of outbound frames, drained by writePump only.
	send   chan []byte
	mu     sync.RWMutex
	closed bool

	limiter *rate.Limiter
	opts    ClientOptions
	log     *zap.Logger
}

func newClient(id EndpointID, s Session, hub *Hub, conn *websocket.Conn, opts ClientOptions, log *zap.Logger) *Client {
	return &Client{
		id:      id,
		session: s,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, opts.SendBuffer),
		limiter: rate.NewLimiter(rate.Every(opts.RateInterval/time.Duration(opts.RateBurst)), opts.RateBurst),
		opts:    opts,
		log:     log.With(zap.String("user", string(s.UserID)), zap.String("endpoint", string(id))),
	}
}

func (c *Client) ID() EndpointID { return c.id }

// Send queues a frame without blocking.
func (c *Client) Send(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrEndpointClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the client; the write pump then closes the socket and the
// read pump deregisters it.
func (c *Client) Close() error {
	c.stop()
	return nil
}

// stop closes the send queue once; writePump then closes the socket.
func (c *Client) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps frames from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		// Cleanup: If connection dies, tell Hub to unregister
		c.hub.Disconnect(c.session, c)
		c.stop()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("read failed", zap.Error(err))
			}
			return
		}

		f, err := DecodeFrame(raw)
		if err != nil {
			c.reject("", err.Error())
			continue
		}
		if !c.limiter.Allow() {
			c.reject(f.Event, "rate limit exceeded")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandleTimeout)
		c.hub.HandleFrame(ctx, c.session, c, f)
		cancel()
	}
}

func (c *Client) reject(event, msg string) {
	frame, err := EncodeFrame(EventError, ErrorOut{Event: event, Message: msg})
	if err == nil {
		_ = c.Send(frame)
	}
}

// writePump pumps frames from the send queue to the websocket connection.
// One frame per websocket message, in queue order.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The queue was closed.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package ws

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
)

// Client is one websocket connection. Outbound frames go through a buffered
// channel drained by WritePump; the reader goroutine is owned by the HTTP
// handler that accepted the upgrade.
type Client struct {
	ID          string
	Identity    domain.Identity
	ConnectedAt time.Time

	conn *websocket.Conn
	out  chan Frame
	done chan struct{}
	once sync.Once
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, identity domain.Identity, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Client{
		ID:          uuid.NewString(),
		Identity:    identity,
		ConnectedAt: time.Now(),
		conn:        conn,
		out:         make(chan Frame, sendBuffer),
		done:        make(chan struct{}),
	}
}

// Send queues a frame for delivery. Returns false when the client is closed
// or its buffer is full; the hub treats that as a slow consumer and drops the
// connection.
func (c *Client) Send(frame Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// PrepareRead arms the read deadline and pong handler. Must run before the
// first read.
func (c *Client) PrepareRead(pongWait time.Duration) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// ReadFrame blocks for the next inbound frame.
func (c *Client) ReadFrame() (*InboundFrame, error) {
	var frame InboundFrame
	if err := c.conn.ReadJSON(&frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// WritePump drains the outbound channel onto the wire and keeps the
// connection alive with pings. It owns the connection teardown.
func (c *Client) WritePump(pingPeriod, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case frame := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

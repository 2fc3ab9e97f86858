package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/zlnvch/webnotes/logger/slogx"
	"github.com/zlnvch/webnotes/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Watch requests are tiny
	maxMessageSize = 1024 * 4

	// Rate limiting: 10 messages per second with a burst of 20
	messagesPerSecond = 10
	burstLimit        = 20
)

type MessageHandler func(client *Client, messageType int, messageBytes []byte)

func NewClient(hub *Hub, conn *websocket.Conn, user models.User, handler MessageHandler) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		user:         user,
		handler:      handler,
		watchedNotes: make(map[string]struct{}),
		Send:         make(chan []byte, 128),
		limiter:      rate.NewLimiter(rate.Limit(messagesPerSecond), burstLimit),
	}
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	user    models.User
	handler MessageHandler
	// Buffered channel of outbound messages, closed by the hub
	Send    chan []byte
	limiter *rate.Limiter

	// Owned by the hub goroutine
	watchedNotes map[string]struct{}
	closed       bool
}

func (c *Client) ReadPump() {
	defer func() {
		enqueue(c.hub, c.hub.CloseCh, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slogx.Debug(context.Background(), "ws close error", slogx.UserId(c.user.Id), slogx.Err(err))
			}
			break
		}

		if !c.limiter.Allow() {
			slogx.Warn(context.Background(), "closing connection: message rate limit exceeded", slogx.UserId(c.user.Id))
			break
		}

		c.handler(c, messageType, messageBytes)
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slogx.Debug(shutdownCtx, "ws send error", slogx.UserId(c.user.Id), slogx.Err(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-shutdownCtx.Done():
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Websocket service shutting down"),
			)
			return
		}
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 4096
	sendBufferSize = 64
)

// Authorizer decides whether userID may listen on channel.
type Authorizer func(ctx context.Context, userID, channel string) error

type controlFrame struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

type controlReply struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client pumps frames between one websocket connection and the hub.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	sub       *Subscriber
	authorize Authorizer
	logger    *logrus.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, authorize Authorizer, logger *logrus.Logger) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		sub:       NewSubscriber(userID, sendBufferSize),
		authorize: authorize,
		logger:    logger,
	}
}

// Serve subscribes the client to its own user channel and blocks until the connection closes.
func (c *Client) Serve(ctx context.Context) {
	c.hub.Subscribe(c.sub, UserChannel(c.sub.UserID))
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Remove(c.sub)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).WithField("user_id", c.sub.UserID).Warn("WebSocket closed unexpectedly")
			}
			return
		}

		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reply(controlReply{Type: "error", Error: "malformed frame"})
			continue
		}
		c.handle(ctx, frame)
	}
}

func (c *Client) handle(ctx context.Context, frame controlFrame) {
	switch frame.Action {
	case "subscribe":
		if err := c.authorize(ctx, c.sub.UserID, frame.Channel); err != nil {
			c.reply(controlReply{Type: "error", Channel: frame.Channel, Error: err.Error()})
			return
		}
		c.hub.Subscribe(c.sub, frame.Channel)
		c.reply(controlReply{Type: "subscribed", Channel: frame.Channel})
	case "unsubscribe":
		c.hub.Unsubscribe(c.sub, frame.Channel)
		c.reply(controlReply{Type: "unsubscribed", Channel: frame.Channel})
	default:
		c.reply(controlReply{Type: "error", Error: "unknown action"})
	}
}

// reply goes through the Send queue so the write pump stays the only writer.
func (c *Client) reply(r controlReply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	select {
	case c.sub.Send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.sub.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

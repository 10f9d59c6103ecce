package services

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Control messages only
	maxMessageSize = 4096

	sendBufferSize = 64
)

// NewFeedClient creates a new feed client
func NewFeedClient(hub *FeedHub, conn *websocket.Conn, remoteAddr string) *FeedClient {
	return &FeedClient{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		cameras:    make(map[string]bool),
		remoteAddr: remoteAddr,
	}
}

// ReadPump handles control messages until the connection goes away
func (c *FeedClient) ReadPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	log := c.hub.log.With(zap.String("remote", c.remoteAddr))
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn("⚠️ WebSocket error", zap.Error(err))
			}
			return
		}

		var msg FeedMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("invalid message")
			continue
		}

		switch msg.Type {
		case FeedSubscribe:
			if err := c.hub.Subscribe(c, msg.Camera); err != nil {
				log.Warn("⚠️ Subscribe failed", zap.String("camera_id", msg.Camera), zap.Error(err))
				c.sendError(err.Error())
			}
		case FeedUnsubscribe:
			if msg.Camera != "" {
				c.hub.Unsubscribe(c, msg.Camera)
			}
		case FeedPing:
			c.sendJSON(FeedMessage{Type: FeedPong})
		default:
			c.sendError("unknown message type: " + msg.Type)
		}
	}
}

// WritePump drains the send channel into the connection
func (c *FeedClient) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// trySend never blocks and is a no-op once the client is closed
func (c *FeedClient) trySend(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *FeedClient) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *FeedClient) cameraIDs() []string {
	c.camerasMu.Lock()
	defer c.camerasMu.Unlock()
	ids := make([]string, 0, len(c.cameras))
	for id := range c.cameras {
		ids = append(ids, id)
	}
	return ids
}

func (c *FeedClient) sendJSON(msg FeedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *FeedClient) sendError(errMsg string) {
	c.sendJSON(FeedMessage{Type: FeedError, Error: errMsg})
}

package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/voiceroom/internal/registry"
	"github.com/cory-johannsen/voiceroom/internal/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// client is one WebSocket connection and its registered outbox.
type client struct {
	id      string
	conn    *websocket.Conn
	outbox  *registry.Outbox
	handler Handler
	timeout time.Duration
	logger  *zap.Logger
}

// readPump decodes inbound envelopes and hands them to the handler one at a
// time, in arrival order. It is the only reader of the connection.
//
// Postcondition: the handler's Disconnect has run for this connection when readPump returns.
func (c *client) readPump(readLimit int64) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		c.handler.Disconnect(ctx, c.id)
		cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("reading message", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.logger.Debug("malformed frame", zap.String("conn_id", c.id), zap.Error(err))
			c.reject("Malformed message")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		c.handler.Handle(ctx, c.id, env)
		cancel()
	}
}

func (c *client) reject(message string) {
	frame, err := wire.Encode(wire.Error, wire.Failure{Message: message, Kind: "invalid"})
	if err != nil {
		return
	}
	_ = c.outbox.Push(frame)
}

// writePump drains the outbox to the connection and keeps it alive with
// pings. It is the only writer of the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.outbox.Frames():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The registry closed the outbox.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("writing message", zap.String("conn_id", c.id), zap.Error(err))
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

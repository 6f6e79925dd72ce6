package chathub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"

	"github.com/gorilla/websocket"
)

// WebSocketClient implements Client over a gorilla/websocket connection.
type WebSocketClient struct {
	ConnID  string
	UserID  string
	Role    string
	Conn    *websocket.Conn
	Hub     *ManagerService
	Handler CommandHandler
	Send    chan models.Event

	closeOnce sync.Once
}

// NewWebSocketClient wires a freshly upgraded connection to the hub.
func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, connID, userID, role string) *WebSocketClient {
	return &WebSocketClient{
		ConnID: connID,
		UserID: userID,
		Role:   role,
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan models.Event, config.PushBufferSize),
	}
}

func (c *WebSocketClient) GetConnID() string                 { return c.ConnID }
func (c *WebSocketClient) GetUserID() string                 { return c.UserID }
func (c *WebSocketClient) GetRole() string                   { return c.Role }
func (c *WebSocketClient) GetSendChannel() chan models.Event { return c.Send }

// Run starts the pumps. readPump owns the connection lifetime.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes the outbox, which stops writePump.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// readPump decodes commands and hands them to the session handler in order.
// A connection silent for longer than PongWait is treated as disconnected.
func (c *WebSocketClient) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(config.MaxCommandSize)
	c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] error reading from %s: %v", c.ConnID, err)
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))

		var cmd models.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Printf("[ws] Error decoding JSON from client %s: %v", c.ConnID, err)
			c.Hub.SendTo(c.ConnID, models.Event{Type: models.EventError, Code: "bad_request", Error: "malformed command"})
			continue
		}
		if c.Handler == nil {
			continue
		}
		c.Handler.HandleCommand(ctx, cmd)
	}
}

// writePump writes queued events to the socket and keeps it alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if !ok {
				// The hub closed the outbox.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(ev); err != nil {
				log.Printf("[ws] Error writing to client %s: %v", c.ConnID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

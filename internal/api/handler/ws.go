package handler

import (
	"log"
	"net/http"

	"supportchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the web client's origin once it has a fixed domain.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades an authenticated request to a push connection.
// Staff reconnecting rejoin the rooms of the requests they hold.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	identity := actor(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for %s: %v", identity.UserID, err)
		return
	}

	connID := uuid.New().String()
	client := chathub.NewWebSocketClient(h.Hub, conn, connID, identity.UserID, string(identity.Role))
	client.Handler = h.Chat.NewSession(identity, connID)
	h.Hub.Register(client)

	if identity.IsStaff() {
		held, err := h.Chat.ListMine(c.Request.Context(), identity)
		if err != nil {
			log.Printf("WARNING: [ws] could not restore rooms of %s: %v", identity.UserID, err)
		}
		for _, req := range held {
			if err := h.Hub.Join(connID, req.ConversationID); err != nil {
				log.Printf("WARNING: [ws] could not rejoin %s for %s: %v", req.ConversationID, identity.UserID, err)
			}
		}
	}

	client.Run()
}

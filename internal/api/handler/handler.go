// Package handler exposes the chat and hand-off operations over HTTP and
// upgrades push connections.
package handler

import (
	"net/http"

	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/handoff"

	"github.com/gin-gonic/gin"
)

// Handler holds the services behind the HTTP routes.
type Handler struct {
	Hub    *chathub.ManagerService
	Chat   *handoff.Service
	Tokens *auth.TokenService
}

func NewHandler(hub *chathub.ManagerService, chat *handoff.Service, tokens *auth.TokenService) *Handler {
	return &Handler{Hub: hub, Chat: chat, Tokens: tokens}
}

// SetupRouter registers every route. All routes but /healthz need a token.
func (h *Handler) SetupRouter() *gin.Engine {
	r := gin.Default()
	r.GET("/healthz", h.Health)

	api := r.Group("/", auth.RequireAuth(h.Tokens))
	{
		api.GET("/conversations", h.ListConversations)
		api.POST("/conversations", h.CreateConversation)
		api.GET("/conversations/:id", h.GetConversation)
		api.GET("/conversations/:id/messages", h.ListMessages)
		api.POST("/conversations/:id/messages", h.SendMessage)
		api.PUT("/conversations/:id/messages/read", h.MarkRead)
		api.POST("/conversations/:id/request-support", h.RequestSupport)

		api.GET("/support-requests", h.ListPending)
		api.GET("/support-requests/my", h.ListMine)
		api.PUT("/support-requests/:id/accept", h.AcceptRequest)
		api.PUT("/support-requests/:id/resolve", h.ResolveRequest)

		api.GET("/ws", h.ServeWebSocket)
	}
	return r
}

// Health reports liveness and the number of push connections.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": h.Hub.ClientCount()})
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListPending returns the queue staff pick requests from.
func (h *Handler) ListPending(c *gin.Context) {
	reqs, err := h.Chat.ListPending(c.Request.Context(), actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

// ListMine returns the requests the caller has accepted and not resolved.
func (h *Handler) ListMine(c *gin.Context) {
	reqs, err := h.Chat.ListMine(c.Request.Context(), actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

// AcceptRequest answers 409 with code "already_accepted" to the losers of
// the accept race.
func (h *Handler) AcceptRequest(c *gin.Context) {
	req, err := h.Chat.Accept(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) ResolveRequest(c *gin.Context) {
	req, err := h.Chat.Resolve(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type createConversationRequest struct {
	Name string `json:"name"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type markReadRequest struct {
	UpTo uint64 `json:"up_to"`
}

type requestSupportRequest struct {
	Reason string `json:"reason"`
}

// bindOptional decodes a JSON body that may be absent.
func bindOptional(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *Handler) ListConversations(c *gin.Context) {
	convs, err := h.Chat.ListConversations(c.Request.Context(), actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

func (h *Handler) CreateConversation(c *gin.Context) {
	var body createConversationRequest
	if err := bindOptional(c, &body); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	conv, err := h.Chat.StartConversation(c.Request.Context(), actor(c), body.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) GetConversation(c *gin.Context) {
	conv, err := h.Chat.GetConversation(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// ListMessages returns messages after ?since=, the catch-up path for clients
// that missed push events.
func (h *Handler) ListMessages(c *gin.Context) {
	var since uint64
	if v := c.Query("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			badRequest(c, "since must be a message id")
			return
		}
		since = n
	}
	msgs, err := h.Chat.ListMessages(c.Request.Context(), actor(c), c.Param("id"), since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) SendMessage(c *gin.Context) {
	var body sendMessageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	msg, err := h.Chat.SendMessage(c.Request.Context(), actor(c), c.Param("id"), body.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) MarkRead(c *gin.Context) {
	var body markReadRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "up_to is required")
		return
	}
	n, err := h.Chat.MarkRead(c.Request.Context(), actor(c), c.Param("id"), body.UpTo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *Handler) RequestSupport(c *gin.Context) {
	var body requestSupportRequest
	if err := bindOptional(c, &body); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	req, err := h.Chat.RequestSupport(c.Request.Context(), actor(c), c.Param("id"), body.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

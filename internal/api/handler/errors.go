package handler

import (
	"errors"
	"log"
	"net/http"

	"supportchat/backend/internal/apperr"
	"supportchat/backend/internal/auth"

	"github.com/gin-gonic/gin"
)

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidState), errors.Is(err, apperr.ErrAlreadyAccepted):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a service error to its HTTP status. Internal errors are
// logged and not echoed to the client.
func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("ERROR: [api] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error", "code": apperr.Code(err)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": apperr.Code(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "bad_request"})
}

// actor returns the caller's identity. RequireAuth guarantees it exists.
func actor(c *gin.Context) auth.Identity {
	identity, _ := auth.IdentityFrom(c)
	return identity
}

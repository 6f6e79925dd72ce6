package chathub

import (
	"context"

	"supportchat/backend/internal/models"
)

// Client is the interface for any push connection. It abstracts the
// transport so the hub can manage websocket and test clients uniformly.
type Client interface {
	// GetConnID returns the unique id of this connection. One user may hold
	// several connections.
	GetConnID() string
	// GetUserID returns the authenticated identity owning the connection.
	GetUserID() string
	// GetRole returns the role of that identity (customer, staff, admin...).
	GetRole() string

	// GetSendChannel returns the bounded outbox the hub writes events into.
	// The hub may drop the oldest queued event when it is full.
	GetSendChannel() chan models.Event

	// Run starts the client's pumps.
	Run()
	// Close releases the outbox. It is called by the hub exactly once.
	Close()
}

// CommandHandler processes commands read from a push connection. Each
// connection gets its own handler so per-session state never leaks between
// connections.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd models.Command)
}

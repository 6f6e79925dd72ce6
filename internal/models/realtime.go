package models

// EventType names a push event sent from the server to connected clients.
type EventType string

const (
	EventMessageReceived EventType = "message-received"
	EventRequestCreated  EventType = "support-request-created"
	EventRequestAccepted EventType = "support-request-accepted"
	EventRequestResolved EventType = "support-request-resolved"
	EventRequestReverted EventType = "support-request-reverted"
	EventSyncResult      EventType = "sync-result"
	EventAck             EventType = "ack"
	EventError           EventType = "error"
)

// Event is the envelope written to push connections.
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Message        *Message        `json:"message,omitempty"`
	Messages       []Message       `json:"messages,omitempty"`
	Request        *SupportRequest `json:"request,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
	StaffID        string          `json:"staff_id,omitempty"`
	// Command echoes the command type an ack or error answers.
	Command CommandType `json:"command,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CommandType names a command a push client sends to the server.
type CommandType string

const (
	CmdJoinConversation  CommandType = "join-conversation"
	CmdLeaveConversation CommandType = "leave-conversation"
	CmdSendMessage       CommandType = "send-message"
	CmdRequestSupport    CommandType = "request-support"
	CmdAcceptRequest     CommandType = "accept-support-request"
	CmdResolveSupport    CommandType = "resolve-support"
	CmdSync              CommandType = "sync"
)

// Command is the envelope read from push connections.
type Command struct {
	Type           CommandType `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	RequestID      string      `json:"request_id,omitempty"`
	Content        string      `json:"content,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	SinceID        uint64      `json:"since_id,omitempty"`
}

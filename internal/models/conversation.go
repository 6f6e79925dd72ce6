package models

import "time"

// Conversation is a customer's chat thread. Messages are kept in insertion
// order, which is also delivery order.
type Conversation struct {
	// ID is the conversation UUID.
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	// OwnerID is the customer that owns the conversation.
	OwnerID string `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	// Name is an optional display name.
	Name *string `gorm:"type:text" json:"name,omitempty"`
	// LastMessageID is the sequence counter for the conversation's messages.
	LastMessageID uint64    `gorm:"not null;default:0" json:"last_message_id"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`

	Messages []Message `gorm:"foreignKey:ConversationID;references:ID" json:"messages"`
}

// SenderType classifies who wrote a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderStaff    SenderType = "staff"
	SenderAI       SenderType = "ai"
)

// Valid reports whether s is one of the known sender classes.
func (s SenderType) Valid() bool {
	switch s {
	case SenderCustomer, SenderStaff, SenderAI:
		return true
	}
	return false
}

// Message is a single entry in a conversation. The pair (ConversationID, ID)
// is the primary key; IDs are assigned by the store, starting at 1 for every
// conversation. Only IsRead may change after creation, and only to true.
type Message struct {
	ConversationID string     `gorm:"primaryKey;type:varchar(36)" json:"conversation_id"`
	ID             uint64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Sender         SenderType `gorm:"type:varchar(16);not null" json:"sender"`
	// SenderID is nil for AI messages.
	SenderID  *string   `gorm:"type:varchar(64)" json:"sender_id,omitempty"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	IsRead    bool      `gorm:"not null;default:false" json:"is_read"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

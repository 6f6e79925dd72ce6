package models

import "time"

// RequestStatus is the lifecycle state of a SupportRequest.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusResolved RequestStatus = "resolved"
)

// SupportRequest records a customer asking for a human within a conversation.
// At most one request per conversation may be non-resolved at a time; this is
// enforced by a partial unique index created in storage.Migrate.
type SupportRequest struct {
	ID             string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConversationID string        `gorm:"type:varchar(36);not null;index" json:"conversation_id"`
	CustomerID     string        `gorm:"type:varchar(64);not null" json:"customer_id"`
	Reason         *string       `gorm:"type:text" json:"reason,omitempty"`
	Status         RequestStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	// StaffID is set once the request leaves Pending.
	StaffID    *string    `gorm:"type:varchar(64);index" json:"staff_id,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// IsOpen reports whether the request still blocks a new one for its conversation.
func (r *SupportRequest) IsOpen() bool {
	return r.Status == StatusPending || r.Status == StatusAccepted
}

// AcceptedBy reports whether staffID is the recorded acceptor.
func (r *SupportRequest) AcceptedBy(staffID string) bool {
	return r.StaffID != nil && *r.StaffID == staffID
}

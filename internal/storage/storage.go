package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"supportchat/backend/internal/apperr"
	"supportchat/backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Storage is the Message Store and Support Request Ledger. It is the single
// source of truth; push delivery is only a hint on top of it.
type Storage interface {
	CreateConversation(ctx context.Context, ownerID string, name *string) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string, withMessages bool) (*models.Conversation, error)
	ListConversations(ctx context.Context, ownerID string, withMessages bool) ([]models.Conversation, error)

	AppendMessage(ctx context.Context, conversationID string, sender models.SenderType, senderID *string, content string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string, sinceID uint64) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID string, upToID uint64, senders []models.SenderType) (int64, error)

	CreateSupportRequest(ctx context.Context, conversationID, customerID string, reason *string) (*models.SupportRequest, error)
	GetSupportRequest(ctx context.Context, requestID string) (*models.SupportRequest, error)
	ActiveSupportRequest(ctx context.Context, conversationID string) (*models.SupportRequest, error)
	ListSupportRequests(ctx context.Context, status models.RequestStatus) ([]models.SupportRequest, error)
	ListStaffRequests(ctx context.Context, staffID string, status models.RequestStatus) ([]models.SupportRequest, error)
	AcceptSupportRequest(ctx context.Context, requestID, staffID string) (*models.SupportRequest, error)
	ResolveSupportRequest(ctx context.Context, requestID, staffID string, override bool) (*models.SupportRequest, error)
	RevertSupportRequest(ctx context.Context, requestID, staffID string) (*models.SupportRequest, error)
}

// Service implements Storage on top of gorm.
type Service struct {
	DB *gorm.DB

	convLocks *KeyedMutex
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{
		DB:        db,
		convLocks: NewKeyedMutex(),
	}
}

func now() time.Time {
	return time.Now().UTC()
}

// CreateConversation always succeeds for a valid database; the id is fresh.
func (s *Service) CreateConversation(ctx context.Context, ownerID string, name *string) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: now(),
		Messages:  []models.Message{},
	}
	if err := s.DB.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func orderedMessages(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

// GetConversation loads one conversation, optionally with its messages in id order.
func (s *Service) GetConversation(ctx context.Context, conversationID string, withMessages bool) (*models.Conversation, error) {
	var conv models.Conversation
	q := s.DB.WithContext(ctx)
	if withMessages {
		q = q.Preload("Messages", orderedMessages)
	}
	if err := q.Where("id = ?", conversationID).First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get conversation %s: %w", conversationID, err)
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	return &conv, nil
}

// ListConversations returns the conversations of ownerID, or all of them when
// ownerID is empty, newest first.
func (s *Service) ListConversations(ctx context.Context, ownerID string, withMessages bool) ([]models.Conversation, error) {
	convs := []models.Conversation{}
	q := s.DB.WithContext(ctx).Order("created_at DESC")
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	if withMessages {
		q = q.Preload("Messages", orderedMessages)
	}
	if err := q.Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	for i := range convs {
		if convs[i].Messages == nil {
			convs[i].Messages = []models.Message{}
		}
	}
	return convs, nil
}

// AppendMessage assigns the next sequence id of the conversation and stores
// the message. Appends to one conversation are serialized twice: by an
// in-process lock and by the row update on conversations.last_message_id,
// which PostgreSQL holds until commit.
func (s *Service) AppendMessage(ctx context.Context, conversationID string, sender models.SenderType, senderID *string, content string) (*models.Message, error) {
	if !sender.Valid() {
		return nil, fmt.Errorf("sender %q: %w", sender, apperr.ErrInvalidState)
	}
	if sender == models.SenderAI {
		senderID = nil
	}

	unlock := s.convLocks.Lock(conversationID)
	defer unlock()

	var msg models.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			UpdateColumn("last_message_id", gorm.Expr("last_message_id + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrNotFound
		}

		var seq uint64
		if err := tx.Model(&models.Conversation{}).
			Select("last_message_id").
			Where("id = ?", conversationID).
			Row().Scan(&seq); err != nil {
			return err
		}

		msg = models.Message{
			ConversationID: conversationID,
			ID:             seq,
			Sender:         sender,
			SenderID:       senderID,
			Content:        content,
			CreatedAt:      now(),
		}
		return tx.Create(&msg).Error
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to append message to %s: %w", conversationID, err)
	}
	return &msg, nil
}

// ListMessages returns every message with id > sinceID in id order. A zero
// sinceID returns the whole conversation.
func (s *Service) ListMessages(ctx context.Context, conversationID string, sinceID uint64) ([]models.Message, error) {
	if err := s.conversationExists(ctx, conversationID); err != nil {
		return nil, err
	}

	msgs := []models.Message{}
	if err := s.DB.WithContext(ctx).
		Where("conversation_id = ? AND id > ?", conversationID, sinceID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages for %s: %w", conversationID, err)
	}
	return msgs, nil
}

// MarkRead sets the read flag on messages up to upToID written by one of
// senders. Already-read messages are left untouched and nothing is ever
// un-read. It returns the number of messages that changed.
func (s *Service) MarkRead(ctx context.Context, conversationID string, upToID uint64, senders []models.SenderType) (int64, error) {
	if err := s.conversationExists(ctx, conversationID); err != nil {
		return 0, err
	}
	if len(senders) == 0 {
		return 0, nil
	}

	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND id <= ? AND is_read = ? AND sender IN ?", conversationID, upToID, false, senders).
		UpdateColumn("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read in %s: %w", conversationID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Service) conversationExists(ctx context.Context, conversationID string) error {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to look up conversation %s: %w", conversationID, err)
	}
	if count == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, apperr.ErrNotFound)
	}
	return nil
}

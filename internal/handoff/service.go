// Package handoff implements the support chat hand-off: customers talk to the
// AI assistant, may ask for a human, one staff member claims the request, and
// resolving it returns the conversation to the assistant.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"supportchat/backend/internal/apperr"
	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/delivery"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
)

// Hub is the membership side of the push channel.
type Hub interface {
	Join(connID, conversationID string) error
	Leave(connID, conversationID string)
	JoinUser(userID, conversationID string) int
	SendTo(connID string, ev models.Event) bool
	OfflineSince(userID string) (time.Time, bool)
}

// Notifier is told about queue changes staff should hear about out of band.
type Notifier interface {
	SupportRequestCreated(req *models.SupportRequest)
	SupportRequestReverted(req *models.SupportRequest)
}

// SendLimiter throttles message sends per user.
type SendLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Service is the entry point for every chat and hand-off operation. The
// store is written first; push notifications follow and may be lost.
type Service struct {
	Storage  storage.Storage
	Delivery *delivery.Coordinator
	Hub      Hub
	Notifier Notifier    // optional
	Limiter  SendLimiter // optional

	activityMu sync.Mutex
	activity   map[string]time.Time

	// sendLocks holds a conversation from append until its push is queued,
	// so room members receive messages in id order.
	sendLocks *storage.KeyedMutex
}

// NewService wires the hand-off service.
func NewService(s storage.Storage, d *delivery.Coordinator, hub Hub) *Service {
	return &Service{
		Storage:   s,
		Delivery:  d,
		Hub:       hub,
		activity:  make(map[string]time.Time),
		sendLocks: storage.NewKeyedMutex(),
	}
}

func (s *Service) touch(actor auth.Identity) {
	if !actor.IsStaff() {
		return
	}
	s.activityMu.Lock()
	s.activity[actor.UserID] = time.Now()
	s.activityMu.Unlock()
}

// LastActivity returns when a staff member last acted through the service.
func (s *Service) LastActivity(userID string) time.Time {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	return s.activity[userID]
}

// StartConversation opens a new conversation owned by a customer.
func (s *Service) StartConversation(ctx context.Context, actor auth.Identity, name string) (*models.Conversation, error) {
	if actor.Role != auth.RoleCustomer {
		return nil, fmt.Errorf("only customers start conversations: %w", apperr.ErrUnauthorized)
	}
	var namePtr *string
	if name = strings.TrimSpace(name); name != "" {
		namePtr = &name
	}
	return s.Storage.CreateConversation(ctx, actor.UserID, namePtr)
}

// authorizeView loads a conversation the actor may read.
func (s *Service) authorizeView(ctx context.Context, actor auth.Identity, conversationID string) (*models.Conversation, error) {
	conv, err := s.Storage.GetConversation(ctx, conversationID, false)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RoleCustomer && conv.OwnerID != actor.UserID {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, apperr.ErrUnauthorized)
	}
	return conv, nil
}

// ListConversations returns the actor's own conversations, or all of them for
// staff, admins and the assistant, with messages embedded.
func (s *Service) ListConversations(ctx context.Context, actor auth.Identity) ([]models.Conversation, error) {
	ownerID := ""
	if actor.Role == auth.RoleCustomer {
		ownerID = actor.UserID
	}
	return s.Storage.ListConversations(ctx, ownerID, true)
}

// GetConversation returns one conversation with its messages.
func (s *Service) GetConversation(ctx context.Context, actor auth.Identity, conversationID string) (*models.Conversation, error) {
	if _, err := s.authorizeView(ctx, actor, conversationID); err != nil {
		return nil, err
	}
	return s.Storage.GetConversation(ctx, conversationID, true)
}

// SendMessage appends a message on behalf of actor and announces it.
//
// Customers write to their own conversations. Staff write only while they
// hold the conversation's Accepted request; admins always may. The assistant
// writes only while the conversation is not handed off.
func (s *Service) SendMessage(ctx context.Context, actor auth.Identity, conversationID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty message: %w", apperr.ErrInvalidState)
	}
	if utf8.RuneCountInString(content) > config.MaxMessageLength {
		return nil, fmt.Errorf("message longer than %d characters: %w", config.MaxMessageLength, apperr.ErrInvalidState)
	}
	if _, err := s.authorizeView(ctx, actor, conversationID); err != nil {
		return nil, err
	}

	sender, err := s.senderFor(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRate(ctx, actor); err != nil {
		return nil, err
	}

	var senderID *string
	if sender != models.SenderAI {
		id := actor.UserID
		senderID = &id
	}
	unlock := s.sendLocks.Lock(conversationID)
	defer unlock()
	msg, err := s.Storage.AppendMessage(ctx, conversationID, sender, senderID, content)
	if err != nil {
		return nil, err
	}
	s.touch(actor)
	s.Delivery.MessageAppended(ctx, msg)
	return msg, nil
}

func (s *Service) senderFor(ctx context.Context, actor auth.Identity, conversationID string) (models.SenderType, error) {
	switch actor.Role {
	case auth.RoleCustomer:
		return models.SenderCustomer, nil
	case auth.RoleAdmin:
		return models.SenderStaff, nil
	case auth.RoleStaff:
		req, err := s.Storage.ActiveSupportRequest(ctx, conversationID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return "", err
		}
		if req == nil || req.Status != models.StatusAccepted || !req.AcceptedBy(actor.UserID) {
			return "", fmt.Errorf("conversation %s is not assigned to %s: %w", conversationID, actor.UserID, apperr.ErrUnauthorized)
		}
		return models.SenderStaff, nil
	case auth.RoleAssistant:
		req, err := s.Storage.ActiveSupportRequest(ctx, conversationID)
		if err == nil {
			return "", fmt.Errorf("conversation %s is handed off (%s): %w", conversationID, req.Status, apperr.ErrInvalidState)
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return "", err
		}
		return models.SenderAI, nil
	}
	return "", fmt.Errorf("role %q: %w", actor.Role, apperr.ErrUnauthorized)
}

func (s *Service) checkRate(ctx context.Context, actor auth.Identity) error {
	if s.Limiter == nil || actor.Role == auth.RoleAssistant {
		return nil
	}
	ok, err := s.Limiter.Allow(ctx, actor.UserID)
	if err != nil {
		log.Printf("WARNING: [handoff] rate limiter unavailable, allowing %s: %v", actor.UserID, err)
		return nil
	}
	if !ok {
		return fmt.Errorf("too many messages from %s: %w", actor.UserID, apperr.ErrRateLimited)
	}
	return nil
}

// ListMessages returns messages with id > sinceID, the REST half of delivery.
func (s *Service) ListMessages(ctx context.Context, actor auth.Identity, conversationID string, sinceID uint64) ([]models.Message, error) {
	if _, err := s.authorizeView(ctx, actor, conversationID); err != nil {
		return nil, err
	}
	return s.Storage.ListMessages(ctx, conversationID, sinceID)
}

// addressedTo lists the sender classes whose messages a role reads.
func addressedTo(role auth.Role) []models.SenderType {
	if role == auth.RoleCustomer {
		return []models.SenderType{models.SenderStaff, models.SenderAI}
	}
	return []models.SenderType{models.SenderCustomer}
}

// MarkRead marks messages addressed to the actor up to upToID as read.
func (s *Service) MarkRead(ctx context.Context, actor auth.Identity, conversationID string, upToID uint64) (int64, error) {
	if _, err := s.authorizeView(ctx, actor, conversationID); err != nil {
		return 0, err
	}
	return s.Storage.MarkRead(ctx, conversationID, upToID, addressedTo(actor.Role))
}

// RequestSupport opens a Pending hand-off request for the customer's conversation.
func (s *Service) RequestSupport(ctx context.Context, actor auth.Identity, conversationID, reason string) (*models.SupportRequest, error) {
	if actor.Role != auth.RoleCustomer {
		return nil, fmt.Errorf("only customers request support: %w", apperr.ErrUnauthorized)
	}
	if _, err := s.authorizeView(ctx, actor, conversationID); err != nil {
		return nil, err
	}

	var reasonPtr *string
	if reason = strings.TrimSpace(reason); reason != "" {
		if utf8.RuneCountInString(reason) > config.MaxReasonLength {
			return nil, fmt.Errorf("reason longer than %d characters: %w", config.MaxReasonLength, apperr.ErrInvalidState)
		}
		reasonPtr = &reason
	}

	req, err := s.Storage.CreateSupportRequest(ctx, conversationID, actor.UserID, reasonPtr)
	if err != nil {
		return nil, err
	}
	log.Printf("[handoff] support request %s created for conversation %s", req.ID, conversationID)
	s.Delivery.RequestCreated(ctx, req)
	if s.Notifier != nil {
		s.Notifier.SupportRequestCreated(req)
	}
	return req, nil
}

// Accept claims a Pending request. Exactly one of any number of concurrent
// callers wins; the rest get apperr.ErrAlreadyAccepted and should refresh
// their pending list.
func (s *Service) Accept(ctx context.Context, actor auth.Identity, requestID string) (*models.SupportRequest, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("only staff accept support requests: %w", apperr.ErrUnauthorized)
	}
	s.touch(actor)

	req, err := s.Storage.AcceptSupportRequest(ctx, requestID, actor.UserID)
	if err != nil {
		return nil, err
	}
	log.Printf("[handoff] support request %s accepted by %s", req.ID, actor.UserID)
	s.Hub.JoinUser(actor.UserID, req.ConversationID)
	s.Delivery.RequestAccepted(ctx, req)
	return req, nil
}

// Resolve closes an Accepted request. Only the acceptor may resolve it,
// unless the actor is an admin.
func (s *Service) Resolve(ctx context.Context, actor auth.Identity, requestID string) (*models.SupportRequest, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("only staff resolve support requests: %w", apperr.ErrUnauthorized)
	}
	s.touch(actor)

	req, err := s.Storage.ResolveSupportRequest(ctx, requestID, actor.UserID, actor.Role == auth.RoleAdmin)
	if err != nil {
		return nil, err
	}
	log.Printf("[handoff] support request %s resolved by %s", req.ID, actor.UserID)
	s.Delivery.RequestResolved(ctx, req)
	return req, nil
}

// ListPending returns the requests waiting for a staff member.
func (s *Service) ListPending(ctx context.Context, actor auth.Identity) ([]models.SupportRequest, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("only staff list support requests: %w", apperr.ErrUnauthorized)
	}
	s.touch(actor)
	return s.Storage.ListSupportRequests(ctx, models.StatusPending)
}

// ListMine returns the requests the actor currently holds.
func (s *Service) ListMine(ctx context.Context, actor auth.Identity) ([]models.SupportRequest, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("only staff list support requests: %w", apperr.ErrUnauthorized)
	}
	s.touch(actor)
	return s.Storage.ListStaffRequests(ctx, actor.UserID, models.StatusAccepted)
}

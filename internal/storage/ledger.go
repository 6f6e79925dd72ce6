package storage

import (
	"context"
	"errors"
	"fmt"

	"supportchat/backend/internal/apperr"
	"supportchat/backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateSupportRequest opens a Pending request. It fails with ErrInvalidState
// while another request of the same conversation is Pending or Accepted.
func (s *Service) CreateSupportRequest(ctx context.Context, conversationID, customerID string, reason *string) (*models.SupportRequest, error) {
	unlock := s.convLocks.Lock(conversationID)
	defer unlock()

	req := &models.SupportRequest{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		CustomerID:     customerID,
		Reason:         reason,
		Status:         models.StatusPending,
		CreatedAt:      now(),
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var convCount int64
		if err := tx.Model(&models.Conversation{}).Where("id = ?", conversationID).Count(&convCount).Error; err != nil {
			return err
		}
		if convCount == 0 {
			return apperr.ErrNotFound
		}

		var open int64
		if err := tx.Model(&models.SupportRequest{}).
			Where("conversation_id = ? AND status IN ?", conversationID, openStatuses).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return apperr.ErrInvalidState
		}
		return tx.Create(req).Error
	})
	switch {
	case err == nil:
		return req, nil
	case errors.Is(err, apperr.ErrNotFound):
		return nil, fmt.Errorf("conversation %s: %w", conversationID, apperr.ErrNotFound)
	case errors.Is(err, apperr.ErrInvalidState), errors.Is(err, gorm.ErrDuplicatedKey):
		return nil, fmt.Errorf("conversation %s already has an open support request: %w", conversationID, apperr.ErrInvalidState)
	default:
		return nil, fmt.Errorf("failed to create support request: %w", err)
	}
}

var openStatuses = []models.RequestStatus{models.StatusPending, models.StatusAccepted}

// GetSupportRequest loads a request by id.
func (s *Service) GetSupportRequest(ctx context.Context, requestID string) (*models.SupportRequest, error) {
	var req models.SupportRequest
	if err := s.DB.WithContext(ctx).Where("id = ?", requestID).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("support request %s: %w", requestID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get support request %s: %w", requestID, err)
	}
	return &req, nil
}

// ActiveSupportRequest returns the Pending or Accepted request of a
// conversation, or ErrNotFound when the conversation is AI-eligible.
func (s *Service) ActiveSupportRequest(ctx context.Context, conversationID string) (*models.SupportRequest, error) {
	var req models.SupportRequest
	err := s.DB.WithContext(ctx).
		Where("conversation_id = ? AND status IN ?", conversationID, openStatuses).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no open support request for %s: %w", conversationID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open support request for %s: %w", conversationID, err)
	}
	return &req, nil
}

// ListSupportRequests returns requests in the given status, oldest first.
func (s *Service) ListSupportRequests(ctx context.Context, status models.RequestStatus) ([]models.SupportRequest, error) {
	reqs := []models.SupportRequest{}
	if err := s.DB.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s support requests: %w", status, err)
	}
	return reqs, nil
}

// ListStaffRequests returns requests accepted by staffID in the given status.
func (s *Service) ListStaffRequests(ctx context.Context, staffID string, status models.RequestStatus) ([]models.SupportRequest, error) {
	reqs := []models.SupportRequest{}
	if err := s.DB.WithContext(ctx).
		Where("staff_id = ? AND status = ?", staffID, status).
		Order("accepted_at ASC").
		Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to list support requests of %s: %w", staffID, err)
	}
	return reqs, nil
}

// AcceptSupportRequest is the compare-and-swap Pending -> Accepted. Of any
// number of concurrent callers exactly one updates the row; the others get
// ErrAlreadyAccepted.
func (s *Service) AcceptSupportRequest(ctx context.Context, requestID, staffID string) (*models.SupportRequest, error) {
	res := s.DB.WithContext(ctx).Model(&models.SupportRequest{}).
		Where("id = ? AND status = ?", requestID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":      models.StatusAccepted,
			"staff_id":    staffID,
			"accepted_at": now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to accept support request %s: %w", requestID, res.Error)
	}

	req, err := s.GetSupportRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 1 {
		return req, nil
	}

	switch req.Status {
	case models.StatusAccepted:
		return req, fmt.Errorf("support request %s: %w", requestID, apperr.ErrAlreadyAccepted)
	default:
		return req, fmt.Errorf("support request %s is %s: %w", requestID, req.Status, apperr.ErrInvalidState)
	}
}

// ResolveSupportRequest moves an Accepted request to Resolved. Only the
// acceptor may resolve unless override is set.
func (s *Service) ResolveSupportRequest(ctx context.Context, requestID, staffID string, override bool) (*models.SupportRequest, error) {
	q := s.DB.WithContext(ctx).Model(&models.SupportRequest{}).
		Where("id = ? AND status = ?", requestID, models.StatusAccepted)
	if !override {
		q = q.Where("staff_id = ?", staffID)
	}
	res := q.Updates(map[string]interface{}{
		"status":      models.StatusResolved,
		"resolved_at": now(),
	})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to resolve support request %s: %w", requestID, res.Error)
	}

	req, err := s.GetSupportRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 1 {
		return req, nil
	}

	if req.Status == models.StatusAccepted {
		return req, fmt.Errorf("support request %s belongs to another staff member: %w", requestID, apperr.ErrUnauthorized)
	}
	return req, fmt.Errorf("support request %s is %s: %w", requestID, req.Status, apperr.ErrInvalidState)
}

// RevertSupportRequest hands an Accepted request back to the Pending pool.
// It only succeeds while staffID is still the acceptor.
func (s *Service) RevertSupportRequest(ctx context.Context, requestID, staffID string) (*models.SupportRequest, error) {
	res := s.DB.WithContext(ctx).Model(&models.SupportRequest{}).
		Where("id = ? AND status = ? AND staff_id = ?", requestID, models.StatusAccepted, staffID).
		Updates(map[string]interface{}{
			"status":      models.StatusPending,
			"staff_id":    nil,
			"accepted_at": nil,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to revert support request %s: %w", requestID, res.Error)
	}

	req, err := s.GetSupportRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return req, fmt.Errorf("support request %s is no longer held by %s: %w", requestID, staffID, apperr.ErrInvalidState)
	}
	return req, nil
}

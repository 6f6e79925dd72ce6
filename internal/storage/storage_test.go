package storage_test

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"

	"supportchat/backend/internal/apperr"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) (*storage.Service, *gorm.DB) {
	t.Helper()
	db, err := storage.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return storage.NewStorageService(db), db
}

func strPtr(s string) *string { return &s }

func TestAppendMessage_AssignsGaplessIDsPerConversation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	c1, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)
	c2, err := s.CreateConversation(ctx, "cust-2", strPtr("billing"))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		msg, err := s.AppendMessage(ctx, c1.ID, models.SenderCustomer, strPtr("cust-1"), fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), msg.ID)
	}
	msg, err := s.AppendMessage(ctx, c2.ID, models.SenderCustomer, strPtr("cust-2"), "hello")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.ID, "ids are per conversation")

	conv, err := s.GetConversation(ctx, c1.ID, true)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "m1", conv.Messages[0].Content)
	assert.Equal(t, "m3", conv.Messages[2].Content)
	assert.Equal(t, uint64(3), conv.LastMessageID)
}

func TestAppendMessage_ConcurrentAppendsGetDistinctIDs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)

	const writers = 20
	ids := make([]uint64, writers)
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			msg, err := s.AppendMessage(ctx, conv.ID, models.SenderCustomer, strPtr("cust-1"), fmt.Sprintf("w%d", i))
			if err != nil {
				return err
			}
			ids[i] = msg.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	for i, id := range ids {
		assert.Equal(t, uint64(i+1), id)
	}
}

func TestAppendMessage_Errors(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendMessage(ctx, "missing", models.SenderCustomer, strPtr("x"), "hi")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	conv, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, models.SenderType("robot"), nil, "hi")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestAppendMessage_AIMessagesHaveNoSender(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)

	msg, err := s.AppendMessage(ctx, conv.ID, models.SenderAI, strPtr("bot"), "How can I help?")
	require.NoError(t, err)
	assert.Nil(t, msg.SenderID)
}

func TestListMessages_Since(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, conv.ID, models.SenderCustomer, strPtr("cust-1"), "x")
		require.NoError(t, err)
	}

	all, err := s.ListMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	tail, err := s.ListMessages(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(4), tail[0].ID)
	assert.Equal(t, uint64(5), tail[1].ID)

	none, err := s.ListMessages(ctx, conv.ID, 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.ListMessages(ctx, "missing", 0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMarkRead_OnlyAddressedMessagesAndNeverUnread(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, conv.ID, models.SenderCustomer, strPtr("cust-1"), "hi")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, models.SenderAI, nil, "hello")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, models.SenderStaff, strPtr("staff-1"), "human here")
	require.NoError(t, err)

	customerReads := []models.SenderType{models.SenderStaff, models.SenderAI}
	n, err := s.MarkRead(ctx, conv.ID, 2, customerReads)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.MarkRead(ctx, conv.ID, 3, customerReads)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "already-read messages are not counted again")

	n, err = s.MarkRead(ctx, conv.ID, 1, customerReads)
	require.NoError(t, err)
	assert.Zero(t, n)

	msgs, err := s.ListMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	assert.False(t, msgs[0].IsRead, "customer's own message stays unread")
	assert.True(t, msgs[1].IsRead)
	assert.True(t, msgs[2].IsRead)
}

func TestListConversations_FiltersByOwner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, "cust-2", nil)
	require.NoError(t, err)

	mine, err := s.ListConversations(ctx, "cust-1", true)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	for _, c := range mine {
		assert.NotNil(t, c.Messages)
	}

	all, err := s.ListConversations(ctx, "", false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGetConversation_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetConversation(context.Background(), "missing", true)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateSupportRequest_AtMostOneOpenPerConversation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)

	req, err := s.CreateSupportRequest(ctx, conv.ID, "cust-1", strPtr("refund"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Nil(t, req.StaffID)

	_, err = s.CreateSupportRequest(ctx, conv.ID, "cust-1", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = s.AcceptSupportRequest(ctx, req.ID, "staff-1")
	require.NoError(t, err)
	_, err = s.CreateSupportRequest(ctx, conv.ID, "cust-1", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "an accepted request still blocks")

	_, err = s.ResolveSupportRequest(ctx, req.ID, "staff-1", false)
	require.NoError(t, err)
	again, err := s.CreateSupportRequest(ctx, conv.ID, "cust-1", nil)
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, again.ID)
}

func TestCreateSupportRequest_ConcurrentCallsOpenOne(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)

	var created, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := s.CreateSupportRequest(ctx, conv.ID, "cust-1", nil)
			switch {
			case err == nil:
				created.Add(1)
			case assert.ErrorIs(t, err, apperr.ErrInvalidState):
				rejected.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(7), rejected.Load())
}

func TestCreateSupportRequest_UnknownConversation(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.CreateSupportRequest(context.Background(), "missing", "cust-1", nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMigrate_IndexRejectsSecondOpenRequest(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)
	_, err = s.CreateSupportRequest(ctx, conv.ID, "cust-1", nil)
	require.NoError(t, err)

	err = db.Create(&models.SupportRequest{
		ID:             "bypass",
		ConversationID: conv.ID,
		CustomerID:     "cust-1",
		Status:         models.StatusPending,
	}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestAcceptSupportRequest_ExactlyOneWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)
	req, err := s.CreateSupportRequest(ctx, conv.ID, "cust-1", nil)
	require.NoError(t, err)

	const staff = 10
	var winners, losers atomic.Int32
	var winner atomic.Value
	var g errgroup.Group
	for i := 0; i < staff; i++ {
		staffID := fmt.Sprintf("staff-%d", i)
		g.Go(func() error {
			_, err := s.AcceptSupportRequest(ctx, req.ID, staffID)
			switch {
			case err == nil:
				winners.Add(1)
				winner.Store(staffID)
			case assert.ErrorIs(t, err, apperr.ErrAlreadyAccepted):
				losers.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(staff-1), losers.Load())

	stored, err := s.GetSupportRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, stored.Status)
	assert.True(t, stored.AcceptedBy(winner.Load().(string)))
	assert.NotNil(t, stored.AcceptedAt)
}

func TestAcceptSupportRequest_InvalidTransitions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)
	req, err := s.CreateSupportRequest(ctx, conv.ID, "cust-1", nil)
	require.NoError(t, err)

	_, err = s.AcceptSupportRequest(ctx, "missing", "staff-1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.AcceptSupportRequest(ctx, req.ID, "staff-1")
	require.NoError(t, err)
	_, err = s.AcceptSupportRequest(ctx, req.ID, "staff-1")
	assert.ErrorIs(t, err, apperr.ErrAlreadyAccepted, "re-accepting is not a no-op")

	_, err = s.ResolveSupportRequest(ctx, req.ID, "staff-1", false)
	require.NoError(t, err)
	_, err = s.AcceptSupportRequest(ctx, req.ID, "staff-2")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestResolveSupportRequest_Rules(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)
	req, err := s.CreateSupportRequest(ctx, conv.ID, "cust-1", nil)
	require.NoError(t, err)

	_, err = s.ResolveSupportRequest(ctx, req.ID, "staff-1", false)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "pending cannot be resolved")

	_, err = s.AcceptSupportRequest(ctx, req.ID, "staff-1")
	require.NoError(t, err)

	_, err = s.ResolveSupportRequest(ctx, req.ID, "staff-2", false)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	resolved, err := s.ResolveSupportRequest(ctx, req.ID, "admin-1", true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.True(t, resolved.AcceptedBy("staff-1"), "override keeps the acceptor")

	_, err = s.ResolveSupportRequest(ctx, req.ID, "staff-1", false)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = s.ResolveSupportRequest(ctx, "missing", "staff-1", true)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRevertSupportRequest(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)
	req, err := s.CreateSupportRequest(ctx, conv.ID, "cust-1", nil)
	require.NoError(t, err)
	_, err = s.AcceptSupportRequest(ctx, req.ID, "staff-1")
	require.NoError(t, err)

	_, err = s.RevertSupportRequest(ctx, req.ID, "staff-2")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	reverted, err := s.RevertSupportRequest(ctx, req.ID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reverted.Status)
	assert.Nil(t, reverted.StaffID)
	assert.Nil(t, reverted.AcceptedAt)

	again, err := s.AcceptSupportRequest(ctx, req.ID, "staff-2")
	require.NoError(t, err)
	assert.True(t, again.AcceptedBy("staff-2"))
}

func TestActiveAndListSupportRequests(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	c1, err := s.CreateConversation(ctx, "cust-1", nil)
	require.NoError(t, err)
	c2, err := s.CreateConversation(ctx, "cust-2", nil)
	require.NoError(t, err)

	_, err = s.ActiveSupportRequest(ctx, c1.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	r1, err := s.CreateSupportRequest(ctx, c1.ID, "cust-1", nil)
	require.NoError(t, err)
	r2, err := s.CreateSupportRequest(ctx, c2.ID, "cust-2", nil)
	require.NoError(t, err)
	_, err = s.AcceptSupportRequest(ctx, r2.ID, "staff-1")
	require.NoError(t, err)

	active, err := s.ActiveSupportRequest(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, r1.ID, active.ID)

	pending, err := s.ListSupportRequests(ctx, models.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, r1.ID, pending[0].ID)

	mine, err := s.ListStaffRequests(ctx, "staff-1", models.StatusAccepted)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, r2.ID, mine[0].ID)

	others, err := s.ListStaffRequests(ctx, "staff-2", models.StatusAccepted)
	require.NoError(t, err)
	assert.Empty(t, others)
}

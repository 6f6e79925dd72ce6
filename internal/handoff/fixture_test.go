package handoff_test

import (
	"context"
	"testing"
	"time"

	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/delivery"
	"supportchat/backend/internal/handoff"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	customer  = auth.Identity{UserID: "cust-1", Role: auth.RoleCustomer}
	stranger  = auth.Identity{UserID: "cust-2", Role: auth.RoleCustomer}
	staffA    = auth.Identity{UserID: "staff-a", Role: auth.RoleStaff}
	staffB    = auth.Identity{UserID: "staff-b", Role: auth.RoleStaff}
	admin     = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}
	assistant = auth.Identity{UserID: "ai-service", Role: auth.RoleAssistant}
)

// testClient is a push connection that only queues events.
type testClient struct {
	connID string
	userID string
	role   string
	send   chan models.Event
}

func newTestClient(connID string, who auth.Identity) *testClient {
	return &testClient{connID: connID, userID: who.UserID, role: string(who.Role), send: make(chan models.Event, 64)}
}

func (c *testClient) GetConnID() string                 { return c.connID }
func (c *testClient) GetUserID() string                 { return c.userID }
func (c *testClient) GetRole() string                   { return c.role }
func (c *testClient) GetSendChannel() chan models.Event { return c.send }
func (c *testClient) Run()                              {}
func (c *testClient) Close()                            {}

func (c *testClient) drain() []models.Event {
	var out []models.Event
	for {
		select {
		case ev := <-c.send:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (c *testClient) eventTypes() []models.EventType {
	var out []models.EventType
	for _, ev := range c.drain() {
		out = append(out, ev.Type)
	}
	return out
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SupportRequestCreated(req *models.SupportRequest) {
	m.Called(req)
}

func (m *MockNotifier) SupportRequestReverted(req *models.SupportRequest) {
	m.Called(req)
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *stubLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

type fixture struct {
	svc   *handoff.Service
	hub   *chathub.ManagerService
	store *storage.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	store := storage.NewStorageService(db)
	hub := chathub.NewManagerService(nil)
	svc := handoff.NewService(store, delivery.NewCoordinator(hub), hub)
	return &fixture{svc: svc, hub: hub, store: store}
}

func (f *fixture) connect(t *testing.T, connID string, who auth.Identity) *testClient {
	t.Helper()
	c := newTestClient(connID, who)
	f.hub.Register(c)
	return c
}

func (f *fixture) conversation(t *testing.T) *models.Conversation {
	t.Helper()
	conv, err := f.svc.StartConversation(context.Background(), customer, "")
	require.NoError(t, err)
	return conv
}

// stallingStore pauses after appending a message with content stallOn,
// before the caller gets to announce it. appended is closed at that point.
type stallingStore struct {
	storage.Storage
	stallOn  string
	stall    time.Duration
	appended chan struct{}
}

func (s *stallingStore) AppendMessage(ctx context.Context, conversationID string, sender models.SenderType, senderID *string, content string) (*models.Message, error) {
	msg, err := s.Storage.AppendMessage(ctx, conversationID, sender, senderID, content)
	if content == s.stallOn {
		close(s.appended)
		time.Sleep(s.stall)
	}
	return msg, err
}

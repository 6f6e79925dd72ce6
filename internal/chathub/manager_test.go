package chathub_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"supportchat/backend/internal/apperr"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgEvent(convID string, id uint64) models.Event {
	return models.Event{
		Type:           models.EventMessageReceived,
		ConversationID: convID,
		Message:        &models.Message{ConversationID: convID, ID: id},
	}
}

func TestManager_RegisterUnregister(t *testing.T) {
	hub := chathub.NewManagerService(nil)
	client := newMockClient("conn-1", "user_A", "customer")

	hub.Register(client)
	assert.Equal(t, 1, hub.ClientCount())
	_, offline := hub.OfflineSince("user_A")
	assert.False(t, offline)

	require.NoError(t, hub.Join("conn-1", "room1"))
	assert.True(t, hub.IsMember("conn-1", "room1"))

	hub.Unregister(client)
	hub.Unregister(client)
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0, hub.RoomClientCount("room1"))
	assert.True(t, client.closed.Load())

	since, offline := hub.OfflineSince("user_A")
	assert.True(t, offline)
	assert.WithinDuration(t, time.Now(), since, time.Second)
}

func TestManager_OfflineSinceUnknownUser(t *testing.T) {
	before := time.Now()
	hub := chathub.NewManagerService(nil)

	since, offline := hub.OfflineSince("never-seen")
	assert.True(t, offline)
	assert.False(t, since.Before(before))
}

func TestManager_JoinUnknownConnection(t *testing.T) {
	hub := chathub.NewManagerService(nil)
	err := hub.Join("ghost", "room1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestManager_PublishReachesRoomMembersInOrder(t *testing.T) {
	hub := chathub.NewManagerService(nil)
	member := newMockClient("conn-1", "user_A", "customer")
	outsider := newMockClient("conn-2", "user_B", "customer")
	hub.Register(member)
	hub.Register(outsider)
	require.NoError(t, hub.Join("conn-1", "room1"))
	require.NoError(t, hub.Join("conn-1", "room1"))

	ctx := context.Background()
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, hub.Publish(ctx, "room1", msgEvent("room1", i)))
	}

	got := member.drain()
	require.Len(t, got, 3, "joining twice must not duplicate delivery")
	for i, ev := range got {
		assert.Equal(t, uint64(i+1), ev.Message.ID)
	}
	assert.Empty(t, outsider.drain())
}

func TestManager_PublishWithoutListeners(t *testing.T) {
	hub := chathub.NewManagerService(nil)
	err := hub.Publish(context.Background(), "empty-room", msgEvent("empty-room", 1))
	assert.Equal(t, apperr.ErrTransportUnavailable, err)
}

func TestManager_LeaveStopsDelivery(t *testing.T) {
	hub := chathub.NewManagerService(nil)
	client := newMockClient("conn-1", "user_A", "customer")
	hub.Register(client)
	require.NoError(t, hub.Join("conn-1", "room1"))
	require.NoError(t, hub.Join("conn-1", "room2"))

	hub.Leave("conn-1", "room1")
	assert.ElementsMatch(t, []string{"room2"}, hub.Rooms("conn-1"))

	hub.Publish(context.Background(), "room1", msgEvent("room1", 1))
	assert.Empty(t, client.drain())
}

func TestManager_JoinUserJoinsEveryConnection(t *testing.T) {
	hub := chathub.NewManagerService(nil)
	hub.Register(newMockClient("tab-1", "staff_1", "staff"))
	hub.Register(newMockClient("tab-2", "staff_1", "staff"))
	hub.Register(newMockClient("tab-3", "staff_2", "staff"))

	n := hub.JoinUser("staff_1", "room1")
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, hub.RoomClientCount("room1"))
	assert.False(t, hub.IsMember("tab-3", "room1"))

	assert.Zero(t, hub.JoinUser("offline_staff", "room1"))
}

func TestManager_PublishToRoles(t *testing.T) {
	hub := chathub.NewManagerService(nil)
	customer := newMockClient("c", "cust", "customer")
	staff := newMockClient("s", "staff", "staff")
	admin := newMockClient("a", "admin", "admin")
	hub.Register(customer)
	hub.Register(staff)
	hub.Register(admin)

	ev := models.Event{Type: models.EventRequestCreated, RequestID: "req-1"}
	require.NoError(t, hub.PublishToRoles(context.Background(), ev, "staff", "admin"))

	assert.Empty(t, customer.drain())
	assert.Len(t, staff.drain(), 1)
	assert.Len(t, admin.drain(), 1)
}

func TestManager_SlowSubscriberDropsOldest(t *testing.T) {
	hub := chathub.NewManagerService(nil)
	slow := newMockClientWithBuffer("conn-1", "user_A", "customer", 2)
	hub.Register(slow)
	require.NoError(t, hub.Join("conn-1", "room1"))

	ctx := context.Background()
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, hub.Publish(ctx, "room1", msgEvent("room1", i)))
	}

	got := slow.drain()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].Message.ID)
	assert.Equal(t, uint64(3), got[1].Message.ID)
	assert.Equal(t, int64(1), hub.Dropped())
}

func TestManager_SendTo(t *testing.T) {
	hub := chathub.NewManagerService(nil)
	client := newMockClient("conn-1", "user_A", "customer")
	hub.Register(client)

	assert.True(t, hub.SendTo("conn-1", models.Event{Type: models.EventAck}))
	assert.False(t, hub.SendTo("conn-2", models.Event{Type: models.EventAck}))
	assert.Len(t, client.drain(), 1)
}

func TestManager_RelayPublishAndFailure(t *testing.T) {
	relay := newFakeRelay()
	hub := chathub.NewManagerService(relay)

	// Nobody local, but another node may have listeners.
	require.NoError(t, hub.Publish(context.Background(), "room1", msgEvent("room1", 1)))
	envs := relay.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, hub.NodeID, envs[0].Origin)
	assert.Equal(t, chathub.ScopeRoom, envs[0].Scope)
	assert.Equal(t, "room1", envs[0].Target)

	relay.err = errors.New("redis down")
	err := hub.Publish(context.Background(), "room1", msgEvent("room1", 2))
	assert.ErrorIs(t, err, apperr.ErrTransportUnavailable)
	assert.NotEqual(t, apperr.ErrTransportUnavailable, err)
}

func TestManager_RelayedEventsFromOtherNodes(t *testing.T) {
	relay := newFakeRelay()
	hub := chathub.NewManagerService(relay)
	member := newMockClient("conn-1", "user_A", "customer")
	staff := newMockClient("conn-2", "staff_1", "staff")
	hub.Register(member)
	hub.Register(staff)
	require.NoError(t, hub.Join("conn-1", "room1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	relay.incoming <- chathub.RelayEnvelope{Origin: hub.NodeID, Scope: chathub.ScopeRoom, Target: "room1", Event: msgEvent("room1", 1)}
	relay.incoming <- chathub.RelayEnvelope{Origin: "other-node", Scope: chathub.ScopeRoom, Target: "room1", Event: msgEvent("room1", 2)}
	relay.incoming <- chathub.RelayEnvelope{Origin: "other-node", Scope: chathub.ScopeRole, Roles: []string{"staff"}, Event: models.Event{Type: models.EventRequestCreated}}

	assert.Eventually(t, func() bool { return len(staff.send) == 1 }, time.Second, 10*time.Millisecond)
	got := member.drain()
	require.Len(t, got, 1, "own envelopes are skipped")
	assert.Equal(t, uint64(2), got[0].Message.ID)

	cancel()
	<-done
	assert.True(t, member.closed.Load())
	assert.Equal(t, 0, hub.ClientCount())
}

func TestManager_ConcurrentPublishAndMembership(t *testing.T) {
	hub := chathub.NewManagerService(nil)
	for i := 0; i < 10; i++ {
		hub.Register(newMockClientWithBuffer(fmt.Sprintf("conn-%d", i), "user", "customer", 1))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Join(fmt.Sprintf("conn-%d", i%10), "room1")
			hub.Leave(fmt.Sprintf("conn-%d", (i+5)%10), "room1")
		}
	}()
	for i := uint64(0); i < 100; i++ {
		hub.Publish(context.Background(), "room1", msgEvent("room1", i))
	}
	<-done
}

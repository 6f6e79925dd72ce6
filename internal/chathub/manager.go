package chathub

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"supportchat/backend/internal/apperr"
	"supportchat/backend/internal/models"

	"github.com/google/uuid"
)

type set map[string]struct{}

func (s set) add(k string) { s[k] = struct{}{} }

func (s set) has(k string) bool {
	_, ok := s[k]
	return ok
}

// ManagerService is the push hub: it tracks connections and their room
// (conversation) memberships and fans events out to them. Memberships are
// ephemeral; the store stays authoritative, so losing them is harmless.
type ManagerService struct {
	mu       sync.Mutex
	clients  map[string]Client // connID -> client
	rooms    map[string]set    // conversationID -> connIDs
	memberOf map[string]set    // connID -> conversationIDs
	byUser   map[string]set    // userID -> connIDs
	lastSeen map[string]time.Time

	NodeID    string
	Relay     Relay
	startedAt time.Time
	dropped   atomic.Int64
}

// NewManagerService creates a hub. relay may be nil for a single node.
func NewManagerService(relay Relay) *ManagerService {
	return &ManagerService{
		clients:   make(map[string]Client),
		rooms:     make(map[string]set),
		memberOf:  make(map[string]set),
		byUser:    make(map[string]set),
		lastSeen:  make(map[string]time.Time),
		NodeID:    uuid.New().String(),
		Relay:     relay,
		startedAt: time.Now(),
	}
}

// Run listens on the relay (if any) until ctx is done and then closes every
// connection.
func (m *ManagerService) Run(ctx context.Context) {
	if m.Relay != nil {
		go m.listenRelay(ctx)
	}
	<-ctx.Done()
	log.Println("[hub] Shutting down...")
	m.closeAll()
}

func (m *ManagerService) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.clients {
		c.Close()
		delete(m.clients, id)
	}
	m.rooms = make(map[string]set)
	m.memberOf = make(map[string]set)
	m.byUser = make(map[string]set)
}

// Register adds a connection to the hub.
func (m *ManagerService) Register(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clients[c.GetConnID()] = c
	m.memberOf[c.GetConnID()] = make(set)
	if m.byUser[c.GetUserID()] == nil {
		m.byUser[c.GetUserID()] = make(set)
	}
	m.byUser[c.GetUserID()].add(c.GetConnID())
	log.Printf("[hub] Client %s (%s, %s) registered", c.GetConnID(), c.GetUserID(), c.GetRole())
}

// Unregister removes a connection and all of its room memberships. It is
// safe to call more than once.
func (m *ManagerService) Unregister(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := c.GetConnID()
	if _, ok := m.clients[connID]; !ok {
		return
	}
	for convID := range m.memberOf[connID] {
		m.removeMember(convID, connID)
	}
	delete(m.memberOf, connID)
	delete(m.clients, connID)

	userID := c.GetUserID()
	if conns := m.byUser[userID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(m.byUser, userID)
			m.lastSeen[userID] = time.Now()
		}
	}
	c.Close()
	log.Printf("[hub] Client %s (%s) unregistered", connID, userID)
}

func (m *ManagerService) removeMember(conversationID, connID string) {
	if members := m.rooms[conversationID]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(m.rooms, conversationID)
		}
	}
}

// Join subscribes a connection to a conversation room. Joining twice is a no-op.
func (m *ManagerService) Join(connID, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[connID]; !ok {
		return fmt.Errorf("connection %s: %w", connID, apperr.ErrNotFound)
	}
	if m.rooms[conversationID] == nil {
		m.rooms[conversationID] = make(set)
	}
	m.rooms[conversationID].add(connID)
	m.memberOf[connID].add(conversationID)
	return nil
}

// JoinUser subscribes every live connection of userID to a room and returns
// how many connections joined.
func (m *ManagerService) JoinUser(userID, conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for connID := range m.byUser[userID] {
		if m.rooms[conversationID] == nil {
			m.rooms[conversationID] = make(set)
		}
		m.rooms[conversationID].add(connID)
		m.memberOf[connID].add(conversationID)
		n++
	}
	return n
}

// Leave drops a connection's membership in a room.
func (m *ManagerService) Leave(connID, conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeMember(conversationID, connID)
	if rooms := m.memberOf[connID]; rooms != nil {
		delete(rooms, conversationID)
	}
}

// Publish fans ev out to the members of a room as of this call. It never
// blocks on slow subscribers. Events published to one room reach each member
// in publish order. An error means no one was reachable; callers treat it
// as a hint, never as a failure of the underlying write.
func (m *ManagerService) Publish(ctx context.Context, conversationID string, ev models.Event) error {
	delivered := m.publishLocal(conversationID, ev)
	return m.relayOut(ctx, RelayEnvelope{Scope: ScopeRoom, Target: conversationID, Event: ev}, delivered)
}

// PublishToRoles fans ev out to every connection whose identity has one of roles.
func (m *ManagerService) PublishToRoles(ctx context.Context, ev models.Event, roles ...string) error {
	delivered := m.publishRoleLocal(roles, ev)
	return m.relayOut(ctx, RelayEnvelope{Scope: ScopeRole, Roles: roles, Event: ev}, delivered)
}

func (m *ManagerService) relayOut(ctx context.Context, env RelayEnvelope, delivered int) error {
	if m.Relay == nil {
		if delivered == 0 {
			return apperr.ErrTransportUnavailable
		}
		return nil
	}
	env.Origin = m.NodeID
	if err := m.Relay.Publish(ctx, env); err != nil {
		return fmt.Errorf("relay publish: %v: %w", err, apperr.ErrTransportUnavailable)
	}
	return nil
}

func (m *ManagerService) publishLocal(conversationID string, ev models.Event) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for connID := range m.rooms[conversationID] {
		if c, ok := m.clients[connID]; ok {
			m.offer(c, ev)
			n++
		}
	}
	return n
}

func (m *ManagerService) publishRoleLocal(roles []string, ev models.Event) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.clients {
		for _, role := range roles {
			if c.GetRole() == role {
				m.offer(c, ev)
				n++
				break
			}
		}
	}
	return n
}

// SendTo delivers ev to a single connection, if it is still registered.
func (m *ManagerService) SendTo(connID string, ev models.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[connID]
	if !ok {
		return false
	}
	m.offer(c, ev)
	return true
}

// offer enqueues ev without blocking, evicting the oldest queued event when
// the outbox is full. Must be called with m.mu held.
func (m *ManagerService) offer(c Client, ev models.Event) {
	ch := c.GetSendChannel()
	for i := 0; i < 2; i++ {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
			m.dropped.Add(1)
		default:
		}
	}
	m.dropped.Add(1)
	log.Printf("WARNING: [hub] outbox of %s is saturated, event %s dropped", c.GetConnID(), ev.Type)
}

// Dropped returns how many queued events were evicted from slow outboxes.
func (m *ManagerService) Dropped() int64 {
	return m.dropped.Load()
}

// Rooms returns the conversations a connection is subscribed to.
func (m *ManagerService) Rooms(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.memberOf[connID]))
	for convID := range m.memberOf[connID] {
		out = append(out, convID)
	}
	return out
}

// IsMember reports whether connID is subscribed to conversationID.
func (m *ManagerService) IsMember(connID, conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[conversationID].has(connID)
}

// RoomClientCount returns the number of connections in a room.
func (m *ManagerService) RoomClientCount(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms[conversationID])
}

// ClientCount returns the number of registered connections.
func (m *ManagerService) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// OfflineSince reports since when userID has had no live connection. ok is
// false while the user is connected. Users never seen by this process count
// as offline since the hub started.
func (m *ManagerService) OfflineSince(userID string) (since time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.byUser[userID]) > 0 {
		return time.Time{}, false
	}
	if t, seen := m.lastSeen[userID]; seen {
		return t, true
	}
	return m.startedAt, true
}

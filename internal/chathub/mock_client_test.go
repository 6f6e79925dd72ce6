package chathub_test

import (
	"context"
	"sync"
	"sync/atomic"

	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"
)

type MockClient struct {
	connID string
	userID string
	role   string
	send   chan models.Event
	closed atomic.Bool
}

func newMockClient(connID, userID, role string) *MockClient {
	return newMockClientWithBuffer(connID, userID, role, 10)
}

func newMockClientWithBuffer(connID, userID, role string, size int) *MockClient {
	return &MockClient{
		connID: connID,
		userID: userID,
		role:   role,
		send:   make(chan models.Event, size),
	}
}

func (c *MockClient) GetConnID() string                 { return c.connID }
func (c *MockClient) GetUserID() string                 { return c.userID }
func (c *MockClient) GetRole() string                   { return c.role }
func (c *MockClient) GetSendChannel() chan models.Event { return c.send }

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.closed.Store(true)
}

// drain returns every queued event without blocking.
func (c *MockClient) drain() []models.Event {
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

// fakeRelay records published envelopes and replays injected ones to the
// subscriber.
type fakeRelay struct {
	mu        sync.Mutex
	published []chathub.RelayEnvelope
	err       error
	incoming  chan chathub.RelayEnvelope
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{incoming: make(chan chathub.RelayEnvelope, 10)}
}

func (r *fakeRelay) Publish(ctx context.Context, env chathub.RelayEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.published = append(r.published, env)
	return nil
}

func (r *fakeRelay) Subscribe(ctx context.Context, deliver func(chathub.RelayEnvelope)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-r.incoming:
			deliver(env)
		}
	}
}

func (r *fakeRelay) envelopes() []chathub.RelayEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chathub.RelayEnvelope(nil), r.published...)
}

package chathub

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// RelayScope selects how a relayed event is fanned out on the receiving node.
type RelayScope string

const (
	ScopeRoom RelayScope = "room"
	ScopeRole RelayScope = "role"
)

// RelayEnvelope carries a published event between nodes.
type RelayEnvelope struct {
	Origin string       `json:"origin"`
	Scope  RelayScope   `json:"scope"`
	Target string       `json:"target,omitempty"`
	Roles  []string     `json:"roles,omitempty"`
	Event  models.Event `json:"event"`
}

// Relay forwards published events to the hubs of other nodes. It is a
// best-effort hint like the rest of the push layer.
type Relay interface {
	Publish(ctx context.Context, env RelayEnvelope) error
	// Subscribe delivers envelopes from all nodes until ctx is done.
	Subscribe(ctx context.Context, deliver func(RelayEnvelope)) error
}

// RedisRelay implements Relay on Redis Pub/Sub.
type RedisRelay struct {
	Client  *redis.Client
	Channel string
}

// NewRedisRelay creates a relay on the shared events channel.
func NewRedisRelay(rdb *redis.Client) *RedisRelay {
	return &RedisRelay{Client: rdb, Channel: config.RelayChannel}
}

// Publish sends env to every subscribed node.
func (r *RedisRelay) Publish(ctx context.Context, env RelayEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.Client.Publish(ctx, r.Channel, payload).Err()
}

// Subscribe listens on the events channel.
func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(RelayEnvelope)) error {
	pubsub := r.Client.Subscribe(ctx, r.Channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env RelayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("ERROR: [relay] Error unmarshalling Redis message: %v", err)
				continue
			}
			deliver(env)
		}
	}
}

// listenRelay keeps the relay subscription alive until ctx is done.
func (m *ManagerService) listenRelay(ctx context.Context) {
	for {
		err := m.Relay.Subscribe(ctx, m.deliverRelayed)
		if ctx.Err() != nil {
			return
		}
		log.Printf("WARNING: [relay] subscription ended: %v; retrying", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(config.RelayReconnectWait):
		}
	}
}

// deliverRelayed fans out an event published on another node. Our own
// envelopes were already delivered locally.
func (m *ManagerService) deliverRelayed(env RelayEnvelope) {
	if env.Origin == m.NodeID {
		return
	}
	switch env.Scope {
	case ScopeRoom:
		m.publishLocal(env.Target, env.Event)
	case ScopeRole:
		m.publishRoleLocal(env.Roles, env.Event)
	default:
		log.Printf("WARNING: [relay] unknown scope %q from node %s", env.Scope, env.Origin)
	}
}

// Package delivery makes stored messages and hand-off events visible to
// connected participants. The push channel is only a notification hint:
// receivers reconcile by message id and fall back to the store.
package delivery

import (
	"context"
	"log"
	"time"

	"supportchat/backend/internal/apperr"
	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/models"
)

const publishTimeout = 2 * time.Second

// Publisher is the part of the push hub the coordinator needs.
type Publisher interface {
	Publish(ctx context.Context, conversationID string, ev models.Event) error
	PublishToRoles(ctx context.Context, ev models.Event, roles ...string) error
}

// Coordinator publishes events after the store has committed them. Publishing
// is fire-and-forget: an unreachable push channel never fails the caller.
type Coordinator struct {
	Pub Publisher
}

// NewCoordinator creates a coordinator over pub.
func NewCoordinator(pub Publisher) *Coordinator {
	return &Coordinator{Pub: pub}
}

var staffRoles = []string{string(auth.RoleStaff), string(auth.RoleAdmin)}

// MessageAppended announces a stored message to the conversation room.
func (c *Coordinator) MessageAppended(ctx context.Context, msg *models.Message) {
	c.toRoom(ctx, msg.ConversationID, models.Event{
		Type:           models.EventMessageReceived,
		ConversationID: msg.ConversationID,
		Message:        msg,
	})
}

// RequestCreated tells the room and every staff connection about a new Pending request.
func (c *Coordinator) RequestCreated(ctx context.Context, req *models.SupportRequest) {
	c.lifecycle(ctx, models.EventRequestCreated, req)
}

// RequestAccepted announces the winner of the accept race.
func (c *Coordinator) RequestAccepted(ctx context.Context, req *models.SupportRequest) {
	c.lifecycle(ctx, models.EventRequestAccepted, req)
}

// RequestResolved lets viewers detach; the conversation is AI-eligible again.
func (c *Coordinator) RequestResolved(ctx context.Context, req *models.SupportRequest) {
	c.lifecycle(ctx, models.EventRequestResolved, req)
}

// RequestReverted puts a request back on every staff member's pending list.
func (c *Coordinator) RequestReverted(ctx context.Context, req *models.SupportRequest) {
	c.lifecycle(ctx, models.EventRequestReverted, req)
}

func (c *Coordinator) lifecycle(ctx context.Context, typ models.EventType, req *models.SupportRequest) {
	ev := models.Event{
		Type:           typ,
		ConversationID: req.ConversationID,
		Request:        req,
		RequestID:      req.ID,
	}
	if req.StaffID != nil {
		ev.StaffID = *req.StaffID
	}
	c.toRoom(ctx, req.ConversationID, ev)

	pctx, cancel := detached(ctx)
	defer cancel()
	c.absorb(typ, c.Pub.PublishToRoles(pctx, ev, staffRoles...))
}

func (c *Coordinator) toRoom(ctx context.Context, conversationID string, ev models.Event) {
	pctx, cancel := detached(ctx)
	defer cancel()
	c.absorb(ev.Type, c.Pub.Publish(pctx, conversationID, ev))
}

// detached keeps request values but not the request's cancellation, so a
// client hanging up right after a write does not suppress the notification.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
}

// absorb swallows publish failures. A bare ErrTransportUnavailable only
// means nobody is connected, which is the normal REST-fallback case.
func (c *Coordinator) absorb(typ models.EventType, err error) {
	if err == nil || err == apperr.ErrTransportUnavailable {
		return
	}
	log.Printf("WARNING: [delivery] publish %s failed, receivers will catch up via REST: %v", typ, err)
}

package delivery

import (
	"sync"

	"supportchat/backend/internal/models"
)

// ApplyResult describes what Reconciler.Apply did with an event.
type ApplyResult int

const (
	// Applied means the message was new and is now visible.
	Applied ApplyResult = iota
	// Duplicate means the message id was already seen.
	Duplicate
	// Gap means earlier messages are missing; the caller should fetch
	// ListMessages(since=LastID) and Merge the result.
	Gap
	// Ignored means the event carries no message.
	Ignored
)

// Reconciler is the receiving side of the delivery protocol: it keeps one
// contiguous, de-duplicated view per conversation, fed by push events and
// REST fetches alike. Delivery is at-least-once; applying is idempotent.
type Reconciler struct {
	mu       sync.Mutex
	messages map[string][]models.Message
}

// NewReconciler creates an empty view.
func NewReconciler() *Reconciler {
	return &Reconciler{messages: make(map[string][]models.Message)}
}

// Apply folds a push event into the view.
func (r *Reconciler) Apply(ev models.Event) ApplyResult {
	if ev.Type != models.EventMessageReceived || ev.Message == nil {
		return Ignored
	}
	msg := *ev.Message

	r.mu.Lock()
	defer r.mu.Unlock()

	last := r.lastID(msg.ConversationID)
	switch {
	case msg.ID <= last:
		return Duplicate
	case msg.ID > last+1:
		return Gap
	}
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], msg)
	return Applied
}

// Merge folds messages fetched from the store (ascending ids) into the view
// and returns how many were new.
func (r *Reconciler) Merge(conversationID string, msgs []models.Message) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, msg := range msgs {
		if msg.ID <= r.lastID(conversationID) {
			continue
		}
		r.messages[conversationID] = append(r.messages[conversationID], msg)
		n++
	}
	return n
}

// LastID returns the highest message id held for a conversation.
func (r *Reconciler) LastID(conversationID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastID(conversationID)
}

func (r *Reconciler) lastID(conversationID string) uint64 {
	msgs := r.messages[conversationID]
	if len(msgs) == 0 {
		return 0
	}
	return msgs[len(msgs)-1].ID
}

// Messages returns a copy of the visible messages of a conversation.
func (r *Reconciler) Messages(conversationID string) []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Message, len(r.messages[conversationID]))
	copy(out, r.messages[conversationID])
	return out
}

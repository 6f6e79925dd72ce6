package handoff

import (
	"context"
	"log"
	"sync"

	"supportchat/backend/internal/apperr"
	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/models"
)

// Session is the explicit context of one push connection: who is on the
// other end and which conversation and request they are working on. Commands
// without a conversation or request id fall back to the active ones.
type Session struct {
	svc    *Service
	actor  auth.Identity
	connID string

	mu                 sync.Mutex
	activeConversation string
	activeRequest      string
}

// NewSession creates the command handler for a push connection.
func (s *Service) NewSession(actor auth.Identity, connID string) *Session {
	return &Session{svc: s, actor: actor, connID: connID}
}

// Actor returns the identity bound to the session.
func (ss *Session) Actor() auth.Identity { return ss.actor }

// ActiveConversation returns the conversation the session last joined.
func (ss *Session) ActiveConversation() string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.activeConversation
}

// ActiveRequest returns the support request the session is working on.
func (ss *Session) ActiveRequest() string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.activeRequest
}

func (ss *Session) setActive(conversationID, requestID string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if conversationID != "" {
		ss.activeConversation = conversationID
	}
	if requestID != "" {
		ss.activeRequest = requestID
	}
}

func (ss *Session) conversationOf(cmd models.Command) string {
	if cmd.ConversationID != "" {
		return cmd.ConversationID
	}
	return ss.ActiveConversation()
}

func (ss *Session) requestOf(cmd models.Command) string {
	if cmd.RequestID != "" {
		return cmd.RequestID
	}
	return ss.ActiveRequest()
}

// HandleCommand executes one command and answers the connection with an ack,
// a sync-result or an error event.
func (ss *Session) HandleCommand(ctx context.Context, cmd models.Command) {
	switch cmd.Type {
	case models.CmdJoinConversation:
		ss.join(ctx, cmd)
	case models.CmdLeaveConversation:
		ss.leave(cmd)
	case models.CmdSendMessage:
		ss.send(ctx, cmd)
	case models.CmdRequestSupport:
		ss.requestSupport(ctx, cmd)
	case models.CmdAcceptRequest:
		ss.accept(ctx, cmd)
	case models.CmdResolveSupport:
		ss.resolve(ctx, cmd)
	case models.CmdSync:
		ss.sync(ctx, cmd)
	default:
		ss.reply(models.Event{Type: models.EventError, Command: cmd.Type, Code: "bad_request", Error: "unknown command"})
	}
}

func (ss *Session) join(ctx context.Context, cmd models.Command) {
	convID := cmd.ConversationID
	if _, err := ss.svc.authorizeView(ctx, ss.actor, convID); err != nil {
		ss.fail(cmd, err)
		return
	}
	if err := ss.svc.Hub.Join(ss.connID, convID); err != nil {
		ss.fail(cmd, err)
		return
	}
	ss.setActive(convID, "")
	ss.reply(models.Event{Type: models.EventAck, Command: cmd.Type, ConversationID: convID})
}

func (ss *Session) leave(cmd models.Command) {
	convID := ss.conversationOf(cmd)
	ss.svc.Hub.Leave(ss.connID, convID)

	ss.mu.Lock()
	if ss.activeConversation == convID {
		ss.activeConversation = ""
	}
	ss.mu.Unlock()
	ss.reply(models.Event{Type: models.EventAck, Command: cmd.Type, ConversationID: convID})
}

func (ss *Session) send(ctx context.Context, cmd models.Command) {
	convID := ss.conversationOf(cmd)
	msg, err := ss.svc.SendMessage(ctx, ss.actor, convID, cmd.Content)
	if err != nil {
		ss.fail(cmd, err)
		return
	}
	ss.reply(models.Event{Type: models.EventAck, Command: cmd.Type, ConversationID: convID, Message: msg})
}

func (ss *Session) requestSupport(ctx context.Context, cmd models.Command) {
	convID := ss.conversationOf(cmd)
	req, err := ss.svc.RequestSupport(ctx, ss.actor, convID, cmd.Reason)
	if err != nil {
		ss.fail(cmd, err)
		return
	}
	ss.setActive(convID, req.ID)
	ss.reply(models.Event{Type: models.EventAck, Command: cmd.Type, ConversationID: convID, Request: req, RequestID: req.ID})
}

func (ss *Session) accept(ctx context.Context, cmd models.Command) {
	req, err := ss.svc.Accept(ctx, ss.actor, cmd.RequestID)
	if err != nil {
		ss.fail(cmd, err)
		return
	}
	ss.setActive(req.ConversationID, req.ID)
	ss.reply(models.Event{Type: models.EventAck, Command: cmd.Type, ConversationID: req.ConversationID, Request: req, RequestID: req.ID})
}

func (ss *Session) resolve(ctx context.Context, cmd models.Command) {
	req, err := ss.svc.Resolve(ctx, ss.actor, ss.requestOf(cmd))
	if err != nil {
		ss.fail(cmd, err)
		return
	}
	ss.mu.Lock()
	if ss.activeRequest == req.ID {
		ss.activeRequest = ""
	}
	ss.mu.Unlock()
	ss.reply(models.Event{Type: models.EventAck, Command: cmd.Type, ConversationID: req.ConversationID, Request: req, RequestID: req.ID})
}

// sync answers with every message after cmd.SinceID, so a reconnecting
// client can close the gap without a separate REST call.
func (ss *Session) sync(ctx context.Context, cmd models.Command) {
	convID := ss.conversationOf(cmd)
	msgs, err := ss.svc.ListMessages(ctx, ss.actor, convID, cmd.SinceID)
	if err != nil {
		ss.fail(cmd, err)
		return
	}
	ss.reply(models.Event{Type: models.EventSyncResult, Command: cmd.Type, ConversationID: convID, Messages: msgs})
}

func (ss *Session) fail(cmd models.Command, err error) {
	code := apperr.Code(err)
	switch {
	case apperr.IsRecoverable(err):
		log.Printf("[handoff] %s lost %s for %s", ss.actor.UserID, cmd.Type, cmd.RequestID)
	case code == "internal":
		log.Printf("ERROR: [handoff] %s from %s failed: %v", cmd.Type, ss.actor.UserID, err)
	}
	ss.reply(models.Event{
		Type:           models.EventError,
		Command:        cmd.Type,
		ConversationID: cmd.ConversationID,
		RequestID:      cmd.RequestID,
		Code:           code,
		Error:          err.Error(),
	})
}

func (ss *Session) reply(ev models.Event) {
	ss.svc.Hub.SendTo(ss.connID, ev)
}

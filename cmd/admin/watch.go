package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"supportchat/backend/internal/config"
	"supportchat/backend/internal/delivery"
	"supportchat/backend/internal/models"

	"github.com/gorilla/websocket"
)

// watcher follows one conversation: push events when connected, REST
// catch-up on gaps and after every disconnect. The reconciler keeps the
// printed transcript free of duplicates and holes.
type watcher struct {
	baseURL        string
	token          string
	conversationID string
	out            io.Writer

	http   *http.Client
	dialer *websocket.Dialer
	view   *delivery.Reconciler
}

func newWatcher(baseURL, token, conversationID string, out io.Writer) *watcher {
	return &watcher{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		conversationID: conversationID,
		out:            out,
		http:           &http.Client{Timeout: config.RequestTimeout},
		dialer:         &websocket.Dialer{HandshakeTimeout: config.RequestTimeout},
		view:           delivery.NewReconciler(),
	}
}

// Run prints the conversation and follows it until ctx is done.
func (w *watcher) Run(ctx context.Context) error {
	if err := w.catchUp(ctx); err != nil {
		return err
	}
	for {
		err := w.follow(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("WARNING: [watch] push connection lost: %v; falling back to REST", err)
		if err := w.catchUp(ctx); err != nil {
			log.Printf("WARNING: [watch] %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(config.RelayReconnectWait):
		}
	}
}

// catchUp fetches every message after the last one seen.
func (w *watcher) catchUp(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, config.RequestTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/conversations/%s/messages?since=%d",
		w.baseURL, url.PathEscape(w.conversationID), w.view.LastID(w.conversationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("fetch messages: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var msgs []models.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return fmt.Errorf("decode messages: %w", err)
	}
	w.printNewest(w.view.Merge(w.conversationID, msgs))
	return nil
}

// follow holds one push connection until it fails or ctx is done.
func (w *watcher) follow(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+w.token)
	conn, _, err := w.dialer.DialContext(ctx, websocketURL(w.baseURL)+"/ws", header)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	// Sync after joining covers messages appended between the REST fetch and
	// the join.
	if err := conn.WriteJSON(models.Command{Type: models.CmdJoinConversation, ConversationID: w.conversationID}); err != nil {
		return err
	}
	if err := conn.WriteJSON(models.Command{Type: models.CmdSync, ConversationID: w.conversationID, SinceID: w.view.LastID(w.conversationID)}); err != nil {
		return err
	}

	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		w.handle(ctx, ev)
	}
}

func (w *watcher) handle(ctx context.Context, ev models.Event) {
	if ev.ConversationID != "" && ev.ConversationID != w.conversationID {
		return
	}
	switch ev.Type {
	case models.EventMessageReceived:
		switch w.view.Apply(ev) {
		case delivery.Applied:
			w.printMessage(*ev.Message)
		case delivery.Gap:
			if err := w.catchUp(ctx); err != nil {
				log.Printf("WARNING: [watch] %v", err)
			}
		}
	case models.EventSyncResult:
		w.printNewest(w.view.Merge(w.conversationID, ev.Messages))
	case models.EventRequestCreated, models.EventRequestAccepted, models.EventRequestResolved, models.EventRequestReverted:
		fmt.Fprintf(w.out, "-- %s: request %s %s\n", ev.Type, ev.RequestID, ev.StaffID)
	case models.EventError:
		log.Printf("WARNING: [watch] %s failed: %s (%s)", ev.Command, ev.Error, ev.Code)
	}
}

func (w *watcher) printNewest(n int) {
	if n == 0 {
		return
	}
	msgs := w.view.Messages(w.conversationID)
	for _, msg := range msgs[len(msgs)-n:] {
		w.printMessage(msg)
	}
}

func (w *watcher) printMessage(msg models.Message) {
	from := string(msg.Sender)
	if msg.SenderID != nil {
		from += ":" + *msg.SenderID
	}
	fmt.Fprintf(w.out, "[%d] %s %s: %s\n", msg.ID, msg.CreatedAt.Format("15:04:05"), from, msg.Content)
}

func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

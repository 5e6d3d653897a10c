package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"railbot/internal/chat"
)

// HTTPGateway talks to the messaging service's HTTP API and receives
// events on a webhook endpoint.
type HTTPGateway struct {
	base   string
	client *http.Client
}

// NewHTTP creates a gateway against the given API base URL, e.g.
// "http://localhost:5700".
func NewHTTP(base string) *HTTPGateway {
	return &HTTPGateway{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *HTTPGateway) call(ctx context.Context, action string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.base+"/"+action, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", action, resp.Status)
	}
	if out == nil {
		return nil
	}
	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s: %w", action, err)
	}
	if envelope.Status != "" && envelope.Status != "ok" && envelope.Status != "async" {
		return fmt.Errorf("%s: status %q", action, envelope.Status)
	}
	return json.Unmarshal(envelope.Data, out)
}

// Send replies into the conversation the event came from.
func (g *HTTPGateway) Send(ctx context.Context, ev *chat.Event, text string) error {
	payload := map[string]any{
		"message_type": ev.MessageType,
		"user_id":      int64(ev.UserID),
		"message":      text,
	}
	if ev.IsGroup() {
		payload["group_id"] = int64(ev.GroupID)
	}
	return g.call(ctx, "send_msg", payload, nil)
}

// SendGroup delivers a message to a specific group.
func (g *HTTPGateway) SendGroup(ctx context.Context, groupID int64, text string) error {
	return g.call(ctx, "send_group_msg", map[string]any{
		"group_id": groupID,
		"message":  text,
	}, nil)
}

// Ban temporarily mutes a group member.
func (g *HTTPGateway) Ban(ctx context.Context, groupID, userID int64, d time.Duration) error {
	return g.call(ctx, "set_group_ban", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"duration": int64(d.Seconds()),
	}, nil)
}

// ApproveFriend accepts a pending friend request.
func (g *HTTPGateway) ApproveFriend(ctx context.Context, flag string) error {
	return g.call(ctx, "set_friend_add_request", map[string]any{
		"flag":    flag,
		"approve": true,
	}, nil)
}

// GroupList returns the groups the bot has joined.
func (g *HTTPGateway) GroupList(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := g.call(ctx, "get_group_list", map[string]any{}, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// WebhookServer receives inbound chat events pushed by the messaging
// service and hands them to the dispatch handler one at a time, matching
// the gateway's one-dispatch-at-a-time delivery contract.
type WebhookServer struct {
	handler Handler
}

// NewWebhookServer wraps a handler for mounting on an HTTP listener.
func NewWebhookServer(handler Handler) *WebhookServer {
	return &WebhookServer{handler: handler}
}

// Router builds the webhook routes.
func (s *WebhookServer) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		var ev chat.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			log.Printf("webhook: bad event: %v", err)
			http.Error(w, "bad event", http.StatusBadRequest)
			return
		}
		s.handler(r.Context(), &ev)
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

// ListenAndServe runs the webhook server until the listener fails.
func (s *WebhookServer) ListenAndServe(addr string) error {
	log.Printf("webhook listening at http://%s/", addr)
	return http.ListenAndServe(addr, s.Router())
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"railbot/internal/chat"
)

// NATSGateway exchanges chat events and replies over a NATS subject pair.
// Events arrive on the events subject as JSON chat.Event objects; replies
// are published to the replies subject.
type NATSGateway struct {
	conn    *nats.Conn
	events  string
	replies string
}

// outbound is the reply message published to the replies subject.
type outbound struct {
	MessageType string `json:"message_type"`
	UserID      int64  `json:"user_id,omitempty"`
	GroupID     int64  `json:"group_id,omitempty"`
	Message     string `json:"message"`
	BanSeconds  int64  `json:"ban_seconds,omitempty"`
}

// NewNATS connects to the NATS server and prepares the subject pair.
func NewNATS(url, events, replies string) (*NATSGateway, error) {
	conn, err := nats.Connect(url,
		nats.Name("railbot"),
		nats.Timeout(10*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSGateway{conn: conn, events: events, replies: replies}, nil
}

// Close drains the connection.
func (g *NATSGateway) Close() {
	_ = g.conn.Drain()
}

// Subscribe consumes inbound events until the context is done. Events are
// handled synchronously in arrival order.
func (g *NATSGateway) Subscribe(ctx context.Context, handler Handler) error {
	sub, err := g.conn.SubscribeSync(g.events)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", g.events, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("next event: %w", err)
		}
		var ev chat.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("nats: bad event: %v", err)
			continue
		}
		handler(ctx, &ev)
	}
}

func (g *NATSGateway) publish(msg outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return g.conn.Publish(g.replies, data)
}

// Send replies into the conversation the event came from.
func (g *NATSGateway) Send(ctx context.Context, ev *chat.Event, text string) error {
	return g.publish(outbound{
		MessageType: ev.MessageType,
		UserID:      int64(ev.UserID),
		GroupID:     int64(ev.GroupID),
		Message:     text,
	})
}

// SendGroup delivers a message to a specific group.
func (g *NATSGateway) SendGroup(ctx context.Context, groupID int64, text string) error {
	return g.publish(outbound{MessageType: "group", GroupID: groupID, Message: text})
}

// Ban publishes a mute request for the transport bridge to apply.
func (g *NATSGateway) Ban(ctx context.Context, groupID, userID int64, d time.Duration) error {
	return g.publish(outbound{
		MessageType: "ban",
		GroupID:     groupID,
		UserID:      userID,
		BanSeconds:  int64(d.Seconds()),
	})
}

// ApproveFriend publishes an approval request for the bridge to apply.
func (g *NATSGateway) ApproveFriend(ctx context.Context, flag string) error {
	return g.publish(outbound{MessageType: "approve_friend", Message: flag})
}

// GroupList is not available over the one-way NATS bridge.
func (g *NATSGateway) GroupList(ctx context.Context) ([]Group, error) {
	return nil, ErrUnsupported
}

// Package gateway connects the bot to the external messaging service.
//
// Two transports are supported: an HTTP API with a webhook for inbound
// events, and a NATS subject pair. Replies are fire-and-forget; no
// delivery response is awaited beyond the transport-level status.
package gateway

import (
	"context"
	"errors"
	"time"

	"railbot/internal/chat"
)

// ErrUnsupported is returned by transports that cannot perform an
// operation (e.g. group listing over NATS).
var ErrUnsupported = errors.New("gateway: operation not supported by transport")

// Group is one group conversation the bot has joined.
type Group struct {
	ID   int64  `json:"group_id"`
	Name string `json:"group_name"`
}

// Gateway sends outbound messages through the messaging service.
type Gateway interface {
	// Send replies into the conversation the event came from.
	Send(ctx context.Context, ev *chat.Event, text string) error

	// SendGroup delivers a message to a specific group conversation.
	SendGroup(ctx context.Context, groupID int64, text string) error

	// Ban temporarily mutes a group member.
	Ban(ctx context.Context, groupID, userID int64, d time.Duration) error

	// ApproveFriend accepts a pending friend request.
	ApproveFriend(ctx context.Context, flag string) error

	// GroupList returns the groups the bot has joined.
	GroupList(ctx context.Context) ([]Group, error)
}

// Handler consumes inbound chat events.
type Handler func(ctx context.Context, ev *chat.Event)

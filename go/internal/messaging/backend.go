package messaging

import (
	"context"
	"errors"

	"github.com/mcdev12/auctionhouse/go/internal/models"
)

var (
	ErrOffline        = errors.New("messaging connection is offline")
	ErrClosed         = errors.New("messaging connection is closed")
	ErrInvalidChannel = errors.New("invalid channel id")
)

// EventType identifies what a backend event carries.
type EventType string

const (
	EventMessageNew        EventType = "message.new"
	EventConnectionChanged EventType = "connection.changed"
)

// Event is a raw event delivered by the backend.
type Event struct {
	Type      EventType
	ChannelID string
	Message   *Message // set for EventMessageNew
	Online    bool     // set for EventConnectionChanged
}

// Handler receives events. Handlers for one subscription are invoked
// sequentially in delivery order.
type Handler func(Event)

// Subscription is a live watch on a channel.
type Subscription interface {
	Unsubscribe()
}

// Dialer opens authenticated connections to the messaging backend.
type Dialer interface {
	Dial(ctx context.Context, user models.User, token string) (Conn, error)
}

// Conn is one authenticated connection to the messaging backend.
type Conn interface {
	// User returns the identity the connection was opened for.
	User() models.User

	// Watch subscribes to new messages on a channel.
	Watch(ctx context.Context, channelID string, handler Handler) (Subscription, error)

	// History returns up to limit of the most recent messages, oldest first.
	History(ctx context.Context, channelID string, limit int) ([]Message, error)

	// Send publishes msg and returns it as stored. An empty UserID is filled
	// with the connection's user.
	Send(ctx context.Context, channelID string, msg Message) (Message, error)

	ChannelData(ctx context.Context, channelID string) (ChannelData, error)
	UpdateChannel(ctx context.Context, channelID string, data ChannelData) error

	// OnConnectionChanged registers fn for online/offline transitions and
	// returns a function that removes it.
	OnConnectionChanged(fn func(online bool)) (unregister func())

	Close() error
}

package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// Status is the state of the messaging connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

var (
	ErrReconnecting  = errors.New("connection lost, reconnecting")
	ErrNotConnected  = errors.New("not connected")
	ErrNotJoined     = errors.New("no auction joined")
	ErrClosed        = errors.New("supervisor is closed")
	ErrSuperseded    = errors.New("superseded by a newer connection")
	errMissingUserID = errors.New("user id is required")
)

// Notices shown to the participant.
const (
	NoticeConnectionLost  = "Connection lost. Reconnecting..."
	NoticeReconnected     = "Reconnected to chat."
	NoticeReconnectFailed = "Reconnection failed. Please try again."
)

// TokenSource fetches a channel token for a user.
type TokenSource interface {
	Token(ctx context.Context, user models.User) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context, user models.User) (string, error)

func (f TokenFunc) Token(ctx context.Context, user models.User) (string, error) {
	return f(ctx, user)
}

// Config holds supervisor timings and limits.
type Config struct {
	ReconnectDelay time.Duration
	TickInterval   time.Duration
	HistoryLimit   int
	EventBuffer    int
	UpdateBuffer   int
}

// DefaultConfig returns default supervisor configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay: 5 * time.Second,
		TickInterval:   time.Second,
		HistoryLimit:   100,
		EventBuffer:    256,
		UpdateBuffer:   64,
	}
}

// Update is emitted whenever connection or auction state changes, and on
// every countdown tick.
type Update struct {
	Status    Status
	ProductID string
	State     *auction.State // nil when no auction is joined
	TimeLeft  string
	Notice    string
	Err       error
}

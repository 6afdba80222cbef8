package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/messaging"
)

// ChannelEvent is the envelope for everything written to a browser connection.
type ChannelEvent struct {
	ID        string          `json:"id"`
	ChannelID string          `json:"channel_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType represents the type of gateway event
type EventType string

const (
	EventTypeMessage   EventType = "message.new"
	EventTypeStateSync EventType = "state.sync"
	EventTypeError     EventType = "error"
)

// StatePayload carries the relay's view of an auction.
type StatePayload struct {
	ProductID     string  `json:"product_id"`
	CurrentBid    float64 `json:"current_bid"`
	HighestBidder string  `json:"highest_bidder,omitempty"`
	IsEnded       bool    `json:"is_ended"`
	Winner        string  `json:"winner,omitempty"`
	TimeLeft      string  `json:"time_left"`
}

// ErrorPayload reports a rejected command or a failed join.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ClientCommand is read from browser connections.
type ClientCommand struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
}

const CommandBid = "bid"

func newEvent(channelID string, typ EventType, at time.Time, payload any) (*ChannelEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &ChannelEvent{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		Type:      typ,
		Timestamp: at,
		Data:      data,
	}, nil
}

func messageEvent(channelID string, msg messaging.Message, at time.Time) (*ChannelEvent, error) {
	return newEvent(channelID, EventTypeMessage, at, msg)
}

func stateEvent(channelID string, state auction.State, timeLeft string, at time.Time) (*ChannelEvent, error) {
	return newEvent(channelID, EventTypeStateSync, at, StatePayload{
		ProductID:     state.ProductID,
		CurrentBid:    state.CurrentBid,
		HighestBidder: state.HighestBidder,
		IsEnded:       state.IsEnded,
		Winner:        state.Winner,
		TimeLeft:      timeLeft,
	})
}

func errorEvent(channelID, message string, at time.Time) (*ChannelEvent, error) {
	return newEvent(channelID, EventTypeError, at, ErrorPayload{Message: message})
}

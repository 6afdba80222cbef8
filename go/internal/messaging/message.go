package messaging

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// ChannelType is the channel type every auction channel is created with.
	ChannelType = "messaging"

	// DefaultHistoryLimit is the number of most recent messages replayed on join.
	DefaultHistoryLimit = 100
)

// MessageType distinguishes user chatter from server-authored notices.
type MessageType string

const (
	MessageTypeRegular MessageType = "regular"
	MessageTypeSystem  MessageType = "system"
)

// Message is a single chat message on an auction channel. Custom carries the
// structured metadata fields; it is decoded by bidcodec, never inspected raw.
type Message struct {
	ID        string                     `json:"id"`
	Type      MessageType                `json:"type"`
	Text      string                     `json:"text"`
	UserID    string                     `json:"user_id"`
	CreatedAt time.Time                  `json:"created_at"`
	Custom    map[string]json.RawMessage `json:"custom,omitempty"`
}

// SetCustom stores v as the JSON value of the custom field key.
func (m *Message) SetCustom(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode custom field %s: %w", key, err)
	}
	if m.Custom == nil {
		m.Custom = make(map[string]json.RawMessage)
	}
	m.Custom[key] = raw
	return nil
}

// AuctionStatus is the settlement state recorded on the channel.
type AuctionStatus string

const (
	AuctionStatusOpen      AuctionStatus = ""
	AuctionStatusCompleted AuctionStatus = "completed"
)

// ChannelData is the mutable metadata attached to a channel.
type ChannelData struct {
	Name          string        `json:"name,omitempty"`
	ProductID     string        `json:"product_id,omitempty"`
	AuctionStatus AuctionStatus `json:"auction_status,omitempty"`
	Winner        string        `json:"winner,omitempty"`
	FinalAmount   *float64      `json:"final_amount,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// ChannelID returns the channel key for a product's auction.
func ChannelID(productID string) string {
	return "auction-" + productID
}

// ProductIDFromChannel is the inverse of ChannelID.
func ProductIDFromChannel(channelID string) (string, bool) {
	id, ok := strings.CutPrefix(channelID, "auction-")
	return id, ok && id != ""
}

// ChannelName is the human readable channel title.
func ChannelName(productName string) string {
	return "Bidding for " + productName
}

// ValidateChannelID rejects ids that cannot be used as a subject token.
func ValidateChannelID(channelID string) error {
	if channelID == "" {
		return fmt.Errorf("%w: empty channel id", ErrInvalidChannel)
	}
	if strings.ContainsAny(channelID, ".*> \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channelID)
	}
	return nil
}

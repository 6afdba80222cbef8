package bidcodec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/auctionhouse/go/internal/messaging"
)

func TestEncodeBid(t *testing.T) {
	msg := EncodeBid("alice", 150)

	assert.Equal(t, "alice placed a bid of $150.00", msg.Text)
	assert.JSONEq(t, `150`, string(msg.Custom[FieldBidAmount]))
	assert.JSONEq(t, `"alice"`, string(msg.Custom[FieldBidder]))

	bid, ok := DecodeBid(msg)
	require.True(t, ok)
	assert.Equal(t, "alice", bid.Bidder)
	assert.Equal(t, 150.0, bid.Amount)
}

func TestDecodeBidLegacyText(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		bidder string
		amount float64
		ok     bool
	}{
		{name: "integer amount", text: "bob placed a bid of $80", bidder: "bob", amount: 80, ok: true},
		{name: "decimal amount", text: "bob placed a bid of $80.50", bidder: "bob", amount: 80.5, ok: true},
		{name: "embedded in chatter", text: "wow, carol placed a bid of $12.00!", bidder: "carol", amount: 12, ok: true},
		{name: "hyphenated id matches only its tail", text: "user-42 placed a bid of $99.00", bidder: "42", amount: 99, ok: true},
		{name: "plain chat", text: "hello there"},
		{name: "missing amount", text: "bob placed a bid of $"},
		{name: "zero amount", text: "bob placed a bid of $0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bid, ok := DecodeBid(messaging.Message{Text: tt.text})
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.bidder, bid.Bidder)
			assert.Equal(t, tt.amount, bid.Amount)
		})
	}
}

func TestDecodeBidPrefersStructuredFields(t *testing.T) {
	msg := EncodeBid("user-42", 250)
	msg.Text = "someone placed a bid of $1.00"

	bid, ok := DecodeBid(msg)
	require.True(t, ok)
	assert.Equal(t, "user-42", bid.Bidder)
	assert.Equal(t, 250.0, bid.Amount)
}

func TestDecodeBidRejectsInvalidStructuredFields(t *testing.T) {
	tests := map[string]map[string]json.RawMessage{
		"negative amount": {FieldBidAmount: json.RawMessage(`-5`), FieldBidder: json.RawMessage(`"bob"`)},
		"string amount":   {FieldBidAmount: json.RawMessage(`"100"`), FieldBidder: json.RawMessage(`"bob"`)},
		"missing bidder":  {FieldBidAmount: json.RawMessage(`100`)},
		"empty bidder":    {FieldBidAmount: json.RawMessage(`100`), FieldBidder: json.RawMessage(`""`)},
	}

	for name, custom := range tests {
		t.Run(name, func(t *testing.T) {
			// The text would parse, but invalid structured fields are authoritative.
			msg := messaging.Message{Text: "bob placed a bid of $100.00", Custom: custom}
			_, ok := DecodeBid(msg)
			assert.False(t, ok)
		})
	}
}

func TestDecodeAuctionEnd(t *testing.T) {
	t.Run("participant broadcast", func(t *testing.T) {
		end, ok := DecodeAuctionEnd(EncodeAuctionEnd("alice", 150))
		require.True(t, ok)
		assert.Equal(t, AuctionEnd{Winner: "alice", FinalBid: 150, HasFinalBid: true}, end)
	})

	t.Run("settlement notice", func(t *testing.T) {
		msg := EncodeFinalized("7", "bob", 99.5)
		assert.Equal(t, messaging.MessageTypeSystem, msg.Type)
		assert.Equal(t, "🏆 Auction for product 7 has been finalized. bob is the winner with a bid of $99.50", msg.Text)

		end, ok := DecodeAuctionEnd(msg)
		require.True(t, ok)
		assert.Equal(t, AuctionEnd{Winner: "bob", FinalBid: 99.5, HasFinalBid: true}, end)
	})

	t.Run("marker without amount", func(t *testing.T) {
		msg := messaging.Message{Custom: map[string]json.RawMessage{FieldAuctionEnd: json.RawMessage(`true`)}}
		end, ok := DecodeAuctionEnd(msg)
		require.True(t, ok)
		assert.False(t, end.HasFinalBid)
	})

	t.Run("false marker", func(t *testing.T) {
		msg := messaging.Message{Custom: map[string]json.RawMessage{FieldAuctionEnd: json.RawMessage(`false`)}}
		_, ok := DecodeAuctionEnd(msg)
		assert.False(t, ok)
	})
}

func TestDecodeClassifiesEvents(t *testing.T) {
	bid := EncodeBid("alice", 10)
	end := EncodeAuctionEnd("alice", 10)
	chat := messaging.Message{Text: "hello there"}

	assert.IsType(t, BidPlaced{}, Decode(messaging.Event{Type: messaging.EventMessageNew, Message: &bid}))
	assert.IsType(t, AuctionEnded{}, Decode(messaging.Event{Type: messaging.EventMessageNew, Message: &end}))
	assert.IsType(t, Other{}, Decode(messaging.Event{Type: messaging.EventMessageNew, Message: &chat}))
	assert.Equal(t, ConnectionChanged{Online: false}, Decode(messaging.Event{Type: messaging.EventConnectionChanged}))
	assert.IsType(t, Other{}, Decode(messaging.Event{Type: messaging.EventMessageNew}))
}

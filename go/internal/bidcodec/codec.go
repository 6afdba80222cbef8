// Package bidcodec translates between auction events and the chat messages
// that carry them on a channel.
package bidcodec

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/mcdev12/auctionhouse/go/internal/messaging"
)

// Custom field keys on the wire.
const (
	FieldBidAmount        = "bid_amount"
	FieldBidder           = "bidder"
	FieldAuctionEnd       = "auctionEnd"
	FieldAuctionFinalized = "auction_finalized"
	FieldWinner           = "winner"
	FieldFinalBid         = "finalBid"
	FieldFinalAmount      = "final_amount"
)

// legacyBidPattern matches bid announcements from clients that only sent text.
var legacyBidPattern = regexp.MustCompile(`(\w+) placed a bid of \$(\d+\.?\d*)`)

// Bid is a bid reconstructed from a message.
type Bid struct {
	Bidder string
	Amount float64
	At     time.Time
}

// AuctionEnd is the payload of an end-of-auction marker.
type AuctionEnd struct {
	Winner      string
	FinalBid    float64
	HasFinalBid bool
}

// FormatAmount renders an amount with two decimals.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

// EncodeBid builds the announcement for a bid. The amount and bidder travel
// as structured fields; the text is for display and legacy readers.
func EncodeBid(bidderID string, amount float64) messaging.Message {
	msg := messaging.Message{
		Type: messaging.MessageTypeRegular,
		Text: fmt.Sprintf("%s placed a bid of $%s", bidderID, FormatAmount(amount)),
	}
	mustSet(&msg, FieldBidAmount, amount)
	mustSet(&msg, FieldBidder, bidderID)
	return msg
}

// EncodeAuctionEnd builds the end-of-auction broadcast sent by the declaring client.
func EncodeAuctionEnd(winner string, finalBid float64) messaging.Message {
	msg := messaging.Message{
		Type: messaging.MessageTypeRegular,
		Text: fmt.Sprintf("🎉 Auction ended! %s won with a bid of $%s", winner, FormatAmount(finalBid)),
	}
	mustSet(&msg, FieldAuctionEnd, true)
	mustSet(&msg, FieldWinner, winner)
	mustSet(&msg, FieldFinalBid, finalBid)
	return msg
}

// EncodeFinalized builds the system notice posted when settlement completes.
func EncodeFinalized(productID, winner string, amount float64) messaging.Message {
	msg := messaging.Message{
		Type: messaging.MessageTypeSystem,
		Text: fmt.Sprintf("🏆 Auction for product %s has been finalized. %s is the winner with a bid of $%s",
			productID, winner, FormatAmount(amount)),
	}
	mustSet(&msg, FieldAuctionFinalized, true)
	mustSet(&msg, FieldWinner, winner)
	mustSet(&msg, FieldFinalAmount, amount)
	return msg
}

// mustSet is only used with values that always marshal.
func mustSet(msg *messaging.Message, key string, v any) {
	if err := msg.SetCustom(key, v); err != nil {
		panic(err)
	}
}

// DecodeBid extracts a bid from msg. Structured fields win; the text pattern
// is only consulted when they are absent.
func DecodeBid(msg messaging.Message) (Bid, bool) {
	_, hasAmount := msg.Custom[FieldBidAmount]
	_, hasBidder := msg.Custom[FieldBidder]
	if hasAmount || hasBidder {
		return decodeStructuredBid(msg)
	}
	return decodeLegacyBid(msg)
}

func decodeStructuredBid(msg messaging.Message) (Bid, bool) {
	var amount float64
	if !customValue(msg, FieldBidAmount, &amount) || !validAmount(amount) {
		return Bid{}, false
	}
	var bidder string
	if !customValue(msg, FieldBidder, &bidder) || bidder == "" {
		return Bid{}, false
	}
	return Bid{Bidder: bidder, Amount: amount, At: msg.CreatedAt}, true
}

func decodeLegacyBid(msg messaging.Message) (Bid, bool) {
	m := legacyBidPattern.FindStringSubmatch(msg.Text)
	if m == nil {
		return Bid{}, false
	}
	amount, err := strconv.ParseFloat(m[2], 64)
	if err != nil || !validAmount(amount) {
		return Bid{}, false
	}
	return Bid{Bidder: m[1], Amount: amount, At: msg.CreatedAt}, true
}

// DecodeAuctionEnd recognizes both the participant broadcast and the
// settlement notice.
func DecodeAuctionEnd(msg messaging.Message) (AuctionEnd, bool) {
	var ended, finalized bool
	customValue(msg, FieldAuctionEnd, &ended)
	customValue(msg, FieldAuctionFinalized, &finalized)
	if !ended && !finalized {
		return AuctionEnd{}, false
	}

	var end AuctionEnd
	customValue(msg, FieldWinner, &end.Winner)

	var amount float64
	if customValue(msg, FieldFinalBid, &amount) && validAmount(amount) {
		end.FinalBid, end.HasFinalBid = amount, true
	} else if customValue(msg, FieldFinalAmount, &amount) && validAmount(amount) {
		end.FinalBid, end.HasFinalBid = amount, true
	}
	return end, true
}

// customValue decodes a custom field into dst, reporting whether the field
// existed and had the expected JSON type.
func customValue(msg messaging.Message, key string, dst any) bool {
	raw, ok := msg.Custom[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func validAmount(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

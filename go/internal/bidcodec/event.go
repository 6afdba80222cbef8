package bidcodec

import "github.com/mcdev12/auctionhouse/go/internal/messaging"

// Event is the decoded form of a backend event. It is one of BidPlaced,
// AuctionEnded, ConnectionChanged or Other.
type Event interface {
	isEvent()
}

// BidPlaced is a message that announced a bid.
type BidPlaced struct {
	Bid     Bid
	Message messaging.Message
}

// AuctionEnded is a message carrying the end-of-auction marker.
type AuctionEnded struct {
	End     AuctionEnd
	Message messaging.Message
}

// ConnectionChanged reports the backend connection going online or offline.
type ConnectionChanged struct {
	Online bool
}

// Other is any message that is neither a bid nor an end marker.
type Other struct {
	Message messaging.Message
}

func (BidPlaced) isEvent()         {}
func (AuctionEnded) isEvent()      {}
func (ConnectionChanged) isEvent() {}
func (Other) isEvent()             {}

// Decode classifies a raw backend event. End markers take precedence over
// bid text, so an end notice that happens to quote a bid is not a bid.
func Decode(ev messaging.Event) Event {
	switch ev.Type {
	case messaging.EventConnectionChanged:
		return ConnectionChanged{Online: ev.Online}
	case messaging.EventMessageNew:
		if ev.Message == nil {
			return Other{}
		}
		return DecodeMessage(*ev.Message)
	default:
		return Other{}
	}
}

// DecodeMessage classifies a single channel message.
func DecodeMessage(msg messaging.Message) Event {
	if end, ok := DecodeAuctionEnd(msg); ok {
		return AuctionEnded{End: end, Message: msg}
	}
	if bid, ok := DecodeBid(msg); ok {
		return BidPlaced{Bid: bid, Message: msg}
	}
	return Other{Message: msg}
}

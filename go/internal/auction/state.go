package auction

// Phase is the lifecycle phase of a Session.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseHydrating
	PhaseLive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseHydrating:
		return "hydrating"
	case PhaseLive:
		return "live"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// State is a snapshot of the locally known auction state.
//
// CurrentBid never decreases. Winner is only set when IsEnded is true, and
// once IsEnded is true CurrentBid and HighestBidder no longer change.
type State struct {
	ProductID     string  `json:"productId"`
	CurrentBid    float64 `json:"currentBid"`
	HighestBidder string  `json:"highestBidder,omitempty"`
	IsEnded       bool    `json:"isEnded"`
	Winner        string  `json:"winner,omitempty"`
	Phase         Phase   `json:"phase"`
}

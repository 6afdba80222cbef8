// Package auction reconstructs auction state from the messages on a
// product's channel.
package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/bidcodec"
	"github.com/mcdev12/auctionhouse/go/internal/messaging"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

var (
	ErrBroadcastFailed = errors.New("failed to announce the auction result")
	ErrFinalizeFailed  = errors.New("failed to finalize the auction")
)

// Broadcaster sends messages to a channel. messaging.Conn satisfies it.
type Broadcaster interface {
	Send(ctx context.Context, channelID string, msg messaging.Message) (messaging.Message, error)
}

// FinalizeRequest is sent to settlement once a winner is declared.
type FinalizeRequest struct {
	ProductID string  `json:"productId"`
	Winner    string  `json:"winner"`
	Amount    float64 `json:"amount"`
}

// Finalizer settles a declared auction.
type Finalizer interface {
	Finalize(ctx context.Context, req FinalizeRequest) error
}

// Session holds the reconciliation state for one product channel.
type Session struct {
	product   models.Product
	channelID string

	mu        sync.Mutex
	state     State
	pending   []bidcodec.Event // live events received while hydrating
	declaring bool
}

// NewSession creates an uninitialized session for product.
func NewSession(product models.Product) *Session {
	return &Session{
		product:   product,
		channelID: messaging.ChannelID(product.ID),
		state: State{
			ProductID:  product.ID,
			CurrentBid: product.StartingPrice,
			Phase:      PhaseUninitialized,
		},
	}
}

// Product returns the product the session tracks.
func (s *Session) Product() models.Product { return s.product }

// ChannelID returns the channel the session folds.
func (s *Session) ChannelID() string { return s.channelID }

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginHydration moves an uninitialized session to hydrating. Live events
// applied from now until Hydrate completes are queued and replayed after it.
func (s *Session) BeginHydration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase == PhaseUninitialized {
		s.state.Phase = PhaseHydrating
	}
}

// Hydrate rebuilds the state from a history window, oldest first.
//
// The first end marker ends the session outright. Otherwise the highest bid
// wins, ties going to the earliest message, and the current bid never drops
// below the starting price. Queued live events are then folded in with live
// semantics.
func (s *Session) Hydrate(history []messaging.Message) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := State{
		ProductID:  s.product.ID,
		CurrentBid: s.product.StartingPrice,
		Phase:      PhaseLive,
	}

	var (
		best    bidcodec.Bid
		haveBid bool
		end     *bidcodec.AuctionEnd
	)
	for _, msg := range history {
		switch ev := bidcodec.DecodeMessage(msg).(type) {
		case bidcodec.AuctionEnded:
			if end == nil {
				e := ev.End
				end = &e
			}
		case bidcodec.BidPlaced:
			if !haveBid || ev.Bid.Amount > best.Amount {
				best, haveBid = ev.Bid, true
			}
		}
		if end != nil {
			break
		}
	}

	switch {
	case end != nil:
		state.IsEnded = true
		state.Winner = end.Winner
		state.HighestBidder = end.Winner
		state.Phase = PhaseEnded
		if end.HasFinalBid {
			state.CurrentBid = end.FinalBid
		} else if haveBid {
			state.CurrentBid = max(best.Amount, s.product.StartingPrice)
		}
	case haveBid:
		state.CurrentBid = max(best.Amount, s.product.StartingPrice)
		state.HighestBidder = best.Bidder
	}

	s.state = state
	pending := s.pending
	s.pending = nil
	for _, ev := range pending {
		s.applyLocked(ev)
	}

	log.Debug().
		Str("product_id", s.product.ID).
		Int("history", len(history)).
		Int("replayed", len(pending)).
		Float64("current_bid", s.state.CurrentBid).
		Bool("ended", s.state.IsEnded).
		Msg("session hydrated")

	return s.state
}

// Apply folds one live event. It reports whether the state changed.
func (s *Session) Apply(ev bidcodec.Event) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase == PhaseUninitialized || s.state.Phase == PhaseHydrating {
		s.pending = append(s.pending, ev)
		return s.state, false
	}
	changed := s.applyLocked(ev)
	return s.state, changed
}

// CatchUp folds a history window with live semantics. Bids already applied
// are no longer greater than the current bid and fall through.
func (s *Session) CatchUp(history []messaging.Message) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, msg := range history {
		if s.applyLocked(bidcodec.DecodeMessage(msg)) {
			changed = true
		}
	}
	return s.state, changed
}

func (s *Session) applyLocked(ev bidcodec.Event) bool {
	switch ev := ev.(type) {
	case bidcodec.AuctionEnded:
		if s.state.IsEnded {
			return false
		}
		s.state.IsEnded = true
		s.state.Phase = PhaseEnded
		s.state.Winner = ev.End.Winner
		if ev.End.Winner != "" {
			s.state.HighestBidder = ev.End.Winner
		}
		if ev.End.HasFinalBid && ev.End.FinalBid > s.state.CurrentBid {
			s.state.CurrentBid = ev.End.FinalBid
		}
		return true

	case bidcodec.BidPlaced:
		if s.state.IsEnded || s.declaring || ev.Bid.Amount <= s.state.CurrentBid {
			return false
		}
		s.state.CurrentBid = ev.Bid.Amount
		s.state.HighestBidder = ev.Bid.Bidder
		return true
	}
	return false
}

// MarkEnded ends the session on the wall clock without a winner.
func (s *Session) MarkEnded() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsEnded {
		return s.state, false
	}
	s.state.IsEnded = true
	s.state.Phase = PhaseEnded
	return s.state, true
}

// DeclareWinner announces the highest bidder as the winner and asks
// settlement to finalize. It runs at most once per session; later calls and
// calls after a remote end marker return false. Bids are frozen from the
// moment the declaration starts.
//
// With no highest bidder the session is ended without a winner. If the
// announcement cannot be sent the session is still ended locally and
// ErrBroadcastFailed is returned.
func (s *Session) DeclareWinner(ctx context.Context, b Broadcaster, f Finalizer) (bool, error) {
	s.mu.Lock()
	if s.state.IsEnded || s.declaring {
		s.mu.Unlock()
		return false, nil
	}
	if s.state.HighestBidder == "" {
		s.state.IsEnded = true
		s.state.Phase = PhaseEnded
		s.mu.Unlock()
		return false, nil
	}
	s.declaring = true
	winner, amount := s.state.HighestBidder, s.state.CurrentBid
	s.mu.Unlock()

	if _, err := b.Send(ctx, s.channelID, bidcodec.EncodeAuctionEnd(winner, amount)); err != nil {
		s.MarkEnded()
		log.Error().
			Err(err).
			Str("product_id", s.product.ID).
			Str("winner", winner).
			Msg("failed to broadcast auction end")
		return false, fmt.Errorf("%w: %w", ErrBroadcastFailed, err)
	}

	s.mu.Lock()
	if !s.state.IsEnded || s.state.Winner == winner {
		s.state.IsEnded = true
		s.state.Phase = PhaseEnded
		s.state.Winner = winner
		s.state.HighestBidder = winner
		s.state.CurrentBid = amount
	}
	s.mu.Unlock()

	log.Info().
		Str("product_id", s.product.ID).
		Str("winner", winner).
		Float64("amount", amount).
		Msg("auction winner declared")

	if f == nil {
		return true, nil
	}
	req := FinalizeRequest{ProductID: s.product.ID, Winner: winner, Amount: amount}
	if err := f.Finalize(ctx, req); err != nil {
		return true, fmt.Errorf("%w: %w", ErrFinalizeFailed, err)
	}
	return true, nil
}

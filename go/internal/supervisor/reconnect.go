package supervisor

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/messaging"
)

// scheduleReconnectLocked arms a single reconnect attempt after the
// configured delay. At most one attempt is pending at a time.
func (s *Supervisor) scheduleReconnectLocked() {
	if s.reconnectCancel != nil || s.closed || s.user == nil {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.reconnectCancel = cancel
	timer := s.clock.NewTimer(s.config.ReconnectDelay)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		select {
		case <-timer.Chan():
			s.reconnect(ctx)
		case <-ctx.Done():
			stopAndDrainTimer(timer)
		}
	}()
}

func (s *Supervisor) cancelReconnectLocked() {
	if s.reconnectCancel != nil {
		s.reconnectCancel()
		s.reconnectCancel = nil
	}
}

// reconnect replaces the connection and re-attaches the joined auction,
// keeping its state and folding in whatever was missed while offline.
func (s *Supervisor) reconnect(ctx context.Context) {
	s.mu.Lock()
	s.reconnectCancel = nil
	if s.closed || s.user == nil || s.status != StatusDisconnected {
		s.mu.Unlock()
		return
	}
	user := *s.user
	s.gen++
	gen := s.gen
	w := s.channel
	old := teardown{unlisten: s.unlisten, conn: s.conn}
	s.unlisten, s.conn = nil, nil
	var oldSub messaging.Subscription
	if w != nil {
		oldSub, w.sub = w.sub, nil
	}
	s.status = StatusConnecting
	u := s.updateLocked("")
	s.mu.Unlock()

	s.emit(u)
	if oldSub != nil {
		oldSub.Unsubscribe()
	}
	_ = old.release()

	log.Info().Str("user_id", user.ID).Msg("reconnecting to messaging backend")

	conn, err := s.dial(ctx, user)
	var sub messaging.Subscription
	var history []messaging.Message
	if err == nil && w != nil {
		channelID := w.session.ChannelID()
		sub, err = conn.Watch(ctx, channelID, s.enqueue(gen, w))
		if err == nil {
			history, err = conn.History(ctx, channelID, s.config.HistoryLimit)
		}
	}

	s.mu.Lock()
	if s.closed || gen != s.gen || err != nil {
		superseded := s.closed || gen != s.gen
		if !superseded {
			s.status = StatusDisconnected
			s.scheduleReconnectLocked()
		}
		u := s.updateLocked(NoticeReconnectFailed)
		u.Err = err
		s.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
		if conn != nil {
			_ = conn.Close()
		}
		if !superseded {
			log.Error().Err(err).Str("user_id", user.ID).Msg("reconnection failed")
			s.emit(u)
		}
		return
	}

	s.attachLocked(conn, gen)
	var stale messaging.Subscription
	if w != nil && s.channel == w {
		w.sub = sub
	} else {
		stale, w = sub, nil
	}
	s.mu.Unlock()

	if stale != nil {
		stale.Unsubscribe()
	}
	if w != nil {
		state, _ := w.session.CatchUp(history)
		log.Info().
			Str("product_id", w.product.ID).
			Float64("current_bid", state.CurrentBid).
			Str("highest_bidder", state.HighestBidder).
			Msg("caught up after reconnect")
	}
	s.emit(s.update(NoticeReconnected))
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

package supervisor

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/messaging"
)

// runCountdown emits the remaining time every tick and declares the winner
// once the end time passes.
func (s *Supervisor) runCountdown(ctx context.Context, w *channelWatch) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		if s.tick(ctx, w) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

// tick reports whether the countdown is over.
func (s *Supervisor) tick(ctx context.Context, w *channelWatch) bool {
	if w.session.Snapshot().IsEnded {
		s.emitFor(w, "")
		return true
	}
	if w.product.EndTime.After(s.clock.Now()) {
		s.emitFor(w, "")
		return false
	}

	s.mu.Lock()
	var b auction.Broadcaster = offlineBroadcaster{}
	if s.conn != nil && s.status == StatusConnected {
		b = s.conn
	}
	s.mu.Unlock()

	declared, err := w.session.DeclareWinner(ctx, b, s.finalizer)
	notice := ""
	if err != nil {
		notice = err.Error()
		log.Error().Err(err).Str("product_id", w.product.ID).Msg("failed to close auction")
	} else if declared {
		log.Info().Str("product_id", w.product.ID).Msg("auction closed")
	}
	s.emitFor(w, notice)
	return true
}

// emitFor emits an update while w is still the joined auction.
func (s *Supervisor) emitFor(w *channelWatch, notice string) {
	s.mu.Lock()
	if s.channel != w {
		s.mu.Unlock()
		return
	}
	u := s.updateLocked(notice)
	s.mu.Unlock()
	s.emit(u)
}

type offlineBroadcaster struct{}

func (offlineBroadcaster) Send(context.Context, string, messaging.Message) (messaging.Message, error) {
	return messaging.Message{}, messaging.ErrOffline
}

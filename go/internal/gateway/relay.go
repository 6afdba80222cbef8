package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/bidcodec"
	"github.com/mcdev12/auctionhouse/go/internal/messaging"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

var ErrChannelNotWatched = errors.New("channel is not being relayed")

// Relay keeps one watch and one reconciliation session per channel that has
// browser connections, and forwards what it sees to the connection manager.
type Relay struct {
	conn        messaging.Conn
	broadcaster EventBroadcaster
	clock       clockwork.Clock
	historySize int

	mu       sync.Mutex
	channels map[string]*relayChannel
	joins    singleflight.Group
}

// EventBroadcaster fans an event out to a channel's connections.
type EventBroadcaster interface {
	BroadcastToChannel(channelID string, event *ChannelEvent)
}

type relayChannel struct {
	product models.Product
	session *auction.Session
	sub     messaging.Subscription
}

// NewRelay creates a relay that watches channels through conn.
func NewRelay(conn messaging.Conn, broadcaster EventBroadcaster, clock clockwork.Clock) *Relay {
	return &Relay{
		conn:        conn,
		broadcaster: broadcaster,
		clock:       clock,
		historySize: messaging.DefaultHistoryLimit,
		channels:    make(map[string]*relayChannel),
	}
}

// Ensure starts relaying the product's channel if it is not relayed yet and
// returns its session. The channel is named after the product on first use.
func (r *Relay) Ensure(ctx context.Context, product models.Product) (*auction.Session, error) {
	channelID := messaging.ChannelID(product.ID)

	v, err, _ := r.joins.Do(channelID, func() (any, error) {
		r.mu.Lock()
		rc, ok := r.channels[channelID]
		r.mu.Unlock()
		if ok {
			return rc.session, nil
		}
		return r.start(context.WithoutCancel(ctx), product)
	})
	if err != nil {
		return nil, err
	}
	return v.(*auction.Session), nil
}

func (r *Relay) start(ctx context.Context, product models.Product) (*auction.Session, error) {
	channelID := messaging.ChannelID(product.ID)

	if err := r.nameChannel(ctx, channelID, product); err != nil {
		log.Warn().Err(err).Str("channel_id", channelID).Msg("failed to name channel")
	}

	session := auction.NewSession(product)
	session.BeginHydration()

	sub, err := r.conn.Watch(ctx, channelID, r.handler(channelID, product, session))
	if err != nil {
		return nil, fmt.Errorf("failed to watch channel: %w", err)
	}
	history, err := r.conn.History(ctx, channelID, r.historySize)
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to load channel history: %w", err)
	}
	state := session.Hydrate(history)

	r.mu.Lock()
	r.channels[channelID] = &relayChannel{product: product, session: session, sub: sub}
	r.mu.Unlock()

	log.Info().
		Str("channel_id", channelID).
		Float64("current_bid", state.CurrentBid).
		Bool("ended", state.IsEnded).
		Msg("relaying channel")

	return session, nil
}

func (r *Relay) nameChannel(ctx context.Context, channelID string, product models.Product) error {
	data, err := r.conn.ChannelData(ctx, channelID)
	if err != nil {
		return err
	}
	if data.Name != "" {
		return nil
	}
	data.Name = messaging.ChannelName(product.Name)
	data.ProductID = product.ID
	return r.conn.UpdateChannel(ctx, channelID, data)
}

func (r *Relay) handler(channelID string, product models.Product, session *auction.Session) messaging.Handler {
	return func(ev messaging.Event) {
		now := r.clock.Now()
		if ev.Message != nil {
			if event, err := messageEvent(channelID, *ev.Message, now); err == nil {
				r.broadcaster.BroadcastToChannel(channelID, event)
			}
		}

		state, changed := session.Apply(bidcodec.Decode(ev))
		if !changed {
			return
		}
		timeLeft := auction.FormatTimeLeft(product.EndTime.Sub(now))
		if event, err := stateEvent(channelID, state, timeLeft, now); err == nil {
			r.broadcaster.BroadcastToChannel(channelID, event)
		}
	}
}

// State returns the relayed state of a channel along with its time left.
func (r *Relay) State(channelID string) (auction.State, string, bool) {
	r.mu.Lock()
	rc, ok := r.channels[channelID]
	r.mu.Unlock()
	if !ok {
		return auction.State{}, "", false
	}
	return rc.session.Snapshot(), auction.FormatTimeLeft(rc.product.EndTime.Sub(r.clock.Now())), true
}

// PlaceBid validates amount against the relayed state and sends it on
// behalf of user.
func (r *Relay) PlaceBid(ctx context.Context, user models.User, channelID string, amount float64) error {
	r.mu.Lock()
	rc, ok := r.channels[channelID]
	r.mu.Unlock()
	if !ok {
		return ErrChannelNotWatched
	}

	if rc.product.HasEnded(r.clock.Now()) {
		return auction.ErrAuctionEnded
	}
	if err := auction.ValidateBid(rc.session.Snapshot(), rc.product, amount); err != nil {
		return err
	}

	msg := bidcodec.EncodeBid(user.ID, amount)
	msg.UserID = user.ID
	if _, err := r.conn.Send(ctx, channelID, msg); err != nil {
		return fmt.Errorf("failed to place bid: %w", err)
	}

	log.Info().
		Str("channel_id", channelID).
		Str("user_id", user.ID).
		Float64("amount", amount).
		Msg("bid relayed")
	return nil
}

// Release stops relaying a channel.
func (r *Relay) Release(channelID string) {
	r.mu.Lock()
	rc, ok := r.channels[channelID]
	delete(r.channels, channelID)
	r.mu.Unlock()

	if ok {
		rc.sub.Unsubscribe()
		log.Info().Str("channel_id", channelID).Msg("stopped relaying channel")
	}
}

// Channels returns the number of relayed channels.
func (r *Relay) Channels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Close stops relaying every channel.
func (r *Relay) Close() {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[string]*relayChannel)
	r.mu.Unlock()

	for _, rc := range channels {
		rc.sub.Unsubscribe()
	}
}

// Package supervisor owns a participant's messaging connection and the
// auction session riding on it.
package supervisor

import (
	"context"
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

// Supervisor keeps at most one authenticated connection and one joined
// auction. Backend events are processed by a single goroutine in delivery
// order.
type Supervisor struct {
	dialer    messaging.Dialer
	tokens    TokenSource
	finalizer auction.Finalizer
	clock     clockwork.Clock
	config    Config

	mu              sync.Mutex
	user            *models.User
	conn            messaging.Conn
	unlisten        func()
	status          Status
	gen             uint64 // bumped on every new connection attempt
	channel         *channelWatch
	reconnectCancel context.CancelFunc
	closed          bool

	joins   singleflight.Group
	events  chan envelope
	updates chan Update

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type channelWatch struct {
	product models.Product
	session *auction.Session
	sub     messaging.Subscription
	cancel  context.CancelFunc // stops the countdown
}

// stop releases the watch. Listeners are removed before anything else.
func (w *channelWatch) stop() {
	if w.sub != nil {
		w.sub.Unsubscribe()
	}
	if w.cancel != nil {
		w.cancel()
	}
}

type envelope struct {
	gen   uint64
	watch *channelWatch
	event messaging.Event
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Supervisor) { s.clock = clock }
}

func WithConfig(config Config) Option {
	return func(s *Supervisor) { s.config = config }
}

// WithFinalizer sets who is told about a declared winner.
func WithFinalizer(f auction.Finalizer) Option {
	return func(s *Supervisor) { s.finalizer = f }
}

// New creates a supervisor and starts its event loop. Close must be called
// to release it.
func New(dialer messaging.Dialer, tokens TokenSource, opts ...Option) *Supervisor {
	s := &Supervisor{
		dialer: dialer,
		tokens: tokens,
		clock:  clockwork.NewRealClock(),
		config: DefaultConfig(),
		status: StatusDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.events = make(chan envelope, s.config.EventBuffer)
	s.updates = make(chan Update, s.config.UpdateBuffer)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.run()
	return s
}

// Updates returns the stream of state updates. Updates are dropped when the
// consumer falls behind.
func (s *Supervisor) Updates() <-chan Update { return s.updates }

// Status returns the current connection status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Session returns the joined auction session, if any.
func (s *Supervisor) Session() (*auction.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		return nil, false
	}
	return s.channel.session, true
}

// Connect authenticates user and opens a connection, tearing down any
// previous connection and auction first. On failure a reconnect is scheduled.
func (s *Supervisor) Connect(ctx context.Context, user models.User) error {
	if user.ID == "" {
		return errMissingUserID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := s.detachLocked()
	s.user = &user
	s.gen++
	gen := s.gen
	s.status = StatusConnecting
	u := s.updateLocked("")
	s.mu.Unlock()

	old.release()
	s.emit(u)

	conn, err := s.dial(ctx, user)

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrSuperseded
	}
	if err != nil {
		s.status = StatusDisconnected
		s.scheduleReconnectLocked()
		u := s.updateLocked(err.Error())
		u.Err = err
		s.mu.Unlock()
		s.emit(u)
		return err
	}
	s.attachLocked(conn, gen)
	u = s.updateLocked("")
	s.mu.Unlock()

	s.emit(u)
	log.Info().Str("user_id", user.ID).Msg("connected to messaging backend")
	return nil
}

// Disconnect tears down the auction and the connection and forgets the user,
// which stops automatic reconnection.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	td := s.detachLocked()
	s.user = nil
	s.gen++
	s.status = StatusDisconnected
	u := s.updateLocked("")
	s.mu.Unlock()

	td.release()
	s.emit(u)
}

// Close disconnects and stops every goroutine the supervisor started.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	td := s.detachLocked()
	s.user = nil
	s.status = StatusDisconnected
	s.mu.Unlock()

	err := td.release()
	s.cancel()
	s.wg.Wait()
	return err
}

// Join opens the product's channel, hydrates the auction from history and
// starts the countdown. Concurrent joins for the same product share one
// attempt; joining a different product leaves the current one.
func (s *Supervisor) Join(ctx context.Context, product models.Product) (*auction.Session, error) {
	v, err, _ := s.joins.Do(messaging.ChannelID(product.ID), func() (any, error) {
		return s.join(ctx, product)
	})
	if err != nil {
		return nil, err
	}
	return v.(*auction.Session), nil
}

func (s *Supervisor) join(ctx context.Context, product models.Product) (*auction.Session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.conn == nil || s.status != StatusConnected {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	if w := s.channel; w != nil && w.product.ID == product.ID {
		s.mu.Unlock()
		return w.session, nil
	}
	previous := s.channel
	conn, gen := s.conn, s.gen
	session := auction.NewSession(product)
	session.BeginHydration()
	w := &channelWatch{product: product, session: session}
	s.channel = w
	s.mu.Unlock()

	if previous != nil {
		previous.stop()
	}

	channelID := session.ChannelID()
	sub, err := conn.Watch(ctx, channelID, s.enqueue(gen, w))
	if err != nil {
		s.abandon(w)
		return nil, fmt.Errorf("failed to watch channel: %w", err)
	}
	history, err := conn.History(ctx, channelID, s.config.HistoryLimit)
	if err != nil {
		sub.Unsubscribe()
		s.abandon(w)
		return nil, fmt.Errorf("failed to load channel history: %w", err)
	}

	s.mu.Lock()
	if s.closed || s.channel != w || s.gen != gen {
		s.mu.Unlock()
		sub.Unsubscribe()
		s.abandon(w)
		return nil, ErrSuperseded
	}
	w.sub = sub
	countdownCtx, cancel := context.WithCancel(s.ctx)
	w.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	state := session.Hydrate(history)
	go s.runCountdown(countdownCtx, w)

	log.Info().
		Str("product_id", product.ID).
		Str("channel_id", channelID).
		Float64("current_bid", state.CurrentBid).
		Str("highest_bidder", state.HighestBidder).
		Bool("ended", state.IsEnded).
		Msg("joined auction")

	s.emit(s.update(""))
	return session, nil
}

// Leave stops following the joined auction.
func (s *Supervisor) Leave() {
	s.mu.Lock()
	w := s.channel
	s.channel = nil
	u := s.updateLocked("")
	s.mu.Unlock()

	if w != nil {
		w.stop()
		s.emit(u)
	}
}

// PlaceBid validates amount against the local state and announces it. The
// state changes when the announcement comes back on the channel.
func (s *Supervisor) PlaceBid(ctx context.Context, amount float64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.user == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.status != StatusConnected || s.conn == nil {
		s.mu.Unlock()
		return ErrReconnecting
	}
	w, conn, userID := s.channel, s.conn, s.user.ID
	s.mu.Unlock()

	if w == nil {
		return ErrNotJoined
	}
	if err := auction.ValidateBid(w.session.Snapshot(), w.product, amount); err != nil {
		return err
	}

	if _, err := conn.Send(ctx, w.session.ChannelID(), bidcodec.EncodeBid(userID, amount)); err != nil {
		log.Error().Err(err).Str("product_id", w.product.ID).Msg("failed to place bid")
		return fmt.Errorf("failed to place bid: %w", err)
	}

	log.Info().
		Str("product_id", w.product.ID).
		Str("user_id", userID).
		Float64("amount", amount).
		Msg("bid placed")
	return nil
}

func (s *Supervisor) dial(ctx context.Context, user models.User) (messaging.Conn, error) {
	token, err := s.tokens.Token(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch token: %w", err)
	}
	conn, err := s.dialer.Dial(ctx, user, token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// attachLocked installs a freshly dialed connection.
func (s *Supervisor) attachLocked(conn messaging.Conn, gen uint64) {
	s.conn = conn
	s.unlisten = conn.OnConnectionChanged(func(online bool) {
		s.enqueue(gen, nil)(messaging.Event{Type: messaging.EventConnectionChanged, Online: online})
	})
	s.status = StatusConnected
}

type teardown struct {
	watch    *channelWatch
	unlisten func()
	conn     messaging.Conn
}

// release runs the teardown in order: channel watch, listeners, connection.
func (td teardown) release() error {
	if td.watch != nil {
		td.watch.stop()
	}
	if td.unlisten != nil {
		td.unlisten()
	}
	if td.conn != nil {
		return td.conn.Close()
	}
	return nil
}

func (s *Supervisor) detachLocked() teardown {
	td := teardown{watch: s.channel, unlisten: s.unlisten, conn: s.conn}
	s.channel, s.unlisten, s.conn = nil, nil, nil
	s.cancelReconnectLocked()
	return td
}

func (s *Supervisor) abandon(w *channelWatch) {
	s.mu.Lock()
	if s.channel == w {
		s.channel = nil
	}
	s.mu.Unlock()
}

func (s *Supervisor) enqueue(gen uint64, w *channelWatch) messaging.Handler {
	return func(ev messaging.Event) {
		select {
		case s.events <- envelope{gen: gen, watch: w, event: ev}:
		case <-s.ctx.Done():
		}
	}
}

func (s *Supervisor) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case env := <-s.events:
			s.handle(env)
		}
	}
}

func (s *Supervisor) handle(env envelope) {
	ev := bidcodec.Decode(env.event)

	s.mu.Lock()
	if s.closed || env.gen != s.gen {
		s.mu.Unlock()
		return
	}

	if cc, ok := ev.(bidcodec.ConnectionChanged); ok {
		notice := ""
		switch {
		case !cc.Online && s.status == StatusConnected:
			s.status = StatusDisconnected
			s.scheduleReconnectLocked()
			notice = NoticeConnectionLost
			log.Warn().Msg("messaging connection lost")
		case cc.Online && s.status == StatusDisconnected:
			s.status = StatusConnected
			s.cancelReconnectLocked()
			notice = NoticeReconnected
		default:
			s.mu.Unlock()
			return
		}
		u := s.updateLocked(notice)
		s.mu.Unlock()
		s.emit(u)
		return
	}

	w := s.channel
	s.mu.Unlock()
	if w == nil || w != env.watch {
		return
	}

	if _, changed := w.session.Apply(ev); changed {
		s.emit(s.update(""))
	}
}

func (s *Supervisor) update(notice string) Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(notice)
}

func (s *Supervisor) updateLocked(notice string) Update {
	u := Update{Status: s.status, Notice: notice}
	if w := s.channel; w != nil {
		state := w.session.Snapshot()
		u.ProductID = w.product.ID
		u.State = &state
		u.TimeLeft = auction.FormatTimeLeft(w.product.EndTime.Sub(s.clock.Now()))
	}
	return u
}

func (s *Supervisor) emit(u Update) {
	select {
	case s.updates <- u:
	default:
		log.Debug().Str("status", string(u.Status)).Msg("update channel full, dropping update")
	}
}

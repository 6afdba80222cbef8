package messaging

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// Hub is an in-process messaging backend. It keeps the same per-channel
// history window as the JetStream stream and delivers to watchers
// synchronously, in publish order. Handlers must not publish to the channel
// they are being called for from inside the callback.
type Hub struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	historyCap int
	channels   map[string]*hubChannel
	conns      map[*memoryConn]struct{}
	dialErr    error
	dials      int
}

type hubChannel struct {
	deliverMu sync.Mutex
	messages  []Message
	data      ChannelData
	subs      map[*memorySub]struct{}
	watches   int
}

// NewHub creates an empty hub.
func NewHub(clock clockwork.Clock) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		clock:      clock,
		historyCap: DefaultHistoryLimit,
		channels:   make(map[string]*hubChannel),
		conns:      make(map[*memoryConn]struct{}),
	}
}

// Dial implements Dialer.
func (h *Hub) Dial(ctx context.Context, user models.User, token string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.dials++
	if h.dialErr != nil {
		return nil, h.dialErr
	}

	c := &memoryConn{
		hub:       h,
		user:      user,
		listeners: newListenerSet(),
		subs:      make(map[*memorySub]struct{}),
	}
	c.online.Store(true)
	h.conns[c] = struct{}{}
	return c, nil
}

// SetDialError makes subsequent dials fail with err until cleared with nil.
func (h *Hub) SetDialError(err error) {
	h.mu.Lock()
	h.dialErr = err
	h.mu.Unlock()
}

// Dials returns how many dial attempts the hub has seen.
func (h *Hub) Dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

// SetOnline flips every open connection of userID online or offline and
// notifies their connection listeners.
func (h *Hub) SetOnline(userID string, online bool) {
	h.mu.Lock()
	var targets []*memoryConn
	for c := range h.conns {
		if c.user.ID == userID {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if c.online.Swap(online) != online {
			c.listeners.notify(online)
		}
	}
}

// Messages returns a copy of the retained history of a channel.
func (h *Hub) Messages(channelID string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[channelID]
	if !ok {
		return nil
	}
	return append([]Message(nil), ch.messages...)
}

// Watches returns how many watch subscriptions were ever opened on a channel.
func (h *Hub) Watches(channelID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.channels[channelID]; ok {
		return ch.watches
	}
	return 0
}

// Subscribers returns the number of active watch subscriptions on a channel.
func (h *Hub) Subscribers(channelID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.channels[channelID]; ok {
		return len(ch.subs)
	}
	return 0
}

// OpenConns returns the number of connections that have not been closed.
func (h *Hub) OpenConns() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// channel returns the channel state, creating it on first use. Callers hold h.mu.
func (h *Hub) channel(channelID string) *hubChannel {
	ch, ok := h.channels[channelID]
	if !ok {
		ch = &hubChannel{subs: make(map[*memorySub]struct{})}
		h.channels[channelID] = ch
	}
	return ch
}

func (h *Hub) publish(channelID string, msg Message) Message {
	h.mu.Lock()
	ch := h.channel(channelID)
	h.mu.Unlock()

	ch.deliverMu.Lock()
	defer ch.deliverMu.Unlock()

	h.mu.Lock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = h.clock.Now().UTC()
	ch.messages = append(ch.messages, msg)
	if over := len(ch.messages) - h.historyCap; over > 0 {
		ch.messages = append([]Message(nil), ch.messages[over:]...)
	}
	subs := make([]*memorySub, 0, len(ch.subs))
	for s := range ch.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.deliver(channelID, msg)
	}
	return msg
}

type memoryConn struct {
	hub       *Hub
	user      models.User
	online    atomic.Bool
	closed    atomic.Bool
	listeners *listenerSet

	mu   sync.Mutex
	subs map[*memorySub]struct{}
}

type memorySub struct {
	conn      *memoryConn
	channelID string
	handler   Handler
	stopped   atomic.Bool
}

func (s *memorySub) deliver(channelID string, msg Message) {
	if s.stopped.Load() || !s.conn.online.Load() {
		return
	}
	m := msg
	s.handler(Event{Type: EventMessageNew, ChannelID: channelID, Message: &m})
}

func (s *memorySub) Unsubscribe() {
	if s.stopped.Swap(true) {
		return
	}
	h := s.conn.hub
	h.mu.Lock()
	if ch, ok := h.channels[s.channelID]; ok {
		delete(ch.subs, s)
	}
	h.mu.Unlock()

	s.conn.mu.Lock()
	delete(s.conn.subs, s)
	s.conn.mu.Unlock()
}

func (c *memoryConn) User() models.User { return c.user }

func (c *memoryConn) check(channelID string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.online.Load() {
		return ErrOffline
	}
	return ValidateChannelID(channelID)
}

func (c *memoryConn) Watch(ctx context.Context, channelID string, handler Handler) (Subscription, error) {
	if err := c.check(channelID); err != nil {
		return nil, err
	}

	sub := &memorySub{conn: c, channelID: channelID, handler: handler}

	c.hub.mu.Lock()
	ch := c.hub.channel(channelID)
	ch.subs[sub] = struct{}{}
	ch.watches++
	c.hub.mu.Unlock()

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	return sub, nil
}

func (c *memoryConn) History(ctx context.Context, channelID string, limit int) ([]Message, error) {
	if err := c.check(channelID); err != nil {
		return nil, err
	}

	msgs := c.hub.Messages(channelID)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (c *memoryConn) Send(ctx context.Context, channelID string, msg Message) (Message, error) {
	if err := c.check(channelID); err != nil {
		return Message{}, fmt.Errorf("failed to send message: %w", err)
	}
	if msg.UserID == "" {
		msg.UserID = c.user.ID
	}
	if msg.Type == "" {
		msg.Type = MessageTypeRegular
	}
	return c.hub.publish(channelID, msg), nil
}

func (c *memoryConn) ChannelData(ctx context.Context, channelID string) (ChannelData, error) {
	if err := c.check(channelID); err != nil {
		return ChannelData{}, err
	}

	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if ch, ok := c.hub.channels[channelID]; ok {
		return ch.data, nil
	}
	return ChannelData{}, nil
}

func (c *memoryConn) UpdateChannel(ctx context.Context, channelID string, data ChannelData) error {
	if err := c.check(channelID); err != nil {
		return err
	}

	c.hub.mu.Lock()
	c.hub.channel(channelID).data = data
	c.hub.mu.Unlock()
	return nil
}

func (c *memoryConn) OnConnectionChanged(fn func(online bool)) func() {
	return c.listeners.add(fn)
}

func (c *memoryConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.listeners.clear()

	c.mu.Lock()
	subs := make([]*memorySub, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}

	c.hub.mu.Lock()
	delete(c.hub.conns, c)
	c.hub.mu.Unlock()
	return nil
}

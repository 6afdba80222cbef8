package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// JetStreamConfig holds configuration for the NATS JetStream backend.
type JetStreamConfig struct {
	URL               string
	StreamName        string
	SubjectPrefix     string // channel subjects are <prefix>.<channelID>
	Bucket            string // KV bucket holding ChannelData
	MaxMsgsPerSubject int64  // history window per channel
	MaxAge            time.Duration
	Replicas          int
	DuplicateWindow   time.Duration
	FetchTimeout      time.Duration

	// Provision creates or updates the stream and bucket on dial. Only the
	// server does this; participants expect them to exist.
	Provision bool

	// AutoReconnect lets nats.go reconnect on its own. Participant
	// connections leave it off so the supervisor owns reconnection.
	AutoReconnect bool
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConfig returns default JetStream backend configuration.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:               nats.DefaultURL,
		StreamName:        "AUCTION_CHANNELS",
		SubjectPrefix:     "chat." + ChannelType,
		Bucket:            "AUCTION_CHANNEL_DATA",
		MaxMsgsPerSubject: DefaultHistoryLimit,
		MaxAge:            30 * 24 * time.Hour,
		Replicas:          1,
		DuplicateWindow:   2 * time.Minute,
		FetchTimeout:      2 * time.Second,
		MaxReconnects:     -1, // Infinite
		ReconnectWait:     2 * time.Second,
	}
}

// NATSDialer dials JetStream backed connections.
type NATSDialer struct {
	config JetStreamConfig
}

// NewNATSDialer creates a dialer for the given configuration.
func NewNATSDialer(config JetStreamConfig) *NATSDialer {
	return &NATSDialer{config: config}
}

type natsConn struct {
	user      models.User
	config    JetStreamConfig
	nc        *nats.Conn
	js        jetstream.JetStream
	stream    jetstream.Stream
	kv        jetstream.KeyValue
	listeners *listenerSet

	closeOnce sync.Once
}

// Dial implements Dialer. The token is presented to the NATS server as the
// connection auth token.
func (d *NATSDialer) Dial(ctx context.Context, user models.User, token string) (Conn, error) {
	c := &natsConn{
		user:      user,
		config:    d.config,
		listeners: newListenerSet(),
	}

	opts := []nats.Option{
		nats.Name("auctionhouse-" + user.ID),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Str("user_id", user.ID).Msg("NATS disconnected")
			c.listeners.notify(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Str("user_id", user.ID).Msg("NATS reconnected")
			c.listeners.notify(true)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	if d.config.AutoReconnect {
		opts = append(opts,
			nats.MaxReconnects(d.config.MaxReconnects),
			nats.ReconnectWait(d.config.ReconnectWait),
		)
	} else {
		opts = append(opts, nats.NoReconnect())
	}

	nc, err := nats.Connect(d.config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	c.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	c.js = js

	if d.config.Provision {
		if err := c.provision(ctx); err != nil {
			nc.Close()
			return nil, err
		}
	}

	if c.stream, err = js.Stream(ctx, d.config.StreamName); err != nil {
		nc.Close()
		return nil, fmt.Errorf("get stream %s: %w", d.config.StreamName, err)
	}
	if c.kv, err = js.KeyValue(ctx, d.config.Bucket); err != nil {
		nc.Close()
		return nil, fmt.Errorf("get bucket %s: %w", d.config.Bucket, err)
	}

	log.Debug().
		Str("user_id", user.ID).
		Str("url", nc.ConnectedUrl()).
		Msg("messaging connection established")

	return c, nil
}

func (c *natsConn) provision(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:              c.config.StreamName,
		Description:       "Auction channel messages",
		Subjects:          []string{fmt.Sprintf("%s.>", c.config.SubjectPrefix)},
		Retention:         jetstream.LimitsPolicy,
		MaxAge:            c.config.MaxAge,
		MaxMsgsPerSubject: c.config.MaxMsgsPerSubject,
		Storage:           jetstream.FileStorage,
		Replicas:          c.config.Replicas,
		Duplicates:        c.config.DuplicateWindow,
	}

	stream, err := c.js.Stream(ctx, c.config.StreamName)
	if err != nil {
		if _, err = c.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", c.config.StreamName).Msg("created JetStream stream")
	} else {
		info, err := stream.Info(ctx)
		if err != nil {
			return fmt.Errorf("get stream info: %w", err)
		}
		if !isStreamConfigEqual(info.Config, sc) {
			if _, err = c.js.UpdateStream(ctx, sc); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
			log.Info().Str("stream", c.config.StreamName).Msg("updated JetStream stream")
		}
	}

	if _, err := c.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      c.config.Bucket,
		Description: "Auction channel metadata",
		History:     1,
		Storage:     jetstream.FileStorage,
		Replicas:    c.config.Replicas,
	}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	if len(a.Subjects) != len(b.Subjects) {
		return false
	}
	for i := range a.Subjects {
		if a.Subjects[i] != b.Subjects[i] {
			return false
		}
	}
	return a.MaxAge == b.MaxAge &&
		a.MaxMsgsPerSubject == b.MaxMsgsPerSubject &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}

func (c *natsConn) subject(channelID string) string {
	return c.config.SubjectPrefix + "." + channelID
}

func (c *natsConn) check(channelID string) error {
	if c.nc.IsClosed() {
		return ErrClosed
	}
	if !c.nc.IsConnected() {
		return ErrOffline
	}
	return ValidateChannelID(channelID)
}

func (c *natsConn) User() models.User { return c.user }

type natsSubscription struct {
	cc jetstream.ConsumeContext
}

func (s natsSubscription) Unsubscribe() { s.cc.Stop() }

// Watch uses an ordered consumer so messages arrive in stream order.
func (c *natsConn) Watch(ctx context.Context, channelID string, handler Handler) (Subscription, error) {
	if err := c.check(channelID); err != nil {
		return nil, err
	}

	cons, err := c.js.OrderedConsumer(ctx, c.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{c.subject(channelID)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create ordered consumer: %w", err)
	}

	cc, err := cons.Consume(func(m jetstream.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data(), &msg); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject()).Msg("dropping undecodable channel message")
			return
		}
		handler(Event{Type: EventMessageNew, ChannelID: channelID, Message: &msg})
	})
	if err != nil {
		return nil, fmt.Errorf("start consuming: %w", err)
	}

	log.Debug().Str("channel_id", channelID).Str("user_id", c.user.ID).Msg("watching channel")
	return natsSubscription{cc: cc}, nil
}

// History reads the retained window through a short lived ephemeral consumer.
func (c *natsConn) History(ctx context.Context, channelID string, limit int) ([]Message, error) {
	if err := c.check(channelID); err != nil {
		return nil, err
	}

	cons, err := c.stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject:     c.subject(channelID),
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		AckPolicy:         jetstream.AckNonePolicy,
		InactiveThreshold: time.Minute,
		MemoryStorage:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create history consumer: %w", err)
	}
	info := cons.CachedInfo()
	defer func() {
		if err := c.stream.DeleteConsumer(context.Background(), info.Name); err != nil {
			log.Debug().Err(err).Str("consumer", info.Name).Msg("failed to delete history consumer")
		}
	}()

	pending := int(info.NumPending)
	if pending == 0 {
		return nil, nil
	}

	batch, err := cons.Fetch(pending, jetstream.FetchMaxWait(c.config.FetchTimeout))
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	messages := make([]Message, 0, pending)
	for m := range batch.Messages() {
		var msg Message
		if err := json.Unmarshal(m.Data(), &msg); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject()).Msg("skipping undecodable history message")
			continue
		}
		messages = append(messages, msg)
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (c *natsConn) Send(ctx context.Context, channelID string, msg Message) (Message, error) {
	if err := c.check(channelID); err != nil {
		return Message{}, fmt.Errorf("failed to send message: %w", err)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.UserID == "" {
		msg.UserID = c.user.ID
	}
	if msg.Type == "" {
		msg.Type = MessageTypeRegular
	}
	msg.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = c.js.PublishMsg(ctx, &nats.Msg{
		Subject: c.subject(channelID),
		Data:    data,
		Header: nats.Header{
			"Content-Type": []string{"application/json"},
			"User-Id":      []string{msg.UserID},
		},
	},
		jetstream.WithMsgID(msg.ID),
		jetstream.WithExpectStream(c.config.StreamName),
	)
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrDisconnected) {
			err = fmt.Errorf("%w: %w", ErrOffline, err)
		}
		return Message{}, fmt.Errorf("failed to publish message: %w", err)
	}
	return msg, nil
}

func (c *natsConn) ChannelData(ctx context.Context, channelID string) (ChannelData, error) {
	if err := c.check(channelID); err != nil {
		return ChannelData{}, err
	}

	entry, err := c.kv.Get(ctx, channelID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return ChannelData{}, nil
	}
	if err != nil {
		return ChannelData{}, fmt.Errorf("failed to get channel data: %w", err)
	}

	var data ChannelData
	if err := json.Unmarshal(entry.Value(), &data); err != nil {
		return ChannelData{}, fmt.Errorf("failed to decode channel data: %w", err)
	}
	return data, nil
}

// UpdateChannel replaces the stored channel data.
func (c *natsConn) UpdateChannel(ctx context.Context, channelID string, data ChannelData) error {
	if err := c.check(channelID); err != nil {
		return err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal channel data: %w", err)
	}
	if _, err := c.kv.Put(ctx, channelID, raw); err != nil {
		return fmt.Errorf("failed to update channel data: %w", err)
	}
	return nil
}

func (c *natsConn) OnConnectionChanged(fn func(online bool)) func() {
	return c.listeners.add(fn)
}

// Close drops listeners before closing so teardown does not surface as an
// offline signal.
func (c *natsConn) Close() error {
	c.closeOnce.Do(func() {
		c.listeners.clear()
		c.nc.Close()
	})
	return nil
}

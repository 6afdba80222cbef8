package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL   string // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string
	PingInterval  time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: "product_changes",
		PingInterval:  90 * time.Second,
	}
}

// Invalidator drops cached products.
type Invalidator interface {
	Invalidate(id string)
	InvalidateAll()
}

// InvalidationListener evicts cached products when the products table
// changes. Notifications carry the product id.
type InvalidationListener struct {
	listener *pq.Listener
	cache    Invalidator
	cfg      ListenerConfig
}

func NewInvalidationListener(cache Invalidator, cfg ListenerConfig) (*InvalidationListener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("catalog listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for catalog changes")

	return &InvalidationListener{listener: l, cache: cache, cfg: cfg}, nil
}

// Start blocks until ctx is done.
func (l *InvalidationListener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("catalog listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// Connection was re-established; anything may have changed meanwhile.
				l.cache.InvalidateAll()
				continue
			}
			l.cache.Invalidate(note.Extra)
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping catalog listener")
			}
		}
	}
}

func (l *InvalidationListener) Stop() error {
	return l.listener.Close()
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/catalog"
	"github.com/mcdev12/auctionhouse/go/internal/config"
	"github.com/mcdev12/auctionhouse/go/internal/gateway"
	"github.com/mcdev12/auctionhouse/go/internal/messaging"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/mcdev12/auctionhouse/go/internal/settlement"
	"github.com/mcdev12/auctionhouse/go/internal/tokens"
)

// systemUser owns the server's messaging connection.
var systemUser = models.User{ID: "system", Name: "Auction House"}

type Services struct {
	Catalog    *catalog.App
	Tokens     *tokens.Handler
	Settlement *settlement.App
	Gateway    *gateway.Service

	// Listener is nil unless the catalog is on Postgres.
	Listener *catalog.InvalidationListener

	conn messaging.Conn
	db   *sql.DB
}

func setupServices(ctx context.Context, cfg config.Server, clock clockwork.Clock) (*Services, error) {
	// Wire up dependency injection chain
	// Storage → Repository → App → Handlers
	s := &Services{}

	repo, err := s.setupCatalog(ctx, cfg, clock)
	if err != nil {
		return nil, err
	}
	s.Catalog = catalog.NewApp(repo, clock)

	dialer, err := setupMessaging(cfg, clock)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.conn, err = dialer.Dial(ctx, systemUser, "")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to connect to messaging backend: %w", err)
	}

	// A missing secret is not fatal; token requests fail with 500 instead.
	issuer, err := tokens.NewIssuer(cfg.TokenSecret, cfg.TokenTTL, clock)
	if err != nil && !errors.Is(err, tokens.ErrMissingSecret) {
		s.Close()
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}
	var verifier gateway.TokenVerifier
	if issuer != nil {
		verifier = issuer
	} else {
		log.Warn().Msg("AUCTION_TOKEN_SECRET is not set, token and websocket requests will fail")
	}
	s.Tokens = tokens.NewHandler(issuer)

	s.Settlement = settlement.NewApp(s.conn, s.Catalog, clock)
	s.Gateway = gateway.NewService(gateway.DefaultConfig(), s.conn, s.Catalog, verifier, clock)

	return s, nil
}

func (s *Services) setupCatalog(ctx context.Context, cfg config.Server, clock clockwork.Clock) (catalog.ProductRepository, error) {
	if cfg.CatalogSource == config.CatalogFile {
		products, err := catalog.LoadSeedFile(cfg.CatalogFile, clock.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		log.Info().Int("products", len(products)).Str("file", cfg.CatalogFile).Msg("loaded catalog")
		return catalog.NewMemoryRepository(products, clock), nil
	}

	database, err := setupDatabase(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	s.db = database

	cached := catalog.NewCachedRepository(
		catalog.NewPostgresRepository(database),
		catalog.CacheConfig{ItemTTL: cfg.CatalogItemTTL, ListTTL: cfg.CatalogListTTL},
		clock,
	)

	listenerCfg := catalog.DefaultListenerConfig()
	listenerCfg.DatabaseURL = cfg.DB.DSN()
	listener, err := catalog.NewInvalidationListener(cached, listenerCfg)
	if err != nil {
		// Entries still expire on their TTL.
		log.Warn().Err(err).Msg("catalog change notifications disabled")
	} else {
		s.Listener = listener
	}
	return cached, nil
}

func setupMessaging(cfg config.Server, clock clockwork.Clock) (messaging.Dialer, error) {
	switch cfg.MessagingBackend {
	case config.BackendMemory:
		log.Warn().Msg("using in-process messaging, participants must run in this process")
		return messaging.NewHub(clock), nil
	case config.BackendNATS:
		jsCfg := messaging.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATSURL
		jsCfg.Provision = true
		jsCfg.AutoReconnect = true
		return messaging.NewNATSDialer(jsCfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown messaging backend %q", config.ErrInvalidConfig, cfg.MessagingBackend)
	}
}

// Close releases the messaging connection and the database.
func (s *Services) Close() {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close messaging connection")
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}
}

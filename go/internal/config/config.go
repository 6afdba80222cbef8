// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/dbconfig"
)

const (
	BackendNATS   = "nats"
	BackendMemory = "memory"

	CatalogPostgres = "postgres"
	CatalogFile     = "file"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Server configures the auction server.
type Server struct {
	Port string `env:"PORT" envDefault:"8080"`

	TokenSecret string        `env:"AUCTION_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"AUCTION_TOKEN_TTL" envDefault:"168h"`

	MessagingBackend string `env:"MESSAGING_BACKEND" envDefault:"nats"`
	NATSURL          string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	CatalogSource  string        `env:"CATALOG_SOURCE" envDefault:"file"`
	CatalogFile    string        `env:"CATALOG_FILE"`
	CatalogItemTTL time.Duration `env:"CATALOG_ITEM_TTL" envDefault:"30s"`
	CatalogListTTL time.Duration `env:"CATALOG_LIST_TTL" envDefault:"60s"`

	Log Logging
	DB  dbconfig.Config
}

// Bidder configures the bidder CLI. Flags override these values.
type Bidder struct {
	ServerURL string `env:"AUCTION_SERVER_URL" envDefault:"http://localhost:8080"`
	NATSURL   string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	UserID    string `env:"AUCTION_USER_ID"`
	UserName  string `env:"AUCTION_USER_NAME"`

	Log Logging
}

// Logging configures the global zerolog logger.
type Logging struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
}

// LoadDotEnv loads .env when present.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
}

// LoadServer parses and validates the server configuration.
func LoadServer() (Server, error) {
	cfg, err := env.ParseAs[Server]()
	if err != nil {
		return Server{}, fmt.Errorf("failed to parse server config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks enumerated settings. A missing token secret is allowed;
// token and gateway requests then fail with a configuration error.
func (s Server) Validate() error {
	switch s.MessagingBackend {
	case BackendNATS, BackendMemory:
	default:
		return fmt.Errorf("%w: MESSAGING_BACKEND must be %q or %q, got %q", ErrInvalidConfig, BackendNATS, BackendMemory, s.MessagingBackend)
	}
	switch s.CatalogSource {
	case CatalogPostgres, CatalogFile:
	default:
		return fmt.Errorf("%w: CATALOG_SOURCE must be %q or %q, got %q", ErrInvalidConfig, CatalogPostgres, CatalogFile, s.CatalogSource)
	}
	if s.TokenTTL <= 0 {
		return fmt.Errorf("%w: AUCTION_TOKEN_TTL must be positive", ErrInvalidConfig)
	}
	return nil
}

// LoadBidder parses the bidder configuration.
func LoadBidder() (Bidder, error) {
	cfg, err := env.ParseAs[Bidder]()
	if err != nil {
		return Bidder{}, fmt.Errorf("failed to parse bidder config: %w", err)
	}
	return cfg, nil
}

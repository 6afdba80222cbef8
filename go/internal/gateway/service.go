// Package gateway relays auction channels to browser WebSocket connections.
package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/messaging"
)

// Service is the realtime gateway: connection manager, relay and routes
type Service struct {
	connectionManager *ConnectionManager
	relay             *Relay
	wsHandler         *WebSocketHandler
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService wires a gateway on top of a system connection to the messaging
// backend. verifier may be nil, in which case every connection is refused.
func NewService(config Config, conn messaging.Conn, products ProductSource, verifier TokenVerifier, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	connectionManager := NewConnectionManager(config.ConnectionConfig, clock)
	relay := NewRelay(conn, connectionManager, clock)
	wsHandler := NewWebSocketHandler(connectionManager, relay, products, verifier)

	connectionManager.OnCommand(wsHandler.HandleCommand)
	connectionManager.OnChannelEmpty(func(channelID string) {
		wsHandler.releaseIfIdle(channelID)
	})

	return &Service{
		connectionManager: connectionManager,
		relay:             relay,
		wsHandler:         wsHandler,
	}
}

// Start runs the broadcast loop until ctx is done, then stops the service.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting auction gateway")
	s.connectionManager.Start(ctx)
	s.Stop()
}

// Stop closes every connection and stops relaying.
func (s *Service) Stop() {
	s.connectionManager.Close()
	s.relay.Close()
	log.Info().Msg("auction gateway stopped")
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("auction gateway routes registered")
}

// Stats returns connection statistics
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// Relay returns the channel relay.
func (s *Service) Relay() *Relay {
	return s.relay
}

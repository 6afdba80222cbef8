package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/catalog"
	"github.com/mcdev12/auctionhouse/go/internal/httputil"
	"github.com/mcdev12/auctionhouse/go/internal/messaging"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/mcdev12/auctionhouse/go/internal/tokens"
)

// TokenVerifier checks channel tokens. *tokens.Issuer satisfies it.
type TokenVerifier interface {
	Verify(token string) (tokens.Claims, error)
}

// ProductSource looks up products. *catalog.App satisfies it.
type ProductSource interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
}

// WebSocketHandler handles WebSocket upgrade requests for auction channels
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	relay             *Relay
	products          ProductSource
	verifier          TokenVerifier
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, relay *Relay, products ProductSource, verifier TokenVerifier) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		relay:             relay,
		products:          products,
		verifier:          verifier,
	}
}

// HandleAuctionConnection streams a product's channel to the caller
func (h *WebSocketHandler) HandleAuctionConnection(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	if h.verifier == nil {
		log.Error().Msg("websocket connection refused: token verification is not configured")
		httputil.RespondError(w, http.StatusInternalServerError, "Server configuration error")
		return
	}
	claims, err := h.verifier.Verify(requestToken(r))
	if err != nil {
		httputil.RespondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	user := models.User{ID: claims.UserID, Name: claims.Name}

	product, err := h.products.GetProduct(r.Context(), productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			httputil.RespondError(w, http.StatusNotFound, "Product not found")
			return
		}
		log.Error().Err(err).Str("product_id", productID).Msg("failed to load product")
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to fetch products")
		return
	}

	channelID := messaging.ChannelID(product.ID)
	conn, err := h.connectionManager.UpgradeConnection(w, r, user, channelID)
	if err != nil {
		// The upgrader has already written the HTTP error.
		log.Error().
			Err(err).
			Str("channel_id", channelID).
			Str("user_id", user.ID).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	now := h.connectionManager.clock.Now()
	if _, err := h.relay.Ensure(r.Context(), *product); err != nil {
		log.Error().Err(err).Str("channel_id", channelID).Msg("failed to relay channel")
		if event, err := errorEvent(channelID, "Failed to join auction", now); err == nil {
			h.connectionManager.SendTo(conn, event)
		}
		return
	}
	// The socket may have closed while the channel was being set up, before
	// there was anything to release.
	if h.releaseIfIdle(channelID) {
		return
	}

	if state, timeLeft, ok := h.relay.State(channelID); ok {
		if event, err := stateEvent(channelID, state, timeLeft, now); err == nil {
			h.connectionManager.SendTo(conn, event)
		}
	}
}

// releaseIfIdle stops relaying a channel nobody is connected to.
func (h *WebSocketHandler) releaseIfIdle(channelID string) bool {
	if h.connectionManager.ChannelConnections(channelID) > 0 {
		return false
	}
	h.relay.Release(channelID)
	return true
}

// HandleCommand executes a command read from a connection.
func (h *WebSocketHandler) HandleCommand(conn *Connection, cmd ClientCommand) {
	now := h.connectionManager.clock.Now()

	switch cmd.Type {
	case CommandBid:
		ctx, cancel := context.WithTimeout(context.Background(), h.connectionManager.config.WriteTimeout)
		defer cancel()
		if err := h.relay.PlaceBid(ctx, conn.User, conn.ChannelID, cmd.Amount); err != nil {
			if event, err := errorEvent(conn.ChannelID, bidErrorMessage(err), now); err == nil {
				h.connectionManager.SendTo(conn, event)
			}
		}
	default:
		if event, err := errorEvent(conn.ChannelID, "unknown command "+cmd.Type, now); err == nil {
			h.connectionManager.SendTo(conn, event)
		}
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/auction", h.HandleAuctionConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

// requestToken reads the token from the query or a bearer Authorization header.
func requestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func bidErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrChannelNotWatched), errors.Is(err, messaging.ErrOffline), errors.Is(err, messaging.ErrClosed):
		return "Failed to place bid"
	default:
		return err.Error()
	}
}

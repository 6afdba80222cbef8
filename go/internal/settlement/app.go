// Package settlement finalizes auctions once a winner has been declared.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/bidcodec"
	"github.com/mcdev12/auctionhouse/go/internal/messaging"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

var (
	ErrInvalidRequest = errors.New("invalid finalize request")
	ErrBackend        = errors.New("messaging backend failure")
)

// ProductMarker records the final result on the catalog.
type ProductMarker interface {
	MarkEnded(ctx context.Context, id string, winner string, amount float64) (*models.Product, error)
}

// Result describes a finalized auction.
type Result struct {
	ProductID   string    `json:"productId"`
	Winner      string    `json:"winner"`
	Amount      float64   `json:"amount"`
	CompletedAt time.Time `json:"completedAt"`
	// AlreadyFinalized is set when an earlier request settled the channel.
	AlreadyFinalized bool `json:"alreadyFinalized"`
}

// App handles settlement business logic
type App struct {
	conn    messaging.Conn
	catalog ProductMarker
	clock   clockwork.Clock
}

// NewApp creates a new settlement App. conn is the server's own messaging
// connection; catalog may be nil when the catalog is read-only.
func NewApp(conn messaging.Conn, catalog ProductMarker, clock clockwork.Clock) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{conn: conn, catalog: catalog, clock: clock}
}

// Finalize posts the settlement notice to the product's channel and marks the
// channel completed. A channel that is already completed is left untouched.
func (a *App) Finalize(ctx context.Context, req auction.FinalizeRequest) (*Result, error) {
	if err := validateFinalizeRequest(req); err != nil {
		return nil, err
	}

	channelID := messaging.ChannelID(req.ProductID)
	if err := messaging.ValidateChannelID(channelID); err != nil {
		return nil, fmt.Errorf("%w: productId: %w", ErrInvalidRequest, err)
	}

	data, err := a.conn.ChannelData(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read channel: %w", ErrBackend, err)
	}
	if data.AuctionStatus == messaging.AuctionStatusCompleted {
		log.Info().
			Str("product_id", req.ProductID).
			Str("winner", data.Winner).
			Msg("auction already finalized")
		result := completedResult(req.ProductID, data)
		a.markCatalog(ctx, result.ProductID, result.Winner, result.Amount)
		return result, nil
	}

	if _, err := a.conn.Send(ctx, channelID, bidcodec.EncodeFinalized(req.ProductID, req.Winner, req.Amount)); err != nil {
		return nil, fmt.Errorf("%w: failed to post settlement notice: %w", ErrBackend, err)
	}

	completedAt := a.clock.Now().UTC()
	amount := req.Amount
	data.ProductID = req.ProductID
	data.AuctionStatus = messaging.AuctionStatusCompleted
	data.Winner = req.Winner
	data.FinalAmount = &amount
	data.CompletedAt = &completedAt
	if err := a.conn.UpdateChannel(ctx, channelID, data); err != nil {
		return nil, fmt.Errorf("%w: failed to update channel: %w", ErrBackend, err)
	}

	a.markCatalog(ctx, req.ProductID, req.Winner, req.Amount)

	log.Info().
		Str("product_id", req.ProductID).
		Str("winner", req.Winner).
		Float64("amount", req.Amount).
		Msg("auction finalized")

	return &Result{
		ProductID:   req.ProductID,
		Winner:      req.Winner,
		Amount:      req.Amount,
		CompletedAt: completedAt,
	}, nil
}

// markCatalog runs on every finalize, including repeats, so a failed catalog
// write is repaired by the next request.
func (a *App) markCatalog(ctx context.Context, productID, winner string, amount float64) {
	if a.catalog == nil || winner == "" {
		return
	}
	if _, err := a.catalog.MarkEnded(ctx, productID, winner, amount); err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("failed to mark catalog product ended")
	}
}

func completedResult(productID string, data messaging.ChannelData) *Result {
	r := &Result{ProductID: productID, Winner: data.Winner, AlreadyFinalized: true}
	if data.FinalAmount != nil {
		r.Amount = *data.FinalAmount
	}
	if data.CompletedAt != nil {
		r.CompletedAt = *data.CompletedAt
	}
	return r
}

func validateFinalizeRequest(req auction.FinalizeRequest) error {
	switch {
	case req.ProductID == "":
		return fmt.Errorf("%w: productId is required", ErrInvalidRequest)
	case req.Winner == "":
		return fmt.Errorf("%w: winner is required", ErrInvalidRequest)
	case req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0):
		return fmt.Errorf("%w: amount must be a positive number", ErrInvalidRequest)
	}
	return nil
}

// Package catalog serves the products that are up for auction.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/models"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidProduct  = errors.New("invalid product")
)

// ProductRepository defines what the app layer needs from storage
type ProductRepository interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	MarkEnded(ctx context.Context, id string, winner string, amount float64) (*models.Product, error)
}

// App handles catalog business logic
type App struct {
	repo  ProductRepository
	clock clockwork.Clock
}

// NewApp creates a new catalog App
func NewApp(repo ProductRepository, clock clockwork.Clock) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{repo: repo, clock: clock}
}

// GetProduct retrieves a product by ID
func (a *App) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidProduct)
	}

	product, err := a.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	p := a.normalize(*product)
	return &p, nil
}

// ListProducts returns every product, soonest ending first
func (a *App) ListProducts(ctx context.Context) ([]models.Product, error) {
	products, err := a.repo.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	out := make([]models.Product, len(products))
	for i, p := range products {
		out[i] = a.normalize(p)
	}
	return out, nil
}

// MarkEnded records the settled result of an auction
func (a *App) MarkEnded(ctx context.Context, id string, winner string, amount float64) (*models.Product, error) {
	if id == "" || winner == "" {
		return nil, fmt.Errorf("%w: id and winner are required", ErrInvalidProduct)
	}

	product, err := a.repo.MarkEnded(ctx, id, winner, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to mark product ended: %w", err)
	}

	log.Info().
		Str("product_id", id).
		Str("winner", winner).
		Float64("amount", amount).
		Msg("product marked ended")
	return product, nil
}

// normalize reports an active product whose end time has passed as ended.
func (a *App) normalize(p models.Product) models.Product {
	if p.Status == models.ProductStatusActive && !a.clock.Now().Before(p.EndTime) {
		p.Status = models.ProductStatusEnded
	}
	return p
}

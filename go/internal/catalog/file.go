package catalog

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// MemoryRepository keeps the catalog in memory. It backs the file catalog
// source and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	clock    clockwork.Clock
	order    []string
	products map[string]models.Product
}

// NewMemoryRepository creates a repository holding products in the given order.
func NewMemoryRepository(products []models.Product, clock clockwork.Clock) *MemoryRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	r := &MemoryRepository{
		clock:    clock,
		products: make(map[string]models.Product, len(products)),
	}
	for _, p := range products {
		if _, exists := r.products[p.ID]; !exists {
			r.order = append(r.order, p.ID)
		}
		r.products[p.ID] = p
	}
	return r
}

// GetProduct retrieves a product by ID
func (r *MemoryRepository) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

// ListProducts returns all products in insertion order
func (r *MemoryRepository) ListProducts(ctx context.Context) ([]models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Product, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.products[id])
	}
	return out, nil
}

// MarkEnded sets the product's final result
func (r *MemoryRepository) MarkEnded(ctx context.Context, id string, winner string, amount float64) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	p.Status = models.ProductStatusEnded
	p.Winner = &winner
	p.FinalAmount = &amount
	if p.CurrentPrice == nil || *p.CurrentPrice < amount {
		p.CurrentPrice = &amount
	}
	p.UpdatedAt = r.clock.Now().UTC()
	r.products[id] = p
	return &p, nil
}

package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// CacheConfig holds the revalidation windows for cached reads.
type CacheConfig struct {
	ItemTTL time.Duration
	ListTTL time.Duration
}

// DefaultCacheConfig returns default cache windows.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ItemTTL: 30 * time.Second,
		ListTTL: 60 * time.Second,
	}
}

type cachedProduct struct {
	product   models.Product
	expiresAt time.Time
}

// CachedRepository wraps a repository with a TTL read cache. Writes through
// MarkEnded and Invalidate calls drop affected entries.
type CachedRepository struct {
	next   ProductRepository
	clock  clockwork.Clock
	config CacheConfig

	mu          sync.Mutex
	items       map[string]cachedProduct
	list        []models.Product
	listExpires time.Time

	// Bumped on invalidation so a fetch that raced with it is not stored.
	itemGens map[string]uint64
	allGen   uint64
	listGen  uint64
}

// NewCachedRepository wraps next with a read cache.
func NewCachedRepository(next ProductRepository, config CacheConfig, clock clockwork.Clock) *CachedRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CachedRepository{
		next:   next,
		clock:  clock,
		config: config,
		items:    make(map[string]cachedProduct),
		itemGens: make(map[string]uint64),
	}
}

// GetProduct retrieves a product by ID
func (c *CachedRepository) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	now := c.clock.Now()

	c.mu.Lock()
	if entry, ok := c.items[id]; ok && now.Before(entry.expiresAt) {
		c.mu.Unlock()
		p := entry.product
		return &p, nil
	}
	itemGen, allGen := c.itemGens[id], c.allGen
	c.mu.Unlock()

	p, err := c.next.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.itemGens[id] == itemGen && c.allGen == allGen {
		c.items[id] = cachedProduct{product: *p, expiresAt: now.Add(c.config.ItemTTL)}
	}
	c.mu.Unlock()
	return p, nil
}

// ListProducts returns all products
func (c *CachedRepository) ListProducts(ctx context.Context) ([]models.Product, error) {
	now := c.clock.Now()

	c.mu.Lock()
	if c.list != nil && now.Before(c.listExpires) {
		out := append([]models.Product(nil), c.list...)
		c.mu.Unlock()
		return out, nil
	}
	listGen := c.listGen
	c.mu.Unlock()

	products, err := c.next.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []models.Product{}
	}

	c.mu.Lock()
	if c.listGen == listGen {
		c.list = append([]models.Product(nil), products...)
		c.listExpires = now.Add(c.config.ListTTL)
	}
	c.mu.Unlock()
	return products, nil
}

// MarkEnded writes through and invalidates the product
func (c *CachedRepository) MarkEnded(ctx context.Context, id string, winner string, amount float64) (*models.Product, error) {
	p, err := c.next.MarkEnded(ctx, id, winner, amount)
	c.Invalidate(id)
	return p, err
}

// Invalidate drops a product and the list from the cache.
func (c *CachedRepository) Invalidate(id string) {
	c.mu.Lock()
	delete(c.items, id)
	c.itemGens[id]++
	c.list = nil
	c.listGen++
	c.mu.Unlock()

	log.Debug().Str("product_id", id).Msg("catalog cache invalidated")
}

// InvalidateAll empties the cache.
func (c *CachedRepository) InvalidateAll() {
	c.mu.Lock()
	c.items = make(map[string]cachedProduct)
	c.allGen++
	c.list = nil
	c.listGen++
	c.mu.Unlock()
}

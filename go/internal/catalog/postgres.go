package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/mcdev12/auctionhouse/go/internal/sqlutil"
)

// Querier defines what the repository needs from the database layer
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const productColumns = `id, name, description, starting_price, current_price, minimum_increment,
	end_time, image_url, status, winner, final_amount, attributes, created_at, updated_at`

const (
	getProductQuery   = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	listProductsQuery = `SELECT ` + productColumns + ` FROM products ORDER BY end_time, id`
	markEndedQuery    = `UPDATE products
	SET status = 'ended',
	    winner = $2,
	    final_amount = $3,
	    current_price = GREATEST(COALESCE(current_price, 0), $3),
	    updated_at = now()
	WHERE id = $1
	RETURNING ` + productColumns
)

// PostgresRepository implements product storage on Postgres
type PostgresRepository struct {
	db Querier
}

// NewPostgresRepository creates a new Postgres backed repository
func NewPostgresRepository(db Querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetProduct retrieves a product by ID
func (r *PostgresRepository) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, getProductQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// ListProducts returns all products ordered by end time
func (r *PostgresRepository) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := r.db.QueryContext(ctx, listProductsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// MarkEnded sets the product's final result
func (r *PostgresRepository) MarkEnded(ctx context.Context, id string, winner string, amount float64) (*models.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, markEndedQuery, id, winner, amount))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark product ended: %w", err)
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*models.Product, error) {
	var (
		p            models.Product
		status       string
		currentPrice sql.NullFloat64
		winner       sql.NullString
		finalAmount  sql.NullFloat64
		attributes   pqtype.NullRawMessage
	)

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.StartingPrice,
		&currentPrice,
		&p.MinimumIncrement,
		&p.EndTime,
		&p.ImageURL,
		&status,
		&winner,
		&finalAmount,
		&attributes,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = models.ProductStatus(status)
	p.CurrentPrice = sqlutil.FromSqlFloat64Ptr(currentPrice)
	p.Winner = sqlutil.FromSqlStringPtr(winner)
	p.FinalAmount = sqlutil.FromSqlFloat64Ptr(finalAmount)
	p.Attributes = sqlutil.FromNullRawMessage(attributes)
	return &p, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/auctionhouse/go/internal/catalog"
	"github.com/mcdev12/auctionhouse/go/internal/config"
	"github.com/mcdev12/auctionhouse/go/internal/dbconfig"
	"github.com/mcdev12/auctionhouse/go/internal/sqlutil"
)

const upsertProduct = `
INSERT INTO products (
  id, name, description, starting_price, current_price, minimum_increment,
  end_time, image_url, status, attributes, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11
)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  description = EXCLUDED.description,
  starting_price = EXCLUDED.starting_price,
  minimum_increment = EXCLUDED.minimum_increment,
  end_time = EXCLUDED.end_time,
  image_url = EXCLUDED.image_url,
  attributes = EXCLUDED.attributes,
  updated_at = EXCLUDED.updated_at
WHERE products.status <> 'ended'
`

func main() {
	config.LoadDotEnv()

	// 1) Load the catalog; an explicit path wins over CATALOG_FILE
	path := os.Getenv("CATALOG_FILE")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	products, err := catalog.LoadSeedFile(path, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load catalog: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, catalog.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}

	// 3) Upsert in one transaction and count
	var (
		total    = len(products)
		upserted int
		skipped  int
	)
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, p := range products {
			tag, err := tx.Exec(ctx, upsertProduct,
				p.ID, p.Name, p.Description, p.StartingPrice,
				sqlutil.ToSqlFloat64(p.CurrentPrice), p.MinimumIncrement,
				p.EndTime, p.ImageURL, string(p.Status),
				sqlutil.ToNullRawMessage(p.Attributes), p.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("product %s: %w", p.ID, err)
			}
			if tag.RowsAffected() == 1 {
				upserted++
			} else {
				skipped++
			}
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed products: %v\n", err)
		os.Exit(1)
	}

	// 4) Print summary
	fmt.Printf(
		"Products seed complete: %d total, %d upserted, %d skipped\n",
		total, upserted, skipped,
	)
}

package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// Schema is the Postgres DDL for the products table and its change trigger.
//
//go:embed schema.sql
var Schema string

//go:embed products.yaml
var defaultSeed []byte

type seedFile struct {
	Products []seedProduct `yaml:"products"`
}

type seedProduct struct {
	ID               string         `yaml:"id"`
	Name             string         `yaml:"name"`
	Description      string         `yaml:"description"`
	StartingPrice    float64        `yaml:"starting_price"`
	CurrentPrice     *float64       `yaml:"current_price"`
	MinimumIncrement float64        `yaml:"minimum_increment"`
	EndsIn           string         `yaml:"ends_in"`
	EndTime          *time.Time     `yaml:"end_time"`
	ImageURL         string         `yaml:"image_url"`
	Status           string         `yaml:"status"`
	Attributes       map[string]any `yaml:"attributes"`
}

// LoadSeed parses a YAML catalog. Relative ends_in durations are resolved
// against now.
func LoadSeed(r io.Reader, now time.Time) ([]models.Product, error) {
	var file seedFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	products := make([]models.Product, 0, len(file.Products))
	seen := make(map[string]bool, len(file.Products))
	for i, sp := range file.Products {
		p, err := sp.toModel(now)
		if err != nil {
			return nil, fmt.Errorf("product %d: %w", i, err)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("product %d: %w: duplicate id %q", i, ErrInvalidProduct, p.ID)
		}
		seen[p.ID] = true
		products = append(products, p)
	}
	return products, nil
}

// LoadSeedFile parses the YAML catalog at path, or the built-in demo catalog
// when path is empty.
func LoadSeedFile(path string, now time.Time) ([]models.Product, error) {
	if path == "" {
		return DefaultSeed(now)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()
	return LoadSeed(f, now)
}

// DefaultSeed returns the built-in demo catalog.
func DefaultSeed(now time.Time) ([]models.Product, error) {
	return LoadSeed(bytes.NewReader(defaultSeed), now)
}

func (sp seedProduct) toModel(now time.Time) (models.Product, error) {
	if sp.ID == "" || sp.Name == "" {
		return models.Product{}, fmt.Errorf("%w: id and name are required", ErrInvalidProduct)
	}
	if sp.StartingPrice < 0 {
		return models.Product{}, fmt.Errorf("%w: negative starting price", ErrInvalidProduct)
	}

	var endTime time.Time
	switch {
	case sp.EndTime != nil:
		endTime = *sp.EndTime
	case sp.EndsIn != "":
		d, err := time.ParseDuration(sp.EndsIn)
		if err != nil {
			return models.Product{}, fmt.Errorf("%w: ends_in: %w", ErrInvalidProduct, err)
		}
		endTime = now.Add(d)
	default:
		return models.Product{}, fmt.Errorf("%w: ends_in or end_time is required", ErrInvalidProduct)
	}

	status := models.ProductStatus(sp.Status)
	if sp.Status == "" {
		status = models.ProductStatusActive
	}
	if !status.Valid() {
		return models.Product{}, fmt.Errorf("%w: unknown status %q", ErrInvalidProduct, sp.Status)
	}

	p := models.Product{
		ID:               sp.ID,
		Name:             sp.Name,
		Description:      sp.Description,
		StartingPrice:    sp.StartingPrice,
		CurrentPrice:     sp.CurrentPrice,
		MinimumIncrement: sp.MinimumIncrement,
		EndTime:          endTime.UTC(),
		ImageURL:         sp.ImageURL,
		Status:           status,
		CreatedAt:        now.UTC(),
		UpdatedAt:        now.UTC(),
	}
	if len(sp.Attributes) > 0 {
		raw, err := json.Marshal(sp.Attributes)
		if err != nil {
			return models.Product{}, fmt.Errorf("%w: attributes: %w", ErrInvalidProduct, err)
		}
		p.Attributes = raw
	}
	return p, nil
}

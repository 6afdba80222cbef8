package models

import (
	"encoding/json"
	"time"
)

// ProductStatus defines the lifecycle status of an auctioned product.
type ProductStatus string

const (
	ProductStatusActive    ProductStatus = "active"
	ProductStatusEnded     ProductStatus = "ended"
	ProductStatusScheduled ProductStatus = "scheduled"
)

// Valid reports whether s is a known status.
func (s ProductStatus) Valid() bool {
	switch s {
	case ProductStatusActive, ProductStatusEnded, ProductStatusScheduled:
		return true
	}
	return false
}

// Product represents an item up for auction.
type Product struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	StartingPrice    float64         `json:"startingBid"`
	CurrentPrice     *float64        `json:"currentBid,omitempty"`
	MinimumIncrement float64         `json:"minimumIncrement"`
	EndTime          time.Time       `json:"endTime"`
	ImageURL         string          `json:"imageUrl"`
	Status           ProductStatus   `json:"status"`
	Winner           *string         `json:"winner,omitempty"`
	FinalAmount      *float64        `json:"finalAmount,omitempty"`
	Attributes       json.RawMessage `json:"attributes,omitempty"` // free-form JSONB
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// HasEnded reports whether the auction is over at the given instant, either
// by status or because the end time has passed.
func (p Product) HasEnded(now time.Time) bool {
	return p.Status == ProductStatusEnded || !now.Before(p.EndTime)
}

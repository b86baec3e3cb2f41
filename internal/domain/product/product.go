// Package product models the catalog items whose stock the order flow tracks.
package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase. Stock is the
// sellable quantity: decremented by order creation, restored by cancellation,
// never negative.
type Product struct {
	ID              uuid.UUID
	Name            string
	Slug            string
	Description     string
	Price           decimal.Decimal
	DiscountedPrice *decimal.Decimal
	ImageURL        string
	Stock           int
	Featured        bool
	Artisan         string
	Origin          string
	CategoryID      uuid.UUID
	ProducerID      uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EffectivePrice returns the discounted price when one is set, otherwise the
// list price. Cart lines snapshot this value at add time.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.DiscountedPrice != nil {
		return *p.DiscountedPrice
	}
	return p.Price
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error)
}

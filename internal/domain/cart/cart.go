// Package cart implements the per-user shopping cart that order creation
// consumes and clears.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrItemNotFound is returned when a cart line does not exist or is not
	// owned by the requesting user.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrInsufficientStock is returned when the requested quantity exceeds
	// the product's available stock.
	ErrInsufficientStock = errors.New("not enough stock available")
	// ErrInvalidQuantity is returned for a non-positive quantity.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// Item is one cart line: a product, a quantity, and the unit price captured
// when the line was added. The snapshot price is deliberately not refreshed
// from the catalog on later reads.
type Item struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalPrice returns UnitPrice multiplied by Quantity.
func (i *Item) TotalPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Repository defines persistence operations for cart lines.
type Repository interface {
	GetItems(ctx context.Context, userID uuid.UUID) ([]Item, error)
	GetItem(ctx context.Context, userID, productID uuid.UUID) (*Item, error)
	GetItemByID(ctx context.Context, itemID, userID uuid.UUID) (*Item, error)
	Add(ctx context.Context, item *Item) error
	Update(ctx context.Context, item *Item) error
	Remove(ctx context.Context, itemID, userID uuid.UUID) error
	Clear(ctx context.Context, userID uuid.UUID) error
}

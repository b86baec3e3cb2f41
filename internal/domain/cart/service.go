package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chocomarket/backend/internal/domain/product"
)

// taxRate is the flat 19% VAT applied to the cart view subtotal.
var taxRate = decimal.RequireFromString("0.19")

// View is the computed cart summary returned to clients.
type View struct {
	UserID    uuid.UUID
	Items     []Item
	ItemCount int
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
	UpdatedAt time.Time
}

// Service implements cart operations against the cart and product stores.
type Service struct {
	items    Repository
	products product.Repository
	now      func() time.Time
}

// NewService creates a cart Service.
func NewService(items Repository, products product.Repository) *Service {
	return &Service{
		items:    items,
		products: products,
		now:      time.Now,
	}
}

// Get returns the user's cart with view-only totals. Line prices are the
// snapshots captured at add time, not current catalog prices.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*View, error) {
	items, err := s.items.GetItems(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart items")
	}

	subtotal := decimal.Zero
	updatedAt := s.now()
	for i := range items {
		subtotal = subtotal.Add(items[i].TotalPrice())
		if i == 0 || items[i].UpdatedAt.After(updatedAt) {
			updatedAt = items[i].UpdatedAt
		}
	}
	tax := subtotal.Mul(taxRate)

	return &View{
		UserID:    userID,
		Items:     items,
		ItemCount: len(items),
		Subtotal:  subtotal,
		Tax:       tax,
		Total:     subtotal.Add(tax),
		UpdatedAt: updatedAt,
	}, nil
}

// Add puts a product into the cart, snapshotting its effective price. Adding
// a product already in the cart merges quantities; the merged quantity must
// still fit the product's current stock.
func (s *Service) Add(ctx context.Context, userID, productID uuid.UUID, quantity int) (*Item, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Stock < quantity {
		return nil, ErrInsufficientStock
	}

	existing, err := s.items.GetItem(ctx, userID, productID)
	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return nil, errors.Wrap(err, "get cart item")
	}

	if existing != nil {
		existing.Quantity += quantity
		existing.UpdatedAt = s.now()
		if p.Stock < existing.Quantity {
			return nil, ErrInsufficientStock
		}
		if err := s.items.Update(ctx, existing); err != nil {
			return nil, errors.Wrap(err, "update cart item")
		}
		return existing, nil
	}

	item := &Item{
		ID:        uuid.New(),
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: p.EffectivePrice(),
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	if err := s.items.Add(ctx, item); err != nil {
		return nil, errors.Wrap(err, "add cart item")
	}
	return item, nil
}

// UpdateItem replaces the quantity of an owned cart line.
func (s *Service) UpdateItem(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*Item, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	item, err := s.items.GetItemByID(ctx, itemID, userID)
	if err != nil {
		return nil, err
	}

	p, err := s.products.GetByID(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}
	if p.Stock < quantity {
		return nil, ErrInsufficientStock
	}

	item.Quantity = quantity
	item.UpdatedAt = s.now()
	if err := s.items.Update(ctx, item); err != nil {
		return nil, errors.Wrap(err, "update cart item")
	}
	return item, nil
}

// Remove deletes an owned cart line.
func (s *Service) Remove(ctx context.Context, userID, itemID uuid.UUID) error {
	if _, err := s.items.GetItemByID(ctx, itemID, userID); err != nil {
		return err
	}
	return s.items.Remove(ctx, itemID, userID)
}

// Clear empties the user's cart.
func (s *Service) Clear(ctx context.Context, userID uuid.UUID) error {
	return s.items.Clear(ctx, userID)
}

package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chocomarket/backend/internal/domain/cart"
)

const (
	cartItemColumns = `id, user_id, product_id, quantity, unit_price, created_at, updated_at`

	getCartItemsSQL = `SELECT ` + cartItemColumns + ` FROM cart_items
		WHERE user_id = $1 ORDER BY created_at`

	getCartItemSQL = `SELECT ` + cartItemColumns + ` FROM cart_items
		WHERE user_id = $1 AND product_id = $2`

	getCartItemByIDSQL = `SELECT ` + cartItemColumns + ` FROM cart_items
		WHERE id = $1 AND user_id = $2`

	addCartItemSQL = `INSERT INTO cart_items (id, user_id, product_id, quantity, unit_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	updateCartItemSQL = `UPDATE cart_items SET quantity = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2`

	removeCartItemSQL = `DELETE FROM cart_items WHERE id = $1 AND user_id = $2`

	clearCartSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetItems returns all cart lines owned by a user, oldest first.
func (r *CartRepository) GetItems(ctx context.Context, userID uuid.UUID) ([]cart.Item, error) {
	rows, err := r.pool.Query(ctx, getCartItemsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("getting cart items for user %s: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanCartItem)
}

// GetItem returns the user's cart line for a product, if one exists.
func (r *CartRepository) GetItem(ctx context.Context, userID, productID uuid.UUID) (*cart.Item, error) {
	rows, err := r.pool.Query(ctx, getCartItemSQL, userID, productID)
	if err != nil {
		return nil, fmt.Errorf("getting cart item: %w", err)
	}

	item, err := pgx.CollectExactlyOneRow(rows, scanCartItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrItemNotFound
		}
		return nil, fmt.Errorf("getting cart item: %w", err)
	}
	return &item, nil
}

// GetItemByID returns a cart line by its identifier, scoped to the owner.
func (r *CartRepository) GetItemByID(ctx context.Context, itemID, userID uuid.UUID) (*cart.Item, error) {
	rows, err := r.pool.Query(ctx, getCartItemByIDSQL, itemID, userID)
	if err != nil {
		return nil, fmt.Errorf("getting cart item %s: %w", itemID, err)
	}

	item, err := pgx.CollectExactlyOneRow(rows, scanCartItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrItemNotFound
		}
		return nil, fmt.Errorf("getting cart item %s: %w", itemID, err)
	}
	return &item, nil
}

// Add persists a new cart line.
func (r *CartRepository) Add(ctx context.Context, item *cart.Item) error {
	_, err := r.pool.Exec(ctx, addCartItemSQL,
		item.ID, item.UserID, item.ProductID, item.Quantity, item.UnitPrice,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("adding cart item %s: %w", item.ID, err)
	}
	return nil
}

// Update persists a quantity change on an existing line.
func (r *CartRepository) Update(ctx context.Context, item *cart.Item) error {
	tag, err := r.pool.Exec(ctx, updateCartItemSQL,
		item.ID, item.UserID, item.Quantity, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating cart item %s: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// Remove deletes a cart line owned by the user.
func (r *CartRepository) Remove(ctx context.Context, itemID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, removeCartItemSQL, itemID, userID)
	if err != nil {
		return fmt.Errorf("removing cart item %s: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// Clear deletes every cart line owned by the user.
func (r *CartRepository) Clear(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart for user %s: %w", userID, err)
	}
	return nil
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var item cart.Item
	err := row.Scan(
		&item.ID, &item.UserID, &item.ProductID, &item.Quantity, &item.UnitPrice,
		&item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

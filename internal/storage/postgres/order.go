package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chocomarket/backend/internal/domain/order"
)

const (
	orderColumns = `id, order_number, user_id, status, payment_method, payment_status,
		ship_name, ship_full_name, ship_street, ship_city, ship_postal_code, ship_phone,
		subtotal, tax, shipping, total, notes, tracking_number, created_at, estimated_delivery`

	insertOrderSQL = `INSERT INTO orders (id, order_number, user_id, status, payment_method, payment_status,
			ship_name, ship_full_name, ship_street, ship_city, ship_postal_code, ship_phone,
			subtotal, tax, shipping, total, notes, tracking_number, created_at, estimated_delivery)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)`

	// Conditional decrement: zero rows affected means the product cannot
	// cover the quantity and the whole transaction is rolled back.
	decrementStockSQL = `UPDATE products SET stock = stock - $1, updated_at = now()
		WHERE id = $2 AND stock >= $1`

	restoreStockSQL = `UPDATE products SET stock = stock + $1, updated_at = now()
		WHERE id = $2`

	productNameSQL = `SELECT name FROM products WHERE id = $1`

	updateOrderSQL = `UPDATE orders SET status = $2, payment_status = $3, tracking_number = $4
		WHERE id = $1`

	numberExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderForUserSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`

	listOrdersForUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 AND ($2 = '' OR lower(status) = lower($2))
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`

	countOrdersForUserSQL = `SELECT count(*) FROM orders
		WHERE user_id = $1 AND ($2 = '' OR lower(status) = lower($2))`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE $1 = '' OR lower(status) = lower($1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	countOrdersSQL = `SELECT count(*) FROM orders WHERE $1 = '' OR lower(status) = lower($1)`

	recentOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC LIMIT $1`

	countByStatusSQL = `SELECT status, count(*) FROM orders GROUP BY status`

	getOrderItemsSQL = `SELECT i.id, i.order_id, i.product_id, i.quantity, i.unit_price,
			p.name, p.slug, p.image_url
		FROM order_items i JOIN products p ON p.id = i.product_id
		WHERE i.order_id = ANY($1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Checkout persists the order and its lines, decrements each line's product
// stock, and clears the user's cart in one transaction. A short stock
// aborts with an *order.InsufficientStockError; a taken order number maps to
// order.ErrNumberConflict.
func (r *OrderRepository) Checkout(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning checkout: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var notes, tracking *string
	if o.Notes != "" {
		notes = &o.Notes
	}
	if o.TrackingNumber != "" {
		tracking = &o.TrackingNumber
	}

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, o.UserID, o.Status, o.PaymentMethod, o.PaymentStatus,
		o.ShippingAddress.Name, o.ShippingAddress.FullName, o.ShippingAddress.StreetAddress,
		o.ShippingAddress.City, o.ShippingAddress.PostalCode, o.ShippingAddress.Phone,
		o.Subtotal, o.Tax, o.Shipping, o.Total, notes, tracking,
		o.CreatedAt, o.EstimatedDelivery,
	)
	if err != nil {
		if isUniqueViolation(err, "orders_order_number_key") {
			return order.ErrNumberConflict
		}
		return fmt.Errorf("inserting order %s: %w", o.Number, err)
	}

	for i := range o.Items {
		item := &o.Items[i]

		tag, err := tx.Exec(ctx, decrementStockSQL, item.Quantity, item.ProductID)
		if err != nil {
			return fmt.Errorf("decrementing stock for product %s: %w", item.ProductID, err)
		}
		if tag.RowsAffected() == 0 {
			var name string
			_ = tx.QueryRow(ctx, productNameSQL, item.ProductID).Scan(&name)
			return &order.InsufficientStockError{ProductID: item.ProductID, ProductName: name}
		}

		_, err = tx.Exec(ctx, insertOrderItemSQL,
			item.ID, o.ID, item.ProductID, item.Quantity, item.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("inserting order item %s: %w", item.ID, err)
		}
	}

	if _, err := tx.Exec(ctx, clearCartSQL, o.UserID); err != nil {
		return fmt.Errorf("clearing cart for user %s: %w", o.UserID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing checkout: %w", err)
	}
	return nil
}

// Cancel persists the canceled status and restores each line's product stock
// in one transaction.
func (r *OrderRepository) Cancel(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning cancel: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := updateOrder(ctx, tx, o); err != nil {
		return err
	}

	for i := range o.Items {
		item := &o.Items[i]
		if _, err := tx.Exec(ctx, restoreStockSQL, item.Quantity, item.ProductID); err != nil {
			return fmt.Errorf("restoring stock for product %s: %w", item.ProductID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing cancel: %w", err)
	}
	return nil
}

// Update persists status, payment status, and tracking without touching stock.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	return updateOrder(ctx, r.pool, o)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateOrder(ctx context.Context, db execer, o *order.Order) error {
	var tracking *string
	if o.TrackingNumber != "" {
		tracking = &o.TrackingNumber
	}

	tag, err := db.Exec(ctx, updateOrderSQL, o.ID, o.Status, o.PaymentStatus, tracking)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// NumberExists reports whether an order with the given number exists.
func (r *OrderRepository) NumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, numberExistsSQL, number).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking order number %s: %w", number, err)
	}
	return exists, nil
}

// GetByID returns an order with its lines hydrated.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetForUser returns an order only when it belongs to the given user.
func (r *OrderRepository) GetForUser(ctx context.Context, orderID, userID uuid.UUID) (*order.Order, error) {
	return r.getOne(ctx, getOrderForUserSQL, orderID, userID)
}

func (r *OrderRepository) getOne(ctx context.Context, sql string, args ...any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}

	if err := r.hydrateItems(ctx, []order.Order{o}); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListForUser returns one page of the user's orders plus the filtered total.
func (r *OrderRepository) ListForUser(ctx context.Context, userID uuid.UUID, f order.ListFilter) ([]order.Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countOrdersForUserSQL, userID, f.Status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders for user %s: %w", userID, err)
	}

	rows, err := r.pool.Query(ctx, listOrdersForUserSQL, userID, f.Status, f.Limit, f.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders for user %s: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders for user %s: %w", userID, err)
	}

	if err := r.hydrateItems(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// List returns one page of all orders plus the filtered total.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countOrdersSQL, f.Status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	rows, err := r.pool.Query(ctx, listOrdersSQL, f.Status, f.Limit, f.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}

	if err := r.hydrateItems(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// Recent returns the newest orders, newest first.
func (r *OrderRepository) Recent(ctx context.Context, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, recentOrdersSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing recent orders: %w", err)
	}

	if err := r.hydrateItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CountByStatus returns per-status order counts.
func (r *OrderRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, countByStatusSQL)
	if err != nil {
		return nil, fmt.Errorf("counting orders by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("counting orders by status: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting orders by status: %w", err)
	}
	return counts, nil
}

// hydrateItems loads order lines, with product display data joined in, for
// all given orders in one query.
func (r *OrderRepository) hydrateItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(orders))
	byID := make(map[uuid.UUID]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := r.pool.Query(ctx, getOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("getting order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item    order.Item
			orderID uuid.UUID
			product order.ItemProduct
		)
		err := rows.Scan(
			&item.ID, &orderID, &item.ProductID, &item.Quantity, &item.UnitPrice,
			&product.Name, &product.Slug, &product.Image,
		)
		if err != nil {
			return fmt.Errorf("getting order items: %w", err)
		}
		product.ID = item.ProductID
		item.Product = &product
		byID[orderID].Items = append(byID[orderID].Items, item)
	}
	return rows.Err()
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o        order.Order
		notes    *string
		tracking *string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &o.Status, &o.PaymentMethod, &o.PaymentStatus,
		&o.ShippingAddress.Name, &o.ShippingAddress.FullName, &o.ShippingAddress.StreetAddress,
		&o.ShippingAddress.City, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Phone,
		&o.Subtotal, &o.Tax, &o.Shipping, &o.Total, &notes, &tracking,
		&o.CreatedAt, &o.EstimatedDelivery,
	)
	if notes != nil {
		o.Notes = *notes
	}
	if tracking != nil {
		o.TrackingNumber = *tracking
	}
	return o, err
}

// Package order implements the order lifecycle: the cart-to-order transition
// with atomic stock adjustment, cancellation with stock restoration, and the
// admin status operations.
package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the closed set of order states.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCanceled   Status = "Canceled"
)

// ParseStatus resolves a case-insensitive status string to its canonical
// value. Unknown values yield an InvalidStatusError.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "pending":
		return StatusPending, nil
	case "processing":
		return StatusProcessing, nil
	case "shipped":
		return StatusShipped, nil
	case "delivered":
		return StatusDelivered, nil
	case "canceled":
		return StatusCanceled, nil
	}
	return "", &InvalidStatusError{Value: s}
}

// Cancelable reports whether a customer may still cancel an order in this
// state. Admin status updates are not bound by this check.
func (s Status) Cancelable() bool {
	return s == StatusPending || s == StatusProcessing
}

// Sentinel errors for order operations.
var (
	ErrNotFound      = errors.New("order not found")
	ErrEmptyCart     = errors.New("cart is empty")
	ErrNotCancelable = errors.New("order cannot be canceled in its current state")
	// ErrNumberConflict is returned by Repository.Checkout when the generated
	// order number already exists; the caller retries with a fresh number.
	ErrNumberConflict = errors.New("order number already exists")
)

// InsufficientStockError names the product whose stock cannot cover the
// requested quantity. No partial order is created when it is raised.
type InsufficientStockError struct {
	ProductID   uuid.UUID
	ProductName string
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID.String()
	}
	return fmt.Sprintf("insufficient stock for product: %s", name)
}

// InvalidStatusError indicates a status string outside the closed enumeration.
type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("unknown order status %q", e.Value)
}

// Address is the shipping snapshot owned by an order. It is copied from the
// request at creation time and has no identity outside its order.
type Address struct {
	Name          string
	FullName      string
	StreetAddress string
	City          string
	PostalCode    string
	Phone         string
}

// ItemProduct carries display data for an ordered product, hydrated on read.
type ItemProduct struct {
	ID    uuid.UUID
	Name  string
	Slug  string
	Image string
}

// Item is one immutable order line. Quantity and UnitPrice are copied from
// the cart line at order time and never change afterwards.
type Item struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
	Product   *ItemProduct
}

// TotalPrice returns UnitPrice multiplied by Quantity.
func (i *Item) TotalPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is the immutable-once-created purchase record. Only Status,
// PaymentStatus, and TrackingNumber mutate after creation.
type Order struct {
	ID                uuid.UUID
	Number            string
	UserID            uuid.UUID
	Status            Status
	Items             []Item
	ShippingAddress   Address
	PaymentMethod     string
	PaymentStatus     string
	Subtotal          decimal.Decimal
	Tax               decimal.Decimal
	Shipping          decimal.Decimal
	Total             decimal.Decimal
	Notes             string
	TrackingNumber    string
	CreatedAt         time.Time
	EstimatedDelivery *time.Time
}

// ItemCount returns the number of order lines.
func (o *Order) ItemCount() int { return len(o.Items) }

// ListFilter narrows and pages order listings. Status is matched
// case-insensitively when non-empty.
type ListFilter struct {
	Status string
	Page   int
	Limit  int
}

// Offset returns the row offset for the filter's page.
func (f ListFilter) Offset() int { return (f.Page - 1) * f.Limit }

// Pagination describes one page of a listing.
type Pagination struct {
	CurrentPage  int
	TotalPages   int
	TotalItems   int
	ItemsPerPage int
}

// Repository defines persistence operations for orders. Checkout and Cancel
// are atomic: their stock adjustments, order writes, and cart mutations
// either all apply or none do.
type Repository interface {
	// Checkout persists the order, decrements each line's product stock, and
	// clears the owning user's cart in a single transaction. It returns
	// ErrNumberConflict when the order number is already taken and an
	// *InsufficientStockError when a conditional stock decrement matches no
	// row.
	Checkout(ctx context.Context, o *Order) error
	// Cancel persists the status change and restores each line's product
	// stock in a single transaction.
	Cancel(ctx context.Context, o *Order) error
	// Update persists status, payment status, and tracking changes without
	// touching stock.
	Update(ctx context.Context, o *Order) error
	NumberExists(ctx context.Context, number string) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetForUser(ctx context.Context, orderID, userID uuid.UUID) (*Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, f ListFilter) ([]Order, int, error)
	List(ctx context.Context, f ListFilter) ([]Order, int, error)
	Recent(ctx context.Context, limit int) ([]Order, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Events receives lifecycle notifications. Implementations must be
// best-effort: they are invoked after the transaction commits and must not
// fail the request.
type Events interface {
	OrderCreated(ctx context.Context, o *Order)
	OrderCanceled(ctx context.Context, o *Order)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) OrderCreated(context.Context, *Order)  {}
func (NopEvents) OrderCanceled(context.Context, *Order) {}

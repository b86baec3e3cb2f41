package order

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chocomarket/backend/internal/domain/cart"
	"github.com/chocomarket/backend/internal/domain/product"
	"github.com/chocomarket/backend/internal/domain/user"
)

// Pricing rules: 19% VAT, flat shipping fee waived above the free-shipping
// threshold. Amounts are undivided Colombian pesos.
var (
	taxRate           = decimal.RequireFromString("0.19")
	shippingFee       = decimal.NewFromInt(15000)
	freeShippingAbove = decimal.NewFromInt(100000)
)

// deliveryEstimate is added to the creation time to produce the estimated
// delivery date.
const deliveryEstimate = 5 * 24 * time.Hour

// CreateRequest holds the input for placing an order. Cart contents are not
// part of the request; they are read from the user's cart store.
type CreateRequest struct {
	ShippingAddress Address
	PaymentMethod   string
	Notes           string
}

// Service orchestrates the order lifecycle against the cart, catalog, and
// order stores.
type Service struct {
	users    user.Repository
	carts    cart.Repository
	products product.Repository
	orders   Repository
	events   Events

	now     func() time.Time
	randInt func(n int) int
}

// NewService creates an order Service. A nil events sink disables
// notifications.
func NewService(
	users user.Repository,
	carts cart.Repository,
	products product.Repository,
	orders Repository,
	events Events,
) *Service {
	if events == nil {
		events = NopEvents{}
	}
	return &Service{
		users:    users,
		carts:    carts,
		products: products,
		orders:   orders,
		events:   events,
		now:      time.Now,
		randInt:  rand.IntN,
	}
}

// Create turns the user's cart into an order: it validates stock against the
// current catalog, snapshots each cart line into an immutable order line,
// computes totals, and hands the whole effect set (stock decrement, order
// insert, cart clear) to the repository as one transaction.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*Order, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	lines, err := s.carts.GetItems(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart items")
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	// Pre-validate stock against the current catalog so the caller gets an
	// error naming the product. The repository re-checks inside the
	// transaction; this read is advisory under concurrency.
	ids := make([]uuid.UUID, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[uuid.UUID]*product.Product, len(fetched))
	for i := range fetched {
		byID[fetched[i].ID] = &fetched[i]
	}
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &InsufficientStockError{ProductID: l.ProductID}
		}
		if p.Stock < l.Quantity {
			return nil, &InsufficientStockError{ProductID: p.ID, ProductName: p.Name}
		}
	}

	createdAt := s.now()
	estimated := createdAt.Add(deliveryEstimate)

	items := make([]Item, len(lines))
	for i, l := range lines {
		items[i] = Item{
			ID:        uuid.New(),
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}

	o := &Order{
		ID:                uuid.New(),
		UserID:            userID,
		Status:            StatusPending,
		Items:             items,
		ShippingAddress:   req.ShippingAddress,
		PaymentMethod:     req.PaymentMethod,
		PaymentStatus:     "Pending",
		Notes:             req.Notes,
		CreatedAt:         createdAt,
		EstimatedDelivery: &estimated,
	}
	o.Subtotal, o.Tax, o.Shipping, o.Total = Totals(items)

	if err := s.checkout(ctx, o); err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order created",
		zap.String("order_number", o.Number),
		zap.String("user_id", userID.String()),
		zap.String("total", o.Total.String()),
	)
	s.events.OrderCreated(ctx, o)

	return s.orders.GetByID(ctx, o.ID)
}

// checkout assigns a unique order number and commits the order, retrying on
// number collisions up to maxNumberAttempts.
func (s *Service) checkout(ctx context.Context, o *Order) error {
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		o.Number = FormatNumber(o.CreatedAt, numberSuffix(s.randInt))

		taken, err := s.orders.NumberExists(ctx, o.Number)
		if err != nil {
			return errors.Wrap(err, "check order number")
		}
		if taken {
			continue
		}

		err = s.orders.Checkout(ctx, o)
		if errors.Is(err, ErrNumberConflict) {
			// Lost the race for this number; roll a new suffix.
			continue
		}
		if err != nil {
			return err
		}
		return nil
	}
	return errors.Errorf("exhausted %d attempts generating a unique order number", maxNumberAttempts)
}

// Totals computes the persisted monetary fields from the order lines:
// subtotal, 19% tax, shipping (free above the threshold), and their sum.
func Totals(items []Item) (subtotal, tax, shipping, total decimal.Decimal) {
	subtotal = decimal.Zero
	for i := range items {
		subtotal = subtotal.Add(items[i].TotalPrice())
	}
	tax = subtotal.Mul(taxRate)
	if subtotal.GreaterThan(freeShippingAbove) {
		shipping = decimal.Zero
	} else {
		shipping = shippingFee
	}
	total = subtotal.Add(tax).Add(shipping)
	return subtotal, tax, shipping, total
}

// GetForUser returns an order only when it belongs to the requesting user.
func (s *Service) GetForUser(ctx context.Context, orderID, userID uuid.UUID) (*Order, error) {
	return s.orders.GetForUser(ctx, orderID, userID)
}

// ListForUser returns one page of the user's orders, newest first, optionally
// filtered by status (case-insensitive).
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, f ListFilter) ([]Order, Pagination, error) {
	f = normalizeFilter(f)
	orders, total, err := s.orders.ListForUser(ctx, userID, f)
	if err != nil {
		return nil, Pagination{}, errors.Wrap(err, "list user orders")
	}
	return orders, paginate(f, total), nil
}

// List returns one page of all orders (admin listing).
func (s *Service) List(ctx context.Context, f ListFilter) ([]Order, Pagination, error) {
	f = normalizeFilter(f)
	orders, total, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, Pagination{}, errors.Wrap(err, "list orders")
	}
	return orders, paginate(f, total), nil
}

// Cancel transitions an owned Pending or Processing order to Canceled and
// restores each line's stock. The reason is recorded in the log only.
func (s *Service) Cancel(ctx context.Context, orderID, userID uuid.UUID, reason string) (*Order, error) {
	o, err := s.orders.GetForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if !o.Status.Cancelable() {
		return nil, ErrNotCancelable
	}

	o.Status = StatusCanceled
	if err := s.orders.Cancel(ctx, o); err != nil {
		return nil, errors.Wrap(err, "cancel order")
	}

	zctx.From(ctx).Info("Order canceled",
		zap.String("order_number", o.Number),
		zap.String("user_id", userID.String()),
		zap.String("reason", reason),
	)
	s.events.OrderCanceled(ctx, o)

	return o, nil
}

// UpdateStatus sets an order's status to any value of the closed enumeration.
// Transitions are deliberately unrestricted and stock is never adjusted here;
// only Cancel restores stock.
func (s *Service) UpdateStatus(ctx context.Context, orderID uuid.UUID, status, note, trackingNumber string) (*Order, error) {
	parsed, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	o.Status = parsed
	if trackingNumber != "" {
		o.TrackingNumber = trackingNumber
	}
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, errors.Wrap(err, "update order")
	}

	zctx.From(ctx).Info("Order status updated",
		zap.String("order_number", o.Number),
		zap.String("status", string(parsed)),
		zap.String("note", note),
	)
	return o, nil
}

// Recent returns the most recently created orders for the admin dashboard.
func (s *Service) Recent(ctx context.Context, count int) ([]Order, error) {
	if count <= 0 {
		count = 10
	}
	return s.orders.Recent(ctx, count)
}

// Statistics returns order counts grouped by status.
func (s *Service) Statistics(ctx context.Context) (map[string]int, error) {
	return s.orders.CountByStatus(ctx)
}

func normalizeFilter(f ListFilter) ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	return f
}

func paginate(f ListFilter, total int) Pagination {
	return Pagination{
		CurrentPage:  f.Page,
		TotalPages:   int(math.Ceil(float64(total) / float64(f.Limit))),
		TotalItems:   total,
		ItemsPerPage: f.Limit,
	}
}

package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chocomarket/backend/internal/domain/order"
)

type createOrderRequest struct {
	ShippingAddress shippingAddressDTO `json:"shippingAddress"`
	PaymentMethod   string             `json:"paymentMethod"`
	Notes           string             `json:"notes"`
}

type shippingAddressDTO struct {
	Name          string `json:"name"`
	FullName      string `json:"fullName"`
	StreetAddress string `json:"streetAddress"`
	City          string `json:"city"`
	PostalCode    string `json:"postalCode"`
	Phone         string `json:"phone"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderDTO struct {
	ID                uuid.UUID         `json:"id"`
	OrderNumber       string            `json:"orderNumber"`
	UserID            uuid.UUID         `json:"userId"`
	Status            string            `json:"status"`
	Items             []orderItemDTO    `json:"items"`
	ShippingAddress   orderAddressDTO   `json:"shippingAddress"`
	PaymentMethod     string            `json:"paymentMethod"`
	PaymentStatus     string            `json:"paymentStatus"`
	Subtotal          decimal.Decimal   `json:"subtotal"`
	Tax               decimal.Decimal   `json:"tax"`
	Shipping          decimal.Decimal   `json:"shipping"`
	Total             decimal.Decimal   `json:"total"`
	CreatedAt         time.Time         `json:"createdAt"`
	EstimatedDelivery *time.Time        `json:"estimatedDelivery,omitempty"`
	StatusHistory     []statusHistoryDTO `json:"statusHistory"`
	Tracking          *trackingDTO      `json:"tracking,omitempty"`
}

type orderItemDTO struct {
	ID         uuid.UUID        `json:"id"`
	ProductID  uuid.UUID        `json:"productId"`
	Product    *orderProductDTO `json:"product,omitempty"`
	Quantity   int              `json:"quantity"`
	UnitPrice  decimal.Decimal  `json:"unitPrice"`
	TotalPrice decimal.Decimal  `json:"totalPrice"`
}

type orderProductDTO struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Slug  string    `json:"slug"`
	Image string    `json:"image"`
}

type orderAddressDTO struct {
	FullName   string `json:"fullName"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Phone      string `json:"phone"`
}

type statusHistoryDTO struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

type trackingDTO struct {
	TrackingNumber    string     `json:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
}

type orderSummaryDTO struct {
	ID                uuid.UUID       `json:"id"`
	OrderNumber       string          `json:"orderNumber"`
	Status            string          `json:"status"`
	Total             decimal.Decimal `json:"total"`
	ItemCount         int             `json:"itemCount"`
	CreatedAt         time.Time       `json:"createdAt"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
}

type paginatedOrdersDTO struct {
	Orders     []orderSummaryDTO `json:"orders"`
	Pagination paginationDTO     `json:"pagination"`
}

type paginationDTO struct {
	CurrentPage  int `json:"currentPage"`
	TotalPages   int `json:"totalPages"`
	TotalItems   int `json:"totalItems"`
	ItemsPerPage int `json:"itemsPerPage"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var req createOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ShippingAddress.FullName == "" || req.ShippingAddress.StreetAddress == "" ||
		req.ShippingAddress.City == "" || req.PaymentMethod == "" {
		respondError(w, http.StatusBadRequest, "shippingAddress (fullName, streetAddress, city) and paymentMethod are required")
		return
	}

	o, err := h.orders.Create(r.Context(), id.UserID, order.CreateRequest{
		ShippingAddress: order.Address{
			Name:          req.ShippingAddress.Name,
			FullName:      req.ShippingAddress.FullName,
			StreetAddress: req.ShippingAddress.StreetAddress,
			City:          req.ShippingAddress.City,
			PostalCode:    req.ShippingAddress.PostalCode,
			Phone:         req.ShippingAddress.Phone,
		},
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondMessage(w, http.StatusCreated, orderToDTO(o), "order created")
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	orders, page, err := h.orders.ListForUser(r.Context(), id.UserID, listFilter(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, paginatedOrders(orders, page))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}

	o, err := h.orders.GetForUser(r.Context(), orderID, id.UserID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, orderToDTO(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}

	var req cancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	o, err := h.orders.Cancel(r.Context(), orderID, id.UserID, req.Reason)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, orderToDTO(o), "order canceled")
}

// listFilter reads page, limit, and status query parameters. Out-of-range
// values fall back to the service defaults.
func listFilter(r *http.Request) order.ListFilter {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return order.ListFilter{
		Status: q.Get("status"),
		Page:   page,
		Limit:  limit,
	}
}

func orderToDTO(o *order.Order) orderDTO {
	items := make([]orderItemDTO, len(o.Items))
	for i := range o.Items {
		item := &o.Items[i]
		items[i] = orderItemDTO{
			ID:         item.ID,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice(),
		}
		if item.Product != nil {
			items[i].Product = &orderProductDTO{
				ID:    item.Product.ID,
				Name:  item.Product.Name,
				Slug:  item.Product.Slug,
				Image: item.Product.Image,
			}
		}
	}

	dto := orderDTO{
		ID:          o.ID,
		OrderNumber: o.Number,
		UserID:      o.UserID,
		Status:      string(o.Status),
		Items:       items,
		ShippingAddress: orderAddressDTO{
			FullName:   o.ShippingAddress.FullName,
			Address:    o.ShippingAddress.StreetAddress,
			City:       o.ShippingAddress.City,
			PostalCode: o.ShippingAddress.PostalCode,
			Phone:      o.ShippingAddress.Phone,
		},
		PaymentMethod:     o.PaymentMethod,
		PaymentStatus:     o.PaymentStatus,
		Subtotal:          o.Subtotal,
		Tax:               o.Tax,
		Shipping:          o.Shipping,
		Total:             o.Total,
		CreatedAt:         o.CreatedAt,
		EstimatedDelivery: o.EstimatedDelivery,
		StatusHistory: []statusHistoryDTO{{
			Status:    string(o.Status),
			Timestamp: o.CreatedAt,
			Note:      "Order created",
		}},
	}
	if o.TrackingNumber != "" || o.EstimatedDelivery != nil {
		dto.Tracking = &trackingDTO{
			TrackingNumber:    o.TrackingNumber,
			EstimatedDelivery: o.EstimatedDelivery,
		}
	}
	return dto
}

func paginatedOrders(orders []order.Order, page order.Pagination) paginatedOrdersDTO {
	summaries := make([]orderSummaryDTO, len(orders))
	for i := range orders {
		o := &orders[i]
		summaries[i] = orderSummaryDTO{
			ID:                o.ID,
			OrderNumber:       o.Number,
			Status:            string(o.Status),
			Total:             o.Total,
			ItemCount:         o.ItemCount(),
			CreatedAt:         o.CreatedAt,
			EstimatedDelivery: o.EstimatedDelivery,
		}
	}
	return paginatedOrdersDTO{
		Orders: summaries,
		Pagination: paginationDTO{
			CurrentPage:  page.CurrentPage,
			TotalPages:   page.TotalPages,
			TotalItems:   page.TotalItems,
			ItemsPerPage: page.ItemsPerPage,
		},
	}
}

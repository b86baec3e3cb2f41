package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chocomarket/backend/internal/domain/cart"
)

type addCartItemRequest struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type cartItemDTO struct {
	ID         uuid.UUID       `json:"id"`
	ProductID  uuid.UUID       `json:"productId"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

type cartDTO struct {
	Items     []cartItemDTO   `json:"items"`
	ItemCount int             `json:"itemCount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	view, err := h.carts.Get(r.Context(), id.UserID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	items := make([]cartItemDTO, len(view.Items))
	for i := range view.Items {
		items[i] = cartItem(&view.Items[i])
	}
	respond(w, http.StatusOK, cartDTO{
		Items:     items,
		ItemCount: view.ItemCount,
		Subtotal:  view.Subtotal,
		Tax:       view.Tax,
		Total:     view.Total,
		UpdatedAt: view.UpdatedAt,
	})
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var req addCartItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProductID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "productId is required")
		return
	}

	item, err := h.carts.Add(r.Context(), id.UserID, req.ProductID, req.Quantity)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondMessage(w, http.StatusCreated, cartItem(item), "item added to cart")
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	itemID, err := uuid.Parse(chi.URLParam(r, "itemId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid cart item id")
		return
	}

	var req updateCartItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.carts.UpdateItem(r.Context(), id.UserID, itemID, req.Quantity)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, cartItem(item))
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	itemID, err := uuid.Parse(chi.URLParam(r, "itemId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid cart item id")
		return
	}

	if err := h.carts.Remove(r.Context(), id.UserID, itemID); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, nil, "item removed from cart")
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	if err := h.carts.Clear(r.Context(), id.UserID); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, nil, "cart cleared")
}

func cartItem(item *cart.Item) cartItemDTO {
	return cartItemDTO{
		ID:         item.ID,
		ProductID:  item.ProductID,
		Quantity:   item.Quantity,
		UnitPrice:  item.UnitPrice,
		TotalPrice: item.TotalPrice(),
	}
}

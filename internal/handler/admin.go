package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type updateOrderStatusRequest struct {
	Status         string `json:"status"`
	Note           string `json:"note"`
	TrackingNumber string `json:"trackingNumber"`
}

func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	orders, page, err := h.orders.List(r.Context(), listFilter(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, paginatedOrders(orders, page))
}

func (h *Handler) adminUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}

	var req updateOrderStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status == "" {
		respondError(w, http.StatusBadRequest, "status is required")
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), orderID, req.Status, req.Note, req.TrackingNumber)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, orderToDTO(o), "order status updated")
}

func (h *Handler) adminRecentOrders(w http.ResponseWriter, r *http.Request) {
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))

	orders, err := h.orders.Recent(r.Context(), count)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	dtos := make([]orderDTO, len(orders))
	for i := range orders {
		dtos[i] = orderToDTO(&orders[i])
	}
	respond(w, http.StatusOK, dtos)
}

func (h *Handler) adminOrderStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orders.Statistics(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, stats)
}

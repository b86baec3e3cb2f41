// Package handler exposes the HTTP API: auth, cart, order, and admin order
// endpoints, all wrapped in the {success, data, message} envelope.
package handler

import (
	"github.com/go-chi/chi/v5"

	"github.com/chocomarket/backend/internal/domain/auth"
	"github.com/chocomarket/backend/internal/domain/cart"
	"github.com/chocomarket/backend/internal/domain/order"
)

// Handler holds the domain services behind the HTTP API.
type Handler struct {
	auth   *auth.Service
	carts  *cart.Service
	orders *order.Service
}

// NewHandler constructs a Handler with the required domain services.
func NewHandler(authSvc *auth.Service, carts *cart.Service, orders *order.Service) *Handler {
	return &Handler{
		auth:   authSvc,
		carts:  carts,
		orders: orders,
	}
}

// Routes registers all /api endpoints on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/refresh", h.refresh)
		r.Post("/logout", h.logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(authenticate(h.auth.Manager()))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.getCart)
			r.Delete("/", h.clearCart)
			r.Post("/items", h.addCartItem)
			r.Put("/items/{itemId}", h.updateCartItem)
			r.Delete("/items/{itemId}", h.removeCartItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Get("/", h.listOrders)
			r.Get("/{orderId}", h.getOrder)
			r.Put("/{orderId}/cancel", h.cancelOrder)
		})

		r.Route("/admin/orders", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/", h.adminListOrders)
			r.Get("/recent", h.adminRecentOrders)
			r.Get("/statistics", h.adminOrderStatistics)
			r.Put("/{orderId}/status", h.adminUpdateOrderStatus)
		})
	})
}

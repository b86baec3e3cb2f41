package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/chocomarket/backend/internal/domain/auth"
	"github.com/chocomarket/backend/internal/domain/cart"
	"github.com/chocomarket/backend/internal/domain/order"
	"github.com/chocomarket/backend/internal/domain/product"
	"github.com/chocomarket/backend/internal/domain/user"
)

// envelope is the uniform response wrapper. Message is omitted when empty.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func respondMessage(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: message})
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondDomainError translates a domain error to its HTTP status: not-found
// errors map to 404, rule violations to 400, credential failures to 401, and
// everything else to a logged generic 500.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, cart.ErrItemNotFound):
		respondError(w, http.StatusNotFound, err.Error())
		return

	case errors.Is(err, order.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "cart is empty")
		return

	case errors.Is(err, order.ErrNotCancelable):
		respondError(w, http.StatusBadRequest, "cannot cancel in current state")
		return

	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInsufficientStock),
		errors.Is(err, user.ErrEmailTaken):
		respondError(w, http.StatusBadRequest, err.Error())
		return

	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidRefreshToken):
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var stockErr *order.InsufficientStockError
	if errors.As(err, &stockErr) {
		respondError(w, http.StatusBadRequest, stockErr.Error())
		return
	}

	var statusErr *order.InvalidStatusError
	if errors.As(err, &statusErr) {
		respondError(w, http.StatusBadRequest, statusErr.Error())
		return
	}

	zctx.From(r.Context()).Error("Request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	respondError(w, http.StatusInternalServerError, "internal server error")
}

// decodeBody parses a JSON request body into dst. Bodies are capped at 64 KiB.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

package handler

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/chocomarket/backend/internal/domain/auth"
	"github.com/chocomarket/backend/internal/domain/user"
)

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	Token string `json:"token"`
}

type userDTO struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
}

type tokenPairDTO struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         *userDTO `json:"user,omitempty"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.FirstName == "" || req.LastName == "" || req.Email == "" || len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, "firstName, lastName, email, and a password of at least 8 characters are required")
		return
	}

	u, pair, err := h.auth.Register(r.Context(), auth.RegisterRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondMessage(w, http.StatusCreated, tokenPair(u, pair), "registration successful")
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	u, pair, err := h.auth.Login(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respond(w, http.StatusOK, tokenPair(u, pair))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respond(w, http.StatusOK, tokenPair(nil, pair))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !decodeBody(w, r, &req) {
		return
	}

	token := req.Token
	if token == "" {
		token = bearerToken(r)
	}
	if err := h.auth.Logout(r.Context(), token); err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, nil, "logged out")
}

func tokenPair(u *user.User, pair *auth.TokenPair) tokenPairDTO {
	dto := tokenPairDTO{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
	if u != nil {
		dto.User = &userDTO{
			ID:        u.ID,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Email:     u.Email,
			Role:      u.Role,
		}
	}
	return dto
}

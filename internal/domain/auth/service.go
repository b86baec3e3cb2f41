package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/chocomarket/backend/internal/domain/user"
)

var (
	// ErrInvalidCredentials is returned for a wrong email/password pair.
	// The message is shared between the two cases to avoid account probing.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRefreshToken is returned when a refresh token is unknown,
	// expired, or already revoked.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// RefreshToken is a persisted, single-use token exchangeable for a new token
// pair. Rotation revokes it and issues a replacement.
type RefreshToken struct {
	ID        uuid.UUID
	Token     string
	UserID    uuid.UUID
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the token can still be exchanged.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// RefreshTokenRepository defines persistence operations for refresh tokens.
type RefreshTokenRepository interface {
	GetByToken(ctx context.Context, token string) (*RefreshToken, error)
	Create(ctx context.Context, t *RefreshToken) error
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}

// TokenPair is an access token plus the refresh token that renews it.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// RegisterRequest holds the input for creating an account.
type RegisterRequest struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// Service implements registration, login, refresh rotation, and logout.
type Service struct {
	users   user.Repository
	tokens  RefreshTokenRepository
	manager *TokenManager
	now     func() time.Time
}

// NewService creates an auth Service.
func NewService(users user.Repository, tokens RefreshTokenRepository, manager *TokenManager) *Service {
	return &Service{
		users:   users,
		tokens:  tokens,
		manager: manager,
		now:     time.Now,
	}
}

// Register creates a Customer account and returns its first token pair.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*user.User, *TokenPair, error) {
	existing, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return nil, nil, errors.Wrap(err, "check email")
	}
	if existing != nil {
		return nil, nil, user.ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, errors.Wrap(err, "hash password")
	}

	u := &user.User{
		ID:           uuid.New(),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         user.RoleCustomer,
		CreatedAt:    s.now(),
		UpdatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, nil, errors.Wrap(err, "create user")
	}

	pair, err := s.issuePair(ctx, u)
	if err != nil {
		return nil, nil, err
	}

	zctx.From(ctx).Info("User registered", zap.String("user_id", u.ID.String()))
	return u, pair, nil
}

// Login verifies credentials and returns a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*user.User, *TokenPair, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, errors.Wrap(err, "get user")
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

// Refresh exchanges an active refresh token for a new pair. The presented
// token is revoked first so it can never be replayed.
func (s *Service) Refresh(ctx context.Context, token string) (*TokenPair, error) {
	stored, err := s.tokens.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, errors.Wrap(err, "get refresh token")
	}
	if !stored.Active(s.now()) {
		return nil, ErrInvalidRefreshToken
	}

	if err := s.tokens.Revoke(ctx, stored.ID, s.now()); err != nil {
		return nil, errors.Wrap(err, "revoke refresh token")
	}

	u, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}

	return s.issuePair(ctx, u)
}

// Logout revokes every refresh token the access token's subject still holds.
// An unparsable token is a no-op.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.manager.Verify(accessToken)
	if err != nil {
		return nil
	}
	id, err := claims.UserID()
	if err != nil {
		return nil
	}
	return s.tokens.RevokeAllForUser(ctx, id)
}

// Manager exposes the token manager for request authentication middleware.
func (s *Service) Manager() *TokenManager { return s.manager }

func (s *Service) issuePair(ctx context.Context, u *user.User) (*TokenPair, error) {
	access, err := s.manager.Access(u)
	if err != nil {
		return nil, err
	}

	refresh, err := NewRefreshToken()
	if err != nil {
		return nil, err
	}
	rt := &RefreshToken{
		ID:        uuid.New(),
		Token:     refresh,
		UserID:    u.ID,
		ExpiresAt: s.now().Add(refreshTokenTTL),
		CreatedAt: s.now(),
	}
	if err := s.tokens.Create(ctx, rt); err != nil {
		return nil, errors.Wrap(err, "store refresh token")
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

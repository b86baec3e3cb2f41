package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/chocomarket/backend/internal/domain/user"
)

// --- Mock implementations ---

type mockUserRepo struct {
	byID    map[uuid.UUID]*user.User
	byEmail map[string]*user.User
}

func newMockUserRepo(users ...*user.User) *mockUserRepo {
	m := &mockUserRepo{
		byID:    make(map[uuid.UUID]*user.User),
		byEmail: make(map[string]*user.User),
	}
	for _, u := range users {
		m.byID[u.ID] = u
		m.byEmail[u.Email] = u
	}
	return m
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*user.User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (m *mockUserRepo) Create(_ context.Context, u *user.User) error {
	m.byID[u.ID] = u
	m.byEmail[u.Email] = u
	return nil
}

type mockTokenRepo struct {
	byToken       map[string]*RefreshToken
	revokedAllFor []uuid.UUID
}

func newMockTokenRepo() *mockTokenRepo {
	return &mockTokenRepo{byToken: make(map[string]*RefreshToken)}
}

func (m *mockTokenRepo) GetByToken(_ context.Context, token string) (*RefreshToken, error) {
	rt, ok := m.byToken[token]
	if !ok {
		return nil, ErrInvalidRefreshToken
	}
	return rt, nil
}

func (m *mockTokenRepo) Create(_ context.Context, t *RefreshToken) error {
	m.byToken[t.Token] = t
	return nil
}

func (m *mockTokenRepo) Revoke(_ context.Context, id uuid.UUID, at time.Time) error {
	for _, rt := range m.byToken {
		if rt.ID == id {
			rt.Revoked = true
			rt.RevokedAt = &at
		}
	}
	return nil
}

func (m *mockTokenRepo) RevokeAllForUser(_ context.Context, userID uuid.UUID) error {
	m.revokedAllFor = append(m.revokedAllFor, userID)
	for _, rt := range m.byToken {
		if rt.UserID == userID {
			rt.Revoked = true
		}
	}
	return nil
}

// --- Helpers ---

func newTestService(t *testing.T, users *mockUserRepo, tokens *mockTokenRepo) *Service {
	t.Helper()
	manager, err := NewTokenManager(testKey)
	require.NoError(t, err)
	return NewService(users, tokens, manager)
}

func hashedUser(t *testing.T, email, password string) *user.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &user.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         user.RoleCustomer,
	}
}

// --- Tests ---

func TestRegister(t *testing.T) {
	users := newMockUserRepo()
	tokens := newMockTokenRepo()
	svc := newTestService(t, users, tokens)

	u, pair, err := svc.Register(context.Background(), RegisterRequest{
		FirstName: "Ana",
		LastName:  "Rentería",
		Email:     "ana@example.com",
		Password:  "a-long-password",
	})
	require.NoError(t, err)

	assert.Equal(t, user.RoleCustomer, u.Role)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	// The password is stored hashed, never in the clear.
	assert.NotEqual(t, "a-long-password", u.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("a-long-password")))

	// The refresh token is persisted for later rotation.
	_, ok := tokens.byToken[pair.RefreshToken]
	assert.True(t, ok)
}

func TestRegister_EmailTaken(t *testing.T) {
	existing := hashedUser(t, "ana@example.com", "whatever-pass")
	svc := newTestService(t, newMockUserRepo(existing), newMockTokenRepo())

	_, _, err := svc.Register(context.Background(), RegisterRequest{
		FirstName: "Ana",
		LastName:  "Rentería",
		Email:     "ana@example.com",
		Password:  "a-long-password",
	})
	require.ErrorIs(t, err, user.ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	u := hashedUser(t, "ana@example.com", "a-long-password")
	svc := newTestService(t, newMockUserRepo(u), newMockTokenRepo())

	got, pair, err := svc.Login(context.Background(), "ana@example.com", "a-long-password")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestLogin_WrongPassword(t *testing.T) {
	u := hashedUser(t, "ana@example.com", "a-long-password")
	svc := newTestService(t, newMockUserRepo(u), newMockTokenRepo())

	_, _, err := svc.Login(context.Background(), "ana@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownEmail(t *testing.T) {
	svc := newTestService(t, newMockUserRepo(), newMockTokenRepo())

	_, _, err := svc.Login(context.Background(), "nobody@example.com", "whatever")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_Rotation(t *testing.T) {
	u := hashedUser(t, "ana@example.com", "a-long-password")
	tokens := newMockTokenRepo()
	svc := newTestService(t, newMockUserRepo(u), tokens)

	_, pair, err := svc.Login(context.Background(), "ana@example.com", "a-long-password")
	require.NoError(t, err)

	rotated, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The presented token is revoked before the new one is issued.
	assert.True(t, tokens.byToken[pair.RefreshToken].Revoked)

	// Replaying the old token fails.
	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_Unknown(t *testing.T) {
	svc := newTestService(t, newMockUserRepo(), newMockTokenRepo())

	_, err := svc.Refresh(context.Background(), "never-issued")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_Expired(t *testing.T) {
	u := hashedUser(t, "ana@example.com", "a-long-password")
	tokens := newMockTokenRepo()
	tokens.byToken["expired"] = &RefreshToken{
		ID:        uuid.New(),
		Token:     "expired",
		UserID:    u.ID,
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	svc := newTestService(t, newMockUserRepo(u), tokens)

	_, err := svc.Refresh(context.Background(), "expired")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogout(t *testing.T) {
	u := hashedUser(t, "ana@example.com", "a-long-password")
	tokens := newMockTokenRepo()
	svc := newTestService(t, newMockUserRepo(u), tokens)

	_, pair, err := svc.Login(context.Background(), "ana@example.com", "a-long-password")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), pair.AccessToken))
	require.Len(t, tokens.revokedAllFor, 1)
	assert.Equal(t, u.ID, tokens.revokedAllFor[0])

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogout_GarbageTokenIsNoop(t *testing.T) {
	tokens := newMockTokenRepo()
	svc := newTestService(t, newMockUserRepo(), tokens)

	require.NoError(t, svc.Logout(context.Background(), "not-a-jwt"))
	assert.Empty(t, tokens.revokedAllFor)
}

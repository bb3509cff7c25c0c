package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/checkout/backend/internal/domain"
)

func TestIssueAndParse(t *testing.T) {
	a, err := New("s3cret", "checkout", time.Hour)
	require.NoError(t, err)

	token, err := a.Issue(domain.Actor{ID: "cust-1", Role: domain.RoleCustomer})
	require.NoError(t, err)

	actor, err := a.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{ID: "cust-1", Role: domain.RoleCustomer}, actor)

	req := httptest.NewRequest("GET", "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	actor, err = a.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", actor.ID)
}

func TestParseRejectsBadTokens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a, err := New("s3cret", "checkout", time.Minute)
	require.NoError(t, err)
	a.WithClock(func() time.Time { return now })

	token, err := a.Issue(domain.Actor{ID: "admin-1", Role: domain.RoleAdmin})
	require.NoError(t, err)

	other, err := New("different", "checkout", time.Minute)
	require.NoError(t, err)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	a.WithClock(func() time.Time { return now.Add(2 * time.Minute) })
	_, err = a.Parse(token)
	assert.ErrorIs(t, err, ErrUnauthenticated, "expired")

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "superuser",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x", Issuer: "checkout", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	})
	signed, err := forged.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	a.WithClock(func() time.Time { return now })
	_, err = a.Parse(signed)
	assert.ErrorIs(t, err, ErrUnauthenticated, "unknown role")

	req := httptest.NewRequest("GET", "/", nil)
	_, err = a.FromRequest(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestIssueValidatesActor(t *testing.T) {
	a, err := New("s3cret", "", 0)
	require.NoError(t, err)
	_, err = a.Issue(domain.Actor{Role: domain.RoleAdmin})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = New("", "", 0)
	assert.Error(t, err)
}

func TestActorContext(t *testing.T) {
	ctx := WithActor(context.Background(), domain.SystemActor)
	actor, ok := ActorFrom(ctx)
	require.True(t, ok)
	assert.True(t, actor.IsSystem())

	_, ok = ActorFrom(context.Background())
	assert.False(t, ok)
}

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTService_RequiresSecret(t *testing.T) {
	_, err := NewJWTService(DefaultJWTConfig(""))
	assert.Error(t, err)
}

func TestJWTService_RoundTrip(t *testing.T) {
	svc, err := NewJWTService(DefaultJWTConfig("s3cret"))
	require.NoError(t, err)

	token, err := svc.GenerateToken("alice", RoleOperator)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
}

func TestJWTService_RejectsForeignSignature(t *testing.T) {
	issuer, _ := NewJWTService(DefaultJWTConfig("one"))
	checker, _ := NewJWTService(DefaultJWTConfig("two"))

	token, err := issuer.GenerateToken("bob", RoleViewer)
	require.NoError(t, err)

	_, err = checker.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_Expired(t *testing.T) {
	cfg := DefaultJWTConfig("s3cret")
	cfg.TokenExpiry = -time.Minute
	svc, _ := NewJWTService(cfg)

	token, err := svc.GenerateToken("carol", RoleOperator)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTService_UnknownRole(t *testing.T) {
	svc, _ := NewJWTService(DefaultJWTConfig("s3cret"))
	token, err := svc.GenerateToken("dave", Role("root"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestRole_HasPermission(t *testing.T) {
	assert.True(t, RoleOperator.HasPermission(RoleViewer))
	assert.True(t, RoleOperator.HasPermission(RoleOperator))
	assert.False(t, RoleViewer.HasPermission(RoleOperator))
	assert.False(t, Role("").HasPermission(RoleViewer))
}

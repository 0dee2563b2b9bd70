package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrInsufficientRole = errors.New("insufficient permissions")
)

// Role is an operator's access level on the control API.
type Role string

const (
	// RoleOperator may create, kill and drive processes.
	RoleOperator Role = "operator"
	// RoleViewer may only inspect.
	RoleViewer Role = "viewer"
)

var roleLevel = map[Role]int{
	RoleOperator: 50,
	RoleViewer:   10,
}

// HasPermission checks if role has at least the required permission level
func (r Role) HasPermission(required Role) bool {
	level, ok := roleLevel[r]
	return ok && level >= roleLevel[required]
}

// Claims represents JWT token claims
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey   string
	Issuer      string
	TokenExpiry time.Duration
}

func DefaultJWTConfig(secret string) JWTConfig {
	return JWTConfig{
		SecretKey:   secret,
		Issuer:      "coordmutex",
		TokenExpiry: 1 * time.Hour,
	}
}

// JWTService issues and checks HS256 operator tokens.
type JWTService struct {
	config JWTConfig
}

func NewJWTService(config JWTConfig) (*JWTService, error) {
	if config.SecretKey == "" {
		return nil, errors.New("JWT secret key is required")
	}
	return &JWTService{config: config}, nil
}

// GenerateToken creates a token for subject with role.
func (s *JWTService) GenerateToken(subject string, role Role) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenExpiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.SecretKey))
}

// ValidateToken validates a JWT token and returns the claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.config.SecretKey), nil
	}, jwt.WithIssuer(s.config.Issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if _, known := roleLevel[claims.Role]; !known {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

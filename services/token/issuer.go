// Package token issues and validates the signed session tokens handed out after login.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gfmateus5/Mateus2121/config"
	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/services"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the session token claims
type Claims struct {
	UserID   string          `json:"user_id"`
	Username string          `json:"username"`
	Role     models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// HasRole reports whether the token was issued for the given role
func (c *Claims) HasRole(role models.UserRole) bool {
	return c.Role == role
}

// Issuer signs session tokens with HS256
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. An empty secret is a configuration fault.
func NewIssuer(cfg config.JWTConfig) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, services.ErrSigningKeyUnavailable
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", services.ErrSigningKeyUnavailable)
	}

	return &Issuer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    time.Now,
	}, nil
}

// Issue signs a fresh token for the user. Every call gets its own iat, exp and jti.
func (i *Issuer) Issue(user *models.User) (string, error) {
	now := i.now().UTC()
	claims := Claims{
		UserID:   user.ID.String(),
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature, issuer and expiry and returns the claims
func (i *Issuer) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, services.ErrTokenExpired
		}
		return nil, services.WrapError(services.ErrorTypeUnauthorized, services.ErrInvalidToken.Message, err)
	}
	if !token.Valid {
		return nil, services.ErrInvalidToken
	}

	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, services.WrapError(services.ErrorTypeUnauthorized, services.ErrInvalidToken.Message, err)
	}
	if !claims.Role.IsValid() {
		return nil, services.WrapError(services.ErrorTypeUnauthorized, services.ErrInvalidToken.Message,
			fmt.Errorf("unknown role %q", claims.Role))
	}

	return claims, nil
}

// Package auth validates the bearer tokens presented by customers, staff and
// the AI assistant service, and turns them into an Identity.
package auth

import (
	"errors"
	"fmt"
	"time"

	"supportchat/backend/internal/apperr"
	"supportchat/backend/internal/config"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Role is the kind of actor behind a token.
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleStaff     Role = "staff"
	RoleAdmin     Role = "admin"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleAdmin, RoleAssistant:
		return true
	}
	return false
}

// Identity is the authenticated actor of a request or push connection.
type Identity struct {
	UserID string
	Role   Role
}

// IsStaff reports whether the identity may work the support queue.
func (i Identity) IsStaff() bool {
	return i.Role == RoleStaff || i.Role == RoleAdmin
}

// Claims are the JWT claims issued for an identity.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 tokens.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a token service with the shared secret.
func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret)}
}

// Issue signs a token for userID. Real user tokens come from the account
// service; this is used by the admin CLI and tests.
func (t *TokenService) Issue(userID string, role Role, ttl time.Duration) (string, error) {
	if userID == "" || !role.Valid() {
		return "", fmt.Errorf("invalid identity %q/%q", userID, role)
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    config.TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse verifies a token and returns its identity.
func (t *TokenService) Parse(tokenString string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(config.TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("token expired: %w", apperr.ErrUnauthorized)
		}
		return Identity{}, fmt.Errorf("invalid token: %v: %w", err, apperr.ErrUnauthorized)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return Identity{}, fmt.Errorf("token without subject or role: %w", apperr.ErrUnauthorized)
	}
	return Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

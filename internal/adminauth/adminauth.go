// Package adminauth mints and verifies the HS256 bearer tokens that guard
// client registration.
package adminauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role accepted by Verify.
const RoleAdmin = "admin"

var ErrNotAdmin = errors.New("token does not carry the admin role")

// Claims are the JWT claims of an admin token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issue signs an admin token for subject valid for ttl.
func Issue(secret []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("admin secret is empty")
	}
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify parses token, checks its signature and expiry and requires the admin
// role.
func Verify(secret []byte, token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse admin token: %w", err)
	}
	if claims.Role != RoleAdmin {
		return nil, ErrNotAdmin
	}
	return &claims, nil
}

// Package token issues and verifies the signed, expiring tokens embedded
// in verification/password-reset links sent by package email. Using a
// signed JWT here means the server doesn't need a separate "pending link"
// table beyond the Verification row already tracked in package store —
// the token just carries the user id, the reason, and an expiry, and the
// signature proves the server minted it.
package token

import (
	"errors"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
)

// ErrInvalid is returned for any malformed, unsigned, or expired token.
var ErrInvalid = errors.New("token: invalid or expired")

// Claims identifies what a token authorizes.
type Claims struct {
	UserID int64  `json:"uid"`
	Reason string `json:"reason"` // "register" or "reset"
	jwt.StandardClaims
}

// Signer mints and verifies tokens with a single HMAC secret.
type Signer struct {
	secret []byte
}

// NewSigner constructs a Signer from a server-configured secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Issue mints a token for userID/reason valid for ttl.
func (s *Signer) Issue(userID int64, reason string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		Reason: reason,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(ttl).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

// Verify checks a token's signature and expiry, returning its claims.
func (s *Signer) Verify(tokenString string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalid
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalid
	}
	return claims, nil
}

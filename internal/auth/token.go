// Package auth implements OAuth login and the signed session tokens the
// API accepts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"recipe-box/internal/apperr"
)

const (
	issuerName      = "recipe-box"
	sessionAudience = "session"
	stateAudience   = "oauth-state"
	minSecretLength = 32
)

// Claims are carried by a session token. The token is only honoured while
// the session it names is active.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string { return c.Subject }

// Issuer signs and verifies HS256 tokens with the session secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer creates an Issuer. The secret must be at least 32 bytes.
func NewIssuer(secret string) (*Issuer, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretLength)
	}
	return &Issuer{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a session token for userID valid until expiresAt.
func (i *Issuer) Issue(userID, sessionID string, expiresAt time.Time) (string, error) {
	now := i.now()
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{sessionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return i.sign(claims)
}

// Parse verifies a session token.
func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	if err := i.parse(token, claims, sessionAudience); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, apperr.Unauthenticated("invalid token")
	}
	return claims, nil
}

func (i *Issuer) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("failed to sign token: %w", err))
	}
	return signed, nil
}

func (i *Issuer) parse(token string, claims jwt.Claims, audience string) error {
	if token == "" {
		return apperr.Unauthenticated("missing token")
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperr.Unauthenticated("token expired")
	default:
		return &apperr.Error{Kind: apperr.KindUnauthenticated, Message: "invalid token", Err: err}
	}
}

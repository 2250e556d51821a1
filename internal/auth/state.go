package auth

import (
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"recipe-box/internal/apperr"
)

const (
	stateTTL    = 10 * time.Minute
	nonceCookie = "oauth_nonce"
)

// StateClaims travel through the provider as the OAuth state parameter.
// The nonce is also set as a cookie so a state minted for one browser
// cannot be replayed in another.
type StateClaims struct {
	Nonce    string `json:"nonce"`
	Provider string `json:"provider"`
	Return   string `json:"ret,omitempty"`
	jwt.RegisteredClaims
}

// IssueState mints a state token and the nonce to pair it with.
func (i *Issuer) IssueState(provider, returnPath string) (state, nonce string, err error) {
	nonce, err = randomString(16)
	if err != nil {
		return "", "", apperr.Internal(err)
	}
	now := i.now()
	state, err = i.sign(StateClaims{
		Nonce:    nonce,
		Provider: provider,
		Return:   SafeReturnPath(returnPath),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	})
	if err != nil {
		return "", "", err
	}
	return state, nonce, nil
}

// ParseState verifies a state token against the provider handling the
// callback and the nonce cookie.
func (i *Issuer) ParseState(state, provider, nonce string) (*StateClaims, error) {
	claims := &StateClaims{}
	if err := i.parse(state, claims, stateAudience); err != nil {
		return nil, apperr.Unauthenticated("invalid login state")
	}
	if claims.Provider != provider || nonce == "" || claims.Nonce != nonce {
		return nil, apperr.Unauthenticated("login state does not match")
	}
	return claims, nil
}

// SafeReturnPath keeps only same-site relative paths; anything else
// becomes "/".
func SafeReturnPath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return "/"
	}
	u, err := url.Parse(p)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return p
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recipe-box/internal/apperr"
)

const (
	linkSigSize  = 12
	linkCodeSize = 16 + 4 + linkSigSize
)

// IssueLinkCode returns a short signed code that proves the bearer may
// attach a chat to userID. It fits a Telegram /start payload, which a
// JWT does not.
func (i *Issuer) IssueLinkCode(userID string, ttl time.Duration) (string, time.Time, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", time.Time{}, apperr.Internal(fmt.Errorf("user id %q is not a uuid: %w", userID, err))
	}
	expires := i.now().Add(ttl).Truncate(time.Second)

	raw := make([]byte, 0, linkCodeSize)
	raw = append(raw, id[:]...)
	raw = binary.BigEndian.AppendUint32(raw, uint32(expires.Unix()))
	raw = append(raw, i.linkMAC(raw)...)
	return base64.RawURLEncoding.EncodeToString(raw), expires, nil
}

// ParseLinkCode verifies a code from IssueLinkCode and returns its user.
func (i *Issuer) ParseLinkCode(code string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil || len(raw) != linkCodeSize {
		return "", apperr.Unauthenticated("invalid link code")
	}
	body, sig := raw[:linkCodeSize-linkSigSize], raw[linkCodeSize-linkSigSize:]
	if !hmac.Equal(sig, i.linkMAC(body)) {
		return "", apperr.Unauthenticated("invalid link code")
	}
	expires := time.Unix(int64(binary.BigEndian.Uint32(body[16:])), 0)
	if !i.now().Before(expires) {
		return "", apperr.Unauthenticated("link code expired")
	}
	id, err := uuid.FromBytes(body[:16])
	if err != nil {
		return "", apperr.Unauthenticated("invalid link code")
	}
	return id.String(), nil
}

func (i *Issuer) linkMAC(body []byte) []byte {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte("chat-link:"))
	mac.Write(body)
	return mac.Sum(nil)[:linkSigSize]
}

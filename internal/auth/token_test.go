package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-box/internal/apperr"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer(testSecret)
	require.NoError(t, err)
	return iss
}

func TestNewIssuerRejectsShortSecret(t *testing.T) {
	_, err := NewIssuer("short")
	assert.Error(t, err)
}

func TestIssueAndParse(t *testing.T) {
	iss := newTestIssuer(t)

	token, err := iss.Issue("user-1", "sess-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	claims, err := iss.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "sess-1", claims.SessionID)
}

func TestParseRejects(t *testing.T) {
	iss := newTestIssuer(t)
	valid, err := iss.Issue("user-1", "sess-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	other, err := NewIssuer(strings.Repeat("x", 32))
	require.NoError(t, err)
	forged, err := other.Issue("user-1", "sess-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	otherSession, err := iss.Issue("user-2", "sess-2", time.Now().Add(time.Hour))
	require.NoError(t, err)
	v, o := strings.Split(valid, "."), strings.Split(otherSession, ".")
	tampered := v[0] + "." + o[1] + "." + v[2]

	expired, err := iss.Issue("user-1", "sess-1", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	state, _, err := iss.IssueState("google", "/")
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{SessionID: "sess-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":           "",
		"garbage":         "not-a-token",
		"bad signature":   valid[:len(valid)-2] + "xx",
		"swapped payload": tampered,
		"forged":          forged,
		"expired":         expired,
		"state":           state,
		"alg none":        unsigned,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := iss.Parse(token)
			assert.True(t, apperr.Is(err, apperr.KindUnauthenticated), "got %v", err)
		})
	}
}

func TestParseUsesIssuerClock(t *testing.T) {
	iss := newTestIssuer(t)
	token, err := iss.Issue("user-1", "sess-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	iss.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = iss.Parse(token)
	require.Error(t, err)
	assert.Equal(t, "token expired", apperr.From(err).Message)
}

func TestState(t *testing.T) {
	iss := newTestIssuer(t)

	state, nonce, err := iss.IssueState("github", "/recipes?tab=all")
	require.NoError(t, err)
	require.NotEmpty(t, nonce)

	claims, err := iss.ParseState(state, "github", nonce)
	require.NoError(t, err)
	assert.Equal(t, "/recipes?tab=all", claims.Return)

	_, err = iss.ParseState(state, "google", nonce)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	_, err = iss.ParseState(state, "github", "other-nonce")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	_, err = iss.ParseState(state, "github", "")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	session, err := iss.Issue("user-1", "sess-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = iss.ParseState(session, "github", nonce)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
}

func TestSafeReturnPath(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/":                        "/",
		"/recipes/1":               "/recipes/1",
		"//evil.example.com":       "/",
		"/\\evil.example.com":      "/",
		"https://evil.example.com": "/",
		"recipes":                  "/",
		" /shopping ":              "/shopping",
	}
	for in, want := range cases {
		assert.Equal(t, want, SafeReturnPath(in), in)
	}
}

func TestLinkCode(t *testing.T) {
	iss := newTestIssuer(t)
	userID := "5f0c8a52-7a43-4b8e-9d0e-2f1f0d6c9a11"

	code, expires, err := iss.IssueLinkCode(userID, 15*time.Minute)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(code), 64, "must fit a Telegram /start payload")
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expires, 2*time.Second)

	got, err := iss.ParseLinkCode(code)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	other, err := NewIssuer(strings.Repeat("y", 32))
	require.NoError(t, err)
	_, err = other.ParseLinkCode(code)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	_, err = iss.ParseLinkCode("not-a-code")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	iss.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = iss.ParseLinkCode(code)
	require.Error(t, err)
	assert.Equal(t, "link code expired", apperr.From(err).Message)

	_, _, err = iss.IssueLinkCode("user-1", time.Minute)
	assert.Error(t, err)
}

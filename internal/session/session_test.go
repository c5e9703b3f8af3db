package session

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestIssueAndParse(t *testing.T) {
	s, err := NewSigner(testSecret)
	require.NoError(t, err)

	tok, err := s.Issue("u_1", "s_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, LooksLikeJWT(tok))

	c, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u_1", c.UserID)
	assert.Equal(t, "s_1", c.SessionID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), c.ExpiresAt, 5*time.Second)
}

func TestShortSecretRejected(t *testing.T) {
	_, err := NewSigner([]byte("short"))
	assert.Error(t, err)
}

func TestParseExpired(t *testing.T) {
	s, err := NewSigner(testSecret)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := s.Issue("u_1", "s_1", time.Hour)
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseWrongSecret(t *testing.T) {
	a, err := NewSigner(testSecret)
	require.NoError(t, err)
	b, err := NewSigner([]byte(strings.Repeat("z", 32)))
	require.NoError(t, err)

	tok, err := a.Issue("u_1", "s_1", time.Hour)
	require.NoError(t, err)
	_, err = b.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseWrongIssuer(t *testing.T) {
	s, err := NewSigner(testSecret)
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "u_1",
		ID:        "s_1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = s.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsNoneAlg(t *testing.T) {
	s, err := NewSigner(testSecret)
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "u_1",
		ID:        "s_1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = s.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = s.Parse("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLooksLikeJWT(t *testing.T) {
	assert.False(t, LooksLikeJWT("trk_live_abc"))
	assert.True(t, LooksLikeJWT("a.b.c"))
}

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuestTokenRoundTrip(t *testing.T) {
	iss := NewIssuer("s3cret")

	tok, err := iss.IssueGuest("0901234567", time.Minute)
	require.NoError(t, err)

	claims, err := iss.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, claims.Role)
	assert.Equal(t, "0901234567", claims.Phone)
}

func TestParseRejectsForeignAndExpiredTokens(t *testing.T) {
	iss := NewIssuer("s3cret")
	other := NewIssuer("different")

	tok, err := other.IssueAdmin("ops", time.Hour)
	require.NoError(t, err)
	_, err = iss.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err = iss.IssueAdmin("ops", time.Hour)
	require.NoError(t, err)
	iss.now = time.Now
	_, err = iss.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueWithoutSecret(t *testing.T) {
	_, err := NewIssuer("").IssueAdmin("ops", time.Hour)
	assert.Error(t, err)
}

func TestParseWithoutSecret(t *testing.T) {
	// HS256 over an empty key is well formed and would verify against an empty secret
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte{})
	require.NoError(t, err)

	_, err = NewIssuer("").Parse(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

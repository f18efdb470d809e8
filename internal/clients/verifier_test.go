package clients

import (
	"context"
	"testing"
	"time"

	"unideploy/internal/apperrors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "shared-signing-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTVerifierRoundTrip(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":   "ext-123",
		"email": "dev@example.com",
		"name":  "Dev",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	ident, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ext-123", ident.ExternalID)
	assert.Equal(t, "dev@example.com", ident.Email)
	assert.Equal(t, "Dev", ident.Name)
}

func TestJWTVerifierRejectsWrongSecret(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	token := signToken(t, "some-other-secret", jwt.MapClaims{"sub": "ext-123"})

	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))
}

func TestJWTVerifierRejectsExpiredToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "ext-123",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := v.Verify(context.Background(), token)
	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))
}

func TestJWTVerifierRequiresSubject(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{"email": "dev@example.com"})

	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject")
}

func TestJWTVerifierRejectsNoneAlgorithm(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "ext-123"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))
}

func TestRemoteVerifierUnconfigured(t *testing.T) {
	v := &RemoteVerifier{}
	_, err := v.Verify(context.Background(), "anything")
	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))
}

package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestSignProducesVerifiableToken(t *testing.T) {
	key := newKey(t)
	issued := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := NewSigner(key).WithClock(func() time.Time { return issued })

	token, err := signer.Sign("m-1", "api-key", "kid-1", "/instrumentidentifiers", "POST")
	require.NoError(t, err)

	claims, kid, err := Verify(token, &key.PublicKey, jwt.WithTimeFunc(func() time.Time { return issued.Add(time.Minute) }))
	require.NoError(t, err)

	assert.Equal(t, "kid-1", kid)
	assert.Equal(t, "m-1", claims.Issuer)
	assert.Equal(t, "api-key", claims.Subject)
	assert.Equal(t, "/instrumentidentifiers", claims.Resource)
	assert.Equal(t, "POST", claims.Method)
	assert.True(t, claims.IssuedAt.Time.Equal(issued))
	assert.True(t, claims.ExpiresAt.Time.Equal(issued.Add(TokenTTL)))
}

func TestTokenExpiresAfterFiveMinutes(t *testing.T) {
	key := newKey(t)
	issued := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	token, err := NewSigner(key).WithClock(func() time.Time { return issued }).
		Sign("m-1", "api-key", "kid-1", "/instrumentidentifiers", "POST")
	require.NoError(t, err)

	_, _, err = Verify(token, &key.PublicKey, jwt.WithTimeFunc(func() time.Time { return issued.Add(6 * time.Minute) }))
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokensDifferPerResourceAndMethod(t *testing.T) {
	key := newKey(t)
	issued := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := NewSigner(key).WithClock(func() time.Time { return issued })

	post, err := signer.Sign("m-1", "api-key", "kid-1", "/instrumentidentifiers", "POST")
	require.NoError(t, err)
	get, err := signer.Sign("m-1", "api-key", "kid-1", "/instrumentidentifiers", "GET")
	require.NoError(t, err)
	other, err := signer.Sign("m-1", "api-key", "kid-1", "/instrumentidentifiers/abc/networktokens", "GET")
	require.NoError(t, err)

	assert.NotEqual(t, post, get)
	assert.NotEqual(t, get, other)
}

func TestTamperedTokenIsRejected(t *testing.T) {
	key := newKey(t)
	signer := NewSigner(key)
	token, err := signer.Sign("m-1", "api-key", "kid-1", "/instrumentidentifiers", "POST")
	require.NoError(t, err)

	forged, err := signer.Sign("m-1", "api-key", "kid-1", "/instrumentidentifiers", "DELETE")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	forgedParts := strings.Split(forged, ".")
	tampered := parts[0] + "." + forgedParts[1] + "." + parts[2]

	_, _, err = Verify(tampered, &key.PublicKey)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	_, _, err = Verify(token, &newKey(t).PublicKey)
	assert.Error(t, err)
}

func TestSignFailures(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		_, err := NewSigner(nil).Sign("m-1", "api-key", "kid-1", "/instrumentidentifiers", "POST")
		var signErr *types.SigningError
		require.True(t, errors.As(err, &signErr))
		assert.Equal(t, "POST", signErr.Method)
	})

	t.Run("zero clock", func(t *testing.T) {
		signer := NewSigner(newKey(t)).WithClock(func() time.Time { return time.Time{} })
		_, err := signer.Sign("m-1", "api-key", "kid-1", "/instrumentidentifiers", "POST")
		assert.Equal(t, types.KindSigning, types.ErrorKind(err))
	})
}

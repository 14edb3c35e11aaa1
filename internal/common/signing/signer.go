package signing

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

// TokenTTL bounds the validity window of every signed request token.
const TokenTTL = 5 * time.Minute

// Claims binds a token to one resource path and HTTP method.
type Claims struct {
	Resource string `json:"resource"`
	Method   string `json:"method"`
	jwt.RegisteredClaims
}

// Signer produces RS256 bearer tokens for outbound requests. It holds no
// mutable state and is safe for concurrent use.
type Signer struct {
	key *rsa.PrivateKey
	now func() time.Time
}

// NewSigner returns a signer using key and the wall clock.
func NewSigner(key *rsa.PrivateKey) *Signer {
	return &Signer{key: key, now: time.Now}
}

// WithClock replaces the time source, mostly for tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	return &Signer{key: s.key, now: now}
}

// Sign returns a fresh token for one request. Nothing is cached: each call
// gets its own issued-at and expiry.
func (s *Signer) Sign(issuer, subject, keyID, resourcePath, httpMethod string) (string, error) {
	if s.key == nil {
		return "", &types.SigningError{Resource: resourcePath, Method: httpMethod, Err: errors.New("private key is not loaded")}
	}

	var issuedAt time.Time
	if s.now != nil {
		issuedAt = s.now()
	}
	if issuedAt.IsZero() {
		return "", &types.SigningError{Resource: resourcePath, Method: httpMethod, Err: errors.New("clock returned no usable time")}
	}
	issuedAt = issuedAt.UTC().Truncate(time.Second)

	claims := Claims{
		Resource: resourcePath,
		Method:   httpMethod,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", &types.SigningError{Resource: resourcePath, Method: httpMethod, Err: err}
	}
	return signed, nil
}

// Verify parses a token produced by Sign, checking the RS256 signature and
// the expiry window. Extra parser options (a fixed clock, leeway) may be passed.
func Verify(tokenString string, publicKey *rsa.PublicKey, opts ...jwt.ParserOption) (*Claims, string, error) {
	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}, opts...)

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return publicKey, nil
	}, opts...)
	if err != nil {
		return nil, "", err
	}
	if !token.Valid {
		return nil, "", fmt.Errorf("invalid token")
	}

	keyID, _ := token.Header["kid"].(string)
	return claims, keyID, nil
}

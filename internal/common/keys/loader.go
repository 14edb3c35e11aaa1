package keys

import (
	"crypto/rsa"
	"errors"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

// LoadPrivateKey reads a PEM encoded RSA private key (PKCS#1 or PKCS#8) from
// path. The key is loaded once at startup and shared read-only afterwards.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &types.KeyMaterialError{Path: path, Err: errors.New("path is empty")}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.KeyMaterialError{Path: path, Err: err}
	}

	key, err := ParsePrivateKey(raw)
	if err != nil {
		return nil, &types.KeyMaterialError{Path: path, Err: err}
	}
	return key, nil
}

// ParsePrivateKey decodes PEM bytes into an RSA private key.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	if len(pemBytes) == 0 {
		return nil, errors.New("key material is empty")
	}
	return jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
}

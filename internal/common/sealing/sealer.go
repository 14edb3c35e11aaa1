package sealing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

// Prefix marks values produced by Seal so readers can tell sealed from plain
// metadata written before sealing was enabled.
const Prefix = "sealed:v1:"

const nonceSize = 12

// Sealer encrypts record metadata with AES-256-GCM under a per-merchant key
// derived from the KEK with HKDF-SHA256. The merchant id is the HKDF salt and
// the GCM additional data, so a sealed value only opens for its own merchant.
type Sealer struct {
	kekProvider types.KEKProvider
}

func NewSealer(kekProvider types.KEKProvider) *Sealer {
	return &Sealer{kekProvider: kekProvider}
}

// Seal encrypts plaintext and returns Prefix + base64(nonce || ciphertext).
func (s *Sealer) Seal(merchantID string, plaintext []byte) (string, error) {
	gcm, err := s.aead(merchantID)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(merchantID))
	return Prefix + base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// Open reverses Seal.
func (s *Sealer) Open(merchantID, sealed string) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, fmt.Errorf("value is not sealed")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, Prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed value: %w", err)
	}
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("sealed value too short")
	}

	gcm, err := s.aead(merchantID)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], []byte(merchantID))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt sealed value: %w", err)
	}
	return plaintext, nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

func (s *Sealer) aead(merchantID string) (cipher.AEAD, error) {
	kek, err := s.kekProvider.GetKEK()
	if err != nil {
		return nil, fmt.Errorf("failed to get KEK: %w", err)
	}

	derived := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, kek, []byte(merchantID), []byte("credential-metadata")), derived); err != nil {
		return nil, fmt.Errorf("failed to derive key with HKDF: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return gcm, nil
}

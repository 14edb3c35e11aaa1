package types

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
)

const kekSource = "KEK_BASE64"

// KEKProvider supplies the key encryption key used to seal stored metadata.
type KEKProvider interface {
	GetKEK() ([]byte, error)
	Close() error
}

// StaticKEKProvider serves one 256-bit KEK decoded from configuration. Close
// wipes it; later calls to GetKEK fail.
type StaticKEKProvider struct {
	mu  sync.RWMutex
	kek []byte
}

// NewStaticKEKProvider decodes a base64 KEK. Problems are reported as
// KeyMaterialError so startup failures name the offending setting.
func NewStaticKEKProvider(kekBase64 string) (*StaticKEKProvider, error) {
	if kekBase64 == "" {
		return nil, &KeyMaterialError{Path: kekSource, Err: errors.New("value is empty")}
	}

	kek, err := base64.StdEncoding.DecodeString(kekBase64)
	if err != nil {
		return nil, &KeyMaterialError{Path: kekSource, Err: fmt.Errorf("decode: %w", err)}
	}
	if len(kek) != 32 {
		return nil, &KeyMaterialError{Path: kekSource, Err: fmt.Errorf("want 32 bytes, got %d", len(kek))}
	}
	return &StaticKEKProvider{kek: kek}, nil
}

// GetKEK returns a copy the caller may mutate.
func (p *StaticKEKProvider) GetKEK() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.kek == nil {
		return nil, &KeyMaterialError{Path: kekSource, Err: errors.New("provider closed")}
	}
	return append([]byte(nil), p.kek...), nil
}

func (p *StaticKEKProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clear(p.kek)
	p.kek = nil
	return nil
}

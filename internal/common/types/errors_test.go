package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", &ValidationError{Field: "merchantId", Message: "required"}, KindValidation},
		{"api", &APIError{Op: "create", StatusCode: 400, Body: "bad"}, KindAPI},
		{"network", &NetworkError{Op: "fetch", Err: context.DeadlineExceeded}, KindNetwork},
		{"signing", &SigningError{Err: errors.New("no key")}, KindSigning},
		{"key material", &KeyMaterialError{Path: "/tmp/k.pem", Err: errors.New("missing")}, KindKeyMaterial},
		{"persistence", &PersistenceError{Op: "save", Err: ErrDuplicatePaymentTokenID}, KindPersistence},
		{"not found", fmt.Errorf("lookup: %w", ErrNotFound), KindNotFound},
		{"orchestration", &OrchestrationError{Step: "parse", Message: "missing id"}, KindOrchestration},
		{"wrapped api", fmt.Errorf("outer: %w", &APIError{StatusCode: 502}), KindAPI},
		{"plain", errors.New("boom"), KindInternal},
		{
			"persistence caused by key material",
			&PersistenceError{Op: "save", Err: fmt.Errorf("failed to seal metadata: %w",
				fmt.Errorf("failed to get KEK: %w", &KeyMaterialError{Path: "KEK_BASE64", Err: errors.New("provider closed")}))},
			KindPersistence,
		},
		{
			"orchestration caused by network",
			&OrchestrationError{Step: "persist", Message: "cancelled", Err: &NetworkError{Op: "fetch", Err: context.Canceled}},
			KindOrchestration,
		},
		{"wrapped not found", fmt.Errorf("a: %w", fmt.Errorf("b: %w", ErrNotFound)), KindNotFound},
		{"joined", errors.Join(errors.New("first"), &SigningError{Err: errors.New("no key")}), KindSigning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ErrorKind(tc.err))
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	err := &PersistenceError{Op: "save", Err: ErrDuplicatePaymentTokenID}
	assert.ErrorIs(t, err, ErrDuplicatePaymentTokenID)

	netErr := &NetworkError{Op: "fetch", Err: context.Canceled}
	assert.ErrorIs(t, netErr, context.Canceled)

	orch := &OrchestrationError{Step: "persist", Message: "cancelled", Err: context.Canceled}
	assert.Contains(t, orch.Error(), "cancelled")
	assert.ErrorIs(t, orch, context.Canceled)
}

func TestStaticKEKProvider(t *testing.T) {
	_, err := NewStaticKEKProvider("")
	var keyErr *KeyMaterialError
	assert.ErrorAs(t, err, &keyErr)

	_, err = NewStaticKEKProvider("not base64!")
	assert.Error(t, err)

	_, err = NewStaticKEKProvider("c2hvcnQ=")
	assert.Error(t, err)

	provider, err := NewStaticKEKProvider("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	assert.NoError(t, err)
	kek, err := provider.GetKEK()
	assert.NoError(t, err)
	assert.Len(t, kek, 32)

	kek[0] = 'x'
	again, _ := provider.GetKEK()
	assert.Equal(t, byte('0'), again[0])
	assert.NoError(t, provider.Close())
	_, err = provider.GetKEK()
	assert.Equal(t, KindKeyMaterial, ErrorKind(err))
}

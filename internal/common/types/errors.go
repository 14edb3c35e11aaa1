package types

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that found nothing.
var ErrNotFound = errors.New("not found")

// ErrDuplicatePaymentTokenID is wrapped by PersistenceError when the store
// rejects a record whose payment token id already exists.
var ErrDuplicatePaymentTokenID = errors.New("payment token id already exists")

// KeyMaterialError reports a private key that could not be loaded.
type KeyMaterialError struct {
	Path string
	Err  error
}

func (e *KeyMaterialError) Error() string {
	return fmt.Sprintf("key material %q: %v", e.Path, e.Err)
}

func (e *KeyMaterialError) Unwrap() error { return e.Err }

// SigningError reports a failure to build a signed authorization token.
type SigningError struct {
	Resource string
	Method   string
	Err      error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sign %s %s: %v", e.Method, e.Resource, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// NetworkError reports a remote call that never produced an interpretable
// response: timeouts, refused connections, TLS and DNS failures.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError reports a non-2xx response from the remote tokenization API.
// StatusCode and Body are the remote values, unmodified.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: remote api returned status %d", e.Op, e.StatusCode)
}

// PersistenceError reports a credential store read or write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// OrchestrationError is the catch-all for unparseable remote responses and any
// unanticipated failure while sequencing a tokenization.
type OrchestrationError struct {
	Step    string
	Message string
	Err     error
}

func (e *OrchestrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("orchestration %s: %s: %v", e.Step, e.Message, e.Err)
	}
	return fmt.Sprintf("orchestration %s: %s", e.Step, e.Message)
}

func (e *OrchestrationError) Unwrap() error { return e.Err }

// ValidationError reports caller input rejected before any remote call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ErrorKind names the taxonomy entry an error belongs to. Transport layers use
// it to pick status codes and to carry the kind across process boundaries.
// The outermost taxonomy error in the chain decides, so a persistence failure
// caused by missing key material is still a persistence failure.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	if kind := kindOf(err); kind != "" {
		return kind
	}
	return KindInternal
}

func kindOf(err error) string {
	for err != nil {
		switch err.(type) {
		case *ValidationError:
			return KindValidation
		case *APIError:
			return KindAPI
		case *NetworkError:
			return KindNetwork
		case *SigningError:
			return KindSigning
		case *KeyMaterialError:
			return KindKeyMaterial
		case *PersistenceError:
			return KindPersistence
		case *OrchestrationError:
			return KindOrchestration
		}
		if err == ErrNotFound {
			return KindNotFound
		}

		switch wrapped := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range wrapped.Unwrap() {
				if kind := kindOf(inner); kind != "" {
					return kind
				}
			}
			return ""
		case interface{ Unwrap() error }:
			err = wrapped.Unwrap()
		default:
			return ""
		}
	}
	return ""
}

const (
	KindValidation    = "validation"
	KindAPI           = "api"
	KindNetwork       = "network"
	KindSigning       = "signing"
	KindKeyMaterial   = "key_material"
	KindPersistence   = "persistence"
	KindNotFound      = "not_found"
	KindOrchestration = "orchestration"
	KindInternal      = "internal"
)

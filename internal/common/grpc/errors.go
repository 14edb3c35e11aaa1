package grpc

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

const (
	trailerErrorKind   = "x-error-kind"
	trailerErrorDetail = "x-error-detail-bin"
)

// errorDetail carries the fields of a typed error across the wire so the
// client can rebuild the same kind.
type errorDetail struct {
	Kind       string `json:"kind"`
	Op         string `json:"op,omitempty"`
	Method     string `json:"method,omitempty"`
	Message    string `json:"message,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	Body       string `json:"body,omitempty"`
}

func codeForKind(kind string) codes.Code {
	switch kind {
	case types.KindValidation:
		return codes.InvalidArgument
	case types.KindNotFound:
		return codes.NotFound
	case types.KindNetwork:
		return codes.Unavailable
	case types.KindAPI:
		return codes.FailedPrecondition
	case types.KindPersistence:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

func causeMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func detailFor(err error) errorDetail {
	detail := errorDetail{Kind: types.ErrorKind(err)}

	var (
		keyErr     *types.KeyMaterialError
		signErr    *types.SigningError
		netErr     *types.NetworkError
		apiErr     *types.APIError
		persistErr *types.PersistenceError
		orchErr    *types.OrchestrationError
		validErr   *types.ValidationError
	)
	switch detail.Kind {
	case types.KindValidation:
		errors.As(err, &validErr)
		detail.Op, detail.Message = validErr.Field, validErr.Message
	case types.KindAPI:
		errors.As(err, &apiErr)
		detail.Op, detail.StatusCode, detail.Body = apiErr.Op, apiErr.StatusCode, apiErr.Body
	case types.KindNetwork:
		errors.As(err, &netErr)
		detail.Op, detail.Message = netErr.Op, causeMessage(netErr.Err)
	case types.KindSigning:
		errors.As(err, &signErr)
		detail.Op, detail.Method, detail.Message = signErr.Resource, signErr.Method, causeMessage(signErr.Err)
	case types.KindKeyMaterial:
		errors.As(err, &keyErr)
		detail.Op, detail.Message = keyErr.Path, causeMessage(keyErr.Err)
	case types.KindPersistence:
		errors.As(err, &persistErr)
		detail.Op, detail.Message = persistErr.Op, causeMessage(persistErr.Err)
	case types.KindOrchestration:
		errors.As(err, &orchErr)
		detail.Op, detail.Message = orchErr.Step, orchErr.Message
		if orchErr.Err != nil {
			detail.Body = orchErr.Err.Error()
		}
	default:
		detail.Message = err.Error()
	}
	return detail
}

// toStatus converts a service error into a status error and attaches the
// typed detail as trailer metadata.
func toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	detail := detailFor(err)

	if raw, marshalErr := json.Marshal(detail); marshalErr == nil {
		_ = grpc.SetTrailer(ctx, metadata.Pairs(
			trailerErrorKind, detail.Kind,
			trailerErrorDetail, string(raw),
		))
	}
	return status.Error(codeForKind(detail.Kind), err.Error())
}

// fromStatus rebuilds a typed error from a failed call. Failures that never
// reached the service (no detail trailer) are reported as network errors.
func fromStatus(method string, err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}

	var detail errorDetail
	values := trailer.Get(trailerErrorDetail)
	if len(values) == 0 || json.Unmarshal([]byte(values[0]), &detail) != nil {
		st, _ := status.FromError(err)
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
			return &types.NetworkError{Op: method, Err: err}
		default:
			return &types.OrchestrationError{Step: method, Message: "tokenization service call failed", Err: err}
		}
	}

	switch detail.Kind {
	case types.KindValidation:
		return &types.ValidationError{Field: detail.Op, Message: detail.Message}
	case types.KindAPI:
		return &types.APIError{Op: detail.Op, StatusCode: detail.StatusCode, Body: detail.Body}
	case types.KindNetwork:
		return &types.NetworkError{Op: detail.Op, Err: errors.New(detail.Message)}
	case types.KindSigning:
		return &types.SigningError{Resource: detail.Op, Method: detail.Method, Err: errors.New(detail.Message)}
	case types.KindKeyMaterial:
		return &types.KeyMaterialError{Path: detail.Op, Err: errors.New(detail.Message)}
	case types.KindPersistence:
		cause := errors.New(detail.Message)
		if detail.Message == types.ErrDuplicatePaymentTokenID.Error() {
			cause = types.ErrDuplicatePaymentTokenID
		}
		return &types.PersistenceError{Op: detail.Op, Err: cause}
	case types.KindNotFound:
		return types.ErrNotFound
	case types.KindOrchestration:
		orchErr := &types.OrchestrationError{Step: detail.Op, Message: detail.Message}
		if detail.Body != "" {
			orchErr.Err = errors.New(detail.Body)
		}
		return orchErr
	default:
		return errors.New(detail.Message)
	}
}

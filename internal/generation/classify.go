package generation

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/providers/ai"
)

// Classification is the retry verdict for a failure.
type Classification string

const (
	Retriable    Classification = "RETRIABLE"
	NonRetriable Classification = "NON_RETRIABLE"
)

const (
	codeInvalidRequest = "invalid_request"
	codeInternal       = "internal_error"
)

// Classify is a pure function of the error's type, status and code.
// Failures with no recognizable signal are treated as transient; the retry
// budget bounds them.
func Classify(err error) Classification {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return NonRetriable
	}
	if errors.Is(err, domain.ErrInvalidRequest) {
		return NonRetriable
	}
	var reqErr *ai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.StatusCode)
	}
	return Retriable
}

func classifyStatus(status int) Classification {
	switch {
	case status == 0:
		return Retriable
	case status == http.StatusTooManyRequests:
		return Retriable
	case status >= 500:
		return Retriable
	default:
		return NonRetriable
	}
}

// StatusCode reports the HTTP-like status of a failure. Transport failures
// report 0.
func StatusCode(err error) int {
	var reqErr *ai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	var parseErr *ParseError
	switch {
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case isTransport(err):
		return 0
	}
	return http.StatusInternalServerError
}

// ErrorCode reports a short machine-readable code for diagnostics.
func ErrorCode(err error) string {
	var reqErr *ai.RequestError
	if errors.As(err, &reqErr) && reqErr.Code != "" {
		return reqErr.Code
	}
	var parseErr *ParseError
	var netErr net.Error
	switch {
	case errors.As(err, &parseErr):
		return string(parseErr.Reason)
	case errors.Is(err, domain.ErrInvalidRequest):
		return codeInvalidRequest
	case errors.Is(err, context.Canceled):
		return ai.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ai.CodeTimeout
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return ai.CodeTimeout
		}
		return ai.CodeNetwork
	}
	return codeInternal
}

func isTransport(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr)
}

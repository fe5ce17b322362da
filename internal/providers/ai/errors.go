package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	CodeTimeout         = "timeout"
	CodeNetwork         = "network_error"
	CodeCanceled        = "canceled"
	CodeEmptyContent    = "empty_content"
	CodeIncomplete      = "response_incomplete"
	CodeMissingAPIKey   = "missing_api_key"
	CodeUnknownProvider = "unknown_provider"
	CodeDecode          = "decode_response"
	CodeEncode          = "encode_request"
	CodeProviderFailed  = "provider_failed"
)

const (
	// SnippetLimit bounds every diagnostic snippet, in characters.
	SnippetLimit    = 300
	truncatedMarker = "...[truncated]"
)

// RequestError is the typed failure returned by every provider. StatusCode is
// HTTP-like; 0 means the request never produced a response.
type RequestError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Snippet    string
	Err        error
}

func (e *RequestError) Error() string {
	var sb strings.Builder
	if e.Provider != "" {
		sb.WriteString(e.Provider)
		sb.WriteString(": ")
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&sb, "status %d ", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&sb, "(%s) ", e.Code)
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	sb.WriteString(msg)
	return strings.TrimSpace(sb.String())
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Snippet truncates s to SnippetLimit characters and appends a marker when
// anything was cut.
func Snippet(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= SnippetLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:SnippetLimit]) + truncatedMarker
}

func transportError(provider string, err error) *RequestError {
	code := CodeNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		code = CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		code = CodeTimeout
	}
	return &RequestError{
		Provider: provider,
		Code:     code,
		Message:  err.Error(),
		Err:      err,
	}
}

type apiErrorEnvelope struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Status  string          `json:"status"`
		Param   string          `json:"param"`
	} `json:"error"`
}

// statusError extracts the upstream error code/message from a non-2xx body.
// Both OpenAI and Gemini wrap errors in {"error": {...}}; the code is a string
// for OpenAI and a number for Gemini, which also sends a status enum.
func statusError(provider string, status int, body []byte) *RequestError {
	reqErr := &RequestError{
		Provider:   provider,
		StatusCode: status,
		Code:       "http_" + strconv.Itoa(status),
		Message:    http.StatusText(status),
		Snippet:    Snippet(string(body)),
	}
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return reqErr
	}
	apiErr := envelope.Error
	if apiErr.Message != "" {
		reqErr.Message = apiErr.Message
	}
	var code string
	if len(apiErr.Code) > 0 && json.Unmarshal(apiErr.Code, &code) == nil && code != "" {
		reqErr.Code = code
	} else if apiErr.Status != "" {
		reqErr.Code = strings.ToLower(apiErr.Status)
	} else if apiErr.Type != "" {
		reqErr.Code = apiErr.Type
	}
	details := map[string]any{}
	if apiErr.Type != "" {
		details["type"] = apiErr.Type
	}
	if apiErr.Param != "" {
		details["param"] = apiErr.Param
	}
	if len(details) > 0 {
		reqErr.Details = details
	}
	return reqErr
}

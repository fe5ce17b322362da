package ai

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

type faultKind int

const (
	faultOff faultKind = iota
	faultTimeout
	faultStatus
)

// Fault forces every provider call to fail before any network activity. It is
// test instrumentation: the mode applies to the whole process.
type Fault struct {
	kind   faultKind
	status int
}

// ParseFault accepts "off" (or empty), "timeout", or an HTTP status code.
func ParseFault(raw string) (Fault, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "", "off", "none", "false", "0":
		return Fault{}, nil
	case "timeout":
		return Fault{kind: faultTimeout}, nil
	}
	status, err := strconv.Atoi(value)
	if err != nil || status < 400 || status > 599 {
		return Fault{}, fmt.Errorf("invalid forced failure %q: want off, timeout or a 4xx/5xx status", raw)
	}
	return Fault{kind: faultStatus, status: status}, nil
}

func (f Fault) Active() bool { return f.kind != faultOff }

func (f Fault) String() string {
	switch f.kind {
	case faultTimeout:
		return "timeout"
	case faultStatus:
		return strconv.Itoa(f.status)
	default:
		return "off"
	}
}

// Wrap returns p unchanged when the fault is off.
func (f Fault) Wrap(p Provider) Provider {
	if !f.Active() || p == nil {
		return p
	}
	return &faultProvider{fault: f, next: p}
}

func (f Fault) error(provider string) *RequestError {
	details := map[string]any{"forced": true}
	if f.kind == faultTimeout {
		return &RequestError{
			Provider: provider,
			Code:     CodeTimeout,
			Message:  "forced timeout",
			Details:  details,
			Err:      context.DeadlineExceeded,
		}
	}
	code := "http_" + strconv.Itoa(f.status)
	if f.status == http.StatusServiceUnavailable && provider == ProviderOpenAI {
		code = CodeIncomplete
	}
	return &RequestError{
		Provider:   provider,
		StatusCode: f.status,
		Code:       code,
		Message:    "forced failure " + strconv.Itoa(f.status),
		Details:    details,
	}
}

type faultProvider struct {
	fault Fault
	next  Provider
}

func (p *faultProvider) Name() string { return p.next.Name() }

func (p *faultProvider) GenerateBlueprint(ctx context.Context, req Request) (*Response, error) {
	return nil, p.fault.error(p.next.Name())
}

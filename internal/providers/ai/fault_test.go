package ai

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

type stubProvider struct {
	name  string
	calls int
	resp  *Response
	err   error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) GenerateBlueprint(ctx context.Context, req Request) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.resp != nil {
		return s.resp, nil
	}
	return &Response{RawText: "{}"}, nil
}

func TestParseFault(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    string
		active  bool
		wantErr bool
	}{
		{raw: "", want: "off"},
		{raw: "off", want: "off"},
		{raw: " NONE ", want: "off"},
		{raw: "timeout", want: "timeout", active: true},
		{raw: "TimeOut", want: "timeout", active: true},
		{raw: "503", want: "503", active: true},
		{raw: "400", want: "400", active: true},
		{raw: "302", wantErr: true},
		{raw: "600", wantErr: true},
		{raw: "sometimes", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.raw, func(t *testing.T) {
			t.Parallel()
			fault, err := ParseFault(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFault(%q) returned error: %v", tc.raw, err)
			}
			if fault.String() != tc.want || fault.Active() != tc.active {
				t.Fatalf("ParseFault(%q) = %s active=%v", tc.raw, fault, fault.Active())
			}
		})
	}
}

func TestFaultWrapOffReturnsProvider(t *testing.T) {
	inner := &stubProvider{name: ProviderGemini}
	if got := (Fault{}).Wrap(inner); got != Provider(inner) {
		t.Fatalf("Wrap with fault off should return the same provider, got %T", got)
	}
}

func TestFaultTimeoutSkipsProvider(t *testing.T) {
	fault, _ := ParseFault("timeout")
	inner := &stubProvider{name: ProviderGemini}
	_, err := fault.Wrap(inner).GenerateBlueprint(context.Background(), Request{Prompt: "p"})

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != 0 || reqErr.Code != CodeTimeout {
		t.Fatalf("unexpected error: %+v", reqErr)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("forced timeout should unwrap to context.DeadlineExceeded")
	}
	if reqErr.Details["forced"] != true {
		t.Fatalf("details = %#v", reqErr.Details)
	}
	if inner.calls != 0 {
		t.Fatalf("inner provider called %d times", inner.calls)
	}
}

func TestFaultStatusCodes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		raw      string
		provider string
		code     string
	}{
		{name: "openai_503_incomplete", raw: "503", provider: ProviderOpenAI, code: CodeIncomplete},
		{name: "gemini_503", raw: "503", provider: ProviderGemini, code: "http_503"},
		{name: "openai_401", raw: "401", provider: ProviderOpenAI, code: "http_401"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fault, err := ParseFault(tc.raw)
			if err != nil {
				t.Fatalf("ParseFault returned error: %v", err)
			}
			_, err = fault.Wrap(&stubProvider{name: tc.provider}).GenerateBlueprint(context.Background(), Request{})
			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("expected RequestError, got %v", err)
			}
			if reqErr.Code != tc.code {
				t.Fatalf("Code = %q, want %q", reqErr.Code, tc.code)
			}
			if reqErr.Provider != tc.provider {
				t.Fatalf("Provider = %q", reqErr.Provider)
			}
		})
	}
	fault, _ := ParseFault("429")
	_, err := fault.Wrap(&stubProvider{name: ProviderGemini}).GenerateBlueprint(context.Background(), Request{})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected error: %v", err)
	}
}

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Driserq/Convergence-sub001/internal/domain"
)

func newOpenAITestServer(t *testing.T, status int, body string, inspect func(*http.Request, openAIRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if inspect != nil {
			inspect(r, req)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProviderCoalescesChunks(t *testing.T) {
	body := `{"id":"resp_1","status":"completed","model":"gpt-4o-mini-2024-07-18","output":[
		{"type":"reasoning"},
		{"type":"message","role":"assistant","content":[
			{"type":"output_text","text":"  {\"title\":\"a\",\"overview\":"},
			{"type":"output_json","json":"b"},
			{"type":"output_text","text":"}  "}
		]}
	],"usage":{"input_tokens":10,"output_tokens":5}}`
	var captured openAIRequest
	var authHeader string
	srv := newOpenAITestServer(t, http.StatusOK, body, func(r *http.Request, req openAIRequest) {
		captured = req
		authHeader = r.Header.Get("Authorization")
		if r.URL.Path != "/responses" {
			t.Errorf("path = %q", r.URL.Path)
		}
	})

	provider := NewOpenAIProvider(OpenAIOptions{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Schema:  json.RawMessage(`{"type":"object"}`),
	})
	res, err := provider.GenerateBlueprint(context.Background(), Request{
		Prompt:   "fallback",
		Segments: &domain.PromptSegments{System: "sys", User: "usr"},
	})
	if err != nil {
		t.Fatalf("GenerateBlueprint returned error: %v", err)
	}
	if res.RawText != `{"title":"a","overview":"b"}` {
		t.Fatalf("RawText = %q", res.RawText)
	}
	if res.Model != "gpt-4o-mini-2024-07-18" {
		t.Fatalf("Model = %q", res.Model)
	}
	if authHeader != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", authHeader)
	}
	if len(captured.Input) != 2 || captured.Input[0].Role != "system" || captured.Input[1].Content != "usr" {
		t.Fatalf("unexpected input: %#v", captured.Input)
	}
	if captured.Text == nil || captured.Text.Format.Type != "json_schema" || captured.Text.Format.Name != openAISchemaName {
		t.Fatalf("unexpected text format: %#v", captured.Text)
	}
}

func TestOpenAIProviderPlainPromptUsesJSONObject(t *testing.T) {
	var captured openAIRequest
	srv := newOpenAITestServer(t, http.StatusOK, `{"status":"completed","output":[{"type":"message","content":[{"type":"output_text","text":"{}"}]}]}`, func(r *http.Request, req openAIRequest) {
		captured = req
	})
	provider := NewOpenAIProvider(OpenAIOptions{APIKey: "k", BaseURL: srv.URL})
	if _, err := provider.GenerateBlueprint(context.Background(), Request{Prompt: "hello"}); err != nil {
		t.Fatalf("GenerateBlueprint returned error: %v", err)
	}
	if len(captured.Input) != 1 || captured.Input[0].Role != "user" || captured.Input[0].Content != "hello" {
		t.Fatalf("unexpected input: %#v", captured.Input)
	}
	if captured.Text.Format.Type != "json_object" {
		t.Fatalf("format = %q", captured.Text.Format.Type)
	}
}

func TestOpenAIProviderRefusalBecomesSentinel(t *testing.T) {
	srv := newOpenAITestServer(t, http.StatusOK, `{"status":"completed","output":[{"type":"message","content":[{"type":"refusal","refusal":"I can't help with that."}]}]}`, nil)
	provider := NewOpenAIProvider(OpenAIOptions{APIKey: "k", BaseURL: srv.URL})
	res, err := provider.GenerateBlueprint(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("GenerateBlueprint returned error: %v", err)
	}
	if res.RawText != SchemaDeclinedSentinel {
		t.Fatalf("RawText = %q", res.RawText)
	}
}

func TestOpenAIProviderIncompleteIsServiceUnavailable(t *testing.T) {
	srv := newOpenAITestServer(t, http.StatusOK, `{"id":"resp_2","status":"incomplete","incomplete_details":{"reason":"max_output_tokens"},"output":[]}`, nil)
	provider := NewOpenAIProvider(OpenAIOptions{APIKey: "k", BaseURL: srv.URL})
	_, err := provider.GenerateBlueprint(context.Background(), Request{Prompt: "p"})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != http.StatusServiceUnavailable || reqErr.Code != CodeIncomplete {
		t.Fatalf("unexpected error: %+v", reqErr)
	}
	if reqErr.Details["incomplete_reason"] != "max_output_tokens" {
		t.Fatalf("details = %#v", reqErr.Details)
	}
}

func TestOpenAIProviderStatusErrorExtractsCode(t *testing.T) {
	srv := newOpenAITestServer(t, http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`, nil)
	provider := NewOpenAIProvider(OpenAIOptions{APIKey: "k", BaseURL: srv.URL})
	_, err := provider.GenerateBlueprint(context.Background(), Request{Prompt: "p"})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != http.StatusUnauthorized || reqErr.Code != "invalid_api_key" {
		t.Fatalf("unexpected error: %+v", reqErr)
	}
	if reqErr.Details["type"] != "invalid_request_error" {
		t.Fatalf("details = %#v", reqErr.Details)
	}
}

func TestOpenAIProviderEmptyOutput(t *testing.T) {
	srv := newOpenAITestServer(t, http.StatusOK, `{"status":"completed","output":[]}`, nil)
	provider := NewOpenAIProvider(OpenAIOptions{APIKey: "k", BaseURL: srv.URL})
	_, err := provider.GenerateBlueprint(context.Background(), Request{Prompt: "p"})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.StatusCode != http.StatusInternalServerError || reqErr.Code != CodeEmptyContent {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeOpenAIModel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		input  string
		model  string
		reason string
	}{
		{name: "exact_default", input: "gpt-4o-mini", model: "gpt-4o-mini", reason: ""},
		{name: "exact_large", input: "GPT-4.1", model: "gpt-4.1", reason: ""},
		{name: "alias_dated", input: "gpt-4o-2024-08-06", model: "gpt-4o", reason: "alias"},
		{name: "alias_spaces", input: "gpt4o mini", model: "gpt-4o-mini", reason: "alias"},
		{name: "alias_compact", input: "gpt4omini", model: "gpt-4o-mini", reason: "alias"},
		{name: "unknown_nano", input: "gpt-4.1-nano", model: "gpt-4.1-nano", reason: ""},
		{name: "unknown_reasoning", input: " o4-mini ", model: "o4-mini", reason: ""},
		{name: "empty", input: "", model: "gpt-4o-mini", reason: ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gotModel, gotReason := normalizeOpenAIModel(tc.input)
			if gotModel != tc.model {
				t.Fatalf("model = %q, want %q", gotModel, tc.model)
			}
			if gotReason != tc.reason {
				t.Fatalf("reason = %q, want %q", gotReason, tc.reason)
			}
		})
	}
}

func TestNewOpenAIProviderKeepsUnknownModel(t *testing.T) {
	warned := false
	provider := NewOpenAIProvider(OpenAIOptions{
		APIKey:    "k",
		Model:     "o4-mini",
		OnWarning: func(string, string) { warned = true },
	})
	if provider.Model() != "o4-mini" {
		t.Fatalf("Model = %q, want the configured name", provider.Model())
	}
	if warned {
		t.Fatal("an unknown model name is not an alias and must not warn")
	}
}

func TestNewOpenAIProviderWarnsOnAlias(t *testing.T) {
	var capturedReason, capturedDetail string
	provider := NewOpenAIProvider(OpenAIOptions{
		APIKey: "k",
		Model:  "gpt4omini",
		OnWarning: func(reason, detail string) {
			capturedReason = reason
			capturedDetail = detail
		},
	})
	if provider.Model() != "gpt-4o-mini" {
		t.Fatalf("Model = %q", provider.Model())
	}
	if capturedReason != "model_alias" {
		t.Fatalf("warning reason = %q, want %q", capturedReason, "model_alias")
	}
	if capturedDetail == "" {
		t.Fatal("expected warning detail to be set")
	}
}

package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiProvider calls the generateContent endpoint with a single-shot prompt.
type GeminiProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

const (
	geminiDefaultTimeout = 60 * time.Second
	defaultGeminiModel   = "gemini-2.5-flash"
)

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	CandidateCount   int     `json:"candidateCount,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
	ModelVersion  string `json:"modelVersion,omitempty"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

// NewGeminiProvider never fails on a missing key; the first call reports it
// as a non-retriable configuration error instead.
func NewGeminiProvider(opts GeminiOptions) *GeminiProvider {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &GeminiProvider{
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   model,
		baseURL: baseURL,
		client:  client,
	}
}

func (g *GeminiProvider) Name() string { return ProviderGemini }

func (g *GeminiProvider) Model() string { return g.model }

func (g *GeminiProvider) GenerateBlueprint(ctx context.Context, req Request) (*Response, error) {
	if g.apiKey == "" {
		return nil, &RequestError{Provider: ProviderGemini, StatusCode: http.StatusUnauthorized, Code: CodeMissingAPIKey, Message: "gemini api key is not configured"}
	}
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: combinedPrompt(req)}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.4,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
		},
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
	body, err := postJSON(ctx, g.client, ProviderGemini, endpoint, map[string]string{"x-goog-api-key": g.apiKey}, payload)
	if err != nil {
		return nil, err
	}
	var out geminiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &RequestError{Provider: ProviderGemini, StatusCode: http.StatusBadGateway, Code: CodeDecode, Message: "decode gemini response", Snippet: Snippet(string(body)), Err: err}
	}

	meta := map[string]any{}
	if out.ModelVersion != "" {
		meta["model_version"] = out.ModelVersion
	}
	if out.UsageMetadata != nil {
		meta["prompt_tokens"] = out.UsageMetadata.PromptTokenCount
		meta["output_tokens"] = out.UsageMetadata.CandidatesTokenCount
	}
	var sb strings.Builder
	for _, candidate := range out.Candidates {
		if candidate.FinishReason != "" {
			meta["finish_reason"] = candidate.FinishReason
		}
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
			meta["block_reason"] = out.PromptFeedback.BlockReason
		}
		return nil, &RequestError{
			Provider:   ProviderGemini,
			StatusCode: http.StatusInternalServerError,
			Code:       CodeEmptyContent,
			Message:    "gemini returned no generated text",
			Details:    meta,
			Snippet:    Snippet(string(body)),
		}
	}
	return &Response{RawText: text, Model: g.model, Meta: meta}, nil
}

var _ Provider = (*GeminiProvider)(nil)

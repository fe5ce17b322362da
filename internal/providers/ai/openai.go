package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type OpenAIOptions struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	// Schema, when set, is sent as a json_schema text format. Without it the
	// provider asks for a plain JSON object.
	Schema     json.RawMessage
	HTTPClient *http.Client
	OnWarning  func(reason, detail string)
}

// OpenAIProvider calls the Responses API, which supports a system/user split
// and structured output.
type OpenAIProvider struct {
	apiKey       string
	model        string
	baseURL      string
	organization string
	schema       json.RawMessage
	client       *http.Client
}

const (
	openAIDefaultTimeout = 60 * time.Second
	defaultOpenAIModel   = "gpt-4o-mini"
	openAISchemaName     = "habit_blueprint"
)

var openAIModelCanonical = map[string]string{
	"gpt-4o-mini":  "gpt-4o-mini",
	"gpt-4o":       "gpt-4o",
	"gpt-4.1-mini": "gpt-4.1-mini",
	"gpt-4.1":      "gpt-4.1",
}

var openAIModelAliases = map[string]string{
	"gpt4o-mini":             "gpt-4o-mini",
	"gpt4omini":              "gpt-4o-mini",
	"gpt-4o-mini-2024-07-18": "gpt-4o-mini",
	"gpt4o":                  "gpt-4o",
	"gpt-4o-2024-08-06":      "gpt-4o",
	"gpt4.1-mini":            "gpt-4.1-mini",
	"gpt-41-mini":            "gpt-4.1-mini",
	"gpt4.1":                 "gpt-4.1",
	"gpt-41":                 "gpt-4.1",
}

type openAIRequest struct {
	Model string               `json:"model"`
	Input []openAIInputMessage `json:"input"`
	Text  *openAITextConfig    `json:"text,omitempty"`
}

type openAIInputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAITextConfig struct {
	Format openAIFormat `json:"format"`
}

type openAIFormat struct {
	Type   string          `json:"type"`
	Name   string          `json:"name,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

type openAIResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Model             string `json:"model"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Output []openAIOutputItem `json:"output"`
	Usage  *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type openAIOutputItem struct {
	Type    string              `json:"type"`
	Role    string              `json:"role,omitempty"`
	Content []openAIOutputChunk `json:"content,omitempty"`
}

type openAIOutputChunk struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	JSON    json.RawMessage `json:"json,omitempty"`
	Refusal string          `json:"refusal,omitempty"`
}

func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	modelInput := strings.TrimSpace(opts.Model)
	model, reason := normalizeOpenAIModel(modelInput)
	if reason != "" && opts.OnWarning != nil {
		opts.OnWarning("model_"+reason, fmt.Sprintf("requested=%s resolved=%s", modelInput, model))
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAIProvider{
		apiKey:       strings.TrimSpace(opts.APIKey),
		model:        model,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		schema:       opts.Schema,
		client:       client,
	}
}

func (o *OpenAIProvider) Name() string { return ProviderOpenAI }

func (o *OpenAIProvider) Model() string { return o.model }

func (o *OpenAIProvider) GenerateBlueprint(ctx context.Context, req Request) (*Response, error) {
	if o.apiKey == "" {
		return nil, &RequestError{Provider: ProviderOpenAI, StatusCode: http.StatusUnauthorized, Code: CodeMissingAPIKey, Message: "openai api key is not configured"}
	}
	payload := openAIRequest{
		Model: o.model,
		Input: o.inputMessages(req),
		Text:  &openAITextConfig{Format: openAIFormat{Type: "json_object"}},
	}
	if len(o.schema) > 0 {
		payload.Text.Format = openAIFormat{Type: "json_schema", Name: openAISchemaName, Schema: o.schema}
	}
	headers := map[string]string{
		"Authorization":       "Bearer " + o.apiKey,
		"OpenAI-Organization": o.organization,
	}
	body, err := postJSON(ctx, o.client, ProviderOpenAI, o.baseURL+"/responses", headers, payload)
	if err != nil {
		return nil, err
	}
	var out openAIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &RequestError{Provider: ProviderOpenAI, StatusCode: http.StatusBadGateway, Code: CodeDecode, Message: "decode openai response", Snippet: Snippet(string(body)), Err: err}
	}

	meta := map[string]any{"status": out.Status}
	if out.ID != "" {
		meta["response_id"] = out.ID
	}
	if out.Usage != nil {
		meta["input_tokens"] = out.Usage.InputTokens
		meta["output_tokens"] = out.Usage.OutputTokens
	}

	switch out.Status {
	case "incomplete":
		reason := ""
		if out.IncompleteDetails != nil {
			reason = out.IncompleteDetails.Reason
			meta["incomplete_reason"] = reason
		}
		return nil, &RequestError{
			Provider:   ProviderOpenAI,
			StatusCode: http.StatusServiceUnavailable,
			Code:       CodeIncomplete,
			Message:    strings.TrimSpace("response incomplete " + reason),
			Details:    meta,
			Snippet:    Snippet(string(body)),
		}
	case "failed":
		code, msg := CodeProviderFailed, "response failed"
		if out.Error != nil {
			if out.Error.Code != "" {
				code = out.Error.Code
			}
			if out.Error.Message != "" {
				msg = out.Error.Message
			}
		}
		return nil, &RequestError{Provider: ProviderOpenAI, StatusCode: http.StatusInternalServerError, Code: code, Message: msg, Details: meta, Snippet: Snippet(string(body))}
	}

	text := coalesceOutput(out.Output)
	if text == "" {
		return nil, &RequestError{
			Provider:   ProviderOpenAI,
			StatusCode: http.StatusInternalServerError,
			Code:       CodeEmptyContent,
			Message:    "openai returned no output text",
			Details:    meta,
			Snippet:    Snippet(string(body)),
		}
	}
	model := out.Model
	if model == "" {
		model = o.model
	}
	return &Response{RawText: text, Model: model, Meta: meta}, nil
}

func (o *OpenAIProvider) inputMessages(req Request) []openAIInputMessage {
	if req.Segments == nil {
		return []openAIInputMessage{{Role: "user", Content: req.Prompt}}
	}
	user := req.Segments.User
	if strings.TrimSpace(user) == "" {
		user = req.Prompt
	}
	var msgs []openAIInputMessage
	if strings.TrimSpace(req.Segments.System) != "" {
		msgs = append(msgs, openAIInputMessage{Role: "system", Content: req.Segments.System})
	}
	return append(msgs, openAIInputMessage{Role: "user", Content: user})
}

// coalesceOutput joins text and structured chunks in output order. A refusal
// is rendered as the declination sentinel so the parser rejects it.
func coalesceOutput(items []openAIOutputItem) string {
	var sb strings.Builder
	for _, item := range items {
		for _, chunk := range item.Content {
			switch chunk.Type {
			case "output_text":
				sb.WriteString(chunk.Text)
			case "output_json":
				sb.Write(chunk.JSON)
			case "refusal":
				sb.WriteString(SchemaDeclinedSentinel)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

var _ Provider = (*OpenAIProvider)(nil)

// normalizeOpenAIModel maps known spellings and dated snapshots onto their
// canonical name. Names it does not recognise are used as given.
func normalizeOpenAIModel(name string) (string, string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultOpenAIModel, ""
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if canonical, ok := openAIModelCanonical[normalized]; ok {
		return canonical, ""
	}
	if alias, ok := openAIModelAliases[normalized]; ok {
		return alias, "alias"
	}
	return trimmed, ""
}

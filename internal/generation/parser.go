package generation

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Driserq/Convergence-sub001/internal/domain/jsoncfg"
	"github.com/Driserq/Convergence-sub001/internal/providers/ai"
)

//go:embed blueprint.schema.json
var blueprintSchema []byte

const blueprintSchemaURL = "https://schemas.convergence.local/generation/blueprint.schema.json"

// BlueprintSchema returns a copy of the JSON Schema every provider response
// must satisfy.
func BlueprintSchema() json.RawMessage {
	return append(json.RawMessage(nil), blueprintSchema...)
}

type ParseReason string

const (
	ParseReasonEmpty       ParseReason = "empty_output"
	ParseReasonDeclined    ParseReason = "schema_declined"
	ParseReasonNoObject    ParseReason = "no_json_object"
	ParseReasonInvalidJSON ParseReason = "invalid_json"
	ParseReasonSchema      ParseReason = "schema_mismatch"
)

// ParseError reports provider output that can never become a blueprint. Raw
// keeps the full text for logs; Snippet is bounded.
type ParseError struct {
	Reason  ParseReason
	Raw     string
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse blueprint: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse blueprint: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parsed is a validated blueprint plus its canonical JSON encoding.
type Parsed struct {
	Blueprint jsoncfg.BlueprintJSON
	Payload   json.RawMessage
}

type Parser struct {
	schema *jsonschema.Schema
}

func NewParser() (*Parser, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(blueprintSchemaURL, bytes.NewReader(blueprintSchema)); err != nil {
		return nil, fmt.Errorf("blueprint schema load failed: %w", err)
	}
	compiled, err := c.Compile(blueprintSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("blueprint schema compile failed: %w", err)
	}
	return &Parser{schema: compiled}, nil
}

// Parse extracts the outermost JSON object from raw model text and validates
// it. Prose around the object and markdown fences are tolerated.
func (p *Parser) Parse(raw string) (*Parsed, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, p.fail(ParseReasonEmpty, raw, nil)
	}
	if strings.Contains(text, ai.SchemaDeclinedSentinel) {
		return nil, p.fail(ParseReasonDeclined, raw, nil)
	}
	fragment, ok := outermostObject(trimCodeFence(text))
	if !ok {
		return nil, p.fail(ParseReasonNoObject, raw, nil)
	}

	var doc any
	if err := json.Unmarshal([]byte(fragment), &doc); err != nil {
		return nil, p.fail(ParseReasonInvalidJSON, raw, err)
	}
	if err := p.schema.Validate(doc); err != nil {
		return nil, p.fail(ParseReasonSchema, raw, err)
	}

	var bp jsoncfg.BlueprintJSON
	if err := json.Unmarshal([]byte(fragment), &bp); err != nil {
		return nil, p.fail(ParseReasonInvalidJSON, raw, err)
	}
	bp.Normalize()
	if err := bp.Validate(); err != nil {
		return nil, p.fail(ParseReasonSchema, raw, err)
	}
	return &Parsed{Blueprint: bp, Payload: jsoncfg.MustMarshal(bp)}, nil
}

func (p *Parser) fail(reason ParseReason, raw string, err error) *ParseError {
	return &ParseError{Reason: reason, Raw: raw, Snippet: ai.Snippet(raw), Err: err}
}

func outermostObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

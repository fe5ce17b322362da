package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/infra"
	"github.com/Driserq/Convergence-sub001/internal/providers/ai"
)

const tracerName = "github.com/Driserq/Convergence-sub001/internal/generation"

type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptError   AttemptStatus = "error"
)

// AttemptResult is the only value that leaves Attempt. Error fields are zero
// on success.
type AttemptResult struct {
	Status         AttemptStatus
	Provider       string
	Model          string
	Classification Classification
	Message        string
	StatusCode     int
	ErrorCode      string
	RawSnippet     string
	ProviderMeta   map[string]any
}

func (r AttemptResult) OK() bool {
	return r.Status == AttemptSuccess
}

type AttempterOptions struct {
	Registry   *ai.Registry
	Parser     *Parser
	Blueprints domain.BlueprintStore
	Metrics    *Metrics
	Logger     *infra.Logger
	Tracer     trace.Tracer
	// Timeout bounds a single provider call. Zero leaves it to the transport.
	Timeout time.Duration
}

// Attempter runs one generation attempt end to end.
type Attempter struct {
	registry   *ai.Registry
	parser     *Parser
	blueprints domain.BlueprintStore
	metrics    *Metrics
	logger     infra.Logger
	tracer     trace.Tracer
	timeout    time.Duration
	now        func() time.Time
}

func NewAttempter(opts AttempterOptions) (*Attempter, error) {
	if opts.Registry == nil {
		return nil, errors.New("generation: provider registry is required")
	}
	if opts.Blueprints == nil {
		return nil, errors.New("generation: blueprint store is required")
	}
	parser := opts.Parser
	if parser == nil {
		var err error
		if parser, err = NewParser(); err != nil {
			return nil, err
		}
	}
	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Attempter{
		registry:   opts.Registry,
		parser:     parser,
		blueprints: opts.Blueprints,
		metrics:    opts.Metrics,
		logger:     logger,
		tracer:     tracer,
		timeout:    opts.Timeout,
		now:        time.Now,
	}, nil
}

// Attempt calls the resolved provider, parses the output and marks the
// blueprint completed. It never panics or returns an error; every failure is
// folded into the result. Failures have no store side effect.
func (a *Attempter) Attempt(ctx context.Context, blueprintID string, req domain.RequestData) (result AttemptResult) {
	started := a.now()
	ctx, span := a.tracer.Start(ctx, "generation.attempt",
		trace.WithAttributes(attribute.String("generation.blueprint_id", blueprintID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	providerName := ""
	defer func() {
		if rec := recover(); rec != nil {
			result = a.failure(providerName, "", fmt.Errorf("generation: panic during attempt: %v", rec), nil)
		}
		span.SetAttributes(
			attribute.String("generation.provider", result.Provider),
			attribute.String("generation.status", string(result.Status)),
		)
		if result.OK() {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetAttributes(
				attribute.String("generation.classification", string(result.Classification)),
				attribute.String("generation.error_code", result.ErrorCode),
				attribute.Int("generation.status_code", result.StatusCode),
			)
			span.SetStatus(codes.Error, result.Message)
		}
		span.End()
		a.metrics.observeAttempt(result, a.now().Sub(started))
		a.logResult(blueprintID, span.SpanContext(), result)
	}()

	if err := req.Validate(); err != nil {
		return a.failure(req.Provider, "", err, nil)
	}
	provider, name, err := a.registry.Resolve(req.Provider)
	providerName = name
	if err != nil {
		return a.failure(name, "", err, nil)
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if a.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
	}
	resp, err := provider.GenerateBlueprint(callCtx, ai.Request{Prompt: req.Prompt, Segments: req.PromptSegments})
	cancel()
	if err != nil {
		return a.failure(name, "", err, nil)
	}

	parsed, err := a.parser.Parse(resp.RawText)
	if err != nil {
		return a.failure(name, resp.Model, err, resp.Meta)
	}
	if err := a.blueprints.MarkCompleted(ctx, blueprintID, parsed.Payload, name); err != nil {
		return a.failure(name, resp.Model, fmt.Errorf("mark blueprint completed: %w", err), resp.Meta)
	}
	return AttemptResult{Status: AttemptSuccess, Provider: name, Model: resp.Model, ProviderMeta: resp.Meta}
}

func (a *Attempter) failure(provider, model string, err error, meta map[string]any) AttemptResult {
	result := AttemptResult{
		Status:         AttemptError,
		Provider:       provider,
		Model:          model,
		Classification: Classify(err),
		Message:        ai.Snippet(err.Error()),
		StatusCode:     StatusCode(err),
		ErrorCode:      ErrorCode(err),
		ProviderMeta:   meta,
	}
	var reqErr *ai.RequestError
	var parseErr *ParseError
	switch {
	case errors.As(err, &reqErr):
		result.RawSnippet = reqErr.Snippet
		if len(reqErr.Details) > 0 {
			result.ProviderMeta = reqErr.Details
		}
	case errors.As(err, &parseErr):
		result.RawSnippet = parseErr.Snippet
	}
	return result
}

func (a *Attempter) logResult(blueprintID string, sc trace.SpanContext, result AttemptResult) {
	traceID := ""
	if sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if result.OK() {
		a.logger.Info().
			Str("blueprint_id", blueprintID).
			Str("trace_id", traceID).
			Str("provider", result.Provider).
			Str("model", result.Model).
			Msg("generation: attempt succeeded")
		return
	}
	event := a.logger.Warn()
	if result.Classification == NonRetriable {
		event = a.logger.Error()
	}
	event.
		Str("blueprint_id", blueprintID).
		Str("trace_id", traceID).
		Str("provider", result.Provider).
		Str("classification", string(result.Classification)).
		Int("status_code", result.StatusCode).
		Str("error_code", result.ErrorCode).
		Str("snippet", result.RawSnippet).
		Msg("generation: attempt failed: " + result.Message)
}

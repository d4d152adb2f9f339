package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/samz905/wrrk-pilot/internal/agent/telemetry"
	"github.com/samz905/wrrk-pilot/internal/budget"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// maxLLMAttempts is the initial call plus one retry.
const maxLLMAttempts = 2

// CompletionRequest describes one structured LLM call.
type CompletionRequest struct {
	Component string // planner, classifier, compensation, scoring
	Model     string
	Prompt    string
	Schema    string // JSON Schema the extracted object must satisfy
	Options   map[string]interface{}
}

// StructuredCompleter turns a prompt into a schema-valid object decoded into out.
type StructuredCompleter interface {
	Complete(ctx context.Context, req CompletionRequest, out interface{}) error
}

// LLMClient validates and decodes provider output once, at the boundary.
type LLMClient struct {
	provider  LLMProvider
	telemetry *telemetry.Telemetry
	logger    *zap.Logger
	schemas   sync.Map // schema source -> *gojsonschema.Schema
}

// NewLLMClient wraps a provider.
func NewLLMClient(provider LLMProvider, tele *telemetry.Telemetry, logger *zap.Logger) *LLMClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMClient{provider: provider, telemetry: tele, logger: logger.Named("llm")}
}

// Complete performs a single attempt. Empty output yields LLMEmptyResponseError; output that
// has no JSON object, fails the schema or fails to decode yields LLMSchemaViolationError.
func (c *LLMClient) Complete(ctx context.Context, req CompletionRequest, out interface{}) error {
	response, in, outTokens, err := c.provider.GenerateWithTokens(ctx, req.Prompt, req.Model, req.Options)
	if err != nil {
		c.telemetry.RecordLLMCall(ctx, req.Component, "error", 0)
		return fmt.Errorf("%s: generate: %w", req.Component, err)
	}
	_ = budget.FromContext(ctx).Add(c.provider.CalculateCost(in, outTokens, req.Model), in+outTokens)

	if strings.TrimSpace(response) == "" {
		c.telemetry.RecordLLMCall(ctx, req.Component, "empty", in+outTokens)
		return &LLMEmptyResponseError{Component: req.Component}
	}

	doc := extractJSONObject(response)
	if doc == "" {
		c.telemetry.RecordLLMCall(ctx, req.Component, "schema_violation", in+outTokens)
		return &LLMSchemaViolationError{Component: req.Component, Violations: []string{"no JSON object found in response"}}
	}

	if req.Schema != "" {
		if violations, err := c.validate(req.Schema, doc); err != nil {
			return fmt.Errorf("%s: compile schema: %w", req.Component, err)
		} else if len(violations) > 0 {
			c.telemetry.RecordLLMCall(ctx, req.Component, "schema_violation", in+outTokens)
			return &LLMSchemaViolationError{Component: req.Component, Violations: violations}
		}
	}

	if err := json.Unmarshal([]byte(doc), out); err != nil {
		c.telemetry.RecordLLMCall(ctx, req.Component, "schema_violation", in+outTokens)
		return &LLMSchemaViolationError{Component: req.Component, Violations: []string{err.Error()}}
	}
	c.telemetry.RecordLLMCall(ctx, req.Component, "ok", in+outTokens)
	return nil
}

func (c *LLMClient) validate(schemaSrc, doc string) ([]string, error) {
	var schema *gojsonschema.Schema
	if cached, ok := c.schemas.Load(schemaSrc); ok {
		schema = cached.(*gojsonschema.Schema)
	} else {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaSrc))
		if err != nil {
			return nil, err
		}
		c.schemas.Store(schemaSrc, compiled)
		schema = compiled
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return []string{err.Error()}, nil
	}
	if result.Valid() {
		return nil, nil
	}
	violations := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		violations[i] = desc.String()
	}
	return violations, nil
}

// WithBoundedRetry runs fn, and runs it exactly once more when the first error is retryable.
// attempt is zero-based so callers can amend the second prompt.
func WithBoundedRetry[T any](ctx context.Context, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; attempt < maxLLMAttempts; attempt++ {
		out, err = fn(ctx, attempt)
		if err == nil {
			return out, nil
		}
		if !IsRetryable(err) || ctx.Err() != nil {
			return out, err
		}
	}
	return out, err
}

// extractJSONObject returns the first balanced {...} block, ignoring braces inside strings.
func extractJSONObject(response string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range response {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return response[start : i+1]
				}
			}
		}
	}
	return ""
}

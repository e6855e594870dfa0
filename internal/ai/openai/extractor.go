// Package openai implements the extraction and semantic comparison
// capability on the OpenAI chat completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"

	"github.com/regwatch/regwatch/internal/metrics"
	"github.com/regwatch/regwatch/internal/monitor"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout bounds a single extraction or comparison call.
	DefaultTimeout = 90 * time.Second

	// BaseBackoff and MaxBackoff shape the rate-limit retry schedule.
	BaseBackoff = 2 * time.Second
	MaxBackoff  = 32 * time.Second

	// maxInputChars truncates normalized text before prompting. Pages
	// past this size are boilerplate-heavy; the head carries the
	// monitored content.
	maxInputChars = 48000
)

// ErrAPIKeyNotSet means no API key was configured.
var ErrAPIKeyNotSet = errors.New("openai api key not set")

// ErrMaxRetriesExceeded means rate limiting persisted through every retry.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Config controls the extractor client.
type Config struct {
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Extractor implements monitor.Extractor using OpenAI chat completions.
type Extractor struct {
	client     openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	logger     *zap.Logger
}

// New creates an Extractor.
func New(cfg Config, logger *zap.Logger) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Extractor{
		client:     openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}, nil
}

// Extract pulls structured data relevant to the monitoring goal out of
// normalized page text.
func (e *Extractor) Extract(ctx context.Context, req monitor.ExtractionRequest) (monitor.ExtractionResult, error) {
	content, err := e.complete(ctx, extractionPrompt(req))
	if err != nil {
		metrics.ObserveAICall("extract", "error")
		return monitor.ExtractionResult{}, err
	}

	result, err := parseExtraction(content)
	if err != nil {
		metrics.ObserveAICall("extract", "parse_error")
		return monitor.ExtractionResult{}, err
	}
	metrics.ObserveAICall("extract", "success")
	return result, nil
}

// CompareStructured judges whether two extractions differ meaningfully
// for the monitoring goal.
func (e *Extractor) CompareStructured(ctx context.Context, req monitor.SemanticDiffRequest) (monitor.SemanticDiffResult, error) {
	prompt, err := comparisonPrompt(req)
	if err != nil {
		return monitor.SemanticDiffResult{}, err
	}
	content, err := e.complete(ctx, prompt)
	if err != nil {
		metrics.ObserveAICall("diff", "error")
		return monitor.SemanticDiffResult{}, err
	}

	result, err := parseComparison(content)
	if err != nil {
		metrics.ObserveAICall("diff", "parse_error")
		return monitor.SemanticDiffResult{}, err
	}
	metrics.ObserveAICall("diff", "success")
	return result, nil
}

// complete runs one JSON-mode chat completion with rate-limit retries.
func (e *Extractor) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * BaseBackoff
			if backoff > MaxBackoff {
				backoff = MaxBackoff
			}
			e.logger.Debug("rate limited, backing off",
				zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		params := openai.ChatCompletionNewParams{
			Model: shared.ChatModel(e.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Temperature: openai.Float(0),
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{
					Type: "json_object",
				},
			},
		}

		completion, err := e.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				continue
			}
			return "", fmt.Errorf("openai call failed: %w", err)
		}
		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("no completion choices returned")
		}
		return completion.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func extractionPrompt(req monitor.ExtractionRequest) string {
	var b strings.Builder
	b.WriteString("You extract structured data from a monitored web page.\n")
	b.WriteString("Monitoring goal: ")
	b.WriteString(req.MonitoringGoal)
	b.WriteString("\n")
	if req.ExtractionHints != "" {
		b.WriteString("Extraction hints: ")
		b.WriteString(req.ExtractionHints)
		b.WriteString("\n")
	}
	b.WriteString(`Respond with a JSON object of this exact shape:
{"extracted_data": {...}, "summary": "one paragraph", "confidence": 0.0-1.0}
Only include fields relevant to the monitoring goal in extracted_data.

Page text:
`)
	b.WriteString(truncate(req.Text, maxInputChars))
	return b.String()
}

func comparisonPrompt(req monitor.SemanticDiffRequest) (string, error) {
	oldJSON, err := json.Marshal(req.OldData)
	if err != nil {
		return "", fmt.Errorf("marshal old data: %w", err)
	}
	newJSON, err := json.Marshal(req.NewData)
	if err != nil {
		return "", fmt.Errorf("marshal new data: %w", err)
	}

	var b strings.Builder
	b.WriteString("You compare two structured snapshots of a monitored web page.\n")
	b.WriteString("Monitoring goal: ")
	b.WriteString(req.MonitoringGoal)
	b.WriteString("\n")
	b.WriteString(`Decide whether the new snapshot differs from the old one in a way
that matters for the monitoring goal. Ignore cosmetic or ordering
changes. Respond with a JSON object of this exact shape:
{"changed": bool, "summary": "what changed", "confidence": 0.0-1.0,
 "change_type": "content|structure|metadata",
 "changes": [{"field": "name", "path": "json.path", "old_value": "...", "new_value": "..."}]}

Old snapshot:
`)
	b.Write(oldJSON)
	b.WriteString("\n\nNew snapshot:\n")
	b.Write(newJSON)
	return b.String(), nil
}

func parseExtraction(content string) (monitor.ExtractionResult, error) {
	var result monitor.ExtractionResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return monitor.ExtractionResult{}, fmt.Errorf("parse extraction response: %w", err)
	}
	if result.Data == nil {
		result.Data = map[string]any{}
	}
	result.Confidence = clampConfidence(result.Confidence)
	return result, nil
}

func parseComparison(content string) (monitor.SemanticDiffResult, error) {
	var result monitor.SemanticDiffResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return monitor.SemanticDiffResult{}, fmt.Errorf("parse comparison response: %w", err)
	}
	if result.ChangeType == "" {
		result.ChangeType = "content"
	}
	result.Confidence = clampConfidence(result.Confidence)
	return result, nil
}

func clampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

var _ monitor.Extractor = (*Extractor)(nil)

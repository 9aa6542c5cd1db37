// Package vision classifies sampled scene frames with a multimodal LLM.
// Visual classification is the primary evidence source: advisory and script
// signals suggest where to look, but only visual findings confirm what is
// actually on screen.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"golang.org/x/time/rate"

	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/content"
	"github.com/purecut/purecut/internal/errs"
)

// Analysis is the classifier's verdict for one sampled span.
type Analysis struct {
	Findings   []content.Finding `json:"findings"`
	Confidence float64           `json:"confidence"`
	Verified   bool              `json:"verified"`
	Summary    string            `json:"summary,omitempty"`
}

// Usage totals the model tokens spent across a classifier's lifetime, priced
// per the configured rates.
type Usage struct {
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// Classifier sends frame batches to the model and parses verdicts.
type Classifier struct {
	client  openai.Client
	cfg     config.VisionConfig
	limiter *rate.Limiter
	logger  hclog.Logger

	tokensIn  atomic.Int64
	tokensOut atomic.Int64
}

// NewClassifier creates a classifier from configuration.
func NewClassifier(cfg config.VisionConfig, logger hclog.Logger) *Classifier {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Classifier{
		client:  openai.NewClient(clientOpts...),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

// ClassifyFrames classifies a batch of frame images, retrying transient
// failures. When every attempt fails the span comes back unverified rather
// than flagged; absence of evidence is not evidence.
func (c *Classifier) ClassifyFrames(ctx context.Context, framePaths []string, hint string) (*Analysis, error) {
	if len(framePaths) == 0 {
		return &Analysis{Verified: false}, fmt.Errorf("no frames to classify")
	}

	parts, err := buildImageParts(framePaths, hint)
	if err != nil {
		return &Analysis{Verified: false}, err
	}

	var lastErr error
	attempts := c.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 2 * time.Second
			c.logger.Warn("retrying frame classification", "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return &Analysis{Verified: false}, ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return &Analysis{Verified: false}, err
		}

		raw, err := c.requestVerdict(ctx, parts)
		if err != nil {
			lastErr = err
			continue
		}
		analysis, err := parseAnalysis(raw)
		if err != nil {
			lastErr = err
			continue
		}
		c.logger.Debug("classified frames", "frames", len(framePaths),
			"findings", len(analysis.Findings), "confidence", analysis.Confidence)
		return analysis, nil
	}

	return &Analysis{Verified: false},
		errs.NewExternalServiceError("vision", true, fmt.Errorf("classification failed after %d attempts: %w", attempts, lastErr))
}

func (c *Classifier) requestVerdict(ctx context.Context, parts []openai.ChatCompletionContentPartUnionParam) (string, error) {
	reqCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(parts),
		},
		Model:       c.cfg.Model,
		Temperature: openai.Float(0.1),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "frame_review",
					Strict: openai.Bool(true),
					Schema: verdictSchema(),
				},
			},
		},
	}

	resp, err := c.client.Chat.Completions.New(reqCtx, params)
	if err != nil && shouldFallbackJSONMode(err) {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		}
		resp, err = c.client.Chat.Completions.New(reqCtx, params)
	}
	if err != nil {
		return "", err
	}
	c.addUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if raw == "" {
		return "", fmt.Errorf("model returned empty content")
	}
	return raw, nil
}

func (c *Classifier) addUsage(tokensIn, tokensOut int64) {
	c.tokensIn.Add(tokensIn)
	c.tokensOut.Add(tokensOut)
}

// Usage returns the tokens consumed so far and their cost at the configured
// per-million rates.
func (c *Classifier) Usage() Usage {
	in := c.tokensIn.Load()
	out := c.tokensOut.Load()
	return Usage{
		TokensIn:  in,
		TokensOut: out,
		CostUSD: float64(in)/1e6*c.cfg.PriceInPerMTok +
			float64(out)/1e6*c.cfg.PriceOutPerMTok,
	}
}

func buildImageParts(framePaths []string, hint string) ([]openai.ChatCompletionContentPartUnionParam, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(framePaths)+1)
	parts = append(parts, openai.TextContentPart(userPrompt(hint)))
	for _, path := range framePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %s: %w", path, err)
		}
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
		}))
	}
	return parts, nil
}

// shouldFallbackJSONMode detects gateways that reject json_schema response
// formats.
func shouldFallbackJSONMode(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "json_schema") ||
		strings.Contains(msg, "response_format") ||
		(strings.Contains(msg, "unsupported") && strings.Contains(msg, "schema"))
}

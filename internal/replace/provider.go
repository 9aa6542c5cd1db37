package replace

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/errs"
)

const pollInterval = 3 * time.Second

// GenerationRequest is one clip generation job for the provider.
type GenerationRequest struct {
	Prompt         string
	NegativePrompt string
	FirstFramePath string
	LastFramePath  string
	Duration       string // provider-quantized, e.g. "6s"
	Resolution     string
}

// Provider is the generative video backend.
type Provider interface {
	Generate(ctx context.Context, req GenerationRequest, outPath string) error
}

// QueueProvider drives a fal-style queued inference API: submit, poll the
// status URL until the request completes, then download the result video.
type QueueProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     hclog.Logger
}

// NewQueueProvider creates a provider client from configuration.
func NewQueueProvider(cfg config.ReplacementConfig, logger hclog.Logger) *QueueProvider {
	return &QueueProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logger,
	}
}

// Generate runs one generation to completion and writes the resulting video
// to outPath. The caller bounds total wall time through ctx.
func (p *QueueProvider) Generate(ctx context.Context, req GenerationRequest, outPath string) error {
	statusURL, responseURL, err := p.submit(ctx, req)
	if err != nil {
		return err
	}

	if err := p.awaitCompletion(ctx, statusURL); err != nil {
		return err
	}

	videoURL, err := p.fetchResultURL(ctx, responseURL)
	if err != nil {
		return err
	}
	return p.download(ctx, videoURL, outPath)
}

func (p *QueueProvider) submit(ctx context.Context, req GenerationRequest) (statusURL, responseURL string, err error) {
	firstFrame, err := frameDataURI(req.FirstFramePath)
	if err != nil {
		return "", "", err
	}
	lastFrame, err := frameDataURI(req.LastFramePath)
	if err != nil {
		return "", "", err
	}

	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "prompt", req.Prompt)
	body, _ = sjson.SetBytes(body, "negative_prompt", req.NegativePrompt)
	body, _ = sjson.SetBytes(body, "first_frame_url", firstFrame)
	body, _ = sjson.SetBytes(body, "last_frame_url", lastFrame)
	body, _ = sjson.SetBytes(body, "duration", req.Duration)
	body, _ = sjson.SetBytes(body, "resolution", req.Resolution)

	submitURL := fmt.Sprintf("%s/%s", p.baseURL, p.model)
	respBody, err := p.doJSON(ctx, http.MethodPost, submitURL, body)
	if err != nil {
		return "", "", err
	}

	requestID := gjson.GetBytes(respBody, "request_id").String()
	if requestID == "" {
		return "", "", errs.NewExternalServiceError("generation", false,
			fmt.Errorf("provider returned no request_id"))
	}

	statusURL = gjson.GetBytes(respBody, "status_url").String()
	if statusURL == "" {
		statusURL = fmt.Sprintf("%s/%s/requests/%s/status", p.baseURL, p.model, requestID)
	}
	responseURL = gjson.GetBytes(respBody, "response_url").String()
	if responseURL == "" {
		responseURL = fmt.Sprintf("%s/%s/requests/%s", p.baseURL, p.model, requestID)
	}

	p.logger.Debug("submitted generation request", "request_id", requestID, "duration", req.Duration)
	return statusURL, responseURL, nil
}

func (p *QueueProvider) awaitCompletion(ctx context.Context, statusURL string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		respBody, err := p.doJSON(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return err
		}
		status := gjson.GetBytes(respBody, "status").String()
		switch status {
		case "COMPLETED":
			return nil
		case "IN_QUEUE", "IN_PROGRESS":
		default:
			return errs.NewExternalServiceError("generation", false,
				fmt.Errorf("generation failed with status %q", status))
		}

		select {
		case <-ctx.Done():
			return errs.NewExternalServiceError("generation", true,
				fmt.Errorf("generation timed out: %w", ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (p *QueueProvider) fetchResultURL(ctx context.Context, responseURL string) (string, error) {
	respBody, err := p.doJSON(ctx, http.MethodGet, responseURL, nil)
	if err != nil {
		return "", err
	}
	videoURL := gjson.GetBytes(respBody, "video.url").String()
	if videoURL == "" {
		return "", errs.NewExternalServiceError("generation", false,
			fmt.Errorf("provider result has no video URL"))
	}
	return videoURL, nil
}

func (p *QueueProvider) download(ctx context.Context, videoURL, outPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return errs.NewExternalServiceError("generation", false, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errs.NewExternalServiceError("generation", true, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.NewExternalServiceError("generation", true,
			fmt.Errorf("clip download returned status %d", resp.StatusCode))
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create clip file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return errs.NewExternalServiceError("generation", true,
			fmt.Errorf("clip download interrupted: %w", err))
	}
	p.logger.Debug("downloaded generated clip", "path", outPath, "bytes", n)
	return nil
}

func (p *QueueProvider) doJSON(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errs.NewExternalServiceError("generation", false, err)
	}
	req.Header.Set("Authorization", "Key "+p.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errs.NewExternalServiceError("generation", true, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewExternalServiceError("generation", true, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, errs.NewExternalServiceError("generation", retryable,
			fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
	}
	return respBody, nil
}

func frameDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read boundary frame %s: %w", path, err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package replace

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/errs"
)

func writeFrame(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("jpeg bytes"), 0o644))
	return path
}

func TestQueueProviderGenerate(t *testing.T) {
	dir := t.TempDir()
	first := writeFrame(t, dir, "first.jpg")
	last := writeFrame(t, dir, "last.jpg")

	var submitted []byte
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("POST /fal-ai/test-model", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Key test-key", r.Header.Get("Authorization"))
		submitted, _ = io.ReadAll(r.Body)
		fmt.Fprintf(w, `{"request_id": "req-1", "status_url": "%s/status/req-1", "response_url": "%s/result/req-1"}`,
			srv.URL, srv.URL)
	})
	mux.HandleFunc("GET /status/req-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "COMPLETED"}`)
	})
	mux.HandleFunc("GET /result/req-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"video": {"url": "%s/files/clip.mp4"}}`, srv.URL)
	})
	mux.HandleFunc("GET /files/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("generated video bytes"))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.ReplacementConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "fal-ai/test-model"}
	provider := NewQueueProvider(cfg, hclog.NewNullLogger())

	outPath := filepath.Join(dir, "out.mp4")
	err := provider.Generate(context.Background(), GenerationRequest{
		Prompt:         "a calm scene",
		NegativePrompt: NegativePrompt(),
		FirstFramePath: first,
		LastFramePath:  last,
		Duration:       "6s",
		Resolution:     "720p",
	}, outPath)
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "generated video bytes", string(data))

	req := gjson.ParseBytes(submitted)
	assert.Equal(t, "a calm scene", req.Get("prompt").String())
	assert.Equal(t, "6s", req.Get("duration").String())
	assert.Equal(t, "720p", req.Get("resolution").String())
	assert.True(t, strings.HasPrefix(req.Get("first_frame_url").String(), "data:image/jpeg;base64,"))
	assert.NotEmpty(t, req.Get("negative_prompt").String())
}

func TestQueueProviderGenerationFailure(t *testing.T) {
	dir := t.TempDir()
	first := writeFrame(t, dir, "first.jpg")
	last := writeFrame(t, dir, "last.jpg")

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("POST /fal-ai/test-model", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"request_id": "req-2", "status_url": "%s/status/req-2"}`, srv.URL)
	})
	mux.HandleFunc("GET /status/req-2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "FAILED"}`)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.ReplacementConfig{BaseURL: srv.URL, APIKey: "k", Model: "fal-ai/test-model"}
	provider := NewQueueProvider(cfg, hclog.NewNullLogger())

	err := provider.Generate(context.Background(), GenerationRequest{
		FirstFramePath: first, LastFramePath: last,
	}, filepath.Join(dir, "out.mp4"))
	require.Error(t, err)
	assert.True(t, errs.IsExternalServiceError(err))
	assert.False(t, errs.IsRetryable(err))
}

func TestQueueProviderSubmitRejected(t *testing.T) {
	dir := t.TempDir()
	first := writeFrame(t, dir, "first.jpg")
	last := writeFrame(t, dir, "last.jpg")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := config.ReplacementConfig{BaseURL: srv.URL, APIKey: "k", Model: "fal-ai/test-model"}
	provider := NewQueueProvider(cfg, hclog.NewNullLogger())

	err := provider.Generate(context.Background(), GenerationRequest{
		FirstFramePath: first, LastFramePath: last,
	}, filepath.Join(dir, "out.mp4"))
	require.Error(t, err)
	assert.True(t, errs.IsRetryable(err))
}

package jobmodule

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/database"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	return &Module{
		db:      db,
		manager: NewManager(db, config.Get(), hclog.NewNullLogger()),
	}
}

func newTestRouter(m *Module) *gin.Engine {
	router := gin.New()
	m.RegisterRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateJobRejectsBadRequests(t *testing.T) {
	m := newTestModule(t)
	router := newTestRouter(m)

	w := doRequest(router, http.MethodPost, "/api/jobs", `{"title":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/api/jobs",
		`{"title":"Test Movie","video_path":"/definitely/not/here.mp4"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unusable input")
}

func TestGetJobStatus(t *testing.T) {
	m := newTestModule(t)
	router := newTestRouter(m)
	newTestJob(t, m.manager.store, "job-1")

	w := doRequest(router, http.MethodGet, "/api/jobs/job-1/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp["id"])
	assert.Equal(t, "created", resp["phase"])
	assert.NotContains(t, resp, "error")
	assert.NotContains(t, resp, "completed_at")

	w = doRequest(router, http.MethodGet, "/api/jobs/nope/status", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJobSegments(t *testing.T) {
	m := newTestModule(t)
	router := newTestRouter(m)
	newTestJob(t, m.manager.store, "job-1")

	require.NoError(t, m.db.Create(&database.SegmentRecord{
		JobID: "job-1", SegmentID: "seg-0001", StartMs: 0, EndMs: 10000,
	}).Error)
	require.NoError(t, m.db.Create(&database.SegmentRecord{
		JobID: "job-1", SegmentID: "seg-0002", StartMs: 10000, EndMs: 25000,
		Flagged: true, Confidence: 0.9,
		FlagsJSON:   `{"violence":{"category":"violence","severity":"severe"}}`,
		SourcesUsed: "script,vision",
	}).Error)

	w := doRequest(router, http.MethodGet, "/api/jobs/job-1/segments", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Segments []map[string]any `json:"segments"`
		Total    int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "seg-0002", resp.Segments[1]["segment_id"])
	assert.Equal(t, true, resp.Segments[1]["flagged"])
	findings, ok := resp.Segments[1]["findings"].(map[string]any)
	require.True(t, ok, "findings should be embedded JSON, not a string")
	assert.Contains(t, findings, "violence")
}

func TestGetJobTimestamps(t *testing.T) {
	m := newTestModule(t)
	router := newTestRouter(m)
	newTestJob(t, m.manager.store, "job-1")

	require.NoError(t, m.db.Create(&database.SegmentRecord{
		JobID: "job-1", SegmentID: "seg-0001", StartMs: 0, EndMs: 10000,
	}).Error)
	require.NoError(t, m.db.Create(&database.SegmentRecord{
		JobID: "job-1", SegmentID: "seg-0002", StartMs: 10000, EndMs: 25000,
		Flagged: true, Confidence: 0.9,
		FlagsJSON: `{"violence":{"category":"violence","severity":"severe"}}`,
	}).Error)
	require.NoError(t, m.db.Create(&database.SegmentRecord{
		JobID: "job-1", SegmentID: "seg-0003", StartMs: 25000, EndMs: 31000,
		LowConfidence: true, Confidence: 0.38,
	}).Error)

	w := doRequest(router, http.MethodGet, "/api/jobs/job-1/timestamps", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Entries []map[string]any `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "skip", resp.Entries[0]["action"])
	assert.Equal(t, "severe", resp.Entries[0]["severity"])
	assert.Equal(t, []any{"violence"}, resp.Entries[0]["categories"])
	assert.Equal(t, "review", resp.Entries[1]["action"])
	assert.Equal(t, "none", resp.Entries[1]["severity"])
}

func TestGetJobOutputNotReady(t *testing.T) {
	m := newTestModule(t)
	router := newTestRouter(m)
	newTestJob(t, m.manager.store, "job-1")

	w := doRequest(router, http.MethodGet, "/api/jobs/job-1/output", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelJob(t *testing.T) {
	m := newTestModule(t)
	router := newTestRouter(m)
	newTestJob(t, m.manager.store, "job-1")

	// Known but not running.
	w := doRequest(router, http.MethodPost, "/api/jobs/job-1/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(router, http.MethodPost, "/api/jobs/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs(t *testing.T) {
	m := newTestModule(t)
	router := newTestRouter(m)
	newTestJob(t, m.manager.store, "job-1")
	newTestJob(t, m.manager.store, "job-2")

	w := doRequest(router, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
}

package jobmodule

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/purecut/purecut/internal/content"
	"github.com/purecut/purecut/internal/database"
	"github.com/purecut/purecut/internal/errs"
	"github.com/purecut/purecut/internal/events"
	"github.com/purecut/purecut/internal/logger"
)

// createJob starts processing a new video.
func (m *Module) createJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	job, err := m.manager.CreateJob(req)
	if err != nil {
		if errs.IsInputError(err) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":          job.ID,
		"title":       job.Title,
		"phase":       job.Phase,
		"report_only": job.ReportOnly,
		"strict":      job.Strict,
	})
}

// listJobs returns all jobs, newest first.
func (m *Module) listJobs(c *gin.Context) {
	jobs, err := m.manager.store.ListJobs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	out := make([]gin.H, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobSummary(&job))
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  out,
		"total": len(out),
	})
}

// getJobStatus returns one job's phase and progress.
func (m *Module) getJobStatus(c *gin.Context) {
	job, ok := m.lookupJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, jobSummary(job))
}

// getJobSegments returns the fused analysis report for a job.
func (m *Module) getJobSegments(c *gin.Context) {
	job, ok := m.lookupJob(c)
	if !ok {
		return
	}

	records, err := m.manager.store.ListSegments(job.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	segments := make([]gin.H, 0, len(records))
	for _, rec := range records {
		entry := gin.H{
			"segment_id":     rec.SegmentID,
			"start_ms":       rec.StartMs,
			"end_ms":         rec.EndMs,
			"flagged":        rec.Flagged,
			"low_confidence": rec.LowConfidence,
			"confidence":     rec.Confidence,
			"sources":        rec.SourcesUsed,
		}
		if rec.FlagsJSON != "" {
			entry["findings"] = json.RawMessage(rec.FlagsJSON)
		}
		if rec.ConfidenceJSON != "" {
			entry["per_source"] = json.RawMessage(rec.ConfidenceJSON)
		}
		segments = append(segments, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":   job.ID,
		"segments": segments,
		"total":    len(segments),
	})
}

// getJobTimestamps exports flagged windows as a plain skip list usable by
// external players, independent of any generated output.
func (m *Module) getJobTimestamps(c *gin.Context) {
	job, ok := m.lookupJob(c)
	if !ok {
		return
	}

	records, err := m.manager.store.ListSegments(job.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	entries := make([]gin.H, 0)
	for _, rec := range records {
		if !rec.Flagged && !rec.LowConfidence {
			continue
		}
		action := "review"
		if rec.Flagged {
			action = "skip"
		}
		entries = append(entries, gin.H{
			"start_ms":   rec.StartMs,
			"end_ms":     rec.EndMs,
			"action":     action,
			"confidence": rec.Confidence,
			"severity":   segmentMaxSeverity(rec),
			"categories": segmentCategories(rec),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":  job.ID,
		"title":   job.Title,
		"entries": entries,
	})
}

// getJobOutput serves the stitched output file.
func (m *Module) getJobOutput(c *gin.Context) {
	job, ok := m.lookupJob(c)
	if !ok {
		return
	}
	if job.Phase != database.JobPhaseComplete || job.OutputPath == "" {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Output is not ready",
			"phase": job.Phase,
		})
		return
	}
	c.File(job.OutputPath)
}

// cancelJob stops a running job.
func (m *Module) cancelJob(c *gin.Context) {
	jobID := c.Param("id")
	if err := m.manager.Cancel(jobID); err != nil {
		if errors.Is(err, errs.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Job cancelled",
	})
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API serves local tooling; cross-origin dashboards are expected.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents upgrades to a websocket and forwards bus events, optionally
// filtered to one job via the job_id query parameter.
func (m *Module) streamEvents(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	filter := events.EventFilter{JobID: c.Query("job_id")}
	bus := events.GetGlobalBus()

	// The handler runs on the bus goroutine; a buffered channel decouples it
	// from the websocket write. Slow clients lose events rather than stall
	// the bus.
	eventCh := make(chan events.Event, 64)
	sub := bus.Subscribe(filter, func(event events.Event) error {
		select {
		case eventCh <- event:
		default:
		}
		return nil
	})
	defer bus.Unsubscribe(sub.ID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event := <-eventCh:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}

func (m *Module) lookupJob(c *gin.Context) (*database.ProcessingJob, bool) {
	job, err := m.manager.store.GetJob(c.Param("id"))
	if err != nil {
		if errors.Is(err, errs.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
		}
		return nil, false
	}
	return job, true
}

func jobSummary(job *database.ProcessingJob) gin.H {
	out := gin.H{
		"id":               job.ID,
		"title":            job.Title,
		"phase":            job.Phase,
		"progress_percent": job.ProgressPercent,
		"progress_message": job.ProgressMessage,
		"report_only":      job.ReportOnly,
		"strict":           job.Strict,
		"created_at":       job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		out["started_at"] = job.StartedAt.UTC().Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		out["completed_at"] = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	if job.ErrorCause != "" {
		out["error"] = job.ErrorCause
	}
	if job.TokensIn > 0 || job.TokensOut > 0 {
		out["usage"] = gin.H{
			"tokens_in":  job.TokensIn,
			"tokens_out": job.TokensOut,
			"cost_usd":   job.CostUSD,
		}
	}
	if job.OutputPath != "" {
		out["output_path"] = job.OutputPath
	}
	return out
}

func segmentFindings(rec database.SegmentRecord) map[content.Category]content.Finding {
	if rec.FlagsJSON == "" {
		return nil
	}
	var findings map[content.Category]content.Finding
	if err := json.Unmarshal([]byte(rec.FlagsJSON), &findings); err != nil {
		return nil
	}
	return findings
}

func segmentCategories(rec database.SegmentRecord) []string {
	findings := segmentFindings(rec)
	var cats []string
	for _, cat := range content.AllCategories {
		if _, ok := findings[cat]; ok {
			cats = append(cats, string(cat))
		}
	}
	return cats
}

func segmentMaxSeverity(rec database.SegmentRecord) content.Severity {
	max := content.SeverityNone
	for _, f := range segmentFindings(rec) {
		max = content.MaxSeverity(max, f.Severity)
	}
	return max
}

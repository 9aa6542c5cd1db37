package jobmodule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/purecut/purecut/internal/advisory"
	"github.com/purecut/purecut/internal/aggregate"
	"github.com/purecut/purecut/internal/align"
	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/content"
	"github.com/purecut/purecut/internal/database"
	"github.com/purecut/purecut/internal/errs"
	"github.com/purecut/purecut/internal/events"
	"github.com/purecut/purecut/internal/mediaprobe"
	"github.com/purecut/purecut/internal/replace"
	"github.com/purecut/purecut/internal/scenedetect"
	"github.com/purecut/purecut/internal/screenplay"
	"github.com/purecut/purecut/internal/stitch"
	"github.com/purecut/purecut/internal/timedtext"
	"github.com/purecut/purecut/internal/vision"
	"github.com/purecut/purecut/internal/workerpool"
)

// CreateJobRequest carries everything needed to start processing one video.
// Config holds optional per-job pipeline overrides layered over the server
// defaults.
type CreateJobRequest struct {
	Title        string          `json:"title" binding:"required"`
	VideoPath    string          `json:"video_path" binding:"required"`
	SubtitlePath string          `json:"subtitle_path"`
	ScriptPath   string          `json:"script_path"`
	ReportOnly   bool            `json:"report_only"`
	Strict       *bool           `json:"strict"`
	Config       json.RawMessage `json:"config"`
}

// Manager owns the processing pipeline. Each job runs in its own goroutine;
// Manager tracks cancel functions so jobs can be stopped individually and
// waits for all of them on shutdown.
type Manager struct {
	db       *gorm.DB
	store    *Store
	cfg      *config.Config
	logger   hclog.Logger
	prober   *mediaprobe.Prober
	advisory *advisory.Service
	monitor  *workerpool.LoadMonitor

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a manager with engines built from the active config.
func NewManager(db *gorm.DB, cfg *config.Config, logger hclog.Logger) *Manager {
	prober := mediaprobe.NewProberWithPaths(
		cfg.Pipeline.Probe.FFprobePath, cfg.Pipeline.Probe.FFmpegPath, logger)
	advisoryClient := advisory.NewClient(
		cfg.Pipeline.Advisory.BaseURL, cfg.Pipeline.Advisory.APIKey,
		cfg.Pipeline.Advisory.Timeout, logger)
	return &Manager{
		db:       db,
		store:    NewStore(db),
		cfg:      cfg,
		logger:   logger,
		prober:   prober,
		advisory: advisory.NewService(advisoryClient, db, cfg.Pipeline.Advisory.CacheTTL, logger),
		monitor:  workerpool.NewLoadMonitor(logger),
		running:  make(map[string]context.CancelFunc),
	}
}

// CreateJob validates inputs, persists the job and starts it.
func (m *Manager) CreateJob(req CreateJobRequest) (*database.ProcessingJob, error) {
	if _, err := os.Stat(req.VideoPath); err != nil {
		return nil, errs.NewInputError(req.VideoPath, err)
	}
	for _, p := range []string{req.SubtitlePath, req.ScriptPath} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return nil, errs.NewInputError(p, err)
		}
	}

	pipeline := m.cfg.Pipeline
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &pipeline); err != nil {
			return nil, errs.NewInputError("config", fmt.Errorf("invalid pipeline overrides: %w", err))
		}
		check := *m.cfg
		check.Pipeline = pipeline
		if err := check.Validate(); err != nil {
			return nil, errs.NewInputError("config", err)
		}
	}

	strict := pipeline.Strict
	if req.Strict != nil {
		strict = *req.Strict
	}

	jobID := uuid.New().String()
	workDir := filepath.Join(m.cfg.Storage.JobsDir, jobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create job work dir: %w", err)
	}

	cfgSnapshot, err := json.Marshal(pipeline)
	if err != nil {
		return nil, err
	}

	job := &database.ProcessingJob{
		ID:           jobID,
		Title:        req.Title,
		VideoPath:    req.VideoPath,
		SubtitlePath: req.SubtitlePath,
		ScriptPath:   req.ScriptPath,
		WorkDir:      workDir,
		ConfigJSON:   string(cfgSnapshot),
		ReportOnly:   req.ReportOnly,
		Strict:       strict,
	}
	if err := m.store.CreateJob(job); err != nil {
		return nil, err
	}

	events.PublishJobEvent(events.EventJobCreated, jobID, "job created", map[string]any{
		"title":       req.Title,
		"report_only": req.ReportOnly,
		"strict":      strict,
	})
	m.logger.Info("job created", "job_id", jobID, "title", req.Title,
		"report_only", req.ReportOnly, "strict", strict)

	m.start(job)
	return job, nil
}

// Cancel stops a running job. The job moves to the error phase with a
// cancellation cause.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	cancel, ok := m.running[jobID]
	m.mu.Unlock()
	if !ok {
		job, err := m.store.GetJob(jobID)
		if err != nil {
			return err
		}
		if job.Phase.Terminal() {
			return fmt.Errorf("job %s already finished", jobID)
		}
		return fmt.Errorf("job %s is not running", jobID)
	}
	cancel()
	return nil
}

// Shutdown cancels all running jobs and waits for their goroutines.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// RecoverOrphans restarts jobs stranded mid-phase by a previous process.
// Each is rewound to the last durable checkpoint before resuming.
func (m *Manager) RecoverOrphans() error {
	jobs, err := m.store.FindInterrupted()
	if err != nil {
		return err
	}
	for i := range jobs {
		job := &jobs[i]
		from := job.Phase
		to := resumePhase(from)
		if err := m.store.ResetPhase(job.ID, to); err != nil {
			m.logger.Error("failed to rewind orphaned job", "job_id", job.ID, "error", err)
			continue
		}
		job.Phase = to
		m.logger.Info("resuming orphaned job", "job_id", job.ID,
			"interrupted_in", from, "resumed_from", to)
		events.PublishJobEvent(events.EventJobResumed, job.ID,
			fmt.Sprintf("resumed from %s after restart", to),
			map[string]any{"interrupted_in": string(from)})
		m.start(job)
	}
	return nil
}

func (m *Manager) start(job *database.ProcessingJob) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.running[job.ID] = cancel
	m.mu.Unlock()
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.running, job.ID)
			m.mu.Unlock()
		}()
		m.runJob(ctx, job)
	}()
}

// runJob drives a job from its current phase to a terminal one.
func (m *Manager) runJob(ctx context.Context, job *database.ProcessingJob) {
	err := m.runFrom(ctx, job)
	if err == nil {
		return
	}

	cause := err.Error()
	eventType := events.EventJobFailed
	if ctx.Err() != nil {
		cause = "cancelled"
		eventType = events.EventJobCancelled
	}
	if dbErr := m.store.SetError(job.ID, cause); dbErr != nil {
		m.logger.Error("failed to record job error", "job_id", job.ID, "error", dbErr)
	}
	m.logger.Error("job failed", "job_id", job.ID, "cause", cause)
	events.PublishJobEvent(eventType, job.ID, cause, nil)
}

func (m *Manager) runFrom(ctx context.Context, job *database.ProcessingJob) error {
	phase := job.Phase
	pcfg := m.pipelineConfig(job)

	if phase == database.JobPhaseCreated {
		segments, err := m.analyze(ctx, job, pcfg)
		if err != nil {
			return err
		}
		if job.ReportOnly {
			if err := m.setPhase(job.ID, database.JobPhaseComplete, "analysis report ready"); err != nil {
				return err
			}
			events.PublishJobEvent(events.EventJobCompleted, job.ID, "analysis report ready", nil)
			return nil
		}
		if err := m.generate(ctx, job, pcfg, segments); err != nil {
			return err
		}
		return m.assemble(ctx, job, pcfg)
	}

	if phase == database.JobPhaseAnalyzed {
		segments, err := m.loadSegments(job.ID)
		if err != nil {
			return err
		}
		if err := m.generate(ctx, job, pcfg, segments); err != nil {
			return err
		}
		return m.assemble(ctx, job, pcfg)
	}

	if phase == database.JobPhaseGenerated {
		return m.assemble(ctx, job, pcfg)
	}

	return fmt.Errorf("job %s cannot run from phase %s", job.ID, phase)
}

// pipelineConfig restores the job's pipeline settings snapshot so a job
// always runs with the configuration it was submitted under, including any
// per-job overrides.
func (m *Manager) pipelineConfig(job *database.ProcessingJob) config.PipelineConfig {
	pcfg := m.cfg.Pipeline
	if job.ConfigJSON == "" {
		return pcfg
	}
	if err := json.Unmarshal([]byte(job.ConfigJSON), &pcfg); err != nil {
		m.logger.Warn("corrupt config snapshot, using server defaults",
			"job_id", job.ID, "error", err)
		return m.cfg.Pipeline
	}
	return pcfg
}

// analyze runs probe, scene detection, document parsing, alignment, visual
// classification and fusion, then persists the fused segments. The analyzed
// phase is the pipeline's durable checkpoint.
func (m *Manager) analyze(ctx context.Context, job *database.ProcessingJob, pcfg config.PipelineConfig) ([]aggregate.Segment, error) {
	if err := m.setPhase(job.ID, database.JobPhaseAnalyzing, "probing media"); err != nil {
		return nil, err
	}

	info, err := m.prober.Probe(ctx, job.VideoPath)
	if err != nil {
		return nil, err
	}

	m.progress(job.ID, 8, "detecting scenes")
	detector := scenedetect.NewDetector(pcfg.Detector, m.prober, m.logger)
	scenes, err := detector.Detect(ctx, job.VideoPath, info.DurationS)
	if err != nil {
		return nil, err
	}
	events.PublishJobEvent(events.EventScenesDetected, job.ID,
		fmt.Sprintf("%d scenes detected", len(scenes)),
		map[string]any{"scenes": len(scenes)})

	var subs []timedtext.Entry
	if job.SubtitlePath != "" {
		if subs, err = timedtext.ParseFile(job.SubtitlePath, m.logger); err != nil {
			return nil, err
		}
	}
	var scriptScenes []screenplay.Scene
	if job.ScriptPath != "" {
		if scriptScenes, err = screenplay.ParseFile(job.ScriptPath, m.logger); err != nil {
			return nil, err
		}
	}

	report := m.fetchAdvisory(ctx, job)

	m.progress(job.ID, 15, "aligning script to timeline")
	scriptEvidence := m.buildScriptEvidence(pcfg.Alignment, scenes, scriptScenes, subs, info.DurationMs())

	analyses, classifyErr := m.classifyScenes(ctx, job, pcfg.Vision, scenes, scriptEvidence, report)
	if job.Strict {
		unverified := 0
		for _, a := range analyses {
			if a == nil || !a.Verified {
				unverified++
			}
		}
		if unverified > 0 {
			return nil, strictVerificationError(unverified, len(analyses), classifyErr)
		}
	}

	m.progress(job.ID, 55, "fusing evidence")
	aggregator := aggregate.NewAggregator(pcfg.Aggregation, m.logger)
	segments := make([]aggregate.Segment, 0, len(scenes))
	for i, scene := range scenes {
		segments = append(segments, aggregator.Evaluate(aggregate.SceneEvidence{
			Scene:    scene,
			Script:   scriptEvidence[i],
			Vision:   analyses[i],
			Advisory: report,
		}))
	}
	segments = aggregator.MergeAdjacent(segments)

	if job.Strict {
		if unverified := aggregator.UnverifiedAdvisoryCategories(report, segments); len(unverified) > 0 {
			names := make([]string, len(unverified))
			for i, cat := range unverified {
				names[i] = string(cat)
			}
			return nil, fmt.Errorf("strict mode: advisory reports %s but no on-screen evidence was found",
				strings.Join(names, ", "))
		}
	}

	if err := m.store.SaveSegments(job.ID, segments); err != nil {
		return nil, err
	}
	if err := m.setPhase(job.ID, database.JobPhaseAnalyzed, "analysis complete"); err != nil {
		return nil, err
	}

	flagged := 0
	for _, seg := range segments {
		if seg.Flagged {
			flagged++
		}
	}
	m.logger.Info("analysis complete", "job_id", job.ID,
		"segments", len(segments), "flagged", flagged)
	events.PublishJobEvent(events.EventSegmentsFlagged, job.ID,
		fmt.Sprintf("%d of %d segments flagged", flagged, len(segments)),
		map[string]any{"segments": len(segments), "flagged": flagged})
	return segments, nil
}

// fetchAdvisory looks up the title's advisory report. A missing or failed
// report degrades aggregation to the remaining sources, never the job.
func (m *Manager) fetchAdvisory(ctx context.Context, job *database.ProcessingJob) *advisory.Report {
	report, err := m.advisory.Get(ctx, job.Title)
	if err != nil {
		m.logger.Warn("advisory lookup failed, continuing without it",
			"job_id", job.ID, "title", job.Title, "error", err)
		return nil
	}
	if report != nil {
		events.PublishJobEvent(events.EventAdvisoryFetched, job.ID,
			"advisory report available",
			map[string]any{"categories": len(report.Categories)})
	}
	return report
}

// buildScriptEvidence maps aligned script scenes onto detected video scenes.
// The entry for a video scene is nil when no aligned script scene overlaps
// it or no script was supplied.
func (m *Manager) buildScriptEvidence(cfg config.AlignmentConfig, scenes []scenedetect.Scene,
	scriptScenes []screenplay.Scene, subs []timedtext.Entry, videoDurationMs int64) []*aggregate.ScriptEvidence {

	evidence := make([]*aggregate.ScriptEvidence, len(scenes))
	if len(scriptScenes) == 0 {
		return evidence
	}

	engine := align.NewEngine(cfg, m.logger)
	aligned := engine.Align(scriptScenes, subs, videoDurationMs)

	for i, scene := range scenes {
		startMs := int64(scene.StartS * 1000)
		endMs := int64(scene.EndS * 1000)

		var (
			categories []content.Category
			seen       = map[content.Category]bool{}
			confSum    float64
			excerpt    string
			overlaps   int
		)
		for _, a := range aligned {
			if a.EndMs <= startMs || a.StartMs >= endMs {
				continue
			}
			overlaps++
			confSum += a.Confidence
			text := scriptScenes[a.SceneIndex].FullText()
			for _, cat := range content.MatchCategories(text) {
				if !seen[cat] {
					seen[cat] = true
					categories = append(categories, cat)
				}
			}
			if excerpt == "" && len(categories) > 0 {
				excerpt = truncate(text, 300)
			}
		}
		if overlaps == 0 || len(categories) == 0 {
			continue
		}
		evidence[i] = &aggregate.ScriptEvidence{
			Categories: categories,
			Confidence: confSum / float64(overlaps),
			Excerpt:    excerpt,
		}
	}
	return evidence
}

// strictVerificationError attributes a strict-mode abort to the visual
// provider. The classification failure that left scenes unverified is kept
// in the chain so callers can recognize the external-service class.
func strictVerificationError(unverified, total int, cause error) error {
	if cause == nil {
		cause = errs.NewExternalServiceError("vision", false,
			errors.New("model could not verify the sampled frames"))
	}
	return fmt.Errorf("strict mode: %d of %d scenes could not be visually verified: %w",
		unverified, total, cause)
}

// classifyScenes samples frames from every scene and sends each batch to the
// visual model through a worker pool sized by current system load. A failed
// classification leaves a nil analysis for that scene only; the first failure
// is returned alongside so strict mode can report what went wrong.
func (m *Manager) classifyScenes(ctx context.Context, job *database.ProcessingJob,
	visionCfg config.VisionConfig, scenes []scenedetect.Scene,
	scriptEvidence []*aggregate.ScriptEvidence, report *advisory.Report) ([]*vision.Analysis, error) {

	classifier := vision.NewClassifier(visionCfg, m.logger)
	framesDir := filepath.Join(job.WorkDir, "frames")

	tasks := make([]workerpool.Task[*vision.Analysis], len(scenes))
	for i, scene := range scenes {
		i, scene := i, scene
		tasks[i] = workerpool.Task[*vision.Analysis]{
			Key: fmt.Sprintf("scene-%04d", scene.Index),
			Run: func(ctx context.Context) (*vision.Analysis, error) {
				sceneDir := filepath.Join(framesDir, fmt.Sprintf("scene_%04d", scene.Index))
				frames, err := m.prober.ExtractFramesJPEG(ctx, job.VideoPath,
					scene.StartS, scene.EndS, frameBudget(visionCfg, scene), visionCfg.FrameWidth, sceneDir)
				if err != nil {
					return nil, err
				}
				return classifier.ClassifyFrames(ctx, frames, m.sceneHint(scriptEvidence[i], report))
			},
		}
	}

	workers := m.monitor.AdjustWorkers(visionCfg.MaxWorkers)
	m.progress(job.ID, 20, fmt.Sprintf("classifying %d scenes", len(scenes)))
	results := workerpool.Run(ctx, workers, tasks, m.logger)

	var firstErr error
	analyses := make([]*vision.Analysis, len(scenes))
	for i, res := range results {
		if res.Err != nil {
			m.logger.Warn("scene classification failed, scene degrades to text evidence",
				"job_id", job.ID, "scene", res.Key, "error", res.Err)
			if firstErr == nil {
				firstErr = res.Err
			}
			continue
		}
		analyses[i] = res.Value
	}

	if u := classifier.Usage(); u.TokensIn+u.TokensOut > 0 {
		if err := m.store.SetUsage(job.ID, u.TokensIn, u.TokensOut, u.CostUSD); err != nil {
			m.logger.Warn("failed to record model usage", "job_id", job.ID, "error", err)
		}
		m.logger.Info("model usage for analysis", "job_id", job.ID,
			"tokens_in", u.TokensIn, "tokens_out", u.TokensOut, "cost_usd", u.CostUSD)
	}
	return analyses, firstErr
}

// frameBudget returns the number of frames to sample from a scene. With a
// sample rate configured, long scenes get proportionally more frames, capped
// to keep one request within model limits.
func frameBudget(cfg config.VisionConfig, scene scenedetect.Scene) int {
	n := cfg.FramesPerScene
	if cfg.SampleRate > 0 {
		if byRate := int(scene.DurationS() * cfg.SampleRate); byRate > n {
			n = byRate
		}
		if n > 20 {
			n = 20
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

// sceneHint builds the optional context string passed to the visual model.
// The model is told to verify hints against the frames, so an inaccurate
// hint costs nothing.
func (m *Manager) sceneHint(script *aggregate.ScriptEvidence, report *advisory.Report) string {
	var parts []string
	if script != nil && script.Excerpt != "" {
		parts = append(parts, "Script excerpt: "+script.Excerpt)
	}
	if report != nil && len(report.Categories) > 0 {
		var cats []string
		for _, cat := range content.AllCategories {
			if report.Categories[cat] > content.SeverityNone {
				cats = append(cats, string(cat))
			}
		}
		if len(cats) > 0 {
			parts = append(parts, "The title's advisory report mentions: "+strings.Join(cats, ", "))
		}
	}
	return strings.Join(parts, "\n")
}

// generate produces a replacement clip for every flagged segment.
func (m *Manager) generate(ctx context.Context, job *database.ProcessingJob, pcfg config.PipelineConfig, segments []aggregate.Segment) error {
	if err := m.setPhase(job.ID, database.JobPhaseGenerating, "generating replacement clips"); err != nil {
		return err
	}
	// A restarted generation phase regenerates everything.
	if err := m.store.DeleteClips(job.ID); err != nil {
		return err
	}

	var flagged []aggregate.Segment
	for _, seg := range segments {
		if seg.Flagged {
			flagged = append(flagged, seg)
		}
	}
	if len(flagged) == 0 {
		m.logger.Info("no flagged segments, output will match the original", "job_id", job.ID)
		return m.setPhase(job.ID, database.JobPhaseGenerated, "nothing to replace")
	}

	info, err := m.prober.Probe(ctx, job.VideoPath)
	if err != nil {
		return err
	}

	repCfg := pcfg.Replacement
	provider := replace.NewQueueProvider(repCfg, m.logger)
	generator := replace.NewGenerator(repCfg, m.cfg.Storage, m.prober, provider, m.logger)

	tasks := make([]workerpool.Task[*replace.Result], len(flagged))
	for i, seg := range flagged {
		seg := seg
		tasks[i] = workerpool.Task[*replace.Result]{
			Key: seg.ID,
			Run: func(ctx context.Context) (*replace.Result, error) {
				return generator.GenerateForSegment(ctx, job.VideoPath, info.DurationMs(), seg, job.WorkDir)
			},
		}
	}

	results := workerpool.Run(ctx, repCfg.MaxWorkers, tasks, m.logger)

	generated := 0
	for i, res := range results {
		seg := flagged[i]
		if res.Err != nil {
			events.PublishJobEvent(events.EventClipFailed, job.ID,
				fmt.Sprintf("clip generation failed for %s", seg.ID),
				map[string]any{"segment_id": seg.ID})
			if repCfg.FailurePolicy == "fail" || job.Strict {
				return fmt.Errorf("clip generation failed for %s: %w", seg.ID, res.Err)
			}
			m.logger.Warn("clip generation failed, keeping original footage",
				"job_id", job.ID, "segment_id", seg.ID, "error", res.Err)
			if err := m.store.SaveClip(&database.ReplacementClipRecord{
				JobID:     job.ID,
				SegmentID: seg.ID,
				Status:    database.ClipStatusFailed,
			}); err != nil {
				return err
			}
			continue
		}

		r := res.Value
		if err := m.store.SaveClip(&database.ReplacementClipRecord{
			JobID:            job.ID,
			SegmentID:        r.SegmentID,
			Status:           database.ClipStatusOK,
			AssetPath:        r.AssetPath,
			FirstFramePath:   r.FirstFramePath,
			LastFramePath:    r.LastFramePath,
			CutStartMs:       r.Plan.CutStartMs,
			CutEndMs:         r.Plan.CutEndMs,
			TargetDurationMs: r.Plan.TargetDurationMs,
			ActualDurationMs: r.ActualDurationMs,
			TrimmedMs:        r.Plan.TrimmedMs,
			Instruction:      r.Prompt,
			Attempts:         r.Attempts,
		}); err != nil {
			return err
		}
		generated++
		events.PublishJobEvent(events.EventClipGenerated, job.ID,
			fmt.Sprintf("clip ready for %s", r.SegmentID),
			map[string]any{"segment_id": r.SegmentID, "attempts": r.Attempts})
		m.progress(job.ID, 65+25*(i+1)/len(results),
			fmt.Sprintf("generated %d of %d clips", generated, len(flagged)))
	}

	m.logger.Info("clip generation finished", "job_id", job.ID,
		"requested", len(flagged), "generated", generated)
	return m.setPhase(job.ID, database.JobPhaseGenerated,
		fmt.Sprintf("%d of %d clips generated", generated, len(flagged)))
}

// assemble stitches the final output and completes the job.
func (m *Manager) assemble(ctx context.Context, job *database.ProcessingJob, pcfg config.PipelineConfig) error {
	if err := m.setPhase(job.ID, database.JobPhaseStitching, "assembling output"); err != nil {
		return err
	}

	info, err := m.prober.Probe(ctx, job.VideoPath)
	if err != nil {
		return err
	}

	records, err := m.store.ListClips(job.ID)
	if err != nil {
		return err
	}
	var clips []stitch.ClipSpec
	for _, rec := range records {
		if rec.Status != database.ClipStatusOK {
			continue
		}
		r := clipToResult(rec)
		clips = append(clips, stitch.ClipSpec{
			SegmentID:        r.SegmentID,
			CutStartMs:       r.Plan.CutStartMs,
			CutEndMs:         r.Plan.CutEndMs,
			AssetPath:        r.AssetPath,
			ActualDurationMs: r.ActualDurationMs,
		})
	}

	stitcher := stitch.NewStitcher(pcfg.Stitch, m.cfg.Pipeline.Probe.FFmpegPath, m.logger)
	outPath := filepath.Join(job.WorkDir, "output"+filepath.Ext(job.VideoPath))
	if len(clips) == 0 {
		if err := copyFile(job.VideoPath, outPath); err != nil {
			return err
		}
	} else {
		if err := stitcher.Stitch(ctx, job.VideoPath, info, clips, job.WorkDir, outPath); err != nil {
			return err
		}
		m.verifyOutputDuration(ctx, job.ID, outPath, stitch.ExpectedDurationMs(info.DurationMs(), clips))
	}

	if spans := m.profanityMuteSpans(job, pcfg); len(spans) > 0 {
		pieces, err := stitch.BuildEditList(clips, info.DurationMs())
		if err != nil {
			return err
		}
		if outSpans := stitch.RemapToOutput(spans, pieces); len(outSpans) > 0 {
			m.progress(job.ID, 97, "muting profanity in audio")
			mutedPath := mutedOutputPath(outPath)
			if err := stitcher.MuteAudio(ctx, outPath, outSpans, mutedPath); err != nil {
				return err
			}
			if err := os.Rename(mutedPath, outPath); err != nil {
				return err
			}
			events.PublishJobEvent(events.EventAudioMuted, job.ID,
				fmt.Sprintf("%d audio intervals muted", len(outSpans)),
				map[string]any{"intervals": len(outSpans)})
		}
	}

	if err := m.store.SetOutputPath(job.ID, outPath); err != nil {
		return err
	}
	m.cleanup(job)

	if err := m.setPhase(job.ID, database.JobPhaseComplete, "output ready"); err != nil {
		return err
	}
	events.PublishJobEvent(events.EventStitchCompleted, job.ID, "output ready",
		map[string]any{"output_path": outPath, "clips": len(clips)})
	events.PublishJobEvent(events.EventJobCompleted, job.ID, "output ready", nil)
	m.logger.Info("job complete", "job_id", job.ID, "output", outPath)
	return nil
}

// profanityMuteSpans collects original-timeline intervals whose subtitle
// cues contain profanity, padded so a mute never clips the start of a word.
// Subtitle cues are the finest word timing available, so the whole cue is
// silenced.
func (m *Manager) profanityMuteSpans(job *database.ProcessingJob, pcfg config.PipelineConfig) []stitch.MuteSpan {
	if !pcfg.Audio.MuteProfanity || job.SubtitlePath == "" {
		return nil
	}
	entries, err := timedtext.ParseFile(job.SubtitlePath, m.logger)
	if err != nil {
		m.logger.Warn("cannot mute profanity, subtitles unreadable",
			"job_id", job.ID, "error", err)
		return nil
	}

	pad := pcfg.Audio.MutePadMs
	var spans []stitch.MuteSpan
	for _, e := range entries {
		if !content.HasProfanity(e.Text) {
			continue
		}
		start := e.StartMs - pad
		if start < 0 {
			start = 0
		}
		spans = append(spans, stitch.MuteSpan{StartMs: start, EndMs: e.EndMs + pad})
	}
	if len(spans) > 0 {
		m.logger.Info("profanity cues found in subtitles", "job_id", job.ID, "cues", len(spans))
	}
	return stitch.MergeMuteSpans(spans)
}

func mutedOutputPath(outPath string) string {
	ext := filepath.Ext(outPath)
	return strings.TrimSuffix(outPath, ext) + ".muted" + ext
}

// verifyOutputDuration probes the stitched file and warns when its length
// drifts from the edit list's arithmetic by more than a second.
func (m *Manager) verifyOutputDuration(ctx context.Context, jobID, outPath string, expectedMs int64) {
	outInfo, err := m.prober.Probe(ctx, outPath)
	if err != nil {
		m.logger.Warn("could not probe stitched output", "job_id", jobID, "error", err)
		return
	}
	drift := outInfo.DurationMs() - expectedMs
	if drift < 0 {
		drift = -drift
	}
	if drift > 1000 {
		m.logger.Warn("stitched output duration drifts from the edit list",
			"job_id", jobID, "expected_ms", expectedMs, "actual_ms", outInfo.DurationMs())
	}
}

// cleanup removes intermediate artifacts after a successful run. Replacement
// clips and audit thumbnails survive when clip retention is on.
func (m *Manager) cleanup(job *database.ProcessingJob) {
	if !m.cfg.Storage.CleanupOnDone {
		return
	}
	for _, sub := range []string{"frames", "parts"} {
		if err := os.RemoveAll(filepath.Join(job.WorkDir, sub)); err != nil {
			m.logger.Warn("cleanup failed", "job_id", job.ID, "dir", sub, "error", err)
		}
	}
	if m.cfg.Storage.RetainClips {
		return
	}
	entries, err := os.ReadDir(job.WorkDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "seg-") {
			if err := os.RemoveAll(filepath.Join(job.WorkDir, e.Name())); err != nil {
				m.logger.Warn("cleanup failed", "job_id", job.ID, "dir", e.Name(), "error", err)
			}
		}
	}
}

func (m *Manager) loadSegments(jobID string) ([]aggregate.Segment, error) {
	records, err := m.store.ListSegments(jobID)
	if err != nil {
		return nil, err
	}
	segments := make([]aggregate.Segment, 0, len(records))
	for _, rec := range records {
		seg, err := recordToSegment(rec)
		if err != nil {
			return nil, fmt.Errorf("corrupt segment record %s: %w", rec.SegmentID, err)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func (m *Manager) setPhase(jobID string, phase database.JobPhase, message string) error {
	if err := m.store.SetPhase(jobID, phase, message); err != nil {
		return err
	}
	events.PublishJobEvent(events.EventJobPhase, jobID, message,
		map[string]any{"phase": string(phase)})
	return nil
}

func (m *Manager) progress(jobID string, percent int, message string) {
	if err := m.store.SetProgress(jobID, percent, message); err != nil {
		m.logger.Warn("failed to record progress", "job_id", jobID, "error", err)
	}
	events.PublishJobEvent(events.EventJobProgress, jobID, message,
		map[string]any{"percent": percent})
}

// truncate shortens s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

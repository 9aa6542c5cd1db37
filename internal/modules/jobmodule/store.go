package jobmodule

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/purecut/purecut/internal/aggregate"
	"github.com/purecut/purecut/internal/content"
	"github.com/purecut/purecut/internal/database"
	"github.com/purecut/purecut/internal/errs"
	"github.com/purecut/purecut/internal/replace"
)

// Store wraps job persistence. All phase writes revalidate the transition
// against the stored phase, so two racing workers cannot both advance the
// same job.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateJob persists a new job in the created phase.
func (s *Store) CreateJob(job *database.ProcessingJob) error {
	job.Phase = database.JobPhaseCreated
	return s.db.Create(job).Error
}

// GetJob loads one job.
func (s *Store) GetJob(jobID string) (*database.ProcessingJob, error) {
	var job database.ProcessingJob
	err := s.db.Where("id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// SetPhase advances a job's phase after validating the transition against
// the phase currently stored.
func (s *Store) SetPhase(jobID string, to database.JobPhase, message string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var job database.ProcessingJob
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrJobNotFound
			}
			return err
		}
		if err := CheckTransition(job.Phase, to); err != nil {
			return err
		}

		updates := map[string]any{
			"phase":            to,
			"progress_percent": phaseProgress[to],
			"progress_message": message,
		}
		now := time.Now()
		if to == database.JobPhaseAnalyzing && job.StartedAt == nil {
			updates["started_at"] = now
		}
		if to.Terminal() {
			updates["completed_at"] = now
		}
		return tx.Model(&database.ProcessingJob{}).Where("id = ?", jobID).Updates(updates).Error
	})
}

// SetError moves a job to the error phase with a cause.
func (s *Store) SetError(jobID, cause string) error {
	now := time.Now()
	return s.db.Model(&database.ProcessingJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"phase":            database.JobPhaseError,
		"error_cause":      cause,
		"progress_message": "failed",
		"completed_at":     now,
	}).Error
}

// SetProgress updates fine-grained progress within the current phase.
func (s *Store) SetProgress(jobID string, percent int, message string) error {
	return s.db.Model(&database.ProcessingJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"progress_percent": percent,
		"progress_message": message,
	}).Error
}

// SetOutputPath records the stitched output location.
func (s *Store) SetOutputPath(jobID, outputPath string) error {
	return s.db.Model(&database.ProcessingJob{}).Where("id = ?", jobID).
		Update("output_path", outputPath).Error
}

// SetUsage records the model token spend for a job's analysis run. A rerun
// overwrites the previous totals rather than adding to them, since the rerun
// reclassifies every scene.
func (s *Store) SetUsage(jobID string, tokensIn, tokensOut int64, costUSD float64) error {
	return s.db.Model(&database.ProcessingJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"tokens_in":  tokensIn,
		"tokens_out": tokensOut,
		"cost_usd":   costUSD,
	}).Error
}

// SaveSegments replaces a job's segment records with the given fused
// segments. Called once at the analyzed checkpoint.
func (s *Store) SaveSegments(jobID string, segments []aggregate.Segment) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&database.SegmentRecord{}).Error; err != nil {
			return err
		}
		for _, seg := range segments {
			rec, err := segmentToRecord(jobID, seg)
			if err != nil {
				return err
			}
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListSegments returns a job's segment records in timeline order.
func (s *Store) ListSegments(jobID string) ([]database.SegmentRecord, error) {
	var records []database.SegmentRecord
	err := s.db.Where("job_id = ?", jobID).Order("start_ms asc").Find(&records).Error
	return records, err
}

// SaveClip records one replacement clip outcome.
func (s *Store) SaveClip(rec *database.ReplacementClipRecord) error {
	return s.db.Create(rec).Error
}

// ListClips returns a job's replacement clip records in timeline order.
func (s *Store) ListClips(jobID string) ([]database.ReplacementClipRecord, error) {
	var records []database.ReplacementClipRecord
	err := s.db.Where("job_id = ?", jobID).Order("cut_start_ms asc").Find(&records).Error
	return records, err
}

// DeleteClips drops a job's clip records, used when generation restarts.
func (s *Store) DeleteClips(jobID string) error {
	return s.db.Where("job_id = ?", jobID).Delete(&database.ReplacementClipRecord{}).Error
}

// FindInterrupted returns jobs stranded in non-terminal phases, as after a
// process crash.
func (s *Store) FindInterrupted() ([]database.ProcessingJob, error) {
	var jobs []database.ProcessingJob
	err := s.db.Where("phase IN ?", []database.JobPhase{
		database.JobPhaseAnalyzing,
		database.JobPhaseGenerating,
		database.JobPhaseStitching,
	}).Find(&jobs).Error
	return jobs, err
}

// ListJobs returns all jobs, newest first.
func (s *Store) ListJobs() ([]database.ProcessingJob, error) {
	var jobs []database.ProcessingJob
	err := s.db.Order("created_at desc").Find(&jobs).Error
	return jobs, err
}

// ResetPhase forcibly rewrites a job's phase during startup recovery,
// bypassing transition checks. Only recovery uses this.
func (s *Store) ResetPhase(jobID string, phase database.JobPhase) error {
	return s.db.Model(&database.ProcessingJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"phase":            phase,
		"progress_percent": phaseProgress[phase],
		"progress_message": "recovered after restart",
	}).Error
}

func segmentToRecord(jobID string, seg aggregate.Segment) (*database.SegmentRecord, error) {
	flags, err := json.Marshal(seg.Findings)
	if err != nil {
		return nil, err
	}
	perSource, err := json.Marshal(seg.PerSource)
	if err != nil {
		return nil, err
	}
	return &database.SegmentRecord{
		JobID:          jobID,
		SegmentID:      seg.ID,
		StartMs:        seg.StartMs,
		EndMs:          seg.EndMs,
		Flagged:        seg.Flagged,
		LowConfidence:  seg.LowConfidence,
		Confidence:     seg.Confidence,
		FlagsJSON:      string(flags),
		ConfidenceJSON: string(perSource),
		SourcesUsed:    strings.Join(seg.Sources, ","),
	}, nil
}

// recordToSegment rebuilds a fused segment from its stored form, used when
// generation resumes from the analyzed checkpoint.
func recordToSegment(rec database.SegmentRecord) (aggregate.Segment, error) {
	seg := aggregate.Segment{
		ID:            rec.SegmentID,
		StartMs:       rec.StartMs,
		EndMs:         rec.EndMs,
		Flagged:       rec.Flagged,
		LowConfidence: rec.LowConfidence,
		Confidence:    rec.Confidence,
		Findings:      make(map[content.Category]content.Finding),
		PerSource:     make(map[string]float64),
	}
	if rec.FlagsJSON != "" {
		if err := json.Unmarshal([]byte(rec.FlagsJSON), &seg.Findings); err != nil {
			return seg, err
		}
	}
	if rec.ConfidenceJSON != "" {
		if err := json.Unmarshal([]byte(rec.ConfidenceJSON), &seg.PerSource); err != nil {
			return seg, err
		}
	}
	if rec.SourcesUsed != "" {
		seg.Sources = strings.Split(rec.SourcesUsed, ",")
	}
	return seg, nil
}

// clipToResult rebuilds a generation result from its stored form.
func clipToResult(rec database.ReplacementClipRecord) replace.Result {
	return replace.Result{
		SegmentID: rec.SegmentID,
		Plan: replace.Plan{
			CutStartMs:       rec.CutStartMs,
			CutEndMs:         rec.CutEndMs,
			TargetDurationMs: rec.TargetDurationMs,
			TrimmedMs:        rec.TrimmedMs,
		},
		AssetPath:        rec.AssetPath,
		FirstFramePath:   rec.FirstFramePath,
		LastFramePath:    rec.LastFramePath,
		ActualDurationMs: rec.ActualDurationMs,
		Attempts:         rec.Attempts,
	}
}

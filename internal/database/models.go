package database

import (
	"time"
)

// JobPhase represents the processing phase of a cleaning job
type JobPhase string

const (
	JobPhaseCreated    JobPhase = "created"
	JobPhaseAnalyzing  JobPhase = "analyzing"
	JobPhaseAnalyzed   JobPhase = "analyzed"
	JobPhaseGenerating JobPhase = "generating"
	JobPhaseGenerated  JobPhase = "generated"
	JobPhaseStitching  JobPhase = "stitching"
	JobPhaseComplete   JobPhase = "complete"
	JobPhaseError      JobPhase = "error"
)

// Terminal reports whether no further transition can leave the phase.
func (p JobPhase) Terminal() bool {
	return p == JobPhaseComplete || p == JobPhaseError
}

// ProcessingJob is the persisted job aggregate. It is mutated only by the
// orchestrator that owns it; all other records attached to a job are
// append-only artifacts.
type ProcessingJob struct {
	ID              string   `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title           string   `gorm:"type:varchar(255)" json:"title"`
	Phase           JobPhase `gorm:"type:varchar(32);not null;index" json:"phase"`
	ProgressPercent int      `json:"progress_percent"`
	ProgressMessage string   `gorm:"type:varchar(512)" json:"progress_message"`

	VideoPath    string `gorm:"type:varchar(512);not null" json:"video_path"`
	SubtitlePath string `gorm:"type:varchar(512)" json:"subtitle_path,omitempty"`
	ScriptPath   string `gorm:"type:varchar(512)" json:"script_path,omitempty"`
	OutputPath   string `gorm:"type:varchar(512)" json:"output_path,omitempty"`
	WorkDir      string `gorm:"type:varchar(512)" json:"-"`

	// Per-job configuration overrides, serialized JSON
	ConfigJSON string `gorm:"type:text" json:"-"`

	ReportOnly bool `json:"report_only"`
	Strict     bool `json:"strict"`

	// Model token spend for the analysis run, priced at submission time
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`

	ErrorCause string `gorm:"type:varchar(1024)" json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Segments []SegmentRecord         `gorm:"foreignKey:JobID" json:"-"`
	Clips    []ReplacementClipRecord `gorm:"foreignKey:JobID" json:"-"`
}

// TableName returns the table name for GORM
func (ProcessingJob) TableName() string {
	return "processing_jobs"
}

// SegmentRecord is the persisted form of a fused analysis segment. Segments
// written at the analyzed checkpoint let generation and stitching resume
// without recomputing detection, alignment, or classification.
type SegmentRecord struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	JobID     string `gorm:"index;type:varchar(64);not null" json:"job_id"`
	SegmentID string `gorm:"index;type:varchar(64);not null" json:"segment_id"`

	StartMs int64 `gorm:"not null" json:"start_ms"`
	EndMs   int64 `gorm:"not null" json:"end_ms"`

	Flagged       bool    `gorm:"index" json:"flagged"`
	LowConfidence bool    `json:"low_confidence"`
	Confidence    float64 `json:"confidence"`

	// category -> {severity, description}, serialized JSON
	FlagsJSON string `gorm:"type:text" json:"flags_json"`
	// per-source confidence contributions, serialized JSON
	ConfidenceJSON string `gorm:"type:text" json:"confidence_json"`
	// comma separated list of contributing sources
	SourcesUsed string `gorm:"type:varchar(128)" json:"sources_used"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for GORM
func (SegmentRecord) TableName() string {
	return "segments"
}

// Replacement clip status values
const (
	ClipStatusOK     = "ok"
	ClipStatusFailed = "failed"
)

// ReplacementClipRecord tracks one generated substitute clip. Actual and
// target durations are both kept; the stitcher reconciles the difference and
// must never see a silently corrected value.
type ReplacementClipRecord struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	JobID     string `gorm:"index;type:varchar(64);not null" json:"job_id"`
	SegmentID string `gorm:"index;type:varchar(64);not null" json:"segment_id"`

	Status string `gorm:"type:varchar(16);not null" json:"status"`

	AssetPath      string `gorm:"type:varchar(512)" json:"asset_path"`
	FirstFramePath string `gorm:"type:varchar(512)" json:"first_frame_path"`
	LastFramePath  string `gorm:"type:varchar(512)" json:"last_frame_path"`

	// Cut window in the original timeline, including clean-frame buffers
	CutStartMs int64 `json:"cut_start_ms"`
	CutEndMs   int64 `json:"cut_end_ms"`

	TargetDurationMs int64 `json:"target_duration_ms"`
	ActualDurationMs int64 `json:"actual_duration_ms"`
	TrimmedMs        int64 `json:"trimmed_ms"`

	Instruction string `gorm:"type:text" json:"instruction"`
	Attempts    int    `json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for GORM
func (ReplacementClipRecord) TableName() string {
	return "replacement_clips"
}

// AdvisoryCacheEntry caches third-party content-advisory text per title.
// Entries older than the configured TTL are treated as absent on read and
// upserted on fetch; staleness inside the TTL is tolerable.
type AdvisoryCacheEntry struct {
	TitleKey    string    `gorm:"primaryKey;type:varchar(255)" json:"title_key"`
	PayloadJSON string    `gorm:"type:text" json:"payload_json"`
	FetchedAt   time.Time `gorm:"not null;index" json:"fetched_at"`
}

// TableName returns the table name for GORM
func (AdvisoryCacheEntry) TableName() string {
	return "advisory_cache"
}

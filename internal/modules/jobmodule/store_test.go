package jobmodule

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/purecut/purecut/internal/aggregate"
	"github.com/purecut/purecut/internal/content"
	"github.com/purecut/purecut/internal/database"
	"github.com/purecut/purecut/internal/errs"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&database.ProcessingJob{},
		&database.SegmentRecord{},
		&database.ReplacementClipRecord{},
		&database.AdvisoryCacheEntry{},
	))
	return db
}

func newTestJob(t *testing.T, store *Store, id string) *database.ProcessingJob {
	t.Helper()
	job := &database.ProcessingJob{
		ID:        id,
		Title:     "Test Movie",
		VideoPath: "/media/test.mp4",
		WorkDir:   "/tmp/jobs/" + id,
	}
	require.NoError(t, store.CreateJob(job))
	return job
}

func TestStoreCreateAndGetJob(t *testing.T) {
	store := NewStore(newTestDB(t))
	newTestJob(t, store, "job-1")

	got, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "Test Movie", got.Title)
	assert.Equal(t, database.JobPhaseCreated, got.Phase)
	assert.Nil(t, got.StartedAt)

	_, err = store.GetJob("missing")
	assert.True(t, errors.Is(err, errs.ErrJobNotFound))
}

func TestStoreSetPhase(t *testing.T) {
	store := NewStore(newTestDB(t))
	newTestJob(t, store, "job-1")

	require.NoError(t, store.SetPhase("job-1", database.JobPhaseAnalyzing, "probing media"))

	got, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, database.JobPhaseAnalyzing, got.Phase)
	assert.Equal(t, phaseProgress[database.JobPhaseAnalyzing], got.ProgressPercent)
	assert.Equal(t, "probing media", got.ProgressMessage)
	assert.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestStoreSetPhaseRejectsIllegalTransition(t *testing.T) {
	store := NewStore(newTestDB(t))
	newTestJob(t, store, "job-1")

	err := store.SetPhase("job-1", database.JobPhaseStitching, "nope")
	assert.True(t, errors.Is(err, errs.ErrIllegalTransition))

	got, _ := store.GetJob("job-1")
	assert.Equal(t, database.JobPhaseCreated, got.Phase)
}

func TestStoreSetPhaseTerminalStampsCompletion(t *testing.T) {
	store := NewStore(newTestDB(t))
	newTestJob(t, store, "job-1")

	require.NoError(t, store.SetPhase("job-1", database.JobPhaseAnalyzing, ""))
	require.NoError(t, store.SetPhase("job-1", database.JobPhaseAnalyzed, ""))
	require.NoError(t, store.SetPhase("job-1", database.JobPhaseComplete, "report ready"))

	got, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, 100, got.ProgressPercent)
	assert.NotNil(t, got.CompletedAt)
}

func TestStoreSetError(t *testing.T) {
	store := NewStore(newTestDB(t))
	newTestJob(t, store, "job-1")

	require.NoError(t, store.SetError("job-1", "ffprobe exploded"))

	got, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, database.JobPhaseError, got.Phase)
	assert.Equal(t, "ffprobe exploded", got.ErrorCause)
	assert.NotNil(t, got.CompletedAt)
}

func TestStoreSegmentRoundTrip(t *testing.T) {
	store := NewStore(newTestDB(t))
	newTestJob(t, store, "job-1")

	segments := []aggregate.Segment{
		{
			ID: "seg-0001", StartMs: 0, EndMs: 12000,
			Findings:  map[content.Category]content.Finding{},
			PerSource: map[string]float64{},
		},
		{
			ID: "seg-0002", StartMs: 12000, EndMs: 30000,
			Flagged: true, Confidence: 0.87,
			Findings: map[content.Category]content.Finding{
				content.CategoryViolence: {
					Category: content.CategoryViolence, Severity: content.SeveritySevere,
					Description: "gunfight",
				},
			},
			PerSource: map[string]float64{
				aggregate.SourceScript: 0.9,
				aggregate.SourceVision: 0.9,
			},
			Sources: []string{aggregate.SourceScript, aggregate.SourceVision},
		},
	}
	require.NoError(t, store.SaveSegments("job-1", segments))

	records, err := store.ListSegments("job-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "seg-0001", records[0].SegmentID)
	assert.True(t, records[1].Flagged)

	restored, err := recordToSegment(records[1])
	require.NoError(t, err)
	assert.Equal(t, segments[1].ID, restored.ID)
	assert.Equal(t, segments[1].Confidence, restored.Confidence)
	assert.Equal(t, content.SeveritySevere, restored.Findings[content.CategoryViolence].Severity)
	assert.Equal(t, segments[1].PerSource, restored.PerSource)
	assert.Equal(t, segments[1].Sources, restored.Sources)

	// A second save replaces, never appends.
	require.NoError(t, store.SaveSegments("job-1", segments[:1]))
	records, err = store.ListSegments("job-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStoreClipRoundTrip(t *testing.T) {
	store := NewStore(newTestDB(t))
	newTestJob(t, store, "job-1")

	require.NoError(t, store.SaveClip(&database.ReplacementClipRecord{
		JobID: "job-1", SegmentID: "seg-0005", Status: database.ClipStatusOK,
		AssetPath:  "/tmp/jobs/job-1/seg-0005/clip.mp4",
		CutStartMs: 60000, CutEndMs: 68000,
		TargetDurationMs: 8000, ActualDurationMs: 8120, TrimmedMs: 0,
		Attempts: 2,
	}))
	require.NoError(t, store.SaveClip(&database.ReplacementClipRecord{
		JobID: "job-1", SegmentID: "seg-0002", Status: database.ClipStatusFailed,
		CutStartMs: 10000, CutEndMs: 16000,
	}))

	clips, err := store.ListClips("job-1")
	require.NoError(t, err)
	require.Len(t, clips, 2)
	// Timeline order, not insertion order.
	assert.Equal(t, "seg-0002", clips[0].SegmentID)
	assert.Equal(t, "seg-0005", clips[1].SegmentID)

	result := clipToResult(clips[1])
	assert.Equal(t, int64(60000), result.Plan.CutStartMs)
	assert.Equal(t, int64(8120), result.ActualDurationMs)
	assert.Equal(t, 2, result.Attempts)

	require.NoError(t, store.DeleteClips("job-1"))
	clips, err = store.ListClips("job-1")
	require.NoError(t, err)
	assert.Empty(t, clips)
}

func TestStoreFindInterrupted(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	newTestJob(t, store, "idle")
	running := newTestJob(t, store, "running")
	require.NoError(t, store.SetPhase(running.ID, database.JobPhaseAnalyzing, ""))

	done := newTestJob(t, store, "done")
	require.NoError(t, store.SetPhase(done.ID, database.JobPhaseAnalyzing, ""))
	require.NoError(t, store.SetPhase(done.ID, database.JobPhaseAnalyzed, ""))
	require.NoError(t, store.SetPhase(done.ID, database.JobPhaseComplete, ""))

	interrupted, err := store.FindInterrupted()
	require.NoError(t, err)
	require.Len(t, interrupted, 1)
	assert.Equal(t, "running", interrupted[0].ID)
}

func TestStoreSetOutputPathSQL(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewStore(db)

	mock.ExpectExec(`UPDATE "processing_jobs" SET`).
		WithArgs("/out/clean.mp4", sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetOutputPath("job-1", "/out/clean.mp4"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

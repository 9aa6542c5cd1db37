package jobmodule

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/purecut/purecut/internal/database"
	"github.com/purecut/purecut/internal/errs"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    database.JobPhase
		to      database.JobPhase
		allowed bool
	}{
		{"created to analyzing", database.JobPhaseCreated, database.JobPhaseAnalyzing, true},
		{"analyzing to analyzed", database.JobPhaseAnalyzing, database.JobPhaseAnalyzed, true},
		{"analyzed to generating", database.JobPhaseAnalyzed, database.JobPhaseGenerating, true},
		{"analyzed straight to complete", database.JobPhaseAnalyzed, database.JobPhaseComplete, true},
		{"generating to generated", database.JobPhaseGenerating, database.JobPhaseGenerated, true},
		{"generated to stitching", database.JobPhaseGenerated, database.JobPhaseStitching, true},
		{"stitching to complete", database.JobPhaseStitching, database.JobPhaseComplete, true},
		{"any phase to error", database.JobPhaseGenerating, database.JobPhaseError, true},

		{"skipping analysis", database.JobPhaseCreated, database.JobPhaseGenerating, false},
		{"skipping generation", database.JobPhaseAnalyzed, database.JobPhaseStitching, false},
		{"backwards", database.JobPhaseGenerated, database.JobPhaseAnalyzing, false},
		{"created straight to complete", database.JobPhaseCreated, database.JobPhaseComplete, false},
		{"out of complete", database.JobPhaseComplete, database.JobPhaseAnalyzing, false},
		{"out of error", database.JobPhaseError, database.JobPhaseCreated, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTransition(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, errs.ErrIllegalTransition))
			}
		})
	}
}

func TestResumePhase(t *testing.T) {
	assert.Equal(t, database.JobPhaseCreated, resumePhase(database.JobPhaseAnalyzing))
	assert.Equal(t, database.JobPhaseAnalyzed, resumePhase(database.JobPhaseGenerating))
	assert.Equal(t, database.JobPhaseGenerated, resumePhase(database.JobPhaseStitching))

	// Checkpointed phases resume in place.
	assert.Equal(t, database.JobPhaseAnalyzed, resumePhase(database.JobPhaseAnalyzed))
	assert.Equal(t, database.JobPhaseCreated, resumePhase(database.JobPhaseCreated))
}

func TestPhaseProgressMonotonic(t *testing.T) {
	order := []database.JobPhase{
		database.JobPhaseCreated,
		database.JobPhaseAnalyzing,
		database.JobPhaseAnalyzed,
		database.JobPhaseGenerating,
		database.JobPhaseGenerated,
		database.JobPhaseStitching,
		database.JobPhaseComplete,
	}
	prev := -1
	for _, phase := range order {
		pct, ok := phaseProgress[phase]
		assert.True(t, ok, "missing progress anchor for %s", phase)
		assert.Greater(t, pct, prev, "progress must increase at %s", phase)
		prev = pct
	}
	assert.Equal(t, 100, phaseProgress[database.JobPhaseComplete])
}

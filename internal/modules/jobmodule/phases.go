package jobmodule

import (
	"fmt"

	"github.com/purecut/purecut/internal/database"
	"github.com/purecut/purecut/internal/errs"
)

// validTransitions is the authoritative phase graph. Every phase change in
// the module goes through CheckTransition; nothing mutates a job's phase
// directly.
var validTransitions = map[database.JobPhase][]database.JobPhase{
	database.JobPhaseCreated:    {database.JobPhaseAnalyzing, database.JobPhaseError},
	database.JobPhaseAnalyzing:  {database.JobPhaseAnalyzed, database.JobPhaseError},
	database.JobPhaseAnalyzed:   {database.JobPhaseGenerating, database.JobPhaseComplete, database.JobPhaseError},
	database.JobPhaseGenerating: {database.JobPhaseGenerated, database.JobPhaseError},
	database.JobPhaseGenerated:  {database.JobPhaseStitching, database.JobPhaseError},
	database.JobPhaseStitching:  {database.JobPhaseComplete, database.JobPhaseError},
	database.JobPhaseComplete:   {},
	database.JobPhaseError:      {},
}

// CheckTransition validates a phase change.
func CheckTransition(from, to database.JobPhase) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", errs.ErrIllegalTransition, from, to)
}

// resumePhase maps the phase a job was interrupted in to the phase its work
// restarts from. Analysis results are only durable once the job reached
// analyzed, so an interrupted analyzing run starts analysis over.
func resumePhase(interrupted database.JobPhase) database.JobPhase {
	switch interrupted {
	case database.JobPhaseAnalyzing:
		return database.JobPhaseCreated
	case database.JobPhaseGenerating:
		return database.JobPhaseAnalyzed
	case database.JobPhaseStitching:
		return database.JobPhaseGenerated
	default:
		return interrupted
	}
}

// phaseProgress anchors the coarse progress percentage reported for each
// phase while it runs.
var phaseProgress = map[database.JobPhase]int{
	database.JobPhaseCreated:    0,
	database.JobPhaseAnalyzing:  5,
	database.JobPhaseAnalyzed:   60,
	database.JobPhaseGenerating: 65,
	database.JobPhaseGenerated:  90,
	database.JobPhaseStitching:  92,
	database.JobPhaseComplete:   100,
}

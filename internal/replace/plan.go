package replace

import (
	"github.com/purecut/purecut/internal/aggregate"
	"github.com/purecut/purecut/internal/config"
)

// Plan fixes the cut window for one flagged segment and the duration the
// provider is asked to generate for it.
type Plan struct {
	CutStartMs       int64  `json:"cut_start_ms"`
	CutEndMs         int64  `json:"cut_end_ms"`
	TargetDurationMs int64  `json:"target_duration_ms"`
	TrimmedMs        int64  `json:"trimmed_ms"`
	Duration         string `json:"duration"`
}

// CutDurationMs returns the length of the cut window.
func (p Plan) CutDurationMs() int64 {
	return p.CutEndMs - p.CutStartMs
}

// PlanCut pads the flagged span with clean-frame buffers, clamps it to the
// video, and trims symmetrically around the temporal midpoint when the
// padded window exceeds the provider's maximum clip length. Symmetric
// trimming keeps the flagged core of the span covered; trimming from one
// end only would leave the other end's content in the final cut.
func PlanCut(seg aggregate.Segment, videoDurationMs int64, cfg config.ReplacementConfig) Plan {
	bufferMs := int64(cfg.BufferS * 1000)
	maxMs := int64(cfg.MaxClipDurationS * 1000)

	start := seg.StartMs - bufferMs
	end := seg.EndMs + bufferMs
	if start < 0 {
		start = 0
	}
	if end > videoDurationMs {
		end = videoDurationMs
	}
	paddedLen := end - start

	var trimmed int64
	if maxMs > 0 && paddedLen > maxMs {
		mid := (start + end) / 2
		start = mid - maxMs/2
		end = mid + maxMs/2
		if start < 0 {
			end -= start
			start = 0
		}
		if end > videoDurationMs {
			start -= end - videoDurationMs
			end = videoDurationMs
			if start < 0 {
				start = 0
			}
		}
		trimmed = paddedLen - (end - start)
	}

	plan := Plan{
		CutStartMs: start,
		CutEndMs:   end,
		TrimmedMs:  trimmed,
	}
	plan.Duration, plan.TargetDurationMs = quantizeDuration(end - start)
	return plan
}

// quantizeDuration maps a cut length onto the provider's discrete clip
// lengths.
func quantizeDuration(cutMs int64) (string, int64) {
	switch {
	case cutMs <= 5000:
		return "4s", 4000
	case cutMs <= 7000:
		return "6s", 6000
	default:
		return "8s", 8000
	}
}

// Package aggregate fuses the three evidence sources for each video scene
// into flagged segments. Each source contributes a score in [0, 1]; the
// weighted combination decides whether a scene is flagged for replacement,
// reported as low confidence, or passed through.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/purecut/purecut/internal/advisory"
	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/content"
	"github.com/purecut/purecut/internal/scenedetect"
	"github.com/purecut/purecut/internal/vision"
)

// Source names used in per-source score maps.
const (
	SourceScript   = "script"
	SourceVision   = "vision"
	SourceAdvisory = "advisory"
)

// ScriptEvidence is the text signal for one video scene: the categories
// matched in overlapping script scenes and the alignment confidence behind
// that placement.
type ScriptEvidence struct {
	Categories []content.Category `json:"categories"`
	Confidence float64            `json:"confidence"`
	Excerpt    string             `json:"excerpt,omitempty"`
}

// SceneEvidence gathers everything known about one video scene. Nil fields
// mean the source produced nothing for this scene.
type SceneEvidence struct {
	Scene    scenedetect.Scene
	Script   *ScriptEvidence
	Vision   *vision.Analysis
	Advisory *advisory.Report
}

// Segment is the fused verdict for a span of the timeline.
type Segment struct {
	ID            string                               `json:"id"`
	StartMs       int64                                `json:"start_ms"`
	EndMs         int64                                `json:"end_ms"`
	Flagged       bool                                 `json:"flagged"`
	LowConfidence bool                                 `json:"low_confidence"`
	Confidence    float64                              `json:"confidence"`
	Findings      map[content.Category]content.Finding `json:"findings"`
	PerSource     map[string]float64                   `json:"per_source"`
	Sources       []string                             `json:"sources"`
}

// MaxSeverity returns the strongest severity among the segment's findings.
func (s *Segment) MaxSeverity() content.Severity {
	max := content.SeverityNone
	for _, f := range s.Findings {
		max = content.MaxSeverity(max, f.Severity)
	}
	return max
}

// Aggregator combines evidence under configured weights.
type Aggregator struct {
	cfg    config.AggregationConfig
	logger hclog.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg config.AggregationConfig, logger hclog.Logger) *Aggregator {
	return &Aggregator{cfg: cfg, logger: logger}
}

// Evaluate fuses one scene's evidence into a segment. The confidence is the
// weighted sum of the source scores under the configured weights; a source
// that produced nothing contributes zero, so single-source evidence never
// scores higher than the same evidence corroborated.
func (a *Aggregator) Evaluate(ev SceneEvidence) Segment {
	seg := Segment{
		ID:        fmt.Sprintf("seg-%04d", ev.Scene.Index),
		StartMs:   int64(ev.Scene.StartS * 1000),
		EndMs:     int64(ev.Scene.EndS * 1000),
		Findings:  make(map[content.Category]content.Finding),
		PerSource: make(map[string]float64),
	}

	var weighted float64

	if ev.Script != nil {
		score := a.scriptScore(ev.Script, &seg)
		seg.PerSource[SourceScript] = score
		seg.Sources = append(seg.Sources, SourceScript)
		weighted += a.cfg.ScriptWeight * score
	}
	if ev.Vision != nil && ev.Vision.Verified {
		score := a.visionScore(ev.Vision, &seg)
		seg.PerSource[SourceVision] = score
		seg.Sources = append(seg.Sources, SourceVision)
		weighted += a.cfg.VisionWeight * score
	}
	if ev.Advisory != nil {
		score := a.advisoryScore(ev.Advisory, &seg)
		seg.PerSource[SourceAdvisory] = score
		seg.Sources = append(seg.Sources, SourceAdvisory)
		weighted += a.cfg.AdvisoryWeight * score
	}

	seg.Confidence = clamp01(weighted)

	hasFindings := len(seg.Findings) > 0
	qualifies := seg.MaxSeverity().AtLeast(content.Severity(a.cfg.IntensityThreshold))
	switch {
	case hasFindings && qualifies && seg.Confidence >= a.cfg.FlagThreshold:
		seg.Flagged = true
	case hasFindings && seg.Confidence < a.cfg.ConfidenceFloor:
		seg.LowConfidence = true
	}

	return seg
}

// scriptScore records keyword-derived findings and scores them by the
// alignment confidence behind the scene's placement. A scripted act has no
// graded intensity, so script findings carry a flat moderate severity.
func (a *Aggregator) scriptScore(ev *ScriptEvidence, seg *Segment) float64 {
	if len(ev.Categories) == 0 {
		return 0
	}
	for _, cat := range ev.Categories {
		a.addFinding(seg, content.Finding{
			Category:    cat,
			Severity:    content.SeverityModerate,
			Description: "described in script",
		})
	}
	return clamp01(ev.Confidence)
}

// visionScore records the model's findings and scores them by its stated
// confidence. A verified clean scene scores zero but is still listed as a
// contributing source, so the report shows the scene was checked.
func (a *Aggregator) visionScore(analysis *vision.Analysis, seg *Segment) float64 {
	if len(analysis.Findings) == 0 {
		return 0
	}
	for _, f := range analysis.Findings {
		a.addFinding(seg, f)
	}
	return clamp01(analysis.Confidence)
}

// advisoryScore corroborates categories another source already placed in
// this scene. Advisory markers carry no timestamps, so on their own they
// cannot flag anything; they only reinforce localized evidence.
func (a *Aggregator) advisoryScore(report *advisory.Report, seg *Segment) float64 {
	best := 0.0
	for cat := range seg.Findings {
		sev := report.MaxSeverityFor(cat)
		if sev == content.SeverityNone {
			continue
		}
		score := float64(sev.Rank()) / float64(content.SeveritySevere.Rank())
		if score > best {
			best = score
		}
	}
	return best
}

func (a *Aggregator) addFinding(seg *Segment, f content.Finding) {
	existing, ok := seg.Findings[f.Category]
	if !ok || f.Severity.Rank() > existing.Severity.Rank() {
		seg.Findings[f.Category] = f
	}
}

// MergeAdjacent folds consecutive flagged segments separated by at most the
// configured gap into one, so a continuous stretch of content is replaced
// with a single clip instead of several abutting ones.
func (a *Aggregator) MergeAdjacent(segments []Segment) []Segment {
	if len(segments) <= 1 {
		return segments
	}

	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMs < sorted[j].StartMs })

	gapMs := int64(a.cfg.MergeGapS * 1000)
	out := make([]Segment, 0, len(sorted))
	for _, seg := range sorted {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.Flagged && seg.Flagged && seg.StartMs-last.EndMs <= gapMs {
				mergeInto(last, seg)
				continue
			}
		}
		out = append(out, seg)
	}

	if len(out) < len(sorted) {
		a.logger.Debug("merged adjacent flagged segments", "before", len(sorted), "after", len(out))
	}
	return out
}

func mergeInto(dst *Segment, src Segment) {
	if src.EndMs > dst.EndMs {
		dst.EndMs = src.EndMs
	}
	for cat, f := range src.Findings {
		existing, ok := dst.Findings[cat]
		if !ok || f.Severity.Rank() > existing.Severity.Rank() {
			dst.Findings[cat] = f
		}
	}
	if src.Confidence > dst.Confidence {
		dst.Confidence = src.Confidence
	}
	for src2, score := range src.PerSource {
		if score > dst.PerSource[src2] {
			dst.PerSource[src2] = score
		}
	}
	for _, s := range src.Sources {
		found := false
		for _, existing := range dst.Sources {
			if existing == s {
				found = true
				break
			}
		}
		if !found {
			dst.Sources = append(dst.Sources, s)
		}
	}
}

// UnverifiedAdvisoryCategories returns advisory categories at or above the
// intensity threshold that no flagged segment confirmed. In strict mode the
// orchestrator fails the job when this list is non-empty.
func (a *Aggregator) UnverifiedAdvisoryCategories(report *advisory.Report, segments []Segment) []content.Category {
	if report == nil {
		return nil
	}

	confirmed := make(map[content.Category]bool)
	for _, seg := range segments {
		if !seg.Flagged {
			continue
		}
		for cat := range seg.Findings {
			confirmed[cat] = true
		}
	}

	var unverified []content.Category
	for _, cat := range content.AllCategories {
		sev := report.MaxSeverityFor(cat)
		if sev.AtLeast(content.Severity(a.cfg.IntensityThreshold)) && !confirmed[cat] {
			unverified = append(unverified, cat)
		}
	}
	return unverified
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

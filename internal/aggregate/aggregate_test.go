package aggregate

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purecut/purecut/internal/advisory"
	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/content"
	"github.com/purecut/purecut/internal/scenedetect"
	"github.com/purecut/purecut/internal/vision"
)

func testAggConfig() config.AggregationConfig {
	return config.AggregationConfig{
		ScriptWeight:       0.3,
		VisionWeight:       0.5,
		AdvisoryWeight:     0.2,
		ConfidenceFloor:    0.35,
		FlagThreshold:      0.4,
		IntensityThreshold: "moderate",
		MergeGapS:          2.0,
	}
}

func testScene(index int, startS, endS float64) scenedetect.Scene {
	return scenedetect.Scene{Index: index, StartS: startS, EndS: endS}
}

func kissAdvisory() *advisory.Report {
	return &advisory.Report{
		Title: "Test Movie",
		Categories: map[content.Category]content.Severity{
			content.CategoryKissing: content.SeverityModerate,
		},
	}
}

func TestEvaluateScriptAndVisionAgree(t *testing.T) {
	agg := NewAggregator(testAggConfig(), hclog.NewNullLogger())

	seg := agg.Evaluate(SceneEvidence{
		Scene: testScene(3, 100, 110),
		Script: &ScriptEvidence{
			Categories: []content.Category{content.CategoryKissing},
			Confidence: 0.9,
		},
		Vision: &vision.Analysis{
			Verified:   true,
			Confidence: 0.9,
			Findings: []content.Finding{
				{Category: content.CategoryKissing, Severity: content.SeverityModerate, Description: "couple kissing"},
			},
		},
		Advisory: kissAdvisory(),
	})

	assert.True(t, seg.Flagged)
	assert.False(t, seg.LowConfidence)
	assert.Equal(t, int64(100000), seg.StartMs)
	assert.Equal(t, int64(110000), seg.EndMs)
	assert.ElementsMatch(t, []string{SourceScript, SourceVision, SourceAdvisory}, seg.Sources)
	// 0.3*0.9 + 0.5*0.9 + 0.2*0.75
	assert.InDelta(t, 0.87, seg.Confidence, 0.001)
	assert.Equal(t, content.SeverityModerate, seg.MaxSeverity())
}

func TestEvaluateVisionOnlySevere(t *testing.T) {
	agg := NewAggregator(testAggConfig(), hclog.NewNullLogger())

	seg := agg.Evaluate(SceneEvidence{
		Scene: testScene(0, 0, 10),
		Vision: &vision.Analysis{
			Verified:   true,
			Confidence: 0.95,
			Findings: []content.Finding{
				{Category: content.CategoryNudity, Severity: content.SeveritySevere},
			},
		},
	})

	// absent sources contribute zero, so one source caps out at its weight
	assert.True(t, seg.Flagged)
	assert.InDelta(t, 0.475, seg.Confidence, 0.001)
}

func TestEvaluateCleanScene(t *testing.T) {
	agg := NewAggregator(testAggConfig(), hclog.NewNullLogger())

	seg := agg.Evaluate(SceneEvidence{
		Scene:  testScene(0, 0, 10),
		Vision: &vision.Analysis{Verified: true, Confidence: 0.9},
	})

	assert.False(t, seg.Flagged)
	assert.False(t, seg.LowConfidence)
	assert.Empty(t, seg.Findings)
	assert.Equal(t, 0.0, seg.Confidence)
}

func TestEvaluateScriptClaimVisionClean(t *testing.T) {
	agg := NewAggregator(testAggConfig(), hclog.NewNullLogger())

	// script says kissing, vision verified the scene and saw nothing
	seg := agg.Evaluate(SceneEvidence{
		Scene: testScene(0, 0, 10),
		Script: &ScriptEvidence{
			Categories: []content.Category{content.CategoryKissing},
			Confidence: 0.9,
		},
		Vision: &vision.Analysis{Verified: true, Confidence: 0.9},
	})

	assert.False(t, seg.Flagged)
	// 0.3*0.9 = 0.27 sits under the confidence floor: surfaced for review,
	// never cut automatically
	assert.True(t, seg.LowConfidence)
	assert.InDelta(t, 0.27, seg.Confidence, 0.001)
}

func TestEvaluateLowSeverityNotFlagged(t *testing.T) {
	agg := NewAggregator(testAggConfig(), hclog.NewNullLogger())

	seg := agg.Evaluate(SceneEvidence{
		Scene: testScene(0, 0, 10),
		Vision: &vision.Analysis{
			Verified:   true,
			Confidence: 0.9,
			Findings: []content.Finding{
				{Category: content.CategoryKissing, Severity: content.SeverityMild},
			},
		},
	})

	// confidently observed but below the intensity threshold: passes
	// through without the low-confidence marker
	assert.False(t, seg.Flagged)
	assert.False(t, seg.LowConfidence)
	assert.InDelta(t, 0.45, seg.Confidence, 0.001)
}

func TestUnverifiedVisionDoesNotCount(t *testing.T) {
	agg := NewAggregator(testAggConfig(), hclog.NewNullLogger())

	seg := agg.Evaluate(SceneEvidence{
		Scene:  testScene(0, 0, 10),
		Vision: &vision.Analysis{Verified: false},
	})

	assert.Empty(t, seg.Sources)
	assert.Equal(t, 0.0, seg.Confidence)
}

func TestAdvisoryAloneCannotFlag(t *testing.T) {
	agg := NewAggregator(testAggConfig(), hclog.NewNullLogger())

	seg := agg.Evaluate(SceneEvidence{
		Scene:    testScene(0, 0, 10),
		Advisory: kissAdvisory(),
	})

	assert.False(t, seg.Flagged)
	assert.Empty(t, seg.Findings)
}

func TestMergeAdjacent(t *testing.T) {
	agg := NewAggregator(testAggConfig(), hclog.NewNullLogger())

	segments := []Segment{
		{
			ID: "seg-0000", StartMs: 10000, EndMs: 15000, Flagged: true, Confidence: 0.8,
			Findings: map[content.Category]content.Finding{
				content.CategoryKissing: {Category: content.CategoryKissing, Severity: content.SeverityModerate},
			},
			PerSource: map[string]float64{SourceVision: 0.8},
			Sources:   []string{SourceVision},
		},
		{
			ID: "seg-0001", StartMs: 16000, EndMs: 20000, Flagged: true, Confidence: 0.9,
			Findings: map[content.Category]content.Finding{
				content.CategoryNudity: {Category: content.CategoryNudity, Severity: content.SeveritySevere},
			},
			PerSource: map[string]float64{SourceVision: 0.9, SourceScript: 0.7},
			Sources:   []string{SourceVision, SourceScript},
		},
		{
			ID: "seg-0002", StartMs: 40000, EndMs: 45000, Flagged: true, Confidence: 0.5,
			Findings:  map[content.Category]content.Finding{},
			PerSource: map[string]float64{},
		},
	}

	merged := agg.MergeAdjacent(segments)
	require.Len(t, merged, 2)

	first := merged[0]
	assert.Equal(t, int64(10000), first.StartMs)
	assert.Equal(t, int64(20000), first.EndMs)
	assert.Equal(t, 0.9, first.Confidence)
	assert.Len(t, first.Findings, 2)
	assert.Equal(t, content.SeveritySevere, first.MaxSeverity())
	assert.ElementsMatch(t, []string{SourceVision, SourceScript}, first.Sources)

	// the distant segment stays separate
	assert.Equal(t, int64(40000), merged[1].StartMs)
}

func TestMergeAdjacentSkipsUnflaggedNeighbors(t *testing.T) {
	agg := NewAggregator(testAggConfig(), hclog.NewNullLogger())

	segments := []Segment{
		{ID: "a", StartMs: 0, EndMs: 5000, Flagged: true, Findings: map[content.Category]content.Finding{}},
		{ID: "b", StartMs: 5500, EndMs: 9000, Flagged: false, Findings: map[content.Category]content.Finding{}},
		{ID: "c", StartMs: 9500, EndMs: 12000, Flagged: true, Findings: map[content.Category]content.Finding{}},
	}

	merged := agg.MergeAdjacent(segments)
	assert.Len(t, merged, 3)
}

func TestUnverifiedAdvisoryCategories(t *testing.T) {
	agg := NewAggregator(testAggConfig(), hclog.NewNullLogger())

	report := &advisory.Report{
		Categories: map[content.Category]content.Severity{
			content.CategoryKissing:  content.SeverityModerate,
			content.CategoryViolence: content.SeveritySevere,
			content.CategoryProfanity: content.SeverityMild, // below threshold, ignored
		},
	}
	segments := []Segment{
		{
			Flagged: true,
			Findings: map[content.Category]content.Finding{
				content.CategoryKissing: {Category: content.CategoryKissing, Severity: content.SeverityModerate},
			},
		},
	}

	unverified := agg.UnverifiedAdvisoryCategories(report, segments)
	assert.Equal(t, []content.Category{content.CategoryViolence}, unverified)

	assert.Nil(t, agg.UnverifiedAdvisoryCategories(nil, segments))
}

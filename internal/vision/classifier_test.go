package vision

import (
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/content"
)

func TestParseAnalysis(t *testing.T) {
	raw := `{
		"findings": [
			{"category": "kissing", "severity": "moderate", "description": "A couple kisses"},
			{"category": "immodest_clothing", "severity": "mild", "description": "Revealing outfit"}
		],
		"confidence": 0.85,
		"summary": "Romantic scene in a bedroom"
	}`

	analysis, err := parseAnalysis(raw)
	require.NoError(t, err)
	assert.True(t, analysis.Verified)
	assert.Equal(t, 0.85, analysis.Confidence)
	require.Len(t, analysis.Findings, 2)
	assert.Equal(t, content.CategoryKissing, analysis.Findings[0].Category)
	assert.Equal(t, content.SeverityModerate, analysis.Findings[0].Severity)
}

func TestParseAnalysisWithFences(t *testing.T) {
	raw := "```json\n{\"findings\":[],\"confidence\":0.9,\"summary\":\"nothing notable\"}\n```"
	analysis, err := parseAnalysis(raw)
	require.NoError(t, err)
	assert.Empty(t, analysis.Findings)
	assert.Equal(t, 0.9, analysis.Confidence)
}

func TestParseAnalysisDropsInvalidFindings(t *testing.T) {
	raw := `{
		"findings": [
			{"category": "made_up_category", "severity": "severe", "description": "x"},
			{"category": "violence", "severity": "none", "description": "y"},
			{"category": "violence", "severity": "mild", "description": "a scuffle"}
		],
		"confidence": 1.7,
		"summary": ""
	}`

	analysis, err := parseAnalysis(raw)
	require.NoError(t, err)
	require.Len(t, analysis.Findings, 1)
	assert.Equal(t, content.CategoryViolence, analysis.Findings[0].Category)
	// confidence is clamped into [0, 1]
	assert.Equal(t, 1.0, analysis.Confidence)
}

func TestParseAnalysisRejectsGarbage(t *testing.T) {
	_, err := parseAnalysis("the model rambled instead of emitting JSON")
	require.Error(t, err)
}

func TestUserPromptIncludesHint(t *testing.T) {
	p := userPrompt("Script says: they kiss passionately")
	assert.Contains(t, p, "they kiss passionately")
	assert.Contains(t, p, "verify against the frames")

	p = userPrompt("")
	assert.False(t, strings.Contains(p, "Context for this scene"))
}

func TestUsageAccumulates(t *testing.T) {
	c := NewClassifier(config.VisionConfig{
		PriceInPerMTok:  2.50,
		PriceOutPerMTok: 10.0,
	}, hclog.NewNullLogger())

	assert.Equal(t, Usage{}, c.Usage())

	c.addUsage(1_000_000, 200_000)
	c.addUsage(500_000, 100_000)

	u := c.Usage()
	assert.Equal(t, int64(1_500_000), u.TokensIn)
	assert.Equal(t, int64(300_000), u.TokensOut)
	// 1.5M in at $2.50/M plus 0.3M out at $10/M
	assert.InDelta(t, 6.75, u.CostUSD, 0.0001)
}

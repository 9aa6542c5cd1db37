package vision

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/purecut/purecut/internal/content"
)

const systemPrompt = `You are a film content reviewer for a family-friendly ` +
	`viewing service. You receive frames sampled from one scene of a film and ` +
	`report what is visible in them, conservatively and literally. Only report ` +
	`what the frames actually show. Respond with JSON only.

Categories: sexual_content, nudity, kissing, immodest_clothing, violence, ` +
	`gore, profanity, substance_use.
Severity scale: none, questionable, mild, moderate, severe.`

func userPrompt(hint string) string {
	var b strings.Builder
	b.WriteString("Review these frames and return JSON of the form:\n")
	b.WriteString(`{"findings":[{"category":"...","severity":"...","description":"..."}],` +
		`"confidence":0.0,"summary":"..."}` + "\n")
	b.WriteString("Report a finding only for content visible in the frames. ")
	b.WriteString("Set confidence to how certain you are of the overall verdict, 0 to 1.\n")
	if hint != "" {
		b.WriteString("Context for this scene (may be inaccurate, verify against the frames): ")
		b.WriteString(hint)
		b.WriteString("\n")
	}
	return b.String()
}

func verdictSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"findings", "confidence", "summary"},
		"properties": map[string]any{
			"findings": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"category", "severity", "description"},
					"properties": map[string]any{
						"category":    map[string]any{"type": "string"},
						"severity":    map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
					},
				},
			},
			"confidence": map[string]any{"type": "number"},
			"summary":    map[string]any{"type": "string"},
		},
	}
}

// parseAnalysis extracts a verdict from model output, tolerating markdown
// code fences around the JSON.
func parseAnalysis(raw string) (*Analysis, error) {
	cleaned := stripFences(raw)
	if !gjson.Valid(cleaned) {
		return nil, fmt.Errorf("model output is not valid JSON")
	}

	parsed := gjson.Parse(cleaned)
	analysis := &Analysis{
		Verified: true,
		Summary:  parsed.Get("summary").String(),
	}

	conf := parsed.Get("confidence").Float()
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	analysis.Confidence = conf

	parsed.Get("findings").ForEach(func(_, f gjson.Result) bool {
		cat := content.Category(strings.ToLower(strings.TrimSpace(f.Get("category").String())))
		sev := content.ParseSeverity(f.Get("severity").String())
		if sev == content.SeverityNone {
			return true
		}
		valid := false
		for _, known := range content.AllCategories {
			if cat == known {
				valid = true
				break
			}
		}
		if !valid {
			return true
		}
		analysis.Findings = append(analysis.Findings, content.Finding{
			Category:    cat,
			Severity:    sev,
			Description: f.Get("description").String(),
		})
		return true
	})

	return analysis, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

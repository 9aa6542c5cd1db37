// Package replace generates substitute clips for flagged segments: it plans
// the cut window, extracts clean boundary frames, and drives the generative
// video provider that interpolates replacement footage between them.
package replace

import (
	"sort"
	"strings"

	"github.com/purecut/purecut/internal/aggregate"
	"github.com/purecut/purecut/internal/content"
)

// negativePrompt excludes the content classes being removed from ever
// appearing in generated footage.
const negativePrompt = "nudity, partial nudity, revealing clothing, kissing, " +
	"sexual content, suggestive poses, violence, blood, gore, weapons, " +
	"drugs, smoking, alcohol, text, watermark, distorted faces, extra limbs"

// categoryInstructions describe, per category, what the generated clip
// should show instead of the flagged content.
var categoryInstructions = map[content.Category]string{
	content.CategoryImmodesty: "The people are dressed in modest, fully-covering casual " +
		"clothing appropriate for a family film. They continue the scene naturally.",
	content.CategoryNudity: "The people are fully clothed in modest everyday attire. " +
		"They talk calmly, keeping a respectful distance from each other.",
	content.CategorySexualContent: "The people are fully clothed and stand apart, having " +
		"a warm but platonic conversation.",
	content.CategoryKissing: "Instead of any physical intimacy, the two people share a " +
		"friendly fist bump and smile at each other.",
	content.CategoryViolence: "The people stand calmly and resolve their disagreement " +
		"with words. No one touches anyone else.",
	content.CategoryGore: "The scene shows the location calmly with no injuries " +
		"visible. Everyone present is unharmed.",
	content.CategorySubstanceUse: "The people hold glasses of water and chat casually. " +
		"No drugs, alcohol, or smoking anywhere in frame.",
}

const genericInstruction = "The scene continues naturally in a calm, family-friendly " +
	"manner with everyone fully and modestly dressed."

// settingKeywords map description words to scene-setting hints carried into
// the prompt so the generated clip matches its surroundings.
var settingKeywords = []struct {
	word string
	hint string
}{
	{"bedroom", "The setting is a bedroom."},
	{"beach", "The setting is a beach."},
	{"pool", "The setting is beside a swimming pool."},
	{"kitchen", "The setting is a kitchen."},
	{"office", "The setting is an office."},
	{"car", "The setting is inside a car."},
	{"bar", "The setting is a bar or restaurant."},
	{"street", "The setting is a city street."},
	{"night", "It is nighttime."},
	{"rain", "It is raining."},
}

// BuildPrompt composes the generation prompt for a flagged segment. The
// dominant finding picks the instruction; remaining findings and their
// descriptions contribute setting hints.
func BuildPrompt(seg aggregate.Segment) string {
	dominant := dominantFinding(seg)

	instruction, ok := categoryInstructions[dominant.Category]
	if !ok {
		instruction = genericInstruction
	}

	var b strings.Builder
	b.WriteString("A continuous shot from a live-action film, matching the style, ")
	b.WriteString("lighting, and framing of the provided first and last frames. ")
	b.WriteString(instruction)

	for _, hint := range settingHints(seg) {
		b.WriteString(" ")
		b.WriteString(hint)
	}
	b.WriteString(" Natural motion, cinematic quality, no text or captions.")
	return b.String()
}

// NegativePrompt returns the exclusion prompt sent with every generation.
func NegativePrompt() string {
	return negativePrompt
}

// dominantFinding picks the segment's most severe finding, breaking ties by
// category order so prompt construction is deterministic.
func dominantFinding(seg aggregate.Segment) content.Finding {
	best := content.Finding{Severity: content.SeverityNone}
	for _, cat := range content.AllCategories {
		f, ok := seg.Findings[cat]
		if !ok {
			continue
		}
		if f.Severity.Rank() > best.Severity.Rank() {
			best = f
		}
	}
	return best
}

func settingHints(seg aggregate.Segment) []string {
	var descriptions []string
	for _, cat := range content.AllCategories {
		if f, ok := seg.Findings[cat]; ok && f.Description != "" {
			descriptions = append(descriptions, f.Description)
		}
	}
	text := strings.ToLower(strings.Join(descriptions, " "))

	var hints []string
	for _, sk := range settingKeywords {
		if strings.Contains(text, sk.word) {
			hints = append(hints, sk.hint)
		}
	}
	sort.Strings(hints)
	return hints
}

// Package content defines the shared vocabulary of the analysis pipeline:
// the categories of objectionable material, the severity scale, and the
// keyword tables used by text-based detection.
package content

import "strings"

// Category identifies a class of objectionable material.
type Category string

const (
	CategorySexualContent Category = "sexual_content"
	CategoryNudity        Category = "nudity"
	CategoryKissing       Category = "kissing"
	CategoryImmodesty     Category = "immodest_clothing"
	CategoryViolence      Category = "violence"
	CategoryGore          Category = "gore"
	CategoryProfanity     Category = "profanity"
	CategorySubstanceUse  Category = "substance_use"
)

// AllCategories lists every category in a stable order.
var AllCategories = []Category{
	CategorySexualContent,
	CategoryNudity,
	CategoryKissing,
	CategoryImmodesty,
	CategoryViolence,
	CategoryGore,
	CategoryProfanity,
	CategorySubstanceUse,
}

// Severity is an ordered intensity scale. Comparisons go through Rank so the
// ordering lives in exactly one place.
type Severity string

const (
	SeverityNone         Severity = "none"
	SeverityQuestionable Severity = "questionable"
	SeverityMild         Severity = "mild"
	SeverityModerate     Severity = "moderate"
	SeveritySevere       Severity = "severe"
)

var severityRanks = map[Severity]int{
	SeverityNone:         0,
	SeverityQuestionable: 1,
	SeverityMild:         2,
	SeverityModerate:     3,
	SeveritySevere:       4,
}

// Rank returns the numeric position of s on the scale. Unknown values rank
// as none.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// AtLeast reports whether s is as intense as other or more so.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// MaxSeverity returns the more intense of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseSeverity normalizes a free-form severity string. Unrecognized input
// maps to none.
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severityRanks[sev]; ok {
		return sev
	}
	return SeverityNone
}

// Finding is one detected issue within a span of media.
type Finding struct {
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description,omitempty"`
}

// keyword tables for script and advisory text matching. Matching is done on
// lowercased text at word boundaries; multi-word phrases must appear
// verbatim.
var categoryKeywords = map[Category][]string{
	CategorySexualContent: {
		"sex", "sexual", "seduce", "seduces", "seduction", "make love",
		"makes love", "making love", "intimate", "intimacy", "undress",
		"undresses", "undressing", "strips", "aroused", "erotic",
		"moan", "moans",
	},
	CategoryNudity: {
		"naked", "nude", "nudity", "topless", "bare", "exposed",
	},
	CategoryKissing: {
		"kiss", "kisses", "kissing", "passionate embrace", "make out",
		"makes out", "making out",
	},
	CategoryImmodesty: {
		"lingerie", "underwear", "bikini", "revealing", "low-cut",
		"cleavage", "shirtless", "bathrobe slips", "short skirt",
	},
	CategoryViolence: {
		"fight", "fights", "punches", "stabs", "shoots", "gun", "blood",
		"kills", "attacks", "beats", "strangles",
	},
	CategoryGore: {
		"gore", "gory", "dismember", "dismembers", "dismembered",
		"dismemberment", "entrails", "mutilate", "mutilates", "mutilated",
		"mutilation", "decapitate", "decapitates", "decapitated",
		"decapitation",
	},
	CategoryProfanity: {
		"fuck", "fucking", "shit", "bitch", "asshole", "bastard",
		"goddamn", "damn", "crap", "piss", "whore", "slut",
	},
	CategorySubstanceUse: {
		"drunk", "drinking", "whiskey", "cocaine", "heroin", "snorts",
		"injects", "smokes a joint", "shoots up",
	},
}

// MatchCategories scans text for category keywords and returns the matched
// categories in stable order.
func MatchCategories(text string) []Category {
	lower := strings.ToLower(text)
	var found []Category
	for _, cat := range AllCategories {
		for _, kw := range categoryKeywords[cat] {
			if containsWord(lower, kw) {
				found = append(found, cat)
				break
			}
		}
	}
	return found
}

// HasProfanity reports whether the text contains a profanity keyword. Used
// by the audio muting pass, which needs only the yes/no answer per cue.
func HasProfanity(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range categoryKeywords[CategoryProfanity] {
		if containsWord(lower, kw) {
			return true
		}
	}
	return false
}

// containsWord reports whether kw occurs in lower bounded by non-word
// characters, so "bare" does not fire on "barely".
func containsWord(lower, kw string) bool {
	for from := 0; ; {
		i := strings.Index(lower[from:], kw)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(kw)
		if (start == 0 || !isWordByte(lower[start-1])) &&
			(end == len(lower) || !isWordByte(lower[end])) {
			return true
		}
		from = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeveritySevere.AtLeast(SeverityModerate))
	assert.True(t, SeverityModerate.AtLeast(SeverityModerate))
	assert.False(t, SeverityMild.AtLeast(SeverityModerate))
	assert.Equal(t, 0, SeverityNone.Rank())
	assert.Equal(t, 4, SeveritySevere.Rank())
}

func TestMaxSeverity(t *testing.T) {
	assert.Equal(t, SeveritySevere, MaxSeverity(SeverityMild, SeveritySevere))
	assert.Equal(t, SeverityModerate, MaxSeverity(SeverityModerate, SeverityQuestionable))
	assert.Equal(t, SeverityNone, MaxSeverity(SeverityNone, SeverityNone))
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input string
		want  Severity
	}{
		{"severe", SeveritySevere},
		{" Moderate ", SeverityModerate},
		{"MILD", SeverityMild},
		{"bogus", SeverityNone},
		{"", SeverityNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseSeverity(tt.input), "input %q", tt.input)
	}
}

func TestMatchCategories(t *testing.T) {
	cats := MatchCategories("They kiss passionately as she undresses")
	assert.Contains(t, cats, CategoryKissing)
	assert.Contains(t, cats, CategorySexualContent)

	cats = MatchCategories("He walks into the room and sits down")
	assert.Empty(t, cats)

	// categories come back in a stable order regardless of match order
	cats = MatchCategories("a kiss before the fight")
	assert.Equal(t, []Category{CategoryKissing, CategoryViolence}, cats)
}

func TestMatchCategoriesWordBoundaries(t *testing.T) {
	assert.Contains(t, MatchCategories("her bare shoulders"), CategoryNudity)
	assert.Empty(t, MatchCategories("barely visible in the fog"))
	assert.Empty(t, MatchCategories("the gunwale of the boat"))

	// explicit inflections still match as whole words
	assert.Contains(t, MatchCategories("the body was mutilated"), CategoryGore)
}

func TestHasProfanity(t *testing.T) {
	assert.True(t, HasProfanity("Damn it, we're too late!"))
	assert.True(t, HasProfanity("what the hell is this crap"))
	assert.False(t, HasProfanity("the dam broke upstream"))
	assert.False(t, HasProfanity("We need to talk."))

	assert.Contains(t, MatchCategories("damn you"), CategoryProfanity)
}

// Package screenplay parses plain-text scripts in standard screenplay
// format into scenes made of typed elements: headings, action, character
// cues, dialogue, parentheticals, and transitions.
package screenplay

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/purecut/purecut/internal/errs"
)

// ElementType classifies a script line.
type ElementType string

const (
	ElementAction        ElementType = "action"
	ElementDialogue      ElementType = "dialogue"
	ElementParenthetical ElementType = "parenthetical"
	ElementTransition    ElementType = "transition"
)

// Element is one typed line (or run of lines) within a scene.
type Element struct {
	Type      ElementType `json:"type"`
	Text      string      `json:"text"`
	Character string      `json:"character,omitempty"`
}

// Scene is one slugline-delimited script scene.
type Scene struct {
	Index     int       `json:"index"`
	Heading   string    `json:"heading"`
	Location  string    `json:"location"`
	TimeOfDay string    `json:"time_of_day"`
	Interior  bool      `json:"interior"`
	Elements  []Element `json:"elements"`
}

// DialogueText returns the scene's spoken lines joined with spaces.
func (s *Scene) DialogueText() string {
	var parts []string
	for _, el := range s.Elements {
		if el.Type == ElementDialogue {
			parts = append(parts, el.Text)
		}
	}
	return strings.Join(parts, " ")
}

// ActionText returns the scene's action description joined with spaces.
func (s *Scene) ActionText() string {
	var parts []string
	for _, el := range s.Elements {
		if el.Type == ElementAction {
			parts = append(parts, el.Text)
		}
	}
	return strings.Join(parts, " ")
}

// FullText returns all scene text, dialogue and action alike.
func (s *Scene) FullText() string {
	var parts []string
	for _, el := range s.Elements {
		if el.Type == ElementDialogue || el.Type == ElementAction {
			parts = append(parts, el.Text)
		}
	}
	return strings.Join(parts, " ")
}

var (
	headingRe    = regexp.MustCompile(`(?i)^\s*(INT\.?/EXT\.?|EXT\.?/INT\.?|I/E\.?|INT\.?|EXT\.?)\s+(.+)$`)
	characterRe  = regexp.MustCompile(`^\s*([A-Z][A-Z0-9 .'\-]*[A-Z0-9.'])(\s*\((?:V\.O\.|O\.S\.|O\.C\.|CONT'D)\.?\))?\s*$`)
	transitionRe = regexp.MustCompile(`^\s*(?:[A-Z ]+TO:|FADE (?:IN|OUT)[:.]?|DISSOLVE[:.]?)\s*$`)
	pageHeaderRe = regexp.MustCompile(`^\s*(?:\d+\.?|Page \d+|[A-Z0-9 ]+ - \d+/\d+/\d+.*)\s*$`)
	cueSuffixRe  = regexp.MustCompile(`\s*\((?:V\.O\.|O\.S\.|O\.C\.|CONT'D)\.?\)\s*$`)
)

// ParseFile reads and parses a screenplay text file. An unreadable file is
// an input error; a file with no sluglines parses to a single scene holding
// everything as action.
func ParseFile(path string, logger hclog.Logger) ([]Scene, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.NewInputError(path, fmt.Errorf("script file not accessible: %w", err))
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.NewInputError(path, fmt.Errorf("failed to read script file: %w", err))
	}

	scenes := Parse(lines)
	logger.Debug("parsed screenplay", "path", path, "scenes", len(scenes))
	return scenes, nil
}

// Parse converts script lines into scenes.
func Parse(lines []string) []Scene {
	var scenes []Scene
	current := &Scene{Index: 0, Heading: ""}
	inDialogue := false
	currentCharacter := ""

	flush := func() {
		if current.Heading != "" || len(current.Elements) > 0 {
			current.Index = len(scenes)
			scenes = append(scenes, *current)
		}
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)

		if line == "" {
			inDialogue = false
			currentCharacter = ""
			continue
		}
		if pageHeaderRe.MatchString(line) && !headingRe.MatchString(line) {
			continue
		}

		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			current = &Scene{Heading: line}
			current.Interior = strings.HasPrefix(strings.ToUpper(m[1]), "INT") ||
				strings.Contains(strings.ToUpper(m[1]), "/")
			current.Location, current.TimeOfDay = splitHeading(m[2])
			inDialogue = false
			currentCharacter = ""
			continue
		}

		if transitionRe.MatchString(line) {
			current.Elements = append(current.Elements, Element{Type: ElementTransition, Text: line})
			inDialogue = false
			currentCharacter = ""
			continue
		}

		if inDialogue {
			if strings.HasPrefix(line, "(") {
				current.Elements = append(current.Elements, Element{
					Type: ElementParenthetical, Text: line, Character: currentCharacter,
				})
				continue
			}
			current.Elements = append(current.Elements, Element{
				Type: ElementDialogue, Text: line, Character: currentCharacter,
			})
			continue
		}

		if m := characterRe.FindStringSubmatch(line); m != nil && len(line) < 40 {
			currentCharacter = strings.TrimSpace(cueSuffixRe.ReplaceAllString(m[1], ""))
			inDialogue = true
			continue
		}

		current.Elements = append(current.Elements, Element{Type: ElementAction, Text: line})
	}
	flush()

	return scenes
}

// splitHeading divides "LOCATION - TIME" slugline remainders. Headings
// without a dash have no time of day.
func splitHeading(rest string) (location, timeOfDay string) {
	rest = strings.TrimSpace(rest)
	if idx := strings.LastIndex(rest, " - "); idx >= 0 {
		return strings.TrimSpace(rest[:idx]), strings.TrimSpace(rest[idx+3:])
	}
	return rest, ""
}

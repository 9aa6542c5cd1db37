// Package timedtext parses SubRip subtitle files into timestamped dialogue
// entries, stripped of markup and sound-effect annotations so downstream
// text matching sees spoken words only.
package timedtext

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"

	"github.com/purecut/purecut/internal/errs"
)

// Entry is one subtitle cue.
type Entry struct {
	Index   int    `json:"index"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// StartS returns the cue start in seconds.
func (e Entry) StartS() float64 { return float64(e.StartMs) / 1000 }

// EndS returns the cue end in seconds.
func (e Entry) EndS() float64 { return float64(e.EndMs) / 1000 }

var (
	timingRe  = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2})[,.](\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2})[,.](\d{3})`)
	htmlTagRe = regexp.MustCompile(`<[^>]+>`)
	bracketRe = regexp.MustCompile(`\[[^\]]*\]`)
	parenRe   = regexp.MustCompile(`\([^)]*\)`)
	speakerRe = regexp.MustCompile(`(?m)^\s*-\s*`)
	multiWSRe = regexp.MustCompile(`\s+`)
)

// ParseFile reads and parses an SRT file. An unreadable file is an input
// error; individual malformed cues are skipped with a warning.
func ParseFile(path string, logger hclog.Logger) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.NewInputError(path, fmt.Errorf("subtitle file not accessible: %w", err))
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, decodeLine(scanner.Bytes()))
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.NewInputError(path, fmt.Errorf("failed to read subtitle file: %w", err))
	}

	entries, skipped := parse(lines)
	if skipped > 0 {
		logger.Warn("skipped malformed subtitle cues", "path", path, "skipped", skipped)
	}
	logger.Debug("parsed subtitles", "path", path, "entries", len(entries))
	return entries, nil
}

// decodeLine interprets a raw line as UTF-8, falling back to Latin-1 for the
// legacy encodings subtitle files commonly ship in.
func decodeLine(raw []byte) string {
	if utf8.Valid(raw) {
		return strings.TrimRight(string(raw), "\r")
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return strings.TrimRight(string(runes), "\r")
}

// parse walks cue blocks separated by blank lines. Returns the parsed
// entries and the number of skipped blocks.
func parse(lines []string) ([]Entry, int) {
	var entries []Entry
	skipped := 0
	i := 0

	// strip a UTF-8 BOM on the first line
	if len(lines) > 0 {
		lines[0] = strings.TrimPrefix(lines[0], "\uFEFF")
	}

	for i < len(lines) {
		for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
			i++
		}
		if i >= len(lines) {
			break
		}

		var block []string
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
			block = append(block, lines[i])
			i++
		}

		entry, ok := parseBlock(block)
		if !ok {
			skipped++
			continue
		}
		if entry.Text == "" {
			// cue held only markup or sound effects
			continue
		}
		entry.Index = len(entries) + 1
		entries = append(entries, entry)
	}
	return entries, skipped
}

func parseBlock(block []string) (Entry, bool) {
	// locate the timing line; the numeric index line before it is optional
	timingIdx := -1
	var m []string
	for idx, line := range block {
		if m = timingRe.FindStringSubmatch(line); m != nil {
			timingIdx = idx
			break
		}
	}
	if timingIdx < 0 {
		return Entry{}, false
	}

	start := timestampMs(m[1], m[2], m[3], m[4])
	end := timestampMs(m[5], m[6], m[7], m[8])
	if end < start {
		return Entry{}, false
	}

	// clean line by line so per-line speaker dashes are caught, then join
	var parts []string
	for _, line := range block[timingIdx+1:] {
		if cleaned := CleanText(line); cleaned != "" {
			parts = append(parts, cleaned)
		}
	}
	return Entry{StartMs: start, EndMs: end, Text: strings.Join(parts, " ")}, true
}

func timestampMs(h, m, s, ms string) int64 {
	hh, _ := strconv.ParseInt(h, 10, 64)
	mm, _ := strconv.ParseInt(m, 10, 64)
	ss, _ := strconv.ParseInt(s, 10, 64)
	mmm, _ := strconv.ParseInt(ms, 10, 64)
	return ((hh*60+mm)*60+ss)*1000 + mmm
}

// CleanText strips markup, speaker dashes, and bracketed or parenthesized
// annotations from cue text, collapsing the remainder to single spaces.
func CleanText(text string) string {
	text = htmlTagRe.ReplaceAllString(text, "")
	text = bracketRe.ReplaceAllString(text, "")
	text = parenRe.ReplaceAllString(text, "")
	text = speakerRe.ReplaceAllString(text, "")
	text = multiWSRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

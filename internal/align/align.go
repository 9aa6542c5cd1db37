// Package align anchors script scenes to the video timeline by fuzzy-matching
// their dialogue against subtitle cue text. Scenes whose dialogue never
// matches get interpolated timing at zero confidence. Alignment is a pure
// function of its inputs: the same script and subtitles always produce the
// same result.
package align

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/hashicorp/go-hclog"

	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/screenplay"
	"github.com/purecut/purecut/internal/timedtext"
)

// AlignedScene is a script scene with resolved timeline placement.
type AlignedScene struct {
	SceneIndex  int     `json:"scene_index"`
	StartMs     int64   `json:"start_ms"`
	EndMs       int64   `json:"end_ms"`
	Matched     bool    `json:"matched"`
	Confidence  float64 `json:"confidence"`
	MatchedCues []int   `json:"matched_cues,omitempty"`
}

// Engine matches script dialogue to subtitle cues.
type Engine struct {
	cfg    config.AlignmentConfig
	logger hclog.Logger
}

// NewEngine creates an alignment engine.
func NewEngine(cfg config.AlignmentConfig, logger hclog.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Align resolves timeline placement for every script scene. The result has
// one entry per input scene, in scene order.
func (e *Engine) Align(scenes []screenplay.Scene, subs []timedtext.Entry, videoDurationMs int64) []AlignedScene {
	aligned := make([]AlignedScene, len(scenes))
	used := make(map[int]bool)
	position := 0

	for i := range scenes {
		aligned[i] = AlignedScene{SceneIndex: i}

		var (
			scoreSum   float64
			matchCount int
			minStart   int64 = -1
			maxEnd     int64
		)
		for _, el := range scenes[i].Elements {
			if el.Type != screenplay.ElementDialogue {
				continue
			}
			bestIdx, bestScore := e.findBestCue(el.Text, subs, position, used)
			if bestIdx < 0 {
				continue
			}
			used[bestIdx] = true
			position = bestIdx + 1
			scoreSum += bestScore
			matchCount++
			aligned[i].MatchedCues = append(aligned[i].MatchedCues, bestIdx)
			if minStart < 0 || subs[bestIdx].StartMs < minStart {
				minStart = subs[bestIdx].StartMs
			}
			if subs[bestIdx].EndMs > maxEnd {
				maxEnd = subs[bestIdx].EndMs
			}
		}

		if matchCount > 0 {
			aligned[i].Matched = true
			aligned[i].StartMs = minStart
			aligned[i].EndMs = maxEnd
			conf := scoreSum / float64(matchCount)
			if conf > 1 {
				conf = 1
			}
			aligned[i].Confidence = conf
		}
	}

	interpolate(aligned, videoDurationMs)

	matched := 0
	for _, a := range aligned {
		if a.Matched {
			matched++
		}
	}
	e.logger.Info("aligned script to subtitles", "scenes", len(scenes),
		"matched", matched, "interpolated", len(scenes)-matched)
	return aligned
}

// findBestCue scans the sliding window around position for the cue most
// similar to the dialogue line. Cues near the current position get a bonus
// that decays with distance, favoring in-order matches over stray repeats
// of a common line elsewhere in the film.
func (e *Engine) findBestCue(line string, subs []timedtext.Entry, position int, used map[int]bool) (int, float64) {
	lo := position - e.cfg.LookBehind
	if lo < 0 {
		lo = 0
	}
	hi := position + e.cfg.LookAhead
	if hi > len(subs) {
		hi = len(subs)
	}

	bestIdx := -1
	bestScore := 0.0
	for idx := lo; idx < hi; idx++ {
		if used[idx] {
			continue
		}
		score := Similarity(line, subs[idx].Text)
		dist := idx - position
		if dist < 0 {
			dist = -dist
		}
		switch {
		case dist <= 2:
			score += e.cfg.PositionBonus
		case dist <= 5:
			score += e.cfg.PositionBonus / 2
		case dist <= 10:
			score += e.cfg.PositionBonus / 4
		}
		if score > bestScore {
			bestScore = score
			bestIdx = idx
		}
	}

	if bestScore < e.cfg.SimilarityFloor {
		return -1, 0
	}
	return bestIdx, bestScore
}

// interpolate fills timing for unmatched scenes by spreading them evenly
// between their matched neighbors. Runs before the first match stretch back
// to zero; runs after the last stretch to the end of the video. Interpolated
// boundaries carry no confidence: downstream fusion treats the placement as
// a guess, not evidence.
func interpolate(aligned []AlignedScene, videoDurationMs int64) {
	n := len(aligned)
	i := 0
	for i < n {
		if aligned[i].Matched {
			i++
			continue
		}
		runStart := i
		for i < n && !aligned[i].Matched {
			i++
		}
		runEnd := i // exclusive

		var spanStart, spanEnd int64
		switch {
		case runStart == 0 && runEnd == n:
			spanStart, spanEnd = 0, videoDurationMs
		case runStart == 0:
			spanStart, spanEnd = 0, aligned[runEnd].StartMs
		case runEnd == n:
			spanStart, spanEnd = aligned[runStart-1].EndMs, videoDurationMs
		default:
			spanStart, spanEnd = aligned[runStart-1].EndMs, aligned[runEnd].StartMs
		}
		if spanEnd < spanStart {
			spanEnd = spanStart
		}

		count := runEnd - runStart
		step := (spanEnd - spanStart) / int64(count)
		for j := 0; j < count; j++ {
			aligned[runStart+j].StartMs = spanStart + step*int64(j)
			aligned[runStart+j].EndMs = spanStart + step*int64(j+1)
			aligned[runStart+j].Confidence = 0
		}
		// close the gap left by integer division on the last scene of the run
		aligned[runEnd-1].EndMs = spanEnd
	}
}

// Similarity returns normalized edit-distance similarity in [0, 1].
func Similarity(a, b string) float64 {
	na, nb := NormalizeText(a), NormalizeText(b)
	if na == "" || nb == "" {
		return 0
	}
	dist := levenshtein.ComputeDistance(na, nb)
	la, lb := len([]rune(na)), len([]rune(nb))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1 - float64(dist)/float64(maxLen)
}

// NormalizeText lowercases and strips everything but letters, digits, and
// single spaces.
func NormalizeText(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ' || r == '\t' || r == '\n':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

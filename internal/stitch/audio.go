package stitch

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// MuteSpan is one interval of the audio track to silence.
type MuteSpan struct {
	StartMs int64
	EndMs   int64
}

// MergeMuteSpans sorts spans and folds overlapping or touching ones together.
// Zero-length spans are dropped.
func MergeMuteSpans(spans []MuteSpan) []MuteSpan {
	var kept []MuteSpan
	for _, s := range spans {
		if s.EndMs > s.StartMs {
			kept = append(kept, s)
		}
	}
	if len(kept) <= 1 {
		return kept
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].StartMs < kept[j].StartMs })

	merged := kept[:1]
	for _, s := range kept[1:] {
		last := &merged[len(merged)-1]
		if s.StartMs <= last.EndMs {
			if s.EndMs > last.EndMs {
				last.EndMs = s.EndMs
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// RemapToOutput translates mute spans from the original timeline onto the
// stitched output timeline. Each edit-list piece carries original audio:
// original pieces play their own span, replacement pieces lift audio starting
// at the cut point. Spans (or parts of spans) falling outside any piece's
// audio window are dropped.
func RemapToOutput(spans []MuteSpan, pieces []Piece) []MuteSpan {
	var out []MuteSpan
	cursor := int64(0)
	for _, piece := range pieces {
		audioStart := piece.StartMs
		if piece.Kind == PieceReplacement {
			audioStart = piece.AudioFromMs
		}
		audioEnd := audioStart + piece.DurationMs

		for _, s := range spans {
			lo, hi := s.StartMs, s.EndMs
			if lo < audioStart {
				lo = audioStart
			}
			if hi > audioEnd {
				hi = audioEnd
			}
			if hi <= lo {
				continue
			}
			out = append(out, MuteSpan{
				StartMs: cursor + lo - audioStart,
				EndMs:   cursor + hi - audioStart,
			})
		}
		cursor += piece.DurationMs
	}
	return MergeMuteSpans(out)
}

// MuteAudio rewrites videoPath to outPath with the given intervals silenced.
// The video stream is copied untouched; only the audio is re-encoded.
func (s *Stitcher) MuteAudio(ctx context.Context, videoPath string, spans []MuteSpan, outPath string) error {
	if len(spans) == 0 {
		return fmt.Errorf("no intervals to mute")
	}

	terms := make([]string, len(spans))
	for i, span := range spans {
		terms[i] = fmt.Sprintf("between(t,%s,%s)", msToSeconds(span.StartMs), msToSeconds(span.EndMs))
	}
	filter := fmt.Sprintf("volume=0:enable='%s'", strings.Join(terms, "+"))

	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-i", videoPath,
		"-af", filter,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", s.cfg.AudioBitrate,
		"-y", outPath,
	)
	if err := runCommand(cmd); err != nil {
		return fmt.Errorf("failed to mute audio intervals: %w", err)
	}
	s.logger.Info("muted audio intervals", "intervals", len(spans), "output", outPath)
	return nil
}

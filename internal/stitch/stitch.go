// Package stitch assembles the final output: original footage outside the
// cut windows, generated replacement clips inside them, with the original
// audio carried over the replacements. All pieces are normalized to the
// source's resolution and frame rate before concatenation.
package stitch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/mediaprobe"
)

// runCommand executes a prepared ffmpeg command. Tests swap this out.
var runCommand = func(cmd *exec.Cmd) error {
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, tail(string(out), 400))
	}
	return nil
}

// ClipSpec is one replacement to splice into the timeline.
type ClipSpec struct {
	SegmentID        string
	CutStartMs       int64
	CutEndMs         int64
	AssetPath        string
	ActualDurationMs int64
}

// PieceKind distinguishes edit-list entries.
type PieceKind string

const (
	PieceOriginal    PieceKind = "original"
	PieceReplacement PieceKind = "replacement"
)

// Piece is one contiguous span of the output timeline.
type Piece struct {
	Kind        PieceKind
	StartMs     int64  // original span start (original pieces)
	EndMs       int64  // original span end (original pieces)
	AssetPath   string // clip file (replacement pieces)
	AudioFromMs int64  // original-timeline position audio is lifted from
	DurationMs  int64
}

// BuildEditList lays out the output timeline. Replacements are sorted by
// cut start; overlapping cut windows are a caller bug and rejected.
// Zero-length original gaps between adjacent pieces are dropped.
func BuildEditList(clips []ClipSpec, videoDurationMs int64) ([]Piece, error) {
	sorted := make([]ClipSpec, len(clips))
	copy(sorted, clips)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CutStartMs < sorted[j].CutStartMs })

	var pieces []Piece
	cursor := int64(0)
	for _, clip := range sorted {
		if clip.CutStartMs < cursor {
			return nil, fmt.Errorf("cut window for %s overlaps the previous one", clip.SegmentID)
		}
		if clip.CutEndMs > videoDurationMs {
			return nil, fmt.Errorf("cut window for %s extends past the video end", clip.SegmentID)
		}
		if clip.CutStartMs > cursor {
			pieces = append(pieces, Piece{
				Kind:       PieceOriginal,
				StartMs:    cursor,
				EndMs:      clip.CutStartMs,
				DurationMs: clip.CutStartMs - cursor,
			})
		}
		pieces = append(pieces, Piece{
			Kind:        PieceReplacement,
			AssetPath:   clip.AssetPath,
			AudioFromMs: clip.CutStartMs,
			DurationMs:  clip.ActualDurationMs,
		})
		cursor = clip.CutEndMs
	}
	if cursor < videoDurationMs {
		pieces = append(pieces, Piece{
			Kind:       PieceOriginal,
			StartMs:    cursor,
			EndMs:      videoDurationMs,
			DurationMs: videoDurationMs - cursor,
		})
	}
	return pieces, nil
}

// ExpectedDurationMs returns the duration the stitched output should have:
// the original minus the cut windows plus the replacement clips.
func ExpectedDurationMs(videoDurationMs int64, clips []ClipSpec) int64 {
	total := videoDurationMs
	for _, c := range clips {
		total -= c.CutEndMs - c.CutStartMs
		total += c.ActualDurationMs
	}
	return total
}

// Stitcher renders the edit list with ffmpeg.
type Stitcher struct {
	cfg        config.StitchConfig
	ffmpegPath string
	logger     hclog.Logger
}

// NewStitcher creates a stitcher.
func NewStitcher(cfg config.StitchConfig, ffmpegPath string, logger hclog.Logger) *Stitcher {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Stitcher{cfg: cfg, ffmpegPath: ffmpegPath, logger: logger}
}

// Stitch produces the output file. Every piece is re-encoded to uniform
// parameters so the final concat can run without re-encoding; if the concat
// still fails on stream mismatches it falls back to a full re-encode.
func (s *Stitcher) Stitch(ctx context.Context, videoPath string, info *mediaprobe.MediaInfo, clips []ClipSpec, workDir, outPath string) error {
	pieces, err := BuildEditList(clips, info.DurationMs())
	if err != nil {
		return err
	}
	if len(pieces) == 0 {
		return fmt.Errorf("empty edit list")
	}

	partsDir := filepath.Join(workDir, "parts")
	if err := os.MkdirAll(partsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create parts dir: %w", err)
	}

	partPaths := make([]string, 0, len(pieces))
	for i, piece := range pieces {
		partPath := filepath.Join(partsDir, fmt.Sprintf("part_%03d.mp4", i))
		switch piece.Kind {
		case PieceOriginal:
			err = s.renderOriginalPart(ctx, videoPath, piece, partPath)
		case PieceReplacement:
			err = s.renderReplacementPart(ctx, videoPath, info, piece, partPath)
		}
		if err != nil {
			return fmt.Errorf("failed to render piece %d: %w", i, err)
		}
		partPaths = append(partPaths, partPath)
	}

	if err := s.concat(ctx, partPaths, partsDir, outPath); err != nil {
		return err
	}

	s.logger.Info("stitched output", "pieces", len(pieces), "output", outPath,
		"expected_duration_ms", ExpectedDurationMs(info.DurationMs(), clips))
	return nil
}

// renderOriginalPart cuts one original span with a re-encode. Stream copy
// can only cut on keyframes; re-encoding keeps the edit points exact.
func (s *Stitcher) renderOriginalPart(ctx context.Context, videoPath string, piece Piece, outPath string) error {
	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-ss", msToSeconds(piece.StartMs),
		"-to", msToSeconds(piece.EndMs),
		"-i", videoPath,
		"-c:v", "libx264",
		"-preset", s.cfg.Preset,
		"-crf", fmt.Sprintf("%d", s.cfg.CRF),
		"-c:a", "aac",
		"-b:a", s.cfg.AudioBitrate,
		"-avoid_negative_ts", "make_zero",
		"-y", outPath,
	)
	return runCommand(cmd)
}

// renderReplacementPart normalizes a generated clip to the source geometry
// and lays the original audio over it, starting where the cut began. The
// generated video has no usable audio of its own.
func (s *Stitcher) renderReplacementPart(ctx context.Context, videoPath string, info *mediaprobe.MediaInfo, piece Piece, outPath string) error {
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%g",
		info.Width, info.Height, info.Width, info.Height, info.FPS,
	)
	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-i", piece.AssetPath,
		"-ss", msToSeconds(piece.AudioFromMs),
		"-t", msToSeconds(piece.DurationMs),
		"-i", videoPath,
		"-filter:v", vf,
		"-map", "0:v:0",
		"-map", "1:a:0?",
		"-c:v", "libx264",
		"-preset", s.cfg.Preset,
		"-crf", fmt.Sprintf("%d", s.cfg.CRF),
		"-c:a", "aac",
		"-b:a", s.cfg.AudioBitrate,
		"-shortest",
		"-y", outPath,
	)
	return runCommand(cmd)
}

// concat joins the normalized parts with the concat demuxer. Parts share
// encode parameters so stream copy normally works; on failure it retries
// with a re-encode.
func (s *Stitcher) concat(ctx context.Context, partPaths []string, workDir, outPath string) error {
	listPath := filepath.Join(workDir, "concat.txt")
	var b strings.Builder
	for _, p := range partPaths {
		fmt.Fprintf(&b, "file '%s'\n", p)
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	copyCmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y", outPath,
	)
	if err := runCommand(copyCmd); err == nil {
		return nil
	}

	s.logger.Warn("concat stream copy failed, re-encoding", "output", outPath)
	encodeCmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c:v", "libx264",
		"-preset", s.cfg.Preset,
		"-crf", fmt.Sprintf("%d", s.cfg.CRF),
		"-c:a", "aac",
		"-b:a", s.cfg.AudioBitrate,
		"-y", outPath,
	)
	return runCommand(encodeCmd)
}

func msToSeconds(ms int64) string {
	return fmt.Sprintf("%.3f", float64(ms)/1000)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

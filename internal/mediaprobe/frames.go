package mediaprobe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/purecut/purecut/internal/errs"
)

// ExtractFrameJPEG writes the frame nearest to atSeconds as a JPEG, scaled
// to the given width with the aspect ratio preserved. A width of 0 keeps the
// source resolution.
func (p *Prober) ExtractFrameJPEG(ctx context.Context, videoPath string, atSeconds float64, width int, outPath string) error {
	if atSeconds < 0 {
		atSeconds = 0
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create frame directory: %w", err)
	}

	args := []string{
		"-ss", fmt.Sprintf("%.3f", atSeconds),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
	}
	if width > 0 {
		// -2 keeps the height even, which some encoders require
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", width))
	}
	args = append(args, "-y", outPath)

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	if _, err := runOutput(cmd); err != nil {
		return errs.NewInputError(videoPath, fmt.Errorf("frame extraction at %.3fs failed: %w", atSeconds, err))
	}
	if st, err := os.Stat(outPath); err != nil || st.Size() == 0 {
		return errs.NewInputError(videoPath, fmt.Errorf("frame extraction at %.3fs produced no output", atSeconds))
	}

	p.logger.Debug("extracted frame", "video", videoPath, "at_s", atSeconds, "out", outPath)
	return nil
}

// SampleTimes returns n timestamps spread evenly across [startS, endS),
// offset by half a step so samples fall inside the span rather than on its
// edges.
func SampleTimes(startS, endS float64, n int) []float64 {
	if n <= 0 || endS <= startS {
		return nil
	}
	step := (endS - startS) / float64(n)
	times := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		times = append(times, startS+step*(float64(i)+0.5))
	}
	return times
}

// ExtractFramesJPEG samples n frames evenly across [startS, endS) into
// outDir, returning the written paths in timestamp order.
func (p *Prober) ExtractFramesJPEG(ctx context.Context, videoPath string, startS, endS float64, n, width int, outDir string) ([]string, error) {
	times := SampleTimes(startS, endS, n)
	if len(times) == 0 {
		return nil, errs.NewInputError(videoPath, fmt.Errorf("empty sample span [%.3f, %.3f)", startS, endS))
	}

	paths := make([]string, 0, len(times))
	for i, at := range times {
		outPath := filepath.Join(outDir, fmt.Sprintf("frame_%04d.jpg", i))
		if err := p.ExtractFrameJPEG(ctx, videoPath, at, width, outPath); err != nil {
			return nil, err
		}
		paths = append(paths, outPath)
	}
	return paths, nil
}

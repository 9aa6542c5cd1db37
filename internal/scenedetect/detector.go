// Package scenedetect finds visual scene boundaries by scoring frame-to-frame
// change on a downscaled decode of the video. Two modes are supported:
// content (HSV delta between consecutive frames) and threshold (fade to and
// from black).
package scenedetect

import (
	"context"
	"fmt"
	"math"

	"github.com/hashicorp/go-hclog"

	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/mediaprobe"
)

// Scene is one detected span. Scenes returned by Detect are contiguous:
// the first starts at zero, each ends where the next begins, and the last
// ends at the video duration.
type Scene struct {
	Index  int     `json:"index"`
	StartS float64 `json:"start_s"`
	EndS   float64 `json:"end_s"`
}

// DurationS returns the scene length in seconds.
func (s Scene) DurationS() float64 {
	return s.EndS - s.StartS
}

// frameStreamer is the slice of mediaprobe.Prober the detector needs.
type frameStreamer interface {
	StreamFrames(ctx context.Context, videoPath string, width, height int, fps float64, fn mediaprobe.FrameFunc) error
}

// Detector scores decoded frames and cuts the timeline at change peaks.
type Detector struct {
	cfg      config.DetectorConfig
	streamer frameStreamer
	logger   hclog.Logger
}

// NewDetector creates a detector reading frames through the given prober.
func NewDetector(cfg config.DetectorConfig, streamer frameStreamer, logger hclog.Logger) *Detector {
	return &Detector{cfg: cfg, streamer: streamer, logger: logger}
}

// Detect returns the scene list for the video. If no boundary scores above
// the sensitivity the whole video comes back as a single scene; detection
// never fails a job on an unremarkable video.
func (d *Detector) Detect(ctx context.Context, videoPath string, durationS float64) ([]Scene, error) {
	if durationS <= 0 {
		return nil, fmt.Errorf("non-positive video duration %.3f", durationS)
	}

	var cuts []float64
	var err error
	switch d.cfg.Mode {
	case "threshold":
		cuts, err = d.detectFadeCuts(ctx, videoPath)
	default:
		cuts, err = d.detectContentCuts(ctx, videoPath)
	}
	if err != nil {
		return nil, err
	}

	scenes := buildScenes(cuts, durationS)
	scenes = mergeShortScenes(scenes, d.cfg.MinSceneLengthS)

	d.logger.Info("scene detection complete", "video", videoPath,
		"mode", d.cfg.Mode, "cuts", len(cuts), "scenes", len(scenes))
	return scenes, nil
}

// detectContentCuts registers a cut wherever the mean HSV delta between
// consecutive frames exceeds the sensitivity.
func (d *Detector) detectContentCuts(ctx context.Context, videoPath string) ([]float64, error) {
	var (
		cuts []float64
		prev []float64 // per-pixel HSV of the previous frame
	)

	err := d.streamer.StreamFrames(ctx, videoPath, d.cfg.AnalysisWidth, d.cfg.AnalysisHeight, d.cfg.AnalysisFPS,
		func(frame mediaprobe.Frame) error {
			hsv := framePixelsHSV(frame.RGB)
			if prev != nil {
				score := meanAbsDelta(prev, hsv)
				if score > d.cfg.Sensitivity {
					cuts = append(cuts, frame.TimeS)
				}
			}
			prev = hsv
			return nil
		})
	if err != nil {
		return nil, err
	}
	return cuts, nil
}

// detectFadeCuts registers a cut on each fade-in, when mean luma rises back
// above the sensitivity after a stretch below it.
func (d *Detector) detectFadeCuts(ctx context.Context, videoPath string) ([]float64, error) {
	var (
		cuts    []float64
		inFade  bool
		started bool
	)

	err := d.streamer.StreamFrames(ctx, videoPath, d.cfg.AnalysisWidth, d.cfg.AnalysisHeight, d.cfg.AnalysisFPS,
		func(frame mediaprobe.Frame) error {
			luma := meanLuma(frame.RGB)
			dark := luma < d.cfg.Sensitivity
			if started && inFade && !dark {
				cuts = append(cuts, frame.TimeS)
			}
			inFade = dark
			started = true
			return nil
		})
	if err != nil {
		return nil, err
	}
	return cuts, nil
}

// buildScenes turns cut timestamps into a contiguous scene list over
// [0, durationS]. Cuts at or beyond the ends are discarded.
func buildScenes(cuts []float64, durationS float64) []Scene {
	var scenes []Scene
	start := 0.0
	for _, cut := range cuts {
		if cut <= start || cut >= durationS {
			continue
		}
		scenes = append(scenes, Scene{Index: len(scenes), StartS: start, EndS: cut})
		start = cut
	}
	scenes = append(scenes, Scene{Index: len(scenes), StartS: start, EndS: durationS})
	return scenes
}

// mergeShortScenes folds scenes shorter than minLen into their predecessor
// (the first scene folds forward instead). Indexes are reassigned so the
// contiguity of the list survives the merge.
func mergeShortScenes(scenes []Scene, minLen float64) []Scene {
	if minLen <= 0 || len(scenes) <= 1 {
		return scenes
	}

	merged := make([]Scene, 0, len(scenes))
	for _, sc := range scenes {
		if len(merged) > 0 && sc.DurationS() < minLen {
			merged[len(merged)-1].EndS = sc.EndS
			continue
		}
		merged = append(merged, sc)
	}

	// a short first scene has no predecessor; fold it into the next one
	if len(merged) > 1 && merged[0].DurationS() < minLen {
		merged[1].StartS = merged[0].StartS
		merged = merged[1:]
	}

	for i := range merged {
		merged[i].Index = i
	}
	return merged
}

// framePixelsHSV converts packed rgb24 pixels to flat [h, s, v, ...] values
// scaled to 0..255.
func framePixelsHSV(rgb []byte) []float64 {
	out := make([]float64, 0, len(rgb))
	for i := 0; i+2 < len(rgb); i += 3 {
		h, s, v := rgbToHSV(rgb[i], rgb[i+1], rgb[i+2])
		out = append(out, h, s, v)
	}
	return out
}

func rgbToHSV(r8, g8, b8 byte) (h, s, v float64) {
	r := float64(r8) / 255
	g := float64(g8) / 255
	b := float64(b8) / 255

	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	v = max * 255
	if max > 0 {
		s = delta / max * 255
	}
	if delta > 0 {
		switch max {
		case r:
			h = math.Mod((g-b)/delta, 6)
		case g:
			h = (b-r)/delta + 2
		default:
			h = (r-g)/delta + 4
		}
		h *= 60
		if h < 0 {
			h += 360
		}
	}
	// scale hue into the same 0..255 range as the other components
	h = h / 360 * 255
	return h, s, v
}

func meanAbsDelta(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(a[i] - b[i])
	}
	return sum / float64(n)
}

func meanLuma(rgb []byte) float64 {
	if len(rgb) < 3 {
		return 0
	}
	var sum float64
	count := 0
	for i := 0; i+2 < len(rgb); i += 3 {
		sum += 0.299*float64(rgb[i]) + 0.587*float64(rgb[i+1]) + 0.114*float64(rgb[i+2])
		count++
	}
	return sum / float64(count)
}

package replace

import (
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/hashicorp/go-hclog"

	"github.com/purecut/purecut/internal/aggregate"
	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/mediaprobe"
)

// lastFrameBackoffS keeps the last-frame grab safely before the cut end so
// it never lands past the final decodable frame.
const lastFrameBackoffS = 0.05

// Result is the outcome of generating one replacement clip. A failed
// generation still returns a Result so the caller can record the attempt and
// apply the failure policy.
type Result struct {
	SegmentID        string
	Plan             Plan
	AssetPath        string
	FirstFramePath   string
	LastFramePath    string
	ActualDurationMs int64
	Attempts         int
	Prompt           string
}

// Generator produces replacement clips for flagged segments.
type Generator struct {
	cfg      config.ReplacementConfig
	storage  config.StorageConfig
	prober   *mediaprobe.Prober
	provider Provider
	logger   hclog.Logger
}

// NewGenerator creates a generator.
func NewGenerator(cfg config.ReplacementConfig, storage config.StorageConfig, prober *mediaprobe.Prober, provider Provider, logger hclog.Logger) *Generator {
	return &Generator{cfg: cfg, storage: storage, prober: prober, provider: provider, logger: logger}
}

// GenerateForSegment plans the cut for one flagged segment, extracts its
// boundary frames, and runs generation with retries. The returned error is
// non-nil only when no attempt produced a usable clip; the caller decides
// whether that fails the job or keeps the original footage.
func (g *Generator) GenerateForSegment(ctx context.Context, videoPath string, videoDurationMs int64, seg aggregate.Segment, workDir string) (*Result, error) {
	plan := PlanCut(seg, videoDurationMs, g.cfg)
	res := &Result{
		SegmentID: seg.ID,
		Plan:      plan,
		Prompt:    BuildPrompt(seg),
	}

	segDir := filepath.Join(workDir, seg.ID)
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return res, fmt.Errorf("failed to create segment work dir: %w", err)
	}

	firstAt := float64(plan.CutStartMs) / 1000
	lastAt := float64(plan.CutEndMs)/1000 - lastFrameBackoffS
	if lastAt < firstAt {
		lastAt = firstAt
	}

	res.FirstFramePath = filepath.Join(segDir, "first.jpg")
	res.LastFramePath = filepath.Join(segDir, "last.jpg")
	if err := g.prober.ExtractFrameJPEG(ctx, videoPath, firstAt, g.cfg.FrameWidth, res.FirstFramePath); err != nil {
		return res, err
	}
	if err := g.prober.ExtractFrameJPEG(ctx, videoPath, lastAt, g.cfg.FrameWidth, res.LastFramePath); err != nil {
		return res, err
	}
	if g.storage.RetainClips {
		g.writeAuditThumbnail(res.FirstFramePath)
		g.writeAuditThumbnail(res.LastFramePath)
	}

	req := GenerationRequest{
		Prompt:         res.Prompt,
		NegativePrompt: NegativePrompt(),
		FirstFramePath: res.FirstFramePath,
		LastFramePath:  res.LastFramePath,
		Duration:       plan.Duration,
		Resolution:     g.cfg.Resolution,
	}
	outPath := filepath.Join(segDir, "replacement.mp4")

	var lastErr error
	attempts := g.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		res.Attempts = attempt + 1
		if attempt > 0 {
			g.logger.Warn("retrying clip generation", "segment", seg.ID, "attempt", attempt+1, "error", lastErr)
			select {
			case <-time.After(time.Duration(attempt) * 5 * time.Second):
			case <-ctx.Done():
				return res, ctx.Err()
			}
		}

		attemptCtx := ctx
		if g.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
			err := g.provider.Generate(attemptCtx, req, outPath)
			cancel()
			if err != nil {
				lastErr = err
				continue
			}
		} else if err := g.provider.Generate(attemptCtx, req, outPath); err != nil {
			lastErr = err
			continue
		}

		info, err := g.prober.Probe(ctx, outPath)
		if err != nil {
			lastErr = fmt.Errorf("generated clip unreadable: %w", err)
			continue
		}

		res.AssetPath = outPath
		res.ActualDurationMs = info.DurationMs()
		g.logger.Info("generated replacement clip", "segment", seg.ID,
			"target_ms", plan.TargetDurationMs, "actual_ms", res.ActualDurationMs,
			"attempts", res.Attempts)
		return res, nil
	}

	return res, fmt.Errorf("clip generation for %s failed after %d attempts: %w", seg.ID, attempts, lastErr)
}

// writeAuditThumbnail keeps a compact WebP copy of a boundary frame next to
// the original for later review. Failures are logged and ignored; audit
// artifacts never block generation.
func (g *Generator) writeAuditThumbnail(jpegPath string) {
	f, err := os.Open(jpegPath)
	if err != nil {
		g.logger.Warn("audit thumbnail: cannot open frame", "path", jpegPath, "error", err)
		return
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		g.logger.Warn("audit thumbnail: cannot decode frame", "path", jpegPath, "error", err)
		return
	}

	outPath := strings.TrimSuffix(jpegPath, filepath.Ext(jpegPath)) + ".webp"
	out, err := os.Create(outPath)
	if err != nil {
		g.logger.Warn("audit thumbnail: cannot create file", "path", outPath, "error", err)
		return
	}
	defer out.Close()

	if err := webp.Encode(out, img, &webp.Options{Quality: 75}); err != nil {
		g.logger.Warn("audit thumbnail: encode failed", "path", outPath, "error", err)
	}
}

// Package mediaprobe wraps ffprobe and ffmpeg for container inspection,
// frame extraction, and decoded-frame streaming. All other packages treat
// media files through this one; nothing else shells out to ffmpeg.
package mediaprobe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"

	"github.com/purecut/purecut/internal/errs"
)

// runOutput executes a prepared command and returns stdout. Tests swap this
// out to avoid requiring ffmpeg on the machine running them.
var runOutput = func(cmd *exec.Cmd) ([]byte, error) {
	return cmd.Output()
}

// MediaInfo describes a probed media file.
type MediaInfo struct {
	Path       string  `json:"path"`
	Container  string  `json:"container"`
	DurationS  float64 `json:"duration_s"`
	SizeBytes  int64   `json:"size_bytes"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	VideoCodec string  `json:"video_codec"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	HasAudio   bool    `json:"has_audio"`
}

// DurationMs returns the duration in whole milliseconds.
func (m *MediaInfo) DurationMs() int64 {
	return int64(m.DurationS * 1000)
}

// Prober inspects media files with ffprobe.
type Prober struct {
	ffprobePath string
	ffmpegPath  string
	logger      hclog.Logger
}

// NewProber creates a prober using ffprobe and ffmpeg from PATH.
func NewProber(logger hclog.Logger) *Prober {
	return &Prober{
		ffprobePath: "ffprobe",
		ffmpegPath:  "ffmpeg",
		logger:      logger,
	}
}

// NewProberWithPaths creates a prober with explicit binary locations. Empty
// paths fall back to PATH lookup.
func NewProberWithPaths(ffprobePath, ffmpegPath string, logger hclog.Logger) *Prober {
	p := NewProber(logger)
	if ffprobePath != "" {
		p.ffprobePath = ffprobePath
	}
	if ffmpegPath != "" {
		p.ffmpegPath = ffmpegPath
	}
	return p
}

// Probe extracts container and stream information from a media file. A
// missing file, an unreadable container, or a file with no video stream is
// an input error.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errs.NewInputError(path, fmt.Errorf("video file not accessible: %w", err))
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := runOutput(cmd)
	if err != nil {
		return nil, errs.NewInputError(path, fmt.Errorf("ffprobe failed: %w", err))
	}

	info, err := parseProbeOutput(path, output)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("probed media file", "path", path,
		"duration_s", info.DurationS, "resolution", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"fps", info.FPS, "has_audio", info.HasAudio)
	return info, nil
}

func parseProbeOutput(path string, output []byte) (*MediaInfo, error) {
	if !gjson.ValidBytes(output) {
		return nil, errs.NewInputError(path, fmt.Errorf("ffprobe produced invalid JSON"))
	}

	info := &MediaInfo{Path: path}

	format := gjson.GetBytes(output, "format")
	info.Container = strings.Split(format.Get("format_name").String(), ",")[0]
	info.DurationS = format.Get("duration").Float()
	info.SizeBytes = format.Get("size").Int()

	for _, stream := range gjson.GetBytes(output, "streams").Array() {
		switch stream.Get("codec_type").String() {
		case "video":
			if info.VideoCodec != "" {
				continue // first video stream wins
			}
			info.VideoCodec = stream.Get("codec_name").String()
			info.Width = int(stream.Get("width").Int())
			info.Height = int(stream.Get("height").Int())
			info.FPS = parseFrameRate(stream.Get("r_frame_rate").String())
			if info.DurationS == 0 {
				info.DurationS = stream.Get("duration").Float()
			}
		case "audio":
			if !info.HasAudio {
				info.AudioCodec = stream.Get("codec_name").String()
				info.HasAudio = true
			}
		}
	}

	if info.VideoCodec == "" {
		return nil, errs.NewInputError(path, fmt.Errorf("no video stream found"))
	}
	if info.DurationS <= 0 {
		return nil, errs.NewInputError(path, fmt.Errorf("no duration found in media file"))
	}
	return info, nil
}

// parseFrameRate converts ffprobe rational rates like "30000/1001" to a
// float. Returns 0 on malformed input.
func parseFrameRate(rate string) float64 {
	if rate == "" || rate == "0/0" {
		return 0
	}
	parts := strings.SplitN(rate, "/", 2)
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	if len(parts) == 1 {
		return num
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0
	}
	return num / den
}

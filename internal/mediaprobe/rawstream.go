package mediaprobe

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/purecut/purecut/internal/errs"
)

// Frame is one decoded analysis frame. RGB holds packed rgb24 pixels,
// Width*Height*3 bytes. The slice is reused between frames; callbacks must
// copy anything they keep.
type Frame struct {
	Index  int
	TimeS  float64
	Width  int
	Height int
	RGB    []byte
}

// FrameFunc consumes decoded frames in presentation order. Returning an
// error stops the stream.
type FrameFunc func(frame Frame) error

// StreamFrames decodes the video at a reduced resolution and frame rate and
// feeds each frame to fn. This is the input side of scene detection: the
// downscale bounds the per-frame cost regardless of source resolution.
func (p *Prober) StreamFrames(ctx context.Context, videoPath string, width, height int, fps float64, fn FrameFunc) error {
	if width <= 0 || height <= 0 || fps <= 0 {
		return fmt.Errorf("invalid analysis geometry %dx%d@%.2f", width, height, fps)
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%g,scale=%d:%d", fps, width, height),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-v", "error",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return errs.NewInputError(videoPath, fmt.Errorf("failed to start decoder: %w", err))
	}

	frameSize := width * height * 3
	buf := make([]byte, frameSize)
	index := 0
	var readErr error

	for {
		if err := ctx.Err(); err != nil {
			readErr = err
			break
		}
		if _, err := io.ReadFull(stdout, buf); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				readErr = fmt.Errorf("decoder read failed: %w", err)
			}
			break
		}
		frame := Frame{
			Index:  index,
			TimeS:  float64(index) / fps,
			Width:  width,
			Height: height,
			RGB:    buf,
		}
		if err := fn(frame); err != nil {
			readErr = err
			break
		}
		index++
	}

	if readErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return readErr
	}
	if err := cmd.Wait(); err != nil {
		return errs.NewInputError(videoPath, fmt.Errorf("decoder exited with error: %w", err))
	}
	if index == 0 {
		return errs.NewInputError(videoPath, fmt.Errorf("decoder produced no frames"))
	}

	p.logger.Debug("streamed analysis frames", "video", videoPath, "frames", index, "fps", fps)
	return nil
}

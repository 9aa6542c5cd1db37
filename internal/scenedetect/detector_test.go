package scenedetect

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/mediaprobe"
)

// fakeStreamer replays synthetic solid-color frames at the requested fps.
type fakeStreamer struct {
	frames [][3]byte
}

func (f *fakeStreamer) StreamFrames(_ context.Context, _ string, width, height int, fps float64, fn mediaprobe.FrameFunc) error {
	buf := make([]byte, width*height*3)
	for i, color := range f.frames {
		for p := 0; p < len(buf); p += 3 {
			buf[p] = color[0]
			buf[p+1] = color[1]
			buf[p+2] = color[2]
		}
		frame := mediaprobe.Frame{
			Index:  i,
			TimeS:  float64(i) / fps,
			Width:  width,
			Height: height,
			RGB:    buf,
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
	return nil
}

func testDetectorConfig() config.DetectorConfig {
	return config.DetectorConfig{
		Mode:            "content",
		Sensitivity:     22.0,
		MinSceneLengthS: 1.0,
		AnalysisFPS:     4.0,
		AnalysisWidth:   16,
		AnalysisHeight:  9,
	}
}

func solidRun(color [3]byte, n int) [][3]byte {
	out := make([][3]byte, n)
	for i := range out {
		out[i] = color
	}
	return out
}

func TestDetectContentCut(t *testing.T) {
	// 5s of black then 5s of white at 4 fps
	frames := append(solidRun([3]byte{0, 0, 0}, 20), solidRun([3]byte{255, 255, 255}, 20)...)
	det := NewDetector(testDetectorConfig(), &fakeStreamer{frames: frames}, hclog.NewNullLogger())

	scenes, err := det.Detect(context.Background(), "test.mp4", 10.0)
	require.NoError(t, err)
	require.Len(t, scenes, 2)

	assert.Equal(t, 0.0, scenes[0].StartS)
	assert.InDelta(t, 5.0, scenes[0].EndS, 0.001)
	assert.InDelta(t, 5.0, scenes[1].StartS, 0.001)
	assert.Equal(t, 10.0, scenes[1].EndS)
}

func TestDetectNoCutsFallsBackToWholeVideo(t *testing.T) {
	frames := solidRun([3]byte{100, 100, 100}, 40)
	det := NewDetector(testDetectorConfig(), &fakeStreamer{frames: frames}, hclog.NewNullLogger())

	scenes, err := det.Detect(context.Background(), "test.mp4", 10.0)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, 0.0, scenes[0].StartS)
	assert.Equal(t, 10.0, scenes[0].EndS)
}

func TestDetectThresholdMode(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.Mode = "threshold"
	cfg.Sensitivity = 12.0

	// bright, fade to black, bright again: the fade-in registers a cut
	frames := append(solidRun([3]byte{200, 200, 200}, 12), solidRun([3]byte{0, 0, 0}, 8)...)
	frames = append(frames, solidRun([3]byte{200, 200, 200}, 20)...)
	det := NewDetector(cfg, &fakeStreamer{frames: frames}, hclog.NewNullLogger())

	scenes, err := det.Detect(context.Background(), "test.mp4", 10.0)
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.InDelta(t, 5.0, scenes[1].StartS, 0.001)
}

func TestSceneContiguity(t *testing.T) {
	// alternating colors every 2s produce several cuts
	var frames [][3]byte
	colors := [][3]byte{{0, 0, 0}, {255, 255, 255}, {255, 0, 0}, {0, 0, 255}, {0, 255, 0}}
	for _, c := range colors {
		frames = append(frames, solidRun(c, 8)...)
	}
	det := NewDetector(testDetectorConfig(), &fakeStreamer{frames: frames}, hclog.NewNullLogger())

	scenes, err := det.Detect(context.Background(), "test.mp4", 10.0)
	require.NoError(t, err)
	require.NotEmpty(t, scenes)

	assert.Equal(t, 0.0, scenes[0].StartS)
	assert.Equal(t, 10.0, scenes[len(scenes)-1].EndS)
	for i := 1; i < len(scenes); i++ {
		assert.Equal(t, scenes[i-1].EndS, scenes[i].StartS, "scene %d not contiguous", i)
		assert.Equal(t, i, scenes[i].Index)
	}
}

func TestMergeShortScenes(t *testing.T) {
	scenes := []Scene{
		{Index: 0, StartS: 0, EndS: 4},
		{Index: 1, StartS: 4, EndS: 4.5},
		{Index: 2, StartS: 4.5, EndS: 10},
	}
	merged := mergeShortScenes(scenes, 1.0)
	require.Len(t, merged, 2)
	assert.Equal(t, 4.5, merged[0].EndS)
	assert.Equal(t, 4.5, merged[1].StartS)

	// a short first scene folds into its successor
	scenes = []Scene{
		{Index: 0, StartS: 0, EndS: 0.5},
		{Index: 1, StartS: 0.5, EndS: 10},
	}
	merged = mergeShortScenes(scenes, 1.0)
	require.Len(t, merged, 1)
	assert.Equal(t, 0.0, merged[0].StartS)
	assert.Equal(t, 10.0, merged[0].EndS)
	assert.Equal(t, 0, merged[0].Index)
}

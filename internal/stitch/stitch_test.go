package stitch

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/mediaprobe"
)

func testClips() []ClipSpec {
	return []ClipSpec{
		{SegmentID: "seg-0001", CutStartMs: 10000, CutEndMs: 16000, AssetPath: "a.mp4", ActualDurationMs: 6000},
		{SegmentID: "seg-0002", CutStartMs: 40000, CutEndMs: 48000, AssetPath: "b.mp4", ActualDurationMs: 7900},
	}
}

func TestBuildEditList(t *testing.T) {
	pieces, err := BuildEditList(testClips(), 60000)
	require.NoError(t, err)
	require.Len(t, pieces, 5)

	assert.Equal(t, PieceOriginal, pieces[0].Kind)
	assert.Equal(t, int64(0), pieces[0].StartMs)
	assert.Equal(t, int64(10000), pieces[0].EndMs)

	assert.Equal(t, PieceReplacement, pieces[1].Kind)
	assert.Equal(t, "a.mp4", pieces[1].AssetPath)
	assert.Equal(t, int64(10000), pieces[1].AudioFromMs)
	assert.Equal(t, int64(6000), pieces[1].DurationMs)

	assert.Equal(t, PieceOriginal, pieces[2].Kind)
	assert.Equal(t, int64(16000), pieces[2].StartMs)
	assert.Equal(t, int64(40000), pieces[2].EndMs)

	assert.Equal(t, PieceReplacement, pieces[3].Kind)
	assert.Equal(t, PieceOriginal, pieces[4].Kind)
	assert.Equal(t, int64(60000), pieces[4].EndMs)
}

func TestBuildEditListSortsClips(t *testing.T) {
	clips := testClips()
	clips[0], clips[1] = clips[1], clips[0]

	pieces, err := BuildEditList(clips, 60000)
	require.NoError(t, err)
	assert.Equal(t, "a.mp4", pieces[1].AssetPath)
}

func TestBuildEditListRejectsOverlap(t *testing.T) {
	clips := []ClipSpec{
		{SegmentID: "a", CutStartMs: 10000, CutEndMs: 20000},
		{SegmentID: "b", CutStartMs: 15000, CutEndMs: 25000},
	}
	_, err := BuildEditList(clips, 60000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlaps")
}

func TestBuildEditListRejectsOutOfBounds(t *testing.T) {
	clips := []ClipSpec{{SegmentID: "a", CutStartMs: 55000, CutEndMs: 65000}}
	_, err := BuildEditList(clips, 60000)
	require.Error(t, err)
}

func TestBuildEditListCutAtVideoEdges(t *testing.T) {
	clips := []ClipSpec{{SegmentID: "a", CutStartMs: 0, CutEndMs: 60000, AssetPath: "x.mp4", ActualDurationMs: 8000}}
	pieces, err := BuildEditList(clips, 60000)
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Equal(t, PieceReplacement, pieces[0].Kind)
}

func TestExpectedDurationMs(t *testing.T) {
	// 60s original, cuts of 6s+8s removed, clips of 6s+7.9s inserted
	expected := ExpectedDurationMs(60000, testClips())
	assert.Equal(t, int64(60000-6000-8000+6000+7900), expected)

	// the output duration never drifts past original +/- total clip delta
	assert.Equal(t, int64(60000), ExpectedDurationMs(60000, nil))
}

func TestStitchCommands(t *testing.T) {
	var commands [][]string
	orig := runCommand
	runCommand = func(cmd *exec.Cmd) error {
		commands = append(commands, cmd.Args)
		return nil
	}
	t.Cleanup(func() { runCommand = orig })

	info := &mediaprobe.MediaInfo{DurationS: 60, Width: 1920, Height: 1080, FPS: 24}
	cfg := config.StitchConfig{Preset: "fast", CRF: 18, AudioBitrate: "192k"}
	stitcher := NewStitcher(cfg, "ffmpeg", hclog.NewNullLogger())

	workDir := t.TempDir()
	err := stitcher.Stitch(context.Background(), "movie.mp4", info, testClips(), workDir, "out.mp4")
	require.NoError(t, err)

	// 5 parts plus the concat
	require.Len(t, commands, 6)

	first := strings.Join(commands[0], " ")
	assert.Contains(t, first, "-ss 0.000")
	assert.Contains(t, first, "-to 10.000")
	assert.Contains(t, first, "-crf 18")

	replacement := strings.Join(commands[1], " ")
	assert.Contains(t, replacement, "a.mp4")
	assert.Contains(t, replacement, "scale=1920:1080")
	assert.Contains(t, replacement, "fps=24")
	assert.Contains(t, replacement, "-ss 10.000")
	assert.Contains(t, replacement, "-t 6.000")

	concat := strings.Join(commands[5], " ")
	assert.Contains(t, concat, "-f concat")
	assert.Contains(t, concat, "-c copy")
}

func TestStitchEmptyEditList(t *testing.T) {
	info := &mediaprobe.MediaInfo{DurationS: 0}
	stitcher := NewStitcher(config.StitchConfig{}, "", hclog.NewNullLogger())
	err := stitcher.Stitch(context.Background(), "movie.mp4", info, nil, t.TempDir(), "out.mp4")
	require.Error(t, err)
}

package timedtext

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purecut/purecut/internal/errs"
)

const sampleSRT = "1\r\n" +
	"00:00:01,500 --> 00:00:04,000\r\n" +
	"<i>Hello there.</i>\r\n" +
	"\r\n" +
	"2\r\n" +
	"00:00:05,000 --> 00:00:07,250\r\n" +
	"- How are you?\r\n" +
	"- [sighs] Fine.\r\n" +
	"\r\n" +
	"3\r\n" +
	"00:01:10,000 --> 00:01:12,000\r\n" +
	"(door slams)\r\n" +
	"\r\n" +
	"4\r\n" +
	"bogus timing line\r\n" +
	"this block is skipped\r\n" +
	"\r\n" +
	"5\r\n" +
	"00:01:15,000 --> 00:01:18,500\r\n" +
	"We need to talk.\r\n"

func writeSRT(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movie.srt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFile(t *testing.T) {
	entries, err := ParseFile(writeSRT(t, sampleSRT), hclog.NewNullLogger())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, int64(1500), entries[0].StartMs)
	assert.Equal(t, int64(4000), entries[0].EndMs)
	assert.Equal(t, "Hello there.", entries[0].Text)
	assert.Equal(t, 1.5, entries[0].StartS())

	// speaker dashes and bracketed effects stripped, lines joined
	assert.Equal(t, "How are you? Fine.", entries[1].Text)

	// the all-annotation cue and the malformed block both drop out;
	// surviving entries are renumbered
	assert.Equal(t, 3, entries[2].Index)
	assert.Equal(t, "We need to talk.", entries[2].Text)
	assert.Equal(t, int64(75000), entries[2].StartMs)
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile("/nonexistent/movie.srt", hclog.NewNullLogger())
	require.Error(t, err)
	assert.True(t, errs.IsInputError(err))
}

func TestParseDotMillisecondsAndBOM(t *testing.T) {
	srt := "\uFEFF1\n00:00:01.000 --> 00:00:02.000\nHi.\n"
	entries, err := ParseFile(writeSRT(t, srt), hclog.NewNullLogger())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1000), entries[0].StartMs)
}

func TestParseRejectsReversedTiming(t *testing.T) {
	srt := "1\n00:00:05,000 --> 00:00:02,000\nBackwards.\n"
	entries, err := ParseFile(writeSRT(t, srt), hclog.NewNullLogger())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseLatin1Fallback(t *testing.T) {
	// "Qué pasó" in Latin-1: é=0xE9, ó=0xF3.
	content := "1\n00:00:01,000 --> 00:00:02,000\nQu\xe9 pas\xf3\n"
	entries, err := ParseFile(writeSRT(t, content), hclog.NewNullLogger())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Qué pasó", entries[0].Text)
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"<b>Bold</b> text", "Bold text"},
		{"[music playing] Words", "Words"},
		{"(whispers) secret", "secret"},
		{"- Speaker one", "Speaker one"},
		{"  lots   of   space  ", "lots of space"},
		{"[only effects]", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanText(tt.input), "input %q", tt.input)
	}
}

package media

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	probeOut string
	probeErr error
	failOn   map[int]error

	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (commandResult, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)

	if name == "ffprobe" {
		if f.probeErr != nil {
			return commandResult{ExitCode: 1}, f.probeErr
		}
		return commandResult{Stdout: f.probeOut}, nil
	}

	idx := len(f.calls) - 2 // encode calls start after the probe
	if err, ok := f.failOn[idx]; ok {
		return commandResult{ExitCode: 1}, err
	}
	return commandResult{}, nil
}

func newTestChunker(runner commandRunner) *Chunker {
	c := NewChunker(Config{
		MaxSegmentBytes:   20 << 20,
		MinSegmentSeconds: 60,
		MaxSegmentSeconds: 1200,
		Bitrate:           "128k",
		SampleRate:        44100,
		Channels:          1,
	})
	c.runner = runner
	return c
}

func TestSplit_SmallInputIsNotChunked(t *testing.T) {
	runner := &fakeRunner{}
	c := newTestChunker(runner)

	segments, err := c.Split(context.Background(), "in.mp3", 5<<20, 0, t.TempDir())

	require.NoError(t, err)
	assert.Nil(t, segments)
	assert.Empty(t, runner.calls, "no subprocess should run for small inputs")
}

func TestSplit_PerCallLimitOverridesDefault(t *testing.T) {
	runner := &fakeRunner{probeOut: "3600.0"}
	c := newTestChunker(runner)

	// 15MB fits the configured 20MB default but not the 10MB limit the
	// caller asked for
	segments, err := c.Split(context.Background(), "in.mp3", 15<<20, 10<<20, t.TempDir())

	require.NoError(t, err)
	assert.Len(t, segments, 3)
}

func TestSplit_CoversFullDuration(t *testing.T) {
	runner := &fakeRunner{probeOut: "3600.0\n"}
	c := newTestChunker(runner)

	segments, err := c.Split(context.Background(), "in.mp3", 50<<20, 20<<20, t.TempDir())
	require.NoError(t, err)
	require.NotEmpty(t, segments)

	assert.Equal(t, 0.0, segments[0].StartOffset)
	for i := 1; i < len(segments); i++ {
		assert.Equal(t, segments[i-1].EndOffset, segments[i].StartOffset,
			"segments must be contiguous")
		assert.Equal(t, i, segments[i].Index)
	}
	assert.Equal(t, 3600.0, segments[len(segments)-1].EndOffset)
}

func TestSplit_ProbeFailureIsUnreadableMedia(t *testing.T) {
	runner := &fakeRunner{probeErr: errors.New("moov atom not found")}
	c := newTestChunker(runner)

	_, err := c.Split(context.Background(), "in.mp3", 50<<20, 20<<20, t.TempDir())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreadableMedia)
}

func TestSplit_EncodeFailureAborts(t *testing.T) {
	runner := &fakeRunner{
		probeOut: "3600.0",
		failOn:   map[int]error{1: errors.New("exit status 1")},
	}
	c := newTestChunker(runner)

	_, err := c.Split(context.Background(), "in.mp3", 60<<20, 20<<20, t.TempDir())

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnreadableMedia)
}

func TestPlanSegments(t *testing.T) {
	tests := []struct {
		name      string
		duration  float64
		sizeBytes int64
		wantCount int
		wantDur   float64
	}{
		{
			name:      "even split",
			duration:  3000,
			sizeBytes: 60 << 20, // 3 x 20MB
			wantCount: 3,
			wantDur:   1000,
		},
		{
			name:      "short segments clamped to floor",
			duration:  300,
			sizeBytes: 200 << 20, // naive split would give 30s segments
			wantCount: 5,
			wantDur:   60,
		},
		{
			name:      "long segments clamped to ceiling",
			duration:  3000,
			sizeBytes: 21 << 20, // naive split would give 1500s segments
			wantCount: 3,
			wantDur:   1200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := planSegments(tt.duration, tt.sizeBytes, 20<<20, 60, 1200)

			require.Len(t, spans, tt.wantCount)
			assert.InDelta(t, tt.wantDur, spans[0].end-spans[0].start, 0.001)
			assert.InDelta(t, tt.duration, spans[len(spans)-1].end, 0.001)
		})
	}
}

func TestPlanSegments_ZeroDuration(t *testing.T) {
	assert.Nil(t, planSegments(0, 50<<20, 20<<20, 60, 1200))
}

func TestFormatOffset(t *testing.T) {
	assert.Equal(t, "00:00", FormatOffset(0))
	assert.Equal(t, "01:05", FormatOffset(65.7))
	assert.Equal(t, "20:00", FormatOffset(1200))
}

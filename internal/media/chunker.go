package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dskam73/interview-automation/internal/domain"
)

// ErrUnreadableMedia wraps probe failures; the worker records the whole file
// as failed when it sees this.
var ErrUnreadableMedia = errors.New("unreadable media input")

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

type Config struct {
	FFmpegPath  string
	FFprobePath string

	MaxSegmentBytes   int64
	MinSegmentSeconds float64
	MaxSegmentSeconds float64

	Bitrate    string
	SampleRate int
	Channels   int
}

// Chunker splits an oversized audio input into bounded-duration segments the
// transcription service can accept. Inputs at or below the size constraint
// are left alone.
type Chunker struct {
	cfg    Config
	runner commandRunner
}

func NewChunker(cfg Config) *Chunker {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &Chunker{cfg: cfg, runner: &execRunner{}}
}

// Split returns the segments for inputPath, encoded into workDir. maxBytes
// is the per-segment size limit for this call; zero or negative falls back to
// the configured default. A nil slice with nil error means the input fits the
// constraint and should be processed whole.
func (c *Chunker) Split(ctx context.Context, inputPath string, sizeBytes, maxBytes int64, workDir string) ([]domain.Segment, error) {
	if maxBytes <= 0 {
		maxBytes = c.cfg.MaxSegmentBytes
	}
	if sizeBytes <= maxBytes {
		return nil, nil
	}

	duration, err := c.probeDuration(ctx, inputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableMedia, err)
	}

	spans := planSegments(duration, sizeBytes, maxBytes, c.cfg.MinSegmentSeconds, c.cfg.MaxSegmentSeconds)
	if len(spans) == 0 {
		return nil, fmt.Errorf("%w: zero duration", ErrUnreadableMedia)
	}

	segments := make([]domain.Segment, 0, len(spans))
	for i, span := range spans {
		outPath := filepath.Join(workDir, fmt.Sprintf("segment_%03d.mp3", i))
		args := c.encodeArgs(inputPath, outPath, span)

		if _, err := c.runner.Run(ctx, c.cfg.FFmpegPath, args...); err != nil {
			return nil, fmt.Errorf("encode segment %d: %w", i, err)
		}

		segments = append(segments, domain.Segment{
			Index:       i,
			StartOffset: span.start,
			EndOffset:   span.end,
			Path:        outPath,
		})
	}

	return segments, nil
}

func (c *Chunker) probeDuration(ctx context.Context, inputPath string) (float64, error) {
	res, err := c.runner.Run(ctx, c.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	raw := strings.TrimSpace(res.Stdout)
	if raw == "" {
		return 0, errors.New("ffprobe returned empty duration")
	}

	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}

	return duration, nil
}

func (c *Chunker) encodeArgs(inputPath, outPath string, span segmentSpan) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-ss", formatSeconds(span.start),
		"-t", formatSeconds(span.end - span.start),
		"-acodec", "libmp3lame",
		"-ab", c.cfg.Bitrate,
		"-ar", strconv.Itoa(c.cfg.SampleRate),
		"-ac", strconv.Itoa(c.cfg.Channels),
		outPath,
	}
}

type segmentSpan struct {
	start float64
	end   float64
}

// planSegments divides [0, duration) into contiguous spans. The per-segment
// duration is duration divided by the ceil(size/maxSize) estimate, clamped
// into the floor/ceiling band. The estimate ignores the size change caused
// by re-encoding; an oversized segment fails at the transcription stage and
// is recorded as a per-segment error.
func planSegments(duration float64, sizeBytes, maxBytes int64, floorSec, ceilSec float64) []segmentSpan {
	if duration <= 0 || maxBytes <= 0 {
		return nil
	}

	count := math.Ceil(float64(sizeBytes) / float64(maxBytes))
	if count < 1 {
		count = 1
	}

	segDur := duration / count
	if segDur < floorSec {
		segDur = floorSec
	}
	if segDur > ceilSec {
		segDur = ceilSec
	}

	var spans []segmentSpan
	for start := 0.0; start < duration; start += segDur {
		end := start + segDur
		if end > duration {
			end = duration
		}
		spans = append(spans, segmentSpan{start: start, end: end})
	}

	return spans
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// FormatOffset renders a segment time offset as MM:SS for transcript
// annotations.
func FormatOffset(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

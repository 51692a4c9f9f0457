package worker

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dskam73/interview-automation/internal/domain"
	jobstore "github.com/dskam73/interview-automation/internal/infra/store/job"
)

type memoryBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{blobs: make(map[string][]byte)}
}

func (b *memoryBlobs) Save(_ context.Context, reader io.Reader, name string, _ int64) (int64, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[name] = data
	return int64(len(data)), nil
}

func (b *memoryBlobs) Open(_ context.Context, name string) (io.ReadCloser, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[name]
	if !ok {
		return nil, 0, fmt.Errorf("blob not found: %s", name)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

type fakeChunker struct {
	segmentsFor map[string][]domain.Segment
	errFor      map[string]error
	gotMaxBytes []int64
}

func (c *fakeChunker) Split(_ context.Context, inputPath string, _, maxBytes int64, _ string) ([]domain.Segment, error) {
	name := filepath.Base(inputPath)
	c.gotMaxBytes = append(c.gotMaxBytes, maxBytes)
	if err := c.errFor[name]; err != nil {
		return nil, err
	}
	return c.segmentsFor[name], nil
}

type fakeTranscriber struct {
	errFor map[string]error // keyed by base name of the transcribed path
}

func (t *fakeTranscriber) Transcribe(_ context.Context, path string, _ domain.TranscriptionMode) (string, float64, error) {
	name := filepath.Base(path)
	if err := t.errFor[name]; err != nil {
		return "", 0, err
	}
	return "transcript of " + name, 10, nil
}

type fakeTextGen struct {
	err   error
	calls []string
}

func (g *fakeTextGen) Generate(_ context.Context, template, source string) (string, int, int, error) {
	g.calls = append(g.calls, template)
	if g.err != nil {
		return "", 0, 0, g.err
	}
	return "generated from: " + source, 100, 50, nil
}

type fakeNotifier struct {
	err        error
	recipients []string
	subject    string
	body       string
}

func (n *fakeNotifier) Notify(_ context.Context, recipients []string, subject, body string, _ []domain.Attachment) error {
	n.recipients = recipients
	n.subject = subject
	n.body = body
	return n.err
}

type env struct {
	store       *trackingStore
	blobs       *memoryBlobs
	chunker     *fakeChunker
	transcriber *fakeTranscriber
	textgen     *fakeTextGen
	notifier    *fakeNotifier
	worker      *Worker
}

type fullStore interface {
	JobStore
	Create(ctx context.Context, job domain.Job) error
}

// trackingStore records every committed snapshot so tests can assert on the
// sequence of states a poller could have observed.
type trackingStore struct {
	fullStore
	mu        sync.Mutex
	snapshots []domain.Job
}

func newTrackingStore(inner fullStore) *trackingStore {
	return &trackingStore{fullStore: inner}
}

func (s *trackingStore) Update(ctx context.Context, id string, mutate func(*domain.Job)) error {
	if err := s.fullStore.Update(ctx, id, mutate); err != nil {
		return err
	}
	job, err := s.fullStore.Get(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, job)
	s.mu.Unlock()
	return nil
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		store:       newTrackingStore(jobstore.NewMemoryStore()),
		blobs:       newMemoryBlobs(),
		chunker:     &fakeChunker{segmentsFor: map[string][]domain.Segment{}, errFor: map[string]error{}},
		transcriber: &fakeTranscriber{errFor: map[string]error{}},
		textgen:     &fakeTextGen{},
		notifier:    &fakeNotifier{},
	}
	e.worker = New(
		e.store, e.blobs, e.chunker, e.transcriber, e.textgen, e.notifier,
		Prompts{CleanupTemplate: "cleanup prompt", SummaryTemplate: "summary prompt"},
		slog.Default(),
	)
	return e
}

func (e *env) submitJob(t *testing.T, names []string, opts domain.Options) string {
	t.Helper()

	ctx := context.Background()
	job := domain.Job{
		ID:        "job-1",
		CreatedAt: time.Now(),
		Options:   opts,
		State:     domain.JobState{Status: domain.StatusQueued},
	}
	for i, name := range names {
		ref := fmt.Sprintf("job-1/input/%02d_%s", i, name)
		_, err := e.blobs.Save(ctx, strings.NewReader("payload of "+name), ref, 0)
		require.NoError(t, err)
		job.InputFiles = append(job.InputFiles, domain.InputFile{
			OriginalName: name,
			SizeBytes:    1000,
			PayloadRef:   ref,
		})
	}
	require.NoError(t, e.store.Create(ctx, job))
	return job.ID
}

func defaultOptions() domain.Options {
	return domain.Options{
		Cleanup:         true,
		Summarize:       true,
		Formats:         []domain.OutputFormat{domain.FormatMarkdown},
		Recipients:      []string{"alice@example.com"},
		Mode:            domain.ModeVerbatim,
		MaxSegmentBytes: 20 << 20,
	}
}

func TestProcess_HappyPath(t *testing.T) {
	e := newEnv(t)
	id := e.submitJob(t, []string{"call.mp3"}, defaultOptions())

	e.worker.Process(context.Background(), id)

	job, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, job.State.Status)
	assert.Equal(t, 100, job.State.ProgressPercent)
	assert.Equal(t, "job-1/bundle.zip", job.State.OutputBundleRef)
	assert.Empty(t, job.State.Errors)

	require.Len(t, job.State.CompletedFiles, 1)
	res := job.State.CompletedFiles[0]
	assert.Equal(t, "call.mp3", res.OriginalName)
	assert.Equal(t, "transcript of call.mp3", res.TranscribedText)
	assert.NotEmpty(t, res.CleanedText)
	assert.NotEmpty(t, res.SummaryText)

	assert.Equal(t, 10.0, job.Usage.AudioSeconds)
	assert.Equal(t, 200, job.Usage.InputUnits)
	assert.Equal(t, 100, job.Usage.OutputUnits)

	_, _, err = e.blobs.Open(context.Background(), "job-1/bundle.zip")
	assert.NoError(t, err)

	assert.Equal(t, []int64{20 << 20}, e.chunker.gotMaxBytes,
		"the job's segment size limit reaches the chunker")
	assert.Equal(t, []string{"alice@example.com"}, e.notifier.recipients)
}

func TestProcess_PartialFailureStillCompletes(t *testing.T) {
	e := newEnv(t)
	e.transcriber.errFor["two.mp3"] = errors.New("service unavailable")
	id := e.submitJob(t, []string{"one.mp3", "two.mp3", "three.mp3"}, defaultOptions())

	e.worker.Process(context.Background(), id)

	job, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, job.State.Status)

	require.Len(t, job.State.CompletedFiles, 2)
	assert.Equal(t, "one.mp3", job.State.CompletedFiles[0].OriginalName)
	assert.Equal(t, "three.mp3", job.State.CompletedFiles[1].OriginalName)

	require.Len(t, job.State.Errors, 1)
	assert.Equal(t, "two.mp3", job.State.Errors[0].FileRef)
	assert.Contains(t, job.State.Errors[0].Message, "service unavailable")
}

func TestProcess_AllFilesFailedMeansJobFailed(t *testing.T) {
	e := newEnv(t)
	e.transcriber.errFor["only.mp3"] = errors.New("boom")
	id := e.submitJob(t, []string{"only.mp3"}, defaultOptions())

	e.worker.Process(context.Background(), id)

	job, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, job.State.Status)
	assert.Empty(t, job.State.CompletedFiles)
	assert.Empty(t, job.State.OutputBundleRef)
}

func TestProcess_SegmentedTranscriptOrderAndFailures(t *testing.T) {
	e := newEnv(t)
	e.chunker.segmentsFor["long.mp3"] = []domain.Segment{
		{Index: 0, StartOffset: 0, EndOffset: 600, Path: "/tmp/seg_000.mp3"},
		{Index: 1, StartOffset: 600, EndOffset: 1200, Path: "/tmp/seg_001.mp3"},
		{Index: 2, StartOffset: 1200, EndOffset: 1500, Path: "/tmp/seg_002.mp3"},
	}
	e.transcriber.errFor["seg_001.mp3"] = errors.New("timeout")

	opts := defaultOptions()
	opts.Cleanup = false
	opts.Summarize = false
	id := e.submitJob(t, []string{"long.mp3"}, opts)

	e.worker.Process(context.Background(), id)

	job, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, job.State.Status)

	require.Len(t, job.State.CompletedFiles, 1)
	transcript := job.State.CompletedFiles[0].TranscribedText

	// surviving segments in source order, annotated with their offsets
	first := strings.Index(transcript, "[00:00 ~ 10:00]")
	third := strings.Index(transcript, "[20:00 ~ 25:00]")
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, third)
	assert.Less(t, first, third)
	assert.NotContains(t, transcript, "[10:00 ~ 20:00]")

	require.Len(t, job.State.Errors, 1)
	assert.Equal(t, "long.mp3#segment-1", job.State.Errors[0].FileRef)
}

func TestProcess_AllSegmentsFailedFailsTheFile(t *testing.T) {
	e := newEnv(t)
	e.chunker.segmentsFor["long.mp3"] = []domain.Segment{
		{Index: 0, StartOffset: 0, EndOffset: 600, Path: "/tmp/seg_000.mp3"},
		{Index: 1, StartOffset: 600, EndOffset: 1200, Path: "/tmp/seg_001.mp3"},
	}
	e.transcriber.errFor["seg_000.mp3"] = errors.New("boom")
	e.transcriber.errFor["seg_001.mp3"] = errors.New("boom")

	id := e.submitJob(t, []string{"long.mp3"}, defaultOptions())
	e.worker.Process(context.Background(), id)

	job, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, job.State.Status)

	var fileErrs []string
	for _, jerr := range job.State.Errors {
		fileErrs = append(fileErrs, jerr.FileRef)
	}
	assert.Contains(t, fileErrs, "long.mp3")
	assert.Contains(t, fileErrs, "long.mp3#segment-0")
	assert.Contains(t, fileErrs, "long.mp3#segment-1")
}

func TestProcess_OptionalStagesSkipped(t *testing.T) {
	e := newEnv(t)
	opts := defaultOptions()
	opts.Cleanup = false
	opts.Summarize = false
	id := e.submitJob(t, []string{"call.mp3"}, opts)

	e.worker.Process(context.Background(), id)

	job, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, job.State.Status)
	assert.Empty(t, e.textgen.calls, "no LLM calls for raw-transcript-only jobs")

	res := job.State.CompletedFiles[0]
	assert.NotEmpty(t, res.TranscribedText)
	assert.Empty(t, res.CleanedText)
	assert.Empty(t, res.SummaryText)
}

func TestProcess_CleanupFailureFallsBackToRawTranscript(t *testing.T) {
	e := newEnv(t)
	e.textgen.err = errors.New("model overloaded")

	id := e.submitJob(t, []string{"call.mp3"}, defaultOptions())
	e.worker.Process(context.Background(), id)

	job, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, job.State.Status)

	res := job.State.CompletedFiles[0]
	assert.NotEmpty(t, res.TranscribedText)
	assert.Empty(t, res.CleanedText)
	assert.Empty(t, res.SummaryText)
	assert.Len(t, job.State.Errors, 2) // cleanup and summarize both recorded
}

func TestProcess_TextFileBypassesTranscription(t *testing.T) {
	e := newEnv(t)
	opts := defaultOptions()
	opts.Summarize = false
	id := e.submitJob(t, []string{"notes.txt"}, opts)

	e.worker.Process(context.Background(), id)

	job, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, job.State.Status)

	res := job.State.CompletedFiles[0]
	assert.Empty(t, res.TranscribedText, "text input content is not a transcription artifact")
	assert.Equal(t, "generated from: payload of notes.txt", res.CleanedText)
	assert.Equal(t, 0.0, job.Usage.AudioSeconds)
}

func TestProcess_TextInputBundleHasNoRawTranscript(t *testing.T) {
	e := newEnv(t)
	id := e.submitJob(t, []string{"intro.txt", "qa.md"}, defaultOptions())

	e.worker.Process(context.Background(), id)

	job, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, job.State.Status)

	reader, size, err := e.blobs.Open(context.Background(), job.State.OutputBundleRef)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), size)
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	// a _whisper.txt raw transcript is an audio artifact; text inputs get
	// only their cleaned transcript and summary
	assert.ElementsMatch(t, []string{
		"intro_transcript.md", "intro_summary.md",
		"qa_transcript.md", "qa_summary.md",
	}, names)
}

func TestProcess_UnsupportedExtensionIsRecorded(t *testing.T) {
	e := newEnv(t)
	id := e.submitJob(t, []string{"slides.pdf", "call.mp3"}, defaultOptions())

	e.worker.Process(context.Background(), id)

	job, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, job.State.Status)
	require.Len(t, job.State.Errors, 1)
	assert.Equal(t, "slides.pdf", job.State.Errors[0].FileRef)
}

func TestProcess_NotificationFailureDoesNotFailJob(t *testing.T) {
	e := newEnv(t)
	e.notifier.err = errors.New("smtp connection refused")

	id := e.submitJob(t, []string{"call.mp3"}, defaultOptions())
	e.worker.Process(context.Background(), id)

	job, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, job.State.Status)
	assert.NotEmpty(t, job.State.OutputBundleRef)

	var found bool
	for _, jerr := range job.State.Errors {
		if strings.Contains(jerr.Message, "notification") {
			found = true
		}
	}
	assert.True(t, found, "notification failure should be recorded")
}

func TestProcess_SkipsNonQueuedJob(t *testing.T) {
	e := newEnv(t)
	id := e.submitJob(t, []string{"call.mp3"}, defaultOptions())

	require.NoError(t, e.store.Update(context.Background(), id, func(j *domain.Job) {
		j.State.Status = domain.StatusCompleted
		j.State.ProgressPercent = 100
	}))
	before, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)

	e.worker.Process(context.Background(), id)

	after, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, before.State, after.State)
}

func TestProcess_ProgressAndStatusAreMonotone(t *testing.T) {
	e := newEnv(t)
	e.transcriber.errFor["two.mp3"] = errors.New("boom")
	id := e.submitJob(t, []string{"one.mp3", "two.mp3", "three.mp3"}, defaultOptions())

	e.worker.Process(context.Background(), id)

	rank := map[domain.JobStatus]int{
		domain.StatusQueued:    0,
		domain.StatusRunning:   1,
		domain.StatusCompleted: 2,
		domain.StatusFailed:    2,
	}

	lastPct := 0
	lastRank := 0
	for _, snap := range e.store.snapshots {
		assert.GreaterOrEqual(t, snap.State.ProgressPercent, lastPct,
			"progress must never move backwards")
		assert.GreaterOrEqual(t, rank[snap.State.Status], lastRank,
			"status must only move forward")
		lastPct = snap.State.ProgressPercent
		lastRank = rank[snap.State.Status]
	}
	assert.Equal(t, 100, lastPct)
}

package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dskam73/interview-automation/internal/domain"
	"github.com/dskam73/interview-automation/internal/media"
	"github.com/dskam73/interview-automation/internal/render"
)

type JobStore interface {
	Get(ctx context.Context, id string) (domain.Job, error)
	Update(ctx context.Context, id string, mutate func(*domain.Job)) error
}

type BlobStore interface {
	Save(ctx context.Context, reader io.Reader, name string, size int64) (int64, error)
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
}

type Chunker interface {
	Split(ctx context.Context, inputPath string, sizeBytes, maxBytes int64, workDir string) ([]domain.Segment, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string, mode domain.TranscriptionMode) (string, float64, error)
}

type TextGenerator interface {
	Generate(ctx context.Context, template, source string) (string, int, int, error)
}

type Notifier interface {
	Notify(ctx context.Context, recipients []string, subject, body string, attachments []domain.Attachment) error
}

type Prompts struct {
	CleanupTemplate string
	SummaryTemplate string
}

// Worker runs one admitted job from first stage to terminal status. A single
// goroutine owns a job for its whole lifetime; every state change goes
// through the job store so pollers always see a committed snapshot.
type Worker struct {
	store       JobStore
	blobs       BlobStore
	chunker     Chunker
	transcriber Transcriber
	textgen     TextGenerator
	notifier    Notifier
	prompts     Prompts
	log         *slog.Logger
}

func New(
	store JobStore,
	blobs BlobStore,
	chunker Chunker,
	transcriber Transcriber,
	textgen TextGenerator,
	notifier Notifier,
	prompts Prompts,
	log *slog.Logger,
) *Worker {
	return &Worker{
		store:       store,
		blobs:       blobs,
		chunker:     chunker,
		transcriber: transcriber,
		textgen:     textgen,
		notifier:    notifier,
		prompts:     prompts,
		log:         log,
	}
}

var audioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".mp4":  true,
	".ogg":  true,
	".webm": true,
}

var textExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// Process runs the full pipeline for jobID. It never returns an error: every
// outcome, including a panic, ends as a terminal status in the job store.
func (w *Worker) Process(ctx context.Context, jobID string) {
	log := w.log.With(slog.String("job_id", jobID))

	job, err := w.store.Get(ctx, jobID)
	if err != nil {
		log.Error("cannot load job", slog.String("error", err.Error()))
		return
	}
	if job.State.Status != domain.StatusQueued {
		// redelivery of an already started job, nothing to do
		log.Warn("skipping job, not in queued status",
			slog.String("status", string(job.State.Status)))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("job processing panicked", slog.Any("panic", r))
			w.failJob(context.WithoutCancel(ctx), jobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	// Options are a snapshot taken at admission; nothing re-reads them.
	opts := job.Options
	prog := newProgress(len(job.InputFiles), opts)

	if err := w.store.Update(ctx, jobID, func(j *domain.Job) {
		j.State.Status = domain.StatusRunning
		j.State.CurrentStage = domain.StageChunking
	}); err != nil {
		log.Error("cannot mark job running", slog.String("error", err.Error()))
		return
	}

	log.Info("job started",
		slog.Int("files", len(job.InputFiles)),
		slog.Bool("cleanup", opts.Cleanup),
		slog.Bool("summarize", opts.Summarize),
	)

	for i, file := range job.InputFiles {
		w.processFile(ctx, log, jobID, i, file, opts, prog)
	}

	final, err := w.store.Get(ctx, jobID)
	if err != nil {
		log.Error("cannot reload job before packaging", slog.String("error", err.Error()))
		return
	}

	if len(final.State.CompletedFiles) == 0 {
		w.failJob(ctx, jobID, "no file produced a usable result")
		log.Warn("job failed, no usable results")
		return
	}

	bundleRef, bundleData, err := w.packageResults(ctx, jobID, final, prog)
	if err != nil {
		w.failJob(ctx, jobID, fmt.Sprintf("packaging: %v", err))
		log.Error("packaging failed", slog.String("error", err.Error()))
		return
	}

	w.notify(ctx, log, jobID, final, bundleData)

	if err := w.store.Update(ctx, jobID, func(j *domain.Job) {
		j.State.Status = domain.StatusCompleted
		j.State.OutputBundleRef = bundleRef
		j.State.ProgressPercent = 100
	}); err != nil {
		log.Error("cannot mark job completed", slog.String("error", err.Error()))
		return
	}

	log.Info("job completed",
		slog.Int("results", len(final.State.CompletedFiles)),
		slog.Int("errors", len(final.State.Errors)),
	)
}

// processFile runs chunk -> transcribe -> cleanup -> summarize for a single
// input. Failures are recorded as job errors and the worker moves on; only
// the caller decides whether the job as a whole failed.
func (w *Worker) processFile(ctx context.Context, log *slog.Logger, jobID string, index int, file domain.InputFile, opts domain.Options, prog *progress) {
	log = log.With(slog.String("file", file.OriginalName))

	w.checkpoint(ctx, jobID, prog, func(j *domain.Job) {
		j.State.CurrentFileIndex = index
		j.State.CurrentStage = domain.StageChunking
	})

	workDir, err := os.MkdirTemp("", "interview-job-*")
	if err != nil {
		w.recordError(ctx, jobID, prog.skipFile(), file.OriginalName, fmt.Sprintf("create work dir: %v", err))
		return
	}
	defer os.RemoveAll(workDir)

	result := domain.FileResult{OriginalName: file.OriginalName}
	var usage domain.Usage

	transcript, audioSeconds, textInput, ok := w.transcribeFile(ctx, log, jobID, workDir, file, opts, prog)
	if !ok {
		return
	}
	// A text input's content feeds the later stages but is not itself a
	// transcription artifact, so it never lands in the bundle.
	if !textInput {
		result.TranscribedText = transcript
		usage.AudioSeconds = audioSeconds
	}

	text := transcript

	if opts.Cleanup {
		w.checkpoint(ctx, jobID, prog, func(j *domain.Job) {
			j.State.CurrentStage = domain.StageCleanup
		})

		cleaned, in, out, err := w.textgen.Generate(ctx, w.prompts.CleanupTemplate, text)
		if err != nil {
			w.recordError(ctx, jobID, prog.advance(1), file.OriginalName, fmt.Sprintf("cleanup: %v", err))
			log.Warn("cleanup failed, keeping raw transcript", slog.String("error", err.Error()))
		} else {
			result.CleanedText = cleaned
			text = cleaned
			usage.InputUnits += in
			usage.OutputUnits += out
			w.checkpoint(ctx, jobID, prog.advance(1), nil)
		}
	}

	if opts.Summarize {
		w.checkpoint(ctx, jobID, prog, func(j *domain.Job) {
			j.State.CurrentStage = domain.StageSummarizing
		})

		summary, in, out, err := w.textgen.Generate(ctx, w.prompts.SummaryTemplate, text)
		if err != nil {
			w.recordError(ctx, jobID, prog.advance(1), file.OriginalName, fmt.Sprintf("summarize: %v", err))
			log.Warn("summarize failed", slog.String("error", err.Error()))
		} else {
			// carry the transcript's heading block (title, date,
			// participants) over to the summary when the model drops it
			if header := render.ExtractHeader(text); header != "" && !strings.HasPrefix(summary, "# ") {
				summary = header + "\n\n" + summary
			}
			result.SummaryText = summary
			usage.InputUnits += in
			usage.OutputUnits += out
			w.checkpoint(ctx, jobID, prog.advance(1), nil)
		}
	}

	w.checkpoint(ctx, jobID, prog, func(j *domain.Job) {
		j.State.CompletedFiles = append(j.State.CompletedFiles, result)
		j.Usage.AudioSeconds += usage.AudioSeconds
		j.Usage.InputUnits += usage.InputUnits
		j.Usage.OutputUnits += usage.OutputUnits
	})
}

// transcribeFile fetches the payload and produces the source text for the
// later stages: the raw transcript for audio (whole-file or reassembled from
// segments), or the file content itself for text inputs (textInput reports
// which). ok is false when no usable text exists.
func (w *Worker) transcribeFile(ctx context.Context, log *slog.Logger, jobID, workDir string, file domain.InputFile, opts domain.Options, prog *progress) (text string, audioSeconds float64, textInput, ok bool) {
	localPath, err := w.fetchPayload(ctx, workDir, file)
	if err != nil {
		w.recordError(ctx, jobID, prog.skipFile(), file.OriginalName, fmt.Sprintf("fetch payload: %v", err))
		return "", 0, false, false
	}

	ext := strings.ToLower(filepath.Ext(file.OriginalName))

	if textExtensions[ext] {
		// text inputs bypass transcription entirely
		data, err := os.ReadFile(localPath)
		if err != nil {
			w.recordError(ctx, jobID, prog.skipFile(), file.OriginalName, fmt.Sprintf("read text input: %v", err))
			return "", 0, true, false
		}
		w.checkpoint(ctx, jobID, prog.advance(1), nil)
		return string(data), 0, true, true
	}

	if !audioExtensions[ext] {
		w.recordError(ctx, jobID, prog.skipFile(), file.OriginalName, fmt.Sprintf("unsupported file type %q", ext))
		return "", 0, false, false
	}

	segments, err := w.chunker.Split(ctx, localPath, file.SizeBytes, opts.MaxSegmentBytes, workDir)
	if err != nil {
		w.recordError(ctx, jobID, prog.skipFile(), file.OriginalName, fmt.Sprintf("chunking: %v", err))
		return "", 0, false, false
	}

	w.checkpoint(ctx, jobID, prog, func(j *domain.Job) {
		j.State.CurrentStage = domain.StageTranscribing
	})

	if segments == nil {
		text, seconds, err := w.transcriber.Transcribe(ctx, localPath, opts.Mode)
		if err != nil {
			w.recordError(ctx, jobID, prog.skipFile(), file.OriginalName, fmt.Sprintf("transcribe: %v", err))
			return "", 0, false, false
		}
		w.checkpoint(ctx, jobID, prog.advance(1), nil)
		return text, seconds, false, true
	}

	log.Info("transcribing in segments", slog.Int("segments", len(segments)))

	var blocks []string
	var totalSeconds float64
	for _, seg := range segments {
		text, seconds, err := w.transcriber.Transcribe(ctx, seg.Path, opts.Mode)
		os.Remove(seg.Path)

		if err != nil {
			ref := fmt.Sprintf("%s#segment-%d", file.OriginalName, seg.Index)
			w.recordError(ctx, jobID, prog, ref, fmt.Sprintf("transcribe segment: %v", err))
			continue
		}

		blocks = append(blocks, fmt.Sprintf("[%s ~ %s]\n%s",
			media.FormatOffset(seg.StartOffset),
			media.FormatOffset(seg.EndOffset),
			text,
		))
		totalSeconds += seconds
	}

	if len(blocks) == 0 {
		w.recordError(ctx, jobID, prog.skipFile(), file.OriginalName, "all segments failed to transcribe")
		return "", 0, false, false
	}

	w.checkpoint(ctx, jobID, prog.advance(1), nil)
	return strings.Join(blocks, "\n\n"), totalSeconds, false, true
}

func (w *Worker) fetchPayload(ctx context.Context, workDir string, file domain.InputFile) (string, error) {
	rc, _, err := w.blobs.Open(ctx, file.PayloadRef)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	localPath := filepath.Join(workDir, filepath.Base(file.OriginalName))
	f, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local copy: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return "", fmt.Errorf("copy payload: %w", err)
	}

	return localPath, nil
}

func (w *Worker) packageResults(ctx context.Context, jobID string, job domain.Job, prog *progress) (string, []byte, error) {
	w.checkpoint(ctx, jobID, prog, func(j *domain.Job) {
		j.State.CurrentStage = domain.StagePackaging
	})

	data, err := render.BuildBundle(job.State.CompletedFiles, job.Options.Formats)
	if err != nil {
		return "", nil, err
	}

	ref := jobID + "/bundle.zip"
	if _, err := w.blobs.Save(ctx, bytes.NewReader(data), ref, int64(len(data))); err != nil {
		return "", nil, fmt.Errorf("save bundle: %w", err)
	}

	w.checkpoint(ctx, jobID, prog.advance(1), nil)
	return ref, data, nil
}

// notify sends the completion email. A delivery failure never fails the job,
// the bundle is already stored and downloadable.
func (w *Worker) notify(ctx context.Context, log *slog.Logger, jobID string, job domain.Job, bundleData []byte) {
	if len(job.Options.Recipients) == 0 {
		return
	}

	w.checkpoint(ctx, jobID, nil, func(j *domain.Job) {
		j.State.CurrentStage = domain.StageNotifying
	})

	subject := fmt.Sprintf("Interview processing finished %s (%s)",
		time.Now().Format("2006-01-02"), jobID)
	body := buildNotificationBody(job)

	attachments := []domain.Attachment{{Name: "results.zip", Data: bundleData}}

	if err := w.notifier.Notify(ctx, job.Options.Recipients, subject, body, attachments); err != nil {
		log.Warn("notification failed", slog.String("error", err.Error()))
		w.recordError(ctx, jobID, nil, "", fmt.Sprintf("notification: %v", err))
	}
}

func buildNotificationBody(job domain.Job) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Processing of %d file(s) has finished.\n\n", len(job.InputFiles))
	b.WriteString("Processed files:\n")
	for _, res := range job.State.CompletedFiles {
		fmt.Fprintf(&b, "  - %s\n", res.OriginalName)
	}

	if len(job.State.Errors) > 0 {
		b.WriteString("\nProblems encountered:\n")
		for _, jerr := range job.State.Errors {
			if jerr.FileRef != "" {
				fmt.Fprintf(&b, "  - %s: %s\n", jerr.FileRef, jerr.Message)
			} else {
				fmt.Fprintf(&b, "  - %s\n", jerr.Message)
			}
		}
	}

	b.WriteString("\nThe full results are attached and available for download until the retention window expires.\n")
	return b.String()
}

// progress counts completed pipeline units. Each file contributes one unit
// per enabled stage (transcription always, cleanup and summarization when
// requested) plus a single packaging unit for the whole job. 100 is reserved
// for the terminal write.
type progress struct {
	perFile int
	done    int
	total   int
}

func newProgress(files int, opts domain.Options) *progress {
	perFile := 1
	if opts.Cleanup {
		perFile++
	}
	if opts.Summarize {
		perFile++
	}
	return &progress{
		perFile: perFile,
		total:   files*perFile + 1,
	}
}

func (p *progress) advance(n int) *progress {
	p.done += n
	return p
}

// skipFile burns all remaining units of the current file so a failed file
// still moves the bar.
func (p *progress) skipFile() *progress {
	p.done += p.perFile
	return p
}

func (p *progress) percent() int {
	if p.total == 0 {
		return 0
	}
	pct := p.done * 100 / p.total
	if pct > 99 {
		pct = 99
	}
	return pct
}

// checkpoint persists a state mutation together with the current progress
// value. Progress only moves forward; a replayed or delayed write can never
// lower the percentage a poller has already seen.
func (w *Worker) checkpoint(ctx context.Context, jobID string, prog *progress, mutate func(*domain.Job)) {
	err := w.store.Update(ctx, jobID, func(j *domain.Job) {
		if mutate != nil {
			mutate(j)
		}
		if prog != nil {
			if p := prog.percent(); p > j.State.ProgressPercent {
				j.State.ProgressPercent = p
			}
		}
	})
	if err != nil {
		w.log.Error("checkpoint failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) recordError(ctx context.Context, jobID string, prog *progress, fileRef, message string) {
	err := w.store.Update(ctx, jobID, func(j *domain.Job) {
		j.State.Errors = append(j.State.Errors, domain.JobError{
			FileRef:   fileRef,
			Message:   message,
			Timestamp: time.Now().UTC(),
		})
		if prog != nil {
			if p := prog.percent(); p > j.State.ProgressPercent {
				j.State.ProgressPercent = p
			}
		}
	})
	if err != nil {
		w.log.Error("cannot record job error",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) failJob(ctx context.Context, jobID, message string) {
	err := w.store.Update(ctx, jobID, func(j *domain.Job) {
		if j.State.Status.IsTerminal() {
			return
		}
		j.State.Status = domain.StatusFailed
		j.State.Errors = append(j.State.Errors, domain.JobError{
			Message:   message,
			Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		w.log.Error("cannot mark job failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

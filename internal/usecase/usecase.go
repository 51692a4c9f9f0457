package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dskam73/interview-automation/internal/domain"
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, error)
	Update(ctx context.Context, id string, mutate func(*domain.Job)) error
	ListActive(ctx context.Context, maxAge time.Duration) ([]domain.Job, error)
	EvictOlderThan(ctx context.Context, maxAge time.Duration) ([]domain.Job, error)
}

type BlobStore interface {
	Save(ctx context.Context, reader io.Reader, name string, size int64) (int64, error)
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, name string) error
}

type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

// SubmittedFile is one uploaded part of a batch, not yet persisted.
type SubmittedFile struct {
	Name    string
	Size    int64
	Content io.Reader
}

type usecase struct {
	maxBatchFiles   int
	retention       time.Duration
	maxSegmentBytes int64
	jobStore        JobStore
	blobStore       BlobStore
	queue           JobQueue
}

func New(
	maxBatchFiles int,
	retention time.Duration,
	maxSegmentBytes int64,
	jobStore JobStore,
	blobStore BlobStore,
	queue JobQueue,
) *usecase {
	return &usecase{
		maxBatchFiles:   maxBatchFiles,
		retention:       retention,
		maxSegmentBytes: maxSegmentBytes,
		jobStore:        jobStore,
		blobStore:       blobStore,
		queue:           queue,
	}
}

// Submit validates and admits a batch. On return the job is durably queued
// and the id can be polled immediately; all processing happens later in the
// background runner.
func (uc *usecase) Submit(ctx context.Context, files []SubmittedFile, opts domain.Options) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("%w: no files", domain.ErrInvalidSubmission)
	}
	if len(files) > uc.maxBatchFiles {
		return "", fmt.Errorf("%w: at most %d files per batch", domain.ErrInvalidSubmission, uc.maxBatchFiles)
	}
	if len(opts.Recipients) == 0 {
		return "", fmt.Errorf("%w: at least one recipient is required", domain.ErrInvalidSubmission)
	}
	if len(opts.Formats) == 0 {
		opts.Formats = []domain.OutputFormat{domain.FormatMarkdown}
	}
	for _, f := range opts.Formats {
		if !domain.KnownFormat(f) {
			return "", fmt.Errorf("%w: unknown output format %q", domain.ErrInvalidSubmission, f)
		}
	}
	if opts.Mode == "" {
		opts.Mode = domain.ModeVerbatim
	}
	if opts.Mode != domain.ModeVerbatim && opts.Mode != domain.ModeTranslate {
		return "", fmt.Errorf("%w: unknown transcription mode %q", domain.ErrInvalidSubmission, opts.Mode)
	}
	opts.MaxSegmentBytes = uc.maxSegmentBytes

	// piggyback retention eviction on admissions so an idle deployment does
	// not depend solely on the background ticker
	uc.evictExpired(ctx)

	jobID := uuid.NewString()

	inputFiles := make([]domain.InputFile, 0, len(files))
	for i, file := range files {
		ref := fmt.Sprintf("%s/input/%02d_%s", jobID, i, sanitizeName(file.Name))

		written, err := uc.blobStore.Save(ctx, file.Content, ref, file.Size)
		if err != nil {
			uc.deleteBlobs(ctx, inputFiles)
			return "", fmt.Errorf("save payload %s: %w", file.Name, err)
		}

		inputFiles = append(inputFiles, domain.InputFile{
			OriginalName: file.Name,
			SizeBytes:    written,
			PayloadRef:   ref,
		})
	}

	job := domain.Job{
		ID:         jobID,
		CreatedAt:  time.Now().UTC(),
		InputFiles: inputFiles,
		Options:    opts,
		State:      domain.JobState{Status: domain.StatusQueued},
	}

	if err := uc.jobStore.Create(ctx, job); err != nil {
		uc.deleteBlobs(ctx, inputFiles)
		return "", fmt.Errorf("create job: %w", err)
	}

	slog.Debug("enqueue job", slog.String("job_id", jobID))
	if err := uc.queue.Enqueue(ctx, jobID); err != nil {
		slog.Error("enqueue failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		_ = uc.jobStore.Update(ctx, jobID, func(j *domain.Job) {
			j.State.Status = domain.StatusFailed
			j.State.Errors = append(j.State.Errors, domain.JobError{
				Message:   "admission: " + err.Error(),
				Timestamp: time.Now().UTC(),
			})
		})
		return "", fmt.Errorf("enqueue: %w", err)
	}

	return jobID, nil
}

func (uc *usecase) GetStatus(ctx context.Context, jobID string) (domain.StatusResponse, error) {
	job, err := uc.jobStore.Get(ctx, jobID)
	if err != nil {
		return domain.StatusResponse{}, err
	}

	return statusResponse(job), nil
}

// ListJobs reports every job still inside the retention window, newest
// first.
func (uc *usecase) ListJobs(ctx context.Context) ([]domain.StatusResponse, error) {
	jobs, err := uc.jobStore.ListActive(ctx, uc.retention)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	out := make([]domain.StatusResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, statusResponse(job))
	}

	return out, nil
}

func statusResponse(job domain.Job) domain.StatusResponse {
	resp := domain.StatusResponse{
		ID:                 job.ID,
		Status:             job.State.Status,
		ProgressPercent:    job.State.ProgressPercent,
		CompletedFileCount: len(job.State.CompletedFiles),
		TotalFileCount:     len(job.InputFiles),
		Errors:             job.State.Errors,
	}

	if !job.State.Status.IsTerminal() {
		resp.CurrentStage = job.State.CurrentStage
	}
	if job.State.Status == domain.StatusCompleted {
		resp.BundleURL = fmt.Sprintf("/jobs/%s/bundle", job.ID)
	}

	return resp
}

func (uc *usecase) GetBundle(ctx context.Context, jobID string) (domain.DownloadResult, error) {
	job, err := uc.jobStore.Get(ctx, jobID)
	if err != nil {
		return domain.DownloadResult{}, err
	}

	switch job.State.Status {
	case domain.StatusCompleted:
		if job.State.OutputBundleRef == "" {
			return domain.DownloadResult{}, fmt.Errorf("completed job without bundle ref")
		}

		f, size, err := uc.blobStore.Open(ctx, job.State.OutputBundleRef)
		if err != nil {
			return domain.DownloadResult{}, fmt.Errorf("open bundle: %w", err)
		}

		return domain.DownloadResult{
			FileName: fmt.Sprintf("interview_results_%s.zip", shortID(job.ID)),
			Size:     size,
			Content:  f,
		}, nil

	case domain.StatusFailed:
		return domain.DownloadResult{}, domain.ErrJobFailed

	default:
		return domain.DownloadResult{}, domain.ErrBundleNotReady
	}
}

func (uc *usecase) evictExpired(ctx context.Context) {
	evicted, err := uc.jobStore.EvictOlderThan(ctx, uc.retention)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("eviction on submit", slog.String("error", err.Error()))
		return
	}

	for _, job := range evicted {
		uc.deleteBlobs(ctx, job.InputFiles)
		if job.State.OutputBundleRef != "" {
			if err := uc.blobStore.Delete(ctx, job.State.OutputBundleRef); err != nil {
				slog.Warn("delete evicted bundle", slog.String("error", err.Error()))
			}
		}
	}
}

func (uc *usecase) deleteBlobs(ctx context.Context, files []domain.InputFile) {
	for _, file := range files {
		if err := uc.blobStore.Delete(ctx, file.PayloadRef); err != nil {
			slog.Warn("delete payload blob",
				slog.String("ref", file.PayloadRef),
				slog.String("error", err.Error()),
			)
		}
	}
}

func sanitizeName(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	if base == "." || base == string(filepath.Separator) {
		return "upload"
	}
	return base
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

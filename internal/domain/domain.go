package domain

import (
	"errors"
	"io"
	"time"
)

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether a status can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Stage string

const (
	StageChunking     Stage = "chunking"
	StageTranscribing Stage = "transcribing"
	StageCleanup      Stage = "cleanup"
	StageSummarizing  Stage = "summarizing"
	StagePackaging    Stage = "packaging"
	StageNotifying    Stage = "notifying"
)

type TranscriptionMode string

const (
	ModeVerbatim  TranscriptionMode = "verbatim"
	ModeTranslate TranscriptionMode = "translateToEnglish"
)

type OutputFormat string

const (
	FormatMarkdown OutputFormat = "plainMarkdown"
	FormatWord     OutputFormat = "wordDocument"
	FormatText     OutputFormat = "plainText"
)

// KnownFormat reports whether f is a renderable output format.
func KnownFormat(f OutputFormat) bool {
	switch f {
	case FormatMarkdown, FormatWord, FormatText:
		return true
	}
	return false
}

// InputFile describes one submitted file. PayloadRef points at the blob
// store object holding the uploaded bytes.
type InputFile struct {
	OriginalName string `json:"original_name"`
	SizeBytes    int64  `json:"size_bytes"`
	PayloadRef   string `json:"payload_ref"`
}

// Options is the configuration snapshot captured at submission. It is
// immutable for the job's lifetime; the worker receives it by value and
// never consults any caller-session state.
type Options struct {
	Cleanup         bool              `json:"cleanup"`
	Summarize       bool              `json:"summarize"`
	Formats         []OutputFormat    `json:"formats"`
	Recipients      []string          `json:"recipients"`
	Mode            TranscriptionMode `json:"transcription_mode"`
	MaxSegmentBytes int64             `json:"max_segment_bytes"`
}

// JobError records one partial failure. Entries are append-only.
type JobError struct {
	FileRef   string    `json:"file_ref"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// FileResult is the per-input-file outcome. A field is present only if the
// corresponding stage ran and succeeded; a missing field is not an error.
type FileResult struct {
	OriginalName    string `json:"original_name"`
	TranscribedText string `json:"transcribed_text,omitempty"`
	CleanedText     string `json:"cleaned_text,omitempty"`
	SummaryText     string `json:"summary_text,omitempty"`
}

// Usage accumulates cost-accounting counters reported by the remote
// capabilities. Never used for control flow.
type Usage struct {
	AudioSeconds float64 `json:"audio_seconds"`
	InputUnits   int     `json:"input_units"`
	OutputUnits  int     `json:"output_units"`
}

// JobState is the mutable progress record, persisted after every meaningful
// step. Owned exclusively by the job's worker while the status is
// queued/running; read-only once terminal.
type JobState struct {
	Status           JobStatus    `json:"status"`
	CurrentFileIndex int          `json:"current_file_index"`
	CurrentStage     Stage        `json:"current_stage"`
	CompletedFiles   []FileResult `json:"completed_files"`
	Errors           []JobError   `json:"errors"`
	ProgressPercent  int          `json:"progress_percent"`
	OutputBundleRef  string       `json:"output_bundle_ref,omitempty"`
}

// Job is one caller-submitted batch-processing request and its full
// lifecycle record. Everything outside State is immutable after admission.
type Job struct {
	ID         string      `json:"id"`
	CreatedAt  time.Time   `json:"created_at"`
	InputFiles []InputFile `json:"input_files"`
	Options    Options     `json:"options"`
	State      JobState    `json:"state"`
	Usage      Usage       `json:"usage"`
}

// Segment is a bounded-duration slice of an oversized media input. Segments
// live on the worker's local disk for the duration of one file and are never
// persisted in the job store.
type Segment struct {
	Index       int
	StartOffset float64
	EndOffset   float64
	Path        string
}

// Attachment is an in-memory file handed to the notification capability.
type Attachment struct {
	Name string
	Data []byte
}

type SubmitResponse struct {
	ID string `json:"id"`
}

type StatusResponse struct {
	ID                 string     `json:"id"`
	Status             JobStatus  `json:"status"`
	CurrentStage       Stage      `json:"current_stage,omitempty"`
	ProgressPercent    int        `json:"progress_percent"`
	CompletedFileCount int        `json:"completed_file_count"`
	TotalFileCount     int        `json:"total_file_count"`
	Errors             []JobError `json:"errors,omitempty"`
	BundleURL          string     `json:"bundle_url,omitempty"`
}

type DownloadResult struct {
	FileName string
	Size     int64
	Content  io.ReadCloser
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobFailed         = errors.New("job failed")
	ErrBundleNotReady    = errors.New("bundle not ready")
	ErrInvalidSubmission = errors.New("invalid submission")
)

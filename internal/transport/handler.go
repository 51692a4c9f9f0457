package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dskam73/interview-automation/internal/domain"
	"github.com/dskam73/interview-automation/internal/usecase"
)

type Usecase interface {
	Submit(ctx context.Context, files []usecase.SubmittedFile, opts domain.Options) (string, error)
	GetStatus(ctx context.Context, jobID string) (domain.StatusResponse, error)
	GetBundle(ctx context.Context, jobID string) (domain.DownloadResult, error)
	ListJobs(ctx context.Context) ([]domain.StatusResponse, error)
}

type handler struct {
	maxUploadBytes int64
	usecase        Usecase
}

func NewHandler(maxUploadBytesMb int64, uc Usecase) *handler {
	return &handler{
		maxUploadBytes: maxUploadBytesMb << 20,
		usecase:        uc,
	}
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	requestID := uuid.NewString()
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "submit"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		logger.Error("ParseMultipartForm", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "unable to parse multipart form")
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		logger.Warn("missing file parts")
		writeError(w, http.StatusBadRequest, "at least one `files` part is required")
		return
	}

	files := make([]usecase.SubmittedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			logger.Error("open multipart file", slog.String("error", err.Error()))
			writeError(w, http.StatusBadRequest, "unable to read uploaded file")
			return
		}
		defer f.Close()

		files = append(files, usecase.SubmittedFile{
			Name:    fh.Filename,
			Size:    fh.Size,
			Content: f,
		})
	}

	opts := parseOptions(r)
	logger = logger.With(
		slog.Int("files", len(files)),
		slog.Bool("cleanup", opts.Cleanup),
		slog.Bool("summarize", opts.Summarize),
	)

	jobID, err := h.usecase.Submit(r.Context(), files, opts)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSubmission) {
			logger.Warn("rejected submission", slog.String("error", err.Error()))
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("Submit usecase", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cannot admit job")
		return
	}

	logger.Info("job admitted", slog.String("job_id", jobID))
	writeJSON(w, http.StatusAccepted, domain.SubmitResponse{ID: jobID})
}

func parseOptions(r *http.Request) domain.Options {
	cleanup, _ := strconv.ParseBool(r.FormValue("cleanup"))
	summarize, _ := strconv.ParseBool(r.FormValue("summarize"))

	var formats []domain.OutputFormat
	for _, raw := range splitMulti(r.Form["formats"]) {
		formats = append(formats, domain.OutputFormat(raw))
	}

	return domain.Options{
		Cleanup:    cleanup,
		Summarize:  summarize,
		Formats:    formats,
		Recipients: splitMulti(r.Form["recipients"]),
		Mode:       domain.TranscriptionMode(r.FormValue("transcription_mode")),
	}
}

// splitMulti accepts both repeated form fields and a single comma-separated
// value.
func splitMulti(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "list"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	jobs, err := h.usecase.ListJobs(r.Context())
	if err != nil {
		logger.Error("ListJobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	requestID := uuid.NewString()
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "status"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	jobID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/jobs/"), "/")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	resp, err := h.usecase.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		logger.Error("GetStatus", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) bundle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	requestID := uuid.NewString()
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "bundle"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	jobID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/jobs/"), "/bundle")
	jobID = strings.TrimSuffix(jobID, "/")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	result, err := h.usecase.GetBundle(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, domain.ErrJobFailed):
			writeJSON(w, http.StatusConflict, domain.StatusResponse{
				ID:     jobID,
				Status: domain.StatusFailed,
			})
		case errors.Is(err, domain.ErrBundleNotReady):
			writeJSON(w, http.StatusTooEarly, domain.StatusResponse{
				ID:     jobID,
				Status: domain.StatusRunning,
			})
		default:
			logger.Error("GetBundle", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "cannot get result bundle")
		}
		return
	}
	defer result.Content.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		`attachment; filename="`+result.FileName+`"`)

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, result.Content); err != nil {
		logger.Error("bundle: send file",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	resp := domain.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}

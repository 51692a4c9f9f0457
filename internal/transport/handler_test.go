package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dskam73/interview-automation/internal/domain"
	"github.com/dskam73/interview-automation/internal/usecase"
)

type fakeUsecase struct {
	submitID  string
	submitErr error
	gotFiles  []string
	gotOpts   domain.Options
	status    domain.StatusResponse
	statusErr error
	bundle    domain.DownloadResult
	bundleErr error
	jobs      []domain.StatusResponse
	jobsErr   error
}

func (f *fakeUsecase) Submit(_ context.Context, files []usecase.SubmittedFile, opts domain.Options) (string, error) {
	for _, file := range files {
		f.gotFiles = append(f.gotFiles, file.Name)
	}
	f.gotOpts = opts
	return f.submitID, f.submitErr
}

func (f *fakeUsecase) GetStatus(_ context.Context, _ string) (domain.StatusResponse, error) {
	return f.status, f.statusErr
}

func (f *fakeUsecase) GetBundle(_ context.Context, _ string) (domain.DownloadResult, error) {
	return f.bundle, f.bundleErr
}

func (f *fakeUsecase) ListJobs(_ context.Context) ([]domain.StatusResponse, error) {
	return f.jobs, f.jobsErr
}

func newServer(uc Usecase) *httptest.Server {
	mux := NewRouter(NewHandler(200, uc)).MountRoutes(http.NewServeMux())
	return httptest.NewServer(WithRecover(LogMiddleware(mux)))
}

func multipartBody(t *testing.T, fileNames []string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range fileNames {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("fake audio bytes"))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestSubmitEndpoint(t *testing.T) {
	uc := &fakeUsecase{submitID: "job-42"}
	srv := newServer(uc)
	defer srv.Close()

	body, contentType := multipartBody(t, []string{"one.mp3", "two.mp3"}, map[string]string{
		"cleanup":            "true",
		"summarize":          "true",
		"formats":            "plainMarkdown,wordDocument",
		"recipients":         "alice@example.com, bob@example.com",
		"transcription_mode": "translateToEnglish",
	})

	resp, err := http.Post(srv.URL+"/jobs", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out domain.SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "job-42", out.ID)

	assert.Equal(t, []string{"one.mp3", "two.mp3"}, uc.gotFiles)
	assert.True(t, uc.gotOpts.Cleanup)
	assert.True(t, uc.gotOpts.Summarize)
	assert.Equal(t, []domain.OutputFormat{domain.FormatMarkdown, domain.FormatWord}, uc.gotOpts.Formats)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, uc.gotOpts.Recipients)
	assert.Equal(t, domain.ModeTranslate, uc.gotOpts.Mode)
}

func TestSubmitEndpoint_InvalidSubmission(t *testing.T) {
	uc := &fakeUsecase{submitErr: domain.ErrInvalidSubmission}
	srv := newServer(uc)
	defer srv.Close()

	body, contentType := multipartBody(t, []string{"one.mp3"}, nil)

	resp, err := http.Post(srv.URL+"/jobs", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitEndpoint_NoFiles(t *testing.T) {
	srv := newServer(&fakeUsecase{})
	defer srv.Close()

	body, contentType := multipartBody(t, nil, map[string]string{"cleanup": "true"})

	resp, err := http.Post(srv.URL+"/jobs", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitEndpoint_MethodNotAllowed(t *testing.T) {
	srv := newServer(&fakeUsecase{})
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/jobs", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestListEndpoint(t *testing.T) {
	uc := &fakeUsecase{jobs: []domain.StatusResponse{
		{ID: "job-2", Status: domain.StatusRunning, ProgressPercent: 12},
		{ID: "job-1", Status: domain.StatusCompleted, ProgressPercent: 100},
	}}
	srv := newServer(uc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out []domain.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 2)
	assert.Equal(t, "job-2", out[0].ID)
	assert.Equal(t, "job-1", out[1].ID)
}

func TestStatusEndpoint(t *testing.T) {
	uc := &fakeUsecase{status: domain.StatusResponse{
		ID:              "job-42",
		Status:          domain.StatusRunning,
		CurrentStage:    domain.StageTranscribing,
		ProgressPercent: 37,
		TotalFileCount:  2,
	}}
	srv := newServer(uc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/jobs/job-42")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out domain.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, domain.StatusRunning, out.Status)
	assert.Equal(t, domain.StageTranscribing, out.CurrentStage)
	assert.Equal(t, 37, out.ProgressPercent)
}

func TestStatusEndpoint_NotFound(t *testing.T) {
	uc := &fakeUsecase{statusErr: domain.ErrJobNotFound}
	srv := newServer(uc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/jobs/missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBundleEndpoint(t *testing.T) {
	uc := &fakeUsecase{bundle: domain.DownloadResult{
		FileName: "interview_results_abc.zip",
		Size:     9,
		Content:  io.NopCloser(strings.NewReader("zip bytes")),
	}}
	srv := newServer(uc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/jobs/job-42/bundle")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "interview_results_abc.zip")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "zip bytes", string(data))
}

func TestBundleEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", domain.ErrJobNotFound, http.StatusNotFound},
		{"not ready", domain.ErrBundleNotReady, http.StatusTooEarly},
		{"job failed", domain.ErrJobFailed, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(&fakeUsecase{bundleErr: tt.err})
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/jobs/job-42/bundle")
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

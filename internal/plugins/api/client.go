package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Paddel87/AIMAlocal-sub001/internal/config"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
	"github.com/Paddel87/AIMAlocal-sub001/pkg/middleware"
)

// Client talks to the request/response side of the platform.
type Client struct {
	httpclient *http.Client
	api        string
}

var _ contracts.JobStatusFetcher = (*Client)(nil)

// NewClient builds a client whose transport logs, traces and authenticates
// every request. An empty token sends no Authorization header.
func NewClient(log *slog.Logger, cfg config.APIConfig, app, token string) *Client {
	transport := &middleware.LoggingTransport{
		Log: log.With(slog.String("component", "api")),
		Base: &middleware.TracingTransport{
			App:  app,
			Base: &middleware.BearerTransport{Token: token},
		},
	}
	return &Client{
		httpclient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		api:        strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

// build URL with path
func (c *Client) apipath(path ...string) string {
	parts := make([]string, 0, len(path)+1)
	parts = append(parts, c.api)
	for _, p := range path {
		parts = append(parts, strings.Trim(p, "/"))
	}
	return strings.Join(parts, "/")
}

// GetJob fetches the current status record of one job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, domain.ErrInvalidJobID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apipath("jobs", url.PathEscape(jobID)), nil)
	if err != nil {
		return nil, err
	}
	job := new(domain.Job)
	if err := c.do(req, "get job", job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}

type ListJobsQuery struct {
	Page   int
	Limit  int
	Status domain.JobStatus
}

func (c *Client) ListJobs(ctx context.Context, q ListJobsQuery) (*domain.JobPage, error) {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	u := c.apipath("jobs")
	if len(v) > 0 {
		u += "?" + v.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	page := new(domain.JobPage)
	if err := c.do(req, "list jobs", page); err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) GetMLStats(ctx context.Context) (*domain.MLStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apipath("ml", "stats"), nil)
	if err != nil {
		return nil, err
	}
	stats := new(domain.MLStats)
	if err := c.do(req, "get ml stats", stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// DetectFaces uploads an image or video and starts a face-detection job.
func (c *Client) DetectFaces(ctx context.Context, filename string, file io.Reader) (*domain.JobAccepted, error) {
	return c.upload(ctx, "face detection", filename, file, nil, "ml", "face-detection")
}

// TranscribeAudio uploads an audio file and starts a transcription job. An
// empty language lets the platform detect it.
func (c *Client) TranscribeAudio(ctx context.Context, filename string, file io.Reader, language string) (*domain.JobAccepted, error) {
	fields := map[string]string{}
	if language != "" {
		fields["language"] = language
	}
	return c.upload(ctx, "audio transcription", filename, file, fields, "ml", "audio-transcription")
}

// upload streams a multipart body so large media files are not buffered.
func (c *Client) upload(
	ctx context.Context,
	op, filename string,
	file io.Reader,
	fields map[string]string,
	path ...string,
) (*domain.JobAccepted, error) {
	r, w := io.Pipe()
	mw := multipart.NewWriter(w)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apipath(path...), r)
	if err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	go func() {
		w.CloseWithError(writeForm(mw, filename, file, fields))
	}()

	accepted := new(domain.JobAccepted)
	err = c.do(req, op, accepted)
	r.Close()
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

func writeForm(mw *multipart.Writer, filename string, file io.Reader, fields map[string]string) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	return mw.Close()
}

func (c *Client) do(req *http.Request, op string, v any) error {
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	return unmarshalResponse(resp, op, v)
}

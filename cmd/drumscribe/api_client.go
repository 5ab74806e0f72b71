package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// jobPayload mirrors the job object returned by the daemon API.
type jobPayload struct {
	ID           string  `json:"id"`
	Filename     string  `json:"filename"`
	SizeBytes    int64   `json:"sizeBytes"`
	Status       string  `json:"status"`
	Stage        string  `json:"stage"`
	Progress     int     `json:"progress"`
	Message      string  `json:"message"`
	ErrorMessage string  `json:"errorMessage"`
	CreatedAt    string  `json:"createdAt"`
	StartedAt    *string `json:"startedAt"`
	CompletedAt  *string `json:"completedAt"`
}

type resultPayload struct {
	ID     string `json:"id"`
	Result struct {
		Tempo           int     `json:"tempo"`
		TimeSignature   string  `json:"timeSignature"`
		DurationSeconds float64 `json:"durationSeconds"`
		AccuracyScore   float64 `json:"accuracyScore"`
	} `json:"result"`
	Downloads map[string]string `json:"downloads"`
	ExpiresIn int               `json:"expiresIn"`
}

type statusPayload struct {
	Jobs struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"byStatus"`
	} `json:"jobs"`
	Queue struct {
		Queued int `json:"queued"`
		Leased int `json:"leased"`
	} `json:"queue"`
	UptimeSeconds int `json:"uptimeSeconds"`
}

type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: base,
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *apiClient) baseURL() string {
	return c.base
}

// Submit uploads an audio file and returns the created job.
func (c *apiClient) Submit(ctx context.Context, path string) (*jobPayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/jobs", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var job jobPayload
	if err := c.do(req, http.StatusAccepted, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs, optionally filtered by status.
func (c *apiClient) ListJobs(ctx context.Context, status string) ([]jobPayload, error) {
	endpoint := c.base + "/api/v1/jobs"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Jobs []jobPayload `json:"jobs"`
	}
	if err := c.do(req, http.StatusOK, &body); err != nil {
		return nil, err
	}
	return body.Jobs, nil
}

// GetJob returns one job by id.
func (c *apiClient) GetJob(ctx context.Context, id string) (*jobPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/api/v1/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var job jobPayload
	if err := c.do(req, http.StatusOK, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Result returns a completed job's transcription outcome and download links.
func (c *apiClient) Result(ctx context.Context, id string) (*resultPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/api/v1/jobs/"+url.PathEscape(id)+"/result", nil)
	if err != nil {
		return nil, err
	}
	var body resultPayload
	if err := c.do(req, http.StatusOK, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// Remove deletes a job and its stored artifacts.
func (c *apiClient) Remove(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.base+"/api/v1/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusNoContent, nil)
}

// Status returns daemon queue and job statistics.
func (c *apiClient) Status(ctx context.Context) (*statusPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/status", nil)
	if err != nil {
		return nil, err
	}
	var body statusPayload
	if err := c.do(req, http.StatusOK, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (c *apiClient) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w (is drumscribed running?)", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 8192)).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

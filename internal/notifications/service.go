package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"drumscribe/internal/config"
	"drumscribe/internal/ledger"
)

const userAgent = "Drumscribe-Go/0.1.0"

// Service defines the notification surface exposed to workers and the CLI.
type Service interface {
	NotifyJobCompleted(ctx context.Context, job *ledger.Job, result *ledger.Result) error
	NotifyJobFailed(ctx context.Context, job *ledger.Job, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		completions: cfg.Notifications.Completion,
		errors:      cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	completions bool
	errors      bool
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, job *ledger.Job, result *ledger.Result) error {
	if !n.completions {
		return nil
	}
	message := fmt.Sprintf("Transcription complete: %s", strings.TrimSpace(job.Filename))
	if result != nil {
		message = fmt.Sprintf("%s\n%d BPM, %s, accuracy %.0f%%",
			message, result.Tempo, result.TimeSignature, result.AccuracyScore*100)
	}
	data := payload{
		title:   "Drumscribe - Complete",
		message: message,
		tags:    []string{"drumscribe", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, job *ledger.Job, reason string) error {
	if !n.errors {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Drumscribe - Failed",
		message:  fmt.Sprintf("Transcription failed: %s\n%s", strings.TrimSpace(job.Filename), reason),
		tags:     []string{"drumscribe", "job", "error"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Drumscribe - Test",
		message:  "Notification system test",
		tags:     []string{"drumscribe", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, *ledger.Job, *ledger.Result) error { return nil }
func (noopService) NotifyJobFailed(context.Context, *ledger.Job, string) error            { return nil }
func (noopService) TestNotification(context.Context) error                                { return nil }

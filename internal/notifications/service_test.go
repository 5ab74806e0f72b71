package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"drumscribe/internal/config"
	"drumscribe/internal/ledger"
	"drumscribe/internal/notifications"
)

type captured struct {
	body     string
	title    string
	tags     string
	priority string
}

func ntfyServer(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var requests []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, captured{
			body:     string(body),
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), requests...)
	}
}

func newConfig(topic string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	return &cfg
}

func TestNotifyJobCompletedSendsSummary(t *testing.T) {
	server, requests := ntfyServer(t)
	service := notifications.NewService(newConfig(server.URL))

	job := &ledger.Job{ID: "job-1", Filename: "groove.wav"}
	result := &ledger.Result{Tempo: 120, TimeSignature: "4/4", AccuracyScore: 0.85}
	if err := service.NotifyJobCompleted(context.Background(), job, result); err != nil {
		t.Fatalf("NotifyJobCompleted failed: %v", err)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("expected one request, got %d", len(got))
	}
	if got[0].title != "Drumscribe - Complete" {
		t.Fatalf("unexpected title: %q", got[0].title)
	}
	if !strings.Contains(got[0].body, "groove.wav") || !strings.Contains(got[0].body, "120 BPM") {
		t.Fatalf("unexpected body: %q", got[0].body)
	}
	if !strings.Contains(got[0].tags, "completed") {
		t.Fatalf("unexpected tags: %q", got[0].tags)
	}
}

func TestNotifyJobFailedUsesHighPriority(t *testing.T) {
	server, requests := ntfyServer(t)
	service := notifications.NewService(newConfig(server.URL))

	job := &ledger.Job{ID: "job-1", Filename: "broken.wav"}
	if err := service.NotifyJobFailed(context.Background(), job, "unsupported sample rate"); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("expected one request, got %d", len(got))
	}
	if got[0].priority != "high" {
		t.Fatalf("unexpected priority: %q", got[0].priority)
	}
	if !strings.Contains(got[0].body, "unsupported sample rate") {
		t.Fatalf("unexpected body: %q", got[0].body)
	}
}

func TestDisabledCategoriesAreSilent(t *testing.T) {
	server, requests := ntfyServer(t)
	cfg := newConfig(server.URL)
	cfg.Notifications.Completion = false
	cfg.Notifications.Errors = false
	service := notifications.NewService(cfg)

	job := &ledger.Job{ID: "job-1", Filename: "quiet.wav"}
	if err := service.NotifyJobCompleted(context.Background(), job, nil); err != nil {
		t.Fatalf("NotifyJobCompleted failed: %v", err)
	}
	if err := service.NotifyJobFailed(context.Background(), job, "boom"); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}

	if got := requests(); len(got) != 0 {
		t.Fatalf("expected no requests, got %d", len(got))
	}
}

func TestTestNotification(t *testing.T) {
	server, requests := ntfyServer(t)
	service := notifications.NewService(newConfig(server.URL))

	if err := service.TestNotification(context.Background()); err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	got := requests()
	if len(got) != 1 || got[0].priority != "low" {
		t.Fatalf("unexpected requests: %#v", got)
	}
}

func TestNoopServiceWhenTopicEmpty(t *testing.T) {
	service := notifications.NewService(newConfig(""))
	if err := service.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop TestNotification failed: %v", err)
	}
}

func TestSendSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	defer server.Close()

	service := notifications.NewService(newConfig(server.URL))
	err := service.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}

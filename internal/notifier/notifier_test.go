package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ramboxcrty/GameRMCR/internal/config"
	"github.com/ramboxcrty/GameRMCR/internal/model"
)

func sampleReport() *model.SessionReport {
	now := time.Date(2026, 4, 2, 20, 30, 0, 0, time.UTC)
	return &model.SessionReport{
		ReqID:     "test-req-id",
		Timestamp: now,
		Version:   "1.0.0",
		Window:    model.TimeWindow{Start: now.Add(-10 * time.Minute), End: now},
		Frames: model.FrameStats{
			FPS: 143.9, AvgFPS: 141.2, MinFPS: 88, MaxFPS: 160,
			Low1: 97.5, Low01: 90.1, FrameTimeMs: 6.9, AvgFrameTimeMs: 7.1,
			Samples: 1000, TotalFrames: 86000,
		},
		Hardware: &model.HardwareMetrics{CPUUsage: 37.5, GPUUsage: model.NotAvailable, RAMUsedMB: 11873, VRAMUsedMB: model.NotAvailable},
		Hooks: map[string]model.AttachmentState{
			"cs2.exe":      model.StateAttached,
			"valorant.exe": model.StateBlacklisted,
		},
		Failures: []model.TransitionRecord{
			{Process: "valorant.exe", From: model.StateFailing, To: model.StateBlacklisted, Reason: model.ReasonRetriesExhausted},
		},
		Blacklist:      []model.BlacklistEntry{{Process: "valorant.exe", Reason: model.ReasonRetriesExhausted}},
		CadenceDivisor: 2,
	}
}

func TestConsoleNotifier_Send(t *testing.T) {
	var buf bytes.Buffer
	n := NewConsoleNotifier(&buf)

	if err := n.Send(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Report ID:    test-req-id",
		"FPS:          143.9 (avg 141.2, min 88.0, max 160.0)",
		"1% low:       97.5",
		"CPU: 37.5%  GPU: N/A",
		"RAM: 11873 MB  VRAM: N/A",
		"Cadence:      1/2",
		"valorant.exe failing → blacklisted (retries_exhausted)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q\n%s", want, out)
		}
	}
	if strings.Index(out, "cs2.exe") > strings.Index(out, "valorant.exe") {
		t.Error("hooks should be listed in name order")
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST request, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}

		var msg webhookMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		if msg.MsgType != "markdown" {
			t.Errorf("expected msgtype markdown, got %s", msg.MsgType)
		}
		if msg.Markdown == nil || !strings.Contains(msg.Markdown.Content, "⚠️ RMCR Session Report") {
			t.Errorf("unexpected markdown content: %+v", msg.Markdown)
		}
		if msg.Report == nil || msg.Report.Hooks["valorant.exe"] != model.StateBlacklisted {
			t.Errorf("expected report with hook states, got %+v", msg.Report)
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer ts.Close()

	cfg := &config.NotifierConfig{
		Type:       "webhook",
		WebhookURL: ts.URL,
		Retries:    1,
		RetryDelay: "10ms",
	}

	n, err := NewWebhookNotifier(cfg)
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	if err := n.Send(context.Background(), sampleReport()); err != nil {
		t.Errorf("Send failed: %v", err)
	}
}

func TestWebhookNotifier_EmptyBodyIsSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	n, _ := NewWebhookNotifier(&config.NotifierConfig{WebhookURL: ts.URL, RetryDelay: "1ms"})
	if err := n.Send(context.Background(), sampleReport()); err != nil {
		t.Errorf("Send failed: %v", err)
	}
}

func TestWebhookNotifier_Retry(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer ts.Close()

	cfg := &config.NotifierConfig{
		WebhookURL: ts.URL,
		Retries:    3,
		RetryDelay: "1ms",
	}

	n, _ := NewWebhookNotifier(cfg)
	if err := n.Send(context.Background(), sampleReport()); err != nil {
		t.Errorf("Send failed after retries: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestWebhookNotifier_Failure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"errcode":93000,"errmsg":"invalid webhook url"}`))
	}))
	defer ts.Close()

	cfg := &config.NotifierConfig{
		WebhookURL: ts.URL,
		Retries:    1,
		RetryDelay: "1ms",
	}

	n, _ := NewWebhookNotifier(cfg)
	err := n.Send(context.Background(), sampleReport())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "93000") {
		t.Errorf("error %q should carry the webhook error code", err)
	}
}

func TestWebhookNotifier_ContextCanceled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	n, _ := NewWebhookNotifier(&config.NotifierConfig{WebhookURL: ts.URL, Retries: 5, RetryDelay: "1h"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := n.Send(ctx, sampleReport()); err != context.DeadlineExceeded {
		t.Errorf("Send() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.NotifierConfig
		wantName string
		wantErr  bool
	}{
		{"console", config.NotifierConfig{Type: "console"}, "console", false},
		{"default", config.NotifierConfig{}, "console", false},
		{"webhook", config.NotifierConfig{Type: "webhook", WebhookURL: "http://example.invalid"}, "webhook", false},
		{"webhook without url", config.NotifierConfig{Type: "webhook"}, "", true},
		{"unknown", config.NotifierConfig{Type: "pager"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := New(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && n.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", n.Name(), tt.wantName)
			}
		})
	}
}

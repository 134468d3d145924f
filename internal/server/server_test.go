package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ramboxcrty/GameRMCR/internal/config"
	"github.com/ramboxcrty/GameRMCR/internal/model"
)

type fakeProvider struct {
	snap  model.TelemetrySnapshot
	hooks map[string]model.AttachmentState
}

func (f *fakeProvider) Snapshot() model.TelemetrySnapshot { return f.snap }

func (f *fakeProvider) ActiveHooksSnapshot() map[string]model.AttachmentState { return f.hooks }

func (f *fakeProvider) ExportDiagnostics(_ context.Context, w io.Writer) error {
	_, err := io.WriteString(w, `{"version":"1.0.0","error_logs":[]}`)
	return err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newProvider() *fakeProvider {
	return &fakeProvider{
		snap: model.TelemetrySnapshot{
			Version:        "1.0.0",
			Frames:         model.FrameStats{FPS: 144, Low1: 98.5, Samples: 1000},
			OverlayVisible: true,
			CadenceDivisor: 1,
			Hooks:          map[string]model.AttachmentState{"cs2.exe": model.StateAttached},
		},
		hooks: map[string]model.AttachmentState{
			"cs2.exe":      model.StateAttached,
			"valorant.exe": model.StateBlacklisted,
		},
	}
}

func testServer(cfg *config.ServerConfig, p Provider, pinger Pinger) *Server {
	if cfg.StreamInterval == "" {
		cfg.StreamInterval = "20ms"
	}
	return New(cfg, p, pinger, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHealthEndpoints(t *testing.T) {
	cfg := &config.ServerConfig{
		Port:      8080,
		DeepCheck: false, // Disable deep check for tests without DB
	}

	srv := testServer(cfg, newProvider(), nil)

	t.Run("GET /livez", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/livez", nil)
		w := httptest.NewRecorder()

		srv.handleLive(w, req)

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Status code = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var health HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if health.Status != "alive" {
			t.Errorf("Status = %s, want alive", health.Status)
		}

		if health.Uptime == "" {
			t.Error("Uptime should not be empty")
		}
	})

	t.Run("GET /healthz without deep check", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/healthz", nil)
		w := httptest.NewRecorder()

		srv.handleHealth(w, req)

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Status code = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var health HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if health.Status != "ok" {
			t.Errorf("Status = %s, want ok", health.Status)
		}

		// Database should not be checked when deep check is disabled
		if health.Database != nil {
			t.Error("Database should be nil when deep check is disabled")
		}
	})

	t.Run("GET /readyz without DB", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/readyz", nil)
		w := httptest.NewRecorder()

		srv.handleReady(w, req)

		resp := w.Result()
		// Should be OK when no store is configured (no DB to check)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Status code = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var health HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if health.Status != "ready" {
			t.Errorf("Status = %s, want ready", health.Status)
		}
	})
}

func TestHealthEndpoints_DeepCheck(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantHealth string
		wantReady  int
	}{
		{"database up", nil, http.StatusOK, "ok", http.StatusOK},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable, "degraded", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(&config.ServerConfig{DeepCheck: true}, newProvider(), fakePinger{err: tt.pingErr})

			w := httptest.NewRecorder()
			srv.handleHealth(w, httptest.NewRequest("GET", "/healthz", nil))
			if w.Code != tt.wantStatus {
				t.Errorf("healthz status = %d, want %d", w.Code, tt.wantStatus)
			}
			var health HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if health.Status != tt.wantHealth {
				t.Errorf("Status = %s, want %s", health.Status, tt.wantHealth)
			}
			if health.Database == nil {
				t.Fatal("Database should be reported with deep check")
			}

			w = httptest.NewRecorder()
			srv.handleReady(w, httptest.NewRequest("GET", "/readyz", nil))
			if w.Code != tt.wantReady {
				t.Errorf("readyz status = %d, want %d", w.Code, tt.wantReady)
			}
		})
	}
}

func TestHealthResponse_JSON(t *testing.T) {
	srv := testServer(&config.ServerConfig{Port: 8080}, newProvider(), nil)

	req := httptest.NewRequest("GET", "/livez", nil)
	w := httptest.NewRecorder()

	srv.handleLive(w, req)

	resp := w.Result()

	// Check content type
	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Content-Type = %s, want application/json", contentType)
	}

	// Verify it's valid JSON
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Response is not valid JSON: %v", err)
	}

	// Timestamp should be set
	if health.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
}

func TestAPIEndpoints(t *testing.T) {
	ts := httptest.NewServer(testServer(&config.ServerConfig{}, newProvider(), nil).Handler())
	defer ts.Close()

	t.Run("GET /api/telemetry", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/telemetry")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		var snap model.TelemetrySnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if snap.Frames.FPS != 144 || snap.Frames.Low1 != 98.5 {
			t.Errorf("Frames = %+v", snap.Frames)
		}
		if snap.Hooks["cs2.exe"] != model.StateAttached {
			t.Errorf("Hooks = %v", snap.Hooks)
		}
	})

	t.Run("GET /api/hooks", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/hooks")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		var hooks map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&hooks); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if hooks["valorant.exe"] != "blacklisted" || hooks["cs2.exe"] != "attached" {
			t.Errorf("hooks = %v", hooks)
		}
	})

	t.Run("GET /api/diagnostics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/diagnostics")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		if !strings.Contains(resp.Header.Get("Content-Disposition"), "rmcr-diagnostics.json") {
			t.Errorf("Content-Disposition = %q", resp.Header.Get("Content-Disposition"))
		}
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), `"error_logs"`) {
			t.Errorf("body = %s", body)
		}
	})

	t.Run("POST is rejected", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/telemetry", "application/json", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Status code = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
		}
	})
}

func TestTelemetryStream(t *testing.T) {
	srv := testServer(&config.ServerConfig{}, newProvider(), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/telemetry"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 3; i++ {
		var snap model.TelemetrySnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
		if snap.Version != "1.0.0" || snap.Frames.FPS != 144 {
			t.Errorf("snapshot %d = %+v", i, snap)
		}
	}
}

func TestTelemetryStream_ClosedOnStop(t *testing.T) {
	srv := testServer(&config.ServerConfig{StreamInterval: "1h"}, newProvider(), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/telemetry"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// First snapshot is sent immediately.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap model.TelemetrySnapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("initial read failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/ramboxcrty/GameRMCR/internal/config"
	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// WebhookNotifier posts reports as JSON to a chat webhook. The markdown
// envelope is understood by WeCom-style bots; the raw report rides along
// for machine consumers.
type WebhookNotifier struct {
	webhookURL string
	retries    int
	retryDelay time.Duration
	client     *http.Client
	clock      clockz.Clock
}

// webhookMessage represents the webhook message format.
type webhookMessage struct {
	MsgType  string               `json:"msgtype"`
	Markdown *markdownContent     `json:"markdown,omitempty"`
	Report   *model.SessionReport `json:"report,omitempty"`
}

type markdownContent struct {
	Content string `json:"content"`
}

// webhookResponse is the optional JSON body returned by chat webhooks.
type webhookResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(cfg *config.NotifierConfig) (*WebhookNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("webhook notifier: webhook_url is required")
	}
	retryDelay, err := cfg.RetryDelayParsed()
	if err != nil {
		retryDelay = time.Second
	}

	return &WebhookNotifier{
		webhookURL: cfg.WebhookURL,
		retries:    cfg.Retries,
		retryDelay: retryDelay,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		clock: clockz.RealClock,
	}, nil
}

// Name returns the notifier name.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// Send posts the report.
func (w *WebhookNotifier) Send(ctx context.Context, report *model.SessionReport) error {
	msg := webhookMessage{
		MsgType: "markdown",
		Markdown: &markdownContent{
			Content: formatMarkdown(report),
		},
		Report: report,
	}

	return w.sendWithRetry(ctx, msg)
}

// formatMarkdown creates a markdown message from the report.
func formatMarkdown(report *model.SessionReport) string {
	var sb strings.Builder

	f := report.Frames
	sb.WriteString(fmt.Sprintf("## %s RMCR Session Report\n\n", statusEmoji(report)))

	sb.WriteString("### 🎮 Frames\n")
	sb.WriteString(fmt.Sprintf("> **FPS**: %.1f (1%% low %.1f, 0.1%% low %.1f)\n", f.FPS, f.Low1, f.Low01))
	sb.WriteString(fmt.Sprintf("> **Frame time**: %.2fms avg\n", f.AvgFrameTimeMs))
	sb.WriteString(fmt.Sprintf("> **Window**: %s ~ %s\n\n",
		report.Window.Start.Format("2006-01-02 15:04"),
		report.Window.End.Format("2006-01-02 15:04")))

	if len(report.Hooks) > 0 {
		sb.WriteString("### 🔗 Hooks\n")
		for _, name := range sortedKeys(report.Hooks) {
			sb.WriteString(fmt.Sprintf("- `%s`: %s\n", name, report.Hooks[name]))
		}
		sb.WriteString("\n")
	}

	if len(report.Failures) > 0 {
		sb.WriteString("### ⚠️ Failures\n")
		for i, r := range report.Failures {
			if i >= 3 { // Limit to top 3 in message
				sb.WriteString(fmt.Sprintf("... and %d more\n", len(report.Failures)-3))
				break
			}
			sb.WriteString(fmt.Sprintf("- `%s` %s (%s)\n", r.Process, r.To, r.Reason))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("---\n")
	sb.WriteString(fmt.Sprintf("*Report ID: %s*\n", report.ReqID))

	return sb.String()
}

func statusEmoji(report *model.SessionReport) string {
	for _, s := range report.Hooks {
		if s == model.StateBlacklisted || s == model.StateFailing {
			return "⚠️"
		}
	}
	return "✅"
}

// sendWithRetry sends the message with exponential backoff retry.
func (w *WebhookNotifier) sendWithRetry(ctx context.Context, msg webhookMessage) error {
	var lastErr error
	delay := w.retryDelay

	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.clock.After(delay):
				delay *= 2 // Exponential backoff
			}
		}

		err := w.send(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", w.retries, lastErr)
}

// send performs the actual HTTP request.
func (w *WebhookNotifier) send(ctx context.Context, msg webhookMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// Plain webhooks may answer with an empty body.
	var result webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && result.ErrCode != 0 {
		return fmt.Errorf("webhook error: %d - %s", result.ErrCode, result.ErrMsg)
	}

	return nil
}

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"futures_go/internal/domain"
	"futures_go/internal/infra"

	"github.com/google/uuid"
)

// entry is the wire shape of one activity log event.
type entry struct {
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Title     string         `json:"title"`
	Summary   string         `json:"summary"`
	Payload   map[string]any `json:"payload,omitempty"`
	TraceID   string         `json:"trace_id"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
}

// WebhookLogger ships activity events to an operations webhook.
// Fire-and-forget: delivery failures are logged locally and swallowed,
// and LogEvent never blocks the caller.
type WebhookLogger struct {
	url        string
	source     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookLogger creates a logger posting to url. An empty url produces
// a logger that records events locally only.
func NewWebhookLogger(url, source string, timeout time.Duration) *WebhookLogger {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &WebhookLogger{
		url:     url,
		source:  source,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: slog.Default().With("module", "audit"),
	}
}

// LogEvent records one activity event. Returns immediately; delivery
// happens on a background goroutine.
func (w *WebhookLogger) LogEvent(eventType, severity, title, summary string, payload map[string]any, traceID string) {
	if traceID == "" {
		traceID = uuid.NewString()
	}

	e := entry{
		Type:      eventType,
		Severity:  severity,
		Title:     title,
		Summary:   summary,
		Payload:   payload,
		TraceID:   traceID,
		Timestamp: time.Now(),
		Source:    w.source,
	}

	w.logger.Info("audit event",
		slog.String("type", e.Type),
		slog.String("severity", e.Severity),
		slog.String("title", e.Title),
		slog.String("trace_id", e.TraceID),
	)

	if w.url == "" {
		return
	}

	go w.deliver(e)
}

func (w *WebhookLogger) deliver(e entry) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("audit delivery panic recovered", slog.Any("panic", r))
		}
	}()

	body, err := json.Marshal(e)
	if err != nil {
		w.logger.Warn("audit marshal failed", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("audit request build failed", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", infra.DefaultUserAgent)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Warn("audit delivery failed", slog.Any("error", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.logger.Warn("audit delivery rejected", slog.Int("status", resp.StatusCode))
	}
}

var _ domain.AuditLogger = (*WebhookLogger)(nil)

package audit_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"futures_go/internal/infra/audit"
)

func TestWebhookLogger_Delivers(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := audit.NewWebhookLogger(srv.URL, "futures-go-test", time.Second)
	logger.LogEvent("order_rejected", "warning", "Order rejected", "margin", map[string]any{
		"order_id": "ord-1",
	}, "trace-1")

	select {
	case payload := <-received:
		if payload["type"] != "order_rejected" {
			t.Errorf("type: got %v", payload["type"])
		}
		if payload["trace_id"] != "trace-1" {
			t.Errorf("trace id: got %v", payload["trace_id"])
		}
		if payload["source"] != "futures-go-test" {
			t.Errorf("source: got %v", payload["source"])
		}
		inner, _ := payload["payload"].(map[string]any)
		if inner["order_id"] != "ord-1" {
			t.Errorf("payload: got %v", payload["payload"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestWebhookLogger_GeneratesTraceID(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		received <- payload
	}))
	defer srv.Close()

	logger := audit.NewWebhookLogger(srv.URL, "src", time.Second)
	logger.LogEvent("feed_connected", "info", "Connected", "", nil, "")

	select {
	case payload := <-received:
		if id, _ := payload["trace_id"].(string); id == "" {
			t.Error("empty trace id must be filled in")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestWebhookLogger_NoURLIsLocalOnly(t *testing.T) {
	logger := audit.NewWebhookLogger("", "src", time.Second)
	// Must not panic or block.
	logger.LogEvent("stale_data", "warning", "Stale", "summary", nil, "")
}

package infra_test

import (
	"sync"
	"testing"

	"futures_go/internal/infra"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := &infra.Metrics{}

	m.RecordQuote(1000)
	m.RecordQuote(3000)
	m.RecordBar()
	m.RecordReconnect()
	m.RecordStale()
	m.RecordError()
	m.IncrementConnections()
	m.SetEntitlementFailed(2)

	snap := m.Snapshot()
	if snap.QuotesProcessed != 2 {
		t.Errorf("quotes: got %d", snap.QuotesProcessed)
	}
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("avg latency: got %d", snap.AvgLatencyNs)
	}
	if snap.BarsEmitted != 1 || snap.Reconnects != 1 || snap.StaleDetections != 1 || snap.ErrorsTotal != 1 {
		t.Errorf("counters: %+v", snap)
	}
	if snap.ActiveConnections != 1 {
		t.Errorf("connections: got %d", snap.ActiveConnections)
	}
	if snap.EntitlementFailed != 2 {
		t.Errorf("entitlement gauge: got %d", snap.EntitlementFailed)
	}

	m.DecrementConnections()
	m.Reset()
	snap = m.Snapshot()
	if snap.QuotesProcessed != 0 || snap.AvgLatencyNs != 0 || snap.ActiveConnections != 0 {
		t.Errorf("reset did not clear: %+v", snap)
	}
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	m := &infra.Metrics{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.RecordQuote(100)
			}
		}()
	}
	wg.Wait()

	if got := m.Snapshot().QuotesProcessed; got != 8000 {
		t.Errorf("quotes: got %d, want 8000", got)
	}
}

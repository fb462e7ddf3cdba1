package storage_test

import (
	"path/filepath"
	"testing"
	"time"

	"futures_go/internal/domain"
	"futures_go/internal/infra/storage"

	"github.com/shopspring/decimal"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return store
}

func TestStorage_Instruments(t *testing.T) {
	store := newTestStorage(t)

	spec := &domain.InstrumentSpec{
		Symbol:     "ES",
		Name:       "E-mini S&P 500",
		Exchange:   "CME",
		Currency:   "USD",
		TickSize:   decimal.NewFromFloat(0.25),
		PointValue: decimal.NewFromInt(50),
		IsActive:   true,
	}
	if err := store.UpsertInstrument(spec); err != nil {
		t.Fatalf("UpsertInstrument: %v", err)
	}

	got, err := store.GetInstrumentSpec("ES")
	if err != nil {
		t.Fatalf("GetInstrumentSpec: %v", err)
	}
	if got == nil || !got.TickSize.Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("round-trip: got %+v", got)
	}

	// Missing instruments are (nil, nil), not an error.
	missing, err := store.GetInstrumentSpec("ZZ")
	if err != nil || missing != nil {
		t.Errorf("missing symbol: got %v, %v", missing, err)
	}

	// Upsert updates in place.
	spec.TickSize = decimal.NewFromFloat(0.5)
	if err := store.UpsertInstrument(spec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	all, err := store.GetAllInstruments()
	if err != nil || len(all) != 1 {
		t.Fatalf("GetAllInstruments: got %d, %v", len(all), err)
	}
	if !all[0].TickSize.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("update not persisted: %s", all[0].TickSize)
	}
}

func TestStorage_Bars(t *testing.T) {
	store := newTestStorage(t)

	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		bar := &domain.Bar{
			Symbol:    "ESZ6",
			Timeframe: "1m",
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			Open:      decimal.NewFromInt(5000),
			High:      decimal.NewFromInt(5001),
			Low:       decimal.NewFromInt(4999),
			Close:     decimal.NewFromInt(5000),
			Volume:    decimal.NewFromInt(int64(100 + i)),
		}
		if err := store.SaveBar(bar); err != nil {
			t.Fatalf("SaveBar: %v", err)
		}
	}

	bars, err := store.GetBars("ESZ6", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("since filter: got %d bars, want 2", len(bars))
	}
	if !bars[0].OpenTime.Before(bars[1].OpenTime) {
		t.Error("bars must come back oldest first")
	}
	if !bars[0].Volume.Equal(decimal.NewFromInt(101)) {
		t.Errorf("volume round-trip: got %s", bars[0].Volume)
	}

	if err := store.DeleteSymbolBars("ESZ6"); err != nil {
		t.Fatalf("DeleteSymbolBars: %v", err)
	}
	bars, err = store.GetBars("ESZ6", base.AddDate(0, 0, -1))
	if err != nil || len(bars) != 0 {
		t.Errorf("after delete: got %d bars, %v", len(bars), err)
	}
}

func TestStorage_ConfigKV(t *testing.T) {
	store := newTestStorage(t)

	if err := store.SaveConfig("stage:bot-1", "CANARY"); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	v, err := store.GetConfig("stage:bot-1")
	if err != nil || v != "CANARY" {
		t.Errorf("GetConfig: got %q, %v", v, err)
	}

	// Unset keys read as empty, not as an error.
	v, err = store.GetConfig("stage:bot-2")
	if err != nil || v != "" {
		t.Errorf("unset key: got %q, %v", v, err)
	}

	if err := store.SaveConfig("stage:bot-1", "LIVE"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	m, err := store.LoadConfigMap()
	if err != nil || m["stage:bot-1"] != "LIVE" {
		t.Errorf("LoadConfigMap: got %v, %v", m, err)
	}
}

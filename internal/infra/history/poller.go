package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"futures_go/internal/domain"
	"futures_go/internal/infra"
	"futures_go/internal/infra/storage"

	"github.com/shopspring/decimal"
)

// barResponse is the vendor's historical bar payload.
type barResponse struct {
	Symbol string  `json:"symbol"`
	TimeMS int64   `json:"timestamp"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Poller periodically backfills historical minute bars into storage so
// VWAP volume profiles always have data to build from.
type Poller struct {
	apiURL       string
	symbols      []string
	lookbackDays int
	pollInterval time.Duration
	store        *storage.Storage
	httpClient   *http.Client
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewPoller creates a historical bar poller. A zero poll interval defaults
// to one hour.
func NewPoller(cfg *infra.Config, store *storage.Storage, symbols []string) *Poller {
	interval := time.Duration(cfg.History.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	return &Poller{
		apiURL:       cfg.History.URL,
		symbols:      symbols,
		lookbackDays: cfg.History.LookbackDays,
		pollInterval: interval,
		store:        store,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Start begins polling. A disabled endpoint (empty URL) is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	if p.apiURL == "" {
		slog.Info("historical bar polling disabled (no endpoint configured)")
		return nil
	}

	ctx, p.cancel = context.WithCancel(ctx)

	// Fetch immediately on start
	if err := p.fetchAll(ctx); err != nil {
		slog.Warn("initial historical bar fetch failed", slog.Any("error", err))
		// Continue anyway - will retry on next tick
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("historical bar polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("historical bar polling stopped")
				return
			case <-ticker.C:
				if err := p.fetchAll(ctx); err != nil {
					slog.Warn("historical bar fetch failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

// fetchAll refreshes every configured symbol with bounded retries.
func (p *Poller) fetchAll(ctx context.Context) error {
	var lastErr error
	for _, symbol := range p.symbols {
		if err := p.fetchSymbol(ctx, symbol); err != nil {
			lastErr = err
			slog.Warn("historical bars fetch failed",
				slog.String("symbol", symbol), slog.Any("error", err))
		}
	}
	return lastErr
}

func (p *Poller) fetchSymbol(ctx context.Context, symbol string) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s
			delay := time.Duration(1<<uint(i-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := p.doFetch(ctx, symbol)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (p *Poller) doFetch(ctx context.Context, symbol string) error {
	since := time.Now().AddDate(0, 0, -p.lookbackDays)

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("timeframe", "1m")
	query.Set("since", fmt.Sprintf("%d", since.UnixMilli()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var data []barResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	records := make([]domain.HistoricalBar, 0, len(data))
	for _, b := range data {
		records = append(records, domain.HistoricalBar{
			Symbol:    symbol,
			Timeframe: "1m",
			OpenTime:  time.UnixMilli(b.TimeMS),
			Open:      decimal.NewFromFloat(b.Open),
			High:      decimal.NewFromFloat(b.High),
			Low:       decimal.NewFromFloat(b.Low),
			Close:     decimal.NewFromFloat(b.Close),
			Volume:    decimal.NewFromFloat(b.Volume),
		})
	}

	// Replace the symbol's window wholesale to avoid duplicate rows.
	if err := p.store.DeleteSymbolBars(symbol); err != nil {
		return err
	}
	if err := p.store.SaveBars(records); err != nil {
		return err
	}

	slog.Info("historical bars refreshed",
		slog.String("symbol", symbol), slog.Int("bars", len(records)))
	return nil
}

// Stop stops the polling
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}

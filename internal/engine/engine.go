// Package engine runs the strategy loop: a single goroutine consuming the
// feed's event stream, dispatching closed bars to strategies and routing
// their actions through the execution bridge.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"futures_go/internal/domain"
	"futures_go/internal/strategy"
)

// OrderRouter is the execution surface the engine places orders through.
type OrderRouter interface {
	PlaceOrder(ctx context.Context, ticket domain.OrderTicket) (*domain.OrderResult, error)
}

// EventSource is the feed's subscription surface.
type EventSource interface {
	Events() (<-chan domain.Event, func())
}

// symbolState is the engine's per-symbol view, maintained on the hotpath
// and snapshotted for external readers.
type symbolState struct {
	Symbol     string     `json:"symbol"`
	LastBar    domain.Bar `json:"last_bar"`
	BarsSeen   int64      `json:"bars_seen"`
	LastAction string     `json:"last_action,omitempty"`
	LastResult string     `json:"last_result,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Engine is the core single-threaded strategy processor. All strategy
// state is touched only from Run's goroutine; the mutex guards external
// snapshot reads.
type Engine struct {
	source     EventSource
	router     OrderRouter
	strategies []strategy.Strategy

	markets map[string]*symbolState

	mu sync.RWMutex // Used only for external reads (status tooling)
}

// New creates an engine instance.
func New(source EventSource, router OrderRouter, strategies ...strategy.Strategy) *Engine {
	return &Engine{
		source:     source,
		router:     router,
		strategies: strategies,
		markets:    make(map[string]*symbolState),
	}
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("Engine started (Single-Thread Hotpath)")

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			e.DumpState("panic_dump.json")
			// Halt after dump: strategy state is no longer trustworthy.
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	events, cancel := e.source.Events()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Engine stopping...")
			return
		case ev, ok := <-events:
			if !ok {
				slog.Info("Engine event stream closed")
				return
			}
			e.processEvent(ctx, ev)
		}
	}
}

func (e *Engine) processEvent(ctx context.Context, ev domain.Event) {
	switch ev.Type {
	case domain.EventBar:
		if ev.Bar != nil {
			e.handleBar(ctx, *ev.Bar)
		}
	case domain.EventStaleData, domain.EventSubscriptionFailed:
		slog.Warn("Feed degraded", slog.String("event", string(ev.Type)),
			slog.Any("symbols", ev.Symbols), slog.String("reason", ev.Reason))
	default:
		// Quotes and book updates are consumed by the bridge directly.
	}
}

func (e *Engine) handleBar(ctx context.Context, bar domain.Bar) {
	e.mu.Lock()
	state, ok := e.markets[bar.Symbol]
	if !ok {
		state = &symbolState{Symbol: bar.Symbol}
		e.markets[bar.Symbol] = state
	}
	state.LastBar = bar
	state.BarsSeen++
	state.UpdatedAt = time.Now()
	e.mu.Unlock()

	for _, strat := range e.strategies {
		for _, action := range strat.OnBar(bar) {
			e.execute(ctx, state, action)
		}
	}
}

// execute routes one strategy action as a market order. Rejections are
// final here; the bridge already retried.
func (e *Engine) execute(ctx context.Context, state *symbolState, action strategy.Action) {
	slog.Info("STRATEGY_ACTION",
		slog.String("symbol", action.Symbol),
		slog.String("type", action.Type.String()),
		slog.String("qty", action.Qty.String()))

	if e.router == nil {
		return
	}

	result, err := e.router.PlaceOrder(ctx, domain.OrderTicket{
		Symbol:   action.Symbol,
		Side:     action.Type.Side(),
		Type:     domain.OrderTypeMarket,
		Quantity: action.Qty,
	})

	e.mu.Lock()
	state.LastAction = action.Type.String()
	if err != nil {
		state.LastResult = "error: " + err.Error()
	} else {
		state.LastResult = result.Status
	}
	e.mu.Unlock()

	if err != nil {
		slog.Error("Strategy order failed", slog.String("symbol", action.Symbol), slog.Any("error", err))
	}
}

// MarketState returns a snapshot of the engine's view of a symbol
// (external read).
func (e *Engine) MarketState(symbol string) (domain.Bar, int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state, ok := e.markets[symbol]
	if !ok {
		return domain.Bar{}, 0, false
	}
	return state.LastBar, state.BarsSeen, true
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (e *Engine) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	e.mu.RLock()
	data := struct {
		Markets map[string]*symbolState `json:"markets"`
	}{
		Markets: e.markets,
	}
	b, err := json.MarshalIndent(data, "", "  ")
	e.mu.RUnlock()

	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}

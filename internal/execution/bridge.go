// Package execution routes orders to the broker or to the built-in fill
// simulator, depending on the stage gate, and drives sliced TWAP/VWAP
// orders on their schedules.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"futures_go/internal/algo"
	"futures_go/internal/domain"
	"futures_go/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxOrderRetries bounds resubmission of a rejected order.
const maxOrderRetries = 3

// MarketView is the slice of the feed client the bridge needs for
// reference prices and participation accounting.
type MarketView interface {
	OrderBook(symbol string) *domain.OrderBookSnapshot
}

// Options wires the bridge's collaborators.
type Options struct {
	Config      *infra.Config
	API         domain.BrokerAPI
	Gate        *Gate
	Market      MarketView
	Instruments domain.InstrumentSource
	Audit       domain.AuditLogger
	Profiles    *algo.ProfileCache // optional; resolves VWAP profiles from history
	Clock       domain.Clock
}

// Bridge is the order execution entry point. Single orders pass through
// the stage gate once; sliced orders pass every child slice through it,
// so a mid-flight stage demotion downgrades the remaining slices to
// simulation.
type Bridge struct {
	cfg         *infra.Config
	api         domain.BrokerAPI
	gate        *Gate
	market      MarketView
	instruments domain.InstrumentSource
	audit       domain.AuditLogger
	profiles    *algo.ProfileCache
	clock       domain.Clock

	mu      sync.Mutex
	orders  map[string]*trackedOrder
	metrics Metrics
}

// trackedOrder pairs a sliced order with its pending timers and the
// session volume watermark used for per-slice participation.
type trackedOrder struct {
	order         *domain.AlgoOrder
	timers        []domain.Timer
	sessionVolume decimal.Decimal
}

// NewBridge creates an execution bridge.
func NewBridge(opt Options) *Bridge {
	if opt.Clock == nil {
		opt.Clock = infra.SystemClock{}
	}
	return &Bridge{
		cfg:         opt.Config,
		api:         opt.API,
		gate:        opt.Gate,
		market:      opt.Market,
		instruments: opt.Instruments,
		audit:       opt.Audit,
		profiles:    opt.Profiles,
		clock:       opt.Clock,
		orders:      make(map[string]*trackedOrder),
	}
}

// PlaceOrder routes a single order through the stage gate. Rejections come
// back inside the result; a Go error means the order could not be placed
// at all.
func (b *Bridge) PlaceOrder(ctx context.Context, ticket domain.OrderTicket) (*domain.OrderResult, error) {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}

	decision := b.gate.Decide()
	start := b.clock.Now()

	var (
		result *domain.OrderResult
		err    error
	)
	if decision.Live {
		result, err = b.submitLive(ctx, ticket)
	} else {
		result = b.simulateFill(ticket)
	}
	if err != nil {
		b.metrics.recordError()
		return nil, err
	}

	b.metrics.recordOrder(result, b.clock.Now().Sub(start))
	b.logResult(ticket, result, decision)
	return result, nil
}

// submitLive sends the order to the broker, resubmitting up to
// maxOrderRetries times on rejection with a linearly growing delay.
func (b *Bridge) submitLive(ctx context.Context, ticket domain.OrderTicket) (*domain.OrderResult, error) {
	retryDelay := time.Duration(b.cfg.Execution.RetryDelayMS) * time.Millisecond

	var result *domain.OrderResult
	for attempt := 1; attempt <= maxOrderRetries; attempt++ {
		var err error
		result, err = b.api.SubmitOrder(ctx, ticket)
		if err != nil {
			return nil, fmt.Errorf("submit order %s: %w", ticket.ID, err)
		}
		if result.Filled() {
			return result, nil
		}

		slog.Warn("order rejected",
			"order_id", ticket.ID,
			"symbol", ticket.Symbol,
			"attempt", attempt,
			"reason", result.Reason)
		if attempt < maxOrderRetries {
			if err := b.clock.Sleep(ctx, retryDelay*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// simulateFill produces an immediate fill at the current book price plus
// adverse slippage, snapped to the instrument tick.
func (b *Bridge) simulateFill(ticket domain.OrderTicket) *domain.OrderResult {
	ref := b.referencePrice(ticket)
	if !ref.IsPositive() {
		return &domain.OrderResult{
			OrderID:   ticket.ID,
			Status:    domain.OrderStatusRejected,
			Simulated: true,
			Reason:    "no reference price available",
		}
	}

	slip := ref.Mul(decimal.NewFromFloat(b.cfg.Execution.SimSlippagePct))
	price := ref.Add(slip)
	if ticket.Side == domain.SideSell {
		price = ref.Sub(slip)
	}
	price = b.roundToTick(ticket.Symbol, price)

	return &domain.OrderResult{
		OrderID:    ticket.ID,
		BrokerID:   "sim-" + uuid.NewString(),
		Status:     domain.OrderStatusFilled,
		FillPrice:  price,
		FillTime:   b.clock.Now(),
		Commission: decimal.NewFromFloat(b.cfg.Execution.Commission).Mul(ticket.Quantity),
		Simulated:  true,
	}
}

// referencePrice picks the fill anchor: the limit price when given,
// otherwise the touch on the order's aggressing side.
func (b *Bridge) referencePrice(ticket domain.OrderTicket) decimal.Decimal {
	if ticket.Type == domain.OrderTypeLimit && ticket.Price.IsPositive() {
		return ticket.Price
	}
	if b.market == nil {
		return decimal.Zero
	}
	book := b.market.OrderBook(ticket.Symbol)
	if book == nil {
		return decimal.Zero
	}
	if ticket.Side == domain.SideBuy && book.Ask.Price.IsPositive() {
		return book.Ask.Price
	}
	if ticket.Side == domain.SideSell && book.Bid.Price.IsPositive() {
		return book.Bid.Price
	}
	return book.Mid
}

func (b *Bridge) roundToTick(symbol string, price decimal.Decimal) decimal.Decimal {
	if b.instruments == nil {
		return price
	}
	spec, err := b.instruments.GetInstrumentSpec(symbol)
	if err != nil || spec == nil {
		return price
	}
	return spec.RoundToTick(price)
}

// ExecuteTWAP builds and schedules a TWAP order.
func (b *Bridge) ExecuteTWAP(ctx context.Context, symbol, side string, totalQty decimal.Decimal, cfg algo.TWAPConfig) (*domain.AlgoOrder, error) {
	order, err := algo.NewTWAPOrder(symbol, side, totalQty, b.benchmarkPrice(symbol), cfg, b.clock.Now(), nil)
	if err != nil {
		return nil, err
	}
	b.metrics.recordAlgo(domain.AlgoTWAP)
	b.scheduleSlices(ctx, order)
	return order, nil
}

// ExecuteVWAP builds and schedules a VWAP order against the given volume
// profile. When nil, the symbol's historical profile is looked up in the
// profile cache; without a cache the built-in default applies.
func (b *Bridge) ExecuteVWAP(ctx context.Context, symbol, side string, totalQty decimal.Decimal, cfg algo.VWAPConfig, profile []domain.VolumeProfileBucket) (*domain.AlgoOrder, error) {
	if len(profile) == 0 && b.profiles != nil {
		profile = b.profiles.ProfileFor(symbol)
	}
	order, err := algo.NewVWAPOrder(symbol, side, totalQty, b.benchmarkPrice(symbol), cfg, profile, b.clock.Now())
	if err != nil {
		return nil, err
	}
	b.metrics.recordAlgo(domain.AlgoVWAP)
	b.scheduleSlices(ctx, order)
	return order, nil
}

// benchmarkPrice is the arrival mid price the order's slippage is measured
// against.
func (b *Bridge) benchmarkPrice(symbol string) decimal.Decimal {
	if b.market == nil {
		return decimal.Zero
	}
	if book := b.market.OrderBook(symbol); book != nil {
		return book.Mid
	}
	return decimal.Zero
}

// scheduleSlices registers the order and arms one timer per slice.
func (b *Bridge) scheduleSlices(ctx context.Context, order *domain.AlgoOrder) {
	tracked := &trackedOrder{order: order}

	b.mu.Lock()
	b.orders[order.ID] = tracked
	now := b.clock.Now()
	for _, s := range order.Slices {
		sliceID := s.ID
		delay := s.ScheduledTime.Sub(now)
		if delay < 0 {
			delay = 0
		}
		tracked.timers = append(tracked.timers, b.clock.AfterFunc(delay, func() {
			b.runSlice(ctx, order.ID, sliceID)
		}))
	}
	b.mu.Unlock()

	slog.Info("algo order scheduled",
		"order_id", order.ID,
		"kind", order.Kind,
		"symbol", order.Symbol,
		"side", order.Side,
		"total_qty", order.TotalQuantity,
		"slices", len(order.Slices))
}

// runSlice executes one scheduled slice: gate check, submission with
// retries, fill accounting. Retries exhausted mark the slice FAILED and
// leave the parent EXECUTING.
func (b *Bridge) runSlice(ctx context.Context, orderID, sliceID string) {
	b.mu.Lock()
	tracked, ok := b.orders[orderID]
	b.mu.Unlock()
	if !ok {
		return
	}
	order := tracked.order

	b.mu.Lock()
	if order.Terminal() {
		b.mu.Unlock()
		return
	}
	slice := order.SliceByID(sliceID)
	if slice == nil || slice.Status != domain.SliceStatusScheduled {
		b.mu.Unlock()
		return
	}
	if err := algo.MarkSliceExecuting(order, sliceID); err != nil {
		b.mu.Unlock()
		return
	}
	qty := slice.Quantity
	b.mu.Unlock()

	result, err := b.PlaceOrder(ctx, domain.OrderTicket{
		ID:       uuid.NewString(),
		Symbol:   order.Symbol,
		Side:     order.Side,
		Type:     domain.OrderTypeMarket,
		Quantity: qty,
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil || !result.Filled() {
		if ferr := algo.MarkSliceFailed(order, sliceID); ferr != nil {
			slog.Error("slice bookkeeping failed", "order_id", orderID, "slice_id", sliceID, "error", ferr)
		}
		reason := "submission error"
		if err == nil {
			reason = result.Reason
		}
		slog.Warn("slice failed", "order_id", orderID, "slice_id", sliceID, "reason", reason)
		b.auditLog("slice_failed", "warning", "Slice execution failed",
			fmt.Sprintf("order %s slice %s: %s", orderID, sliceID, reason),
			map[string]any{"order_id": orderID, "slice_id": sliceID, "symbol": order.Symbol})
		return
	}

	marketVolume := b.sliceMarketVolume(tracked)
	if err := algo.ExecuteSlice(order, sliceID, result.FillPrice, result.FillTime, marketVolume); err != nil {
		slog.Error("slice fill accounting failed", "order_id", orderID, "slice_id", sliceID, "error", err)
		return
	}
	b.metrics.recordSlippage(order.Slippage)

	if order.Status == domain.AlgoStatusCompleted {
		quality := algo.Quality(order)
		slog.Info("algo order completed",
			"order_id", order.ID,
			"kind", order.Kind,
			"avg_fill", order.AvgFillPrice,
			"slippage", order.Slippage)
		b.auditLog("algo_completed", "info", "Algo order completed",
			fmt.Sprintf("%s %s %s filled %s @ %s", order.Kind, order.Side, order.Symbol,
				order.ExecutedQty, order.AvgFillPrice),
			map[string]any{
				"order_id":       order.ID,
				"slippage":       quality.Slippage.String(),
				"completion":     quality.CompletionRate.String(),
				"participation":  quality.ParticipationRate.String(),
				"avg_fill_price": quality.AvgFillPrice.String(),
			})
	}
}

// sliceMarketVolume returns the session volume traded since the previous
// slice fill, differencing the feed's cumulative volume watermark. A
// negative delta means the session rolled; the fresh cumulative is used.
func (b *Bridge) sliceMarketVolume(tracked *trackedOrder) decimal.Decimal {
	if b.market == nil {
		return decimal.Zero
	}
	book := b.market.OrderBook(tracked.order.Symbol)
	if book == nil {
		return decimal.Zero
	}
	delta := book.SessionVolume.Sub(tracked.sessionVolume)
	tracked.sessionVolume = book.SessionVolume
	if delta.IsNegative() {
		return book.SessionVolume
	}
	return delta
}

// CancelAlgo stops all pending slice timers and cancels the order.
func (b *Bridge) CancelAlgo(orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tracked, ok := b.orders[orderID]
	if !ok {
		return domain.ErrUnknownOrder
	}
	for _, t := range tracked.timers {
		t.Stop()
	}
	tracked.timers = nil
	if err := algo.Cancel(tracked.order); err != nil {
		return err
	}
	slog.Info("algo order cancelled", "order_id", orderID, "executed", tracked.order.ExecutedQty)
	return nil
}

// Order returns a tracked sliced order by id.
func (b *Bridge) Order(orderID string) (*domain.AlgoOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tracked, ok := b.orders[orderID]
	if !ok {
		return nil, domain.ErrUnknownOrder
	}
	return tracked.order, nil
}

// Quality reports execution-quality metrics for a tracked order.
func (b *Bridge) Quality(orderID string) (algo.ExecutionQuality, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tracked, ok := b.orders[orderID]
	if !ok {
		return algo.ExecutionQuality{}, domain.ErrUnknownOrder
	}
	return algo.Quality(tracked.order), nil
}

// Metrics returns a snapshot of the bridge counters.
func (b *Bridge) Metrics() MetricsSnapshot {
	return b.metrics.snapshot()
}

func (b *Bridge) logResult(ticket domain.OrderTicket, result *domain.OrderResult, decision RouteDecision) {
	slog.Info("order executed",
		"order_id", ticket.ID,
		"symbol", ticket.Symbol,
		"side", ticket.Side,
		"qty", ticket.Quantity,
		"status", result.Status,
		"fill_price", result.FillPrice,
		"simulated", result.Simulated,
		"stage", decision.Stage,
		"route_reason", decision.Reason)
	if result.Status == domain.OrderStatusRejected && !result.Simulated {
		b.auditLog("order_rejected", "warning", "Order rejected",
			fmt.Sprintf("%s %s %s x%s: %s", ticket.Side, ticket.Type, ticket.Symbol, ticket.Quantity, result.Reason),
			map[string]any{"order_id": ticket.ID, "symbol": ticket.Symbol, "reason": result.Reason})
	}
}

func (b *Bridge) auditLog(eventType, severity, title, summary string, payload map[string]any) {
	if b.audit == nil {
		return
	}
	b.audit.LogEvent(eventType, severity, title, summary, payload, "")
}

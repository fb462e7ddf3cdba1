package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"futures_go/internal/domain"
	"futures_go/internal/infra"
	"futures_go/internal/marketdata"
)

// State is the connection state machine's current phase.
type State string

const (
	StateDisconnected         State = "DISCONNECTED"
	StateAuthenticating       State = "AUTHENTICATING"
	StateSessionCreating      State = "SESSION_CREATING"
	StateSubscribing          State = "SUBSCRIBING"
	StateConnected            State = "CONNECTED"
	StateReconnecting         State = "RECONNECTING"
	StateEntitlementExhausted State = "ENTITLEMENT_EXHAUSTED"
)

var (
	errAuthRefused        = errors.New("authentication refused")
	errEntitlementDrained = errors.New("all symbols entitlement-failed")
)

// StreamTransport is one live websocket connection. Single use; the client
// owns all reconnection policy.
type StreamTransport interface {
	Connect(ctx context.Context, token, sessionID string) error
	SendSubscribe(symbols []string) error
	Done() <-chan struct{}
	Close()
}

// StreamFactory builds a fresh transport per connect attempt, publishing
// parsed quotes to the given channel.
type StreamFactory func(quotes chan<- *domain.Quote) StreamTransport

// BarSink receives emitted bars for persistence. Failures are logged and
// swallowed; persistence never blocks the feed.
type BarSink interface {
	SaveBar(bar *domain.Bar) error
}

// Options wires a Client's collaborators.
type Options struct {
	Config      *infra.Config
	API         domain.BrokerAPI
	Streams     StreamFactory
	Audit       domain.AuditLogger
	Instruments domain.InstrumentSource
	Bars        BarSink // optional
	Clock       domain.Clock
}

// Status is a point-in-time view of the connection for operator tooling.
type Status struct {
	State               State     `json:"state"`
	SessionID           string    `json:"session_id"`
	SubscribedContracts []string  `json:"subscribed_contracts"`
	EntitlementFailed   []string  `json:"entitlement_failed"`
	ReconnectAttempts   int       `json:"reconnect_attempts"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastQuote           time.Time `json:"last_quote"`
}

// Client owns the broker connection lifecycle: authentication, session and
// subscription management, reconnection with backoff, the staleness
// watchdog, and fan-out of quotes into bars, the synthesized order book
// and the event stream.
type Client struct {
	cfg       *infra.Config
	api       domain.BrokerAPI
	newStream StreamFactory
	audit     domain.AuditLogger
	clock     domain.Clock
	barSink   BarSink

	symbols        []string // contract roots from Start
	staleThreshold time.Duration
	watchdogEvery  time.Duration
	backoffBase    time.Duration
	backoffMax     time.Duration
	subscribeGrace time.Duration
	rollDays       int

	bars *marketdata.BarBuilder
	book *marketdata.BookSynthesizer
	hub  *eventHub

	quotes chan *domain.Quote

	mu                  sync.RWMutex
	state               State
	sessionID           string
	contracts           map[string]string // root -> front-month contract code
	lastSubKey          string
	entitlementFailed   map[string]bool // roots, sticky for the session
	reconnectAttempts   int
	consecutiveFailures int
	lastQuote           time.Time
	stream              StreamTransport
	confirm             chan struct{} // pending-subscription confirmation
	running             bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a feed client. Start must be called before any data
// flows.
func NewClient(opts Options) *Client {
	cfg := opts.Config
	clock := opts.Clock
	if clock == nil {
		clock = infra.SystemClock{}
	}

	c := &Client{
		cfg:       cfg,
		api:       opts.API,
		newStream: opts.Streams,
		audit:     opts.Audit,
		clock:     clock,
		barSink:   opts.Bars,

		staleThreshold: time.Duration(cfg.Feed.StaleThresholdSec) * time.Second,
		watchdogEvery:  time.Duration(cfg.Feed.WatchdogIntervalSec) * time.Second,
		backoffBase:    time.Duration(cfg.Feed.ReconnectBaseMS) * time.Millisecond,
		backoffMax:     time.Duration(cfg.Feed.ReconnectMaxMS) * time.Millisecond,
		subscribeGrace: time.Duration(cfg.Feed.SubscribeGraceSec) * time.Second,
		rollDays:       cfg.Feed.RollDays,

		book: marketdata.NewBookSynthesizer(cfg.Feed.HistoryLimit, opts.Instruments),
		hub:  newEventHub(),

		quotes: make(chan *domain.Quote, 1000),

		state:             StateDisconnected,
		contracts:         make(map[string]string),
		entitlementFailed: make(map[string]bool),
	}

	timeframe := time.Duration(cfg.Feed.TimeframeSec) * time.Second
	c.bars = marketdata.NewBarBuilder(cfg.Feed.Timeframe, timeframe, clock, c.handleBar)

	return c
}

// Events returns a subscription to the feed's event stream and a cancel
// func releasing it.
func (c *Client) Events() (<-chan domain.Event, func()) {
	return c.hub.subscribe()
}

// Start opens the connection for the given contract roots. Counters are
// reset: this is the one clean-slate entry point.
func (c *Client) Start(ctx context.Context, symbols []string) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("feed already started")
	}
	c.running = true
	c.symbols = append([]string(nil), symbols...)
	c.reconnectAttempts = 0
	c.consecutiveFailures = 0
	c.entitlementFailed = make(map[string]bool)
	c.lastSubKey = ""
	c.mu.Unlock()

	ctx, c.cancel = context.WithCancel(ctx)

	c.bars.Start(ctx)

	c.wg.Add(3)
	go c.run(ctx)
	go c.pumpQuotes(ctx)
	go c.watchdog(ctx)

	return nil
}

// Stop tears the connection down, flushes open bars and closes all event
// subscriptions.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.running = false
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}

	c.wg.Wait()
	c.bars.Stop()
	c.hub.close()
	c.setState(StateDisconnected)
	slog.Info("feed stopped")
}

// run is the connection lifecycle loop: connect, hold, reconnect with
// backoff. It exits only on context cancellation or entitlement exhaustion.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("feed lifecycle panic recovered", slog.Any("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.entitlementExhausted() {
			// Every subscribed symbol is entitlement-failed. Reconnecting
			// would burn requests for nothing; park until restart.
			c.setState(StateEntitlementExhausted)
			c.emit(domain.Event{
				Type:    domain.EventSubscriptionFailed,
				Symbols: c.EntitlementStatus(),
				Reason:  "all symbols entitlement-failed, reconnection stopped",
			})
			c.auditLog("entitlement_exhausted", "error", "Market data entitlement exhausted",
				"all subscribed symbols rejected; reconnection halted", nil)
			<-ctx.Done()
			return
		}

		stream, err := c.connectOnce(ctx)
		if err == nil {
			// Connected. Hold on the transport connectOnce handed back; the
			// shared field may already be nulled by a concurrent Stop.
			select {
			case <-ctx.Done():
				return
			case <-stream.Done():
			}

			c.emit(domain.Event{Type: domain.EventDisconnected, Timestamp: c.clock.Now()})
			c.setState(StateReconnecting)
			slog.Warn("feed transport dropped, reconnecting")
		} else if errors.Is(err, errEntitlementDrained) {
			continue // top of loop parks in ENTITLEMENT_EXHAUSTED
		} else {
			c.mu.Lock()
			c.consecutiveFailures++
			failures := c.consecutiveFailures
			c.mu.Unlock()
			slog.Warn("feed connect failed",
				slog.Any("error", err), slog.Int("consecutive_failures", failures))
			c.setState(StateReconnecting)
		}

		c.mu.Lock()
		c.reconnectAttempts++
		attempt := c.reconnectAttempts
		c.mu.Unlock()
		infra.GlobalMetrics.RecordReconnect()

		delay := Backoff(attempt, c.backoffBase, c.backoffMax)
		slog.Info("reconnect backoff", slog.Int("attempt", attempt), slog.Duration("delay", delay))
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

// connectOnce runs a full AUTHENTICATING -> CONNECTED pass and returns the
// live transport on success.
func (c *Client) connectOnce(ctx context.Context) (StreamTransport, error) {
	c.setState(StateAuthenticating)
	authed, err := c.api.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if !authed {
		c.auditLog("auth_failed", "warning", "Broker authentication refused",
			"credentials rejected by broker", nil)
		return nil, errAuthRefused
	}

	c.setState(StateSessionCreating)
	sessionID, err := c.api.CreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	// Front-month codes are re-derived on every connect; a rollover forces
	// a fresh subscription even when the session would otherwise be reused.
	codes, rolled := c.refreshContracts()
	if rolled {
		c.mu.Lock()
		c.lastSubKey = ""
		c.mu.Unlock()
		slog.Info("front-month rollover detected", slog.Any("contracts", codes))
	}
	if len(codes) == 0 {
		return nil, errEntitlementDrained
	}

	stream := c.newStream(c.quotes)
	if err := stream.Connect(ctx, c.api.Token(), sessionID); err != nil {
		return nil, fmt.Errorf("stream connect: %w", err)
	}

	c.mu.Lock()
	if c.stream != nil {
		go c.stream.Close()
	}
	c.stream = stream
	c.sessionID = sessionID
	c.mu.Unlock()

	c.setState(StateSubscribing)
	if err := c.subscribe(ctx, sessionID, codes); err != nil {
		stream.Close()
		return nil, err
	}

	c.mu.Lock()
	c.consecutiveFailures = 0
	c.lastQuote = c.clock.Now()
	c.mu.Unlock()

	c.setState(StateConnected)
	infra.GlobalMetrics.IncrementConnections()
	c.emit(domain.Event{Type: domain.EventConnected, Timestamp: c.clock.Now(), Symbols: codes})
	c.auditLog("feed_connected", "info", "Market data feed connected",
		fmt.Sprintf("subscribed to %s", strings.Join(codes, ", ")), nil)
	return stream, nil
}

// refreshContracts recomputes front-month codes for all non-entitlement-
// failed roots. Returns the codes and whether any code changed.
func (c *Client) refreshContracts() ([]string, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	rolled := false
	codes := make([]string, 0, len(c.symbols))
	for _, root := range c.symbols {
		if c.entitlementFailed[root] {
			continue
		}
		code := marketdata.FrontMonthContract(root, now, c.rollDays)
		if prev, ok := c.contracts[root]; ok && prev != code {
			rolled = true
		}
		c.contracts[root] = code
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, rolled
}

// subscribe runs the REST-first, stream-fallback subscription flow.
// Re-subscribing the same session with the same contract codes is a no-op.
func (c *Client) subscribe(ctx context.Context, sessionID string, codes []string) error {
	subKey := sessionID + "|" + strings.Join(codes, ",")

	c.mu.RLock()
	already := c.lastSubKey == subKey
	c.mu.RUnlock()
	if already {
		return nil
	}

	for {
		err := c.api.SubscribeQuotes(ctx, sessionID, codes)
		if err == nil {
			c.markSubscribed(subKey)
			return nil
		}

		var entErr *domain.EntitlementError
		if errors.As(err, &entErr) {
			codes = c.recordEntitlementFailure(entErr.Symbols)
			if len(codes) == 0 {
				return errEntitlementDrained
			}
			subKey = sessionID + "|" + strings.Join(codes, ",")
			continue
		}

		// Transient REST failure: fall back to in-band subscription and
		// wait for quotes to confirm before trusting it.
		slog.Warn("REST subscribe failed, trying stream fallback", slog.Any("error", err))
		return c.subscribeFallback(ctx, subKey, codes)
	}
}

// subscribeFallback sends in-band subscribe messages and holds the
// subscription in a pending state until a quote confirms it or the grace
// window lapses. Only quotes observed after the subscribe message count;
// a quote left over from a previous connection must not validate an
// unacknowledged subscription.
func (c *Client) subscribeFallback(ctx context.Context, subKey string, codes []string) error {
	c.mu.RLock()
	stream := c.stream
	c.mu.RUnlock()
	if stream == nil {
		return domain.ErrNotConnected
	}
	if err := stream.SendSubscribe(codes); err != nil {
		return domain.NewNetworkError("stream subscribe", err)
	}

	confirm := make(chan struct{}, 1)
	c.mu.Lock()
	c.confirm = confirm
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.confirm = nil
		c.mu.Unlock()
	}()

	expired := make(chan struct{})
	timer := c.clock.AfterFunc(c.subscribeGrace, func() { close(expired) })
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-confirm:
		c.markSubscribed(subKey)
		return nil
	case <-expired:
	}

	c.emit(domain.Event{
		Type:      domain.EventSubscriptionFailed,
		Timestamp: c.clock.Now(),
		Symbols:   codes,
		Reason:    "no quotes within fallback grace window",
	})
	c.auditLog("subscription_failed", "warning", "Subscription unconfirmed",
		"stream fallback produced no quotes within grace window",
		map[string]any{"symbols": codes})
	return domain.NewNetworkError("subscribe", fmt.Errorf("unconfirmed after %s", c.subscribeGrace))
}

func (c *Client) markSubscribed(subKey string) {
	c.mu.Lock()
	c.lastSubKey = subKey
	c.mu.Unlock()
}

// recordEntitlementFailure permanently marks the roots behind the rejected
// contract codes and returns the remaining subscribable codes.
func (c *Client) recordEntitlementFailure(rejectedCodes []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	rejected := make(map[string]bool, len(rejectedCodes))
	for _, code := range rejectedCodes {
		rejected[code] = true
	}

	remaining := make([]string, 0, len(c.contracts))
	failedCount := 0
	for root, code := range c.contracts {
		if rejected[code] {
			c.entitlementFailed[root] = true
		}
		if c.entitlementFailed[root] {
			failedCount++
			continue
		}
		remaining = append(remaining, code)
	}
	sort.Strings(remaining)

	infra.GlobalMetrics.SetEntitlementFailed(int32(failedCount))
	slog.Warn("entitlement failure recorded",
		slog.Any("rejected", rejectedCodes), slog.Int("total_failed", failedCount))
	return remaining
}

func (c *Client) entitlementExhausted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.symbols) == 0 {
		return false
	}
	for _, root := range c.symbols {
		if !c.entitlementFailed[root] {
			return false
		}
	}
	return true
}

// pumpQuotes is the single consumer of the quote channel. It stamps
// freshness, feeds the bar builder and book synthesizer, and fans events
// out to subscribers.
func (c *Client) pumpQuotes(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case quote := <-c.quotes:
			start := time.Now()

			c.mu.Lock()
			c.lastQuote = c.clock.Now()
			confirm := c.confirm
			c.mu.Unlock()

			if confirm != nil {
				select {
				case confirm <- struct{}{}:
				default:
				}
			}

			c.bars.OnQuote(quote)
			c.book.OnQuote(quote)

			c.emit(domain.Event{Type: domain.EventQuote, Timestamp: quote.Timestamp, Quote: quote})
			if quote.HasBook() {
				if snap := c.book.Snapshot(quote.Symbol); snap != nil {
					c.emit(domain.Event{Type: domain.EventOrderBook, Timestamp: snap.Timestamp, Book: snap})
				}
			}

			infra.GlobalMetrics.RecordQuote(time.Since(start).Nanoseconds())
		}
	}
}

// watchdog forces a reconnect when quotes stop flowing while the market is
// open. Closed-market silence is expected and suppressed.
func (c *Client) watchdog(ctx context.Context) {
	defer c.wg.Done()

	for {
		if err := c.clock.Sleep(ctx, c.watchdogEvery); err != nil {
			return
		}

		c.mu.RLock()
		state := c.state
		last := c.lastQuote
		stream := c.stream
		c.mu.RUnlock()

		if state != StateConnected || stream == nil {
			continue
		}

		now := c.clock.Now()
		if now.Sub(last) <= c.staleThreshold || !marketdata.IsMarketOpen(now) {
			continue
		}

		infra.GlobalMetrics.RecordStale()
		slog.Warn("stale feed detected, forcing reconnect",
			slog.Time("last_quote", last), slog.Duration("threshold", c.staleThreshold))
		c.emit(domain.Event{
			Type:      domain.EventStaleData,
			Timestamp: now,
			Reason:    fmt.Sprintf("no quotes for %s", now.Sub(last).Truncate(time.Second)),
		})
		c.auditLog("stale_data", "warning", "Stale market data",
			fmt.Sprintf("no quotes since %s", last.Format(time.RFC3339)), nil)

		// Closing the transport trips the lifecycle loop into its normal
		// reconnect path.
		stream.Close()
	}
}

// handleBar receives bars from the builder, persists them and publishes
// the bar event.
func (c *Client) handleBar(bar *domain.Bar) {
	infra.GlobalMetrics.RecordBar()
	if c.barSink != nil {
		if err := c.barSink.SaveBar(bar); err != nil {
			slog.Warn("bar persistence failed", slog.Any("error", err))
		}
	}
	c.emit(domain.Event{Type: domain.EventBar, Timestamp: bar.OpenTime, Bar: bar})
}

func (c *Client) emit(ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.clock.Now()
	}
	c.hub.publish(ev)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		slog.Debug("feed state", slog.String("from", string(prev)), slog.String("to", string(s)))
	}
}

func (c *Client) auditLog(eventType, severity, title, summary string, payload map[string]any) {
	if c.audit != nil {
		c.audit.LogEvent(eventType, severity, title, summary, payload, "")
	}
}

// ======================================================================================
// Query surface
// ======================================================================================

// Status returns a snapshot of the connection state.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subscribed := make([]string, 0, len(c.contracts))
	for root, code := range c.contracts {
		if !c.entitlementFailed[root] {
			subscribed = append(subscribed, code)
		}
	}
	sort.Strings(subscribed)

	failed := make([]string, 0, len(c.entitlementFailed))
	for root := range c.entitlementFailed {
		failed = append(failed, root)
	}
	sort.Strings(failed)

	return Status{
		State:               c.state,
		SessionID:           c.sessionID,
		SubscribedContracts: subscribed,
		EntitlementFailed:   failed,
		ReconnectAttempts:   c.reconnectAttempts,
		ConsecutiveFailures: c.consecutiveFailures,
		LastQuote:           c.lastQuote,
	}
}

// OrderBook returns the synthesized book for a symbol, or nil.
func (c *Client) OrderBook(symbol string) *domain.OrderBookSnapshot {
	return c.book.Snapshot(symbol)
}

// Microstructure returns trailing spread/volatility metrics for a symbol.
func (c *Client) Microstructure(symbol string) *domain.MicrostructureMetrics {
	return c.book.Microstructure(symbol)
}

// EntitlementStatus lists the roots permanently excluded this session.
func (c *Client) EntitlementStatus() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	failed := make([]string, 0, len(c.entitlementFailed))
	for root := range c.entitlementFailed {
		failed = append(failed, root)
	}
	sort.Strings(failed)
	return failed
}

// ======================================================================================
// Order primitives (stage-gating lives in the execution bridge)
// ======================================================================================

// SubmitOrder forwards a ticket to the broker. Token refresh on expiry is
// handled inside the API client.
func (c *Client) SubmitOrder(ctx context.Context, ticket domain.OrderTicket) (*domain.OrderResult, error) {
	return c.api.SubmitOrder(ctx, ticket)
}

// CancelOrder cancels a working broker order.
func (c *Client) CancelOrder(ctx context.Context, brokerID string) error {
	return c.api.CancelOrder(ctx, brokerID)
}

// OrderStatus queries a working broker order.
func (c *Client) OrderStatus(ctx context.Context, brokerID string) (*domain.OrderResult, error) {
	return c.api.OrderStatus(ctx, brokerID)
}

// Positions lists the account's open positions.
func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	return c.api.Positions(ctx)
}

package feed_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"futures_go/internal/domain"
	"futures_go/internal/feed"
	"futures_go/internal/infra"
	"futures_go/internal/marketdata"

	"github.com/shopspring/decimal"
)

func testConfig(symbols ...string) *infra.Config {
	cfg := &infra.Config{}
	cfg.Feed.Symbols = symbols
	cfg.Feed.Timeframe = "1m"
	cfg.Feed.TimeframeSec = 60
	cfg.Feed.HistoryLimit = 100
	cfg.Feed.StaleThresholdSec = 120
	cfg.Feed.WatchdogIntervalSec = 1
	cfg.Feed.ReconnectBaseMS = 1
	cfg.Feed.ReconnectMaxMS = 10
	cfg.Feed.SubscribeGraceSec = 1
	cfg.Feed.RollDays = 8
	return cfg
}

// fakeAPI scripts the broker REST surface. Sessions are numbered so every
// reconnect negotiates a fresh subscription.
type fakeAPI struct {
	mu           sync.Mutex
	authCalls    int
	sessions     int
	subscribeErr func(codes []string) error
}

func (f *fakeAPI) Authenticate(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	return true, nil
}

func (f *fakeAPI) authCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls
}

func (f *fakeAPI) CreateSession(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	return fmt.Sprintf("sess-%d", f.sessions), nil
}

func (f *fakeAPI) SubscribeQuotes(ctx context.Context, sessionID string, symbols []string) error {
	f.mu.Lock()
	fn := f.subscribeErr
	f.mu.Unlock()
	if fn != nil {
		return fn(symbols)
	}
	return nil
}

func (f *fakeAPI) SubmitOrder(ctx context.Context, ticket domain.OrderTicket) (*domain.OrderResult, error) {
	return &domain.OrderResult{OrderID: ticket.ID, Status: domain.OrderStatusFilled}, nil
}
func (f *fakeAPI) CancelOrder(ctx context.Context, brokerID string) error { return nil }
func (f *fakeAPI) OrderStatus(ctx context.Context, brokerID string) (*domain.OrderResult, error) {
	return nil, domain.ErrUnknownOrder
}
func (f *fakeAPI) Positions(ctx context.Context) ([]domain.Position, error) { return nil, nil }
func (f *fakeAPI) TokenValid() bool                                         { return true }
func (f *fakeAPI) Token() string                                            { return "token" }

// fakeStream is an in-memory transport. A non-nil connectGate makes
// Connect block until the gate is closed.
type fakeStream struct {
	quotes      chan<- *domain.Quote
	done        chan struct{}
	once        sync.Once
	connectGate chan struct{}
}

func (f *fakeStream) Connect(ctx context.Context, token, sessionID string) error {
	if f.connectGate != nil {
		<-f.connectGate
	}
	return nil
}
func (f *fakeStream) SendSubscribe(symbols []string) error { return nil }
func (f *fakeStream) Done() <-chan struct{}                { return f.done }
func (f *fakeStream) Close()                               { f.once.Do(func() { close(f.done) }) }

// streamFactory hands out fakeStreams and remembers them in order.
type streamFactory struct {
	mu          sync.Mutex
	streams     []*fakeStream
	connectGate chan struct{}
}

func (sf *streamFactory) new(quotes chan<- *domain.Quote) feed.StreamTransport {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	s := &fakeStream{quotes: quotes, done: make(chan struct{}), connectGate: sf.connectGate}
	sf.streams = append(sf.streams, s)
	return s
}

func (sf *streamFactory) latest() *fakeStream {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if len(sf.streams) == 0 {
		return nil
	}
	return sf.streams[len(sf.streams)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func entitlementReject(codes []string) error {
	return &domain.EntitlementError{Symbols: codes}
}

// manualClock holds time still until advanced and collects AfterFunc
// timers for manual firing. Sleep yields briefly so loops keep polling
// against the frozen clock.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.stopped = true
	return true
}

func newManualClock(now time.Time) *manualClock {
	return &manualClock{now: now}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *manualClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Millisecond):
		return nil
	}
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) domain.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) timerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// fire runs every armed, unstopped timer.
func (c *manualClock) fire() {
	c.mu.Lock()
	timers := append([]*manualTimer(nil), c.timers...)
	c.timers = nil
	c.mu.Unlock()
	for _, t := range timers {
		if !t.stopped {
			t.f()
		}
	}
}

func TestClient_ConnectAndQuoteFlow(t *testing.T) {
	api := &fakeAPI{}
	factory := &streamFactory{}
	client := feed.NewClient(feed.Options{
		Config:  testConfig("ES"),
		API:     api,
		Streams: factory.new,
	})

	events, cancelEvents := client.Events()
	defer cancelEvents()

	if err := client.Start(context.Background(), []string{"ES"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	waitFor(t, "connected state", func() bool {
		return client.Status().State == feed.StateConnected
	})

	code := marketdata.FrontMonthContract("ES", time.Now(), 8)
	status := client.Status()
	if len(status.SubscribedContracts) != 1 || status.SubscribedContracts[0] != code {
		t.Errorf("subscribed contracts: got %v, want [%s]", status.SubscribedContracts, code)
	}
	if status.SessionID != "sess-1" {
		t.Errorf("session: got %s", status.SessionID)
	}

	// Push a quote through the transport channel.
	stream := factory.latest()
	stream.quotes <- &domain.Quote{
		Symbol:    code,
		Bid:       decimal.NewFromFloat(5000.00),
		Ask:       decimal.NewFromFloat(5000.25),
		BidSize:   decimal.NewFromInt(3),
		AskSize:   decimal.NewFromInt(4),
		Last:      decimal.NewFromFloat(5000.25),
		LastSize:  decimal.NewFromInt(1),
		Timestamp: time.Now(),
	}

	waitFor(t, "order book", func() bool {
		return client.OrderBook(code) != nil
	})

	book := client.OrderBook(code)
	if !book.Spread.Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("spread: got %s", book.Spread)
	}

	sawQuote := false
	drain := time.After(time.Second)
	for !sawQuote {
		select {
		case ev := <-events:
			if ev.Type == domain.EventQuote {
				sawQuote = true
			}
		case <-drain:
			t.Fatal("no quote event observed")
		}
	}
}

func TestClient_StartTwiceFails(t *testing.T) {
	api := &fakeAPI{}
	factory := &streamFactory{}
	client := feed.NewClient(feed.Options{
		Config:  testConfig("ES"),
		API:     api,
		Streams: factory.new,
	})

	if err := client.Start(context.Background(), []string{"ES"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	if err := client.Start(context.Background(), []string{"ES"}); err == nil {
		t.Error("second Start must fail")
	}
}

func TestClient_ReconnectsAfterStreamDrop(t *testing.T) {
	api := &fakeAPI{}
	factory := &streamFactory{}
	client := feed.NewClient(feed.Options{
		Config:  testConfig("ES"),
		API:     api,
		Streams: factory.new,
	})

	if err := client.Start(context.Background(), []string{"ES"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	waitFor(t, "first connect", func() bool {
		return client.Status().State == feed.StateConnected
	})

	factory.latest().Close()

	waitFor(t, "reconnect", func() bool {
		return api.authCount() >= 2 && client.Status().State == feed.StateConnected
	})

	if attempts := client.Status().ReconnectAttempts; attempts < 1 {
		t.Errorf("expected at least 1 reconnect attempt, got %d", attempts)
	}
}

func TestClient_PartialEntitlementSticky(t *testing.T) {
	nqCode := marketdata.FrontMonthContract("NQ", time.Now(), 8)
	esCode := marketdata.FrontMonthContract("ES", time.Now(), 8)

	api := &fakeAPI{
		subscribeErr: func(codes []string) error {
			for _, c := range codes {
				if c == nqCode {
					return entitlementReject([]string{nqCode})
				}
			}
			return nil
		},
	}
	factory := &streamFactory{}
	client := feed.NewClient(feed.Options{
		Config:  testConfig("ES", "NQ"),
		API:     api,
		Streams: factory.new,
	})

	if err := client.Start(context.Background(), []string{"ES", "NQ"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	waitFor(t, "connected with reduced set", func() bool {
		return client.Status().State == feed.StateConnected
	})

	status := client.Status()
	if len(status.SubscribedContracts) != 1 || status.SubscribedContracts[0] != esCode {
		t.Errorf("subscribed: got %v, want [%s]", status.SubscribedContracts, esCode)
	}
	if len(status.EntitlementFailed) != 1 || status.EntitlementFailed[0] != "NQ" {
		t.Errorf("entitlement failed: got %v, want [NQ]", status.EntitlementFailed)
	}
}

func TestClient_EntitlementExhaustionStopsReconnects(t *testing.T) {
	api := &fakeAPI{
		subscribeErr: func(codes []string) error {
			return entitlementReject(codes)
		},
	}
	factory := &streamFactory{}
	client := feed.NewClient(feed.Options{
		Config:  testConfig("ES", "NQ"),
		API:     api,
		Streams: factory.new,
	})

	if err := client.Start(context.Background(), []string{"ES", "NQ"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	waitFor(t, "entitlement exhausted state", func() bool {
		return client.Status().State == feed.StateEntitlementExhausted
	})

	failed := client.EntitlementStatus()
	if len(failed) != 2 || failed[0] != "ES" || failed[1] != "NQ" {
		t.Errorf("entitlement status: got %v, want [ES NQ]", failed)
	}

	// Parked: no further connection attempts.
	attempts := api.authCount()
	time.Sleep(100 * time.Millisecond)
	if api.authCount() != attempts {
		t.Errorf("reconnection continued after exhaustion: %d -> %d", attempts, api.authCount())
	}
}

func TestClient_StopDuringConnect(t *testing.T) {
	api := &fakeAPI{}
	factory := &streamFactory{connectGate: make(chan struct{})}
	client := feed.NewClient(feed.Options{
		Config:  testConfig("ES"),
		API:     api,
		Streams: factory.new,
	})

	if err := client.Start(context.Background(), []string{"ES"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "connect attempt", func() bool { return factory.latest() != nil })

	stopped := make(chan struct{})
	go func() {
		client.Stop()
		close(stopped)
	}()

	// Let Stop cancel the lifecycle before the transport comes up.
	time.Sleep(20 * time.Millisecond)
	close(factory.connectGate)

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop hung during an in-flight connect")
	}
	if got := client.Status().State; got != feed.StateDisconnected {
		t.Errorf("state after stop: got %s", got)
	}
}

func TestClient_FallbackNotConfirmedByEarlierQuote(t *testing.T) {
	clk := newManualClock(time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC))

	var restFailing atomic.Bool
	api := &fakeAPI{
		subscribeErr: func(codes []string) error {
			if restFailing.Load() {
				return errors.New("subscribe: 503")
			}
			return nil
		},
	}
	factory := &streamFactory{}
	client := feed.NewClient(feed.Options{
		Config:  testConfig("ES"),
		API:     api,
		Streams: factory.new,
		Clock:   clk,
	})

	events, cancelEvents := client.Events()
	defer cancelEvents()

	if err := client.Start(context.Background(), []string{"ES"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	waitFor(t, "first connect", func() bool {
		return client.Status().State == feed.StateConnected
	})

	// A quote lands just before the drop, leaving lastQuote fresh.
	code := marketdata.FrontMonthContract("ES", clk.Now(), 8)
	factory.latest().quotes <- &domain.Quote{
		Symbol:    code,
		Bid:       decimal.NewFromFloat(5000.00),
		Ask:       decimal.NewFromFloat(5000.25),
		BidSize:   decimal.NewFromInt(1),
		AskSize:   decimal.NewFromInt(1),
		Timestamp: clk.Now(),
	}
	waitFor(t, "quote consumed", func() bool { return client.OrderBook(code) != nil })

	// The reconnect lands on the stream fallback and no quotes arrive on
	// the new connection.
	restFailing.Store(true)
	factory.latest().Close()

	waitFor(t, "fallback grace timer armed", func() bool { return clk.timerCount() >= 1 })
	clk.fire()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == domain.EventSubscriptionFailed {
				return
			}
		case <-deadline:
			t.Fatal("pre-drop quote must not confirm the fallback subscription")
		}
	}
}

func TestClient_WatchdogReconnectsStaleFeed(t *testing.T) {
	// Tuesday 12:00 in Chicago: the market is open, so silence is stale.
	clk := newManualClock(time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC))
	api := &fakeAPI{}
	factory := &streamFactory{}
	client := feed.NewClient(feed.Options{
		Config:  testConfig("ES"),
		API:     api,
		Streams: factory.new,
		Clock:   clk,
	})

	if err := client.Start(context.Background(), []string{"ES"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	waitFor(t, "first connect", func() bool {
		return client.Status().State == feed.StateConnected
	})

	// Jump past the staleness threshold without any quotes flowing.
	clk.advance(3 * time.Minute)

	waitFor(t, "stale-forced reconnect", func() bool {
		return api.authCount() >= 2 && client.Status().State == feed.StateConnected
	})
}

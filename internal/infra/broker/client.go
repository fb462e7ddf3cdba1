package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"futures_go/internal/domain"
	"futures_go/internal/infra"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// tokenSafety is subtracted from the token expiry so requests are never
// sent with a token about to lapse mid-flight.
const tokenSafety = 30 * time.Second

// Client is the broker's REST API client (boundary layer). It owns the
// session token; stream/session orchestration lives in the feed package.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	creds      infra.CredentialSet
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu       sync.RWMutex
	token    string
	tokenExp time.Time
}

// NewClient creates a new broker API client. Order submissions are rate
// limited to ordersPerSec with a small burst.
func NewClient(cfg *infra.Config) *Client {
	creds := cfg.ActiveCredentials()
	return &Client{
		baseURL: strings.TrimRight(cfg.Broker.RestURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer:  NewSigner(creds.AccessKey, creds.SecretKey, creds.AccountID),
		creds:   creds,
		limiter: rate.NewLimiter(rate.Limit(cfg.Execution.OrderRateLimit), 2),
		logger:  slog.Default().With("module", "broker_client"),
	}
}

// HasCredentials reports whether a usable key pair is configured.
func (c *Client) HasCredentials() bool {
	return !c.creds.Empty()
}

// Authenticate exchanges credentials for a session token. A refusal comes
// back as (false, nil); transport problems as (false, err).
func (c *Client) Authenticate(ctx context.Context) (bool, error) {
	if c.creds.Empty() {
		return false, nil
	}

	body := map[string]string{
		"accessKey": c.creds.AccessKey,
		"secretKey": c.creds.SecretKey,
		"accountId": c.creds.AccountID,
	}

	var auth authResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/auth/token", "", body, &auth); err != nil {
		if apiErr, ok := err.(*apiError); ok && apiErr.httpStatus == http.StatusUnauthorized {
			c.logger.Warn("authentication refused", "msg", apiErr.msg)
			return false, nil
		}
		return false, fmt.Errorf("authenticate: %w", err)
	}
	if auth.AccessToken == "" {
		return false, nil
	}

	exp := c.tokenExpiry(auth)

	c.mu.Lock()
	c.token = auth.AccessToken
	c.tokenExp = exp
	c.mu.Unlock()

	c.logger.Info("authenticated", "expires", exp)
	return true, nil
}

// tokenExpiry reads the exp claim when the token is a JWT, falling back to
// the advertised expiresIn for opaque tokens.
func (c *Client) tokenExpiry(auth authResponse) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(auth.AccessToken, claims); err == nil {
		if expAt, err := claims.GetExpirationTime(); err == nil && expAt != nil {
			return expAt.Time
		}
	}
	if auth.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(auth.ExpiresIn) * time.Second)
	}
	return time.Now().Add(1 * time.Hour)
}

// TokenValid reports whether the current token is usable.
func (c *Client) TokenValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != "" && time.Now().Before(c.tokenExp.Add(-tokenSafety))
}

// Token returns the current session token for the stream transport.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// CreateSession requests a streaming session id. Requires a valid token.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	if !c.TokenValid() {
		return "", domain.ErrAuthExpired
	}
	var session sessionResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/md/session", "", nil, &session); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if session.SessionID == "" {
		return "", domain.NewNetworkError("create session", fmt.Errorf("empty session id"))
	}
	return session.SessionID, nil
}

// SubscribeQuotes issues the primary GET subscription for the session.
// Entitlement rejections come back as *domain.EntitlementError.
func (c *Client) SubscribeQuotes(ctx context.Context, sessionID string, symbols []string) error {
	query := url.Values{}
	query.Set("sessionId", sessionID)
	query.Set("symbols", strings.Join(symbols, ","))

	err := c.call(ctx, http.MethodGet, "/api/v1/md/subscribe", query.Encode(), nil, nil)
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*apiError); ok && IsEntitlementReject(apiErr.msg) {
		return &domain.EntitlementError{Symbols: symbols}
	}
	return domain.NewNetworkError("subscribe", err)
}

// SubmitOrder places an order. Rejections are carried in the result, not
// as an error. An expired token is refreshed transparently once.
func (c *Client) SubmitOrder(ctx context.Context, ticket domain.OrderTicket) (*domain.OrderResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := map[string]string{
		"clientOrderId": ticket.ID,
		"symbol":        ticket.Symbol,
		"side":          ticket.Side,
		"orderType":     ticket.Type,
		"qty":           ticket.Quantity.String(),
	}
	if ticket.Type == domain.OrderTypeLimit && ticket.Price.IsPositive() {
		body["price"] = ticket.Price.String()
	}

	var resp orderResponse
	if err := c.callWithReauth(ctx, http.MethodPost, "/api/v1/orders", "", body, &resp); err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}

	result := toOrderResult(&resp)
	result.OrderID = ticket.ID
	return result, nil
}

// CancelOrder cancels a working order by broker id.
func (c *Client) CancelOrder(ctx context.Context, brokerID string) error {
	path := "/api/v1/orders/" + url.PathEscape(brokerID)
	if err := c.callWithReauth(ctx, http.MethodDelete, path, "", nil, nil); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// OrderStatus fetches the current status of a working order.
func (c *Client) OrderStatus(ctx context.Context, brokerID string) (*domain.OrderResult, error) {
	path := "/api/v1/orders/" + url.PathEscape(brokerID)
	var resp orderResponse
	if err := c.callWithReauth(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, fmt.Errorf("order status: %w", err)
	}
	return toOrderResult(&resp), nil
}

// Positions lists open positions for the account.
func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	var resp []positionResponse
	if err := c.callWithReauth(ctx, http.MethodGet, "/api/v1/positions", "", nil, &resp); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(resp))
	for _, p := range resp {
		positions = append(positions, domain.Position{
			Symbol:   p.Symbol,
			Quantity: decimal.NewFromFloat(p.NetPos),
			AvgPrice: decimal.NewFromFloat(p.AvgPrice),
		})
	}
	return positions, nil
}

// callWithReauth retries exactly once after refreshing an expired token.
func (c *Client) callWithReauth(ctx context.Context, method, path, query string, body, out any) error {
	err := c.call(ctx, method, path, query, body, out)
	apiErr, ok := err.(*apiError)
	if !ok || apiErr.httpStatus != http.StatusUnauthorized {
		return err
	}

	c.logger.Info("token expired mid-session, re-authenticating", "path", path)
	authed, authErr := c.Authenticate(ctx)
	if authErr != nil || !authed {
		return domain.ErrAuthExpired
	}
	return c.call(ctx, method, path, query, body, out)
}

// apiError carries the broker's envelope error plus HTTP status.
type apiError struct {
	httpStatus int
	code       string
	msg        string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("broker api error: status=%d code=%s msg=%s", e.httpStatus, e.code, e.msg)
}

// call handles signing, serialization and envelope decoding.
func (c *Client) call(ctx context.Context, method, path, query string, body, out any) error {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewBuffer(jsonBytes)
		bodyStr = string(jsonBytes)
	}

	reqURL := c.baseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return err
	}

	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	for k, v := range c.signer.GenerateHeaders(method, path, query, bodyStr) {
		req.Header.Set(k, v)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError(method+" "+path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError("read response", err)
	}

	var envelope apiEnvelope
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}
	}

	if resp.StatusCode != http.StatusOK || (envelope.Code != "" && envelope.Code != apiCodeOK) {
		return &apiError{httpStatus: resp.StatusCode, code: envelope.Code, msg: envelope.Msg}
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}

var _ domain.BrokerAPI = (*Client)(nil)

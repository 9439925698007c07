// Package client is a typed HTTP client for the agent registry API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/circuitbreaker"
	"github.com/mbd888/agentregistry/internal/ledger"
	"github.com/mbd888/agentregistry/internal/payments"
	"github.com/mbd888/agentregistry/internal/pricing"
	"github.com/mbd888/agentregistry/internal/registry"
	"github.com/mbd888/agentregistry/internal/settings"
)

// DefaultTimeout bounds each request when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config holds the connection settings for the registry API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	APIKey      string // API key, e.g. "ark_..."
	AdminSecret string // Sent as X-Admin-Secret on admin routes
	Timeout     time.Duration

	// Consecutive transport failures or 5xx responses before requests fail
	// fast with circuitbreaker.ErrOpen. Zero uses the breaker's defaults.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Client talks to the registry over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// New creates a client for the registry API.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown),
	}
}

// APIError is a non-2xx response from the registry.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d)", e.Status)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type requestOpts struct {
	query url.Values
	body  any
	admin bool
}

// upstreamFailure reports whether err says the server is unhealthy rather
// than that the request was rejected.
func upstreamFailure(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

// do sends a request and decodes the JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, opts requestOpts, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	return c.breaker.Execute(u.Host, func() error {
		return c.send(ctx, method, u, opts, out)
	}, upstreamFailure)
}

func (c *Client) send(ctx context.Context, method string, u *url.URL, opts requestOpts, out any) error {
	if opts.query != nil {
		u.RawQuery = opts.query.Encode()
	}

	var reqBody io.Reader
	if opts.body != nil {
		data, err := json.Marshal(opts.body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if opts.admin && c.cfg.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	}
	if opts.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Code == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func agentPath(owner common.Address, suffix string) string {
	return "/v1/agents/" + owner.Hex() + suffix
}

// -----------------------------------------------------------------------------
// Identities
// -----------------------------------------------------------------------------

// Claim is the response to claiming an identity.
type Claim struct {
	Identity common.Address `json:"identity"`
	APIKey   string         `json:"apiKey"`
	KeyID    string         `json:"keyId"`
}

// ClaimIdentity issues the first API key for addr. It needs no API key.
func (c *Client) ClaimIdentity(ctx context.Context, addr common.Address, name string) (*Claim, error) {
	var out Claim
	body := map[string]string{"address": addr.Hex(), "name": name}
	if err := c.do(ctx, http.MethodPost, "/v1/identities", requestOpts{body: body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -----------------------------------------------------------------------------
// Agents
// -----------------------------------------------------------------------------

type agentResponse struct {
	Agent *registry.Agent `json:"agent"`
}

func (c *Client) agentCall(ctx context.Context, method, path string, opts requestOpts) (*registry.Agent, error) {
	var out agentResponse
	if err := c.do(ctx, method, path, opts, &out); err != nil {
		return nil, err
	}
	return out.Agent, nil
}

// Register creates the agent owned by the key's identity.
func (c *Client) Register(ctx context.Context) (*registry.Agent, error) {
	return c.agentCall(ctx, http.MethodPost, "/v1/agents", requestOpts{})
}

// Deactivate moves owner's agent to inactive.
func (c *Client) Deactivate(ctx context.Context, owner common.Address) (*registry.Agent, error) {
	return c.agentCall(ctx, http.MethodPost, agentPath(owner, "/deactivate"), requestOpts{})
}

// Reactivate moves owner's agent back to active.
func (c *Client) Reactivate(ctx context.Context, owner common.Address) (*registry.Agent, error) {
	return c.agentCall(ctx, http.MethodPost, agentPath(owner, "/reactivate"), requestOpts{})
}

// PerformAction runs the free action for owner's agent.
func (c *Client) PerformAction(ctx context.Context, owner common.Address) (*registry.Agent, error) {
	return c.agentCall(ctx, http.MethodPost, agentPath(owner, "/actions"), requestOpts{})
}

// Penalize lowers owner's reputation. The key must belong to the admin.
func (c *Client) Penalize(ctx context.Context, owner common.Address, amount uint64) (*registry.Agent, error) {
	body := map[string]uint64{"amount": amount}
	return c.agentCall(ctx, http.MethodPost, agentPath(owner, "/penalties"), requestOpts{body: body})
}

// GetAgent fetches owner's agent.
func (c *Client) GetAgent(ctx context.Context, owner common.Address) (*registry.Agent, error) {
	return c.agentCall(ctx, http.MethodGet, agentPath(owner, ""), requestOpts{})
}

// ListAgents returns one page of agents ordered by creation.
func (c *Client) ListAgents(ctx context.Context, activeOnly bool, limit, offset int) ([]*registry.Agent, error) {
	q := url.Values{}
	if activeOnly {
		q.Set("active", "true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var out struct {
		Agents []*registry.Agent `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/agents", requestOpts{query: q}, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// -----------------------------------------------------------------------------
// Config
// -----------------------------------------------------------------------------

type configResponse struct {
	Config *settings.GlobalConfig `json:"config"`
}

// InitializeConfig creates the global config with the key's identity as admin.
func (c *Client) InitializeConfig(ctx context.Context) (*settings.GlobalConfig, error) {
	var out configResponse
	if err := c.do(ctx, http.MethodPost, "/v1/config", requestOpts{}, &out); err != nil {
		return nil, err
	}
	return out.Config, nil
}

// GetConfig fetches the global config.
func (c *Client) GetConfig(ctx context.Context) (*settings.GlobalConfig, error) {
	var out configResponse
	if err := c.do(ctx, http.MethodGet, "/v1/config", requestOpts{}, &out); err != nil {
		return nil, err
	}
	return out.Config, nil
}

// UpdatePricing replaces the pricing fields of the global config.
func (c *Client) UpdatePricing(ctx context.Context, u settings.PricingUpdate) (*settings.GlobalConfig, error) {
	var out configResponse
	if err := c.do(ctx, http.MethodPut, "/v1/config/pricing", requestOpts{body: u}, &out); err != nil {
		return nil, err
	}
	return out.Config, nil
}

// -----------------------------------------------------------------------------
// Pricing and payments
// -----------------------------------------------------------------------------

// GetPrice quotes the paid action for owner's agent.
func (c *Client) GetPrice(ctx context.Context, owner common.Address) (*pricing.Quote, error) {
	var out struct {
		Quote *pricing.Quote `json:"quote"`
	}
	if err := c.do(ctx, http.MethodGet, agentPath(owner, "/price"), requestOpts{}, &out); err != nil {
		return nil, err
	}
	return out.Quote, nil
}

// PerformActionWithPayment pays the quoted price and runs the action.
func (c *Client) PerformActionWithPayment(ctx context.Context, owner common.Address) (*payments.Receipt, error) {
	var out struct {
		Receipt *payments.Receipt `json:"receipt"`
	}
	if err := c.do(ctx, http.MethodPost, agentPath(owner, "/paid-actions"), requestOpts{}, &out); err != nil {
		return nil, err
	}
	return out.Receipt, nil
}

type accountResponse struct {
	Account *ledger.Account `json:"account"`
}

// Balance fetches the ledger account for addr.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*ledger.Account, error) {
	var out accountResponse
	if err := c.do(ctx, http.MethodGet, agentPath(addr, "/balance"), requestOpts{}, &out); err != nil {
		return nil, err
	}
	return out.Account, nil
}

// Treasury fetches the treasury account.
func (c *Client) Treasury(ctx context.Context) (*ledger.Account, error) {
	var out accountResponse
	if err := c.do(ctx, http.MethodGet, "/v1/treasury", requestOpts{}, &out); err != nil {
		return nil, err
	}
	return out.Account, nil
}

// Deposit credits addr. Requires the admin secret when the server sets one.
func (c *Client) Deposit(ctx context.Context, addr common.Address, amount uint64, reference string) (*ledger.Account, error) {
	body := map[string]any{
		"address":   addr.Hex(),
		"amount":    amount,
		"reference": reference,
	}
	var out accountResponse
	if err := c.do(ctx, http.MethodPost, "/v1/admin/deposits", requestOpts{body: body, admin: true}, &out); err != nil {
		return nil, err
	}
	return out.Account, nil
}

// LedgerPage is one page of ledger entries, newest first.
type LedgerPage struct {
	Entries    []*ledger.Entry `json:"entries"`
	NextCursor string          `json:"nextCursor"`
	HasMore    bool            `json:"hasMore"`
}

// Ledger fetches a page of addr's ledger history. Pass the previous page's
// NextCursor to continue.
func (c *Client) Ledger(ctx context.Context, addr common.Address, limit int, cursor string) (*LedgerPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var out LedgerPage
	if err := c.do(ctx, http.MethodGet, agentPath(addr, "/ledger"), requestOpts{query: q}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

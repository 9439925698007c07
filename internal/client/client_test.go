package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/mbd888/agentregistry/internal/auth"
	"github.com/mbd888/agentregistry/internal/circuitbreaker"
	"github.com/mbd888/agentregistry/internal/engine"
	"github.com/mbd888/agentregistry/internal/settings"
	"github.com/mbd888/agentregistry/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin = common.HexToAddress("0xad00000000000000000000000000000000000001")
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000001")
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestAPI serves the real handlers over httptest and returns its URL.
func newTestAPI(t *testing.T) string {
	t.Helper()
	mgr := auth.NewManager(auth.NewMemoryStore())
	h := engine.NewHandler(engine.New(state.NewMemoryStore()))

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(auth.Middleware(mgr))
	auth.NewHandler(mgr).RegisterRoutes(v1)
	h.RegisterRoutes(v1)
	h.RegisterProtectedRoutes(v1, mgr)
	h.RegisterAdminRoutes(v1)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts.URL
}

// claim returns a client authenticated as who.
func claim(t *testing.T, url string, who common.Address, adminSecret string) *Client {
	t.Helper()
	res, err := New(Config{APIURL: url}).ClaimIdentity(context.Background(), who, "test")
	require.NoError(t, err)
	require.NotEmpty(t, res.APIKey)
	return New(Config{APIURL: url, APIKey: res.APIKey, AdminSecret: adminSecret})
}

func TestClient_Lifecycle(t *testing.T) {
	url := newTestAPI(t)
	ctx := context.Background()
	c := claim(t, url, alice, "")

	agent, err := c.Register(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice, agent.Owner)
	assert.True(t, agent.IsActive)
	assert.EqualValues(t, 0, agent.Reputation)

	_, err = c.Register(ctx)
	assert.True(t, IsCode(err, "agent_exists"), "got %v", err)

	agent, err = c.PerformAction(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 1, agent.Reputation)

	agent, err = c.Deactivate(ctx, alice)
	require.NoError(t, err)
	assert.False(t, agent.IsActive)

	_, err = c.PerformAction(ctx, alice)
	assert.True(t, IsCode(err, "agent_inactive"), "got %v", err)

	agent, err = c.Reactivate(ctx, alice)
	require.NoError(t, err)
	assert.True(t, agent.IsActive)

	got, err := c.GetAgent(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, agent.Address, got.Address)

	list, err := c.ListAgents(ctx, true, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClient_NotOwner(t *testing.T) {
	url := newTestAPI(t)
	ctx := context.Background()
	a := claim(t, url, alice, "")
	b := claim(t, url, bob, "")

	_, err := a.Register(ctx)
	require.NoError(t, err)

	_, err = b.Deactivate(ctx, alice)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Code)
}

func TestClient_ConfigAndPaidAction(t *testing.T) {
	t.Setenv("ADMIN_SECRET", "s3cret")
	url := newTestAPI(t)
	ctx := context.Background()
	adm := claim(t, url, admin, "s3cret")
	a := claim(t, url, alice, "")

	_, err := a.GetConfig(ctx)
	assert.True(t, IsCode(err, "config_not_initialized"), "got %v", err)

	cfg, err := adm.InitializeConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, cfg.Admin)

	cfg, err = adm.UpdatePricing(ctx, settings.PricingUpdate{
		BasePrice:         200,
		DiscountThreshold: 60,
		DiscountPercent:   25,
		MinReputation:     0,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 200, cfg.BasePrice)

	_, err = a.UpdatePricing(ctx, settings.PricingUpdate{BasePrice: 1})
	assert.True(t, IsCode(err, "unauthorized"), "got %v", err)

	_, err = a.Register(ctx)
	require.NoError(t, err)

	quote, err := a.GetPrice(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 200, quote.Price)
	assert.False(t, quote.Discounted)

	_, err = a.PerformActionWithPayment(ctx, alice)
	assert.True(t, IsCode(err, "insufficient_balance"), "got %v", err)

	_, err = adm.Deposit(ctx, alice, 500, "seed")
	require.NoError(t, err)

	receipt, err := a.PerformActionWithPayment(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 200, receipt.Amount)
	assert.EqualValues(t, 1, receipt.Reputation)

	acct, err := a.Balance(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 300, acct.Balance)

	treasury, err := a.Treasury(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 200, treasury.Balance)

	page, err := a.Ledger(ctx, alice, 1, "")
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.True(t, page.HasMore)
	assert.Equal(t, "transfer_out", page.Entries[0].Type)

	page, err = a.Ledger(ctx, alice, 1, page.NextCursor)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.False(t, page.HasMore)
	assert.Equal(t, "deposit", page.Entries[0].Type)

	_, err = adm.Penalize(ctx, alice, 100)
	assert.True(t, IsCode(err, "penalty_too_large"), "got %v", err)

	agent, err := adm.Penalize(ctx, alice, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, agent.Reputation)

	_, err = adm.Penalize(ctx, alice, 1)
	assert.True(t, IsCode(err, "already_zero"), "got %v", err)
}

func TestClient_DepositWithoutSecret(t *testing.T) {
	t.Setenv("ADMIN_SECRET", "s3cret")
	url := newTestAPI(t)
	a := claim(t, url, alice, "")

	_, err := a.Deposit(context.Background(), alice, 10, "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestClient_NonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(Config{APIURL: ts.URL + "/"}).GetConfig(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestClient_AuthHeaders(t *testing.T) {
	var gotAuth, gotAdmin string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAdmin = r.Header.Get("X-Admin-Secret")
		_, _ = w.Write([]byte(`{"account":{"balance":5}}`))
	}))
	defer ts.Close()

	c := New(Config{APIURL: ts.URL, APIKey: "ark_abc", AdminSecret: "s"})
	acct, err := c.Balance(context.Background(), alice)
	require.NoError(t, err)
	assert.EqualValues(t, 5, acct.Balance)
	assert.Equal(t, "Bearer ark_abc", gotAuth)
	assert.Empty(t, gotAdmin, "admin secret only goes to admin routes")

	_, err = c.Deposit(context.Background(), alice, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "s", gotAdmin)
}

func TestClient_ConnectionRefused(t *testing.T) {
	c := New(Config{APIURL: "http://127.0.0.1:1", APIKey: "k"})
	_, err := c.GetConfig(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{APIURL: ts.URL}).GetConfig(ctx)
	require.Error(t, err)
}

func TestClient_ListAgents_QueryParams(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("offset"), "offset=0 should not be sent")
		_, _ = w.Write([]byte(`{"agents":[]}`))
	}))
	defer ts.Close()

	agents, err := New(Config{APIURL: ts.URL}).ListAgents(context.Background(), true, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := New(Config{APIURL: ts.URL, BreakerThreshold: 2, BreakerCooldown: time.Hour})
	for range 2 {
		_, err := c.GetConfig(context.Background())
		require.Error(t, err)
	}

	_, err := c.GetConfig(context.Background())
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.EqualValues(t, 2, hits.Load(), "open circuit must not reach the server")
}

func TestClient_BreakerIgnoresRejections(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"agent_not_found","message":"nope"}`))
	}))
	defer ts.Close()

	c := New(Config{APIURL: ts.URL, BreakerThreshold: 1})
	for range 3 {
		_, err := c.GetAgent(context.Background(), alice)
		assert.True(t, IsCode(err, "agent_not_found"), "got %v", err)
	}
}

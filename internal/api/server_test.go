package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"cosmossdk.io/math"

	"manaswap/internal/engine"
	"manaswap/internal/ledger"
	"manaswap/internal/model"
	"manaswap/internal/registry"
	"manaswap/internal/storage/memory"
)

type harness struct {
	server *httptest.Server
	ledger *ledger.Memory
	store  *memory.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.NewStore()
	ldg := ledger.NewMemory()
	reg := registry.New(store, ldg, nil)
	eng := engine.New(engine.Config{}, store, ldg, nil)

	srv := NewServer(":0", reg, eng, store, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{server: ts, ledger: ldg, store: store}
}

func (h *harness) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(h.server.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (h *harness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (h *harness) createPool(t *testing.T, symbol string) model.Pool {
	t.Helper()
	h.ledger.Fund("creator", math.NewInt(1_000_000))
	resp := h.post(t, "/v1/pools", createPoolRequest{
		CreatorID:     "creator",
		Symbol:        symbol,
		InitialMana:   "50000",
		InitialTokens: "100000",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create pool status = %d", resp.StatusCode)
	}
	return decode[model.Pool](t, resp)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateAndGetPool(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, "YES")

	resp := h.get(t, "/v1/pools/"+pool.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	got := decode[model.Pool](t, resp)
	if got.Symbol != "YES" {
		t.Fatalf("symbol = %q", got.Symbol)
	}
	if !got.ManaReserve.Equal(math.NewInt(50000)) {
		t.Fatalf("mana reserve = %s", got.ManaReserve)
	}
}

func TestCreatePoolErrors(t *testing.T) {
	h := newHarness(t)
	h.createPool(t, "YES")

	resp := h.post(t, "/v1/pools", createPoolRequest{
		CreatorID:     "creator",
		Symbol:        "YES",
		InitialMana:   "1000",
		InitialTokens: "1000",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate symbol status = %d, want 409", resp.StatusCode)
	}

	resp = h.post(t, "/v1/pools", createPoolRequest{
		CreatorID:     "creator",
		Symbol:        "NO",
		InitialMana:   "not-a-number",
		InitialTokens: "1000",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad amount status = %d, want 400", resp.StatusCode)
	}
}

func TestGetPoolNotFound(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, "/v1/pools/missing")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListPools(t *testing.T) {
	h := newHarness(t)
	h.createPool(t, "AAA")
	h.createPool(t, "BBB")

	resp := h.get(t, "/v1/pools?limit=1")
	body := decode[struct {
		Pools []registry.PoolSummary `json:"pools"`
	}](t, resp)
	if len(body.Pools) != 1 {
		t.Fatalf("pools = %d, want 1", len(body.Pools))
	}
	if body.Pools[0].Symbol != "AAA" {
		t.Fatalf("first pool = %q", body.Pools[0].Symbol)
	}
}

func TestQuoteBuy(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, "YES")

	resp := h.post(t, fmt.Sprintf("/v1/pools/%s/quotes", pool.ID), quoteRequest{
		Side:   model.SideBuy,
		Amount: "1000",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	q := decode[quoteResponse](t, resp)
	if !q.OutputAmount.Equal(math.NewInt(1955)) {
		t.Fatalf("output = %s, want 1955", q.OutputAmount)
	}
	if !q.FeeAmount.Equal(math.NewInt(3)) {
		t.Fatalf("fee = %s, want 3", q.FeeAmount)
	}
}

func TestTradeRoundTrip(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, "YES")
	h.ledger.Fund("alice", math.NewInt(10000))

	resp := h.post(t, fmt.Sprintf("/v1/pools/%s/trades", pool.ID), tradeRequest{
		TraderID: "alice",
		Side:     model.SideBuy,
		Amount:   "1000",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("buy status = %d", resp.StatusCode)
	}
	buy := decode[model.Trade](t, resp)
	if !buy.OutputAmount.Equal(math.NewInt(1955)) {
		t.Fatalf("buy output = %s, want 1955", buy.OutputAmount)
	}

	resp = h.post(t, fmt.Sprintf("/v1/pools/%s/trades", pool.ID), tradeRequest{
		TraderID: "alice",
		Side:     model.SideSell,
		Amount:   "1955",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("sell status = %d", resp.StatusCode)
	}
	sell := decode[model.Trade](t, resp)
	if !sell.OutputAmount.Equal(math.NewInt(994)) {
		t.Fatalf("sell output = %s, want 994", sell.OutputAmount)
	}

	resp = h.get(t, fmt.Sprintf("/v1/pools/%s/trades", pool.ID))
	body := decode[struct {
		Trades []model.Trade `json:"trades"`
	}](t, resp)
	if len(body.Trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(body.Trades))
	}
	if body.Trades[0].Side != model.SideSell {
		t.Fatalf("newest trade side = %s, want SELL", body.Trades[0].Side)
	}
}

func TestTradeSlippageRejected(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, "YES")
	h.ledger.Fund("alice", math.NewInt(10000))

	resp := h.post(t, fmt.Sprintf("/v1/pools/%s/trades", pool.ID), tradeRequest{
		TraderID:  "alice",
		Side:      model.SideBuy,
		Amount:    "1000",
		MinOutput: "2000",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if got := h.ledger.Balance("alice"); !got.Equal(math.NewInt(10000)) {
		t.Fatalf("balance = %s, want untouched 10000", got)
	}
}

func TestTradeInvalidSide(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, "YES")

	resp := h.post(t, fmt.Sprintf("/v1/pools/%s/trades", pool.ID), tradeRequest{
		TraderID: "alice",
		Side:     "HOLD",
		Amount:   "1000",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, "YES")
	h.ledger.Fund("bob", math.NewInt(100000))

	resp := h.post(t, fmt.Sprintf("/v1/pools/%s/deposits", pool.ID), depositRequest{
		OwnerID: "bob",
		ManaIn:  "5000",
		Quote:   true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("quote status = %d", resp.StatusCode)
	}
	q := decode[depositResponse](t, resp)
	if !q.TokenIn.Equal(math.NewInt(10000)) {
		t.Fatalf("quoted token_in = %s, want 10000", q.TokenIn)
	}
	if !q.LpSharesMinted.Equal(math.NewInt(100000)) {
		t.Fatalf("quoted shares = %s, want 100000", q.LpSharesMinted)
	}

	// bob needs tokens to match the mana leg; buy enough first
	resp = h.post(t, fmt.Sprintf("/v1/pools/%s/trades", pool.ID), tradeRequest{
		TraderID: "bob",
		Side:     model.SideBuy,
		Amount:   "7000",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("funding buy status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = h.post(t, fmt.Sprintf("/v1/pools/%s/deposits", pool.ID), depositRequest{
		OwnerID: "bob",
		ManaIn:  "5000",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("deposit status = %d", resp.StatusCode)
	}
	dep := decode[depositResponse](t, resp)
	if !dep.LpSharesMinted.IsPositive() {
		t.Fatalf("minted shares = %s, want positive", dep.LpSharesMinted)
	}

	resp = h.post(t, fmt.Sprintf("/v1/pools/%s/withdrawals", pool.ID), withdrawRequest{
		OwnerID:  "bob",
		LpShares: dep.LpSharesMinted.String(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("withdraw status = %d", resp.StatusCode)
	}
	wd := decode[withdrawResponse](t, resp)
	if !wd.LpSharesBurned.Equal(dep.LpSharesMinted) {
		t.Fatalf("burned = %s, want %s", wd.LpSharesBurned, dep.LpSharesMinted)
	}
	if wd.Position.Shares.IsNil() || !wd.Position.Shares.IsZero() {
		t.Fatalf("remaining shares = %s, want 0", wd.Position.Shares)
	}
}

func TestWithdrawInsufficientShares(t *testing.T) {
	h := newHarness(t)
	pool := h.createPool(t, "YES")

	resp := h.post(t, fmt.Sprintf("/v1/pools/%s/withdrawals", pool.ID), withdrawRequest{
		OwnerID:  "nobody",
		LpShares: "10",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

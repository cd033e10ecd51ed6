package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cosmossdk.io/math"
	"github.com/gorilla/mux"

	"manaswap/internal/engine"
	"manaswap/internal/liquidity"
	"manaswap/internal/model"
	"manaswap/internal/quote"
	"manaswap/internal/registry"
)

// Registry is the pool lifecycle surface the API needs.
type Registry interface {
	CreatePool(ctx context.Context, creatorID, symbol string, initialMana, initialTokens math.Int) (model.Pool, error)
	GetPool(ctx context.Context, id string) (model.Pool, error)
	ListPools(ctx context.Context, offset, limit int) ([]registry.PoolSummary, error)
}

// Engine is the trading surface the API needs.
type Engine interface {
	QuoteBuy(ctx context.Context, poolID string, manaIn math.Int) (quote.Quote, error)
	QuoteSell(ctx context.Context, poolID string, tokensIn math.Int) (quote.Quote, error)
	ExecuteBuy(ctx context.Context, req engine.TradeRequest) (model.Trade, error)
	ExecuteSell(ctx context.Context, req engine.TradeRequest) (model.Trade, error)
	QuoteDeposit(ctx context.Context, poolID string, manaIn math.Int) (liquidity.DepositQuote, error)
	Deposit(ctx context.Context, req engine.DepositRequest) (engine.DepositResult, error)
	QuoteWithdraw(ctx context.Context, poolID string, lpShares math.Int) (liquidity.WithdrawQuote, error)
	Withdraw(ctx context.Context, poolID, ownerID string, lpShares math.Int) (engine.WithdrawResult, error)
}

// TradeLog is the history surface the API needs.
type TradeLog interface {
	ListTrades(ctx context.Context, poolID string, limit int, before time.Time) ([]model.Trade, error)
}

type createPoolRequest struct {
	CreatorID     string `json:"creator_id"`
	Symbol        string `json:"symbol"`
	InitialMana   string `json:"initial_mana"`
	InitialTokens string `json:"initial_tokens"`
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	mana, err := parseAmount(req.InitialMana, "initial_mana")
	if err != nil {
		s.respondError(w, err)
		return
	}
	tokens, err := parseAmount(req.InitialTokens, "initial_tokens")
	if err != nil {
		s.respondError(w, err)
		return
	}

	pool, err := s.registry.CreatePool(r.Context(), req.CreatorID, req.Symbol, mana, tokens)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, pool)
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)

	pools, err := s.registry.ListPools(r.Context(), offset, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"pools": pools})
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.registry.GetPool(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, pool)
}

type quoteRequest struct {
	Side   model.Side `json:"side"`
	Amount string     `json:"amount"`
}

type quoteResponse struct {
	Side            model.Side     `json:"side"`
	InputAmount     math.Int       `json:"input_amount"`
	OutputAmount    math.Int       `json:"output_amount"`
	FeeAmount       math.Int       `json:"fee_amount"`
	PriceImpact     math.LegacyDec `json:"price_impact"`
	NewManaReserve  math.Int       `json:"new_mana_reserve"`
	NewTokenReserve math.Int       `json:"new_token_reserve"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]

	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		s.respondError(w, err)
		return
	}

	var q quote.Quote
	switch req.Side {
	case model.SideBuy:
		q, err = s.engine.QuoteBuy(r.Context(), poolID, amount)
	case model.SideSell:
		q, err = s.engine.QuoteSell(r.Context(), poolID, amount)
	default:
		s.respondError(w, fmt.Errorf("%w: side must be BUY or SELL", model.ErrInvalidAmount))
		return
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, quoteResponse{
		Side:            q.Side,
		InputAmount:     q.InputAmount,
		OutputAmount:    q.OutputAmount,
		FeeAmount:       q.FeeAmount,
		PriceImpact:     q.PriceImpact,
		NewManaReserve:  q.NewManaReserve,
		NewTokenReserve: q.NewTokenReserve,
	})
}

type tradeRequest struct {
	TraderID  string     `json:"trader_id"`
	Side      model.Side `json:"side"`
	Amount    string     `json:"amount"`
	MinOutput string     `json:"min_output"`
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		s.respondError(w, err)
		return
	}
	minOutput := math.ZeroInt()
	if req.MinOutput != "" {
		if minOutput, err = parseAmount(req.MinOutput, "min_output"); err != nil {
			s.respondError(w, err)
			return
		}
	}

	exec := engine.TradeRequest{
		PoolID:    poolID,
		TraderID:  req.TraderID,
		Amount:    amount,
		MinOutput: minOutput,
	}

	var trade model.Trade
	switch req.Side {
	case model.SideBuy:
		trade, err = s.engine.ExecuteBuy(r.Context(), exec)
	case model.SideSell:
		trade, err = s.engine.ExecuteSell(r.Context(), exec)
	default:
		s.respondError(w, fmt.Errorf("%w: side must be BUY or SELL", model.ErrInvalidAmount))
		return
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, trade)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]
	limit := queryInt(r, "limit", 100)

	var before time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "before must be RFC3339"})
			return
		}
		before = parsed
	}

	trades, err := s.trades.ListTrades(r.Context(), poolID, limit, before)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

type depositRequest struct {
	OwnerID string `json:"owner_id"`
	ManaIn  string `json:"mana_in"`
	TokenIn string `json:"token_in"`
	Quote   bool   `json:"quote"`
}

type depositResponse struct {
	TokenIn        math.Int         `json:"token_in"`
	LpSharesMinted math.Int         `json:"lp_shares_minted"`
	Position       model.LpPosition `json:"position"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	manaIn, err := parseAmount(req.ManaIn, "mana_in")
	if err != nil {
		s.respondError(w, err)
		return
	}

	if req.Quote {
		q, err := s.engine.QuoteDeposit(r.Context(), poolID, manaIn)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, depositResponse{
			TokenIn:        q.TokenInRequired,
			LpSharesMinted: q.LpSharesMinted,
		})
		return
	}

	exec := engine.DepositRequest{PoolID: poolID, OwnerID: req.OwnerID, ManaIn: manaIn}
	if req.TokenIn != "" {
		if exec.TokenIn, err = parseAmount(req.TokenIn, "token_in"); err != nil {
			s.respondError(w, err)
			return
		}
	}

	res, err := s.engine.Deposit(r.Context(), exec)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, depositResponse{
		TokenIn:        res.TokenIn,
		LpSharesMinted: res.LpSharesMinted,
		Position:       res.Position,
	})
}

type withdrawRequest struct {
	OwnerID  string `json:"owner_id"`
	LpShares string `json:"lp_shares"`
	Quote    bool   `json:"quote"`
}

type withdrawResponse struct {
	ManaOut        math.Int         `json:"mana_out"`
	TokenOut       math.Int         `json:"token_out"`
	LpSharesBurned math.Int         `json:"lp_shares_burned"`
	Position       model.LpPosition `json:"position"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	shares, err := parseAmount(req.LpShares, "lp_shares")
	if err != nil {
		s.respondError(w, err)
		return
	}

	if req.Quote {
		q, err := s.engine.QuoteWithdraw(r.Context(), poolID, shares)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, withdrawResponse{
			ManaOut:        q.ManaOut,
			TokenOut:       q.TokenOut,
			LpSharesBurned: shares,
		})
		return
	}

	res, err := s.engine.Withdraw(r.Context(), poolID, req.OwnerID, shares)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, withdrawResponse{
		ManaOut:        res.ManaOut,
		TokenOut:       res.TokenOut,
		LpSharesBurned: res.LpSharesBurned,
		Position:       res.Position,
	})
}

func parseAmount(raw, field string) (math.Int, error) {
	if raw == "" {
		return math.Int{}, fmt.Errorf("%w: %s is required", model.ErrInvalidAmount, field)
	}
	v, ok := math.NewIntFromString(raw)
	if !ok {
		return math.Int{}, fmt.Errorf("%w: %s must be an integer", model.ErrInvalidAmount, field)
	}
	return v, nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

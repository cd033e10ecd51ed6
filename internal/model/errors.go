package model

import (
	"errors"

	"manaswap/internal/fixedpoint"
)

// Engine error taxonomy. Quote-time failures are side-effect free;
// ErrConcurrencyConflict is retried internally before surfacing.
var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrPoolNotFound          = errors.New("pool not found")
	ErrDuplicateSymbol       = errors.New("symbol already exists")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientShares    = errors.New("insufficient liquidity shares")
	ErrRatioMismatch         = errors.New("deposit ratio mismatch")
	ErrConcurrencyConflict   = errors.New("concurrent pool modification")
	ErrLedgerTimeout         = errors.New("ledger call timed out")

	// ErrArithmeticOverflow aliases the fixed-point sentinel so callers
	// can match either through errors.Is.
	ErrArithmeticOverflow = fixedpoint.ErrOverflow
)

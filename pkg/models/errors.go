package models

import "errors"

// Error kinds surfaced by the core engine. Handlers classify with errors.Is
// and map each kind to an HTTP status; everything except ErrEscrowRPC is
// surfaced to the caller immediately.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRateLimited       = errors.New("rate limited")
	ErrConflict          = errors.New("conflict")

	// ErrEscrowRPC marks a failed on-chain read or write. Retryable: a record
	// left behind by a failed write is healed by the reconciler.
	ErrEscrowRPC = errors.New("escrow rpc failure")
)

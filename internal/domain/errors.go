package domain

import "errors"

// Sentinel errors shared across the engine and its collaborators.
// Per-rule and per-product failures never surface as errors; only contract
// and persistence violations do.
var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnknownTenant = errors.New("unknown tenant")
)

package domain

import "errors"

// Batch-fatal conditions. Order-local and ring-local failures are never
// errors: they clear the Valid flag of the order or ring and the run
// continues without them.
var (
	ErrMinerUnauthorized  = errors.New("miner is not authorized to submit this batch")
	ErrConservation       = errors.New("settlement would spend more than an owner holds")
	ErrStateQuery         = errors.New("external state query failed")
	ErrEmptyBatch         = errors.New("batch contains no rings")
	ErrNotFound           = errors.New("not found")
	ErrSigningFailed      = errors.New("signing failed")
	ErrSchemeNotSupported = errors.New("signing scheme not implemented")
)

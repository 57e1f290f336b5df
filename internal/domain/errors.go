package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrAlreadyCommitted = errors.New("match already committed")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrInvalidSignature = errors.New("invalid order signature")
	ErrLockHeld         = errors.New("lock already held")
	ErrDuplicate        = errors.New("duplicate match request")

	// ErrConfiguration marks a required dependency as unavailable. Never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrEncoding rejects an order whose identity fields cannot be encoded.
	ErrEncoding = errors.New("encoding error")
	// ErrStoreQuery is a failed candidate search. Degrades to "no match".
	ErrStoreQuery = errors.New("store query error")
	// ErrStoreTransaction is a failed dual update after a confirmed settlement;
	// the chain and the store now disagree until reconciled.
	ErrStoreTransaction = errors.New("store transaction error")
	// ErrChainSubmission is a failure before inclusion; nothing changed.
	ErrChainSubmission = errors.New("chain submission error")
	// ErrChainRevert means the settlement was included but reverted.
	ErrChainRevert = errors.New("chain revert")
	// ErrChainTimeout means no receipt arrived in time. The transaction may
	// still confirm later.
	ErrChainTimeout = errors.New("chain confirmation timeout")
)

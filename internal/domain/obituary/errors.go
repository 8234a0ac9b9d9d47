package obituary

import "obituaries/internal/errs"

var (
	ErrNotFound         = errs.New(errs.CodeNotFound, "obituary not found")
	ErrDuplicateKey     = errs.New(errs.CodeDuplicateKey, "a live obituary already exists for this contract and chain")
	ErrDuplicateVote    = errs.New(errs.CodeDuplicateVote, "verifier already voted on this obituary")
	ErrAlreadyFinalized = errs.New(errs.CodeAlreadyFinalized, "obituary is finalized")

	ErrInvalidAddress  = errs.New(errs.CodeValidation, "invalid address")
	ErrInvalidEnum     = errs.New(errs.CodeValidation, "invalid value")
	ErrInvalidChainID  = errs.New(errs.CodeValidation, "chain id must be positive")
	ErrFieldRequired   = errs.New(errs.CodeValidation, "required field missing")
	ErrInvalidPolicy   = errs.New(errs.CodeValidation, "invalid verification policy")
	ErrIdempotencyUsed = errs.New(errs.CodeValidation, "idempotency key already used for a different operation")
)

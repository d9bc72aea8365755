package domain

import "errors"

var (
	ErrInvalidStake   = errors.New("invalid stake")
	ErrUnknownMarket  = errors.New("unknown market")
	ErrRoundNotOpen   = errors.New("round not open")
	ErrRoundNotClosed = errors.New("round not closed")
	ErrAlreadySettled = errors.New("round already settled")
	ErrNotAuthorized  = errors.New("not authorized")
	ErrInvalidFee     = errors.New("invalid fee")
	ErrInvalidOutcome = errors.New("invalid outcome")
	ErrStaleNonce     = errors.New("stale sequence nonce")
	ErrNotFound       = errors.New("not found")
	ErrLockHeld       = errors.New("lock already held")
)

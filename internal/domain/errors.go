package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrNotConnected      = errors.New("not connected")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrCredentialExpired = errors.New("session credential expired")
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrStaleRequestID    = errors.New("request id not increasing")
	ErrRequestUnknown    = errors.New("request outcome unknown")
	ErrBookNotSynced     = errors.New("order book not synced")
	ErrSigningFailed     = errors.New("signing failed")
	ErrEngineClosed      = errors.New("engine closed")
)

package domain

import "errors"

var (
	ErrConnection           = errors.New("push connection failed")
	ErrConnectionInProgress = errors.New("push connection attempt already in progress")
	ErrNotConnected         = errors.New("push channel not connected")
	ErrCleanClose           = errors.New("push connection closed normally")
	ErrMalformedFrame       = errors.New("malformed push frame")
	ErrListenerPanic        = errors.New("push listener panicked")
	ErrReconnectExhausted   = errors.New("push reconnect attempts exhausted")
	ErrPullFailure          = errors.New("job status pull failed")
	ErrInvalidJobID         = errors.New("invalid job id")
	ErrTokenExpired         = errors.New("auth token expired")
)

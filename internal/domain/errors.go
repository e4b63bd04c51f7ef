package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrRateLimited          = errors.New("rate limited")
	ErrInvalidQuantity      = errors.New("invalid order quantity")
	ErrInvalidPrice         = errors.New("invalid order price")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrOrderLimitExceeded   = errors.New("single order limit exceeded")
	ErrPositionLimit        = errors.New("position value limit exceeded")
	ErrTradingHalted        = errors.New("trading halted")
	ErrGatewayUnavailable   = errors.New("market gateway unavailable")
)

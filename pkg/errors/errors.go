package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrOrderRejected        = errors.New("order rejected")
	ErrOrderTooSmall        = errors.New("order value below exchange minimum")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrInvalidInstrument    = errors.New("invalid instrument")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrExchangeMaintenance  = errors.New("exchange maintenance")
	ErrOrderNotFound        = errors.New("order not found")
	ErrNotFilled            = errors.New("order not filled within wait window")
	ErrDuplicateOrder       = errors.New("duplicate order")
	ErrSystemOverload       = errors.New("system overload")
	ErrTimestampOutOfBounds = errors.New("timestamp out of bounds")
)

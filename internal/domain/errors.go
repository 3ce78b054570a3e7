package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrTradeNotFound = errors.New("trade_not_found")
	// ErrStaleVersion is returned by a trade store when a conditional write
	// loses to a record that already carries a higher version.
	ErrStaleVersion = errors.New("stale_version")
)

// InvalidTradeError is a business-rule violation: past maturity, stale
// version or a malformed change. It is never retried.
type InvalidTradeError struct {
	Message string
}

func (e *InvalidTradeError) Error() string {
	return e.Message
}

// StoreError reports a failed record store operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "trade store " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

package clob

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoLiquidity is returned when the book cannot fill the requested amount.
var ErrNoLiquidity = errors.New("not enough liquidity to fill order")

// ErrNoSigner is returned when the client has no private key.
var ErrNoSigner = errors.New("missing private key")

// APIError is a non-2xx answer from the CLOB API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clob %s %s: status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unauthorized reports a rejected or expired API key.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Temporary reports server-side failures and rate limiting.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// OrderRejectedError is returned when the exchange accepts the request but
// refuses the order.
type OrderRejectedError struct {
	Reason string
	Status string
}

func (e *OrderRejectedError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("order rejected (%s): %s", e.Status, e.Reason)
	}
	return "order rejected: " + e.Reason
}

// Temporary is always false: resubmitting the same order will not help.
func (e *OrderRejectedError) Temporary() bool { return false }

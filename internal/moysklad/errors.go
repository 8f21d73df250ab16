// Package moysklad implements a rate-limited HTTP client for the Moysklad
// JSON API together with paginated entity fetching. All upstream access in
// the application goes through one shared Client instance.
package moysklad

import "errors"

// Sentinel errors describing why an upstream call failed. Callers branch on
// these with errors.Is; the wrapped message carries the detail.
var (
	// ErrValidation indicates the request violated payload limits before send.
	ErrValidation = errors.New("moysklad: request validation failed")
	// ErrRateLimited indicates the upstream returned 429 past the retry ceiling.
	ErrRateLimited = errors.New("moysklad: rate limited")
	// ErrCircuitOpen indicates repeated identical failures tripped the breaker.
	ErrCircuitOpen = errors.New("moysklad: circuit open")
	// ErrClient indicates a non-retryable 4xx response.
	ErrClient = errors.New("moysklad: client error")
	// ErrServer indicates a 5xx response past the retry ceiling.
	ErrServer = errors.New("moysklad: server error")
	// ErrTransport indicates a connection failure past the retry ceiling.
	ErrTransport = errors.New("moysklad: transport error")
)

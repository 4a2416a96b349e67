package chat

import "errors"

// Error taxonomy shared by the delivery engine and the query layer. Callers
// test with errors.Is; the HTTP layer maps each kind to a status code.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrStore          = errors.New("store failure")
	// ErrExternalLookup never reaches callers: a failed profile lookup is
	// replaced by the placeholder profile.
	ErrExternalLookup = errors.New("profile lookup failed")
)

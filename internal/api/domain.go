package api

import "errors"

// Shared error taxonomy. Services return these (wrapped with %w); handlers
// and the gateway map them onto HTTP statuses in one place.
var (
	// ErrInvalidInput signals a malformed or policy-violating request body.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthenticated covers bad credentials and bad tokens alike. The
	// message is deliberately generic to avoid username enumeration.
	ErrUnauthenticated = errors.New("authentication required or invalid credentials")
	// ErrForbidden signals an authenticated but disallowed action.
	ErrForbidden = errors.New("action forbidden")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("requested item not found")
	// ErrConflict signals a uniqueness violation (duplicate username/email).
	ErrConflict = errors.New("item already exists or conflict")
	// ErrRateLimited signals the caller exceeded its request budget.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrNoHealthyEndpoint signals the registry has no fresh endpoint.
	ErrNoHealthyEndpoint = errors.New("no healthy endpoint for service")
	// ErrUpstream signals a forwarded call failed at the transport level.
	ErrUpstream = errors.New("upstream service error")
)

// StatusForError maps a domain error onto its HTTP-equivalent status code.
// Unknown errors map to 500 so internal detail never leaks to the caller.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return 400
	case errors.Is(err, ErrUnauthenticated):
		return 401
	case errors.Is(err, ErrForbidden):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrRateLimited):
		return 429
	case errors.Is(err, ErrUpstream):
		return 502
	case errors.Is(err, ErrNoHealthyEndpoint):
		return 503
	default:
		return 500
	}
}

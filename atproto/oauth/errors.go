package oauth

import "errors"

// Indicates a failure in the OAuth protocol flow itself: discovery, pushed
// authorization, token exchange, profile fetch, or any of the verification
// gates (issuer pin, subject check, final DID check). Every protocol error
// returned from this package wraps this sentinel.
//
// Identity resolution failures are surfaced separately; check against
// [identity.ErrResolutionFailed].
//
// Both kinds are terminal for the current attempt. There is no automatic
// overall retry; callers restart the flow from StartAuthFlow.
var ErrAuthFlow = errors.New("oauth flow failed")

// Indicates that the session for a callback was missing or already expired.
var ErrSessionNotFound = errors.New("unknown or expired auth session")

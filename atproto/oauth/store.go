package oauth

import (
	"context"
)

// Interface for holding in-flight auth sessions between the initiation
// request and the callback, keyed by state token.
//
// Implementations must be safe for concurrent use by multiple in-flight
// attempts; entries are independent and never touch each other. Get must
// treat an expired session as absent, deleting it as a side effect of the
// read.
//
// Sessions own an ephemeral signing key that must not outlive them, so
// implementations keep sessions in-process rather than serializing them to
// external storage.
type SessionStore interface {
	Save(ctx context.Context, sess *AuthSession) error
	Get(ctx context.Context, state string) (*AuthSession, error)
	Delete(ctx context.Context, state string) error
}

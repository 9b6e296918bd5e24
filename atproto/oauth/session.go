package oauth

import (
	"time"

	"github.com/rorybyrne/sciencetalk-api-sub000/atproto/syntax"
)

// How long an in-flight auth attempt stays valid.
const SessionTTL = 15 * time.Minute

// Transient state for one in-flight authentication attempt, keyed by the
// random state token. A session belongs to at most one attempt: it is deleted
// on successful completion, or lazily by the store once expired, and never
// reused afterward.
//
// The DPoP key lives and dies with its session. It is not exported and there
// is no accessor for the private half, so deleting the session is the only
// way the key material is released.
type AuthSession struct {
	// Random, URL-safe, attacker-unguessable token identifying this attempt. Also the CSRF state parameter.
	State string

	// PKCE secret, sent only in the token exchange request
	PKCEVerifier string

	// PKCE challenge, sent in the PAR request
	PKCEChallenge string

	// The DID this attempt must authenticate as; the final verification anchor
	AccountDID syntax.DID

	// Auth server issuer URL pinned at initiation and re-checked at callback
	AuthServerIssuer string

	CreatedAt time.Time
	ExpiresAt time.Time

	// Current DPoP nonce for the auth server, updated in place as the server issues fresh ones
	AuthServerNonce string

	// Current DPoP nonce for the resource server (PDS)
	ResourceServerNonce string

	dpopKey *DPoPKey
}

func newAuthSession(state string, key *DPoPKey, did syntax.DID, issuer, pkceVerifier, pkceChallenge string) *AuthSession {
	now := time.Now()
	return &AuthSession{
		State:            state,
		PKCEVerifier:     pkceVerifier,
		PKCEChallenge:    pkceChallenge,
		AccountDID:       did,
		AuthServerIssuer: issuer,
		CreatedAt:        now,
		ExpiresAt:        now.Add(SessionTTL),
		dpopKey:          key,
	}
}

func (s *AuthSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

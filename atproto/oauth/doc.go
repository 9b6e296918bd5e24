// OAuth client implementation for atproto, covering the login flow from
// account identifier to verified identity.
//
// The entrypoint is [ClientApp]. A login runs in two phases:
//
//	app := oauth.NewClientApp(oauth.NewPublicConfig(clientID, callbackURL), oauth.NewMemStore())
//
//	// phase one: resolve identity, push the auth request, redirect the user
//	redirectURL, err := app.StartAuthFlow(ctx, "someone.bsky.social")
//
//	// phase two: auth server redirects back with code/state/iss
//	info, err := app.ProcessCallback(ctx, code, state, iss)
//
// Between phases, per-attempt state (PKCE secrets, the DPoP signing key, the
// pinned issuer) lives in a [SessionStore]. The flow uses pushed authorization
// requests (PAR), PKCE, and DPoP-bound tokens throughout, and finishes by
// fetching the account profile from its own PDS and checking the returned DID
// against the one the flow started with. The caller receives an [AccountInfo]
// and no tokens.
package oauth

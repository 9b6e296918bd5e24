package oauth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rorybyrne/sciencetalk-api-sub000/atproto/identity"
	"github.com/rorybyrne/sciencetalk-api-sub000/atproto/syntax"

	"github.com/google/go-querystring/query"
)

// Static configuration for an OAuth client app.
type ClientConfig struct {
	// Client ID, aka the URL the client metadata document is served from
	ClientID string

	// URL the auth server redirects back to at the end of the auth flow
	CallbackURL string

	// Requested scopes, space-delimited. Must include "atproto".
	Scope string
}

func NewPublicConfig(clientID, callbackURL string) ClientConfig {
	return ClientConfig{
		ClientID:    clientID,
		CallbackURL: callbackURL,
		Scope:       ScopeAtproto,
	}
}

// Top-level OAuth client: drives the full two-phase login flow against
// atproto auth and resource servers, and hands back a verified account
// identity.
//
// Create a single ClientApp at service setup; it is safe for concurrent use
// across login attempts. Access tokens are used once to fetch the account
// profile and then discarded: this is an identity-verification gateway, not a
// token vault.
type ClientApp struct {
	Config   ClientConfig
	Store    SessionStore
	Resolver *identity.Resolver
	Metadata *MetadataResolver

	// HTTP client for PAR, token, and profile requests. No transport-level
	// retries here: the DPoP nonce retry below is the only retry, and it is
	// driven by the protocol, not the transport.
	Client *http.Client
}

func NewClientApp(config ClientConfig, store SessionStore) *ClientApp {
	return &ClientApp{
		Config:   config,
		Store:    store,
		Resolver: identity.NewResolver(),
		Metadata: NewMetadataResolver(),
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Starts a login flow for an account identifier (handle or DID) and returns
// the authorization URL to redirect the user to.
//
// Resolves the account's identity and PDS, discovers the auth server, sends
// the pushed authorization request (PAR), and persists an [AuthSession]
// capturing the attempt's secrets and the expected DID.
func (c *ClientApp) StartAuthFlow(ctx context.Context, account string) (string, error) {

	var did syntax.DID
	var err error
	if strings.HasPrefix(account, "did:") {
		did, err = syntax.ParseDID(account)
		if err != nil {
			return "", fmt.Errorf("%w: %w", identity.ErrResolutionFailed, err)
		}
	} else {
		did, err = c.Resolver.ResolveHandle(ctx, account)
		if err != nil {
			return "", err
		}
	}

	doc, err := c.Resolver.ResolveDIDDocument(ctx, did)
	if err != nil {
		return "", err
	}
	pdsURL := doc.PDSEndpoint()
	if pdsURL == "" {
		return "", fmt.Errorf("%w: no PDS endpoint declared for %s", identity.ErrResolutionFailed, did)
	}

	meta, err := c.Metadata.ResolveAuthServerMetadata(ctx, pdsURL)
	if err != nil {
		return "", err
	}

	pkceVerifier, pkceChallenge := GeneratePKCE()
	dpopKey, err := NewDPoPKey()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthFlow, err)
	}
	state := randomToken()

	slog.Info("sending auth request", "did", did, "authServer", meta.Issuer, "state", state)
	requestURI, dpopNonce, err := c.sendPARRequest(ctx, meta, dpopKey, pkceChallenge, did, state)
	if err != nil {
		return "", err
	}

	sess := newAuthSession(state, dpopKey, did, meta.Issuer, pkceVerifier, pkceChallenge)
	sess.AuthServerNonce = dpopNonce
	if err := c.Store.Save(ctx, sess); err != nil {
		return "", fmt.Errorf("%w: persisting session: %w", ErrAuthFlow, err)
	}

	params := url.Values{
		"client_id":   []string{c.Config.ClientID},
		"request_uri": []string{requestURI},
	}
	return meta.AuthorizationEndpoint + "?" + params.Encode(), nil
}

// Outcome of a single PAR attempt. The server signalling "use_dpop_nonce" is
// an explicit protocol state, not just an error status.
type parOutcome int

const (
	parSuccess parOutcome = iota
	parNonceRequired
	parHardFailure
)

func (c *ClientApp) sendPARRequest(ctx context.Context, meta *AuthServerMetadata, key *DPoPKey, pkceChallenge string, did syntax.DID, state string) (requestURI string, dpopNonce string, err error) {

	loginHint := did.String()
	body := pushedAuthRequest{
		ClientID:            c.Config.ClientID,
		State:               state,
		RedirectURI:         c.Config.CallbackURL,
		Scope:               c.Config.Scope,
		LoginHint:           &loginHint,
		ResponseType:        "code",
		CodeChallenge:       pkceChallenge,
		CodeChallengeMethod: "S256",
	}
	vals, err := query.Values(body)
	if err != nil {
		return "", "", fmt.Errorf("%w: encoding PAR request: %w", ErrAuthFlow, err)
	}
	bodyBytes := []byte(vals.Encode())

	parResp, nonce, outcome, err := c.postPAR(ctx, meta.PushedAuthorizationRequestEndpoint, key, "", bodyBytes)
	if outcome == parNonceRequired {
		// the server demanded a nonce; retry once with it, and only once
		slog.Info("PAR requires DPoP nonce, retrying", "authServer", meta.Issuer)
		parResp, nonce, outcome, err = c.postPAR(ctx, meta.PushedAuthorizationRequestEndpoint, key, nonce, bodyBytes)
		if outcome == parNonceRequired {
			return "", "", fmt.Errorf("%w: PAR nonce retry exhausted", ErrAuthFlow)
		}
	}
	if err != nil {
		return "", "", err
	}
	return parResp.RequestURI, nonce, nil
}

// Sends one PAR attempt. A success without a DPoP-Nonce response header is a
// hard failure: the server's nonce contract is not optional.
func (c *ClientApp) postPAR(ctx context.Context, parURL string, key *DPoPKey, dpopNonce string, bodyBytes []byte) (*pushedAuthResponse, string, parOutcome, error) {

	dpopProof, err := key.NewProof("POST", parURL, dpopNonce, "")
	if err != nil {
		return nil, "", parHardFailure, fmt.Errorf("%w: %w", ErrAuthFlow, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", parURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, "", parHardFailure, fmt.Errorf("%w: %w", ErrAuthFlow, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("DPoP", dpopProof)

	resp, err := c.Client.Do(req)
	if err != nil {
		// transport failure; never the nonce-retry path
		return nil, "", parHardFailure, fmt.Errorf("%w: PAR request: %w", ErrAuthFlow, err)
	}
	defer resp.Body.Close()

	serverNonce := resp.Header.Get("DPoP-Nonce")

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var parResp pushedAuthResponse
		if err := json.NewDecoder(resp.Body).Decode(&parResp); err != nil {
			return nil, "", parHardFailure, fmt.Errorf("%w: PAR response failed to decode: %w", ErrAuthFlow, err)
		}
		if parResp.RequestURI == "" {
			return nil, "", parHardFailure, fmt.Errorf("%w: PAR response missing request_uri", ErrAuthFlow)
		}
		if serverNonce == "" {
			return nil, "", parHardFailure, fmt.Errorf("%w: PAR response missing DPoP-Nonce header", ErrAuthFlow)
		}
		return &parResp, serverNonce, parSuccess, nil
	}

	if serverNonce != "" && useDPoPNonceError(resp) {
		return nil, serverNonce, parNonceRequired, nil
	}
	return nil, "", parHardFailure, fmt.Errorf("%w: PAR request failed: HTTP %d", ErrAuthFlow, resp.StatusCode)
}

// Reports whether an error response carries the structured "use_dpop_nonce"
// error code.
func useDPoPNonceError(resp *http.Response) bool {
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusUnauthorized {
		return false
	}
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return false
	}
	return errResp.Error == "use_dpop_nonce"
}

// Completes a login flow from the auth server's callback redirect, returning
// the verified account identity.
//
// Every verification gate here is fatal for the attempt: missing or expired
// session, issuer mismatch against the pinned issuer, missing token-response
// fields, subject mismatch, and a profile DID that differs from the DID the
// flow started with. On failure the session is left to expire; on success it
// is deleted along with its key material, and the access token is discarded.
func (c *ClientApp) ProcessCallback(ctx context.Context, code, state, iss string) (*AccountInfo, error) {

	sess, err := c.Store.Get(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthFlow, err)
	}

	if iss != sess.AuthServerIssuer {
		return nil, fmt.Errorf("%w: issuer mismatch: expected %s, callback claims %s", ErrAuthFlow, sess.AuthServerIssuer, iss)
	}

	meta, err := c.Metadata.ResolveAuthServerMetadata(ctx, sess.AuthServerIssuer)
	if err != nil {
		return nil, err
	}

	accessToken, err := c.exchangeCode(ctx, sess, meta.TokenEndpoint, code)
	if err != nil {
		return nil, err
	}

	// the resource server may differ from the PDS discovered at initiation
	doc, err := c.Resolver.ResolveDIDDocument(ctx, sess.AccountDID)
	if err != nil {
		return nil, err
	}
	pdsURL := doc.PDSEndpoint()
	if pdsURL == "" {
		return nil, fmt.Errorf("%w: no PDS endpoint declared for %s", identity.ErrResolutionFailed, sess.AccountDID)
	}

	info, err := c.fetchProfile(ctx, sess, pdsURL, accessToken)
	if err != nil {
		return nil, err
	}

	if info.DID != sess.AccountDID {
		return nil, fmt.Errorf("%w: DID mismatch: expected %s, profile claims %s", ErrAuthFlow, sess.AccountDID, info.DID)
	}

	// discard the session and its key material; the access token is dropped with it
	if err := c.Store.Delete(ctx, sess.State); err != nil {
		return nil, fmt.Errorf("%w: deleting session: %w", ErrAuthFlow, err)
	}
	slog.Info("auth flow verified", "did", info.DID, "handle", info.Handle)
	return info, nil
}

func (c *ClientApp) exchangeCode(ctx context.Context, sess *AuthSession, tokenURL, code string) (string, error) {

	body := initialTokenRequest{
		ClientID:     c.Config.ClientID,
		RedirectURI:  c.Config.CallbackURL,
		GrantType:    "authorization_code",
		Code:         code,
		CodeVerifier: sess.PKCEVerifier,
	}
	vals, err := query.Values(body)
	if err != nil {
		return "", fmt.Errorf("%w: encoding token request: %w", ErrAuthFlow, err)
	}

	dpopProof, err := sess.dpopKey.NewProof("POST", tokenURL, sess.AuthServerNonce, "")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthFlow, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", tokenURL, strings.NewReader(vals.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthFlow, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("DPoP", dpopProof)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %w", ErrAuthFlow, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token request failed: HTTP %d", ErrAuthFlow, resp.StatusCode)
	}

	freshNonce := resp.Header.Get("DPoP-Nonce")
	if freshNonce == "" {
		return "", fmt.Errorf("%w: token response missing DPoP-Nonce header", ErrAuthFlow)
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("%w: token response failed to decode: %w", ErrAuthFlow, err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%w: token response missing access_token", ErrAuthFlow)
	}
	if !slices.Contains(strings.Fields(tokenResp.Scope), ScopeAtproto) {
		return "", fmt.Errorf("%w: token response scope %q missing %q", ErrAuthFlow, tokenResp.Scope, ScopeAtproto)
	}
	if tokenResp.Subject != "" && tokenResp.Subject != sess.AccountDID.String() {
		return "", fmt.Errorf("%w: token subject mismatch: expected %s, got %s", ErrAuthFlow, sess.AccountDID, tokenResp.Subject)
	}

	// the exchange committed; persist the refreshed nonce
	sess.AuthServerNonce = freshNonce
	if err := c.Store.Save(ctx, sess); err != nil {
		return "", fmt.Errorf("%w: persisting session: %w", ErrAuthFlow, err)
	}
	return tokenResp.AccessToken, nil
}

func (c *ClientApp) fetchProfile(ctx context.Context, sess *AuthSession, pdsURL, accessToken string) (*AccountInfo, error) {

	u := strings.TrimSuffix(pdsURL, "/") + "/xrpc/app.bsky.actor.getProfile?actor=" + url.QueryEscape(sess.AccountDID.String())

	dpopProof, err := sess.dpopKey.NewProof("GET", u, sess.ResourceServerNonce, accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthFlow, err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthFlow, err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("DPoP %s", accessToken))
	req.Header.Set("DPoP", dpopProof)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: profile request: %w", ErrAuthFlow, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: profile request failed: HTTP %d", ErrAuthFlow, resp.StatusCode)
	}
	if nonce := resp.Header.Get("DPoP-Nonce"); nonce != "" {
		sess.ResourceServerNonce = nonce
	}

	var profile profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("%w: profile response failed to decode: %w", ErrAuthFlow, err)
	}
	if profile.DID == "" || profile.Handle == "" {
		return nil, fmt.Errorf("%w: profile response missing did or handle", ErrAuthFlow)
	}

	return &AccountInfo{
		DID:         profile.DID,
		Handle:      profile.Handle,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.Avatar,
	}, nil
}

func randomToken() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/rorybyrne/sciencetalk-api-sub000/atproto/syntax"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDID = syntax.DID("did:plc:abc123def456")

// A fake auth server + PDS + PLC directory, all on one httptest server, with
// knobs for failure injection.
type fakeNetwork struct {
	srv *httptest.Server

	mu            sync.Mutex
	parCalls      int
	tokenCalls    int
	lastState     string
	lastChallenge string

	// knobs
	parNonceDemands int
	tokenScope      string
	tokenSubject    string
	profileDID      syntax.DID
}

func newFakeNetwork(t *testing.T) *fakeNetwork {
	t.Helper()
	n := &fakeNetwork{
		tokenScope: "atproto",
		profileDID: testDID,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AuthServerMetadata{
			Issuer:                             n.srv.URL,
			AuthorizationEndpoint:              n.srv.URL + "/authorize",
			TokenEndpoint:                      n.srv.URL + "/token",
			PushedAuthorizationRequestEndpoint: n.srv.URL + "/par",
		})
	})
	mux.HandleFunc("/par", n.handlePAR)
	mux.HandleFunc("/token", n.handleToken)
	mux.HandleFunc("/xrpc/app.bsky.actor.getProfile", n.handleProfile)
	mux.HandleFunc("/"+testDID.String(), func(w http.ResponseWriter, r *http.Request) {
		// PLC directory response
		json.NewEncoder(w).Encode(map[string]any{
			"id": testDID,
			"service": []map[string]string{
				{"id": "#atproto_pds", "type": "AtprotoPersonalDataServer", "serviceEndpoint": n.srv.URL},
			},
		})
	})

	n.srv = httptest.NewServer(mux)
	t.Cleanup(n.srv.Close)
	return n
}

func (n *fakeNetwork) handlePAR(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parCalls++

	if r.Header.Get("DPoP") == "" {
		http.Error(w, `{"error":"invalid_dpop_proof"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("DPoP-Nonce", "par-nonce-1")
	if n.parCalls <= n.parNonceDemands {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "use_dpop_nonce"})
		return
	}

	r.ParseForm()
	n.lastState = r.PostFormValue("state")
	n.lastChallenge = r.PostFormValue("code_challenge")

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pushedAuthResponse{
		RequestURI: "urn:ietf:params:oauth:request_uri:req-123",
		ExpiresIn:  60,
	})
}

func (n *fakeNetwork) handleToken(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokenCalls++

	r.ParseForm()
	if r.PostFormValue("grant_type") != "authorization_code" || r.PostFormValue("code") == "" {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		return
	}
	// the verifier must hash to the challenge pushed earlier
	if S256CodeChallenge(r.PostFormValue("code_verifier")) != n.lastChallenge {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("DPoP-Nonce", "token-nonce-1")
	json.NewEncoder(w).Encode(tokenResponse{
		Subject:     n.tokenSubject,
		Scope:       n.tokenScope,
		AccessToken: "test-access-token",
		TokenType:   "DPoP",
	})
}

func (n *fakeNetwork) handleProfile(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !strings.HasPrefix(r.Header.Get("Authorization"), "DPoP ") || r.Header.Get("DPoP") == "" {
		http.Error(w, `{"error":"AuthRequired"}`, http.StatusUnauthorized)
		return
	}
	json.NewEncoder(w).Encode(profileResponse{
		DID:    n.profileDID,
		Handle: "alice.example.com",
	})
}

func newTestApp(t *testing.T, n *fakeNetwork) *ClientApp {
	t.Helper()
	store := NewMemStore()
	t.Cleanup(store.Close)

	app := NewClientApp(NewPublicConfig(
		"https://app.example.com/oauth/client-metadata.json",
		"https://app.example.com/auth/callback",
	), store)
	app.Resolver.PLCURL = n.srv.URL
	return app
}

func TestAuthFlowEndToEnd(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	n := newFakeNetwork(t)
	app := newTestApp(t, n)

	authURL, err := app.StartAuthFlow(ctx, testDID.String())
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal("/authorize", u.Path)
	assert.Equal("urn:ietf:params:oauth:request_uri:req-123", u.Query().Get("request_uri"))
	assert.Equal(app.Config.ClientID, u.Query().Get("client_id"))

	// the nonce demand path was not exercised
	assert.Equal(1, n.parCalls)
	require.NotEmpty(t, n.lastState)

	// the session carries the nonce from the PAR response
	sess, err := app.Store.Get(ctx, n.lastState)
	require.NoError(t, err)
	assert.Equal("par-nonce-1", sess.AuthServerNonce)
	assert.Equal(testDID, sess.AccountDID)

	info, err := app.ProcessCallback(ctx, "test-code", n.lastState, n.srv.URL)
	require.NoError(t, err)
	assert.Equal(testDID, info.DID)
	assert.Equal("alice.example.com", info.Handle)

	// the session is consumed on success
	_, err = app.Store.Get(ctx, n.lastState)
	assert.ErrorIs(err, ErrSessionNotFound)
}

func TestAuthFlowNonceRetry(t *testing.T) {
	assert := assert.New(t)
	n := newFakeNetwork(t)
	app := newTestApp(t, n)

	// first PAR attempt is rejected with a nonce demand, second succeeds
	n.parNonceDemands = 1

	_, err := app.StartAuthFlow(context.Background(), testDID.String())
	assert.NoError(err)
	assert.Equal(2, n.parCalls)
}

func TestAuthFlowNonceRetryBounded(t *testing.T) {
	assert := assert.New(t)
	n := newFakeNetwork(t)
	app := newTestApp(t, n)

	// the server demands a nonce forever; the client gives up after one retry
	n.parNonceDemands = 1 << 30
	_, err := app.StartAuthFlow(context.Background(), testDID.String())
	assert.ErrorIs(err, ErrAuthFlow)
	assert.Equal(2, n.parCalls)
}

func TestCallbackUnknownState(t *testing.T) {
	assert := assert.New(t)
	n := newFakeNetwork(t)
	app := newTestApp(t, n)

	_, err := app.ProcessCallback(context.Background(), "test-code", "no-such-state", n.srv.URL)
	assert.ErrorIs(err, ErrAuthFlow)
	assert.ErrorIs(err, ErrSessionNotFound)
	assert.Equal(0, n.tokenCalls)
}

func TestCallbackIssuerMismatch(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	n := newFakeNetwork(t)
	app := newTestApp(t, n)

	_, err := app.StartAuthFlow(ctx, testDID.String())
	require.NoError(t, err)

	_, err = app.ProcessCallback(ctx, "test-code", n.lastState, "https://evil.example.com")
	assert.ErrorIs(err, ErrAuthFlow)
	// rejected before any network call to the token endpoint
	assert.Equal(0, n.tokenCalls)

	// the session is not consumed by a failed attempt
	_, err = app.Store.Get(ctx, n.lastState)
	assert.NoError(err)
}

func TestCallbackScopeMissing(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	n := newFakeNetwork(t)
	app := newTestApp(t, n)

	n.tokenScope = "transition:generic"
	_, err := app.StartAuthFlow(ctx, testDID.String())
	require.NoError(t, err)

	_, err = app.ProcessCallback(ctx, "test-code", n.lastState, n.srv.URL)
	assert.ErrorIs(err, ErrAuthFlow)
}

func TestCallbackSubjectMismatch(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	n := newFakeNetwork(t)
	app := newTestApp(t, n)

	n.tokenSubject = "did:plc:someoneelse"
	_, err := app.StartAuthFlow(ctx, testDID.String())
	require.NoError(t, err)

	_, err = app.ProcessCallback(ctx, "test-code", n.lastState, n.srv.URL)
	assert.ErrorIs(err, ErrAuthFlow)
}

func TestCallbackProfileDIDMismatch(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	n := newFakeNetwork(t)
	app := newTestApp(t, n)

	// the resource server vouches for a different account than the flow started with
	n.profileDID = "did:plc:substituted"
	_, err := app.StartAuthFlow(ctx, testDID.String())
	require.NoError(t, err)

	_, err = app.ProcessCallback(ctx, "test-code", n.lastState, n.srv.URL)
	assert.ErrorIs(err, ErrAuthFlow)

	// the session is left to expire rather than being consumed
	_, err = app.Store.Get(ctx, n.lastState)
	assert.NoError(err)
}

func TestStartAuthFlowRejectsBadDID(t *testing.T) {
	assert := assert.New(t)
	n := newFakeNetwork(t)
	app := newTestApp(t, n)

	_, err := app.StartAuthFlow(context.Background(), "did:plc:not a did")
	assert.Error(err)
	assert.Equal(0, n.parCalls)
}

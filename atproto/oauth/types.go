package oauth

import (
	"fmt"
	"net/url"

	"github.com/rorybyrne/sciencetalk-api-sub000/atproto/syntax"
)

// The OAuth scope this client always requires.
const ScopeAtproto = "atproto"

// Expected response type from fetching an Authorization Server metadata
// document. Only the endpoints this client uses are parsed.
type AuthServerMetadata struct {
	// the "origin" URL of the Authorization Server. Must match the origin of the URL used to fetch the metadata document itself.
	Issuer string `json:"issuer"`

	// endpoint URL for authorization redirects
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// endpoint URL for token requests
	TokenEndpoint string `json:"token_endpoint"`

	// endpoint URL for pushed authorization requests (PAR)
	PushedAuthorizationRequestEndpoint string `json:"pushed_authorization_request_endpoint"`
}

func (m *AuthServerMetadata) Validate(serverURL string) error {
	if m.Issuer == "" {
		return fmt.Errorf("empty issuer")
	}
	if m.AuthorizationEndpoint == "" || m.TokenEndpoint == "" || m.PushedAuthorizationRequestEndpoint == "" {
		return fmt.Errorf("missing required endpoint")
	}

	// issuer must match the origin this metadata document was fetched from
	iss, err := url.Parse(m.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	srv, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid metadata URL: %w", err)
	}
	if iss.Scheme != srv.Scheme || iss.Host != srv.Host {
		return fmt.Errorf("issuer %s does not match metadata host %s", m.Issuer, serverURL)
	}
	return nil
}

// The fields included in a PAR request. These HTTP POST bodies are
// form-encoded, so use URL encoding syntax, not JSON.
type pushedAuthRequest struct {
	// Client ID, aka client metadata URL
	ClientID string `url:"client_id"`

	// Random identifier for this request, generated by the client
	State string `url:"state"`

	// Client-specified URL that will get redirected to by the auth server at end of user auth flow
	RedirectURI string `url:"redirect_uri"`

	// Requested auth scopes, as a space-delimited list
	Scope string `url:"scope"`

	// Account identifier (DID) to help with user account login
	LoginHint *string `url:"login_hint,omitempty"`

	// Always "code"
	ResponseType string `url:"response_type"`

	// Client-generated PKCE challenge hash, derived from the random "verifier" string
	CodeChallenge string `url:"code_challenge"`

	// Almost always "S256"
	CodeChallengeMethod string `url:"code_challenge_method"`
}

type pushedAuthResponse struct {
	// unique token in URI format, which will be used by the client in the auth flow redirect
	RequestURI string `json:"request_uri"`

	// positive integer indicating number of seconds the `request_uri` is valid for
	ExpiresIn int `json:"expires_in"`
}

// The fields included in an initial token request. Form-encoded, like PAR.
type initialTokenRequest struct {
	// Client ID, aka client metadata URL
	ClientID string `url:"client_id"`

	// Auth server validates that this matches the redirect URI used during the auth flow
	RedirectURI string `url:"redirect_uri"`

	// Always `authorization_code`
	GrantType string `url:"grant_type"`

	// Authorization code provided via callback at the end of the auth request flow
	Code string `url:"code"`

	// PKCE verifier string
	CodeVerifier string `url:"code_verifier"`
}

// Expected response from the Auth Server token endpoint.
type tokenResponse struct {
	// Account DID, when the server echoes one
	Subject string `json:"sub"`

	// Usually the scopes the client requested, but technically only a subset may have been approved
	Scope string `json:"scope"`

	// Opaque access token, for requests to the resource server
	AccessToken string `json:"access_token"`

	TokenType string `json:"token_type"`
}

// Expected response shape from the resource server's profile endpoint.
type profileResponse struct {
	DID         syntax.DID `json:"did"`
	Handle      string     `json:"handle"`
	DisplayName *string    `json:"displayName,omitempty"`
	Avatar      *string    `json:"avatar,omitempty"`
}

// The verified identity of an authenticated account: the subsystem's sole
// durable output. Carries no secrets; access tokens are discarded before this
// is returned.
type AccountInfo struct {
	DID         syntax.DID `json:"did"`
	Handle      string     `json:"handle"`
	DisplayName *string    `json:"display_name,omitempty"`
	AvatarURL   *string    `json:"avatar_url,omitempty"`
}

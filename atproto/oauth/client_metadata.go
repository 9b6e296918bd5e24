package oauth

import (
	"fmt"
	"net/url"
)

// The client metadata document a public client serves at its client ID URL,
// which auth servers fetch to learn about the client.
type ClientMetadata struct {
	ClientID                string   `json:"client_id"`
	ClientName              *string  `json:"client_name,omitempty"`
	ClientURI               *string  `json:"client_uri,omitempty"`
	ApplicationType         string   `json:"application_type"`
	DPoPBoundAccessTokens   bool     `json:"dpop_bound_access_tokens"`
	GrantTypes              []string `json:"grant_types"`
	RedirectURIs            []string `json:"redirect_uris"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// The metadata document for this client configuration. This is a public
// client: there is no client secret, so the token endpoint auth method is
// "none" and all proof-of-possession rides on DPoP.
func (c *ClientConfig) ClientMetadata() ClientMetadata {
	return ClientMetadata{
		ClientID:                c.ClientID,
		ApplicationType:         "web",
		DPoPBoundAccessTokens:   true,
		GrantTypes:              []string{"authorization_code"},
		RedirectURIs:            []string{c.CallbackURL},
		ResponseTypes:           []string{"code"},
		Scope:                   c.Scope,
		TokenEndpointAuthMethod: "none",
	}
}

func (m *ClientMetadata) Validate(clientID string) error {
	if m.ClientID != clientID {
		return fmt.Errorf("client_id does not match the URL it is served from")
	}
	if !m.DPoPBoundAccessTokens {
		return fmt.Errorf("dpop_bound_access_tokens must be true")
	}
	if len(m.RedirectURIs) == 0 {
		return fmt.Errorf("at least one redirect URI is required")
	}
	return nil
}

// Config for local development, using the special localhost client ID scheme:
// the auth server derives client metadata from the client ID's query
// parameters instead of fetching a document.
func NewLocalhostConfig(callbackURL string) ClientConfig {
	params := url.Values{
		"redirect_uri": []string{callbackURL},
		"scope":        []string{ScopeAtproto},
	}
	return ClientConfig{
		ClientID:    "http://localhost?" + params.Encode(),
		CallbackURL: callbackURL,
		Scope:       ScopeAtproto,
	}
}

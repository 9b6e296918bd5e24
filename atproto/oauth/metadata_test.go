package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveMetadata(issuer string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/oauth-authorization-server" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(AuthServerMetadata{
			Issuer:                             issuer,
			AuthorizationEndpoint:              issuer + "/authorize",
			TokenEndpoint:                      issuer + "/token",
			PushedAuthorizationRequestEndpoint: issuer + "/par",
		})
	}
}

func TestResolveAuthServerMetadata(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveMetadata(srv.URL)(w, r)
	}))
	defer srv.Close()

	resolver := NewMetadataResolver()
	meta, err := resolver.ResolveAuthServerMetadata(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(srv.URL, meta.Issuer)
	assert.Equal(srv.URL+"/par", meta.PushedAuthorizationRequestEndpoint)
}

func TestResolveAuthServerMetadataIssuerMismatch(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(serveMetadata("https://elsewhere.example.com"))
	defer srv.Close()

	resolver := NewMetadataResolver()
	_, err := resolver.ResolveAuthServerMetadata(context.Background(), srv.URL)
	assert.ErrorIs(err, ErrAuthFlow)
}

func TestResolveAuthServerMetadataEntrywayFallback(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var entryway *httptest.Server
	entryway = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveMetadata(entryway.URL)(w, r)
	}))
	defer entryway.Close()

	// a PDS host with no metadata document of its own
	pds := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer pds.Close()

	resolver := NewMetadataResolver()
	resolver.FallbackHostSuffix = "127.0.0.1"
	resolver.FallbackAuthServerURL = entryway.URL

	meta, err := resolver.ResolveAuthServerMetadata(ctx, pds.URL)
	require.NoError(t, err)
	assert.Equal(entryway.URL, meta.Issuer)
}

func TestResolveAuthServerMetadataNoFallbackOutsideSuffix(t *testing.T) {
	assert := assert.New(t)

	pds := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer pds.Close()

	resolver := NewMetadataResolver()
	// default suffix does not match 127.0.0.1, so the 404 is terminal
	_, err := resolver.ResolveAuthServerMetadata(context.Background(), pds.URL)
	assert.ErrorIs(err, ErrAuthFlow)
}

func TestMetadataValidate(t *testing.T) {
	assert := assert.New(t)

	meta := AuthServerMetadata{
		Issuer:                             "https://auth.example.com",
		AuthorizationEndpoint:              "https://auth.example.com/authorize",
		TokenEndpoint:                      "https://auth.example.com/token",
		PushedAuthorizationRequestEndpoint: "https://auth.example.com/par",
	}
	assert.NoError(meta.Validate("https://auth.example.com"))
	assert.Error(meta.Validate("https://other.example.com"))

	missing := meta
	missing.TokenEndpoint = ""
	assert.Error(missing.Validate("https://auth.example.com"))
}

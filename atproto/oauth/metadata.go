package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/rorybyrne/sciencetalk-api-sub000/util"
)

// Hosts under this suffix are PDS instances on the shared hosting network;
// they delegate authorization to the network's central auth server.
const defaultPDSSuffix = ".bsky.network"

// The shared hosting network's central auth server ("entryway").
const defaultEntrywayURL = "https://bsky.social"

// Fetches OAuth Authorization Server metadata documents. Fresh fetch per
// call; no caching.
type MetadataResolver struct {
	// HTTP client used for metadata fetches
	HTTPClient *http.Client
	// Host suffix for which a 404 falls back to the entryway's metadata
	FallbackHostSuffix string
	// Auth server queried when the fallback applies
	FallbackAuthServerURL string
}

func NewMetadataResolver() *MetadataResolver {
	return &MetadataResolver{
		HTTPClient:            util.RobustHTTPClient(),
		FallbackHostSuffix:    defaultPDSSuffix,
		FallbackAuthServerURL: defaultEntrywayURL,
	}
}

// Fetches the authorization server metadata published by serverURL.
//
// PDS hosts on the shared hosting network return 404 here because the
// entryway is their authorization server; for those hosts the entryway's
// metadata is fetched instead. Any other non-success status is a hard
// failure.
func (r *MetadataResolver) ResolveAuthServerMetadata(ctx context.Context, serverURL string) (*AuthServerMetadata, error) {
	meta, status, err := r.fetch(ctx, serverURL)
	if err == nil {
		return meta, nil
	}
	if status == http.StatusNotFound && r.hostInFallbackDomain(serverURL) {
		slog.Info("auth server metadata not found on PDS, trying entryway", "serverURL", serverURL, "entryway", r.FallbackAuthServerURL)
		meta, _, err = r.fetch(ctx, r.FallbackAuthServerURL)
		if err != nil {
			return nil, err
		}
		return meta, nil
	}
	return nil, err
}

func (r *MetadataResolver) fetch(ctx context.Context, serverURL string) (*AuthServerMetadata, int, error) {
	u := strings.TrimSuffix(serverURL, "/") + "/.well-known/oauth-authorization-server"
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: metadata discovery: %w", ErrAuthFlow, err)
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: metadata discovery: %w", ErrAuthFlow, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("%w: metadata discovery: HTTP %d from %s", ErrAuthFlow, resp.StatusCode, u)
	}

	var meta AuthServerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: parsing auth server metadata: %w", ErrAuthFlow, err)
	}
	if err := meta.Validate(serverURL); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: invalid auth server metadata: %w", ErrAuthFlow, err)
	}
	return &meta, resp.StatusCode, nil
}

func (r *MetadataResolver) hostInFallbackDomain(serverURL string) bool {
	u, err := url.Parse(serverURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == strings.TrimPrefix(r.FallbackHostSuffix, ".") || strings.HasSuffix(host, r.FallbackHostSuffix)
}

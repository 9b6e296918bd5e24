package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rorybyrne/sciencetalk-api-sub000/atproto/syntax"
	"github.com/rorybyrne/sciencetalk-api-sub000/util"

	"golang.org/x/time/rate"
)

// Default PLC directory hostname.
const DefaultPLCURL = "https://plc.directory"

// Maximum response size accepted from the HTTP well-known handle resolution
// route.
const wellKnownMaxBytes = 2048

// Resolves handles to DIDs and DIDs to DID documents, fresh on every call.
//
// The zero value is not usable; call [NewResolver], or populate HTTPClient and
// PLCURL directly.
type Resolver struct {
	// if non-empty, this string should have URL scheme, hostname, and optional port; it should not have a path or trailing slash
	PLCURL string
	// If not nil, this limiter will be used to rate-limit requests to the PLCURL
	PLCLimiter *rate.Limiter
	// HTTP client used for did:plc and HTTP (well-known) handle resolution
	HTTPClient *http.Client
	// DNS resolver used for DNS handle resolution. Calling code can use a custom Dialer to query against a specific DNS server, or re-implement the interface for even more control over the resolution process
	DNSResolver *net.Resolver
}

func NewResolver() *Resolver {
	return &Resolver{
		PLCURL:      DefaultPLCURL,
		HTTPClient:  util.RobustHTTPClient(),
		DNSResolver: &net.Resolver{},
	}
}

// Resolves a handle (or "@handle") to a DID.
//
// Tries a DNS TXT record at _atproto.<handle> first; any DNS failure falls
// through to an HTTPS GET of https://<handle>/.well-known/atproto-did.
func (r *Resolver) ResolveHandle(ctx context.Context, raw string) (syntax.DID, error) {
	raw = strings.TrimPrefix(raw, "@")
	handle, err := syntax.ParseHandle(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrResolutionFailed, err)
	}
	handle = handle.Normalize()

	did, err := r.resolveHandleDNS(ctx, handle)
	if err == nil {
		return did, nil
	}
	// DNS misses and transport errors both fall through to the well-known route
	slog.Debug("handle DNS resolution failed, trying well-known", "handle", handle, "err", err)

	did, err = r.resolveHandleWellKnown(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("%w: handle %s: %w", ErrResolutionFailed, handle, err)
	}
	return did, nil
}

func (r *Resolver) resolveHandleDNS(ctx context.Context, handle syntax.Handle) (syntax.DID, error) {
	res, err := r.DNSResolver.LookupTXT(ctx, "_atproto."+handle.String())
	if err != nil {
		return "", fmt.Errorf("handle DNS resolution failed: %w", err)
	}

	for _, s := range res {
		if did, ok := didFromTXTRecord(s); ok {
			parsed, err := syntax.ParseDID(did)
			if err != nil {
				return "", fmt.Errorf("invalid DID in handle DNS record: %w", err)
			}
			return parsed, nil
		}
	}
	return "", ErrHandleNotFound
}

// Extracts the DID from a "did=<identifier>" TXT record value.
func didFromTXTRecord(txt string) (string, bool) {
	if !strings.HasPrefix(txt, "did=") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(txt, "did=")), true
}

func (r *Resolver) resolveHandleWellKnown(ctx context.Context, handle syntax.Handle) (syntax.DID, error) {
	u := fmt.Sprintf("https://%s/.well-known/atproto-did", handle)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("well-known handle resolution failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrHandleNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("well-known handle resolution failed: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > wellKnownMaxBytes {
		return "", fmt.Errorf("well-known handle resolution returned too much data")
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, wellKnownMaxBytes))
	if err != nil {
		return "", fmt.Errorf("well-known handle response failed to read: %w", err)
	}
	did, err := syntax.ParseDID(strings.TrimSpace(string(b)))
	if err != nil {
		return "", fmt.Errorf("invalid DID in well-known response: %w", err)
	}
	return did, nil
}

// Fetches and parses the DID document for a did:plc identifier.
//
// Other DID methods fail fast without any network requests.
func (r *Resolver) ResolveDIDDocument(ctx context.Context, did syntax.DID) (*DIDDocument, error) {
	if did.Method() != "plc" {
		return nil, fmt.Errorf("%w: %w: %s", ErrResolutionFailed, ErrUnsupportedDIDMethod, did.Method())
	}

	if r.PLCLimiter != nil {
		if err := r.PLCLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResolutionFailed, err)
		}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, "GET", r.PLCURL+"/"+did.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolutionFailed, err)
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: PLC directory fetch: %w", ErrResolutionFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %w: %s", ErrResolutionFailed, ErrDIDNotFound, did)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: PLC directory fetch, HTTP %d", ErrResolutionFailed, resp.StatusCode)
	}

	var doc DIDDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: parsing DID document: %w", ErrResolutionFailed, err)
	}
	slog.Debug("resolved DID document", "did", did, "duration", time.Since(start))
	return &doc, nil
}

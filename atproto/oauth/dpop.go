package oauth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Ephemeral ES256 keypair used to sign DPoP proofs for a single auth attempt.
//
// The private half never leaves this type: proofs are issued through
// [DPoPKey.NewProof], and the key is dropped when its owning session is
// deleted. Keys must not be reused across attempts.
type DPoPKey struct {
	priv      *ecdsa.PrivateKey
	publicJWK jwk.Key
}

// Generates a fresh ECDSA keypair on curve P-256 (the curve the network
// requires for DPoP).
func NewDPoPKey() (*DPoPKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating DPoP key: %w", err)
	}
	pub, err := jwk.FromRaw(priv.Public())
	if err != nil {
		return nil, fmt.Errorf("encoding DPoP public key: %w", err)
	}
	return &DPoPKey{priv: priv, publicJWK: pub}, nil
}

type dpopClaims struct {
	jwt.RegisteredClaims

	HTTPMethod      string  `json:"htm"`
	TargetURI       string  `json:"htu"`
	AccessTokenHash *string `json:"ath,omitempty"`
	Nonce           *string `json:"nonce,omitempty"`
}

// Issues a signed DPoP proof JWT for a single HTTP request.
//
// Every proof carries a fresh 'jti', so retries against the same endpoint are
// distinct tokens. The proof binds the HTTP method and the request URL with
// query and fragment stripped. A non-empty nonce is echoed in the 'nonce'
// claim; a non-empty accessToken adds an 'ath' claim hashing the token, which
// resource servers require.
func (k *DPoPKey) NewProof(httpMethod, reqURL, nonce, accessToken string) (string, error) {
	htu, err := stripURL(reqURL)
	if err != nil {
		return "", fmt.Errorf("invalid DPoP target URL: %w", err)
	}

	claims := dpopClaims{
		HTTPMethod: httpMethod,
		TargetURI:  htu,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if nonce != "" {
		claims.Nonce = &nonce
	}
	if accessToken != "" {
		ath := S256CodeChallenge(accessToken)
		claims.AccessTokenHash = &ath
	}

	pubMap, err := k.publicJWKMap()
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = pubMap
	signed, err := token.SignedString(k.priv)
	if err != nil {
		return "", fmt.Errorf("signing DPoP proof: %w", err)
	}
	return signed, nil
}

// The public half as a plain map, for embedding in proof headers.
func (k *DPoPKey) publicJWKMap() (map[string]any, error) {
	m, err := k.publicJWK.AsMap(context.Background())
	if err != nil {
		return nil, fmt.Errorf("encoding DPoP public JWK: %w", err)
	}
	return m, nil
}

// Returns scheme+host+path of a URL, dropping query and fragment, per the
// 'htu' claim requirements.
func stripURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

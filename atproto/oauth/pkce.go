package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// Generates a PKCE code verifier and the matching S256 code challenge.
//
// The verifier is 64 random bytes encoded as unpadded base64url (within the
// 32-96 byte range RFC 7636 requires). The challenge is the unpadded base64url
// SHA-256 digest of the verifier's ASCII bytes: it is the textual encoding
// that gets hashed, not the underlying random bytes.
func GeneratePKCE() (verifier string, challenge string) {
	buf := make([]byte, 64)
	rand.Read(buf)
	verifier = base64.RawURLEncoding.EncodeToString(buf)
	return verifier, S256CodeChallenge(verifier)
}

// Computes the S256 transform of an input string: unpadded base64url of the
// SHA-256 digest of the input's ASCII bytes. Used both for PKCE code
// challenges and for DPoP access token hash ('ath') claims.
func S256CodeChallenge(input string) string {
	digest := sha256.Sum256([]byte(input))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// Package pop implements Proof-of-Possession request authentication: a
// canonical string over the method, path, app, timestamp, nonce and body
// hash, signed by the app's Ed25519 private key (spec.md §4.2).
//
// Grounded on the CreateProof/Validate message-building shape in the qauth
// example (other_examples/...qauth.go): a byte-concatenated message signed
// with ed25519.Sign and checked with ed25519.Verify. This package commits to
// the spec's exact newline-delimited string instead of qauth's raw byte
// concatenation, since the canonical form must be reproducible by an app
// implementation with no access to this code.
package pop

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Version is the only PoP version this gateway issues new canonical strings
// for ("v1"). The legacy v0 form (pathname without query) is still verified
// for backward compatibility; see BuildCanonicalV0.
const Version = "v1"

// BuildCanonical builds the v1 canonical request string (spec.md §4.2). The
// leading "v1" literal is fixed regardless of path shape; only
// BuildCanonicalV0's PATH argument differs (no query string):
//
//	v1\n<METHOD>\n<PATH_WITH_QUERY>\n<appId>\n<ts>\n<nonce>\n<base64url(SHA256(body))>\n
func BuildCanonical(method, pathWithQuery, appID, ts, nonce string, body []byte) string {
	return buildCanonical(method, pathWithQuery, appID, ts, nonce, body)
}

// BuildCanonicalV0 builds the deprecated v0 canonical string: identical
// template to v1 but with the path alone (no query string), preserved for
// apps that signed before the version header existed.
func BuildCanonicalV0(method, pathWithoutQuery, appID, ts, nonce string, body []byte) string {
	return buildCanonical(method, pathWithoutQuery, appID, ts, nonce, body)
}

func buildCanonical(method, path, appID, ts, nonce string, body []byte) string {
	sum := sha256.Sum256(body)
	bodyHash := base64.URLEncoding.EncodeToString(sum[:])

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n%s\n%s\n%s\n%s\n%s\n",
		Version, strings.ToUpper(method), path, appID, ts, nonce, bodyHash)
	return b.String()
}

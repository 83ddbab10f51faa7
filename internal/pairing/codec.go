// Package pairing implements the two-stage install handshake (spec.md
// §4.3): a human-mediated connect code followed by a machine-driven install
// session that an operator approves or denies.
//
// Token generation is grounded on pkg/apikey/service.go's generateAPIKey:
// crypto/rand bytes, hex-encoded for the opaque token, SHA-256 hashed for
// what actually gets stored.
package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// connectCodeBytes gives a 128-bit code, the minimum spec.md §4.3 requires.
const connectCodeBytes = 16

// sessionTokenBytes gives a 256-bit opaque install session token.
const sessionTokenBytes = 32

// GenerateConnectCode returns a fresh random connect code and the hash that
// should be persisted in its place. The hash alone is ever stored.
func GenerateConnectCode() (code, codeHash string, err error) {
	b := make([]byte, connectCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating connect code: %w", err)
	}
	code = hex.EncodeToString(b)
	return code, HashConnectCode(code), nil
}

// HashConnectCode returns the stable hash of a connect code, used both when
// persisting a new code and when looking one up by the code an operator
// typed in.
func HashConnectCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return base64.URLEncoding.EncodeToString(sum[:])
}

// GenerateSessionToken returns a fresh opaque install session token.
func GenerateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// PairingURI builds the "pair::<gateway-url>::<code>" string returned to
// whoever generated the pairing (spec.md §4.3).
func PairingURI(gatewayURL, code string) string {
	return fmt.Sprintf("pair::%s::%s", gatewayURL, code)
}

// Package vault implements envelope encryption for upstream provider
// credentials (spec.md §4.1). A single data-encryption key is derived once
// per process from a master secret via a memory-hard KDF; every Encrypt
// call then uses that key with a fresh random IV under AES-256-GCM, so the
// same plaintext never produces the same ciphertext twice.
//
// Grounded on the AES-GCM envelope shape in the kmsv2 transformer example
// (other_examples/...kmsv2_transformer.go), collapsed from that example's
// per-object DEK-wrapped-under-KEK design to a single process-wide key,
// since spec.md §4.1 calls for exactly one derived key, not a KMS hierarchy.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/nightgate/resourcegate/internal/telemetry"
)

const (
	keySize   = 32 // AES-256
	ivSize    = 16 // 128-bit IV; only the first 12 bytes are used as the GCM nonce
	gcmNonceSize = 12

	// argon2id parameters for deriving the process DEK. Tuned for a
	// once-per-process derivation, not a per-request hot path.
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// fixedSalt is constant across processes sharing a master secret so that
// restarts derive the same DEK. It is not a secret: security comes entirely
// from the master secret's entropy.
var fixedSalt = []byte("resourcegate-vault-kdf-salt-v1")

// DecryptError is returned iff authentication fails or the IV/ciphertext are
// malformed. An empty master secret never reaches decryption: New rejects it
// with a plain error.
type DecryptError struct {
	Reason string
}

func (e *DecryptError) Error() string { return "vault: decrypt failed: " + e.Reason }

// Sealed is the envelope stored alongside a ResourceSecret: an IV and an
// authentication-tag-bearing ciphertext, kept as separate raw byte slices.
type Sealed struct {
	EncryptedKey []byte // ciphertext || 16-byte GCM tag
	KeyIV        []byte // 128-bit IV (first 12 bytes used as the GCM nonce)
}

// Vault encrypts and decrypts upstream secrets with a key derived once from
// a master secret. It is safe for concurrent use; the derived key never
// changes after New returns.
type Vault struct {
	dek []byte
}

// New derives the vault's data-encryption key from masterSecret. An empty
// masterSecret is rejected immediately rather than deferred to first use,
// since a vault with no key can never decrypt anything later.
func New(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, errors.New("vault: master secret is empty")
	}
	dek := argon2.IDKey([]byte(masterSecret), fixedSalt, argonTime, argonMemory, argonThreads, keySize)
	return &Vault{dek: dek}, nil
}

// Encrypt seals plaintext under a fresh random IV. Encryption is infallible
// given a configured master secret (spec.md §4.1): the only error path is a
// (practically unreachable) crypto/rand failure.
func (v *Vault) Encrypt(plaintext []byte) (Sealed, error) {
	sealed, err := v.encrypt(plaintext)
	if err != nil {
		telemetry.VaultOperationsTotal.WithLabelValues("encrypt", "error").Inc()
		return Sealed{}, err
	}
	telemetry.VaultOperationsTotal.WithLabelValues("encrypt", "ok").Inc()
	return sealed, nil
}

func (v *Vault) encrypt(plaintext []byte) (Sealed, error) {
	block, err := aes.NewCipher(v.dek)
	if err != nil {
		return Sealed{}, fmt.Errorf("vault: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Sealed{}, fmt.Errorf("vault: building GCM: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return Sealed{}, fmt.Errorf("vault: generating iv: %w", err)
	}
	nonce := iv[:gcmNonceSize]

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return Sealed{EncryptedKey: ciphertext, KeyIV: iv}, nil
}

// Decrypt opens a previously sealed value. It fails with *DecryptError iff
// authentication fails or the IV/ciphertext are malformed.
func (v *Vault) Decrypt(s Sealed) ([]byte, error) {
	plaintext, err := v.decrypt(s)
	if err != nil {
		telemetry.VaultOperationsTotal.WithLabelValues("decrypt", "error").Inc()
		return nil, err
	}
	telemetry.VaultOperationsTotal.WithLabelValues("decrypt", "ok").Inc()
	return plaintext, nil
}

func (v *Vault) decrypt(s Sealed) ([]byte, error) {
	if len(s.KeyIV) < gcmNonceSize {
		return nil, &DecryptError{Reason: "iv too short"}
	}

	block, err := aes.NewCipher(v.dek)
	if err != nil {
		return nil, &DecryptError{Reason: fmt.Sprintf("building cipher: %v", err)}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &DecryptError{Reason: fmt.Sprintf("building GCM: %v", err)}
	}

	nonce := s.KeyIV[:gcmNonceSize]
	plaintext, err := gcm.Open(nil, nonce, s.EncryptedKey, nil)
	if err != nil {
		return nil, &DecryptError{Reason: "authentication failed"}
	}
	return plaintext, nil
}

// EncryptString and DecryptString are convenience wrappers for callers that
// store secrets as text (API keys, tokens) rather than raw bytes, base64
// encoding each envelope field. ResourceSecret rows store the raw bytes.
func (v *Vault) EncryptString(plaintext string) (encryptedKeyB64, keyIVB64 string, err error) {
	sealed, err := v.Encrypt([]byte(plaintext))
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(sealed.EncryptedKey), base64.StdEncoding.EncodeToString(sealed.KeyIV), nil
}

func (v *Vault) DecryptString(encryptedKeyB64, keyIVB64 string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedKeyB64)
	if err != nil {
		return "", &DecryptError{Reason: "malformed encrypted key"}
	}
	iv, err := base64.StdEncoding.DecodeString(keyIVB64)
	if err != nil {
		return "", &DecryptError{Reason: "malformed iv"}
	}
	plaintext, err := v.Decrypt(Sealed{EncryptedKey: ciphertext, KeyIV: iv})
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

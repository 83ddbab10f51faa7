package vault

import (
	"bytes"
	"testing"
)

func TestNewRejectsEmptySecret(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty master secret")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := [][]byte{
		[]byte(""),
		[]byte("sk-abcdef0123456789"),
		bytes.Repeat([]byte("x"), 4096),
	}

	for _, plaintext := range cases {
		sealed, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		got, err := v.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	v, err := New("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plaintext := []byte("sk-abcdef0123456789")
	a, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if bytes.Equal(a.KeyIV, b.KeyIV) {
		t.Fatal("expected distinct IVs across encryptions")
	}
	if bytes.Equal(a.EncryptedKey, b.EncryptedKey) {
		t.Fatal("expected distinct ciphertexts across encryptions")
	}
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	v, err := New("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sealed, err := v.Encrypt([]byte("sk-abcdef0123456789"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	sealed.EncryptedKey[0] ^= 0xFF

	if _, err := v.Decrypt(sealed); err == nil {
		t.Fatal("expected decrypt error on tampered ciphertext")
	}
}

func TestDecryptFailsUnderWrongKey(t *testing.T) {
	v1, err := New("master-secret-one")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v2, err := New("master-secret-two")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sealed, err := v1.Encrypt([]byte("sk-abcdef0123456789"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := v2.Decrypt(sealed); err == nil {
		t.Fatal("expected decrypt error under mismatched master secret")
	}
}

func TestEncryptStringDecryptStringRoundTrip(t *testing.T) {
	v, err := New("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	keyB64, ivB64, err := v.EncryptString("sk-abcdef0123456789")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	got, err := v.DecryptString(keyB64, ivB64)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if got != "sk-abcdef0123456789" {
		t.Fatalf("got %q want sk-abcdef0123456789", got)
	}
}

func TestDecryptStringRejectsMalformedInput(t *testing.T) {
	v, err := New("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := v.DecryptString("not-base64!!", "also-not-base64!!"); err == nil {
		t.Fatal("expected error for malformed base64 input")
	}
}

package pop

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/nightgate/resourcegate/internal/domain"
)

type fakeAppLookup struct {
	app   *domain.App
	creds []domain.AppCredential
}

func (f *fakeAppLookup) GetByID(ctx context.Context, id string) (*domain.App, []domain.AppCredential, error) {
	if f.app == nil {
		return nil, nil, nil
	}
	return f.app, f.creds, nil
}

type fakeNonceClaimer struct {
	claimed map[string]bool
}

func newFakeNonceClaimer() *fakeNonceClaimer {
	return &fakeNonceClaimer{claimed: make(map[string]bool)}
}

func (f *fakeNonceClaimer) ClaimNonce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func newTestApp(t *testing.T) (*domain.App, domain.AppCredential, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	var pk [32]byte
	copy(pk[:], pub)

	app := &domain.App{ID: mustUUID(t), Status: domain.AppActive}
	cred := domain.AppCredential{ID: mustUUID(t), AppID: app.ID, PublicKey: pk, Status: domain.CredentialActive}
	return app, cred, priv
}

func TestVerifySucceedsWithValidSignature(t *testing.T) {
	app, cred, priv := newTestApp(t)
	a := NewAuthenticator(&fakeAppLookup{app: app, creds: []domain.AppCredential{cred}}, newFakeNonceClaimer())

	ts := nowString()
	nonce := "0123456789abcdef"
	body := []byte(`{"model":"x"}`)
	canonical := BuildCanonical("POST", "/r/llm/groq/chat.completions", app.ID.String(), ts, nonce, body)
	sig := ed25519.Sign(priv, []byte(canonical))

	h := Headers{Version: "v1", AppID: app.ID.String(), Ts: ts, Nonce: nonce, Sig: base64.StdEncoding.EncodeToString(sig)}

	v, err := a.Verify(context.Background(), h, "POST", "/r/llm/groq/chat.completions", "/r/llm/groq/chat.completions", body)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.App.ID != app.ID {
		t.Fatalf("got app %v want %v", v.App.ID, app.ID)
	}
}

func TestVerifyRejectsReplayedNonce(t *testing.T) {
	app, cred, priv := newTestApp(t)
	claimer := newFakeNonceClaimer()
	a := NewAuthenticator(&fakeAppLookup{app: app, creds: []domain.AppCredential{cred}}, claimer)

	nonce := "0123456789abcdef"
	body := []byte(`{}`)
	ts := nowString()
	canonical := BuildCanonical("POST", "/r/llm/groq/chat.completions", app.ID.String(), ts, nonce, body)
	sig := ed25519.Sign(priv, []byte(canonical))
	h := Headers{Version: "v1", AppID: app.ID.String(), Ts: ts, Nonce: nonce, Sig: base64.StdEncoding.EncodeToString(sig)}

	if _, err := a.Verify(context.Background(), h, "POST", "/r/llm/groq/chat.completions", "/r/llm/groq/chat.completions", body); err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	if _, err := a.Verify(context.Background(), h, "POST", "/r/llm/groq/chat.completions", "/r/llm/groq/chat.completions", body); err == nil {
		t.Fatal("expected replay to be rejected")
	}
}

func TestVerifyRejectsExpiredTimestamp(t *testing.T) {
	app, cred, priv := newTestApp(t)
	a := NewAuthenticator(&fakeAppLookup{app: app, creds: []domain.AppCredential{cred}}, newFakeNonceClaimer())

	nonce := "0123456789abcdef"
	body := []byte(`{}`)
	ts := "1700000000" // far in the past relative to any real test run
	canonical := BuildCanonical("POST", "/r/llm/groq/chat.completions", app.ID.String(), ts, nonce, body)
	sig := ed25519.Sign(priv, []byte(canonical))
	h := Headers{Version: "v1", AppID: app.ID.String(), Ts: ts, Nonce: nonce, Sig: base64.StdEncoding.EncodeToString(sig)}

	if _, err := a.Verify(context.Background(), h, "POST", "/r/llm/groq/chat.completions", "/r/llm/groq/chat.completions", body); err == nil {
		t.Fatal("expected expired timestamp to be rejected")
	}
}

func TestVerifyRejectsUnsupportedVersion(t *testing.T) {
	app, cred, _ := newTestApp(t)
	a := NewAuthenticator(&fakeAppLookup{app: app, creds: []domain.AppCredential{cred}}, newFakeNonceClaimer())

	h := Headers{Version: "v2", AppID: app.ID.String(), Ts: nowString(), Nonce: "0123456789abcdef", Sig: "AA=="}
	if _, err := a.Verify(context.Background(), h, "POST", "/x", "/x", nil); err == nil {
		t.Fatal("expected unsupported version to be rejected")
	}
}

func TestVerifyRejectsDisabledApp(t *testing.T) {
	app, cred, priv := newTestApp(t)
	app.Status = domain.AppDisabled
	a := NewAuthenticator(&fakeAppLookup{app: app, creds: []domain.AppCredential{cred}}, newFakeNonceClaimer())

	nonce := "0123456789abcdef"
	body := []byte(`{}`)
	ts := nowString()
	canonical := BuildCanonical("POST", "/x", app.ID.String(), ts, nonce, body)
	sig := ed25519.Sign(priv, []byte(canonical))
	h := Headers{Version: "v1", AppID: app.ID.String(), Ts: ts, Nonce: nonce, Sig: base64.StdEncoding.EncodeToString(sig)}

	if _, err := a.Verify(context.Background(), h, "POST", "/x", "/x", body); err == nil {
		t.Fatal("expected disabled app to be rejected")
	}
}

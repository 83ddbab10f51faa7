package pop

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nightgate/resourcegate/internal/domain"
	"github.com/nightgate/resourcegate/internal/gatewayerr"
	"github.com/nightgate/resourcegate/internal/kv"
)

// NonceClaimer atomically claims a replay-protection key. Satisfied by
// *kv.Store; narrowed to an interface here so the authenticator is testable
// without a real Redis connection.
type NonceClaimer interface {
	ClaimNonce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// maxClockSkew is the allowed drift between the request timestamp and the
// gateway's clock (spec.md §4.2 step 3: |now - ts| <= 90s).
const maxClockSkew = 90 * time.Second

// nonceTTL is how long a claimed nonce blocks replay (spec.md §3, §4.2).
const nonceTTL = 300 * time.Second

// AppLookup resolves an app and its active credentials for PoP verification.
// Implemented by internal/app's appLookup over the Postgres app and
// credential stores; kept as a narrow interface
// here so the authenticator doesn't depend on the full repo package.
type AppLookup interface {
	GetByID(ctx context.Context, id string) (*domain.App, []domain.AppCredential, error)
}

// Authenticator verifies PoP-signed requests per spec.md §4.2.
type Authenticator struct {
	apps  AppLookup
	nonce NonceClaimer
}

func NewAuthenticator(apps AppLookup, nonce NonceClaimer) *Authenticator {
	return &Authenticator{apps: apps, nonce: nonce}
}

// Headers is the parsed set of PoP headers extracted from a request.
type Headers struct {
	Version string
	AppID   string
	Ts      string
	Nonce   string
	Sig     string
}

// ExtractHeaders reads the PoP headers from r. x-pop-v is optional; the
// other four are mandatory.
func ExtractHeaders(r *http.Request) (Headers, error) {
	h := Headers{
		Version: r.Header.Get("x-pop-v"),
		AppID:   r.Header.Get("x-app-id"),
		Ts:      r.Header.Get("x-ts"),
		Nonce:   r.Header.Get("x-nonce"),
		Sig:     r.Header.Get("x-sig"),
	}
	if h.AppID == "" || h.Ts == "" || h.Nonce == "" || h.Sig == "" {
		return Headers{}, gatewayerr.MissingAuth
	}
	return h, nil
}

// Verified is the outcome of a successful PoP verification.
type Verified struct {
	App *domain.App
}

// Verify runs the verification pipeline of spec.md §4.2 in order,
// short-circuiting on the first failure. pathWithQuery and pathWithoutQuery
// let the caller support both the current v1 canonical form and the
// deprecated v0 form without re-parsing the request.
func (a *Authenticator) Verify(ctx context.Context, h Headers, method, pathWithQuery, pathWithoutQuery string, body []byte) (*Verified, error) {
	if h.Version != "" && h.Version != Version {
		return nil, gatewayerr.UnsupportedPoPVersion
	}

	tsUnix, err := strconv.ParseInt(h.Ts, 10, 64)
	if err != nil {
		return nil, gatewayerr.ExpiredTimestamp
	}
	ts := time.Unix(tsUnix, 0)
	skew := time.Since(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxClockSkew {
		return nil, gatewayerr.ExpiredTimestamp
	}

	if len(h.Nonce) < 16 {
		return nil, gatewayerr.InvalidNonce
	}
	claimed, err := a.nonce.ClaimNonce(ctx, kv.NonceKey(h.AppID, h.Nonce), nonceTTL)
	if err != nil {
		return nil, fmt.Errorf("claiming nonce: %w", err)
	}
	if !claimed {
		return nil, gatewayerr.InvalidNonce
	}

	app, creds, err := a.apps.GetByID(ctx, h.AppID)
	if err != nil || app == nil {
		return nil, gatewayerr.AppNotFound
	}
	if app.Status != domain.AppActive {
		return nil, gatewayerr.AppDisabled
	}
	active := make([]domain.AppCredential, 0, len(creds))
	for _, c := range creds {
		if c.Status == domain.CredentialActive {
			active = append(active, c)
		}
	}
	if len(active) == 0 {
		return nil, gatewayerr.AppNotFound
	}

	sig, err := base64.StdEncoding.DecodeString(h.Sig)
	if err != nil {
		return nil, gatewayerr.InvalidSignature
	}

	canonicalV1 := BuildCanonical(method, pathWithQuery, h.AppID, h.Ts, h.Nonce, body)
	canonicalV0 := BuildCanonicalV0(method, pathWithoutQuery, h.AppID, h.Ts, h.Nonce, body)

	for _, c := range active {
		pub := ed25519.PublicKey(c.PublicKey[:])
		if ed25519.Verify(pub, []byte(canonicalV1), sig) {
			return &Verified{App: app}, nil
		}
		if h.Version == "" && ed25519.Verify(pub, []byte(canonicalV0), sig) {
			return &Verified{App: app}, nil
		}
	}

	return nil, gatewayerr.InvalidSignature
}

// Package pipeline is the thin HTTP adapter spec.md §1 calls out: it wires
// together authentication, policy, the plugin registry, and the secret
// vault into the 11-step request sequence of spec.md §4.6, delegating every
// business decision to those packages. Mounted under
// /r/{resourceType}/{provider}/* via go-chi/chi/v5, which here supplies
// routing and param extraction only.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nightgate/resourcegate/internal/decisionlog"
	"github.com/nightgate/resourcegate/internal/domain"
	"github.com/nightgate/resourcegate/internal/gatewayerr"
	"github.com/nightgate/resourcegate/internal/plugin"
	"github.com/nightgate/resourcegate/internal/policy"
	"github.com/nightgate/resourcegate/internal/pop"
	"github.com/nightgate/resourcegate/internal/telemetry"
	"github.com/nightgate/resourcegate/internal/vault"
)

// maxBodySize bounds the raw request body the pipeline reads into memory
// before handing it to a plugin (spec.md §4.6 step 1).
const maxBodySize = 4 << 20 // 4 MiB

// pluginTimeout is the per-call default for Execute (spec.md §5 Timeouts).
const pluginTimeout = 30 * time.Second

// PermissionLookup resolves the permission whose Constraints a plugin needs
// to shape an inbound request (spec.md §4.6 step 6), ahead of the full
// policy.Engine.Check run at step 7.
type PermissionLookup interface {
	GetActiveByAppAndResource(ctx context.Context, appID uuid.UUID, resourceID, action string) (*domain.ResourcePermission, error)
}

// SecretLookup resolves the ResourceSecret for a resourceId (spec.md §4.6
// step 8).
type SecretLookup interface {
	GetByResourceID(ctx context.Context, resourceID string) (*domain.ResourceSecret, error)
}

// Decrypter opens a vault-sealed secret. Satisfied by *vault.Vault.
type Decrypter interface {
	Decrypt(s vault.Sealed) ([]byte, error)
}

// DecisionLogger records the ALLOWED/DENIED outcome of a request
// (spec.md §4.6 step 11). Satisfied by *decisionlog.Writer.
type DecisionLogger interface {
	Log(entry decisionlog.Entry)
}

// Pipeline is the net/http.Handler that runs every /r/... request through
// spec.md §4.6.
type Pipeline struct {
	auth        *pop.Authenticator
	permissions PermissionLookup
	policy      *policy.Engine
	registry    *plugin.Registry
	secrets     SecretLookup
	vault       Decrypter
	decisions   DecisionLogger
	logger      *slog.Logger
}

func New(
	auth *pop.Authenticator,
	permissions PermissionLookup,
	policyEngine *policy.Engine,
	registry *plugin.Registry,
	secrets SecretLookup,
	vault Decrypter,
	decisions DecisionLogger,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		auth:        auth,
		permissions: permissions,
		policy:      policyEngine,
		registry:    registry,
		secrets:     secrets,
		vault:       vault,
		decisions:   decisions,
		logger:      logger,
	}
}

// Mount attaches the pipeline's resource route onto r.
func (p *Pipeline) Mount(r chi.Router) {
	r.Handle("/r/{resourceType}/{provider}/*", p)
}

// inboundBody is the subset of fields the pipeline reads out of every
// request body regardless of plugin, to drive routing decisions the
// plugin-specific JSON schema doesn't need to know about.
type inboundBody struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// Step 1: read the raw body once. The PoP signature is over this exact
	// byte sequence; the plugin later receives the same bytes as shapedInput.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		p.deny(w, uuid.Nil, "", "", gatewayerr.InvalidRequest, start)
		return
	}
	if len(body) > maxBodySize {
		p.deny(w, uuid.Nil, "", "", gatewayerr.InvalidRequest, start)
		return
	}

	// Step 2: authenticate.
	headers, err := pop.ExtractHeaders(r)
	if err != nil {
		p.deny(w, uuid.Nil, "", "", asGatewayErr(err), start)
		return
	}
	verified, err := p.auth.Verify(r.Context(), headers, r.Method, r.URL.RequestURI(), r.URL.Path, body)
	if err != nil {
		p.deny(w, uuid.Nil, "", "", asGatewayErr(err), start)
		return
	}
	app := verified.App

	// Step 3: resolve resource and action from the URL.
	resourceType := chi.URLParam(r, "resourceType")
	provider := chi.URLParam(r, "provider")
	resourceID := domain.JoinResourceID(resourceType, provider)
	action := actionFromPath(chi.URLParam(r, "*"))

	// Step 4: look up the plugin.
	p4, err := p.registry.Get(resourceID)
	if err != nil {
		p.deny(w, app.ID, resourceID, action, gatewayerr.UnknownResource, start)
		return
	}

	// Step 5: parse the body JSON for the routing-relevant fields. Plugins
	// re-parse the same bytes for their own schema in ValidateAndShape.
	var in inboundBody
	if len(body) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			p.deny(w, app.ID, resourceID, action, gatewayerr.InvalidRequest, start)
			return
		}
	}

	// Step 6: validate and shape against the permission's constraints, ahead
	// of the full policy evaluation in step 7.
	perm, _ := p.permissions.GetActiveByAppAndResource(r.Context(), app.ID, resourceID, action)
	var constraints domain.Constraints
	if perm != nil {
		constraints = perm.Constraints
	}
	shaped, err := p4.ValidateAndShape(r.Context(), plugin.Request{
		Action: action,
		Model:  in.Model,
		Body:   body,
		Stream: in.Stream,
	}, constraints)
	if err != nil {
		p.deny(w, app.ID, resourceID, action, validationErr(err), start)
		return
	}

	// Step 7: evaluate policy. inputTokens is an estimate (spec.md §7:
	// "input token estimate exceeds the permitted maximum"), not an exact
	// provider-side count, since token counting is plugin-internal.
	inputTokens := estimateTokens(shaped.Body)
	matched, err := p.policy.Check(r.Context(), app.ID, resourceID, action, time.Now(), inputTokens, shaped.Model)
	if err != nil {
		p.deny(w, app.ID, resourceID, action, asGatewayErr(err), start)
		return
	}
	// Belt-and-suspenders: a well-behaved plugin already rejected streaming
	// in ValidateAndShape against the step 6 permission snapshot, but the
	// permission looked up here in step 7 is the one actually matched and
	// could differ (e.g. updated between the two lookups), so re-check it.
	if shaped.Stream && !matched.Constraints.AllowStreaming {
		p.deny(w, app.ID, resourceID, action, gatewayerr.StreamingNotAllowed, start)
		return
	}

	// Step 8: load and decrypt the resource secret.
	secret, err := p.secrets.GetByResourceID(r.Context(), resourceID)
	if err != nil || secret == nil || secret.Status != domain.SecretActive {
		p.deny(w, app.ID, resourceID, action, gatewayerr.UnknownResource, start)
		return
	}
	key, err := p.vault.Decrypt(vault.Sealed{EncryptedKey: secret.EncryptedKey, KeyIV: secret.KeyIV})
	if err != nil {
		p.logger.Error("decrypting resource secret", "resource_id", resourceID, "error", err)
		p.deny(w, app.ID, resourceID, action, gatewayerr.Internal, start)
		return
	}
	credential := plugin.Credential{Key: string(key), Config: secret.Config}

	// Step 9: execute.
	execCtx, cancel := context.WithTimeout(r.Context(), pluginTimeout)
	defer cancel()

	if shaped.Stream {
		p.executeStreaming(execCtx, w, p4, shaped, credential, app.ID, resourceID, action, start)
		return
	}

	result, err := p4.Execute(execCtx, shaped, credential, nil)
	if err != nil {
		mapped := p4.MapError(0, nil, err)
		p.deny(w, app.ID, resourceID, action, asGatewayErr(mapped), start)
		return
	}
	if result.StatusCode >= 400 {
		mapped := p4.MapError(result.StatusCode, result.Body, nil)
		p.deny(w, app.ID, resourceID, action, asGatewayErr(mapped), start)
		return
	}

	// Step 10: record usage synchronously for non-streaming responses.
	usage, err := p4.ExtractUsage(result.Body)
	if err != nil {
		p.logger.Warn("extracting usage", "resource_id", resourceID, "error", err)
	} else if err := p.policy.RecordUsage(r.Context(), matched, time.Now(), 1, shaped.Model, usage.InputTokens, usage.OutputTokens); err != nil {
		p.logger.Error("recording usage", "resource_id", resourceID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)

	// Step 11: log the decision asynchronously.
	p.allow(app.ID, resourceID, action, start)
}

// executeStreaming forwards a streaming plugin response directly to the
// client. Usage accounting for streams is best-effort and may be skipped
// (spec.md §4.6 step 10), since the gateway cannot reliably account tokens
// mid-stream without buffering the whole body.
func (p *Pipeline) executeStreaming(ctx context.Context, w http.ResponseWriter, pl plugin.Plugin, shaped plugin.ShapedRequest, credential plugin.Credential, appID uuid.UUID, resourceID, action string, start time.Time) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, execErr := pl.Execute(ctx, shaped, credential, pw)
		pw.CloseWithError(execErr)
		done <- execErr
	}()

	buf := make([]byte, 4096)
	wroteHeader := false
	for {
		n, readErr := pr.Read(buf)
		if n > 0 {
			if !wroteHeader {
				w.WriteHeader(http.StatusOK)
				wroteHeader = true
			}
			_, _ = w.Write(buf[:n])
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			break
		}
	}
	execErr := <-done
	if execErr != nil && !wroteHeader {
		mapped := pl.MapError(0, nil, execErr)
		p.deny(w, appID, resourceID, action, asGatewayErr(mapped), start)
		return
	}

	p.allow(appID, resourceID, action, start)
}

func (p *Pipeline) deny(w http.ResponseWriter, appID uuid.UUID, resourceID, action string, gerr *gatewayerr.Error, start time.Time) {
	writeError(w, gerr)
	p.log(appID, resourceID, action, decisionlog.Denied, gerr.Code, start)
}

func (p *Pipeline) allow(appID uuid.UUID, resourceID, action string, start time.Time) {
	p.log(appID, resourceID, action, decisionlog.Allowed, "", start)
}

func (p *Pipeline) log(appID uuid.UUID, resourceID, action string, decision decisionlog.Decision, reason string, start time.Time) {
	telemetry.RequestsTotal.WithLabelValues(resourceID, string(decision), reason).Inc()
	if decision == decisionlog.Denied {
		telemetry.PolicyDenialsTotal.WithLabelValues(reason).Inc()
	}
	p.decisions.Log(decisionlog.Entry{
		AppID:      appID,
		ResourceID: resourceID,
		Action:     action,
		Decision:   decision,
		Reason:     reason,
		LatencyMS:  time.Since(start).Milliseconds(),
	})
}

func writeError(w http.ResponseWriter, gerr *gatewayerr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gerr.Status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    gerr.Code,
			"message": gerr.Message,
			"details": gerr.Details,
		},
	})
}

func asGatewayErr(err error) *gatewayerr.Error {
	var ge *gatewayerr.Error
	if errors.As(err, &ge) {
		return ge
	}
	return gatewayerr.Internal
}

// validationErr maps a ValidateAndShape failure to a *gatewayerr.Error,
// preserving the plugin's own code (e.g. model_not_allowed,
// streaming_not_allowed) when it returned one instead of collapsing every
// rejection to a blanket invalid_request.
func validationErr(err error) *gatewayerr.Error {
	var ge *gatewayerr.Error
	if errors.As(err, &ge) {
		return ge
	}
	return gatewayerr.InvalidRequest.WithDetails(err.Error())
}

// actionFromPath converts the action-path wildcard segment after
// /r/<resourceType>/<provider>/ into a plugin action id, per spec.md §4.6's
// example: "v1/chat/completions" → "chat.completions". A leading "v1"
// version segment, if present, is dropped; remaining segments join on ".".
func actionFromPath(pathSuffix string) string {
	trimmed := strings.Trim(pathSuffix, "/")
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 1 && parts[0] == "v1" {
		parts = parts[1:]
	}
	return strings.Join(parts, ".")
}

// estimateTokens is a crude, plugin-agnostic input size estimate used to
// enforce Constraints.MaxInputTokens and the token budget ahead of the plugin's own (more
// accurate) usage accounting after execution. ~4 bytes/token is the common
// rule of thumb for English text in most tokenizers.
func estimateTokens(body []byte) int64 {
	return int64(len(body) / 4)
}

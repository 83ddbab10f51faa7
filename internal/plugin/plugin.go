// Package plugin defines the provider-agnostic contract every upstream
// integration implements, and the process-wide registry the request
// pipeline looks plugins up from.
//
// Grounded on pkg/messaging.Provider/Registry: that package's Provider
// interface (Name, PostAlert, UpdateAlert, ...) is the same shape as this
// one generalized from "notify a chat platform" to "execute one action
// against one upstream provider" (spec.md §5).
package plugin

import (
	"context"
	"io"

	"github.com/nightgate/resourcegate/internal/domain"
)

// CredentialSchema describes what a plugin expects to find in a
// ResourceSecret's decrypted key and Config map, surfaced to operators when
// they register a new secret.
type CredentialSchema struct {
	// KeyLabel describes what the vault-protected key represents, e.g.
	// "API key" or "bot token".
	KeyLabel string
	// ConfigFields lists the names of non-secret Config entries the plugin
	// reads (e.g. "baseURL", "defaultChannel").
	ConfigFields []string
}

// Request is the normalized call the pipeline hands to a plugin for
// ValidateAndShape, before the policy engine's Check runs. Body is the raw JSON payload the app sent; Model is lifted
// out for plugins (LLMs) whose constraints are keyed by model name.
type Request struct {
	Action string
	Model  string
	Body   []byte
	Stream bool
}

// ShapedRequest is what validateAndShape hands back to the pipeline: a
// request the plugin has confirmed is well-formed and within the
// permission's Constraints, ready for Execute.
type ShapedRequest struct {
	Action string
	Model  string
	Body   []byte
	Stream bool
}

// Chunk is one unit of a streaming response. Plugins that don't support
// streaming never produce one; pipeline callers treat a nil Done-false
// chunk stream as a programming error.
type Chunk struct {
	Data []byte
	Done bool
}

// Result is a plugin's non-streaming execution output.
type Result struct {
	Body       []byte
	StatusCode int
}

// Usage is what a plugin reports about one executed call, fed into the
// policy engine's usage accounting (spec.md §4.4).
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	// RequestUnits counts non-token-metered calls (e.g. one email sent). The
	// pipeline does not read it: quota accounting records one request per
	// call regardless.
	RequestUnits int64
}

// Plugin is the contract every upstream integration implements. A plugin
// instance is stateless and safe for concurrent use across apps; any
// per-call state lives in the Credential passed to Execute.
type Plugin interface {
	// ID returns the "<resourceType>:<provider>" key this plugin is
	// registered under.
	ID() string

	// CredentialSchema describes what this plugin expects in a ResourceSecret.
	CredentialSchema() CredentialSchema

	// ValidateAndShape checks req against the permission's Constraints
	// (allowed models, max tokens, streaming allowed) and normalizes it for
	// Execute. It never makes a network call.
	ValidateAndShape(ctx context.Context, req Request, constraints domain.Constraints) (ShapedRequest, error)

	// Execute performs the upstream call using credential (the decrypted
	// secret plus its Config). If req.Stream is true and the plugin supports
	// streaming, Execute writes chunks to streamTo and returns a nil Result;
	// otherwise streamTo is nil and Execute returns a populated Result.
	Execute(ctx context.Context, req ShapedRequest, credential Credential, streamTo io.Writer) (*Result, error)

	// ExtractUsage parses a completed call's response body into Usage for
	// policy accounting. The pipeline calls it for non-streaming calls only;
	// streamed responses are not parsed for usage.
	ExtractUsage(resp []byte) (Usage, error)

	// MapError translates an upstream error (HTTP status + body, or a
	// transport error) into the gateway's error taxonomy so retryability and
	// status codes are consistent regardless of provider.
	MapError(statusCode int, body []byte, transportErr error) error
}

// Credential is the decrypted secret a plugin needs to call its upstream.
type Credential struct {
	Key    string
	Config map[string]string
}

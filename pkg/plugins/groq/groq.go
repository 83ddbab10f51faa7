// Package groq implements the gateway's "llm:groq" plugin: chat completions
// against Groq's OpenAI-compatible API. Execute is a thin, undecorated pass
// through over stdlib net/http (provider request translation is out of
// scope per spec.md §1), grounded on the http.NewRequestWithContext +
// httpClient.Do + status-check shape of pkg/mattermost.Client.do.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nightgate/resourcegate/internal/domain"
	"github.com/nightgate/resourcegate/internal/gatewayerr"
	"github.com/nightgate/resourcegate/internal/plugin"
)

// ID is this plugin's "<resourceType>:<provider>" registry key.
const ID = "llm:groq"

const chatCompletionsAction = "chat.completions"

const defaultBaseURL = "https://api.groq.com/openai/v1"

// Plugin implements plugin.Plugin for Groq's chat-completions endpoint.
type Plugin struct {
	baseURL    string
	httpClient *http.Client
}

func New() *Plugin {
	return &Plugin{baseURL: defaultBaseURL, httpClient: &http.Client{}}
}

// WithBaseURL overrides the plugin's default upstream base URL, for pointing
// at a test double or regional endpoint. Returns p for chaining.
func (p *Plugin) WithBaseURL(baseURL string) *Plugin {
	p.baseURL = baseURL
	return p
}

func (p *Plugin) ID() string { return ID }

func (p *Plugin) CredentialSchema() plugin.CredentialSchema {
	return plugin.CredentialSchema{
		KeyLabel:     "API key",
		ConfigFields: []string{"baseURL"},
	}
}

// chatCompletionRequest is the subset of Groq's (OpenAI-compatible) request
// body the gateway inspects.
type chatCompletionRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func (p *Plugin) ValidateAndShape(ctx context.Context, req plugin.Request, constraints domain.Constraints) (plugin.ShapedRequest, error) {
	if req.Action != chatCompletionsAction {
		return plugin.ShapedRequest{}, gatewayerr.InvalidRequest.WithDetails(fmt.Sprintf("groq: unsupported action %q", req.Action))
	}

	var body chatCompletionRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return plugin.ShapedRequest{}, gatewayerr.InvalidRequest.WithDetails(fmt.Sprintf("groq: decoding request: %v", err))
	}
	if body.Model == "" {
		return plugin.ShapedRequest{}, gatewayerr.InvalidRequest.WithDetails("groq: model is required")
	}
	if len(body.Messages) == 0 {
		return plugin.ShapedRequest{}, gatewayerr.InvalidRequest.WithDetails("groq: messages must not be empty")
	}

	// Model allow-list and streaming are permission-level constraints, not
	// request-shape problems — these must surface as the same 403 codes the
	// policy engine itself would use, not a blanket 400.
	if len(constraints.AllowedModels) > 0 {
		allowed := false
		for _, m := range constraints.AllowedModels {
			if m == body.Model {
				allowed = true
				break
			}
		}
		if !allowed {
			return plugin.ShapedRequest{}, gatewayerr.ModelNotAllowed.WithDetails(fmt.Sprintf("model %q is not in the permission's allow-list", body.Model))
		}
	}
	if body.Stream && !constraints.AllowStreaming {
		return plugin.ShapedRequest{}, gatewayerr.StreamingNotAllowed
	}

	shapedBody := req.Body
	if constraints.MaxOutputTokens > 0 {
		var err error
		shapedBody, err = clampMaxTokens(req.Body, constraints.MaxOutputTokens)
		if err != nil {
			return plugin.ShapedRequest{}, fmt.Errorf("groq: clamping max_tokens: %w", err)
		}
	}

	return plugin.ShapedRequest{
		Action: req.Action,
		Model:  body.Model,
		Body:   shapedBody,
		Stream: body.Stream,
	}, nil
}

// clampMaxTokens rewrites the request's "max_tokens" field down to limit if
// the app either omitted it or asked for more, leaving every other field
// (including ones this plugin doesn't model, like temperature) untouched.
func clampMaxTokens(body []byte, limit int) ([]byte, error) {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if existing, ok := fields["max_tokens"].(float64); !ok || existing > float64(limit) {
		fields["max_tokens"] = limit
	}
	return json.Marshal(fields)
}

// Execute posts the shaped request body to Groq's chat-completions endpoint
// and, for streaming calls, forwards the upstream SSE body to streamTo
// unbuffered.
func (p *Plugin) Execute(ctx context.Context, req plugin.ShapedRequest, credential plugin.Credential, streamTo io.Writer) (*plugin.Result, error) {
	baseURL := p.baseURL
	if cfg := credential.Config["baseURL"]; cfg != "" {
		baseURL = cfg
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("groq: building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+credential.Key)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("groq: executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if req.Stream && streamTo != nil {
		_, copyErr := io.Copy(streamTo, resp.Body)
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("groq: upstream returned status %d", resp.StatusCode)
		}
		return nil, copyErr
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("groq: reading response: %w", err)
	}
	return &plugin.Result{Body: respBody, StatusCode: resp.StatusCode}, nil
}

// usageResponse mirrors the OpenAI-compatible usage block Groq returns
// alongside a completed (non-streaming) chat-completion response.
type usageResponse struct {
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *Plugin) ExtractUsage(resp []byte) (plugin.Usage, error) {
	var u usageResponse
	if err := json.Unmarshal(resp, &u); err != nil {
		return plugin.Usage{}, fmt.Errorf("groq: decoding usage: %w", err)
	}
	return plugin.Usage{InputTokens: u.Usage.PromptTokens, OutputTokens: u.Usage.CompletionTokens}, nil
}

// groqError mirrors Groq's OpenAI-compatible error envelope.
type groqError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *Plugin) MapError(statusCode int, body []byte, transportErr error) error {
	if transportErr != nil {
		return gatewayerr.Provider("groq_transport_error", 502, transportErr.Error(), true)
	}

	message := fmt.Sprintf("groq returned status %d", statusCode)
	var ge groqError
	if err := json.Unmarshal(body, &ge); err == nil && ge.Error.Message != "" {
		message = ge.Error.Message
	}

	switch statusCode {
	case 429:
		return gatewayerr.Provider("groq_rate_limited", 429, message, true)
	case 401, 403:
		return gatewayerr.Provider("groq_auth_error", statusCode, message, false)
	case 400, 422:
		return gatewayerr.Provider("groq_invalid_request", statusCode, message, false)
	default:
		return gatewayerr.Provider("groq_error", 502, message, statusCode >= 500)
	}
}

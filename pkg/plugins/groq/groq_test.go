package groq

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nightgate/resourcegate/internal/domain"
	"github.com/nightgate/resourcegate/internal/gatewayerr"
	"github.com/nightgate/resourcegate/internal/plugin"
)

func chatBody(t *testing.T, model string, maxTokens int, stream bool) []byte {
	t.Helper()
	body := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": "hello"},
		},
		"stream": stream,
	}
	if maxTokens > 0 {
		body["max_tokens"] = maxTokens
	}
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestValidateAndShapeHappyPath(t *testing.T) {
	p := New()
	req := plugin.Request{Action: chatCompletionsAction, Body: chatBody(t, "llama-3.1-8b-instant", 0, false)}

	shaped, err := p.ValidateAndShape(context.Background(), req, domain.Constraints{})
	if err != nil {
		t.Fatalf("ValidateAndShape() error = %v", err)
	}
	if shaped.Model != "llama-3.1-8b-instant" {
		t.Errorf("Model = %q", shaped.Model)
	}
}

func TestValidateAndShapeRejectsUnsupportedAction(t *testing.T) {
	p := New()
	req := plugin.Request{Action: "embeddings", Body: chatBody(t, "llama-3.1-8b-instant", 0, false)}

	if _, err := p.ValidateAndShape(context.Background(), req, domain.Constraints{}); err == nil {
		t.Fatal("expected error for unsupported action")
	}
}

func TestValidateAndShapeRejectsDisallowedModel(t *testing.T) {
	p := New()
	req := plugin.Request{Action: chatCompletionsAction, Body: chatBody(t, "llama-3.1-70b", 0, false)}
	constraints := domain.Constraints{AllowedModels: []string{"llama-3.1-8b-instant"}}

	_, err := p.ValidateAndShape(context.Background(), req, constraints)
	var ge *gatewayerr.Error
	if !asGatewayErr(err, &ge) {
		t.Fatalf("ValidateAndShape() did not return *gatewayerr.Error: %v", err)
	}
	if ge.Code != gatewayerr.ModelNotAllowed.Code {
		t.Errorf("Code = %q, want %q", ge.Code, gatewayerr.ModelNotAllowed.Code)
	}
	if ge.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", ge.Status)
	}
}

func TestValidateAndShapeRejectsStreamingWhenNotAllowed(t *testing.T) {
	p := New()
	req := plugin.Request{Action: chatCompletionsAction, Body: chatBody(t, "llama-3.1-8b-instant", 0, true)}

	_, err := p.ValidateAndShape(context.Background(), req, domain.Constraints{AllowStreaming: false})
	var ge *gatewayerr.Error
	if !asGatewayErr(err, &ge) {
		t.Fatalf("ValidateAndShape() did not return *gatewayerr.Error: %v", err)
	}
	if ge.Code != gatewayerr.StreamingNotAllowed.Code {
		t.Errorf("Code = %q, want %q", ge.Code, gatewayerr.StreamingNotAllowed.Code)
	}
	if ge.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", ge.Status)
	}
}

func TestValidateAndShapeClampsMaxTokens(t *testing.T) {
	p := New()
	req := plugin.Request{Action: chatCompletionsAction, Body: chatBody(t, "llama-3.1-8b-instant", 5000, false)}

	shaped, err := p.ValidateAndShape(context.Background(), req, domain.Constraints{MaxOutputTokens: 256})
	if err != nil {
		t.Fatalf("ValidateAndShape() error = %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(shaped.Body, &out); err != nil {
		t.Fatalf("unmarshal shaped body: %v", err)
	}
	if got := out["max_tokens"].(float64); got != 256 {
		t.Errorf("max_tokens = %v, want 256", got)
	}
}

func TestValidateAndShapeLeavesMaxTokensUnderLimit(t *testing.T) {
	p := New()
	req := plugin.Request{Action: chatCompletionsAction, Body: chatBody(t, "llama-3.1-8b-instant", 100, false)}

	shaped, err := p.ValidateAndShape(context.Background(), req, domain.Constraints{MaxOutputTokens: 256})
	if err != nil {
		t.Fatalf("ValidateAndShape() error = %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(shaped.Body, &out); err != nil {
		t.Fatalf("unmarshal shaped body: %v", err)
	}
	if got := out["max_tokens"].(float64); got != 100 {
		t.Errorf("max_tokens = %v, want 100", got)
	}
}

func TestExecutePostsToBaseURL(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"usage":{"prompt_tokens":10,"completion_tokens":20}}`))
	}))
	defer server.Close()

	p := &Plugin{baseURL: server.URL, httpClient: server.Client()}
	shaped := plugin.ShapedRequest{Action: chatCompletionsAction, Model: "llama-3.1-8b-instant", Body: chatBody(t, "llama-3.1-8b-instant", 0, false)}

	result, err := p.Execute(context.Background(), shaped, plugin.Credential{Key: "test-key"}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", result.StatusCode)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("Path = %q", gotPath)
	}
}

func TestExecuteUsesConfigBaseURLOverride(t *testing.T) {
	var hit bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	p := New()
	shaped := plugin.ShapedRequest{Action: chatCompletionsAction, Body: chatBody(t, "llama-3.1-8b-instant", 0, false)}

	_, err := p.Execute(context.Background(), shaped, plugin.Credential{Key: "test-key", Config: map[string]string{"baseURL": server.URL}}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !hit {
		t.Error("expected request to hit override baseURL")
	}
}

func TestExecuteForwardsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: chunk1\n\ndata: chunk2\n\n"))
	}))
	defer server.Close()

	p := &Plugin{baseURL: server.URL, httpClient: server.Client()}
	shaped := plugin.ShapedRequest{Action: chatCompletionsAction, Body: chatBody(t, "llama-3.1-8b-instant", 0, true), Stream: true}

	pr, pw := io.Pipe()
	go func() {
		_, err := p.Execute(context.Background(), shaped, plugin.Credential{Key: "test-key"}, pw)
		_ = pw.CloseWithError(err)
	}()

	out, err := io.ReadAll(pr)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if string(out) != "data: chunk1\n\ndata: chunk2\n\n" {
		t.Errorf("stream body = %q", out)
	}
}

func TestExtractUsage(t *testing.T) {
	p := New()
	resp := []byte(`{"usage":{"prompt_tokens":42,"completion_tokens":7}}`)

	usage, err := p.ExtractUsage(resp)
	if err != nil {
		t.Fatalf("ExtractUsage() error = %v", err)
	}
	if usage.InputTokens != 42 || usage.OutputTokens != 7 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestMapError(t *testing.T) {
	p := New()

	tests := []struct {
		name       string
		statusCode int
		body       []byte
		transport  error
		wantCode   string
		wantRetry  bool
	}{
		{"transport failure", 0, nil, io.ErrClosedPipe, "groq_transport_error", true},
		{"rate limited", 429, []byte(`{"error":{"message":"rate limited"}}`), nil, "groq_rate_limited", true},
		{"auth error", 401, []byte(`{"error":{"message":"bad key"}}`), nil, "groq_auth_error", false},
		{"invalid request", 400, []byte(`{"error":{"message":"bad model"}}`), nil, "groq_invalid_request", false},
		{"server error", 503, []byte(`{}`), nil, "groq_error", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.MapError(tt.statusCode, tt.body, tt.transport)
			var ge *gatewayerr.Error
			if !asGatewayErr(err, &ge) {
				t.Fatalf("MapError() did not return *gatewayerr.Error: %v", err)
			}
			if ge.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", ge.Code, tt.wantCode)
			}
			if ge.Retryable != tt.wantRetry {
				t.Errorf("Retryable = %v, want %v", ge.Retryable, tt.wantRetry)
			}
		})
	}
}

func asGatewayErr(err error, out **gatewayerr.Error) bool {
	ge, ok := err.(*gatewayerr.Error)
	if !ok {
		return false
	}
	*out = ge
	return true
}

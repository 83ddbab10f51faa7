package plugin

import (
	"context"
	"io"
	"testing"

	"github.com/nightgate/resourcegate/internal/domain"
)

type stubPlugin struct{ id string }

func (s stubPlugin) ID() string { return s.id }
func (s stubPlugin) CredentialSchema() CredentialSchema { return CredentialSchema{} }
func (s stubPlugin) ValidateAndShape(ctx context.Context, req Request, c domain.Constraints) (ShapedRequest, error) {
	return ShapedRequest{}, nil
}
func (s stubPlugin) Execute(ctx context.Context, req ShapedRequest, cred Credential, streamTo io.Writer) (*Result, error) {
	return &Result{}, nil
}
func (s stubPlugin) ExtractUsage(resp []byte) (Usage, error) { return Usage{}, nil }
func (s stubPlugin) MapError(statusCode int, body []byte, transportErr error) error { return nil }

func TestRegistryGetReturnsRegisteredPlugin(t *testing.T) {
	r := NewRegistry()
	r.Register(stubPlugin{id: "llm:groq"})

	p, err := r.Get("llm:groq")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.ID() != "llm:groq" {
		t.Fatalf("got id %q want llm:groq", p.ID())
	}
}

func TestRegistryGetUnknownReturnsError(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("llm:unknown"); err == nil {
		t.Fatal("expected error for unregistered plugin id")
	}
}

func TestRegistryRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r := NewRegistry()
	r.Register(stubPlugin{id: "llm:groq"})
	r.Register(stubPlugin{id: "llm:groq"})
}

func TestRegistryAllReturnsEveryPlugin(t *testing.T) {
	r := NewRegistry()
	r.Register(stubPlugin{id: "llm:groq"})
	r.Register(stubPlugin{id: "messaging:slack"})

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("got %d plugins want 2", len(all))
	}
}

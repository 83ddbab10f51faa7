package pop

import "testing"

func TestBuildCanonicalIsDeterministic(t *testing.T) {
	a := BuildCanonical("post", "/r/llm/groq/chat.completions?stream=true", "app-1", "1700000000", "0123456789abcdef", []byte(`{"model":"x"}`))
	b := BuildCanonical("POST", "/r/llm/groq/chat.completions?stream=true", "app-1", "1700000000", "0123456789abcdef", []byte(`{"model":"x"}`))
	if a != b {
		t.Fatalf("expected case-insensitive method to produce identical canonical strings, got %q != %q", a, b)
	}
}

func TestBuildCanonicalChangesWithBody(t *testing.T) {
	a := BuildCanonical("POST", "/r/llm/groq/chat.completions", "app-1", "1700000000", "nonce-value-0001", []byte("body-a"))
	b := BuildCanonical("POST", "/r/llm/groq/chat.completions", "app-1", "1700000000", "nonce-value-0001", []byte("body-b"))
	if a == b {
		t.Fatal("expected different bodies to produce different canonical strings")
	}
}

func TestBuildCanonicalV0OmitsQuery(t *testing.T) {
	withQuery := BuildCanonical("GET", "/r/llm/groq/models?page=2", "app-1", "1700000000", "nonce-value-0001", nil)
	v0 := BuildCanonicalV0("GET", "/r/llm/groq/models", "app-1", "1700000000", "nonce-value-0001", nil)
	if withQuery == v0 {
		t.Fatal("expected v1 (with query) and v0 (without query) canonical strings to differ")
	}
}

func TestBuildCanonicalStartsWithVersionLiteral(t *testing.T) {
	s := BuildCanonical("GET", "/r/llm/groq/models", "app-1", "1700000000", "nonce-value-0001", nil)
	want := "v1\nGET\n"
	if len(s) < len(want) || s[:len(want)] != want {
		t.Fatalf("canonical string %q does not start with %q", s, want)
	}
}

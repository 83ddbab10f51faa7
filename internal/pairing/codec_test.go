package pairing

import "testing"

func TestGenerateConnectCodeHashMatchesHashConnectCode(t *testing.T) {
	code, hash, err := GenerateConnectCode()
	if err != nil {
		t.Fatalf("GenerateConnectCode: %v", err)
	}
	if HashConnectCode(code) != hash {
		t.Fatal("HashConnectCode(code) does not match the hash returned alongside it")
	}
}

func TestGenerateConnectCodeIsUnique(t *testing.T) {
	a, _, err := GenerateConnectCode()
	if err != nil {
		t.Fatalf("GenerateConnectCode: %v", err)
	}
	b, _, err := GenerateConnectCode()
	if err != nil {
		t.Fatalf("GenerateConnectCode: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct connect codes across calls")
	}
}

func TestGenerateSessionTokenIsUnique(t *testing.T) {
	a, err := GenerateSessionToken()
	if err != nil {
		t.Fatalf("GenerateSessionToken: %v", err)
	}
	b, err := GenerateSessionToken()
	if err != nil {
		t.Fatalf("GenerateSessionToken: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct session tokens across calls")
	}
}

func TestPairingURIFormat(t *testing.T) {
	got := PairingURI("https://gw.example.com", "abc123")
	want := "pair::https://gw.example.com::abc123"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

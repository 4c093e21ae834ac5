package commitment

import "testing"

func TestCanonicalizeJSONSortsKeys(t *testing.T) {
	a, err := CanonicalizeJSON([]byte(`{"b":1,"a":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := CanonicalizeJSON([]byte(`{"a":2,"b":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("expected key order to not affect canonical output: %s vs %s", a, b)
	}
}

func TestHashHexDeterministic(t *testing.T) {
	a := HashHex([]byte("foo"), []byte("bar"))
	b := HashHex([]byte("foo"), []byte("bar"))
	if a != b {
		t.Error("expected HashHex to be deterministic for the same inputs")
	}
	c := HashHex([]byte("foo"), []byte("baz"))
	if a == c {
		t.Error("expected different inputs to produce different hashes")
	}
}

func TestHashBytesPrefixed(t *testing.T) {
	h := HashBytes([]byte("data"))
	if len(h) != 2+64 {
		t.Errorf("expected 0x-prefixed 64 hex char hash, got %q (len %d)", h, len(h))
	}
	if h[:2] != "0x" {
		t.Errorf("expected 0x prefix, got %q", h[:2])
	}
}

func TestHashCanonicalOrderIndependent(t *testing.T) {
	h1, err := HashCanonical(map[string]interface{}{"amount": "100", "token": "USDC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := HashCanonical(map[string]interface{}{"token": "USDC", "amount": "100"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Error("expected HashCanonical to be independent of map key iteration order")
	}
}

func TestComputeLegCommitmentMatchesHashCanonical(t *testing.T) {
	payload := map[string]interface{}{"quoteId": "q1", "amount": "500"}
	got, err := ComputeLegCommitment(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, err := HashCanonical(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("ComputeLegCommitment = %q, want %q", got, want)
	}
}

package reqsign

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/opacitylabs/vault/internal/keys"
)

func testMasterKey(t *testing.T) keys.MasterKey {
	t.Helper()
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("rand: %v", err)
	}
	mk, err := keys.ParseAccountHandle(hex.EncodeToString(raw))
	if err != nil {
		t.Fatalf("ParseAccountHandle: %v", err)
	}
	return mk
}

type accountDataBody struct {
	Timestamp int64 `json:"timestamp"`
}

func TestSignJSONProducesValidSignature(t *testing.T) {
	s, err := New(testMasterKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env, err := s.SignJSON(accountDataBody{Timestamp: 1700000000})
	if err != nil {
		t.Fatalf("SignJSON: %v", err)
	}
	if len(env.Signature) != 128 {
		t.Errorf("signature length = %d, want 128", len(env.Signature))
	}
	if len(env.Hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(env.Hash))
	}
	if env.PublicKey == "" {
		t.Errorf("public key empty")
	}
}

func TestSignMultipartOmitsHash(t *testing.T) {
	s, err := New(testMasterKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fields, err := s.SignMultipart(accountDataBody{Timestamp: 1})
	if err != nil {
		t.Fatalf("SignMultipart: %v", err)
	}
	if len(fields.Signature) != 128 {
		t.Errorf("signature length = %d, want 128", len(fields.Signature))
	}
}

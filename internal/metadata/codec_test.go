package metadata

import (
	"testing"

	"github.com/opacitylabs/vault/internal/domain"
)

func testKey() []byte {
	return make([]byte, 32)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	meta := New("root", 1000)
	meta.Folders = append(meta.Folders, domain.Folder{Name: "sub", Handle: "ab"})

	sealed, err := Encode(meta, testKey())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(sealed, testKey())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name != meta.Name || len(got.Folders) != 1 || got.Folders[0].Name != "sub" {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestDecodeWrongKeyFails(t *testing.T) {
	meta := New("root", 1000)
	sealed, err := Encode(meta, testKey())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wrongKey := make([]byte, 32)
	wrongKey[0] = 1
	if _, err := Decode(sealed, wrongKey); err == nil {
		t.Fatalf("Decode: want error with wrong key, got nil")
	}
}

func TestEncodeNondeterministicCiphertext(t *testing.T) {
	meta := New("root", 1000)
	a, err := Encode(meta, testKey())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(meta, testKey())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(a) == string(b) {
		t.Errorf("expected distinct ciphertext across calls due to random IVs")
	}
}

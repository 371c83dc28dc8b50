package keys

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"
)

func TestEncryptDecryptHandleRoundTrip(t *testing.T) {
	raw := make([]byte, accountHandleBytes)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("rand: %v", err)
	}
	handle := hex.EncodeToString(raw)

	blob, err := EncryptHandle(handle, "correct horse battery staple")
	if err != nil {
		t.Fatalf("EncryptHandle: %v", err)
	}

	got, err := DecryptHandle(blob, "correct horse battery staple")
	if err != nil {
		t.Fatalf("DecryptHandle: %v", err)
	}
	if got != handle {
		t.Errorf("DecryptHandle = %s, want %s", got, handle)
	}
}

func TestDecryptHandleWrongPasswordFails(t *testing.T) {
	raw := make([]byte, accountHandleBytes)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("rand: %v", err)
	}
	handle := hex.EncodeToString(raw)

	blob, err := EncryptHandle(handle, "correct password")
	if err != nil {
		t.Fatalf("EncryptHandle: %v", err)
	}
	if _, err := DecryptHandle(blob, "wrong password"); err == nil {
		t.Error("DecryptHandle: want error for wrong password")
	}
}

func TestEncryptHandleRejectsWrongLength(t *testing.T) {
	if _, err := EncryptHandle("deadbeef", "pw"); err == nil {
		t.Error("EncryptHandle: want error for a too-short handle")
	}
}

func TestLoadHandlePrefersInlineValue(t *testing.T) {
	got, err := LoadHandle("abc123", "/nonexistent/path", "")
	if err != nil {
		t.Fatalf("LoadHandle: %v", err)
	}
	if got != "abc123" {
		t.Errorf("LoadHandle = %s, want abc123", got)
	}
}

func TestLoadHandleNoSourceConfigured(t *testing.T) {
	if _, err := LoadHandle("", "", ""); err == nil {
		t.Error("LoadHandle: want error when neither value nor encrypted path is set")
	}
}

func TestLoadHandleFromEncryptedFile(t *testing.T) {
	raw := make([]byte, accountHandleBytes)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("rand: %v", err)
	}
	handle := hex.EncodeToString(raw)

	blob, err := EncryptHandle(handle, "pw")
	if err != nil {
		t.Fatalf("EncryptHandle: %v", err)
	}
	path := t.TempDir() + "/handle.json"
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	got, err := LoadHandle("", path, "pw")
	if err != nil {
		t.Fatalf("LoadHandle: %v", err)
	}
	if got != handle {
		t.Errorf("LoadHandle = %s, want %s", got, handle)
	}
}
